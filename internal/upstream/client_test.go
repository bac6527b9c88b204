package upstream

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/terra-clan/apprentice-engine/internal/models"
)

func newTestClient(srv *httptest.Server, opts ...Option) *Client {
	return NewClient(Endpoints{
		Catalog:        srv.URL + "/tasks",
		Milestones:     srv.URL + "/milestones",
		MilestonesPoll: srv.URL + "/milestones/status",
		Review:         srv.URL + "/review",
		Company:        srv.URL + "/company",
	}, opts...)
}

func TestListTasks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"manara":"17","id":17,"title":"A","reward":100},{"id":"x","title":"B"}]`))
	}))
	defer srv.Close()

	tasks, err := newTestClient(srv).ListTasks(context.Background())
	if err != nil {
		t.Fatalf("ListTasks: %v", err)
	}
	if len(tasks) != 2 || tasks[0].ID != "17" || tasks[1].ID != "x" {
		t.Fatalf("unexpected tasks: %+v", tasks)
	}
}

func TestListTasksNonArray(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"message":"nope"}`))
	}))
	defer srv.Close()

	tasks, err := newTestClient(srv).ListTasks(context.Background())
	if err != nil {
		t.Fatalf("ListTasks: %v", err)
	}
	if len(tasks) != 0 {
		t.Errorf("expected empty list, got %+v", tasks)
	}
}

func TestNonSuccessIsNetworkFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"boom"}`, http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := newTestClient(srv).ListTasks(context.Background())
	if !errors.Is(err, ErrNetworkFailure) {
		t.Fatalf("expected ErrNetworkFailure, got %v", err)
	}
	var uerr *Error
	if !errors.As(err, &uerr) || uerr.StatusCode != http.StatusInternalServerError {
		t.Errorf("expected status 500 in error, got %v", err)
	}
}

func TestUnreachableIsNetworkFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	client := newTestClient(srv)
	srv.Close()

	_, err := client.Review(context.Background(), "u", "t", models.Submission{Description: "d"})
	if !errors.Is(err, ErrNetworkFailure) {
		t.Fatalf("expected ErrNetworkFailure, got %v", err)
	}
}

func TestCreateTaskForwardsVerbatim(t *testing.T) {
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(`{"message":"Task saved"}`))
	}))
	defer srv.Close()

	task := models.NewTaskRequest{Title: "Landing page"}.Task(time.UnixMilli(1000))
	if err := newTestClient(srv).CreateTask(context.Background(), task); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if got["manara"] != "1000" || got["id"] != "1000" {
		t.Errorf("expected timestamp ids, got %v / %v", got["manara"], got["id"])
	}
	if got["reward"] != float64(100) || got["duration"] != "1 week" || got["status"] != "active" {
		t.Errorf("defaults not forwarded: %v", got)
	}
	if desc, ok := got["description"]; !ok || desc != "" {
		t.Errorf("expected blank description to be sent, got %v (present=%v)", desc, ok)
	}
}

func TestGenerateMilestonesKeepsOrder(t *testing.T) {
	var body map[string]json.RawMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&body)
		w.Write([]byte(`{"milestones":{
			"zeta":{"action":"first","recommendedResources":["a"]},
			"alpha":{"action":"second"},
			"milestone10":{"action":"third","recommendedResources":["b","c"]}
		}}`))
	}))
	defer srv.Close()

	ms, err := newTestClient(srv).GenerateMilestones(context.Background(), GenerateRequest{
		UserID: "u-1",
		Task:   models.Task{ID: "t", Title: "T"},
	})
	if err != nil {
		t.Fatalf("GenerateMilestones: %v", err)
	}
	if string(body["userId"]) != `"u-1"` {
		t.Errorf("expected userId in request, got %s", body["userId"])
	}
	if _, ok := body["task"]; !ok {
		t.Error("expected task in request")
	}

	want := []string{"zeta", "alpha", "milestone10"}
	if len(ms) != len(want) {
		t.Fatalf("expected %d milestones, got %d", len(want), len(ms))
	}
	for i, id := range want {
		if ms[i].ID != id {
			t.Errorf("position %d: expected %s, got %s", i, id, ms[i].ID)
		}
	}
	if ms[1].RecommendedResources == nil {
		t.Error("expected empty resources, not nil")
	}
}

func TestGenerateMilestonesDuplicateKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"milestones":{
			"milestone1":{"action":"draft"},
			"milestone2":{"action":"build"},
			"milestone1":{"action":"plan","recommendedResources":["docs"]}
		}}`))
	}))
	defer srv.Close()

	ms, err := newTestClient(srv).GenerateMilestones(context.Background(), GenerateRequest{
		UserID: "u-1",
		Task:   models.Task{ID: "t", Title: "T"},
	})
	if err != nil {
		t.Fatalf("GenerateMilestones: %v", err)
	}
	if len(ms) != 2 {
		t.Fatalf("expected duplicate key to collapse to 2 milestones, got %+v", ms)
	}
	if ms[0].ID != "milestone1" || ms[0].Action != "plan" || len(ms[0].RecommendedResources) != 1 {
		t.Errorf("expected last value at first position, got %+v", ms[0])
	}
	if ms[1].ID != "milestone2" {
		t.Errorf("expected milestone2 second, got %s", ms[1].ID)
	}
}

func TestGenerateMilestonesEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	ms, err := newTestClient(srv).GenerateMilestones(context.Background(), GenerateRequest{})
	if err != nil {
		t.Fatalf("GenerateMilestones: %v", err)
	}
	if len(ms) != 0 {
		t.Errorf("expected no milestones, got %+v", ms)
	}
}

func TestGenerateMilestonesPolling(t *testing.T) {
	var polls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/milestones":
			var req map[string]json.RawMessage
			json.NewDecoder(r.Body).Decode(&req)
			if _, ok := req["skills"]; !ok {
				t.Error("expected skills in poll start request")
			}
			w.Write([]byte(`{"requestId":"req-1","message":"Request saved successfully"}`))
		case "/milestones/status":
			if r.URL.Query().Get("requestId") != "req-1" {
				t.Errorf("unexpected requestId %q", r.URL.Query().Get("requestId"))
			}
			if atomic.AddInt32(&polls, 1) < 3 {
				w.Write([]byte(`{"requestId":"req-1","status":"processing"}`))
				return
			}
			w.Write([]byte(`{"requestId":"req-1","status":"completed","milestones":{"milestone1":{"action":"go"}}}`))
		}
	}))
	defer srv.Close()

	client := newTestClient(srv, WithPolling(time.Millisecond, 5))
	ms, err := client.GenerateMilestones(context.Background(), GenerateRequest{
		Skills: models.ParseSkills("go"),
		Task:   models.Task{ID: "t"},
	})
	if err != nil {
		t.Fatalf("GenerateMilestones: %v", err)
	}
	if len(ms) != 1 || ms[0].ID != "milestone1" {
		t.Fatalf("unexpected milestones: %+v", ms)
	}
	if atomic.LoadInt32(&polls) != 3 {
		t.Errorf("expected 3 polls, got %d", polls)
	}
}

func TestGenerateMilestonesPollingBounded(t *testing.T) {
	var polls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/milestones" {
			w.Write([]byte(`{"requestId":"req-2"}`))
			return
		}
		atomic.AddInt32(&polls, 1)
		w.Write([]byte(`{"status":"pending"}`))
	}))
	defer srv.Close()

	client := newTestClient(srv, WithPolling(time.Millisecond, 4))
	_, err := client.GenerateMilestones(context.Background(), GenerateRequest{})
	if !errors.Is(err, ErrPollExhausted) {
		t.Fatalf("expected ErrPollExhausted, got %v", err)
	}
	if atomic.LoadInt32(&polls) != 4 {
		t.Errorf("expected exactly 4 polls, got %d", polls)
	}
}

func TestGenerateMilestonesPollingCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/milestones" {
			w.Write([]byte(`{"requestId":"req-3"}`))
			return
		}
		w.Write([]byte(`{"status":"pending"}`))
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	client := newTestClient(srv, WithPolling(time.Hour, 100))

	done := make(chan error, 1)
	go func() {
		_, err := client.GenerateMilestones(ctx, GenerateRequest{})
		done <- err
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("poll loop did not stop after cancellation")
	}
}

func TestReview(t *testing.T) {
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(`{"feedback":"solid","aiScore":84.6}`))
	}))
	defer srv.Close()

	res, err := newTestClient(srv).Review(context.Background(), "u-1", "t-1", models.Submission{
		MilestoneID: "milestone1",
		Description: "build it",
		FileContent: []byte("hello"),
	})
	if err != nil {
		t.Fatalf("Review: %v", err)
	}
	if res.AIScore != 85 || res.Feedback != "solid" {
		t.Errorf("unexpected result: %+v", res)
	}
	if got["fileContent"] != base64.StdEncoding.EncodeToString([]byte("hello")) {
		t.Errorf("expected base64 file content, got %v", got["fileContent"])
	}
	if got["milestoneId"] != "milestone1" || got["taskId"] != "t-1" || got["userId"] != "u-1" {
		t.Errorf("unexpected payload: %v", got)
	}
}

func TestReviewFinalOmitsMilestoneID(t *testing.T) {
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(`{"feedback":"","aiScore":null}`))
	}))
	defer srv.Close()

	res, err := newTestClient(srv).Review(context.Background(), "u", "t", models.Submission{Description: "final"})
	if err != nil {
		t.Fatalf("Review: %v", err)
	}
	if _, ok := got["milestoneId"]; ok {
		t.Error("final submission must not send milestoneId")
	}
	if got["fileContent"] != nil {
		t.Errorf("expected null fileContent, got %v", got["fileContent"])
	}
	if res.AIScore != 0 {
		t.Errorf("missing score should be 0, got %d", res.AIScore)
	}
}

func TestSubmitToCompany(t *testing.T) {
	var got companyRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(`{"message":"Project successfully submitted to company","totalScore":87.5}`))
	}))
	defer srv.Close()

	msg, err := newTestClient(srv).SubmitToCompany(context.Background(), "u-1", "1700", 87.5)
	if err != nil {
		t.Fatalf("SubmitToCompany: %v", err)
	}
	if msg != "Project successfully submitted to company" {
		t.Errorf("unexpected message %q", msg)
	}
	if got.TaskID != "1700" || got.TotalScore != 87.5 || got.UserID != "u-1" {
		t.Errorf("unexpected payload: %+v", got)
	}
}
