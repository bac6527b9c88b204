package api

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/terra-clan/apprentice-engine/internal/config"
	"github.com/terra-clan/apprentice-engine/internal/events"
	"github.com/terra-clan/apprentice-engine/internal/models"
	"github.com/terra-clan/apprentice-engine/internal/session"
	"github.com/terra-clan/apprentice-engine/internal/storage"
	"github.com/terra-clan/apprentice-engine/internal/templates"
	"github.com/terra-clan/apprentice-engine/internal/upstream"
)

// fakeCollaborators serves every upstream endpoint
type fakeCollaborators struct {
	mu          sync.Mutex
	scores      map[string]int
	finalScore  int
	lastFile    string
	forwarded   float64
	failReviews bool
}

func (f *fakeCollaborators) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/tasks", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			w.Write([]byte(`{"message":"Task saved"}`))
			return
		}
		w.Write([]byte(`[{"id":1,"manara":"1700","title":"Landing page","description":"Build it","reward":100,"skills":["html"]}]`))
	})
	mux.HandleFunc("/milestones", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"milestones":{"milestone1":{"action":"Set up"},"milestone2":{"action":"Ship"}}}`))
	})
	mux.HandleFunc("/review", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.failReviews {
			http.Error(w, "down", http.StatusServiceUnavailable)
			return
		}
		var req struct {
			MilestoneID string  `json:"milestoneId"`
			FileContent *string `json:"fileContent"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		if req.FileContent != nil {
			raw, _ := base64.StdEncoding.DecodeString(*req.FileContent)
			f.lastFile = string(raw)
		}
		score := f.finalScore
		if req.MilestoneID != "" {
			score = f.scores[req.MilestoneID]
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"feedback": "reviewed", "aiScore": score})
	})
	mux.HandleFunc("/company", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			TotalScore float64 `json:"totalScore"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		f.mu.Lock()
		f.forwarded = req.TotalScore
		f.mu.Unlock()
		w.Write([]byte(`{"message":"Project successfully submitted to company"}`))
	})
	return mux
}

func (f *fakeCollaborators) file() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastFile
}

func (f *fakeCollaborators) total() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.forwarded
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *apiError       `json:"error"`
}

func newTestServer(t *testing.T, fake *fakeCollaborators) *httptest.Server {
	t.Helper()

	collab := httptest.NewServer(fake.handler())
	t.Cleanup(collab.Close)

	client := upstream.NewClient(upstream.Endpoints{
		Catalog:    collab.URL + "/tasks",
		Milestones: collab.URL + "/milestones",
		Review:     collab.URL + "/review",
		Company:    collab.URL + "/company",
	}, upstream.WithTimeout(5*time.Second))

	manager := session.NewManager(session.Options{TTL: time.Hour},
		storage.NewMemoryRepository(), client, templates.NewLoader(), events.NewMemoryBus())
	t.Cleanup(func() { manager.Close() })

	srv := httptest.NewServer(NewServer(config.ServerConfig{}, manager).Router())
	t.Cleanup(srv.Close)
	return srv
}

func call(t *testing.T, method, url string, body interface{}) (int, envelope) {
	t.Helper()

	var rdr *bytes.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		rdr = bytes.NewReader(raw)
	} else {
		rdr = bytes.NewReader(nil)
	}
	req, _ := http.NewRequest(method, url, rdr)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatalf("decode %s %s: %v", method, url, err)
	}
	return resp.StatusCode, env
}

func decodeSession(t *testing.T, env envelope) models.Session {
	t.Helper()
	var s models.Session
	if err := json.Unmarshal(env.Data, &s); err != nil {
		t.Fatalf("decode session: %v", err)
	}
	return s
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, &fakeCollaborators{})

	status, env := call(t, http.MethodGet, srv.URL+"/health", nil)
	if status != http.StatusOK || !env.Success {
		t.Fatalf("health: %d %+v", status, env)
	}
	status, _ = call(t, http.MethodGet, srv.URL+"/ready", nil)
	if status != http.StatusOK {
		t.Errorf("ready: %d", status)
	}
}

func TestUnknownSession(t *testing.T) {
	srv := newTestServer(t, &fakeCollaborators{})

	status, env := call(t, http.MethodGet, srv.URL+"/api/v1/sessions/missing", nil)
	if status != http.StatusNotFound || env.Error == nil || env.Error.Code != "not_found" {
		t.Fatalf("expected 404 not_found, got %d %+v", status, env.Error)
	}
}

func TestProfileRequiredAndValidated(t *testing.T) {
	srv := newTestServer(t, &fakeCollaborators{})

	_, env := call(t, http.MethodPost, srv.URL+"/api/v1/sessions", nil)
	base := srv.URL + "/api/v1/sessions/" + decodeSession(t, env).ID

	status, env := call(t, http.MethodPost, base+"/select", map[string]string{"task_id": "1"})
	if status != http.StatusPreconditionFailed || env.Error.Code != "profile_missing" {
		t.Fatalf("expected 412 profile_missing, got %d %+v", status, env.Error)
	}

	status, env = call(t, http.MethodPut, base+"/profile", map[string]string{"id": "u-1"})
	if status != http.StatusBadRequest || env.Error.Code != "validation_error" {
		t.Fatalf("expected 400 validation_error, got %d %+v", status, env.Error)
	}
	if len(env.Error.Fields) != 1 || env.Error.Fields[0].Field != "name" {
		t.Errorf("expected name field error, got %+v", env.Error.Fields)
	}

	status, _ = call(t, http.MethodPut, base+"/profile", map[string]string{"id": "u-1", "name": "Amina", "skills": "html, css"})
	if status != http.StatusOK {
		t.Fatalf("profile: %d", status)
	}
	status, env = call(t, http.MethodPut, base+"/profile", map[string]string{"id": "u-2", "name": "B"})
	if status != http.StatusConflict || env.Error.Code != "profile_exists" {
		t.Errorf("expected 409 profile_exists, got %d %+v", status, env.Error)
	}
}

func TestWorkflowOverHTTP(t *testing.T) {
	fake := &fakeCollaborators{
		scores:     map[string]int{"milestone1": 90, "milestone2": 84},
		finalScore: 92,
	}
	srv := newTestServer(t, fake)

	_, env := call(t, http.MethodPost, srv.URL+"/api/v1/sessions", nil)
	base := srv.URL + "/api/v1/sessions/" + decodeSession(t, env).ID
	call(t, http.MethodPut, base+"/profile", map[string]string{"id": "u-1", "name": "Amina"})

	status, env := call(t, http.MethodPost, base+"/select?wait=true", map[string]string{"task_id": "1"})
	if status != http.StatusOK {
		t.Fatalf("select: %d %+v", status, env.Error)
	}
	sess := decodeSession(t, env)
	if sess.State != models.StateInProgress || len(sess.Milestones) != 2 || sess.Milestones[0].Title != "Milestone 1" {
		t.Fatalf("unexpected session: %+v", sess)
	}

	status, env = call(t, http.MethodPost, base+"/milestones/milestone2/review", nil)
	if status != http.StatusConflict || env.Error.Code != "milestone_locked" {
		t.Fatalf("expected 409 milestone_locked, got %d %+v", status, env.Error)
	}

	status, _ = call(t, http.MethodPost, base+"/milestones/milestone1/review",
		map[string]string{"file_content": base64.StdEncoding.EncodeToString([]byte("index.html"))})
	if status != http.StatusOK {
		t.Fatalf("review 1: %d", status)
	}
	if got := fake.file(); got != "index.html" {
		t.Errorf("expected file to reach reviewer, got %q", got)
	}

	// multipart upload
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, _ := mw.CreateFormFile("file", "app.js")
	fw.Write([]byte("console.log(1)"))
	mw.Close()
	resp, err := http.Post(base+"/milestones/milestone2/review", mw.FormDataContentType(), &buf)
	if err != nil {
		t.Fatalf("multipart review: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("multipart review: %d", resp.StatusCode)
	}
	if got := fake.file(); got != "console.log(1)" {
		t.Errorf("expected multipart file to reach reviewer, got %q", got)
	}

	status, env = call(t, http.MethodPost, base+"/final", nil)
	if status != http.StatusOK {
		t.Fatalf("final: %d %+v", status, env.Error)
	}
	sess = decodeSession(t, env)
	if sess.FinalScore == nil || *sess.FinalScore != 92 || !sess.CanForward {
		t.Fatalf("unexpected final state: %+v", sess)
	}

	status, env = call(t, http.MethodPost, base+"/company", nil)
	if status != http.StatusOK {
		t.Fatalf("company: %d %+v", status, env.Error)
	}
	var res models.ForwardResult
	json.Unmarshal(env.Data, &res)
	if res.TotalScore != 87 || fake.total() != 87 {
		t.Errorf("expected milestone mean 87 forwarded, got %v / %v", res.TotalScore, fake.total())
	}

	status, env = call(t, http.MethodPost, base+"/catalog", nil)
	if status != http.StatusOK || decodeSession(t, env).State != models.StateNoTaskSelected {
		t.Errorf("return to catalog: %d", status)
	}
}

func TestGateAndThresholdErrors(t *testing.T) {
	fake := &fakeCollaborators{
		scores:     map[string]int{"milestone1": 80, "milestone2": 80},
		finalScore: 60,
	}
	srv := newTestServer(t, fake)

	_, env := call(t, http.MethodPost, srv.URL+"/api/v1/sessions", nil)
	base := srv.URL + "/api/v1/sessions/" + decodeSession(t, env).ID
	call(t, http.MethodPut, base+"/profile", map[string]string{"id": "u-1", "name": "Amina"})

	status, env := call(t, http.MethodPost, base+"/final", nil)
	if status != http.StatusConflict || env.Error.Code != "no_task_selected" {
		t.Fatalf("expected 409 no_task_selected, got %d %+v", status, env.Error)
	}

	call(t, http.MethodPost, base+"/select?wait=true", map[string]string{"task_id": "1"})
	status, env = call(t, http.MethodPost, base+"/final", nil)
	if status != http.StatusConflict || env.Error.Code != "gate_closed" {
		t.Fatalf("expected 409 gate_closed, got %d %+v", status, env.Error)
	}

	call(t, http.MethodPost, base+"/milestones/milestone1/review", nil)
	call(t, http.MethodPost, base+"/milestones/milestone2/review", nil)
	call(t, http.MethodPost, base+"/final", nil)

	status, env = call(t, http.MethodPost, base+"/company", nil)
	if status != http.StatusUnprocessableEntity || env.Error.Code != "score_below_threshold" {
		t.Fatalf("expected 422, got %d %+v", status, env.Error)
	}
	if !strings.Contains(env.Error.Message, "80") {
		t.Errorf("guidance should mention the pass mark: %q", env.Error.Message)
	}
}

func TestJSONUploadUpToLimit(t *testing.T) {
	fake := &fakeCollaborators{scores: map[string]int{"milestone1": 90}}
	srv := newTestServer(t, fake)

	_, env := call(t, http.MethodPost, srv.URL+"/api/v1/sessions", nil)
	base := srv.URL + "/api/v1/sessions/" + decodeSession(t, env).ID
	call(t, http.MethodPut, base+"/profile", map[string]string{"id": "u-1", "name": "Amina"})
	call(t, http.MethodPost, base+"/select?wait=true", map[string]string{"task_id": "1"})

	file := bytes.Repeat([]byte("a"), maxUploadSize-1)
	status, env := call(t, http.MethodPost, base+"/milestones/milestone1/review", models.ReviewRequest{FileContent: file})
	if status != http.StatusOK {
		t.Fatalf("expected a file under the limit to be accepted, got %d %+v", status, env.Error)
	}
	if got := len(fake.file()); got != len(file) {
		t.Errorf("expected %d bytes to reach the reviewer, got %d", len(file), got)
	}

	file = append(file, 'b', 'c')
	status, env = call(t, http.MethodPost, base+"/milestones/milestone1/review", models.ReviewRequest{FileContent: file})
	if status != http.StatusBadRequest || env.Error.Code != "invalid_request" {
		t.Fatalf("expected 400 for an oversized file, got %d %+v", status, env.Error)
	}
}

func TestUpstreamFailureIs502(t *testing.T) {
	fake := &fakeCollaborators{failReviews: true}
	srv := newTestServer(t, fake)

	_, env := call(t, http.MethodPost, srv.URL+"/api/v1/sessions", nil)
	base := srv.URL + "/api/v1/sessions/" + decodeSession(t, env).ID
	call(t, http.MethodPut, base+"/profile", map[string]string{"id": "u-1", "name": "Amina"})
	call(t, http.MethodPost, base+"/select?wait=true", map[string]string{"task_id": "1"})

	status, env := call(t, http.MethodPost, base+"/milestones/milestone1/review", nil)
	if status != http.StatusBadGateway || env.Error.Code != "network_failure" {
		t.Fatalf("expected 502 network_failure, got %d %+v", status, env.Error)
	}

	_, env = call(t, http.MethodGet, base, nil)
	if sess := decodeSession(t, env); !strings.HasPrefix(sess.Notice, "Review failed:") {
		t.Errorf("expected failure notice, got %q", sess.Notice)
	}
}

func TestCreateTask(t *testing.T) {
	srv := newTestServer(t, &fakeCollaborators{})

	status, env := call(t, http.MethodPost, srv.URL+"/api/v1/tasks", map[string]interface{}{"title": "API", "skills": []string{"go"}})
	if status != http.StatusCreated {
		t.Fatalf("create task: %d %+v", status, env.Error)
	}
	var task models.Task
	json.Unmarshal(env.Data, &task)
	if task.Duration != models.DefaultTaskDuration || task.Status != models.TaskActive {
		t.Errorf("defaults not applied: %+v", task)
	}

	status, env = call(t, http.MethodPost, srv.URL+"/api/v1/tasks", map[string]interface{}{"reward": -1})
	if status != http.StatusBadRequest || env.Error.Code != "validation_error" {
		t.Errorf("expected validation error, got %d %+v", status, env.Error)
	}

	status, env = call(t, http.MethodGet, srv.URL+"/api/v1/tasks", nil)
	if status != http.StatusOK || !strings.Contains(string(env.Data), "Landing page") {
		t.Errorf("list tasks: %d %s", status, env.Data)
	}
}

func TestEventStream(t *testing.T) {
	srv := newTestServer(t, &fakeCollaborators{})

	_, env := call(t, http.MethodPost, srv.URL+"/api/v1/sessions", nil)
	id := decodeSession(t, env).ID

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/sessions/" + id + "/events"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var ev events.Event
	if err := conn.ReadJSON(&ev); err != nil || ev.Type != events.Connected {
		t.Fatalf("expected connected frame, got %+v %v", ev, err)
	}

	call(t, http.MethodPut, srv.URL+"/api/v1/sessions/"+id+"/profile", map[string]string{"id": "u-1", "name": "Amina"})

	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read: %v", err)
	}
	if ev.Type != events.ProfileSaved || ev.SessionID != id {
		t.Errorf("unexpected event %+v", ev)
	}
}
