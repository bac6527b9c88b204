package models

import (
	"encoding/json"
	"testing"
	"time"
)

func TestParseSkills(t *testing.T) {
	skills := ParseSkills(" go, aws ,, docker ,")
	if len(skills) != 3 {
		t.Fatalf("expected 3 skills, got %d: %+v", len(skills), skills)
	}
	want := []string{"go", "aws", "docker"}
	for i, s := range skills {
		if s.Skill != want[i] {
			t.Errorf("skill %d: expected %q, got %q", i, want[i], s.Skill)
		}
		if s.Level != LevelBeginner {
			t.Errorf("skill %d: expected beginner level, got %q", i, s.Level)
		}
	}

	if got := ParseSkills(""); len(got) != 0 {
		t.Errorf("expected no skills from empty input, got %+v", got)
	}
}

func TestNewProfileRequest(t *testing.T) {
	req := NewProfileRequest{ID: "  u-1 ", Name: " Amina ", Skills: "python"}
	req.Normalize()
	p := req.Profile()

	if p.ID != "u-1" || p.Name != "Amina" {
		t.Errorf("expected trimmed identity, got %q / %q", p.ID, p.Name)
	}
	if p.Points != 0 {
		t.Errorf("expected 0 points, got %d", p.Points)
	}
	if len(p.Skills) != 1 || p.Skills[0].Skill != "python" {
		t.Errorf("unexpected skills: %+v", p.Skills)
	}
}

func TestTaskIDUnmarshal(t *testing.T) {
	tests := []struct {
		in   string
		want TaskID
	}{
		{`"abc"`, "abc"},
		{`42`, "42"},
		{`1727712000000`, "1727712000000"},
		{`1.7277e12`, "1727700000000"},
		{`null`, ""},
	}

	for _, tt := range tests {
		var id TaskID
		if err := json.Unmarshal([]byte(tt.in), &id); err != nil {
			t.Fatalf("unmarshal %s: %v", tt.in, err)
		}
		if id != tt.want {
			t.Errorf("unmarshal %s: expected %q, got %q", tt.in, tt.want, id)
		}
	}

	var id TaskID
	if err := json.Unmarshal([]byte(`{"x":1}`), &id); err == nil {
		t.Error("expected error for object task id")
	}
}

func TestTaskDecodeFromCatalog(t *testing.T) {
	body := `[{"manara":"1700","id":1700,"title":"Build API","reward":150,"skills":["go"],"status":"active"}]`

	var tasks []Task
	if err := json.Unmarshal([]byte(body), &tasks); err != nil {
		t.Fatalf("decode catalog: %v", err)
	}
	if len(tasks) != 1 {
		t.Fatalf("expected 1 task, got %d", len(tasks))
	}
	task := tasks[0]
	if task.ID != "1700" || task.SubmissionKey() != "1700" {
		t.Errorf("unexpected ids: id=%q key=%q", task.ID, task.SubmissionKey())
	}
	if task.ReviewDescription() != "Build API" {
		t.Errorf("expected title fallback for description, got %q", task.ReviewDescription())
	}
}

func TestNewTaskRequestDefaults(t *testing.T) {
	now := time.UnixMilli(1727712000000)

	task := NewTaskRequest{Title: "Landing page", Duration: "   "}.Task(now)
	if task.Reward != DefaultTaskReward {
		t.Errorf("expected default reward %d, got %v", DefaultTaskReward, task.Reward)
	}
	if task.Duration != DefaultTaskDuration {
		t.Errorf("expected default duration %q, got %q", DefaultTaskDuration, task.Duration)
	}
	if task.ID != "1727712000000" || task.CatalogKey != task.ID {
		t.Errorf("expected timestamp ids, got id=%q manara=%q", task.ID, task.CatalogKey)
	}
	if task.Status != TaskActive {
		t.Errorf("expected active status, got %q", task.Status)
	}
	if task.TopSubmissions == nil || task.Skills == nil {
		t.Error("expected empty, non-nil collections")
	}

	kept := NewTaskRequest{Title: "x", Reward: 250, Duration: "3 days"}.Task(now)
	if kept.Reward != 250 || kept.Duration != "3 days" {
		t.Errorf("explicit values overwritten: %+v", kept)
	}
}

func TestMilestoneScore(t *testing.T) {
	var m Milestone
	if m.Score() != 0 {
		t.Errorf("expected missing score to count as 0")
	}
	score := 85
	m.AIScore = &score
	if m.Score() != 85 {
		t.Errorf("expected 85, got %d", m.Score())
	}
}
