package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// TaskStatus represents the lifecycle state of a catalog task
type TaskStatus string

const (
	TaskActive    TaskStatus = "active"
	TaskReview    TaskStatus = "review"
	TaskCompleted TaskStatus = "completed"
)

// Task defaults applied on creation
const (
	DefaultTaskReward   = 100
	DefaultTaskDuration = "1 week"
)

// TaskID is a catalog identifier that arrives as either a JSON string or number.
// It is always rendered back as a string.
type TaskID string

// UnmarshalJSON accepts "123", 123 and 1.7e12 alike
func (id *TaskID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = TaskID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("task id must be a string or number: %w", err)
	}
	if i, err := n.Int64(); err == nil {
		*id = TaskID(strconv.FormatInt(i, 10))
		return nil
	}
	if f, err := n.Float64(); err == nil && f == float64(int64(f)) {
		*id = TaskID(strconv.FormatInt(int64(f), 10))
		return nil
	}
	*id = TaskID(n.String())
	return nil
}

func (id TaskID) String() string { return string(id) }

// TopSubmission is a forwarded result recorded by the company service
type TopSubmission struct {
	UserID      string  `json:"userId"`
	Score       float64 `json:"score"`
	SubmittedAt string  `json:"submittedAt,omitempty"`
}

// Task is a unit of work posted by an organization
type Task struct {
	ID             TaskID          `json:"id"`
	CatalogKey     TaskID          `json:"manara,omitempty"`
	Title          string          `json:"title"`
	Description    string          `json:"description"`
	Reward         float64         `json:"reward,omitempty"`
	Duration       string          `json:"duration,omitempty"`
	Skills         []string        `json:"skills,omitempty"`
	Status         TaskStatus      `json:"status,omitempty"`
	Applicants     int             `json:"applicants"`
	TopSubmissions []TopSubmission `json:"topSubmissions"`
}

// SubmissionKey is the identifier the company service stores results under
func (t *Task) SubmissionKey() string {
	if t.CatalogKey != "" {
		return t.CatalogKey.String()
	}
	return t.ID.String()
}

// ReviewDescription is what a final artifact is reviewed against
func (t *Task) ReviewDescription() string {
	if strings.TrimSpace(t.Description) != "" {
		return t.Description
	}
	return t.Title
}

// NewTaskRequest is the company-side payload for posting a task
type NewTaskRequest struct {
	Title       string   `json:"title" validate:"required"`
	Description string   `json:"description"`
	Reward      float64  `json:"reward" validate:"gte=0"`
	Duration    string   `json:"duration"`
	Skills      []string `json:"skills" validate:"dive,required"`
}

// Task builds the catalog payload, applying the reward and duration defaults
func (r NewTaskRequest) Task(now time.Time) *Task {
	id := TaskID(strconv.FormatInt(now.UnixMilli(), 10))

	reward := r.Reward
	if reward == 0 {
		reward = DefaultTaskReward
	}
	duration := strings.TrimSpace(r.Duration)
	if duration == "" {
		duration = DefaultTaskDuration
	}
	skills := r.Skills
	if skills == nil {
		skills = []string{}
	}

	return &Task{
		ID:             id,
		CatalogKey:     id,
		Title:          strings.TrimSpace(r.Title),
		Description:    r.Description,
		Reward:         reward,
		Duration:       duration,
		Skills:         skills,
		Status:         TaskActive,
		Applicants:     0,
		TopSubmissions: []TopSubmission{},
	}
}
