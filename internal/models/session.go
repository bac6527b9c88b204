package models

import (
	"time"
)

// WorkflowState is the position of a session in the milestone workflow
type WorkflowState string

const (
	StateNoTaskSelected        WorkflowState = "no_task_selected"
	StateLoadingMilestones     WorkflowState = "loading_milestones"
	StateInProgress            WorkflowState = "in_progress"
	StateAllMilestonesComplete WorkflowState = "all_milestones_complete"
)

// HasTask returns true if a task is selected in this state
func (s WorkflowState) HasTask() bool {
	return s != StateNoTaskSelected && s != ""
}

// Session is a point-in-time view of one learner's workflow
type Session struct {
	ID             string          `json:"id"`
	State          WorkflowState   `json:"state"`
	Profile        *Profile        `json:"profile,omitempty"`
	SelectedTask   *Task           `json:"selected_task,omitempty"`
	Milestones     []MilestoneView `json:"milestones"`
	Progress       int             `json:"progress"`
	Degraded       bool            `json:"degraded,omitempty"`
	FinalScore     *int            `json:"final_score,omitempty"`
	FinalFeedback  string          `json:"final_feedback,omitempty"`
	AggregateScore float64         `json:"aggregate_score"`
	CanSubmitFinal bool            `json:"can_submit_final"`
	CanForward     bool            `json:"can_forward"`
	Notice         string          `json:"notice,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	ExpiresAt      time.Time       `json:"expires_at"`
}

// IsExpired checks if the session idle TTL has elapsed
func (s *Session) IsExpired() bool {
	return time.Now().After(s.ExpiresAt)
}

// SelectTaskRequest picks a task from the session's catalog
type SelectTaskRequest struct {
	TaskID string `json:"task_id" validate:"required"`
}

// ReviewRequest carries an optional file; JSON clients send it base64 encoded
type ReviewRequest struct {
	FileContent []byte `json:"file_content,omitempty"`
}

// ForwardResult is returned after relaying a score to the company
type ForwardResult struct {
	Message    string  `json:"message"`
	TotalScore float64 `json:"total_score"`
}
