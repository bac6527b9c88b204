// Package events fans out session workflow events to live subscribers.
package events

import (
	"context"
	"time"

	"github.com/terra-clan/apprentice-engine/internal/models"
)

// Type names a workflow event
type Type string

const (
	Connected             Type = "connected"
	ProfileSaved          Type = "profile_saved"
	TaskSelected          Type = "task_selected"
	MilestonesLoaded      Type = "milestones_loaded"
	MilestonesFallback    Type = "milestones_fallback"
	MilestonesEmpty       Type = "milestones_empty"
	MilestoneReviewed     Type = "milestone_reviewed"
	AllMilestonesComplete Type = "all_milestones_complete"
	FinalReviewed         Type = "final_reviewed"
	CompanySubmitted      Type = "company_submitted"
	ReturnedToCatalog     Type = "returned_to_catalog"
	Error                 Type = "error"
)

// Event is a single notification about one session
type Event struct {
	Type      Type                 `json:"type"`
	SessionID string               `json:"session_id"`
	State     models.WorkflowState `json:"state,omitempty"`
	Message   string               `json:"message,omitempty"`
	Data      interface{}          `json:"data,omitempty"`
	Time      time.Time            `json:"time"`
}

// New stamps an event with the current time
func New(sessionID string, typ Type, message string, data interface{}) Event {
	return Event{
		Type:      typ,
		SessionID: sessionID,
		Message:   message,
		Data:      data,
		Time:      time.Now().UTC(),
	}
}

// Bus delivers events to subscribers of a session.
// Delivery is best effort: slow subscribers miss events rather than block
// the workflow.
type Bus interface {
	Publish(ctx context.Context, ev Event) error
	// Subscribe returns a channel of events for the session. The channel is
	// closed once cancel is called or ctx is done.
	Subscribe(ctx context.Context, sessionID string) (<-chan Event, func(), error)
	Close() error
}

// Channel returns the pub/sub channel name for a session
func Channel(sessionID string) string {
	return "apprentice:session:" + sessionID
}

const subscriberBuffer = 32
