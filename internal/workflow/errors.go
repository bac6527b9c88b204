package workflow

import (
	"errors"
	"fmt"
)

// Common errors
var (
	ErrProfileMissing      = errors.New("profile is required before this action")
	ErrProfileExists       = errors.New("profile already captured for this session")
	ErrNoTaskSelected      = errors.New("no task selected")
	ErrMilestonesLoading   = errors.New("milestones are still loading")
	ErrMilestonesLoaded    = errors.New("milestones already loaded")
	ErrMilestoneNotFound   = errors.New("milestone not found")
	ErrMilestoneLocked     = errors.New("milestone is locked until the previous one is completed")
	ErrGateClosed          = errors.New("final submission requires every milestone to be completed")
	ErrScoreBelowThreshold = errors.New("score below threshold")
	ErrStaleResult         = errors.New("result belongs to a task that is no longer selected")
)

// ThresholdError explains why a company submission was refused
type ThresholdError struct {
	FinalScore     *int
	AggregateScore float64
	PassScore      int
}

func (e *ThresholdError) Error() string {
	return e.Guidance()
}

func (e *ThresholdError) Unwrap() error {
	return ErrScoreBelowThreshold
}

// Guidance is the message shown to the learner
func (e *ThresholdError) Guidance() string {
	if e.FinalScore == nil {
		return fmt.Sprintf("Submit your final project for review first. A score of at least %d is required before it can be sent to the company.", e.PassScore)
	}
	if *e.FinalScore < e.PassScore {
		return fmt.Sprintf("Your final score is %d/100. A score of at least %d is required to submit to the company; improve your project and resubmit it for review.", *e.FinalScore, e.PassScore)
	}
	return fmt.Sprintf("Your average milestone score is %.1f/100. At least %d is required to submit to the company; resubmit the weaker milestones and try again.", e.AggregateScore, e.PassScore)
}
