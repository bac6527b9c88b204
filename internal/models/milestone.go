package models

// Milestone is one step of a task's learning path
type Milestone struct {
	ID                   string   `json:"id"`
	Title                string   `json:"title"`
	Action               string   `json:"action"`
	RecommendedResources []string `json:"recommendedResources"`
	Feedback             *string  `json:"feedback,omitempty"`
	AIScore              *int     `json:"aiScore,omitempty"`
	Completed            bool     `json:"completed"`
}

// Score returns the latest AI score, treating a missing score as 0
func (m *Milestone) Score() int {
	if m.AIScore == nil {
		return 0
	}
	return *m.AIScore
}

// MilestoneView is a milestone as presented to a client, with its sequence position
type MilestoneView struct {
	Milestone
	Position int  `json:"position"`
	Locked   bool `json:"locked"`
}

// Submission is the ephemeral artifact sent for review.
// An empty MilestoneID marks the final-project submission.
type Submission struct {
	MilestoneID string
	Description string
	FileContent []byte
}

// ReviewResult is what the review service returns for a submission
type ReviewResult struct {
	Feedback string `json:"feedback"`
	AIScore  int    `json:"aiScore"`
}
