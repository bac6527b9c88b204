package upstream

import (
	"context"
	"encoding/base64"
	"math"
	"net/http"

	"github.com/terra-clan/apprentice-engine/internal/models"
)

type reviewRequest struct {
	UserID      string  `json:"userId"`
	TaskID      string  `json:"taskId"`
	MilestoneID string  `json:"milestoneId,omitempty"`
	Description string  `json:"description"`
	FileContent *string `json:"fileContent"`
}

type reviewResponse struct {
	Feedback string   `json:"feedback"`
	AIScore  *float64 `json:"aiScore"`
}

// Review sends a submission to the review service. The final-project
// submission omits the milestone id.
func (c *Client) Review(ctx context.Context, userID string, taskID models.TaskID, sub models.Submission) (models.ReviewResult, error) {
	body := reviewRequest{
		UserID:      userID,
		TaskID:      taskID.String(),
		MilestoneID: sub.MilestoneID,
		Description: sub.Description,
	}
	if len(sub.FileContent) > 0 {
		encoded := base64.StdEncoding.EncodeToString(sub.FileContent)
		body.FileContent = &encoded
	}

	var resp reviewResponse
	if err := c.doJSON(ctx, "review submission", http.MethodPost, c.endpoints.Review, body, &resp); err != nil {
		return models.ReviewResult{}, err
	}

	result := models.ReviewResult{Feedback: resp.Feedback}
	if resp.AIScore != nil {
		result.AIScore = int(math.Round(*resp.AIScore))
	}
	return result, nil
}
