package upstream

import (
	"context"
	"net/http"
)

type companyRequest struct {
	UserID     string  `json:"userId"`
	TaskID     string  `json:"taskId"`
	TotalScore float64 `json:"totalScore"`
}

type companyResponse struct {
	Message string `json:"message"`
}

// SubmitToCompany relays an accepted score and returns the company's message
func (c *Client) SubmitToCompany(ctx context.Context, userID, taskKey string, totalScore float64) (string, error) {
	var resp companyResponse
	body := companyRequest{UserID: userID, TaskID: taskKey, TotalScore: totalScore}
	if err := c.doJSON(ctx, "submit to company", http.MethodPost, c.endpoints.Company, body, &resp); err != nil {
		return "", err
	}
	return resp.Message, nil
}
