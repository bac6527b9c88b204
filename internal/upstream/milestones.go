package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/terra-clan/apprentice-engine/internal/models"
)

// Poll statuses reported by the generation service
const (
	PollPending    = "pending"
	PollProcessing = "processing"
	PollCompleted  = "completed"
)

// GenerateRequest carries what the generation service needs to know
type GenerateRequest struct {
	UserID string
	Skills []models.SkillLevel
	Task   models.Task
}

type directRequest struct {
	UserID string      `json:"userId"`
	Task   models.Task `json:"task"`
}

type pollStartRequest struct {
	Skills []models.SkillLevel `json:"skills"`
	Task   models.Task         `json:"task"`
}

type milestonesResponse struct {
	RequestID  string          `json:"requestId,omitempty"`
	Status     string          `json:"status,omitempty"`
	Milestones json.RawMessage `json:"milestones"`
}

type generatedMilestone struct {
	Action               string   `json:"action"`
	RecommendedResources []string `json:"recommendedResources"`
}

// GenerateMilestones asks the generation service for a task's milestones,
// returned in the order the service listed them
func (c *Client) GenerateMilestones(ctx context.Context, req GenerateRequest) ([]models.Milestone, error) {
	if c.mode == ModePoll {
		return c.generateByPolling(ctx, req)
	}

	var resp milestonesResponse
	body := directRequest{UserID: req.UserID, Task: req.Task}
	if err := c.doJSON(ctx, "generate milestones", http.MethodPost, c.endpoints.Milestones, body, &resp); err != nil {
		return nil, err
	}
	return decodeMilestones(resp.Milestones)
}

// generateByPolling starts a generation request and polls its status until
// it completes, the attempt budget runs out, or ctx is cancelled
func (c *Client) generateByPolling(ctx context.Context, req GenerateRequest) ([]models.Milestone, error) {
	skills := req.Skills
	if skills == nil {
		skills = []models.SkillLevel{}
	}

	var started milestonesResponse
	body := pollStartRequest{Skills: skills, Task: req.Task}
	if err := c.doJSON(ctx, "start milestone generation", http.MethodPost, c.endpoints.Milestones, body, &started); err != nil {
		return nil, err
	}
	if started.RequestID == "" {
		return nil, &Error{Op: "start milestone generation", URL: c.endpoints.Milestones, Err: fmt.Errorf("response has no requestId")}
	}

	pollURL, err := url.Parse(c.endpoints.MilestonesPoll)
	if err != nil {
		return nil, fmt.Errorf("invalid poll URL: %w", err)
	}
	q := pollURL.Query()
	q.Set("requestId", started.RequestID)
	pollURL.RawQuery = q.Encode()

	for attempt := 1; attempt <= c.pollAttempts; attempt++ {
		var status milestonesResponse
		if err := c.doJSON(ctx, "poll milestone generation", http.MethodGet, pollURL.String(), nil, &status); err != nil {
			return nil, err
		}

		if status.Status == PollCompleted {
			slog.Debug("milestone generation completed", "request_id", started.RequestID, "attempts", attempt)
			return decodeMilestones(status.Milestones)
		}

		slog.Debug("milestone generation not ready",
			"request_id", started.RequestID,
			"status", status.Status,
			"attempt", attempt,
		)

		if attempt == c.pollAttempts {
			break
		}

		timer := time.NewTimer(c.pollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	return nil, fmt.Errorf("request %s after %d attempts: %w", started.RequestID, c.pollAttempts, ErrPollExhausted)
}

// decodeMilestones reads the {"key": {action, recommendedResources}} object
// token by token so that the key order of the document is kept. A repeated
// key keeps its first position and takes the last value.
func decodeMilestones(raw json.RawMessage) ([]models.Milestone, error) {
	result := make([]models.Milestone, 0)
	seen := make(map[string]int)
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return result, nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("decode milestones: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("decode milestones: expected object, got %v", tok)
	}

	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("decode milestones: %w", err)
		}
		key, ok := keyTok.(string)
		if !ok {
			return nil, fmt.Errorf("decode milestones: unexpected key %v", keyTok)
		}

		var gm generatedMilestone
		if err := dec.Decode(&gm); err != nil {
			return nil, fmt.Errorf("decode milestone %q: %w", key, err)
		}
		resources := gm.RecommendedResources
		if resources == nil {
			resources = []string{}
		}
		m := models.Milestone{
			ID:                   key,
			Action:               gm.Action,
			RecommendedResources: resources,
		}
		if i, ok := seen[key]; ok {
			result[i] = m
			continue
		}
		seen[key] = len(result)
		result = append(result, m)
	}

	return result, nil
}
