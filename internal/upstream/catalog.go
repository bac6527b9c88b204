package upstream

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/terra-clan/apprentice-engine/internal/models"
)

// ListTasks fetches the task catalog. A body that is not an array yields an empty list.
func (c *Client) ListTasks(ctx context.Context) ([]models.Task, error) {
	var raw json.RawMessage
	if err := c.doJSON(ctx, "list tasks", http.MethodGet, c.endpoints.Catalog, nil, &raw); err != nil {
		return nil, err
	}

	tasks := make([]models.Task, 0)
	if len(raw) == 0 || raw[0] != '[' {
		slog.Warn("catalog returned a non-array body", "url", c.endpoints.Catalog)
		return tasks, nil
	}
	if err := json.Unmarshal(raw, &tasks); err != nil {
		return nil, &Error{Op: "list tasks", URL: c.endpoints.Catalog, Err: err}
	}
	return tasks, nil
}

// CreateTask posts a task to the catalog verbatim
func (c *Client) CreateTask(ctx context.Context, task *models.Task) error {
	return c.doJSON(ctx, "create task", http.MethodPost, c.endpoints.Catalog, task, nil)
}
