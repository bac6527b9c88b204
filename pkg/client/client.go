package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/terra-clan/apprentice-engine/internal/events"
	"github.com/terra-clan/apprentice-engine/internal/models"
)

// Client is a Go SDK for the apprentice-engine API
type Client struct {
	baseURL    string
	httpClient *http.Client
	dialer     *websocket.Dialer
}

// Option configures the client
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithTimeout sets the client timeout
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// NewClient creates a new apprentice-engine client
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 3 * time.Minute,
		},
		dialer: websocket.DefaultDialer,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// APIError is an error envelope returned by the server
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Fields     []FieldError
}

// FieldError describes one invalid request field
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error: %s - %s", e.Code, e.Message)
}

// HasCode reports whether err is an APIError with the given code
func HasCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string       `json:"code"`
		Message string       `json:"message"`
		Fields  []FieldError `json:"fields"`
	} `json:"error"`
}

// Health checks if the service is healthy
func (c *Client) Health(ctx context.Context) error {
	return c.call(ctx, http.MethodGet, "/health", nil, nil)
}

// ListCatalog lists the shared task catalog
func (c *Client) ListCatalog(ctx context.Context) ([]models.Task, error) {
	var out struct {
		Tasks []models.Task `json:"tasks"`
	}
	if err := c.call(ctx, http.MethodGet, "/api/v1/tasks", nil, &out); err != nil {
		return nil, err
	}
	return out.Tasks, nil
}

// CreateTask publishes a company task
func (c *Client) CreateTask(ctx context.Context, req models.NewTaskRequest) (*models.Task, error) {
	var task models.Task
	if err := c.call(ctx, http.MethodPost, "/api/v1/tasks", req, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// CreateSession starts a new learner session
func (c *Client) CreateSession(ctx context.Context) (*models.Session, error) {
	return c.session(ctx, http.MethodPost, "/api/v1/sessions", nil)
}

// GetSession retrieves a session by ID
func (c *Client) GetSession(ctx context.Context, id string) (*models.Session, error) {
	return c.session(ctx, http.MethodGet, sessionPath(id, ""), nil)
}

// DeleteSession ends a session
func (c *Client) DeleteSession(ctx context.Context, id string) error {
	return c.call(ctx, http.MethodDelete, sessionPath(id, ""), nil, nil)
}

// SetProfile captures the learner profile
func (c *Client) SetProfile(ctx context.Context, id string, req models.NewProfileRequest) (*models.Session, error) {
	return c.session(ctx, http.MethodPut, sessionPath(id, "/profile"), req)
}

// ListTasks fetches the catalog for a session
func (c *Client) ListTasks(ctx context.Context, id string) ([]models.Task, error) {
	var out struct {
		Tasks []models.Task `json:"tasks"`
	}
	if err := c.call(ctx, http.MethodGet, sessionPath(id, "/tasks"), nil, &out); err != nil {
		return nil, err
	}
	return out.Tasks, nil
}

// SelectTask starts the workflow for a task. With wait set, the call
// returns once milestones are installed.
func (c *Client) SelectTask(ctx context.Context, id, taskID string, wait bool) (*models.Session, error) {
	return c.session(ctx, http.MethodPost, sessionPath(id, "/select")+waitQuery(wait), models.SelectTaskRequest{TaskID: taskID})
}

// Regenerate retries milestone generation after an empty set
func (c *Client) Regenerate(ctx context.Context, id string, wait bool) (*models.Session, error) {
	return c.session(ctx, http.MethodPost, sessionPath(id, "/milestones/regenerate")+waitQuery(wait), nil)
}

// ReturnToCatalog discards the selected task
func (c *Client) ReturnToCatalog(ctx context.Context, id string) (*models.Session, error) {
	return c.session(ctx, http.MethodPost, sessionPath(id, "/catalog"), nil)
}

// SubmitMilestone sends a milestone artifact for review
func (c *Client) SubmitMilestone(ctx context.Context, id, milestoneID string, file []byte) (*models.Session, error) {
	path := sessionPath(id, "/milestones/"+url.PathEscape(milestoneID)+"/review")
	return c.session(ctx, http.MethodPost, path, models.ReviewRequest{FileContent: file})
}

// SubmitFinal sends the final project for review
func (c *Client) SubmitFinal(ctx context.Context, id string, file []byte) (*models.Session, error) {
	return c.session(ctx, http.MethodPost, sessionPath(id, "/final"), models.ReviewRequest{FileContent: file})
}

// ForwardToCompany relays the accepted score to the company
func (c *Client) ForwardToCompany(ctx context.Context, id string) (*models.ForwardResult, error) {
	var res models.ForwardResult
	if err := c.call(ctx, http.MethodPost, sessionPath(id, "/company"), nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Events streams a session's workflow events until ctx is done or the
// server closes the stream
func (c *Client) Events(ctx context.Context, id string) (<-chan events.Event, error) {
	wsURL := "ws" + strings.TrimPrefix(c.baseURL, "http") + sessionPath(id, "/events")

	conn, resp, err := c.dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("event stream refused: HTTP %d", resp.StatusCode)
		}
		return nil, fmt.Errorf("failed to connect event stream: %w", err)
	}

	out := make(chan events.Event, 16)
	go func() {
		<-ctx.Done()
		conn.Close()
	}()
	go func() {
		defer close(out)
		defer conn.Close()
		for {
			var ev events.Event
			if err := conn.ReadJSON(&ev); err != nil {
				if ctx.Err() == nil {
					slog.Debug("event stream closed", "session_id", id, "error", err)
				}
				return
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

func (c *Client) session(ctx context.Context, method, path string, in interface{}) (*models.Session, error) {
	var s models.Session
	if err := c.call(ctx, method, path, in, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// call performs a request and decodes the envelope's data into out
func (c *Client) call(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	respBody, status, err := c.doRequest(ctx, method, path, body)
	if err != nil {
		return err
	}

	var result envelope
	if err := json.Unmarshal(respBody, &result); err != nil {
		if status >= 400 {
			return &APIError{StatusCode: status, Code: "http_error", Message: strings.TrimSpace(string(respBody))}
		}
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}

	if !result.Success || status >= 400 {
		apiErr := &APIError{StatusCode: status, Code: "unknown_error", Message: http.StatusText(status)}
		if result.Error != nil {
			apiErr.Code = result.Error.Code
			apiErr.Message = result.Error.Message
			apiErr.Fields = result.Error.Fields
		}
		return apiErr
	}

	if out != nil && len(result.Data) > 0 {
		if err := json.Unmarshal(result.Data, out); err != nil {
			return fmt.Errorf("failed to unmarshal data: %w", err)
		}
	}
	return nil
}

// doRequest performs an HTTP request
func (c *Client) doRequest(ctx context.Context, method, path string, body io.Reader) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("failed to read response: %w", err)
	}

	return respBody, resp.StatusCode, nil
}

func sessionPath(id, suffix string) string {
	return "/api/v1/sessions/" + url.PathEscape(id) + suffix
}

func waitQuery(wait bool) string {
	if wait {
		return "?wait=true"
	}
	return ""
}
