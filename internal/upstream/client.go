// Package upstream talks to the external collaborators that own tasks,
// milestone generation, reviews and company submissions.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Milestone generation modes
const (
	ModeDirect = "direct"
	ModePoll   = "poll"
)

// Common errors
var (
	ErrNetworkFailure = errors.New("collaborator unreachable or returned a non-success status")
	ErrPollExhausted  = errors.New("milestone generation did not complete within the poll budget")
)

// Error describes a failed collaborator call. It matches ErrNetworkFailure.
type Error struct {
	Op         string
	URL        string
	StatusCode int
	Body       string
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: HTTP %d: %s", e.Op, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is makes every upstream error match ErrNetworkFailure
func (e *Error) Is(target error) bool { return target == ErrNetworkFailure }

// Endpoints holds the collaborator URLs
type Endpoints struct {
	Catalog        string
	Milestones     string
	MilestonesPoll string
	Review         string
	Company        string
}

// Client calls the external collaborators
type Client struct {
	endpoints    Endpoints
	mode         string
	pollInterval time.Duration
	pollAttempts int
	httpClient   *http.Client
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

// WithPolling switches milestone generation to the request-then-poll flow
func WithPolling(interval time.Duration, maxAttempts int) Option {
	return func(c *Client) {
		c.mode = ModePoll
		c.pollInterval = interval
		c.pollAttempts = maxAttempts
	}
}

// NewClient creates a new collaborator client
func NewClient(endpoints Endpoints, opts ...Option) *Client {
	c := &Client{
		endpoints:    endpoints,
		mode:         ModeDirect,
		pollInterval: 3 * time.Second,
		pollAttempts: 20,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Mode returns the milestone generation mode
func (c *Client) Mode() string {
	return c.mode
}

// doJSON performs an HTTP request with an optional JSON body and decodes a
// JSON response into out when out is non-nil
func (c *Client) doJSON(ctx context.Context, op, method, url string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s: failed to marshal request: %w", op, err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return fmt.Errorf("%s: failed to create request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &Error{Op: op, URL: url, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &Error{Op: op, URL: url, Err: fmt.Errorf("failed to read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &Error{Op: op, URL: url, StatusCode: resp.StatusCode, Body: truncate(string(respBody), 512)}
	}

	if out == nil || len(bytes.TrimSpace(respBody)) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return &Error{Op: op, URL: url, Err: fmt.Errorf("failed to unmarshal response: %w", err)}
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
