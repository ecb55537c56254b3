// Package client implements the HTTP client for the taskdeck store API.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/avast/retry-go"
	"github.com/go-resty/resty/v2"

	"github.com/taskdeck/taskdeck/task"
)

// DefaultTimeout bounds a single request round-trip.
const DefaultTimeout = 15 * time.Second

// readAttempts is the retry budget for idempotent reads.
const readAttempts = 3

// RequestError is a failed API call, carrying the human-readable message
// from the server's error payload when one was returned.
type RequestError struct {
	StatusCode int
	Message    string
}

func (e *RequestError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("request failed with status %d", e.StatusCode)
}

// apiError is the error body written by the server.
type apiError struct {
	Error string `json:"error"`
}

// TaskQuery selects one window of the task collection.
type TaskQuery struct {
	AgentID string
	Limit   int
	Offset  int
}

// executeRequest is the body of POST /api/tasks.
type executeRequest struct {
	AgentType string          `json:"agent_type"`
	Action    string          `json:"action"`
	Input     json.RawMessage `json:"input,omitempty"`
}

// Client talks to a taskdeck store server.
type Client struct {
	rc *resty.Client
}

// New creates a Client for the given server. token may be empty when the
// server runs with auth disabled.
func New(baseURL, token string) *Client {
	rc := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(DefaultTimeout).
		SetHeader("Accept", "application/json")
	if token != "" {
		rc.SetAuthToken(token)
	}
	return &Client{rc: rc}
}

// SetToken replaces the bearer token used for subsequent requests.
func (c *Client) SetToken(token string) {
	c.rc.SetAuthToken(token)
}

// Login exchanges credentials for a bearer token.
func (c *Client) Login(ctx context.Context, username, password string) (string, error) {
	var out struct {
		Token string `json:"token"`
	}
	resp, err := c.rc.R().
		SetContext(ctx).
		SetBody(map[string]string{"username": username, "password": password}).
		SetResult(&out).
		SetError(&apiError{}).
		Post("/api/login")
	if err != nil {
		return "", fmt.Errorf("login: %w", err)
	}
	if resp.IsError() {
		return "", respError(resp)
	}
	return out.Token, nil
}

// ListAgents returns all registered agents.
func (c *Client) ListAgents(ctx context.Context) ([]task.Agent, error) {
	var agents []task.Agent
	err := c.getWithRetry(ctx, "/api/agents", nil, &agents)
	return agents, err
}

// AgentMetrics returns per-status task counts for one agent.
func (c *Client) AgentMetrics(ctx context.Context, agentID string) (*task.Metrics, error) {
	var m task.Metrics
	path := fmt.Sprintf("/api/agents/%s/metrics", agentID)
	if err := c.getWithRetry(ctx, path, nil, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// ListTasks fetches one window of the task collection, scoped to an agent
// when q.AgentID is set.
func (c *Client) ListTasks(ctx context.Context, q TaskQuery) (*task.Page, error) {
	params := map[string]string{
		"limit":  fmt.Sprint(q.Limit),
		"offset": fmt.Sprint(q.Offset),
	}
	if q.AgentID != "" {
		params["agent_id"] = q.AgentID
	}
	var page task.Page
	if err := c.getWithRetry(ctx, "/api/tasks", params, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// Activity returns the most recent tasks across all agents.
func (c *Client) Activity(ctx context.Context, limit int) ([]*task.Task, error) {
	var tasks []*task.Task
	params := map[string]string{"limit": fmt.Sprint(limit)}
	err := c.getWithRetry(ctx, "/api/activity", params, &tasks)
	return tasks, err
}

// ExecuteTask submits a new task for the agent of the given type. It is
// never retried: a retry could submit duplicate work.
func (c *Client) ExecuteTask(ctx context.Context, agentType, action string, input json.RawMessage) (*task.Task, error) {
	var created task.Task
	resp, err := c.rc.R().
		SetContext(ctx).
		SetBody(executeRequest{AgentType: agentType, Action: action, Input: input}).
		SetResult(&created).
		SetError(&apiError{}).
		Post("/api/tasks")
	if err != nil {
		return nil, fmt.Errorf("execute task: %w", err)
	}
	if resp.IsError() {
		return nil, respError(resp)
	}
	return &created, nil
}

// getWithRetry performs a GET with a bounded retry on transport errors and
// 5xx responses. Client errors (4xx) fail immediately.
func (c *Client) getWithRetry(ctx context.Context, path string, params map[string]string, out any) error {
	return retry.Do(
		func() error {
			req := c.rc.R().
				SetContext(ctx).
				SetResult(out).
				SetError(&apiError{})
			if params != nil {
				req.SetQueryParams(params)
			}
			resp, err := req.Get(path)
			if err != nil {
				return fmt.Errorf("get %s: %w", path, err)
			}
			if resp.IsError() {
				return respError(resp)
			}
			return nil
		},
		retry.Attempts(readAttempts),
		retry.Delay(200*time.Millisecond),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
		retry.RetryIf(func(err error) bool {
			var reqErr *RequestError
			if errors.As(err, &reqErr) {
				return reqErr.StatusCode >= http.StatusInternalServerError
			}
			return true // transport failure
		}),
	)
}

// respError builds a RequestError from a non-2xx response.
func respError(resp *resty.Response) error {
	msg := ""
	if e, ok := resp.Error().(*apiError); ok && e != nil {
		msg = e.Error
	}
	return &RequestError{StatusCode: resp.StatusCode(), Message: msg}
}
