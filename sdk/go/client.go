package rentlinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Rentline HTTP API client.
type Client struct {
	BaseURL     string
	BearerToken string
	CronSecret  string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// HeartbeatSummary is the result of one sweep.
type HeartbeatSummary struct {
	Processed           int      `json:"processed"`
	TasksCreated        int      `json:"tasks_created"`
	ActionsAutoExecuted int      `json:"actions_auto_executed"`
	Errors              []string `json:"errors"`
}

// TimelineEntry is one step of a task's history.
type TimelineEntry struct {
	TS        string         `json:"ts"`
	Action    string         `json:"action"`
	Status    string         `json:"status"`
	Reasoning string         `json:"reasoning,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// Task represents the API task model.
type Task struct {
	ID             string          `json:"id"`
	UserID         string          `json:"user_id"`
	Title          string          `json:"title"`
	Description    string          `json:"description,omitempty"`
	Category       string          `json:"category"`
	Status         string          `json:"status"`
	Priority       string          `json:"priority"`
	Recommendation string          `json:"recommendation,omitempty"`
	RelatedKind    string          `json:"related_kind,omitempty"`
	RelatedID      string          `json:"related_id,omitempty"`
	DeepLink       string          `json:"deep_link,omitempty"`
	Timeline       []TimelineEntry `json:"timeline,omitempty"`
	CreatedAt      string          `json:"created_at"`
	UpdatedAt      string          `json:"updated_at"`
}

// ProactiveAction is one audit log entry.
type ProactiveAction struct {
	ID              string `json:"id"`
	UserID          string `json:"user_id"`
	TaskID          string `json:"task_id"`
	TriggerType     string `json:"trigger_type"`
	TriggerSource   string `json:"trigger_source"`
	ActionTaken     string `json:"action_taken"`
	WasAutoExecuted bool   `json:"was_auto_executed"`
	CreatedAt       string `json:"created_at"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// RunHeartbeat triggers a sweep, optionally for a single user.
func (c *Client) RunHeartbeat(ctx context.Context, userID string) (HeartbeatSummary, error) {
	endpoint := "heartbeat"
	if userID != "" {
		endpoint = fmt.Sprintf("heartbeat?user_id=%s", url.QueryEscape(userID))
	}
	var resp HeartbeatSummary
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// ListTasks returns tasks. Set open to restrict to open statuses.
func (c *Client) ListTasks(ctx context.Context, open bool) ([]Task, error) {
	endpoint := "tasks"
	if open {
		endpoint = "tasks?open=true"
	}
	var resp struct {
		Tasks []Task `json:"tasks"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Tasks, err
}

// GetTask fetches one task with its timeline.
func (c *Client) GetTask(ctx context.Context, id string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodGet, "tasks/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// ApproveTask approves the recommended action on a task.
func (c *Client) ApproveTask(ctx context.Context, id string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPost, "tasks/"+url.PathEscape(id)+"/approve", nil, &resp)
	return resp, err
}

// DismissTask dismisses a task.
func (c *Client) DismissTask(ctx context.Context, id string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPost, "tasks/"+url.PathEscape(id)+"/dismiss", nil, &resp)
	return resp, err
}

// ListActions returns the audit log.
func (c *Client) ListActions(ctx context.Context, limit int) ([]ProactiveAction, error) {
	endpoint := "actions"
	if limit > 0 {
		endpoint = fmt.Sprintf("actions?limit=%d", limit)
	}
	var resp struct {
		Actions []ProactiveAction `json:"actions"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Actions, err
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.CronSecret != "":
		req.Header.Set("X-Cron-Secret", c.CronSecret)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
