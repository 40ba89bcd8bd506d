// Package apiclient talks to the remote task/execution API. It is the only
// package that knows endpoint paths and wire shapes.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/nick353/Automate-sub000/internal/domain"
)

// maxErrorBody bounds how much of an error response is kept
const maxErrorBody = 2048

// HTTPError is returned when the API answers with a non-2xx status
type HTTPError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("HTTP %d from %s %s", e.StatusCode, e.Method, e.Path)
	}
	return fmt.Sprintf("HTTP %d from %s %s: %s", e.StatusCode, e.Method, e.Path, e.Body)
}

// StatusCode extracts the HTTP status from err, or 0 if err is not an HTTPError
func StatusCode(err error) int {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode
	}
	return 0
}

// Config configures the API client
type Config struct {
	BaseURL   string
	ProjectID string
	Token     string
	Timeout   time.Duration
}

// Validate checks the config is valid
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("base_url is required")
	}
	return nil
}

// Client is an HTTP client for the task/execution API
type Client struct {
	baseURL   string
	projectID string
	token     string
	http      *http.Client
}

// New creates a new API client
func New(cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		projectID: cfg.ProjectID,
		token:     cfg.Token,
		http:      &http.Client{Timeout: timeout},
	}, nil
}

// ProjectID returns the project the client acts on
func (c *Client) ProjectID() string {
	return c.projectID
}

// ExecutionStatus is the body of GET executions/{id}
type ExecutionStatus struct {
	Status       domain.ExecutionStatus `json:"status"`
	ErrorMessage string                 `json:"error_message,omitempty"`
}

// GetExecution fetches the current status of a run
func (c *Client) GetExecution(ctx context.Context, executionID string) (*ExecutionStatus, error) {
	var out ExecutionStatus
	if err := c.do(ctx, http.MethodGet, "/executions/"+executionID, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetExecutionLogs fetches the raw log records of a run. Each element is
// either a JSON string or an object; normalization is the caller's job.
func (c *Client) GetExecutionLogs(ctx context.Context, executionID string) ([]json.RawMessage, error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/executions/"+executionID+"/logs", nil, &raw); err != nil {
		return nil, err
	}
	return decodeLogArray(raw)
}

// decodeLogArray accepts a bare array or an object wrapping it under "logs"
func decodeLogArray(raw json.RawMessage) ([]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	if trimmed[0] == '{' {
		var wrapped struct {
			Logs []json.RawMessage `json:"logs"`
		}
		if err := json.Unmarshal(trimmed, &wrapped); err != nil {
			return nil, fmt.Errorf("decode logs: %w", err)
		}
		return wrapped.Logs, nil
	}
	var entries []json.RawMessage
	if err := json.Unmarshal(trimmed, &entries); err != nil {
		return nil, fmt.Errorf("decode logs: %w", err)
	}
	return entries, nil
}

// RunTask starts a task and returns the new execution id. Older servers
// answer with "id" instead of "execution_id"; both are accepted.
func (c *Client) RunTask(ctx context.Context, taskID string) (string, error) {
	var out struct {
		ExecutionID domain.ID `json:"execution_id"`
		ID          domain.ID `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, "/tasks/"+taskID+"/run", nil, &out); err != nil {
		return "", err
	}
	switch {
	case out.ExecutionID != "":
		return out.ExecutionID.String(), nil
	case out.ID != "":
		return out.ID.String(), nil
	default:
		return "", fmt.Errorf("run task %s: response carried no execution id", taskID)
	}
}

// GetTask fetches a task record
func (c *Client) GetTask(ctx context.Context, taskID string) (*domain.Task, error) {
	var task domain.Task
	if err := c.do(ctx, http.MethodGet, "/tasks/"+taskID, nil, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// PatchTask updates the given fields of a task
func (c *Client) PatchTask(ctx context.Context, taskID string, fields map[string]any) (*domain.Task, error) {
	var task domain.Task
	if err := c.do(ctx, http.MethodPost, "/tasks/"+taskID, fields, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// AnalyzeRequest is the body of POST projects/{id}/analyze-error
type AnalyzeRequest struct {
	TaskID      string   `json:"task_id"`
	ExecutionID string   `json:"execution_id"`
	ErrorReason string   `json:"error_reason"`
	Logs        []string `json:"logs"`
}

// AnalyzeResponse is the answer of the analysis service. Suggestion holds a
// free-text fix when the service could not produce a structured analysis.
type AnalyzeResponse struct {
	Success    bool                  `json:"success"`
	Analysis   *domain.ErrorAnalysis `json:"analysis,omitempty"`
	Suggestion string                `json:"suggestion,omitempty"`
	Error      string                `json:"error,omitempty"`
}

// AnalyzeError requests an AI root-cause analysis of a failed run
func (c *Client) AnalyzeError(ctx context.Context, req AnalyzeRequest) (*AnalyzeResponse, error) {
	var out AnalyzeResponse
	if err := c.do(ctx, http.MethodPost, "/projects/"+c.projectID+"/analyze-error", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ActionResult is the per-action outcome reported by the execution boundary
type ActionResult struct {
	Type    domain.ActionType `json:"type,omitempty"`
	TaskID  domain.ID         `json:"task_id,omitempty"`
	Success bool              `json:"success"`
	Error   string            `json:"error,omitempty"`
}

// ExecuteActionsResponse is the body returned by execute-actions
type ExecuteActionsResponse struct {
	Results      []ActionResult `json:"results"`
	CreatedTasks []domain.Task  `json:"created_tasks,omitempty"`
	Message      string         `json:"message,omitempty"`
}

// ExecuteActions applies a confirmed batch of pending actions
func (c *Client) ExecuteActions(ctx context.Context, actions []domain.PendingAction) (*ExecuteActionsResponse, error) {
	body := map[string]any{"actions": actions}
	var out ExecuteActionsResponse
	if err := c.do(ctx, http.MethodPost, "/projects/"+c.projectID+"/chat/execute-actions", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read %s %s: %w", method, path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &HTTPError{
			Method:     method,
			Path:       path,
			StatusCode: resp.StatusCode,
			Body:       describeBody(data),
		}
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

// describeBody turns an error response into short readable text. JSON
// bodies with a detail/error/message field are reduced to that field.
func describeBody(data []byte) string {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return ""
	}
	var obj map[string]any
	if err := json.Unmarshal(trimmed, &obj); err == nil {
		for _, key := range []string{"detail", "error", "message"} {
			if v, ok := obj[key]; ok && v != nil {
				if s, ok := v.(string); ok {
					return truncate(s)
				}
				if b, err := json.Marshal(v); err == nil {
					return truncate(string(b))
				}
			}
		}
	}
	return truncate(string(trimmed))
}

// truncate cuts s to at most maxErrorBody bytes on a rune boundary
func truncate(s string) string {
	if len(s) <= maxErrorBody {
		return s
	}
	cut := maxErrorBody
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
