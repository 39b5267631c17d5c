package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/syncpad/syncpad/internal/schema"
)

// HTTPClient talks to the task service over its JSON REST API.
type HTTPClient struct {
	baseURL string
	token   string
	http    *http.Client
}

// StatusError is returned when the service answers with a non-2xx status.
type StatusError struct {
	Status int
	Body   string
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	return fmt.Sprintf("remote returned status %d: %s", e.Status, e.Body)
}

// NewHTTPClient creates a client for the service at baseURL authenticating
// with the given bearer token. If httpClient is nil a client with a 30s
// timeout is used.
func NewHTTPClient(baseURL, token string, httpClient *http.Client) *HTTPClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
		http:    httpClient,
	}
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s failed: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{Status: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode %s %s response: %w", method, path, err)
		}
	}
	return nil
}

// ListTasks implements Client.ListTasks.
func (c *HTTPClient) ListTasks(ctx context.Context) ([]*schema.Task, error) {
	var tasks []*schema.Task
	if err := c.do(ctx, http.MethodGet, "/api/todos", nil, &tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

// CreateTask implements Client.CreateTask.
func (c *HTTPClient) CreateTask(ctx context.Context, req CreateTaskRequest) (*schema.Task, error) {
	var task schema.Task
	if err := c.do(ctx, http.MethodPost, "/api/todos", req, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// UpdateTask implements Client.UpdateTask.
func (c *HTTPClient) UpdateTask(ctx context.Context, req UpdateTaskRequest) (*schema.Task, error) {
	var task schema.Task
	if err := c.do(ctx, http.MethodPut, "/api/todos", req, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// DeleteTask implements Client.DeleteTask.
func (c *HTTPClient) DeleteTask(ctx context.Context, id string) error {
	body := map[string]string{"id": id}
	return c.do(ctx, http.MethodDelete, "/api/todos", body, nil)
}

// CreateComment implements Client.CreateComment.
func (c *HTTPClient) CreateComment(ctx context.Context, req CreateCommentRequest) (*schema.Comment, error) {
	var comment schema.Comment
	if err := c.do(ctx, http.MethodPost, "/api/todos/comments", req, &comment); err != nil {
		return nil, err
	}
	return &comment, nil
}

// DeleteComment implements Client.DeleteComment.
func (c *HTTPClient) DeleteComment(ctx context.Context, todoID, commentID string) error {
	body := map[string]string{"todoId": todoID, "commentId": commentID}
	return c.do(ctx, http.MethodDelete, "/api/todos/comments", body, nil)
}

// ListWorkspaces implements Client.ListWorkspaces.
func (c *HTTPClient) ListWorkspaces(ctx context.Context) ([]*schema.Workspace, error) {
	var workspaces []*schema.Workspace
	if err := c.do(ctx, http.MethodGet, "/api/workspaces", nil, &workspaces); err != nil {
		return nil, err
	}
	return workspaces, nil
}

// CreateWorkspace implements Client.CreateWorkspace.
func (c *HTTPClient) CreateWorkspace(ctx context.Context, name string) (*schema.Workspace, error) {
	body := map[string]string{"name": name}
	var ws schema.Workspace
	if err := c.do(ctx, http.MethodPost, "/api/workspaces", body, &ws); err != nil {
		return nil, err
	}
	return &ws, nil
}

// DeleteWorkspace implements Client.DeleteWorkspace.
func (c *HTTPClient) DeleteWorkspace(ctx context.Context, id string) error {
	body := map[string]string{"id": id}
	return c.do(ctx, http.MethodDelete, "/api/workspaces", body, nil)
}

var _ Client = (*HTTPClient)(nil)
