// Package remote defines the client interface for the authoritative task
// collection service and its HTTP implementation.
//
// The reconciler depends only on the Client interface; tests substitute a
// fake, and the transport can change without touching reconciliation logic.
package remote

import (
	"context"
	"time"

	"github.com/syncpad/syncpad/internal/schema"
)

// CreateTaskRequest carries the fields the client controls on creation.
// The server assigns the identifier and timestamps.
type CreateTaskRequest struct {
	Title       string     `json:"title"`
	DueDate     *time.Time `json:"dueDate,omitempty"`
	Urgency     float64    `json:"urgency,omitempty"`
	Completed   bool       `json:"completed,omitempty"`
	WorkspaceID string     `json:"workspaceId,omitempty"`
}

// UpdateTaskRequest is a partial update. Nil fields are left unchanged;
// the server returns the full updated record.
type UpdateTaskRequest struct {
	ID        string     `json:"id"`
	Completed *bool      `json:"completed,omitempty"`
	DueDate   *time.Time `json:"dueDate,omitempty"`
}

// CreateCommentRequest appends a comment to a task.
type CreateCommentRequest struct {
	TodoID string `json:"todoId"`
	Text   string `json:"text"`
}

// Client is the remote task collection service for the current
// authenticated owner.
type Client interface {
	ListTasks(ctx context.Context) ([]*schema.Task, error)
	CreateTask(ctx context.Context, req CreateTaskRequest) (*schema.Task, error)
	UpdateTask(ctx context.Context, req UpdateTaskRequest) (*schema.Task, error)
	DeleteTask(ctx context.Context, id string) error

	CreateComment(ctx context.Context, req CreateCommentRequest) (*schema.Comment, error)
	DeleteComment(ctx context.Context, todoID, commentID string) error

	ListWorkspaces(ctx context.Context) ([]*schema.Workspace, error)
	CreateWorkspace(ctx context.Context, name string) (*schema.Workspace, error)
	DeleteWorkspace(ctx context.Context, id string) error
}
