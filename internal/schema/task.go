// Package schema defines the task, comment, and workspace records shared by
// the reconciler client, the local state store, and the REST service.
//
// Records are flat JSON structures with last-write-wins semantics: every
// field can be updated independently, and UpdatedAt is refreshed on each
// mutation to help resolve conflicts between devices.
package schema

import (
	"fmt"
	"time"
)

// LocalUserID is the owner sentinel used while no session exists. Tasks
// created offline carry this value until a full sync uploads them.
const LocalUserID = "local"

// DefaultWorkspaceName is the distinguished workspace that always exists
// once a user is authenticated. Tasks with an empty WorkspaceID belong here.
const DefaultWorkspaceName = "Personal"

const (
	// MinUrgency and MaxUrgency bound the urgency scale. Values carry one
	// decimal of granularity (1.0, 1.5, ... 5.0).
	MinUrgency = 1.0
	MaxUrgency = 5.0
)

// Task is the central record of the system.
//
// Locally created tasks get a client-generated identifier; once the remote
// accepts the creation the server-assigned identifier replaces it everywhere
// the record is referenced.
type Task struct {
	ID string `json:"id"`

	// Title is the display string. It must never embed date or time
	// information; that belongs in DueDate.
	Title string `json:"title"`

	DueDate   *time.Time `json:"dueDate,omitempty"`
	Urgency   float64    `json:"urgency"`
	Completed bool       `json:"completed"`

	// WorkspaceID identifies the containing workspace. Empty means the
	// default ("Personal") workspace.
	WorkspaceID string `json:"workspaceId,omitempty"`

	// UserID is the owner, or LocalUserID when unauthenticated.
	UserID string `json:"userId"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	Comments []Comment `json:"comments"`
}

// Comment is attached to a single task. The author display info is
// denormalized so the client can render it without a second lookup.
type Comment struct {
	ID        string    `json:"id"`
	TodoID    string    `json:"todoId"`
	UserID    string    `json:"userId"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`
	Author    *Author   `json:"user,omitempty"`
}

// Author is the denormalized comment author display info.
type Author struct {
	Name  string  `json:"name"`
	Image *string `json:"image"`
}

// Workspace groups tasks. The "Personal" workspace is the default container.
type Workspace struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	UserID    string    `json:"userId"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Validate checks that the task has valid field values.
func (t *Task) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("id is required")
	}
	if t.Title == "" {
		return fmt.Errorf("title is required")
	}
	if len(t.Title) > 500 {
		return fmt.Errorf("title must be 500 characters or less (got %d)", len(t.Title))
	}
	if t.Urgency < MinUrgency || t.Urgency > MaxUrgency {
		return fmt.Errorf("urgency must be between %.1f and %.1f (got %.1f)", MinUrgency, MaxUrgency, t.Urgency)
	}
	if t.CreatedAt.IsZero() {
		return fmt.Errorf("createdAt is required")
	}
	if t.UpdatedAt.IsZero() {
		return fmt.Errorf("updatedAt is required")
	}
	return nil
}

// SetDefaults applies default values for optional fields. This ensures
// consistent behavior when fields are omitted.
func (t *Task) SetDefaults() {
	if t.Urgency == 0 {
		t.Urgency = MinUrgency
	}
	if t.UserID == "" {
		t.UserID = LocalUserID
	}
	if t.Comments == nil {
		t.Comments = []Comment{}
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = time.Now()
	}
}

// Touch sets UpdatedAt to the current time. Call it whenever any field is
// modified.
func (t *Task) Touch() {
	t.UpdatedAt = time.Now()
}

// Clone returns a deep copy of the task. The reconciler snapshots records
// before optimistic mutations so a failed remote call can restore the exact
// prior field values.
func (t *Task) Clone() *Task {
	c := *t
	if t.DueDate != nil {
		due := *t.DueDate
		c.DueDate = &due
	}
	c.Comments = make([]Comment, len(t.Comments))
	for i, cm := range t.Comments {
		c.Comments[i] = *cm.Clone()
	}
	return &c
}

// Clone returns a deep copy of the comment.
func (c *Comment) Clone() *Comment {
	cp := *c
	if c.Author != nil {
		a := *c.Author
		if c.Author.Image != nil {
			img := *c.Author.Image
			a.Image = &img
		}
		cp.Author = &a
	}
	return &cp
}

// CloneTasks deep-copies a task slice. Snapshots handed out by the
// reconciler are clones so callers can never mutate its internal state.
func CloneTasks(tasks []*Task) []*Task {
	out := make([]*Task, len(tasks))
	for i, t := range tasks {
		out[i] = t.Clone()
	}
	return out
}

// Validate checks that the comment has valid field values.
func (c *Comment) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("id is required")
	}
	if c.TodoID == "" {
		return fmt.Errorf("todoId is required")
	}
	if c.Text == "" {
		return fmt.Errorf("text is required")
	}
	return nil
}

// Validate checks that the workspace has valid field values.
func (w *Workspace) Validate() error {
	if w.ID == "" {
		return fmt.Errorf("id is required")
	}
	if w.Name == "" {
		return fmt.Errorf("name is required")
	}
	return nil
}
