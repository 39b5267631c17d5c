// Package db provides the SQLite persistence layer for the task service.
//
// The database runs embedded with WAL mode for concurrent reads. Schema
// creation is idempotent, and every query method has a Context variant.
//
// Timestamps are stored as RFC3339 strings; optional times map to NULL.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/syncpad/syncpad/internal/schema"
)

// ErrNotFound is returned when a requested row does not exist or belongs to
// a different owner.
var ErrNotFound = fmt.Errorf("not found")

// DB wraps the SQLite connection with task-service queries.
type DB struct {
	conn *sql.DB
	path string
}

// Open creates a database connection at the specified path.
//
// The database is opened in embedded mode with WAL for concurrent reads.
// If the database doesn't exist it is created; call InitSchema before
// first use. The caller MUST call Close() when done.
func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", fmt.Sprintf("file:%s", path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	db := &DB{conn: conn, path: path}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.conn.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	return db, nil
}

// RawDB returns the underlying sql.DB connection.
func (db *DB) RawDB() *sql.DB {
	return db.conn
}

// Close closes the database connection after checkpointing the WAL.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}
	if _, err := db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}
	if err := db.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	db.conn = nil
	return nil
}

// InitSchema creates the database schema if it doesn't exist. Idempotent.
func (db *DB) InitSchema() error {
	return db.InitSchemaContext(context.Background())
}

// InitSchemaContext creates the database schema with context support.
func (db *DB) InitSchemaContext(ctx context.Context) error {
	stmt := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		image TEXT
	);

	CREATE TABLE IF NOT EXISTS sessions (
		token TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS workspaces (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		user_id TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS todos (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		due_date TEXT,
		urgency REAL NOT NULL DEFAULT 1,
		completed INTEGER NOT NULL DEFAULT 0,
		workspace_id TEXT,
		user_id TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS comments (
		id TEXT PRIMARY KEY,
		todo_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		text TEXT NOT NULL,
		created_at TEXT NOT NULL,
		FOREIGN KEY (todo_id) REFERENCES todos(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_todos_user ON todos(user_id);
	CREATE INDEX IF NOT EXISTS idx_todos_workspace ON todos(workspace_id);
	CREATE INDEX IF NOT EXISTS idx_todos_completed ON todos(user_id, completed);
	CREATE INDEX IF NOT EXISTS idx_comments_todo ON comments(todo_id);
	CREATE INDEX IF NOT EXISTS idx_workspaces_user ON workspaces(user_id);
	CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id);
	`

	if _, err := db.conn.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// User is an account row. Auth provider integration is external; this table
// only stores what the service needs to attribute records and render
// comment authors.
type User struct {
	ID    string
	Name  string
	Image *string
}

// UpsertUser inserts or updates a user row.
func (db *DB) UpsertUser(ctx context.Context, u *User) error {
	query := `
	INSERT INTO users (id, name, image) VALUES (?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET name = excluded.name, image = excluded.image
	`
	if _, err := db.conn.ExecContext(ctx, query, u.ID, u.Name, u.Image); err != nil {
		return fmt.Errorf("failed to upsert user %s: %w", u.ID, err)
	}
	return nil
}

// CreateSession associates a bearer token with a user.
func (db *DB) CreateSession(ctx context.Context, token, userID string) error {
	query := `INSERT INTO sessions (token, user_id) VALUES (?, ?)`
	if _, err := db.conn.ExecContext(ctx, query, token, userID); err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// UserForToken resolves a bearer token to its user. Returns ErrNotFound for
// unknown tokens.
func (db *DB) UserForToken(ctx context.Context, token string) (*User, error) {
	query := `
	SELECT u.id, u.name, u.image
	FROM sessions s JOIN users u ON u.id = s.user_id
	WHERE s.token = ?
	`
	var u User
	err := db.conn.QueryRowContext(ctx, query, token).Scan(&u.ID, &u.Name, &u.Image)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve session: %w", err)
	}
	return &u, nil
}

// CreateTask inserts a task row. The caller assigns id and timestamps.
func (db *DB) CreateTask(ctx context.Context, t *schema.Task) error {
	if err := t.Validate(); err != nil {
		return fmt.Errorf("invalid task: %w", err)
	}

	query := `
	INSERT INTO todos (id, title, due_date, urgency, completed, workspace_id, user_id, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := db.conn.ExecContext(ctx, query,
		t.ID,
		t.Title,
		timeToNullString(t.DueDate),
		t.Urgency,
		boolToInt(t.Completed),
		nullIfEmpty(t.WorkspaceID),
		t.UserID,
		t.CreatedAt.UTC().Format(time.RFC3339),
		t.UpdatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to insert task: %w", err)
	}
	return nil
}

// TaskPatch is a partial update applied by UpdateTask. Nil fields are left
// unchanged.
type TaskPatch struct {
	Completed *bool
	DueDate   *time.Time
}

// UpdateTask applies a partial update to the user's task and returns the
// full updated record with its comments. Returns ErrNotFound when the task
// does not exist or belongs to another user.
func (db *DB) UpdateTask(ctx context.Context, userID, id string, patch TaskPatch) (*schema.Task, error) {
	sets := "updated_at = ?"
	args := []any{time.Now().UTC().Format(time.RFC3339)}

	if patch.Completed != nil {
		sets += ", completed = ?"
		args = append(args, boolToInt(*patch.Completed))
	}
	if patch.DueDate != nil {
		sets += ", due_date = ?"
		args = append(args, patch.DueDate.UTC().Format(time.RFC3339))
	}
	args = append(args, id, userID)

	res, err := db.conn.ExecContext(ctx, `UPDATE todos SET `+sets+` WHERE id = ? AND user_id = ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to update task %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to read update result: %w", err)
	}
	if affected == 0 {
		return nil, ErrNotFound
	}

	return db.GetTask(ctx, userID, id)
}

// DeleteTask removes the user's task. Idempotent: deleting a missing task
// is not an error.
func (db *DB) DeleteTask(ctx context.Context, userID, id string) error {
	query := `DELETE FROM todos WHERE id = ? AND user_id = ?`
	if _, err := db.conn.ExecContext(ctx, query, id, userID); err != nil {
		return fmt.Errorf("failed to delete task %s: %w", id, err)
	}
	return nil
}

// GetTask fetches one task with its comments. Returns ErrNotFound when the
// task does not exist or belongs to another user.
func (db *DB) GetTask(ctx context.Context, userID, id string) (*schema.Task, error) {
	query := `
	SELECT id, title, due_date, urgency, completed, workspace_id, user_id, created_at, updated_at
	FROM todos WHERE id = ? AND user_id = ?
	`
	row := db.conn.QueryRowContext(ctx, query, id, userID)
	task, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	comments, err := db.commentsForTasks(ctx, []string{task.ID})
	if err != nil {
		return nil, err
	}
	task.Comments = comments[task.ID]
	if task.Comments == nil {
		task.Comments = []schema.Comment{}
	}
	return task, nil
}

// ListTasks returns all of the user's tasks with their comments, ordered by
// creation time.
func (db *DB) ListTasks(ctx context.Context, userID string) ([]*schema.Task, error) {
	query := `
	SELECT id, title, due_date, urgency, completed, workspace_id, user_id, created_at, updated_at
	FROM todos WHERE user_id = ?
	ORDER BY created_at ASC, id ASC
	`
	rows, err := db.conn.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*schema.Task
	var ids []string
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		task.Comments = []schema.Comment{}
		tasks = append(tasks, task)
		ids = append(ids, task.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tasks: %w", err)
	}

	if len(ids) > 0 {
		comments, err := db.commentsForTasks(ctx, ids)
		if err != nil {
			return nil, err
		}
		for _, t := range tasks {
			if cs, ok := comments[t.ID]; ok {
				t.Comments = cs
			}
		}
	}
	return tasks, nil
}

// CreateComment inserts a comment row.
func (db *DB) CreateComment(ctx context.Context, c *schema.Comment) error {
	if err := c.Validate(); err != nil {
		return fmt.Errorf("invalid comment: %w", err)
	}
	query := `INSERT INTO comments (id, todo_id, user_id, text, created_at) VALUES (?, ?, ?, ?, ?)`
	_, err := db.conn.ExecContext(ctx, query,
		c.ID, c.TodoID, c.UserID, c.Text, c.CreatedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to insert comment: %w", err)
	}
	return nil
}

// DeleteComment removes a comment from one of the user's tasks.
func (db *DB) DeleteComment(ctx context.Context, userID, todoID, commentID string) error {
	query := `
	DELETE FROM comments
	WHERE id = ? AND todo_id IN (SELECT id FROM todos WHERE id = ? AND user_id = ?)
	`
	if _, err := db.conn.ExecContext(ctx, query, commentID, todoID, userID); err != nil {
		return fmt.Errorf("failed to delete comment %s: %w", commentID, err)
	}
	return nil
}

// ListWorkspaces returns the user's workspaces ordered by creation time.
func (db *DB) ListWorkspaces(ctx context.Context, userID string) ([]*schema.Workspace, error) {
	query := `
	SELECT id, name, user_id, created_at, updated_at
	FROM workspaces WHERE user_id = ?
	ORDER BY created_at ASC, id ASC
	`
	rows, err := db.conn.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list workspaces: %w", err)
	}
	defer rows.Close()

	var out []*schema.Workspace
	for rows.Next() {
		var w schema.Workspace
		var createdAt, updatedAt string
		if err := rows.Scan(&w.ID, &w.Name, &w.UserID, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan workspace: %w", err)
		}
		w.CreatedAt = parseTime(createdAt)
		w.UpdatedAt = parseTime(updatedAt)
		out = append(out, &w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating workspaces: %w", err)
	}
	return out, nil
}

// CreateWorkspace inserts a workspace row.
func (db *DB) CreateWorkspace(ctx context.Context, w *schema.Workspace) error {
	if err := w.Validate(); err != nil {
		return fmt.Errorf("invalid workspace: %w", err)
	}
	query := `INSERT INTO workspaces (id, name, user_id, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`
	_, err := db.conn.ExecContext(ctx, query,
		w.ID, w.Name, w.UserID,
		w.CreatedAt.UTC().Format(time.RFC3339),
		w.UpdatedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to insert workspace: %w", err)
	}
	return nil
}

// DeleteWorkspace removes the user's workspace.
func (db *DB) DeleteWorkspace(ctx context.Context, userID, id string) error {
	query := `DELETE FROM workspaces WHERE id = ? AND user_id = ?`
	if _, err := db.conn.ExecContext(ctx, query, id, userID); err != nil {
		return fmt.Errorf("failed to delete workspace %s: %w", id, err)
	}
	return nil
}

// IncompleteTaskCount returns how many incomplete tasks the workspace still
// holds. Workspace deletion is refused while this is non-zero.
func (db *DB) IncompleteTaskCount(ctx context.Context, userID, workspaceID string) (int, error) {
	query := `SELECT COUNT(*) FROM todos WHERE user_id = ? AND workspace_id = ? AND completed = 0`
	var count int
	if err := db.conn.QueryRowContext(ctx, query, userID, workspaceID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count workspace tasks: %w", err)
	}
	return count, nil
}

// EnsureDefaultWorkspace creates the "Personal" workspace for the user if
// it does not exist, and returns it.
func (db *DB) EnsureDefaultWorkspace(ctx context.Context, userID, id string) (*schema.Workspace, error) {
	query := `SELECT id, name, user_id, created_at, updated_at FROM workspaces WHERE user_id = ? AND name = ?`
	var w schema.Workspace
	var createdAt, updatedAt string
	err := db.conn.QueryRowContext(ctx, query, userID, schema.DefaultWorkspaceName).
		Scan(&w.ID, &w.Name, &w.UserID, &createdAt, &updatedAt)
	if err == nil {
		w.CreatedAt = parseTime(createdAt)
		w.UpdatedAt = parseTime(updatedAt)
		return &w, nil
	}
	if err != sql.ErrNoRows {
		return nil, fmt.Errorf("failed to look up default workspace: %w", err)
	}

	now := time.Now()
	ws := &schema.Workspace{
		ID:        id,
		Name:      schema.DefaultWorkspaceName,
		UserID:    userID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := db.CreateWorkspace(ctx, ws); err != nil {
		return nil, err
	}
	return ws, nil
}

// commentsForTasks fetches comments (with author info) for the given task
// ids, grouped by task.
func (db *DB) commentsForTasks(ctx context.Context, ids []string) (map[string][]schema.Comment, error) {
	query := `
	SELECT c.id, c.todo_id, c.user_id, c.text, c.created_at, u.name, u.image
	FROM comments c
	LEFT JOIN users u ON u.id = c.user_id
	WHERE c.todo_id IN (` + placeholders(len(ids)) + `)
	ORDER BY c.created_at ASC, c.id ASC
	`
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query comments: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]schema.Comment)
	for rows.Next() {
		var c schema.Comment
		var createdAt string
		var name, image sql.NullString
		if err := rows.Scan(&c.ID, &c.TodoID, &c.UserID, &c.Text, &createdAt, &name, &image); err != nil {
			return nil, fmt.Errorf("failed to scan comment: %w", err)
		}
		c.CreatedAt = parseTime(createdAt)
		if name.Valid {
			author := schema.Author{Name: name.String}
			if image.Valid {
				img := image.String
				author.Image = &img
			}
			c.Author = &author
		}
		out[c.TodoID] = append(out[c.TodoID], c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating comments: %w", err)
	}
	return out, nil
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanTask(row scanner) (*schema.Task, error) {
	var t schema.Task
	var dueDate, workspaceID sql.NullString
	var completed int
	var createdAt, updatedAt string

	err := row.Scan(&t.ID, &t.Title, &dueDate, &t.Urgency, &completed, &workspaceID, &t.UserID, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	t.Completed = completed != 0
	t.DueDate = nullStringToTime(dueDate)
	if workspaceID.Valid {
		t.WorkspaceID = workspaceID.String
	}
	t.CreatedAt = parseTime(createdAt)
	t.UpdatedAt = parseTime(updatedAt)
	return &t, nil
}

func placeholders(n int) string {
	if n == 0 {
		return ""
	}
	out := "?"
	for i := 1; i < n; i++ {
		out += ", ?"
	}
	return out
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// timeToNullString converts a time pointer to a nullable string for SQL.
func timeToNullString(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339), Valid: true}
}

// nullStringToTime converts a nullable SQL string to a time pointer.
func nullStringToTime(ns sql.NullString) *time.Time {
	if !ns.Valid {
		return nil
	}
	t, err := time.Parse(time.RFC3339, ns.String)
	if err != nil {
		return nil
	}
	return &t
}

func nullIfEmpty(s string) sql.NullString {
	if s == "" {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: s, Valid: true}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
