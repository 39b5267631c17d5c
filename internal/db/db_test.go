package db

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/syncpad/syncpad/internal/schema"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.InitSchema(); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}
	return db
}

func seedUser(t *testing.T, db *DB, id, name string) {
	t.Helper()
	if err := db.UpsertUser(context.Background(), &User{ID: id, Name: name}); err != nil {
		t.Fatalf("UpsertUser() failed: %v", err)
	}
}

func seedTask(t *testing.T, db *DB, id, userID, title string, completed bool) *schema.Task {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Second)
	task := &schema.Task{
		ID: id, Title: title, Urgency: 2, Completed: completed,
		UserID: userID, CreatedAt: now, UpdatedAt: now, Comments: []schema.Comment{},
	}
	if err := db.CreateTask(context.Background(), task); err != nil {
		t.Fatalf("CreateTask() failed: %v", err)
	}
	return task
}

// TestInitSchema_Idempotent tests that schema initialization is idempotent.
func TestInitSchema_Idempotent(t *testing.T) {
	db := testDB(t)
	if err := db.InitSchema(); err != nil {
		t.Errorf("second InitSchema() failed: %v", err)
	}
}

// TestCreateAndListTasks tests the insert/list roundtrip with comments.
func TestCreateAndListTasks(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	seedUser(t, db, "u1", "Alice")

	due := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	now := time.Now().UTC().Truncate(time.Second)
	task := &schema.Task{
		ID: "t1", Title: "Buy milk", DueDate: &due, Urgency: 2.5,
		UserID: "u1", CreatedAt: now, UpdatedAt: now,
	}
	if err := db.CreateTask(ctx, task); err != nil {
		t.Fatalf("CreateTask() failed: %v", err)
	}

	comment := &schema.Comment{
		ID: "c1", TodoID: "t1", UserID: "u1", Text: "oat milk",
		CreatedAt: now,
	}
	if err := db.CreateComment(ctx, comment); err != nil {
		t.Fatalf("CreateComment() failed: %v", err)
	}

	tasks, err := db.ListTasks(ctx, "u1")
	if err != nil {
		t.Fatalf("ListTasks() failed: %v", err)
	}
	if len(tasks) != 1 {
		t.Fatalf("ListTasks() returned %d tasks, want 1", len(tasks))
	}

	got := tasks[0]
	if got.Title != "Buy milk" || got.Urgency != 2.5 {
		t.Errorf("task = %+v", got)
	}
	if got.DueDate == nil || !got.DueDate.Equal(due) {
		t.Errorf("DueDate = %v, want %v", got.DueDate, due)
	}
	if len(got.Comments) != 1 {
		t.Fatalf("comments = %d, want 1", len(got.Comments))
	}
	if got.Comments[0].Author == nil || got.Comments[0].Author.Name != "Alice" {
		t.Errorf("comment author = %+v", got.Comments[0].Author)
	}
}

// TestListTasks_ScopedToOwner tests that one user cannot see another's tasks.
func TestListTasks_ScopedToOwner(t *testing.T) {
	db := testDB(t)
	seedUser(t, db, "u1", "Alice")
	seedUser(t, db, "u2", "Bob")
	seedTask(t, db, "t1", "u1", "Mine", false)
	seedTask(t, db, "t2", "u2", "Theirs", false)

	tasks, err := db.ListTasks(context.Background(), "u1")
	if err != nil {
		t.Fatalf("ListTasks() failed: %v", err)
	}
	if len(tasks) != 1 || tasks[0].ID != "t1" {
		t.Errorf("ListTasks() = %+v, want only t1", tasks)
	}
}

// TestUpdateTask_Partial tests that nil patch fields are left unchanged.
func TestUpdateTask_Partial(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	seedUser(t, db, "u1", "Alice")
	seedTask(t, db, "t1", "u1", "Buy milk", false)

	completed := true
	updated, err := db.UpdateTask(ctx, "u1", "t1", TaskPatch{Completed: &completed})
	if err != nil {
		t.Fatalf("UpdateTask() failed: %v", err)
	}
	if !updated.Completed {
		t.Error("completed not updated")
	}
	if updated.Title != "Buy milk" {
		t.Errorf("title changed: %q", updated.Title)
	}

	due := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	updated, err = db.UpdateTask(ctx, "u1", "t1", TaskPatch{DueDate: &due})
	if err != nil {
		t.Fatalf("UpdateTask() failed: %v", err)
	}
	if updated.DueDate == nil || !updated.DueDate.Equal(due) {
		t.Errorf("DueDate = %v, want %v", updated.DueDate, due)
	}
	if !updated.Completed {
		t.Error("completed flag lost by due-date patch")
	}
}

// TestUpdateTask_WrongOwner tests that updating another user's task fails.
func TestUpdateTask_WrongOwner(t *testing.T) {
	db := testDB(t)
	seedUser(t, db, "u1", "Alice")
	seedUser(t, db, "u2", "Bob")
	seedTask(t, db, "t1", "u1", "Mine", false)

	completed := true
	_, err := db.UpdateTask(context.Background(), "u2", "t1", TaskPatch{Completed: &completed})
	if err != ErrNotFound {
		t.Errorf("UpdateTask() error = %v, want ErrNotFound", err)
	}
}

// TestDeleteTask_CascadesComments tests that comments go with their task.
func TestDeleteTask_CascadesComments(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	seedUser(t, db, "u1", "Alice")
	seedTask(t, db, "t1", "u1", "Buy milk", false)

	now := time.Now().UTC()
	if err := db.CreateComment(ctx, &schema.Comment{ID: "c1", TodoID: "t1", UserID: "u1", Text: "x", CreatedAt: now}); err != nil {
		t.Fatalf("CreateComment() failed: %v", err)
	}
	if err := db.DeleteTask(ctx, "u1", "t1"); err != nil {
		t.Fatalf("DeleteTask() failed: %v", err)
	}

	var count int
	if err := db.conn.QueryRow("SELECT COUNT(*) FROM comments").Scan(&count); err != nil {
		t.Fatalf("count query failed: %v", err)
	}
	if count != 0 {
		t.Errorf("orphaned comments = %d, want 0", count)
	}
}

// TestSessions tests the token to user resolution.
func TestSessions(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	seedUser(t, db, "u1", "Alice")

	if err := db.CreateSession(ctx, "tok-1", "u1"); err != nil {
		t.Fatalf("CreateSession() failed: %v", err)
	}

	u, err := db.UserForToken(ctx, "tok-1")
	if err != nil {
		t.Fatalf("UserForToken() failed: %v", err)
	}
	if u.ID != "u1" || u.Name != "Alice" {
		t.Errorf("user = %+v", u)
	}

	if _, err := db.UserForToken(ctx, "bogus"); err != ErrNotFound {
		t.Errorf("UserForToken(bogus) error = %v, want ErrNotFound", err)
	}
}

// TestWorkspaces tests workspace CRUD and the incomplete-task count used by
// the deletion guard.
func TestWorkspaces(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	seedUser(t, db, "u1", "Alice")

	ws, err := db.EnsureDefaultWorkspace(ctx, "u1", "ws-default")
	if err != nil {
		t.Fatalf("EnsureDefaultWorkspace() failed: %v", err)
	}
	if ws.Name != schema.DefaultWorkspaceName {
		t.Errorf("name = %q, want %q", ws.Name, schema.DefaultWorkspaceName)
	}

	// Second call returns the same row, not a duplicate.
	again, err := db.EnsureDefaultWorkspace(ctx, "u1", "ws-other")
	if err != nil {
		t.Fatalf("second EnsureDefaultWorkspace() failed: %v", err)
	}
	if again.ID != ws.ID {
		t.Errorf("duplicate default workspace created: %q vs %q", again.ID, ws.ID)
	}

	task := seedTask(t, db, "t1", "u1", "Ship it", false)
	_, err = db.conn.Exec("UPDATE todos SET workspace_id = ? WHERE id = ?", ws.ID, task.ID)
	if err != nil {
		t.Fatalf("failed to move task: %v", err)
	}

	count, err := db.IncompleteTaskCount(ctx, "u1", ws.ID)
	if err != nil {
		t.Fatalf("IncompleteTaskCount() failed: %v", err)
	}
	if count != 1 {
		t.Errorf("incomplete count = %d, want 1", count)
	}

	completed := true
	if _, err := db.UpdateTask(ctx, "u1", "t1", TaskPatch{Completed: &completed}); err != nil {
		t.Fatalf("UpdateTask() failed: %v", err)
	}
	count, err = db.IncompleteTaskCount(ctx, "u1", ws.ID)
	if err != nil {
		t.Fatalf("IncompleteTaskCount() failed: %v", err)
	}
	if count != 0 {
		t.Errorf("incomplete count after completion = %d, want 0", count)
	}
}
