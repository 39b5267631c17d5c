package reconcile

import (
	"context"
	"fmt"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/syncpad/syncpad/internal/localstate"
	"github.com/syncpad/syncpad/internal/remote"
	"github.com/syncpad/syncpad/internal/schema"
)

// fakeRemote is an in-memory implementation of remote.Client with
// per-operation failure switches.
type fakeRemote struct {
	mu         sync.Mutex
	tasks      []*schema.Task
	workspaces []*schema.Workspace
	nextID     int

	failCreate        bool
	failUpdate        bool
	failDelete        bool
	failComment       bool
	failDeleteComment bool
	failList          bool

	createCalls int
	updateCalls int

	// updateDueDate overrides the due date echoed back by UpdateTask,
	// simulating a server that disagrees with the requested value.
	updateDueDate *time.Time
}

func (f *fakeRemote) id(prefix string) string {
	f.nextID++
	return fmt.Sprintf("%s-%d", prefix, f.nextID)
}

func (f *fakeRemote) ListTasks(ctx context.Context) ([]*schema.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failList {
		return nil, fmt.Errorf("list failed")
	}
	return schema.CloneTasks(f.tasks), nil
}

func (f *fakeRemote) CreateTask(ctx context.Context, req remote.CreateTaskRequest) (*schema.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	if f.failCreate {
		return nil, fmt.Errorf("create failed")
	}
	now := time.Now()
	urgency := req.Urgency
	if urgency == 0 {
		urgency = 1
	}
	t := &schema.Task{
		ID:          f.id("srv"),
		Title:       req.Title,
		DueDate:     req.DueDate,
		Urgency:     urgency,
		Completed:   req.Completed,
		WorkspaceID: req.WorkspaceID,
		UserID:      "u1",
		CreatedAt:   now,
		UpdatedAt:   now,
		Comments:    []schema.Comment{},
	}
	f.tasks = append(f.tasks, t)
	return t.Clone(), nil
}

func (f *fakeRemote) UpdateTask(ctx context.Context, req remote.UpdateTaskRequest) (*schema.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updateCalls++
	if f.failUpdate {
		return nil, fmt.Errorf("update failed")
	}
	for _, t := range f.tasks {
		if t.ID == req.ID {
			if req.Completed != nil {
				t.Completed = *req.Completed
			}
			if req.DueDate != nil {
				t.DueDate = req.DueDate
			}
			t.UpdatedAt = time.Now()
			out := t.Clone()
			if f.updateDueDate != nil {
				out.DueDate = f.updateDueDate
			}
			return out, nil
		}
	}
	return nil, fmt.Errorf("task %s not found", req.ID)
}

func (f *fakeRemote) DeleteTask(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failDelete {
		return fmt.Errorf("delete failed")
	}
	out := f.tasks[:0]
	for _, t := range f.tasks {
		if t.ID != id {
			out = append(out, t)
		}
	}
	f.tasks = out
	return nil
}

func (f *fakeRemote) CreateComment(ctx context.Context, req remote.CreateCommentRequest) (*schema.Comment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failComment {
		return nil, fmt.Errorf("comment failed")
	}
	c := &schema.Comment{
		ID:        f.id("cmt"),
		TodoID:    req.TodoID,
		UserID:    "u1",
		Text:      req.Text,
		CreatedAt: time.Now(),
		Author:    &schema.Author{Name: "Remote User"},
	}
	for _, t := range f.tasks {
		if t.ID == req.TodoID {
			t.Comments = append(t.Comments, *c)
		}
	}
	return c.Clone(), nil
}

func (f *fakeRemote) DeleteComment(ctx context.Context, todoID, commentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failDeleteComment {
		return fmt.Errorf("delete comment failed")
	}
	for _, t := range f.tasks {
		if t.ID == todoID {
			out := t.Comments[:0]
			for _, c := range t.Comments {
				if c.ID != commentID {
					out = append(out, c)
				}
			}
			t.Comments = out
		}
	}
	return nil
}

func (f *fakeRemote) ListWorkspaces(ctx context.Context) ([]*schema.Workspace, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*schema.Workspace, len(f.workspaces))
	for i, w := range f.workspaces {
		ws := *w
		out[i] = &ws
	}
	return out, nil
}

func (f *fakeRemote) CreateWorkspace(ctx context.Context, name string) (*schema.Workspace, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now()
	w := &schema.Workspace{ID: f.id("ws"), Name: name, UserID: "u1", CreatedAt: now, UpdatedAt: now}
	f.workspaces = append(f.workspaces, w)
	return w, nil
}

func (f *fakeRemote) DeleteWorkspace(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.workspaces[:0]
	for _, w := range f.workspaces {
		if w.ID != id {
			out = append(out, w)
		}
	}
	f.workspaces = out
	return nil
}

var _ remote.Client = (*fakeRemote)(nil)

type fixture struct {
	r      *Reconciler
	remote *fakeRemote
	store  *localstate.Store

	mu     sync.Mutex
	authed bool
}

// setAuthed flips the session state; the scheduler goroutine reads it
// concurrently.
func (fx *fixture) setAuthed(v bool) {
	fx.mu.Lock()
	fx.authed = v
	fx.mu.Unlock()
}

func newFixture(t *testing.T, authed bool) *fixture {
	t.Helper()

	store, err := localstate.Open(t.TempDir(), log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}

	fx := &fixture{remote: &fakeRemote{}, store: store, authed: authed}
	r, err := New(Config{
		Remote: fx.remote,
		Store:  store,
		Session: func() (Session, bool) {
			fx.mu.Lock()
			defer fx.mu.Unlock()
			if fx.authed {
				return Session{UserID: "u1", Name: "Alice"}, true
			}
			return Session{}, false
		},
		SyncInterval: time.Hour, // tests drive SyncNow explicitly
		Logger:       log.New(io.Discard, "", 0),
	})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	t.Cleanup(r.Stop)
	fx.r = r
	return fx
}

// waitFor polls until the condition holds or the deadline passes. Remote
// completions land asynchronously, so assertions about post-confirmation
// state have to wait for the completion op.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func findByID(tasks []*schema.Task, id string) *schema.Task {
	for _, t := range tasks {
		if t.ID == id {
			return t
		}
	}
	return nil
}

// TestAdd_LocalOnly tests that without a session the task stays local with
// its placeholder id and the remote is never called.
func TestAdd_LocalOnly(t *testing.T) {
	fx := newFixture(t, false)

	task := fx.r.Add("Buy milk", nil, 2)
	if !isTempID(task.ID) {
		t.Errorf("local task id %q is not a placeholder", task.ID)
	}
	if task.UserID != schema.LocalUserID {
		t.Errorf("UserID = %q, want %q", task.UserID, schema.LocalUserID)
	}
	if len(task.Comments) != 0 {
		t.Errorf("new task has %d comments, want 0", len(task.Comments))
	}

	time.Sleep(50 * time.Millisecond)
	if fx.remote.createCalls != 0 {
		t.Errorf("remote CreateTask called %d times in local-only mode", fx.remote.createCalls)
	}
}

// TestAdd_CommitsServerID tests the create swap: after a successful create
// no record with the placeholder id remains and exactly one record with the
// server id exists, with empty comments.
func TestAdd_CommitsServerID(t *testing.T) {
	fx := newFixture(t, true)

	task := fx.r.Add("Buy milk", nil, 2)
	tempID := task.ID

	waitFor(t, func() bool {
		tasks := fx.r.Snapshot()
		return len(tasks) == 1 && !isTempID(tasks[0].ID)
	})

	tasks := fx.r.Snapshot()
	if findByID(tasks, tempID) != nil {
		t.Errorf("placeholder id %q still present after commit", tempID)
	}
	srv := tasks[0]
	if srv.Title != "Buy milk" || srv.UserID != "u1" {
		t.Errorf("committed task = %+v", srv)
	}
	if len(srv.Comments) != 0 {
		t.Errorf("committed task has %d comments, want 0", len(srv.Comments))
	}
}

// TestAdd_RemovesPlaceholderOnFailure tests that a failed create removes
// the placeholder entirely rather than reverting it in place.
func TestAdd_RemovesPlaceholderOnFailure(t *testing.T) {
	fx := newFixture(t, true)
	fx.remote.failCreate = true

	fx.r.Add("Buy milk", nil, 2)

	waitFor(t, func() bool {
		return len(fx.r.Snapshot()) == 0
	})
}

// TestToggle_RevertsCompletedOnly tests that a failed toggle restores the
// completed flag and nothing else.
func TestToggle_RevertsCompletedOnly(t *testing.T) {
	fx := newFixture(t, true)

	task := fx.r.Add("Buy milk", nil, 2)
	waitFor(t, func() bool {
		tasks := fx.r.Snapshot()
		return len(tasks) == 1 && !isTempID(tasks[0].ID)
	})
	id := fx.r.Snapshot()[0].ID

	fx.remote.failUpdate = true
	fx.r.Toggle(id)

	// Optimistic flip is synchronous.
	if got := findByID(fx.r.Snapshot(), id); !got.Completed {
		t.Error("optimistic toggle not applied")
	}

	waitFor(t, func() bool {
		got := findByID(fx.r.Snapshot(), id)
		return got != nil && !got.Completed
	})

	got := findByID(fx.r.Snapshot(), id)
	if got.Title != task.Title || got.Urgency != task.Urgency {
		t.Errorf("revert touched unrelated fields: %+v", got)
	}
}

// TestToggle_AdoptsServerRecord tests that a successful toggle replaces the
// local record with the server response.
func TestToggle_AdoptsServerRecord(t *testing.T) {
	fx := newFixture(t, true)

	fx.r.Add("Buy milk", nil, 2)
	waitFor(t, func() bool {
		tasks := fx.r.Snapshot()
		return len(tasks) == 1 && !isTempID(tasks[0].ID)
	})
	id := fx.r.Snapshot()[0].ID

	fx.r.Toggle(id)
	waitFor(t, func() bool {
		fx.remote.mu.Lock()
		defer fx.remote.mu.Unlock()
		return fx.remote.updateCalls == 1
	})
	waitFor(t, func() bool {
		got := findByID(fx.r.Snapshot(), id)
		return got != nil && got.Completed
	})
}

// TestReschedule_RevertsDueDateOnly tests the exact-field revert on failure.
func TestReschedule_RevertsDueDateOnly(t *testing.T) {
	fx := newFixture(t, true)

	due := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	fx.r.Add("Buy milk", &due, 2)
	waitFor(t, func() bool {
		tasks := fx.r.Snapshot()
		return len(tasks) == 1 && !isTempID(tasks[0].ID)
	})
	id := fx.r.Snapshot()[0].ID

	fx.remote.failUpdate = true
	newDue := due.AddDate(0, 0, 7)
	fx.r.Reschedule(id, newDue)

	got := findByID(fx.r.Snapshot(), id)
	if got.DueDate == nil || !got.DueDate.Equal(newDue) {
		t.Error("optimistic reschedule not applied")
	}

	waitFor(t, func() bool {
		got := findByID(fx.r.Snapshot(), id)
		return got != nil && got.DueDate != nil && got.DueDate.Equal(due)
	})
}

// TestReschedule_KeepsOptimisticOnMismatch tests that a server response with
// a different due date is not adopted; the optimistic value stays.
func TestReschedule_KeepsOptimisticOnMismatch(t *testing.T) {
	fx := newFixture(t, true)

	fx.r.Add("Buy milk", nil, 2)
	waitFor(t, func() bool {
		tasks := fx.r.Snapshot()
		return len(tasks) == 1 && !isTempID(tasks[0].ID)
	})
	id := fx.r.Snapshot()[0].ID

	other := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	fx.remote.updateDueDate = &other

	requested := time.Date(2024, 5, 8, 0, 0, 0, 0, time.UTC)
	fx.r.Reschedule(id, requested)

	waitFor(t, func() bool {
		fx.remote.mu.Lock()
		defer fx.remote.mu.Unlock()
		return fx.remote.updateCalls == 1
	})
	time.Sleep(50 * time.Millisecond)

	got := findByID(fx.r.Snapshot(), id)
	if got.DueDate == nil || !got.DueDate.Equal(requested) {
		t.Errorf("local due date = %v, want optimistic %v", got.DueDate, requested)
	}
}

// TestDelete_ReappendsOnFailure tests that a failed delete re-inserts the
// record at the end of the collection.
func TestDelete_ReappendsOnFailure(t *testing.T) {
	fx := newFixture(t, true)

	fx.r.Add("First", nil, 1)
	fx.r.Add("Second", nil, 1)
	waitFor(t, func() bool {
		tasks := fx.r.Snapshot()
		return len(tasks) == 2 && !isTempID(tasks[0].ID) && !isTempID(tasks[1].ID)
	})
	first := fx.r.Snapshot()[0]

	fx.remote.failDelete = true
	fx.r.Delete(first.ID)

	if findByID(fx.r.Snapshot(), first.ID) != nil {
		t.Error("optimistic delete not applied")
	}

	waitFor(t, func() bool {
		return findByID(fx.r.Snapshot(), first.ID) != nil
	})

	tasks := fx.r.Snapshot()
	if tasks[len(tasks)-1].ID != first.ID {
		t.Errorf("restored task is not at the end: %v", tasks)
	}
	restored := tasks[len(tasks)-1]
	if restored.Title != first.Title || restored.Completed != first.Completed {
		t.Errorf("restored task differs: %+v vs %+v", restored, first)
	}
}

// TestComments_OptimisticAndRevert tests the comment add/delete flows.
func TestComments_OptimisticAndRevert(t *testing.T) {
	fx := newFixture(t, true)

	fx.r.Add("Buy milk", nil, 2)
	waitFor(t, func() bool {
		tasks := fx.r.Snapshot()
		return len(tasks) == 1 && !isTempID(tasks[0].ID)
	})
	id := fx.r.Snapshot()[0].ID

	// Successful add swaps in the server comment.
	c := fx.r.AddComment(id, "get oat milk")
	if !isTempID(c.ID) {
		t.Errorf("optimistic comment id %q is not a placeholder", c.ID)
	}
	waitFor(t, func() bool {
		got := findByID(fx.r.Snapshot(), id)
		return len(got.Comments) == 1 && !isTempID(got.Comments[0].ID)
	})
	committed := findByID(fx.r.Snapshot(), id).Comments[0]
	if committed.Text != "get oat milk" {
		t.Errorf("committed comment text = %q", committed.Text)
	}

	// Failed add removes the optimistic comment.
	fx.remote.failComment = true
	fx.r.AddComment(id, "and bread")
	waitFor(t, func() bool {
		got := findByID(fx.r.Snapshot(), id)
		return len(got.Comments) == 1
	})
	fx.remote.failComment = false

	// Failed delete restores the comment.
	fx.remote.failDeleteComment = true
	fx.r.DeleteComment(id, committed.ID)
	if got := findByID(fx.r.Snapshot(), id); len(got.Comments) != 0 {
		t.Error("optimistic comment delete not applied")
	}
	waitFor(t, func() bool {
		got := findByID(fx.r.Snapshot(), id)
		return len(got.Comments) == 1 && got.Comments[0].ID == committed.ID
	})
}

// TestSignOut_ClearsStateAndStore tests that sign-out empties the task
// collection, workspace list, and selected workspace in memory and on disk.
func TestSignOut_ClearsStateAndStore(t *testing.T) {
	fx := newFixture(t, true)

	fx.r.Add("Buy milk", nil, 2)
	ws, err := fx.r.CreateWorkspace(context.Background(), "Work")
	if err != nil {
		t.Fatalf("CreateWorkspace() failed: %v", err)
	}
	if len(fx.r.Workspaces()) == 0 {
		t.Fatal("workspace cache is empty after create")
	}
	fx.r.SelectWorkspace(ws.ID)

	fx.setAuthed(false)
	fx.r.SignOut()

	if got := fx.r.Snapshot(); len(got) != 0 {
		t.Errorf("tasks after sign-out = %d, want 0", len(got))
	}
	if got := fx.r.Workspaces(); len(got) != 0 {
		t.Errorf("workspaces after sign-out = %d, want 0", len(got))
	}
	if got := fx.r.SelectedWorkspace(); got != "" {
		t.Errorf("selected workspace after sign-out = %q, want empty", got)
	}

	var stored []*schema.Task
	if fx.store.Load(localstate.KeyTodos, &stored) {
		t.Error("todos key still present in durable store after sign-out")
	}
	var storedSel string
	if fx.store.Load(localstate.KeySelectedWorkspace, &storedSel) {
		t.Error("selected workspace key still present in durable store after sign-out")
	}
}

// TestStartup_LoadsPersistedState tests that a restart picks the collection
// back up from the durable store.
func TestStartup_LoadsPersistedState(t *testing.T) {
	fx := newFixture(t, false)

	fx.r.Add("Buy milk", nil, 2)
	waitFor(t, func() bool {
		var stored []*schema.Task
		return fx.store.Load(localstate.KeyTodos, &stored) && len(stored) == 1
	})
	fx.r.Stop()

	r2, err := New(Config{
		Remote:       fx.remote,
		Store:        fx.store,
		Session:      func() (Session, bool) { return Session{}, false },
		SyncInterval: time.Hour,
		Logger:       log.New(io.Discard, "", 0),
	})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	if err := r2.Start(context.Background()); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	defer r2.Stop()

	tasks := r2.Snapshot()
	if len(tasks) != 1 || tasks[0].Title != "Buy milk" {
		t.Errorf("reloaded tasks = %+v", tasks)
	}
}
