// Package reconcile implements the local-remote task reconciler.
//
// The reconciler owns the device's task collection. Every user action is
// applied to local state immediately (optimistic update), then mirrored to
// the remote service when a session exists; on remote failure exactly the
// mutated fields are reverted. Independently, a periodic full reconciliation
// pass converges local and remote state by content fingerprint (see
// fullsync.go).
//
// All state mutation is serialized through a single-writer loop: handlers
// and sync passes submit closures to the ops channel and only the loop
// goroutine touches the collection. Remote IO runs off the loop and posts
// its completion back as another op, so a full-sync replace and an
// optimistic confirmation can never interleave mid-mutation. Remote calls
// are deliberately not cancelled on shutdown; teardown only stops
// scheduling new work.
package reconcile

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/syncpad/syncpad/internal/events"
	"github.com/syncpad/syncpad/internal/fingerprint"
	"github.com/syncpad/syncpad/internal/localstate"
	"github.com/syncpad/syncpad/internal/remote"
	"github.com/syncpad/syncpad/internal/schema"
)

// Session identifies the authenticated user. Without a session the
// reconciler runs in local-only mode and never calls the remote.
type Session struct {
	UserID string
	Name   string
}

// SessionFunc reports the current session, if any.
type SessionFunc func() (Session, bool)

// Config holds reconciler configuration.
type Config struct {
	// Remote is the authoritative task service client. Required.
	Remote remote.Client

	// Store persists local state across restarts. Required.
	Store *localstate.Store

	// Session reports the current authenticated session. Required.
	Session SessionFunc

	// Matcher derives the de-duplication key. Defaults to
	// fingerprint.ContentMatcher.
	Matcher fingerprint.Matcher

	// Events receives task and sync broadcasts. Optional.
	Events *events.Hub

	// SyncInterval is how often the full reconciliation pass runs while a
	// session is active. Defaults to 5 minutes.
	SyncInterval time.Duration

	// RequestTimeout bounds each fire-and-forget remote call. Defaults to
	// 30 seconds.
	RequestTimeout time.Duration

	// Logger for reconciler activity. Defaults to stderr.
	Logger *log.Logger
}

// idState tracks which phase a record's identifier is in. A locally created
// task starts with a client-generated placeholder id and is committed to the
// server-assigned id once the remote accepts the creation. The two phases
// are modeled explicitly so a placeholder can never be mistaken for a
// durable identifier.
type idState int

const (
	// idPending marks a client-generated identifier awaiting remote commit.
	idPending idState = iota
	// idCommitted marks a server-assigned identifier.
	idCommitted
)

// dirty flags name the store keys an op touched.
type dirty int

const (
	dirtyTodos dirty = 1 << iota
	dirtyWorkspaces
	dirtySelected
)

// state is the single-writer view of local data. Only the run loop touches
// it.
type state struct {
	todos      []*schema.Task
	workspaces []*schema.Workspace
	selected   string

	// ids records the phase of each known task identifier.
	ids map[string]idState

	// epoch increments on sign-out so a sync pass that started under the
	// old session can never apply its result to the cleared state.
	epoch int

	dirty   dirty
	cleared bool
}

type op struct {
	apply func(*state)
	done  chan struct{}
}

// Reconciler owns the local task collection and keeps it converged with the
// remote service.
type Reconciler struct {
	cfg    Config
	logger *log.Logger

	ops  chan op
	quit chan struct{}
	wg   sync.WaitGroup

	startMu sync.Mutex
	started bool
}

// New creates a reconciler. The configuration must carry Remote, Store, and
// Session; everything else has defaults.
func New(cfg Config) (*Reconciler, error) {
	if cfg.Remote == nil {
		return nil, fmt.Errorf("remote client is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("local store is required")
	}
	if cfg.Session == nil {
		return nil, fmt.Errorf("session func is required")
	}
	if cfg.Matcher == nil {
		cfg.Matcher = fingerprint.ContentMatcher{}
	}
	if cfg.SyncInterval <= 0 {
		cfg.SyncInterval = 5 * time.Minute
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[reconcile] ", log.LstdFlags)
	}

	return &Reconciler{
		cfg:    cfg,
		logger: cfg.Logger,
		ops:    make(chan op, 64),
		quit:   make(chan struct{}),
	}, nil
}

// Start loads persisted state and launches the single-writer loop plus the
// periodic sync scheduler. It returns once the loop is running; the initial
// reconciliation pass (when a session exists) happens in the background.
func (r *Reconciler) Start(ctx context.Context) error {
	r.startMu.Lock()
	defer r.startMu.Unlock()
	if r.started {
		return fmt.Errorf("reconciler already started")
	}

	s := &state{ids: make(map[string]idState)}
	r.cfg.Store.Load(localstate.KeyTodos, &s.todos)
	r.cfg.Store.Load(localstate.KeyWorkspaces, &s.workspaces)
	r.cfg.Store.Load(localstate.KeySelectedWorkspace, &s.selected)
	for _, t := range s.todos {
		s.ids[t.ID] = idStateFor(t)
	}
	r.logger.Printf("Loaded %d tasks, %d workspaces from local store", len(s.todos), len(s.workspaces))

	r.wg.Add(2)
	go r.run(s)
	go r.schedule(ctx)

	r.started = true
	return nil
}

// Stop shuts down the loop. In-flight remote calls are not aborted; their
// completion ops are simply dropped.
func (r *Reconciler) Stop() {
	r.startMu.Lock()
	defer r.startMu.Unlock()
	if !r.started {
		return
	}
	close(r.quit)
	r.wg.Wait()
	r.started = false
}

// idStateFor classifies an identifier loaded from the store. Placeholder
// ids carry the local prefix until a create commits.
func idStateFor(t *schema.Task) idState {
	if isTempID(t.ID) {
		return idPending
	}
	return idCommitted
}

const tempIDPrefix = "local-"

func newTempID() string {
	return tempIDPrefix + uuid.NewString()
}

func isTempID(id string) bool {
	return len(id) > len(tempIDPrefix) && id[:len(tempIDPrefix)] == tempIDPrefix
}

// run is the single-writer loop. Every mutation of state happens here, and
// dirty keys are persisted after each op.
func (r *Reconciler) run(s *state) {
	defer r.wg.Done()

	for {
		select {
		case <-r.quit:
			return
		case o := <-r.ops:
			o.apply(s)
			r.persist(s)
			if o.done != nil {
				close(o.done)
			}
		}
	}
}

func (r *Reconciler) persist(s *state) {
	if s.cleared {
		s.cleared = false
		s.dirty = 0
		if err := r.cfg.Store.ClearUserData(); err != nil {
			r.logger.Printf("WARNING: failed to clear local store: %v", err)
		}
		return
	}
	if s.dirty&dirtyTodos != 0 {
		if err := r.cfg.Store.Save(localstate.KeyTodos, s.todos); err != nil {
			r.logger.Printf("WARNING: failed to persist tasks: %v", err)
		}
	}
	if s.dirty&dirtyWorkspaces != 0 {
		if err := r.cfg.Store.Save(localstate.KeyWorkspaces, s.workspaces); err != nil {
			r.logger.Printf("WARNING: failed to persist workspaces: %v", err)
		}
	}
	if s.dirty&dirtySelected != 0 {
		if err := r.cfg.Store.Save(localstate.KeySelectedWorkspace, s.selected); err != nil {
			r.logger.Printf("WARNING: failed to persist selected workspace: %v", err)
		}
	}
	s.dirty = 0
}

// do submits an op and waits until the loop has applied it. This is what
// makes optimistic updates synchronous: when a handler returns, the local
// collection already reflects the change.
func (r *Reconciler) do(apply func(*state)) bool {
	o := op{apply: apply, done: make(chan struct{})}
	select {
	case r.ops <- o:
	case <-r.quit:
		return false
	}
	select {
	case <-o.done:
		return true
	case <-r.quit:
		return false
	}
}

// post submits an op without waiting. Used by remote completion goroutines.
func (r *Reconciler) post(apply func(*state)) {
	select {
	case r.ops <- op{apply: apply}:
	case <-r.quit:
	}
}

// callCtx returns the context for a fire-and-forget remote call. Teardown
// must not abort in-flight requests, so these are bounded by timeout only.
func (r *Reconciler) callCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), r.cfg.RequestTimeout)
}

// Snapshot returns a deep copy of the current task collection.
func (r *Reconciler) Snapshot() []*schema.Task {
	var out []*schema.Task
	r.do(func(s *state) {
		out = schema.CloneTasks(s.todos)
	})
	return out
}

// Workspaces returns a copy of the cached workspace list.
func (r *Reconciler) Workspaces() []*schema.Workspace {
	var out []*schema.Workspace
	r.do(func(s *state) {
		out = make([]*schema.Workspace, len(s.workspaces))
		for i, w := range s.workspaces {
			ws := *w
			out[i] = &ws
		}
	})
	return out
}

// SelectedWorkspace returns the selected workspace id, empty for the
// default workspace.
func (r *Reconciler) SelectedWorkspace() string {
	var id string
	r.do(func(s *state) { id = s.selected })
	return id
}

// SelectWorkspace updates the selected workspace pointer.
func (r *Reconciler) SelectWorkspace(id string) {
	r.do(func(s *state) {
		if s.selected == id {
			return
		}
		s.selected = id
		s.dirty |= dirtySelected
	})
}

// Add creates a task optimistically and returns the local record. The record
// carries a placeholder id until the remote accepts the creation, at which
// point the server-assigned record replaces it in place. If the remote call
// fails the placeholder is removed entirely; it never existed remotely, so
// there is nothing to revert to.
func (r *Reconciler) Add(title string, due *time.Time, urgency float64) *schema.Task {
	sess, authed := r.cfg.Session()

	now := time.Now()
	task := &schema.Task{
		ID:        newTempID(),
		Title:     title,
		DueDate:   due,
		Urgency:   urgency,
		UserID:    schema.LocalUserID,
		CreatedAt: now,
		UpdatedAt: now,
		Comments:  []schema.Comment{},
	}
	if authed {
		task.UserID = sess.UserID
	}
	task.SetDefaults()

	var snap *schema.Task
	r.do(func(s *state) {
		task.WorkspaceID = s.selected
		s.todos = append(s.todos, task)
		s.ids[task.ID] = idPending
		s.dirty |= dirtyTodos
		snap = task.Clone()
	})
	if snap == nil {
		// Loop already stopped; the mutation never applied.
		return task.Clone()
	}
	r.publishTask(snap, "created")

	if !authed {
		return snap
	}

	tempID := snap.ID
	req := remote.CreateTaskRequest{
		Title:       snap.Title,
		DueDate:     snap.DueDate,
		Urgency:     snap.Urgency,
		WorkspaceID: snap.WorkspaceID,
	}
	go func() {
		ctx, cancel := r.callCtx()
		defer cancel()

		created, err := r.cfg.Remote.CreateTask(ctx, req)
		if err != nil {
			r.logger.Printf("Failed to add task: %v", err)
			r.post(func(s *state) {
				s.todos = removeTask(s.todos, tempID)
				delete(s.ids, tempID)
				s.dirty |= dirtyTodos
			})
			return
		}
		r.post(func(s *state) {
			s.commitCreate(tempID, created)
		})
	}()

	return snap
}

// commitCreate swaps the placeholder record for the server-assigned one,
// keeping its position in the list. The swap is a no-op if the placeholder
// was deleted while the create was in flight.
func (s *state) commitCreate(tempID string, created *schema.Task) {
	if state, ok := s.ids[tempID]; !ok || state != idPending {
		return
	}
	for i, t := range s.todos {
		if t.ID == tempID {
			committed := created.Clone()
			committed.Comments = []schema.Comment{}
			s.todos[i] = committed
			delete(s.ids, tempID)
			s.ids[committed.ID] = idCommitted
			s.dirty |= dirtyTodos
			return
		}
	}
}

// Toggle flips the completed flag optimistically. On remote success the
// server's record replaces the local one; on failure only the completed
// field is restored, preserving fields changed concurrently.
func (r *Reconciler) Toggle(id string) {
	var (
		found         bool
		prevCompleted bool
		newCompleted  bool
	)
	r.do(func(s *state) {
		t := findTask(s.todos, id)
		if t == nil {
			return
		}
		found = true
		prevCompleted = t.Completed
		t.Completed = !t.Completed
		newCompleted = t.Completed
		t.Touch()
		s.dirty |= dirtyTodos
	})
	if !found {
		return
	}

	_, authed := r.cfg.Session()
	if !authed {
		return
	}

	completed := newCompleted
	go func() {
		ctx, cancel := r.callCtx()
		defer cancel()

		updated, err := r.cfg.Remote.UpdateTask(ctx, remote.UpdateTaskRequest{ID: id, Completed: &completed})
		if err != nil {
			r.logger.Printf("Failed to toggle task %s: %v", id, err)
			r.post(func(s *state) {
				if t := findTask(s.todos, id); t != nil {
					t.Completed = prevCompleted
					s.dirty |= dirtyTodos
				}
			})
			return
		}
		r.post(func(s *state) {
			replaceTask(s, id, updated)
		})
		r.publishTask(updated, "updated")
	}()
}

// Reschedule sets the due date optimistically. The server response is only
// adopted when its due date matches the requested value exactly; a mismatch
// is a recoverable inconsistency, so the optimistic value is kept and a
// warning logged. On request failure strictly the due date is reverted.
func (r *Reconciler) Reschedule(id string, due time.Time) {
	var (
		found   bool
		prevDue *time.Time
	)
	r.do(func(s *state) {
		t := findTask(s.todos, id)
		if t == nil {
			return
		}
		found = true
		prevDue = t.DueDate
		d := due
		t.DueDate = &d
		t.Touch()
		s.dirty |= dirtyTodos
	})
	if !found {
		r.logger.Printf("Reschedule: task %s not found", id)
		return
	}

	_, authed := r.cfg.Session()
	if !authed {
		return
	}

	go func() {
		ctx, cancel := r.callCtx()
		defer cancel()

		requested := due
		updated, err := r.cfg.Remote.UpdateTask(ctx, remote.UpdateTaskRequest{ID: id, DueDate: &requested})
		if err != nil {
			r.logger.Printf("Failed to reschedule task %s: %v", id, err)
			r.post(func(s *state) {
				if t := findTask(s.todos, id); t != nil {
					t.DueDate = prevDue
					s.dirty |= dirtyTodos
				}
			})
			return
		}
		if updated.DueDate == nil || !updated.DueDate.Equal(requested) {
			r.logger.Printf("WARNING: server due date for task %s does not match requested value (requested %v, got %v), keeping local value",
				id, requested, updated.DueDate)
			return
		}
		r.post(func(s *state) {
			replaceTask(s, id, updated)
		})
		r.publishTask(updated, "updated")
	}()
}

// Delete removes the task from local state immediately. On remote failure
// the record is re-appended at the end of the collection; its original
// position is not restored.
func (r *Reconciler) Delete(id string) {
	var removed *schema.Task
	r.do(func(s *state) {
		if t := findTask(s.todos, id); t != nil {
			removed = t.Clone()
			s.todos = removeTask(s.todos, id)
			delete(s.ids, id)
			s.dirty |= dirtyTodos
		}
	})
	if removed == nil {
		return
	}
	r.publishTask(removed, "deleted")

	_, authed := r.cfg.Session()
	if !authed {
		return
	}

	go func() {
		ctx, cancel := r.callCtx()
		defer cancel()

		if err := r.cfg.Remote.DeleteTask(ctx, id); err != nil {
			r.logger.Printf("Failed to delete task %s: %v", id, err)
			r.post(func(s *state) {
				s.todos = append(s.todos, removed)
				s.ids[removed.ID] = idStateFor(removed)
				s.dirty |= dirtyTodos
			})
		}
	}()
}

// AddComment appends a comment to the task optimistically and returns the
// local record. On remote success the placeholder comment is replaced by
// the server's; on failure it is removed from the task's comment list.
func (r *Reconciler) AddComment(todoID, text string) *schema.Comment {
	sess, authed := r.cfg.Session()

	author := &schema.Author{Name: "Local User"}
	userID := schema.LocalUserID
	if authed {
		userID = sess.UserID
		name := sess.Name
		if name == "" {
			name = "User"
		}
		author = &schema.Author{Name: name}
	}

	comment := schema.Comment{
		ID:        newTempID(),
		TodoID:    todoID,
		UserID:    userID,
		Text:      text,
		CreatedAt: time.Now(),
		Author:    author,
	}

	var found bool
	r.do(func(s *state) {
		t := findTask(s.todos, todoID)
		if t == nil {
			return
		}
		found = true
		t.Comments = append(t.Comments, comment)
		s.dirty |= dirtyTodos
	})
	if !found || !authed {
		return comment.Clone()
	}

	tempID := comment.ID
	go func() {
		ctx, cancel := r.callCtx()
		defer cancel()

		created, err := r.cfg.Remote.CreateComment(ctx, remote.CreateCommentRequest{TodoID: todoID, Text: text})
		if err != nil {
			r.logger.Printf("Failed to add comment to task %s: %v", todoID, err)
			r.post(func(s *state) {
				if t := findTask(s.todos, todoID); t != nil {
					t.Comments = removeComment(t.Comments, tempID)
					s.dirty |= dirtyTodos
				}
			})
			return
		}
		r.post(func(s *state) {
			t := findTask(s.todos, todoID)
			if t == nil {
				return
			}
			for i, c := range t.Comments {
				if c.ID == tempID {
					t.Comments[i] = *created.Clone()
					s.dirty |= dirtyTodos
					return
				}
			}
		})
	}()

	return comment.Clone()
}

// DeleteComment removes a comment optimistically; on remote failure the
// comment is re-appended to the task's comment list.
func (r *Reconciler) DeleteComment(todoID, commentID string) {
	var removed *schema.Comment
	r.do(func(s *state) {
		t := findTask(s.todos, todoID)
		if t == nil {
			return
		}
		for _, c := range t.Comments {
			if c.ID == commentID {
				removed = c.Clone()
				break
			}
		}
		if removed != nil {
			t.Comments = removeComment(t.Comments, commentID)
			s.dirty |= dirtyTodos
		}
	})
	if removed == nil {
		return
	}

	_, authed := r.cfg.Session()
	if !authed {
		return
	}

	go func() {
		ctx, cancel := r.callCtx()
		defer cancel()

		if err := r.cfg.Remote.DeleteComment(ctx, todoID, commentID); err != nil {
			r.logger.Printf("Failed to delete comment %s: %v", commentID, err)
			r.post(func(s *state) {
				if t := findTask(s.todos, todoID); t != nil {
					t.Comments = append(t.Comments, *removed)
					s.dirty |= dirtyTodos
				}
			})
		}
	}()
}

// SignOut clears the task collection, workspace list, and selected
// workspace, both in memory and in the durable store.
func (r *Reconciler) SignOut() {
	r.do(func(s *state) {
		s.todos = nil
		s.workspaces = nil
		s.selected = ""
		s.ids = make(map[string]idState)
		s.epoch++
		s.cleared = true
	})
	r.logger.Printf("Signed out, local user data cleared")
}

func (r *Reconciler) publishTask(t *schema.Task, action string) {
	if r.cfg.Events == nil {
		return
	}
	r.cfg.Events.Publish(events.TypeTaskUpdate, events.TaskUpdate{
		TaskID:    t.ID,
		Action:    action,
		Title:     t.Title,
		Completed: t.Completed,
	})
}

func findTask(todos []*schema.Task, id string) *schema.Task {
	for _, t := range todos {
		if t.ID == id {
			return t
		}
	}
	return nil
}

func removeTask(todos []*schema.Task, id string) []*schema.Task {
	out := todos[:0]
	for _, t := range todos {
		if t.ID != id {
			out = append(out, t)
		}
	}
	return out
}

func removeComment(comments []schema.Comment, id string) []schema.Comment {
	out := comments[:0]
	for _, c := range comments {
		if c.ID != id {
			out = append(out, c)
		}
	}
	return out
}

// replaceTask swaps the record with the given id for the server's copy.
func replaceTask(s *state, id string, updated *schema.Task) {
	for i, t := range s.todos {
		if t.ID == id {
			s.todos[i] = updated.Clone()
			s.ids[updated.ID] = idCommitted
			s.dirty |= dirtyTodos
			return
		}
	}
}
