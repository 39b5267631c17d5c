package reconcile

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/syncpad/syncpad/internal/events"
	"github.com/syncpad/syncpad/internal/fingerprint"
	"github.com/syncpad/syncpad/internal/remote"
	"github.com/syncpad/syncpad/internal/schema"
)

// schedule runs the full reconciliation pass at session start and on a
// fixed interval while a session is active. Stopping the reconciler only
// stops scheduling; a pass already underway runs to completion.
func (r *Reconciler) schedule(ctx context.Context) {
	defer r.wg.Done()

	if _, authed := r.cfg.Session(); authed {
		if err := r.SyncNow(ctx); err != nil {
			r.logger.Printf("Initial sync failed: %v", err)
		}
	}

	ticker := time.NewTicker(r.cfg.SyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.quit:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, authed := r.cfg.Session(); !authed {
				continue
			}
			if err := r.SyncNow(ctx); err != nil {
				r.logger.Printf("Periodic sync failed: %v", err)
			}
		}
	}
}

// SyncNow performs one full reconciliation pass:
//
//  1. Fetch the remote collection and index it by fingerprint.
//  2. For local tasks whose fingerprint matches a remote record but whose
//     completed flag differs, patch the REMOTE record with the local value.
//     Completion state is the one field where local wins one-way.
//  3. Upload local-only tasks (no fingerprint match) to the remote.
//  4. Re-fetch, de-duplicate by fingerprint, and replace local state with
//     the result. Local tasks whose upload failed are retained through the
//     replace rather than silently dropped; the next pass retries them.
//
// Patches and uploads run concurrently and are awaited independently; a
// single failure never aborts the remaining operations. Each failure is
// logged per-operation.
func (r *Reconciler) SyncNow(ctx context.Context) error {
	if _, authed := r.cfg.Session(); !authed {
		return nil
	}

	started := time.Now()
	r.logger.Printf("Starting full reconciliation pass")

	var epoch int
	r.do(func(s *state) { epoch = s.epoch })

	remoteTasks, err := r.cfg.Remote.ListTasks(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch remote tasks: %w", err)
	}
	remoteByKey := fingerprint.Index(r.cfg.Matcher, remoteTasks)

	local := r.Snapshot()

	type patchOp struct {
		remoteID  string
		completed bool
	}
	var (
		patches []patchOp
		uploads []*schema.Task
	)
	for _, t := range local {
		matched, ok := remoteByKey[r.cfg.Matcher.Key(t)]
		if !ok {
			uploads = append(uploads, t)
			continue
		}
		if matched.Completed != t.Completed {
			patches = append(patches, patchOp{remoteID: matched.ID, completed: t.Completed})
		}
	}

	var (
		mu       sync.Mutex
		failed   = make(map[string]bool) // fingerprint -> upload failed
		patched  int
		uploaded int
		wg       sync.WaitGroup
	)

	for _, p := range patches {
		wg.Add(1)
		go func(p patchOp) {
			defer wg.Done()
			completed := p.completed
			if _, err := r.cfg.Remote.UpdateTask(ctx, remote.UpdateTaskRequest{ID: p.remoteID, Completed: &completed}); err != nil {
				r.logger.Printf("Failed to patch completion on remote task %s: %v", p.remoteID, err)
				return
			}
			mu.Lock()
			patched++
			mu.Unlock()
		}(p)
	}

	for _, t := range uploads {
		wg.Add(1)
		go func(t *schema.Task) {
			defer wg.Done()
			req := remote.CreateTaskRequest{
				Title:       t.Title,
				DueDate:     t.DueDate,
				Urgency:     t.Urgency,
				Completed:   t.Completed,
				WorkspaceID: t.WorkspaceID,
			}
			if _, err := r.cfg.Remote.CreateTask(ctx, req); err != nil {
				r.logger.Printf("Failed to upload task %q: %v", t.Title, err)
				mu.Lock()
				failed[r.cfg.Matcher.Key(t)] = true
				mu.Unlock()
				return
			}
			mu.Lock()
			uploaded++
			mu.Unlock()
		}(t)
	}

	wg.Wait()

	final, err := r.cfg.Remote.ListTasks(ctx)
	if err != nil {
		return fmt.Errorf("failed to re-fetch remote tasks: %w", err)
	}
	deduped := dedupByFingerprint(r.cfg.Matcher, final)

	// Retain local tasks whose upload failed so the wholesale replace does
	// not lose them. They keep their placeholder ids and are retried on the
	// next pass.
	var retained []*schema.Task
	if len(failed) > 0 {
		finalKeys := make(map[string]bool, len(deduped))
		for _, t := range deduped {
			finalKeys[r.cfg.Matcher.Key(t)] = true
		}
		for _, t := range uploads {
			key := r.cfg.Matcher.Key(t)
			if failed[key] && !finalKeys[key] {
				retained = append(retained, t)
			}
		}
	}

	result := append(deduped, retained...)
	r.do(func(s *state) {
		if s.epoch != epoch {
			return
		}
		s.todos = schema.CloneTasks(result)
		s.ids = make(map[string]idState, len(s.todos))
		for _, t := range s.todos {
			s.ids[t.ID] = idStateFor(t)
		}
		s.dirty |= dirtyTodos
	})

	r.logger.Printf("Full reconciliation complete: remote=%d patched=%d uploaded=%d retained=%d (%.2fs)",
		len(deduped), patched, uploaded, len(retained), time.Since(started).Seconds())

	if r.cfg.Events != nil {
		r.cfg.Events.Publish(events.TypeSyncComplete, events.SyncComplete{
			Patched:  patched,
			Uploaded: uploaded,
			Retained: len(retained),
			Total:    len(result),
			Duration: time.Since(started),
		})
	}
	return nil
}

// dedupByFingerprint collapses records sharing a fingerprint, preserving
// first-appearance order. Among duplicates the most-recently-updated record
// survives; collisions between genuinely different tasks that share title,
// date, and urgency are an accepted limitation of content matching.
func dedupByFingerprint(m fingerprint.Matcher, tasks []*schema.Task) []*schema.Task {
	winners := fingerprint.Index(m, tasks)
	out := make([]*schema.Task, 0, len(winners))
	seen := make(map[string]bool, len(winners))
	for _, t := range tasks {
		key := m.Key(t)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, winners[key])
	}
	return out
}

// RefreshWorkspaces fetches the remote workspace list, ensures the default
// "Personal" workspace exists, and replaces the local cache. The selected
// workspace pointer is reset when it no longer refers to a live workspace.
func (r *Reconciler) RefreshWorkspaces(ctx context.Context) error {
	if _, authed := r.cfg.Session(); !authed {
		return nil
	}

	var epoch int
	r.do(func(s *state) { epoch = s.epoch })

	workspaces, err := r.cfg.Remote.ListWorkspaces(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch workspaces: %w", err)
	}

	hasDefault := false
	for _, w := range workspaces {
		if w.Name == schema.DefaultWorkspaceName {
			hasDefault = true
			break
		}
	}
	if !hasDefault {
		ws, err := r.cfg.Remote.CreateWorkspace(ctx, schema.DefaultWorkspaceName)
		if err != nil {
			return fmt.Errorf("failed to create default workspace: %w", err)
		}
		workspaces = append([]*schema.Workspace{ws}, workspaces...)
	}

	r.do(func(s *state) {
		if s.epoch != epoch {
			return
		}
		s.workspaces = workspaces
		if s.selected != "" {
			live := false
			for _, w := range workspaces {
				if w.ID == s.selected {
					live = true
					break
				}
			}
			if !live {
				s.selected = ""
				s.dirty |= dirtySelected
			}
		}
		s.dirty |= dirtyWorkspaces
	})
	return nil
}

// CreateWorkspace creates a workspace on the remote and appends it to the
// local cache. Workspace creation is not optimistic: the dialog flow waits
// for the server-assigned identifier.
func (r *Reconciler) CreateWorkspace(ctx context.Context, name string) (*schema.Workspace, error) {
	if _, authed := r.cfg.Session(); !authed {
		return nil, fmt.Errorf("workspaces require a session")
	}

	ws, err := r.cfg.Remote.CreateWorkspace(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to create workspace: %w", err)
	}
	r.do(func(s *state) {
		s.workspaces = append(s.workspaces, ws)
		s.dirty |= dirtyWorkspaces
	})
	if r.cfg.Events != nil {
		r.cfg.Events.Publish(events.TypeWorkspaceUpdate, events.WorkspaceUpdate{
			WorkspaceID: ws.ID, Action: "created", Name: ws.Name,
		})
	}
	return ws, nil
}

// ErrWorkspaceNotEmpty is returned when deleting a workspace that still
// holds incomplete tasks.
var ErrWorkspaceNotEmpty = fmt.Errorf("workspace has incomplete tasks")

// DeleteWorkspace removes a workspace. Deletion is refused while the
// workspace still holds incomplete tasks; completed tasks do not block it.
func (r *Reconciler) DeleteWorkspace(ctx context.Context, id string) error {
	if _, authed := r.cfg.Session(); !authed {
		return fmt.Errorf("workspaces require a session")
	}

	var blocked bool
	r.do(func(s *state) {
		for _, t := range s.todos {
			if t.WorkspaceID == id && !t.Completed {
				blocked = true
				return
			}
		}
	})
	if blocked {
		return ErrWorkspaceNotEmpty
	}

	if err := r.cfg.Remote.DeleteWorkspace(ctx, id); err != nil {
		return fmt.Errorf("failed to delete workspace: %w", err)
	}
	r.do(func(s *state) {
		out := s.workspaces[:0]
		for _, w := range s.workspaces {
			if w.ID != id {
				out = append(out, w)
			}
		}
		s.workspaces = out
		if s.selected == id {
			s.selected = ""
			s.dirty |= dirtySelected
		}
		s.dirty |= dirtyWorkspaces
	})
	if r.cfg.Events != nil {
		r.cfg.Events.Publish(events.TypeWorkspaceUpdate, events.WorkspaceUpdate{
			WorkspaceID: id, Action: "deleted",
		})
	}
	return nil
}
