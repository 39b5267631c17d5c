package localstate

import (
	"io"
	"log"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/syncpad/syncpad/internal/schema"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir(), log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	return s
}

// TestSaveLoad_Roundtrip tests persisting and reloading a task collection.
func TestSaveLoad_Roundtrip(t *testing.T) {
	s := testStore(t)

	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	tasks := []*schema.Task{
		{ID: "t1", Title: "Buy milk", Urgency: 2, UserID: schema.LocalUserID, CreatedAt: now, UpdatedAt: now, Comments: []schema.Comment{}},
	}

	if err := s.Save(KeyTodos, tasks); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}

	var loaded []*schema.Task
	if !s.Load(KeyTodos, &loaded) {
		t.Fatal("Load() reported no stored value")
	}
	if len(loaded) != 1 {
		t.Fatalf("loaded %d tasks, want 1", len(loaded))
	}
	if loaded[0].ID != "t1" || loaded[0].Title != "Buy milk" {
		t.Errorf("loaded task = %+v", loaded[0])
	}
	if !loaded[0].UpdatedAt.Equal(now) {
		t.Errorf("UpdatedAt = %v, want %v", loaded[0].UpdatedAt, now)
	}
}

// TestLoad_MissingKey tests that an unsaved key leaves the default in place.
func TestLoad_MissingKey(t *testing.T) {
	s := testStore(t)

	show := true
	if s.Load(KeyShowCompleted, &show) {
		t.Error("Load() reported a stored value for a missing key")
	}
	if !show {
		t.Error("default was overwritten on missing key")
	}
}

// TestLoad_ParseFailure tests that a corrupt file keeps the default.
func TestLoad_ParseFailure(t *testing.T) {
	s := testStore(t)

	if err := os.WriteFile(s.Path(KeyTodos), []byte("{not json"), 0644); err != nil {
		t.Fatalf("failed to plant corrupt file: %v", err)
	}

	tasks := []*schema.Task{{ID: "default"}}
	if s.Load(KeyTodos, &tasks) {
		t.Error("Load() reported success for corrupt data")
	}
	if len(tasks) != 1 || tasks[0].ID != "default" {
		t.Errorf("default was clobbered: %+v", tasks)
	}
}

// TestClearUserData tests that sign-out clearing removes exactly the
// per-user keys.
func TestClearUserData(t *testing.T) {
	s := testStore(t)

	for _, key := range []string{KeyTodos, KeyWorkspaces, KeySelectedWorkspace, KeyShowCompleted} {
		if err := s.Save(key, "x"); err != nil {
			t.Fatalf("Save(%q) failed: %v", key, err)
		}
	}

	if err := s.ClearUserData(); err != nil {
		t.Fatalf("ClearUserData() failed: %v", err)
	}

	for _, key := range UserDataKeys {
		if _, err := os.Stat(s.Path(key)); !os.IsNotExist(err) {
			t.Errorf("key %q still present after sign-out", key)
		}
	}

	// Device preferences survive.
	var pref string
	if !s.Load(KeyShowCompleted, &pref) {
		t.Error("view preference was cleared on sign-out")
	}
}

// TestClear_Idempotent tests that clearing missing keys is not an error.
func TestClear_Idempotent(t *testing.T) {
	s := testStore(t)
	if err := s.Clear(KeyTodos, KeyWorkspaces); err != nil {
		t.Errorf("Clear() on missing keys failed: %v", err)
	}
}

// TestWatcher_ExternalWrite tests that writing a key file emits an event.
func TestWatcher_ExternalWrite(t *testing.T) {
	s := testStore(t)

	w, err := NewWatcher()
	if err != nil {
		t.Fatalf("NewWatcher() failed: %v", err)
	}
	if err := w.Start(s.Dir()); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	defer w.Stop()

	if err := os.WriteFile(filepath.Join(s.Dir(), "todos.json"), []byte("[]"), 0644); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	select {
	case e := <-w.Events():
		if e.Key != KeyTodos {
			t.Errorf("event key = %q, want %q", e.Key, KeyTodos)
		}
		if e.Removed {
			t.Error("write reported as removal")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for watcher event")
	}
}
