// Package localstate keeps named values synchronized with a durable
// per-device store across restarts.
//
// Each named key is serialized to its own JSON file under the state
// directory, so keys can be loaded, saved, and cleared independently. The
// store holds the cached task collection, the workspace list, the selected
// workspace pointer, and the view preferences.
package localstate

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
)

// Well-known store keys.
const (
	KeyTodos             = "todos"
	KeyWorkspaces        = "workspaces"
	KeySelectedWorkspace = "selectedWorkspace"
	KeyShowCompleted     = "showCompleted"
	KeyTableView         = "tableView"
)

// UserDataKeys are the keys cleared on sign-out so one user's cached tasks
// cannot leak into a subsequent anonymous or different-user session on the
// same device. View preferences are device-local and survive sign-out.
var UserDataKeys = []string{KeyTodos, KeyWorkspaces, KeySelectedWorkspace}

// Store persists named values as JSON files under a directory.
type Store struct {
	dir    string
	logger *log.Logger
}

// Open creates a store rooted at dir, creating the directory if needed.
//
// If logger is nil, a default logger writing to stderr is used.
func Open(dir string, logger *log.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[state] ", log.LstdFlags)
	}
	return &Store{dir: dir, logger: logger}, nil
}

// Dir returns the state directory path.
func (s *Store) Dir() string {
	return s.dir
}

// Path returns the file path backing the given key.
func (s *Store) Path(key string) string {
	return filepath.Join(s.dir, key+".json")
}

// Load reads the named value into v. If the key has never been saved, or the
// stored bytes fail to parse, v is left untouched so the caller's default
// survives. A parse failure is logged, never returned: a corrupt cache file
// must not take the application down.
//
// The returned bool reports whether a stored value was loaded.
func (s *Store) Load(key string, v any) bool {
	data, err := os.ReadFile(s.Path(key))
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Printf("WARNING: failed to read %s: %v", key, err)
		}
		return false
	}
	if err := json.Unmarshal(data, v); err != nil {
		s.logger.Printf("WARNING: failed to parse stored value for %q, keeping default: %v", key, err)
		return false
	}
	return true
}

// Save serializes v and persists it under the key. The write goes through a
// temp file and rename so a crash mid-write cannot leave a half-written
// value behind.
func (s *Store) Save(key string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %q: %w", key, err)
	}

	path := s.Path(key)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write %q: %w", key, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace %q: %w", key, err)
	}
	return nil
}

// Clear removes the named keys from the store. Missing keys are ignored.
func (s *Store) Clear(keys ...string) error {
	for _, key := range keys {
		if err := os.Remove(s.Path(key)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to clear %q: %w", key, err)
		}
	}
	return nil
}

// ClearUserData removes every per-user key. Called on sign-out.
func (s *Store) ClearUserData() error {
	return s.Clear(UserDataKeys...)
}
