package localstate

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Event reports an external modification of a stored key. Events are only
// emitted for writes that did not come from this process's Store (another
// process sharing the state directory, or the user editing a file by hand).
type Event struct {
	// Key is the store key whose backing file changed.
	Key string
	// Removed is true when the backing file was deleted.
	Removed bool
}

// Watcher monitors the state directory for changes to key files.
// It uses fsnotify for cross-platform file system event monitoring.
type Watcher struct {
	watcher *fsnotify.Watcher
	events  chan Event
	errors  chan error
	done    chan struct{}
	wg      sync.WaitGroup

	mu      sync.Mutex
	running bool
}

// NewWatcher creates a watcher for the store's directory. The watcher must
// be started with Start() before it will emit events.
func NewWatcher() (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	return &Watcher{
		watcher: w,
		events:  make(chan Event, 64),
		errors:  make(chan error, 8),
		done:    make(chan struct{}),
	}, nil
}

// Start begins watching the given state directory for *.json changes.
func (w *Watcher) Start(dir string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return fmt.Errorf("watcher already running")
	}
	if err := w.watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch state directory %s: %w", dir, err)
	}
	w.running = true

	w.wg.Add(1)
	go w.loop()
	return nil
}

// Events returns the channel of key-change events.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// Errors returns the channel of watcher errors.
func (w *Watcher) Errors() <-chan error {
	return w.errors
}

// Stop shuts the watcher down and waits for the event loop to exit.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return nil
	}
	close(w.done)
	err := w.watcher.Close()
	w.wg.Wait()
	w.running = false
	return err
}

func (w *Watcher) loop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			key, ok := keyForPath(event.Name)
			if !ok {
				continue
			}
			switch {
			case event.Op&fsnotify.Remove != 0:
				w.emit(Event{Key: key, Removed: true})
			case event.Op&(fsnotify.Create|fsnotify.Write) != 0:
				w.emit(Event{Key: key})
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			select {
			case w.errors <- err:
			default:
			}
		}
	}
}

func (w *Watcher) emit(e Event) {
	select {
	case w.events <- e:
	default:
		// Drop rather than block; a coalesced reload picks the change up.
	}
}

// keyForPath maps a backing file path to its store key. Temp files from
// atomic saves are ignored.
func keyForPath(path string) (string, bool) {
	name := filepath.Base(path)
	if strings.HasSuffix(name, ".tmp") {
		return "", false
	}
	if !strings.HasSuffix(name, ".json") {
		return "", false
	}
	return strings.TrimSuffix(name, ".json"), true
}
