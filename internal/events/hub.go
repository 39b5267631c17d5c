// Package events provides a WebSocket hub broadcasting task and sync
// activity to connected clients.
//
// The reconciler and the REST server publish messages into the hub; a
// browser or monitoring client subscribes at /ws to observe task changes
// and full-sync completions in real time.
package events

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// Type identifies the kind of broadcast message.
type Type string

const (
	// TypeTaskUpdate indicates a task was created, updated, or deleted.
	TypeTaskUpdate Type = "task_update"

	// TypeSyncComplete indicates a full reconciliation pass finished.
	TypeSyncComplete Type = "sync_complete"

	// TypeWorkspaceUpdate indicates a workspace was created or deleted.
	TypeWorkspaceUpdate Type = "workspace_update"
)

// Message is a hub broadcast.
type Message struct {
	Type      Type            `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// TaskUpdate describes a task change.
type TaskUpdate struct {
	TaskID    string `json:"task_id"`
	Action    string `json:"action"` // created, updated, deleted
	Title     string `json:"title,omitempty"`
	Completed bool   `json:"completed,omitempty"`
}

// SyncComplete describes a finished full-sync pass.
type SyncComplete struct {
	Patched  int           `json:"patched"`
	Uploaded int           `json:"uploaded"`
	Retained int           `json:"retained"`
	Total    int           `json:"total"`
	Duration time.Duration `json:"duration"`
}

// WorkspaceUpdate describes a workspace change.
type WorkspaceUpdate struct {
	WorkspaceID string `json:"workspace_id"`
	Action      string `json:"action"` // created, deleted
	Name        string `json:"name,omitempty"`
}

// Hub fans messages out to connected WebSocket clients. A nil *Hub is valid
// and drops everything, so callers never need to guard publishes.
type Hub struct {
	logger *log.Logger

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// NewHub creates a hub. If logger is nil, a default logger writing to
// stderr is used.
func NewHub(logger *log.Logger) *Hub {
	if logger == nil {
		logger = log.New(os.Stderr, "[events] ", log.LstdFlags)
	}
	return &Hub{
		logger:  logger,
		clients: make(map[*client]struct{}),
	}
}

// Publish broadcasts a typed payload to all connected clients. Marshal
// failures are logged, clients that cannot keep up are dropped.
func (h *Hub) Publish(t Type, payload any) {
	if h == nil {
		return
	}

	data, err := json.Marshal(payload)
	if err != nil {
		h.logger.Printf("WARNING: failed to marshal %s payload: %v", t, err)
		return
	}
	msg, err := json.Marshal(Message{Type: t, Timestamp: time.Now(), Data: data})
	if err != nil {
		h.logger.Printf("WARNING: failed to marshal %s message: %v", t, err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			h.logger.Printf("Dropping slow events client")
			delete(h.clients, c)
			close(c.send)
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	if h == nil {
		return 0
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request to a WebSocket and streams hub messages
// until the client disconnects or the hub closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.Printf("WebSocket accept failed: %v", err)
		return
	}

	c := &client{conn: conn, send: make(chan []byte, 32)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close(websocket.StatusGoingAway, "hub closed")
		return
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	h.logger.Printf("Events client connected (%d total)", h.ClientCount())
	defer func() {
		h.mu.Lock()
		if _, ok := h.clients[c]; ok {
			delete(h.clients, c)
			close(c.send)
		}
		h.mu.Unlock()
		conn.Close(websocket.StatusNormalClosure, "")
		h.logger.Printf("Events client disconnected (%d total)", h.ClientCount())
	}()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-c.send:
			if !ok {
				return
			}
			writeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			err := conn.Write(writeCtx, websocket.MessageText, msg)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

// Close disconnects all clients and rejects future connections.
func (h *Hub) Close() error {
	if h == nil {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
		c.conn.Close(websocket.StatusGoingAway, "server shutting down")
	}
	return nil
}
