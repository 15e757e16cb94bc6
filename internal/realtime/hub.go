// Package realtime provides the WebSocket chat transport.
package realtime

import (
	"log/slog"
	"sync"

	"github.com/coder/websocket"
)

// Hub tracks the live socket of each session. A session has at most one
// socket; a newer connection replaces the older one.
type Hub struct {
	mu     sync.RWMutex
	active map[string]*websocket.Conn
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		active: make(map[string]*websocket.Conn),
	}
}

// Active returns the connection registered for a session.
func (h *Hub) Active(sessionID string) *websocket.Conn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.active[sessionID]
}

// Len returns the number of live sessions.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.active)
}

// Register adds a connection for a session, closing any previous one.
// Closing waits for the peer's handshake, so it runs outside the lock.
func (h *Hub) Register(sessionID string, conn *websocket.Conn) {
	h.mu.Lock()
	existing, ok := h.active[sessionID]
	h.active[sessionID] = conn
	h.mu.Unlock()

	if ok && existing != conn {
		go func() { _ = existing.Close(websocket.StatusNormalClosure, "session replaced") }()
	}
	slog.Info("Chat socket registered", "session_id", sessionID)
}

// Unregister removes conn if it is still the session's current connection.
func (h *Hub) Unregister(sessionID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if current, ok := h.active[sessionID]; ok && current == conn {
		delete(h.active, sessionID)
		slog.Info("Chat socket unregistered", "session_id", sessionID)
	}
}

// CloseAll starts closing every live connection and forgets them.
func (h *Hub) CloseAll(reason string) {
	h.mu.Lock()
	conns := h.active
	h.active = make(map[string]*websocket.Conn)
	h.mu.Unlock()

	for sid, conn := range conns {
		go func() { _ = conn.Close(websocket.StatusGoingAway, reason) }()
		slog.Info("Chat socket closed", "session_id", sid)
	}
}
