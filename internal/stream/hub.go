// Package stream pushes newly appended assistant messages to
// connected clients over WebSocket.
package stream

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/eduflowhq/eduflow/internal/domain"
)

// broadcastWriteTimeout bounds each push so a stalled peer cannot
// block the engine turn that triggered the broadcast.
const broadcastWriteTimeout = 5 * time.Second

// Hub fans assistant messages out to every socket subscribed to a
// session. It implements engine.Broadcaster.
type Hub struct {
	mu           sync.RWMutex
	conns        map[string][]*websocket.Conn
	writeTimeout time.Duration
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		conns:        make(map[string][]*websocket.Conn),
		writeTimeout: broadcastWriteTimeout,
	}
}

func sessionKey(userID, sessionID string) string {
	return userID + ":" + sessionID
}

// Register adds a connection to a session's subscriber list.
func (h *Hub) Register(userID, sessionID string, conn *websocket.Conn) {
	key := sessionKey(userID, sessionID)
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[key] = append(h.conns[key], conn)
}

// Unregister removes a connection.
func (h *Hub) Unregister(userID, sessionID string, conn *websocket.Conn) {
	key := sessionKey(userID, sessionID)
	h.mu.Lock()
	defer h.mu.Unlock()
	remaining := h.conns[key][:0]
	for _, c := range h.conns[key] {
		if c != conn {
			remaining = append(remaining, c)
		}
	}
	if len(remaining) == 0 {
		delete(h.conns, key)
	} else {
		h.conns[key] = remaining
	}
}

// Broadcast sends a message to every subscriber of the session. Each
// write carries its own deadline: a peer that has stopped reading must
// not stall the engine turn that produced the message. Failures are
// logged and skipped; the read loop of a dead socket handles its own
// teardown.
func (h *Hub) Broadcast(userID, sessionID string, msg domain.Message) {
	key := sessionKey(userID, sessionID)
	h.mu.RLock()
	subscribers := append([]*websocket.Conn(nil), h.conns[key]...)
	h.mu.RUnlock()

	for _, conn := range subscribers {
		if err := h.write(conn, msg); err != nil {
			slog.Debug("websocket broadcast failed",
				"user_id", userID, "session_id", sessionID, "error", err)
		}
	}
}

func (h *Hub) write(conn *websocket.Conn, msg domain.Message) error {
	ctx, cancel := context.WithTimeout(context.Background(), h.writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, msg)
}
