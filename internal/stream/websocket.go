package stream

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/coder/websocket"

	"github.com/eduflowhq/eduflow/internal/identity"
)

// WebSocketHandler upgrades clients onto the assistant message stream.
type WebSocketHandler struct {
	hub           *Hub
	allowedOrigin string
	isDev         bool
}

// NewWebSocketHandler creates a handler that registers sockets on hub.
func NewWebSocketHandler(hub *Hub, allowedOrigin string, isDev bool) *WebSocketHandler {
	return &WebSocketHandler{
		hub:           hub,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
	}
}

// ServeHTTP implements http.Handler for the WebSocket upgrade. The
// socket is write-only from the server's point of view; the read loop
// exists to notice disconnects.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	sessionID := identity.SessionIDFromContext(r.Context())
	if userID == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("failed to accept websocket", "error", err, "user_id", userID)
		return
	}
	defer func() {
		if closeErr := conn.Close(websocket.StatusNormalClosure, "stream closed"); closeErr != nil {
			slog.Debug("failed to close websocket", "error", closeErr, "user_id", userID)
		}
	}()

	h.hub.Register(userID, sessionID, conn)
	defer h.hub.Unregister(userID, sessionID, conn)

	slog.Info("assistant stream connected", "user_id", userID, "session_id", sessionID)

	ctx := r.Context()
	for {
		// Drain and discard inbound frames; clients talk to the engine
		// over the HTTP API, not this socket.
		if _, _, err := conn.Read(ctx); err != nil {
			var closeErr websocket.CloseError
			if !errors.As(err, &closeErr) && ctx.Err() == nil {
				slog.Debug("websocket read ended", "error", err, "user_id", userID)
			}
			return
		}
	}
}

func (h *WebSocketHandler) checkOrigin(r *http.Request) bool {
	if h.isDev || h.allowedOrigin == "" {
		return true
	}
	origin := r.Header.Get("Origin")
	return origin == "" || strings.HasPrefix(origin, h.allowedOrigin)
}
