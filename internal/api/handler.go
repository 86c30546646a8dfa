// Package api provides HTTP handlers for the assistant API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/eduflowhq/eduflow/internal/engine"
	"github.com/eduflowhq/eduflow/internal/identity"
	"github.com/eduflowhq/eduflow/internal/llm"
)

// maxRequestBodySize bounds assistant request bodies (64KB). User
// messages are short; anything larger is hostile.
const maxRequestBodySize = 64 << 10

// Handler serves the assistant endpoints.
type Handler struct {
	engine      *engine.Engine
	rateLimiter *RateLimiter
}

// NewHandler creates an assistant API handler.
func NewHandler(eng *engine.Engine, limit int, window time.Duration) *Handler {
	return &Handler{
		engine:      eng,
		rateLimiter: NewRateLimiter(limit, window),
	}
}

// Close releases handler resources, including the rate limiter's
// eviction goroutine.
func (h *Handler) Close() {
	h.rateLimiter.Close()
}

// RegisterRoutes mounts the assistant API.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api/assistant", func(r chi.Router) {
		r.Get("/session", h.HandleSession)
		r.Post("/message", h.HandleMessage)
		r.Post("/pill", h.HandlePill)
		r.Post("/role", h.HandleRole)
		r.Post("/problem", h.HandleProblem)
		r.Post("/meeting/confirm", h.HandleMeetingConfirm)
		r.Post("/reset", h.HandleReset)
	})
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// HandleSession returns the session snapshot, creating the session and
// its icebreaker on first load.
func (h *Handler) HandleSession(w http.ResponseWriter, r *http.Request) {
	userID, sessionID, ok := h.ids(w, r)
	if !ok {
		return
	}
	snap, err := h.engine.Start(r.Context(), userID, sessionID)
	if err != nil {
		h.writeEngineError(w, userID, err)
		return
	}
	JSON(w, http.StatusOK, snap)
}

type textRequest struct {
	Message     string `json:"message"`
	Label       string `json:"label"`
	Role        string `json:"role"`
	Description string `json:"description"`
}

// HandleMessage handles an ordinary user message.
func (h *Handler) HandleMessage(w http.ResponseWriter, r *http.Request) {
	h.textEndpoint(w, r, func(req textRequest) string {
		return strings.TrimSpace(req.Message)
	}, h.engine.Send)
}

// HandlePill handles a tapped challenge pill.
func (h *Handler) HandlePill(w http.ResponseWriter, r *http.Request) {
	h.textEndpoint(w, r, func(req textRequest) string {
		return strings.TrimSpace(req.Label)
	}, h.engine.SelectPill)
}

// HandleRole captures a free-text role (no generation).
func (h *Handler) HandleRole(w http.ResponseWriter, r *http.Request) {
	h.textEndpoint(w, r, func(req textRequest) string {
		return strings.TrimSpace(req.Role)
	}, h.engine.CaptureRole)
}

// HandleProblem captures a free-text problem description (no generation).
func (h *Handler) HandleProblem(w http.ResponseWriter, r *http.Request) {
	h.textEndpoint(w, r, func(req textRequest) string {
		return strings.TrimSpace(req.Description)
	}, h.engine.CaptureProblem)
}

func (h *Handler) textEndpoint(
	w http.ResponseWriter,
	r *http.Request,
	extract func(textRequest) string,
	call func(ctx context.Context, userID, sessionID, text string) (*engine.Result, error),
) {
	userID, sessionID, ok := h.ids(w, r)
	if !ok {
		return
	}
	if !h.rateLimiter.Allow(userID) {
		Error(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	var req textRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	text := extract(req)
	if text == "" {
		Error(w, http.StatusBadRequest, "text is required")
		return
	}

	result, err := call(r.Context(), userID, sessionID, text)
	if err != nil {
		h.writeEngineError(w, userID, err)
		return
	}
	JSON(w, http.StatusOK, result)
}

// HandleMeetingConfirm receives the external booking confirmation.
func (h *Handler) HandleMeetingConfirm(w http.ResponseWriter, r *http.Request) {
	userID, sessionID, ok := h.ids(w, r)
	if !ok {
		return
	}
	result, err := h.engine.ConfirmMeeting(r.Context(), userID, sessionID)
	if err != nil {
		h.writeEngineError(w, userID, err)
		return
	}
	JSON(w, http.StatusOK, result)
}

// HandleReset clears the session atomically.
func (h *Handler) HandleReset(w http.ResponseWriter, r *http.Request) {
	userID, sessionID, ok := h.ids(w, r)
	if !ok {
		return
	}
	if err := h.engine.Reset(r.Context(), userID, sessionID); err != nil {
		slog.Error("session reset failed", "user_id", userID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to reset session")
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

func (h *Handler) ids(w http.ResponseWriter, r *http.Request) (string, string, bool) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return "", "", false
	}
	return userID, identity.SessionIDFromContext(r.Context()), true
}

// writeEngineError maps engine failures onto the error taxonomy the UI
// understands.
func (h *Handler) writeEngineError(w http.ResponseWriter, userID string, err error) {
	switch {
	case errors.Is(err, engine.ErrReplyPending):
		Error(w, http.StatusConflict, "a reply is still on its way, hang on")
	case errors.Is(err, engine.ErrMeetingRequired):
		Error(w, http.StatusConflict, "book your onboarding call first")
	case errors.Is(err, llm.ErrRateLimited):
		Error(w, http.StatusTooManyRequests, "the assistant is busy right now, try again shortly")
	case errors.Is(err, engine.ErrEmptyCompletion):
		Error(w, http.StatusBadGateway, "the assistant had trouble responding, please try again")
	default:
		slog.Error("assistant request failed", "user_id", userID, "error", err)
		Error(w, http.StatusBadGateway, "the assistant had trouble responding, please try again")
	}
}
