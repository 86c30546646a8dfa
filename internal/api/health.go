package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/eduflowhq/eduflow/internal/store"
)

// HealthHandler reports service and database health.
type HealthHandler struct {
	repo store.Repository
}

// NewHealthHandler creates a health handler.
func NewHealthHandler(repo store.Repository) *HealthHandler {
	return &HealthHandler{repo: repo}
}

// RegisterRoutes mounts the health endpoint.
func (h *HealthHandler) RegisterRoutes(r chi.Router) {
	r.Get("/api/health", h.HandleHealth)
}

// HandleHealth verifies database connectivity and reports status.
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	status := map[string]string{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	}
	if err := h.repo.Ping(r.Context()); err != nil {
		status["status"] = "degraded"
		status["database"] = "unreachable"
		JSON(w, http.StatusServiceUnavailable, status)
		return
	}
	status["database"] = "ok"
	JSON(w, http.StatusOK, status)
}
