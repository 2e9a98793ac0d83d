// Package handler contains the HTTP handlers of the execution service's
// internal surface.
package handler

import (
	"encoding/json"
	"net/http"

	"github.com/sandrun-io/sandrun/internal/executor"
	"github.com/sandrun-io/sandrun/internal/logger"
	"github.com/sandrun-io/sandrun/internal/session"
)

// Handler contains all HTTP handlers of the execution service.
type Handler struct {
	coord    *executor.Coordinator
	sessions *session.Registry
	log      *logger.Logger
}

// New creates a Handler.
func New(coord *executor.Coordinator, sessions *session.Registry, log *logger.Logger) *Handler {
	return &Handler{
		coord:    coord,
		sessions: sessions,
		log:      log,
	}
}

// Health reports service liveness.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	h.JSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// JSON helper to write JSON responses
func (h *Handler) JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// Error helper to write error responses
func (h *Handler) Error(w http.ResponseWriter, status int, message string) {
	h.JSON(w, status, map[string]string{"error": message})
}

// DecodeJSON helper to decode request body
func (h *Handler) DecodeJSON(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}
