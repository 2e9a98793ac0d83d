package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sandrun-io/sandrun/internal/language"
	"github.com/sandrun-io/sandrun/internal/pool"
	"github.com/sandrun-io/sandrun/internal/session"
)

// CreateSession allocates a dedicated sandbox bound to a new session.
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Language string `json:"language"`
		UserID   string `json:"user_id"`
	}
	if err := h.DecodeJSON(r, &req); err != nil {
		h.Error(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Language == "" {
		req.Language = "python"
	}
	if req.UserID == "" {
		h.Error(w, http.StatusBadRequest, "user_id is required")
		return
	}

	lang, err := h.coord.CanonicalLanguage(req.Language)
	if errors.Is(err, language.ErrUnsupported) {
		h.Error(w, http.StatusBadRequest, "Unsupported language: "+req.Language)
		return
	}

	sess, err := h.sessions.Create(r.Context(), req.UserID, lang)
	if err != nil {
		if errors.Is(err, pool.ErrNoCapacity) {
			h.Error(w, http.StatusServiceUnavailable, "No sandbox available")
			return
		}
		h.log.Error("session creation failed", "user_id", req.UserID, "error", err)
		h.Error(w, http.StatusServiceUnavailable, "No sandbox available")
		return
	}

	h.JSON(w, http.StatusOK, map[string]string{
		"session_id": sess.ID,
		"language":   lang,
		"message":    "Session created successfully",
	})
}

// EndSession tears a session down and returns its sandbox to the pool.
func (h *Handler) EndSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	if err := h.sessions.End(r.Context(), sessionID); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			h.Error(w, http.StatusNotFound, "Session not found")
			return
		}
		h.log.Error("session end failed", "session_id", sessionID, "error", err)
		h.Error(w, http.StatusInternalServerError, "Failed to end session")
		return
	}

	h.JSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Session ended successfully",
	})
}
