package handler

import (
	"errors"
	"net/http"

	"github.com/sandrun-io/sandrun/internal/executor"
	"github.com/sandrun-io/sandrun/internal/language"
	"github.com/sandrun-io/sandrun/internal/pool"
	"github.com/sandrun-io/sandrun/internal/session"
)

// Execute runs code in a sandbox. Timeouts and execution failures come back
// as 200 with an error payload; only capacity and validation problems map to
// HTTP errors.
func (h *Handler) Execute(w http.ResponseWriter, r *http.Request) {
	var req executor.Request
	if err := h.DecodeJSON(r, &req); err != nil {
		h.Error(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	result, err := h.coord.Execute(r.Context(), &req)
	if err != nil {
		switch {
		case errors.Is(err, language.ErrUnsupported):
			h.Error(w, http.StatusBadRequest, "Unsupported language: "+req.Language)
		case errors.Is(err, pool.ErrNoCapacity):
			h.Error(w, http.StatusServiceUnavailable, "No sandbox available")
		case errors.Is(err, session.ErrNotFound):
			h.Error(w, http.StatusNotFound, "Session not found")
		default:
			h.log.Error("execution failed",
				"execution_id", req.ExecutionID,
				"error", err,
			)
			h.Error(w, http.StatusServiceUnavailable, "No sandbox available")
		}
		return
	}

	h.JSON(w, http.StatusOK, result)
}
