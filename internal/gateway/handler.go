package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/sandrun-io/sandrun/internal/logger"
)

// defaultTimeoutSeconds mirrors the execution service's default so the
// client's HTTP deadline (timeout plus buffer) stays behind the service's own
// deadline when the caller omits a timeout.
const defaultTimeoutSeconds = 30

// Handler contains the public code-interpreter endpoints.
type Handler struct {
	client *Client
	log    *logger.Logger
}

// NewHandler creates a Handler backed by the execution service client.
func NewHandler(client *Client, log *logger.Logger) *Handler {
	return &Handler{client: client, log: log}
}

// Run executes code on behalf of the authenticated user. The gateway stamps
// a fresh execution id and the user id from the bearer token before
// forwarding.
func (h *Handler) Run(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Code      string          `json:"code"`
		Language  string          `json:"language"`
		Timeout   int             `json:"timeout"`
		SessionID string          `json:"session_id,omitempty"`
		Files     json.RawMessage `json:"files,omitempty"`
	}
	if err := h.DecodeJSON(r, &req); err != nil {
		h.Error(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Language == "" {
		req.Language = "python"
	}
	if req.Timeout <= 0 {
		req.Timeout = defaultTimeoutSeconds
	}

	executionID := uuid.NewString()
	forward := map[string]any{
		"execution_id": executionID,
		"user_id":      UserID(r.Context()),
		"code":         req.Code,
		"language":     req.Language,
		"timeout":      req.Timeout,
	}
	if req.SessionID != "" {
		forward["session_id"] = req.SessionID
	}
	if len(req.Files) > 0 {
		forward["files"] = req.Files
	}

	start := time.Now()
	result, err := h.client.Execute(r.Context(), forward, req.Timeout)
	if err != nil {
		h.upstreamError(w, err)
		return
	}

	result["execution_id"] = executionID
	result["duration_ms"] = time.Since(start).Milliseconds()
	h.JSON(w, http.StatusOK, result)
}

// CreateSession opens a persistent session for the authenticated user.
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Language string `json:"language"`
	}
	if err := h.DecodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		h.Error(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Language == "" {
		req.Language = "python"
	}

	result, err := h.client.CreateSession(r.Context(), req.Language, UserID(r.Context()))
	if err != nil {
		h.upstreamError(w, err)
		return
	}
	h.JSON(w, http.StatusOK, result)
}

// EndSession tears down a session.
func (h *Handler) EndSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	if _, err := h.client.EndSession(r.Context(), sessionID); err != nil {
		h.upstreamError(w, err)
		return
	}
	h.JSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Session ended",
	})
}

// upstreamError carries execution-service statuses through unchanged and
// maps transport failures to 502.
func (h *Handler) upstreamError(w http.ResponseWriter, err error) {
	var upstream *UpstreamError
	if errors.As(err, &upstream) {
		h.Error(w, upstream.StatusCode, upstream.Message)
		return
	}
	h.log.Error("execution service call failed", "error", err)
	h.Error(w, http.StatusBadGateway, "Execution service unavailable")
}

var errEmptyBody = errors.New("empty body")

// DecodeJSON decodes the request body, mapping EOF on an empty body to
// errEmptyBody so optional bodies stay optional.
func (h *Handler) DecodeJSON(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return errEmptyBody
	}
	return err
}

// JSON writes a JSON response.
func (h *Handler) JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// Error writes an error response.
func (h *Handler) Error(w http.ResponseWriter, status int, message string) {
	h.JSON(w, status, map[string]string{"error": message})
}
