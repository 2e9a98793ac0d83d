package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sandrun-io/sandrun/internal/executor"
	"github.com/sandrun-io/sandrun/internal/language"
	"github.com/sandrun-io/sandrun/internal/logger"
	"github.com/sandrun-io/sandrun/internal/middleware"
	"github.com/sandrun-io/sandrun/internal/pool"
	"github.com/sandrun-io/sandrun/internal/sandbox"
	"github.com/sandrun-io/sandrun/internal/sandbox/mock"
	"github.com/sandrun-io/sandrun/internal/session"
)

const testToken = "test-internal-token"

func newTestServer(t *testing.T, maxSize int) (*httptest.Server, *mock.Provider, *session.Registry) {
	t.Helper()
	provider := mock.NewProvider()
	p := pool.New(provider, maxSize, logger.NewNop())
	sessions := session.NewRegistry(p, logger.NewNop())
	registry, err := language.NewRegistry([]string{"python", "node", "bash", "c"})
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}
	coord := executor.New(p, sessions, registry, provider, 30, 300, time.Second, logger.NewNop())
	h := New(coord, sessions, logger.NewNop())

	r := chi.NewRouter()
	r.Get("/health", h.Health)
	r.Group(func(r chi.Router) {
		r.Use(middleware.InternalAuth(testToken))
		r.Post("/execute", h.Execute)
		r.Post("/sessions", h.CreateSession)
		r.Delete("/sessions/{sessionID}", h.EndSession)
	})

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, provider, sessions
}

func doJSON(t *testing.T, method, url string, body any, token string) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Internal-Auth-Token", token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	var decoded map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp, decoded
}

func TestHealthIsPublic(t *testing.T) {
	srv, _, _ := newTestServer(t, 5)

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/health", nil, "")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	if body["status"] != "healthy" {
		t.Errorf("body = %v", body)
	}
}

func TestExecuteRequiresAuth(t *testing.T) {
	srv, provider, _ := newTestServer(t, 5)

	tests := []struct {
		name    string
		token   string
		wantMsg string
	}{
		{"missing token", "", "No authentication token provided"},
		{"wrong token", "wrong", "Invalid authentication token"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := doJSON(t, http.MethodPost, srv.URL+"/execute",
				map[string]any{"code": "print(1)", "language": "python"}, tt.token)
			if resp.StatusCode != http.StatusForbidden {
				t.Errorf("status = %d, want 403", resp.StatusCode)
			}
			if body["error"] != tt.wantMsg {
				t.Errorf("error = %v, want %q", body["error"], tt.wantMsg)
			}
		})
	}
	if got := provider.Created(); len(got) != 0 {
		t.Errorf("unauthenticated request reached the pool: %v", got)
	}
}

func TestExecuteSuccess(t *testing.T) {
	srv, provider, _ := newTestServer(t, 5)

	provider.RunInterpreterFunc = func(ctx context.Context, sandboxID, lang, code string) (*sandbox.RunResult, error) {
		return &sandbox.RunResult{Stdout: "2\n", ExitCode: 0}, nil
	}

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/execute",
		map[string]any{"code": "print(1 + 1)", "language": "python"}, testToken)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if body["output"] != "2\n" {
		t.Errorf("output = %v", body["output"])
	}
	if body["error"] != nil {
		t.Errorf("error = %v, want null", body["error"])
	}
	if body["exit_code"] != float64(0) {
		t.Errorf("exit_code = %v", body["exit_code"])
	}
}

func TestExecuteErrorMapping(t *testing.T) {
	srv, _, _ := newTestServer(t, 0) // zero capacity

	tests := []struct {
		name       string
		body       map[string]any
		wantStatus int
		wantError  string
	}{
		{
			name:       "unsupported language",
			body:       map[string]any{"code": "x", "language": "ruby"},
			wantStatus: http.StatusBadRequest,
			wantError:  "Unsupported language: ruby",
		},
		{
			name:       "no capacity",
			body:       map[string]any{"code": "x", "language": "python"},
			wantStatus: http.StatusServiceUnavailable,
			wantError:  "No sandbox available",
		},
		{
			name:       "session not found",
			body:       map[string]any{"code": "x", "language": "python", "session_id": "missing"},
			wantStatus: http.StatusNotFound,
			wantError:  "Session not found",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := doJSON(t, http.MethodPost, srv.URL+"/execute", tt.body, testToken)
			if resp.StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
			if body["error"] != tt.wantError {
				t.Errorf("error = %v, want %q", body["error"], tt.wantError)
			}
		})
	}
}

func TestExecuteInvalidBody(t *testing.T) {
	srv, _, _ := newTestServer(t, 5)

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/execute", strings.NewReader("{not json"))
	req.Header.Set("Internal-Auth-Token", testToken)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestSessionLifecycleOverHTTP(t *testing.T) {
	srv, _, sessions := newTestServer(t, 5)

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/sessions",
		map[string]any{"language": "javascript", "user_id": "user-1"}, testToken)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200: %v", resp.StatusCode, body)
	}
	sessionID, _ := body["session_id"].(string)
	if sessionID == "" {
		t.Fatalf("no session_id in %v", body)
	}
	if body["language"] != "node" {
		t.Errorf("language = %v, want canonical node", body["language"])
	}
	if body["message"] != "Session created successfully" {
		t.Errorf("message = %v", body["message"])
	}
	if got := sessions.Len(); got != 1 {
		t.Errorf("sessions.Len() = %d, want 1", got)
	}

	resp, body = doJSON(t, http.MethodDelete, srv.URL+"/sessions/"+sessionID, nil, testToken)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if body["success"] != true {
		t.Errorf("success = %v", body["success"])
	}
	if got := sessions.Len(); got != 0 {
		t.Errorf("sessions.Len() = %d, want 0", got)
	}

	// Ending again is a 404.
	resp, body = doJSON(t, http.MethodDelete, srv.URL+"/sessions/"+sessionID, nil, testToken)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
	if body["error"] != "Session not found" {
		t.Errorf("error = %v", body["error"])
	}
}

func TestCreateSessionValidation(t *testing.T) {
	srv, _, _ := newTestServer(t, 5)

	tests := []struct {
		name       string
		body       map[string]any
		wantStatus int
		wantError  string
	}{
		{
			name:       "missing user_id",
			body:       map[string]any{"language": "python"},
			wantStatus: http.StatusBadRequest,
			wantError:  "user_id is required",
		},
		{
			name:       "unsupported language",
			body:       map[string]any{"language": "ruby", "user_id": "user-1"},
			wantStatus: http.StatusBadRequest,
			wantError:  "Unsupported language: ruby",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := doJSON(t, http.MethodPost, srv.URL+"/sessions", tt.body, testToken)
			if resp.StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
			if body["error"] != tt.wantError {
				t.Errorf("error = %v, want %q", body["error"], tt.wantError)
			}
		})
	}
}

func TestCreateSessionNoCapacity(t *testing.T) {
	srv, _, _ := newTestServer(t, 0)

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/sessions",
		map[string]any{"language": "python", "user_id": "user-1"}, testToken)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", resp.StatusCode)
	}
	if body["error"] != "No sandbox available" {
		t.Errorf("error = %v", body["error"])
	}
}
