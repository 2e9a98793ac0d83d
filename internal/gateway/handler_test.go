package gateway

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"

	"github.com/sandrun-io/sandrun/internal/logger"
)

const (
	testSecret        = "gateway-test-secret"
	testInternalToken = "internal-token"
)

func signToken(t *testing.T, secret, sub string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": sub,
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

// newGateway wires a gateway test server in front of the given fake
// execution service.
func newGateway(t *testing.T, upstream string) *httptest.Server {
	t.Helper()
	client := NewClient(upstream, testInternalToken)
	h := NewHandler(client, logger.NewNop())

	r := chi.NewRouter()
	r.Route("/v1/code_interpreter", func(r chi.Router) {
		r.Use(BearerAuth(testSecret))
		r.Post("/run", h.Run)
		r.Post("/sessions", h.CreateSession)
		r.Delete("/sessions/{sessionID}", h.EndSession)
	})

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func call(t *testing.T, method, url, bearer string, body any) (*http.Response, map[string]any) {
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
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
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

func TestRunRequiresBearerToken(t *testing.T) {
	srv := newGateway(t, "http://127.0.0.1:0")

	tests := []struct {
		name   string
		bearer string
	}{
		{"no token", ""},
		{"garbage token", "not-a-jwt"},
		{"wrong secret", signToken(t, "other-secret", "user-1")},
		{"no subject", signToken(t, testSecret, "")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := call(t, http.MethodPost, srv.URL+"/v1/code_interpreter/run",
				tt.bearer, map[string]any{"code": "print(1)"})
			if resp.StatusCode != http.StatusUnauthorized {
				t.Errorf("status = %d, want 401", resp.StatusCode)
			}
			if body["error"] != "Could not validate credentials" {
				t.Errorf("error = %v", body["error"])
			}
			if got := resp.Header.Get("WWW-Authenticate"); got != "Bearer" {
				t.Errorf("WWW-Authenticate = %q", got)
			}
		})
	}
}

func TestRunForwardsAndAugments(t *testing.T) {
	var forwarded map[string]any
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Internal-Auth-Token"); got != testInternalToken {
			t.Errorf("internal token = %q", got)
		}
		payload, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(payload, &forwarded); err != nil {
			t.Errorf("decode forwarded body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"output":"2\n","error":null,"exit_code":0}`))
	}))
	t.Cleanup(upstream.Close)

	srv := newGateway(t, upstream.URL)
	bearer := signToken(t, testSecret, "user-42")

	resp, body := call(t, http.MethodPost, srv.URL+"/v1/code_interpreter/run", bearer,
		map[string]any{
			"code":     "print(1 + 1)",
			"language": "python",
			"files":    map[string]string{"/tmp/in.txt": "data"},
		})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200: %v", resp.StatusCode, body)
	}

	// The gateway stamps identity and tracking fields before forwarding.
	if forwarded["user_id"] != "user-42" {
		t.Errorf("forwarded user_id = %v", forwarded["user_id"])
	}
	if forwarded["execution_id"] == "" || forwarded["execution_id"] == nil {
		t.Error("no execution_id forwarded")
	}
	if forwarded["code"] != "print(1 + 1)" {
		t.Errorf("forwarded code = %v", forwarded["code"])
	}
	if files, ok := forwarded["files"].(map[string]any); !ok || files["/tmp/in.txt"] != "data" {
		t.Errorf("forwarded files = %v", forwarded["files"])
	}

	// The response carries the upstream result plus gateway bookkeeping.
	if body["output"] != "2\n" {
		t.Errorf("output = %v", body["output"])
	}
	if body["execution_id"] != forwarded["execution_id"] {
		t.Errorf("execution_id mismatch: %v vs %v", body["execution_id"], forwarded["execution_id"])
	}
	if _, ok := body["duration_ms"]; !ok {
		t.Error("no duration_ms in response")
	}
}

func TestRunDefaultsLanguageToPython(t *testing.T) {
	var forwarded map[string]any
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		payload, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(payload, &forwarded)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"output":"","error":null,"exit_code":0}`))
	}))
	t.Cleanup(upstream.Close)

	srv := newGateway(t, upstream.URL)
	bearer := signToken(t, testSecret, "user-1")

	resp, _ := call(t, http.MethodPost, srv.URL+"/v1/code_interpreter/run", bearer,
		map[string]any{"code": "print(1)"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if forwarded["language"] != "python" {
		t.Errorf("forwarded language = %v, want python", forwarded["language"])
	}
}

func TestRunDefaultsTimeout(t *testing.T) {
	var forwarded map[string]any
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		payload, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(payload, &forwarded)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"output":"","error":null,"exit_code":0}`))
	}))
	t.Cleanup(upstream.Close)

	srv := newGateway(t, upstream.URL)
	bearer := signToken(t, testSecret, "user-1")

	// No timeout in the request: the default is applied before forwarding,
	// so the client's HTTP deadline is default+buffer, not just the buffer.
	resp, _ := call(t, http.MethodPost, srv.URL+"/v1/code_interpreter/run", bearer,
		map[string]any{"code": "print(1)"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if forwarded["timeout"] != float64(30) {
		t.Errorf("forwarded timeout = %v, want 30", forwarded["timeout"])
	}

	// An explicit timeout passes through untouched.
	resp, _ = call(t, http.MethodPost, srv.URL+"/v1/code_interpreter/run", bearer,
		map[string]any{"code": "print(1)", "timeout": 90})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if forwarded["timeout"] != float64(90) {
		t.Errorf("forwarded timeout = %v, want 90", forwarded["timeout"])
	}
}

func TestRunPassesUpstreamStatusThrough(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":"No sandbox available"}`))
	}))
	t.Cleanup(upstream.Close)

	srv := newGateway(t, upstream.URL)
	bearer := signToken(t, testSecret, "user-1")

	resp, body := call(t, http.MethodPost, srv.URL+"/v1/code_interpreter/run", bearer,
		map[string]any{"code": "print(1)"})
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", resp.StatusCode)
	}
	if body["error"] != "No sandbox available" {
		t.Errorf("error = %v", body["error"])
	}
}

func TestRunUnreachableUpstreamIs502(t *testing.T) {
	// Nothing listens here.
	srv := newGateway(t, "http://127.0.0.1:1")
	bearer := signToken(t, testSecret, "user-1")

	resp, body := call(t, http.MethodPost, srv.URL+"/v1/code_interpreter/run", bearer,
		map[string]any{"code": "print(1)"})
	if resp.StatusCode != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", resp.StatusCode)
	}
	if body["error"] != "Execution service unavailable" {
		t.Errorf("error = %v", body["error"])
	}
}

func TestCreateSessionForwardsIdentity(t *testing.T) {
	var forwarded map[string]any
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		payload, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(payload, &forwarded)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"session_id":"s-1","language":"python","message":"Session created successfully"}`))
	}))
	t.Cleanup(upstream.Close)

	srv := newGateway(t, upstream.URL)
	bearer := signToken(t, testSecret, "user-7")

	// Empty body: the language defaults to python.
	resp, body := call(t, http.MethodPost, srv.URL+"/v1/code_interpreter/sessions", bearer, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200: %v", resp.StatusCode, body)
	}
	if forwarded["user_id"] != "user-7" {
		t.Errorf("forwarded user_id = %v", forwarded["user_id"])
	}
	if forwarded["language"] != "python" {
		t.Errorf("forwarded language = %v", forwarded["language"])
	}
	if body["session_id"] != "s-1" {
		t.Errorf("session_id = %v", body["session_id"])
	}
}

func TestEndSession(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete || r.URL.Path != "/sessions/s-1" {
			t.Errorf("upstream got %s %s", r.Method, r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true,"message":"Session ended successfully"}`))
	}))
	t.Cleanup(upstream.Close)

	srv := newGateway(t, upstream.URL)
	bearer := signToken(t, testSecret, "user-1")

	resp, body := call(t, http.MethodDelete, srv.URL+"/v1/code_interpreter/sessions/s-1", bearer, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if body["success"] != true {
		t.Errorf("success = %v", body["success"])
	}
}
