// Package gateway implements the public API surface. It authenticates
// callers, normalises requests, and forwards them to the execution service.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// internalAuthHeader carries the shared secret to the execution service.
const internalAuthHeader = "Internal-Auth-Token"

// Client talks to the execution service's internal HTTP surface.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient creates a Client for the execution service at baseURL.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{},
	}
}

// UpstreamError is a non-200 from the execution service, carried through to
// the public surface with its status intact.
type UpstreamError struct {
	StatusCode int
	Message    string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("execution service returned %d: %s", e.StatusCode, e.Message)
}

// Execute forwards an execution request. The HTTP timeout is the execution
// timeout plus a buffer so the service's own deadline fires first.
func (c *Client) Execute(ctx context.Context, req map[string]any, timeoutSeconds int) (map[string]any, error) {
	callCtx, cancel := context.WithTimeout(ctx, time.Duration(timeoutSeconds+5)*time.Second)
	defer cancel()
	return c.post(callCtx, "/execute", req)
}

// CreateSession forwards a session creation request.
func (c *Client) CreateSession(ctx context.Context, language, userID string) (map[string]any, error) {
	return c.post(ctx, "/sessions", map[string]any{
		"language": language,
		"user_id":  userID,
	})
}

// EndSession forwards a session deletion.
func (c *Client) EndSession(ctx context.Context, sessionID string) (map[string]any, error) {
	return c.do(ctx, http.MethodDelete, "/sessions/"+sessionID, nil)
}

func (c *Client) post(ctx context.Context, path string, body map[string]any) (map[string]any, error) {
	return c.do(ctx, http.MethodPost, path, body)
}

func (c *Client) do(ctx context.Context, method, path string, body map[string]any) (map[string]any, error) {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(internalAuthHeader, c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execution service unreachable: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		msg := string(payload)
		var decoded struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(payload, &decoded) == nil && decoded.Error != "" {
			msg = decoded.Error
		}
		return nil, &UpstreamError{StatusCode: resp.StatusCode, Message: msg}
	}

	var result map[string]any
	if err := json.Unmarshal(payload, &result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return result, nil
}
