// Package middleware provides HTTP middleware for the execution service.
package middleware

import (
	"crypto/subtle"
	"net/http"
)

// internalAuthHeader carries the shared secret on internal endpoints.
const internalAuthHeader = "Internal-Auth-Token"

// InternalAuth rejects requests whose Internal-Auth-Token header does not
// match the process-wide secret. Comparison is constant-time.
func InternalAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get(internalAuthHeader)
			if got == "" {
				writeForbidden(w, "No authentication token provided")
				return
			}
			if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				writeForbidden(w, "Invalid authentication token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeForbidden(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusForbidden)
	_, _ = w.Write([]byte(`{"error":"` + msg + `"}`))
}
