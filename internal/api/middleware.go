package api

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
)

// AdminAuth guards the run history API with a single shared key
type AdminAuth struct {
	key string
}

// NewAdminAuth creates the middleware; an empty key disables the check
func NewAdminAuth(key string) *AdminAuth {
	return &AdminAuth{key: key}
}

// Authenticate verifies the API key from the Authorization or X-API-Key header.
// Supports "Bearer <key>" and a raw key.
func (m *AdminAuth) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.key == "" {
			next.ServeHTTP(w, r)
			return
		}

		apiKey := extractAPIKey(r)
		if apiKey == "" {
			respondError(w, http.StatusUnauthorized, "missing_api_key", "provide Authorization header with Bearer token or X-API-Key header")
			return
		}

		if subtle.ConstantTimeCompare([]byte(apiKey), []byte(m.key)) != 1 {
			slog.Warn("invalid api key attempt", "key_prefix", maskSecret(apiKey), "remote_addr", r.RemoteAddr)
			respondError(w, http.StatusUnauthorized, "invalid_api_key", "the provided api key is not valid")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// extractAPIKey extracts API key from request headers
func extractAPIKey(r *http.Request) string {
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}
	// Browser websocket clients cannot set headers
	return r.URL.Query().Get("api_key")
}

// maskSecret keeps the first four characters for logs
func maskSecret(s string) string {
	if len(s) < 8 {
		return "***"
	}
	return s[:4] + "..."
}
