// API authentication middleware — static bearer token.
//
// When API_KEY is non-empty, all API requests MUST carry:
//
//	Authorization: Bearer <api_key>
//
// or:
//
//	X-API-Key: <api_key>
//
// Exempt routes (no token required):
//   - GET /healthz
//   - GET /metrics
//
// WebSocket upgrade requests check the token in the query param as fallback:
//
//	ws://host/ws?token=<api_key>
//
// When API_KEY is empty the middleware is a pass-through; a warning is
// logged once at startup.
package api

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
)

func authMiddleware(apiKey string, log *slog.Logger, next http.Handler) http.Handler {
	if apiKey == "" {
		log.Warn("api auth disabled — set API_KEY to protect this surface")
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		if !tokenValid(extractToken(r), apiKey) {
			w.Header().Set("WWW-Authenticate", `Bearer realm="opentiger"`)
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func isPublicPath(path string) bool {
	return path == "/healthz" || path == "/metrics"
}

func extractToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}
	// WebSocket clients cannot set headers from browsers; allow the query
	// param as a fallback for the upgrade request only.
	if r.URL.Path == "/ws" {
		return r.URL.Query().Get("token")
	}
	return ""
}

func tokenValid(token, apiKey string) bool {
	return subtle.ConstantTimeCompare([]byte(token), []byte(apiKey)) == 1
}
