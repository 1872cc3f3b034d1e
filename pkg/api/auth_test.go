package api

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuthMiddleware(t *testing.T) {
	tests := []struct {
		name       string
		apiKey     string
		path       string
		setup      func(r *http.Request)
		wantStatus int
	}{
		{
			name:       "no key configured passes through",
			apiKey:     "",
			path:       "/api/tasks",
			setup:      func(r *http.Request) {},
			wantStatus: http.StatusOK,
		},
		{
			name:       "missing token rejected",
			apiKey:     "secret",
			path:       "/api/tasks",
			setup:      func(r *http.Request) {},
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:   "bearer token accepted",
			apiKey: "secret",
			path:   "/api/tasks",
			setup: func(r *http.Request) {
				r.Header.Set("Authorization", "Bearer secret")
			},
			wantStatus: http.StatusOK,
		},
		{
			name:   "x-api-key accepted",
			apiKey: "secret",
			path:   "/api/tasks",
			setup: func(r *http.Request) {
				r.Header.Set("X-API-Key", "secret")
			},
			wantStatus: http.StatusOK,
		},
		{
			name:   "wrong token rejected",
			apiKey: "secret",
			path:   "/api/tasks",
			setup: func(r *http.Request) {
				r.Header.Set("Authorization", "Bearer nope")
			},
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "healthz is public",
			apiKey:     "secret",
			path:       "/healthz",
			setup:      func(r *http.Request) {},
			wantStatus: http.StatusOK,
		},
		{
			name:       "metrics is public",
			apiKey:     "secret",
			path:       "/metrics",
			setup:      func(r *http.Request) {},
			wantStatus: http.StatusOK,
		},
		{
			name:       "websocket token via query param",
			apiKey:     "secret",
			path:       "/ws?token=secret",
			setup:      func(r *http.Request) {},
			wantStatus: http.StatusOK,
		},
		{
			name:       "query token ignored outside /ws",
			apiKey:     "secret",
			path:       "/api/tasks?token=secret",
			setup:      func(r *http.Request) {},
			wantStatus: http.StatusUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := authMiddleware(tt.apiKey, slog.Default(), okHandler())

			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			tt.setup(req)
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}
}
