// Package api serves the core's boundary operations over HTTP plus a
// WebSocket stream of domain events. Collaborators — planner, workers,
// judge — talk to the core exclusively through this surface or through the
// in-process services it wraps.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Andyyyy64/opentiger/pkg/app"
	"github.com/Andyyyy64/opentiger/pkg/domain"
)

// Server is the HTTP API server.
type Server struct {
	addr      string
	apiKey    string
	container *app.Container
	wsHub     *WSHub
	server    *http.Server
	log       *slog.Logger
}

// NewServer creates an API server over a wired container.
func NewServer(addr, apiKey string, container *app.Container, log *slog.Logger) *Server {
	s := &Server{
		addr:      addr,
		apiKey:    apiKey,
		container: container,
		log:       log,
	}
	s.wsHub = NewWSHub(s)
	return s
}

// Start begins serving and bridges domain events onto the WebSocket hub.
// Blocks until the context ends or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	s.bridgeEvents()
	go s.wsHub.Run(ctx)

	mux := http.NewServeMux()

	// Boundary operations
	mux.HandleFunc("POST /api/tasks", s.handleCreateTask)
	mux.HandleFunc("GET /api/tasks", s.handleListTasks)
	mux.HandleFunc("GET /api/tasks/{id}", s.handleGetTask)
	mux.HandleFunc("POST /api/tasks/{id}/judge", s.handleJudgeTask)
	mux.HandleFunc("POST /api/runs/{id}/complete", s.handleCompleteRun)
	mux.HandleFunc("POST /api/runs/{id}/artifacts", s.handleRecordArtifact)
	mux.HandleFunc("POST /api/tasks/{id}/extend", s.handleExtendLease)

	// Fleet membership
	mux.HandleFunc("POST /api/agents", s.handleRegisterAgent)
	mux.HandleFunc("GET /api/agents", s.handleListAgents)
	mux.HandleFunc("POST /api/agents/{id}/heartbeat", s.handleHeartbeat)

	// Observability
	mux.HandleFunc("GET /api/leases", s.handleListLeases)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.container.Registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("GET /ws", s.handleWS)

	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.withMiddleware(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("api server listening", "addr", s.addr)
		errCh <- s.server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) withMiddleware(next http.Handler) http.Handler {
	return s.logMiddleware(authMiddleware(s.apiKey, s.log, next))
}

func (s *Server) logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.Debug("http request",
			"method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}

// bridgeEvents fans every domain event out to connected WebSocket clients.
func (s *Server) bridgeEvents() {
	s.container.EventBus.SubscribeAll(func(e domain.Event) {
		s.wsHub.Broadcast(WSEvent{
			Type:      string(e.EventType()),
			Timestamp: e.OccurredAt().Format(time.RFC3339Nano),
			Data:      e.Payload(),
		})
	})
}

// --- JSON helpers ---

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func decodeJSON(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
