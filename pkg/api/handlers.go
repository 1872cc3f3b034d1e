package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/Andyyyy64/opentiger/pkg/app"
	"github.com/Andyyyy64/opentiger/pkg/domain"
	agentdomain "github.com/Andyyyy64/opentiger/pkg/domain/agent"
	artifactdomain "github.com/Andyyyy64/opentiger/pkg/domain/artifact"
	leasedomain "github.com/Andyyyy64/opentiger/pkg/domain/lease"
	rundomain "github.com/Andyyyy64/opentiger/pkg/domain/run"
	taskdomain "github.com/Andyyyy64/opentiger/pkg/domain/task"
	"github.com/Andyyyy64/opentiger/pkg/orchestration"
)

// --- Tasks ---

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var input app.CreateTaskInput
	if err := decodeJSON(r, &input); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	t, err := s.container.Planner.CreateTask(r.Context(), input)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	status := taskdomain.Status(r.URL.Query().Get("status"))
	tasks, err := s.container.Planner.ListTasks(r.Context(), status)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	t, err := s.container.Planner.GetTask(r.Context(), domain.EntityID(r.PathValue("id")))
	if errors.Is(err, taskdomain.ErrNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleJudgeTask(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Approved bool `json:"approved"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	err := s.container.Judge.CompleteTask(r.Context(), domain.EntityID(r.PathValue("id")), body.Approved)
	switch {
	case errors.Is(err, taskdomain.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, app.ErrNotAwaitingJudge):
		writeError(w, http.StatusConflict, err)
	case err != nil:
		writeError(w, http.StatusInternalServerError, err)
	default:
		writeJSON(w, http.StatusOK, map[string]string{"status": "applied"})
	}
}

// --- Runs ---

func (s *Server) handleCompleteRun(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Outcome      string               `json:"outcome"`
		ErrorMessage string               `json:"error_message,omitempty"`
		ErrorMeta    *rundomain.ErrorMeta `json:"error_meta,omitempty"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	err := s.container.Worker.CompleteRun(r.Context(),
		domain.EntityID(r.PathValue("id")),
		orchestration.Outcome(body.Outcome),
		body.ErrorMessage, body.ErrorMeta)
	switch {
	case errors.Is(err, rundomain.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case err != nil:
		writeError(w, http.StatusUnprocessableEntity, err)
	default:
		writeJSON(w, http.StatusOK, map[string]string{"status": "applied"})
	}
}

func (s *Server) handleRecordArtifact(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Type     string          `json:"type"`
		Ref      string          `json:"ref,omitempty"`
		URL      string          `json:"url,omitempty"`
		Metadata domain.Metadata `json:"metadata,omitempty"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	a, err := s.container.Worker.RecordArtifact(r.Context(),
		domain.EntityID(r.PathValue("id")),
		artifactdomain.Type(body.Type), body.Ref, body.URL, body.Metadata)
	switch {
	case errors.Is(err, rundomain.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, artifactdomain.ErrInvalidType):
		writeError(w, http.StatusUnprocessableEntity, err)
	case err != nil:
		writeError(w, http.StatusInternalServerError, err)
	default:
		writeJSON(w, http.StatusCreated, a)
	}
}

func (s *Server) handleExtendLease(w http.ResponseWriter, r *http.Request) {
	var body struct {
		AdditionalMinutes int `json:"additional_minutes"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if body.AdditionalMinutes <= 0 {
		body.AdditionalMinutes = 60
	}
	err := s.container.Worker.ExtendLease(r.Context(),
		domain.EntityID(r.PathValue("id")),
		time.Duration(body.AdditionalMinutes)*time.Minute)
	switch {
	case errors.Is(err, leasedomain.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case err != nil:
		writeError(w, http.StatusInternalServerError, err)
	default:
		writeJSON(w, http.StatusOK, map[string]string{"status": "extended"})
	}
}

// --- Agents ---

func (s *Server) handleRegisterAgent(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ID       string          `json:"id"`
		Role     string          `json:"role"`
		Metadata domain.Metadata `json:"metadata,omitempty"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	a, err := s.container.Fleet.RegisterAgent(r.Context(), body.ID, agentdomain.Role(body.Role), body.Metadata)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := s.container.Fleet.ListAgents(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, agents)
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	err := s.container.Fleet.Heartbeat(r.Context(), r.PathValue("id"))
	switch {
	case errors.Is(err, agentdomain.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case err != nil:
		writeError(w, http.StatusInternalServerError, err)
	default:
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// --- Observability ---

func (s *Server) handleListLeases(w http.ResponseWriter, r *http.Request) {
	leases, err := s.container.Fleet.ActiveLeases(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, leases)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snapshot, err := s.container.Fleet.Snapshot(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.container.Store.DB().PingContext(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
