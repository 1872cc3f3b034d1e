// Package app provides the application services that expose the core's
// boundary operations to its collaborators: the planner creates tasks, the
// worker reports runs and artifacts, and the judge settles blocked tasks.
package app

import (
	"context"

	"github.com/Andyyyy64/opentiger/pkg/domain"
	taskdomain "github.com/Andyyyy64/opentiger/pkg/domain/task"
	"github.com/Andyyyy64/opentiger/pkg/metrics"
)

// ---------------------------------------------------------------------------
// Planner application service
// ---------------------------------------------------------------------------

// CreateTaskInput is the planner → core contract.
type CreateTaskInput struct {
	Title          string            `json:"title"`
	Goal           string            `json:"goal"`
	Kind           string            `json:"kind,omitempty"`
	Priority       int               `json:"priority,omitempty"`
	RiskLevel      string            `json:"risk_level,omitempty"`
	AllowedPaths   []string          `json:"allowed_paths,omitempty"`
	Commands       []string          `json:"commands,omitempty"`
	Dependencies   []domain.EntityID `json:"dependencies,omitempty"`
	TimeboxMinutes int               `json:"timebox_minutes,omitempty"`
}

// PlannerService accepts tasks from the planner.
type PlannerService struct {
	tasks   taskdomain.Repository
	bus     domain.EventBus
	clock   domain.Clock
	metrics *metrics.Metrics
}

// NewPlannerService creates a planner service.
func NewPlannerService(tasks taskdomain.Repository, bus domain.EventBus, clock domain.Clock, m *metrics.Metrics) *PlannerService {
	if bus == nil {
		bus = domain.NopBus{}
	}
	return &PlannerService{tasks: tasks, bus: bus, clock: clock, metrics: m}
}

// CreateTask validates the input against the task schema and persists the
// task as queued.
func (s *PlannerService) CreateTask(ctx context.Context, input CreateTaskInput) (*taskdomain.Task, error) {
	now := s.clock()
	t := taskdomain.New(input.Title, input.Goal, now)
	t.Kind = input.Kind
	t.Priority = input.Priority
	t.RiskLevel = input.RiskLevel
	t.AllowedPaths = input.AllowedPaths
	t.Commands = input.Commands
	t.Dependencies = input.Dependencies
	if input.TimeboxMinutes != 0 {
		t.TimeboxMinutes = input.TimeboxMinutes
	}

	if err := t.Validate(); err != nil {
		return nil, err
	}
	if err := s.tasks.Create(ctx, t); err != nil {
		return nil, err
	}

	s.metrics.IncTasksCreated()
	s.bus.Publish(domain.NewEvent(domain.EventTaskCreated, t.ID, now, map[string]string{
		"title": t.Title,
	}))
	return t, nil
}

// GetTask retrieves a task.
func (s *PlannerService) GetTask(ctx context.Context, id domain.EntityID) (*taskdomain.Task, error) {
	return s.tasks.Get(ctx, id)
}

// ListTasks returns tasks, optionally filtered by status.
func (s *PlannerService) ListTasks(ctx context.Context, status taskdomain.Status) ([]*taskdomain.Task, error) {
	return s.tasks.List(ctx, status)
}
