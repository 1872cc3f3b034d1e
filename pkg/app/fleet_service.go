package app

import (
	"context"

	"github.com/Andyyyy64/opentiger/pkg/domain"
	agentdomain "github.com/Andyyyy64/opentiger/pkg/domain/agent"
	leasedomain "github.com/Andyyyy64/opentiger/pkg/domain/lease"
	taskdomain "github.com/Andyyyy64/opentiger/pkg/domain/task"
)

// ---------------------------------------------------------------------------
// Fleet application service
// ---------------------------------------------------------------------------

// FleetService manages agent membership and exposes fleet observability.
type FleetService struct {
	agents agentdomain.Repository
	tasks  taskdomain.Repository
	leases leasedomain.Repository
	bus    domain.EventBus
	clock  domain.Clock
}

// NewFleetService creates a fleet service.
func NewFleetService(
	agents agentdomain.Repository,
	tasks taskdomain.Repository,
	leases leasedomain.Repository,
	bus domain.EventBus,
	clock domain.Clock,
) *FleetService {
	if bus == nil {
		bus = domain.NopBus{}
	}
	return &FleetService{agents: agents, tasks: tasks, leases: leases, bus: bus, clock: clock}
}

// RegisterAgent adds an agent to the fleet, or refreshes its role and
// metadata when the id is already known.
func (s *FleetService) RegisterAgent(ctx context.Context, id string, role agentdomain.Role, meta domain.Metadata) (*agentdomain.Agent, error) {
	if id == "" || !role.Valid() {
		return nil, agentdomain.ErrInvalidRole
	}

	now := s.clock()
	a := agentdomain.New(id, role, now)
	a.Metadata = meta
	if err := s.agents.Register(ctx, a); err != nil {
		return nil, err
	}

	s.bus.Publish(domain.NewEvent(domain.EventAgentRegistered, domain.EntityID(id), now, map[string]string{
		"role": role.String(),
	}))
	return a, nil
}

// Heartbeat records one liveness tick for an agent.
func (s *FleetService) Heartbeat(ctx context.Context, id string) error {
	return s.agents.Heartbeat(ctx, id, s.clock())
}

// GetAgent retrieves an agent.
func (s *FleetService) GetAgent(ctx context.Context, id string) (*agentdomain.Agent, error) {
	return s.agents.Get(ctx, id)
}

// ListAgents returns the whole fleet.
func (s *FleetService) ListAgents(ctx context.Context) ([]*agentdomain.Agent, error) {
	return s.agents.List(ctx)
}

// ActiveLeases returns unexpired leases.
func (s *FleetService) ActiveLeases(ctx context.Context) ([]*leasedomain.Lease, error) {
	return s.leases.ListActive(ctx, s.clock())
}

// Status is the fleet snapshot served to observers.
type Status struct {
	Tasks        map[taskdomain.Status]int `json:"tasks"`
	ActiveLeases int                       `json:"active_leases"`
	Agents       map[agentdomain.Status]int `json:"agents"`
}

// Snapshot aggregates the current fleet state from the store.
func (s *FleetService) Snapshot(ctx context.Context) (*Status, error) {
	taskCounts, err := s.tasks.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}
	leases, err := s.leases.ListActive(ctx, s.clock())
	if err != nil {
		return nil, err
	}
	agents, err := s.agents.List(ctx)
	if err != nil {
		return nil, err
	}

	agentCounts := make(map[agentdomain.Status]int)
	for _, a := range agents {
		agentCounts[a.Status]++
	}
	return &Status{
		Tasks:        taskCounts,
		ActiveLeases: len(leases),
		Agents:       agentCounts,
	}, nil
}
