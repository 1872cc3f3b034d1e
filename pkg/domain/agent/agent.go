// Package agent defines the Agent bounded context.
// An Agent is a process participating in the fleet, identified by a stable
// string id and assigned a role. Agent rows are shared metadata: status and
// current task are written only by lease reconciliation, dispatch, and
// heartbeat ticks.
package agent

import (
	"context"
	"time"

	"github.com/Andyyyy64/opentiger/pkg/domain"
)

// ---------------------------------------------------------------------------
// Agent aggregate
// ---------------------------------------------------------------------------

// Agent represents a fleet member.
type Agent struct {
	ID            string           `json:"id"`
	Role          Role             `json:"role"`
	Status        Status           `json:"status"`
	CurrentTaskID domain.EntityID  `json:"current_task_id,omitempty"`
	LastHeartbeat *time.Time       `json:"last_heartbeat,omitempty"`
	Metadata      domain.Metadata  `json:"metadata,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
}

// New creates an idle agent with the given identity and role.
func New(id string, role Role, at time.Time) *Agent {
	return &Agent{
		ID:        id,
		Role:      role,
		Status:    StatusIdle,
		CreatedAt: at,
	}
}

// Lanes returns the path-lane glob patterns this agent is constrained to.
// Lanes are carried in metadata under "lanes" as a comma-separated list;
// an agent with no lanes accepts any task.
func (a *Agent) Lanes() []string {
	raw := a.Metadata.Get("lanes")
	if raw == "" {
		return nil
	}
	var lanes []string
	start := 0
	for i := 0; i <= len(raw); i++ {
		if i == len(raw) || raw[i] == ',' {
			if p := raw[start:i]; p != "" {
				lanes = append(lanes, p)
			}
			start = i + 1
		}
	}
	return lanes
}

// ---------------------------------------------------------------------------
// Value objects
// ---------------------------------------------------------------------------

// Role identifies an agent's function in the fleet.
type Role string

const (
	RolePlanner Role = "planner"
	RoleWorker  Role = "worker"
	RoleJudge   Role = "judge"
	RoleTester  Role = "tester"
)

func (r Role) String() string { return string(r) }

// Valid returns true if the role is recognized.
func (r Role) Valid() bool {
	switch r {
	case RolePlanner, RoleWorker, RoleJudge, RoleTester:
		return true
	}
	return false
}

// Status represents the operational state of an agent.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusBusy    Status = "busy"
	StatusOffline Status = "offline"
)

func (s Status) String() string { return string(s) }

// ---------------------------------------------------------------------------
// Repository interface
// ---------------------------------------------------------------------------

// Repository defines persistence for agents. Status and CurrentTaskID are
// only written through the narrow mutators below so that reconciliation
// remains the single writer of agent availability.
type Repository interface {
	// Register inserts the agent, or refreshes role/metadata if it exists.
	Register(ctx context.Context, a *Agent) error
	// Get retrieves an agent by its id.
	Get(ctx context.Context, id string) (*Agent, error)
	// List returns all agents.
	List(ctx context.Context) ([]*Agent, error)
	// ListIdle returns idle agents with the given role.
	ListIdle(ctx context.Context, role Role) ([]*Agent, error)
	// MarkBusy sets status=busy and binds the current task.
	MarkBusy(ctx context.Context, id string, taskID domain.EntityID) error
	// MarkIdle sets status=idle, clears the current task and updates the
	// heartbeat to at. Called only by reconciliation.
	MarkIdle(ctx context.Context, id string, at time.Time) error
	// Heartbeat updates lastHeartbeat to at.
	Heartbeat(ctx context.Context, id string, at time.Time) error
	// Delete removes an agent.
	Delete(ctx context.Context, id string) error
}

// ---------------------------------------------------------------------------
// Domain errors
// ---------------------------------------------------------------------------

type Error string

func (e Error) Error() string { return string(e) }

const (
	ErrNotFound    Error = "agent not found"
	ErrInvalidRole Error = "invalid agent role"
)
