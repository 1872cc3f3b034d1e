// Package lease defines the Lease bounded context.
// A Lease is a short-lived, time-bounded exclusive claim on a task by one
// agent. The UNIQUE constraint on taskId is the atomic-claim primitive: the
// insert IS the claim, and exactly one of any set of concurrent acquirers
// wins.
package lease

import (
	"context"
	"time"

	"github.com/Andyyyy64/opentiger/pkg/domain"
)

// ---------------------------------------------------------------------------
// Lease aggregate
// ---------------------------------------------------------------------------

// Lease is an exclusive time-bounded claim on a task.
type Lease struct {
	ID        domain.EntityID `json:"id"`
	TaskID    domain.EntityID `json:"task_id"`
	AgentID   string          `json:"agent_id"`
	ExpiresAt time.Time       `json:"expires_at"`
	CreatedAt time.Time       `json:"created_at"`
}

// New creates a lease expiring after duration. ExpiresAt strictly exceeds
// CreatedAt; a zero or negative duration is rejected at acquisition.
func New(taskID domain.EntityID, agentID string, at time.Time, duration time.Duration) *Lease {
	return &Lease{
		ID:        domain.NewID(),
		TaskID:    taskID,
		AgentID:   agentID,
		ExpiresAt: at.Add(duration),
		CreatedAt: at,
	}
}

// Expired reports whether the lease has passed its expiry at the given time.
func (l *Lease) Expired(now time.Time) bool {
	return !l.ExpiresAt.After(now)
}

// ---------------------------------------------------------------------------
// Repository interface
// ---------------------------------------------------------------------------

// Repository defines persistence for leases. There is no read-then-write
// anywhere: Insert relies on the unique constraint, and the loser of a race
// receives ErrAlreadyHeld.
type Repository interface {
	// Insert writes the lease. Returns ErrAlreadyHeld when a lease for the
	// task already exists.
	Insert(ctx context.Context, l *Lease) error
	// GetByTask retrieves the lease for a task, if any.
	GetByTask(ctx context.Context, taskID domain.EntityID) (*Lease, error)
	// DeleteByTask removes the lease for a task. Returns the deleted lease,
	// or nil when none existed.
	DeleteByTask(ctx context.Context, taskID domain.EntityID) (*Lease, error)
	// ExtendByTask sets the lease expiry. Returns false when no lease
	// exists for the task.
	ExtendByTask(ctx context.Context, taskID domain.EntityID, expiresAt time.Time) (bool, error)
	// ListActive returns leases with expiresAt after now.
	ListActive(ctx context.Context, now time.Time) ([]*Lease, error)
	// ListExpired returns leases with expiresAt at or before now.
	ListExpired(ctx context.Context, now time.Time) ([]*Lease, error)
	// ListAll returns every lease row.
	ListAll(ctx context.Context) ([]*Lease, error)
	// CountByAgent returns how many leases the agent holds.
	CountByAgent(ctx context.Context, agentID string) (int, error)
}

// ---------------------------------------------------------------------------
// Domain errors
// ---------------------------------------------------------------------------

type Error string

func (e Error) Error() string { return string(e) }

const (
	// ErrAlreadyHeld is the normal outcome of losing a claim race.
	ErrAlreadyHeld Error = "lease already held"
	ErrNotFound    Error = "lease not found"
	// ErrInvalidDuration rejects leases that would not expire strictly
	// after creation.
	ErrInvalidDuration Error = "lease duration must be positive"
)
