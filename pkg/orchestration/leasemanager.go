// Package orchestration implements the scheduling and lease core of the
// fleet: task-to-agent assignment, heartbeat liveness, lease expiry and
// recovery of orphaned work.
//
// There are no in-memory locks here. Every critical transition is a single
// conditional write against the store, and the UNIQUE constraint on
// leases.task_id arbitrates claim races — exactly one of any set of
// concurrent acquirers wins.
package orchestration

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/Andyyyy64/opentiger/pkg/domain"
	agentdomain "github.com/Andyyyy64/opentiger/pkg/domain/agent"
	leasedomain "github.com/Andyyyy64/opentiger/pkg/domain/lease"
	rundomain "github.com/Andyyyy64/opentiger/pkg/domain/run"
	"github.com/Andyyyy64/opentiger/pkg/metrics"
)

// DefaultLeaseDuration bounds a claim when the caller does not specify one.
const DefaultLeaseDuration = 60 * time.Minute

// LeaseManager acquires, releases, extends and expires leases, and keeps
// agent status consistent with outstanding work.
type LeaseManager struct {
	leases leasedomain.Repository
	agents agentdomain.Repository
	runs   rundomain.Repository

	bus     domain.EventBus
	clock   domain.Clock
	metrics *metrics.Metrics
	log     *slog.Logger
}

// NewLeaseManager wires a lease manager over the store repositories.
func NewLeaseManager(
	leases leasedomain.Repository,
	agents agentdomain.Repository,
	runs rundomain.Repository,
	bus domain.EventBus,
	clock domain.Clock,
	m *metrics.Metrics,
	log *slog.Logger,
) *LeaseManager {
	return &LeaseManager{
		leases:  leases,
		agents:  agents,
		runs:    runs,
		bus:     bus,
		clock:   clock,
		metrics: m,
		log:     log,
	}
}

// Acquire claims the task for the agent. The insert IS the claim: there is
// no read before it, and of N concurrent acquirers exactly one succeeds
// while the rest get lease.ErrAlreadyHeld. Losing the race is normal flow
// and logs at debug only.
func (lm *LeaseManager) Acquire(ctx context.Context, taskID domain.EntityID, agentID string, duration time.Duration) (*leasedomain.Lease, error) {
	if duration <= 0 {
		return nil, leasedomain.ErrInvalidDuration
	}
	now := lm.clock()
	l := leasedomain.New(taskID, agentID, now, duration)

	if err := lm.leases.Insert(ctx, l); err != nil {
		if errors.Is(err, leasedomain.ErrAlreadyHeld) {
			lm.metrics.IncLeaseConflicts()
			lm.log.Debug("lease already held", "task", taskID, "agent", agentID)
			return nil, leasedomain.ErrAlreadyHeld
		}
		return nil, err
	}

	lm.metrics.IncLeasesAcquired()
	lm.bus.Publish(domain.NewEvent(domain.EventLeaseAcquired, taskID, now, map[string]string{
		"lease_id": l.ID.String(),
		"agent_id": agentID,
	}))
	return l, nil
}

// Release deletes the task's lease (if any) and returns the owning agent to
// the pool via ReconcileAgent. Releasing a task with no lease is a no-op.
func (lm *LeaseManager) Release(ctx context.Context, taskID domain.EntityID) error {
	deleted, err := lm.leases.DeleteByTask(ctx, taskID)
	if err != nil {
		return err
	}
	if deleted == nil {
		return nil
	}

	lm.bus.Publish(domain.NewEvent(domain.EventLeaseReleased, taskID, lm.clock(), map[string]string{
		"agent_id": deleted.AgentID,
	}))
	return lm.ReconcileAgent(ctx, deleted.AgentID)
}

// Extend pushes the lease expiry to now + additional. It deliberately does
// not check the current expiry: a worker may reclaim an expired-but-
// uncollected lease, and correctness holds because only the holder knows
// the taskId.
func (lm *LeaseManager) Extend(ctx context.Context, taskID domain.EntityID, additional time.Duration) error {
	if additional <= 0 {
		return leasedomain.ErrInvalidDuration
	}
	now := lm.clock()
	changed, err := lm.leases.ExtendByTask(ctx, taskID, now.Add(additional))
	if err != nil {
		return err
	}
	if !changed {
		return leasedomain.ErrNotFound
	}

	lm.metrics.IncLeasesExtended()
	lm.bus.Publish(domain.NewEvent(domain.EventLeaseExtended, taskID, now, nil))
	return nil
}

// ActiveLeases returns all unexpired leases.
func (lm *LeaseManager) ActiveLeases(ctx context.Context) ([]*leasedomain.Lease, error) {
	leases, err := lm.leases.ListActive(ctx, lm.clock())
	if err != nil {
		return nil, err
	}
	lm.metrics.SetActiveLeases(len(leases))
	return leases, nil
}

// ReconcileAgent is the canonical way to return an agent to the pool: if
// the agent holds no leases and owns no running run, it becomes idle with
// its current task cleared and its heartbeat touched. Called after every
// release path.
func (lm *LeaseManager) ReconcileAgent(ctx context.Context, agentID string) error {
	held, err := lm.leases.CountByAgent(ctx, agentID)
	if err != nil {
		return err
	}
	if held > 0 {
		return nil
	}
	running, err := lm.runs.CountRunningByAgent(ctx, agentID)
	if err != nil {
		return err
	}
	if running > 0 {
		return nil
	}

	now := lm.clock()
	if err := lm.agents.MarkIdle(ctx, agentID, now); err != nil {
		return err
	}
	lm.bus.Publish(domain.NewEvent(domain.EventAgentIdle, domain.EntityID(agentID), now, nil))
	return nil
}
