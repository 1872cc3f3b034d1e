package orchestration

import (
	"context"
	"log/slog"
	"time"

	"github.com/Andyyyy64/opentiger/pkg/domain"
	agentdomain "github.com/Andyyyy64/opentiger/pkg/domain/agent"
)

// DefaultHeartbeatInterval is the liveness tick period.
const DefaultHeartbeatInterval = 30 * time.Second

// HeartbeatRunner keeps one agent's lastHeartbeat fresh with a periodic
// tick. The monitor is purely cooperative: a stale heartbeat is a signal
// the sweeper reads, never a direct cause of state transitions.
type HeartbeatRunner struct {
	agents   agentdomain.Repository
	agentID  string
	interval time.Duration

	bus   domain.EventBus
	clock domain.Clock
	log   *slog.Logger
}

// NewHeartbeatRunner creates a heartbeat runner for agentID.
func NewHeartbeatRunner(agents agentdomain.Repository, agentID string, interval time.Duration, bus domain.EventBus, clock domain.Clock, log *slog.Logger) *HeartbeatRunner {
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	if bus == nil {
		bus = domain.NopBus{}
	}
	return &HeartbeatRunner{
		agents:   agents,
		agentID:  agentID,
		interval: interval,
		bus:      bus,
		clock:    clock,
		log:      log,
	}
}

// Run ticks until the context ends. The first beat fires immediately so a
// freshly registered agent is never observed without a heartbeat.
func (h *HeartbeatRunner) Run(ctx context.Context) {
	if err := h.Beat(ctx); err != nil {
		h.log.Error("heartbeat failed", "agent", h.agentID, "error", err)
	}

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := h.Beat(ctx); err != nil {
				h.log.Error("heartbeat failed", "agent", h.agentID, "error", err)
			}
		}
	}
}

// Beat writes one liveness tick.
func (h *HeartbeatRunner) Beat(ctx context.Context) error {
	now := h.clock()
	if err := h.agents.Heartbeat(ctx, h.agentID, now); err != nil {
		return err
	}
	h.bus.Publish(domain.NewEvent(domain.EventAgentHeartbeat, domain.EntityID(h.agentID), now, nil))
	return nil
}

// StaleAgents returns agents whose last heartbeat is older than threshold,
// or who never heartbeat at all. Offline agents are skipped.
func StaleAgents(ctx context.Context, agents agentdomain.Repository, clock domain.Clock, threshold time.Duration) ([]*agentdomain.Agent, error) {
	all, err := agents.List(ctx)
	if err != nil {
		return nil, err
	}
	cutoff := clock().Add(-threshold)
	var stale []*agentdomain.Agent
	for _, a := range all {
		if a.Status == agentdomain.StatusOffline {
			continue
		}
		if a.LastHeartbeat == nil || a.LastHeartbeat.Before(cutoff) {
			stale = append(stale, a)
		}
	}
	return stale, nil
}
