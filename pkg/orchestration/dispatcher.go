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
	taskdomain "github.com/Andyyyy64/opentiger/pkg/domain/task"
	"github.com/Andyyyy64/opentiger/pkg/metrics"
)

// dispatchBatchSize bounds how many queued tasks one scan considers.
const dispatchBatchSize = 50

// Assignment is what the dispatcher hands to a worker: the claimed task and
// the run created for the attempt.
type Assignment struct {
	Task    *taskdomain.Task
	RunID   domain.EntityID
	AgentID string
}

// AssignmentSink receives dispatched work. The app container adapts the
// in-process dispatch bus to it; remote transports can implement it too.
type AssignmentSink interface {
	Deliver(Assignment)
}

// Dispatcher drains queued tasks: it picks the highest-priority queued task
// whose dependencies are done, binds it to an idle worker through the lease
// manager, transitions it to running and creates the run record.
//
// The four writes are ordered lease → run → task → agent. A crash between
// any two steps is repaired by sweeper passes B or C; no step happens
// before lease acquisition succeeds.
type Dispatcher struct {
	tasks  taskdomain.Repository
	agents agentdomain.Repository
	runs   rundomain.Repository
	lm     *LeaseManager
	sink   AssignmentSink

	leaseDuration time.Duration
	interval      time.Duration

	bus     domain.EventBus
	clock   domain.Clock
	metrics *metrics.Metrics
	log     *slog.Logger
}

// DispatcherConfig wires a Dispatcher.
type DispatcherConfig struct {
	Tasks         taskdomain.Repository
	Agents        agentdomain.Repository
	Runs          rundomain.Repository
	LeaseManager  *LeaseManager
	Sink          AssignmentSink
	LeaseDuration time.Duration
	Interval      time.Duration
	Bus           domain.EventBus
	Clock         domain.Clock
	Metrics       *metrics.Metrics
	Log           *slog.Logger
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	if cfg.LeaseDuration <= 0 {
		cfg.LeaseDuration = DefaultLeaseDuration
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Second
	}
	if cfg.Bus == nil {
		cfg.Bus = domain.NopBus{}
	}
	return &Dispatcher{
		tasks:         cfg.Tasks,
		agents:        cfg.Agents,
		runs:          cfg.Runs,
		lm:            cfg.LeaseManager,
		sink:          cfg.Sink,
		leaseDuration: cfg.LeaseDuration,
		interval:      cfg.Interval,
		bus:           cfg.Bus,
		clock:         cfg.Clock,
		metrics:       cfg.Metrics,
		log:           cfg.Log,
	}
}

// Run scans on the configured interval until the context ends.
func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := d.DispatchOnce(ctx); err != nil {
				d.log.Error("dispatch scan failed", "error", err)
			} else if n > 0 {
				d.log.Info("dispatched tasks", "count", n)
			}
		}
	}
}

// DispatchOnce performs one scan and returns how many tasks were bound.
func (d *Dispatcher) DispatchOnce(ctx context.Context) (int, error) {
	queued, err := d.tasks.ListQueued(ctx, dispatchBatchSize)
	if err != nil {
		return 0, err
	}
	d.metrics.SetQueueDepth(len(queued))
	if len(queued) == 0 {
		return 0, nil
	}

	idle, err := d.agents.ListIdle(ctx, agentdomain.RoleWorker)
	if err != nil {
		return 0, err
	}
	if len(idle) == 0 {
		return 0, nil
	}

	dispatched := 0
	for _, t := range queued {
		if len(idle) == 0 {
			break
		}
		ready, err := d.dependenciesDone(ctx, t)
		if err != nil {
			return dispatched, err
		}
		if !ready {
			continue
		}

		slot := -1
		for i, a := range idle {
			if t.MatchesLanes(a.Lanes()) {
				slot = i
				break
			}
		}
		if slot < 0 {
			continue
		}

		agent := idle[slot]
		ok, err := d.dispatch(ctx, t, agent)
		if err != nil {
			return dispatched, err
		}
		if ok {
			idle = append(idle[:slot], idle[slot+1:]...)
			dispatched++
		}
	}
	return dispatched, nil
}

// dependenciesDone reports whether every dependency exists and is done.
func (d *Dispatcher) dependenciesDone(ctx context.Context, t *taskdomain.Task) (bool, error) {
	if len(t.Dependencies) == 0 {
		return true, nil
	}
	statuses, err := d.tasks.StatusesByIDs(ctx, t.Dependencies)
	if err != nil {
		return false, err
	}
	for _, dep := range t.Dependencies {
		if statuses[dep] != taskdomain.StatusDone {
			return false, nil
		}
	}
	return true, nil
}

// dispatch binds one task to one agent. Returns false when the claim was
// lost or the task had already left queued; both are normal outcomes.
func (d *Dispatcher) dispatch(ctx context.Context, t *taskdomain.Task, agent *agentdomain.Agent) (bool, error) {
	duration := d.leaseDuration
	if t.TimeboxMinutes > 0 {
		duration = time.Duration(t.TimeboxMinutes) * time.Minute
	}

	// Step 1: the claim. Nothing else is allowed to happen before it.
	l, err := d.lm.Acquire(ctx, t.ID, agent.ID, duration)
	if errors.Is(err, leasedomain.ErrAlreadyHeld) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	now := d.clock()

	// Step 2: run record.
	r := rundomain.New(t.ID, agent.ID, now)
	if err := d.runs.Create(ctx, r); err != nil {
		return false, err
	}

	// Step 3: task to running. Conditional on queued — if a concurrent
	// actor moved the task meanwhile, cancel the stray run and drop the
	// claim.
	moved, err := d.tasks.Transition(ctx, t.ID, taskdomain.StatusQueued, taskdomain.StatusRunning, "", now)
	if err != nil {
		return false, err
	}
	if !moved {
		d.log.Warn("task left queued during dispatch", "task", t.ID)
		if _, err := d.runs.Terminalize(ctx, r.ID, rundomain.StatusCancelled, now, "task left queued during dispatch", nil); err != nil {
			return false, err
		}
		return false, d.lm.Release(ctx, t.ID)
	}

	// Step 4: agent bookkeeping.
	if err := d.agents.MarkBusy(ctx, agent.ID, t.ID); err != nil {
		return false, err
	}

	d.metrics.IncTasksDispatched()
	d.bus.Publish(domain.NewEvent(domain.EventTaskClaimed, t.ID, now, map[string]string{
		"agent_id": agent.ID,
		"run_id":   r.ID.String(),
		"lease_id": l.ID.String(),
	}))
	d.bus.Publish(domain.NewEvent(domain.EventRunStarted, r.ID, now, map[string]string{
		"task_id":  t.ID.String(),
		"agent_id": agent.ID,
	}))

	if d.sink != nil {
		d.sink.Deliver(Assignment{Task: t, RunID: r.ID, AgentID: agent.ID})
	}
	return true, nil
}
