package app

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Andyyyy64/opentiger/pkg/bus"
	"github.com/Andyyyy64/opentiger/pkg/config"
	"github.com/Andyyyy64/opentiger/pkg/domain"
	"github.com/Andyyyy64/opentiger/pkg/infrastructure/eventbus"
	"github.com/Andyyyy64/opentiger/pkg/infrastructure/persistence"
	"github.com/Andyyyy64/opentiger/pkg/metrics"
	"github.com/Andyyyy64/opentiger/pkg/notify"
	"github.com/Andyyyy64/opentiger/pkg/orchestration"
)

// ---------------------------------------------------------------------------
// Application container — composition root
// ---------------------------------------------------------------------------

// Container wires the store, the event and dispatch buses, the
// orchestration triad and the boundary services into one graph.
type Container struct {
	Config *config.Config
	Store  *persistence.Store

	EventBus    domain.EventBus
	DispatchBus *bus.DispatchBus
	Metrics     *metrics.Metrics
	Registry    *prometheus.Registry

	// Orchestration core
	LeaseManager *orchestration.LeaseManager
	Dispatcher   *orchestration.Dispatcher
	Sweeper      *orchestration.Sweeper
	Lifecycle    *orchestration.RunLifecycle

	// Boundary services
	Planner *PlannerService
	Worker  *WorkerService
	Judge   *JudgeService
	Fleet   *FleetService
}

// NewContainer builds a fully wired container over an opened store.
func NewContainer(cfg *config.Config, store *persistence.Store, clock domain.Clock, log *slog.Logger) *Container {
	if clock == nil {
		clock = domain.SystemClock
	}

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	events := eventbus.New()
	dispatch := bus.NewDispatchBus()

	agents := persistence.NewAgentRepository(store)
	tasks := persistence.NewTaskRepository(store)
	runs := persistence.NewRunRepository(store)
	leases := persistence.NewLeaseRepository(store)
	artifacts := persistence.NewArtifactRepository(store)

	lm := orchestration.NewLeaseManager(leases, agents, runs, events, clock, m, log)

	var notifier orchestration.FailureNotifier
	if cfg.SlackWebhookURL != "" {
		notifier = notify.NewSlackNotifier(cfg.SlackWebhookURL, log)
	}

	lifecycle := orchestration.NewRunLifecycle(orchestration.RunLifecycleConfig{
		Tasks:        tasks,
		Runs:         runs,
		LeaseManager: lm,
		Mode:         cfg.RepoMode,
		GlobalRetry:  cfg.MaxRetries,
		Notifier:     notifier,
		Bus:          events,
		Clock:        clock,
		Metrics:      m,
		Log:          log,
	})

	dispatcher := orchestration.NewDispatcher(orchestration.DispatcherConfig{
		Tasks:         tasks,
		Agents:        agents,
		Runs:          runs,
		LeaseManager:  lm,
		Sink:          dispatchSink{dispatch: dispatch},
		LeaseDuration: cfg.LeaseDuration(),
		Interval:      cfg.DispatchInterval(),
		Bus:           events,
		Clock:         clock,
		Metrics:       m,
		Log:           log,
	})

	sweeper := orchestration.NewSweeper(orchestration.SweeperConfig{
		Tasks:        tasks,
		Runs:         runs,
		Leases:       leases,
		LeaseManager: lm,
		Grace:        cfg.Grace(),
		Interval:     cfg.SweepInterval(),
		BatchSize:    cfg.SweepBatchSize,
		Mode:         cfg.RepoMode,
		CronExpr:     cfg.SweepCron,
		JudgeWait:    cfg.JudgePollInterval(),
		Bus:          events,
		Clock:        clock,
		Metrics:      m,
		Log:          log,
	})

	return &Container{
		Config:       cfg,
		Store:        store,
		EventBus:     events,
		DispatchBus:  dispatch,
		Metrics:      m,
		Registry:     registry,
		LeaseManager: lm,
		Dispatcher:   dispatcher,
		Sweeper:      sweeper,
		Lifecycle:    lifecycle,
		Planner:      NewPlannerService(tasks, events, clock, m),
		Worker:       NewWorkerService(runs, artifacts, lifecycle, lm, events, clock),
		Judge:        NewJudgeService(tasks, events, clock, m),
		Fleet:        NewFleetService(agents, tasks, leases, events, clock),
	}
}

// dispatchSink delivers the dispatcher's assignments onto the dispatch bus.
type dispatchSink struct {
	dispatch *bus.DispatchBus
}

func (s dispatchSink) Deliver(a orchestration.Assignment) {
	s.dispatch.Deliver(bus.Dispatch{Task: a.Task, RunID: a.RunID, AgentID: a.AgentID})
}

// Close releases the container's resources.
func (c *Container) Close() error {
	c.EventBus.Close()
	c.DispatchBus.Close()
	return c.Store.Close()
}
