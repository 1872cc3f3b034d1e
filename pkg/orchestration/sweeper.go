package orchestration

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/adhocore/gronx"

	"github.com/Andyyyy64/opentiger/pkg/config"
	"github.com/Andyyyy64/opentiger/pkg/domain"
	leasedomain "github.com/Andyyyy64/opentiger/pkg/domain/lease"
	rundomain "github.com/Andyyyy64/opentiger/pkg/domain/run"
	taskdomain "github.com/Andyyyy64/opentiger/pkg/domain/task"
	"github.com/Andyyyy64/opentiger/pkg/metrics"
)

// DefaultGrace is the orphan-detection window for pass C.
const DefaultGrace = 120 * time.Second

// SweepReport counts the repairs one sweep performed.
type SweepReport struct {
	ExpiredLeases  int `json:"expired_leases"`
	DanglingLeases int `json:"dangling_leases"`
	OrphanedTasks  int `json:"orphaned_tasks"`
	AutoApproved   int `json:"auto_approved"`
}

// Total returns the number of repairs across all passes.
func (r SweepReport) Total() int {
	return r.ExpiredLeases + r.DanglingLeases + r.OrphanedTasks + r.AutoApproved
}

// Sweeper is the periodic janitor. Each of its four passes restores one
// independent invariant, is idempotent, and tolerates concurrent worker
// action through conditional updates. Pass ordering is not load-bearing.
type Sweeper struct {
	tasks  taskdomain.Repository
	runs   rundomain.Repository
	leases leasedomain.Repository
	lm     *LeaseManager

	grace     time.Duration
	interval  time.Duration
	batchSize int
	mode      config.RepoMode
	cronExpr  string
	judgeWait time.Duration

	bus     domain.EventBus
	clock   domain.Clock
	metrics *metrics.Metrics
	log     *slog.Logger

	cron      *gronx.Gronx
	lastPassD time.Time
}

// SweeperConfig wires a Sweeper.
type SweeperConfig struct {
	Tasks        taskdomain.Repository
	Runs         rundomain.Repository
	Leases       leasedomain.Repository
	LeaseManager *LeaseManager
	Grace        time.Duration
	Interval     time.Duration
	BatchSize    int
	Mode         config.RepoMode
	// CronExpr optionally gates sweeps on a cron expression; empty runs
	// every tick.
	CronExpr string
	// JudgeWait throttles pass D to at most once per interval.
	JudgeWait time.Duration
	Bus       domain.EventBus
	Clock     domain.Clock
	Metrics   *metrics.Metrics
	Log       *slog.Logger
}

// NewSweeper creates a sweeper.
func NewSweeper(cfg SweeperConfig) *Sweeper {
	if cfg.Grace <= 0 {
		cfg.Grace = DefaultGrace
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 20
	}
	if cfg.Bus == nil {
		cfg.Bus = domain.NopBus{}
	}
	s := &Sweeper{
		tasks:     cfg.Tasks,
		runs:      cfg.Runs,
		leases:    cfg.Leases,
		lm:        cfg.LeaseManager,
		grace:     cfg.Grace,
		interval:  cfg.Interval,
		batchSize: cfg.BatchSize,
		mode:      cfg.Mode,
		cronExpr:  cfg.CronExpr,
		judgeWait: cfg.JudgeWait,
		bus:       cfg.Bus,
		clock:     cfg.Clock,
		metrics:   cfg.Metrics,
		log:       cfg.Log,
	}
	if cfg.CronExpr != "" {
		g := gronx.New()
		s.cron = &g
	}
	return s
}

// Run sweeps on the configured interval until the context ends.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.cron != nil {
				due, err := s.cron.IsDue(s.cronExpr, s.clock())
				if err != nil {
					s.log.Error("invalid sweep cron expression", "expr", s.cronExpr, "error", err)
					s.cron = nil
				} else if !due {
					continue
				}
			}
			report, err := s.SweepOnce(ctx)
			if err != nil {
				s.log.Error("sweep failed", "error", err)
				continue
			}
			if report.Total() > 0 {
				s.log.Info("sweep repaired state",
					"expired_leases", report.ExpiredLeases,
					"dangling_leases", report.DanglingLeases,
					"orphaned_tasks", report.OrphanedTasks,
					"auto_approved", report.AutoApproved)
			}
		}
	}
}

// SweepOnce executes the four passes and returns what they repaired.
// Passes keep going when one fails; the first error is reported after all
// have run, since each restores an independent invariant.
func (s *Sweeper) SweepOnce(ctx context.Context) (SweepReport, error) {
	var report SweepReport
	var firstErr error

	n, err := s.sweepExpiredLeases(ctx)
	report.ExpiredLeases = n
	if err != nil && firstErr == nil {
		firstErr = err
	}

	n, err = s.sweepDanglingLeases(ctx)
	report.DanglingLeases = n
	if err != nil && firstErr == nil {
		firstErr = err
	}

	n, err = s.sweepOrphanedTasks(ctx)
	report.OrphanedTasks = n
	if err != nil && firstErr == nil {
		firstErr = err
	}

	n, err = s.sweepStuckInJudge(ctx)
	report.AutoApproved = n
	if err != nil && firstErr == nil {
		firstErr = err
	}

	s.bus.Publish(domain.NewEvent(domain.EventSweepCompleted, "", s.clock(), report))
	return report, firstErr
}

// sweepExpiredLeases is pass A: reclaim tasks whose lease ran out. The
// requeue is conditional on status=running so a late-arriving worker report
// that already terminalized the task is not disturbed.
func (s *Sweeper) sweepExpiredLeases(ctx context.Context) (int, error) {
	now := s.clock()
	expired, err := s.leases.ListExpired(ctx, now)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, l := range expired {
		moved, err := s.tasks.Transition(ctx, l.TaskID, taskdomain.StatusRunning, taskdomain.StatusQueued, "", now)
		if err != nil {
			return count, err
		}
		if moved {
			// The holder is presumed dead. Its run must not linger as
			// active, or the requeued task would gain a second running run
			// on redispatch. A worker that is in fact alive loses this
			// race and sees its own terminal report become a no-op.
			if _, err := s.runs.CancelActiveByTask(ctx, l.TaskID, now); err != nil {
				return count, err
			}
		}
		if _, err := s.leases.DeleteByTask(ctx, l.TaskID); err != nil {
			return count, err
		}
		if err := s.lm.ReconcileAgent(ctx, l.AgentID); err != nil {
			return count, err
		}
		count++
		if moved {
			s.metrics.IncTasksRequeued()
		}
		s.bus.Publish(domain.NewEvent(domain.EventLeaseExpired, l.TaskID, now, map[string]string{
			"agent_id": l.AgentID,
		}))
		s.log.Warn("reclaimed expired lease", "task", l.TaskID, "agent", l.AgentID, "expired_at", l.ExpiresAt)
	}
	s.metrics.AddLeasesExpired(count)
	s.metrics.AddSweepRepairs("expired_leases", count)
	return count, nil
}

// sweepDanglingLeases is pass B: a lease whose task is gone, or whose task
// is queued with no active run, marks a worker that crashed between lease
// acquisition and run creation.
func (s *Sweeper) sweepDanglingLeases(ctx context.Context) (int, error) {
	all, err := s.leases.ListAll(ctx)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, l := range all {
		t, err := s.tasks.Get(ctx, l.TaskID)
		switch {
		case errors.Is(err, taskdomain.ErrNotFound):
			// Task deleted out from under the lease.
		case err != nil:
			return count, err
		case t.Status == taskdomain.StatusQueued:
			active, err := s.runs.HasActiveRun(ctx, l.TaskID)
			if err != nil {
				return count, err
			}
			if active {
				continue
			}
		default:
			continue
		}

		if _, err := s.leases.DeleteByTask(ctx, l.TaskID); err != nil {
			return count, err
		}
		if err := s.lm.ReconcileAgent(ctx, l.AgentID); err != nil {
			return count, err
		}
		count++
		s.log.Warn("deleted dangling lease", "task", l.TaskID, "agent", l.AgentID)
	}
	s.metrics.AddSweepRepairs("dangling_leases", count)
	return count, nil
}

// sweepOrphanedTasks is pass C: a task stuck in running past the grace
// window with no active run had its run terminalized without the matching
// task transition (crash between the two updates). Requeue it.
func (s *Sweeper) sweepOrphanedTasks(ctx context.Context) (int, error) {
	now := s.clock()
	stale, err := s.tasks.ListRunningStaleSince(ctx, now.Add(-s.grace))
	if err != nil {
		return 0, err
	}

	count := 0
	for _, t := range stale {
		active, err := s.runs.HasActiveRun(ctx, t.ID)
		if err != nil {
			return count, err
		}
		if active {
			continue
		}

		deleted, err := s.leases.DeleteByTask(ctx, t.ID)
		if err != nil {
			return count, err
		}
		moved, err := s.tasks.Transition(ctx, t.ID, taskdomain.StatusRunning, taskdomain.StatusQueued, "", now)
		if err != nil {
			return count, err
		}
		if deleted != nil {
			if err := s.lm.ReconcileAgent(ctx, deleted.AgentID); err != nil {
				return count, err
			}
		}
		if moved {
			count++
			s.metrics.IncTasksRequeued()
			s.bus.Publish(domain.NewEvent(domain.EventTaskRequeued, t.ID, now, map[string]string{
				"reason": "orphaned_running_task",
			}))
			s.log.Warn("requeued orphaned running task", "task", t.ID, "stale_since", t.UpdatedAt)
		}
	}
	s.metrics.AddSweepRepairs("orphaned_tasks", count)
	return count, nil
}

// sweepStuckInJudge is pass D: in direct mode only, auto-approve tasks
// blocked awaiting the judge. A fallback, not the primary judge path.
func (s *Sweeper) sweepStuckInJudge(ctx context.Context) (int, error) {
	if s.mode != config.RepoModeDirect {
		return 0, nil
	}
	now := s.clock()
	if s.judgeWait > 0 && now.Sub(s.lastPassD) < s.judgeWait {
		return 0, nil
	}
	s.lastPassD = now

	blocked, err := s.tasks.ListBlocked(ctx, taskdomain.BlockReasonAwaitingJudge, s.batchSize)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, t := range blocked {
		moved, err := s.tasks.Transition(ctx, t.ID, taskdomain.StatusBlocked, taskdomain.StatusDone, "", now)
		if err != nil {
			return count, err
		}
		if moved {
			count++
			s.metrics.IncTasksCompleted(string(taskdomain.StatusDone))
			s.bus.Publish(domain.NewEvent(domain.EventTaskJudged, t.ID, now, map[string]string{
				"approved": "true",
				"via":      "auto_approve",
			}))
			s.log.Info("auto-approved stuck task", "task", t.ID)
		}
	}
	s.metrics.AddSweepRepairs("auto_approved", count)
	return count, nil
}
