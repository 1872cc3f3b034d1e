package orchestration

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Andyyyy64/opentiger/pkg/classify"
	"github.com/Andyyyy64/opentiger/pkg/config"
	"github.com/Andyyyy64/opentiger/pkg/domain"
	rundomain "github.com/Andyyyy64/opentiger/pkg/domain/run"
	taskdomain "github.com/Andyyyy64/opentiger/pkg/domain/task"
	"github.com/Andyyyy64/opentiger/pkg/metrics"
	"github.com/Andyyyy64/opentiger/pkg/retrypolicy"
)

// Outcome is the terminal state a worker reports for a run.
type Outcome string

const (
	OutcomeSuccess   Outcome = "success"
	OutcomeFailed    Outcome = "failed"
	OutcomeCancelled Outcome = "cancelled"
)

// Valid returns true if the outcome is recognized.
func (o Outcome) Valid() bool {
	switch o {
	case OutcomeSuccess, OutcomeFailed, OutcomeCancelled:
		return true
	}
	return false
}

// FailureNotifier is told about terminal task failures. The Slack notifier
// implements it; nil disables notification.
type FailureNotifier interface {
	NotifyTaskFailed(ctx context.Context, t *taskdomain.Task, r *rundomain.Run, verdict classify.Classification)
}

// RunLifecycle applies a worker's completion report: it terminalizes the
// run, transitions the task, releases the lease and returns the agent to
// the pool. Every task transition predicates on the status the lifecycle
// expects, so a task already reclaimed by the sweeper makes the worker's
// late report a no-op rather than a conflict.
type RunLifecycle struct {
	tasks taskdomain.Repository
	runs  rundomain.Repository
	lm    *LeaseManager

	mode        config.RepoMode
	globalRetry int
	notifier    FailureNotifier

	bus     domain.EventBus
	clock   domain.Clock
	metrics *metrics.Metrics
	log     *slog.Logger
}

// RunLifecycleConfig wires a RunLifecycle.
type RunLifecycleConfig struct {
	Tasks        taskdomain.Repository
	Runs         rundomain.Repository
	LeaseManager *LeaseManager
	Mode         config.RepoMode
	// GlobalRetry is the global retry budget; negative means unlimited.
	GlobalRetry int
	Notifier    FailureNotifier
	Bus         domain.EventBus
	Clock       domain.Clock
	Metrics     *metrics.Metrics
	Log         *slog.Logger
}

// NewRunLifecycle creates a run lifecycle handler.
func NewRunLifecycle(cfg RunLifecycleConfig) *RunLifecycle {
	if cfg.Bus == nil {
		cfg.Bus = domain.NopBus{}
	}
	return &RunLifecycle{
		tasks:       cfg.Tasks,
		runs:        cfg.Runs,
		lm:          cfg.LeaseManager,
		mode:        cfg.Mode,
		globalRetry: cfg.GlobalRetry,
		notifier:    cfg.Notifier,
		bus:         cfg.Bus,
		clock:       cfg.Clock,
		metrics:     cfg.Metrics,
		log:         cfg.Log,
	}
}

// Complete applies the worker's report for runID.
func (rl *RunLifecycle) Complete(ctx context.Context, runID domain.EntityID, outcome Outcome, errMsg string, errMeta *rundomain.ErrorMeta) error {
	if !outcome.Valid() {
		return fmt.Errorf("invalid run outcome %q", outcome)
	}

	r, err := rl.runs.Get(ctx, runID)
	if err != nil {
		return err
	}

	now := rl.clock()
	terminalized, err := rl.runs.Terminalize(ctx, runID, rundomain.Status(outcome), now, errMsg, errMeta)
	if err != nil {
		return err
	}
	if !terminalized {
		// The run already reached a terminal state; terminal statuses are
		// monotone, so a duplicate or late report changes nothing.
		rl.log.Debug("run already terminal, ignoring report", "run", runID, "outcome", outcome)
		return nil
	}

	switch outcome {
	case OutcomeSuccess:
		err = rl.completeSuccess(ctx, r, now)
	case OutcomeFailed:
		err = rl.completeFailure(ctx, r, errMsg, errMeta, now)
	case OutcomeCancelled:
		err = rl.completeCancelled(ctx, r, now)
	}
	if err != nil {
		return err
	}

	rl.bus.Publish(domain.NewEvent(domain.EventRunFinished, runID, now, map[string]string{
		"task_id": r.TaskID.String(),
		"outcome": string(outcome),
	}))
	if err := rl.lm.Release(ctx, r.TaskID); err != nil {
		return err
	}
	// Release only reconciles when it found a lease to delete. When the
	// sweeper already reclaimed the lease, the run terminalized just now is
	// what was keeping the agent busy — reconcile it explicitly.
	return rl.lm.ReconcileAgent(ctx, r.AgentID)
}

// completeSuccess finishes the task. In judge-gated modes the task parks in
// blocked(awaiting_judge) until the judge approves; in direct mode it is
// done immediately.
func (rl *RunLifecycle) completeSuccess(ctx context.Context, r *rundomain.Run, now time.Time) error {
	if rl.mode.JudgeGated() {
		moved, err := rl.tasks.Transition(ctx, r.TaskID, taskdomain.StatusRunning, taskdomain.StatusBlocked, taskdomain.BlockReasonAwaitingJudge, now)
		if err != nil {
			return err
		}
		if moved {
			rl.bus.Publish(domain.NewEvent(domain.EventTaskBlocked, r.TaskID, now, map[string]string{
				"reason": taskdomain.BlockReasonAwaitingJudge,
			}))
		} else {
			rl.logLostRace(r.TaskID, "success")
		}
		return nil
	}

	moved, err := rl.tasks.Transition(ctx, r.TaskID, taskdomain.StatusRunning, taskdomain.StatusDone, "", now)
	if err != nil {
		return err
	}
	if moved {
		rl.metrics.IncTasksCompleted(string(taskdomain.StatusDone))
		rl.bus.Publish(domain.NewEvent(domain.EventTaskDone, r.TaskID, now, nil))
	} else {
		rl.logLostRace(r.TaskID, "success")
	}
	return nil
}

// completeFailure routes the failure through the classifier and the retry
// policy: re-queue while the task's retry count is under the per-category
// cap, fail terminally otherwise.
func (rl *RunLifecycle) completeFailure(ctx context.Context, r *rundomain.Run, errMsg string, errMeta *rundomain.ErrorMeta, now time.Time) error {
	verdict := classify.Classify(errMsg, errMeta)
	rl.metrics.IncRunsFailed(string(verdict.Category))

	t, err := rl.tasks.Get(ctx, r.TaskID)
	if err != nil {
		return err
	}

	limit := retrypolicy.ResolveRetryLimit(verdict.Category, rl.globalRetry)
	signature := classify.NormalizeFailureSignature(errMsg, errMeta)

	if verdict.Retryable && t.RetryCount < limit {
		moved, err := rl.tasks.RequeueForRetry(ctx, r.TaskID, now)
		if err != nil {
			return err
		}
		if moved {
			rl.metrics.IncTasksRequeued()
			rl.bus.Publish(domain.NewEvent(domain.EventTaskRequeued, r.TaskID, now, map[string]string{
				"category":  string(verdict.Category),
				"reason":    verdict.Reason,
				"signature": signature,
			}))
			rl.log.Info("requeued failed task",
				"task", r.TaskID, "category", verdict.Category,
				"retry", t.RetryCount+1, "limit", limit, "signature", signature)
		} else {
			rl.logLostRace(r.TaskID, "failed")
		}
		return nil
	}

	moved, err := rl.tasks.Transition(ctx, r.TaskID, taskdomain.StatusRunning, taskdomain.StatusFailed, "", now)
	if err != nil {
		return err
	}
	if moved {
		rl.metrics.IncTasksCompleted(string(taskdomain.StatusFailed))
		rl.bus.Publish(domain.NewEvent(domain.EventTaskFailed, r.TaskID, now, map[string]string{
			"category": string(verdict.Category),
			"reason":   verdict.Reason,
		}))
		rl.log.Warn("task failed terminally",
			"task", r.TaskID, "category", verdict.Category,
			"reason", verdict.Reason, "retries", t.RetryCount)
		if rl.notifier != nil {
			rl.notifier.NotifyTaskFailed(ctx, t, r, verdict)
		}
	} else {
		rl.logLostRace(r.TaskID, "failed")
	}
	return nil
}

func (rl *RunLifecycle) completeCancelled(ctx context.Context, r *rundomain.Run, now time.Time) error {
	moved, err := rl.tasks.Transition(ctx, r.TaskID, taskdomain.StatusRunning, taskdomain.StatusCancelled, "", now)
	if err != nil {
		return err
	}
	if moved {
		rl.metrics.IncTasksCompleted(string(taskdomain.StatusCancelled))
		rl.bus.Publish(domain.NewEvent(domain.EventTaskCancelled, r.TaskID, now, nil))
	} else {
		rl.logLostRace(r.TaskID, "cancelled")
	}
	return nil
}

// logLostRace records that the task had already left running when the
// report arrived — the sweeper reclaimed it. The worker must treat this as
// a lost race and not retry the commit.
func (rl *RunLifecycle) logLostRace(taskID domain.EntityID, outcome string) {
	rl.log.Debug("task transition lost race with sweeper", "task", taskID, "outcome", outcome)
}
