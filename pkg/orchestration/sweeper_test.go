package orchestration

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Andyyyy64/opentiger/pkg/config"
	agentdomain "github.com/Andyyyy64/opentiger/pkg/domain/agent"
	rundomain "github.com/Andyyyy64/opentiger/pkg/domain/run"
	taskdomain "github.com/Andyyyy64/opentiger/pkg/domain/task"
)

// Pass A must not disturb tasks a late-arriving worker report already
// terminalized: the requeue predicates on status=running.
func TestSweeper_PassA_LeavesTerminalTasksAlone(t *testing.T) {
	e := newEnv(t, envOptions{mode: config.RepoModeDirect})
	ctx := context.Background()

	e.addWorker(t, "w1")
	tk := e.addTask(t, "T1", 0)

	_, err := e.disp.DispatchOnce(ctx)
	require.NoError(t, err)

	// Worker finishes just before the sweep: task done, lease released.
	r := e.latestRun(t, tk.ID)
	require.NoError(t, e.life.Complete(ctx, r.ID, OutcomeSuccess, "", nil))
	require.Equal(t, taskdomain.StatusDone, e.taskStatus(t, tk.ID))

	e.clock.Advance(2 * time.Hour)
	report, err := e.sweep.SweepOnce(ctx)
	require.NoError(t, err)

	assert.Equal(t, 0, report.ExpiredLeases, "lease was already released")
	assert.Equal(t, taskdomain.StatusDone, e.taskStatus(t, tk.ID), "done stays done")
}

// Pass B: a lease on a queued task with no active run marks a worker that
// crashed between lease acquisition and run creation.
func TestSweeper_PassB_DanglingLeaseOnQueuedTask(t *testing.T) {
	e := newEnv(t, envOptions{})
	ctx := context.Background()

	e.addWorker(t, "w1")
	tk := e.addTask(t, "T1", 0)

	// Claim without ever creating the run or moving the task.
	_, err := e.lm.Acquire(ctx, tk.ID, "w1", time.Hour)
	require.NoError(t, err)
	require.NoError(t, e.agents.MarkBusy(ctx, "w1", tk.ID))

	report, err := e.sweep.SweepOnce(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, report.DanglingLeases)
	assert.Equal(t, 0, e.leaseCount(t))
	assert.Equal(t, taskdomain.StatusQueued, e.taskStatus(t, tk.ID))
	assert.Equal(t, agentdomain.StatusIdle, e.agentStatus(t, "w1"))
}

// Pass B leaves a queued task's lease alone while its run is still active:
// that is the dispatcher mid-flight, not a crash.
func TestSweeper_PassB_SparesLeaseWithActiveRun(t *testing.T) {
	e := newEnv(t, envOptions{})
	ctx := context.Background()

	e.addWorker(t, "w1")
	tk := e.addTask(t, "T1", 0)

	_, err := e.lm.Acquire(ctx, tk.ID, "w1", time.Hour)
	require.NoError(t, err)
	require.NoError(t, e.runs.Create(ctx, rundomain.New(tk.ID, "w1", e.clock.Now())))

	report, err := e.sweep.SweepOnce(ctx)
	require.NoError(t, err)

	assert.Equal(t, 0, report.DanglingLeases)
	assert.Equal(t, 1, e.leaseCount(t))
}

// Pass C spares running tasks inside the grace window, and running tasks
// whose run is still active.
func TestSweeper_PassC_RespectsGraceAndActiveRuns(t *testing.T) {
	e := newEnv(t, envOptions{grace: 2 * time.Minute})
	ctx := context.Background()

	e.addWorker(t, "w1")
	tk := e.addTask(t, "T1", 0)

	_, err := e.disp.DispatchOnce(ctx)
	require.NoError(t, err)

	// Inside the grace window: untouched even though we poke at it.
	report, err := e.sweep.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, report.OrphanedTasks)

	// Past the grace window but the run is still active: untouched.
	e.clock.Advance(5 * time.Minute)
	report, err = e.sweep.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, report.OrphanedTasks)
	assert.Equal(t, taskdomain.StatusRunning, e.taskStatus(t, tk.ID))
}

// Pass D auto-approves blocked tasks only in direct mode.
func TestSweeper_PassD_DirectModeOnly(t *testing.T) {
	tests := []struct {
		name         string
		mode         config.RepoMode
		wantApproved int
		wantStatus   taskdomain.Status
	}{
		{"direct mode approves", config.RepoModeDirect, 1, taskdomain.StatusDone},
		{"github mode leaves blocked", config.RepoModeGitHub, 0, taskdomain.StatusBlocked},
		{"local-git mode leaves blocked", config.RepoModeLocalGit, 0, taskdomain.StatusBlocked},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t, envOptions{mode: tt.mode})
			ctx := context.Background()

			tk := e.addTask(t, "T1", 0)
			moved, err := e.tasks.Transition(ctx, tk.ID, taskdomain.StatusQueued, taskdomain.StatusBlocked,
				taskdomain.BlockReasonAwaitingJudge, e.clock.Now())
			require.NoError(t, err)
			require.True(t, moved)

			report, err := e.sweep.SweepOnce(ctx)
			require.NoError(t, err)

			assert.Equal(t, tt.wantApproved, report.AutoApproved)
			assert.Equal(t, tt.wantStatus, e.taskStatus(t, tk.ID))
		})
	}
}

// Sweeping twice in a row repairs nothing the second time: every pass is
// idempotent.
func TestSweeper_Idempotent(t *testing.T) {
	e := newEnv(t, envOptions{grace: time.Minute})
	ctx := context.Background()

	e.addWorker(t, "w1")
	tk := e.addTask(t, "T1", 0)

	_, err := e.disp.DispatchOnce(ctx)
	require.NoError(t, err)
	r := e.latestRun(t, tk.ID)
	_, err = e.runs.Terminalize(ctx, r.ID, rundomain.StatusFailed, e.clock.Now(), "crash", nil)
	require.NoError(t, err)

	e.clock.Advance(2 * time.Hour)

	first, err := e.sweep.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Greater(t, first.Total(), 0)

	second, err := e.sweep.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, second.Total(), "second sweep must find nothing to repair")
}
