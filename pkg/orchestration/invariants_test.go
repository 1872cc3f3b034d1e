package orchestration

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	agentdomain "github.com/Andyyyy64/opentiger/pkg/domain/agent"
	rundomain "github.com/Andyyyy64/opentiger/pkg/domain/run"
	taskdomain "github.com/Andyyyy64/opentiger/pkg/domain/task"
)

// checkInvariants asserts the cross-entity invariants that must hold at any
// observation point:
//  1. a running task has exactly one lease and exactly one running run
//  2. a busy agent holds at least one lease or owns a running run
//  3. every lease expires strictly after its creation
func checkInvariants(t *testing.T, e *env) {
	t.Helper()
	ctx := context.Background()

	running, err := e.tasks.List(ctx, taskdomain.StatusRunning)
	require.NoError(t, err)
	for _, tk := range running {
		l, err := e.leases.GetByTask(ctx, tk.ID)
		require.NoError(t, err, "running task %s must hold a lease", tk.ID)
		require.NotNil(t, l)

		runs, err := e.runs.ListByTask(ctx, tk.ID)
		require.NoError(t, err)
		active := 0
		for _, r := range runs {
			if r.Status == rundomain.StatusRunning {
				active++
			}
		}
		assert.Equal(t, 1, active, "running task %s must have exactly one running run", tk.ID)
	}

	agents, err := e.agents.List(ctx)
	require.NoError(t, err)
	for _, a := range agents {
		if a.Status != agentdomain.StatusBusy {
			continue
		}
		held, err := e.leases.CountByAgent(ctx, a.ID)
		require.NoError(t, err)
		active, err := e.runs.CountRunningByAgent(ctx, a.ID)
		require.NoError(t, err)
		assert.True(t, held > 0 || active > 0,
			"busy agent %s must hold a lease or own a running run", a.ID)
	}

	all, err := e.leases.ListAll(ctx)
	require.NoError(t, err)
	for _, l := range all {
		assert.True(t, l.ExpiresAt.After(l.CreatedAt),
			"lease %s must expire strictly after creation", l.ID)
	}
}

// A mixed workload — dispatches, successes, failures, expiries, sweeps —
// never leaves the store in a state that violates the invariants.
func TestInvariants_MixedWorkload(t *testing.T) {
	e := newEnv(t, envOptions{grace: time.Minute, globalRetry: -1})
	ctx := context.Background()

	e.addWorker(t, "w1")
	e.addWorker(t, "w2")
	e.addWorker(t, "w3")

	t1 := e.addTask(t, "alpha", 10)
	t2 := e.addTask(t, "beta", 5)
	e.addTask(t, "gamma", 1)

	n, err := e.disp.DispatchOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, n)
	checkInvariants(t, e)

	// alpha succeeds.
	r1 := e.latestRun(t, t1.ID)
	require.NoError(t, e.life.Complete(ctx, r1.ID, OutcomeSuccess, "", nil))
	checkInvariants(t, e)

	// beta fails retryably and is redispatched.
	r2 := e.latestRun(t, t2.ID)
	require.NoError(t, e.life.Complete(ctx, r2.ID, OutcomeFailed, "request timed out", nil))
	checkInvariants(t, e)

	e.clock.Advance(time.Minute)
	_, err = e.disp.DispatchOnce(ctx)
	require.NoError(t, err)
	checkInvariants(t, e)

	// The remaining workers go dark: every outstanding lease runs out.
	// Pass A reclaims the tasks and cancels the zombie runs.
	e.clock.Advance(2 * time.Hour)
	report, err := e.sweep.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.ExpiredLeases)
	checkInvariants(t, e)

	// Everything the sweeper requeued can dispatch again without ever
	// producing a second running run.
	n, err = e.disp.DispatchOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	checkInvariants(t, e)
}
