package orchestration

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Andyyyy64/opentiger/pkg/domain"
	taskdomain "github.com/Andyyyy64/opentiger/pkg/domain/task"
)

// collectSink records delivered assignments.
type collectSink struct {
	delivered []Assignment
}

func (s *collectSink) Deliver(a Assignment) { s.delivered = append(s.delivered, a) }

func TestDispatcher_HighestPriorityFirst(t *testing.T) {
	sink := &collectSink{}
	e := newEnv(t, envOptions{sink: sink})
	ctx := context.Background()

	e.addWorker(t, "w1")
	e.addTask(t, "background cleanup", 1)
	urgent := e.addTask(t, "hotfix", 100)

	n, err := e.disp.DispatchOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "one idle worker, one dispatch")

	require.Len(t, sink.delivered, 1)
	assert.Equal(t, urgent.ID, sink.delivered[0].Task.ID)
	assert.Equal(t, "w1", sink.delivered[0].AgentID)
	assert.False(t, sink.delivered[0].RunID.IsZero())
}

func TestDispatcher_WaitsForDependencies(t *testing.T) {
	e := newEnv(t, envOptions{})
	ctx := context.Background()

	e.addWorker(t, "w1")
	dep := e.addTask(t, "schema migration", 5)
	child := taskdomain.New("backfill", "needs the schema first", e.clock.Now())
	child.Priority = 50
	child.Dependencies = []domain.EntityID{dep.ID}
	require.NoError(t, e.tasks.Create(ctx, child))

	// The child outranks the dep but cannot start before it.
	n, err := e.disp.DispatchOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	assert.Equal(t, taskdomain.StatusRunning, e.taskStatus(t, dep.ID))
	assert.Equal(t, taskdomain.StatusQueued, e.taskStatus(t, child.ID))

	// Finish the dep; the child becomes dispatchable.
	r := e.latestRun(t, dep.ID)
	require.NoError(t, e.life.Complete(ctx, r.ID, OutcomeSuccess, "", nil))

	n, err = e.disp.DispatchOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	assert.Equal(t, taskdomain.StatusRunning, e.taskStatus(t, child.ID))
}

func TestDispatcher_LaneMatching(t *testing.T) {
	e := newEnv(t, envOptions{})
	ctx := context.Background()

	docsWorker := e.addWorker(t, "docs-bot")
	docsWorker.Metadata = domain.Metadata{"lanes": "docs/**"}
	require.NoError(t, e.agents.Register(ctx, docsWorker))

	tk := taskdomain.New("api change", "touch the api", e.clock.Now())
	tk.AllowedPaths = []string{"src/api/**"}
	require.NoError(t, e.tasks.Create(ctx, tk))

	// The only idle worker is laned to docs: nothing dispatches.
	n, err := e.disp.DispatchOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	e.addWorker(t, "generalist")
	n, err = e.disp.DispatchOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	a, err := e.agents.Get(ctx, "generalist")
	require.NoError(t, err)
	assert.Equal(t, tk.ID, a.CurrentTaskID)
}

func TestDispatcher_NoWorkersNoDispatch(t *testing.T) {
	e := newEnv(t, envOptions{})
	e.addTask(t, "T1", 0)

	n, err := e.disp.DispatchOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

// A task whose lease is already held is skipped, not an error.
func TestDispatcher_SkipsHeldTask(t *testing.T) {
	e := newEnv(t, envOptions{})
	ctx := context.Background()

	e.addWorker(t, "w1")
	tk := e.addTask(t, "T1", 0)

	_, err := e.lm.Acquire(ctx, tk.ID, "someone-else", time.Hour)
	require.NoError(t, err)

	n, err := e.disp.DispatchOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, taskdomain.StatusQueued, e.taskStatus(t, tk.ID))
}

// Lease duration follows the task's timebox when it has one.
func TestDispatcher_LeaseBoundedByTimebox(t *testing.T) {
	e := newEnv(t, envOptions{})
	ctx := context.Background()

	e.addWorker(t, "w1")
	tk := taskdomain.New("quick fix", "small and fast", e.clock.Now())
	tk.TimeboxMinutes = 10
	require.NoError(t, e.tasks.Create(ctx, tk))

	n, err := e.disp.DispatchOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	l, err := e.leases.GetByTask(ctx, tk.ID)
	require.NoError(t, err)
	assert.WithinDuration(t, e.clock.Now().Add(10*time.Minute), l.ExpiresAt, time.Second)
}
