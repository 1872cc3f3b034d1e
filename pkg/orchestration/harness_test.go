package orchestration

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Andyyyy64/opentiger/pkg/config"
	"github.com/Andyyyy64/opentiger/pkg/domain"
	agentdomain "github.com/Andyyyy64/opentiger/pkg/domain/agent"
	rundomain "github.com/Andyyyy64/opentiger/pkg/domain/run"
	taskdomain "github.com/Andyyyy64/opentiger/pkg/domain/task"
	"github.com/Andyyyy64/opentiger/pkg/infrastructure/persistence"
)

// testClock is a manually advanced time source.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// env is a fully wired core over an in-memory store.
type env struct {
	clock  *testClock
	agents agentdomain.Repository
	tasks  taskdomain.Repository
	runs   rundomain.Repository
	leases *persistence.LeaseRepository
	lm     *LeaseManager
	disp   *Dispatcher
	sweep  *Sweeper
	life   *RunLifecycle
}

type envOptions struct {
	mode        config.RepoMode
	globalRetry int
	grace       time.Duration
	sink        AssignmentSink
	notifier    FailureNotifier
}

func newEnv(t *testing.T, opts envOptions) *env {
	t.Helper()
	if opts.mode == "" {
		opts.mode = config.RepoModeDirect
	}
	if opts.grace <= 0 {
		opts.grace = DefaultGrace
	}

	log := slog.Default()
	store, err := persistence.Open(":memory:", log)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.Migrate(context.Background()))

	clock := newTestClock()
	agents := persistence.NewAgentRepository(store)
	tasks := persistence.NewTaskRepository(store)
	runs := persistence.NewRunRepository(store)
	leases := persistence.NewLeaseRepository(store)

	lm := NewLeaseManager(leases, agents, runs, domain.NopBus{}, clock.Now, nil, log)

	life := NewRunLifecycle(RunLifecycleConfig{
		Tasks:        tasks,
		Runs:         runs,
		LeaseManager: lm,
		Mode:         opts.mode,
		GlobalRetry:  opts.globalRetry,
		Notifier:     opts.notifier,
		Clock:        clock.Now,
		Log:          log,
	})

	disp := NewDispatcher(DispatcherConfig{
		Tasks:        tasks,
		Agents:       agents,
		Runs:         runs,
		LeaseManager: lm,
		Sink:         opts.sink,
		Clock:        clock.Now,
		Log:          log,
	})

	sweep := NewSweeper(SweeperConfig{
		Tasks:        tasks,
		Runs:         runs,
		Leases:       leases,
		LeaseManager: lm,
		Grace:        opts.grace,
		Mode:         opts.mode,
		Clock:        clock.Now,
		Log:          log,
	})

	return &env{
		clock:  clock,
		agents: agents,
		tasks:  tasks,
		runs:   runs,
		leases: leases,
		lm:     lm,
		disp:   disp,
		sweep:  sweep,
		life:   life,
	}
}

func (e *env) addWorker(t *testing.T, id string) *agentdomain.Agent {
	t.Helper()
	a := agentdomain.New(id, agentdomain.RoleWorker, e.clock.Now())
	require.NoError(t, e.agents.Register(context.Background(), a))
	return a
}

func (e *env) addTask(t *testing.T, title string, priority int) *taskdomain.Task {
	t.Helper()
	tk := taskdomain.New(title, "goal for "+title, e.clock.Now())
	tk.Priority = priority
	require.NoError(t, e.tasks.Create(context.Background(), tk))
	return tk
}

func (e *env) taskStatus(t *testing.T, id domain.EntityID) taskdomain.Status {
	t.Helper()
	tk, err := e.tasks.Get(context.Background(), id)
	require.NoError(t, err)
	return tk.Status
}

func (e *env) agentStatus(t *testing.T, id string) agentdomain.Status {
	t.Helper()
	a, err := e.agents.Get(context.Background(), id)
	require.NoError(t, err)
	return a.Status
}

func (e *env) leaseCount(t *testing.T) int {
	t.Helper()
	all, err := e.leases.ListAll(context.Background())
	require.NoError(t, err)
	return len(all)
}

func (e *env) latestRun(t *testing.T, taskID domain.EntityID) *rundomain.Run {
	t.Helper()
	r, err := e.runs.LatestByTask(context.Background(), taskID)
	require.NoError(t, err)
	return r
}
