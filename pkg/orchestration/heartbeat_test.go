package orchestration

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Andyyyy64/opentiger/pkg/domain"
)

func TestHeartbeatRunner_Beat(t *testing.T) {
	e := newEnv(t, envOptions{})
	ctx := context.Background()

	e.addWorker(t, "w1")
	hb := NewHeartbeatRunner(e.agents, "w1", time.Second, domain.NopBus{}, e.clock.Now, slog.Default())

	require.NoError(t, hb.Beat(ctx))

	a, err := e.agents.Get(ctx, "w1")
	require.NoError(t, err)
	require.NotNil(t, a.LastHeartbeat)
	assert.WithinDuration(t, e.clock.Now(), *a.LastHeartbeat, time.Second)

	e.clock.Advance(time.Minute)
	require.NoError(t, hb.Beat(ctx))
	a, err = e.agents.Get(ctx, "w1")
	require.NoError(t, err)
	assert.WithinDuration(t, e.clock.Now(), *a.LastHeartbeat, time.Second)
}

func TestStaleAgents(t *testing.T) {
	e := newEnv(t, envOptions{})
	ctx := context.Background()

	e.addWorker(t, "fresh")
	e.addWorker(t, "silent")

	require.NoError(t, e.agents.Heartbeat(ctx, "fresh", e.clock.Now()))

	e.clock.Advance(2 * time.Minute)
	require.NoError(t, e.agents.Heartbeat(ctx, "fresh", e.clock.Now()))

	stale, err := StaleAgents(ctx, e.agents, e.clock.Now, time.Minute)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, "silent", stale[0].ID, "an agent that never heartbeat is stale")
}
