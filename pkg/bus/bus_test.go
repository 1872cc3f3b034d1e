package bus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	taskdomain "github.com/Andyyyy64/opentiger/pkg/domain/task"
)

func TestDispatchBus_DeliverToRegisteredAgent(t *testing.T) {
	b := NewDispatchBus()
	defer b.Close()

	ch := b.Register("w1")
	tk := taskdomain.New("t", "g", time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))

	b.Deliver(Dispatch{Task: tk, RunID: "r1", AgentID: "w1"})

	select {
	case got := <-ch:
		assert.Equal(t, tk.ID, got.Task.ID)
		assert.Equal(t, "r1", string(got.RunID))
	default:
		t.Fatal("expected a queued dispatch")
	}
}

func TestDispatchBus_DeliverToUnknownAgentDrops(t *testing.T) {
	b := NewDispatchBus()
	defer b.Close()

	// No queue for the agent: the delivery is dropped, not a panic. The
	// lease still bounds the task and the sweeper recovers it.
	b.Deliver(Dispatch{AgentID: "ghost"})
}

func TestDispatchBus_ReportsRoundTrip(t *testing.T) {
	b := NewDispatchBus()
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan Report, 1)
	go b.ConsumeReports(ctx, func(r Report) error {
		got <- r
		return nil
	})

	require.NoError(t, b.Report(ctx, Report{RunID: "r1", Outcome: "success"}))

	select {
	case r := <-got:
		assert.Equal(t, "r1", string(r.RunID))
		assert.Equal(t, "success", r.Outcome)
	case <-time.After(time.Second):
		t.Fatal("report never consumed")
	}
}

func TestDispatchBus_ClosedBusRejectsReports(t *testing.T) {
	b := NewDispatchBus()
	b.Close()

	err := b.Report(context.Background(), Report{RunID: "r1"})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestDispatchBus_Taps(t *testing.T) {
	b := NewDispatchBus()
	defer b.Close()

	b.Register("w1")
	tap := b.TapDispatches("observer")

	b.Deliver(Dispatch{AgentID: "w1", RunID: "r1"})

	select {
	case msg := <-tap:
		d, ok := msg.(Dispatch)
		require.True(t, ok)
		assert.Equal(t, "r1", string(d.RunID))
	default:
		t.Fatal("tap did not observe the dispatch")
	}
}
