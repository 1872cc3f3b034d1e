package eventbus

import (
	"testing"
	"time"

	"github.com/Andyyyy64/opentiger/pkg/domain"
)

var t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func TestPublishRoutesToTypedAndGlobalHandlers(t *testing.T) {
	b := New()

	var typed, global int
	b.Subscribe(domain.EventTaskCreated, func(domain.Event) { typed++ })
	b.SubscribeAll(func(domain.Event) { global++ })

	b.Publish(domain.NewEvent(domain.EventTaskCreated, "t1", t0, nil))
	b.Publish(domain.NewEvent(domain.EventLeaseExpired, "t1", t0, nil))

	if typed != 1 {
		t.Errorf("typed handler fired %d times, want 1", typed)
	}
	if global != 2 {
		t.Errorf("global handler fired %d times, want 2", global)
	}
}

func TestClosedBusDropsEvents(t *testing.T) {
	b := New()

	fired := false
	b.SubscribeAll(func(domain.Event) { fired = true })
	b.Close()

	b.Publish(domain.NewEvent(domain.EventTaskDone, "t1", t0, nil))
	if fired {
		t.Error("closed bus must not dispatch")
	}
}

// A handler may subscribe from inside a handler without deadlocking,
// because dispatch happens outside the lock.
func TestHandlerMaySubscribeDuringDispatch(t *testing.T) {
	b := New()

	b.SubscribeAll(func(domain.Event) {
		b.Subscribe(domain.EventTaskDone, func(domain.Event) {})
	})

	done := make(chan struct{})
	go func() {
		b.Publish(domain.NewEvent(domain.EventTaskCreated, "t1", t0, nil))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish deadlocked")
	}

	if b.HandlerCount() != 2 {
		t.Errorf("handler count = %d, want 2", b.HandlerCount())
	}
}
