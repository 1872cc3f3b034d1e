// Package bus carries the dispatcher → worker → core traffic for workers
// hosted in the same process. Remote workers use the HTTP surface instead;
// the bus only transports the same contract.
package bus

import (
	"context"
	"sync"
)

// Subscriber is a named tap on a stream. Multiple subscribers can
// independently observe the same traffic (fan-out); slow taps drop.
type Subscriber struct {
	Name string
	ch   chan interface{}
}

// DispatchBus routes assignments to per-agent queues and completion
// reports back to the core.
type DispatchBus struct {
	dispatches map[string]chan Dispatch // agentID -> queue
	reports    chan Report
	mu         sync.RWMutex
	closed     bool
	closeOnce  sync.Once

	// Fan-out observers — every dispatch and report is copied to all taps.
	dispatchTaps []*Subscriber
	reportTaps   []*Subscriber
}

// NewDispatchBus creates an empty dispatch bus.
func NewDispatchBus() *DispatchBus {
	return &DispatchBus{
		dispatches: make(map[string]chan Dispatch),
		reports:    make(chan Report, 100),
	}
}

// Register creates (or returns) the dispatch queue for an agent. Workers
// receive from the returned channel.
func (b *DispatchBus) Register(agentID string) <-chan Dispatch {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch, ok := b.dispatches[agentID]
	if !ok {
		ch = make(chan Dispatch, 16)
		b.dispatches[agentID] = ch
	}
	return ch
}

// Deliver enqueues an assignment for its agent. A missing or full queue
// drops the delivery: the lease still bounds the task, and the sweeper
// recovers work an absent worker never started.
func (b *DispatchBus) Deliver(d Dispatch) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	if ch, ok := b.dispatches[d.AgentID]; ok {
		select {
		case ch <- d:
		default:
		}
	}
	b.fanOut(b.dispatchTaps, d)
}

// Report submits a completion report. Blocks when the core is behind.
func (b *DispatchBus) Report(ctx context.Context, r Report) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrClosed
	}
	b.mu.RUnlock()

	select {
	case b.reports <- r:
		b.mu.RLock()
		b.fanOut(b.reportTaps, r)
		b.mu.RUnlock()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ConsumeReports drains completion reports into handler until the context
// ends. A handler error leaves the loop running; the report is lost here
// but the lease expiry recovers the task.
func (b *DispatchBus) ConsumeReports(ctx context.Context, handler ReportHandler) {
	for {
		select {
		case <-ctx.Done():
			return
		case r := <-b.reports:
			_ = handler(r)
		}
	}
}

// TapDispatches creates a named observer of all deliveries.
func (b *DispatchBus) TapDispatches(name string) <-chan interface{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub := &Subscriber{Name: name, ch: make(chan interface{}, 64)}
	b.dispatchTaps = append(b.dispatchTaps, sub)
	return sub.ch
}

// TapReports creates a named observer of all reports.
func (b *DispatchBus) TapReports(name string) <-chan interface{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub := &Subscriber{Name: name, ch: make(chan interface{}, 64)}
	b.reportTaps = append(b.reportTaps, sub)
	return sub.ch
}

func (b *DispatchBus) fanOut(taps []*Subscriber, msg interface{}) {
	for _, sub := range taps {
		select {
		case sub.ch <- msg:
		default: // non-blocking — drop if the tap is slow
		}
	}
}

// Close shuts the bus down. Pending queues are closed.
func (b *DispatchBus) Close() {
	b.closeOnce.Do(func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.closed = true
		for _, ch := range b.dispatches {
			close(ch)
		}
	})
}

// ErrClosed is returned when reporting on a closed bus.
const ErrClosed = busError("dispatch bus closed")

type busError string

func (e busError) Error() string { return string(e) }
