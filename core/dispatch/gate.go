package dispatch

import (
	"context"
	"fmt"
	"time"
)

// AdmissionGate is a counting semaphore bounding the number of concurrently
// running visit tasks. Every dispatch acquires one permit before the task is
// created and releases it exactly once when the task finishes, on every exit
// path. Waiters are served in no particular order.
type AdmissionGate struct {
	permits chan struct{}
}

// NewAdmissionGate creates a gate admitting up to limit concurrent tasks.
func NewAdmissionGate(limit int) (*AdmissionGate, error) {
	if limit < 1 {
		return nil, fmt.Errorf("dispatch: admission gate limit must be positive, got %d", limit)
	}
	return &AdmissionGate{permits: make(chan struct{}, limit)}, nil
}

// Acquire obtains a permit, blocking until one is free or the context is
// canceled.
func (g *AdmissionGate) Acquire(ctx context.Context) error {
	select {
	case g.permits <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release returns a permit. Releasing more permits than were acquired is a
// programming error and panics.
func (g *AdmissionGate) Release() {
	select {
	case <-g.permits:
	default:
		panic("dispatch: admission gate release without acquire")
	}
}

// InFlight returns the number of currently held permits.
func (g *AdmissionGate) InFlight() int { return len(g.permits) }

// Limit returns the gate's capacity.
func (g *AdmissionGate) Limit() int { return cap(g.permits) }

// Drain waits until all permits are released or the timeout elapses. It is
// called during shutdown, after the run context is already canceled, so it
// runs on its own clock. It returns the number of permits still held.
func (g *AdmissionGate) Drain(timeout time.Duration) int {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	for {
		if len(g.permits) == 0 {
			return 0
		}
		select {
		case <-tick.C:
		case <-deadline.C:
			return len(g.permits)
		}
	}
}
