package dispatch

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestAdmissionGate_Bound(t *testing.T) {
	const limit = 4
	g, err := NewAdmissionGate(limit)
	if err != nil {
		t.Fatalf("gate: %v", err)
	}

	var running, peak atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := g.Acquire(context.Background()); err != nil {
				t.Errorf("acquire: %v", err)
				return
			}
			defer g.Release()
			n := running.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			running.Add(-1)
		}()
	}
	wg.Wait()

	if p := peak.Load(); p > limit {
		t.Fatalf("gate admitted %d concurrent tasks, limit %d", p, limit)
	}
	if got := g.InFlight(); got != 0 {
		t.Fatalf("expected 0 in flight after join, got %d", got)
	}
}

func TestAdmissionGate_AcquireCancel(t *testing.T) {
	g, err := NewAdmissionGate(1)
	if err != nil {
		t.Fatalf("gate: %v", err)
	}
	if err := g.Acquire(context.Background()); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := g.Acquire(ctx); err == nil {
		t.Fatalf("expected context error on saturated gate")
	}
}

func TestAdmissionGate_ReleaseWithoutAcquirePanics(t *testing.T) {
	g, err := NewAdmissionGate(1)
	if err != nil {
		t.Fatalf("gate: %v", err)
	}
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic on over-release")
		}
	}()
	g.Release()
}

func TestAdmissionGate_Drain(t *testing.T) {
	g, err := NewAdmissionGate(2)
	if err != nil {
		t.Fatalf("gate: %v", err)
	}
	if err := g.Acquire(context.Background()); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	go func() {
		time.Sleep(30 * time.Millisecond)
		g.Release()
	}()
	if left := g.Drain(time.Second); left != 0 {
		t.Fatalf("expected full drain, %d left", left)
	}

	if err := g.Acquire(context.Background()); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if left := g.Drain(50 * time.Millisecond); left != 1 {
		t.Fatalf("expected 1 abandoned permit, got %d", left)
	}
}

func TestAdmissionGate_RejectsBadLimit(t *testing.T) {
	if _, err := NewAdmissionGate(0); err == nil {
		t.Fatalf("expected error for zero limit")
	}
}
