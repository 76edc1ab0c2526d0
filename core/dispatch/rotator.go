package dispatch

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/fieldops/rove/core/logger"
	"github.com/fieldops/rove/core/model"
	"github.com/fieldops/rove/internal/eventbus"
)

// CredentialRotator owns the two account queues and the rotation policy.
// Swaps are account-lifecycle operations: they take the worker's busy lock
// but never consume an admission permit.
type CredentialRotator struct {
	available    AccountQueue
	verification AccountQueue
	workers      []*Worker
	cfg          Config
	log          logger.Logger
	bus          eventbus.EventBus

	paused atomic.Bool
}

// NewCredentialRotator creates a rotator over the worker pool.
func NewCredentialRotator(available, verification AccountQueue, workers []*Worker, cfg Config, log logger.Logger, bus eventbus.EventBus) (*CredentialRotator, error) {
	if available == nil || verification == nil {
		return nil, fmt.Errorf("dispatch: rotator needs both account queues")
	}
	if len(workers) == 0 {
		return nil, fmt.Errorf("dispatch: rotator needs a non-empty worker pool")
	}
	return &CredentialRotator{
		available:    available,
		verification: verification,
		workers:      workers,
		cfg:          cfg,
		log:          log,
		bus:          bus,
	}, nil
}

// Paused reports whether dispatch is currently paused on verification
// backpressure.
func (r *CredentialRotator) Paused() bool { return r.paused.Load() }

// VerificationBacklog returns the verification queue size.
func (r *CredentialRotator) VerificationBacklog() int { return r.verification.Size() }

// OverCeiling reports whether the verification backlog exceeds the configured
// ceiling.
func (r *CredentialRotator) OverCeiling() bool {
	return r.verification.Size() > r.cfg.VerificationCeiling
}

// PauseWait blocks until the verification backlog drops back to the ceiling
// and returns the time spent waiting. The rotator reports itself paused for
// the duration.
func (r *CredentialRotator) PauseWait(ctx context.Context) (time.Duration, error) {
	r.paused.Store(true)
	defer r.paused.Store(false)
	size := r.verification.Size()
	r.log.Warnf("verification backlog %d over ceiling %d, pausing dispatch", size, r.cfg.VerificationCeiling)
	if r.bus != nil {
		r.bus.Publish(eventbus.PauseEvent{Paused: true, QueueSize: size})
	}
	waited, err := r.verification.WaitUntilBelow(ctx, r.cfg.VerificationCeiling+1)
	if r.bus != nil {
		r.bus.Publish(eventbus.PauseEvent{Paused: false, QueueSize: r.verification.Size(), Waited: waited})
	}
	pausedSeconds.Add(waited.Seconds())
	return waited, err
}

// Run drives the two rotation timers until the context is canceled. The
// stale-session timer waits out the minimum runtime before its first check so
// fresh sessions are not rotated at startup.
func (r *CredentialRotator) Run(ctx context.Context) {
	interval := time.Duration(r.cfg.SwapIntervalSeconds) * time.Second
	first := interval
	if min := time.Duration(r.cfg.MinimumRuntimeMinutes * float64(time.Minute)); min > first {
		first = min
	}

	under := time.NewTicker(interval)
	defer under.Stop()
	oldest := time.NewTimer(first)
	defer oldest.Stop()

	for {
		select {
		case <-under.C:
			r.swapUnderperformer(ctx)
		case <-oldest.C:
			r.swapOldest(ctx)
			oldest.Reset(interval)
		case <-ctx.Done():
			return
		}
	}
}

// swapUnderperformer rotates the worker with the lowest sightings-per-minute
// rate, provided a replacement account is ready.
func (r *CredentialRotator) swapUnderperformer(ctx context.Context) {
	if r.paused.Load() || r.available.Size() == 0 {
		return
	}
	now := time.Now()
	var worst *Worker
	lowest := 0.0
	for _, w := range r.workers {
		rate := w.SeenPerMinute(now)
		if worst == nil || rate < lowest {
			worst = w
			lowest = rate
		}
	}
	if worst == nil {
		return
	}
	go r.swap(ctx, worst, "underperformer")
}

// swapOldest proactively rotates the longest-running session once it exceeds
// the minimum runtime, regardless of performance.
func (r *CredentialRotator) swapOldest(ctx context.Context) {
	if r.paused.Load() || r.available.Size() == 0 {
		return
	}
	var oldest *Worker
	for _, w := range r.workers {
		if oldest == nil || w.StartTime().Before(oldest.StartTime()) {
			oldest = w
		}
	}
	if oldest == nil {
		return
	}
	minutes := time.Since(oldest.StartTime()).Minutes()
	if minutes <= r.cfg.MinimumRuntimeMinutes {
		return
	}
	r.log.Infof("worker %d session has run %.1f minutes, rotating", oldest.ID(), minutes)
	go r.swap(ctx, oldest, "stale")
}

func (r *CredentialRotator) swap(ctx context.Context, w *Worker, reason string) {
	fresh, ok := r.available.TryPop()
	if !ok {
		return
	}
	w.Acquire()
	defer w.Release()
	old, err := w.SwapCredential(ctx, fresh)
	if err != nil {
		if ctx.Err() == nil {
			r.log.Errorf("credential swap on worker %d failed: %v", w.ID(), err)
		}
		r.available.Push(fresh)
		return
	}
	routed := r.Route(old)
	accountSwaps.WithLabelValues(reason).Inc()
	r.log.Infof("swapped %s out of worker %d (%s)", old.Username, w.ID(), reason)
	if r.bus != nil {
		r.bus.Publish(eventbus.SwapEvent{
			WorkerID: w.ID(),
			Reason:   reason,
			Old:      old.Username,
			New:      fresh.Username,
			Routed:   routed,
		})
	}
}

// Route returns a swapped-out account to the pool it belongs to and reports
// which queue received it. Banned accounts are dropped.
func (r *CredentialRotator) Route(acct model.Account) string {
	switch {
	case acct.Username == "" || acct.Banned:
		return ""
	case acct.NeedsVerification:
		r.verification.Push(acct)
		return "verification"
	default:
		r.available.Push(acct)
		return "available"
	}
}
