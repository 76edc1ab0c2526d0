package dispatch

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fieldops/rove/core/geo"
	"github.com/fieldops/rove/core/model"
)

// Worker is one long-lived pool slot. It owns the busy lock that guarantees
// at most one concurrent visit operation and delegates the protocol-level
// session work to its Visitor.
type Worker struct {
	id        int
	visitor   Visitor
	scanDelay float64 // seconds, floor for travel time estimation

	// busy is held for the whole duration of a visit or credential swap.
	// Multiple tasks may race to claim an idle worker; losers re-poll.
	busy sync.Mutex

	mu         sync.Mutex // guards the movement fields below
	location   model.Point
	lastVisit  time.Time
	speed      float64
	afterSpawn float64
	startTime  time.Time

	visits atomic.Int64
	seen   atomic.Int64
}

// NewWorker creates a worker slot at the given start location.
func NewWorker(id int, visitor Visitor, start model.Point, scanDelay float64) *Worker {
	return &Worker{
		id:        id,
		visitor:   visitor,
		scanDelay: scanDelay,
		location:  start,
		startTime: time.Now(),
	}
}

// ID returns the worker's pool index.
func (w *Worker) ID() int { return w.id }

// TryAcquire attempts to claim the worker without blocking.
func (w *Worker) TryAcquire() bool { return w.busy.TryLock() }

// Acquire blocks until the worker is claimed. Used by credential swaps and
// phase-one bootstrap, where waiting out the current visit is intended.
func (w *Worker) Acquire() { w.busy.Lock() }

// Release frees the worker for the next assignment.
func (w *Worker) Release() { w.busy.Unlock() }

// Idle reports whether the worker appeared unclaimed at the time of the call.
// The answer may be stale by the time the caller acts on it.
func (w *Worker) Idle() bool {
	if w.busy.TryLock() {
		w.busy.Unlock()
		return true
	}
	return false
}

// TravelSpeed estimates the speed in km/h the worker would need to sustain to
// reach the point, based on its last known location and the time elapsed
// since its last visit, floored by the configured scan delay.
func (w *Worker) TravelSpeed(p model.Point) float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	elapsed := time.Since(w.lastVisit).Seconds()
	if elapsed < w.scanDelay {
		elapsed = w.scanDelay
	}
	return geo.Distance(w.location, p) / elapsed * 3.6
}

// SetSpeed records the winning assignment speed.
func (w *Worker) SetSpeed(v float64) {
	w.mu.Lock()
	w.speed = v
	w.mu.Unlock()
}

// SetAfterSpawn records the scheduling delay of the current assignment.
func (w *Worker) SetAfterSpawn(seconds float64) {
	w.mu.Lock()
	w.afterSpawn = seconds
	w.mu.Unlock()
}

// Visit performs a steady-state visit under the caller-held busy lock and
// folds the outcome into the worker's counters.
func (w *Worker) Visit(ctx context.Context, p model.Point, spawnID string) (VisitOutcome, error) {
	out, err := w.visitor.Visit(ctx, p, spawnID)
	if err == nil {
		w.recordVisit(p, out)
	}
	return out, err
}

// BootstrapVisit performs a cold-start visit under the caller-held busy lock.
func (w *Worker) BootstrapVisit(ctx context.Context, p model.Point) (VisitOutcome, error) {
	out, err := w.visitor.BootstrapVisit(ctx, p)
	if err == nil {
		w.recordVisit(p, out)
	}
	return out, err
}

// SwapCredential replaces the worker's active account under the caller-held
// busy lock. The session start time is reset on success.
func (w *Worker) SwapCredential(ctx context.Context, fresh model.Account) (model.Account, error) {
	old, err := w.visitor.SwapAccount(ctx, fresh)
	if err != nil {
		return model.Account{}, err
	}
	w.mu.Lock()
	w.startTime = time.Now()
	w.mu.Unlock()
	return old, nil
}

func (w *Worker) recordVisit(p model.Point, out VisitOutcome) {
	w.mu.Lock()
	w.location = p
	w.lastVisit = time.Now()
	w.mu.Unlock()
	if out.Found {
		w.visits.Add(1)
	}
	w.seen.Add(int64(out.Seen))
}

// StartTime returns the start of the current credential session.
func (w *Worker) StartTime() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.startTime
}

// SeenPerMinute is the worker's distinct-sightings rate over the current
// session, used to pick underperformers for rotation.
func (w *Worker) SeenPerMinute(now time.Time) float64 {
	minutes := now.Sub(w.StartTime()).Minutes()
	if minutes <= 0 {
		return 0
	}
	return float64(w.seen.Load()) / minutes
}

// Counters returns a snapshot of the worker's cumulative counters.
func (w *Worker) Counters() model.WorkerCounters {
	w.mu.Lock()
	afterSpawn := w.afterSpawn
	speed := w.speed
	start := w.startTime
	w.mu.Unlock()
	return model.WorkerCounters{
		ID:         w.id,
		Visits:     w.visits.Load(),
		Seen:       w.seen.Load(),
		AfterSpawn: afterSpawn,
		Speed:      speed,
		StartTime:  start,
		Status:     w.visitor.Status(),
		ErrorCode:  w.visitor.ErrorCode(),
	}
}
