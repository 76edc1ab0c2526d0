package dispatch

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/fieldops/rove/core/geo"
	"github.com/fieldops/rove/core/logger"
	"github.com/fieldops/rove/core/metrics"
	"github.com/fieldops/rove/core/model"
	"github.com/fieldops/rove/internal/eventbus"
)

// startTolerance ends the cold-start seek as soon as an event within this
// many seconds of the current time of hour is found.
const startTolerance = 3

// dueThreshold is how close to its spawn time an event counts as due. While
// an event is further out the loop drains the mystery backlog instead.
const dueThreshold = 0.5

// Deps carries the collaborators of the dispatch manager.
type Deps struct {
	Source    SpawnSource
	Sightings SightingStore
	Workers   []*Worker
	Selector  *Selector
	Gate      *AdmissionGate
	Rotator   *CredentialRotator
	Logger    logger.Logger
	Sink      metrics.Sink
	Bus       eventbus.EventBus
	// Snapshot persists the account set. Called in a separate goroutine after
	// each steady-state refresh; optional.
	Snapshot func(context.Context) error
	// Bounds is the scan area; the bootstrap procedure derives the initial
	// per-worker coordinates and the coverage grid from it.
	Bounds geo.Bounds
	// GridRows x GridCols is the worker layout over the bounds and must
	// equal the pool size.
	GridRows, GridCols int
}

// Manager is the top-level scheduler. It drives the spawn source, applies
// verification backpressure, and spawns visit tasks gated by the admission
// gate and scored by the selector.
type Manager struct {
	src       SpawnSource
	sightings SightingStore
	workers   []*Worker
	selector  *Selector
	gate      *AdmissionGate
	rotator   *CredentialRotator
	log       logger.Logger
	sink      metrics.Sink
	bus       eventbus.EventBus
	snapshot  func(context.Context) error
	bounds    geo.Bounds
	gridRows  int
	gridCols  int
	cfg       Config

	visits    atomic.Int64
	skipped   atomic.Int64
	redundant atomic.Int64
	idleMS    atomic.Int64

	backlog           backlog
	nextMysteryReload time.Time
	startedAt         time.Time
}

// New creates a manager from its collaborators.
func New(deps Deps, cfg Config) (*Manager, error) {
	if deps.Source == nil || deps.Sightings == nil || deps.Selector == nil ||
		deps.Gate == nil || deps.Rotator == nil {
		return nil, fmt.Errorf("dispatch: nil collaborator provided to New")
	}
	if len(deps.Workers) == 0 {
		return nil, fmt.Errorf("dispatch: empty worker pool")
	}
	if deps.Logger == nil {
		return nil, fmt.Errorf("dispatch: nil logger")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.GridRows*deps.GridCols != len(deps.Workers) {
		return nil, fmt.Errorf("dispatch: grid %dx%d does not match pool size %d",
			deps.GridRows, deps.GridCols, len(deps.Workers))
	}
	sink := deps.Sink
	if sink == nil {
		sink = metrics.NopSink{}
	}
	return &Manager{
		src:       deps.Source,
		sightings: deps.Sightings,
		workers:   deps.Workers,
		selector:  deps.Selector,
		gate:      deps.Gate,
		rotator:   deps.Rotator,
		log:       deps.Logger,
		sink:      sink,
		bus:       deps.Bus,
		snapshot:  deps.Snapshot,
		bounds:    deps.Bounds,
		gridRows:  deps.GridRows,
		gridCols:  deps.GridCols,
		cfg:       cfg,
		startedAt: time.Now(),
	}, nil
}

// Counts is a snapshot of the process-wide dispatch counters.
type Counts struct {
	Visits    int64
	Skipped   int64
	Redundant int64
	Idle      time.Duration
	InFlight  int
	Backlog   int
	Since     time.Time
}

// Counts returns the current dispatch counters.
func (m *Manager) Counts() Counts {
	return Counts{
		Visits:    m.visits.Load(),
		Skipped:   m.skipped.Load(),
		Redundant: m.redundant.Load(),
		Idle:      time.Duration(m.idleMS.Load()) * time.Millisecond,
		InFlight:  m.gate.InFlight(),
		Backlog:   m.backlog.len(),
		Since:     m.startedAt,
	}
}

// Run executes the dispatch loop until the context is canceled. The initial
// spawn load is fatal on failure; afterwards any single iteration's fault is
// logged and retried, and only exceeding the consecutive-fault ceiling or a
// cancellation ends the loop. forceBootstrap runs the cold-start procedure
// even when spawn data exists; fromSnapshot allows the initial load to be
// satisfied from the persisted snapshot.
func (m *Manager) Run(ctx context.Context, forceBootstrap, fromSnapshot bool) error {
	if err := m.refreshSpawns(ctx, true, fromSnapshot); err != nil {
		return err
	}
	if m.src.Len() == 0 || forceBootstrap {
		if err := m.Bootstrap(ctx); err != nil {
			return err
		}
		if err := m.refreshSpawns(ctx, false, false); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// Only the very first load is fatal. The loop below retries the
			// refresh under the consecutive-fault ceiling.
			m.log.Errorf("post-bootstrap spawn refresh failed: %v", err)
		}
	}
	m.backlog.fill(m.src.DrainMysteries())
	m.nextMysteryReload = time.Now().Add(time.Duration(m.cfg.RescanUnknownSeconds) * time.Second)

	faults := 0
	updateSpawns := false
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		err := m.runHour(ctx, updateSpawns)
		if err == nil {
			faults = 0
			updateSpawns = true
			continue
		}
		if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return ctx.Err()
		}
		faults++
		if faults > m.cfg.MaxConsecutiveFaults {
			m.log.Errorf("over %d consecutive faults in dispatch loop, aborting: %v", m.cfg.MaxConsecutiveFaults, err)
			return fmt.Errorf("dispatch loop aborted after %d consecutive faults: %w", faults, err)
		}
		m.log.Errorf("fault in dispatch loop iteration: %v", err)
	}
}

// Drain waits for in-flight visit tasks after Run has returned, up to the
// configured timeout, then proceeds regardless.
func (m *Manager) Drain() {
	timeout := time.Duration(m.cfg.DrainTimeoutSeconds) * time.Second
	if left := m.gate.Drain(timeout); left > 0 {
		m.log.Warnf("drain timed out, abandoning %d in-flight tasks", left)
	}
}

// refreshSpawns reloads spawn data. The initial load is fatal on failure
// because the system cannot make progress without spawn data; afterwards a
// failure waits out the backoff and surfaces as one loop fault, so the
// consecutive-fault ceiling bounds how long a dead store is tolerated.
func (m *Manager) refreshSpawns(ctx context.Context, initial, fromSnapshot bool) error {
	err := m.src.Refresh(ctx, fromSnapshot)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if initial {
		return fmt.Errorf("initial spawn refresh: %w", err)
	}
	backoff := time.Duration(m.cfg.RefreshBackoffSeconds) * time.Second
	m.log.Errorf("spawn refresh failed, backing off %s: %v", backoff, err)
	if serr := sleepCtx(ctx, backoff); serr != nil {
		return serr
	}
	return err
}

// runHour processes one pass over the known events for the current hour
// phase.
func (m *Manager) runHour(ctx context.Context, updateSpawns bool) error {
	events := m.src.Events()
	start := 0
	if updateSpawns {
		if err := m.refreshSpawns(ctx, false, false); err != nil {
			return err
		}
		events = m.src.Events()
		if m.snapshot != nil {
			go func() {
				if err := m.snapshot(ctx); err != nil && ctx.Err() == nil {
					m.log.Errorf("account snapshot failed: %v", err)
				}
			}()
		}
	} else if !m.src.AfterLast() {
		// First pass after a cold start: skip the backlog of events earlier
		// in the hour and begin at the one nearest to now.
		start = m.startIndex(events)
	}

	currentHour := time.Now().Unix()
	currentHour -= currentHour % 3600
	if m.src.AfterLast() {
		currentHour += 3600
	}

	for _, ev := range events[start:] {
		if m.rotator.OverCeiling() {
			waited, err := m.rotator.PauseWait(ctx)
			// Idle time is excluded from throughput statistics so
			// backpressure pauses don't depress reported rates.
			m.idleMS.Add(waited.Milliseconds())
			if err != nil {
				return err
			}
		}

		spawnTime := ev.AbsoluteTime(currentHour)
		if err := m.awaitDue(ctx, spawnTime); err != nil {
			return err
		}

		timeDiff := nowUnix() - spawnTime
		if timeDiff > m.cfg.RedundantAfterSeconds && m.sightings.Contains(ev.ID) {
			m.redundant.Add(1)
			redundantTotal.Inc()
			continue
		}
		if timeDiff > m.cfg.SkipThresholdSeconds {
			m.skipped.Add(1)
			skippedTotal.Inc()
			continue
		}

		if err := m.gate.Acquire(ctx); err != nil {
			return err
		}
		go m.tryPoint(ctx, ev.Point, spawnTime, ev.ID)
	}
	return nil
}

// awaitDue blocks until the spawn time is close enough to dispatch, draining
// the mystery backlog in the meantime. The backlog is refilled from the
// source at most once per rescan interval; when nothing is left to retry the
// loop sleeps until the event is due or a refill is allowed.
func (m *Manager) awaitDue(ctx context.Context, spawnTime float64) error {
	for nowUnix()-spawnTime < dueThreshold {
		if p, ok := m.backlog.pop(); ok {
			if err := m.gate.Acquire(ctx); err != nil {
				return err
			}
			go m.tryPoint(ctx, p, 0, "")
			continue
		}
		now := time.Now()
		if !now.Before(m.nextMysteryReload) {
			m.backlog.fill(m.src.DrainMysteries())
			m.nextMysteryReload = now.Add(time.Duration(m.cfg.RescanUnknownSeconds) * time.Second)
			continue
		}
		wait := time.Duration((spawnTime - nowUnix() + dueThreshold) * float64(time.Second))
		if untilReload := m.nextMysteryReload.Sub(now); untilReload < wait {
			wait = untilReload
		}
		if wait <= 0 {
			return nil
		}
		if err := sleepCtx(ctx, wait); err != nil {
			return err
		}
	}
	return nil
}

// tryPoint is the visit task body. It runs once per acquired admission
// permit; the permit is released on every exit path. spawnTime is zero for
// points with unknown timing.
func (m *Manager) tryPoint(ctx context.Context, p model.Point, spawnTime float64, spawnID string) {
	defer m.gate.Release()
	defer inFlightGauge.Dec()
	inFlightGauge.Inc()

	point := geo.Randomize(p, geo.DefaultJitter)
	known := spawnTime > 0

	now := nowUnix()
	var deadline time.Time
	if known {
		deadline = unixTime(math.Max(now+m.cfg.GiveUpKnownSeconds, spawnTime))
	} else {
		deadline = unixTime(now + m.cfg.GiveUpUnknownSeconds)
	}

	w, err := m.selector.Best(ctx, point, deadline, false)
	if err != nil {
		if errors.Is(err, ErrNoWorker) {
			if known {
				m.skipped.Add(1)
				skippedTotal.Inc()
			} else {
				m.backlog.push(p)
			}
		}
		return
	}
	defer w.Release()

	if known {
		w.SetAfterSpawn(nowUnix() - spawnTime)
	}

	started := time.Now()
	out, err := w.Visit(ctx, point, spawnID)
	elapsed := time.Since(started)
	visitLatency.WithLabelValues(visitKind(known)).Observe(elapsed.Seconds())
	if err != nil {
		// Transient per-event fault: recorded on the worker's status by the
		// visitor, never propagated as a scheduling fault.
		if ctx.Err() == nil {
			m.log.Debugf("worker %d visit failed: %v", w.ID(), err)
		}
		return
	}
	if out.Found {
		m.visits.Add(1)
		visitsTotal.Inc()
	}
	m.recordVisit(w.ID(), point, spawnID, known, false, out, elapsed)
}

func (m *Manager) recordVisit(workerID int, p model.Point, spawnID string, known, bootstrap bool, out VisitOutcome, elapsed time.Duration) {
	if m.bus != nil {
		m.bus.Publish(eventbus.VisitEvent{
			WorkerID:  workerID,
			Point:     p,
			SpawnID:   spawnID,
			Known:     known,
			Bootstrap: bootstrap,
			Found:     out.Found,
			Seen:      out.Seen,
			Latency:   elapsed,
		})
	}
	err := m.sink.RecordVisitResult([]metrics.VisitResult{{
		WorkerID:  workerID,
		Point:     p,
		SpawnID:   spawnID,
		Known:     known,
		Bootstrap: bootstrap,
		Found:     out.Found,
		Seen:      out.Seen,
		Latency:   elapsed,
		Time:      time.Now(),
	}})
	if err != nil {
		m.log.Errorf("metrics error: %v", err)
	}
}

// startIndex seeks the event numerically nearest to (but not after) the
// current time of hour, to avoid replaying an entire hour of backlog on cold
// start. Returns zero when nothing qualifies.
func (m *Manager) startIndex(events []model.SpawnEvent) int {
	now := math.Mod(nowUnix(), 3600)
	smallest := math.Inf(1)
	best := 0
	for i, ev := range events {
		diff := now - ev.Offset
		if diff > 0 && diff < smallest {
			smallest = diff
			best = i
		}
		if smallest < startTolerance {
			break
		}
	}
	return best
}

func visitKind(known bool) string {
	if known {
		return "known"
	}
	return "unknown"
}

func nowUnix() float64 {
	return float64(time.Now().UnixNano()) / float64(time.Second)
}

func unixTime(sec float64) time.Time {
	return time.Unix(0, int64(sec*float64(time.Second)))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
