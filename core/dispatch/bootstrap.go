package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/fieldops/rove/core/geo"
	"github.com/fieldops/rove/core/model"
	"github.com/fieldops/rove/internal/eventbus"
)

func eventBootstrap(phase int, state string, tasks int) eventbus.BootstrapEvent {
	return eventbus.BootstrapEvent{Phase: phase, State: state, Tasks: tasks}
}

// Bootstrap runs the one-time cold-start procedure: phase one gives every
// worker its fixed initial coordinate, phase two sweeps a coverage grid over
// the whole area. Faults in either phase are logged and do not abort the
// procedure; cancellation always does.
func (m *Manager) Bootstrap(ctx context.Context) error {
	m.log.Warnf("starting bootstrap phase 1")
	if err := m.bootstrapOne(ctx); err != nil {
		return err
	}

	settle := time.Duration(m.cfg.Bootstrap.SettleSeconds) * time.Second
	if err := sleepCtx(ctx, settle); err != nil {
		return err
	}

	m.log.Warnf("starting bootstrap phase 2")
	if err := m.bootstrapTwo(ctx); err != nil {
		return err
	}
	m.log.Warnf("finished bootstrapping")
	return nil
}

// bootstrapOne assigns each worker the center of its grid cell. Task creation
// is staggered to avoid a synchronized login storm.
func (m *Manager) bootstrapOne(ctx context.Context) error {
	if m.bus != nil {
		m.bus.Publish(eventBootstrap(1, "start", len(m.workers)))
	}
	stagger := time.Duration(m.cfg.Bootstrap.StaggerMS) * time.Millisecond

	var wg sync.WaitGroup
	for i, w := range m.workers {
		if i > 0 {
			if err := sleepCtx(ctx, stagger); err != nil {
				wg.Wait()
				return err
			}
		}
		if err := m.gate.Acquire(ctx); err != nil {
			wg.Wait()
			return err
		}
		wg.Add(1)
		go func(i int, w *Worker) {
			defer wg.Done()
			defer m.gate.Release()
			w.Acquire()
			defer w.Release()
			point := geo.StartCoords(i, m.gridRows, m.gridCols, m.bounds)
			started := time.Now()
			out, err := w.BootstrapVisit(ctx, point)
			if err != nil {
				if ctx.Err() == nil {
					m.log.Errorf("bootstrap visit by worker %d failed: %v", w.ID(), err)
				}
				return
			}
			if out.Found {
				m.visits.Add(1)
				visitsTotal.Inc()
			}
			m.recordVisit(w.ID(), point, "", false, true, out, time.Since(started))
		}(i, w)
	}
	wg.Wait()
	if m.bus != nil {
		m.bus.Publish(eventBootstrap(1, "done", len(m.workers)))
	}
	return ctx.Err()
}

// bootstrapTwo visits every point of the coverage grid with the must-complete
// selector policy and does not return until all tasks have finished.
func (m *Manager) bootstrapTwo(ctx context.Context) error {
	points := geo.CoveragePoints(m.bounds, m.cfg.Bootstrap.RadiusM)
	if m.bus != nil {
		m.bus.Publish(eventBootstrap(2, "start", len(points)))
	}

	var wg sync.WaitGroup
	for _, p := range points {
		if err := m.gate.Acquire(ctx); err != nil {
			wg.Wait()
			return err
		}
		wg.Add(1)
		go func(p model.Point) {
			defer wg.Done()
			defer m.gate.Release()
			w, err := m.selector.Best(ctx, p, time.Time{}, true)
			if err != nil {
				return
			}
			defer w.Release()
			started := time.Now()
			out, err := w.BootstrapVisit(ctx, p)
			if err != nil {
				if ctx.Err() == nil {
					m.log.Errorf("coverage visit by worker %d failed: %v", w.ID(), err)
				}
				return
			}
			if out.Found {
				m.visits.Add(1)
				visitsTotal.Inc()
			}
			m.recordVisit(w.ID(), p, "", false, true, out, time.Since(started))
		}(p)
	}
	wg.Wait()
	if m.bus != nil {
		m.bus.Publish(eventBootstrap(2, "done", len(points)))
	}
	return ctx.Err()
}
