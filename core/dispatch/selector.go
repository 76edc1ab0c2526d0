package dispatch

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/fieldops/rove/core/model"
)

// ErrNoWorker is returned when the deadline passes without any idle worker
// able to reach the point under the speed ceiling.
var ErrNoWorker = fmt.Errorf("dispatch: no worker available")

// Selector finds the best idle worker for a target point. It polls rather
// than waking on worker release; the poll interval is a tunable trade-off
// between dispatch latency and scan overhead.
type Selector struct {
	workers      []*Worker
	speedCeiling float64
	goodEnough   float64
	pollInterval time.Duration
}

// NewSelector creates a selector over the fixed worker pool.
func NewSelector(workers []*Worker, cfg Config) (*Selector, error) {
	if len(workers) == 0 {
		return nil, fmt.Errorf("dispatch: selector needs a non-empty worker pool")
	}
	return &Selector{
		workers:      workers,
		speedCeiling: cfg.SpeedCeiling,
		goodEnough:   cfg.GoodEnough,
		pollInterval: time.Duration(cfg.PollIntervalMS) * time.Millisecond,
	}, nil
}

// Best returns the idle worker with the lowest estimated travel speed to the
// point, acquired and ready for the caller to use. The scan early-exits on
// the first worker under the good-enough threshold, trading optimality for
// latency. A worker only qualifies below the speed ceiling.
//
// When no worker qualifies the scan repeats every poll interval until the
// deadline passes (ErrNoWorker) or the context is canceled. With mustComplete
// set the deadline is ignored and the search continues until it succeeds.
//
// The winner is claimed with a try-lock: another task may have taken it
// between observation and claim, in which case this round is lost and the
// scan repeats.
func (s *Selector) Best(ctx context.Context, p model.Point, deadline time.Time, mustComplete bool) (*Worker, error) {
	for {
		var best *Worker
		lowest := math.Inf(1)
		for _, w := range s.workers {
			if !w.Idle() {
				continue
			}
			speed := w.TravelSpeed(p)
			if speed < lowest {
				lowest = speed
				best = w
				if s.goodEnough > 0 && speed < s.goodEnough {
					break
				}
			}
		}
		if best != nil && lowest < s.speedCeiling {
			if best.TryAcquire() {
				best.SetSpeed(lowest)
				return best, nil
			}
			// Lost the claim race, rescan immediately.
			continue
		}
		if !mustComplete && !deadline.IsZero() && time.Now().After(deadline) {
			return nil, ErrNoWorker
		}
		select {
		case <-time.After(s.pollInterval):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
