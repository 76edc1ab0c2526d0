package dispatch

import (
	"context"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/fieldops/rove/core/logger"
)

// Summary condenses one per-worker counter across the pool.
type Summary struct {
	Min    float64
	Max    float64
	Median float64
}

func summarize(values []float64) Summary {
	if len(values) == 0 {
		return Summary{}
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	return Summary{
		Min:    sorted[0],
		Max:    sorted[len(sorted)-1],
		Median: stat.Quantile(0.5, stat.Empirical, sorted, nil),
	}
}

// StatsSnapshot is one sampling of the pool and loop counters.
type StatsSnapshot struct {
	Counts          Counts
	VisitsPerSecond float64
	Visits          Summary
	Seen            Summary
	AfterSpawn      Summary
	Speed           Summary
	Available       int
	Verification    int
	Paused          bool
	NoSightings     []int          // workers with zero sightings so far
	WorkerErrors    map[int]string // last error code per worker, empty codes omitted
}

// StatsAggregator periodically samples worker counters for operational
// visibility.
type StatsAggregator struct {
	mgr          *Manager
	available    AccountQueue
	verification AccountQueue
	log          logger.Logger
	interval     time.Duration
}

// NewStatsAggregator creates an aggregator over the manager's pool.
func NewStatsAggregator(m *Manager, available, verification AccountQueue, log logger.Logger) *StatsAggregator {
	return &StatsAggregator{
		mgr:          m,
		available:    available,
		verification: verification,
		log:          log,
		interval:     time.Duration(m.cfg.StatsIntervalSeconds) * time.Second,
	}
}

// Run samples on a fixed interval until the context is canceled.
func (s *StatsAggregator) Run(ctx context.Context) {
	tick := time.NewTicker(s.interval)
	defer tick.Stop()
	for {
		select {
		case <-tick.C:
			snap := s.Sample()
			s.log.Debugw("dispatch stats", map[string]any{
				"visits":            snap.Counts.Visits,
				"skipped":           snap.Counts.Skipped,
				"redundant":         snap.Counts.Redundant,
				"visits_per_second": snap.VisitsPerSecond,
				"in_flight":         snap.Counts.InFlight,
				"backlog":           snap.Counts.Backlog,
				"available":         snap.Available,
				"verification":      snap.Verification,
				"seen_median":       snap.Seen.Median,
				"speed_median":      snap.Speed.Median,
				"paused":            snap.Paused,
				"no_sightings":      snap.NoSightings,
				"worker_errors":     snap.WorkerErrors,
			})
		case <-ctx.Done():
			return
		}
	}
}

// Sample collects one snapshot. The visit rate is computed net of idle time
// spent paused on backpressure.
func (s *StatsAggregator) Sample() StatsSnapshot {
	counts := s.mgr.Counts()

	visits := make([]float64, 0, len(s.mgr.workers))
	seen := make([]float64, 0, len(s.mgr.workers))
	afterSpawn := make([]float64, 0, len(s.mgr.workers))
	speeds := make([]float64, 0, len(s.mgr.workers))
	var noSightings []int
	workerErrors := make(map[int]string)
	for _, w := range s.mgr.workers {
		c := w.Counters()
		visits = append(visits, float64(c.Visits))
		seen = append(seen, float64(c.Seen))
		afterSpawn = append(afterSpawn, c.AfterSpawn)
		speeds = append(speeds, c.Speed)
		if c.Seen == 0 {
			noSightings = append(noSightings, c.ID)
		}
		if c.ErrorCode != "" {
			workerErrors[c.ID] = c.ErrorCode
		}
	}

	active := time.Since(counts.Since) - counts.Idle
	rate := 0.0
	if active > 0 {
		rate = float64(counts.Visits) / active.Seconds()
	}

	return StatsSnapshot{
		Counts:          counts,
		VisitsPerSecond: rate,
		Visits:          summarize(visits),
		Seen:            summarize(seen),
		AfterSpawn:      summarize(afterSpawn),
		Speed:           summarize(speeds),
		Available:       s.available.Size(),
		Verification:    s.verification.Size(),
		Paused:          s.mgr.rotator.Paused(),
		NoSightings:     noSightings,
		WorkerErrors:    workerErrors,
	}
}
