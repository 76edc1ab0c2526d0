package dispatch

import (
	"context"
	"testing"

	"github.com/fieldops/rove/core/model"
	"github.com/fieldops/rove/infra/logger"
	"github.com/fieldops/rove/infra/queue"
)

func TestSummarize(t *testing.T) {
	s := summarize([]float64{7, 1, 3})
	if s.Min != 1 || s.Max != 7 || s.Median != 3 {
		t.Fatalf("summary = %+v, want min 1 max 7 median 3", s)
	}
	if z := summarize(nil); z != (Summary{}) {
		t.Fatalf("empty summary = %+v", z)
	}
}

func TestStatsAggregator_Sample(t *testing.T) {
	src := &fakeSource{}
	m, _, _ := newTestManager(t, src, &fakeSightings{}, 1, 3, nil)
	available, verification := queue.New(), queue.New()
	available.Push(model.Account{Username: "spare", Password: "pw"})

	// Give worker 0 some sightings; 1 and 2 stay empty.
	w := m.workers[0]
	w.Acquire()
	if _, err := w.Visit(context.Background(), model.Point{Lat: 40.51, Lon: -74.04}, ""); err != nil {
		t.Fatalf("visit: %v", err)
	}
	w.Release()

	agg := NewStatsAggregator(m, available, verification, logger.NopLogger{})
	snap := agg.Sample()

	if snap.Available != 1 || snap.Verification != 0 {
		t.Fatalf("queue sizes = %d/%d, want 1/0", snap.Available, snap.Verification)
	}
	// Sampling may begin before the dispatch loop does.
	if snap.Counts.Since.IsZero() {
		t.Fatalf("counters have no start time before the loop runs")
	}
	if snap.Seen.Max != 1 || snap.Seen.Min != 0 {
		t.Fatalf("seen summary = %+v", snap.Seen)
	}
	if len(snap.NoSightings) != 2 {
		t.Fatalf("no-sightings workers = %v, want two entries", snap.NoSightings)
	}
	for _, id := range snap.NoSightings {
		if id == 0 {
			t.Fatalf("worker 0 has sightings but is listed")
		}
	}
}
