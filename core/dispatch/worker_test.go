package dispatch

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/fieldops/rove/core/model"
)

func TestWorker_TravelSpeedFloorsElapsed(t *testing.T) {
	v := &stubVisitor{}
	w := NewWorker(0, v, model.Point{Lat: 40.0, Lon: -74.0}, 100)

	// Park the worker so the last-visit clock starts now.
	w.Acquire()
	if _, err := w.Visit(context.Background(), model.Point{Lat: 40.0, Lon: -74.0}, ""); err != nil {
		t.Fatalf("visit: %v", err)
	}
	w.Release()

	// ~100 m in a floored 100 s window is 3.6 km/h.
	got := w.TravelSpeed(model.Point{Lat: 40.0009, Lon: -74.0})
	if got < 3.0 || got > 4.2 {
		t.Fatalf("travel speed = %.2f km/h, want ~3.6", got)
	}
}

func TestWorker_IdleTracksBusyLock(t *testing.T) {
	w := NewWorker(0, &stubVisitor{}, model.Point{}, 10)
	if !w.Idle() {
		t.Fatalf("fresh worker not idle")
	}
	if !w.TryAcquire() {
		t.Fatalf("could not claim idle worker")
	}
	if w.Idle() {
		t.Fatalf("claimed worker reports idle")
	}
	if w.TryAcquire() {
		t.Fatalf("double claim succeeded")
	}
	w.Release()
	if !w.Idle() {
		t.Fatalf("released worker not idle")
	}
}

func TestWorker_CountersFoldVisitOutcomes(t *testing.T) {
	v := &stubVisitor{}
	calls := 0
	v.visitFn = func(model.Point, string) (VisitOutcome, error) {
		calls++
		if calls == 2 {
			return VisitOutcome{}, fmt.Errorf("flaky session")
		}
		return VisitOutcome{Found: true, Seen: 3}, nil
	}
	w := NewWorker(0, v, model.Point{}, 10)

	w.Acquire()
	defer w.Release()
	p := model.Point{Lat: 40.51, Lon: -74.04}
	if _, err := w.Visit(context.Background(), p, "a"); err != nil {
		t.Fatalf("visit 1: %v", err)
	}
	if _, err := w.Visit(context.Background(), p, "b"); err == nil {
		t.Fatalf("visit 2 should fail")
	}
	if _, err := w.Visit(context.Background(), p, "c"); err != nil {
		t.Fatalf("visit 3: %v", err)
	}

	c := w.Counters()
	if c.Visits != 2 || c.Seen != 6 {
		t.Fatalf("counters = %d visits / %d seen, want 2/6", c.Visits, c.Seen)
	}
}

func TestWorker_SwapCredentialResetsSession(t *testing.T) {
	v := &stubVisitor{account: model.Account{Username: "old", Password: "pw"}}
	w := NewWorker(0, v, model.Point{}, 10)
	before := w.StartTime()

	time.Sleep(10 * time.Millisecond)
	w.Acquire()
	old, err := w.SwapCredential(context.Background(), model.Account{Username: "new", Password: "pw"})
	w.Release()
	if err != nil {
		t.Fatalf("swap: %v", err)
	}
	if old.Username != "old" {
		t.Fatalf("swap returned %q, want old", old.Username)
	}
	if !w.StartTime().After(before) {
		t.Fatalf("session start time not reset")
	}
}

func TestWorker_SeenPerMinute(t *testing.T) {
	v := &stubVisitor{}
	v.visitFn = func(model.Point, string) (VisitOutcome, error) {
		return VisitOutcome{Found: true, Seen: 5}, nil
	}
	w := NewWorker(0, v, model.Point{}, 10)
	w.Acquire()
	if _, err := w.Visit(context.Background(), model.Point{}, ""); err != nil {
		t.Fatalf("visit: %v", err)
	}
	w.Release()

	// 5 sightings over a pretended two-minute session.
	rate := w.SeenPerMinute(w.StartTime().Add(2 * time.Minute))
	if rate < 2.4 || rate > 2.6 {
		t.Fatalf("seen per minute = %.2f, want 2.5", rate)
	}
}
