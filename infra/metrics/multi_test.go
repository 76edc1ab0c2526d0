package metrics

import (
	"errors"
	"testing"

	coremetrics "github.com/fieldops/rove/core/metrics"
)

type recordingSink struct {
	records int
	depths  [][2]int
	err     error
}

func (s *recordingSink) RecordVisitResult(res []coremetrics.VisitResult) error {
	s.records += len(res)
	return s.err
}

func (s *recordingSink) RecordQueueDepths(available, verification int) error {
	s.depths = append(s.depths, [2]int{available, verification})
	return nil
}

func TestMultiSink_FanOut(t *testing.T) {
	a := &recordingSink{}
	b := &recordingSink{}
	m := NewMultiSink(a, b, coremetrics.NopSink{})

	if err := m.RecordVisitResult([]coremetrics.VisitResult{{}, {}}); err != nil {
		t.Fatalf("record error: %v", err)
	}
	if a.records != 2 || b.records != 2 {
		t.Fatalf("records = %d, %d, want 2, 2", a.records, b.records)
	}

	// NopSink does not implement queue depths and must be skipped
	if err := m.RecordQueueDepths(4, 1); err != nil {
		t.Fatalf("queue depths error: %v", err)
	}
	if len(a.depths) != 1 || a.depths[0] != [2]int{4, 1} {
		t.Fatalf("unexpected depths: %v", a.depths)
	}
}

func TestMultiSink_FirstError(t *testing.T) {
	boom := errors.New("boom")
	a := &recordingSink{err: boom}
	b := &recordingSink{}
	m := NewMultiSink(a, b)

	if err := m.RecordVisitResult([]coremetrics.VisitResult{{}}); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
}
