package dispatch

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/fieldops/rove/core/geo"
	"github.com/fieldops/rove/core/model"
)

// stubVisitor is a Visitor whose behaviour is scripted per test.
type stubVisitor struct {
	mu      sync.Mutex
	visitFn func(p model.Point, spawnID string) (VisitOutcome, error)
	visited []model.Point
	swapped []model.Account
	account model.Account
}

func (v *stubVisitor) Visit(ctx context.Context, p model.Point, spawnID string) (VisitOutcome, error) {
	if err := ctx.Err(); err != nil {
		return VisitOutcome{}, err
	}
	v.mu.Lock()
	v.visited = append(v.visited, p)
	fn := v.visitFn
	v.mu.Unlock()
	if fn != nil {
		return fn(p, spawnID)
	}
	return VisitOutcome{Found: true, Seen: 1}, nil
}

func (v *stubVisitor) BootstrapVisit(ctx context.Context, p model.Point) (VisitOutcome, error) {
	return v.Visit(ctx, p, "")
}

func (v *stubVisitor) SwapAccount(_ context.Context, fresh model.Account) (model.Account, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	old := v.account
	v.account = fresh
	v.swapped = append(v.swapped, fresh)
	return old, nil
}

func (v *stubVisitor) Status() string    { return "IDLE" }
func (v *stubVisitor) ErrorCode() string { return "" }

func (v *stubVisitor) visitCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.visited)
}

func (v *stubVisitor) swapCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.swapped)
}

func (v *stubVisitor) currentAccount() model.Account {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.account
}

// fakeSource is a scriptable SpawnSource.
type fakeSource struct {
	mu        sync.Mutex
	events    []model.SpawnEvent
	mysteries []model.Point
	afterLast bool
	refreshes atomic.Int64
	failUntil int // refresh calls 1..failUntil fail
	failFrom  int // refresh calls >= failFrom fail (0 disables)
	failOnly  int // exactly this refresh call fails (0 disables)
}

func (f *fakeSource) Refresh(ctx context.Context, fromSnapshot bool) error {
	n := int(f.refreshes.Add(1))
	if n <= f.failUntil {
		return fmt.Errorf("store unavailable")
	}
	if f.failFrom > 0 && n >= f.failFrom {
		return fmt.Errorf("store unavailable")
	}
	if f.failOnly > 0 && n == f.failOnly {
		return fmt.Errorf("store unavailable")
	}
	return nil
}

func (f *fakeSource) Events() []model.SpawnEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.SpawnEvent(nil), f.events...)
}

func (f *fakeSource) DrainMysteries() []model.Point {
	f.mu.Lock()
	defer f.mu.Unlock()
	points := f.mysteries
	f.mysteries = nil
	return points
}

func (f *fakeSource) AfterLast() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.afterLast
}

func (f *fakeSource) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

// fakeSightings is an in-memory SightingStore.
type fakeSightings struct {
	mu  sync.Mutex
	ids map[string]bool
}

func (f *fakeSightings) add(id string) {
	f.mu.Lock()
	if f.ids == nil {
		f.ids = make(map[string]bool)
	}
	f.ids[id] = true
	f.mu.Unlock()
}

func (f *fakeSightings) Contains(spawnID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ids[spawnID]
}

func (f *fakeSightings) ApproximateCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.ids)
}

func testConfig() Config {
	var cfg Config
	cfg.SetDefaults()
	cfg.PollIntervalMS = 5
	cfg.Bootstrap.StaggerMS = 1
	cfg.Bootstrap.SettleSeconds = 1
	cfg.DrainTimeoutSeconds = 1
	return cfg
}

func testBounds() geo.Bounds {
	return geo.Bounds{
		Start: model.Point{Lat: 40.50, Lon: -74.05},
		End:   model.Point{Lat: 40.52, Lon: -74.03},
	}
}

func testPool(n int, scanDelay float64) ([]*Worker, []*stubVisitor) {
	b := testBounds()
	workers := make([]*Worker, 0, n)
	visitors := make([]*stubVisitor, 0, n)
	for i := 0; i < n; i++ {
		v := &stubVisitor{account: model.Account{Username: fmt.Sprintf("agent%d", i), Password: "pw"}}
		workers = append(workers, NewWorker(i, v, geo.StartCoords(i, 1, n, b), scanDelay))
		visitors = append(visitors, v)
	}
	return workers, visitors
}
