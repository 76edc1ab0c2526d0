package dispatch

import (
	"context"
	"time"

	"github.com/fieldops/rove/core/model"
)

// SpawnSource produces the ordered sequence of due events for the current
// hour phase, plus a backlog of points with unknown timing.
type SpawnSource interface {
	// Refresh reloads spawn data. When fromSnapshot is true a previously
	// persisted snapshot may satisfy the load without touching storage.
	Refresh(ctx context.Context, fromSnapshot bool) error
	// Events returns the known events ordered by hour offset.
	Events() []model.SpawnEvent
	// DrainMysteries empties and returns the backlog of unknown-timing points.
	DrainMysteries() []model.Point
	// AfterLast reports whether the current time of hour has passed the last
	// known event offset, i.e. the hour phase has wrapped since the refresh.
	AfterLast() bool
	// Len is the number of known events.
	Len() int
}

// SightingStore is the externally-owned record of already-covered events.
// Read-only from the dispatch core; implementations must be safe for
// concurrent use.
type SightingStore interface {
	Contains(spawnID string) bool
	ApproximateCount() int
}

// AccountQueue holds credentials. Implementations must be safe for concurrent
// use from multiple visit tasks.
type AccountQueue interface {
	Push(model.Account)
	// Pop blocks until an account is available or the context is canceled.
	Pop(ctx context.Context) (model.Account, error)
	// TryPop returns immediately, reporting whether an account was available.
	TryPop() (model.Account, bool)
	Size() int
	// WaitUntilBelow blocks until the queue size drops below the threshold
	// and returns the time spent waiting.
	WaitUntilBelow(ctx context.Context, threshold int) (time.Duration, error)
}

// VisitOutcome is the result of a completed visit operation.
type VisitOutcome struct {
	// Found reports whether the visit succeeded in observing the location.
	Found bool
	// Seen is the number of distinct sightings recorded during the visit.
	Seen int
}

// Visitor performs the protocol-level session work of one worker slot. The
// dispatch core treats a visit as an opaque asynchronous operation.
type Visitor interface {
	Visit(ctx context.Context, p model.Point, spawnID string) (VisitOutcome, error)
	BootstrapVisit(ctx context.Context, p model.Point) (VisitOutcome, error)
	// SwapAccount replaces the active credential and returns the one that was
	// in use. The returned account's flags decide which queue it rejoins.
	SwapAccount(ctx context.Context, fresh model.Account) (model.Account, error)
	Status() string
	ErrorCode() string
}
