// Package spawns manages the known spawn events and the backlog of points
// with unknown timing, loaded from storage and optionally from a persisted
// snapshot.
package spawns

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/fieldops/rove/core/logger"
	"github.com/fieldops/rove/core/model"
)

// Store loads spawn data from persistent storage.
type Store interface {
	// LoadSpawns returns the known events and the mystery points.
	LoadSpawns(ctx context.Context) ([]model.SpawnEvent, []model.Point, error)
}

// Snapshotter persists spawn data between runs so a restart can skip the
// initial storage load.
type Snapshotter interface {
	SaveSpawns(events []model.SpawnEvent, mysteries []model.Point) error
	LoadSpawns() ([]model.SpawnEvent, []model.Point, error)
}

// Source implements the spawn source consumed by the dispatch loop.
type Source struct {
	store Store
	snap  Snapshotter
	log   logger.Logger

	mu        sync.RWMutex
	events    []model.SpawnEvent
	mysteries []model.Point
}

// New creates a Source over the given store. snap is optional.
func New(store Store, snap Snapshotter, log logger.Logger) (*Source, error) {
	if store == nil {
		return nil, fmt.Errorf("spawns: nil store")
	}
	if log == nil {
		return nil, fmt.Errorf("spawns: nil logger")
	}
	return &Source{store: store, snap: snap, log: log}, nil
}

// Refresh reloads spawn data from storage. When fromSnapshot is true and the
// snapshot holds data, the load is satisfied from it without touching
// storage. After a successful storage load the snapshot is rewritten.
func (s *Source) Refresh(ctx context.Context, fromSnapshot bool) error {
	if fromSnapshot && s.snap != nil {
		events, mysteries, err := s.snap.LoadSpawns()
		if err == nil && (len(events) > 0 || len(mysteries) > 0) {
			s.set(events, mysteries)
			s.log.Infof("loaded %d spawns and %d mysteries from snapshot", len(events), len(mysteries))
			return nil
		}
	}

	events, mysteries, err := s.store.LoadSpawns(ctx)
	if err != nil {
		return fmt.Errorf("refresh spawns: %w", err)
	}
	s.set(events, mysteries)

	if s.snap != nil {
		if err := s.snap.SaveSpawns(events, mysteries); err != nil {
			s.log.Errorf("spawn snapshot failed: %v", err)
		}
	}
	return nil
}

func (s *Source) set(events []model.SpawnEvent, mysteries []model.Point) {
	sorted := append([]model.SpawnEvent(nil), events...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Offset < sorted[j].Offset })
	s.mu.Lock()
	s.events = sorted
	s.mysteries = append([]model.Point(nil), mysteries...)
	s.mu.Unlock()
}

// Events returns the known events ordered by hour offset.
func (s *Source) Events() []model.SpawnEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.SpawnEvent(nil), s.events...)
}

// DrainMysteries empties the backlog of unknown-timing points. The order is
// shuffled so retries spread over the area.
func (s *Source) DrainMysteries() []model.Point {
	s.mu.Lock()
	points := s.mysteries
	s.mysteries = nil
	s.mu.Unlock()
	rand.Shuffle(len(points), func(i, j int) {
		points[i], points[j] = points[j], points[i]
	})
	return points
}

// AfterLast reports whether the current time of hour has passed the last
// known event offset.
func (s *Source) AfterLast() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.events) == 0 {
		return false
	}
	last := s.events[len(s.events)-1].Offset
	currentSeconds := float64(time.Now().Unix() % 3600)
	return currentSeconds > last
}

// Len is the number of known events.
func (s *Source) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}

// MysteryCount is the number of points awaiting a drain.
func (s *Source) MysteryCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.mysteries)
}
