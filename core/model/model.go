package model

import (
	"fmt"
	"time"
)

// Point is a geographic coordinate.
type Point struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// SpawnEvent describes a location where an event is expected at a fixed
// offset within every hour. Offset is the number of seconds past the top of
// the hour; the absolute time is recomputed each hour cycle.
type SpawnEvent struct {
	ID     string  `json:"id"`
	Point  Point   `json:"point"`
	Offset float64 `json:"offset"`
}

// AbsoluteTime returns the unix time of the event occurrence for the given
// hour phase (unix time of the top of the hour).
func (e SpawnEvent) AbsoluteTime(hourPhase int64) float64 {
	return float64(hourPhase) + e.Offset
}

// Account is a credential a worker authenticates with.
type Account struct {
	Username          string `json:"username"`
	Password          string `json:"password,omitempty"`
	Banned            bool   `json:"banned,omitempty"`
	NeedsVerification bool   `json:"needs_verification,omitempty"`
}

// Validate checks that the account is usable.
func (a Account) Validate() error {
	if a.Username == "" {
		return fmt.Errorf("account username is required")
	}
	return nil
}

// WorkerCounters is a sampled snapshot of one worker's cumulative counters.
type WorkerCounters struct {
	ID         int
	Visits     int64
	Seen       int64
	AfterSpawn float64 // seconds between spawn time and assignment
	Speed      float64 // km/h of the last assignment
	StartTime  time.Time
	Status     string
	ErrorCode  string
}
