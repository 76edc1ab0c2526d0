// Package store provides the sqlite-backed spawn and sighting store plus the
// JSON snapshot files persisted between runs.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/fieldops/rove/core/logger"
	"github.com/fieldops/rove/core/model"
)

// Config defines storage settings.
type Config struct {
	// Path is the sqlite database file.
	Path string `json:"path"`
	// BusyTimeoutMS is the sqlite busy_timeout pragma.
	BusyTimeoutMS int `json:"busy_timeout_ms"`
	// SnapshotDir holds the account and spawn snapshot files.
	SnapshotDir string `json:"snapshot_dir"`
	// SightingWindowSeconds bounds how far back Contains looks. Events older
	// than this are no longer considered covered.
	SightingWindowSeconds int `json:"sighting_window_seconds"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.Path == "" {
		c.Path = "rove.db"
	}
	if c.BusyTimeoutMS == 0 {
		c.BusyTimeoutMS = 5000
	}
	if c.SnapshotDir == "" {
		c.SnapshotDir = "."
	}
	if c.SightingWindowSeconds == 0 {
		c.SightingWindowSeconds = 3600
	}
}

const schema = `
CREATE TABLE IF NOT EXISTS spawnpoints (
	id             TEXT PRIMARY KEY,
	lat            REAL NOT NULL,
	lon            REAL NOT NULL,
	offset_seconds REAL
);
CREATE TABLE IF NOT EXISTS sightings (
	spawn_id TEXT NOT NULL,
	lat      REAL,
	lon      REAL,
	seen_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sightings_spawn ON sightings(spawn_id, seen_at);
`

// SQLiteStore implements the spawn store and the sighting store over a
// single sqlite database.
type SQLiteStore struct {
	db     *sql.DB
	log    logger.Logger
	window time.Duration
}

// OpenSQLite opens (and migrates) the database at cfg.Path.
func OpenSQLite(cfg Config, log logger.Logger) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, errors.New("store: sqlite path is required")
	}
	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeoutMS > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeoutMS))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}
	return &SQLiteStore{
		db:     db,
		log:    log,
		window: time.Duration(cfg.SightingWindowSeconds) * time.Second,
	}, nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// LoadSpawns returns the known events (rows with an hour offset) and the
// mystery points (rows without one).
func (s *SQLiteStore) LoadSpawns(ctx context.Context) ([]model.SpawnEvent, []model.Point, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, lat, lon, offset_seconds FROM spawnpoints`)
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = rows.Close() }()

	var events []model.SpawnEvent
	var mysteries []model.Point
	for rows.Next() {
		var (
			id       string
			lat, lon float64
			offset   sql.NullFloat64
		)
		if err := rows.Scan(&id, &lat, &lon, &offset); err != nil {
			return nil, nil, err
		}
		p := model.Point{Lat: lat, Lon: lon}
		if offset.Valid {
			events = append(events, model.SpawnEvent{ID: id, Point: p, Offset: offset.Float64})
		} else {
			mysteries = append(mysteries, p)
		}
	}
	return events, mysteries, rows.Err()
}

// UpsertSpawn records or updates a spawn point. A negative offset stores the
// point as a mystery.
func (s *SQLiteStore) UpsertSpawn(ctx context.Context, ev model.SpawnEvent) error {
	offset := sql.NullFloat64{Float64: ev.Offset, Valid: ev.Offset >= 0}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO spawnpoints (id, lat, lon, offset_seconds) VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET lat = excluded.lat, lon = excluded.lon,
		 offset_seconds = excluded.offset_seconds`,
		ev.ID, ev.Point.Lat, ev.Point.Lon, offset)
	return err
}

// RecordSighting appends a sighting row for a covered event.
func (s *SQLiteStore) RecordSighting(ctx context.Context, spawnID string, p model.Point, seenAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sightings (spawn_id, lat, lon, seen_at) VALUES (?, ?, ?, ?)`,
		spawnID, p.Lat, p.Lon, seenAt.Unix())
	return err
}

// Contains reports whether the event was sighted within the configured
// window. Storage errors degrade to false so a flaky store costs a redundant
// visit rather than a missed one.
func (s *SQLiteStore) Contains(spawnID string) bool {
	cutoff := time.Now().Add(-s.window).Unix()
	var one int
	err := s.db.QueryRow(
		`SELECT 1 FROM sightings WHERE spawn_id = ? AND seen_at >= ? LIMIT 1`,
		spawnID, cutoff).Scan(&one)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) && s.log != nil {
			s.log.Errorf("sighting lookup failed: %v", err)
		}
		return false
	}
	return true
}

// ApproximateCount returns the number of sightings within the window.
func (s *SQLiteStore) ApproximateCount() int {
	cutoff := time.Now().Add(-s.window).Unix()
	var n int
	if err := s.db.QueryRow(
		`SELECT COUNT(*) FROM sightings WHERE seen_at >= ?`, cutoff).Scan(&n); err != nil {
		return 0
	}
	return n
}
