package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fieldops/rove/core/model"
)

// Snapshot persists the account set and spawn data as JSON files, written
// atomically (temp file + rename) so a crash mid-write never corrupts the
// previous snapshot.
type Snapshot struct {
	dir string
}

// NewSnapshot creates a snapshot rooted at dir.
func NewSnapshot(dir string) (*Snapshot, error) {
	if dir == "" {
		return nil, fmt.Errorf("store: snapshot dir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Snapshot{dir: dir}, nil
}

func (s *Snapshot) accountsPath() string { return filepath.Join(s.dir, "accounts.json") }
func (s *Snapshot) spawnsPath() string   { return filepath.Join(s.dir, "spawns.json") }

// SaveAccounts writes the account set.
func (s *Snapshot) SaveAccounts(accounts []model.Account) error {
	return writeAtomic(s.accountsPath(), accounts)
}

// LoadAccounts reads the persisted account set.
func (s *Snapshot) LoadAccounts() ([]model.Account, error) {
	var accounts []model.Account
	if err := readJSON(s.accountsPath(), &accounts); err != nil {
		return nil, err
	}
	return accounts, nil
}

type spawnSnapshot struct {
	Events    []model.SpawnEvent `json:"events"`
	Mysteries []model.Point      `json:"mysteries"`
}

// SaveSpawns writes the spawn data.
func (s *Snapshot) SaveSpawns(events []model.SpawnEvent, mysteries []model.Point) error {
	return writeAtomic(s.spawnsPath(), spawnSnapshot{Events: events, Mysteries: mysteries})
}

// LoadSpawns reads the persisted spawn data.
func (s *Snapshot) LoadSpawns() ([]model.SpawnEvent, []model.Point, error) {
	var snap spawnSnapshot
	if err := readJSON(s.spawnsPath(), &snap); err != nil {
		return nil, nil, err
	}
	return snap.Events, snap.Mysteries, nil
}

func writeAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}
