package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// ErrNotFound is returned by Load when no state.json exists yet.
var ErrNotFound = errors.New("state: not found")

const fileName = "state.json"

// Store persists State snapshots with write-then-rename atomicity, so a
// crash mid-write leaves either the prior state or the new state on disk -
// never a truncated file.
type Store struct {
	specDir string
}

// NewStore roots a store at a spec directory (the one containing
// manifest.json, CONTEXT.md, and so on).
func NewStore(specDir string) *Store {
	return &Store{specDir: specDir}
}

func (s *Store) path() string {
	return filepath.Join(s.specDir, fileName)
}

// Load reads the persisted state. Absence is reported as ErrNotFound so
// callers can distinguish "first run" from a genuine I/O failure.
func (s *Store) Load() (State, error) {
	data, err := os.ReadFile(s.path())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return State{}, ErrNotFound
		}
		return State{}, fmt.Errorf("state: read %s: %w", s.path(), err)
	}
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return State{}, fmt.Errorf("state: parse %s: %w", s.path(), err)
	}
	return st, nil
}

// Save writes state atomically: encode, write to a temp file in the same
// directory, fsync, then rename over the destination. Must be called after
// every durable transition (phase boundaries, component status changes,
// each voting result, each fix attempt).
func (s *Store) Save(st State) error {
	if err := os.MkdirAll(s.specDir, 0o755); err != nil {
		return fmt.Errorf("state: create spec dir: %w", err)
	}
	encoded, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("state: encode: %w", err)
	}
	tmp, err := os.CreateTemp(s.specDir, fileName+".tmp-*")
	if err != nil {
		return fmt.Errorf("state: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once the rename below succeeds

	if _, err := tmp.Write(append(encoded, '\n')); err != nil {
		tmp.Close()
		return fmt.Errorf("state: write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("state: fsync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("state: close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path()); err != nil {
		return fmt.Errorf("state: rename into place: %w", err)
	}
	return nil
}

// Reset deletes the state file. Only used by an explicit --fresh run.
func (s *Store) Reset() error {
	if err := os.Remove(s.path()); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("state: reset: %w", err)
	}
	return nil
}
