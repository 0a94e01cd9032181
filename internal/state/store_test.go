package state

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadReturnsNotFoundWhenAbsent(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)
	_, err := store.Load()
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)
	st := New([]string{"net", "client"}, "parse_spec")
	st.CurrentPhase = "component_loop"
	st.PhaseStatus = PhaseRunning
	if err := store.Save(st); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	got, err := store.Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if got.CurrentPhase != "component_loop" || got.PhaseStatus != PhaseRunning {
		t.Fatalf("state did not round-trip: %+v", got)
	}
	if len(got.Components) != 2 {
		t.Fatalf("expected 2 components, got %d", len(got.Components))
	}
}

func TestSaveLeavesNoTempFilesBehind(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)
	st := New([]string{"only"}, "parse_spec")
	if err := store.Save(st); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != filepath.Base(store.path()) {
		t.Fatalf("expected only state.json in dir, got %v", entries)
	}
}

func TestNewAssignsUniqueRunID(t *testing.T) {
	a := New([]string{"only"}, "parse_spec")
	b := New([]string{"only"}, "parse_spec")
	if a.RunID == "" || b.RunID == "" {
		t.Fatalf("expected non-empty run ids, got %q and %q", a.RunID, b.RunID)
	}
	if a.RunID == b.RunID {
		t.Fatalf("expected distinct run ids across runs")
	}
}

func TestResetRemovesStateFile(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)
	if err := store.Save(New([]string{"a"}, "parse_spec")); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if err := store.Reset(); err != nil {
		t.Fatalf("reset failed: %v", err)
	}
	if _, err := store.Load(); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after reset, got %v", err)
	}
}

func TestResetOnMissingFileIsNotAnError(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)
	if err := store.Reset(); err != nil {
		t.Fatalf("reset on missing file should be a no-op: %v", err)
	}
}
