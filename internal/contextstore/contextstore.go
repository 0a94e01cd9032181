// Package contextstore maintains the append-only record of discoveries,
// decisions, and per-component notes injected into every subsequent agent
// prompt. Nothing is ever overwritten: summaries may be appended when a file
// exceeds its soft cap, but original entries are never deleted.
package contextstore

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/conduct-run/orchestrator/internal/schemas"
)

const (
	globalFile    = "CONTEXT.md"
	decisionsFile = "DECISIONS.md"
	componentsDir = "components"

	// softCapLines mirrors the teacher's logbook soft-cap philosophy: once a
	// file grows past a few hundred lines, annotate with a summary marker
	// rather than deleting history.
	softCapLines = 400
)

// Store is the on-disk, append-only context manager for one spec directory.
type Store struct {
	specDir string
	mu      sync.Mutex
}

// New roots a context store at a spec directory.
func New(specDir string) *Store {
	return &Store{specDir: specDir}
}

func (s *Store) globalPath() string {
	return filepath.Join(s.specDir, globalFile)
}

func (s *Store) decisionsPath() string {
	return filepath.Join(s.specDir, decisionsFile)
}

func (s *Store) componentPath(componentID string) string {
	return filepath.Join(s.specDir, componentsDir, componentID+".md")
}

// Initialize creates the context files on first run. Idempotent: existing
// files and their contents are left untouched.
func (s *Store) Initialize(componentIDs []string) error {
	if err := os.MkdirAll(filepath.Join(s.specDir, componentsDir), 0o755); err != nil {
		return fmt.Errorf("contextstore: create components dir: %w", err)
	}
	if err := ensureFile(s.globalPath(), "# Global Context\n\n"); err != nil {
		return err
	}
	if err := ensureFile(s.decisionsPath(), "# Decisions\n\n"); err != nil {
		return err
	}
	for _, id := range componentIDs {
		header := fmt.Sprintf("# Component: %s\n\nStatus: pending\n\n", id)
		if err := ensureFile(s.componentPath(id), header); err != nil {
			return err
		}
	}
	return nil
}

func ensureFile(path, header string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	return os.WriteFile(path, []byte(header), 0o644)
}

// GetContextForPrompt builds the "Context from Previous Work" section
// injected into an agent prompt: global discoveries, all recorded decisions,
// and - when componentID is given - that component's accumulated context.
func (s *Store) GetContextForPrompt(componentID string) (string, error) {
	var b strings.Builder
	b.WriteString("## Context from Previous Work\n\n")

	global, err := readFile(s.globalPath())
	if err != nil {
		return "", err
	}
	b.WriteString("### Global Discoveries\n\n")
	b.WriteString(global)
	b.WriteString("\n")

	decisions, err := readFile(s.decisionsPath())
	if err != nil {
		return "", err
	}
	b.WriteString("### Decisions\n\n")
	b.WriteString(decisions)
	b.WriteString("\n")

	if componentID != "" {
		component, err := readFile(s.componentPath(componentID))
		if err != nil {
			return "", err
		}
		b.WriteString(fmt.Sprintf("### Component %s Context\n\n", componentID))
		b.WriteString(component)
		b.WriteString("\n")
	}
	return b.String(), nil
}

func readFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("contextstore: read %s: %w", path, err)
	}
	return string(data), nil
}

// UpdateFromResult appends discoveries to the global context, decisions to
// the decisions log, and everything to the component file when componentID
// is given. Each entry is timestamped and tagged with its source agent.
func (s *Store) UpdateFromResult(sourceAgent string, update schemas.ContextUpdate, componentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC().Format(time.RFC3339)
	for _, d := range update.Discoveries {
		if err := appendEntry(s.globalPath(), now, sourceAgent, d); err != nil {
			return err
		}
	}
	for _, d := range update.Decisions {
		if err := appendEntry(s.decisionsPath(), now, sourceAgent, d); err != nil {
			return err
		}
	}
	if componentID != "" {
		if update.Summary != "" {
			if err := appendEntry(s.componentPath(componentID), now, sourceAgent, "summary: "+update.Summary); err != nil {
				return err
			}
		}
		for _, d := range update.Discoveries {
			if err := appendEntry(s.componentPath(componentID), now, sourceAgent, d); err != nil {
				return err
			}
		}
		for _, b := range update.Blockers {
			if err := appendEntry(s.componentPath(componentID), now, sourceAgent, "blocker: "+b); err != nil {
				return err
			}
		}
		for _, d := range update.Decisions {
			if err := appendEntry(s.componentPath(componentID), now, sourceAgent, "decision: "+d); err != nil {
				return err
			}
		}
		if update.ForNextAgent != "" {
			if err := appendEntry(s.componentPath(componentID), now, sourceAgent, "for next agent: "+update.ForNextAgent); err != nil {
				return err
			}
		}
	}
	return s.maybeSummarize(s.globalPath())
}

// appendEntry writes one discovery line, tagged with a fresh uuid so a
// discovery can be referenced unambiguously later even after the file has
// grown past its soft cap and earlier entries have scrolled out of the
// prompt window.
func appendEntry(path, timestamp, source, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	line := fmt.Sprintf("- [%s] (%s) {%s} %s\n", timestamp, source, uuid.NewString(), text)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("contextstore: append %s: %w", path, err)
	}
	defer file.Close()
	if _, err := file.WriteString(line); err != nil {
		return fmt.Errorf("contextstore: write %s: %w", path, err)
	}
	return nil
}

// maybeSummarize appends a non-destructive summary marker once a file grows
// past the soft cap. It never removes prior lines.
func (s *Store) maybeSummarize(path string) error {
	lines, err := countLines(path)
	if err != nil {
		return err
	}
	if lines <= softCapLines {
		return nil
	}
	marker := fmt.Sprintf("\n<!-- summary-checkpoint: %d lines accumulated as of %s; prior entries preserved above -->\n",
		lines, time.Now().UTC().Format(time.RFC3339))
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("contextstore: summarize %s: %w", path, err)
	}
	defer file.Close()
	_, err = file.WriteString(marker)
	return err
}

func countLines(path string) (int, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("contextstore: open %s: %w", path, err)
	}
	defer file.Close()
	scanner := bufio.NewScanner(file)
	count := 0
	for scanner.Scan() {
		count++
	}
	return count, scanner.Err()
}

// UpdateComponentStatus records a status change by appending a new status
// line to the per-component file; the header written by Initialize and prior
// status lines remain as history.
func (s *Store) UpdateComponentStatus(componentID, status, summary string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC().Format(time.RFC3339)
	text := fmt.Sprintf("status -> %s", status)
	if summary != "" {
		text += ": " + summary
	}
	return appendEntry(s.componentPath(componentID), now, "engine", text)
}
