// Package manifest models the declarative specification of one run: what
// components exist, how they depend on each other, and at what risk level
// and execution mode the engine should drive them.
package manifest

import (
	"fmt"
	"sort"
	"time"
)

// RiskLevel classifies how much validation a run requires.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

func (r RiskLevel) Valid() bool {
	switch r {
	case RiskLow, RiskMedium, RiskHigh, RiskCritical:
		return true
	default:
		return false
	}
}

// Mode selects how aggressively the engine schedules and validates work.
type Mode string

const (
	ModeQuick    Mode = "quick"
	ModeStandard Mode = "standard"
	ModeFull     Mode = "full"
)

func (m Mode) Valid() bool {
	switch m {
	case ModeQuick, ModeStandard, ModeFull:
		return true
	default:
		return false
	}
}

// Quality captures the run's acceptance bar.
type Quality struct {
	CoverageTarget  float64 `json:"coverage_target,omitempty" yaml:"coverage_target,omitempty"`
	LintRequired    bool    `json:"lint_required,omitempty" yaml:"lint_required,omitempty"`
	SecurityScan    bool    `json:"security_scan,omitempty" yaml:"security_scan,omitempty"`
}

// ComponentDef is one unit of work in the manifest.
type ComponentDef struct {
	ID         string   `json:"id" yaml:"id"`
	Files      []string `json:"files" yaml:"files"`
	DependsOn  []string `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`
	Complexity int      `json:"complexity,omitempty" yaml:"complexity,omitempty"`
	Purpose    string   `json:"purpose,omitempty" yaml:"purpose,omitempty"`
	Notes      string   `json:"notes,omitempty" yaml:"notes,omitempty"`
}

// Clone returns a deep copy of the component definition.
func (c ComponentDef) Clone() ComponentDef {
	clone := c
	clone.Files = cloneStrings(c.Files)
	clone.DependsOn = cloneStrings(c.DependsOn)
	return clone
}

// Manifest is the immutable, loaded-once record of one run.
type Manifest struct {
	Name              string         `json:"name" yaml:"name"`
	Project           string         `json:"project" yaml:"project"`
	WorkDir           string         `json:"work_dir" yaml:"work_dir"`
	SpecDir           string         `json:"spec_dir" yaml:"spec_dir"`
	Created           time.Time      `json:"created" yaml:"created"`
	Complexity        int            `json:"complexity" yaml:"complexity"`
	RiskLevel         RiskLevel      `json:"risk_level" yaml:"risk_level"`
	Mode              Mode           `json:"mode" yaml:"mode"`
	Components        []ComponentDef `json:"components" yaml:"components"`
	Quality           Quality        `json:"quality,omitempty" yaml:"quality,omitempty"`
	Gotchas           []string       `json:"gotchas,omitempty" yaml:"gotchas,omitempty"`
	ValidationCommand string         `json:"validation_command,omitempty" yaml:"validation_command,omitempty"`
}

// Clone returns a deep copy of the manifest.
func (m Manifest) Clone() Manifest {
	clone := m
	clone.Components = make([]ComponentDef, len(m.Components))
	for i, c := range m.Components {
		clone.Components[i] = c.Clone()
	}
	clone.Gotchas = cloneStrings(m.Gotchas)
	return clone
}

// ComponentIDs returns component identifiers in declaration order.
func (m Manifest) ComponentIDs() []string {
	ids := make([]string, len(m.Components))
	for i, c := range m.Components {
		ids[i] = c.ID
	}
	return ids
}

// Component looks up a component by id.
func (m Manifest) Component(id string) (ComponentDef, bool) {
	for _, c := range m.Components {
		if c.ID == id {
			return c, true
		}
	}
	return ComponentDef{}, false
}

// Validate checks structural invariants: non-empty fields, unique component
// ids, known dependency ids, file disjointness across components, and DAG
// acyclicity. It does not mutate the manifest.
func (m Manifest) Validate() error {
	if m.Name == "" {
		return fmt.Errorf("manifest: name is required")
	}
	if m.WorkDir == "" {
		return fmt.Errorf("manifest: work_dir is required")
	}
	if !m.RiskLevel.Valid() {
		return fmt.Errorf("manifest: invalid risk_level %q", m.RiskLevel)
	}
	if !m.Mode.Valid() {
		return fmt.Errorf("manifest: invalid mode %q", m.Mode)
	}
	if len(m.Components) == 0 {
		return fmt.Errorf("manifest: at least one component is required")
	}

	seen := make(map[string]struct{}, len(m.Components))
	fileOwner := make(map[string]string, len(m.Components)*2)
	for _, c := range m.Components {
		if c.ID == "" {
			return fmt.Errorf("manifest: component id is required")
		}
		if _, dup := seen[c.ID]; dup {
			return fmt.Errorf("manifest: duplicate component id %q", c.ID)
		}
		seen[c.ID] = struct{}{}
		if len(c.Files) == 0 {
			return fmt.Errorf("manifest: component %q must declare at least one file", c.ID)
		}
		for _, f := range c.Files {
			if owner, dup := fileOwner[f]; dup {
				return fmt.Errorf("manifest: file %q claimed by both %q and %q", f, owner, c.ID)
			}
			fileOwner[f] = c.ID
		}
	}
	for _, c := range m.Components {
		for _, dep := range c.DependsOn {
			if _, ok := seen[dep]; !ok {
				return fmt.Errorf("manifest: component %q depends on unknown component %q", c.ID, dep)
			}
			if dep == c.ID {
				return fmt.Errorf("manifest: component %q cannot depend on itself", c.ID)
			}
		}
	}
	if cycle, ok := findCycle(m); ok {
		return fmt.Errorf("manifest: dependency cycle detected: %s", formatCycle(cycle))
	}
	return nil
}

// DependencyLevels partitions components into a topological ordering where
// every component in level k+1 depends, directly or transitively, only on
// components in levels 0..k. Order within a level is unspecified (set
// semantics) per the engine's concurrency model, but this implementation
// returns components sorted by id for determinism in tests.
func (m Manifest) DependencyLevels() ([][]string, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	depsOf := make(map[string][]string, len(m.Components))
	for _, c := range m.Components {
		depsOf[c.ID] = c.DependsOn
	}
	resolved := make(map[string]int) // id -> level
	var levels [][]string
	remaining := m.ComponentIDs()

	for len(resolved) < len(remaining) {
		var batch []string
		for _, id := range remaining {
			if _, done := resolved[id]; done {
				continue
			}
			ready := true
			maxDepLevel := -1
			for _, dep := range depsOf[id] {
				lvl, ok := resolved[dep]
				if !ok {
					ready = false
					break
				}
				if lvl > maxDepLevel {
					maxDepLevel = lvl
				}
			}
			if ready && maxDepLevel == len(levels)-1 {
				batch = append(batch, id)
			} else if ready && maxDepLevel < len(levels)-1 {
				// Dependencies resolved in an earlier level; still belongs in
				// the current frontier level.
				batch = append(batch, id)
			}
		}
		if len(batch) == 0 {
			// Should be unreachable: Validate() already rejected cycles.
			return nil, fmt.Errorf("manifest: unable to resolve dependency levels (unexpected cycle)")
		}
		sort.Strings(batch)
		level := len(levels)
		for _, id := range batch {
			resolved[id] = level
		}
		levels = append(levels, batch)
	}
	return levels, nil
}

func findCycle(m Manifest) ([]string, bool) {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(m.Components))
	depsOf := make(map[string][]string, len(m.Components))
	for _, c := range m.Components {
		depsOf[c.ID] = c.DependsOn
		color[c.ID] = white
	}
	var stack []string
	var cycle []string

	var visit func(id string) bool
	visit = func(id string) bool {
		color[id] = gray
		stack = append(stack, id)
		for _, dep := range depsOf[id] {
			switch color[dep] {
			case gray:
				// Found the back-edge; extract the cycle portion of the stack.
				start := 0
				for i, v := range stack {
					if v == dep {
						start = i
						break
					}
				}
				cycle = append([]string{}, stack[start:]...)
				cycle = append(cycle, dep)
				return true
			case white:
				if visit(dep) {
					return true
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[id] = black
		return false
	}

	ids := m.ComponentIDs()
	sort.Strings(ids)
	for _, id := range ids {
		if color[id] == white {
			if visit(id) {
				return cycle, true
			}
		}
	}
	return nil, false
}

func formatCycle(cycle []string) string {
	out := ""
	for i, id := range cycle {
		if i > 0 {
			out += " -> "
		}
		out += id
	}
	return out
}

func cloneStrings(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	out := make([]string, len(values))
	copy(out, values)
	return out
}
