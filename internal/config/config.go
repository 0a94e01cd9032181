// Package config loads the engine's immutable configuration: agent
// definitions, the phase list, risk-level reviewer-count tables, and
// voting-gate triggers. Configuration is read once at startup and treated as
// read-only thereafter, mirroring the teacher's load/normalize/validate
// pipeline for its project configuration.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/conduct-run/orchestrator/internal/manifest"
)

// AgentDef declares one registered agent kind: its model, timeout, allowed
// tools, prompt template location, and the schema name its output must
// satisfy.
type AgentDef struct {
	Name           string        `yaml:"name"`
	Model          string        `yaml:"model"`
	Timeout        time.Duration `yaml:"timeout"`
	AllowedTools   []string      `yaml:"allowed_tools,omitempty"`
	PromptTemplate string        `yaml:"prompt_template"`
	OutputSchema   string        `yaml:"output_schema"`
}

// RiskReviewerTable maps risk level to the number of parallel validators (M)
// the validation loop runs for a component at that risk level.
type RiskReviewerTable map[manifest.RiskLevel]int

// DefaultRiskReviewerTable returns the reviewer counts from spec.md §4.6:
// low=1, medium=2, high=3 (including a dedicated security pass), critical
// runs the full validator suite.
func DefaultRiskReviewerTable() RiskReviewerTable {
	return RiskReviewerTable{
		manifest.RiskLow:      1,
		manifest.RiskMedium:   2,
		manifest.RiskHigh:     3,
		manifest.RiskCritical: 6,
	}
}

// VotingGateTrigger names a gate the engine may raise, the minimum risk level
// at which it activates, and the voter pool that decides it.
type VotingGateTrigger struct {
	Gate       string             `yaml:"gate"`
	MinRisk    manifest.RiskLevel `yaml:"min_risk"`
	VoterAgent string             `yaml:"voter_agent"`
	Voters     int                `yaml:"voters"`
	Options    []string           `yaml:"options"`
}

// FixLoopConfig holds the validation loop's tunables.
type FixLoopConfig struct {
	MaxFixAttempts     int `yaml:"max_fix_attempts"`
	SameIssueThreshold int `yaml:"same_issue_threshold"`
}

// DefaultFixLoopConfig returns spec.md's defaults: three fix attempts before
// escalation, with a same-issue streak of two triggering a strategy vote.
func DefaultFixLoopConfig() FixLoopConfig {
	return FixLoopConfig{MaxFixAttempts: 3, SameIssueThreshold: 2}
}

// EngineConfig is the engine's complete immutable configuration, assembled
// from agents.yaml and phases.yaml.
type EngineConfig struct {
	Agents        map[string]AgentDef `yaml:"agents"`
	Phases        []string            `yaml:"phases"`
	RiskReviewers RiskReviewerTable   `yaml:"risk_reviewers"`
	VotingGates   []VotingGateTrigger `yaml:"voting_gates"`
	FixLoop       FixLoopConfig       `yaml:"fix_loop"`
	RunnerRetries int                 `yaml:"runner_retries"`
}

// DefaultPhases is the standard phase sequence from spec.md §4.7.
var DefaultPhases = []string{
	"parse_spec",
	"impact_analysis",
	"component_loop",
	"integration_validation",
	"final_validation",
	"production_gate",
	"completion",
}

// Default returns a complete, valid configuration with no agents registered -
// the baseline `conduct new` scaffolds and tests build on.
func Default() EngineConfig {
	return EngineConfig{
		Agents:        map[string]AgentDef{},
		Phases:        append([]string{}, DefaultPhases...),
		RiskReviewers: DefaultRiskReviewerTable(),
		FixLoop:       DefaultFixLoopConfig(),
		RunnerRetries: 2,
	}
}

// Load reads agents.yaml and phases.yaml (if present) from their respective
// paths, merges them onto Default(), and validates the result. A missing
// file is not an error - Load treats it as "use defaults for this file".
func Load(agentsPath, phasesPath string) (EngineConfig, error) {
	cfg := Default()

	if err := mergeYAMLFile(agentsPath, &cfg); err != nil {
		return EngineConfig{}, err
	}
	if err := mergeYAMLFile(phasesPath, &cfg); err != nil {
		return EngineConfig{}, err
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return EngineConfig{}, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func mergeYAMLFile(path string, cfg *EngineConfig) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

func (c *EngineConfig) applyDefaults() {
	if len(c.Phases) == 0 {
		c.Phases = append([]string{}, DefaultPhases...)
	}
	if c.RiskReviewers == nil {
		c.RiskReviewers = DefaultRiskReviewerTable()
	}
	if c.FixLoop.MaxFixAttempts == 0 {
		c.FixLoop.MaxFixAttempts = 3
	}
	if c.FixLoop.SameIssueThreshold == 0 {
		c.FixLoop.SameIssueThreshold = 2
	}
	if c.RunnerRetries == 0 {
		c.RunnerRetries = 2
	}
	if c.Agents == nil {
		c.Agents = map[string]AgentDef{}
	}
	for name, def := range c.Agents {
		if def.Name == "" {
			def.Name = name
			c.Agents[name] = def
		}
	}
}

func (c EngineConfig) validate() error {
	if len(c.Phases) == 0 {
		return fmt.Errorf("phases list must not be empty")
	}
	seenPhase := map[string]struct{}{}
	for _, p := range c.Phases {
		p = strings.TrimSpace(p)
		if p == "" {
			return fmt.Errorf("phase names must not be blank")
		}
		if _, dup := seenPhase[p]; dup {
			return fmt.Errorf("duplicate phase %q", p)
		}
		seenPhase[p] = struct{}{}
	}
	for name, def := range c.Agents {
		if def.Name != "" && def.Name != name {
			return fmt.Errorf("agent %q: name field %q does not match map key", name, def.Name)
		}
		if def.OutputSchema == "" {
			return fmt.Errorf("agent %q: output_schema is required", name)
		}
	}
	for risk, count := range c.RiskReviewers {
		if !risk.Valid() {
			return fmt.Errorf("risk_reviewers: invalid risk level %q", risk)
		}
		if count < 1 {
			return fmt.Errorf("risk_reviewers[%s]: must be >= 1", risk)
		}
	}
	for _, gate := range c.VotingGates {
		if gate.Gate == "" {
			return fmt.Errorf("voting_gates: gate name is required")
		}
		if gate.Voters < 1 || gate.Voters%2 == 0 {
			return fmt.Errorf("voting_gates[%s]: voter count must be odd and >= 1, got %d", gate.Gate, gate.Voters)
		}
		if len(gate.Options) == 0 {
			return fmt.Errorf("voting_gates[%s]: at least one option is required", gate.Gate)
		}
	}
	if c.FixLoop.MaxFixAttempts < 1 {
		return fmt.Errorf("fix_loop.max_fix_attempts must be >= 1")
	}
	if c.FixLoop.SameIssueThreshold < 1 {
		return fmt.Errorf("fix_loop.same_issue_threshold must be >= 1")
	}
	return nil
}

// ReviewerCount returns the number of parallel validators for a risk level,
// falling back to the documented default if the table omits it.
func (c EngineConfig) ReviewerCount(risk manifest.RiskLevel) int {
	if n, ok := c.RiskReviewers[risk]; ok {
		return n
	}
	return DefaultRiskReviewerTable()[risk]
}

// Agent resolves a registered agent definition by name.
func (c EngineConfig) Agent(name string) (AgentDef, bool) {
	def, ok := c.Agents[name]
	return def, ok
}

// GatesForRisk returns the voting gates whose min_risk is at or below the
// given risk level (i.e. the gates active at that risk), in declaration order.
func (c EngineConfig) GatesForRisk(risk manifest.RiskLevel) []VotingGateTrigger {
	rank := map[manifest.RiskLevel]int{
		manifest.RiskLow:      0,
		manifest.RiskMedium:   1,
		manifest.RiskHigh:     2,
		manifest.RiskCritical: 3,
	}
	var out []VotingGateTrigger
	for _, g := range c.VotingGates {
		if rank[risk] >= rank[g.MinRisk] {
			out = append(out, g)
		}
	}
	return out
}
