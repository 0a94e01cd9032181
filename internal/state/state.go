// Package state models the durable, resumable record of one run: current
// phase, per-component status, fix-attempt history, voting results, and
// discoveries. It is written atomically after every transition the engine
// considers durable.
package state

import (
	"time"

	"github.com/google/uuid"

	"github.com/conduct-run/orchestrator/internal/validation"
)

// ComponentPhase enumerates the per-component lifecycle states. Transitions
// move forward except "fixing", which loops back to "validating", and a
// skeleton-gate "revise_skeleton" vote, which returns a component from
// "skeletonizing" to "pending".
type ComponentPhase string

const (
	ComponentPending       ComponentPhase = "pending"
	ComponentSkeletonizing ComponentPhase = "skeletonizing"
	ComponentImplementing  ComponentPhase = "implementing"
	ComponentValidating    ComponentPhase = "validating"
	ComponentFixing        ComponentPhase = "fixing"
	ComponentComplete      ComponentPhase = "complete"
	ComponentFailed        ComponentPhase = "failed"
)

// PhaseStatus tracks the coarse status of the workflow-engine's current phase.
type PhaseStatus string

const (
	PhasePending  PhaseStatus = "pending"
	PhaseRunning  PhaseStatus = "running"
	PhaseComplete PhaseStatus = "complete"
	PhaseFailed   PhaseStatus = "failed"
	PhasePaused   PhaseStatus = "paused"
)

// ComponentState is the engine's record of one component's progress.
type ComponentState struct {
	ID          string             `json:"id"`
	Status      ComponentPhase     `json:"status"`
	FixAttempts int                `json:"fix_attempts"`
	LastIssues  []validation.Issue `json:"last_issues,omitempty"`
	Blockers    []string           `json:"blockers,omitempty"`
}

// Discovery is a structured note an agent surfaced during a phase.
type Discovery struct {
	Text      string    `json:"text"`
	Source    string    `json:"source"`
	Phase     string    `json:"phase"`
	Timestamp time.Time `json:"timestamp"`
}

// VoteOutcome enumerates the three possible voting-gate results.
type VoteOutcome string

const (
	OutcomeConsensus VoteOutcome = "consensus"
	OutcomeSplit     VoteOutcome = "split"
	OutcomeNoQuorum  VoteOutcome = "no_quorum"
)

// Ballot is one voter's recorded choice.
type Ballot struct {
	Agent     string `json:"agent"`
	Vote      string `json:"vote"`
	Reasoning string `json:"reasoning"`
}

// VoteResult records one completed voting gate.
type VoteResult struct {
	GateName string      `json:"gate_name"`
	Voters   []Ballot    `json:"voters"`
	Outcome  VoteOutcome `json:"outcome"`
	Chosen   string      `json:"chosen,omitempty"`
}

// State is the full persisted snapshot of one run.
type State struct {
	SchemaVersion int                       `json:"schema_version"`
	RunID         string                    `json:"run_id"`
	CurrentPhase  string                    `json:"current_phase"`
	PhaseStatus   PhaseStatus               `json:"phase_status"`
	Components    map[string]ComponentState `json:"components"`
	VotingResults []VoteResult              `json:"voting_results,omitempty"`
	Discoveries   []Discovery               `json:"discoveries,omitempty"`
	FixAttempts   map[string][][]validation.Issue `json:"fix_attempts,omitempty"`
	UpdatedAt     time.Time                 `json:"updated_at"`
}

// CurrentSchemaVersion is the on-disk state.json format version.
const CurrentSchemaVersion = 1

// New builds a freshly initialized state: every component pending, phase set
// to firstPhase.
func New(componentIDs []string, firstPhase string) State {
	components := make(map[string]ComponentState, len(componentIDs))
	for _, id := range componentIDs {
		components[id] = ComponentState{ID: id, Status: ComponentPending}
	}
	return State{
		SchemaVersion: CurrentSchemaVersion,
		RunID:         uuid.NewString(),
		CurrentPhase:  firstPhase,
		PhaseStatus:   PhasePending,
		Components:    components,
		FixAttempts:   map[string][][]validation.Issue{},
	}
}

// RecordFixAttempt stores the full fix-attempt issue-set history observed so
// far for a component (oldest first) and returns what was previously
// recorded. Callers pass the complete current history, not just the newest
// attempt, so a reset (history cleared after a strategy vote) persists as a
// reset rather than an append. This is what lets same-issue streak detection
// survive a crash-and-resume mid component_loop.
func (s *State) RecordFixAttempt(componentID string, history [][]validation.Issue) [][]validation.Issue {
	if s.FixAttempts == nil {
		s.FixAttempts = map[string][][]validation.Issue{}
	}
	prior := s.FixAttempts[componentID]
	s.FixAttempts[componentID] = history
	return prior
}

// AddDiscovery appends a discovery to the run-wide (not per-component) log.
func (s *State) AddDiscovery(d Discovery) {
	s.Discoveries = append(s.Discoveries, d)
}

// AddVoteResult appends a completed vote to the run's history.
func (s *State) AddVoteResult(v VoteResult) {
	s.VotingResults = append(s.VotingResults, v)
}

// SetComponent upserts a component's state.
func (s *State) SetComponent(c ComponentState) {
	if s.Components == nil {
		s.Components = map[string]ComponentState{}
	}
	s.Components[c.ID] = c
}
