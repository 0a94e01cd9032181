// Package phases implements the workflow engine's phase handlers:
// parse_spec, impact_analysis, component_loop, integration_validation,
// final_validation, production_gate, completion. Each handler decides for
// itself whether it applies to the current run (e.g. impact_analysis is a
// no-op outside high-risk manifests), mirroring the teacher's module
// Result{Status: no-op/completed/needs-input/failed} idiom.
package phases

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/conduct-run/orchestrator/internal/agentrunner"
	"github.com/conduct-run/orchestrator/internal/config"
	"github.com/conduct-run/orchestrator/internal/contextstore"
	"github.com/conduct-run/orchestrator/internal/manifest"
	"github.com/conduct-run/orchestrator/internal/modes"
	"github.com/conduct-run/orchestrator/internal/state"
	"github.com/conduct-run/orchestrator/internal/validation"
	"github.com/conduct-run/orchestrator/internal/voting"
)

// Status enumerates a phase handler's outcome.
type Status string

const (
	StatusCompleted  Status = "completed"
	StatusNoOp       Status = "no-op"
	StatusNeedsInput Status = "needs-input"
	StatusFailed     Status = "failed"
)

// Result is what a phase handler reports back to the engine.
type Result struct {
	Status  Status
	Message string
	Err     error
}

// Runtime bundles every collaborator a phase handler needs. The engine
// constructs one Runtime per run and hands it to each handler in turn.
//
// component_loop fans components within a dependency level out across
// goroutines (see ComponentLoop); while it does, every read and write of
// State and every call to Persist goes through mu so that fan-out never races
// the state file, per the engine's single-writer guarantee. Handlers that run
// without fan-out access State directly.
type Runtime struct {
	Manifest  manifest.Manifest
	Config    config.EngineConfig
	Profile   modes.Profile
	State     *state.State
	Context   *contextstore.Store
	Runner    AgentInvoker
	Log       *zap.Logger
	Persist   func() error
	MaxConcur int

	mu sync.Mutex
}

// fixHistory reads a component's persisted fix-attempt history under the
// state lock, returning an independent copy safe for a goroutine to mutate.
func (rt *Runtime) fixHistory(componentID string) [][]validation.Issue {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return cloneHistory(rt.State.FixAttempts[componentID])
}

// persistComponent records a component's status and its current fix-attempt
// history, then durably persists, all under one lock so concurrent
// components never interleave writes to the shared state or race the
// persist callback's read of it.
func (rt *Runtime) persistComponent(cs state.ComponentState, history [][]validation.Issue) error {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.State.SetComponent(cs)
	rt.State.RecordFixAttempt(cs.ID, history)
	if rt.Persist == nil {
		return nil
	}
	return rt.Persist()
}

// persistVote records a vote result and persists under the same lock.
func (rt *Runtime) persistVote(v state.VoteResult) error {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.State.AddVoteResult(v)
	if rt.Persist == nil {
		return nil
	}
	return rt.Persist()
}

// AgentInvoker is the narrowed interface phases call the agent runner
// through, satisfied by *agentrunner.Runner.
type AgentInvoker interface {
	Run(ctx context.Context, inv agentrunner.Invocation) agentrunner.AgentResult
}

// Handler processes one phase against the shared runtime.
type Handler func(ctx context.Context, rt *Runtime) Result

// Registry maps phase name to handler, mirroring the schemas registry's
// register-once-at-init, read-many discipline.
type Registry struct {
	handlers map[string]Handler
}

// NewRegistry returns an empty phase registry.
func NewRegistry() *Registry {
	return &Registry{handlers: map[string]Handler{}}
}

// Register installs a handler under a phase name.
func (r *Registry) Register(name string, h Handler) {
	r.handlers[name] = h
}

// Get resolves a phase's handler.
func (r *Registry) Get(name string) (Handler, bool) {
	h, ok := r.handlers[name]
	return h, ok
}

// DefaultRegistry returns the standard phase set from spec.md §4.7.
func DefaultRegistry() *Registry {
	reg := NewRegistry()
	reg.Register("parse_spec", ParseSpec)
	reg.Register("impact_analysis", ImpactAnalysis)
	reg.Register("component_loop", ComponentLoop)
	reg.Register("integration_validation", IntegrationValidation)
	reg.Register("final_validation", FinalValidation)
	reg.Register("production_gate", ProductionGate)
	reg.Register("completion", Completion)
	return reg
}

func persist(rt *Runtime) Result {
	if rt.Persist == nil {
		return Result{}
	}
	if err := rt.Persist(); err != nil {
		return Result{Status: StatusFailed, Err: fmt.Errorf("phases: persist state: %w", err)}
	}
	return Result{}
}

// ParseSpec validates the manifest and confirms a dependency order can be
// computed. It does not mutate the manifest; state.json already reflects the
// component set from the state constructed at run start.
func ParseSpec(ctx context.Context, rt *Runtime) Result {
	if err := rt.Manifest.Validate(); err != nil {
		return Result{Status: StatusFailed, Err: fmt.Errorf("phases: manifest invalid: %w", err)}
	}
	if _, err := rt.Manifest.DependencyLevels(); err != nil {
		return Result{Status: StatusFailed, Err: err}
	}
	return Result{Status: StatusCompleted}
}

// ImpactAnalysis runs only for high-risk or critical-risk manifests, and only
// in modes whose profile enables it. It produces a non-binding recommendation
// recorded as a discovery; it never fails the run and never changes scope
// itself.
func ImpactAnalysis(ctx context.Context, rt *Runtime) Result {
	if !rt.Profile.RunImpactAnalysis {
		return Result{Status: StatusNoOp, Message: "this mode does not run impact analysis"}
	}
	if rt.Manifest.RiskLevel != manifest.RiskHigh && rt.Manifest.RiskLevel != manifest.RiskCritical {
		return Result{Status: StatusNoOp, Message: "impact analysis only runs for high/critical risk manifests"}
	}
	res := rt.Runner.Run(ctx, agentrunner.Invocation{
		AgentName: "investigator",
		Prompt:    fmt.Sprintf("Assess the blast radius of this change across %d components.", len(rt.Manifest.Components)),
	})
	if !res.Success {
		// Non-binding: a failed investigation is recorded, not fatal.
		rt.State.AddDiscovery(state.Discovery{
			Text: fmt.Sprintf("impact analysis agent failed: %v", res.Error), Source: "investigator",
			Phase: "impact_analysis", Timestamp: time.Now().UTC(),
		})
		return Result{Status: StatusCompleted, Message: "impact analysis agent failed; proceeding"}
	}
	summary, _ := res.Data["summary"].(string)
	rt.State.AddDiscovery(state.Discovery{Text: summary, Source: "investigator", Phase: "impact_analysis", Timestamp: time.Now().UTC()})
	return Result{Status: StatusCompleted}
}

// ComponentLoop iterates components in dependency-level order, running the
// validation loop on each. Components within a level that the profile allows
// to run in parallel are fanned out; the engine waits for an entire level to
// finish (every component durably persisted) before starting the next,
// regardless of mode - this is the happens-before guarantee between levels.
func ComponentLoop(ctx context.Context, rt *Runtime) Result {
	levels, err := rt.Manifest.DependencyLevels()
	if err != nil {
		return Result{Status: StatusFailed, Err: err}
	}

	escalated := false

	for _, level := range levels {
		sorted := append([]string{}, level...)
		sort.Strings(sorted)

		concurrency := 1
		switch rt.Profile.Parallelism {
		case modes.ParallelismAggressive:
			concurrency = 0 // unbounded: every component in this level runs at once
		case modes.ParallelismByLevel:
			concurrency = rt.MaxConcur
		case modes.ParallelismConservative:
			concurrency = 1
		}

		group, gctx := errgroup.WithContext(ctx)
		if concurrency > 0 {
			group.SetLimit(concurrency)
		}

		for _, id := range sorted {
			id := id
			comp, ok := rt.Manifest.Component(id)
			if !ok {
				continue
			}
			group.Go(func() error {
				return runComponent(gctx, rt, comp)
			})
		}
		if err := group.Wait(); err != nil {
			if err == errEscalate {
				escalated = true
				continue
			}
			return Result{Status: StatusFailed, Err: err}
		}
	}

	if escalated {
		return Result{Status: StatusNeedsInput, Message: "a component's fix-strategy vote did not reach consensus"}
	}

	for _, c := range rt.State.Components {
		if c.Status != state.ComponentComplete {
			return Result{Status: StatusFailed, Err: fmt.Errorf("phases: component %q ended in status %q", c.ID, c.Status)}
		}
	}
	return Result{Status: StatusCompleted}
}

var errEscalate = fmt.Errorf("phases: component escalated for user input")

// runComponent drives one component through its own, unshared validation
// Loop - each goroutine in a fanned-out level gets its own Loop instance, and
// every mutation the loop reports goes through Runtime's locked persist
// helpers, so concurrent components never race the shared state or store.
func runComponent(ctx context.Context, rt *Runtime, comp manifest.ComponentDef) error {
	rt.mu.Lock()
	cs := rt.State.Components[comp.ID]
	rt.mu.Unlock()
	if cs.ID == "" {
		cs = state.ComponentState{ID: comp.ID, Status: state.ComponentPending}
	}
	history := rt.fixHistory(comp.ID)

	loop := &validation.Loop{Runner: rt.Runner}
	loop.OnTransition = func(updated state.ComponentState, h [][]validation.Issue) {
		_ = rt.persistComponent(updated, h)
	}

	params := rt.Profile.LoopParams(rt.Config, rt.Manifest.RiskLevel, rt.MaxConcur)
	outcome, err := loop.Run(ctx, comp, rt.Manifest.RiskLevel, params, cs, history)
	if err != nil {
		return fmt.Errorf("component %q: %w", comp.ID, err)
	}

	if outcome.Vote != nil {
		if err := rt.persistVote(*outcome.Vote); err != nil {
			return err
		}
	}
	if err := rt.persistComponent(outcome.Component, outcome.History); err != nil {
		return err
	}
	if outcome.Escalate {
		return errEscalate
	}
	if outcome.Component.Status != state.ComponentComplete {
		return fmt.Errorf("component %q failed: %v", comp.ID, outcome.Component.Blockers)
	}
	return nil
}

func cloneHistory(history [][]validation.Issue) [][]validation.Issue {
	out := make([][]validation.Issue, len(history))
	copy(out, history)
	return out
}

// IntegrationValidation runs the manifest's validation command via a
// test-runner agent.
func IntegrationValidation(ctx context.Context, rt *Runtime) Result {
	if rt.Manifest.ValidationCommand == "" {
		return Result{Status: StatusNoOp, Message: "manifest declares no validation command"}
	}
	res := rt.Runner.Run(ctx, agentrunner.Invocation{
		AgentName: "test-runner",
		Prompt:    fmt.Sprintf("Run the validation command: %s", rt.Manifest.ValidationCommand),
	})
	if !res.Success {
		return Result{Status: StatusFailed, Err: fmt.Errorf("integration validation failed: %w", res.Error)}
	}
	return Result{Status: StatusCompleted}
}

// FinalValidation runs a full-suite review scaled to risk (per the risk
// table, e.g. 6 reviewers for critical, never fewer than 2 even at low risk)
// and applies fixes for the severities the mode profile covers in a final
// pass.
func FinalValidation(ctx context.Context, rt *Runtime) Result {
	reviewers := rt.Config.ReviewerCount(rt.Manifest.RiskLevel)
	if reviewers < 2 {
		reviewers = 2
	}
	issueSets := make([][]validation.Issue, reviewers)
	group, gctx := errgroup.WithContext(ctx)
	if rt.MaxConcur > 0 {
		group.SetLimit(rt.MaxConcur)
	}
	for i := 0; i < reviewers; i++ {
		i := i
		group.Go(func() error {
			res := rt.Runner.Run(gctx, agentrunner.Invocation{
				AgentName: "validator",
				Prompt:    "Perform a full-suite final review across the entire change set.",
			})
			if !res.Success {
				return res.Error
			}
			issueSets[i] = validation.ParseIssues(res.Data)
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return Result{Status: StatusFailed, Err: err}
	}
	issues := validation.Dedup(issueSets...)

	var actionable []validation.Issue
	for _, issue := range issues {
		if rt.Profile.IncludesSeverity(issue.Severity) {
			actionable = append(actionable, issue)
		}
	}
	if len(actionable) == 0 {
		return Result{Status: StatusCompleted}
	}

	res := rt.Runner.Run(ctx, agentrunner.Invocation{
		AgentName: "fix-executor",
		Prompt:    fmt.Sprintf("Fix the following final-review issues: %v", actionable),
	})
	if !res.Success {
		return Result{Status: StatusFailed, Err: fmt.Errorf("final validation: unresolved issues: %v", actionable)}
	}
	return Result{Status: StatusCompleted}
}

// ProductionGate votes on production readiness for high/critical risk runs.
func ProductionGate(ctx context.Context, rt *Runtime) Result {
	if !rt.Profile.RunProductionGate {
		return Result{Status: StatusNoOp, Message: "this mode does not run a production gate"}
	}
	if rt.Manifest.RiskLevel != manifest.RiskHigh && rt.Manifest.RiskLevel != manifest.RiskCritical {
		return Result{Status: StatusNoOp, Message: "production gate only runs for high/critical risk manifests"}
	}
	vr, err := voting.RunVote(ctx, rt.Runner, voting.GateConfig{
		Name:       "production_gate",
		VoterAgent: "voter",
		Voters:     3,
		Options:    []string{"ready", "needs_work", "risky"},
	}, voting.Context{Description: fmt.Sprintf("Is %s ready for production?", rt.Manifest.Name)}, rt.MaxConcur)
	if err != nil {
		return Result{Status: StatusFailed, Err: err}
	}
	recorded := toStateVote(vr)
	rt.State.AddVoteResult(recorded)
	if vr.Outcome != voting.OutcomeConsensus || vr.Chosen != "ready" {
		return Result{Status: StatusNeedsInput, Message: fmt.Sprintf("production gate did not reach ready: %+v", vr)}
	}
	return Result{Status: StatusCompleted}
}

func toStateVote(vr voting.Result) state.VoteResult {
	ballots := make([]state.Ballot, 0, len(vr.Ballots))
	for _, b := range vr.Ballots {
		if b.Err != nil {
			continue
		}
		ballots = append(ballots, state.Ballot{Agent: "voter", Vote: b.Choice, Reasoning: b.Reasoning})
	}
	outcome := state.OutcomeNoQuorum
	switch vr.Outcome {
	case voting.OutcomeConsensus:
		outcome = state.OutcomeConsensus
	case voting.OutcomeSplit:
		outcome = state.OutcomeSplit
	}
	return state.VoteResult{GateName: vr.Gate, Voters: ballots, Outcome: outcome, Chosen: vr.Chosen}
}

// Completion finalizes the run: nothing left to persist beyond the phase
// status itself, which the engine sets after this handler returns.
func Completion(ctx context.Context, rt *Runtime) Result {
	rt.State.AddDiscovery(state.Discovery{
		Text: fmt.Sprintf("run completed: %d components", len(rt.State.Components)),
		Source: "engine", Phase: "completion", Timestamp: time.Now().UTC(),
	})
	return Result{Status: StatusCompleted}
}
