package validation

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/conduct-run/orchestrator/internal/agentrunner"
	"github.com/conduct-run/orchestrator/internal/manifest"
	"github.com/conduct-run/orchestrator/internal/state"
	"github.com/conduct-run/orchestrator/internal/voting"
)

// AgentInvoker is the subset of agentrunner.Runner the validation loop calls
// against; narrowed to an interface so tests can substitute stubs.
type AgentInvoker interface {
	Run(ctx context.Context, inv agentrunner.Invocation) agentrunner.AgentResult
}

// Params configures one component's pass through the loop, derived by the
// execution-mode profile from the manifest's risk level.
type Params struct {
	ReviewerCount      int
	MaxFixAttempts     int
	SameIssueThreshold int
	SkeletonReviewers  int
	SkeletonGateVote   bool
	MaxConcurrency     int
}

// StrategyVoteOptions are the fixed options for the fix-strategy vote.
var StrategyVoteOptions = []string{"retry_same_fix", "try_different_approach", "escalate_to_user"}

// SkeletonGateOptions are the fixed options for the optional skeleton gate.
var SkeletonGateOptions = []string{"proceed", "revise_skeleton", "revise_spec"}

const (
	AgentSkeletonBuilder        = "skeleton-builder"
	AgentImplementationExecutor = "implementation-executor"
	AgentValidator              = "validator"
	AgentFixExecutor            = "fix-executor"
	AgentVoter                  = "voter"
)

// Loop drives one component through skeleton -> implement -> validate ->
// fix, including the same-issue-triggered strategy vote.
type Loop struct {
	Runner AgentInvoker
	// OnTransition, if set, is invoked with the component's state and its
	// current fix-attempt history immediately after each status change and
	// before the next step acts on it, so the caller can persist every
	// durable transition (phase boundaries, component status changes, each
	// fix attempt) rather than only the final outcome - this is what lets
	// resume restart from the component's exact in-flight status, streak
	// history included, instead of from scratch.
	OnTransition func(state.ComponentState, [][]Issue)
}

// Outcome is what Run decided for this call: either the component reached a
// terminal state (complete/failed) or it is paused awaiting user input after
// a no-consensus strategy vote. History is the fix-attempt issue-set history
// as it stood when Run returned, for the caller to persist.
type Outcome struct {
	Component state.ComponentState
	Vote      *state.VoteResult
	History   [][]Issue
	Escalate  bool
}

func finish(cs state.ComponentState, vote *state.VoteResult, history [][]Issue, escalate bool) Outcome {
	return Outcome{Component: cs, Vote: vote, History: history, Escalate: escalate}
}

// Run advances comp from its current recorded status through to completion,
// failure, or an escalation pause. It mutates nothing outside the returned
// ComponentState - callers persist it via the state store.
func (l *Loop) Run(ctx context.Context, comp manifest.ComponentDef, risk manifest.RiskLevel, params Params, cs state.ComponentState, history [][]Issue) (Outcome, error) {
	var lastVote *state.VoteResult
	for {
		if l.OnTransition != nil {
			l.OnTransition(cs, history)
		}
		switch cs.Status {
		case state.ComponentPending:
			res := l.Runner.Run(ctx, agentrunner.Invocation{
				AgentName:   AgentSkeletonBuilder,
				Prompt:      fmt.Sprintf("Build a skeleton for component %q covering files: %v", comp.ID, comp.Files),
				ComponentID: comp.ID,
			})
			if !res.Success {
				cs.Status = state.ComponentFailed
				cs.Blockers = append(cs.Blockers, res.Error.Error())
				return finish(cs, lastVote, history, false), nil
			}
			cs.Status = state.ComponentSkeletonizing

		case state.ComponentSkeletonizing:
			if params.SkeletonReviewers > 0 {
				if err := l.runSkeletonReview(ctx, comp, params); err != nil {
					cs.Status = state.ComponentFailed
					cs.Blockers = append(cs.Blockers, err.Error())
					return finish(cs, lastVote, history, false), nil
				}
			}
			if params.SkeletonGateVote {
				vr, err := voting.RunVote(ctx, l.Runner, voting.GateConfig{
					Name:       "skeleton_gate",
					VoterAgent: AgentVoter,
					Voters:     3,
					Options:    SkeletonGateOptions,
				}, voting.Context{Description: fmt.Sprintf("Should component %q proceed past skeleton review?", comp.ID)}, params.MaxConcurrency)
				if err != nil {
					return Outcome{}, err
				}
				recorded := toStateVote("skeleton_gate", vr)
				lastVote = &recorded
				if vr.Outcome != voting.OutcomeConsensus || vr.Chosen == "revise_spec" {
					cs.Status = state.ComponentFailed
					return finish(cs, lastVote, history, true), nil
				}
				if vr.Chosen == "revise_skeleton" {
					cs.Status = state.ComponentPending
					continue
				}
			}
			cs.Status = state.ComponentImplementing

		case state.ComponentImplementing:
			res := l.Runner.Run(ctx, agentrunner.Invocation{
				AgentName:   AgentImplementationExecutor,
				Prompt:      fmt.Sprintf("Implement component %q per its skeleton.", comp.ID),
				ComponentID: comp.ID,
			})
			if !res.Success {
				cs.Status = state.ComponentFailed
				cs.Blockers = append(cs.Blockers, res.Error.Error())
				return finish(cs, lastVote, history, false), nil
			}
			cs.Status = state.ComponentValidating

		case state.ComponentValidating:
			issues, err := l.runValidators(ctx, comp, params)
			if err != nil {
				cs.Status = state.ComponentFailed
				cs.Blockers = append(cs.Blockers, err.Error())
				return finish(cs, lastVote, history, false), nil
			}
			cs.LastIssues = issues

			if len(issues) == 0 {
				cs.Status = state.ComponentComplete
				return finish(cs, lastVote, history, false), nil
			}

			triggerVote := cs.FixAttempts >= params.MaxFixAttempts
			if !triggerVote {
				if _, survived := SurvivesStreak(history, issues, params.SameIssueThreshold); survived {
					triggerVote = true
				}
			}
			if !triggerVote {
				cs.Status = state.ComponentFixing
				continue
			}

			vr, err := voting.RunVote(ctx, l.Runner, voting.GateConfig{
				Name:       "fix_strategy",
				VoterAgent: AgentVoter,
				Voters:     3,
				Options:    StrategyVoteOptions,
			}, voting.Context{Description: fmt.Sprintf("Component %q has not converged after %d fix attempts. Issues: %v", comp.ID, cs.FixAttempts, issues)}, params.MaxConcurrency)
			if err != nil {
				return Outcome{}, err
			}
			recorded := toStateVote("fix_strategy", vr)
			lastVote = &recorded
			if vr.Outcome != voting.OutcomeConsensus {
				cs.Status = state.ComponentFailed
				return finish(cs, lastVote, history, true), nil
			}
			switch vr.Chosen {
			case "retry_same_fix":
				history = nil
				cs.Status = state.ComponentFixing
			case "try_different_approach":
				cs.Status = state.ComponentFixing
				res := l.Runner.Run(ctx, agentrunner.Invocation{
					AgentName:      AgentFixExecutor,
					Prompt:         fmt.Sprintf("Fix component %q. Pursue a different approach than before.", comp.ID),
					RuntimeContext: map[string]string{"alt_approach": "true"},
					ComponentID:    comp.ID,
				})
				if !res.Success {
					cs.Status = state.ComponentFailed
					cs.Blockers = append(cs.Blockers, res.Error.Error())
					return finish(cs, lastVote, history, false), nil
				}
				history = nil
				cs.FixAttempts++
				cs.Status = state.ComponentValidating
				continue
			case "escalate_to_user":
				cs.Status = state.ComponentFailed
				return finish(cs, lastVote, history, true), nil
			}

		case state.ComponentFixing:
			res := l.Runner.Run(ctx, agentrunner.Invocation{
				AgentName:   AgentFixExecutor,
				Prompt:      fmt.Sprintf("Fix the following issues in component %q: %v", comp.ID, cs.LastIssues),
				ComponentID: comp.ID,
			})
			if !res.Success {
				cs.Status = state.ComponentFailed
				cs.Blockers = append(cs.Blockers, res.Error.Error())
				return finish(cs, lastVote, history, false), nil
			}
			history = append(history, cs.LastIssues)
			cs.FixAttempts++
			cs.Status = state.ComponentValidating

		case state.ComponentComplete, state.ComponentFailed:
			return finish(cs, lastVote, history, false), nil

		default:
			return Outcome{}, fmt.Errorf("validation: component %q has unknown status %q", comp.ID, cs.Status)
		}
	}
}

func (l *Loop) runSkeletonReview(ctx context.Context, comp manifest.ComponentDef, params Params) error {
	group, gctx := errgroup.WithContext(ctx)
	if params.MaxConcurrency > 0 {
		group.SetLimit(params.MaxConcurrency)
	}
	for i := 0; i < params.SkeletonReviewers; i++ {
		group.Go(func() error {
			res := l.Runner.Run(gctx, agentrunner.Invocation{
				AgentName:   AgentValidator,
				Prompt:      fmt.Sprintf("Review the skeleton for component %q.", comp.ID),
				ComponentID: comp.ID,
			})
			if !res.Success {
				return res.Error
			}
			return nil
		})
	}
	return group.Wait()
}

// runValidators fans out M parallel validators and merges their issue lists.
func (l *Loop) runValidators(ctx context.Context, comp manifest.ComponentDef, params Params) ([]Issue, error) {
	results := make([][]Issue, params.ReviewerCount)
	group, gctx := errgroup.WithContext(ctx)
	if params.MaxConcurrency > 0 {
		group.SetLimit(params.MaxConcurrency)
	}
	for i := 0; i < params.ReviewerCount; i++ {
		i := i
		group.Go(func() error {
			res := l.Runner.Run(gctx, agentrunner.Invocation{
				AgentName:   AgentValidator,
				Prompt:      fmt.Sprintf("Validate the implementation of component %q against files: %v", comp.ID, comp.Files),
				ComponentID: comp.ID,
			})
			if !res.Success {
				return res.Error
			}
			results[i] = ParseIssues(res.Data)
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	return Dedup(results...), nil
}

func toStateVote(gate string, vr voting.Result) state.VoteResult {
	ballots := make([]state.Ballot, 0, len(vr.Ballots))
	for _, b := range vr.Ballots {
		if b.Err != nil {
			continue
		}
		ballots = append(ballots, state.Ballot{Agent: AgentVoter, Vote: b.Choice, Reasoning: b.Reasoning})
	}
	outcome := state.OutcomeNoQuorum
	switch vr.Outcome {
	case voting.OutcomeConsensus:
		outcome = state.OutcomeConsensus
	case voting.OutcomeSplit:
		outcome = state.OutcomeSplit
	}
	return state.VoteResult{GateName: gate, Voters: ballots, Outcome: outcome, Chosen: vr.Chosen}
}
