// Package voting implements the voting-gate primitive: fan out N identical
// invocations to independent voter agents, tally their choices, and decide
// consensus, split, or no_quorum without acting on the result itself.
package voting

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/conduct-run/orchestrator/internal/agentrunner"
)

// Outcome is the gate's verdict.
type Outcome string

const (
	OutcomeConsensus Outcome = "consensus"
	OutcomeSplit     Outcome = "split"
	OutcomeNoQuorum  Outcome = "no_quorum"
)

// Ballot is one voter's parsed response.
type Ballot struct {
	Voter      int
	Choice     string
	Reasoning  string
	Confidence int
	Err        *agentrunner.AgentError
}

// GateConfig describes one voting gate: its voter agent, how many voters to
// spawn, and the option set they may choose from. It carries no trigger
// predicate; whether the gate runs at all is decided by the caller.
type GateConfig struct {
	Name       string
	VoterAgent string
	Voters     int
	Options    []string
}

// Context is the situation handed to every voter; identical for all of them.
type Context struct {
	Description string
	Fields      map[string]string
}

// Result is the gate's tally.
type Result struct {
	Gate    string
	Outcome Outcome
	Chosen  string
	Tally   map[string]int
	Ballots []Ballot
}

// Invoker is the subset of agentrunner.Runner the gate needs, narrowed for
// test substitution.
type Invoker interface {
	Run(ctx context.Context, inv agentrunner.Invocation) agentrunner.AgentResult
}

// RunVote spawns cfg.Voters parallel, independent calls to cfg.VoterAgent,
// each receiving identical input, and tallies the results. Concurrency is
// bounded by maxConcurrency (0 means unbounded, limited only by cfg.Voters).
func RunVote(ctx context.Context, runner Invoker, cfg GateConfig, situation Context, maxConcurrency int) (Result, error) {
	if cfg.Voters < 1 || cfg.Voters%2 == 0 {
		return Result{}, fmt.Errorf("voting: voter count must be odd and >= 1, got %d", cfg.Voters)
	}
	if len(cfg.Options) == 0 {
		return Result{}, fmt.Errorf("voting: gate %q declares no options", cfg.Name)
	}

	ballots := make([]Ballot, cfg.Voters)
	group, gctx := errgroup.WithContext(ctx)
	if maxConcurrency > 0 {
		group.SetLimit(maxConcurrency)
	}

	for i := 0; i < cfg.Voters; i++ {
		i := i
		group.Go(func() error {
			res := runner.Run(gctx, agentrunner.Invocation{
				AgentName:      cfg.VoterAgent,
				Prompt:         votePrompt(cfg, situation),
				RuntimeContext: situation.Fields,
			})
			ballots[i] = parseBallot(i, cfg, res)
			return nil
		})
	}
	// Errors from individual votes are recorded as ballots, not propagated;
	// RunVote's Go funcs always return nil, so group.Wait never reports one.
	_ = group.Wait()

	return tally(cfg, ballots), nil
}

func votePrompt(cfg GateConfig, situation Context) string {
	return fmt.Sprintf(
		"Vote on the following situation. Choose exactly one of: %v.\n\n%s",
		cfg.Options, situation.Description,
	)
}

func parseBallot(voter int, cfg GateConfig, res agentrunner.AgentResult) Ballot {
	if !res.Success {
		return Ballot{Voter: voter, Err: res.Error}
	}
	choice, _ := res.Data["choice"].(string)
	reasoning, _ := res.Data["reasoning"].(string)
	confidence := 0
	if v, ok := res.Data["confidence"].(float64); ok {
		confidence = int(v)
	}
	if !validChoice(cfg.Options, choice) {
		return Ballot{Voter: voter, Err: &agentrunner.AgentError{
			Kind:  agentrunner.KindSchemaViolation,
			Agent: cfg.VoterAgent,
			Err:   fmt.Errorf("voting: choice %q is not one of %v", choice, cfg.Options),
		}}
	}
	return Ballot{Voter: voter, Choice: choice, Reasoning: reasoning, Confidence: confidence}
}

func validChoice(options []string, choice string) bool {
	for _, o := range options {
		if o == choice {
			return true
		}
	}
	return false
}

// tally groups successful ballots by choice and applies the quorum rules:
// threshold is floor(N/2)+1 (2 of 3, 3 of 5); consensus if any choice meets threshold; else
// split if at least ceil(N/2) ballots were parseable; else no_quorum.
func tally(cfg GateConfig, ballots []Ballot) Result {
	n := cfg.Voters
	counts := map[string]int{}
	parseable := 0
	for _, b := range ballots {
		if b.Err == nil {
			counts[b.Choice]++
			parseable++
		}
	}
	threshold := n/2 + 1
	quorum := (n + 1) / 2 // ceil(N/2)

	result := Result{Gate: cfg.Name, Tally: counts, Ballots: ballots}

	if parseable < quorum {
		result.Outcome = OutcomeNoQuorum
		return result
	}
	for choice, count := range counts {
		if count >= threshold {
			result.Outcome = OutcomeConsensus
			result.Chosen = choice
			return result
		}
	}
	result.Outcome = OutcomeSplit
	return result
}
