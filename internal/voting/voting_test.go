package voting

import (
	"context"
	"testing"

	"github.com/conduct-run/orchestrator/internal/agentrunner"
)

type scriptedRunner struct {
	results []agentrunner.AgentResult
	calls   int
}

func (s *scriptedRunner) Run(ctx context.Context, inv agentrunner.Invocation) agentrunner.AgentResult {
	i := s.calls
	s.calls++
	if i < len(s.results) {
		return s.results[i]
	}
	return agentrunner.AgentResult{Success: false, Error: &agentrunner.AgentError{Kind: agentrunner.KindTimeout}}
}

func vote(choice string) agentrunner.AgentResult {
	return agentrunner.AgentResult{Success: true, Data: map[string]any{"choice": choice, "confidence": float64(4)}}
}

func malformed() agentrunner.AgentResult {
	return agentrunner.AgentResult{Success: false, Error: &agentrunner.AgentError{Kind: agentrunner.KindMalformedOutput}}
}

var cfg3 = GateConfig{Name: "strategy", VoterAgent: "voter", Voters: 3, Options: []string{"retry_same_fix", "try_different_approach", "escalate_to_user"}}

func TestConsensusWithThreeVoters(t *testing.T) {
	runner := &scriptedRunner{results: []agentrunner.AgentResult{
		vote("try_different_approach"), vote("try_different_approach"), vote("retry_same_fix"),
	}}
	res, err := RunVote(context.Background(), runner, cfg3, Context{Description: "issue recurred"}, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Outcome != OutcomeConsensus || res.Chosen != "try_different_approach" {
		t.Fatalf("expected consensus on try_different_approach, got %+v", res)
	}
}

func TestSplitWithThreeVoters(t *testing.T) {
	runner := &scriptedRunner{results: []agentrunner.AgentResult{
		vote("retry_same_fix"), vote("try_different_approach"), vote("escalate_to_user"),
	}}
	res, err := RunVote(context.Background(), runner, cfg3, Context{Description: "x"}, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Outcome != OutcomeSplit {
		t.Fatalf("expected split, got %+v", res)
	}
}

func TestNoQuorumWithTwoMalformed(t *testing.T) {
	runner := &scriptedRunner{results: []agentrunner.AgentResult{
		malformed(), malformed(), vote("retry_same_fix"),
	}}
	res, err := RunVote(context.Background(), runner, cfg3, Context{Description: "x"}, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Outcome != OutcomeNoQuorum {
		t.Fatalf("expected no_quorum, got %+v", res)
	}
}

func TestConsensusWithFiveVoters(t *testing.T) {
	cfg := GateConfig{Name: "production_gate", VoterAgent: "voter", Voters: 5, Options: []string{"ready", "needs_work", "risky"}}
	runner := &scriptedRunner{results: []agentrunner.AgentResult{
		vote("ready"), vote("ready"), vote("ready"), vote("needs_work"), vote("risky"),
	}}
	res, err := RunVote(context.Background(), runner, cfg, Context{Description: "x"}, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Outcome != OutcomeConsensus || res.Chosen != "ready" {
		t.Fatalf("expected consensus on ready, got %+v", res)
	}
}

func TestAllTalliesForThreeVoters(t *testing.T) {
	options := []string{"a", "b", "c"}
	cfg := GateConfig{Name: "g", VoterAgent: "voter", Voters: 3, Options: options}
	for a := 0; a <= 3; a++ {
		for b := 0; a+b <= 3; b++ {
			c := 3 - a - b
			var results []agentrunner.AgentResult
			for i := 0; i < a; i++ {
				results = append(results, vote("a"))
			}
			for i := 0; i < b; i++ {
				results = append(results, vote("b"))
			}
			for i := 0; i < c; i++ {
				results = append(results, vote("c"))
			}
			runner := &scriptedRunner{results: results}
			res, err := RunVote(context.Background(), runner, cfg, Context{Description: "x"}, 0)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			maxCount := a
			if b > maxCount {
				maxCount = b
			}
			if c > maxCount {
				maxCount = c
			}
			if maxCount >= 2 {
				if res.Outcome != OutcomeConsensus {
					t.Fatalf("a=%d b=%d c=%d: expected consensus, got %+v", a, b, c, res)
				}
			} else {
				if res.Outcome != OutcomeSplit {
					t.Fatalf("a=%d b=%d c=%d: expected split, got %+v", a, b, c, res)
				}
			}
		}
	}
}

func TestRejectsEvenVoterCount(t *testing.T) {
	cfg := GateConfig{Name: "g", VoterAgent: "voter", Voters: 4, Options: []string{"a", "b"}}
	if _, err := RunVote(context.Background(), &scriptedRunner{}, cfg, Context{}, 0); err == nil {
		t.Fatalf("expected error for even voter count")
	}
}
