package validation

import (
	"context"
	"sync"
	"testing"

	"github.com/conduct-run/orchestrator/internal/agentrunner"
	"github.com/conduct-run/orchestrator/internal/manifest"
	"github.com/conduct-run/orchestrator/internal/state"
)

// scriptedInvoker returns a queued result for each agent name, in call order
// per agent, safe for concurrent validator fan-out.
type scriptedInvoker struct {
	mu    sync.Mutex
	calls map[string][]agentrunner.AgentResult
	index map[string]int
}

func newScriptedInvoker() *scriptedInvoker {
	return &scriptedInvoker{calls: map[string][]agentrunner.AgentResult{}, index: map[string]int{}}
}

func (s *scriptedInvoker) queue(agent string, results ...agentrunner.AgentResult) {
	s.calls[agent] = append(s.calls[agent], results...)
}

func (s *scriptedInvoker) Run(ctx context.Context, inv agentrunner.Invocation) agentrunner.AgentResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.index[inv.AgentName]
	s.index[inv.AgentName] = i + 1
	queued := s.calls[inv.AgentName]
	if i < len(queued) {
		return queued[i]
	}
	return agentrunner.AgentResult{Success: true, Data: map[string]any{"status": "COMPLETE", "summary": "ok"}}
}

func complete() agentrunner.AgentResult {
	return agentrunner.AgentResult{Success: true, Data: map[string]any{"status": "COMPLETE", "summary": "ok"}}
}

func validatorResult(issues ...map[string]any) agentrunner.AgentResult {
	raw := make([]any, len(issues))
	for i, issue := range issues {
		raw[i] = issue
	}
	return agentrunner.AgentResult{Success: true, Data: map[string]any{
		"status": "COMPLETE", "summary": "reviewed", "issues": raw,
	}}
}

func oneComponent() manifest.ComponentDef {
	return manifest.ComponentDef{ID: "net", Files: []string{"src/net.go"}}
}

func TestLoopHappyPath(t *testing.T) {
	inv := newScriptedInvoker()
	inv.queue(AgentSkeletonBuilder, complete())
	inv.queue(AgentImplementationExecutor, complete())
	inv.queue(AgentValidator, validatorResult())
	loop := &Loop{Runner: inv}
	params := Params{ReviewerCount: 1, MaxFixAttempts: 3, SameIssueThreshold: 2}
	out, err := loop.Run(context.Background(), oneComponent(), manifest.RiskLow, params, state.ComponentState{ID: "net", Status: state.ComponentPending}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Component.Status != state.ComponentComplete {
		t.Fatalf("expected complete, got %+v", out.Component)
	}
}

func TestLoopFixConverges(t *testing.T) {
	inv := newScriptedInvoker()
	inv.queue(AgentSkeletonBuilder, complete())
	inv.queue(AgentImplementationExecutor, complete())
	inv.queue(AgentValidator,
		validatorResult(map[string]any{"category": "style", "file": "src/net.go", "description": "line too long at line 10"}),
		validatorResult(),
	)
	inv.queue(AgentFixExecutor, complete())
	loop := &Loop{Runner: inv}
	params := Params{ReviewerCount: 1, MaxFixAttempts: 3, SameIssueThreshold: 2}
	out, err := loop.Run(context.Background(), oneComponent(), manifest.RiskLow, params, state.ComponentState{ID: "net", Status: state.ComponentPending}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Component.Status != state.ComponentComplete {
		t.Fatalf("expected eventual complete, got %+v", out.Component)
	}
	if out.Component.FixAttempts != 1 {
		t.Fatalf("expected 1 fix attempt, got %d", out.Component.FixAttempts)
	}
}

func TestLoopSameIssueTriggersStrategyVote(t *testing.T) {
	recurringIssue := map[string]any{"category": "logic", "file": "src/net.go", "description": "race condition at line 5"}
	recurringIssueLaterLine := map[string]any{"category": "logic", "file": "src/net.go", "description": "race condition at line 42"}

	inv := newScriptedInvoker()
	inv.queue(AgentSkeletonBuilder, complete())
	inv.queue(AgentImplementationExecutor, complete())
	inv.queue(AgentValidator,
		validatorResult(recurringIssue),
		validatorResult(recurringIssueLaterLine),
	)
	inv.queue(AgentFixExecutor, complete())
	inv.queue(AgentVoter,
		agentrunner.AgentResult{Success: true, Data: map[string]any{"choice": "try_different_approach"}},
		agentrunner.AgentResult{Success: true, Data: map[string]any{"choice": "try_different_approach"}},
		agentrunner.AgentResult{Success: true, Data: map[string]any{"choice": "retry_same_fix"}},
	)

	loop := &Loop{Runner: inv}
	params := Params{ReviewerCount: 1, MaxFixAttempts: 5, SameIssueThreshold: 2}
	out, err := loop.Run(context.Background(), oneComponent(), manifest.RiskLow, params, state.ComponentState{ID: "net", Status: state.ComponentPending}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Vote == nil || out.Vote.Outcome != state.OutcomeConsensus || out.Vote.Chosen != "try_different_approach" {
		t.Fatalf("expected consensus vote for try_different_approach, got %+v", out.Vote)
	}
}

func TestLoopNoConsensusEscalates(t *testing.T) {
	issue := map[string]any{"category": "logic", "file": "src/net.go", "description": "bug"}
	inv := newScriptedInvoker()
	inv.queue(AgentSkeletonBuilder, complete())
	inv.queue(AgentImplementationExecutor, complete())
	inv.queue(AgentValidator, validatorResult(issue), validatorResult(issue), validatorResult(issue), validatorResult(issue))
	inv.queue(AgentFixExecutor, complete(), complete(), complete())
	inv.queue(AgentVoter,
		agentrunner.AgentResult{Success: true, Data: map[string]any{"choice": "retry_same_fix"}},
		agentrunner.AgentResult{Success: true, Data: map[string]any{"choice": "try_different_approach"}},
		agentrunner.AgentResult{Success: true, Data: map[string]any{"choice": "escalate_to_user"}},
	)
	loop := &Loop{Runner: inv}
	params := Params{ReviewerCount: 1, MaxFixAttempts: 3, SameIssueThreshold: 100}
	out, err := loop.Run(context.Background(), oneComponent(), manifest.RiskLow, params, state.ComponentState{ID: "net", Status: state.ComponentPending}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !out.Escalate || out.Component.Status != state.ComponentFailed {
		t.Fatalf("expected escalation on no-consensus vote, got %+v", out)
	}
}
