package phases

import (
	"context"
	"sync"
	"testing"

	"github.com/conduct-run/orchestrator/internal/agentrunner"
	"github.com/conduct-run/orchestrator/internal/config"
	"github.com/conduct-run/orchestrator/internal/manifest"
	"github.com/conduct-run/orchestrator/internal/modes"
	"github.com/conduct-run/orchestrator/internal/state"
)

type scriptedRunner struct {
	mu    sync.Mutex
	calls map[string][]agentrunner.AgentResult
	index map[string]int
}

func newScriptedRunner() *scriptedRunner {
	return &scriptedRunner{calls: map[string][]agentrunner.AgentResult{}, index: map[string]int{}}
}

func (s *scriptedRunner) queue(agent string, results ...agentrunner.AgentResult) {
	s.calls[agent] = append(s.calls[agent], results...)
}

func (s *scriptedRunner) Run(ctx context.Context, inv agentrunner.Invocation) agentrunner.AgentResult {
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

func testManifest() manifest.Manifest {
	return manifest.Manifest{
		Name: "demo", WorkDir: "/tmp/demo", RiskLevel: manifest.RiskLow, Mode: manifest.ModeQuick,
		Components: []manifest.ComponentDef{
			{ID: "a", Files: []string{"a.go"}},
			{ID: "b", Files: []string{"b.go"}, DependsOn: []string{"a"}},
		},
	}
}

func newRuntime(t *testing.T, m manifest.Manifest, profile modes.Profile, runner *scriptedRunner) *Runtime {
	t.Helper()
	st := state.New(m.ComponentIDs(), "component_loop")
	return &Runtime{
		Manifest:  m,
		Config:    config.Default(),
		Profile:   profile,
		State:     &st,
		Runner:    runner,
		MaxConcur: 2,
		Persist:   func() error { return nil },
	}
}

func TestParseSpecAcceptsValidManifest(t *testing.T) {
	rt := newRuntime(t, testManifest(), modes.For(manifest.ModeQuick), newScriptedRunner())
	res := ParseSpec(context.Background(), rt)
	if res.Status != StatusCompleted {
		t.Fatalf("expected completed, got %+v", res)
	}
}

func TestParseSpecRejectsCycles(t *testing.T) {
	m := testManifest()
	m.Components[0].DependsOn = []string{"b"}
	rt := newRuntime(t, m, modes.For(manifest.ModeQuick), newScriptedRunner())
	res := ParseSpec(context.Background(), rt)
	if res.Status != StatusFailed {
		t.Fatalf("expected failed on cyclic manifest, got %+v", res)
	}
}

func TestImpactAnalysisNoOpForLowRisk(t *testing.T) {
	rt := newRuntime(t, testManifest(), modes.For(manifest.ModeQuick), newScriptedRunner())
	res := ImpactAnalysis(context.Background(), rt)
	if res.Status != StatusNoOp {
		t.Fatalf("expected no-op for low risk, got %+v", res)
	}
}

func TestImpactAnalysisRunsForCriticalRisk(t *testing.T) {
	m := testManifest()
	m.RiskLevel = manifest.RiskCritical
	runner := newScriptedRunner()
	runner.queue("investigator", agentrunner.AgentResult{Success: true, Data: map[string]any{"summary": "touches auth"}})
	rt := newRuntime(t, m, modes.For(manifest.ModeFull), runner)
	res := ImpactAnalysis(context.Background(), rt)
	if res.Status != StatusCompleted {
		t.Fatalf("expected completed, got %+v", res)
	}
	if len(rt.State.Discoveries) != 1 || rt.State.Discoveries[0].Text != "touches auth" {
		t.Fatalf("expected discovery recorded, got %+v", rt.State.Discoveries)
	}
}

func TestComponentLoopCompletesAllComponents(t *testing.T) {
	runner := newScriptedRunner()
	complete := agentrunner.AgentResult{Success: true, Data: map[string]any{"status": "COMPLETE", "summary": "ok"}}
	runner.queue("skeleton-builder", complete, complete)
	runner.queue("implementation-executor", complete, complete)
	runner.queue("validator", complete, complete)

	rt := newRuntime(t, testManifest(), modes.For(manifest.ModeQuick), runner)
	res := ComponentLoop(context.Background(), rt)
	if res.Status != StatusCompleted {
		t.Fatalf("expected completed, got %+v", res)
	}
	for _, id := range []string{"a", "b"} {
		if rt.State.Components[id].Status != state.ComponentComplete {
			t.Fatalf("expected component %q complete, got %+v", id, rt.State.Components[id])
		}
	}
}

func TestComponentLoopSequentialUnderFullMode(t *testing.T) {
	runner := newScriptedRunner()
	complete := agentrunner.AgentResult{Success: true, Data: map[string]any{"status": "COMPLETE", "summary": "ok"}}
	runner.queue("skeleton-builder", complete, complete)
	runner.queue("implementation-executor", complete, complete)
	runner.queue("validator", complete, complete, complete, complete, complete, complete)
	// Full mode runs a skeleton gate vote (3 voters) for each of the two
	// components.
	proceed := agentrunner.AgentResult{Success: true, Data: map[string]any{"choice": "proceed"}}
	runner.queue("voter", proceed, proceed, proceed, proceed, proceed, proceed)

	rt := newRuntime(t, testManifest(), modes.For(manifest.ModeFull), runner)
	res := ComponentLoop(context.Background(), rt)
	if res.Status != StatusCompleted {
		t.Fatalf("expected completed under full mode, got %+v", res)
	}
}

func independentManifest() manifest.Manifest {
	return manifest.Manifest{
		Name: "demo", WorkDir: "/tmp/demo", RiskLevel: manifest.RiskLow, Mode: manifest.ModeQuick,
		Components: []manifest.ComponentDef{
			{ID: "a", Files: []string{"a.go"}},
			{ID: "b", Files: []string{"b.go"}},
			{ID: "c", Files: []string{"c.go"}},
			{ID: "d", Files: []string{"d.go"}},
		},
	}
}

// TestComponentLoopFansOutIndependentComponentsSafely runs four
// no-dependency components under aggressive parallelism, where they all
// land in the same dependency level and are fanned out across goroutines.
// Every component completes and the shared state ends up consistent,
// exercising the locked persist path rather than a single shared *Loop.
func TestComponentLoopFansOutIndependentComponentsSafely(t *testing.T) {
	runner := newScriptedRunner()
	complete := agentrunner.AgentResult{Success: true, Data: map[string]any{"status": "COMPLETE", "summary": "ok"}}
	runner.queue("skeleton-builder", complete, complete, complete, complete)
	runner.queue("implementation-executor", complete, complete, complete, complete)
	runner.queue("validator", complete, complete, complete, complete)

	rt := newRuntime(t, independentManifest(), modes.For(manifest.ModeQuick), runner)
	res := ComponentLoop(context.Background(), rt)
	if res.Status != StatusCompleted {
		t.Fatalf("expected completed, got %+v", res)
	}
	if len(rt.State.Components) != 4 {
		t.Fatalf("expected 4 components recorded, got %d", len(rt.State.Components))
	}
	for _, id := range []string{"a", "b", "c", "d"} {
		if rt.State.Components[id].Status != state.ComponentComplete {
			t.Fatalf("expected component %q complete, got %+v", id, rt.State.Components[id])
		}
	}
}

// TestComponentLoopPersistsFixAttemptHistory proves a fix attempt's issue
// set reaches State.FixAttempts (previously dead: RecordFixAttempt had no
// caller and history lived only in a local variable inside validation.Loop).
func TestComponentLoopPersistsFixAttemptHistory(t *testing.T) {
	runner := newScriptedRunner()
	complete := agentrunner.AgentResult{Success: true, Data: map[string]any{"status": "COMPLETE", "summary": "ok"}}
	issue := map[string]any{"category": "style", "file": "a.go", "description": "missing doc comment", "severity": "low"}
	runner.queue("skeleton-builder", complete)
	runner.queue("implementation-executor", complete)
	runner.queue("validator",
		agentrunner.AgentResult{Success: true, Data: map[string]any{"status": "COMPLETE", "issues": []any{issue}}},
		agentrunner.AgentResult{Success: true, Data: map[string]any{"status": "COMPLETE", "issues": []any{}}},
	)
	runner.queue("fix-executor", complete)

	m := manifest.Manifest{
		Name: "demo", WorkDir: "/tmp/demo", RiskLevel: manifest.RiskLow, Mode: manifest.ModeQuick,
		Components: []manifest.ComponentDef{{ID: "a", Files: []string{"a.go"}}},
	}
	rt := newRuntime(t, m, modes.For(manifest.ModeQuick), runner)
	res := ComponentLoop(context.Background(), rt)
	if res.Status != StatusCompleted {
		t.Fatalf("expected completed, got %+v", res)
	}
	if rt.State.Components["a"].Status != state.ComponentComplete {
		t.Fatalf("expected component a complete, got %+v", rt.State.Components["a"])
	}
	history := rt.State.FixAttempts["a"]
	if len(history) != 1 || len(history[0]) != 1 || history[0][0].Description != "missing doc comment" {
		t.Fatalf("expected one persisted fix-attempt issue set, got %+v", history)
	}
}

func TestIntegrationValidationNoOpWithoutCommand(t *testing.T) {
	rt := newRuntime(t, testManifest(), modes.For(manifest.ModeQuick), newScriptedRunner())
	res := IntegrationValidation(context.Background(), rt)
	if res.Status != StatusNoOp {
		t.Fatalf("expected no-op, got %+v", res)
	}
}

func TestIntegrationValidationRunsDeclaredCommand(t *testing.T) {
	m := testManifest()
	m.ValidationCommand = "make test"
	runner := newScriptedRunner()
	runner.queue("test-runner", agentrunner.AgentResult{Success: true, Data: map[string]any{"status": "COMPLETE"}})
	rt := newRuntime(t, m, modes.For(manifest.ModeQuick), runner)
	res := IntegrationValidation(context.Background(), rt)
	if res.Status != StatusCompleted {
		t.Fatalf("expected completed, got %+v", res)
	}
}

func TestFinalValidationSkipsFixWhenNoActionableIssues(t *testing.T) {
	runner := newScriptedRunner()
	runner.queue("validator",
		agentrunner.AgentResult{Success: true, Data: map[string]any{"status": "COMPLETE", "issues": []any{}}},
	)
	rt := newRuntime(t, testManifest(), modes.For(manifest.ModeQuick), runner)
	res := FinalValidation(context.Background(), rt)
	if res.Status != StatusCompleted {
		t.Fatalf("expected completed, got %+v", res)
	}
}

func TestFinalValidationAppliesFixForCoveredSeverity(t *testing.T) {
	runner := newScriptedRunner()
	issue := map[string]any{"category": "security", "file": "a.go", "description": "sql injection", "severity": "critical"}
	runner.queue("validator", agentrunner.AgentResult{Success: true, Data: map[string]any{"status": "COMPLETE", "issues": []any{issue}}})
	runner.queue("fix-executor", agentrunner.AgentResult{Success: true, Data: map[string]any{"status": "COMPLETE"}})

	rt := newRuntime(t, testManifest(), modes.For(manifest.ModeStandard), runner)
	res := FinalValidation(context.Background(), rt)
	if res.Status != StatusCompleted {
		t.Fatalf("expected completed after fix, got %+v", res)
	}
}

func TestProductionGateNoOpOutsideHighRisk(t *testing.T) {
	rt := newRuntime(t, testManifest(), modes.For(manifest.ModeStandard), newScriptedRunner())
	res := ProductionGate(context.Background(), rt)
	if res.Status != StatusNoOp {
		t.Fatalf("expected no-op for low risk, got %+v", res)
	}
}

func TestProductionGateNeedsInputWithoutConsensus(t *testing.T) {
	m := testManifest()
	m.RiskLevel = manifest.RiskHigh
	runner := newScriptedRunner()
	runner.queue("voter",
		agentrunner.AgentResult{Success: true, Data: map[string]any{"choice": "ready"}},
		agentrunner.AgentResult{Success: true, Data: map[string]any{"choice": "needs_work"}},
		agentrunner.AgentResult{Success: true, Data: map[string]any{"choice": "risky"}},
	)
	rt := newRuntime(t, m, modes.For(manifest.ModeStandard), runner)
	res := ProductionGate(context.Background(), rt)
	if res.Status != StatusNeedsInput {
		t.Fatalf("expected needs-input on split vote, got %+v", res)
	}
}

func TestCompletionRecordsSummaryDiscovery(t *testing.T) {
	rt := newRuntime(t, testManifest(), modes.For(manifest.ModeQuick), newScriptedRunner())
	res := Completion(context.Background(), rt)
	if res.Status != StatusCompleted {
		t.Fatalf("expected completed, got %+v", res)
	}
	if len(rt.State.Discoveries) != 1 {
		t.Fatalf("expected one discovery recorded, got %d", len(rt.State.Discoveries))
	}
}
