// Package engine drives one run end to end: dispatching phases in config
// order, persisting durable state after every transition a phase or the
// validation loop reports, and resuming a killed run from the exact phase
// and component status recorded on disk.
package engine

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/conduct-run/orchestrator/internal/config"
	"github.com/conduct-run/orchestrator/internal/contextstore"
	"github.com/conduct-run/orchestrator/internal/manifest"
	"github.com/conduct-run/orchestrator/internal/modes"
	"github.com/conduct-run/orchestrator/internal/phases"
	"github.com/conduct-run/orchestrator/internal/state"
)

// ExitCode is the process exit status per the CLI contract: 0 for a clean
// completion, 1 for a failed run, 2 for a run paused awaiting user input.
type ExitCode int

const (
	ExitSuccess    ExitCode = 0
	ExitFailure    ExitCode = 1
	ExitNeedsInput ExitCode = 2
)

// StateStore is the persistence boundary the engine drives; *state.Store
// satisfies it directly.
type StateStore interface {
	Load() (state.State, error)
	Save(state.State) error
}

// Engine coordinates phase dispatch and state persistence.
type Engine struct {
	phases *phases.Registry
	store  StateStore
	clock  func() time.Time
	log    *zap.Logger
}

// Option customizes the engine instance.
type Option func(*Engine)

// WithClock injects a deterministic clock, primarily for tests.
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) {
		if clock != nil {
			e.clock = clock
		}
	}
}

// WithLogger injects a structured logger.
func WithLogger(log *zap.Logger) Option {
	return func(e *Engine) {
		if log != nil {
			e.log = log
		}
	}
}

// New wires an engine to a phase registry and a state store.
func New(registry *phases.Registry, store StateStore, opts ...Option) (*Engine, error) {
	if registry == nil {
		return nil, fmt.Errorf("engine: phase registry is required")
	}
	if store == nil {
		return nil, fmt.Errorf("engine: state store is required")
	}
	e := &Engine{
		phases: registry,
		store:  store,
		clock:  time.Now,
		log:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// RunRequest bundles everything one invocation of the engine needs besides
// the persisted state itself.
type RunRequest struct {
	Manifest       manifest.Manifest
	Config         config.EngineConfig
	Runner         phases.AgentInvoker
	Context        *contextstore.Store
	MaxConcurrency int
}

// Outcome is what a Start or Resume call produced.
type Outcome struct {
	State State
	Exit  ExitCode
}

// State re-exports the persisted run snapshot for callers that only import
// the engine package.
type State = state.State

// Start initializes a fresh run: validates the manifest, writes the initial
// state, and dispatches every configured phase in order.
func (e *Engine) Start(ctx context.Context, req RunRequest) (Outcome, error) {
	if err := req.Manifest.Validate(); err != nil {
		return Outcome{}, fmt.Errorf("engine: %w", err)
	}
	st := state.New(req.Manifest.ComponentIDs(), firstPhase(req.Config))
	st.UpdatedAt = e.clock()
	if err := e.store.Save(st); err != nil {
		return Outcome{}, fmt.Errorf("engine: save initial state: %w", err)
	}
	return e.run(ctx, req, st)
}

// Resume reloads persisted state and continues dispatch from the recorded
// current phase. A phase handler that re-enters a partially complete
// component loop relies on the validation loop's own per-component status,
// not on the phase boundary, to pick up mid-component work.
func (e *Engine) Resume(ctx context.Context, req RunRequest) (Outcome, error) {
	st, err := e.store.Load()
	if err != nil {
		return Outcome{}, fmt.Errorf("engine: load state: %w", err)
	}
	return e.run(ctx, req, st)
}

// View returns the last persisted snapshot without advancing the run.
func (e *Engine) View() (State, error) {
	return e.store.Load()
}

func firstPhase(cfg config.EngineConfig) string {
	if len(cfg.Phases) == 0 {
		return ""
	}
	return cfg.Phases[0]
}

func (e *Engine) run(ctx context.Context, req RunRequest, st state.State) (Outcome, error) {
	profile := modes.For(req.Manifest.Mode)
	persist := func() error {
		st.UpdatedAt = e.clock()
		return e.store.Save(st)
	}
	rt := &phases.Runtime{
		Manifest:  req.Manifest,
		Config:    req.Config,
		Profile:   profile,
		State:     &st,
		Context:   req.Context,
		Runner:    req.Runner,
		Log:       e.log,
		Persist:   persist,
		MaxConcur: req.MaxConcurrency,
	}

	startIdx := indexOf(req.Config.Phases, st.CurrentPhase)
	if startIdx < 0 {
		startIdx = 0
	} else if st.PhaseStatus == state.PhaseComplete {
		// The recorded phase already finished before the last persist;
		// resume picks up at the next one instead of re-running it.
		startIdx++
	}

	for i := startIdx; i < len(req.Config.Phases); i++ {
		name := req.Config.Phases[i]
		handler, ok := e.phases.Get(name)
		if !ok {
			e.log.Warn("engine: no handler registered for phase, skipping", zap.String("phase", name))
			continue
		}

		st.CurrentPhase = name
		st.PhaseStatus = state.PhaseRunning
		if err := persist(); err != nil {
			return Outcome{}, err
		}

		res := handler(ctx, rt)
		switch res.Status {
		case phases.StatusCompleted, phases.StatusNoOp:
			st.PhaseStatus = state.PhaseComplete
			if err := persist(); err != nil {
				return Outcome{}, err
			}
		case phases.StatusNeedsInput:
			st.PhaseStatus = state.PhasePaused
			if err := persist(); err != nil {
				return Outcome{}, err
			}
			return Outcome{State: st, Exit: ExitNeedsInput}, nil
		case phases.StatusFailed:
			st.PhaseStatus = state.PhaseFailed
			if err := persist(); err != nil {
				return Outcome{}, err
			}
			if res.Err != nil {
				e.log.Error("engine: phase failed", zap.String("phase", name), zap.Error(res.Err))
			}
			return Outcome{State: st, Exit: ExitFailure}, nil
		default:
			return Outcome{}, fmt.Errorf("engine: phase %q returned unknown status %q", name, res.Status)
		}
	}

	return Outcome{State: st, Exit: ExitSuccess}, nil
}

func indexOf(names []string, target string) int {
	if target == "" {
		return -1
	}
	for i, n := range names {
		if n == target {
			return i
		}
	}
	return -1
}
