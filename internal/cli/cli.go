// Package cli wires the conduct command-line surface: run, resume, status,
// validate, new, and list. Each command resolves a spec directory, loads the
// manifest and config from it, and drives the engine exactly as a caller
// embedding the package would.
package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/conduct-run/orchestrator/internal/agentrunner"
	"github.com/conduct-run/orchestrator/internal/config"
	"github.com/conduct-run/orchestrator/internal/contextstore"
	"github.com/conduct-run/orchestrator/internal/engine"
	"github.com/conduct-run/orchestrator/internal/logging"
	"github.com/conduct-run/orchestrator/internal/manifest"
	"github.com/conduct-run/orchestrator/internal/paths"
	"github.com/conduct-run/orchestrator/internal/phases"
	"github.com/conduct-run/orchestrator/internal/schemas"
	"github.com/conduct-run/orchestrator/internal/state"
)

// ExitError carries the process exit code an error should produce.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string { return e.Err.Error() }
func (e *ExitError) Unwrap() error { return e.Err }

// ExitCodeOf extracts the intended process exit code from an error returned
// by Execute, defaulting to 1 for anything not explicitly tagged.
func ExitCodeOf(err error) engine.ExitCode {
	if err == nil {
		return engine.ExitSuccess
	}
	var exit *ExitError
	if ok := asExitError(err, &exit); ok {
		return engine.ExitCode(exit.Code)
	}
	return engine.ExitFailure
}

func asExitError(err error, target **ExitError) bool {
	for err != nil {
		if e, ok := err.(*ExitError); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

var (
	specFlag         string
	agentBinaryFlag  string
	verboseFlag      bool
	logFileFlag      string
	maxConcurrency   int
	agentsConfigName = "agents.yaml"
	phasesConfigName = "phases.yaml"
)

// Execute builds and runs the root cobra command against os.Args.
func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "conduct",
		Short:         "Drive a developer-agent orchestration run",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&specFlag, "spec", "", "spec reference (project/name) or absolute spec directory path")
	root.PersistentFlags().StringVar(&agentBinaryFlag, "agent-binary", "claude", "CLI binary used to invoke agents as subprocesses")
	root.PersistentFlags().BoolVar(&verboseFlag, "verbose", false, "enable debug-level logging")
	root.PersistentFlags().StringVar(&logFileFlag, "log-file", "", "additionally write JSON audit logs to this path")
	root.PersistentFlags().IntVar(&maxConcurrency, "max-concurrency", 4, "maximum concurrent agent invocations per fan-out")

	root.AddCommand(newRunCmd(), newResumeCmd(), newStatusCmd(), newValidateCmd(), newNewCmd(), newListCmd())
	return root
}

func resolveSpecDir() (string, error) {
	if specFlag == "" {
		return "", fmt.Errorf("--spec is required")
	}
	if filepath.IsAbs(specFlag) {
		return specFlag, nil
	}
	root, project, name, err := paths.ResolveSpecArg(specFlag)
	if err != nil {
		return "", err
	}
	matches, err := filepath.Glob(filepath.Join(root, name+"-*"))
	if err != nil || len(matches) == 0 {
		return "", fmt.Errorf("cli: no spec directory found for %s/%s under %s", project, name, root)
	}
	return matches[len(matches)-1], nil
}

func newLogger() (*zap.Logger, error) {
	return logging.New(logging.Options{Verbose: verboseFlag, FilePath: logFileFlag})
}

func loadConfig(specDir string) (config.EngineConfig, error) {
	return config.Load(filepath.Join(specDir, agentsConfigName), filepath.Join(specDir, phasesConfigName))
}

// runtimeSet bundles the collaborators run/resume share.
type runtimeSet struct {
	manifest manifest.Manifest
	cfg      config.EngineConfig
	runner   *agentrunner.Runner
	ctxStore *contextstore.Store
	eng      *engine.Engine
	log      *zap.Logger
}

func buildRuntime(specDir string) (*runtimeSet, error) {
	m, err := manifest.Load(filepath.Join(specDir, "manifest.json"))
	if err != nil {
		return nil, err
	}
	cfg, err := loadConfig(specDir)
	if err != nil {
		return nil, err
	}
	log, err := newLogger()
	if err != nil {
		return nil, err
	}
	ctxStore := contextstore.New(specDir)
	prompts := agentrunner.FilePromptLoader{Dir: filepath.Join(specDir, "prompts")}
	runner := agentrunner.New(cfg, schemas.Default, ctxStore, agentBinaryFlag, prompts, log)

	store := state.NewStore(specDir)
	reg := phases.DefaultRegistry()
	eng, err := engine.New(reg, store, engine.WithLogger(log), engine.WithClock(time.Now))
	if err != nil {
		return nil, err
	}
	return &runtimeSet{manifest: m, cfg: cfg, runner: runner, ctxStore: ctxStore, eng: eng, log: log}, nil
}

func runRequest(rs *runtimeSet) engine.RunRequest {
	return engine.RunRequest{
		Manifest:       rs.manifest,
		Config:         rs.cfg,
		Runner:         rs.runner,
		Context:        rs.ctxStore,
		MaxConcurrency: maxConcurrency,
	}
}

func reportOutcome(cmd *cobra.Command, out engine.Outcome) error {
	fmt.Fprintf(cmd.OutOrStdout(), "phase=%s status=%s\n", out.State.CurrentPhase, out.State.PhaseStatus)
	if out.Exit != engine.ExitSuccess {
		return &ExitError{Code: int(out.Exit), Err: fmt.Errorf("run ended with exit code %d (phase=%s)", out.Exit, out.State.CurrentPhase)}
	}
	return nil
}

func ensureDir(path string) error {
	return os.MkdirAll(path, 0o755)
}

func stateReset(specDir string) error {
	return state.NewStore(specDir).Reset()
}
