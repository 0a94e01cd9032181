package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/conduct-run/orchestrator/internal/agents"
	"github.com/conduct-run/orchestrator/internal/config"
	"github.com/conduct-run/orchestrator/internal/engine"
	"github.com/conduct-run/orchestrator/internal/manifest"
	"github.com/conduct-run/orchestrator/internal/paths"
)

func newNewCmd() *cobra.Command {
	var (
		project   string
		name      string
		workDir   string
		risk      string
		mode      string
	)
	cmd := &cobra.Command{
		Use:   "new",
		Short: "Scaffold a new spec directory: manifest, agent config, and prompt placeholders",
		RunE: func(cmd *cobra.Command, args []string) error {
			if project == "" || name == "" {
				return &ExitError{Code: int(engine.ExitFailure), Err: fmt.Errorf("--project and --name are required")}
			}
			if workDir == "" {
				wd, err := os.Getwd()
				if err != nil {
					return &ExitError{Code: int(engine.ExitFailure), Err: err}
				}
				workDir = wd
			}
			root, err := paths.SpecsRoot()
			if err != nil {
				return &ExitError{Code: int(engine.ExitFailure), Err: err}
			}
			specDir := filepath.Join(root, project, fmt.Sprintf("%s-%d", name, time.Now().UnixNano()))
			if err := ensureDir(specDir); err != nil {
				return &ExitError{Code: int(engine.ExitFailure), Err: err}
			}
			if err := ensureDir(filepath.Join(specDir, "prompts")); err != nil {
				return &ExitError{Code: int(engine.ExitFailure), Err: err}
			}

			m := manifest.Manifest{
				Name:      name,
				Project:   project,
				WorkDir:   workDir,
				SpecDir:   specDir,
				Created:   time.Now(),
				RiskLevel: manifest.RiskLevel(risk),
				Mode:      manifest.Mode(mode),
				Components: []manifest.ComponentDef{
					{ID: "example", Files: []string{"example.go"}, Purpose: "placeholder component, edit before running"},
				},
			}
			if !m.RiskLevel.Valid() {
				return &ExitError{Code: int(engine.ExitFailure), Err: fmt.Errorf("invalid --risk %q", risk)}
			}
			if !m.Mode.Valid() {
				return &ExitError{Code: int(engine.ExitFailure), Err: fmt.Errorf("invalid --mode %q", mode)}
			}
			if err := manifest.Save(filepath.Join(specDir, "manifest.json"), m); err != nil {
				return &ExitError{Code: int(engine.ExitFailure), Err: err}
			}

			cfg := config.Default()
			cfg.Agents = agents.Defaults()
			encoded, err := yaml.Marshal(map[string]any{"agents": cfg.Agents})
			if err != nil {
				return &ExitError{Code: int(engine.ExitFailure), Err: err}
			}
			if err := os.WriteFile(filepath.Join(specDir, agentsConfigName), encoded, 0o644); err != nil {
				return &ExitError{Code: int(engine.ExitFailure), Err: err}
			}
			phasesEncoded, err := yaml.Marshal(map[string]any{"phases": config.DefaultPhases})
			if err != nil {
				return &ExitError{Code: int(engine.ExitFailure), Err: err}
			}
			if err := os.WriteFile(filepath.Join(specDir, phasesConfigName), phasesEncoded, 0o644); err != nil {
				return &ExitError{Code: int(engine.ExitFailure), Err: err}
			}

			fmt.Fprintf(cmd.OutOrStdout(), "scaffolded spec at %s\n", specDir)
			return nil
		},
	}
	cmd.Flags().StringVar(&project, "project", "", "project name")
	cmd.Flags().StringVar(&name, "name", "", "spec name")
	cmd.Flags().StringVar(&workDir, "work-dir", "", "working directory the agents operate in (defaults to the current directory)")
	cmd.Flags().StringVar(&risk, "risk", "low", "risk level: low, medium, high, critical")
	cmd.Flags().StringVar(&mode, "mode", "standard", "execution mode: quick, standard, full")
	return cmd
}
