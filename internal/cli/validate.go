package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/conduct-run/orchestrator/internal/engine"
	"github.com/conduct-run/orchestrator/internal/manifest"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate a spec's manifest without starting a run",
		RunE: func(cmd *cobra.Command, args []string) error {
			specDir, err := resolveSpecDir()
			if err != nil {
				return &ExitError{Code: int(engine.ExitFailure), Err: err}
			}
			m, err := manifest.Load(filepath.Join(specDir, "manifest.json"))
			if err != nil {
				return &ExitError{Code: int(engine.ExitFailure), Err: err}
			}
			if _, err := m.DependencyLevels(); err != nil {
				return &ExitError{Code: int(engine.ExitFailure), Err: err}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "manifest %q is valid: %d components, risk=%s, mode=%s\n",
				m.Name, len(m.Components), m.RiskLevel, m.Mode)
			return nil
		},
	}
}
