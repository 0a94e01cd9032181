package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/conduct-run/orchestrator/internal/engine"
	"github.com/conduct-run/orchestrator/internal/state"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the persisted status of a run without advancing it",
		RunE: func(cmd *cobra.Command, args []string) error {
			specDir, err := resolveSpecDir()
			if err != nil {
				return &ExitError{Code: int(engine.ExitFailure), Err: err}
			}
			st, err := state.NewStore(specDir).Load()
			if err != nil {
				return &ExitError{Code: int(engine.ExitFailure), Err: err}
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "spec: %s\n", filepath.Base(specDir))
			fmt.Fprintf(out, "phase: %s (%s)\n", st.CurrentPhase, st.PhaseStatus)
			for id, c := range st.Components {
				fmt.Fprintf(out, "  component %s: %s (fix attempts: %d)\n", id, c.Status, c.FixAttempts)
			}
			for _, v := range st.VotingResults {
				fmt.Fprintf(out, "  vote %s: %s -> %s\n", v.GateName, v.Outcome, v.Chosen)
			}
			return nil
		},
	}
}
