package cli

import (
	"github.com/spf13/cobra"

	"github.com/conduct-run/orchestrator/internal/engine"
)

func newRunCmd() *cobra.Command {
	var fresh bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start a fresh orchestration run from the spec's manifest",
		RunE: func(cmd *cobra.Command, args []string) error {
			specDir, err := resolveSpecDir()
			if err != nil {
				return &ExitError{Code: int(engine.ExitFailure), Err: err}
			}
			rs, err := buildRuntime(specDir)
			if err != nil {
				return &ExitError{Code: int(engine.ExitFailure), Err: err}
			}
			defer rs.log.Sync() //nolint:errcheck

			if fresh {
				if err := clearExistingState(specDir); err != nil {
					return &ExitError{Code: int(engine.ExitFailure), Err: err}
				}
			}

			out, err := rs.eng.Start(cmd.Context(), runRequest(rs))
			if err != nil {
				return &ExitError{Code: int(engine.ExitFailure), Err: err}
			}
			return reportOutcome(cmd, out)
		},
	}
	cmd.Flags().BoolVar(&fresh, "fresh", false, "discard any existing state.json before starting")
	return cmd
}

func clearExistingState(specDir string) error {
	return stateReset(specDir)
}
