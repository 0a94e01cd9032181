package cli

import (
	"github.com/spf13/cobra"

	"github.com/conduct-run/orchestrator/internal/engine"
)

func newResumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resume",
		Short: "Continue a previously started run from its persisted state",
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

			out, err := rs.eng.Resume(cmd.Context(), runRequest(rs))
			if err != nil {
				return &ExitError{Code: int(engine.ExitFailure), Err: err}
			}
			return reportOutcome(cmd, out)
		},
	}
}
