package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/conduct-run/orchestrator/internal/engine"
	"github.com/conduct-run/orchestrator/internal/paths"
)

func newListCmd() *cobra.Command {
	var project string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List spec directories under the configured specs root",
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := paths.SpecsRoot()
			if err != nil {
				return &ExitError{Code: int(engine.ExitFailure), Err: err}
			}
			searchRoot := root
			if project != "" {
				searchRoot = filepath.Join(root, project)
			}
			entries, err := os.ReadDir(searchRoot)
			if err != nil {
				if os.IsNotExist(err) {
					fmt.Fprintln(cmd.OutOrStdout(), "no specs found")
					return nil
				}
				return &ExitError{Code: int(engine.ExitFailure), Err: err}
			}
			out := cmd.OutOrStdout()
			if project != "" {
				for _, e := range entries {
					if e.IsDir() {
						fmt.Fprintf(out, "%s/%s\n", project, e.Name())
					}
				}
				return nil
			}
			for _, e := range entries {
				if !e.IsDir() {
					continue
				}
				subs, err := os.ReadDir(filepath.Join(searchRoot, e.Name()))
				if err != nil {
					continue
				}
				for _, s := range subs {
					if s.IsDir() {
						fmt.Fprintf(out, "%s/%s\n", e.Name(), s.Name())
					}
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&project, "project", "", "restrict listing to this project")
	return cmd
}
