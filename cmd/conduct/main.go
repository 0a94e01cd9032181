// Command conduct drives a developer-agent orchestration run: parse a
// manifest, skeleton/implement/validate/fix every component, vote on the
// gates its risk level triggers, and exit with a status code the caller's
// own automation can branch on.
package main

import (
	"fmt"
	"os"

	"github.com/conduct-run/orchestrator/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(int(cli.ExitCodeOf(err)))
	}
}
