// Command gh-core-server runs the backend-dispatch-and-workflow core as a
// long-lived process: by default it serves the tool surface over stdio for
// a host to drive, with subcommands to drive the audit store and circuit
// breaker registry directly from a terminal.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version is overwritten at build time via -ldflags.
var version = "dev"

var rootCmd = &cobra.Command{
	Use:     "gh-core-server",
	Short:   "Backend dispatch, workflow orchestration, and permission core for AI coding assistants",
	Version: version,
	Long: `gh-core-server mediates between a host coding assistant and several external
AI provider CLIs: it dispatches single-backend requests, orchestrates
multi-stage workflows that fan out across providers, and enforces an
autonomy-level permission ladder with a durable audit trail.

Common tasks:
  gh-core-server serve            # run the Tool Surface over stdio
  gh-core-server audit export     # export the audit trail as JSON/CSV/HTML
  gh-core-server breaker status   # show per-backend circuit breaker state`,
	Run: func(cmd *cobra.Command, args []string) {
		_ = cmd.Help()
	},
}

func main() {
	rootCmd.Version = version
	rootCmd.SetOut(os.Stderr)
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newAuditCmd())
	rootCmd.AddCommand(newBreakerCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
