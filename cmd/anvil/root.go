package main

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "anvil",
	Short: "Multi-agent task scheduler",
	Long: `Anvil schedules dependent tasks across a bounded pool of worker agents.

Tasks are declared in a YAML plan with dependencies between them. Anvil
resolves the dependency graph, dispatches ready tasks to agents matched by
capability, retries transient failures with backoff, and surfaces tasks that
need human attention as blockers.

Core capabilities:
- Validates plans up front (unknown dependencies, cycles)
- Runs independent tasks in parallel under a concurrency cap
- Reuses idle agents and retires them when unused
- Persists run state to a local SQLite database`,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(blockersCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}
