package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/atriumhq/hivemind/internal/config"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "hivemind",
	Short: "Task coordination engine for autonomous agent pools",
	Long: `Hivemind coordinates a pool of worker agents over a shared backlog.

It builds a dependency graph from the backlog, splits oversized tasks into
parallel subtasks, computes the critical path, and leases ready units to
agents one at a time so no unit is ever worked twice.

Typical flow:
  hivemind analyze backlog.yaml   inspect the plan before running
  hivemind run backlog.yaml       drive a simulated agent pool
  hivemind status                 show the board of the last run`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig resolves configuration: the --config flag wins, otherwise the
// usual XDG / project / environment chain.
func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.LoadFromPath(configPath)
	}
	return config.Load()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a config file (overrides discovery)")

	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(versionCmd)
}
