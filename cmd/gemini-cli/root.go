package main

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "gemini-cli",
	Short: "Execution control plane for coding-agent tool calls",
	Long: `gemini-cli executes batches of tool invocations under dependency-aware
scheduling, bounded concurrency, retry/fallback policy, and per-category
resource quotas.

Requests that describe a structured engineering task are driven through
an ordered four-phase workflow (search, read, modify, verify); everything
else executes directly.`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}
