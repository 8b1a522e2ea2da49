package main

import (
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/datanger/gemini-cli/internal/history"
)

var statusLimit int

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the execution journal",
	Long: `Display the project's execution journal.

Shows:
  - Recent tool invocations with outcome, retries, and elapsed time
  - Per-tool aggregate counts`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().IntVar(&statusLimit, "limit", 20, "Number of recent results to show")
}

func runStatus(cmd *cobra.Command, args []string) error {
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("get working directory: %w", err)
	}

	dbPath := history.DBPath(cwd)
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		fmt.Println("No execution history. Run 'gemini-cli run <task>' to start.")
		return nil
	}

	journal, err := history.Open(dbPath)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer journal.Close()

	recent, err := journal.Recent(statusLimit)
	if err != nil {
		return err
	}
	if len(recent) == 0 {
		fmt.Println("No execution history. Run 'gemini-cli run <task>' to start.")
		return nil
	}

	fmt.Println("Recent Invocations:")
	for _, r := range recent {
		mark := color.GreenString("✓")
		detail := ""
		if !r.Success {
			mark = color.RedString("✗")
			detail = " " + r.Error
		}
		if r.RetryCount > 0 {
			detail += fmt.Sprintf(" (retries: %d)", r.RetryCount)
		}
		fmt.Printf("  %s %s %-18s session %s [%s]%s\n",
			mark,
			r.RecordedAt.Local().Format("2006-01-02 15:04:05"),
			r.Tool,
			r.SessionID,
			r.Elapsed.Round(time.Millisecond),
			detail)
	}

	summaries, err := journal.Summarize()
	if err != nil {
		return err
	}

	fmt.Println()
	fmt.Println("Per-Tool Totals:")
	for _, s := range summaries {
		fmt.Printf("  %-18s %d runs, %d failures, %d retries\n",
			s.Tool, s.Total, s.Failures, s.Retries)
	}

	return nil
}
