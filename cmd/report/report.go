// Package report implements the report command: list stored scoring runs
// and re-render one of them, or a saved JSON report, in the report formats
package report

import (
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/ajkula/ravenlog/cmd/session"
)

// Execute runs the report generation command (CLI entry point)
func Execute(cmd *cobra.Command, args []string) error {
	// Get command flags
	inputPath, _ := cmd.Flags().GetString("input")
	runID, _ := cmd.Flags().GetString("run")
	list, _ := cmd.Flags().GetBool("list")
	limit, _ := cmd.Flags().GetInt("limit")
	formats, _ := cmd.Flags().GetStringSlice("format")

	s, err := session.Load(cmd)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	defer s.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	// Create dependencies (dependency injection)
	loader := NewRunLoader(s)
	validator := NewRunValidator()
	display := NewConsoleDisplay(s.Out)
	orchestrator := NewReportOrchestrator(loader, validator, display, s.Out)

	if list {
		return orchestrator.ListRuns(ctx, limit)
	}

	reportsConfig := orchestrator.CreateReportsConfig(&s.Config.Reports, formats, cmd.Flags().Changed("format"))

	return orchestrator.GenerateReports(ctx, Selection{InputPath: inputPath, RunID: runID}, reportsConfig, s.Verbose)
}
