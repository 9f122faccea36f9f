package report

import (
	"context"
	"fmt"

	"github.com/ajkula/ravenlog/cmd/session"
	"github.com/ajkula/ravenlog/pkg/config"
	"github.com/ajkula/ravenlog/pkg/reporting"
	"github.com/ajkula/ravenlog/pkg/store"
)

// ReportOrchestrator coordinates the report generation process
type ReportOrchestrator struct {
	loader    *RunLoader
	validator *RunValidator
	display   *ConsoleDisplay
	formatter *session.ConsoleFormatter
}

// NewReportOrchestrator creates a new report orchestrator
func NewReportOrchestrator(
	loader *RunLoader,
	validator *RunValidator,
	display *ConsoleDisplay,
	formatter *session.ConsoleFormatter,
) *ReportOrchestrator {
	return &ReportOrchestrator{
		loader:    loader,
		validator: validator,
		display:   display,
		formatter: formatter,
	}
}

// ListRuns prints the most recent stored runs
func (o *ReportOrchestrator) ListRuns(ctx context.Context, limit int) error {
	runs, err := o.loader.ListRuns(ctx, limit)
	if err != nil {
		return fmt.Errorf("failed to list runs: %w", err)
	}
	o.display.DisplayRunList(runs)
	return nil
}

// GenerateReports orchestrates the complete report generation process
func (o *ReportOrchestrator) GenerateReports(
	ctx context.Context,
	sel Selection,
	reportsConfig *config.ReportsConfig,
	verbose bool,
) error {
	o.formatter.PrintInfo("Loading scoring runs...")
	runs, err := o.loader.LoadRuns(ctx, sel)
	if err != nil {
		return fmt.Errorf("failed to load runs: %w", err)
	}

	if verbose {
		o.formatter.PrintInfo(fmt.Sprintf("Loaded %d run(s)", len(runs)))
	}

	if err := o.validator.ValidateRuns(runs); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	failed := 0
	for i, run := range runs {
		o.display.DisplayGenerationProgress(run.ID, i+1, len(runs))

		if err := o.generateSingleReport(run, reportsConfig, verbose); err != nil {
			o.display.DisplayGenerationError(run.ID, err)
			failed++
			continue
		}

		o.display.DisplayGenerationSuccess(run.ID)
	}

	o.display.DisplaySummary(len(runs)-failed, reportsConfig.OutputDir, reportsConfig.Formats)

	if failed > 0 {
		return fmt.Errorf("%d of %d reports failed", failed, len(runs))
	}
	return nil
}

// generateSingleReport generates a complete report for a single run
func (o *ReportOrchestrator) generateSingleReport(
	run *store.Run,
	reportsConfig *config.ReportsConfig,
	verbose bool,
) error {
	generator, err := reporting.NewReportGenerator(reportsConfig)
	if err != nil {
		return fmt.Errorf("failed to create report generator: %w", err)
	}

	reportData, err := generator.GenerateReport(run)
	if err != nil {
		return fmt.Errorf("failed to generate report data: %w", err)
	}

	if verbose {
		o.display.DisplayReportSummary(reportData)
	}

	paths, err := generator.ExportReport(reportData, reportsConfig.OutputDir)
	if err != nil {
		return fmt.Errorf("failed to export report: %w", err)
	}
	for _, path := range paths {
		o.formatter.PrintInfo(fmt.Sprintf("Wrote %s", path))
	}

	return nil
}

// CreateReportsConfig copies the configured reports section, replacing the
// formats when they were given on the command line
func (o *ReportOrchestrator) CreateReportsConfig(
	base *config.ReportsConfig,
	formats []string,
	formatsSet bool,
) *config.ReportsConfig {
	cfg := *base
	if formatsSet {
		cfg.Formats = formats
	}
	return &cfg
}
