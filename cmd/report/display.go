package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/ajkula/ravenlog/cmd/score"
	"github.com/ajkula/ravenlog/cmd/session"
	"github.com/ajkula/ravenlog/pkg/reporting"
	"github.com/ajkula/ravenlog/pkg/store"
)

// ConsoleDisplay handles all console display operations
type ConsoleDisplay struct {
	formatter *session.ConsoleFormatter
}

// NewConsoleDisplay creates a new console display handler
func NewConsoleDisplay(formatter *session.ConsoleFormatter) *ConsoleDisplay {
	return &ConsoleDisplay{
		formatter: formatter,
	}
}

// DisplayRunList prints one line per stored run
func (d *ConsoleDisplay) DisplayRunList(runs []*store.Run) {
	d.formatter.PrintSectionHeader("STORED RUNS")
	if len(runs) == 0 {
		d.formatter.PrintInfo("No runs stored yet")
		return
	}

	d.formatter.Printf("%-36s  %-14s  %-8s  %10s  %s\n", "ID", "STARTED", "FORMAT", "RECORDS", "SOURCE")
	for _, run := range runs {
		d.formatter.Printf("%-36s  %-14s  %-8s  %10s  %s\n",
			run.ID,
			humanize.Time(run.StartedAt),
			run.Format,
			humanize.Comma(int64(run.Stats.Parsed)),
			run.Source)
	}
}

// DisplayReportSummary shows a summary of the generated report
func (d *ConsoleDisplay) DisplayReportSummary(reportData *reporting.ReportData) {
	score.DisplayRun(d.formatter, reportData)

	if len(reportData.Analysis.TopHosts) > 0 {
		hosts := make([]string, len(reportData.Analysis.TopHosts))
		for i, c := range reportData.Analysis.TopHosts {
			hosts[i] = fmt.Sprintf("%s (%d)", c.Key, c.Count)
		}
		d.formatter.Printf("Top hosts:        %s\n", strings.Join(hosts, ", "))
	}
	d.formatter.Printf("Scored:           %s\n", reportData.Run.StartedAt.Format(time.RFC3339))
}

// DisplayGenerationProgress shows progress information during report generation
func (d *ConsoleDisplay) DisplayGenerationProgress(runID string, current, total int) {
	d.formatter.PrintInfo(fmt.Sprintf("Generating report for run %s (%d/%d)...",
		runID, current, total))
}

// DisplayGenerationSuccess shows successful report generation
func (d *ConsoleDisplay) DisplayGenerationSuccess(runID string) {
	d.formatter.PrintSuccess(fmt.Sprintf("Report generated for run %s", runID))
}

// DisplayGenerationError shows report generation error
func (d *ConsoleDisplay) DisplayGenerationError(runID string, err error) {
	d.formatter.PrintError(fmt.Sprintf("Failed to generate report for run %s: %v",
		runID, err))
}

// DisplaySummary displays the final summary of report generation
func (d *ConsoleDisplay) DisplaySummary(generated int, outputDir string, formats []string) {
	d.formatter.PrintSectionHeader("REPORT GENERATION SUMMARY")
	d.formatter.Printf("Runs processed: %d\n", generated)
	d.formatter.Printf("Output directory: %s\n", outputDir)
	d.formatter.Printf("Formats generated: %s\n", strings.Join(formats, ", "))
	if generated > 0 {
		d.formatter.PrintSuccess("Report generation completed successfully!")
	}
}
