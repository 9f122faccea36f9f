// Package reporting implements report generation for RavenLog scoring runs
package reporting

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ajkula/ravenlog/pkg/config"
	"github.com/ajkula/ravenlog/pkg/store"
)

// Version is the RavenLog release stamped into reports
const Version = "1.0.0"

// ReportGenerator handles the generation of scoring run reports
type ReportGenerator struct {
	config *config.ReportsConfig
}

// ReportData represents the data structure for report generation
type ReportData struct {
	// Meta information
	GeneratedAt     time.Time `json:"generated_at"`
	RavenLogVersion string    `json:"ravenlog_version"`

	// Scoring run, including the full score table
	Run *store.Run `json:"run"`

	// High-level figures
	Summary Summary `json:"summary"`

	// Where the anomalies are
	Analysis Analysis `json:"analysis"`
}

// NewReportGenerator creates a new report generator instance
func NewReportGenerator(reportsConfig *config.ReportsConfig) (*ReportGenerator, error) {
	if reportsConfig == nil {
		return nil, fmt.Errorf("reports configuration is required")
	}
	for _, format := range reportsConfig.Formats {
		switch strings.ToLower(format) {
		case "json", "csv", "txt":
		default:
			return nil, fmt.Errorf("unsupported export format: %s", format)
		}
	}
	return &ReportGenerator{config: reportsConfig}, nil
}

// GenerateReport builds the report of a scoring run
func (rg *ReportGenerator) GenerateReport(run *store.Run) (*ReportData, error) {
	if run == nil || run.Table == nil {
		return nil, fmt.Errorf("run has no score table")
	}

	return &ReportData{
		GeneratedAt:     time.Now(),
		RavenLogVersion: Version,
		Run:             run,
		Summary:         rg.calculateSummary(run),
		Analysis:        rg.analyzeRun(run),
	}, nil
}

// ExportReport exports the report in the configured formats and returns the
// written file paths
func (rg *ReportGenerator) ExportReport(reportData *ReportData, outputDir string) ([]string, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	runID := reportData.Run.ID
	var written []string

	for _, format := range rg.config.Formats {
		var (
			path string
			err  error
		)
		switch strings.ToLower(format) {
		case "json":
			path, err = rg.exportJSON(reportData, outputDir, runID)
		case "csv":
			path, err = rg.exportCSV(reportData, outputDir, runID)
		case "txt":
			path, err = rg.exportText(reportData, outputDir, runID)
		default:
			return written, fmt.Errorf("unsupported export format: %s", format)
		}
		if err != nil {
			return written, fmt.Errorf("failed to export %s: %w", format, err)
		}
		written = append(written, path)
	}

	return written, nil
}
