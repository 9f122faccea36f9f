package reporting

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/ajkula/ravenlog/pkg/anomaly"
)

// csvHeader lists the score table columns in export order
var csvHeader = []string{
	"line", "remote_host", "remote_logname", "remote_user", "received_at",
	"http_method", "request_url", "http_version", "status", "response_bytes",
	"uri_length", "char_dist_pvalue", "param_sets_novel", "param_lists_novel",
	"char_dist_anomalous", "cluster",
}

// exportJSON exports the report as a JSON file
func (rg *ReportGenerator) exportJSON(reportData *ReportData, outputDir, runID string) (string, error) {
	filename := fmt.Sprintf("ravenlog_report_%s.json", runID)
	path := filepath.Join(outputDir, filename)

	jsonData, err := json.MarshalIndent(reportData, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal report data: %w", err)
	}

	if err := os.WriteFile(path, jsonData, 0644); err != nil {
		return "", fmt.Errorf("failed to write JSON file: %w", err)
	}

	return path, nil
}

// exportCSV exports the score table, one row per record in input order
func (rg *ReportGenerator) exportCSV(reportData *ReportData, outputDir, runID string) (string, error) {
	filename := fmt.Sprintf("ravenlog_scores_%s.csv", runID)
	path := filepath.Join(outputDir, filename)

	file, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create CSV file: %w", err)
	}
	defer file.Close()

	if err := WriteScoreCSV(file, reportData.Run.Table, reportData.Run.PValueThreshold); err != nil {
		return "", err
	}
	return path, nil
}

// WriteScoreCSV writes a score table as CSV. N/A p-values are written as
// "N/A" and the cluster column is empty when clustering did not run.
func WriteScoreCSV(w io.Writer, table *anomaly.ScoreTable, threshold float64) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, row := range table.Rows {
		rec := row.Record
		cluster := ""
		if row.Cluster >= 0 {
			cluster = strconv.Itoa(row.Cluster)
		}
		line := []string{
			strconv.Itoa(rec.Line),
			rec.RemoteHost,
			rec.RemoteLogname,
			rec.RemoteUser,
			rec.ReceivedAt.Format(time.RFC3339),
			rec.Method,
			rec.URL,
			rec.HTTPVersion,
			rec.Status,
			rec.ResponseBytes,
			strconv.FormatBool(row.Scores.URILengthFlag),
			row.Scores.CharDistPValue.String(),
			strconv.FormatBool(row.Scores.ParamSetNovel),
			strconv.FormatBool(row.Scores.ParamListNovel),
			strconv.FormatBool(row.Scores.CharDistAnomalous(threshold)),
			cluster,
		}
		if err := cw.Write(line); err != nil {
			return fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("failed to flush CSV: %w", err)
	}
	return nil
}

// exportText exports the report as a plain text file
func (rg *ReportGenerator) exportText(reportData *ReportData, outputDir, runID string) (string, error) {
	filename := fmt.Sprintf("ravenlog_report_%s.txt", runID)
	path := filepath.Join(outputDir, filename)

	file, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create text file: %w", err)
	}
	defer file.Close()

	content := rg.generateTextReport(reportData)
	if _, err := file.WriteString(content); err != nil {
		return "", fmt.Errorf("failed to write text file: %w", err)
	}

	return path, nil
}

// generateTextReport creates a formatted text report
func (rg *ReportGenerator) generateTextReport(reportData *ReportData) string {
	var sb strings.Builder
	run := reportData.Run
	summary := reportData.Summary

	// Header
	sb.WriteString("═══════════════════════════════════════════════════════════════════\n")
	sb.WriteString("                            RAVENLOG                               \n")
	sb.WriteString("                  ACCESS LOG ANOMALY REPORT                        \n")
	sb.WriteString("═══════════════════════════════════════════════════════════════════\n\n")

	// Run metadata
	sb.WriteString(fmt.Sprintf("Generated: %s\n", reportData.GeneratedAt.Format("2006-01-02 15:04:05")))
	sb.WriteString(fmt.Sprintf("Run ID: %s\n", run.ID))
	sb.WriteString(fmt.Sprintf("Profile ID: %s\n", run.ProfileID))
	sb.WriteString(fmt.Sprintf("Source: %s (%s)\n", run.Source, run.Format))
	sb.WriteString(fmt.Sprintf("Started: %s\n", run.StartedAt.Format("2006-01-02 15:04:05")))
	sb.WriteString(fmt.Sprintf("Duration: %v\n", run.Duration.Round(time.Millisecond)))
	sb.WriteString(fmt.Sprintf("Lines: %s read, %s parsed, %s skipped, %s blank\n",
		humanize.Comma(int64(run.Stats.Lines)), humanize.Comma(int64(run.Stats.Parsed)),
		humanize.Comma(int64(run.Stats.Skipped)), humanize.Comma(int64(run.Stats.Blank))))
	sb.WriteString("\n")

	// Summary
	sb.WriteString("SUMMARY\n")
	sb.WriteString("───────\n")
	sb.WriteString(fmt.Sprintf("Overall Risk Level: %s\n", summary.OverallRiskLevel))
	sb.WriteString(fmt.Sprintf("Records Scored: %s\n", humanize.Comma(int64(summary.TotalRecords))))
	sb.WriteString(fmt.Sprintf("Anomalous Records: %s (%.2f%%)\n", humanize.Comma(int64(summary.AnomalousRecords)), summary.AnomalyRate))

	sb.WriteString("\nSignal Breakdown:\n")
	for _, signal := range []string{anomaly.SignalURILength, anomaly.SignalCharDist, anomaly.SignalParamSet, anomaly.SignalParamList} {
		sb.WriteString(fmt.Sprintf("  %-12s %d\n", signal+":", summary.BySignal[signal]))
	}
	if summary.PValueCut == 0 {
		sb.WriteString("  (char_dist threshold disabled)\n")
	}

	sb.WriteString("\nCharacter Distribution:\n")
	sb.WriteString(fmt.Sprintf("  N/A p-values: %d\n", summary.PValuesNA))
	if summary.MinPValue != nil {
		sb.WriteString(fmt.Sprintf("  Min p-value:  %.6g\n", *summary.MinPValue))
		sb.WriteString(fmt.Sprintf("  Mean p-value: %.6g\n", *summary.MeanPValue))
	}
	sb.WriteString("\n")

	// Clusters
	if len(summary.ClusterSize) > 0 {
		sb.WriteString("CLUSTERS\n")
		sb.WriteString("────────\n")
		labels := make([]int, 0, len(summary.ClusterSize))
		for l := range summary.ClusterSize {
			labels = append(labels, l)
		}
		sort.Ints(labels)
		for _, l := range labels {
			sb.WriteString(fmt.Sprintf("  Cluster %d: %d records\n", l, summary.ClusterSize[l]))
		}
		sb.WriteString("\n")
	}

	// Where
	if len(reportData.Analysis.TopHosts) > 0 {
		sb.WriteString("TOP FLAGGED HOSTS\n")
		sb.WriteString("─────────────────\n")
		for _, c := range reportData.Analysis.TopHosts {
			sb.WriteString(fmt.Sprintf("  %-40s %d\n", c.Key, c.Count))
		}
		sb.WriteString("\nTOP FLAGGED PATHS\n")
		sb.WriteString("─────────────────\n")
		for _, c := range reportData.Analysis.TopPaths {
			sb.WriteString(fmt.Sprintf("  %-40s %d\n", c.Key, c.Count))
		}
		sb.WriteString("\n")
	}

	// Rows
	if rg.config.OnlyAnomalies {
		sb.WriteString("FLAGGED REQUESTS\n")
		sb.WriteString("────────────────\n")
		for _, f := range reportData.Analysis.FlaggedRows {
			sb.WriteString(fmt.Sprintf("line %d: %s %s %s [%s] p=%s\n",
				f.Line, f.Host, f.Method, f.URL, strings.Join(f.Signals, ","), f.PValue))
		}
		if len(reportData.Analysis.FlaggedRows) == 0 {
			sb.WriteString("  none\n")
		}
	} else {
		sb.WriteString("SCORE TABLE\n")
		sb.WriteString("───────────\n")
		sb.WriteString("line\turi_length\tchar_dist_pvalue\tparam_sets_novel\tparam_lists_novel\turl\n")
		for _, row := range run.Table.Rows {
			sb.WriteString(fmt.Sprintf("%d\t%t\t%s\t%t\t%t\t%s\n",
				row.Record.Line, row.Scores.URILengthFlag, row.Scores.CharDistPValue,
				row.Scores.ParamSetNovel, row.Scores.ParamListNovel, row.Record.URL))
		}
	}
	sb.WriteString("\n")

	// Footer
	sb.WriteString("═══════════════════════════════════════════════════════════════════\n")
	sb.WriteString(fmt.Sprintf("Report generated by RavenLog v%s - Access Log Anomaly Detector\n", reportData.RavenLogVersion))
	sb.WriteString("═══════════════════════════════════════════════════════════════════\n")

	return sb.String()
}
