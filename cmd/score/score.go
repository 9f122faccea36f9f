// Package score implements the score command: rate every request of a log
// against a fitted profile and report the anomalies
package score

import (
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ajkula/ravenlog/cmd/session"
	"github.com/ajkula/ravenlog/pkg/logparse"
	"github.com/ajkula/ravenlog/pkg/reporting"
)

// Execute runs the score command
func Execute(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("at least one log file to score is required")
	}

	profileID, _ := cmd.Flags().GetString("profile-id")
	formats, _ := cmd.Flags().GetStringSlice("report")

	s, err := session.Load(cmd)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	defer s.Close()

	if cmd.Flags().Changed("report") {
		s.Config.Reports.Formats = formats
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	pipeline, err := NewPipeline(ctx, s, profileID)
	if err != nil {
		return err
	}

	source := logparse.NewFileSource(args...)
	s.Out.PrintInfo(fmt.Sprintf("Scoring %s against profile from %s...", source.Name(), pipeline.Profile().Origin))

	run, err := pipeline.Score(ctx, source)
	if err != nil {
		return err
	}

	stored, err := pipeline.Save(ctx, run)
	if err != nil {
		s.Out.PrintWarning(fmt.Sprintf("Failed to store run: %v", err))
	}

	data, paths, err := Export(s, run)
	if err != nil {
		return err
	}

	s.Logger.Info("run scored",
		zap.String("run_id", run.ID),
		zap.String("source", run.Source),
		zap.Int("records", data.Summary.TotalRecords),
		zap.Int("anomalous", data.Summary.AnomalousRecords),
		zap.Duration("elapsed", run.Duration))

	DisplayRun(s.Out, data)
	for _, path := range paths {
		s.Out.PrintSuccess(fmt.Sprintf("Report written to %s", path))
	}
	if stored {
		s.Out.PrintSuccess(fmt.Sprintf("Run stored as %s", run.ID))
	}
	return nil
}

// DisplayRun prints the summary of a scored run
func DisplayRun(out *session.ConsoleFormatter, data *reporting.ReportData) {
	run, sum := data.Run, data.Summary

	out.PrintSectionHeader("SCORING SUMMARY")
	out.Printf("Run:              %s\n", run.ID)
	out.Printf("Source:           %s (%s)\n", run.Source, run.Format)
	out.Printf("Lines:            %s read, %s parsed, %s skipped\n",
		humanize.Comma(int64(run.Stats.Lines)), humanize.Comma(int64(run.Stats.Parsed)), humanize.Comma(int64(run.Stats.Skipped)))
	out.Printf("Elapsed:          %s\n", run.Duration.Round(time.Millisecond))
	out.Printf("Risk level:       %s\n", sum.OverallRiskLevel)
	out.Printf("Anomalous:        %s of %s (%.2f%%)\n",
		humanize.Comma(int64(sum.AnomalousRecords)), humanize.Comma(int64(sum.TotalRecords)), sum.AnomalyRate)

	signals := make([]string, 0, len(sum.BySignal))
	for name := range sum.BySignal {
		signals = append(signals, name)
	}
	sort.Strings(signals)
	for _, name := range signals {
		out.Printf("  %-14s  %s\n", name, humanize.Comma(int64(sum.BySignal[name])))
	}

	if sum.MinPValue != nil {
		out.Printf("P-values:         min %.4g, mean %.4g, %d N/A\n", *sum.MinPValue, *sum.MeanPValue, sum.PValuesNA)
	} else {
		out.Printf("P-values:         all N/A\n")
	}

	if len(sum.ClusterSize) > 0 {
		labels := make([]int, 0, len(sum.ClusterSize))
		for label := range sum.ClusterSize {
			labels = append(labels, label)
		}
		sort.Ints(labels)
		parts := make([]string, len(labels))
		for i, label := range labels {
			parts[i] = fmt.Sprintf("%d:%d", label, sum.ClusterSize[label])
		}
		out.Printf("Clusters:         %s\n", strings.Join(parts, " "))
	}

	flagged := data.Analysis.FlaggedRows
	if len(flagged) == 0 {
		out.PrintSuccess("No anomalous requests")
		return
	}

	out.PrintSectionHeader("TOP FLAGGED REQUESTS")
	for i, row := range flagged {
		if i == 20 {
			out.Printf("... and %d more\n", len(flagged)-i)
			break
		}
		out.Printf("line %d: %s %s %s [%s] p=%s\n",
			row.Line, row.Host, row.Method, row.URL, strings.Join(row.Signals, ","), row.PValue)
	}
}
