// Package capture implements the capture command: flatten the TCP packets of
// an offline capture file into CSV or JSON records
package capture

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ajkula/ravenlog/cmd/session"
	"github.com/ajkula/ravenlog/pkg/capture"
)

// Execute runs the capture command
func Execute(cmd *cobra.Command, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("exactly one capture file is required")
	}
	outputFile, _ := cmd.Flags().GetString("out")
	encoding, _ := cmd.Flags().GetString("encoding")
	captureFormat, _ := cmd.Flags().GetString("capture-format")

	s, err := session.Load(cmd)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	defer s.Close()

	opts := capture.Options{
		Format:           s.Config.Capture.Format,
		Transport:        s.Config.Capture.Transport,
		ProgressInterval: s.Config.Capture.ProgressInterval,
		Logger:           s.Logger,
		Metrics:          s.Metrics,
	}
	if captureFormat != "" {
		opts.Format = captureFormat
	} else if ext := strings.TrimPrefix(filepath.Ext(args[0]), "."); ext == "pcap" || ext == "pcapng" {
		opts.Format = ext
	}

	extractor, err := capture.NewExtractor(opts)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	// stdout carries the records when no output file is given
	if outputFile != "" {
		s.Out.PrintInfo(fmt.Sprintf("Extracting TCP packets from %s...", args[0]))
	}
	start := time.Now()
	records, stats, err := extractor.ExtractFile(ctx, args[0])
	if err != nil {
		return fmt.Errorf("capture extraction failed: %w", err)
	}
	elapsed := time.Since(start)
	s.Metrics.PhaseDuration.WithLabelValues("capture").Observe(elapsed.Seconds())

	var out io.Writer = os.Stdout
	if outputFile != "" {
		f, err := os.Create(outputFile)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer f.Close()
		out = f
	}

	if err := Write(out, encoding, records); err != nil {
		return err
	}

	s.Logger.Info("capture extracted",
		zap.String("path", args[0]),
		zap.Int("packets", stats.Packets),
		zap.Int("extracted", stats.Extracted),
		zap.Duration("elapsed", elapsed))

	if outputFile != "" {
		s.Out.PrintSuccess(fmt.Sprintf("%s of %s packets written to %s",
			humanize.Comma(int64(stats.Extracted)), humanize.Comma(int64(stats.Packets)), outputFile))
	}
	if stats.Malformed > 0 {
		s.Out.PrintWarning(fmt.Sprintf("%d malformed packets ignored", stats.Malformed))
	}
	return nil
}

// Write encodes records as "csv" or "json"
func Write(w io.Writer, encoding string, records []capture.Record) error {
	switch strings.ToLower(encoding) {
	case "csv", "":
		cw := csv.NewWriter(w)
		if err := cw.Write(capture.Columns()); err != nil {
			return fmt.Errorf("failed to write CSV header: %w", err)
		}
		for _, rec := range records {
			if err := cw.Write(rec.Values()); err != nil {
				return fmt.Errorf("failed to write CSV row: %w", err)
			}
		}
		cw.Flush()
		return cw.Error()
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(records); err != nil {
			return fmt.Errorf("failed to write JSON: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("unsupported output encoding: %s", encoding)
	}
}
