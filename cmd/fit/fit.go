// Package fit implements the fit command: learn a request profile from
// normal traffic
package fit

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ajkula/ravenlog/cmd/session"
	"github.com/ajkula/ravenlog/pkg/anomaly"
	"github.com/ajkula/ravenlog/pkg/logparse"
)

// Execute runs the fit command
func Execute(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("at least one training log file is required")
	}

	s, err := session.Load(cmd)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	defer s.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	result, err := Run(ctx, s, logparse.NewFileSource(args...))
	if err != nil {
		return err
	}

	displayResult(s, result)
	return nil
}

// Result describes a completed fit
type Result struct {
	Profile     *anomaly.Profile
	ProfilePath string
	ProfileSize int64
	StoredID    string
	Stats       logparse.Stats
	Elapsed     time.Duration
}

// Run fits a profile on source and persists it to the profile file and,
// when enabled, the store
func Run(ctx context.Context, s *session.Session, source logparse.Source) (*Result, error) {
	readerCfg, err := s.ReaderConfig()
	if err != nil {
		return nil, err
	}
	reader, err := logparse.NewReader(source, readerCfg)
	if err != nil {
		return nil, err
	}
	detectorCfg, err := s.DetectorConfig()
	if err != nil {
		return nil, err
	}

	s.Out.PrintInfo(fmt.Sprintf("Learning %s profile from %s...", readerCfg.Format, source.Name()))

	start := time.Now()
	detector := anomaly.NewDetector(detectorCfg)
	if err := detector.Fit(ctx, reader.Records(ctx)); err != nil {
		return nil, fmt.Errorf("failed to fit profile: %w", err)
	}

	result := &Result{
		Profile:     detector.Profile(),
		ProfilePath: s.Config.Profile.Path,
		Stats:       reader.Stats(),
		Elapsed:     time.Since(start),
	}

	if err := anomaly.SaveProfile(result.Profile, result.ProfilePath); err != nil {
		return nil, err
	}
	if info, err := os.Stat(result.ProfilePath); err == nil {
		result.ProfileSize = info.Size()
	}

	if st, err := s.Store(); err == nil {
		rec, err := st.SaveProfile(ctx, source.Name(), result.Profile)
		if err != nil {
			return nil, err
		}
		result.StoredID = rec.ID
	} else if !errors.Is(err, session.ErrStoreDisabled) {
		return nil, err
	}

	s.Logger.Info("profile fitted",
		zap.String("source", source.Name()),
		zap.Int("records", result.Profile.Metadata.TrainingRecords),
		zap.Int("skipped", result.Stats.Skipped),
		zap.String("profile_id", result.StoredID),
		zap.Duration("elapsed", result.Elapsed))

	return result, nil
}

func displayResult(s *session.Session, r *Result) {
	p := r.Profile
	s.Out.PrintSectionHeader("PROFILE")
	s.Out.Printf("Training records:    %s\n", humanize.Comma(int64(p.Metadata.TrainingRecords)))
	s.Out.Printf("Lines skipped:       %s\n", humanize.Comma(int64(r.Stats.Skipped)))
	s.Out.Printf("URL length:          mean %.2f, std %.2f, flagged above %.2f\n",
		p.LengthMean, p.LengthStd, p.LengthThreshold())
	if p.HasCharModel() {
		s.Out.Printf("Char distribution:   %s\n", formatICD(p.ICD))
	} else {
		s.Out.Printf("Char distribution:   none (no non-empty training URLs)\n")
	}
	s.Out.Printf("Known key sets:      %d\n", len(p.KnownParamKeySets))
	s.Out.Printf("Known key lists:     %d\n", len(p.KnownParamKeyLists))
	s.Out.Printf("Elapsed:             %s\n", r.Elapsed.Round(time.Millisecond))

	s.Out.PrintSuccess(fmt.Sprintf("Profile written to %s (%s)", r.ProfilePath, humanize.Bytes(uint64(r.ProfileSize))))
	if r.StoredID != "" {
		s.Out.PrintSuccess(fmt.Sprintf("Profile stored as %s", r.StoredID))
	}
}

func formatICD(icd *anomaly.CharDistribution) string {
	out := ""
	for i, v := range icd {
		if i > 0 {
			out += " "
		}
		out += fmt.Sprintf("%.4f", v)
	}
	return out
}
