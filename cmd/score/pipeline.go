package score

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ajkula/ravenlog/cmd/session"
	"github.com/ajkula/ravenlog/pkg/anomaly"
	"github.com/ajkula/ravenlog/pkg/logparse"
	"github.com/ajkula/ravenlog/pkg/reporting"
	"github.com/ajkula/ravenlog/pkg/store"
)

// Pipeline scores log sources against one loaded profile
type Pipeline struct {
	session  *session.Session
	detector *anomaly.Detector
	profile  *session.LoadedProfile
	reader   logparse.ReaderConfig
}

// NewPipeline loads the profile (profileID from the store, or the configured
// file, or the latest stored profile) and prepares a detector for it
func NewPipeline(ctx context.Context, s *session.Session, profileID string) (*Pipeline, error) {
	readerCfg, err := s.ReaderConfig()
	if err != nil {
		return nil, err
	}
	detectorCfg, err := s.DetectorConfig()
	if err != nil {
		return nil, err
	}

	loaded, err := s.LoadProfile(ctx, profileID)
	if err != nil {
		return nil, err
	}

	detector := anomaly.NewDetector(detectorCfg)
	if err := detector.Load(loaded.Profile); err != nil {
		return nil, err
	}

	trained := loaded.Profile.Metadata.LogFormat
	if trained != "" && !strings.EqualFold(trained, readerCfg.Format.String()) {
		s.Out.PrintWarning(fmt.Sprintf("Profile was trained on %s logs, scoring %s logs", trained, readerCfg.Format))
	}

	s.Logger.Debug("profile loaded",
		zap.String("origin", loaded.Origin),
		zap.String("profile_id", loaded.ID),
		zap.Int("training_records", loaded.Profile.Metadata.TrainingRecords))

	return &Pipeline{session: s, detector: detector, profile: loaded, reader: readerCfg}, nil
}

// Profile returns the loaded profile
func (p *Pipeline) Profile() *session.LoadedProfile {
	return p.profile
}

// Score reads source lazily and scores it in chunks of the reader's cancel
// check interval, so only one chunk of raw records is held at a time. The
// score table is clustered when clustering is enabled.
func (p *Pipeline) Score(ctx context.Context, source logparse.Source) (*store.Run, error) {
	reader, err := logparse.NewReader(source, p.reader)
	if err != nil {
		return nil, err
	}

	size := p.reader.CancelCheckInterval
	if size <= 0 {
		size = logparse.DefaultCancelCheckInterval
	}

	start := time.Now()
	table := &anomaly.ScoreTable{Rows: []anomaly.ScoredRecord{}}
	chunk := make([]logparse.LogRecord, 0, size)

	flush := func() error {
		if len(chunk) == 0 {
			return nil
		}
		scores, err := p.detector.Predict(ctx, chunk)
		if err != nil {
			return fmt.Errorf("failed to score records: %w", err)
		}
		table.Rows = append(table.Rows, anomaly.NewScoreTable(chunk, scores).Rows...)
		chunk = chunk[:0]
		return nil
	}

	for rec, err := range reader.Records(ctx) {
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", source.Name(), err)
		}
		chunk = append(chunk, rec)
		if len(chunk) == size {
			if err := flush(); err != nil {
				return nil, err
			}
		}
	}
	if err := flush(); err != nil {
		return nil, err
	}

	cfg := p.session.Config
	run := &store.Run{
		ID:              store.NewRunID(),
		ProfileID:       p.profile.ID,
		Source:          source.Name(),
		Format:          p.reader.Format.String(),
		StartedAt:       start.UTC(),
		PValueThreshold: cfg.Detector.PValueThreshold,
		Stats:           reader.Stats(),
		Table:           table,
	}

	if cfg.Cluster.Enable && len(table.Rows) > 0 {
		labels, err := p.detector.Cluster(table.Vectors(), cfg.Cluster.K)
		if err != nil {
			return nil, fmt.Errorf("failed to cluster scores: %w", err)
		}
		run.Table.ApplyClusters(labels)
		run.Clusters = cfg.Cluster.K
	}

	run.Duration = time.Since(start)
	return run, nil
}

// Save stores the run when the store is enabled. It reports whether the run
// was stored.
func (p *Pipeline) Save(ctx context.Context, run *store.Run) (bool, error) {
	st, err := p.session.Store()
	if errors.Is(err, session.ErrStoreDisabled) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	// runs reference a stored profile; a file profile is stored on first use
	if run.ProfileID == "" {
		rec, err := st.SaveProfile(ctx, p.profile.Origin, p.profile.Profile)
		if err != nil {
			return false, err
		}
		p.profile.ID = rec.ID
		run.ProfileID = rec.ID
	}

	if err := st.SaveRun(ctx, run); err != nil {
		return false, err
	}
	return true, nil
}

// Export writes the configured report formats for run
func Export(s *session.Session, run *store.Run) (*reporting.ReportData, []string, error) {
	generator, err := reporting.NewReportGenerator(&s.Config.Reports)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create report generator: %w", err)
	}
	data, err := generator.GenerateReport(run)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate report data: %w", err)
	}
	if len(s.Config.Reports.Formats) == 0 {
		return data, nil, nil
	}
	paths, err := generator.ExportReport(data, s.Config.Reports.OutputDir)
	if err != nil {
		return data, paths, fmt.Errorf("failed to export report: %w", err)
	}
	return data, paths, nil
}
