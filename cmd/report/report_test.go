package report

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ajkula/ravenlog/cmd/session"
	"github.com/ajkula/ravenlog/pkg/anomaly"
	"github.com/ajkula/ravenlog/pkg/config"
	"github.com/ajkula/ravenlog/pkg/logparse"
	"github.com/ajkula/ravenlog/pkg/metrics"
	"github.com/ajkula/ravenlog/pkg/reporting"
	"github.com/ajkula/ravenlog/pkg/store"
)

func sampleRun() *store.Run {
	recs := []logparse.LogRecord{
		{RemoteHost: "10.0.0.1", Method: "GET", URL: "/", Status: "200", Line: 1},
		{RemoteHost: "10.0.0.2", Method: "GET", URL: "/x?a=1", Status: "200", Line: 2},
	}
	scores := []anomaly.ScoreVector{
		{CharDistPValue: anomaly.Known(0.7)},
		{CharDistPValue: anomaly.NA, ParamSetNovel: true, ParamListNovel: true},
	}
	return &store.Run{
		ID:        "run-a",
		Source:    "access.log",
		Format:    "CLF",
		StartedAt: time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC),
		Stats:     logparse.Stats{Lines: 2, Parsed: 2},
		Table:     anomaly.NewScoreTable(recs, scores),
	}
}

func testOrchestrator(t *testing.T) (*ReportOrchestrator, *session.Session, *bytes.Buffer) {
	t.Helper()

	cfg := config.CreateDefaultConfig()
	cfg.Store.Path = ":memory:"
	cfg.Reports.OutputDir = filepath.Join(t.TempDir(), "out")

	var out bytes.Buffer
	s := &session.Session{
		Config:  cfg,
		Logger:  zap.NewNop(),
		Metrics: metrics.NewCollector(),
		Out:     session.NewWriterFormatter(&out),
	}
	t.Cleanup(func() { s.Close() })

	o := NewReportOrchestrator(NewRunLoader(s), NewRunValidator(), NewConsoleDisplay(s.Out), s.Out)
	return o, s, &out
}

func TestValidateRun(t *testing.T) {
	v := NewRunValidator()
	require.NoError(t, v.ValidateRun(sampleRun()))

	run := sampleRun()
	run.Stats.Parsed = 3
	assert.ErrorContains(t, v.ValidateRun(run), "score rows")

	run = sampleRun()
	run.Table = nil
	assert.Error(t, v.ValidateRun(run))

	run = sampleRun()
	run.Clusters = 2
	run.Table.Rows[1].Cluster = 2
	assert.ErrorContains(t, v.ValidateRun(run), "cluster label")

	assert.Error(t, v.ValidateRuns(nil))
}

func TestGenerateReportsFromStore(t *testing.T) {
	o, s, out := testOrchestrator(t)
	ctx := context.Background()

	st, err := s.Store()
	require.NoError(t, err)
	prof, err := st.SaveProfile(ctx, "train.log", &anomaly.Profile{})
	require.NoError(t, err)

	run := sampleRun()
	run.ProfileID = prof.ID
	require.NoError(t, st.SaveRun(ctx, run))

	require.NoError(t, o.ListRuns(ctx, 10))
	assert.Contains(t, out.String(), "run-a")

	cfg := o.CreateReportsConfig(&s.Config.Reports, []string{"csv"}, true)
	assert.Equal(t, []string{"json", "csv", "txt"}, s.Config.Reports.Formats)

	require.NoError(t, o.GenerateReports(ctx, Selection{}, cfg, true))
	assert.FileExists(t, filepath.Join(cfg.OutputDir, "ravenlog_scores_run-a.csv"))
	assert.Contains(t, out.String(), "Report generated for run run-a")

	err = o.GenerateReports(ctx, Selection{RunID: "missing"}, cfg, false)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestGenerateReportsFromJSON(t *testing.T) {
	o, s, _ := testOrchestrator(t)
	s.Config.Store.Enable = false

	src := t.TempDir()
	rg, err := reporting.NewReportGenerator(&config.ReportsConfig{Formats: []string{"json"}})
	require.NoError(t, err)
	data, err := rg.GenerateReport(sampleRun())
	require.NoError(t, err)
	_, err = rg.ExportReport(data, src)
	require.NoError(t, err)

	cfg := o.CreateReportsConfig(&s.Config.Reports, []string{"txt"}, true)
	require.NoError(t, o.GenerateReports(context.Background(), Selection{InputPath: src}, cfg, false))
	assert.FileExists(t, filepath.Join(cfg.OutputDir, "ravenlog_report_run-a.txt"))

	// the store is only needed without an input path
	err = o.GenerateReports(context.Background(), Selection{}, cfg, false)
	assert.ErrorIs(t, err, session.ErrStoreDisabled)
}
