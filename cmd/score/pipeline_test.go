package score

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ajkula/ravenlog/cmd/fit"
	"github.com/ajkula/ravenlog/cmd/session"
	"github.com/ajkula/ravenlog/pkg/anomaly"
	"github.com/ajkula/ravenlog/pkg/config"
	"github.com/ajkula/ravenlog/pkg/logparse"
	"github.com/ajkula/ravenlog/pkg/metrics"
)

const lineFormat = `10.0.0.%d - - [10/Oct/2023:13:55:%02d -0700] "GET %s HTTP/1.1" 200 512`

func logText(urls ...string) string {
	lines := make([]string, len(urls))
	for i, u := range urls {
		lines[i] = fmt.Sprintf(lineFormat, i%250+1, i%60, u)
	}
	return strings.Join(lines, "\n") + "\n"
}

func testSession(t *testing.T) (*session.Session, *bytes.Buffer) {
	t.Helper()
	dir := t.TempDir()

	cfg := config.CreateDefaultConfig()
	cfg.Profile.Path = filepath.Join(dir, "profile.json")
	cfg.Store.Path = ":memory:"
	cfg.Reports.OutputDir = filepath.Join(dir, "reports")
	cfg.Cluster.Enable = true

	var out bytes.Buffer
	s := &session.Session{
		Config:  cfg,
		Logger:  zaptest.NewLogger(t),
		Metrics: metrics.NewCollector(),
		Out:     session.NewWriterFormatter(&out),
	}
	t.Cleanup(func() { assert.NoError(t, s.Close()) })
	return s, &out
}

var normal = []string{
	"/index.html", "/about", "/contact", "/products/12", "/products/7?ref=home",
	"/search?q=shoes&page=1", "/search?q=hats&page=2", "/images/logo.png",
}

func TestFitScoreAndExport(t *testing.T) {
	s, out := testSession(t)
	ctx := context.Background()

	var training []string
	for range 10 {
		training = append(training, normal...)
	}
	fitted, err := fit.Run(ctx, s, logparse.StringSource{Label: "train", Text: logText(training...)})
	require.NoError(t, err)
	assert.Equal(t, len(training), fitted.Profile.Metadata.TrainingRecords)
	assert.NotEmpty(t, fitted.StoredID)
	assert.FileExists(t, s.Config.Profile.Path)

	pipeline, err := NewPipeline(ctx, s, "")
	require.NoError(t, err)

	probe := logText("/about", "/search?page=1&q=shoes", "/cgi-bin/test.cgi?cmd=%2Fbin%2Fcat%20%2Fetc%2Fpasswd&x=1")
	run, err := pipeline.Score(ctx, logparse.StringSource{Label: "probe", Text: probe + "garbage line\n"})
	require.NoError(t, err)

	require.Len(t, run.Table.Rows, 3)
	assert.Equal(t, logparse.Stats{Lines: 4, Parsed: 3, Skipped: 1}, run.Stats)
	assert.Equal(t, 2, run.Clusters)

	rows := run.Table.Rows
	assert.False(t, rows[0].Scores.Anomalous(0))
	assert.False(t, rows[1].Scores.ParamSetNovel)
	assert.True(t, rows[1].Scores.ParamListNovel)
	assert.True(t, rows[2].Scores.URILengthFlag)
	assert.True(t, rows[2].Scores.ParamSetNovel)
	for _, row := range rows {
		assert.GreaterOrEqual(t, row.Cluster, 0)
	}

	stored, err := pipeline.Save(ctx, run)
	require.NoError(t, err)
	assert.True(t, stored)

	st, err := s.Store()
	require.NoError(t, err)
	back, err := st.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Len(t, back.Table.Rows, 3)

	data, paths, err := Export(s, run)
	require.NoError(t, err)
	assert.Len(t, paths, 3)
	assert.Equal(t, 2, data.Summary.AnomalousRecords)
	for _, p := range paths {
		_, err := os.Stat(p)
		assert.NoError(t, err)
	}

	DisplayRun(s.Out, data)
	assert.Contains(t, out.String(), "SCORING SUMMARY")
	assert.Contains(t, out.String(), "/cgi-bin/test.cgi")
}

func TestPipelineStoresFileProfileOnSave(t *testing.T) {
	s, _ := testSession(t)
	s.Config.Store.Enable = false
	ctx := context.Background()

	_, err := fit.Run(ctx, s, logparse.StringSource{Text: logText(normal...)})
	require.NoError(t, err)

	s.Config.Store.Enable = true
	pipeline, err := NewPipeline(ctx, s, "")
	require.NoError(t, err)
	assert.Empty(t, pipeline.Profile().ID)

	run, err := pipeline.Score(ctx, logparse.StringSource{Text: logText("/about")})
	require.NoError(t, err)

	stored, err := pipeline.Save(ctx, run)
	require.NoError(t, err)
	assert.True(t, stored)
	assert.NotEmpty(t, run.ProfileID)
	assert.Equal(t, run.ProfileID, pipeline.Profile().ID)
}

func TestNewPipelineWithoutProfile(t *testing.T) {
	s, _ := testSession(t)
	_, err := NewPipeline(context.Background(), s, "")
	assert.Error(t, err)
}

func TestScoreInChunksMatchesSinglePass(t *testing.T) {
	s, _ := testSession(t)
	ctx := context.Background()

	_, err := fit.Run(ctx, s, logparse.StringSource{Text: logText(normal...)})
	require.NoError(t, err)

	probe := logText("/about", "/x?z=1", "/search?page=1&q=shoes", "/products/12", "/index.html?debug=true&a=b")
	score := func(chunk int) *anomaly.ScoreTable {
		s.Config.Detector.CancelCheckInterval = chunk
		pipeline, err := NewPipeline(ctx, s, "")
		require.NoError(t, err)
		run, err := pipeline.Score(ctx, logparse.StringSource{Text: probe})
		require.NoError(t, err)
		return run.Table
	}

	whole := score(1024)
	chunked := score(2)

	require.Len(t, chunked.Rows, 5)
	assert.Equal(t, whole.Rows, chunked.Rows)
	for i, row := range chunked.Rows {
		assert.Equal(t, i+1, row.Record.Line)
		assert.GreaterOrEqual(t, row.Cluster, 0)
	}
}
