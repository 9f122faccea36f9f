package reporting

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajkula/ravenlog/pkg/anomaly"
	"github.com/ajkula/ravenlog/pkg/config"
	"github.com/ajkula/ravenlog/pkg/logparse"
	"github.com/ajkula/ravenlog/pkg/store"
)

func sampleRun() *store.Run {
	recs := []logparse.LogRecord{
		{RemoteHost: "10.0.0.1", Method: "GET", URL: "/index.html", Status: "200", Line: 1},
		{RemoteHost: "10.0.0.9", Method: "GET", URL: "/search?q=1&debug=1", Status: "200", Line: 2},
		{RemoteHost: "10.0.0.9", Method: "GET", URL: "/search?cmd=ls", Status: "404", Line: 3},
		{RemoteHost: "10.0.0.2", Method: "GET", URL: "", Status: "400", Line: 4},
	}
	scores := []anomaly.ScoreVector{
		{CharDistPValue: anomaly.Known(0.8)},
		{CharDistPValue: anomaly.Known(0.5), ParamSetNovel: true, ParamListNovel: true},
		{URILengthFlag: true, CharDistPValue: anomaly.Known(0.001), ParamSetNovel: true, ParamListNovel: true},
		{CharDistPValue: anomaly.NA},
	}
	return &store.Run{
		ID:              "run-1",
		ProfileID:       "prof-1",
		Source:          "access.log",
		Format:          "CLF",
		StartedAt:       time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		Duration:        250 * time.Millisecond,
		PValueThreshold: 0.01,
		Stats:           logparse.Stats{Lines: 5, Parsed: 4, Skipped: 1},
		Table:           anomaly.NewScoreTable(recs, scores),
	}
}

func TestNewReportGeneratorRejectsUnknownFormat(t *testing.T) {
	_, err := NewReportGenerator(&config.ReportsConfig{Formats: []string{"html"}})
	assert.Error(t, err)

	_, err = NewReportGenerator(nil)
	assert.Error(t, err)
}

func TestGenerateReportSummary(t *testing.T) {
	rg, err := NewReportGenerator(&config.ReportsConfig{Formats: []string{"json"}})
	require.NoError(t, err)

	data, err := rg.GenerateReport(sampleRun())
	require.NoError(t, err)

	s := data.Summary
	assert.Equal(t, 4, s.TotalRecords)
	assert.Equal(t, 2, s.AnomalousRecords)
	assert.InDelta(t, 50.0, s.AnomalyRate, 1e-9)
	assert.Equal(t, "CRITICAL", s.OverallRiskLevel)
	assert.Equal(t, 1, s.BySignal[anomaly.SignalURILength])
	assert.Equal(t, 1, s.BySignal[anomaly.SignalCharDist])
	assert.Equal(t, 2, s.BySignal[anomaly.SignalParamSet])
	assert.Equal(t, 1, s.PValuesNA)
	require.NotNil(t, s.MinPValue)
	assert.Equal(t, 0.001, *s.MinPValue)
	assert.Nil(t, s.ClusterSize)

	require.Len(t, data.Analysis.TopHosts, 1)
	assert.Equal(t, Count{Key: "10.0.0.9", Count: 2}, data.Analysis.TopHosts[0])
	assert.Equal(t, Count{Key: "/search", Count: 2}, data.Analysis.TopPaths[0])
	assert.Len(t, data.Analysis.FlaggedRows, 2)
}

func TestExportReportAllFormats(t *testing.T) {
	rg, err := NewReportGenerator(&config.ReportsConfig{Formats: []string{"json", "csv", "txt"}, OnlyAnomalies: true})
	require.NoError(t, err)

	run := sampleRun()
	run.Table.ApplyClusters([]int{0, 1, 1, 0})

	data, err := rg.GenerateReport(run)
	require.NoError(t, err)

	dir := t.TempDir()
	paths, err := rg.ExportReport(data, dir)
	require.NoError(t, err)
	require.Len(t, paths, 3)
	assert.Equal(t, filepath.Join(dir, "ravenlog_report_run-1.json"), paths[0])
	assert.Equal(t, filepath.Join(dir, "ravenlog_scores_run-1.csv"), paths[1])

	raw, err := os.ReadFile(paths[0])
	require.NoError(t, err)
	var decoded struct {
		Run struct {
			Table struct {
				Rows []struct {
					Scores struct {
						PValue *float64 `json:"char_dist_pvalue"`
					} `json:"scores"`
				} `json:"rows"`
			} `json:"table"`
		} `json:"run"`
	}
	require.NoError(t, json.Unmarshal(raw, &decoded))
	require.Len(t, decoded.Run.Table.Rows, 4)
	assert.Nil(t, decoded.Run.Table.Rows[3].Scores.PValue)

	text, err := os.ReadFile(paths[2])
	require.NoError(t, err)
	assert.Contains(t, string(text), "FLAGGED REQUESTS")
	assert.Contains(t, string(text), "line 3: 10.0.0.9 GET /search?cmd=ls [uri_length,char_dist,param_set,param_list] p=0.001")
	assert.Contains(t, string(text), "Cluster 1: 2 records")
}

func TestWriteScoreCSV(t *testing.T) {
	run := sampleRun()
	var buf bytes.Buffer
	require.NoError(t, WriteScoreCSV(&buf, run.Table, run.PValueThreshold))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 5)
	assert.Equal(t, csvHeader, rows[0])

	// row order follows input order
	assert.Equal(t, "1", rows[1][0])
	assert.Equal(t, "4", rows[4][0])

	third := rows[3]
	assert.Equal(t, "true", third[10])
	assert.Equal(t, "0.001", third[11])
	assert.Equal(t, "true", third[14])
	assert.Equal(t, "", third[15])

	assert.Equal(t, "N/A", rows[4][11])
	assert.Equal(t, "false", rows[4][14])
}
