package reporting

import (
	"sort"
	"strings"

	"github.com/ajkula/ravenlog/pkg/anomaly"
	"github.com/ajkula/ravenlog/pkg/store"
)

// topLimit caps the top-N lists of the analysis
const topLimit = 10

// Analysis locates the anomalies of a run
type Analysis struct {
	TopHosts    []Count      `json:"top_hosts"`
	TopPaths    []Count      `json:"top_paths"`
	FlaggedRows []FlaggedRow `json:"flagged_rows"`
}

// Count is a key with its number of flagged requests
type Count struct {
	Key   string `json:"key"`
	Count int    `json:"count"`
}

// FlaggedRow is a record that raised at least one signal
type FlaggedRow struct {
	Line    int            `json:"line"`
	Host    string         `json:"remote_host"`
	Method  string         `json:"http_method"`
	URL     string         `json:"request_url"`
	Status  string         `json:"status"`
	Signals []string       `json:"signals"`
	PValue  anomaly.PValue `json:"char_dist_pvalue"`
	Cluster int            `json:"cluster"`
}

func (rg *ReportGenerator) analyzeRun(run *store.Run) Analysis {
	analysis := Analysis{
		TopHosts:    []Count{},
		TopPaths:    []Count{},
		FlaggedRows: []FlaggedRow{},
	}

	hosts := make(map[string]int)
	paths := make(map[string]int)

	for _, row := range run.Table.Rows {
		signals := row.Scores.Signals(run.PValueThreshold)
		if len(signals) == 0 {
			continue
		}

		rec := row.Record
		hosts[rec.RemoteHost]++
		paths[pathOf(rec.URL)]++

		analysis.FlaggedRows = append(analysis.FlaggedRows, FlaggedRow{
			Line:    rec.Line,
			Host:    rec.RemoteHost,
			Method:  rec.Method,
			URL:     rec.URL,
			Status:  rec.Status,
			Signals: signals,
			PValue:  row.Scores.CharDistPValue,
			Cluster: row.Cluster,
		})
	}

	analysis.TopHosts = topCounts(hosts, topLimit)
	analysis.TopPaths = topCounts(paths, topLimit)
	return analysis
}

// topCounts sorts by count, then key, and keeps the first n
func topCounts(counts map[string]int, n int) []Count {
	out := make([]Count, 0, len(counts))
	for k, c := range counts {
		out = append(out, Count{Key: k, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Key < out[j].Key
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

func pathOf(rawURL string) string {
	path, _, _ := strings.Cut(rawURL, "?")
	if path == "" {
		return "(empty)"
	}
	return path
}
