package anomaly

import (
	"bytes"
	"encoding/json"
	"strconv"

	"github.com/ajkula/ravenlog/pkg/logparse"
)

// PValue is a probability in [0,1], or N/A when it cannot be computed
type PValue struct {
	Value float64
	Valid bool
}

// NA is the p-value of a request that has no character distribution
var NA = PValue{}

// Known wraps a computed p-value
func Known(v float64) PValue {
	return PValue{Value: v, Valid: true}
}

// Float returns the value, coercing N/A to 0
func (p PValue) Float() float64 {
	if !p.Valid {
		return 0
	}
	return p.Value
}

// String renders the value, or "N/A"
func (p PValue) String() string {
	if !p.Valid {
		return "N/A"
	}
	return strconv.FormatFloat(p.Value, 'g', -1, 64)
}

// MarshalJSON encodes N/A as null
func (p PValue) MarshalJSON() ([]byte, error) {
	if !p.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(p.Value)
}

// UnmarshalJSON accepts a number or null
func (p *PValue) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*p = NA
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*p = Known(v)
	return nil
}

// ScoreVector holds the four anomaly signals of one request
type ScoreVector struct {
	URILengthFlag  bool   `json:"uri_length"`
	CharDistPValue PValue `json:"char_dist_pvalue"`
	ParamSetNovel  bool   `json:"param_sets_novel"`
	ParamListNovel bool   `json:"param_lists_novel"`
}

// Numeric coerces the vector for clustering: booleans become 0/1 and an
// N/A p-value becomes 0
func (v ScoreVector) Numeric() []float64 {
	return []float64{
		boolFloat(v.URILengthFlag),
		v.CharDistPValue.Float(),
		boolFloat(v.ParamSetNovel),
		boolFloat(v.ParamListNovel),
	}
}

// CharDistAnomalous reports whether the p-value falls below threshold. A
// threshold of 0 disables the check.
func (v ScoreVector) CharDistAnomalous(threshold float64) bool {
	return threshold > 0 && v.CharDistPValue.Valid && v.CharDistPValue.Value < threshold
}

// Anomalous reports whether any signal fired
func (v ScoreVector) Anomalous(threshold float64) bool {
	return v.URILengthFlag || v.ParamSetNovel || v.ParamListNovel || v.CharDistAnomalous(threshold)
}

// Signals names the signals that fired
func (v ScoreVector) Signals(threshold float64) []string {
	var out []string
	if v.URILengthFlag {
		out = append(out, SignalURILength)
	}
	if v.CharDistAnomalous(threshold) {
		out = append(out, SignalCharDist)
	}
	if v.ParamSetNovel {
		out = append(out, SignalParamSet)
	}
	if v.ParamListNovel {
		out = append(out, SignalParamList)
	}
	return out
}

// Signal names, also used as metric labels
const (
	SignalURILength = "uri_length"
	SignalCharDist  = "char_dist"
	SignalParamSet  = "param_set"
	SignalParamList = "param_list"
)

// ScoredRecord pairs a record with its scores. Cluster is -1 until k-means ran.
type ScoredRecord struct {
	Record  logparse.LogRecord `json:"record"`
	Scores  ScoreVector        `json:"scores"`
	Cluster int                `json:"cluster"`
}

// ScoreTable is the row-ordered output of a scoring pass
type ScoreTable struct {
	Rows []ScoredRecord `json:"rows"`
}

// NewScoreTable zips records with their scores. Both slices must be index aligned.
func NewScoreTable(records []logparse.LogRecord, scores []ScoreVector) *ScoreTable {
	rows := make([]ScoredRecord, len(records))
	for i := range records {
		rows[i] = ScoredRecord{Record: records[i], Scores: scores[i], Cluster: -1}
	}
	return &ScoreTable{Rows: rows}
}

// ApplyClusters sets the cluster label of every row
func (t *ScoreTable) ApplyClusters(labels []int) {
	for i := range t.Rows {
		if i < len(labels) {
			t.Rows[i].Cluster = labels[i]
		}
	}
}

// Vectors returns the numeric coercion of every row
func (t *ScoreTable) Vectors() [][]float64 {
	out := make([][]float64, len(t.Rows))
	for i, r := range t.Rows {
		out[i] = r.Scores.Numeric()
	}
	return out
}

func boolFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
