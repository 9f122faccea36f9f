package reporting

import (
	"gonum.org/v1/gonum/stat"

	"github.com/ajkula/ravenlog/pkg/anomaly"
	"github.com/ajkula/ravenlog/pkg/store"
)

// Summary provides high-level run results
type Summary struct {
	OverallRiskLevel string         `json:"overall_risk_level"`
	TotalRecords     int            `json:"total_records"`
	AnomalousRecords int            `json:"anomalous_records"`
	AnomalyRate      float64        `json:"anomaly_rate"` // percentage of records
	BySignal         map[string]int `json:"by_signal"`

	// Character distribution p-values
	PValuesNA  int      `json:"pvalues_na"`
	MinPValue  *float64 `json:"min_pvalue,omitempty"`
	MeanPValue *float64 `json:"mean_pvalue,omitempty"`
	PValueCut  float64  `json:"pvalue_threshold"`

	// Rows per cluster label, only when clustering ran
	ClusterSize map[int]int `json:"cluster_sizes,omitempty"`
}

// calculateSummary counts flagged rows and signals
func (rg *ReportGenerator) calculateSummary(run *store.Run) Summary {
	summary := Summary{
		TotalRecords: len(run.Table.Rows),
		BySignal: map[string]int{
			anomaly.SignalURILength: 0,
			anomaly.SignalCharDist:  0,
			anomaly.SignalParamSet:  0,
			anomaly.SignalParamList: 0,
		},
		PValueCut: run.PValueThreshold,
	}

	var pvalues []float64
	for _, row := range run.Table.Rows {
		signals := row.Scores.Signals(run.PValueThreshold)
		if len(signals) > 0 {
			summary.AnomalousRecords++
		}
		for _, s := range signals {
			summary.BySignal[s]++
		}

		if row.Scores.CharDistPValue.Valid {
			pvalues = append(pvalues, row.Scores.CharDistPValue.Value)
		} else {
			summary.PValuesNA++
		}

		if row.Cluster >= 0 {
			if summary.ClusterSize == nil {
				summary.ClusterSize = make(map[int]int)
			}
			summary.ClusterSize[row.Cluster]++
		}
	}

	if len(pvalues) > 0 {
		minP := pvalues[0]
		for _, p := range pvalues[1:] {
			minP = min(minP, p)
		}
		meanP := stat.Mean(pvalues, nil)
		summary.MinPValue = &minP
		summary.MeanPValue = &meanP
	}

	if summary.TotalRecords > 0 {
		summary.AnomalyRate = float64(summary.AnomalousRecords) / float64(summary.TotalRecords) * 100
	}
	summary.OverallRiskLevel = riskLevel(summary.AnomalyRate, summary.AnomalousRecords)

	return summary
}

// riskLevel maps the anomaly rate onto the report risk scale
func riskLevel(rate float64, anomalous int) string {
	switch {
	case rate >= 20:
		return "CRITICAL"
	case rate >= 10:
		return "HIGH"
	case rate >= 5:
		return "MEDIUM"
	case anomalous > 0:
		return "LOW"
	default:
		return "MINIMAL"
	}
}
