package report

import (
	"fmt"

	"github.com/ajkula/ravenlog/pkg/store"
)

// RunValidator handles validation of loaded runs
type RunValidator struct{}

// NewRunValidator creates a new run validator
func NewRunValidator() *RunValidator {
	return &RunValidator{}
}

// ValidateRun checks that a run can be rendered
func (v *RunValidator) ValidateRun(run *store.Run) error {
	if run == nil {
		return fmt.Errorf("run is nil")
	}

	if run.ID == "" {
		return fmt.Errorf("invalid run: missing ID")
	}

	if run.StartedAt.IsZero() {
		return fmt.Errorf("invalid run: missing start time")
	}

	if run.PValueThreshold < 0 || run.PValueThreshold > 1 {
		return fmt.Errorf("invalid run: p-value threshold %v outside [0,1]", run.PValueThreshold)
	}

	if run.Table == nil {
		return fmt.Errorf("invalid run: no score table")
	}

	// every parsed record has exactly one score row
	if run.Stats.Parsed != len(run.Table.Rows) {
		return fmt.Errorf("invalid run: %d parsed records but %d score rows", run.Stats.Parsed, len(run.Table.Rows))
	}

	for i, row := range run.Table.Rows {
		if row.Scores.CharDistPValue.Valid && (row.Scores.CharDistPValue.Value < 0 || row.Scores.CharDistPValue.Value > 1) {
			return fmt.Errorf("invalid run: row %d p-value %v outside [0,1]", i, row.Scores.CharDistPValue.Value)
		}
		if row.Cluster < -1 || (run.Clusters > 0 && row.Cluster >= run.Clusters) {
			return fmt.Errorf("invalid run: row %d cluster label %d", i, row.Cluster)
		}
	}

	return nil
}

// ValidateRuns validates a slice of runs
func (v *RunValidator) ValidateRuns(runs []*store.Run) error {
	if len(runs) == 0 {
		return fmt.Errorf("no runs to validate")
	}

	for i, run := range runs {
		if err := v.ValidateRun(run); err != nil {
			return fmt.Errorf("validation failed for run %d: %w", i, err)
		}
	}

	return nil
}
