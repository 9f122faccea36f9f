package report

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ajkula/ravenlog/cmd/session"
	"github.com/ajkula/ravenlog/pkg/reporting"
	"github.com/ajkula/ravenlog/pkg/store"
)

// Selection names the runs to report on. InputPath wins over RunID; with
// neither the latest stored run is used.
type Selection struct {
	InputPath string
	RunID     string
}

// RunLoader handles loading scoring runs from the store or from JSON reports
type RunLoader struct {
	session *session.Session
}

// NewRunLoader creates a new run loader
func NewRunLoader(s *session.Session) *RunLoader {
	return &RunLoader{
		session: s,
	}
}

// LoadRuns loads the selected runs
func (l *RunLoader) LoadRuns(ctx context.Context, sel Selection) ([]*store.Run, error) {
	if sel.InputPath != "" {
		return l.loadFromPath(sel.InputPath)
	}

	st, err := l.session.Store()
	if err != nil {
		return nil, err
	}

	var run *store.Run
	if sel.RunID != "" {
		run, err = st.GetRun(ctx, sel.RunID)
	} else {
		run, err = st.LatestRun(ctx)
	}
	if err != nil {
		return nil, err
	}
	return []*store.Run{run}, nil
}

// ListRuns returns the most recent stored runs without score tables
func (l *RunLoader) ListRuns(ctx context.Context, limit int) ([]*store.Run, error) {
	st, err := l.session.Store()
	if err != nil {
		return nil, err
	}
	return st.ListRuns(ctx, limit)
}

// loadFromPath loads runs from a JSON report file or every report in a directory
func (l *RunLoader) loadFromPath(inputPath string) ([]*store.Run, error) {
	var runs []*store.Run

	// Check if input is file or directory
	info, err := os.Stat(inputPath)
	if err != nil {
		return nil, fmt.Errorf("input path does not exist: %w", err)
	}

	if info.IsDir() {
		files, err := filepath.Glob(filepath.Join(inputPath, "ravenlog_report_*.json"))
		if err != nil {
			return nil, fmt.Errorf("failed to list JSON reports: %w", err)
		}

		if len(files) == 0 {
			return nil, fmt.Errorf("no JSON reports found in directory: %s", inputPath)
		}

		for _, file := range files {
			run, err := l.loadSingleReport(file)
			if err != nil {
				// Skip invalid files but continue processing
				l.session.Out.PrintWarning(fmt.Sprintf("Failed to load %s: %v", file, err))
				continue
			}
			runs = append(runs, run)
		}
	} else {
		run, err := l.loadSingleReport(inputPath)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}

	if len(runs) == 0 {
		return nil, fmt.Errorf("no valid reports found")
	}

	return runs, nil
}

// loadSingleReport extracts the run from a single JSON report
func (l *RunLoader) loadSingleReport(filePath string) (*store.Run, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var report reporting.ReportData
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("failed to parse JSON: %w", err)
	}
	if report.Run == nil {
		return nil, fmt.Errorf("report has no run")
	}

	return report.Run, nil
}
