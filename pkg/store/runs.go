package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ajkula/ravenlog/pkg/anomaly"
	"github.com/ajkula/ravenlog/pkg/logparse"
)

// Run is one scoring pass over a log source
type Run struct {
	ID              string              `json:"id"`
	ProfileID       string              `json:"profile_id"`
	Source          string              `json:"source"`
	Format          string              `json:"log_format"`
	StartedAt       time.Time           `json:"started_at"`
	Duration        time.Duration       `json:"duration"`
	PValueThreshold float64             `json:"pvalue_threshold"`
	Clusters        int                 `json:"clusters"` // k, 0 when not clustered
	Stats           logparse.Stats      `json:"stats"`
	Table           *anomaly.ScoreTable `json:"table,omitempty"`
}

// NewRunID returns a fresh run identifier
func NewRunID() string {
	return uuid.NewString()
}

// SaveRun stores the run and every score row in one transaction. An empty
// ID is replaced by a new one.
func (s *Store) SaveRun(ctx context.Context, run *Run) error {
	if run.ID == "" {
		run.ID = NewRunID()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx, `
INSERT INTO runs(id, profile_id, source, log_format, started_at, duration_ns,
                 pvalue_threshold, clusters, lines, parsed, skipped, blank)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.ProfileID, run.Source, run.Format, formatTime(run.StartedAt), int64(run.Duration),
		run.PValueThreshold, run.Clusters, run.Stats.Lines, run.Stats.Parsed, run.Stats.Skipped, run.Stats.Blank)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	if run.Table != nil {
		stmt, err := tx.PrepareContext(ctx, `
INSERT INTO scores(run_id, seq, record, uri_length, char_dist_pvalue, param_sets_novel, param_lists_novel, cluster)
VALUES(?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("prepare score insert: %w", err)
		}
		defer stmt.Close()

		for i, row := range run.Table.Rows {
			record, err := json.Marshal(row.Record)
			if err != nil {
				return fmt.Errorf("encode record %d: %w", i, err)
			}
			var pvalue sql.NullFloat64
			if row.Scores.CharDistPValue.Valid {
				pvalue = sql.NullFloat64{Float64: row.Scores.CharDistPValue.Value, Valid: true}
			}
			if _, err := stmt.ExecContext(ctx, run.ID, i, string(record),
				row.Scores.URILengthFlag, pvalue, row.Scores.ParamSetNovel, row.Scores.ParamListNovel, row.Cluster); err != nil {
				return fmt.Errorf("insert score %d: %w", i, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit run: %w", err)
	}
	return nil
}

// GetRun loads a run with its full score table in input order
func (s *Store) GetRun(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, runColumns+` WHERE id = ?`, id)
	run, err := scanRun(row)
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", id, err)
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT record, uri_length, char_dist_pvalue, param_sets_novel, param_lists_novel, cluster
FROM scores WHERE run_id = ? ORDER BY seq ASC`, id)
	if err != nil {
		return nil, fmt.Errorf("query scores: %w", err)
	}
	defer rows.Close()

	table := &anomaly.ScoreTable{Rows: []anomaly.ScoredRecord{}}
	for rows.Next() {
		var (
			record string
			pvalue sql.NullFloat64
			row    anomaly.ScoredRecord
		)
		if err := rows.Scan(&record, &row.Scores.URILengthFlag, &pvalue,
			&row.Scores.ParamSetNovel, &row.Scores.ParamListNovel, &row.Cluster); err != nil {
			return nil, fmt.Errorf("scan score: %w", err)
		}
		if err := json.Unmarshal([]byte(record), &row.Record); err != nil {
			return nil, fmt.Errorf("decode record: %w", err)
		}
		if pvalue.Valid {
			row.Scores.CharDistPValue = anomaly.Known(pvalue.Float64)
		}
		table.Rows = append(table.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate scores: %w", err)
	}

	run.Table = table
	return run, nil
}

// ListRuns returns the most recent runs without their score tables
func (s *Store) ListRuns(ctx context.Context, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, runColumns+` ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// LatestRun loads the most recent run with its score table
func (s *Store) LatestRun(ctx context.Context) (*Run, error) {
	runs, err := s.ListRuns(ctx, 1)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, fmt.Errorf("latest run: %w", ErrNotFound)
	}
	return s.GetRun(ctx, runs[0].ID)
}

const runColumns = `
SELECT id, profile_id, source, log_format, started_at, duration_ns,
       pvalue_threshold, clusters, lines, parsed, skipped, blank
FROM runs`

func scanRun(row rowScanner) (*Run, error) {
	var (
		run       Run
		startedAt string
		duration  int64
	)
	err := row.Scan(&run.ID, &run.ProfileID, &run.Source, &run.Format, &startedAt, &duration,
		&run.PValueThreshold, &run.Clusters,
		&run.Stats.Lines, &run.Stats.Parsed, &run.Stats.Skipped, &run.Stats.Blank)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan run: %w", err)
	}

	if run.StartedAt, err = parseTime(startedAt); err != nil {
		return nil, err
	}
	run.Duration = time.Duration(duration)
	return &run, nil
}
