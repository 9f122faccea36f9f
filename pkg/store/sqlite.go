// Package store persists profiles and scoring runs in SQLite
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // pure-Go SQLite driver (no CGO required)
)

// ErrNotFound is returned when a profile or run does not exist
var ErrNotFound = errors.New("not found")

// migrations are applied in order; applied versions are tracked in
// schema_versions
var migrations = []struct {
	version int
	sql     string
}{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS profiles (
    id               TEXT PRIMARY KEY,
    source           TEXT NOT NULL DEFAULT '',
    log_format       TEXT NOT NULL DEFAULT '',
    training_records INTEGER NOT NULL DEFAULT 0,
    body             TEXT NOT NULL,
    created_at       TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_profiles_created_at ON profiles(created_at DESC);

CREATE TABLE IF NOT EXISTS runs (
    id               TEXT PRIMARY KEY,
    profile_id       TEXT NOT NULL REFERENCES profiles(id),
    source           TEXT NOT NULL DEFAULT '',
    log_format       TEXT NOT NULL DEFAULT '',
    started_at       TEXT NOT NULL,
    duration_ns      INTEGER NOT NULL DEFAULT 0,
    pvalue_threshold REAL NOT NULL DEFAULT 0,
    clusters         INTEGER NOT NULL DEFAULT 0,
    lines            INTEGER NOT NULL DEFAULT 0,
    parsed           INTEGER NOT NULL DEFAULT 0,
    skipped          INTEGER NOT NULL DEFAULT 0,
    blank            INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at DESC);

CREATE TABLE IF NOT EXISTS scores (
    run_id            TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    seq               INTEGER NOT NULL,
    record            TEXT NOT NULL,
    uri_length        INTEGER NOT NULL,
    char_dist_pvalue  REAL,
    param_sets_novel  INTEGER NOT NULL,
    param_lists_novel INTEGER NOT NULL,
    cluster           INTEGER NOT NULL DEFAULT -1,
    PRIMARY KEY (run_id, seq)
);
`,
	},
	// Migration 2: lookup of flagged rows per run
	{
		version: 2,
		sql: `
CREATE INDEX IF NOT EXISTS idx_scores_flags ON scores(run_id, uri_length, param_sets_novel, param_lists_novel);
`,
	},
}

// Store wraps the SQLite database
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and applies pending
// migrations. ":memory:" gives a private in-memory database.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}
	// a single connection keeps ":memory:" databases coherent and serialises writers
	db.SetMaxOpenConns(1)

	if path != ":memory:" {
		if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("enable WAL: %w", err)
		}
	}
	if _, err := db.Exec(`PRAGMA foreign_keys=ON`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_versions (
        version    INTEGER PRIMARY KEY,
        applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
    )`)
	if err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}

	for _, m := range migrations {
		var count int
		err := s.db.QueryRow(`SELECT COUNT(*) FROM schema_versions WHERE version = ?`, m.version).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %d: %w", m.version, err)
		}
		if count > 0 {
			continue
		}

		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("apply migration %d: %w", m.version, err)
		}
		if _, err := s.db.Exec(`INSERT INTO schema_versions(version) VALUES(?)`, m.version); err != nil {
			return fmt.Errorf("record migration %d: %w", m.version, err)
		}
	}
	return nil
}

// SchemaVersion returns the highest applied migration
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	var v int
	if err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_versions`).Scan(&v); err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return v, nil
}

// Close releases the database
func (s *Store) Close() error { return s.db.Close() }

// Ping checks the connection
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// timeLayout is fixed width so stored timestamps sort as text
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", s, err)
	}
	return t, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}
