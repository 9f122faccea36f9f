package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ajkula/ravenlog/pkg/anomaly"
)

// ProfileRecord is a stored profile
type ProfileRecord struct {
	ID        string           `json:"id"`
	Source    string           `json:"source"`
	CreatedAt time.Time        `json:"created_at"`
	Profile   *anomaly.Profile `json:"profile"`
}

// SaveProfile stores p and returns its new ID
func (s *Store) SaveProfile(ctx context.Context, source string, p *anomaly.Profile) (*ProfileRecord, error) {
	body, err := anomaly.MarshalProfile(p)
	if err != nil {
		return nil, err
	}

	rec := &ProfileRecord{
		ID:        uuid.NewString(),
		Source:    source,
		CreatedAt: time.Now().UTC(),
		Profile:   p,
	}

	_, err = s.db.ExecContext(ctx, `
INSERT INTO profiles(id, source, log_format, training_records, body, created_at)
VALUES(?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Source, p.Metadata.LogFormat, p.Metadata.TrainingRecords, string(body), formatTime(rec.CreatedAt))
	if err != nil {
		return nil, fmt.Errorf("insert profile: %w", err)
	}
	return rec, nil
}

// GetProfile loads the profile with the given ID
func (s *Store) GetProfile(ctx context.Context, id string) (*ProfileRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, source, body, created_at FROM profiles WHERE id = ?`, id)
	rec, err := scanProfile(row)
	if err != nil {
		return nil, fmt.Errorf("get profile %s: %w", id, err)
	}
	return rec, nil
}

// LatestProfile loads the most recently stored profile
func (s *Store) LatestProfile(ctx context.Context) (*ProfileRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, source, body, created_at FROM profiles ORDER BY created_at DESC, rowid DESC LIMIT 1`)
	rec, err := scanProfile(row)
	if err != nil {
		return nil, fmt.Errorf("latest profile: %w", err)
	}
	return rec, nil
}

func scanProfile(row rowScanner) (*ProfileRecord, error) {
	var (
		rec       ProfileRecord
		body      string
		createdAt string
	)
	if err := row.Scan(&rec.ID, &rec.Source, &body, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	p, err := anomaly.UnmarshalProfile([]byte(body))
	if err != nil {
		return nil, err
	}
	rec.Profile = p

	if rec.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &rec, nil
}
