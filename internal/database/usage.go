package database

import (
	"context"
	"time"
)

const usageSchema = `
CREATE TABLE IF NOT EXISTS transcription_usage (
    id            BIGSERIAL PRIMARY KEY,
    created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
    provider      TEXT NOT NULL,
    filename      TEXT NOT NULL DEFAULT '',
    status        TEXT NOT NULL,
    audio_seconds DOUBLE PRECISION NOT NULL DEFAULT 0,
    cost          DOUBLE PRECISION NOT NULL DEFAULT 0,
    processing_ms BIGINT NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_usage_created_at ON transcription_usage (created_at DESC);
`

// InitSchema creates the usage table if it doesn't exist. Idempotent.
func (db *DB) InitSchema(ctx context.Context) error {
	_, err := db.Pool.Exec(ctx, usageSchema)
	return err
}

// UsageRow is the input for recording one transcription.
type UsageRow struct {
	Provider     string
	Filename     string
	Status       string // "completed", "validation_error", "api_error", "timeout"
	AudioSeconds float64
	Cost         float64
	ProcessingMs int64
}

// UsageAPI is the usage representation for API responses.
type UsageAPI struct {
	ID           int64     `json:"id"`
	CreatedAt    time.Time `json:"created_at"`
	Provider     string    `json:"provider"`
	Filename     string    `json:"filename,omitempty"`
	Status       string    `json:"status"`
	AudioSeconds float64   `json:"audio_seconds"`
	Cost         float64   `json:"cost"`
	ProcessingMs int64     `json:"processing_ms"`
}

// InsertUsage records one transcription attempt. Callers treat failures as
// non-fatal: a usage-log problem must never mask the transcription result.
func (db *DB) InsertUsage(ctx context.Context, row *UsageRow) (int64, error) {
	var id int64
	err := db.Pool.QueryRow(ctx,
		`INSERT INTO transcription_usage (provider, filename, status, audio_seconds, cost, processing_ms)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id`,
		row.Provider, row.Filename, row.Status, row.AudioSeconds, row.Cost, row.ProcessingMs,
	).Scan(&id)
	return id, err
}

// ListUsage returns recent usage rows, newest first.
func (db *DB) ListUsage(ctx context.Context, limit, offset int) ([]UsageAPI, error) {
	rows, err := db.Pool.Query(ctx,
		`SELECT id, created_at, provider, filename, status, audio_seconds, cost, processing_ms
		 FROM transcription_usage
		 ORDER BY created_at DESC
		 LIMIT $1 OFFSET $2`,
		limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []UsageAPI
	for rows.Next() {
		var u UsageAPI
		if err := rows.Scan(&u.ID, &u.CreatedAt, &u.Provider, &u.Filename, &u.Status,
			&u.AudioSeconds, &u.Cost, &u.ProcessingMs); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}
