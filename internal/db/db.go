// Package db is the Postgres store for videos, beats, assets and jobs.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

type DB struct {
	*sql.DB
}

// New opens a pooled connection and verifies it.
func New(ctx context.Context, databaseURL string) (*DB, error) {
	conn, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	conn.SetMaxOpenConns(10)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := conn.PingContext(pingCtx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{DB: conn}, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS videos (
	id                   UUID PRIMARY KEY,
	topic                TEXT NOT NULL,
	keywords             TEXT[] NOT NULL DEFAULT '{}',
	config               JSONB NOT NULL,
	status               TEXT NOT NULL,
	progress             INTEGER NOT NULL DEFAULT 0,
	current_step         TEXT NOT NULL DEFAULT '',
	total_duration_sec   DOUBLE PRECISION,
	narration_degraded   BOOLEAN NOT NULL DEFAULT FALSE,
	degraded_reason      TEXT,
	final_video_asset_id UUID,
	report_asset_id      UUID,
	error_code           TEXT,
	error_message        TEXT,
	created_at           TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at           TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS videos_status_created_idx ON videos (status, created_at DESC);

CREATE TABLE IF NOT EXISTS beats (
	id            UUID PRIMARY KEY,
	video_id      UUID NOT NULL REFERENCES videos(id) ON DELETE CASCADE,
	beat_index    INTEGER NOT NULL,
	start_sec     DOUBLE PRECISION NOT NULL,
	end_sec       DOUBLE PRECISION NOT NULL,
	duration_sec  DOUBLE PRECISION NOT NULL,
	script        TEXT NOT NULL DEFAULT '',
	image_url     TEXT,
	image_credit  TEXT,
	effect        JSONB,
	status        TEXT NOT NULL,
	error_message TEXT,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	UNIQUE (video_id, beat_index)
);

CREATE TABLE IF NOT EXISTS assets (
	id             UUID PRIMARY KEY,
	video_id       UUID NOT NULL REFERENCES videos(id) ON DELETE CASCADE,
	type           TEXT NOT NULL,
	storage_bucket TEXT NOT NULL,
	storage_path   TEXT NOT NULL,
	content_type   TEXT,
	byte_size      BIGINT,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS assets_video_type_idx ON assets (video_id, type, created_at DESC);

CREATE TABLE IF NOT EXISTS jobs (
	id            UUID PRIMARY KEY,
	video_id      UUID NOT NULL REFERENCES videos(id) ON DELETE CASCADE,
	type          TEXT NOT NULL,
	status        TEXT NOT NULL,
	attempts      INTEGER NOT NULL DEFAULT 0,
	started_at    TIMESTAMPTZ,
	finished_at   TIMESTAMPTZ,
	error_code    TEXT,
	error_message TEXT,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`

// Migrate creates the schema if it does not exist.
func (db *DB) Migrate(ctx context.Context) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}
