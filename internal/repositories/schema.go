package repositories

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS scenes (
	id              TEXT PRIMARY KEY,
	name            TEXT NOT NULL UNIQUE,
	description     TEXT NOT NULL DEFAULT '',
	definition_json JSONB NOT NULL,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	deleted_at      TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS render_jobs (
	id               TEXT PRIMARY KEY,
	name             TEXT NOT NULL DEFAULT '',
	scene_id         TEXT REFERENCES scenes(id),
	status           TEXT NOT NULL DEFAULT 'QUEUED',
	scene_json       JSONB NOT NULL,
	parallel         INT NOT NULL DEFAULT 0,
	fps              DOUBLE PRECISION NOT NULL DEFAULT 0,
	output_name      TEXT NOT NULL DEFAULT '',
	frames           INT NOT NULL DEFAULT 0,
	output_key       TEXT,
	output_provider  TEXT,
	size_bytes       BIGINT,
	error_code       TEXT,
	error_text       TEXT,
	cancel_requested BOOLEAN NOT NULL DEFAULT false,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	started_at       TIMESTAMPTZ,
	finished_at      TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS render_jobs_status_created_idx ON render_jobs (status, created_at DESC);
`

// EnsureSchema creates the tables used by the API and the worker.
func EnsureSchema(ctx context.Context, db *pgxpool.Pool) error {
	_, err := db.Exec(ctx, schemaSQL)
	return err
}
