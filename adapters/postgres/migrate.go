package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// Migrate creates the schema when it does not exist yet. Idempotent; safe to
// run on every startup.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS experiments (
			id              TEXT PRIMARY KEY,
			name            TEXT NOT NULL,
			status          TEXT NOT NULL,
			config          JSONB NOT NULL,
			assignments     JSONB NOT NULL DEFAULT '[]',
			metrics         JSONB NOT NULL DEFAULT '{}',
			scheduled_total INTEGER NOT NULL DEFAULT 0,
			last_error      TEXT NOT NULL DEFAULT '',
			created_at      TIMESTAMPTZ NOT NULL,
			started_at      TIMESTAMPTZ,
			paused_at       TIMESTAMPTZ,
			stopped_at      TIMESTAMPTZ,
			completed_at    TIMESTAMPTZ,
			updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS call_log (
			call_id     TEXT PRIMARY KEY,
			test_id     TEXT NOT NULL,
			lead_id     TEXT NOT NULL,
			group_label TEXT NOT NULL,
			outcome     TEXT NOT NULL,
			duration_ms BIGINT NOT NULL DEFAULT 0,
			attempt     INTEGER NOT NULL,
			occurred_at TIMESTAMPTZ NOT NULL,
			spam_score  DOUBLE PRECISION NOT NULL DEFAULT 0,
			spam_labels JSONB NOT NULL DEFAULT '[]',
			call_error  TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_call_log_test ON call_log (test_id, occurred_at)`,
		`CREATE INDEX IF NOT EXISTS idx_experiments_status ON experiments (status)`,
	}
	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
