package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// schema is applied idempotently on startup when storage is enabled.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS analysis_runs (
		id BIGSERIAL PRIMARY KEY,
		run_id TEXT NOT NULL UNIQUE,
		match_id TEXT NOT NULL,
		snapshot_id TEXT NOT NULL DEFAULT '',
		analyzer_version TEXT NOT NULL,
		policy_version TEXT NOT NULL,
		policy_checksum TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		input_hash TEXT NOT NULL,
		output_hash TEXT NOT NULL,
		flags TEXT[] NOT NULL DEFAULT '{}',
		audit JSONB,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_analysis_runs_match ON analysis_runs (match_id, created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS predictions (
		id BIGSERIAL PRIMARY KEY,
		run_id TEXT NOT NULL REFERENCES analysis_runs (run_id) ON DELETE CASCADE,
		match_id TEXT NOT NULL,
		market TEXT NOT NULL,
		decision TEXT NOT NULL,
		selection TEXT,
		confidence DOUBLE PRECISION,
		reason_codes TEXT[] NOT NULL DEFAULT '{}',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_predictions_run ON predictions (run_id)`,
	`CREATE TABLE IF NOT EXISTS prediction_outcomes (
		id BIGSERIAL PRIMARY KEY,
		match_id TEXT NOT NULL,
		market TEXT NOT NULL,
		pick TEXT NOT NULL,
		outcome TEXT NOT NULL,
		final_home INTEGER NOT NULL,
		final_away INTEGER NOT NULL,
		settled_at TIMESTAMPTZ NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (match_id, market)
	)`,
	`CREATE TABLE IF NOT EXISTS snapshot_resolutions (
		id BIGSERIAL PRIMARY KEY,
		snapshot_id TEXT NOT NULL,
		match_id TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		detail JSONB,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_snapshot_resolutions_snapshot ON snapshot_resolutions (snapshot_id)`,
	`CREATE TABLE IF NOT EXISTS raw_payloads (
		id BIGSERIAL PRIMARY KEY,
		match_id TEXT NOT NULL,
		domain TEXT NOT NULL,
		source TEXT NOT NULL,
		payload JSONB NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_raw_payloads_match ON raw_payloads (match_id, created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS team_aliases (
		id BIGSERIAL PRIMARY KEY,
		team_id TEXT NOT NULL,
		alias TEXT NOT NULL,
		alias_norm TEXT NOT NULL,
		language TEXT NOT NULL DEFAULT '',
		quality DOUBLE PRECISION NOT NULL DEFAULT 1,
		UNIQUE (team_id, alias_norm)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_team_aliases_norm ON team_aliases (alias_norm)`,
	`CREATE TABLE IF NOT EXISTS matches (
		match_id TEXT PRIMARY KEY,
		home_team_id TEXT NOT NULL,
		away_team_id TEXT NOT NULL,
		kickoff_utc TIMESTAMPTZ NOT NULL,
		competition_id TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS idx_matches_teams ON matches (home_team_id, away_team_id)`,
}

// Migrate applies the schema statements in order.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	for i, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration statement %d failed: %w", i, err)
		}
	}
	return nil
}
