package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/oddsline/matchcore/internal/persistence"
)

// runsRepo implements RunsRepo for PostgreSQL.
type runsRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

func NewRunsRepo(db *sqlx.DB, timeout time.Duration) persistence.RunsRepo {
	return &runsRepo{db: db, timeout: timeout}
}

const runColumns = `id, run_id, match_id, snapshot_id, analyzer_version, policy_version,
	policy_checksum, status, input_hash, output_hash, flags, audit, created_at`

// InsertRun stores the run and its predictions in one transaction.
func (r *runsRepo) InsertRun(ctx context.Context, run persistence.AnalysisRunRecord, predictions []persistence.Prediction) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	auditJSON, err := json.Marshal(run.Audit)
	if err != nil {
		return fmt.Errorf("failed to marshal run audit: %w", err)
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO analysis_runs (run_id, match_id, snapshot_id, analyzer_version,
			policy_version, policy_checksum, status, input_hash, output_hash, flags, audit)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id, created_at`

	err = tx.QueryRowxContext(ctx, query,
		run.RunID, run.MatchID, run.SnapshotID, run.AnalyzerVersion,
		run.PolicyVersion, run.PolicyChecksum, run.Status,
		run.InputHash, run.OutputHash, pq.Array(run.Flags), auditJSON).
		Scan(&run.ID, &run.CreatedAt)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return fmt.Errorf("duplicate run %s: %w", run.RunID, err)
		}
		return fmt.Errorf("failed to insert analysis run: %w", err)
	}

	if len(predictions) > 0 {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO predictions (run_id, match_id, market, decision, selection, confidence, reason_codes)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`)
		if err != nil {
			return fmt.Errorf("failed to prepare prediction insert: %w", err)
		}
		defer stmt.Close()

		for _, p := range predictions {
			_, err = stmt.ExecContext(ctx,
				run.RunID, p.MatchID, p.Market, p.Decision,
				p.Selection, p.Confidence, pq.Array(p.ReasonCodes))
			if err != nil {
				return fmt.Errorf("failed to insert prediction for %s: %w", p.Market, err)
			}
		}
	}

	return tx.Commit()
}

func (r *runsRepo) GetRun(ctx context.Context, runID string) (*persistence.AnalysisRunRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `SELECT ` + runColumns + ` FROM analysis_runs WHERE run_id = $1`
	run, err := r.scanRun(r.db.QueryRowxContext(ctx, query, runID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

func (r *runsRepo) LatestRun(ctx context.Context, matchID string) (*persistence.AnalysisRunRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `SELECT ` + runColumns + `
		FROM analysis_runs WHERE match_id = $1
		ORDER BY created_at DESC LIMIT 1`
	run, err := r.scanRun(r.db.QueryRowxContext(ctx, query, matchID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get latest run: %w", err)
	}
	return run, nil
}

func (r *runsRepo) ListRunsByMatch(ctx context.Context, matchID string, limit int) ([]persistence.AnalysisRunRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `SELECT ` + runColumns + `
		FROM analysis_runs WHERE match_id = $1
		ORDER BY created_at DESC LIMIT $2`
	rows, err := r.db.QueryxContext(ctx, query, matchID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs by match: %w", err)
	}
	defer rows.Close()

	var runs []persistence.AnalysisRunRecord
	for rows.Next() {
		run, err := r.scanRunFromRows(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating run rows: %w", err)
	}
	return runs, nil
}

func (r *runsRepo) ListPredictions(ctx context.Context, runID string) ([]persistence.Prediction, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT id, run_id, match_id, market, decision, selection, confidence, reason_codes, created_at
		FROM predictions WHERE run_id = $1
		ORDER BY market`
	rows, err := r.db.QueryxContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list predictions: %w", err)
	}
	defer rows.Close()

	var preds []persistence.Prediction
	for rows.Next() {
		var p persistence.Prediction
		var codes pq.StringArray
		err := rows.Scan(&p.ID, &p.RunID, &p.MatchID, &p.Market, &p.Decision,
			&p.Selection, &p.Confidence, &codes, &p.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan prediction: %w", err)
		}
		p.ReasonCodes = []string(codes)
		preds = append(preds, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating prediction rows: %w", err)
	}
	return preds, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *runsRepo) scanRun(row rowScanner) (*persistence.AnalysisRunRecord, error) {
	var run persistence.AnalysisRunRecord
	var flags pq.StringArray
	var auditJSON []byte

	err := row.Scan(
		&run.ID, &run.RunID, &run.MatchID, &run.SnapshotID,
		&run.AnalyzerVersion, &run.PolicyVersion, &run.PolicyChecksum,
		&run.Status, &run.InputHash, &run.OutputHash,
		&flags, &auditJSON, &run.CreatedAt)
	if err != nil {
		return nil, err
	}

	run.Flags = []string(flags)
	if len(auditJSON) > 0 {
		if err := json.Unmarshal(auditJSON, &run.Audit); err != nil {
			return nil, fmt.Errorf("failed to unmarshal run audit: %w", err)
		}
	}
	return &run, nil
}

func (r *runsRepo) scanRunFromRows(rows *sqlx.Rows) (*persistence.AnalysisRunRecord, error) {
	return r.scanRun(rows)
}
