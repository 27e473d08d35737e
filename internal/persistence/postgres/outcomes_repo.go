package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/oddsline/matchcore/internal/persistence"
)

// outcomesRepo implements OutcomesRepo for PostgreSQL.
type outcomesRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

func NewOutcomesRepo(db *sqlx.DB, timeout time.Duration) persistence.OutcomesRepo {
	return &outcomesRepo{db: db, timeout: timeout}
}

const outcomeColumns = `id, match_id, market, pick, outcome, final_home, final_away, settled_at, created_at`

// Upsert replaces the outcome row for (match_id, market).
func (r *outcomesRepo) Upsert(ctx context.Context, o persistence.PredictionOutcome) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		INSERT INTO prediction_outcomes (match_id, market, pick, outcome, final_home, final_away, settled_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (match_id, market) DO UPDATE SET
			pick = EXCLUDED.pick,
			outcome = EXCLUDED.outcome,
			final_home = EXCLUDED.final_home,
			final_away = EXCLUDED.final_away,
			settled_at = EXCLUDED.settled_at`

	_, err := r.db.ExecContext(ctx, query,
		o.MatchID, o.Market, o.Pick, o.Outcome, o.FinalHome, o.FinalAway, o.SettledAt)
	if err != nil {
		return fmt.Errorf("failed to upsert outcome: %w", err)
	}
	return nil
}

func (r *outcomesRepo) ListByMatch(ctx context.Context, matchID string) ([]persistence.PredictionOutcome, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `SELECT ` + outcomeColumns + `
		FROM prediction_outcomes WHERE match_id = $1
		ORDER BY market`
	rows, err := r.db.QueryxContext(ctx, query, matchID)
	if err != nil {
		return nil, fmt.Errorf("failed to list outcomes by match: %w", err)
	}
	defer rows.Close()

	return r.scanOutcomes(rows)
}

func (r *outcomesRepo) ListRange(ctx context.Context, tr persistence.TimeRange) ([]persistence.PredictionOutcome, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `SELECT ` + outcomeColumns + `
		FROM prediction_outcomes
		WHERE settled_at >= $1 AND settled_at <= $2
		ORDER BY settled_at ASC, match_id ASC, market ASC`
	rows, err := r.db.QueryxContext(ctx, query, tr.From, tr.To)
	if err != nil {
		return nil, fmt.Errorf("failed to list outcomes in range: %w", err)
	}
	defer rows.Close()

	return r.scanOutcomes(rows)
}

func (r *outcomesRepo) scanOutcomes(rows *sqlx.Rows) ([]persistence.PredictionOutcome, error) {
	var outcomes []persistence.PredictionOutcome
	for rows.Next() {
		var o persistence.PredictionOutcome
		err := rows.Scan(&o.ID, &o.MatchID, &o.Market, &o.Pick, &o.Outcome,
			&o.FinalHome, &o.FinalAway, &o.SettledAt, &o.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan outcome: %w", err)
		}
		outcomes = append(outcomes, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating outcome rows: %w", err)
	}
	return outcomes, nil
}
