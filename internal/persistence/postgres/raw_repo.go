package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/oddsline/matchcore/internal/evidence"
	"github.com/oddsline/matchcore/internal/persistence"
)

// rawRepo implements RawRepo for PostgreSQL. The evidence collector
// writes through SaveRaw on every non-blocked fetch.
type rawRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

func NewRawRepo(db *sqlx.DB, timeout time.Duration) persistence.RawRepo {
	return &rawRepo{db: db, timeout: timeout}
}

func (r *rawRepo) SaveRaw(ctx context.Context, matchID string, domain evidence.Domain, source string, payload map[string]any) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal raw payload: %w", err)
	}

	query := `
		INSERT INTO raw_payloads (match_id, domain, source, payload)
		VALUES ($1, $2, $3, $4)`
	_, err = r.db.ExecContext(ctx, query, matchID, string(domain), source, payloadJSON)
	if err != nil {
		return fmt.Errorf("failed to insert raw payload: %w", err)
	}
	return nil
}

func (r *rawRepo) ListByMatch(ctx context.Context, matchID string, limit int) ([]persistence.RawPayload, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT id, match_id, domain, source, payload, created_at
		FROM raw_payloads WHERE match_id = $1
		ORDER BY created_at DESC
		LIMIT $2`
	rows, err := r.db.QueryxContext(ctx, query, matchID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list raw payloads: %w", err)
	}
	defer rows.Close()

	var payloads []persistence.RawPayload
	for rows.Next() {
		var p persistence.RawPayload
		var payloadJSON []byte
		err := rows.Scan(&p.ID, &p.MatchID, &p.Domain, &p.Source, &payloadJSON, &p.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan raw payload: %w", err)
		}
		if len(payloadJSON) > 0 {
			if err := json.Unmarshal(payloadJSON, &p.Payload); err != nil {
				return nil, fmt.Errorf("failed to unmarshal raw payload: %w", err)
			}
		}
		payloads = append(payloads, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating raw payload rows: %w", err)
	}
	return payloads, nil
}
