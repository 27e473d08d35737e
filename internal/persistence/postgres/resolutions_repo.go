package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/oddsline/matchcore/internal/persistence"
)

// resolutionsRepo implements ResolutionsRepo for PostgreSQL.
type resolutionsRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

func NewResolutionsRepo(db *sqlx.DB, timeout time.Duration) persistence.ResolutionsRepo {
	return &resolutionsRepo{db: db, timeout: timeout}
}

func (r *resolutionsRepo) Insert(ctx context.Context, res persistence.SnapshotResolution) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	detailJSON, err := json.Marshal(res.Detail)
	if err != nil {
		return fmt.Errorf("failed to marshal resolution detail: %w", err)
	}

	query := `
		INSERT INTO snapshot_resolutions (snapshot_id, match_id, status, detail)
		VALUES ($1, $2, $3, $4)`
	_, err = r.db.ExecContext(ctx, query, res.SnapshotID, res.MatchID, res.Status, detailJSON)
	if err != nil {
		return fmt.Errorf("failed to insert snapshot resolution: %w", err)
	}
	return nil
}

func (r *resolutionsRepo) ListBySnapshot(ctx context.Context, snapshotID string) ([]persistence.SnapshotResolution, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT id, snapshot_id, match_id, status, detail, created_at
		FROM snapshot_resolutions WHERE snapshot_id = $1
		ORDER BY created_at DESC`
	rows, err := r.db.QueryxContext(ctx, query, snapshotID)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshot resolutions: %w", err)
	}
	defer rows.Close()

	var results []persistence.SnapshotResolution
	for rows.Next() {
		var res persistence.SnapshotResolution
		var detailJSON []byte
		err := rows.Scan(&res.ID, &res.SnapshotID, &res.MatchID, &res.Status, &detailJSON, &res.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan snapshot resolution: %w", err)
		}
		if len(detailJSON) > 0 {
			if err := json.Unmarshal(detailJSON, &res.Detail); err != nil {
				return nil, fmt.Errorf("failed to unmarshal resolution detail: %w", err)
			}
		}
		results = append(results, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating resolution rows: %w", err)
	}
	return results, nil
}
