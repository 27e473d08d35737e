// Package persistence defines the repository contracts for durable
// storage: analysis runs and their per-market predictions, settled
// outcomes, snapshot resolutions, raw source payloads and the team
// alias directory the resolver reads.
package persistence

import (
	"context"
	"time"

	"github.com/oddsline/matchcore/internal/evidence"
	"github.com/oddsline/matchcore/internal/resolve"
)

// TimeRange bounds list queries.
type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// AnalysisRunRecord is one persisted analyzer run.
type AnalysisRunRecord struct {
	ID              int64          `json:"id" db:"id"`
	RunID           string         `json:"run_id" db:"run_id"`
	MatchID         string         `json:"match_id" db:"match_id"`
	SnapshotID      string         `json:"snapshot_id,omitempty" db:"snapshot_id"`
	AnalyzerVersion string         `json:"analyzer_version" db:"analyzer_version"`
	PolicyVersion   string         `json:"policy_version" db:"policy_version"`
	PolicyChecksum  string         `json:"policy_checksum,omitempty" db:"policy_checksum"`
	Status          string         `json:"status" db:"status"`
	InputHash       string         `json:"input_hash" db:"input_hash"`
	OutputHash      string         `json:"output_hash" db:"output_hash"`
	Flags           []string       `json:"flags,omitempty" db:"flags"`
	Audit           map[string]any `json:"audit,omitempty" db:"audit"`
	CreatedAt       time.Time      `json:"created_at" db:"created_at"`
}

// Prediction is one per-market decision row belonging to a run.
type Prediction struct {
	ID          int64     `json:"id" db:"id"`
	RunID       string    `json:"run_id" db:"run_id"`
	MatchID     string    `json:"match_id" db:"match_id"`
	Market      string    `json:"market" db:"market"`
	Decision    string    `json:"decision" db:"decision"`
	Selection   *string   `json:"selection,omitempty" db:"selection"`
	Confidence  *float64  `json:"confidence,omitempty" db:"confidence"`
	ReasonCodes []string  `json:"reason_codes" db:"reason_codes"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// PredictionOutcome is a settled market result for a finished match.
type PredictionOutcome struct {
	ID        int64     `json:"id" db:"id"`
	MatchID   string    `json:"match_id" db:"match_id"`
	Market    string    `json:"market" db:"market"`
	Pick      string    `json:"pick" db:"pick"`
	Outcome   string    `json:"outcome" db:"outcome"`
	FinalHome int       `json:"final_home" db:"final_home"`
	FinalAway int       `json:"final_away" db:"final_away"`
	SettledAt time.Time `json:"settled_at" db:"settled_at"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// SnapshotResolution records what a stored snapshot resolved to.
type SnapshotResolution struct {
	ID         int64          `json:"id" db:"id"`
	SnapshotID string         `json:"snapshot_id" db:"snapshot_id"`
	MatchID    string         `json:"match_id,omitempty" db:"match_id"`
	Status     string         `json:"status" db:"status"`
	Detail     map[string]any `json:"detail,omitempty" db:"detail"`
	CreatedAt  time.Time      `json:"created_at" db:"created_at"`
}

// RawPayload is one raw source payload kept for audit and replay.
type RawPayload struct {
	ID        int64          `json:"id" db:"id"`
	MatchID   string         `json:"match_id" db:"match_id"`
	Domain    string         `json:"domain" db:"domain"`
	Source    string         `json:"source" db:"source"`
	Payload   map[string]any `json:"payload" db:"payload"`
	CreatedAt time.Time      `json:"created_at" db:"created_at"`
}

// RunsRepo persists analyzer runs with their predictions.
type RunsRepo interface {
	// InsertRun stores the run and its prediction rows atomically.
	InsertRun(ctx context.Context, run AnalysisRunRecord, predictions []Prediction) error

	// GetRun returns a run by run_id, nil when absent.
	GetRun(ctx context.Context, runID string) (*AnalysisRunRecord, error)

	// LatestRun returns the newest run for a match, nil when absent.
	LatestRun(ctx context.Context, matchID string) (*AnalysisRunRecord, error)

	// ListRunsByMatch returns runs for a match, newest first.
	ListRunsByMatch(ctx context.Context, matchID string, limit int) ([]AnalysisRunRecord, error)

	// ListPredictions returns the prediction rows for one run.
	ListPredictions(ctx context.Context, runID string) ([]Prediction, error)
}

// OutcomesRepo persists settled market outcomes.
type OutcomesRepo interface {
	// Upsert replaces the outcome for (match_id, market).
	Upsert(ctx context.Context, outcome PredictionOutcome) error

	// ListByMatch returns outcomes for one match ordered by market.
	ListByMatch(ctx context.Context, matchID string) ([]PredictionOutcome, error)

	// ListRange returns outcomes settled inside the range, oldest first.
	ListRange(ctx context.Context, tr TimeRange) ([]PredictionOutcome, error)
}

// ResolutionsRepo persists snapshot resolutions.
type ResolutionsRepo interface {
	Insert(ctx context.Context, res SnapshotResolution) error
	ListBySnapshot(ctx context.Context, snapshotID string) ([]SnapshotResolution, error)
}

// RawRepo persists raw source payloads. It satisfies the evidence
// collector's sink contract.
type RawRepo interface {
	evidence.RawSink
	ListByMatch(ctx context.Context, matchID string, limit int) ([]RawPayload, error)
}

// DirectoryRepo is the resolver's alias and fixture lookup plus the
// write side used by ingestion.
type DirectoryRepo interface {
	resolve.Directory
	UpsertAlias(ctx context.Context, alias resolve.Alias) error
	UpsertMatch(ctx context.Context, match resolve.Match) error
}

// Repository bundles all repos behind one handle.
type Repository struct {
	Runs        RunsRepo
	Outcomes    OutcomesRepo
	Resolutions ResolutionsRepo
	Raw         RawRepo
	Directory   DirectoryRepo
}

// HealthCheck is a point-in-time storage health report.
type HealthCheck struct {
	Healthy        bool           `json:"healthy"`
	Errors         []string       `json:"errors,omitempty"`
	ConnectionPool map[string]int `json:"connection_pool"`
	LastCheck      time.Time      `json:"last_check"`
	ResponseTimeMS int64          `json:"response_time_ms"`
}

// RepositoryHealth reports storage connectivity.
type RepositoryHealth interface {
	Health(ctx context.Context) HealthCheck
	Ping(ctx context.Context) error
}
