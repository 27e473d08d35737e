package postgres

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oddsline/matchcore/internal/persistence"
)

func newMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return sqlx.NewDb(db, "sqlmock"), mock
}

func sampleRun() persistence.AnalysisRunRecord {
	return persistence.AnalysisRunRecord{
		RunID:           "run-abc",
		MatchID:         "m-001",
		SnapshotID:      "snap-1",
		AnalyzerVersion: "v2",
		PolicyVersion:   "policy-v1",
		PolicyChecksum:  "deadbeef",
		Status:          "OK",
		InputHash:       "in-hash",
		OutputHash:      "out-hash",
		Flags:           []string{"STALE_DATA"},
		Audit:           map[string]any{"counts": map[string]any{"PLAY": 1}},
	}
}

func TestRunsRepo_InsertRunWithPredictions(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewRunsRepo(db, time.Second)

	run := sampleRun()
	conf := 0.74
	sel := "1"
	preds := []persistence.Prediction{
		{MatchID: "m-001", Market: "1X2", Decision: "PLAY", Selection: &sel, Confidence: &conf, ReasonCodes: []string{"TOP_SEP"}},
		{MatchID: "m-001", Market: "OU_2.5", Decision: "NO_BET", ReasonCodes: []string{"LOW_SEPARATION"}},
	}

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO analysis_runs")).
		WithArgs(run.RunID, run.MatchID, run.SnapshotID, run.AnalyzerVersion,
			run.PolicyVersion, run.PolicyChecksum, run.Status,
			run.InputHash, run.OutputHash, pq.Array(run.Flags), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(int64(7), time.Now()))
	prep := mock.ExpectPrepare(regexp.QuoteMeta("INSERT INTO predictions"))
	prep.ExpectExec().
		WithArgs(run.RunID, "m-001", "1X2", "PLAY", &sel, &conf, pq.Array([]string{"TOP_SEP"})).
		WillReturnResult(sqlmock.NewResult(1, 1))
	prep.ExpectExec().
		WithArgs(run.RunID, "m-001", "OU_2.5", "NO_BET", nil, nil, pq.Array([]string{"LOW_SEPARATION"})).
		WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.InsertRun(context.Background(), run, preds))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunsRepo_InsertRunDuplicate(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewRunsRepo(db, time.Second)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO analysis_runs")).
		WillReturnError(&pq.Error{Code: "23505"})
	mock.ExpectRollback()

	err := repo.InsertRun(context.Background(), sampleRun(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate run")
}

func TestRunsRepo_GetRunNotFound(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewRunsRepo(db, time.Second)

	mock.ExpectQuery(regexp.QuoteMeta("FROM analysis_runs WHERE run_id = $1")).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	got, err := repo.GetRun(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRunsRepo_LatestRun(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewRunsRepo(db, time.Second)

	cols := []string{"id", "run_id", "match_id", "snapshot_id", "analyzer_version",
		"policy_version", "policy_checksum", "status", "input_hash", "output_hash",
		"flags", "audit", "created_at"}
	mock.ExpectQuery(regexp.QuoteMeta("FROM analysis_runs WHERE match_id = $1")).
		WithArgs("m-001").
		WillReturnRows(sqlmock.NewRows(cols).AddRow(
			int64(7), "run-abc", "m-001", "snap-1", "v2",
			"policy-v1", "deadbeef", "OK", "in-hash", "out-hash",
			"{STALE_DATA}", []byte(`{"counts":{"PLAY":1}}`), time.Now()))

	got, err := repo.LatestRun(context.Background(), "m-001")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "run-abc", got.RunID)
	assert.Equal(t, []string{"STALE_DATA"}, got.Flags)
	assert.Contains(t, got.Audit, "counts")
}

func TestRunsRepo_ListPredictions(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewRunsRepo(db, time.Second)

	cols := []string{"id", "run_id", "match_id", "market", "decision",
		"selection", "confidence", "reason_codes", "created_at"}
	mock.ExpectQuery(regexp.QuoteMeta("FROM predictions WHERE run_id = $1")).
		WithArgs("run-abc").
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow(int64(1), "run-abc", "m-001", "1X2", "PLAY", "1", 0.74, "{TOP_SEP}", time.Now()).
			AddRow(int64(2), "run-abc", "m-001", "OU_2.5", "NO_BET", nil, nil, "{LOW_SEPARATION}", time.Now()))

	preds, err := repo.ListPredictions(context.Background(), "run-abc")
	require.NoError(t, err)
	require.Len(t, preds, 2)
	require.NotNil(t, preds[0].Selection)
	assert.Equal(t, "1", *preds[0].Selection)
	assert.Nil(t, preds[1].Selection)
	assert.Equal(t, []string{"LOW_SEPARATION"}, preds[1].ReasonCodes)
}
