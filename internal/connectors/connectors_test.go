package connectors

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oddsline/matchcore/internal/metrics"
	"github.com/oddsline/matchcore/internal/netx/client"
)

func writeFixture(t *testing.T, dir, name, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
}

func fixtureDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	writeFixture(t, dir, "b_match.json", `{
		"match_id": "m-002",
		"home_team": "Aris",
		"away_team": "PAOK",
		"kickoff_utc": "2026-03-02T19:00:00+00:00",
		"odds_1x2": {"home": 2.6, "draw": 3.1, "away": 2.7}
	}`)
	writeFixture(t, dir, "a_match.json", `{
		"match_id": "m-001",
		"home_team": "Olympiacos",
		"away_team": "Panathinaikos",
		"competition": "super-league",
		"kickoff_utc": "2026-03-01T18:30:00+00:00",
		"odds_1x2": {"home": 1.85, "draw": 3.4, "away": 4.2},
		"home_form": {"goals_scored": 2.1, "goals_conceded": 0.7},
		"away_form": {"goals_scored": 1.4, "goals_conceded": 1.1},
		"h2h": {"matches": 10, "home_wins": 5, "draws": 3, "away_wins": 2}
	}`)
	return dir
}

func TestRecorded_FetchMatchesSorted(t *testing.T) {
	r := NewRecorded("historical", fixtureDir(t))

	ids, err := r.FetchMatches(context.Background())
	require.NoError(t, err)
	require.Len(t, ids, 2)
	assert.Equal(t, "m-001", ids[0].MatchID)
	assert.Equal(t, "m-002", ids[1].MatchID)
	assert.Equal(t, "super-league", ids[0].Competition)
}

func TestRecorded_FetchMatchData(t *testing.T) {
	r := NewRecorded("historical", fixtureDir(t))

	d, err := r.FetchMatchData(context.Background(), "m-001")
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, "Olympiacos", d.HomeTeam)
	require.NotNil(t, d.H2H)
	assert.Equal(t, 5, d.H2H.HomeWins)

	unknown, err := r.FetchMatchData(context.Background(), "m-999")
	require.NoError(t, err)
	assert.Nil(t, unknown)
}

func TestRecorded_RejectsInvalidFixture(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, "bad.json", `{
		"match_id": "m-003",
		"home_team": "A",
		"away_team": "B",
		"kickoff_utc": "2026-03-01T18:30:00+00:00",
		"odds_1x2": {"home": 0, "draw": 3.4, "away": 4.2}
	}`)
	r := NewRecorded("historical", dir)

	_, err := r.FetchMatches(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "odds must be positive")
}

func TestValidate(t *testing.T) {
	d := IngestedMatchData{MatchID: "m-1", HomeTeam: "A", AwayTeam: "B"}
	assert.NoError(t, d.Validate())

	d.MatchID = ""
	assert.Error(t, d.Validate())

	d = IngestedMatchData{MatchID: "m-1", HomeTeam: "A"}
	assert.Error(t, d.Validate())
}

func TestRegistry_LiveRequiresCapability(t *testing.T) {
	recorded := NewRecorded("historical", t.TempDir())
	live := NewStubLive("stub_live", recorded, nil)
	reg := NewRegistry(recorded, live)

	got, err := reg.Resolve("historical", false)
	require.NoError(t, err)
	assert.Equal(t, "historical", got.Name())

	_, err = reg.Resolve("stub_live", false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "LIVE_IO_ALLOWED")

	got, err = reg.Resolve("stub_live", true)
	require.NoError(t, err)
	assert.Equal(t, CategoryLive, got.Category())

	_, err = reg.Resolve("missing", true)
	assert.Error(t, err)

	assert.Equal(t, []string{"historical", "stub_live"}, reg.Names())
}

func TestStubLive_DrillOK(t *testing.T) {
	liveio := metrics.NewLiveIO(prometheus.NewRegistry())
	s := NewStubLive("stub_live", NewRecorded("backing", fixtureDir(t)), liveio).WithMode(DrillOK)

	ids, err := s.FetchMatches(context.Background())
	require.NoError(t, err)
	assert.Len(t, ids, 2)
	assert.Equal(t, int64(1), liveio.Snapshot().Requests)
}

func TestStubLive_DrillTimeout(t *testing.T) {
	liveio := metrics.NewLiveIO(prometheus.NewRegistry())
	s := NewStubLive("stub_live", NewRecorded("backing", fixtureDir(t)), liveio).WithMode(DrillTimeout)

	_, err := s.FetchMatchData(context.Background(), "m-001")
	assert.ErrorIs(t, err, client.ErrTimeout)
	assert.Equal(t, int64(1), liveio.Snapshot().Timeouts)
}

func TestStubLive_Drill500(t *testing.T) {
	liveio := metrics.NewLiveIO(prometheus.NewRegistry())
	s := NewStubLive("stub_live", NewRecorded("backing", fixtureDir(t)), liveio).WithMode(Drill500)

	_, err := s.FetchMatches(context.Background())
	assert.ErrorIs(t, err, client.ErrFailure)
	assert.Equal(t, int64(1), liveio.Snapshot().Failures)
}

func TestStubLive_DrillRateLimited(t *testing.T) {
	liveio := metrics.NewLiveIO(prometheus.NewRegistry())
	s := NewStubLive("stub_live", NewRecorded("backing", fixtureDir(t)), liveio).WithMode(DrillRateLimited)

	_, err := s.FetchMatches(context.Background())
	assert.ErrorIs(t, err, client.ErrRateLimited)
	assert.Equal(t, int64(1), liveio.Snapshot().RateLimited)
}

func TestStubLive_DrillSlowStillSucceeds(t *testing.T) {
	liveio := metrics.NewLiveIO(prometheus.NewRegistry())
	var slept time.Duration
	s := NewStubLive("stub_live", NewRecorded("backing", fixtureDir(t)), liveio).
		WithMode(DrillSlow).
		WithSleep(func(d time.Duration) { slept = d })

	d, err := s.FetchMatchData(context.Background(), "m-002")
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, 150*time.Millisecond, slept)
	assert.Equal(t, int64(1), liveio.Snapshot().Requests)
}

func TestStubLive_UnknownMode(t *testing.T) {
	s := NewStubLive("stub_live", NewRecorded("backing", t.TempDir()), nil).WithMode("chaos")
	_, err := s.FetchMatches(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown drill mode")
}

func TestStubLive_ModeFromEnv(t *testing.T) {
	t.Setenv(StubLiveModeEnv, DrillRateLimited)
	s := NewStubLive("stub_live", NewRecorded("backing", t.TempDir()), nil)
	_, err := s.FetchMatches(context.Background())
	assert.ErrorIs(t, err, client.ErrRateLimited)
}
