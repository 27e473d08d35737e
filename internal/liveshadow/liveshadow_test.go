package liveshadow

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oddsline/matchcore/internal/activation"
	"github.com/oddsline/matchcore/internal/analyzer"
	"github.com/oddsline/matchcore/internal/connectors"
	"github.com/oddsline/matchcore/internal/policy"
	"github.com/oddsline/matchcore/internal/reports"
)

type fixture struct {
	id              string
	home, away      string
	oddsHome        float64
	oddsDraw        float64
	oddsAway        float64
	withForms       bool
	homeScored      float64
	homeConceded    float64
	awayScored      float64
	awayConceded    float64
	withH2H         bool
}

func clearFavorite(id string) fixture {
	return fixture{
		id: id, home: "Alpha", away: "Beta",
		oddsHome: 1.85, oddsDraw: 3.4, oddsAway: 4.2,
		withForms:  true,
		homeScored: 2.2, homeConceded: 0.6,
		awayScored: 0.8, awayConceded: 1.8,
	}
}

func writeFixtures(t *testing.T, fxs ...fixture) string {
	t.Helper()
	dir := t.TempDir()
	for _, fx := range fxs {
		body := fmt.Sprintf(`{"match_id": %q, "home_team": %q, "away_team": %q,
			"kickoff_utc": "2026-03-01T18:30:00+00:00",
			"odds_1x2": {"home": %.2f, "draw": %.2f, "away": %.2f}`,
			fx.id, fx.home, fx.away, fx.oddsHome, fx.oddsDraw, fx.oddsAway)
		if fx.withForms {
			body += fmt.Sprintf(`,
			"home_form": {"goals_scored": %.1f, "goals_conceded": %.1f},
			"away_form": {"goals_scored": %.1f, "goals_conceded": %.1f}`,
				fx.homeScored, fx.homeConceded, fx.awayScored, fx.awayConceded)
		}
		if fx.withH2H {
			body += `,
			"h2h": {"matches": 4, "home_wins": 3, "draws": 1, "away_wins": 0}`
		}
		body += "}"
		require.NoError(t, os.WriteFile(filepath.Join(dir, fx.id+".json"), []byte(body), 0o644))
	}
	return dir
}

func shadowConfig(writes bool) activation.Config {
	return activation.Config{
		LiveIOAllowed:     true,
		LiveWritesAllowed: writes,
		MaxMatches:        activation.HardMaxMatches,
	}
}

func newRegistry(t *testing.T, liveDir, recordedDir string) *connectors.Registry {
	t.Helper()
	liveBacking := connectors.NewRecorded("live_backing", liveDir)
	return connectors.NewRegistry(
		connectors.NewStubLive("stub_live", liveBacking, nil),
		connectors.NewRecorded("historical", recordedDir),
	)
}

func fixedClock() func() time.Time {
	return func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
}

func newStore(t *testing.T) *reports.Store {
	t.Helper()
	store, err := reports.NewStore(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)
	return store
}

func compareRequest() CompareRequest {
	return CompareRequest{LiveConnector: "stub_live", RecordedConnector: "historical"}
}

func TestCompare_IdenticalSidesClean(t *testing.T) {
	fx := clearFavorite("m-001")
	reg := newRegistry(t, writeFixtures(t, fx), writeFixtures(t, fx))
	store := newStore(t)
	c := NewComparer(reg, shadowConfig(false), store, nil, zerolog.Nop()).WithClock(fixedClock())

	rep, err := c.Compare(context.Background(), compareRequest())
	require.NoError(t, err)

	require.Len(t, rep.Matches, 1)
	assert.True(t, rep.Matches[0].IdentityParity)
	assert.True(t, rep.Matches[0].OddsPresenceParity)
	assert.Empty(t, rep.Matches[0].SchemaDrift)
	assert.Zero(t, rep.DriftAbsP95)
	assert.Empty(t, rep.Alerts)
	assert.False(t, rep.WritesAllowed)

	// Hard block: nothing recorded without the capability.
	ix, err := store.ReadIndex()
	require.NoError(t, err)
	assert.Empty(t, ix.LiveShadowRuns)
}

func TestCompare_OddsDriftAlert(t *testing.T) {
	liveFx := clearFavorite("m-001")
	liveFx.oddsHome = 2.60
	reg := newRegistry(t, writeFixtures(t, liveFx), writeFixtures(t, clearFavorite("m-001")))
	c := NewComparer(reg, shadowConfig(false), nil, nil, zerolog.Nop()).WithClock(fixedClock())

	rep, err := c.Compare(context.Background(), compareRequest())
	require.NoError(t, err)

	assert.True(t, rep.Matches[0].IdentityParity)
	assert.Contains(t, rep.Alerts, AlertOddsDriftAbs)
	assert.Contains(t, rep.Alerts, AlertOddsDriftPct)
	assert.InDelta(t, 0.75, rep.DriftAbsP95, 1e-9)
}

func TestCompare_IdentityMismatchAlert(t *testing.T) {
	liveFx := clearFavorite("m-001")
	liveFx.home = "Gamma"
	reg := newRegistry(t, writeFixtures(t, liveFx), writeFixtures(t, clearFavorite("m-001")))
	c := NewComparer(reg, shadowConfig(false), nil, nil, zerolog.Nop()).WithClock(fixedClock())

	rep, err := c.Compare(context.Background(), compareRequest())
	require.NoError(t, err)

	assert.False(t, rep.Matches[0].IdentityParity)
	assert.Equal(t, []string{"home_team"}, rep.Matches[0].IdentityDiffs)
	assert.Contains(t, rep.Alerts, AlertIdentityMismatch)
}

func TestCompare_SchemaDrift(t *testing.T) {
	liveFx := clearFavorite("m-001")
	liveFx.withH2H = true
	reg := newRegistry(t, writeFixtures(t, liveFx), writeFixtures(t, clearFavorite("m-001")))
	c := NewComparer(reg, shadowConfig(false), nil, nil, zerolog.Nop()).WithClock(fixedClock())

	rep, err := c.Compare(context.Background(), compareRequest())
	require.NoError(t, err)

	require.Len(t, rep.Matches[0].SchemaDrift, 1)
	assert.Equal(t, "h2h: missing on recorded side", rep.Matches[0].SchemaDrift[0])
	assert.Contains(t, rep.Alerts, AlertSchemaDrift)
}

func TestCompare_WritesRecordedWithCapability(t *testing.T) {
	fx := clearFavorite("m-001")
	reg := newRegistry(t, writeFixtures(t, fx), writeFixtures(t, fx))
	store := newStore(t)
	c := NewComparer(reg, shadowConfig(true), store, nil, zerolog.Nop()).WithClock(fixedClock())

	rep, err := c.Compare(context.Background(), compareRequest())
	require.NoError(t, err)
	assert.True(t, rep.WritesAllowed)

	ix, err := store.ReadIndex()
	require.NoError(t, err)
	require.Len(t, ix.LiveShadowRuns, 1)
	entry := ix.LiveShadowRuns[0]
	assert.Equal(t, rep.RunID, entry.RunID)
	assert.Equal(t, 1, entry.MatchCount)
	assert.Zero(t, entry.AlertCount)
	assert.NotEmpty(t, entry.Checksum)
	assert.FileExists(t, entry.BundlePath)
}

func TestCompare_MissingLiveMatchIsFailureNotAbort(t *testing.T) {
	reg := newRegistry(t,
		writeFixtures(t, clearFavorite("m-001")),
		writeFixtures(t, clearFavorite("m-001"), clearFavorite("m-002")))
	c := NewComparer(reg, shadowConfig(false), nil, nil, zerolog.Nop()).WithClock(fixedClock())

	rep, err := c.Compare(context.Background(), compareRequest())
	require.NoError(t, err)

	assert.Len(t, rep.Matches, 1)
	require.Len(t, rep.Failures, 1)
	assert.Equal(t, "m-002", rep.Failures[0].MatchID)
}

func TestCompare_LiveConnectorNeedsCapability(t *testing.T) {
	fx := clearFavorite("m-001")
	reg := newRegistry(t, writeFixtures(t, fx), writeFixtures(t, fx))
	cfg := shadowConfig(false)
	cfg.LiveIOAllowed = false
	c := NewComparer(reg, cfg, nil, nil, zerolog.Nop())

	_, err := c.Compare(context.Background(), compareRequest())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "LIVE_IO_ALLOWED")
}

func newShadowAnalyzer(t *testing.T, reg *connectors.Registry, store *reports.Store) *Analyzer {
	t.Helper()
	engine := analyzer.New(analyzer.NewStabilityStore(), zerolog.Nop())
	return NewAnalyzer(reg, engine, policy.Default(), shadowConfig(false), store, zerolog.Nop()).
		WithClock(fixedClock())
}

func TestAnalyze_IdenticalSidesFullParity(t *testing.T) {
	fx := clearFavorite("m-001")
	reg := newRegistry(t, writeFixtures(t, fx), writeFixtures(t, fx))
	store := newStore(t)
	a := newShadowAnalyzer(t, reg, store)

	rep, err := a.Analyze(context.Background(), compareRequest())
	require.NoError(t, err)

	require.Len(t, rep.Matches, 1)
	assert.Equal(t, len(analyzer.SupportedMarkets), rep.MarketsCompared)
	assert.Equal(t, rep.MarketsCompared, rep.PickParityN)
	assert.Empty(t, rep.Alerts)
	for _, md := range rep.Matches[0].Markets {
		assert.True(t, md.PickParity, md.Market)
		if md.ConfidenceDelta != nil {
			assert.Zero(t, *md.ConfidenceDelta, md.Market)
		}
		assert.Empty(t, md.ReasonsOnlyLive, md.Market)
		assert.Empty(t, md.ReasonsOnlyRecorded, md.Market)
	}

	ix, err := store.ReadIndex()
	require.NoError(t, err)
	require.Len(t, ix.LiveShadowAnalyzeRuns, 1)
	assert.Equal(t, rep.RunID, ix.LiveShadowAnalyzeRuns[0].RunID)
}

func TestAnalyze_DivergentSidesRaiseAlerts(t *testing.T) {
	liveFx := clearFavorite("m-001")
	recFx := clearFavorite("m-001")
	// Balanced recorded side: no separation, no 1X2 play.
	recFx.homeScored, recFx.homeConceded = 1.2, 1.2
	recFx.awayScored, recFx.awayConceded = 1.2, 1.2
	reg := newRegistry(t, writeFixtures(t, liveFx), writeFixtures(t, recFx))
	a := newShadowAnalyzer(t, reg, nil)

	rep, err := a.Analyze(context.Background(), compareRequest())
	require.NoError(t, err)

	assert.Less(t, rep.PickParityN, rep.MarketsCompared)
	assert.Contains(t, rep.Alerts, AlertPickDisparity)
}

type countingConnector struct {
	connectors.Connector
	fetches map[string]int
}

func (c *countingConnector) FetchMatchData(ctx context.Context, matchID string) (*connectors.IngestedMatchData, error) {
	c.fetches[matchID]++
	return c.Connector.FetchMatchData(ctx, matchID)
}

func TestAnalyze_OneFetchPerSidePerMatch(t *testing.T) {
	fx := clearFavorite("m-001")
	live := &countingConnector{
		Connector: connectors.NewRecorded("stub_live", writeFixtures(t, fx)),
		fetches:   map[string]int{},
	}
	rec := &countingConnector{
		Connector: connectors.NewRecorded("historical", writeFixtures(t, fx)),
		fetches:   map[string]int{},
	}
	reg := connectors.NewRegistry(live, rec)
	a := newShadowAnalyzer(t, reg, nil)

	_, err := a.Analyze(context.Background(), compareRequest())
	require.NoError(t, err)
	assert.Equal(t, 1, live.fetches["m-001"])
	assert.Equal(t, 1, rec.fetches["m-001"])
}
