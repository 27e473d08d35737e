package analyzer

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oddsline/matchcore/internal/evidence"
	"github.com/oddsline/matchcore/internal/policy"
	"github.com/oddsline/matchcore/internal/resolve"
)

func newTestAnalyzer() *Analyzer {
	a := New(NewStabilityStore(), zerolog.Nop())
	a.WithClock(func() time.Time { return time.Date(2025, 8, 14, 12, 0, 0, 0, time.UTC) })
	return a
}

func goodQuality() evidence.Quality {
	return evidence.Quality{Passed: true, Score: 1.0}
}

func packWith(stats *evidence.StatsData, statsQuality evidence.Quality) evidence.Pack {
	domains := map[evidence.Domain]evidence.DomainData{
		evidence.DomainFixtures: {
			Fixtures: &evidence.FixturesData{HomeTeam: "A", AwayTeam: "B"},
			Quality:  goodQuality(),
			Sources:  []string{"fixtures_src"},
		},
	}
	if stats != nil {
		domains[evidence.DomainStats] = evidence.DomainData{
			Stats:   stats,
			Quality: statsQuality,
			Sources: []string{"stats_src"},
		}
	}
	return evidence.Pack{
		MatchID:       "m-test-1",
		CapturedAtUTC: "2025-08-14T12:00:00+00:00",
		Domains:       domains,
	}
}

func clearFavoriteStats() *evidence.StatsData {
	return &evidence.StatsData{
		Home: evidence.TeamStats{GoalsScored: 2.2, GoalsConceded: 0.6},
		Away: evidence.TeamStats{GoalsScored: 0.8, GoalsConceded: 1.8},
	}
}

func TestAnalyze_ClearFavorite1X2Play(t *testing.T) {
	a := newTestAnalyzer()
	res, err := a.Analyze(Request{
		ResolverStatus: resolve.StatusResolved,
		Pack:           packWith(clearFavoriteStats(), goodQuality()),
		Markets:        []string{Market1X2},
		Policy:         policy.Default(),
	})
	require.NoError(t, err)

	assert.Equal(t, StatusOK, res.Status)
	require.Len(t, res.Decisions, 1)
	d := res.Decisions[0]
	assert.Equal(t, DecisionPlay, d.Decision)
	assert.Equal(t, SelectionHome, d.Selection)
	require.NotNil(t, d.Confidence)
	// sep ≈ 0.1226 → confidence ≈ 0.5 + 2·sep
	assert.InDelta(t, 0.745, *d.Confidence, 0.005)
	assert.Contains(t, d.ReasonCodes, CodeTopSep)
	assert.Equal(t, 1, res.AnalysisRun.Counts.Play)
}

func TestAnalyze_AmbiguousResolverShortCircuits(t *testing.T) {
	a := newTestAnalyzer()
	res, err := a.Analyze(Request{
		ResolverStatus: resolve.StatusAmbiguous,
		Pack:           evidence.Pack{MatchID: "m-ambiguous"},
		Markets:        []string{Market1X2, MarketOU25},
		Policy:         policy.Default(),
	})
	require.NoError(t, err)

	assert.Equal(t, StatusNoPrediction, res.Status)
	assert.Empty(t, res.Decisions)
	assert.Equal(t, []string{CodeAmbiguous}, res.AnalysisRun.Flags)
	require.Len(t, res.AnalysisRun.GateResults, 1)
	assert.Equal(t, GateResolver, res.AnalysisRun.GateResults[0].Name)
	assert.False(t, res.AnalysisRun.GateResults[0].Passed)
}

func TestAnalyze_LowQualityEvidenceBlocksAll(t *testing.T) {
	a := newTestAnalyzer()
	pack := evidence.Pack{
		MatchID:       "m-lowq",
		CapturedAtUTC: "2025-08-14T12:00:00+00:00",
		Domains: map[evidence.Domain]evidence.DomainData{
			evidence.DomainStats: {
				Stats:   clearFavoriteStats(),
				Quality: evidence.Quality{Passed: false, Score: 0.3},
				Sources: []string{"stats_src"},
			},
		},
	}
	res, err := a.Analyze(Request{
		ResolverStatus: resolve.StatusResolved,
		Pack:           pack,
		Markets:        []string{Market1X2, MarketOU25},
		Policy:         policy.Default(),
	})
	require.NoError(t, err)

	assert.Equal(t, StatusNoPrediction, res.Status)
	assert.Contains(t, res.AnalysisRun.Flags, CodeLowQualityEvidence)
	for _, d := range res.Decisions {
		assert.Equal(t, DecisionNoPrediction, d.Decision)
		assert.Empty(t, d.Selection)
	}
	var sawQualityFail bool
	for _, g := range res.AnalysisRun.GateResults {
		if g.Name == GateEvidenceQuality && !g.Passed {
			sawQualityFail = true
		}
	}
	assert.True(t, sawQualityFail, "gate_results must record EVIDENCE_QUALITY pass=false")
}

func TestAnalyze_MissingStatsDomain(t *testing.T) {
	a := newTestAnalyzer()
	res, err := a.Analyze(Request{
		ResolverStatus: resolve.StatusResolved,
		Pack:           packWith(nil, evidence.Quality{}),
		Markets:        []string{Market1X2},
		Policy:         policy.Default(),
	})
	require.NoError(t, err)

	require.Len(t, res.Decisions, 1)
	assert.Equal(t, DecisionNoPrediction, res.Decisions[0].Decision)
	assert.Contains(t, res.Decisions[0].ReasonCodes, CodeMissingStats)
}

func TestAnalyze_OUSeparationJustBelowThreshold(t *testing.T) {
	// xG proxy = (1.5+1.1)/2 + (1.3+1.2)/2 = 2.55 → sep ≈ 0.05 < 0.08
	stats := &evidence.StatsData{
		Home: evidence.TeamStats{GoalsScored: 1.5, GoalsConceded: 1.2},
		Away: evidence.TeamStats{GoalsScored: 1.3, GoalsConceded: 1.1},
	}
	a := newTestAnalyzer()
	res, err := a.Analyze(Request{
		ResolverStatus: resolve.StatusResolved,
		Pack:           packWith(stats, goodQuality()),
		Markets:        []string{MarketOU25},
		Policy:         policy.Default(),
	})
	require.NoError(t, err)

	require.Len(t, res.Decisions, 1)
	d := res.Decisions[0]
	assert.Equal(t, DecisionNoBet, d.Decision)
	assert.Empty(t, d.Selection, "NO_BET carries no selection")
	require.NotNil(t, d.Confidence, "confidence still reported")
	assert.InDelta(t, 0.60, *d.Confidence, 0.005)
	assert.Contains(t, d.ReasonCodes, CodeLowSeparation)
	assert.Equal(t, StatusNoPrediction, res.Status)
}

func TestAnalyze_ConflictT1Blocks(t *testing.T) {
	// min score 0.5 with LOW_AGREEMENT → 0.35 < 0.4 block.
	q := evidence.Quality{Passed: true, Score: 0.5, Flags: []string{evidence.FlagLowAgreement}}
	a := newTestAnalyzer()
	res, err := a.Analyze(Request{
		ResolverStatus: resolve.StatusResolved,
		Pack:           packWith(clearFavoriteStats(), q),
		Markets:        []string{Market1X2},
		Policy:         policy.Default(),
	})
	require.NoError(t, err)
	require.Len(t, res.Decisions, 1)
	assert.Equal(t, DecisionNoPrediction, res.Decisions[0].Decision)
	assert.Contains(t, res.Decisions[0].ReasonCodes, CodeGateBlocked)
}

func TestAnalyze_ConsensusWeakDowngradesToNoBet(t *testing.T) {
	// min score 0.9 with LOW_AGREEMENT → cq 0.63 < 0.65; confidence
	// below 0.78 override → NO_BET with CONSENSUS_WEAK.
	q := evidence.Quality{Passed: true, Score: 0.9, Flags: []string{evidence.FlagLowAgreement}}
	pack := packWith(clearFavoriteStats(), q)
	fx := pack.Domains[evidence.DomainFixtures]
	fx.Quality = evidence.Quality{Passed: true, Score: 0.9}
	pack.Domains[evidence.DomainFixtures] = fx

	pol := policy.Default()
	delete(pol.Reasons, "CONSENSUS_WEAK") // isolate the soft gate from dampening

	a := newTestAnalyzer()
	res, err := a.Analyze(Request{
		ResolverStatus: resolve.StatusResolved,
		Pack:           pack,
		Markets:        []string{Market1X2},
		Policy:         pol,
	})
	require.NoError(t, err)
	require.Len(t, res.Decisions, 1)
	d := res.Decisions[0]
	assert.Equal(t, DecisionNoBet, d.Decision)
	assert.Contains(t, d.ReasonCodes, CodeConsensusWeak)
	assert.Contains(t, d.Flags, CodeConsensusWeak)
}

func TestAnalyze_MinorFlagsForceNoBet(t *testing.T) {
	q := evidence.Quality{
		Passed: true,
		Score:  0.8,
		Flags:  []string{evidence.FlagStaleData, evidence.FlagInsufficientSources},
	}
	pol := policy.Default()
	delete(pol.Reasons, "STALE_DATA")

	a := newTestAnalyzer()
	res, err := a.Analyze(Request{
		ResolverStatus: resolve.StatusResolved,
		Pack:           packWith(clearFavoriteStats(), q),
		Markets:        []string{Market1X2},
		Policy:         pol,
	})
	require.NoError(t, err)
	require.Len(t, res.Decisions, 1)
	assert.Equal(t, DecisionNoBet, res.Decisions[0].Decision)
	assert.Contains(t, res.Decisions[0].ReasonCodes, CodeMinorFlagsExceeded)
}

func TestAnalyze_SelectionIffPlay(t *testing.T) {
	a := newTestAnalyzer()
	res, err := a.Analyze(Request{
		ResolverStatus: resolve.StatusResolved,
		Pack:           packWith(clearFavoriteStats(), goodQuality()),
		Policy:         policy.Default(),
	})
	require.NoError(t, err)
	require.Len(t, res.Decisions, len(SupportedMarkets))
	for _, d := range res.Decisions {
		if d.Decision == DecisionPlay {
			assert.NotEmpty(t, d.Selection, "market %s", d.Market)
		} else {
			assert.Empty(t, d.Selection, "market %s", d.Market)
		}
		assert.LessOrEqual(t, len(d.Reasons), MaxReasonsPerDecision)
		for _, code := range d.ReasonCodes {
			assert.True(t, IsKnownCode(code), "code %s must be in closed vocabulary", code)
		}
	}
}

func TestAnalyze_DeterministicOutputHash(t *testing.T) {
	a := newTestAnalyzer()
	req := Request{
		ResolverStatus: resolve.StatusResolved,
		Pack:           packWith(clearFavoriteStats(), goodQuality()),
		Markets:        SupportedMarkets,
		Policy:         policy.Default(),
	}
	first, err := a.Analyze(req)
	require.NoError(t, err)
	second, err := a.Analyze(req)
	require.NoError(t, err)

	assert.Equal(t, first.OutputHash, second.OutputHash)
	assert.Equal(t, first.InputHash, second.InputHash)
	assert.NotContains(t, second.AnalysisRun.Flags, CodeGuardrailTriggered)
	assert.Len(t, first.InputHash, 32)
	assert.Len(t, first.OutputHash, 32)
}

func TestAnalyze_CapturedAtDoesNotChangeInputHash(t *testing.T) {
	a := newTestAnalyzer()
	req := Request{
		ResolverStatus: resolve.StatusResolved,
		Pack:           packWith(clearFavoriteStats(), goodQuality()),
		Markets:        []string{Market1X2},
		Policy:         policy.Default(),
	}
	first, err := a.Analyze(req)
	require.NoError(t, err)

	req.Pack.CapturedAtUTC = "2025-08-15T09:00:00+00:00"
	second, err := a.Analyze(req)
	require.NoError(t, err)
	assert.Equal(t, first.InputHash, second.InputHash)
}

func TestAnalyze_GuardrailOnDivergence(t *testing.T) {
	store := NewStabilityStore()
	a := New(store, zerolog.Nop())

	req := Request{
		ResolverStatus: resolve.StatusResolved,
		Pack:           packWith(clearFavoriteStats(), goodQuality()),
		Markets:        []string{Market1X2},
		Policy:         policy.Default(),
	}
	first, err := a.Analyze(req)
	require.NoError(t, err)

	// Simulate an earlier run that recorded a different output.
	store.CheckAndRecord(first.InputHash, "different-hash", time.Now())

	third, err := a.Analyze(req)
	require.NoError(t, err)
	assert.Contains(t, third.AnalysisRun.Flags, CodeGuardrailTriggered)
	assert.Equal(t, first.OutputHash, third.OutputHash,
		"guardrail flag must not perturb the output hash")
}

func TestAnalyze_UnsupportedMarket(t *testing.T) {
	a := newTestAnalyzer()
	res, err := a.Analyze(Request{
		ResolverStatus: resolve.StatusResolved,
		Pack:           packWith(clearFavoriteStats(), goodQuality()),
		Markets:        []string{"HT_FT"},
		Policy:         policy.Default(),
	})
	require.NoError(t, err)
	require.Len(t, res.Decisions, 1)
	assert.Equal(t, DecisionNoPrediction, res.Decisions[0].Decision)
	assert.Contains(t, res.Decisions[0].ReasonCodes, CodeMarketUnsupported)
}

func TestAnalyze_DecisionOrderFollowsRequest(t *testing.T) {
	a := newTestAnalyzer()
	res, err := a.Analyze(Request{
		ResolverStatus: resolve.StatusResolved,
		Pack:           packWith(clearFavoriteStats(), goodQuality()),
		Markets:        []string{MarketBTTS, Market1X2},
		Policy:         policy.Default(),
	})
	require.NoError(t, err)
	require.Len(t, res.Decisions, 2)
	assert.Equal(t, MarketBTTS, res.Decisions[0].Market)
	assert.Equal(t, Market1X2, res.Decisions[1].Market)
}
