package activation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oddsline/matchcore/internal/analyzer"
	"github.com/oddsline/matchcore/internal/metrics"
	"github.com/oddsline/matchcore/internal/policy"
	"github.com/oddsline/matchcore/internal/reports"
)

func fPtr(f float64) *float64 { return &f }

func openConfig() Config {
	return Config{
		LiveIOAllowed:       true,
		LiveWritesAllowed:   true,
		Enabled:             true,
		Mode:                ModeLimited,
		Markets:             []string{"1X2"},
		MaxMatches:          HardMaxMatches,
		BurnInMinConfidence: BurnInMinConfidenceFloor,
		BurnInConnector:     BurnInDefaultConnector,
		RolloutPct:          100,
	}
}

func playCandidate(conf float64) Candidate {
	return Candidate{
		ConnectorName: "historical",
		MatchID:       "m-001",
		Market:        "1X2",
		Decision:      analyzer.DecisionPlay,
		Confidence:    fPtr(conf),
		BatchSize:     1,
	}
}

func newGate(cfg Config) *Gate {
	return NewGate(cfg, policy.Default(), nil, nil, nil, zerolog.Nop())
}

func TestGate_AllowsConfidentPlay(t *testing.T) {
	allowed, reason := newGate(openConfig()).Allow(context.Background(), playCandidate(0.9))
	assert.True(t, allowed)
	assert.Empty(t, reason)
}

func TestGate_LayerOrder(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"kill switch first", func(c *Config) { c.KillSwitch = true; c.Enabled = false }, "KILL_SWITCH"},
		{"disabled", func(c *Config) { c.Enabled = false }, "not enabled"},
		{"bad mode", func(c *Config) { c.Mode = "yolo" }, "unknown activation mode"},
		{"no live writes", func(c *Config) { c.LiveWritesAllowed = false }, "live writes"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := openConfig()
			tc.mutate(&cfg)
			allowed, reason := newGate(cfg).Allow(context.Background(), playCandidate(0.9))
			assert.False(t, allowed)
			assert.Contains(t, reason, tc.want)
		})
	}
}

func TestGate_KillSwitchDuringBurnIn(t *testing.T) {
	cfg := openConfig()
	cfg.KillSwitch = true
	cfg.Mode = ModeBurnIn

	c := playCandidate(0.95)
	c.ConnectorName = BurnInDefaultConnector
	g := newGate(cfg)

	allowed, reason := g.Allow(context.Background(), c)
	assert.False(t, allowed)
	assert.Contains(t, reason, "KILL_SWITCH")

	audit := g.NewAudit(c, allowed, reason)
	assert.False(t, audit.ActivationAllowed)
	assert.Contains(t, audit.ActivationReason, "KILL_SWITCH")
	assert.NotEmpty(t, audit.CreatedAtUTC)
}

func TestGate_ReadinessFailureDenies(t *testing.T) {
	cfg := openConfig()
	g := NewGate(cfg, policy.Default(), nil, []ReadinessCheck{
		{Name: "db", Check: func(context.Context) error { return errors.New("down") }},
	}, nil, zerolog.Nop())

	allowed, reason := g.Allow(context.Background(), playCandidate(0.9))
	assert.False(t, allowed)
	assert.Contains(t, reason, "readiness check db failed")
}

func TestGate_Whitelists(t *testing.T) {
	cfg := openConfig()
	cfg.Connectors = []string{"other"}
	allowed, reason := newGate(cfg).Allow(context.Background(), playCandidate(0.9))
	assert.False(t, allowed)
	assert.Contains(t, reason, "not whitelisted")

	cfg = openConfig()
	c := playCandidate(0.9)
	c.Market = "OU_2.5"
	allowed, reason = newGate(cfg).Allow(context.Background(), c)
	assert.False(t, allowed)
	assert.Contains(t, reason, "market OU_2.5 not whitelisted")
}

func TestGate_ConfidenceThresholds(t *testing.T) {
	// Default policy 1X2 minimum is 0.60.
	allowed, reason := newGate(openConfig()).Allow(context.Background(), playCandidate(0.55))
	assert.False(t, allowed)
	assert.Contains(t, reason, "below policy minimum")

	cfg := openConfig()
	cfg.TierMinConfidence = 0.8
	allowed, reason = newGate(cfg).Allow(context.Background(), playCandidate(0.7))
	assert.False(t, allowed)
	assert.Contains(t, reason, "below tier minimum")
}

func TestGate_OnlyPlayActivates(t *testing.T) {
	c := playCandidate(0.9)
	c.Decision = analyzer.DecisionNoBet
	allowed, reason := newGate(openConfig()).Allow(context.Background(), c)
	assert.False(t, allowed)
	assert.Contains(t, reason, "only PLAY")
}

func TestGate_BurnInTightening(t *testing.T) {
	cfg := openConfig()
	cfg.Mode = ModeBurnIn

	base := playCandidate(0.95)
	base.ConnectorName = BurnInDefaultConnector

	t.Run("requires live io", func(t *testing.T) {
		c2 := cfg
		c2.LiveIOAllowed = false
		allowed, reason := newGate(c2).Allow(context.Background(), base)
		assert.False(t, allowed)
		assert.Contains(t, reason, "live IO capability")
	})

	t.Run("connector pinned", func(t *testing.T) {
		c := base
		c.ConnectorName = "historical"
		allowed, reason := newGate(cfg).Allow(context.Background(), c)
		assert.False(t, allowed)
		assert.Contains(t, reason, "burn-in only accepts connector")
	})

	t.Run("confidence floor", func(t *testing.T) {
		c := base
		c.Confidence = fPtr(0.80)
		allowed, reason := newGate(cfg).Allow(context.Background(), c)
		assert.False(t, allowed)
		assert.Contains(t, reason, "confidence >= 0.85")
	})

	t.Run("batch cap", func(t *testing.T) {
		c := base
		c.BatchSize = 4
		allowed, reason := newGate(cfg).Allow(context.Background(), c)
		assert.False(t, allowed)
		assert.Contains(t, reason, "batch size")
	})

	t.Run("live io alerts deny", func(t *testing.T) {
		liveio := metrics.NewLiveIO(prometheus.NewRegistry())
		liveio.Observe(metrics.OutcomeTimeout, 5000)
		g := NewGate(cfg, policy.Default(), liveio, nil, nil, zerolog.Nop())
		allowed, reason := g.Allow(context.Background(), base)
		assert.False(t, allowed)
		assert.Contains(t, reason, "live IO alerts")
	})

	t.Run("clean burn-in passes", func(t *testing.T) {
		allowed, reason := newGate(cfg).Allow(context.Background(), base)
		assert.True(t, allowed, reason)
	})
}

func TestGate_RecentLiveShadowAlertsDeny(t *testing.T) {
	cfg := openConfig()
	ix := reports.Index{
		LiveShadowRuns: []reports.IndexEntry{
			{RunID: "ls-1", AlertCount: 0},
			{RunID: "ls-2", AlertCount: 2},
		},
	}
	g := NewGate(cfg, policy.Default(), nil, nil,
		func() (reports.Index, error) { return ix, nil }, zerolog.Nop())

	allowed, reason := g.Allow(context.Background(), playCandidate(0.9))
	assert.False(t, allowed)
	assert.Contains(t, reason, "ls-2")

	// Alerts older than the scan window are ignored.
	ix.LiveShadowRuns = append(ix.LiveShadowRuns,
		reports.IndexEntry{RunID: "ls-3"},
		reports.IndexEntry{RunID: "ls-4"},
		reports.IndexEntry{RunID: "ls-5"},
	)
	allowed, _ = g.Allow(context.Background(), playCandidate(0.9))
	assert.True(t, allowed)
}

func TestEligibleSet(t *testing.T) {
	ids := []string{"m-3", "m-1", "m-2", "m-4"}

	assert.Empty(t, EligibleSet(ids, 0))
	assert.Equal(t, []string{"m-1", "m-2", "m-3", "m-4"}, EligibleSet(ids, 100))
	assert.Equal(t, []string{"m-1", "m-2"}, EligibleSet(ids, 50))
	assert.Equal(t, []string{"m-1"}, EligibleSet(ids, 25))
	// Rollout never mutates the caller's slice.
	assert.Equal(t, []string{"m-3", "m-1", "m-2", "m-4"}, ids)
}

func TestDailyCap(t *testing.T) {
	now := time.Date(2026, 3, 1, 14, 0, 0, 0, time.UTC)
	entry := func(activated bool) reports.IndexEntry {
		e := reports.NewEntry("run", now)
		e.Activated = activated
		return e
	}
	ix := reports.Index{
		ActivationRuns: []reports.IndexEntry{entry(true)},
		BurnInOpsRuns:  []reports.IndexEntry{entry(true), entry(false)},
	}

	assert.Equal(t, -1, DailyCapRemaining(ix, 0, now), "zero cap means unlimited")
	assert.Equal(t, 1, DailyCapRemaining(ix, 3, now))
	assert.Equal(t, 0, DailyCapRemaining(ix, 2, now))

	ok, reason := CheckDailyCap(ix, 2, now)
	assert.False(t, ok)
	assert.Contains(t, reason, "daily")
	assert.Contains(t, reason, "cap")

	ok, _ = CheckDailyCap(ix, 3, now)
	assert.True(t, ok)
}

func TestApprove_AllConditions(t *testing.T) {
	cfg := Config{
		ApprovalAllowed:    true,
		ApprovalToken:      "secret",
		MinOfflineEvalRuns: 2,
	}
	ix := reports.Index{
		Runs: []reports.IndexEntry{{RunID: "r1"}, {RunID: "r2"}},
	}
	req := ApprovalRequest{Token: "secret", PolicyVersionPin: "v1", AuditTrailEnabled: true}

	require.NoError(t, Approve(cfg, req, ix, "v1", zerolog.Nop()))
}

func TestApprove_CollectsAllFailures(t *testing.T) {
	cfg := Config{MinOfflineEvalRuns: 5}
	req := ApprovalRequest{Token: "wrong", PolicyVersionPin: "v0"}

	err := Approve(cfg, req, reports.Index{}, "v1", zerolog.Nop())
	require.Error(t, err)

	var denied *ApprovalError
	require.ErrorAs(t, err, &denied)
	assert.GreaterOrEqual(t, len(denied.Reasons), 4)
	assert.Contains(t, err.Error(), "ACTIVATION_NOT_APPROVED")
}

func TestFromEnv(t *testing.T) {
	t.Setenv(EnvEnabled, "true")
	t.Setenv(EnvMode, "Burn_In")
	t.Setenv(EnvKillSwitch, "0")
	t.Setenv(EnvConnectors, "real_provider, historical")
	t.Setenv(EnvMarkets, "")
	t.Setenv(EnvMaxMatches, "50")
	t.Setenv(EnvMinConfidenceBurnIn, "0.5")
	t.Setenv(EnvRolloutPct, "150")
	t.Setenv(EnvDailyMax, "not-a-number")

	cfg := FromEnv()
	assert.True(t, cfg.Enabled)
	assert.Equal(t, ModeBurnIn, cfg.Mode)
	assert.False(t, cfg.KillSwitch)
	assert.Equal(t, []string{"real_provider", "historical"}, cfg.Connectors)
	assert.Equal(t, []string{"1X2"}, cfg.Markets, "market whitelist defaults to 1X2")
	assert.Equal(t, HardMaxMatches, cfg.MaxMatches, "batch cap is hard-limited")
	assert.Equal(t, BurnInMinConfidenceFloor, cfg.BurnInMinConfidence, "burn-in floor cannot be loosened")
	assert.Equal(t, 100.0, cfg.RolloutPct)
	assert.Equal(t, 0, cfg.DailyMaxActivations)
}
