package activation

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/oddsline/matchcore/internal/analyzer"
	"github.com/oddsline/matchcore/internal/canon"
	"github.com/oddsline/matchcore/internal/metrics"
	"github.com/oddsline/matchcore/internal/policy"
	"github.com/oddsline/matchcore/internal/reports"
)

// ReadinessCheck is one named dependency probe (DB, cache).
type ReadinessCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Candidate is one decision under consideration for activation.
type Candidate struct {
	ConnectorName string
	MatchID       string
	Market        string
	Decision      analyzer.DecisionKind
	Confidence    *float64
	Reasons       []string
	BatchSize     int
}

// Audit is the per-decision activation record.
type Audit struct {
	ConnectorName     string   `json:"connector_name"`
	MatchID           string   `json:"match_id"`
	Market            string   `json:"market"`
	DecisionKind      string   `json:"decision_kind"`
	Confidence        *float64 `json:"confidence,omitempty"`
	Reasons           []string `json:"reasons,omitempty"`
	ActivationAllowed bool     `json:"activation_allowed"`
	ActivationReason  string   `json:"activation_reason,omitempty"`
	CreatedAtUTC      string   `json:"created_at_utc"`
}

// Gate evaluates candidates layer by layer; the first failing layer
// terminates with its reason. Denial is an outcome, never an error.
type Gate struct {
	cfg       Config
	policy    policy.Policy
	liveio    *metrics.LiveIO
	readiness []ReadinessCheck
	index     func() (reports.Index, error)
	log       zerolog.Logger
	now       func() time.Time
}

func NewGate(cfg Config, pol policy.Policy, liveio *metrics.LiveIO, readiness []ReadinessCheck, index func() (reports.Index, error), log zerolog.Logger) *Gate {
	return &Gate{
		cfg:       cfg,
		policy:    pol,
		liveio:    liveio,
		readiness: readiness,
		index:     index,
		log:       log,
		now:       time.Now,
	}
}

// WithClock overrides the clock. Tests only.
func (g *Gate) WithClock(now func() time.Time) *Gate {
	g.now = now
	return g
}

// Allow runs the layered gate over one candidate.
func (g *Gate) Allow(ctx context.Context, c Candidate) (bool, string) {
	allowed, reason := g.evaluate(ctx, c)
	if !allowed {
		g.log.Info().
			Str("match_id", c.MatchID).
			Str("market", c.Market).
			Str("reason", reason).
			Msg("activation denied")
	}
	return allowed, reason
}

func (g *Gate) evaluate(ctx context.Context, c Candidate) (bool, string) {
	if g.cfg.KillSwitch {
		return false, "KILL_SWITCH active"
	}
	if !g.cfg.Enabled {
		return false, "activation not enabled"
	}
	if !g.cfg.ValidMode() {
		return false, fmt.Sprintf("unknown activation mode %q", g.cfg.Mode)
	}
	if !g.cfg.LiveWritesAllowed {
		return false, "live writes not allowed"
	}

	if g.cfg.Mode == ModeBurnIn {
		if !g.cfg.LiveIOAllowed {
			return false, "burn-in requires live IO capability"
		}
		if ok, reason := g.burnIn(c); !ok {
			return false, reason
		}
	}

	for _, rc := range g.readiness {
		if err := rc.Check(ctx); err != nil {
			return false, fmt.Sprintf("readiness check %s failed: %v", rc.Name, err)
		}
	}

	if !g.cfg.connectorWhitelisted(c.ConnectorName) {
		return false, fmt.Sprintf("connector %s not whitelisted", c.ConnectorName)
	}
	if !g.cfg.marketWhitelisted(c.Market) {
		return false, fmt.Sprintf("market %s not whitelisted", c.Market)
	}

	if c.Decision != analyzer.DecisionPlay {
		return false, "only PLAY decisions activate"
	}
	if c.Confidence == nil {
		return false, "decision carries no confidence"
	}
	minConf := g.policy.MinConfidence(c.Market)
	if *c.Confidence < minConf {
		return false, fmt.Sprintf("confidence %.3f below policy minimum %.3f", *c.Confidence, minConf)
	}
	if *c.Confidence < g.cfg.TierMinConfidence {
		return false, fmt.Sprintf("confidence %.3f below tier minimum %.3f", *c.Confidence, g.cfg.TierMinConfidence)
	}

	if ok, reason := g.recentLiveShadowClean(); !ok {
		return false, reason
	}

	return true, ""
}

// burnIn tightens the gate: a single trusted connector, the flagship
// market, a higher confidence floor, spotless transport and tiny
// batches.
func (g *Gate) burnIn(c Candidate) (bool, string) {
	if c.ConnectorName != g.cfg.BurnInConnector {
		return false, fmt.Sprintf("burn-in only accepts connector %s", g.cfg.BurnInConnector)
	}
	if c.Market != analyzer.Market1X2 {
		return false, "burn-in only accepts market 1X2"
	}
	if c.Confidence == nil || *c.Confidence < g.cfg.BurnInMinConfidence {
		return false, fmt.Sprintf("burn-in requires confidence >= %.2f", g.cfg.BurnInMinConfidence)
	}
	if g.liveio != nil {
		if n := g.liveio.Snapshot().AlertCount(); n > 0 {
			return false, fmt.Sprintf("burn-in blocked by %d live IO alerts", n)
		}
	}
	if c.BatchSize < 1 || c.BatchSize > BurnInMaxBatch {
		return false, fmt.Sprintf("burn-in batch size must be 1..%d", BurnInMaxBatch)
	}
	return true, ""
}

func (g *Gate) recentLiveShadowClean() (bool, string) {
	if g.index == nil {
		return true, ""
	}
	ix, err := g.index()
	if err != nil {
		return false, fmt.Sprintf("index unavailable: %v", err)
	}
	entries := ix.LiveShadowRuns
	if len(entries) > RecentLiveShadowWindow {
		entries = entries[len(entries)-RecentLiveShadowWindow:]
	}
	for _, e := range entries {
		if e.AlertCount > 0 {
			return false, fmt.Sprintf("recent live-shadow run %s carries %d alerts", e.RunID, e.AlertCount)
		}
	}
	return true, ""
}

// NewAudit stamps an audit record for one gate outcome.
func (g *Gate) NewAudit(c Candidate, allowed bool, reason string) Audit {
	return Audit{
		ConnectorName:     c.ConnectorName,
		MatchID:           c.MatchID,
		Market:            c.Market,
		DecisionKind:      string(c.Decision),
		Confidence:        c.Confidence,
		Reasons:           c.Reasons,
		ActivationAllowed: allowed,
		ActivationReason:  reason,
		CreatedAtUTC:      g.now().UTC().Format(canon.TimestampLayout),
	}
}

// EligibleSet applies the deterministic rollout slice: lexicographic
// sort, first round(n * pct/100) ids.
func EligibleSet(matchIDs []string, pct float64) []string {
	sorted := append([]string(nil), matchIDs...)
	sort.Strings(sorted)
	if pct <= 0 {
		return nil
	}
	if pct >= 100 {
		return sorted
	}
	n := int(math.Round(float64(len(sorted)) * pct / 100))
	return sorted[:n]
}

// DailyCapRemaining computes the remaining activation budget for the
// day from the index. Cap 0 means unlimited (-1 remaining).
func DailyCapRemaining(ix reports.Index, cap int, now time.Time) int {
	if cap <= 0 {
		return -1
	}
	used := ix.CountActivatedOn(now)
	remaining := cap - used
	if remaining < 0 {
		return 0
	}
	return remaining
}

// CheckDailyCap denies a whole activated batch once the cap is spent.
func CheckDailyCap(ix reports.Index, cap int, now time.Time) (bool, string) {
	if remaining := DailyCapRemaining(ix, cap, now); remaining == 0 {
		return false, fmt.Sprintf("daily activation cap %d reached", cap)
	}
	return true, ""
}
