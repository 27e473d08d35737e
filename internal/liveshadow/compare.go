// Package liveshadow runs a live connector next to its recorded
// counterpart and measures how far the two views of the same match
// drift apart. Compare looks at the raw payloads; Analyze pushes both
// sides through the analyzer and diffs the decisions.
package liveshadow

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/oddsline/matchcore/internal/activation"
	"github.com/oddsline/matchcore/internal/canon"
	"github.com/oddsline/matchcore/internal/connectors"
	"github.com/oddsline/matchcore/internal/envelope"
	"github.com/oddsline/matchcore/internal/metrics"
	"github.com/oddsline/matchcore/internal/reports"
)

// Alert names emitted by the fixed threshold policy.
const (
	AlertIdentityMismatch     = "IDENTITY_MISMATCH"
	AlertOddsPresenceMismatch = "ODDS_PRESENCE_MISMATCH"
	AlertOddsDriftAbs         = "ODDS_DRIFT_ABS_EXCEEDED"
	AlertOddsDriftPct         = "ODDS_DRIFT_PCT_EXCEEDED"
	AlertSchemaDrift          = "SCHEMA_DRIFT"
)

// DriftThresholds bound acceptable odds movement between the two sides.
type DriftThresholds struct {
	MaxAbsDelta float64 `json:"max_abs_delta"`
	MaxPctDelta float64 `json:"max_pct_delta"`
}

// DefaultDriftThresholds tolerate normal market movement between a
// recorded capture and a live read.
var DefaultDriftThresholds = DriftThresholds{MaxAbsDelta: 0.25, MaxPctDelta: 10.0}

// OddsDrift is one odds field's movement between the two sides.
type OddsDrift struct {
	Field    string  `json:"field"`
	Live     float64 `json:"live"`
	Recorded float64 `json:"recorded"`
	AbsDelta float64 `json:"abs_delta"`
	PctDelta float64 `json:"pct_delta"`
}

// MatchComparison is the per-match compare result.
type MatchComparison struct {
	MatchID            string      `json:"match_id"`
	LiveSnapshotID     string      `json:"live_snapshot_id"`
	RecordedSnapshotID string      `json:"recorded_snapshot_id"`
	IdentityParity     bool        `json:"identity_parity"`
	IdentityDiffs      []string    `json:"identity_diffs,omitempty"`
	OddsPresenceParity bool        `json:"odds_presence_parity"`
	OddsDrift          []OddsDrift `json:"odds_drift,omitempty"`
	SchemaDrift        []string    `json:"schema_drift,omitempty"`
	LatencyMS          float64     `json:"latency_ms"`
}

// Failure records one match that could not be compared.
type Failure struct {
	MatchID string `json:"match_id"`
	Error   string `json:"error"`
}

// CompareReport aggregates one compare run.
type CompareReport struct {
	RunID              string            `json:"run_id"`
	CreatedAtUTC       string            `json:"created_at_utc"`
	LiveConnector      string            `json:"live_connector"`
	RecordedConnector  string            `json:"recorded_connector"`
	Matches            []MatchComparison `json:"matches"`
	IdentityParityN    int               `json:"identity_parity_count"`
	OddsPresenceN      int               `json:"odds_presence_parity_count"`
	DriftAbsP50        float64           `json:"drift_abs_p50"`
	DriftAbsP95        float64           `json:"drift_abs_p95"`
	DriftPctP50        float64           `json:"drift_pct_p50"`
	DriftPctP95        float64           `json:"drift_pct_p95"`
	Alerts             []string          `json:"alerts"`
	Failures           []Failure         `json:"failures"`
	WritesAllowed      bool              `json:"writes_allowed"`
}

// Comparer drives compare runs.
type Comparer struct {
	registry   *connectors.Registry
	cfg        activation.Config
	store      *reports.Store
	liveio     *metrics.LiveIO
	thresholds DriftThresholds
	log        zerolog.Logger
	now        func() time.Time
}

func NewComparer(registry *connectors.Registry, cfg activation.Config, store *reports.Store, liveio *metrics.LiveIO, log zerolog.Logger) *Comparer {
	return &Comparer{
		registry:   registry,
		cfg:        cfg,
		store:      store,
		liveio:     liveio,
		thresholds: DefaultDriftThresholds,
		log:        log,
		now:        time.Now,
	}
}

// WithThresholds overrides the default drift policy.
func (c *Comparer) WithThresholds(t DriftThresholds) *Comparer {
	c.thresholds = t
	return c
}

// WithClock overrides the clock. Tests only.
func (c *Comparer) WithClock(now func() time.Time) *Comparer {
	c.now = now
	return c
}

// CompareRequest names the two connector modes and the match scope.
type CompareRequest struct {
	LiveConnector     string
	RecordedConnector string
	MatchIDs          []string
}

// Compare fetches every match from both sides and reports parity and
// drift. Report writes happen only with the live-writes capability.
func (c *Comparer) Compare(ctx context.Context, req CompareRequest) (CompareReport, error) {
	rep := CompareReport{
		RunID:             uuid.New().String(),
		CreatedAtUTC:      canon.Timestamp(c.now()),
		LiveConnector:     req.LiveConnector,
		RecordedConnector: req.RecordedConnector,
		Failures:          []Failure{},
		WritesAllowed:     c.cfg.LiveWritesAllowed,
	}

	live, err := c.registry.Resolve(req.LiveConnector, c.cfg.LiveIOAllowed)
	if err != nil {
		return rep, err
	}
	recorded, err := c.registry.Resolve(req.RecordedConnector, c.cfg.LiveIOAllowed)
	if err != nil {
		return rep, err
	}

	matchIDs, err := c.scope(ctx, recorded, req.MatchIDs)
	if err != nil {
		return rep, err
	}

	var absDeltas, pctDeltas []float64
	for _, id := range matchIDs {
		cmp, err := c.compareOne(ctx, live, recorded, id)
		if err != nil {
			rep.Failures = append(rep.Failures, Failure{MatchID: id, Error: err.Error()})
			continue
		}
		rep.Matches = append(rep.Matches, cmp)
		if cmp.IdentityParity {
			rep.IdentityParityN++
		}
		if cmp.OddsPresenceParity {
			rep.OddsPresenceN++
		}
		for _, d := range cmp.OddsDrift {
			absDeltas = append(absDeltas, d.AbsDelta)
			pctDeltas = append(pctDeltas, d.PctDelta)
		}
	}

	rep.DriftAbsP50, rep.DriftAbsP95 = percentiles(absDeltas)
	rep.DriftPctP50, rep.DriftPctP95 = percentiles(pctDeltas)
	rep.Alerts = c.alerts(rep)

	if c.store != nil && c.cfg.LiveWritesAllowed {
		if err := c.record(rep); err != nil {
			return rep, err
		}
	}

	c.log.Info().
		Str("run_id", rep.RunID).
		Int("matches", len(rep.Matches)).
		Int("alerts", len(rep.Alerts)).
		Bool("writes_allowed", rep.WritesAllowed).
		Msg("live shadow compare complete")
	return rep, nil
}

func (c *Comparer) scope(ctx context.Context, recorded connectors.Connector, ids []string) ([]string, error) {
	if len(ids) == 0 {
		identities, err := recorded.FetchMatches(ctx)
		if err != nil {
			return nil, err
		}
		for _, m := range identities {
			ids = append(ids, m.MatchID)
		}
	} else {
		ids = append([]string(nil), ids...)
	}
	sort.Strings(ids)
	if len(ids) > c.cfg.MaxMatches {
		ids = ids[:c.cfg.MaxMatches]
	}
	return ids, nil
}

func (c *Comparer) compareOne(ctx context.Context, live, recorded connectors.Connector, matchID string) (MatchComparison, error) {
	started := c.now()
	liveData, err := live.FetchMatchData(ctx, matchID)
	ended := c.now()
	if err != nil {
		if c.liveio != nil {
			c.liveio.Observe(metrics.OutcomeFailure, float64(ended.Sub(started).Milliseconds()))
		}
		return MatchComparison{}, fmt.Errorf("live fetch %s: %w", matchID, err)
	}
	latency := float64(ended.Sub(started).Milliseconds())
	if c.liveio != nil {
		c.liveio.Observe(metrics.OutcomeOK, latency)
	}
	if liveData == nil {
		return MatchComparison{}, fmt.Errorf("live side has no data for match %s", matchID)
	}

	recData, err := recorded.FetchMatchData(ctx, matchID)
	if err != nil {
		return MatchComparison{}, fmt.Errorf("recorded fetch %s: %w", matchID, err)
	}
	if recData == nil {
		return MatchComparison{}, fmt.Errorf("recorded side has no data for match %s", matchID)
	}

	now := c.now()
	liveSum, err := envelope.PayloadChecksum(liveData)
	if err != nil {
		return MatchComparison{}, err
	}
	recSum, err := envelope.PayloadChecksum(recData)
	if err != nil {
		return MatchComparison{}, err
	}
	liveEnv, err := envelope.BuildLiveShadow(liveData, envelope.NewSnapshotID(liveSum, now), live.Name(), now, ended, &envelope.LiveTiming{
		FetchStarted: started,
		FetchEnded:   ended,
		LatencyMS:    int64(latency),
	})
	if err != nil {
		return MatchComparison{}, err
	}
	recEnv, err := envelope.BuildRecorded(recData, envelope.NewSnapshotID(recSum, now), recorded.Name(), now)
	if err != nil {
		return MatchComparison{}, err
	}

	cmp := MatchComparison{
		MatchID:            matchID,
		LiveSnapshotID:     liveEnv.SnapshotID,
		RecordedSnapshotID: recEnv.SnapshotID,
		LatencyMS:          latency,
	}

	cmp.IdentityDiffs = identityDiffs(*liveData, *recData)
	cmp.IdentityParity = len(cmp.IdentityDiffs) == 0
	cmp.OddsPresenceParity = (liveData.Odds1X2 == nil) == (recData.Odds1X2 == nil)
	if liveData.Odds1X2 != nil && recData.Odds1X2 != nil {
		cmp.OddsDrift = oddsDrift(*liveData.Odds1X2, *recData.Odds1X2)
	}
	cmp.SchemaDrift = schemaDrift(*liveData, *recData)
	return cmp, nil
}

func identityDiffs(live, rec connectors.IngestedMatchData) []string {
	var diffs []string
	if live.HomeTeam != rec.HomeTeam {
		diffs = append(diffs, "home_team")
	}
	if live.AwayTeam != rec.AwayTeam {
		diffs = append(diffs, "away_team")
	}
	if live.KickoffUTC != rec.KickoffUTC {
		diffs = append(diffs, "kickoff_utc")
	}
	if live.Competition != rec.Competition {
		diffs = append(diffs, "competition")
	}
	return diffs
}

func oddsDrift(live, rec connectors.Odds1X2) []OddsDrift {
	fields := []struct {
		name string
		l, r float64
	}{
		{"home", live.Home, rec.Home},
		{"draw", live.Draw, rec.Draw},
		{"away", live.Away, rec.Away},
	}
	drifts := make([]OddsDrift, 0, len(fields))
	for _, f := range fields {
		abs := math.Abs(f.l - f.r)
		pct := 0.0
		if f.r != 0 {
			pct = abs / f.r * 100
		}
		drifts = append(drifts, OddsDrift{
			Field:    f.name,
			Live:     f.l,
			Recorded: f.r,
			AbsDelta: abs,
			PctDelta: pct,
		})
	}
	return drifts
}

// schemaDrift reports optional blocks present on exactly one side.
func schemaDrift(live, rec connectors.IngestedMatchData) []string {
	var drift []string
	check := func(field string, l, r bool) {
		switch {
		case l && !r:
			drift = append(drift, field+": missing on recorded side")
		case !l && r:
			drift = append(drift, field+": missing on live side")
		}
	}
	check("odds_1x2", live.Odds1X2 != nil, rec.Odds1X2 != nil)
	check("home_form", live.HomeForm != nil, rec.HomeForm != nil)
	check("away_form", live.AwayForm != nil, rec.AwayForm != nil)
	check("h2h", live.H2H != nil, rec.H2H != nil)
	check("status", live.Status != "", rec.Status != "")
	return drift
}

func (c *Comparer) alerts(rep CompareReport) []string {
	var alerts []string
	if rep.IdentityParityN < len(rep.Matches) {
		alerts = append(alerts, AlertIdentityMismatch)
	}
	if rep.OddsPresenceN < len(rep.Matches) {
		alerts = append(alerts, AlertOddsPresenceMismatch)
	}
	if c.thresholds.MaxAbsDelta > 0 && rep.DriftAbsP95 > c.thresholds.MaxAbsDelta {
		alerts = append(alerts, AlertOddsDriftAbs)
	}
	if c.thresholds.MaxPctDelta > 0 && rep.DriftPctP95 > c.thresholds.MaxPctDelta {
		alerts = append(alerts, AlertOddsDriftPct)
	}
	for _, m := range rep.Matches {
		if len(m.SchemaDrift) > 0 {
			alerts = append(alerts, AlertSchemaDrift)
			break
		}
	}
	sort.Strings(alerts)
	return alerts
}

func (c *Comparer) record(rep CompareReport) error {
	path, err := c.store.WriteBundle("live_shadow_"+rep.RunID+".json", rep)
	if err != nil {
		return err
	}
	entry := reports.NewEntry(rep.RunID, c.now())
	entry.ConnectorName = rep.LiveConnector
	entry.MatchCount = len(rep.Matches)
	entry.AlertCount = len(rep.Alerts)
	entry.BundlePath = path
	sum, err := reports.BundleChecksum(rep)
	if err != nil {
		return err
	}
	entry.Checksum = sum
	return c.store.AppendEntry(reports.CategoryLiveShadowRuns, entry)
}

// percentiles returns nearest-rank (p50, p95) over an unsorted sample.
func percentiles(vals []float64) (float64, float64) {
	if len(vals) == 0 {
		return 0, 0
	}
	sorted := append([]float64(nil), vals...)
	sort.Float64s(sorted)
	at := func(q float64) float64 {
		rank := int(math.Ceil(q * float64(len(sorted))))
		if rank < 1 {
			rank = 1
		}
		return sorted[rank-1]
	}
	return at(0.50), at(0.95)
}
