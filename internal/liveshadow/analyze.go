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
	"github.com/oddsline/matchcore/internal/analyzer"
	"github.com/oddsline/matchcore/internal/canon"
	"github.com/oddsline/matchcore/internal/connectors"
	"github.com/oddsline/matchcore/internal/pipeline"
	"github.com/oddsline/matchcore/internal/policy"
	"github.com/oddsline/matchcore/internal/reports"
	"github.com/oddsline/matchcore/internal/resolve"
)

// Alerts specific to the analyze mode.
const (
	AlertPickDisparity      = "PICK_DISPARITY"
	AlertCoverageMismatch   = "COVERAGE_MISMATCH"
	AlertConfidenceDiverged = "CONFIDENCE_DIVERGENCE"
)

// MaxConfidenceDelta is the fixed per-market divergence tolerance.
const MaxConfidenceDelta = 0.10

// MarketDiff compares one market's decision across the two sides.
type MarketDiff struct {
	Market              string   `json:"market"`
	PickParity          bool     `json:"pick_parity"`
	LivePick            string   `json:"live_pick"`
	RecordedPick        string   `json:"recorded_pick"`
	ConfidenceDelta     *float64 `json:"confidence_delta,omitempty"`
	ReasonsOnlyLive     []string `json:"reasons_only_live"`
	ReasonsOnlyRecorded []string `json:"reasons_only_recorded"`
}

// MatchAnalysis is the per-match analyze result.
type MatchAnalysis struct {
	MatchID              string          `json:"match_id"`
	LiveStatus           analyzer.Status `json:"live_status"`
	RecordedStatus       analyzer.Status `json:"recorded_status"`
	Markets              []MarketDiff    `json:"markets"`
	CoverageLiveOnly     []string        `json:"coverage_live_only"`
	CoverageRecordedOnly []string        `json:"coverage_recorded_only"`
}

// AnalyzeReport aggregates one analyze run.
type AnalyzeReport struct {
	RunID             string          `json:"run_id"`
	CreatedAtUTC      string          `json:"created_at_utc"`
	LiveConnector     string          `json:"live_connector"`
	RecordedConnector string          `json:"recorded_connector"`
	Matches           []MatchAnalysis `json:"matches"`
	PickParityN       int             `json:"pick_parity_count"`
	MarketsCompared   int             `json:"markets_compared"`
	Alerts            []string        `json:"alerts"`
	Failures          []Failure       `json:"failures"`
}

// Analyzer runs the decision engine on both sides of the shadow and
// diffs the outcomes. Database persistence never happens here, with or
// without the live-writes capability.
type Analyzer struct {
	registry *connectors.Registry
	engine   *analyzer.Analyzer
	policy   policy.Policy
	cfg      activation.Config
	store    *reports.Store
	log      zerolog.Logger
	now      func() time.Time
}

func NewAnalyzer(registry *connectors.Registry, engine *analyzer.Analyzer, pol policy.Policy, cfg activation.Config, store *reports.Store, log zerolog.Logger) *Analyzer {
	return &Analyzer{
		registry: registry,
		engine:   engine,
		policy:   pol,
		cfg:      cfg,
		store:    store,
		log:      log,
		now:      time.Now,
	}
}

// WithClock overrides the clock. Tests only.
func (a *Analyzer) WithClock(now func() time.Time) *Analyzer {
	a.now = now
	return a
}

// Analyze fetches both sides per match, runs the engine exactly once
// per side, and reports pick parity, confidence deltas, reason diffs,
// and market coverage.
func (a *Analyzer) Analyze(ctx context.Context, req CompareRequest) (AnalyzeReport, error) {
	rep := AnalyzeReport{
		RunID:             uuid.New().String(),
		CreatedAtUTC:      canon.Timestamp(a.now()),
		LiveConnector:     req.LiveConnector,
		RecordedConnector: req.RecordedConnector,
		Failures:          []Failure{},
	}

	live, err := a.registry.Resolve(req.LiveConnector, a.cfg.LiveIOAllowed)
	if err != nil {
		return rep, err
	}
	recorded, err := a.registry.Resolve(req.RecordedConnector, a.cfg.LiveIOAllowed)
	if err != nil {
		return rep, err
	}

	matchIDs := append([]string(nil), req.MatchIDs...)
	if len(matchIDs) == 0 {
		identities, err := recorded.FetchMatches(ctx)
		if err != nil {
			return rep, err
		}
		for _, m := range identities {
			matchIDs = append(matchIDs, m.MatchID)
		}
	}
	sort.Strings(matchIDs)
	if len(matchIDs) > a.cfg.MaxMatches {
		matchIDs = matchIDs[:a.cfg.MaxMatches]
	}

	for _, id := range matchIDs {
		ma, err := a.analyzeOne(ctx, live, recorded, id)
		if err != nil {
			rep.Failures = append(rep.Failures, Failure{MatchID: id, Error: err.Error()})
			continue
		}
		rep.Matches = append(rep.Matches, ma)
		for _, md := range ma.Markets {
			rep.MarketsCompared++
			if md.PickParity {
				rep.PickParityN++
			}
		}
	}

	rep.Alerts = analyzeAlerts(rep)

	if a.store != nil {
		if err := a.record(rep); err != nil {
			return rep, err
		}
	}

	a.log.Info().
		Str("run_id", rep.RunID).
		Int("matches", len(rep.Matches)).
		Int("pick_parity", rep.PickParityN).
		Int("markets", rep.MarketsCompared).
		Msg("live shadow analyze complete")
	return rep, nil
}

func (a *Analyzer) analyzeOne(ctx context.Context, live, recorded connectors.Connector, matchID string) (MatchAnalysis, error) {
	liveData, err := live.FetchMatchData(ctx, matchID)
	if err != nil {
		return MatchAnalysis{}, fmt.Errorf("live fetch %s: %w", matchID, err)
	}
	recData, err := recorded.FetchMatchData(ctx, matchID)
	if err != nil {
		return MatchAnalysis{}, fmt.Errorf("recorded fetch %s: %w", matchID, err)
	}
	if liveData == nil || recData == nil {
		return MatchAnalysis{}, fmt.Errorf("missing data for match %s", matchID)
	}

	now := a.now()
	liveRes, err := a.runSide(*liveData, live.Name(), now)
	if err != nil {
		return MatchAnalysis{}, err
	}
	recRes, err := a.runSide(*recData, recorded.Name(), now)
	if err != nil {
		return MatchAnalysis{}, err
	}

	return diffSides(matchID, liveRes, recRes), nil
}

// runSide is the single analyzer invocation for one side.
func (a *Analyzer) runSide(data connectors.IngestedMatchData, source string, now time.Time) (analyzer.Result, error) {
	pack := pipeline.SynthesizePack(data, source, now)
	return a.engine.Analyze(analyzer.Request{
		ResolverStatus: resolve.StatusResolved,
		Pack:           pack,
		Markets:        analyzer.SupportedMarkets,
		Policy:         a.policy,
	})
}

func diffSides(matchID string, live, rec analyzer.Result) MatchAnalysis {
	ma := MatchAnalysis{
		MatchID:              matchID,
		LiveStatus:           live.Status,
		RecordedStatus:       rec.Status,
		CoverageLiveOnly:     []string{},
		CoverageRecordedOnly: []string{},
	}

	liveByMarket := decisionsByMarket(live.Decisions)
	recByMarket := decisionsByMarket(rec.Decisions)

	markets := map[string]bool{}
	for m := range liveByMarket {
		markets[m] = true
	}
	for m := range recByMarket {
		markets[m] = true
	}
	sorted := make([]string, 0, len(markets))
	for m := range markets {
		sorted = append(sorted, m)
	}
	sort.Strings(sorted)

	for _, market := range sorted {
		ld, lok := liveByMarket[market]
		rd, rok := recByMarket[market]
		switch {
		case lok && !rok:
			ma.CoverageLiveOnly = append(ma.CoverageLiveOnly, market)
			continue
		case rok && !lok:
			ma.CoverageRecordedOnly = append(ma.CoverageRecordedOnly, market)
			continue
		}

		md := MarketDiff{
			Market:              market,
			LivePick:            pickOf(ld),
			RecordedPick:        pickOf(rd),
			ReasonsOnlyLive:     setDiff(ld.ReasonCodes, rd.ReasonCodes),
			ReasonsOnlyRecorded: setDiff(rd.ReasonCodes, ld.ReasonCodes),
		}
		md.PickParity = md.LivePick == md.RecordedPick
		if ld.Confidence != nil && rd.Confidence != nil {
			delta := *ld.Confidence - *rd.Confidence
			md.ConfidenceDelta = &delta
		}
		ma.Markets = append(ma.Markets, md)
	}
	return ma
}

func decisionsByMarket(ds []analyzer.Decision) map[string]analyzer.Decision {
	out := make(map[string]analyzer.Decision, len(ds))
	for _, d := range ds {
		out[d.Market] = d
	}
	return out
}

// pickOf flattens a decision to a comparable pick string.
func pickOf(d analyzer.Decision) string {
	if d.Decision == analyzer.DecisionPlay {
		return string(d.Decision) + ":" + d.Selection
	}
	return string(d.Decision)
}

func setDiff(a, b []string) []string {
	have := make(map[string]bool, len(b))
	for _, s := range b {
		have[s] = true
	}
	out := []string{}
	for _, s := range a {
		if !have[s] {
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}

func analyzeAlerts(rep AnalyzeReport) []string {
	var alerts []string
	if rep.PickParityN < rep.MarketsCompared {
		alerts = append(alerts, AlertPickDisparity)
	}
	for _, m := range rep.Matches {
		if len(m.CoverageLiveOnly) > 0 || len(m.CoverageRecordedOnly) > 0 {
			alerts = append(alerts, AlertCoverageMismatch)
			break
		}
	}
outer:
	for _, m := range rep.Matches {
		for _, md := range m.Markets {
			if md.ConfidenceDelta != nil && math.Abs(*md.ConfidenceDelta) > MaxConfidenceDelta {
				alerts = append(alerts, AlertConfidenceDiverged)
				break outer
			}
		}
	}
	sort.Strings(alerts)
	return alerts
}

func (a *Analyzer) record(rep AnalyzeReport) error {
	path, err := a.store.WriteBundle("live_shadow_analyze_"+rep.RunID+".json", rep)
	if err != nil {
		return err
	}
	entry := reports.NewEntry(rep.RunID, a.now())
	entry.ConnectorName = rep.LiveConnector
	entry.MatchCount = len(rep.Matches)
	entry.AlertCount = len(rep.Alerts)
	entry.BundlePath = path
	sum, err := reports.BundleChecksum(rep)
	if err != nil {
		return err
	}
	entry.Checksum = sum
	return a.store.AppendEntry(reports.CategoryLiveShadowAnalyze, entry)
}
