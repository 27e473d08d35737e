package analyzer

import (
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/oddsline/matchcore/internal/canon"
	"github.com/oddsline/matchcore/internal/evidence"
	"github.com/oddsline/matchcore/internal/policy"
	"github.com/oddsline/matchcore/internal/resolve"
)

// Request carries one analysis invocation.
type Request struct {
	ResolverStatus resolve.Status
	Pack           evidence.Pack
	Markets        []string
	Policy         policy.Policy
}

// Analyzer runs the v2 pipeline. The stability store is shared across
// runs within a process; pass nil to disable divergence tracking.
type Analyzer struct {
	stability *StabilityStore
	log       zerolog.Logger
	now       func() time.Time
}

func New(stability *StabilityStore, log zerolog.Logger) *Analyzer {
	return &Analyzer{stability: stability, log: log, now: time.Now}
}

// WithClock fixes the analyzer clock. Tests only.
func (a *Analyzer) WithClock(now func() time.Time) *Analyzer {
	a.now = now
	return a
}

// Analyze runs gates, scoring and stability hashing for the requested
// markets. Deterministic: decisions preserve the request's market
// order, flag lists are sorted, and all hashes route through canon.
func (a *Analyzer) Analyze(req Request) (Result, error) {
	res := Result{
		Status:        StatusNoPrediction,
		Version:       Version,
		PolicyVersion: req.Policy.Meta.Version,
	}

	// Global gate: resolver.
	if req.ResolverStatus != resolve.StatusResolved {
		flag := CodeNotFound
		if req.ResolverStatus == resolve.StatusAmbiguous {
			flag = CodeAmbiguous
		}
		res.AnalysisRun.Flags = []string{flag}
		res.AnalysisRun.GateResults = []GateResult{{
			Name: GateResolver, Passed: false, Detail: string(req.ResolverStatus),
		}}
		res.Decisions = []Decision{}
		return a.finalize(req, res)
	}
	res.AnalysisRun.GateResults = append(res.AnalysisRun.GateResults, GateResult{
		Name: GateResolver, Passed: true,
	})

	feats := ExtractFeatures(req.Pack)
	cq := ConsensusQuality(feats)
	res.AnalysisRun.ConflictSummary = fmt.Sprintf("consensus_quality=%.3f", cq)

	globalFlags := map[string]bool{}
	markets := req.Markets
	if len(markets) == 0 {
		markets = SupportedMarkets
	}

	for _, market := range markets {
		decision := a.decideMarket(market, feats, cq, req.Policy)
		res.AnalysisRun.GateResults = append(res.AnalysisRun.GateResults, decision.gates...)
		for _, fl := range decision.d.Flags {
			globalFlags[fl] = true
		}
		res.Decisions = append(res.Decisions, decision.d)

		switch decision.d.Decision {
		case DecisionPlay:
			res.AnalysisRun.Counts.Play++
		case DecisionNoBet:
			res.AnalysisRun.Counts.NoBet++
		default:
			res.AnalysisRun.Counts.NoPrediction++
		}
	}

	for fl := range globalFlags {
		res.AnalysisRun.Flags = append(res.AnalysisRun.Flags, fl)
	}
	sort.Strings(res.AnalysisRun.Flags)

	if res.AnalysisRun.Counts.Play > 0 {
		res.Status = StatusOK
	}
	return a.finalize(req, res)
}

type marketDecision struct {
	d     Decision
	gates []GateResult
}

func (a *Analyzer) decideMarket(market string, feats Features, cq float64, pol policy.Policy) marketDecision {
	gate := runHardGates(market, feats)
	d := Decision{
		Market:        market,
		PolicyVersion: pol.Meta.Version,
	}

	if gate.blocked {
		d.Decision = DecisionNoPrediction
		d.Reasons = capReasons([]string{gate.blockText})
		d.ReasonCodes = []string{gate.blockCode}
		if gate.blockCode != CodeGateBlocked {
			d.ReasonCodes = append(d.ReasonCodes, CodeGateBlocked)
		}
		d.Flags = []string{gate.blockCode}
		return marketDecision{d: d, gates: gate.results}
	}

	ms, ok := scoreMarket(market, feats)
	if !ok {
		// Unreachable after the supported gate; kept as a guard.
		d.Decision = DecisionNoPrediction
		d.ReasonCodes = []string{CodeMarketUnsupported}
		return marketDecision{d: d, gates: gate.results}
	}

	reasons := append([]string(nil), ms.reasons...)
	codes := append([]string(nil), ms.reasonCodes...)
	var flags []string
	if gate.consensusWeak {
		reasons = append(reasons, "consensus weak, continuing with downgrade armed")
		codes = append(codes, CodeConsensusWeak)
		flags = append(flags, CodeConsensusWeak)
	}
	minorFlags := feats.MinorFlags()
	flags = append(flags, minorFlags...)
	sort.Strings(flags)

	confidence := ms.confidence
	// Reason dampening from policy, applied before the soft gates.
	for _, code := range codes {
		if rp, ok := pol.Reasons[code]; ok {
			confidence *= rp.DampeningFactor
		}
	}
	for _, fl := range minorFlags {
		if rp, ok := pol.Reasons[fl]; ok {
			confidence *= rp.DampeningFactor
		}
	}
	confidence = clamp(confidence, 0, 1)
	conf := round6(confidence)
	d.Confidence = &conf
	d.Meta = ms.meta

	// Soft gates, in order.
	switch {
	case ms.belowSep:
		d.Decision = DecisionNoBet
	case confidence < pol.MinConfidence(market):
		d.Decision = DecisionNoBet
		reasons = append(reasons, fmt.Sprintf("confidence %.3f below market floor %.2f", confidence, pol.MinConfidence(market)))
		codes = append(codes, CodeBelowMinConfidence)
	case cq < ConflictT2Downgrade && confidence < OverrideConfidenceBelowT2:
		d.Decision = DecisionNoBet
		reasons = append(reasons, fmt.Sprintf("consensus weak and confidence %.3f below override %.2f", confidence, OverrideConfidenceBelowT2))
		codes = append(codes, CodeConsensusWeak)
	case len(minorFlags) >= MaxMinorFlagsBeforeNoBet:
		d.Decision = DecisionNoBet
		reasons = append(reasons, fmt.Sprintf("%d minor quality flags raised", len(minorFlags)))
		codes = append(codes, CodeMinorFlagsExceeded)
	default:
		d.Decision = DecisionPlay
		d.Selection = ms.selection
	}

	d.Reasons = capReasons(reasons)
	d.ReasonCodes = dedupeCodes(codes)
	d.Flags = flags
	return marketDecision{d: d, gates: gate.results}
}

// finalize computes the stability hashes and consults the divergence
// store. The output hash covers the deterministic core of the result;
// the guardrail flag is added after hashing so the hash itself stays
// comparable across runs.
func (a *Analyzer) finalize(req Request, res Result) (Result, error) {
	evidenceHash, err := canon.Checksum(req.Pack.StrippedForChecksum())
	if err != nil {
		return Result{}, fmt.Errorf("analyzer: evidence hash: %w", err)
	}
	res.InputHash = canon.HashString(req.Pack.MatchID + ":" + evidenceHash)[:32]

	outputHash, err := canon.ChecksumShort(map[string]any{
		"status":    res.Status,
		"version":   res.Version,
		"decisions": res.Decisions,
		"flags":     res.AnalysisRun.Flags,
		"counts":    res.AnalysisRun.Counts,
	}, 32)
	if err != nil {
		return Result{}, fmt.Errorf("analyzer: output hash: %w", err)
	}
	res.OutputHash = outputHash

	if a.stability != nil {
		prev, diverged := a.stability.CheckAndRecord(res.InputHash, res.OutputHash, a.now())
		if diverged {
			res.AnalysisRun.Flags = append(res.AnalysisRun.Flags, CodeGuardrailTriggered)
			sort.Strings(res.AnalysisRun.Flags)
			a.log.Error().
				Str("match_id", req.Pack.MatchID).
				Str("input_hash", res.InputHash).
				Str("previous_output_hash", prev).
				Str("output_hash", res.OutputHash).
				Msg("analyzer output diverged for identical input")
		}
	}
	return res, nil
}

func dedupeCodes(codes []string) []string {
	seen := map[string]bool{}
	out := make([]string, 0, len(codes))
	for _, c := range codes {
		if !IsKnownCode(c) {
			c = CodeUnclassified
		}
		if !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}
	return out
}
