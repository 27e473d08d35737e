package analyzer

import (
	"fmt"
)

// Gate thresholds.
const (
	ThresholdEvidenceQuality  = 0.5
	ConflictT1Block           = 0.4
	ConflictT2Downgrade       = 0.65
	ConflictPenalty           = 0.7
	OverrideConfidenceBelowT2 = 0.78
	MaxMinorFlagsBeforeNoBet  = 2
)

// Gate names recorded in gate_results.
const (
	GateResolver        = "RESOLVER"
	GateMarketSupported = "MARKET_SUPPORTED"
	GateRequiredDomains = "REQUIRED_DOMAINS"
	GateEvidenceQuality = "EVIDENCE_QUALITY"
	GateConflict        = "CONFLICT"
)

// requiredDomains lists the domains a market cannot be scored without.
// Currently every supported market needs stats.
var requiredDomains = map[string][]string{
	Market1X2:  {"stats"},
	MarketOU25: {"stats"},
	MarketBTTS: {"stats"},
}

// hardGateOutcome summarizes the hard-gate pass for one market.
type hardGateOutcome struct {
	blocked       bool
	blockCode     string
	blockText     string
	consensusWeak bool
	results       []GateResult
}

// ConsensusQuality is the conservative scalar feeding the conflict
// gate: worst domain score, penalized when any agreement flag is up.
func ConsensusQuality(f Features) float64 {
	q := f.MinQuality()
	if f.HasAgreementConflict() {
		q *= ConflictPenalty
	}
	return q
}

// runHardGates evaluates the ordered hard gates for one market.
func runHardGates(market string, f Features) hardGateOutcome {
	out := hardGateOutcome{}

	supported := false
	for _, m := range SupportedMarkets {
		if m == market {
			supported = true
			break
		}
	}
	out.results = append(out.results, GateResult{
		Name: GateMarketSupported, Market: market, Passed: supported,
	})
	if !supported {
		out.blocked = true
		out.blockCode = CodeMarketUnsupported
		out.blockText = fmt.Sprintf("market %s not in supported set", market)
		return out
	}

	missing := ""
	for _, dom := range requiredDomains[market] {
		if _, ok := f.DomainScores[dom]; !ok {
			missing = dom
			break
		}
	}
	out.results = append(out.results, GateResult{
		Name: GateRequiredDomains, Market: market, Passed: missing == "",
		Detail: missing,
	})
	if missing != "" {
		out.blocked = true
		out.blockCode = CodeMissingStats
		out.blockText = fmt.Sprintf("required domain %s missing", missing)
		return out
	}

	mean := f.MeanQuality()
	qualityPass := mean >= ThresholdEvidenceQuality
	out.results = append(out.results, GateResult{
		Name: GateEvidenceQuality, Market: market, Passed: qualityPass,
		Detail: fmt.Sprintf("mean=%.3f", mean),
	})
	if !qualityPass {
		out.blocked = true
		out.blockCode = CodeLowQualityEvidence
		out.blockText = fmt.Sprintf("mean evidence quality %.3f below %.2f", mean, ThresholdEvidenceQuality)
		return out
	}

	cq := ConsensusQuality(f)
	conflictPass := cq >= ConflictT1Block
	out.results = append(out.results, GateResult{
		Name: GateConflict, Market: market, Passed: conflictPass,
		Detail: fmt.Sprintf("consensus_quality=%.3f", cq),
	})
	if !conflictPass {
		out.blocked = true
		out.blockCode = CodeGateBlocked
		out.blockText = fmt.Sprintf("consensus quality %.3f below block threshold %.2f", cq, ConflictT1Block)
		return out
	}
	if cq < ConflictT2Downgrade {
		out.consensusWeak = true
	}
	return out
}
