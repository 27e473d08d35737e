package analyzer

import "strings"

// Closed reason-code vocabulary. Decisions never carry a code outside
// this set; free-text reasons map onto it through ReasonCode.
const (
	CodeTopSep              = "TOP_SEP"
	CodeLowSeparation       = "LOW_SEPARATION"
	CodeH2HUsed             = "H2H_USED"
	CodeHomeAdvantage       = "HOME_ADVANTAGE_APPLIED"
	CodeXGProxy             = "XG_PROXY"
	CodeExpectedGoalsAbove  = "EXPECTED_GOALS_ABOVE"
	CodeExpectedGoalsBelow  = "EXPECTED_GOALS_BELOW"
	CodeBTTSBothLikely      = "BTTS_BOTH_SCORE_LIKELY"
	CodeBTTSCleanSheet      = "BTTS_CLEAN_SHEET_LIKELY"
	CodeMissingStats        = "MISSING_STATS"
	CodeGateBlocked         = "GATE_BLOCKED"
	CodeConsensusWeak       = "CONSENSUS_WEAK"
	CodeLowQualityEvidence  = "LOW_QUALITY_EVIDENCE"
	CodeMarketUnsupported   = "MARKET_UNSUPPORTED"
	CodeBelowMinConfidence  = "BELOW_MIN_CONFIDENCE"
	CodeMinorFlagsExceeded  = "MINOR_FLAGS_EXCEEDED"
	CodeAmbiguous           = "AMBIGUOUS"
	CodeNotFound            = "NOT_FOUND"
	CodeStaleData           = "STALE_DATA"
	CodeInsufficientSources = "INSUFFICIENT_SOURCES"
	CodeGuardrailTriggered  = "INTERNAL_GUARDRAIL_TRIGGERED"
	CodeUnclassified        = "UNCLASSIFIED"
)

// MaxReasonsPerDecision caps the free-text reason list.
const MaxReasonsPerDecision = 10

var knownCodes = map[string]bool{
	CodeTopSep: true, CodeLowSeparation: true, CodeH2HUsed: true,
	CodeHomeAdvantage: true, CodeXGProxy: true,
	CodeExpectedGoalsAbove: true, CodeExpectedGoalsBelow: true,
	CodeBTTSBothLikely: true, CodeBTTSCleanSheet: true,
	CodeMissingStats: true, CodeGateBlocked: true, CodeConsensusWeak: true,
	CodeLowQualityEvidence: true, CodeMarketUnsupported: true,
	CodeBelowMinConfidence: true, CodeMinorFlagsExceeded: true,
	CodeAmbiguous: true, CodeNotFound: true, CodeStaleData: true,
	CodeInsufficientSources: true, CodeGuardrailTriggered: true,
	CodeUnclassified: true,
}

// IsKnownCode reports membership in the closed vocabulary.
func IsKnownCode(code string) bool { return knownCodes[code] }

// keyword → code mapping for free-text reasons without an explicit code.
var reasonKeywords = []struct {
	substr string
	code   string
}{
	{"h2h", CodeH2HUsed},
	{"head-to-head", CodeH2HUsed},
	{"home advantage", CodeHomeAdvantage},
	{"separation", CodeTopSep},
	{"xg", CodeXGProxy},
	{"expected goals above", CodeExpectedGoalsAbove},
	{"expected goals below", CodeExpectedGoalsBelow},
	{"both teams", CodeBTTSBothLikely},
	{"clean sheet", CodeBTTSCleanSheet},
	{"missing stats", CodeMissingStats},
	{"stale", CodeStaleData},
	{"consensus", CodeConsensusWeak},
	{"quality", CodeLowQualityEvidence},
	{"confidence", CodeBelowMinConfidence},
	{"gate", CodeGateBlocked},
}

// ReasonCode maps a free-text reason to the closed vocabulary via the
// fixed keyword heuristic. Unmatched text maps to UNCLASSIFIED.
func ReasonCode(text string) string {
	lower := strings.ToLower(text)
	for _, kw := range reasonKeywords {
		if strings.Contains(lower, kw.substr) {
			return kw.code
		}
	}
	return CodeUnclassified
}

// capReasons truncates to the per-decision limit.
func capReasons(reasons []string) []string {
	if len(reasons) > MaxReasonsPerDecision {
		return reasons[:MaxReasonsPerDecision]
	}
	return reasons
}
