// Package analyzer implements the deterministic v2 decision pipeline:
// resolver gate, feature extraction, per-market hard gates, scoring,
// soft gates and stability hashing. Identical inputs always produce
// byte-identical results.
package analyzer

// Version is the analyzer generation tag.
const Version = "v2"

// Market identifiers. The supported set is closed.
const (
	Market1X2  = "1X2"
	MarketOU25 = "OU_2.5"
	MarketBTTS = "BTTS"
)

// SupportedMarkets in canonical order.
var SupportedMarkets = []string{Market1X2, MarketOU25, MarketBTTS}

// DecisionKind is the per-market verdict.
type DecisionKind string

const (
	DecisionPlay         DecisionKind = "PLAY"
	DecisionNoBet        DecisionKind = "NO_BET"
	DecisionNoPrediction DecisionKind = "NO_PREDICTION"
)

// Status is the overall run status.
type Status string

const (
	StatusOK           Status = "OK"
	StatusNoPrediction Status = "NO_PREDICTION"
)

// Selections for the three markets.
const (
	SelectionHome  = "1"
	SelectionDraw  = "X"
	SelectionAway  = "2"
	SelectionOver  = "OVER"
	SelectionUnder = "UNDER"
	SelectionGG    = "GG"
	SelectionNG    = "NG"
)

// Decision is one per-market verdict. Selection is set iff the decision
// is PLAY; Confidence is reported for scored markets (PLAY and NO_BET)
// and absent when no scoring happened.
type Decision struct {
	Market        string         `json:"market"`
	Decision      DecisionKind   `json:"decision"`
	Selection     string         `json:"selection,omitempty"`
	Confidence    *float64       `json:"confidence,omitempty"`
	Reasons       []string       `json:"reasons"`
	ReasonCodes   []string       `json:"reason_codes"`
	Flags         []string       `json:"flags,omitempty"`
	EvidenceRefs  []string       `json:"evidence_refs,omitempty"`
	PolicyVersion string         `json:"policy_version"`
	Meta          map[string]any `json:"meta,omitempty"`
}

// GateResult records one gate evaluation for the audit trail.
type GateResult struct {
	Name   string `json:"name"`
	Market string `json:"market,omitempty"`
	Passed bool   `json:"pass"`
	Detail string `json:"detail,omitempty"`
}

// Counts aggregates decision kinds for one run.
type Counts struct {
	Play         int `json:"PLAY"`
	NoBet        int `json:"NO_BET"`
	NoPrediction int `json:"NO_PREDICTION"`
}

// AnalysisRun is the run-level audit block.
type AnalysisRun struct {
	Flags           []string     `json:"flags"`
	GateResults     []GateResult `json:"gate_results"`
	ConflictSummary string       `json:"conflict_summary,omitempty"`
	Counts          Counts       `json:"counts"`
}

// Result is the analyzer output.
type Result struct {
	Status        Status      `json:"status"`
	Version       string      `json:"version"`
	PolicyVersion string      `json:"policy_version"`
	AnalysisRun   AnalysisRun `json:"analysis_run"`
	Decisions     []Decision  `json:"decisions"`
	InputHash     string      `json:"input_hash,omitempty"`
	OutputHash    string      `json:"output_hash,omitempty"`
}
