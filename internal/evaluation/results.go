// Package evaluation settles analyzer decisions against final scores
// and aggregates hit/miss KPIs. Everything here is deterministic and
// null-safe: missing picks or reasons settle to NEUTRAL and empty
// lists, never to errors.
package evaluation

import (
	"sort"
	"time"

	"github.com/oddsline/matchcore/internal/analyzer"
	"github.com/oddsline/matchcore/internal/persistence"
)

// Market settlement outcomes.
const (
	OutcomeSuccess = "SUCCESS"
	OutcomeFailure = "FAILURE"
	OutcomeNeutral = "NEUTRAL"
)

// FinalScore is the settled full-time result.
type FinalScore struct {
	Home   int    `json:"home"`
	Away   int    `json:"away"`
	Status string `json:"status,omitempty"`
}

// Derive1X2 maps a final score onto the 1X2 vocabulary.
func Derive1X2(s FinalScore) string {
	switch {
	case s.Home > s.Away:
		return analyzer.SelectionHome
	case s.Away > s.Home:
		return analyzer.SelectionAway
	default:
		return analyzer.SelectionDraw
	}
}

// DeriveOU25 is OVER iff three or more goals were scored.
func DeriveOU25(s FinalScore) string {
	if s.Home+s.Away >= 3 {
		return analyzer.SelectionOver
	}
	return analyzer.SelectionUnder
}

// DeriveGGNG is GG iff both teams scored.
func DeriveGGNG(s FinalScore) string {
	if s.Home >= 1 && s.Away >= 1 {
		return analyzer.SelectionGG
	}
	return analyzer.SelectionNG
}

// deriveForMarket dispatches by market id; empty for unknown markets.
func deriveForMarket(market string, s FinalScore) string {
	switch market {
	case analyzer.Market1X2:
		return Derive1X2(s)
	case analyzer.MarketOU25:
		return DeriveOU25(s)
	case analyzer.MarketBTTS:
		return DeriveGGNG(s)
	default:
		return ""
	}
}

// NormalizePick maps a prediction's decision and selection onto the
// settlement vocabulary. Only a PLAY decision carries a pick; NO_BET
// and anything unrecognized settle as NO_PREDICTION.
func NormalizePick(decision, selection string) string {
	if decision == string(analyzer.DecisionPlay) && selection != "" {
		return selection
	}
	return string(analyzer.DecisionNoPrediction)
}

// Resolution is the settlement of one run against a final score.
type Resolution struct {
	RunID               string              `json:"run_id"`
	MatchID             string              `json:"match_id"`
	SnapshotPicks       map[string]string   `json:"snapshot_picks"`
	MarketOutcomes      map[string]string   `json:"market_outcomes"`
	ReasonCodesByMarket map[string][]string `json:"reason_codes_by_market"`
	FinalResult1X2      string              `json:"final_result_1x2"`
	FinalOU25           string              `json:"final_ou25"`
	FinalGGNG           string              `json:"final_ggng"`
	EvaluatedAtUTC      time.Time           `json:"evaluated_at_utc"`
}

// AttachResult settles the run's predictions against the final score.
func AttachResult(run persistence.AnalysisRunRecord, predictions []persistence.Prediction, final FinalScore, evaluatedAt time.Time) Resolution {
	res := Resolution{
		RunID:               run.RunID,
		MatchID:             run.MatchID,
		SnapshotPicks:       make(map[string]string),
		MarketOutcomes:      make(map[string]string),
		ReasonCodesByMarket: make(map[string][]string),
		FinalResult1X2:      Derive1X2(final),
		FinalOU25:           DeriveOU25(final),
		FinalGGNG:           DeriveGGNG(final),
		EvaluatedAtUTC:      evaluatedAt.UTC(),
	}

	for _, p := range predictions {
		sel := ""
		if p.Selection != nil {
			sel = *p.Selection
		}
		pick := NormalizePick(p.Decision, sel)
		res.SnapshotPicks[p.Market] = pick
		res.MarketOutcomes[p.Market] = settle(p.Market, pick, final)
		if len(p.ReasonCodes) > 0 {
			codes := make([]string, len(p.ReasonCodes))
			copy(codes, p.ReasonCodes)
			res.ReasonCodesByMarket[p.Market] = codes
		} else {
			res.ReasonCodesByMarket[p.Market] = []string{}
		}
	}
	return res
}

func settle(market, pick string, final FinalScore) string {
	if pick == string(analyzer.DecisionNoPrediction) {
		return OutcomeNeutral
	}
	derived := deriveForMarket(market, final)
	if derived == "" {
		return OutcomeNeutral
	}
	if pick == derived {
		return OutcomeSuccess
	}
	return OutcomeFailure
}

// OutcomeRows converts a resolution into persistable outcome rows.
// Only settled PLAY picks produce rows; NEUTRAL markets are skipped.
func (r Resolution) OutcomeRows(final FinalScore) []persistence.PredictionOutcome {
	markets := make([]string, 0, len(r.MarketOutcomes))
	for m := range r.MarketOutcomes {
		markets = append(markets, m)
	}
	sort.Strings(markets)

	var rows []persistence.PredictionOutcome
	for _, m := range markets {
		outcome := r.MarketOutcomes[m]
		if outcome == OutcomeNeutral {
			continue
		}
		rows = append(rows, persistence.PredictionOutcome{
			MatchID:   r.MatchID,
			Market:    m,
			Pick:      r.SnapshotPicks[m],
			Outcome:   outcome,
			FinalHome: final.Home,
			FinalAway: final.Away,
			SettledAt: r.EvaluatedAtUTC,
		})
	}
	return rows
}

// ResolutionRow converts the resolution into the snapshot_resolutions
// persistence shape.
func (r Resolution) ResolutionRow(snapshotID string) persistence.SnapshotResolution {
	return persistence.SnapshotResolution{
		SnapshotID: snapshotID,
		MatchID:    r.MatchID,
		Status:     "SETTLED",
		Detail: map[string]any{
			"run_id":                 r.RunID,
			"snapshot_picks":         r.SnapshotPicks,
			"market_outcomes":        r.MarketOutcomes,
			"reason_codes_by_market": r.ReasonCodesByMarket,
			"final_result_1x2":       r.FinalResult1X2,
			"final_ou25":             r.FinalOU25,
			"final_ggng":             r.FinalGGNG,
		},
	}
}
