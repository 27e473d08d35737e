package evaluation

import (
	"fmt"
	"math"
	"sort"

	"github.com/oddsline/matchcore/internal/analyzer"
	"github.com/oddsline/matchcore/internal/canon"
)

// MarketStats is the per-market tally inside a report.
type MarketStats struct {
	Success int `json:"success"`
	Failure int `json:"failure"`
	Neutral int `json:"neutral"`
}

// ReasonStats tracks how a reason code correlates with settlement.
type ReasonStats struct {
	Occurrences int `json:"occurrences"`
	Success     int `json:"success"`
	Failure     int `json:"failure"`
}

// Report is the evaluation snapshot for one analyzed match. Its
// checksum is stable across runs over identical inputs.
type Report struct {
	MatchID             string                 `json:"match_id"`
	Markets             map[string]MarketStats `json:"markets"`
	ConfidenceBands     map[string]int         `json:"confidence_bands"`
	CalibrationBands    map[string]MarketStats `json:"calibration_bands"`
	ReasonEffectiveness map[string]ReasonStats `json:"reason_effectiveness"`
	Settled             bool                   `json:"settled"`
}

// confidenceBand buckets a confidence into a stable decile label.
func confidenceBand(conf float64) string {
	lo := math.Floor(conf*10) / 10
	if lo >= 1.0 {
		lo = 0.9
	}
	return fmt.Sprintf("%.1f-%.1f", lo, lo+0.1)
}

// BuildReport assembles the evaluation snapshot from the analyzer
// result and, when the match is settled, its resolution. A nil
// resolution yields an unsettled report with NEUTRAL-free tallies.
func BuildReport(matchID string, decisions []analyzer.Decision, res *Resolution) Report {
	rep := Report{
		MatchID:             matchID,
		Markets:             make(map[string]MarketStats),
		ConfidenceBands:     make(map[string]int),
		CalibrationBands:    make(map[string]MarketStats),
		ReasonEffectiveness: make(map[string]ReasonStats),
		Settled:             res != nil,
	}

	for _, d := range decisions {
		outcome := OutcomeNeutral
		if res != nil {
			if o, ok := res.MarketOutcomes[d.Market]; ok {
				outcome = o
			}
		}

		stats := rep.Markets[d.Market]
		bump(&stats, outcome)
		rep.Markets[d.Market] = stats

		if d.Confidence != nil {
			band := confidenceBand(*d.Confidence)
			rep.ConfidenceBands[band]++
			cal := rep.CalibrationBands[band]
			bump(&cal, outcome)
			rep.CalibrationBands[band] = cal
		}

		for _, code := range d.ReasonCodes {
			rs := rep.ReasonEffectiveness[code]
			rs.Occurrences++
			switch outcome {
			case OutcomeSuccess:
				rs.Success++
			case OutcomeFailure:
				rs.Failure++
			}
			rep.ReasonEffectiveness[code] = rs
		}
	}
	return rep
}

func bump(s *MarketStats, outcome string) {
	switch outcome {
	case OutcomeSuccess:
		s.Success++
	case OutcomeFailure:
		s.Failure++
	default:
		s.Neutral++
	}
}

// Checksum is the canonical digest over the report content.
func (r Report) Checksum() (string, error) {
	return canon.Checksum(r)
}

// TopReasons lists reason codes by occurrence, ties broken by name.
func (r Report) TopReasons(limit int) []string {
	codes := make([]string, 0, len(r.ReasonEffectiveness))
	for c := range r.ReasonEffectiveness {
		codes = append(codes, c)
	}
	sort.Slice(codes, func(i, j int) bool {
		a, b := r.ReasonEffectiveness[codes[i]], r.ReasonEffectiveness[codes[j]]
		if a.Occurrences != b.Occurrences {
			return a.Occurrences > b.Occurrences
		}
		return codes[i] < codes[j]
	})
	if limit > 0 && len(codes) > limit {
		codes = codes[:limit]
	}
	return codes
}
