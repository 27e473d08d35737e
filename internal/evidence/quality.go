package evidence

import (
	"sort"
	"time"
)

// Quality scoring thresholds.
const (
	// QualityPassScore is the minimum overall score for a pass.
	QualityPassScore = 0.5
	// staleFreshnessCutoff marks a payload STALE_DATA below this freshness.
	staleFreshnessCutoff = 0.25
	// incompleteCutoff marks a payload INCOMPLETE_DATA below this completeness.
	incompleteCutoff = 0.5
)

// FreshnessScore decays linearly from 1 at age zero to 0 at the window
// boundary.
func FreshnessScore(age time.Duration, windowHours int) float64 {
	if windowHours <= 0 {
		return 0
	}
	ageHours := age.Hours()
	if ageHours <= 0 {
		return 1
	}
	s := 1 - ageHours/float64(windowHours)
	if s < 0 {
		return 0
	}
	return s
}

// CompletenessScore is the fraction of required fields present.
func CompletenessScore(presentRequired, totalRequired int) float64 {
	if totalRequired <= 0 {
		return 1
	}
	return float64(presentRequired) / float64(totalRequired)
}

// ScorePayload combines freshness and completeness into a Quality
// verdict with controlled flags. extraFlags (e.g. LOW_AGREEMENT from
// consensus) participate in the pass decision.
func ScorePayload(age time.Duration, windowHours int, presentRequired, totalRequired int, extraFlags ...string) Quality {
	fresh := FreshnessScore(age, windowHours)
	complete := CompletenessScore(presentRequired, totalRequired)

	flags := append([]string(nil), extraFlags...)
	if fresh < staleFreshnessCutoff {
		flags = append(flags, FlagStaleData)
	}
	if complete < incompleteCutoff {
		flags = append(flags, FlagIncompleteData)
	}
	sort.Strings(flags)
	flags = dedupe(flags)

	score := (fresh + complete) / 2
	return Quality{
		Passed: score >= QualityPassScore && !hasCritical(flags),
		Score:  score,
		Flags:  flags,
	}
}

func hasCritical(flags []string) bool {
	for _, f := range flags {
		if criticalFlags[f] {
			return true
		}
	}
	return false
}

func dedupe(sorted []string) []string {
	out := sorted[:0]
	var prev string
	for i, f := range sorted {
		if i == 0 || f != prev {
			out = append(out, f)
		}
		prev = f
	}
	return out
}
