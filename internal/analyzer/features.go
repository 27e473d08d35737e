package analyzer

import (
	"sort"

	"github.com/oddsline/matchcore/internal/evidence"
)

// Features is the pure extraction of everything scoring needs from an
// evidence pack. Missing domains are noted, never fatal.
type Features struct {
	HasFixtures bool
	HasStats    bool

	HomeGoalsScored   float64
	HomeGoalsConceded float64
	AwayGoalsScored   float64
	AwayGoalsConceded float64

	H2HMatches  int
	H2HHomeWins int
	H2HDraws    int
	H2HAwayWins int

	// Per-domain quality, keyed by domain name.
	DomainScores map[string]float64
	DomainFlags  map[string][]string

	Missing []string
}

// ExtractFeatures pulls scoring inputs out of the pack. Pure function.
func ExtractFeatures(pack evidence.Pack) Features {
	f := Features{
		DomainScores: map[string]float64{},
		DomainFlags:  map[string][]string{},
	}

	for _, d := range evidence.AllDomains {
		dd, ok := pack.Domain(d)
		if !ok {
			f.Missing = append(f.Missing, string(d))
			continue
		}
		f.DomainScores[string(d)] = dd.Quality.Score
		f.DomainFlags[string(d)] = append([]string(nil), dd.Quality.Flags...)

		switch d {
		case evidence.DomainFixtures:
			f.HasFixtures = dd.Fixtures != nil
		case evidence.DomainStats:
			if dd.Stats == nil {
				continue
			}
			f.HasStats = true
			f.HomeGoalsScored = dd.Stats.Home.GoalsScored
			f.HomeGoalsConceded = dd.Stats.Home.GoalsConceded
			f.AwayGoalsScored = dd.Stats.Away.GoalsScored
			f.AwayGoalsConceded = dd.Stats.Away.GoalsConceded
			if h2h := dd.Stats.H2H; h2h != nil {
				f.H2HMatches = h2h.Matches
				f.H2HHomeWins = h2h.HomeWins
				f.H2HDraws = h2h.Draws
				f.H2HAwayWins = h2h.AwayWins
			}
		}
	}
	sort.Strings(f.Missing)
	return f
}

// MeanQuality averages present-domain quality scores. Zero when no
// domain is present.
func (f Features) MeanQuality() float64 {
	if len(f.DomainScores) == 0 {
		return 0
	}
	sum := 0.0
	for _, s := range f.DomainScores {
		sum += s
	}
	return sum / float64(len(f.DomainScores))
}

// MinQuality is the most conservative present-domain score.
func (f Features) MinQuality() float64 {
	first := true
	min := 0.0
	for _, s := range f.DomainScores {
		if first || s < min {
			min = s
			first = false
		}
	}
	return min
}

// HasAgreementConflict reports a LOW_AGREEMENT flag on any domain.
func (f Features) HasAgreementConflict() bool {
	for _, flags := range f.DomainFlags {
		for _, fl := range flags {
			if fl == evidence.FlagLowAgreement {
				return true
			}
		}
	}
	return false
}

// MinorFlags collects the non-blocking quality flags across domains,
// deduplicated and sorted. These drive the soft minor-flag gate.
func (f Features) MinorFlags() []string {
	minor := map[string]bool{
		evidence.FlagStaleData:           true,
		evidence.FlagIncompleteData:      true,
		evidence.FlagInsufficientSources: true,
	}
	seen := map[string]bool{}
	var out []string
	for _, flags := range f.DomainFlags {
		for _, fl := range flags {
			if minor[fl] && !seen[fl] {
				seen[fl] = true
				out = append(out, fl)
			}
		}
	}
	sort.Strings(out)
	return out
}
