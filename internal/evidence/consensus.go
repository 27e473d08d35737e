package evidence

import (
	"sort"
	"time"
)

// SourcedPayload is one source's flat field view of a domain, as stored
// alongside its raw snapshot.
type SourcedPayload struct {
	Source     string         `json:"source"`
	Confidence float64        `json:"confidence"`
	ObservedAt time.Time      `json:"observed_at"`
	Fields     map[string]any `json:"fields"`
}

// domainFields is the fixed merge list per domain. Consensus only ever
// considers these fields; anything else a source sends is ignored.
var domainFields = map[Domain][]string{
	DomainFixtures: {
		"home_team", "away_team", "competition", "kickoff_utc",
		"odds_home", "odds_draw", "odds_away",
	},
	DomainStats: {
		"home_goals_scored", "home_goals_conceded",
		"away_goals_scored", "away_goals_conceded",
		"home_matches_played", "away_matches_played",
		"h2h_matches", "h2h_home_wins", "h2h_draws", "h2h_away_wins",
	},
}

// requiredFields drive the completeness score per domain.
var requiredFields = map[Domain][]string{
	DomainFixtures: {"home_team", "away_team", "kickoff_utc"},
	DomainStats: {
		"home_goals_scored", "home_goals_conceded",
		"away_goals_scored", "away_goals_conceded",
	},
}

// NumericTolerance is the maximum absolute disagreement between numeric
// source values before LOW_AGREEMENT is raised.
const NumericTolerance = 0.05

// Consensus is the merged field view plus the agreement verdict.
type Consensus struct {
	Fields  map[string]any `json:"fields"`
	Flags   []string       `json:"flags,omitempty"`
	Sources []string       `json:"sources"`
}

// BuildConsensus merges source payloads for one domain. Per field the
// highest-confidence, then freshest payload wins; disagreement beyond
// tolerance sets LOW_AGREEMENT on the result.
func BuildConsensus(domain Domain, payloads []SourcedPayload) Consensus {
	fieldList := domainFields[domain]
	out := Consensus{Fields: map[string]any{}}
	if len(payloads) == 0 {
		out.Flags = []string{FlagNoSources}
		return out
	}

	// Winner ordering: confidence desc, freshness desc, source name asc
	// as the deterministic tiebreak.
	ranked := append([]SourcedPayload(nil), payloads...)
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Confidence != ranked[j].Confidence {
			return ranked[i].Confidence > ranked[j].Confidence
		}
		if !ranked[i].ObservedAt.Equal(ranked[j].ObservedAt) {
			return ranked[i].ObservedAt.After(ranked[j].ObservedAt)
		}
		return ranked[i].Source < ranked[j].Source
	})

	lowAgreement := false
	for _, field := range fieldList {
		var chosen any
		found := false
		for _, p := range ranked {
			v, ok := p.Fields[field]
			if !ok || v == nil {
				continue
			}
			if !found {
				chosen = v
				found = true
				continue
			}
			if !valuesAgree(chosen, v) {
				lowAgreement = true
			}
		}
		if found {
			out.Fields[field] = chosen
		}
	}

	for _, p := range ranked {
		out.Sources = append(out.Sources, p.Source)
	}
	if lowAgreement {
		out.Flags = append(out.Flags, FlagLowAgreement)
	}
	return out
}

// valuesAgree compares two source values. Numeric pairs agree within
// NumericTolerance; anything non-numeric must match exactly.
func valuesAgree(a, b any) bool {
	fa, aok := asFloat(a)
	fb, bok := asFloat(b)
	if aok && bok {
		d := fa - fb
		if d < 0 {
			d = -d
		}
		return d <= NumericTolerance
	}
	if aok != bok {
		return false
	}
	return a == b
}

func asFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	}
	return 0, false
}

// RequiredPresent counts how many of the domain's required fields the
// consensus carries.
func RequiredPresent(domain Domain, fields map[string]any) (present, total int) {
	req := requiredFields[domain]
	total = len(req)
	for _, f := range req {
		if v, ok := fields[f]; ok && v != nil {
			present++
		}
	}
	return present, total
}
