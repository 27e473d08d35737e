// Package evidence builds the analyzer's per-match input: typed domain
// data gathered from one or more sources, scored for quality and merged
// into a consensus view. Packs are value types; nothing downstream
// mutates them.
package evidence

// Domain names the evidence domains the engine understands.
type Domain string

const (
	DomainFixtures Domain = "fixtures"
	DomainStats    Domain = "stats"
)

// AllDomains lists domains in canonical order.
var AllDomains = []Domain{DomainFixtures, DomainStats}

// Controlled quality flags.
const (
	FlagNoSources           = "NO_SOURCES_AVAILABLE"
	FlagInsufficientSources = "INSUFFICIENT_SOURCES"
	FlagStaleData           = "STALE_DATA"
	FlagIncompleteData      = "INCOMPLETE_DATA"
	FlagLowAgreement        = "LOW_AGREEMENT"
)

// criticalFlags fail quality outright regardless of score.
var criticalFlags = map[string]bool{
	FlagNoSources: true,
}

// Quality is the per-domain quality verdict.
type Quality struct {
	Passed bool     `json:"passed"`
	Score  float64  `json:"score"`
	Flags  []string `json:"flags"`
}

// Odds1X2 carries decimal odds for the three-way market.
type Odds1X2 struct {
	Home float64 `json:"home"`
	Draw float64 `json:"draw"`
	Away float64 `json:"away"`
}

// FixturesData is the fixtures-domain payload.
type FixturesData struct {
	HomeTeam    string   `json:"home_team"`
	AwayTeam    string   `json:"away_team"`
	Competition string   `json:"competition,omitempty"`
	KickoffUTC  string   `json:"kickoff_utc,omitempty"`
	Odds1X2     *Odds1X2 `json:"odds_1x2,omitempty"`
}

// TeamStats holds per-team rolling averages.
type TeamStats struct {
	GoalsScored   float64 `json:"goals_scored"`
	GoalsConceded float64 `json:"goals_conceded"`
	MatchesPlayed int     `json:"matches_played,omitempty"`
}

// HeadToHead summarizes prior meetings from the home team's viewpoint.
type HeadToHead struct {
	Matches  int `json:"matches"`
	HomeWins int `json:"home_wins"`
	Draws    int `json:"draws"`
	AwayWins int `json:"away_wins"`
}

// StatsData is the stats-domain payload.
type StatsData struct {
	Home TeamStats   `json:"home"`
	Away TeamStats   `json:"away"`
	H2H  *HeadToHead `json:"h2h,omitempty"`
}

// DomainData pairs one typed payload variant with its quality verdict
// and contributing sources. Exactly one of Fixtures/Stats is set,
// matching the domain key it is stored under.
type DomainData struct {
	Fixtures *FixturesData `json:"fixtures,omitempty"`
	Stats    *StatsData    `json:"stats,omitempty"`
	Quality  Quality       `json:"quality"`
	Sources  []string      `json:"sources"`
}

// Pack is the analyzer input for one match. Missing domains are absent
// from the map, never present as empty DomainData.
type Pack struct {
	MatchID       string                `json:"match_id"`
	CapturedAtUTC string                `json:"captured_at_utc"`
	Flags         []string              `json:"flags,omitempty"`
	Domains       map[Domain]DomainData `json:"domains"`
}

// Domain returns the domain entry and whether it is present.
func (p Pack) Domain(d Domain) (DomainData, bool) {
	dd, ok := p.Domains[d]
	return dd, ok
}

// StrippedForChecksum returns a copy suitable for content hashing:
// volatile capture timestamps removed so identical payloads hash
// identically across runs.
func (p Pack) StrippedForChecksum() Pack {
	cp := p
	cp.CapturedAtUTC = ""
	return cp
}
