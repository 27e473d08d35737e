// Package connectors defines the ingestion contract and its two
// built-in implementations: the recorded fixture-directory connector
// and a stub live connector with fault-injection drills.
package connectors

import (
	"context"
	"fmt"
	"sort"
)

// Categories gate capability checks: live connectors need
// LIVE_IO_ALLOWED, recorded ones never touch the network.
const (
	CategoryRecorded = "recorded"
	CategoryLive     = "live"
)

// MatchIdentity is one enumerable match.
type MatchIdentity struct {
	MatchID     string `json:"match_id"`
	KickoffUTC  string `json:"kickoff_utc,omitempty"`
	Competition string `json:"competition,omitempty"`
}

// Odds1X2 carries decimal odds; all three must be positive.
type Odds1X2 struct {
	Home float64 `json:"home"`
	Draw float64 `json:"draw"`
	Away float64 `json:"away"`
}

// TeamForm is the optional per-team stats block recorded fixtures may
// carry alongside identity and odds.
type TeamForm struct {
	GoalsScored   float64 `json:"goals_scored"`
	GoalsConceded float64 `json:"goals_conceded"`
	MatchesPlayed int     `json:"matches_played,omitempty"`
}

// H2HRecord summarizes prior meetings, home side first.
type H2HRecord struct {
	Matches  int `json:"matches"`
	HomeWins int `json:"home_wins"`
	Draws    int `json:"draws"`
	AwayWins int `json:"away_wins"`
}

// IngestedMatchData is one connector payload for one match.
type IngestedMatchData struct {
	MatchID     string     `json:"match_id"`
	HomeTeam    string     `json:"home_team"`
	AwayTeam    string     `json:"away_team"`
	Competition string     `json:"competition,omitempty"`
	KickoffUTC  string     `json:"kickoff_utc"`
	Odds1X2     *Odds1X2   `json:"odds_1x2,omitempty"`
	Status      string     `json:"status,omitempty"`
	HomeForm    *TeamForm  `json:"home_form,omitempty"`
	AwayForm    *TeamForm  `json:"away_form,omitempty"`
	H2H         *H2HRecord `json:"h2h,omitempty"`
}

// Validate enforces the contract's structural rules.
func (d IngestedMatchData) Validate() error {
	if d.MatchID == "" {
		return fmt.Errorf("connector payload: match_id is required")
	}
	if d.HomeTeam == "" || d.AwayTeam == "" {
		return fmt.Errorf("connector payload %s: both team names required", d.MatchID)
	}
	if d.Odds1X2 != nil {
		if d.Odds1X2.Home <= 0 || d.Odds1X2.Draw <= 0 || d.Odds1X2.Away <= 0 {
			return fmt.Errorf("connector payload %s: odds must be positive", d.MatchID)
		}
	}
	return nil
}

// Connector is the ingestion contract.
type Connector interface {
	Name() string
	Category() string
	// FetchMatches enumerates identities sorted ascending by match_id.
	FetchMatches(ctx context.Context) ([]MatchIdentity, error)
	// FetchMatchData returns nil (no error) when the match is unknown.
	FetchMatchData(ctx context.Context, matchID string) (*IngestedMatchData, error)
}

// SortIdentities orders identities the way every runner iterates them.
func SortIdentities(ids []MatchIdentity) {
	sort.Slice(ids, func(i, j int) bool { return ids[i].MatchID < ids[j].MatchID })
}

// Registry resolves connector names.
type Registry struct {
	connectors map[string]Connector
}

func NewRegistry(cs ...Connector) *Registry {
	r := &Registry{connectors: make(map[string]Connector)}
	for _, c := range cs {
		r.connectors[c.Name()] = c
	}
	return r
}

func (r *Registry) Register(c Connector) {
	r.connectors[c.Name()] = c
}

// Resolve returns the named connector. Live connectors require the
// liveAllowed capability.
func (r *Registry) Resolve(name string, liveAllowed bool) (Connector, error) {
	c, ok := r.connectors[name]
	if !ok {
		return nil, fmt.Errorf("connector %q not registered", name)
	}
	if c.Category() == CategoryLive && !liveAllowed {
		return nil, fmt.Errorf("connector %q is live and LIVE_IO_ALLOWED is not set", name)
	}
	return c, nil
}

// Names lists registered connectors sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.connectors))
	for n := range r.connectors {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
