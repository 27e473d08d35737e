// Package resolve maps free-text team names plus an optional kickoff
// hint to a canonical match id. Results are statuses, never errors:
// ambiguity and not-found are normal outcomes for the caller to branch
// on.
package resolve

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode"
)

// Status is the resolver outcome.
type Status string

const (
	StatusResolved  Status = "RESOLVED"
	StatusAmbiguous Status = "AMBIGUOUS"
	StatusNotFound  Status = "NOT_FOUND"
)

// DefaultWindowHours bounds the kickoff search window when a hint is
// supplied without an explicit window.
const DefaultWindowHours = 48

// MaxCandidates caps the candidate list returned on ambiguity.
const MaxCandidates = 5

// Alias is one stored alias row for a team.
type Alias struct {
	TeamID    string  `json:"team_id" db:"team_id"`
	Alias     string  `json:"alias" db:"alias"`
	AliasNorm string  `json:"alias_norm" db:"alias_norm"`
	Language  string  `json:"language" db:"language"`
	Quality   float64 `json:"quality" db:"quality"`
}

// Match is the fixture row consulted during resolution.
type Match struct {
	MatchID       string    `json:"match_id" db:"match_id"`
	HomeTeamID    string    `json:"home_team_id" db:"home_team_id"`
	AwayTeamID    string    `json:"away_team_id" db:"away_team_id"`
	KickoffUTC    time.Time `json:"kickoff_utc" db:"kickoff_utc"`
	CompetitionID string    `json:"competition_id" db:"competition_id"`
}

// Candidate is one ambiguous-resolution option.
type Candidate struct {
	MatchID       string    `json:"match_id"`
	KickoffUTC    time.Time `json:"kickoff_utc"`
	CompetitionID string    `json:"competition_id"`
}

// Directory is the lookup surface the resolver needs from persistence.
type Directory interface {
	TeamIDsByAlias(ctx context.Context, aliasNorm string) ([]string, error)
	MatchesByTeams(ctx context.Context, homeTeamID, awayTeamID string) ([]Match, error)
}

// Request carries the resolution inputs.
type Request struct {
	HomeText      string
	AwayText      string
	KickoffHint   *time.Time
	WindowHours   int
	CompetitionID string
}

// Result is the resolver output.
type Result struct {
	Status     Status      `json:"status"`
	MatchID    string      `json:"match_id,omitempty"`
	Candidates []Candidate `json:"candidates,omitempty"`
}

// Resolver resolves team text pairs against a Directory.
type Resolver struct {
	dir Directory
}

func New(dir Directory) *Resolver {
	return &Resolver{dir: dir}
}

// Normalize lowercases, trims, strips punctuation and collapses
// whitespace. Alias rows store the same normalization in alias_norm.
func Normalize(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		default:
			// punctuation separates tokens rather than vanishing
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// Resolve runs the lookup. Lookup errors propagate; empty lookups are
// statuses.
func (r *Resolver) Resolve(ctx context.Context, req Request) (Result, error) {
	homeIDs, err := r.dir.TeamIDsByAlias(ctx, Normalize(req.HomeText))
	if err != nil {
		return Result{}, fmt.Errorf("resolve: home alias lookup: %w", err)
	}
	awayIDs, err := r.dir.TeamIDsByAlias(ctx, Normalize(req.AwayText))
	if err != nil {
		return Result{}, fmt.Errorf("resolve: away alias lookup: %w", err)
	}
	if len(homeIDs) == 0 || len(awayIDs) == 0 {
		return Result{Status: StatusNotFound}, nil
	}

	// Deterministic pair iteration regardless of lookup order.
	sort.Strings(homeIDs)
	sort.Strings(awayIDs)

	window := req.WindowHours
	if window <= 0 {
		window = DefaultWindowHours
	}

	seen := map[string]bool{}
	var matches []Match
	for _, h := range homeIDs {
		for _, a := range awayIDs {
			rows, err := r.dir.MatchesByTeams(ctx, h, a)
			if err != nil {
				return Result{}, fmt.Errorf("resolve: match lookup: %w", err)
			}
			for _, m := range rows {
				if seen[m.MatchID] {
					continue
				}
				if req.KickoffHint != nil {
					lo := req.KickoffHint.Add(-time.Duration(window) * time.Hour)
					hi := req.KickoffHint.Add(time.Duration(window) * time.Hour)
					if m.KickoffUTC.Before(lo) || m.KickoffUTC.After(hi) {
						continue
					}
				}
				if req.CompetitionID != "" && m.CompetitionID != req.CompetitionID {
					continue
				}
				seen[m.MatchID] = true
				matches = append(matches, m)
			}
		}
	}

	switch len(matches) {
	case 0:
		return Result{Status: StatusNotFound}, nil
	case 1:
		return Result{Status: StatusResolved, MatchID: matches[0].MatchID}, nil
	}

	sort.Slice(matches, func(i, j int) bool {
		if !matches[i].KickoffUTC.Equal(matches[j].KickoffUTC) {
			return matches[i].KickoffUTC.Before(matches[j].KickoffUTC)
		}
		return matches[i].MatchID < matches[j].MatchID
	})
	n := len(matches)
	if n > MaxCandidates {
		n = MaxCandidates
	}
	cands := make([]Candidate, 0, n)
	for _, m := range matches[:n] {
		cands = append(cands, Candidate{
			MatchID:       m.MatchID,
			KickoffUTC:    m.KickoffUTC,
			CompetitionID: m.CompetitionID,
		})
	}
	return Result{Status: StatusAmbiguous, Candidates: cands}, nil
}
