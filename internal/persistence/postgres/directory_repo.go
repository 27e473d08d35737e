package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/oddsline/matchcore/internal/persistence"
	"github.com/oddsline/matchcore/internal/resolve"
)

// directoryRepo implements DirectoryRepo for PostgreSQL. The read side
// backs the resolver; ingestion maintains the rows.
type directoryRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

func NewDirectoryRepo(db *sqlx.DB, timeout time.Duration) persistence.DirectoryRepo {
	return &directoryRepo{db: db, timeout: timeout}
}

// TeamIDsByAlias returns distinct team ids carrying the normalized
// alias, best quality first so the resolver iterates deterministically.
func (r *directoryRepo) TeamIDsByAlias(ctx context.Context, aliasNorm string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT DISTINCT team_id
		FROM team_aliases WHERE alias_norm = $1
		ORDER BY team_id`
	var ids []string
	if err := r.db.SelectContext(ctx, &ids, query, aliasNorm); err != nil {
		return nil, fmt.Errorf("failed to query team aliases: %w", err)
	}
	return ids, nil
}

func (r *directoryRepo) MatchesByTeams(ctx context.Context, homeTeamID, awayTeamID string) ([]resolve.Match, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT match_id, home_team_id, away_team_id, kickoff_utc, competition_id
		FROM matches
		WHERE home_team_id = $1 AND away_team_id = $2
		ORDER BY kickoff_utc ASC, match_id ASC`
	var matches []resolve.Match
	if err := r.db.SelectContext(ctx, &matches, query, homeTeamID, awayTeamID); err != nil {
		return nil, fmt.Errorf("failed to query matches by teams: %w", err)
	}
	return matches, nil
}

func (r *directoryRepo) UpsertAlias(ctx context.Context, a resolve.Alias) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if a.AliasNorm == "" {
		a.AliasNorm = resolve.Normalize(a.Alias)
	}
	query := `
		INSERT INTO team_aliases (team_id, alias, alias_norm, language, quality)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (team_id, alias_norm) DO UPDATE SET
			alias = EXCLUDED.alias,
			language = EXCLUDED.language,
			quality = EXCLUDED.quality`
	_, err := r.db.ExecContext(ctx, query, a.TeamID, a.Alias, a.AliasNorm, a.Language, a.Quality)
	if err != nil {
		return fmt.Errorf("failed to upsert team alias: %w", err)
	}
	return nil
}

func (r *directoryRepo) UpsertMatch(ctx context.Context, m resolve.Match) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		INSERT INTO matches (match_id, home_team_id, away_team_id, kickoff_utc, competition_id)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (match_id) DO UPDATE SET
			home_team_id = EXCLUDED.home_team_id,
			away_team_id = EXCLUDED.away_team_id,
			kickoff_utc = EXCLUDED.kickoff_utc,
			competition_id = EXCLUDED.competition_id`
	_, err := r.db.ExecContext(ctx, query, m.MatchID, m.HomeTeamID, m.AwayTeamID, m.KickoffUTC, m.CompetitionID)
	if err != nil {
		return fmt.Errorf("failed to upsert match: %w", err)
	}
	return nil
}
