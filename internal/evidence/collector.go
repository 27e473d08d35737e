package evidence

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"github.com/oddsline/matchcore/internal/canon"
)

// SourceFetcher is one upstream source for a domain.
type SourceFetcher interface {
	Name() string
	// Fetch returns nil with no error when the source has nothing for
	// this match.
	Fetch(ctx context.Context, matchID string, domain Domain) (*SourcedPayload, error)
}

// RawSink persists raw source payloads for audit/replay.
type RawSink interface {
	SaveRaw(ctx context.Context, matchID string, domain Domain, source string, payload map[string]any) error
}

// CollectorConfig tunes the multi-source collection pass.
type CollectorConfig struct {
	WindowHours  int           `yaml:"window_hours"`
	MinSources   int           `yaml:"min_sources"`
	CacheTTL     time.Duration `yaml:"cache_ttl"`
	ForceRefresh bool          `yaml:"force_refresh"`
	// HardBlockPersistence suppresses raw-payload and cache writes.
	HardBlockPersistence bool `yaml:"hard_block_persistence"`
}

// DefaultCollectorConfig matches the shadow-path defaults.
func DefaultCollectorConfig() CollectorConfig {
	return CollectorConfig{
		WindowHours: 48,
		MinSources:  2,
		CacheTTL:    30 * time.Minute,
	}
}

// Collector gathers per-domain evidence from sources with caching.
type Collector struct {
	sources []SourceFetcher
	cache   Cache
	raw     RawSink
	cfg     CollectorConfig
	log     zerolog.Logger
	now     func() time.Time
}

func NewCollector(sources []SourceFetcher, cache Cache, raw RawSink, cfg CollectorConfig, log zerolog.Logger) *Collector {
	if cache == nil {
		cache = NewMemoryCache()
	}
	return &Collector{
		sources: sources,
		cache:   cache,
		raw:     raw,
		cfg:     cfg,
		log:     log,
		now:     time.Now,
	}
}

// WithClock fixes the collector clock. Tests only.
func (c *Collector) WithClock(now func() time.Time) *Collector {
	c.now = now
	return c
}

// BuildPack collects every requested domain. Domains with no usable
// sources are absent from the pack rather than present-but-empty.
func (c *Collector) BuildPack(ctx context.Context, matchID string, domains []Domain) (Pack, error) {
	pack := Pack{
		MatchID:       matchID,
		CapturedAtUTC: canon.Timestamp(c.now()),
		Domains:       map[Domain]DomainData{},
	}
	for _, d := range domains {
		dd, ok, err := c.CollectDomain(ctx, matchID, d)
		if err != nil {
			return Pack{}, err
		}
		if ok {
			pack.Domains[d] = dd
		}
	}
	return pack, nil
}

// CollectDomain fetches, merges and scores one domain. The boolean is
// false when no source produced data.
func (c *Collector) CollectDomain(ctx context.Context, matchID string, domain Domain) (DomainData, bool, error) {
	key := CacheKey(matchID, domain, c.cfg.WindowHours)
	if !c.cfg.ForceRefresh {
		if b, hit := c.cache.Get(ctx, key); hit {
			var dd DomainData
			if err := json.Unmarshal(b, &dd); err == nil {
				c.log.Debug().Str("match_id", matchID).Str("domain", string(domain)).Msg("evidence cache hit")
				return dd, true, nil
			}
		}
	}

	var payloads []SourcedPayload
	for _, src := range c.sources {
		sp, err := src.Fetch(ctx, matchID, domain)
		if err != nil {
			c.log.Warn().Err(err).
				Str("match_id", matchID).
				Str("domain", string(domain)).
				Str("source", src.Name()).
				Msg("evidence source fetch failed")
			continue
		}
		if sp == nil {
			continue
		}
		payloads = append(payloads, *sp)
		if c.raw != nil && !c.cfg.HardBlockPersistence {
			if err := c.raw.SaveRaw(ctx, matchID, domain, src.Name(), sp.Fields); err != nil {
				c.log.Warn().Err(err).Str("source", src.Name()).Msg("raw payload persist failed")
			}
		}
	}

	if len(payloads) == 0 {
		return DomainData{}, false, nil
	}

	cons := BuildConsensus(domain, payloads)
	extra := append([]string(nil), cons.Flags...)
	if c.cfg.MinSources > 0 && len(payloads) < c.cfg.MinSources {
		extra = append(extra, FlagInsufficientSources)
	}

	freshest := payloads[0].ObservedAt
	for _, p := range payloads[1:] {
		if p.ObservedAt.After(freshest) {
			freshest = p.ObservedAt
		}
	}
	present, total := RequiredPresent(domain, cons.Fields)
	quality := ScorePayload(c.now().Sub(freshest), c.cfg.WindowHours, present, total, extra...)

	dd := DomainData{
		Quality: quality,
		Sources: cons.Sources,
	}
	switch domain {
	case DomainFixtures:
		dd.Fixtures = fieldsToFixtures(cons.Fields)
	case DomainStats:
		dd.Stats = fieldsToStats(cons.Fields)
	}

	if quality.Passed && !c.cfg.HardBlockPersistence {
		if b, err := json.Marshal(dd); err == nil {
			c.cache.Set(ctx, key, b, c.cfg.CacheTTL)
		}
	}
	return dd, true, nil
}

func fieldsToFixtures(fields map[string]any) *FixturesData {
	fx := &FixturesData{
		HomeTeam:    asString(fields["home_team"]),
		AwayTeam:    asString(fields["away_team"]),
		Competition: asString(fields["competition"]),
		KickoffUTC:  asString(fields["kickoff_utc"]),
	}
	h, hok := asFloat(fields["odds_home"])
	d, dok := asFloat(fields["odds_draw"])
	a, aok := asFloat(fields["odds_away"])
	if hok && dok && aok {
		fx.Odds1X2 = &Odds1X2{Home: h, Draw: d, Away: a}
	}
	return fx
}

func fieldsToStats(fields map[string]any) *StatsData {
	st := &StatsData{
		Home: TeamStats{
			GoalsScored:   floatOr(fields["home_goals_scored"], 0),
			GoalsConceded: floatOr(fields["home_goals_conceded"], 0),
			MatchesPlayed: int(floatOr(fields["home_matches_played"], 0)),
		},
		Away: TeamStats{
			GoalsScored:   floatOr(fields["away_goals_scored"], 0),
			GoalsConceded: floatOr(fields["away_goals_conceded"], 0),
			MatchesPlayed: int(floatOr(fields["away_matches_played"], 0)),
		},
	}
	if n, ok := asFloat(fields["h2h_matches"]); ok && n > 0 {
		st.H2H = &HeadToHead{
			Matches:  int(n),
			HomeWins: int(floatOr(fields["h2h_home_wins"], 0)),
			Draws:    int(floatOr(fields["h2h_draws"], 0)),
			AwayWins: int(floatOr(fields["h2h_away_wins"], 0)),
		}
	}
	return st
}

func asString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

func floatOr(v any, def float64) float64 {
	if f, ok := asFloat(v); ok {
		return f
	}
	return def
}
