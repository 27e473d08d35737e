package connectors

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/oddsline/matchcore/internal/metrics"
	"github.com/oddsline/matchcore/internal/netx/client"
)

// Drill modes for the stub live connector, selected by STUB_LIVE_MODE.
const (
	DrillOK          = "ok"
	DrillTimeout     = "timeout"
	Drill500         = "500"
	DrillRateLimited = "rate_limit"
	DrillSlow        = "slow"
)

// StubLiveModeEnv selects the drill behavior.
const StubLiveModeEnv = "STUB_LIVE_MODE"

// StubLive simulates a live provider over a recorded dataset. It
// exercises the full live path without a network, which is how
// live-shadow drills run in CI.
type StubLive struct {
	name    string
	backing Connector
	mode    string
	liveio  *metrics.LiveIO
	slow    time.Duration
	sleep   func(time.Duration)
}

func NewStubLive(name string, backing Connector, liveio *metrics.LiveIO) *StubLive {
	mode := os.Getenv(StubLiveModeEnv)
	if mode == "" {
		mode = DrillOK
	}
	return &StubLive{
		name:    name,
		backing: backing,
		mode:    mode,
		liveio:  liveio,
		slow:    150 * time.Millisecond,
		sleep:   time.Sleep,
	}
}

// WithMode overrides the drill mode. Tests only.
func (s *StubLive) WithMode(mode string) *StubLive {
	s.mode = mode
	return s
}

// WithSleep replaces the sleeper. Tests only.
func (s *StubLive) WithSleep(fn func(time.Duration)) *StubLive {
	s.sleep = fn
	return s
}

func (s *StubLive) Name() string     { return s.name }
func (s *StubLive) Category() string { return CategoryLive }

func (s *StubLive) FetchMatches(ctx context.Context) ([]MatchIdentity, error) {
	if err := s.drill(); err != nil {
		return nil, err
	}
	return s.backing.FetchMatches(ctx)
}

func (s *StubLive) FetchMatchData(ctx context.Context, matchID string) (*IngestedMatchData, error) {
	if err := s.drill(); err != nil {
		return nil, err
	}
	return s.backing.FetchMatchData(ctx, matchID)
}

// drill injects the configured fault and records the outcome.
func (s *StubLive) drill() error {
	switch s.mode {
	case DrillTimeout:
		s.observe(metrics.OutcomeTimeout, 5000)
		return client.ErrTimeout
	case Drill500:
		s.observe(metrics.OutcomeFailure, 40)
		return fmt.Errorf("%w: stub drill status 500", client.ErrFailure)
	case DrillRateLimited:
		s.observe(metrics.OutcomeRateLimited, 15)
		return client.ErrRateLimited
	case DrillSlow:
		s.sleep(s.slow)
		s.observe(metrics.OutcomeOK, float64(s.slow.Milliseconds()))
		return nil
	case DrillOK, "":
		s.observe(metrics.OutcomeOK, 35)
		return nil
	default:
		return errors.New("stub live: unknown drill mode " + s.mode)
	}
}

func (s *StubLive) observe(outcome string, latencyMS float64) {
	if s.liveio != nil {
		s.liveio.Observe(outcome, latencyMS)
	}
}
