// Package client is the outgoing HTTP surface for live connectors:
// per-request deadline, per-provider circuit breaker and rate limit,
// with every outcome recorded in the live-I/O metrics.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/oddsline/matchcore/internal/metrics"
	"github.com/oddsline/matchcore/internal/netx/circuit"
	"github.com/oddsline/matchcore/internal/netx/ratelimit"
)

// Transport-level error kinds. Runners record them in metrics and keep
// going; they never abort a batch.
var (
	ErrTimeout     = errors.New("live io timeout")
	ErrRateLimited = errors.New("live io rate limited")
	ErrFailure     = errors.New("live io failure")
	// ErrNotFound maps a 404 to "no data", which connectors surface as
	// a nil payload rather than an error.
	ErrNotFound = errors.New("live io not found")
)

// DefaultTimeout is the per-request deadline when none is configured.
const DefaultTimeout = 5 * time.Second

// Config tunes the client.
type Config struct {
	Timeout time.Duration `yaml:"timeout"`
	RPS     float64       `yaml:"rps"`
	Burst   int           `yaml:"burst"`
}

func DefaultConfig() Config {
	return Config{Timeout: DefaultTimeout, RPS: 4, Burst: 8}
}

// Client wraps http.Client with breaker, limiter and metrics.
type Client struct {
	http     *http.Client
	breakers *circuit.Manager
	limiter  *ratelimit.Limiter
	liveio   *metrics.LiveIO
	timeout  time.Duration
	log      zerolog.Logger
}

func New(cfg Config, breakers *circuit.Manager, liveio *metrics.LiveIO, log zerolog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		http:     &http.Client{},
		breakers: breakers,
		limiter:  ratelimit.NewLimiter(cfg.RPS, cfg.Burst),
		liveio:   liveio,
		timeout:  timeout,
		log:      log,
	}
}

// GetJSON fetches url and decodes the body into out. The provider name
// keys the breaker and the rate bucket.
func (c *Client) GetJSON(ctx context.Context, provider, url string, out any) error {
	if err := c.limiter.Wait(ctx, provider); err != nil {
		return fmt.Errorf("client: rate wait: %w", err)
	}

	start := time.Now()
	err := c.breakers.For(provider).Do(func() error {
		return c.doGet(ctx, url, out)
	})
	latencyMS := float64(time.Since(start).Milliseconds())

	switch {
	case err == nil:
		c.observe(metrics.OutcomeOK, latencyMS)
		return nil
	case errors.Is(err, circuit.ErrOpen):
		c.observe(metrics.OutcomeCircuitOpen, -1)
		return err
	case errors.Is(err, ErrTimeout):
		c.observe(metrics.OutcomeTimeout, latencyMS)
		return err
	case errors.Is(err, ErrRateLimited):
		c.observe(metrics.OutcomeRateLimited, latencyMS)
		return err
	case errors.Is(err, ErrNotFound):
		// 404 is data absence, not transport failure.
		c.observe(metrics.OutcomeOK, latencyMS)
		return err
	default:
		c.observe(metrics.OutcomeFailure, latencyMS)
		return err
	}
}

func (c *Client) doGet(ctx context.Context, url string, out any) error {
	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("client: build request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || reqCtx.Err() == context.DeadlineExceeded {
			return ErrTimeout
		}
		return fmt.Errorf("%w: %v", ErrFailure, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode == http.StatusTooManyRequests:
		return ErrRateLimited
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: status %d", ErrFailure, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("%w: unexpected status %d", ErrFailure, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read body: %v", ErrFailure, err)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: decode body: %v", ErrFailure, err)
	}
	return nil
}

func (c *Client) observe(outcome string, latencyMS float64) {
	if c.liveio != nil {
		c.liveio.Observe(outcome, latencyMS)
	}
}
