// Package circuit wraps sony/gobreaker with the fixed policy the
// engine documents: 30 s open interval, a single half-open probe, and
// a failure-ratio trip of ≥0.5 over at least 5 requests.
package circuit

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
)

// ErrOpen is returned when the breaker rejects a call without touching
// the network.
var ErrOpen = errors.New("circuit open")

// Config tunes one breaker.
type Config struct {
	OpenInterval time.Duration `yaml:"open_interval"`
	MinRequests  uint32        `yaml:"min_requests"`
	FailureRatio float64       `yaml:"failure_ratio"`
}

// DefaultConfig is the documented fixed policy.
func DefaultConfig() Config {
	return Config{
		OpenInterval: 30 * time.Second,
		MinRequests:  5,
		FailureRatio: 0.5,
	}
}

// Breaker guards calls to one provider.
type Breaker struct {
	cb *gobreaker.CircuitBreaker
}

func NewBreaker(name string, cfg Config, log zerolog.Logger) *Breaker {
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1, // single half-open probe
		Timeout:     cfg.OpenInterval,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return ratio >= cfg.FailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit state change")
		},
	}
	return &Breaker{cb: gobreaker.NewCircuitBreaker(settings)}
}

// Do executes fn through the breaker. Open-state rejections surface as
// ErrOpen so callers can count them distinctly from provider failures.
func (b *Breaker) Do(fn func() error) error {
	_, err := b.cb.Execute(func() (any, error) {
		return nil, fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return ErrOpen
	}
	return err
}

// State reports the current breaker state string.
func (b *Breaker) State() string {
	return b.cb.State().String()
}

// Healthy is true when the breaker is closed.
func (b *Breaker) Healthy() bool {
	return b.cb.State() == gobreaker.StateClosed
}

// Manager keeps one breaker per provider.
type Manager struct {
	mu       sync.Mutex
	breakers map[string]*Breaker
	cfg      Config
	log      zerolog.Logger
}

func NewManager(cfg Config, log zerolog.Logger) *Manager {
	return &Manager{
		breakers: make(map[string]*Breaker),
		cfg:      cfg,
		log:      log,
	}
}

// For returns the breaker for a provider, creating it on first use.
func (m *Manager) For(provider string) *Breaker {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.breakers[provider]; ok {
		return b
	}
	b := NewBreaker(provider, m.cfg, m.log)
	m.breakers[provider] = b
	return b
}

// Healthy is true when every known breaker is closed.
func (m *Manager) Healthy() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range m.breakers {
		if !b.Healthy() {
			return false
		}
	}
	return true
}
