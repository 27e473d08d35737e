// Package ratelimit provides per-provider token-bucket limiting so the
// batch runner cannot flood an external source.
package ratelimit

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// Limiter holds one token bucket per provider.
type Limiter struct {
	mu       sync.RWMutex
	limiters map[string]*rate.Limiter
	rps      float64
	burst    int
}

// NewLimiter creates a limiter with the given per-provider rate.
func NewLimiter(rps float64, burst int) *Limiter {
	return &Limiter{
		limiters: make(map[string]*rate.Limiter),
		rps:      rps,
		burst:    burst,
	}
}

func (l *Limiter) get(provider string) *rate.Limiter {
	l.mu.RLock()
	lim, ok := l.limiters[provider]
	l.mu.RUnlock()
	if ok {
		return lim
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if lim, ok := l.limiters[provider]; ok {
		return lim
	}
	lim = rate.NewLimiter(rate.Limit(l.rps), l.burst)
	l.limiters[provider] = lim
	return lim
}

// Wait blocks until the provider's bucket has a token or ctx ends.
func (l *Limiter) Wait(ctx context.Context, provider string) error {
	return l.get(provider).Wait(ctx)
}

// Allow reports whether a token is immediately available.
func (l *Limiter) Allow(provider string) bool {
	return l.get(provider).Allow()
}
