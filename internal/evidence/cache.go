package evidence

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/oddsline/matchcore/internal/canon"
)

// Cache stores built domain consensus keyed by (match, domain, window).
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration)
}

// CacheKey derives the truncated SHA-256 key for a collection request.
func CacheKey(matchID string, domain Domain, windowHours int) string {
	return canon.HashString(fmt.Sprintf("%s|%s|%d", matchID, domain, windowHours))[:32]
}

type memoryCache struct {
	mu sync.Mutex
	m  map[string]cacheEntry
}

type cacheEntry struct {
	b   []byte
	exp time.Time
}

// NewMemoryCache returns the in-process cache used when no redis is
// configured.
func NewMemoryCache() Cache {
	return &memoryCache{m: make(map[string]cacheEntry)}
}

func (c *memoryCache) Get(_ context.Context, key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.m[key]
	if !ok || (!e.exp.IsZero() && time.Now().After(e.exp)) {
		return nil, false
	}
	return e.b, true
}

func (c *memoryCache) Set(_ context.Context, key string, val []byte, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := cacheEntry{b: append([]byte(nil), val...)}
	if ttl > 0 {
		e.exp = time.Now().Add(ttl)
	}
	c.m[key] = e
}

type redisCache struct {
	r       *redis.Client
	timeout time.Duration
}

// NewRedisCache wraps a redis client. Errors degrade to cache misses;
// the collector refetches on a miss so a flaky cache never breaks a run.
func NewRedisCache(client *redis.Client) Cache {
	return &redisCache{r: client, timeout: 500 * time.Millisecond}
}

// NewAutoCache picks redis when REDIS_ADDR is set, memory otherwise.
func NewAutoCache() Cache {
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		return NewRedisCache(redis.NewClient(&redis.Options{Addr: addr}))
	}
	return NewMemoryCache()
}

func (r *redisCache) Get(ctx context.Context, key string) ([]byte, bool) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	v, err := r.r.Get(ctx, key).Bytes()
	if err != nil {
		return nil, false
	}
	return v, true
}

func (r *redisCache) Set(ctx context.Context, key string, val []byte, ttl time.Duration) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	_ = r.r.Set(ctx, key, val, ttl).Err()
}
