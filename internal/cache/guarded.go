package cache

import (
	"context"
	"errors"
	"time"

	"github.com/kjstillabower/no2-dashboard/internal/circuitbreaker"
)

// GuardedCache wraps a remote cache with a circuit breaker. While the breaker is
// open Get reports a miss and Set is dropped, so views render uncached instead
// of waiting on a dead server.
type GuardedCache struct {
	next    Cache
	breaker *circuitbreaker.Breaker
}

// NewGuardedCache returns next guarded by breaker.
func NewGuardedCache(next Cache, breaker *circuitbreaker.Breaker) *GuardedCache {
	return &GuardedCache{next: next, breaker: breaker}
}

func (g *GuardedCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var (
		value []byte
		ok    bool
	)
	err := g.breaker.Do(func() error {
		var err error
		value, ok, err = g.next.Get(ctx, key)
		return err
	})
	if errors.Is(err, circuitbreaker.ErrOpen) {
		return nil, false, nil
	}
	return value, ok, err
}

func (g *GuardedCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	err := g.breaker.Do(func() error {
		return g.next.Set(ctx, key, value, ttl)
	})
	if errors.Is(err, circuitbreaker.ErrOpen) {
		return nil
	}
	return err
}

// Purge forwards to the wrapped cache when it supports purging.
func (g *GuardedCache) Purge() {
	if p, ok := g.next.(interface{ Purge() }); ok {
		p.Purge()
	}
}
