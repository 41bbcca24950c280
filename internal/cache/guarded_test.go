package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kjstillabower/no2-dashboard/internal/circuitbreaker"
)

type failingCache struct {
	err   error
	calls int
}

func (f *failingCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	f.calls++
	return nil, false, f.err
}

func (f *failingCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	f.calls++
	return f.err
}

// TestGuardedCache_OpenBreakerSkipsBackend verifies that after repeated
// failures the backend is no longer called and operations degrade to misses.
func TestGuardedCache_OpenBreakerSkipsBackend(t *testing.T) {
	ctx := context.Background()
	backend := &failingCache{err: errors.New("connection refused")}
	g := NewGuardedCache(backend, circuitbreaker.New(circuitbreaker.Config{FailureThreshold: 2, Cooldown: time.Hour}))

	for i := 0; i < 2; i++ {
		if _, _, err := g.Get(ctx, "k"); err == nil {
			t.Fatalf("Get() #%d error = nil, want backend error", i)
		}
	}

	_, ok, err := g.Get(ctx, "k")
	if err != nil || ok {
		t.Errorf("Get() while open = (ok=%v, err=%v), want miss without error", ok, err)
	}
	if err := g.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Errorf("Set() while open error = %v, want nil", err)
	}
	if backend.calls != 2 {
		t.Errorf("backend calls = %d, want 2", backend.calls)
	}
}

// TestGuardedCache_PassesThrough verifies normal operation and Purge forwarding.
func TestGuardedCache_PassesThrough(t *testing.T) {
	ctx := context.Background()
	inner := NewInMemoryCache()
	g := NewGuardedCache(inner, circuitbreaker.New(circuitbreaker.Config{}))

	if err := g.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	got, ok, err := g.Get(ctx, "k")
	if err != nil || !ok || string(got) != "v" {
		t.Fatalf("Get() = (%q, %v, %v), want (v, true, nil)", got, ok, err)
	}

	g.Purge()
	if inner.Len() != 0 {
		t.Errorf("Len() after Purge = %d, want 0", inner.Len())
	}
}
