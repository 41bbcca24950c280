package cache

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"
)

// TestInMemoryCache_GetSet verifies that Set stores values and Get retrieves
// them unchanged.
func TestInMemoryCache_GetSet(t *testing.T) {
	ctx := context.Background()
	c := NewInMemoryCache()

	val := []byte(`{"tab":"timeseries"}`)
	if err := c.Set(ctx, "v1|timeseries|Berlin|2018-2025", val, time.Minute); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	got, ok, err := c.Get(ctx, "v1|timeseries|Berlin|2018-2025")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !ok {
		t.Fatal("Get() ok = false, want true")
	}
	if !bytes.Equal(got, val) {
		t.Errorf("Get() = %s, want %s", got, val)
	}
}

// TestInMemoryCache_Get_Miss verifies that Get returns ok=false when
// the requested key does not exist in cache.
func TestInMemoryCache_Get_Miss(t *testing.T) {
	ctx := context.Background()
	c := NewInMemoryCache()

	_, ok, err := c.Get(ctx, "nonexistent")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if ok {
		t.Error("Get() ok = true, want false for miss")
	}
}

// TestInMemoryCache_Get_Expired verifies that Get returns ok=false for expired
// entries and removes them from cache on access.
func TestInMemoryCache_Get_Expired(t *testing.T) {
	ctx := context.Background()
	c := NewInMemoryCache()

	if err := c.Set(ctx, "k", []byte("x"), time.Millisecond); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	time.Sleep(2 * time.Millisecond)

	_, ok, err := c.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if ok {
		t.Error("Get() ok = true, want false for expired entry")
	}
	if c.Len() != 0 {
		t.Errorf("Len() = %d, want 0 after expired access", c.Len())
	}
}

// TestInMemoryCache_Purge verifies that Purge drops every entry.
func TestInMemoryCache_Purge(t *testing.T) {
	ctx := context.Background()
	c := NewInMemoryCache()
	_ = c.Set(ctx, "a", []byte("1"), time.Minute)
	_ = c.Set(ctx, "b", []byte("2"), time.Minute)

	c.Purge()

	if c.Len() != 0 {
		t.Errorf("Len() = %d, want 0", c.Len())
	}
	if _, ok, _ := c.Get(ctx, "a"); ok {
		t.Error("Get() ok = true after Purge")
	}
}

// TestInMemoryCache_Concurrent verifies that concurrent Get/Set do not race.
// Run with -race.
func TestInMemoryCache_Concurrent(t *testing.T) {
	ctx := context.Background()
	c := NewInMemoryCache()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := string(rune('a' + i%4))
			for j := 0; j < 100; j++ {
				_ = c.Set(ctx, key, []byte{byte(j)}, time.Minute)
				_, _, _ = c.Get(ctx, key)
			}
		}(i)
	}
	wg.Wait()

	if c.Len() != 4 {
		t.Errorf("Len() = %d, want 4", c.Len())
	}
}

// TestMemcachedCache_KeyHashed verifies that keys are prefixed, fixed length and
// free of spaces regardless of the filter key.
func TestMemcachedCache_KeyHashed(t *testing.T) {
	c, err := NewMemcachedCache("", 0, 0)
	if err != nil {
		t.Fatalf("NewMemcachedCache() error = %v", err)
	}
	long := "v1|timeseries|"
	for i := 0; i < 40; i++ {
		long += "Luxembourg City,"
	}

	k1 := c.key(long)
	k2 := c.key("v1|monthly|Berlin|2018-2025")

	if len(k1) != len(keyPrefix)+64 || len(k2) != len(k1) {
		t.Errorf("key lengths = %d, %d, want %d", len(k1), len(k2), len(keyPrefix)+64)
	}
	if k1 == k2 {
		t.Error("distinct inputs hashed to the same key")
	}
	if c.key(long) != k1 {
		t.Error("key() not deterministic")
	}
}

// TestExpirationSeconds verifies TTL conversion and the fallback for invalid TTLs.
func TestExpirationSeconds(t *testing.T) {
	tests := []struct {
		ttl  time.Duration
		want int32
	}{
		{10 * time.Minute, 600},
		{0, 3600},
		{-time.Second, 3600},
		{31 * 24 * time.Hour, 3600},
	}
	for _, tc := range tests {
		if got := expirationSeconds(tc.ttl); got != tc.want {
			t.Errorf("expirationSeconds(%v) = %d, want %d", tc.ttl, got, tc.want)
		}
	}
}

// TestParseAddrs verifies comma-separated server parsing.
func TestParseAddrs(t *testing.T) {
	got := parseAddrs(" host1:11211, ,host2:11211 ")
	if len(got) != 2 || got[0] != "host1:11211" || got[1] != "host2:11211" {
		t.Errorf("parseAddrs() = %v", got)
	}
}
