package cache

import (
	"context"
	"testing"
	"time"
)

// BenchmarkWeatherCache_Get benchmarks reading the cached entry.
func BenchmarkWeatherCache_Get(b *testing.B) {
	c := New(nil)
	c.Put(context.Background(), testReading(15.5))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = c.Get()
	}
}

// BenchmarkWeatherCache_Put benchmarks replacing the cached entry.
func BenchmarkWeatherCache_Put(b *testing.B) {
	c := New(nil)
	ctx := context.Background()
	r := testReading(15.5)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		c.Put(ctx, r)
	}
}

// BenchmarkWeatherCache_ConcurrentIsStale benchmarks parallel staleness checks.
func BenchmarkWeatherCache_ConcurrentIsStale(b *testing.B) {
	c := New(nil)
	c.Put(context.Background(), testReading(15.5))

	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			_ = c.IsStale(5 * time.Minute)
		}
	})
}

// BenchmarkMemcachedBackend_Save benchmarks write-through to memcached.
// Requires: Memcached running (skip if unavailable).
func BenchmarkMemcachedBackend_Save(b *testing.B) {
	if testing.Short() {
		b.Skip("Skipping Memcached benchmark in short mode")
	}
	backend, err := NewMemcachedBackend("localhost:11211", "bench", 500*time.Millisecond, 2, time.Minute)
	if err != nil {
		b.Skipf("Memcached not available: %v", err)
	}
	defer backend.Close()
	if err := backend.Ping(); err != nil {
		b.Skipf("Memcached not available: %v", err)
	}
	c := NewWithBackend(backend, nil)
	ctx := context.Background()
	r := testReading(15.5)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		c.Put(ctx, r)
	}
}
