// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func TestMemoryCache_SetGet(t *testing.T) {
	ctx := context.Background()
	clk := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	c := NewMemoryCache(0, WithClock(clk))
	defer c.Stop()

	c.Set(ctx, "a.mp4", "https://cdn/a.mp4?sig=1", time.Minute)

	v, ok := c.Get(ctx, "a.mp4")
	require.True(t, ok)
	assert.Equal(t, "https://cdn/a.mp4?sig=1", v)

	_, ok = c.Get(ctx, "missing")
	assert.False(t, ok)

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, int64(1), stats.Sets)
	assert.Equal(t, 1, stats.CurrentSize)
}

func TestMemoryCache_Expiration(t *testing.T) {
	ctx := context.Background()
	clk := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	c := NewMemoryCache(0, WithClock(clk))
	defer c.Stop()

	c.Set(ctx, "k", "v", 10*time.Second)
	clk.Advance(9 * time.Second)
	_, ok := c.Get(ctx, "k")
	assert.True(t, ok)

	clk.Advance(time.Second)
	_, ok = c.Get(ctx, "k")
	assert.False(t, ok, "entry must expire exactly at its deadline")

	assert.Equal(t, 1, c.DeleteExpired())
	assert.Equal(t, int64(1), c.Stats().Evictions)
	assert.Equal(t, 0, c.Stats().CurrentSize)
}

func TestMemoryCache_IgnoresNonPositiveTTL(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(0)
	defer c.Stop()

	c.Set(ctx, "k", "v", 0)
	c.Set(ctx, "k2", "v", -time.Second)
	assert.Equal(t, 0, c.Stats().CurrentSize)
}

func TestMemoryCache_DeleteAndClear(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(0)
	defer c.Stop()

	c.Set(ctx, "a", "1", time.Minute)
	c.Set(ctx, "b", "2", time.Minute)
	c.Delete(ctx, "a")
	_, ok := c.Get(ctx, "a")
	assert.False(t, ok)

	c.Clear(ctx)
	assert.Equal(t, 0, c.Stats().CurrentSize)
}

func TestMemoryCache_StopIsIdempotent(t *testing.T) {
	c := NewMemoryCache(time.Millisecond)
	c.Stop()
	c.Stop()
}
