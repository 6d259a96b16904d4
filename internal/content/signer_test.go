// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package content

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sirrus7/ready-or-not-sub011/internal/cache"
	"github.com/sirrus7/ready-or-not-sub011/internal/resilience"
)

type stubSigner struct {
	calls    atomic.Int32
	validity time.Duration
	now      func() time.Time
	err      error
	block    chan struct{}
}

func (s *stubSigner) SignedURL(_ context.Context, path string) (SignedURL, error) {
	s.calls.Add(1)
	if s.block != nil {
		<-s.block
	}
	if s.err != nil {
		return SignedURL{}, s.err
	}
	return SignedURL{URL: "https://cdn/" + path, ExpiresAt: s.now().Add(s.validity)}, nil
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestCachingSigner_CachesForValidityMinusMargin(t *testing.T) {
	ctx := context.Background()
	clk := &testClock{now: time.Unix(1_700_000_000, 0)}
	next := &stubSigner{validity: 2 * time.Minute, now: clk.Now}
	s := NewCachingSigner(next, CachingSignerOptions{
		Cache:  cache.NewMemoryCache(0, cache.WithClock(clk)),
		Margin: 30 * time.Second,
		Now:    clk.Now,
	})

	first, err := s.SignedURL(ctx, "a.mp4")
	require.NoError(t, err)
	second, err := s.SignedURL(ctx, "a.mp4")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), next.calls.Load())

	clk.Advance(90 * time.Second)
	_, err = s.SignedURL(ctx, "a.mp4")
	require.NoError(t, err)
	assert.Equal(t, int32(2), next.calls.Load(), "entry must be dropped at validity minus margin")
}

func TestCachingSigner_ShortLivedURLsAreNotCached(t *testing.T) {
	ctx := context.Background()
	clk := &testClock{now: time.Unix(1_700_000_000, 0)}
	next := &stubSigner{validity: 10 * time.Second, now: clk.Now}
	s := NewCachingSigner(next, CachingSignerOptions{
		Cache:  cache.NewMemoryCache(0, cache.WithClock(clk)),
		Margin: 30 * time.Second,
		Now:    clk.Now,
	})

	_, _ = s.SignedURL(ctx, "a.mp4")
	_, _ = s.SignedURL(ctx, "a.mp4")
	assert.Equal(t, int32(2), next.calls.Load())
}

func TestCachingSigner_InvalidateForcesResign(t *testing.T) {
	ctx := context.Background()
	next := &stubSigner{validity: time.Hour, now: time.Now}
	s := NewCachingSigner(next, CachingSignerOptions{})

	_, _ = s.SignedURL(ctx, "a.mp4")
	s.Invalidate(ctx, "a.mp4")
	_, _ = s.SignedURL(ctx, "a.mp4")
	assert.Equal(t, int32(2), next.calls.Load())
}

func TestCachingSigner_CollapsesConcurrentMisses(t *testing.T) {
	ctx := context.Background()
	next := &stubSigner{validity: time.Hour, now: time.Now, block: make(chan struct{})}
	s := NewCachingSigner(next, CachingSignerOptions{})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.SignedURL(ctx, "same.mp4")
			assert.NoError(t, err)
		}()
	}
	require.Eventually(t, func() bool { return next.calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(10 * time.Millisecond)
	close(next.block)
	wg.Wait()
	assert.Equal(t, int32(1), next.calls.Load())
}

func TestCachingSigner_BreakerFailsFast(t *testing.T) {
	ctx := context.Background()
	next := &stubSigner{err: &Error{Sentinel: ErrUpstreamError, Operation: "sign", Status: 503}}
	breaker := resilience.NewCircuitBreaker("content-test", 2, time.Hour,
		resilience.WithFailureClassifier(IsBackendFailure))
	s := NewCachingSigner(next, CachingSignerOptions{Breaker: breaker})

	for i := 0; i < 2; i++ {
		_, err := s.SignedURL(ctx, "a.mp4")
		require.ErrorIs(t, err, ErrUpstreamError)
	}
	_, err := s.SignedURL(ctx, "a.mp4")
	require.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.Equal(t, int32(2), next.calls.Load())
	assert.Equal(t, resilience.StateOpen, s.BreakerState())
}

func TestCachingSigner_UnauthorizedDoesNotTrip(t *testing.T) {
	ctx := context.Background()
	next := &stubSigner{err: &Error{Sentinel: ErrUnauthorized, Operation: "sign", Status: 403}}
	breaker := resilience.NewCircuitBreaker("content-test-auth", 1, time.Hour,
		resilience.WithFailureClassifier(IsBackendFailure))
	s := NewCachingSigner(next, CachingSignerOptions{Breaker: breaker})

	for i := 0; i < 3; i++ {
		_, err := s.SignedURL(ctx, "a.mp4")
		require.ErrorIs(t, err, ErrUnauthorized)
	}
	assert.Equal(t, resilience.StateClosed, s.BreakerState())
}

func TestSignedURL_Valid(t *testing.T) {
	now := time.Unix(100, 0)
	su := SignedURL{URL: "u", ExpiresAt: now.Add(time.Minute)}
	assert.True(t, su.Valid(now, 30*time.Second))
	assert.False(t, su.Valid(now, time.Minute))
	assert.False(t, SignedURL{}.Valid(now, 0))
}

func TestUnconfigured(t *testing.T) {
	var u Unconfigured
	_, err := u.SignedURL(context.Background(), "a.mp4")
	assert.ErrorIs(t, err, ErrNotConfigured)
	_, err = u.ListAssets(context.Background(), "v1", "host")
	assert.ErrorIs(t, err, ErrNotConfigured)
}
