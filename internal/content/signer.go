// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package content

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/sirrus7/ready-or-not-sub011/internal/cache"
	"github.com/sirrus7/ready-or-not-sub011/internal/log"
	"github.com/sirrus7/ready-or-not-sub011/internal/metrics"
	"github.com/sirrus7/ready-or-not-sub011/internal/resilience"
)

const (
	defaultSafetyMargin = 30 * time.Second
	defaultSignRate     = 20
	defaultSignBurst    = 40
)

// CachingSignerOptions configures a CachingSigner. Zero values get defaults.
type CachingSignerOptions struct {
	Cache   cache.Cache
	Margin  time.Duration // URLs are dropped this long before they expire
	Rate    rate.Limit
	Burst   int
	Breaker *resilience.CircuitBreaker
	Now     func() time.Time
}

// CachingSigner fronts a Signer with a TTL cache, a request limiter and a
// circuit breaker. A URL is cached only for its own validity window minus
// the safety margin.
type CachingSigner struct {
	next    Signer
	cache   cache.Cache
	margin  time.Duration
	limiter *rate.Limiter
	breaker *resilience.CircuitBreaker
	now     func() time.Time
	group   singleflight.Group
}

// NewCachingSigner wraps next.
func NewCachingSigner(next Signer, opts CachingSignerOptions) *CachingSigner {
	if opts.Cache == nil {
		opts.Cache = cache.NewMemoryCache(time.Minute)
	}
	if opts.Margin <= 0 {
		opts.Margin = defaultSafetyMargin
	}
	if opts.Rate <= 0 {
		opts.Rate = defaultSignRate
	}
	if opts.Burst <= 0 {
		opts.Burst = defaultSignBurst
	}
	if opts.Breaker == nil {
		opts.Breaker = resilience.NewCircuitBreaker("content", 5, 30*time.Second,
			resilience.WithFailureClassifier(IsBackendFailure))
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &CachingSigner{
		next:    next,
		cache:   opts.Cache,
		margin:  opts.Margin,
		limiter: rate.NewLimiter(opts.Rate, opts.Burst),
		breaker: opts.Breaker,
		now:     opts.Now,
	}
}

// SignedURL implements Signer.
func (s *CachingSigner) SignedURL(ctx context.Context, path string) (SignedURL, error) {
	if raw, ok := s.cache.Get(ctx, path); ok {
		if su, ok := decodeSigned(raw); ok && su.Valid(s.now(), s.margin) {
			metrics.SignedURLRequestsTotal.WithLabelValues("cache").Inc()
			return su, nil
		}
	}

	ch := s.group.DoChan(path, func() (any, error) {
		return s.sign(context.WithoutCancel(ctx), path)
	})
	select {
	case <-ctx.Done():
		return SignedURL{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return SignedURL{}, res.Err
		}
		return res.Val.(SignedURL), nil
	}
}

func (s *CachingSigner) sign(ctx context.Context, path string) (SignedURL, error) {
	logger := log.WithComponent("content")

	if err := s.limiter.Wait(ctx); err != nil {
		return SignedURL{}, err
	}

	var su SignedURL
	err := s.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		su, err = s.next.SignedURL(ctx, path)
		return err
	})
	if err != nil {
		metrics.SignedURLRequestsTotal.WithLabelValues("error").Inc()
		if errors.Is(err, resilience.ErrCircuitOpen) {
			logger.Warn().Str(log.FieldPath, path).Msg("content backend circuit open, failing fast")
		}
		return SignedURL{}, err
	}
	metrics.SignedURLRequestsTotal.WithLabelValues("backend").Inc()

	if ttl := su.ExpiresAt.Sub(s.now()) - s.margin; ttl > 0 {
		s.cache.Set(ctx, path, encodeSigned(su), ttl)
	} else {
		logger.Debug().Str(log.FieldPath, path).Msg("signed url validity shorter than safety margin, not cached")
	}
	return su, nil
}

// Invalidate drops a cached URL, e.g. after the download it pointed to was
// refused.
func (s *CachingSigner) Invalidate(ctx context.Context, path string) {
	s.cache.Delete(ctx, path)
}

// Purge drops every cached URL.
func (s *CachingSigner) Purge(ctx context.Context) {
	s.cache.Clear(ctx)
}

// BreakerState exposes the backend breaker for health reporting.
func (s *CachingSigner) BreakerState() resilience.State {
	return s.breaker.State()
}

func encodeSigned(su SignedURL) string {
	return strconv.FormatInt(su.ExpiresAt.UnixMilli(), 10) + " " + su.URL
}

func decodeSigned(raw string) (SignedURL, bool) {
	ms, u, ok := strings.Cut(raw, " ")
	if !ok {
		return SignedURL{}, false
	}
	n, err := strconv.ParseInt(ms, 10, 64)
	if err != nil {
		return SignedURL{}, false
	}
	return SignedURL{URL: u, ExpiresAt: time.UnixMilli(n)}, true
}

var _ Signer = (*CachingSigner)(nil)
