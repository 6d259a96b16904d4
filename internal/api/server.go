// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package api exposes the media cache, the video intercept, per-session
// settings and the session bus to browser contexts over HTTP and WebSocket.
package api

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sirrus7/ready-or-not-sub011/internal/api/middleware"
	"github.com/sirrus7/ready-or-not-sub011/internal/broadcast"
	"github.com/sirrus7/ready-or-not-sub011/internal/config"
	"github.com/sirrus7/ready-or-not-sub011/internal/health"
	"github.com/sirrus7/ready-or-not-sub011/internal/log"
	"github.com/sirrus7/ready-or-not-sub011/internal/media"
	"github.com/sirrus7/ready-or-not-sub011/internal/settings"
	"github.com/sirrus7/ready-or-not-sub011/internal/swcache"
)

// Deps are the collaborators the server routes to. Interceptor and
// VideoControl may be nil when the video cache is disabled.
type Deps struct {
	Config       config.AppConfig
	Media        *media.Manager
	Settings     *settings.Store
	Transport    broadcast.Transport
	Interceptor  *swcache.Interceptor
	VideoControl *swcache.Client
	Health       *health.Manager
}

// Server owns the HTTP routes and the background bulk downloads they start.
type Server struct {
	cfg          config.AppConfig
	media        *media.Manager
	settings     *settings.Store
	transport    broadcast.Transport
	interceptor  *swcache.Interceptor
	videoControl *swcache.Client
	health       *health.Manager

	rootCtx         context.Context
	rootCancel      context.CancelFunc
	wg              sync.WaitGroup
	bulkRunning     atomic.Bool
	bulkConcurrency atomic.Int64

	mu      sync.Mutex
	bridges map[*bridgeConn]struct{}
}

// New validates deps and returns a server.
func New(deps Deps) (*Server, error) {
	switch {
	case deps.Media == nil:
		return nil, errors.New("api: media manager is required")
	case deps.Settings == nil:
		return nil, errors.New("api: settings store is required")
	case deps.Transport == nil:
		return nil, errors.New("api: bus transport is required")
	}
	hm := deps.Health
	if hm == nil {
		hm = health.NewManager(deps.Config.Version)
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:          deps.Config,
		media:        deps.Media,
		settings:     deps.Settings,
		transport:    deps.Transport,
		interceptor:  deps.Interceptor,
		videoControl: deps.VideoControl,
		health:       hm,
		rootCtx:      ctx,
		rootCancel:   cancel,
		bridges:      make(map[*bridgeConn]struct{}),
	}
	s.SetBulkConcurrency(deps.Config.Media.BulkConcurrency)
	return s, nil
}

// Handler returns the routes with the middleware stack applied.
func (s *Server) Handler() http.Handler {
	return s.routes()
}

func (s *Server) routes() http.Handler {
	limit := middleware.RateLimitConfig{
		RequestLimit: s.cfg.RateLimit.Requests,
		WindowSize:   s.cfg.RateLimit.Window,
	}
	r := middleware.NewRouter(middleware.StackConfig{
		EnableCORS:     true,
		AllowedOrigins: s.cfg.CORSOrigins,

		EnableSecurityHeaders: true,
		CSP:                   middleware.DefaultCSP,

		EnableMetrics:  true,
		TracingService: s.tracingService(),
		EnableLogging:  true,

		EnableRateLimit: s.cfg.RateLimit.Enabled,
		RateLimit:       limit,
	})

	r.Get("/healthz", s.health.ServeHealth)
	r.Get("/readyz", s.health.ServeReady)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Route("/media", func(r chi.Router) {
			r.Post("/bulk", s.handleStartBulk)
			r.Get("/bulk", s.handleBulkStatus)
			r.Delete("/bulk", s.handleCancelBulk)
			r.Delete("/cache", s.handleClearCache)
			r.Post("/resolve", s.handleResolve)
			r.Get("/signed-url", s.handleSignedURL)
		})
		r.Route("/sessions/{sessionID}", func(r chi.Router) {
			r.Use(withSession)
			r.Get("/video-settings", s.handleGetVideoSettings)
			r.Put("/video-settings", s.handlePutVideoSettings)
			r.Post("/video-settings/tested", s.handleMarkVideoTested)
			r.Post("/team-auth", s.handleSaveTeamAuth)
			r.Get("/team-auth", s.handleGetTeamAuth)
			r.Delete("/team-auth", s.handleClearTeamAuth)
			r.Get("/channel", s.handleChannel)
		})
	})

	r.Get("/media/{token}", s.handleServeMedia)
	r.Head("/media/{token}", s.handleServeMedia)

	r.Route("/sw", func(r chi.Router) {
		r.Get("/fetch", s.handleVideoFetch)
		r.Head("/fetch", s.handleVideoFetch)
		r.Post("/control", s.handleVideoControl)
	})
	return r
}

func (s *Server) tracingService() string {
	if !s.cfg.Telemetry.Enabled {
		return ""
	}
	return "ron-api"
}

// Shutdown cancels background bulk downloads, closes open bridges and waits
// for both, bounded by ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	logger := log.WithComponent("api")
	logger.Info().Msg("shutting down api")

	s.rootCancel()
	s.media.CancelBulkDownload()

	s.mu.Lock()
	open := make([]*bridgeConn, 0, len(s.bridges))
	for b := range s.bridges {
		open = append(open, b)
	}
	s.mu.Unlock()
	for _, b := range open {
		b.stop()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
