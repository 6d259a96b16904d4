// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package daemon wires the media cache, the session bus, the video
// intercept and the settings store into one process and runs it.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/sirrus7/ready-or-not-sub011/internal/api"
	"github.com/sirrus7/ready-or-not-sub011/internal/blobstore"
	"github.com/sirrus7/ready-or-not-sub011/internal/broadcast"
	"github.com/sirrus7/ready-or-not-sub011/internal/cache"
	"github.com/sirrus7/ready-or-not-sub011/internal/config"
	"github.com/sirrus7/ready-or-not-sub011/internal/content"
	"github.com/sirrus7/ready-or-not-sub011/internal/health"
	"github.com/sirrus7/ready-or-not-sub011/internal/kvstore"
	"github.com/sirrus7/ready-or-not-sub011/internal/log"
	"github.com/sirrus7/ready-or-not-sub011/internal/media"
	"github.com/sirrus7/ready-or-not-sub011/internal/resilience"
	"github.com/sirrus7/ready-or-not-sub011/internal/settings"
	"github.com/sirrus7/ready-or-not-sub011/internal/swcache"
	"github.com/sirrus7/ready-or-not-sub011/internal/telemetry"
)

// Runtime holds every long-lived component built from one configuration.
// Components that a command does not need stay nil.
type Runtime struct {
	Config config.AppConfig

	Blobs    blobstore.Store
	Signer   *content.CachingSigner
	Media    *media.Manager
	KV       kvstore.Store
	Settings *settings.Store

	Redis        *redis.Client
	Transport    broadcast.Transport
	VideoStorage swcache.Storage
	Interceptor  *swcache.Interceptor
	VideoControl *swcache.Client

	Telemetry *telemetry.Provider
	Health    *health.Manager

	logger  zerolog.Logger
	closers []namedCloser
}

type namedCloser struct {
	name string
	fn   func(context.Context) error
}

func (rt *Runtime) onClose(name string, fn func(context.Context) error) {
	rt.closers = append(rt.closers, namedCloser{name: name, fn: fn})
}

// Close releases components in reverse build order.
func (rt *Runtime) Close(ctx context.Context) error {
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		c := rt.closers[i]
		if err := c.fn(ctx); err != nil {
			rt.logger.Warn().Err(err).Str("component", c.name).Msg("close failed")
			errs = append(errs, fmt.Errorf("%s: %w", c.name, err))
		}
	}
	rt.closers = nil
	return errors.Join(errs...)
}

// OpenMedia builds the durable store, the content client and the media
// manager. It is enough for the offline prefetch and cache commands.
func OpenMedia(ctx context.Context, cfg config.AppConfig) (*Runtime, error) {
	rt := &Runtime{
		Config: cfg,
		Health: health.NewManager(cfg.Version),
		logger: log.WithComponent("daemon"),
	}
	if err := rt.openMedia(ctx); err != nil {
		_ = rt.Close(ctx)
		return nil, err
	}
	return rt, nil
}

// Open builds the full runtime served by the daemon.
func Open(ctx context.Context, cfg config.AppConfig) (*Runtime, error) {
	rt, err := OpenMedia(ctx, cfg)
	if err != nil {
		return nil, err
	}
	steps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"telemetry", rt.openTelemetry},
		{"settings", rt.openSettings},
		{"bus", rt.openBus},
		{"video cache", rt.openVideoCache},
	}
	for _, step := range steps {
		if err := step.fn(ctx); err != nil {
			_ = rt.Close(ctx)
			return nil, fmt.Errorf("open %s: %w", step.name, err)
		}
	}
	rt.Health.RegisterChecker(health.NewDirChecker("data_dir", cfg.DataDir))
	return rt, nil
}

func (rt *Runtime) openMedia(ctx context.Context) error {
	cfg := rt.Config

	blobs, err := blobstore.Open(cfg.Media.Backend, filepath.Join(cfg.DataDir, "media"), nil)
	if err != nil {
		return fmt.Errorf("open blob store: %w", err)
	}
	rt.Blobs = blobs
	rt.onClose("blobstore", func(context.Context) error { return blobs.Close() })
	rt.Health.RegisterChecker(health.NewSoftChecker("blobstore", func(ctx context.Context) error {
		_, err := blobs.Has(ctx, "healthcheck")
		return err
	}))

	var backend interface {
		content.Signer
		content.Lister
	} = content.Unconfigured{}
	if cfg.Content.BaseURL != "" {
		client, err := content.NewHTTPClient(content.Options{
			BaseURL:   cfg.Content.BaseURL,
			Bucket:    cfg.Content.Bucket,
			APIKey:    cfg.Content.APIKey,
			ExpiresIn: cfg.Content.SignExpiry,
			Timeout:   cfg.Content.Timeout,
		})
		if err != nil {
			return fmt.Errorf("content client: %w", err)
		}
		backend = client
	} else {
		rt.logger.Warn().Msg("no content backend configured; only cached media can be served")
	}

	urlCache, err := rt.openURLCache(ctx)
	if err != nil {
		return err
	}
	breaker := resilience.NewCircuitBreaker("content", 5, 30*time.Second,
		resilience.WithFailureClassifier(content.IsBackendFailure))
	rt.Signer = content.NewCachingSigner(backend, content.CachingSignerOptions{
		Cache:   urlCache,
		Margin:  cfg.Content.SafetyMargin,
		Rate:    rate.Limit(cfg.Content.SignRate),
		Burst:   cfg.Content.SignBurst,
		Breaker: breaker,
	})
	rt.Health.RegisterChecker(health.NewSoftChecker("content_backend", func(context.Context) error {
		if breaker.State() == resilience.StateOpen {
			return resilience.ErrCircuitOpen
		}
		return nil
	}))

	mgr, err := media.NewManager(media.Options{
		Store:          blobs,
		Signer:         rt.Signer,
		Lister:         backend,
		CacheTTL:       cfg.Media.CacheTTL,
		MaxObjectBytes: cfg.Media.MaxObjectBytes,
	})
	if err != nil {
		return err
	}
	rt.Media = mgr
	return nil
}

func (rt *Runtime) openURLCache(ctx context.Context) (cache.Cache, error) {
	cfg := rt.Config
	switch cfg.Content.URLCache {
	case "", "memory":
		c := cache.NewMemoryCache(time.Minute)
		rt.onClose("url cache", func(context.Context) error {
			c.Stop()
			return nil
		})
		return c, nil
	case "redis":
		c, err := cache.NewRedisCache(ctx, cache.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Bus.Prefix + "urls:",
		}, log.WithComponent("cache"))
		if err != nil {
			return nil, err
		}
		rt.onClose("url cache", func(context.Context) error { return c.Close() })
		rt.Health.RegisterChecker(health.NewSoftChecker("url_cache", c.HealthCheck))
		return c, nil
	default:
		return nil, fmt.Errorf("%w: url cache %q", ErrUnknownBackend, cfg.Content.URLCache)
	}
}

func (rt *Runtime) openTelemetry(ctx context.Context) error {
	cfg := rt.Config.Telemetry
	if !cfg.Enabled {
		return nil
	}
	provider, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:        true,
		ServiceName:    "ron-sync",
		ServiceVersion: rt.Config.Version,
		Environment:    cfg.Environment,
		ExporterType:   cfg.Exporter,
		Endpoint:       cfg.Endpoint,
		SamplingRate:   cfg.SamplingRate,
	})
	if err != nil {
		// Tracing is optional; the daemon runs without it.
		rt.logger.Warn().Err(err).Msg("telemetry initialization failed, continuing without tracing")
		return nil
	}
	rt.Telemetry = provider
	rt.onClose("telemetry", provider.Shutdown)
	rt.logger.Info().
		Str("endpoint", cfg.Endpoint).
		Float64("sampling_rate", cfg.SamplingRate).
		Msg("Telemetry initialized")
	return nil
}

func (rt *Runtime) openSettings(ctx context.Context) error {
	backend := rt.Config.Settings.Backend
	path := filepath.Join(rt.Config.DataDir, "settings.db")
	kv, err := kvstore.Open(ctx, backend, path)
	if err != nil {
		return err
	}
	rt.KV = kv
	rt.Settings = settings.NewStore(kv)
	rt.onClose("settings", func(context.Context) error { return kv.Close() })
	rt.Health.RegisterChecker(health.NewFuncChecker("settings_store", func(ctx context.Context) error {
		_, err := kv.Keys(ctx, "healthcheck")
		return err
	}))
	return nil
}

func (rt *Runtime) openBus(ctx context.Context) error {
	cfg := rt.Config
	switch cfg.Bus.Transport {
	case "", "memory":
		t := broadcast.NewMemoryTransport()
		rt.Transport = t
		rt.onClose("bus", func(context.Context) error { return t.Close() })
		return nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			_ = client.Close()
			return fmt.Errorf("redis bus: %w", err)
		}
		rt.Redis = client
		rt.Transport = broadcast.NewRedisTransport(client, cfg.Bus.Prefix)
		rt.onClose("bus", func(context.Context) error { return client.Close() })
		rt.Health.RegisterChecker(health.NewFuncChecker("bus_redis", func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		}))
		return nil
	default:
		return fmt.Errorf("%w: bus transport %q", ErrUnknownBackend, cfg.Bus.Transport)
	}
}

func (rt *Runtime) openVideoCache(context.Context) error {
	cfg := rt.Config.VideoCache
	if !cfg.Enabled {
		return nil
	}
	switch cfg.Storage {
	case "", "file":
		fs, err := swcache.NewFileStorage(filepath.Join(rt.Config.DataDir, "video-cache"))
		if err != nil {
			return err
		}
		rt.VideoStorage = fs
	case "memory":
		rt.VideoStorage = swcache.NewMemoryStorage()
	default:
		return fmt.Errorf("%w: video cache storage %q", ErrUnknownBackend, cfg.Storage)
	}

	ic, err := swcache.New(swcache.Options{
		Storage:             rt.VideoStorage,
		Prefix:              cfg.Prefix,
		Version:             cfg.Version,
		AllowedHosts:        cfg.AllowedHosts,
		AllowedPathPrefixes: cfg.PathPrefixes,
		AllowedCIDRs:        cfg.AllowedCIDRs,
		MaxObjectBytes:      cfg.MaxObjectBytes,
	})
	if err != nil {
		return err
	}
	rt.Interceptor = ic
	rt.VideoControl = swcache.NewClient(ic, 0)
	rt.onClose("video cache", func(context.Context) error {
		ic.Close()
		return nil
	})
	storage := rt.VideoStorage
	rt.Health.RegisterChecker(health.NewSoftChecker("video_cache", func(ctx context.Context) error {
		_, err := storage.Caches(ctx)
		return err
	}))
	return nil
}

// NewAPIServer builds the HTTP API over the runtime.
func (rt *Runtime) NewAPIServer() (*api.Server, error) {
	return api.New(api.Deps{
		Config:       rt.Config,
		Media:        rt.Media,
		Settings:     rt.Settings,
		Transport:    rt.Transport,
		Interceptor:  rt.Interceptor,
		VideoControl: rt.VideoControl,
		Health:       rt.Health,
	})
}

// WaitForShutdown returns a context cancelled on interrupt or termination.
func WaitForShutdown() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
