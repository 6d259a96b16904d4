// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import (
	"context"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/sirrus7/ready-or-not-sub011/internal/api"
	"github.com/sirrus7/ready-or-not-sub011/internal/config"
	"github.com/sirrus7/ready-or-not-sub011/internal/log"
)

// App owns the long-lived runtime lifecycle (config reload, cache upkeep,
// the video cache control loop) and delegates server management to Manager.
type App struct {
	logger    zerolog.Logger
	manager   Manager
	cfgHolder *config.Holder
	runtime   *Runtime
	apiServer *api.Server
}

// NewApp creates a new App orchestrator. cfgHolder may be nil to disable
// hot reload.
func NewApp(logger zerolog.Logger, manager Manager, cfgHolder *config.Holder, rt *Runtime, apiServer *api.Server) *App {
	if manager != nil {
		if apiServer != nil {
			manager.RegisterShutdownHook("api", apiServer.Shutdown)
		}
		if rt != nil {
			manager.RegisterShutdownHook("runtime", rt.Close)
		}
	}
	return &App{
		logger:    logger,
		manager:   manager,
		cfgHolder: cfgHolder,
		runtime:   rt,
		apiServer: apiServer,
	}
}

// Run starts all owned background subsystems and blocks until ctx is cancelled or a fatal error occurs.
func (a *App) Run(ctx context.Context) error {
	if a.manager == nil {
		return ErrMissingManager
	}

	g, ctx := errgroup.WithContext(ctx)

	if a.runtime != nil {
		a.sweepExpired(ctx)
		a.startVideoCache(ctx, g)
	}

	if a.cfgHolder != nil {
		applyCh := make(chan config.AppConfig, 1)
		a.cfgHolder.RegisterListener(applyCh)
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case cfg := <-applyCh:
					a.applyConfig(cfg)
				}
			}
		})

		// Watchers are best-effort: a failed watcher must not take the
		// daemon down.
		g.Go(func() error {
			if err := a.cfgHolder.Watch(ctx); err != nil {
				a.logger.Warn().Err(err).Str("event", "config.watcher_start_failed").Msg("failed to start config watcher")
			}
			return nil
		})
		g.Go(func() error {
			return a.cfgHolder.WatchSignals(ctx)
		})
	}

	g.Go(func() error {
		err := a.manager.Start(ctx)
		if err != nil {
			_ = a.manager.Shutdown(context.Background())
		}
		return err
	})

	return g.Wait()
}

// sweepExpired drops expired blobs once at startup.
func (a *App) sweepExpired(ctx context.Context) {
	n, err := a.runtime.Blobs.CleanupExpired(ctx)
	if err != nil {
		a.logger.Warn().Err(err).Str("event", "blobstore.cleanup_failed").Msg("expired blob sweep failed")
		return
	}
	a.logger.Info().Int("removed", n).Str("event", "blobstore.cleanup").Msg("expired blobs removed")
}

func (a *App) startVideoCache(ctx context.Context, g *errgroup.Group) {
	ic := a.runtime.Interceptor
	if ic == nil {
		return
	}
	if _, err := ic.Activate(ctx); err != nil {
		a.logger.Warn().Err(err).Str("event", "swcache.activate_failed").Msg("video cache activation failed")
	}
	g.Go(func() error { return ic.Run(ctx) })
}

// applyConfig applies the hot-reloadable fields of a reloaded config.
func (a *App) applyConfig(cfg config.AppConfig) {
	if err := log.SetLevel(cfg.LogLevel); err != nil {
		a.logger.Warn().Err(err).Str("level", cfg.LogLevel).Msg("ignoring invalid log level")
	}
	if a.apiServer != nil {
		a.apiServer.SetBulkConcurrency(cfg.Media.BulkConcurrency)
	}
	a.logger.Info().
		Str("event", "config.applied").
		Str("log_level", cfg.LogLevel).
		Int("bulk_concurrency", cfg.Media.BulkConcurrency).
		Msg("applied reloaded configuration")
}
