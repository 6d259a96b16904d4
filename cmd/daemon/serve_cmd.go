// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"github.com/spf13/cobra"

	"github.com/sirrus7/ready-or-not-sub011/internal/config"
	"github.com/sirrus7/ready-or-not-sub011/internal/daemon"
	"github.com/sirrus7/ready-or-not-sub011/internal/health"
	xglog "github.com/sirrus7/ready-or-not-sub011/internal/log"
)

func newServeCmd(load configLoadFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the sync daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			loader, cfg, err := load()
			if err != nil {
				return err
			}
			return serve(loader, cfg)
		},
	}
}

func serve(loader *config.Loader, cfg config.AppConfig) error {
	logger := xglog.WithComponent("daemon")

	ctx, stop := daemon.WaitForShutdown()
	defer stop()

	if err := health.PerformStartupChecks(ctx, cfg); err != nil {
		logger.Error().
			Err(err).
			Str("event", "startup.check_failed").
			Msg("startup checks failed, verify configuration and permissions")
		return err
	}

	logger.Info().
		Str("event", "startup").
		Str("version", version).
		Str("commit", commit).
		Str("build_date", buildDate).
		Str("addr", cfg.ListenAddr).
		Str("media_backend", cfg.Media.Backend).
		Str("bus_transport", cfg.Bus.Transport).
		Bool("video_cache", cfg.VideoCache.Enabled).
		Msg("starting ron-sync")

	rt, err := daemon.Open(ctx, cfg)
	if err != nil {
		return err
	}
	srv, err := rt.NewAPIServer()
	if err != nil {
		_ = rt.Close(ctx)
		return err
	}

	mgr, err := daemon.NewManager(daemon.ServerConfigFrom(cfg), daemon.Deps{
		Logger:     logger,
		APIHandler: srv.Handler(),
	})
	if err != nil {
		_ = rt.Close(ctx)
		logger.Error().Err(err).Str("event", "manager.creation.failed").Msg("failed to create daemon manager")
		return err
	}

	app := daemon.NewApp(logger, mgr, config.NewHolder(cfg, loader), rt, srv)
	if err := app.Run(ctx); err != nil {
		logger.Error().Err(err).Str("event", "manager.failed").Msg("daemon app failed")
		return err
	}
	logger.Info().Msg("server exiting")
	return nil
}
