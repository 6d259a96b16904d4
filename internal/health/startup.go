// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package health

import (
	"context"
	"fmt"

	"github.com/sirrus7/ready-or-not-sub011/internal/config"
	"github.com/sirrus7/ready-or-not-sub011/internal/log"
)

// PerformStartupChecks verifies the runtime environment before serving.
func PerformStartupChecks(_ context.Context, cfg config.AppConfig) error {
	logger := log.WithComponent("startup-check")

	if err := checkWritableDir(cfg.DataDir); err != nil {
		return fmt.Errorf("data directory check failed: %w", err)
	}
	logger.Info().Str(log.FieldPath, cfg.DataDir).Msg("data directory is writable")

	if cfg.Content.BaseURL == "" {
		logger.Warn().Msg("no content backend configured, only cached media will be served")
	}
	if cfg.VideoCache.Enabled && len(cfg.VideoCache.AllowedHosts) == 0 {
		logger.Warn().Msg("video cache has no allowed hosts, every video request will bypass it")
	}
	return nil
}
