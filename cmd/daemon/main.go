// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Command ron-sync runs the classroom sync daemon and its maintenance
// commands.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sirrus7/ready-or-not-sub011/internal/config"
	xglog "github.com/sirrus7/ready-or-not-sub011/internal/log"
)

var (
	version   = "v0.1.0"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:          "ron-sync",
		Short:        "Classroom sync and media cache daemon",
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to config file (YAML)")

	load := func() (*config.Loader, config.AppConfig, error) {
		return loadConfig(configPath)
	}
	root.AddCommand(
		newServeCmd(load),
		newPrefetchCmd(load),
		newCacheCmd(load),
		newStorageCmd(load),
		newHealthcheckCmd(),
	)
	return root
}

type configLoadFunc func() (*config.Loader, config.AppConfig, error)

// loadConfig resolves the config path and loads it with precedence
// ENV > file > defaults. Without --config, $RON_DATA_DIR/config.yaml is used
// when present.
func loadConfig(explicit string) (*config.Loader, config.AppConfig, error) {
	// Safe defaults until the configuration is known.
	xglog.Configure(xglog.Config{Level: "info", Service: "ron-sync", Version: version})

	path := strings.TrimSpace(explicit)
	if path == "" {
		dataDir := strings.TrimSpace(config.ParseString(config.EnvPrefix+"DATA_DIR", ""))
		if dataDir != "" {
			auto := filepath.Join(dataDir, "config.yaml")
			if _, err := os.Stat(auto); err == nil {
				path = auto
			}
		}
	}

	loader := config.NewLoader(path, version)
	cfg, err := loader.Load()
	if err != nil {
		return nil, cfg, fmt.Errorf("load configuration (%s): %w", describeSource(path), err)
	}

	xglog.Configure(xglog.Config{Level: cfg.LogLevel, Service: "ron-sync", Version: cfg.Version})
	logger := xglog.WithComponent("daemon")
	logger.Info().
		Str("event", "config.loaded").
		Str("source", describeSource(path)).
		Msg("configuration loaded")
	return loader, cfg, nil
}

func describeSource(path string) string {
	if path == "" {
		return "env+defaults"
	}
	return path
}
