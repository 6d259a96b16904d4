// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"strings"
	"time"

	netpolicy "github.com/sirrus7/ready-or-not-sub011/internal/platform/net"
	"github.com/sirrus7/ready-or-not-sub011/internal/validate"
)

// Validate checks every field and reports all failures at once.
func Validate(cfg AppConfig) error {
	v := validate.New()

	v.ListenAddr("ListenAddr", cfg.ListenAddr)
	v.Directory("DataDir", cfg.DataDir, false)
	if _, err := validate.ParseLogLevel(cfg.LogLevel); err != nil {
		v.AddError("LogLevel", "must be one of debug, info, warn, error", cfg.LogLevel)
	}
	v.Duration("ShutdownTimeout", cfg.ShutdownTimeout, time.Second)

	// The content backend is optional; without it only cached media is served.
	if strings.TrimSpace(cfg.Content.BaseURL) != "" {
		v.URL("Content.BaseURL", cfg.Content.BaseURL, []string{"http", "https"})
		v.NotEmpty("Content.Bucket", cfg.Content.Bucket)
	}
	v.Duration("Content.SignExpiry", cfg.Content.SignExpiry, time.Minute)
	v.Duration("Content.SafetyMargin", cfg.Content.SafetyMargin, 0)
	if cfg.Content.SafetyMargin >= cfg.Content.SignExpiry {
		v.AddError("Content.SafetyMargin", "must be shorter than Content.SignExpiry", cfg.Content.SafetyMargin)
	}
	v.Duration("Content.Timeout", cfg.Content.Timeout, 100*time.Millisecond)
	if cfg.Content.SignRate <= 0 {
		v.AddError("Content.SignRate", "must be positive", cfg.Content.SignRate)
	}
	v.Positive("Content.SignBurst", cfg.Content.SignBurst)
	v.OneOf("Content.URLCache", cfg.Content.URLCache, []string{"memory", "redis"})

	v.OneOf("Media.Backend", cfg.Media.Backend, []string{"sqlite", "badger", "memory"})
	v.Duration("Media.CacheTTL", cfg.Media.CacheTTL, time.Minute)
	v.Range("Media.BulkConcurrency", cfg.Media.BulkConcurrency, 1, 16)
	v.NonNegative("Media.MaxObjectBytes", cfg.Media.MaxObjectBytes)

	v.OneOf("Bus.Transport", cfg.Bus.Transport, []string{"memory", "redis"})
	v.Duration("Bus.PingInterval", cfg.Bus.PingInterval, 100*time.Millisecond)
	if cfg.Bus.PongTimeout <= cfg.Bus.PingInterval {
		v.AddError("Bus.PongTimeout", "must be longer than Bus.PingInterval", cfg.Bus.PongTimeout)
	}

	if cfg.Bus.Transport == "redis" || cfg.Content.URLCache == "redis" {
		v.NotEmpty("Redis.Addr", cfg.Redis.Addr)
	}
	v.Range("Redis.DB", cfg.Redis.DB, 0, 15)

	if cfg.VideoCache.Enabled {
		v.OneOf("VideoCache.Storage", cfg.VideoCache.Storage, []string{"file", "memory"})
		v.NotEmpty("VideoCache.Prefix", cfg.VideoCache.Prefix)
		v.Positive("VideoCache.Version", cfg.VideoCache.Version)
		for _, p := range cfg.VideoCache.PathPrefixes {
			v.PathPrefix("VideoCache.PathPrefixes", p)
		}
		v.NonNegative("VideoCache.MaxObjectBytes", cfg.VideoCache.MaxObjectBytes)
		if _, err := netpolicy.ParseCIDRs(cfg.VideoCache.AllowedCIDRs); err != nil {
			v.AddError("VideoCache.AllowedCIDRs", err.Error(), cfg.VideoCache.AllowedCIDRs)
		}
	}

	v.OneOf("Settings.Backend", cfg.Settings.Backend, []string{"sqlite", "memory"})

	if cfg.RateLimit.Enabled {
		v.Positive("RateLimit.Requests", cfg.RateLimit.Requests)
		v.Duration("RateLimit.Window", cfg.RateLimit.Window, time.Second)
	}

	if cfg.Telemetry.Enabled {
		v.OneOf("Telemetry.Exporter", cfg.Telemetry.Exporter, []string{"grpc", "http"})
		v.NotEmpty("Telemetry.Endpoint", cfg.Telemetry.Endpoint)
		v.Fraction("Telemetry.SamplingRate", cfg.Telemetry.SamplingRate)
	}

	return v.Err()
}
