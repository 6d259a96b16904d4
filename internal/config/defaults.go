// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import "time"

// Defaults returns the built-in configuration.
func Defaults() AppConfig {
	return AppConfig{
		ListenAddr:      ":8088",
		DataDir:         "data",
		LogLevel:        "info",
		ShutdownTimeout: 15 * time.Second,
		Content: ContentConfig{
			SignExpiry:   time.Hour,
			SafetyMargin: 30 * time.Second,
			Timeout:      5 * time.Second,
			SignRate:     20,
			SignBurst:    40,
			URLCache:     "memory",
		},
		Media: MediaConfig{
			Backend:         "sqlite",
			CacheTTL:        7 * 24 * time.Hour,
			BulkConcurrency: 3,
			MaxObjectBytes:  512 << 20,
		},
		Bus: BusConfig{
			Transport:    "memory",
			Prefix:       "ron:bus:",
			PingInterval: 10 * time.Second,
			PongTimeout:  30 * time.Second,
		},
		VideoCache: VideoCacheConfig{
			Enabled:        true,
			Storage:        "file",
			Prefix:         "ron-video-cache",
			Version:        1,
			MaxObjectBytes: 512 << 20,
		},
		Settings: SettingsConfig{Backend: "sqlite"},
		RateLimit: RateLimitConfig{
			Enabled:  true,
			Requests: 300,
			Window:   time.Minute,
		},
		Telemetry: TelemetryConfig{
			Exporter:     "grpc",
			Endpoint:     "localhost:4317",
			Environment:  "production",
			SamplingRate: 1.0,
		},
	}
}
