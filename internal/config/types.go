// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import "time"

// AppConfig is the full daemon configuration.
type AppConfig struct {
	Version string `yaml:"-"`

	ListenAddr      string        `yaml:"listenAddr"`
	DataDir         string        `yaml:"dataDir"`
	LogLevel        string        `yaml:"logLevel"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	CORSOrigins     []string      `yaml:"corsOrigins"`

	Content    ContentConfig    `yaml:"content"`
	Media      MediaConfig      `yaml:"media"`
	Bus        BusConfig        `yaml:"bus"`
	Redis      RedisConfig      `yaml:"redis"`
	VideoCache VideoCacheConfig `yaml:"videoCache"`
	Settings   SettingsConfig   `yaml:"settings"`
	RateLimit  RateLimitConfig  `yaml:"rateLimit"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
}

// ContentConfig points at the storage backend that signs media URLs.
type ContentConfig struct {
	BaseURL      string        `yaml:"baseURL"`
	Bucket       string        `yaml:"bucket"`
	APIKey       string        `yaml:"apiKey"`
	SignExpiry   time.Duration `yaml:"signExpiry"`
	SafetyMargin time.Duration `yaml:"safetyMargin"`
	Timeout      time.Duration `yaml:"timeout"`
	SignRate     float64       `yaml:"signRate"`
	SignBurst    int           `yaml:"signBurst"`
	// URLCache is "memory" or "redis".
	URLCache string `yaml:"urlCache"`
}

// MediaConfig controls the durable media cache.
type MediaConfig struct {
	// Backend is "sqlite", "badger" or "memory".
	Backend         string        `yaml:"backend"`
	CacheTTL        time.Duration `yaml:"cacheTTL"`
	BulkConcurrency int           `yaml:"bulkConcurrency"`
	MaxObjectBytes  int64         `yaml:"maxObjectBytes"`
}

// BusConfig selects the broadcast transport and bridge liveness.
type BusConfig struct {
	// Transport is "memory" or "redis".
	Transport    string        `yaml:"transport"`
	Prefix       string        `yaml:"prefix"`
	PingInterval time.Duration `yaml:"pingInterval"`
	PongTimeout  time.Duration `yaml:"pongTimeout"`
}

// RedisConfig is shared by the bus and the signed URL cache.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// VideoCacheConfig controls the video intercept.
type VideoCacheConfig struct {
	Enabled bool `yaml:"enabled"`
	// Storage is "file" or "memory".
	Storage        string   `yaml:"storage"`
	Prefix         string   `yaml:"prefix"`
	Version        int      `yaml:"version"`
	AllowedHosts   []string `yaml:"allowedHosts"`
	PathPrefixes   []string `yaml:"pathPrefixes"`
	MaxObjectBytes int64    `yaml:"maxObjectBytes"`
	// AllowedCIDRs lists private or loopback ranges the fetch endpoint may
	// reach on allowlisted hosts.
	AllowedCIDRs []string `yaml:"allowedCIDRs"`
}

// SettingsConfig selects the key-value backend for session settings.
type SettingsConfig struct {
	// Backend is "sqlite" or "memory".
	Backend string `yaml:"backend"`
}

// RateLimitConfig limits API requests per client IP.
type RateLimitConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Requests int           `yaml:"requests"`
	Window   time.Duration `yaml:"window"`
}

// TelemetryConfig configures OpenTelemetry tracing.
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Exporter     string  `yaml:"exporter"`
	Endpoint     string  `yaml:"endpoint"`
	Environment  string  `yaml:"environment"`
	SamplingRate float64 `yaml:"samplingRate"`
}
