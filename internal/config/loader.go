// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Loader applies defaults, the optional YAML file and the environment.
type Loader struct {
	configPath string
	version    string
	// ConsumedEnvKeys records every key the last Load looked at.
	ConsumedEnvKeys map[string]struct{}
}

// NewLoader creates a loader. configPath may be empty.
func NewLoader(configPath, version string) *Loader {
	return &Loader{
		configPath:      configPath,
		version:         version,
		ConsumedEnvKeys: make(map[string]struct{}),
	}
}

// Path returns the config file path, or "" when running from env only.
func (l *Loader) Path() string { return l.configPath }

func (l *Loader) consume(suffix string) string {
	key := EnvPrefix + suffix
	l.ConsumedEnvKeys[key] = struct{}{}
	return key
}

func (l *Loader) envString(suffix, def string) string   { return ParseString(l.consume(suffix), def) }
func (l *Loader) envBool(suffix string, def bool) bool  { return ParseBool(l.consume(suffix), def) }
func (l *Loader) envInt(suffix string, def int) int     { return ParseInt(l.consume(suffix), def) }
func (l *Loader) envInt64(suffix string, def int64) int64 {
	return ParseInt64(l.consume(suffix), def)
}
func (l *Loader) envFloat(suffix string, def float64) float64 {
	return ParseFloat(l.consume(suffix), def)
}
func (l *Loader) envDuration(suffix string, def time.Duration) time.Duration {
	return ParseDuration(l.consume(suffix), def)
}
func (l *Loader) envList(suffix string, def []string) []string {
	return ParseList(l.consume(suffix), def)
}

// Load returns the merged and validated configuration.
func (l *Loader) Load() (AppConfig, error) {
	cfg := Defaults()
	cfg.Version = l.version

	if l.configPath != "" {
		if err := l.loadFile(l.configPath, &cfg); err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
	}

	l.mergeEnv(&cfg)

	if abs, err := filepath.Abs(cfg.DataDir); err == nil {
		cfg.DataDir = abs
	}

	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// loadFile decodes the YAML file over cfg. Unknown fields are rejected.
func (l *Loader) loadFile(path string, cfg *AppConfig) error {
	path = filepath.Clean(path)
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("%w: %s (only YAML supported)", ErrUnsupportedFormat, ext)
	}

	// #nosec G304 -- the operator chooses the config path
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		if strings.Contains(err.Error(), "field") && strings.Contains(err.Error(), "not found") {
			return fmt.Errorf("%w: %v", ErrUnknownConfigField, err)
		}
		return fmt.Errorf("strict config parse error: %w", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("config file contains multiple documents or trailing content")
	}
	return nil
}

func (l *Loader) mergeEnv(cfg *AppConfig) {
	cfg.ListenAddr = l.envString("LISTEN_ADDR", cfg.ListenAddr)
	cfg.DataDir = l.envString("DATA_DIR", cfg.DataDir)
	cfg.LogLevel = l.envString("LOG_LEVEL", cfg.LogLevel)
	cfg.ShutdownTimeout = l.envDuration("SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	cfg.CORSOrigins = l.envList("CORS_ORIGINS", cfg.CORSOrigins)

	c := &cfg.Content
	c.BaseURL = l.envString("CONTENT_BASE_URL", c.BaseURL)
	c.Bucket = l.envString("CONTENT_BUCKET", c.Bucket)
	c.APIKey = l.envString("CONTENT_API_KEY", c.APIKey)
	c.SignExpiry = l.envDuration("CONTENT_SIGN_EXPIRY", c.SignExpiry)
	c.SafetyMargin = l.envDuration("CONTENT_SAFETY_MARGIN", c.SafetyMargin)
	c.Timeout = l.envDuration("CONTENT_TIMEOUT", c.Timeout)
	c.SignRate = l.envFloat("CONTENT_SIGN_RATE", c.SignRate)
	c.SignBurst = l.envInt("CONTENT_SIGN_BURST", c.SignBurst)
	c.URLCache = l.envString("CONTENT_URL_CACHE", c.URLCache)

	m := &cfg.Media
	m.Backend = l.envString("MEDIA_BACKEND", m.Backend)
	m.CacheTTL = l.envDuration("MEDIA_CACHE_TTL", m.CacheTTL)
	m.BulkConcurrency = l.envInt("MEDIA_BULK_CONCURRENCY", m.BulkConcurrency)
	m.MaxObjectBytes = l.envInt64("MEDIA_MAX_OBJECT_BYTES", m.MaxObjectBytes)

	b := &cfg.Bus
	b.Transport = l.envString("BUS_TRANSPORT", b.Transport)
	b.Prefix = l.envString("BUS_PREFIX", b.Prefix)
	b.PingInterval = l.envDuration("BUS_PING_INTERVAL", b.PingInterval)
	b.PongTimeout = l.envDuration("BUS_PONG_TIMEOUT", b.PongTimeout)

	r := &cfg.Redis
	r.Addr = l.envString("REDIS_ADDR", r.Addr)
	r.Password = l.envString("REDIS_PASSWORD", r.Password)
	r.DB = l.envInt("REDIS_DB", r.DB)

	v := &cfg.VideoCache
	v.Enabled = l.envBool("VIDEO_CACHE_ENABLED", v.Enabled)
	v.Storage = l.envString("VIDEO_CACHE_STORAGE", v.Storage)
	v.Prefix = l.envString("VIDEO_CACHE_PREFIX", v.Prefix)
	v.Version = l.envInt("VIDEO_CACHE_VERSION", v.Version)
	v.AllowedHosts = l.envList("VIDEO_CACHE_ALLOWED_HOSTS", v.AllowedHosts)
	v.PathPrefixes = l.envList("VIDEO_CACHE_PATH_PREFIXES", v.PathPrefixes)
	v.AllowedCIDRs = l.envList("VIDEO_CACHE_ALLOWED_CIDRS", v.AllowedCIDRs)
	v.MaxObjectBytes = l.envInt64("VIDEO_CACHE_MAX_OBJECT_BYTES", v.MaxObjectBytes)

	cfg.Settings.Backend = l.envString("SETTINGS_BACKEND", cfg.Settings.Backend)

	rl := &cfg.RateLimit
	rl.Enabled = l.envBool("RATE_LIMIT_ENABLED", rl.Enabled)
	rl.Requests = l.envInt("RATE_LIMIT_REQUESTS", rl.Requests)
	rl.Window = l.envDuration("RATE_LIMIT_WINDOW", rl.Window)

	t := &cfg.Telemetry
	t.Enabled = l.envBool("TELEMETRY_ENABLED", t.Enabled)
	t.Exporter = l.envString("TELEMETRY_EXPORTER", t.Exporter)
	t.Endpoint = l.envString("TELEMETRY_ENDPOINT", t.Endpoint)
	t.Environment = l.envString("TELEMETRY_ENVIRONMENT", t.Environment)
	t.SamplingRate = l.envFloat("TELEMETRY_SAMPLING_RATE", t.SamplingRate)
}
