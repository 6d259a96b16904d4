// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/sirrus7/ready-or-not-sub011/internal/log"
)

// EnvPrefix prefixes every environment key the loader reads.
const EnvPrefix = "RON_"

func isSensitiveKey(key string) bool {
	k := strings.ToLower(key)
	for _, marker := range []string{"token", "password", "secret", "api_key"} {
		if strings.Contains(k, marker) {
			return true
		}
	}
	return false
}

// lookupEnv returns the raw value when the variable is set and non-empty.
// Unset and empty variables both mean "keep the default".
func lookupEnv(logger zerolog.Logger, key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	if v == "" {
		logger.Debug().
			Str("key", key).
			Str("source", "default").
			Msg("using default value (environment variable is empty)")
		return "", false
	}
	return v, true
}

func logEnvValue(logger zerolog.Logger, key string, value any) {
	ev := logger.Debug().Str("key", key).Str("source", "environment")
	if isSensitiveKey(key) {
		ev = ev.Bool("sensitive", true)
	} else {
		ev = ev.Interface("value", value)
	}
	ev.Msg("using environment variable")
}

func logInvalidEnv(logger zerolog.Logger, key, raw, kind string) {
	ev := logger.Warn().Str("key", key)
	if !isSensitiveKey(key) {
		ev = ev.Str("value", raw)
	}
	ev.Msgf("invalid %s in environment variable, using default", kind)
}

// ParseString reads a string from the environment or returns defaultValue.
func ParseString(key, defaultValue string) string {
	logger := log.WithComponent("config")
	v, ok := lookupEnv(logger, key)
	if !ok {
		return defaultValue
	}
	logEnvValue(logger, key, v)
	return v
}

// ParseInt reads an integer, falling back to defaultValue on parse errors.
func ParseInt(key string, defaultValue int) int {
	logger := log.WithComponent("config")
	v, ok := lookupEnv(logger, key)
	if !ok {
		return defaultValue
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		logInvalidEnv(logger, key, v, "integer")
		return defaultValue
	}
	logEnvValue(logger, key, i)
	return i
}

// ParseInt64 is ParseInt for byte sizes.
func ParseInt64(key string, defaultValue int64) int64 {
	logger := log.WithComponent("config")
	v, ok := lookupEnv(logger, key)
	if !ok {
		return defaultValue
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		logInvalidEnv(logger, key, v, "integer")
		return defaultValue
	}
	logEnvValue(logger, key, i)
	return i
}

// ParseDuration reads a Go duration such as "5s".
func ParseDuration(key string, defaultValue time.Duration) time.Duration {
	logger := log.WithComponent("config")
	v, ok := lookupEnv(logger, key)
	if !ok {
		return defaultValue
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		logInvalidEnv(logger, key, v, "duration")
		return defaultValue
	}
	logEnvValue(logger, key, d.String())
	return d
}

// ParseBool accepts true/false, 1/0 and yes/no in any case.
func ParseBool(key string, defaultValue bool) bool {
	logger := log.WithComponent("config")
	v, ok := lookupEnv(logger, key)
	if !ok {
		return defaultValue
	}
	switch strings.ToLower(v) {
	case "true", "1", "yes":
		logEnvValue(logger, key, true)
		return true
	case "false", "0", "no":
		logEnvValue(logger, key, false)
		return false
	default:
		logInvalidEnv(logger, key, v, "boolean")
		return defaultValue
	}
}

// ParseFloat reads a float64.
func ParseFloat(key string, defaultValue float64) float64 {
	logger := log.WithComponent("config")
	v, ok := lookupEnv(logger, key)
	if !ok {
		return defaultValue
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		logInvalidEnv(logger, key, v, "float")
		return defaultValue
	}
	logEnvValue(logger, key, f)
	return f
}

// ParseList reads a comma-separated list, dropping blank entries.
func ParseList(key string, defaultValue []string) []string {
	logger := log.WithComponent("config")
	v, ok := lookupEnv(logger, key)
	if !ok {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	logEnvValue(logger, key, out)
	return out
}
