// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ManuGH/aacpress/internal/log"
	"github.com/rs/zerolog"
)

// Environment keys.
const (
	EnvLogLevel           = "AACPRESS_LOG_LEVEL"
	EnvCacheDir           = "AACPRESS_CACHE_DIR"
	EnvFFmpegBin          = "AACPRESS_FFMPEG_BIN"
	EnvFFprobeBin         = "AACPRESS_FFPROBE_BIN"
	EnvFFmpegKillTimeout  = "AACPRESS_FFMPEG_KILL_TIMEOUT"
	EnvPollTimeout        = "AACPRESS_POLL_TIMEOUT"
	EnvMaxErrors          = "AACPRESS_MAX_ERRORS"
	EnvStallTimeout       = "AACPRESS_STALL_TIMEOUT"
	EnvStrictFormatChange = "AACPRESS_STRICT_FORMAT_CHANGE"
	EnvListenAddr         = "AACPRESS_LISTEN_ADDR"
	EnvRateLimit          = "AACPRESS_RATE_LIMIT"
	EnvOTelEnabled        = "AACPRESS_OTEL_ENABLED"
	EnvOTelExporter       = "AACPRESS_OTEL_EXPORTER"
	EnvOTelEndpoint       = "AACPRESS_OTEL_ENDPOINT"
	EnvOTelSamplingRate   = "AACPRESS_OTEL_SAMPLING_RATE"
	EnvOTelEnvironment    = "AACPRESS_OTEL_ENVIRONMENT"
	EnvWatchDir           = "AACPRESS_WATCH_DIR"
	EnvWatchConcurrency   = "AACPRESS_WATCH_CONCURRENCY"
)

// ParseString reads a string from environment variable or returns default value.
// It logs the source (environment or default) for observability.
func ParseString(key, defaultValue string) string {
	return parseStringWithLogger(log.WithComponent("config"), key, defaultValue)
}

func parseStringWithLogger(logger zerolog.Logger, key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		if value == "" {
			logger.Debug().
				Str("key", key).
				Str("default", defaultValue).
				Str("source", "default").
				Msg("using default value (environment variable is empty)")
			return defaultValue
		}
		logger.Debug().
			Str("key", key).
			Str("value", value).
			Str("source", "environment").
			Msg("using environment variable")
		return value
	}
	logger.Debug().
		Str("key", key).
		Str("default", defaultValue).
		Str("source", "default").
		Msg("using default value")
	return defaultValue
}

// parseEnv is the shared lookup for typed values: empty or malformed values
// fall back to the default, malformed ones with a warning.
func parseEnv[T any](key string, defaultValue T, parse func(string) (T, error)) T {
	logger := log.WithComponent("config")
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		logger.Debug().
			Str("key", key).
			Interface("default", defaultValue).
			Str("source", "default").
			Msg("using default value")
		return defaultValue
	}
	parsed, err := parse(strings.TrimSpace(v))
	if err != nil {
		logger.Warn().
			Str("key", key).
			Str("value", v).
			Interface("default", defaultValue).
			Msg("invalid value in environment variable, using default")
		return defaultValue
	}
	logger.Debug().
		Str("key", key).
		Interface("value", parsed).
		Str("source", "environment").
		Msg("using environment variable")
	return parsed
}

// ParseInt reads an integer from environment variable or returns default value.
func ParseInt(key string, defaultValue int) int {
	return parseEnv(key, defaultValue, strconv.Atoi)
}

// ParseDuration reads a duration in Go format (e.g. "5s").
func ParseDuration(key string, defaultValue time.Duration) time.Duration {
	return parseEnv(key, defaultValue, time.ParseDuration)
}

// ParseFloat reads a float64 from environment variable or returns default value.
func ParseFloat(key string, defaultValue float64) float64 {
	return parseEnv(key, defaultValue, func(s string) (float64, error) {
		return strconv.ParseFloat(s, 64)
	})
}

// ParseBool accepts "true", "false", "1", "0", "yes", "no" (case-insensitive).
func ParseBool(key string, defaultValue bool) bool {
	return parseEnv(key, defaultValue, func(s string) (bool, error) {
		switch strings.ToLower(s) {
		case "true", "1", "yes":
			return true, nil
		case "false", "0", "no":
			return false, nil
		}
		return false, strconv.ErrSyntax
	})
}
