// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"strings"

	"github.com/ManuGH/aacpress/internal/validate"
	"github.com/rs/zerolog"
)

// Validate checks cfg and reports every violation at once.
func Validate(cfg AppConfig) error {
	v := validate.New()

	if _, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel)); err != nil {
		v.AddError("logLevel", "unknown log level", cfg.LogLevel)
	}
	v.NotEmpty("cacheDir", cfg.CacheDir)

	v.NotEmpty("ffmpeg.bin", cfg.FFmpeg.Bin)
	v.PositiveDuration("ffmpeg.killTimeout", cfg.FFmpeg.KillTimeout)

	v.Positive("transcode.maxErrors", cfg.Transcode.MaxErrors)
	v.PositiveDuration("transcode.pollTimeout", cfg.Transcode.PollTimeout)
	v.NonNegativeDuration("transcode.stallTimeout", cfg.Transcode.StallTimeout)

	v.ListenAddr("api.listenAddr", cfg.API.ListenAddr)
	v.Positive("api.rateLimit", cfg.API.RateLimit)

	if cfg.Telemetry.Enabled {
		v.OneOf("telemetry.exporter", cfg.Telemetry.Exporter, []string{"grpc", "http"})
		v.NotEmpty("telemetry.endpoint", cfg.Telemetry.Endpoint)
		v.Fraction("telemetry.samplingRate", cfg.Telemetry.SamplingRate)
	}

	v.Range("watch.concurrency", cfg.Watch.Concurrency, 1, 64)

	return v.Err()
}
