// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package config loads aacpress configuration with precedence ENV > YAML > defaults.
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/ManuGH/aacpress/internal/codec"
	"github.com/ManuGH/aacpress/internal/compress"
	"github.com/ManuGH/aacpress/internal/telemetry"
	"github.com/ManuGH/aacpress/internal/transcode"
)

// AppConfig is the effective configuration.
type AppConfig struct {
	Version   string
	LogLevel  string
	CacheDir  string
	FFmpeg    FFmpegConfig
	Transcode TranscodeConfig
	API       APIConfig
	Telemetry TelemetryConfig
	Watch     WatchConfig
}

type FFmpegConfig struct {
	Bin         string
	FFprobeBin  string
	KillTimeout time.Duration
}

type TranscodeConfig struct {
	PollTimeout        time.Duration
	MaxErrors          int
	StallTimeout       time.Duration
	StrictFormatChange bool
}

type APIConfig struct {
	ListenAddr string
	// RateLimit is requests per minute per client IP.
	RateLimit int
}

type TelemetryConfig struct {
	Enabled      bool
	Exporter     string
	Endpoint     string
	SamplingRate float64
	Environment  string
}

type WatchConfig struct {
	Dir         string
	Concurrency int
}

// FileConfig mirrors the YAML file. Pointer fields distinguish "unset" from zero.
type FileConfig struct {
	LogLevel  string              `yaml:"logLevel,omitempty"`
	CacheDir  string              `yaml:"cacheDir,omitempty"`
	FFmpeg    *FFmpegFileConfig    `yaml:"ffmpeg,omitempty"`
	Transcode *TranscodeFileConfig `yaml:"transcode,omitempty"`
	API       *APIFileConfig       `yaml:"api,omitempty"`
	Telemetry *TelemetryFileConfig `yaml:"telemetry,omitempty"`
	Watch     *WatchFileConfig     `yaml:"watch,omitempty"`
}

type FFmpegFileConfig struct {
	Bin         string `yaml:"bin,omitempty"`
	FFprobeBin  string `yaml:"ffprobeBin,omitempty"`
	KillTimeout string `yaml:"killTimeout,omitempty"`
}

type TranscodeFileConfig struct {
	PollTimeout        string `yaml:"pollTimeout,omitempty"`
	MaxErrors          *int   `yaml:"maxErrors,omitempty"`
	StallTimeout       string `yaml:"stallTimeout,omitempty"`
	StrictFormatChange *bool  `yaml:"strictFormatChange,omitempty"`
}

type APIFileConfig struct {
	ListenAddr string `yaml:"listenAddr,omitempty"`
	RateLimit  *int   `yaml:"rateLimit,omitempty"`
}

type TelemetryFileConfig struct {
	Enabled      *bool    `yaml:"enabled,omitempty"`
	Exporter     string   `yaml:"exporter,omitempty"`
	Endpoint     string   `yaml:"endpoint,omitempty"`
	SamplingRate *float64 `yaml:"samplingRate,omitempty"`
	Environment  string   `yaml:"environment,omitempty"`
}

type WatchFileConfig struct {
	Dir         string `yaml:"dir,omitempty"`
	Concurrency *int   `yaml:"concurrency,omitempty"`
}

func defaultCacheDir() string {
	return filepath.Join(os.TempDir(), "aacpress")
}

// CompressConfig projects the config onto the compression service.
func (c AppConfig) CompressConfig() compress.Config {
	return compress.Config{
		CacheDir:    c.CacheDir,
		FFmpegBin:   c.FFmpeg.Bin,
		FFprobeBin:  c.FFmpeg.FFprobeBin,
		KillTimeout: c.FFmpeg.KillTimeout,
		Transcode: transcode.Config{
			MaxErrors:          c.Transcode.MaxErrors,
			PollTimeout:        c.Transcode.PollTimeout,
			StallTimeout:       c.Transcode.StallTimeout,
			StrictFormatChange: c.Transcode.StrictFormatChange,
		},
	}
}

// TelemetryProviderConfig projects the config onto the tracer provider.
func (c AppConfig) TelemetryProviderConfig() telemetry.Config {
	return telemetry.Config{
		Enabled:        c.Telemetry.Enabled,
		ServiceName:    "aacpress",
		ServiceVersion: c.Version,
		Environment:    c.Telemetry.Environment,
		ExporterType:   c.Telemetry.Exporter,
		Endpoint:       c.Telemetry.Endpoint,
		SamplingRate:   c.Telemetry.SamplingRate,
		Encoder:        codec.EncoderName,
		MaxErrors:      c.Transcode.MaxErrors,
	}
}
