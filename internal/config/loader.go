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

// Defaults.
const (
	DefaultLogLevel         = "info"
	DefaultFFmpegBin        = "ffmpeg"
	DefaultFFprobeBin       = "ffprobe"
	DefaultKillTimeout      = 5 * time.Second
	DefaultPollTimeout      = 10 * time.Millisecond
	DefaultMaxErrors        = 10
	DefaultStallTimeout     = 30 * time.Second
	DefaultListenAddr       = ":8089"
	DefaultRateLimit        = 30
	DefaultExporter         = "grpc"
	DefaultWatchConcurrency = 2
)

// Loader handles configuration loading with precedence
type Loader struct {
	configPath      string
	version         string
	ConsumedEnvKeys map[string]struct{}
}

// NewLoader creates a new configuration loader. configPath may be empty.
func NewLoader(configPath, version string) *Loader {
	return &Loader{
		configPath:      configPath,
		version:         version,
		ConsumedEnvKeys: make(map[string]struct{}),
	}
}

func (l *Loader) envString(key, defaultVal string) string {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseString(key, defaultVal)
}

func (l *Loader) envBool(key string, defaultVal bool) bool {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseBool(key, defaultVal)
}

func (l *Loader) envInt(key string, defaultVal int) int {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseInt(key, defaultVal)
}

func (l *Loader) envDuration(key string, defaultVal time.Duration) time.Duration {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseDuration(key, defaultVal)
}

func (l *Loader) envFloat(key string, defaultVal float64) float64 {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseFloat(key, defaultVal)
}

// Load loads configuration with precedence: ENV > File > Defaults.
// Order: defaults -> strict file parse -> env -> derive -> validate.
func (l *Loader) Load() (AppConfig, error) {
	cfg := AppConfig{}
	l.setDefaults(&cfg)

	if l.configPath != "" {
		fileCfg, err := l.loadFile(l.configPath)
		if err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
		if err := l.mergeFileConfig(&cfg, fileCfg); err != nil {
			return cfg, fmt.Errorf("merge file config: %w", err)
		}
	}

	l.mergeEnvConfig(&cfg)

	cfg.FFmpeg.FFprobeBin = ResolveFFprobeBin(cfg.FFmpeg.FFprobeBin, cfg.FFmpeg.Bin)
	if cfg.FFmpeg.FFprobeBin == "" {
		cfg.FFmpeg.FFprobeBin = DefaultFFprobeBin
	}
	if abs, err := filepath.Abs(cfg.CacheDir); err == nil {
		cfg.CacheDir = abs
	}
	cfg.Version = l.version

	if err := Validate(cfg); err != nil {
		return cfg, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func (l *Loader) setDefaults(cfg *AppConfig) {
	cfg.LogLevel = DefaultLogLevel
	cfg.CacheDir = defaultCacheDir()
	cfg.FFmpeg = FFmpegConfig{
		Bin:         DefaultFFmpegBin,
		KillTimeout: DefaultKillTimeout,
	}
	cfg.Transcode = TranscodeConfig{
		PollTimeout:  DefaultPollTimeout,
		MaxErrors:    DefaultMaxErrors,
		StallTimeout: DefaultStallTimeout,
	}
	cfg.API = APIConfig{
		ListenAddr: DefaultListenAddr,
		RateLimit:  DefaultRateLimit,
	}
	cfg.Telemetry = TelemetryConfig{
		Exporter:     DefaultExporter,
		SamplingRate: 1.0,
		Environment:  "production",
	}
	cfg.Watch = WatchConfig{Concurrency: DefaultWatchConcurrency}
}

// loadFile loads configuration from a YAML file with STRICT parsing.
// Unknown fields will cause a fatal error to prevent misconfiguration.
func (l *Loader) loadFile(path string) (*FileConfig, error) {
	path = filepath.Clean(path)

	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("%w: %s (only YAML supported)", ErrUnsupportedFormat, ext)
	}

	// #nosec G304 -- configuration file paths are provided by the operator via CLI/ENV
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	var fileCfg FileConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	if err := dec.Decode(&fileCfg); err != nil {
		if errors.Is(err, io.EOF) {
			return &FileConfig{}, nil
		}
		if strings.Contains(err.Error(), "field") && strings.Contains(err.Error(), "not found") {
			return nil, fmt.Errorf("%w: %v", ErrUnknownConfigField, err)
		}
		return nil, fmt.Errorf("strict config parse error: %w", err)
	}

	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return nil, ErrMultipleDocuments
	}

	return &fileCfg, nil
}

func (l *Loader) mergeFileConfig(dst *AppConfig, src *FileConfig) error {
	if src.LogLevel != "" {
		dst.LogLevel = src.LogLevel
	}
	if src.CacheDir != "" {
		dst.CacheDir = os.ExpandEnv(src.CacheDir)
	}

	if f := src.FFmpeg; f != nil {
		if f.Bin != "" {
			dst.FFmpeg.Bin = f.Bin
		}
		if f.FFprobeBin != "" {
			dst.FFmpeg.FFprobeBin = f.FFprobeBin
		}
		if err := mergeDuration(&dst.FFmpeg.KillTimeout, "ffmpeg.killTimeout", f.KillTimeout); err != nil {
			return err
		}
	}

	if t := src.Transcode; t != nil {
		if err := mergeDuration(&dst.Transcode.PollTimeout, "transcode.pollTimeout", t.PollTimeout); err != nil {
			return err
		}
		if err := mergeDuration(&dst.Transcode.StallTimeout, "transcode.stallTimeout", t.StallTimeout); err != nil {
			return err
		}
		if t.MaxErrors != nil {
			dst.Transcode.MaxErrors = *t.MaxErrors
		}
		if t.StrictFormatChange != nil {
			dst.Transcode.StrictFormatChange = *t.StrictFormatChange
		}
	}

	if a := src.API; a != nil {
		if a.ListenAddr != "" {
			dst.API.ListenAddr = a.ListenAddr
		}
		if a.RateLimit != nil {
			dst.API.RateLimit = *a.RateLimit
		}
	}

	if t := src.Telemetry; t != nil {
		if t.Enabled != nil {
			dst.Telemetry.Enabled = *t.Enabled
		}
		if t.Exporter != "" {
			dst.Telemetry.Exporter = t.Exporter
		}
		if t.Endpoint != "" {
			dst.Telemetry.Endpoint = t.Endpoint
		}
		if t.SamplingRate != nil {
			dst.Telemetry.SamplingRate = *t.SamplingRate
		}
		if t.Environment != "" {
			dst.Telemetry.Environment = t.Environment
		}
	}

	if w := src.Watch; w != nil {
		if w.Dir != "" {
			dst.Watch.Dir = os.ExpandEnv(w.Dir)
		}
		if w.Concurrency != nil {
			dst.Watch.Concurrency = *w.Concurrency
		}
	}
	return nil
}

func mergeDuration(dst *time.Duration, key, raw string) error {
	if raw == "" {
		return nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return &FieldError{Key: key, Err: err}
	}
	*dst = d
	return nil
}

// mergeEnvConfig applies environment overrides on top of file and defaults.
func (l *Loader) mergeEnvConfig(cfg *AppConfig) {
	cfg.LogLevel = l.envString(EnvLogLevel, cfg.LogLevel)
	cfg.CacheDir = l.envString(EnvCacheDir, cfg.CacheDir)

	cfg.FFmpeg.Bin = l.envString(EnvFFmpegBin, cfg.FFmpeg.Bin)
	cfg.FFmpeg.FFprobeBin = l.envString(EnvFFprobeBin, cfg.FFmpeg.FFprobeBin)
	cfg.FFmpeg.KillTimeout = l.envDuration(EnvFFmpegKillTimeout, cfg.FFmpeg.KillTimeout)

	cfg.Transcode.PollTimeout = l.envDuration(EnvPollTimeout, cfg.Transcode.PollTimeout)
	cfg.Transcode.MaxErrors = l.envInt(EnvMaxErrors, cfg.Transcode.MaxErrors)
	cfg.Transcode.StallTimeout = l.envDuration(EnvStallTimeout, cfg.Transcode.StallTimeout)
	cfg.Transcode.StrictFormatChange = l.envBool(EnvStrictFormatChange, cfg.Transcode.StrictFormatChange)

	cfg.API.ListenAddr = l.envString(EnvListenAddr, cfg.API.ListenAddr)
	cfg.API.RateLimit = l.envInt(EnvRateLimit, cfg.API.RateLimit)

	cfg.Telemetry.Enabled = l.envBool(EnvOTelEnabled, cfg.Telemetry.Enabled)
	cfg.Telemetry.Exporter = l.envString(EnvOTelExporter, cfg.Telemetry.Exporter)
	cfg.Telemetry.Endpoint = l.envString(EnvOTelEndpoint, cfg.Telemetry.Endpoint)
	cfg.Telemetry.SamplingRate = l.envFloat(EnvOTelSamplingRate, cfg.Telemetry.SamplingRate)
	cfg.Telemetry.Environment = l.envString(EnvOTelEnvironment, cfg.Telemetry.Environment)

	cfg.Watch.Dir = l.envString(EnvWatchDir, cfg.Watch.Dir)
	cfg.Watch.Concurrency = l.envInt(EnvWatchConcurrency, cfg.Watch.Concurrency)
}
