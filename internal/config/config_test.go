// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := NewLoader("", "v1.2.3").Load()
	require.NoError(t, err)

	assert.Equal(t, "v1.2.3", cfg.Version)
	assert.Equal(t, DefaultLogLevel, cfg.LogLevel)
	assert.Equal(t, filepath.Join(os.TempDir(), "aacpress"), cfg.CacheDir)
	assert.Equal(t, DefaultFFmpegBin, cfg.FFmpeg.Bin)
	assert.Equal(t, DefaultFFprobeBin, cfg.FFmpeg.FFprobeBin)
	assert.Equal(t, 5*time.Second, cfg.FFmpeg.KillTimeout)
	assert.Equal(t, TranscodeConfig{
		PollTimeout:  10 * time.Millisecond,
		MaxErrors:    10,
		StallTimeout: 30 * time.Second,
	}, cfg.Transcode)
	assert.Equal(t, APIConfig{ListenAddr: ":8089", RateLimit: 30}, cfg.API)
	assert.False(t, cfg.Telemetry.Enabled)
	assert.Equal(t, 2, cfg.Watch.Concurrency)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	cache := t.TempDir()
	path := writeConfig(t, `
logLevel: debug
cacheDir: `+cache+`
ffmpeg:
  bin: /opt/ff/ffmpeg
  ffprobeBin: /opt/ff/ffprobe
  killTimeout: 2s
transcode:
  pollTimeout: 25ms
  maxErrors: 3
  stallTimeout: 0s
  strictFormatChange: true
api:
  listenAddr: 127.0.0.1:9000
  rateLimit: 5
telemetry:
  enabled: true
  exporter: http
  endpoint: collector:4318
  samplingRate: 0.5
watch:
  dir: /srv/in
  concurrency: 4
`)

	cfg, err := NewLoader(path, "dev").Load()
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, cache, cfg.CacheDir)
	assert.Equal(t, FFmpegConfig{Bin: "/opt/ff/ffmpeg", FFprobeBin: "/opt/ff/ffprobe", KillTimeout: 2 * time.Second}, cfg.FFmpeg)
	assert.Equal(t, TranscodeConfig{
		PollTimeout:        25 * time.Millisecond,
		MaxErrors:          3,
		StallTimeout:       0,
		StrictFormatChange: true,
	}, cfg.Transcode)
	assert.Equal(t, APIConfig{ListenAddr: "127.0.0.1:9000", RateLimit: 5}, cfg.API)
	assert.Equal(t, TelemetryConfig{Enabled: true, Exporter: "http", Endpoint: "collector:4318", SamplingRate: 0.5, Environment: "production"}, cfg.Telemetry)
	assert.Equal(t, WatchConfig{Dir: "/srv/in", Concurrency: 4}, cfg.Watch)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "transcode:\n  maxErrors: 3\napi:\n  rateLimit: 5\n")
	t.Setenv(EnvMaxErrors, "7")
	t.Setenv(EnvStrictFormatChange, "yes")
	t.Setenv(EnvPollTimeout, "50ms")
	t.Setenv(EnvOTelSamplingRate, "0.1")

	l := NewLoader(path, "dev")
	cfg, err := l.Load()
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.Transcode.MaxErrors)
	assert.True(t, cfg.Transcode.StrictFormatChange)
	assert.Equal(t, 50*time.Millisecond, cfg.Transcode.PollTimeout)
	assert.Equal(t, 5, cfg.API.RateLimit, "file value survives when env is unset")
	assert.InDelta(t, 0.1, cfg.Telemetry.SamplingRate, 1e-9)
	assert.Contains(t, l.ConsumedEnvKeys, EnvMaxErrors)
	assert.Contains(t, l.ConsumedEnvKeys, EnvWatchConcurrency)
}

func TestLoad_MalformedEnvFallsBack(t *testing.T) {
	t.Setenv(EnvMaxErrors, "many")
	t.Setenv(EnvStallTimeout, "forever")

	cfg, err := NewLoader("", "dev").Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxErrors, cfg.Transcode.MaxErrors)
	assert.Equal(t, DefaultStallTimeout, cfg.Transcode.StallTimeout)
}

func TestLoad_BadDurationNamesKey(t *testing.T) {
	_, err := NewLoader(writeConfig(t, "ffmpeg:\n  killTimeout: 5 parsecs\n"), "dev").Load()
	require.Error(t, err)

	var fe *FieldError
	require.True(t, errors.As(err, &fe), "got %v", err)
	assert.Equal(t, "ffmpeg.killTimeout", fe.Key)
	assert.Contains(t, err.Error(), "ffmpeg.killTimeout: time: ")
}

func TestLoad_StrictFile(t *testing.T) {
	tests := []struct {
		name    string
		path    func(t *testing.T) string
		wantIs  error
		wantMsg string
	}{
		{
			name:   "unknown key",
			path:   func(t *testing.T) string { return writeConfig(t, "transcode:\n  maxErrrors: 3\n") },
			wantIs: ErrUnknownConfigField,
		},
		{
			name:    "multiple documents",
			path:    func(t *testing.T) string { return writeConfig(t, "logLevel: info\n---\nlogLevel: debug\n") },
			wantIs:  ErrMultipleDocuments,
			wantMsg: "multiple documents",
		},
		{
			name:    "bad duration",
			path:    func(t *testing.T) string { return writeConfig(t, "transcode:\n  pollTimeout: soon\n") },
			wantMsg: "transcode.pollTimeout",
		},
		{
			name: "wrong extension",
			path: func(t *testing.T) string {
				p := filepath.Join(t.TempDir(), "config.json")
				require.NoError(t, os.WriteFile(p, []byte("{}"), 0o600))
				return p
			},
			wantIs:  ErrUnsupportedFormat,
			wantMsg: "only YAML supported",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewLoader(tt.path(t), "dev").Load()
			require.Error(t, err)
			if tt.wantIs != nil {
				assert.True(t, errors.Is(err, tt.wantIs), "got %v", err)
			}
			if tt.wantMsg != "" {
				assert.Contains(t, err.Error(), tt.wantMsg)
			}
		})
	}
}

func TestLoad_EmptyFileKeepsDefaults(t *testing.T) {
	cfg, err := NewLoader(writeConfig(t, ""), "dev").Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxErrors, cfg.Transcode.MaxErrors)
}

func TestValidate(t *testing.T) {
	valid := func() AppConfig {
		l := NewLoader("", "dev")
		var cfg AppConfig
		l.setDefaults(&cfg)
		cfg.FFmpeg.FFprobeBin = DefaultFFprobeBin
		return cfg
	}
	require.NoError(t, Validate(valid()))

	tests := []struct {
		name   string
		mutate func(*AppConfig)
		field  string
	}{
		{"max errors", func(c *AppConfig) { c.Transcode.MaxErrors = 0 }, "transcode.maxErrors"},
		{"poll timeout", func(c *AppConfig) { c.Transcode.PollTimeout = 0 }, "transcode.pollTimeout"},
		{"ffmpeg bin", func(c *AppConfig) { c.FFmpeg.Bin = "" }, "ffmpeg.bin"},
		{"rate limit", func(c *AppConfig) { c.API.RateLimit = 0 }, "api.rateLimit"},
		{"listen addr", func(c *AppConfig) { c.API.ListenAddr = "nope" }, "api.listenAddr"},
		{"log level", func(c *AppConfig) { c.LogLevel = "loud" }, "logLevel"},
		{"exporter", func(c *AppConfig) {
			c.Telemetry.Enabled = true
			c.Telemetry.Endpoint = "x:1"
			c.Telemetry.Exporter = "zipkin"
		}, "telemetry.exporter"},
		{"sampling", func(c *AppConfig) {
			c.Telemetry.Enabled = true
			c.Telemetry.Endpoint = "x:1"
			c.Telemetry.SamplingRate = 2
		}, "telemetry.samplingRate"},
		{"watch concurrency", func(c *AppConfig) { c.Watch.Concurrency = 0 }, "watch.concurrency"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := Validate(cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}

func TestProjections(t *testing.T) {
	cfg, err := NewLoader("", "v9").Load()
	require.NoError(t, err)

	cc := cfg.CompressConfig()
	assert.Equal(t, cfg.CacheDir, cc.CacheDir)
	assert.Equal(t, DefaultMaxErrors, cc.Transcode.MaxErrors)
	assert.Equal(t, DefaultPollTimeout, cc.Transcode.PollTimeout)

	tc := cfg.TelemetryProviderConfig()
	assert.Equal(t, "aacpress", tc.ServiceName)
	assert.Equal(t, "v9", tc.ServiceVersion)
	assert.Equal(t, "aac", tc.Encoder)
	assert.Equal(t, DefaultMaxErrors, tc.MaxErrors)
	assert.False(t, tc.Enabled)
}

func TestResolveFFprobeBin(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	ffmpegBin := filepath.Join(dir, "ffmpeg")
	ffprobeBin := filepath.Join(dir, "ffprobe")
	require.NoError(t, os.WriteFile(ffprobeBin, []byte("stub"), 0o755))

	assert.Equal(t, "/custom/ffprobe", ResolveFFprobeBin("/custom/ffprobe", ffmpegBin))
	assert.Equal(t, ffprobeBin, ResolveFFprobeBin("", ffmpegBin))
	assert.Equal(t, "", ResolveFFprobeBin("", "ffmpeg"))
	assert.Equal(t, "", ResolveFFprobeBin("", filepath.Join(t.TempDir(), "ffmpeg")))
	assert.Equal(t, "", ResolveFFprobeBin("", filepath.Join(dir, "avconv")))
}
