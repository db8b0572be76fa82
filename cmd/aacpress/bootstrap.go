// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/ManuGH/aacpress/internal/compress"
	"github.com/ManuGH/aacpress/internal/config"
	xglog "github.com/ManuGH/aacpress/internal/log"
	"github.com/ManuGH/aacpress/internal/telemetry"
	"github.com/rs/zerolog"
)

// appRuntime is what every long-running command needs.
type appRuntime struct {
	cfg      config.AppConfig
	logger   zerolog.Logger
	svc      *compress.Service
	shutdown func()
}

// bootstrap loads config, reconfigures logging, starts tracing and builds the service.
func bootstrap(ctx context.Context, configPath string, logOut io.Writer, component string) (*appRuntime, error) {
	xglog.Configure(xglog.Config{Level: "info", Output: logOut, Version: version})
	logger := xglog.WithComponent(component)

	cfg, err := config.NewLoader(configPath, version).Load()
	if err != nil {
		logger.Error().
			Err(err).
			Str(xglog.FieldEvent, "config.load_failed").
			Str("config_path", configPath).
			Msg("failed to load configuration")
		return nil, err
	}

	xglog.Configure(xglog.Config{Level: cfg.LogLevel, Output: logOut, Version: cfg.Version})
	logger = xglog.WithComponent(component)
	source := "env+defaults"
	if configPath != "" {
		source = "file"
	}
	logger.Debug().
		Str(xglog.FieldEvent, "config.loaded").
		Str("source", source).
		Str("cache_dir", cfg.CacheDir).
		Msg("configuration loaded")

	provider, err := telemetry.NewProvider(ctx, cfg.TelemetryProviderConfig())
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	svc, err := compress.NewService(cfg.CompressConfig(), xglog.Base())
	if err != nil {
		_ = provider.Shutdown(context.Background())
		return nil, err
	}

	return &appRuntime{
		cfg:    cfg,
		logger: logger,
		svc:    svc,
		shutdown: func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := provider.Shutdown(ctx); err != nil {
				logger.Warn().Err(err).Msg("telemetry shutdown failed")
			}
		},
	}, nil
}
