// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"context"
	"flag"
	"fmt"
	"io"

	"github.com/ManuGH/aacpress/internal/api"
	"github.com/ManuGH/aacpress/internal/health"
	"github.com/ManuGH/aacpress/internal/watch"
	"golang.org/x/sync/errgroup"
)

func runServeCLI(ctx context.Context, args []string, stderr io.Writer) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "path to config file (YAML)")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	rt, err := bootstrap(ctx, *configPath, stderr, "serve")
	if err != nil {
		fmt.Fprintf(stderr, "aacpress: %v\n", err)
		return 1
	}
	defer rt.shutdown()

	g, gctx := errgroup.WithContext(ctx)

	hm := health.NewManager(rt.cfg.Version)
	hm.RegisterChecker(rt.svc.ReadinessCheckers()...)

	srv := api.New(api.Config{
		ListenAddr:     rt.cfg.API.ListenAddr,
		RateLimit:      rt.cfg.API.RateLimit,
		TracingService: tracingService(rt.cfg.Telemetry.Enabled),
		Health:         hm,
	}, rt.svc, rt.logger)
	g.Go(func() error { return srv.ListenAndServe(gctx) })

	// watch runs alongside the API when configured
	if rt.cfg.Watch.Dir != "" {
		w := watch.New(watch.Config{
			Dir:         rt.cfg.Watch.Dir,
			Concurrency: rt.cfg.Watch.Concurrency,
			IgnoreDir:   rt.cfg.CacheDir,
		}, rt.svc, nil, rt.logger)
		g.Go(func() error { return w.Run(gctx) })
	}

	if err := g.Wait(); err != nil {
		rt.logger.Error().Err(err).Msg("server exited with error")
		return 1
	}
	return 0
}

func tracingService(enabled bool) string {
	if enabled {
		return "aacpress"
	}
	return ""
}
