// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"context"
	"flag"
	"fmt"
	"io"

	"github.com/ManuGH/aacpress/internal/watch"
)

func runWatchCLI(ctx context.Context, args []string, stderr io.Writer) int {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "path to config file (YAML)")
	dir := fs.String("dir", "", "directory to watch (overrides watch.dir)")
	existing := fs.Bool("existing", false, "also compress files already in the directory")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	rt, err := bootstrap(ctx, *configPath, stderr, "watch")
	if err != nil {
		fmt.Fprintf(stderr, "aacpress: %v\n", err)
		return 1
	}
	defer rt.shutdown()

	target := rt.cfg.Watch.Dir
	if *dir != "" {
		target = *dir
	}
	if target == "" {
		fmt.Fprintln(stderr, "watch: no directory (set -dir or watch.dir)")
		return 2
	}

	w := watch.New(watch.Config{
		Dir:          target,
		Concurrency:  rt.cfg.Watch.Concurrency,
		IgnoreDir:    rt.cfg.CacheDir,
		ScanExisting: *existing,
	}, rt.svc, nil, rt.logger)
	if err := w.Run(ctx); err != nil {
		rt.logger.Error().Err(err).Msg("watch exited with error")
		return 1
	}
	return 0
}
