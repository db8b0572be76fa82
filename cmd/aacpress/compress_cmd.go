// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"sync"

	"github.com/ManuGH/aacpress/internal/compress"
	"golang.org/x/sync/errgroup"
)

type compressFlags struct {
	configPath  string
	concurrency int
	options     map[string]any
	sources     []string
}

func parseCompressFlags(args []string, stderr io.Writer) (compressFlags, error) {
	fs := flag.NewFlagSet("compress", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "path to config file (YAML)")
	bitrate := fs.Int("bitrate", 0, "target bitrate in bps (0 = auto)")
	quality := fs.String("quality", "", "quality tier: low, medium or high")
	sampleRate := fs.Int("samplerate", 0, "output sample rate in Hz (0 = source)")
	channels := fs.Int("channels", 0, "output channels, 1 or 2 (0 = source)")
	concurrency := fs.Int("j", 2, "files compressed in parallel")

	if err := fs.Parse(args); err != nil {
		return compressFlags{}, err
	}
	if fs.NArg() == 0 {
		return compressFlags{}, fmt.Errorf("compress: at least one source file is required")
	}
	if *concurrency < 1 {
		*concurrency = 1
	}

	opts := map[string]any{}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "bitrate":
			opts[compress.OptBitrate] = *bitrate
		case "quality":
			opts[compress.OptQuality] = *quality
		case "samplerate":
			opts[compress.OptSampleRate] = *sampleRate
		case "channels":
			opts[compress.OptChannels] = *channels
		}
	})

	return compressFlags{
		configPath:  *configPath,
		concurrency: *concurrency,
		options:     opts,
		sources:     fs.Args(),
	}, nil
}

func runCompressCLI(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	flags, err := parseCompressFlags(args, stderr)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}

	rt, err := bootstrap(ctx, flags.configPath, stderr, "cli")
	if err != nil {
		fmt.Fprintf(stderr, "aacpress: %v\n", err)
		return 1
	}
	defer rt.shutdown()

	return compressAll(ctx, rt.svc, flags, stdout, stderr)
}

// audioCompressor is the CompressAudio entry point of compress.Service.
type audioCompressor interface {
	CompressAudio(ctx context.Context, source string, options map[string]any) (string, error)
}

// compressAll runs independent transcodes with bounded concurrency. One
// failure does not cancel the others.
func compressAll(ctx context.Context, svc audioCompressor, flags compressFlags, stdout, stderr io.Writer) int {
	var (
		g      errgroup.Group
		mu     sync.Mutex
		failed int
	)
	g.SetLimit(flags.concurrency)

	for _, src := range flags.sources {
		g.Go(func() error {
			uri, err := svc.CompressAudio(ctx, src, flags.options)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed++
				fmt.Fprintf(stderr, "%s\t%s\t%v\n", src, compress.CodeOf(err), err)
				return nil
			}
			fmt.Fprintf(stdout, "%s\t%s\n", src, uri)
			return nil
		})
	}
	_ = g.Wait()

	if failed > 0 {
		return 1
	}
	return 0
}
