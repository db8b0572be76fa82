// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Command aacpress compresses audio to AAC-in-MP4.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
)

var (
	version   = "v0.1.0"
	commit    = "none"
	buildDate = "unknown"
)

const usage = `usage: aacpress <command> [flags]

commands:
  compress     compress one or more files and print the output URIs
  serve        run the HTTP API
  watch        compress files dropped into a directory
  healthcheck  probe a running API server
  version      print version and exit

Run "aacpress <command> -h" for command flags.
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return 2
	}

	switch args[0] {
	case "compress":
		return runCompressCLI(ctx, args[1:], stdout, stderr)
	case "serve":
		return runServeCLI(ctx, args[1:], stderr)
	case "watch":
		return runWatchCLI(ctx, args[1:], stderr)
	case "healthcheck":
		return runHealthcheckCLI(args[1:], stdout, stderr)
	case "version", "-version", "--version":
		fmt.Fprintf(stdout, "%s (commit: %s, built: %s)\n", version, commit, buildDate)
		return 0
	case "help", "-h", "--help":
		fmt.Fprint(stdout, usage)
		return 0
	default:
		fmt.Fprintf(stderr, "unknown command %q\n\n%s", args[0], usage)
		return 2
	}
}
