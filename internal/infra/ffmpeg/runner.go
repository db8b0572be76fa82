// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/ManuGH/aacpress/internal/procgroup"
	"github.com/rs/zerolog"
)

// ErrEncoderMissing is returned when the ffmpeg build lacks a requested encoder.
var ErrEncoderMissing = errors.New("encoder not available in ffmpeg build")

// Executor runs ffmpeg.
type Executor struct {
	BinaryPath  string
	KillTimeout time.Duration
	Logger      zerolog.Logger

	encodersOnce sync.Once
	encoders     string
	encodersErr  error
}

// NewExecutor returns an executor for binaryPath ("ffmpeg" when empty).
func NewExecutor(binaryPath string, killTimeout time.Duration, logger zerolog.Logger) *Executor {
	if strings.TrimSpace(binaryPath) == "" {
		binaryPath = "ffmpeg"
	}
	if killTimeout <= 0 {
		killTimeout = 5 * time.Second
	}
	return &Executor{
		BinaryPath:  binaryPath,
		KillTimeout: killTimeout,
		Logger:      logger,
	}
}

// Run executes ffmpeg to completion. The error carries the tail of stderr.
func (e *Executor) Run(ctx context.Context, args []string) error {
	ring := NewLineRing(20)

	// #nosec G204 -- BinaryPath is trusted from config; args are built by this package
	cmd := exec.CommandContext(ctx, e.BinaryPath, args...)
	cmd.Stderr = ring
	procgroup.Set(cmd)
	cmd.Cancel = procgroup.CancelFunc(cmd)
	cmd.WaitDelay = e.KillTimeout

	start := time.Now()
	err := cmd.Run()
	e.Logger.Debug().
		Strs("args", args).
		Dur("elapsed", time.Since(start)).
		Err(err).
		Msg("ffmpeg run finished")
	if err != nil {
		return fmt.Errorf("ffmpeg: %w (stderr: %s)", err, ring.String())
	}
	return nil
}

// RequireEncoder checks `ffmpeg -encoders` once and reports whether name is listed.
func (e *Executor) RequireEncoder(ctx context.Context, name string) error {
	e.encodersOnce.Do(func() {
		probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		// #nosec G204 -- BinaryPath is trusted from config
		out, err := exec.CommandContext(probeCtx, e.BinaryPath, "-hide_banner", "-encoders").Output()
		if err != nil {
			e.encodersErr = fmt.Errorf("%w: ffmpeg -encoders failed: %v", ErrEncoderMissing, err)
			return
		}
		e.encoders = string(out)
	})
	if e.encodersErr != nil {
		return e.encodersErr
	}
	for _, line := range strings.Split(e.encoders, "\n") {
		fields := strings.Fields(line)
		if len(fields) >= 2 && fields[1] == name {
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrEncoderMissing, name)
}
