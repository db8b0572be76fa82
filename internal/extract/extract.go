// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package extract copies the audio track out of audio+video containers.
package extract

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ManuGH/aacpress/internal/infra/ffmpeg"
	xglog "github.com/ManuGH/aacpress/internal/log"
	"github.com/rs/zerolog"
)

// ErrExtractionFailed is returned when no audio track could be copied out.
var ErrExtractionFailed = errors.New("audio extraction failed")

// ArtifactExt is the extension of extracted audio files (Matroska audio).
const ArtifactExt = ".mka"

var containerExts = map[string]struct{}{
	".mp4": {}, ".m4v": {}, ".mov": {}, ".3gp": {}, ".mkv": {}, ".webm": {}, ".avi": {},
}

// NeedsExtraction reports whether path names a container that may carry video.
func NeedsExtraction(path string) bool {
	_, ok := containerExts[strings.ToLower(filepath.Ext(path))]
	return ok
}

// Runner executes one ffmpeg invocation to completion.
type Runner interface {
	Run(ctx context.Context, args []string) error
}

// Extractor runs the stream copy.
type Extractor struct {
	runner Runner
	logger zerolog.Logger
}

// New returns an Extractor.
func New(runner Runner, logger zerolog.Logger) *Extractor {
	return &Extractor{runner: runner, logger: logger.With().Str(xglog.FieldComponent, "extract").Logger()}
}

// ExtractAudioTrack copies the first audio stream of inputPath into
// outputPath without re-encoding. On failure outputPath does not exist.
func (e *Extractor) ExtractAudioTrack(ctx context.Context, inputPath, outputPath string) error {
	if err := e.runner.Run(ctx, ffmpeg.ExtractArgs(inputPath, outputPath)); err != nil {
		e.discard(outputPath)
		return fmt.Errorf("%w: %s: %v", ErrExtractionFailed, filepath.Base(inputPath), err)
	}

	fi, err := os.Stat(outputPath)
	switch {
	case err != nil:
		return fmt.Errorf("%w: %s: no output: %v", ErrExtractionFailed, filepath.Base(inputPath), err)
	case fi.Size() == 0:
		e.discard(outputPath)
		return fmt.Errorf("%w: %s: empty output", ErrExtractionFailed, filepath.Base(inputPath))
	}

	e.logger.Debug().
		Str(xglog.FieldSourcePath, inputPath).
		Str(xglog.FieldTempPath, outputPath).
		Int64(xglog.FieldBytes, fi.Size()).
		Msg("audio track extracted")
	return nil
}

func (e *Extractor) discard(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		e.logger.Warn().Err(err).Str(xglog.FieldTempPath, path).Msg("failed to remove partial extraction")
	}
}
