// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package compress is the entry point: it validates the caller's source and
// options, picks output and temp paths and runs the transcode.
package compress

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ManuGH/aacpress/internal/audio"
	"github.com/ManuGH/aacpress/internal/codec"
	"github.com/ManuGH/aacpress/internal/extract"
	"github.com/ManuGH/aacpress/internal/health"
	"github.com/ManuGH/aacpress/internal/infra/ffmpeg"
	xglog "github.com/ManuGH/aacpress/internal/log"
	"github.com/ManuGH/aacpress/internal/mux"
	"github.com/ManuGH/aacpress/internal/probe"
	"github.com/ManuGH/aacpress/internal/transcode"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Config wires a Service.
type Config struct {
	CacheDir    string
	FFmpegBin   string
	FFprobeBin  string
	KillTimeout time.Duration
	Transcode   transcode.Config
	// ProbeRunner overrides ffprobe; nil uses FFprobeBin.
	ProbeRunner probe.Runner
	// Observer overrides the default log/metrics observer.
	Observer transcode.Observer
}

// Result of a successful compression.
type Result struct {
	OutputPath string
	OutputURI  string
	Source     audio.SourceAudioInfo
	Params     audio.ResolvedEncodingParams
	Duration   time.Duration
	Bytes      int64
}

// Service compresses files. Safe for concurrent use; each call owns its own
// prober, encoder and writer handles.
type Service struct {
	cacheDir string
	orch     *transcode.Orchestrator
	exec     *ffmpeg.Executor
	logger   zerolog.Logger
}

// NewService builds the ffmpeg-backed pipeline.
func NewService(cfg Config, logger zerolog.Logger) (*Service, error) {
	logger = logger.With().Str(xglog.FieldComponent, "compress").Logger()
	if cfg.CacheDir == "" {
		return nil, errors.New("cache dir is required")
	}
	if err := os.MkdirAll(cfg.CacheDir, 0o750); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}

	exec := ffmpeg.NewExecutor(cfg.FFmpegBin, cfg.KillTimeout, logger)
	runner := cfg.ProbeRunner
	if runner == nil {
		runner = ffmpeg.NewProber(cfg.FFprobeBin, logger)
	}

	orch := transcode.New(cfg.Transcode, transcode.Deps{
		Prober:     transcode.TrackProber{Prober: probe.New(runner, exec, logger)},
		Resolver:   audio.NewResolver(logger),
		NewEncoder: transcode.SessionFactory(codec.FFmpegLauncher{Exec: exec}, codec.DefaultOptions(), logger),
		NewWriter:  transcode.WriterFactory(mux.Options{}, logger),
		Extractor:  extract.New(exec, logger),
		Observer:   cfg.Observer,
	}, logger)

	return &Service{cacheDir: cfg.CacheDir, orch: orch, exec: exec, logger: logger}, nil
}

// ReadinessCheckers reports what must hold before new work is accepted.
func (s *Service) ReadinessCheckers() []health.Checker {
	checkers := []health.Checker{health.NewDirChecker("cache_dir", s.cacheDir)}
	if s.exec != nil {
		checkers = append(checkers, health.NewFuncChecker("aac_encoder", func(ctx context.Context) error {
			return s.exec.RequireEncoder(ctx, codec.EncoderName)
		}))
	}
	return checkers
}

// NewServiceWith uses a prepared orchestrator.
func NewServiceWith(cacheDir string, orch *transcode.Orchestrator, logger zerolog.Logger) *Service {
	return &Service{cacheDir: cacheDir, orch: orch, logger: logger.With().Str(xglog.FieldComponent, "compress").Logger()}
}

// CompressAudio compresses the file at source (path or file:// URI) using
// the options bag and returns the file:// URI of the output.
func (s *Service) CompressAudio(ctx context.Context, source string, options map[string]any) (string, error) {
	req, err := ParseOptions(options, s.logger)
	if err != nil {
		return "", err
	}
	res, err := s.Compress(ctx, source, req)
	if err != nil {
		return "", err
	}
	return res.OutputURI, nil
}

// Compress validates source and runs one transcode. Errors are *Error.
func (s *Service) Compress(ctx context.Context, source string, req audio.CompressionRequest) (res Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = newError(CodeUnexpected, "unexpected failure", fmt.Errorf("panic: %v", r))
		}
	}()

	if source == "" {
		return res, newError(CodeInvalidInput, "source is required", nil)
	}
	path, ok := ResolveRealPath(source)
	if !ok {
		return res, newError(CodeInvalidPath, fmt.Sprintf("cannot resolve %q to a file path", source), nil)
	}
	if err := checkReadable(path); err != nil {
		return res, err
	}

	id := uuid.NewString()
	job := transcode.Job{
		ID:         id,
		SourcePath: path,
		OutputPath: GenerateCachePath(s.cacheDir, OutputExt),
		Request:    req,
	}
	if extract.NeedsExtraction(path) {
		job.ExtractPath = GenerateCachePath(s.cacheDir, extract.ArtifactExt)
	}

	ctx = xglog.ContextWithTranscodeID(ctx, id)
	s.logger.Debug().
		Str(xglog.FieldTranscodeID, id).
		Str(xglog.FieldSourcePath, path).
		Str(xglog.FieldOutputPath, job.OutputPath).
		Bool("extract", job.ExtractPath != "").
		Msg("compression requested")

	out, runErr := s.orch.Run(ctx, job)
	if runErr != nil {
		if rmErr := os.Remove(job.OutputPath); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			s.logger.Warn().Err(rmErr).Str(xglog.FieldOutputPath, job.OutputPath).Msg("failed to remove output after failure")
		}
		return res, classify(runErr)
	}

	return Result{
		OutputPath: out.OutputPath,
		OutputURI:  FileURI(out.OutputPath),
		Source:     out.Source,
		Params:     out.Params,
		Duration:   out.Duration,
		Bytes:      out.Bytes,
	}, nil
}

func checkReadable(path string) error {
	fi, err := os.Stat(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return newError(CodeFileNotFound, fmt.Sprintf("%s does not exist", path), err)
	case err != nil:
		return newError(CodeFileNotReadable, fmt.Sprintf("cannot stat %s", path), err)
	case fi.IsDir():
		return newError(CodeFileNotReadable, fmt.Sprintf("%s is a directory", path), nil)
	}
	f, err := os.Open(path) // #nosec G304 -- caller-supplied source is the point
	if err != nil {
		return newError(CodeFileNotReadable, fmt.Sprintf("cannot open %s", path), err)
	}
	_ = f.Close()
	return nil
}
