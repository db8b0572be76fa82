// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package transcode drives one source file through probe, encode and mux to
// a finished AAC-in-MP4 file.
//
// The loop is single threaded and cooperative: each iteration offers at most
// one input slot and polls for at most one output slot, both with a bounded
// wait. Unexpected slot states are charged against an error budget; every
// exit path runs the same cleanup.
package transcode

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/ManuGH/aacpress/internal/audio"
	"github.com/ManuGH/aacpress/internal/codec"
	xglog "github.com/ManuGH/aacpress/internal/log"
	"github.com/ManuGH/aacpress/internal/mux"
	"github.com/ManuGH/aacpress/internal/telemetry"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

var (
	// ErrTooManyErrors is returned when the error budget is exhausted.
	ErrTooManyErrors = errors.New("too many processing errors")
	// ErrEmptyOutput is returned when the loop finished but produced nothing.
	ErrEmptyOutput = errors.New("output file is missing or empty")
	// ErrDuplicateFormatChange is returned in strict mode for a second format change.
	ErrDuplicateFormatChange = errors.New("encoder output format changed twice")
	// ErrPanic wraps a panic recovered inside Run.
	ErrPanic = errors.New("transcode panicked")
)

const (
	DefaultMaxErrors    = 10
	DefaultPollTimeout  = 10 * time.Millisecond
	DefaultStallTimeout = 30 * time.Second
)

// Config bounds the encode loop.
type Config struct {
	MaxErrors   int
	PollTimeout time.Duration
	// StallTimeout charges one error when the encoder produces nothing for
	// this long. Zero disables the guard.
	StallTimeout       time.Duration
	StrictFormatChange bool
}

func (c Config) withDefaults() Config {
	if c.MaxErrors <= 0 {
		c.MaxErrors = DefaultMaxErrors
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = DefaultPollTimeout
	}
	if c.StallTimeout < 0 {
		c.StallTimeout = 0
	}
	return c
}

// Deps are the collaborators of an Orchestrator. Extractor and Observer are optional.
type Deps struct {
	Prober     Prober
	Resolver   *audio.Resolver
	NewEncoder func() EncoderSession
	NewWriter  func(path string) (ContainerWriter, error)
	Extractor  Extractor
	Observer   Observer
}

// Job is one transcode request.
type Job struct {
	ID         string
	SourcePath string
	OutputPath string
	Request    audio.CompressionRequest
	// ExtractPath, when set, runs the extraction pre-step into this temp file
	// and transcodes from it. The file is deleted during cleanup.
	ExtractPath string
}

// Result describes a finished transcode.
type Result struct {
	OutputPath string
	Source     audio.SourceAudioInfo
	Params     audio.ResolvedEncodingParams
	Format     codec.Format
	Frames     int64
	Bytes      int64
	Errors     int
	Extracted  bool
	Duration   time.Duration
}

// Orchestrator runs jobs. It holds no per-job state and may run jobs concurrently.
type Orchestrator struct {
	cfg    Config
	deps   Deps
	logger zerolog.Logger
	tracer trace.Tracer
}

// New returns an Orchestrator.
func New(cfg Config, deps Deps, logger zerolog.Logger) *Orchestrator {
	logger = logger.With().Str(xglog.FieldComponent, "transcode").Logger()
	if deps.Observer == nil {
		deps.Observer = NewLogObserver(logger, time.Second)
	}
	if deps.Resolver == nil {
		deps.Resolver = audio.NewResolver(logger)
	}
	return &Orchestrator{
		cfg:    cfg.withDefaults(),
		deps:   deps,
		logger: logger,
		tracer: telemetry.Tracer("transcode"),
	}
}

// handles are the resources acquired by one run, released by cleanup.
type handles struct {
	source   SampleSource
	encoder  EncoderSession
	writer   ContainerWriter
	tempPath string
	output   string
	finished bool
}

// Run transcodes job.SourcePath into job.OutputPath. On failure no output
// file is left behind.
func (o *Orchestrator) Run(ctx context.Context, job Job) (res Result, err error) {
	if job.ID != "" {
		ctx = xglog.ContextWithTranscodeID(ctx, job.ID)
	}
	start := time.Now()
	ctx, span := telemetry.StartStage(ctx, o.tracer, "transcode")

	h := &handles{output: job.OutputPath}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrPanic, r)
		}
		o.cleanup(ctx, h, err != nil)
		res.Duration = time.Since(start)
		if err != nil {
			o.deps.Observer.Failed(ctx, err, res.Duration)
			telemetry.EndStage(span, err, errorType(err))
			return
		}
		span.SetAttributes(telemetry.OutcomeAttributes(res.Frames, res.Errors, res.Bytes)...)
		o.deps.Observer.Completed(ctx, res)
		telemetry.EndStage(span, nil, "")
	}()

	res.OutputPath = job.OutputPath
	input := job.SourcePath

	if job.ExtractPath != "" {
		if o.deps.Extractor == nil {
			return res, errors.New("extraction requested without an extractor")
		}
		h.tempPath = job.ExtractPath
		sctx, s := telemetry.StartStage(ctx, o.tracer, "extract")
		err = o.deps.Extractor.ExtractAudioTrack(sctx, job.SourcePath, job.ExtractPath)
		telemetry.EndStage(s, err, "extraction")
		if err != nil {
			return res, err
		}
		input = job.ExtractPath
		res.Extracted = true
	}

	sctx, s := telemetry.StartStage(ctx, o.tracer, "probe")
	src, info, err := o.deps.Prober.Probe(sctx, input)
	telemetry.EndStage(s, err, "probe")
	if err != nil {
		return res, err
	}
	h.source = src
	res.Source = info
	o.deps.Observer.TrackSelected(ctx, input, info)
	span.SetAttributes(telemetry.SourceAttributes(info.MimeType, int(info.SampleRateHz), int(info.ChannelCount), int64(info.DurationMicros), res.Extracted)...)

	if q := job.Request.Quality; q != nil {
		info = info.WithEstimatedBitrate(input, *q)
	}
	params, err := o.deps.Resolver.Resolve(job.Request, info)
	if err != nil {
		return res, err
	}
	res.Params = params
	o.deps.Observer.ParamsResolved(ctx, params)
	span.SetAttributes(telemetry.EncodeAttributes(codec.MimeAAC, int(params.BitrateBps), int(params.SampleRateHz), int(params.ChannelCount))...)

	enc := o.deps.NewEncoder()
	h.encoder = enc
	if err = enc.Configure(ctx, params); err != nil {
		return res, err
	}
	if err = enc.Start(ctx); err != nil {
		return res, err
	}

	w, err := o.deps.NewWriter(job.OutputPath)
	if err != nil {
		return res, fmt.Errorf("create container: %w", err)
	}
	h.writer = w

	if err = src.StartDecoding(ctx, params.SampleRateHz, params.ChannelCount); err != nil {
		return res, fmt.Errorf("start source: %w", err)
	}

	sctx, s = telemetry.StartStage(ctx, o.tracer, "encode")
	stats, err := o.loop(sctx, src, enc, w)
	telemetry.EndStage(s, err, "encode")
	res.Frames, res.Errors, res.Format = stats.frames, stats.errors, stats.format
	if err != nil {
		return res, err
	}

	if err = w.Finish(); err != nil {
		return res, fmt.Errorf("finalize container: %w", err)
	}
	h.finished = true

	fi, statErr := os.Stat(job.OutputPath)
	switch {
	case statErr != nil:
		return res, fmt.Errorf("%w: %v", ErrEmptyOutput, statErr)
	case fi.Size() == 0 || res.Frames == 0:
		return res, fmt.Errorf("%w: %d bytes, %d frames", ErrEmptyOutput, fi.Size(), res.Frames)
	}
	res.Bytes = fi.Size()
	return res, nil
}

type loopStats struct {
	frames int64
	errors int
	format codec.Format
}

func (o *Orchestrator) loop(ctx context.Context, src SampleSource, enc EncoderSession, w ContainerWriter) (loopStats, error) {
	var (
		st            loopStats
		inputDone     bool
		outputDone    bool
		writerStarted bool
		track         mux.TrackID
		lastPTS       int64
		lastCause     error
		lastOutput    = time.Now()
		poll          = o.cfg.PollTimeout
	)

	charge := func(kind string, cause error) {
		st.errors++
		lastCause = cause
		o.deps.Observer.ProcessingError(ctx, kind, st.errors, cause)
	}

	for !outputDone {
		if st.errors >= o.cfg.MaxErrors {
			if lastCause != nil {
				return st, fmt.Errorf("%w (%d): last: %w", ErrTooManyErrors, st.errors, lastCause)
			}
			return st, fmt.Errorf("%w (%d)", ErrTooManyErrors, st.errors)
		}
		if err := ctx.Err(); err != nil {
			return st, err
		}

		if !inputDone {
			if idx := enc.AcquireInputSlot(poll); idx != codec.NoSlot {
				n, pts, err := src.ReadSample(enc.InputBuffer(idx))
				switch {
				case errors.Is(err, io.EOF):
					if err := enc.SubmitInput(idx, 0, lastPTS, true); err != nil {
						return st, fmt.Errorf("submit end of stream: %w", err)
					}
					inputDone = true
				case err != nil:
					return st, fmt.Errorf("read source: %w", err)
				default:
					if err := enc.SubmitInput(idx, n, pts, false); err != nil {
						return st, fmt.Errorf("submit input: %w", err)
					}
					lastPTS = pts
				}
			}
		}

		out := enc.AcquireOutputSlot(poll)
		switch out.Status {
		case codec.StatusPending:
			if o.cfg.StallTimeout > 0 && time.Since(lastOutput) >= o.cfg.StallTimeout {
				lastOutput = time.Now()
				charge("stall", fmt.Errorf("no encoder output for %s", o.cfg.StallTimeout))
			}

		case codec.StatusFormatChanged:
			lastOutput = time.Now()
			if writerStarted {
				o.deps.Observer.FormatChangedAgain(ctx, out.Format)
				if o.cfg.StrictFormatChange {
					return st, ErrDuplicateFormatChange
				}
				continue
			}
			id, err := w.Start(out.Format)
			if err != nil {
				return st, fmt.Errorf("start container: %w", err)
			}
			track, writerStarted, st.format = id, true, out.Format
			o.deps.Observer.FormatChanged(ctx, out.Format)

		case codec.StatusData:
			lastOutput = time.Now()
			info := out.Info
			var werr error
			switch {
			case info.Flags.Has(codec.FlagCodecConfig), info.Size == 0:
			case !writerStarted:
				o.logger.Warn().Int("size", info.Size).Msg("encoder output before format change, dropped")
			default:
				if werr = w.WriteSample(track, enc.OutputBuffer(out.Index), info); werr == nil {
					st.frames++
					o.deps.Observer.FrameMilestone(ctx, st.frames, info.PTSMicros)
				}
			}
			if err := enc.ReleaseOutput(out.Index); err != nil {
				return st, fmt.Errorf("release output slot %d: %w", out.Index, err)
			}
			if werr != nil {
				return st, fmt.Errorf("write sample: %w", werr)
			}
			if info.Flags.Has(codec.FlagEndOfStream) {
				outputDone = true
			}

		default:
			charge("unknown_slot", out.Err)
		}
	}
	return st, nil
}

// cleanup releases every acquired handle. Failures are reported, never returned.
func (o *Orchestrator) cleanup(ctx context.Context, h *handles, failed bool) {
	if h.source != nil {
		if err := h.source.Close(); err != nil {
			o.deps.Observer.CleanupFailed(ctx, "source", err)
		}
	}
	if h.encoder != nil {
		if err := h.encoder.Stop(); err != nil {
			o.deps.Observer.CleanupFailed(ctx, "encoder_stop", err)
		}
		if err := h.encoder.Release(); err != nil {
			o.deps.Observer.CleanupFailed(ctx, "encoder_release", err)
		}
	}
	if h.writer != nil {
		if err := h.writer.Release(); err != nil {
			o.deps.Observer.CleanupFailed(ctx, "writer", err)
		}
	}
	if failed && h.finished {
		removeFile(ctx, o.deps.Observer, "output", h.output)
	}
	if h.tempPath != "" {
		removeFile(ctx, o.deps.Observer, "temp_artifact", h.tempPath)
	}
}

func removeFile(ctx context.Context, obs Observer, resource, path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		obs.CleanupFailed(ctx, resource, err)
	}
}

func errorType(err error) string {
	switch {
	case errors.Is(err, ErrTooManyErrors):
		return "error_budget"
	case errors.Is(err, ErrEmptyOutput):
		return "empty_output"
	case errors.Is(err, ErrPanic):
		return "panic"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "transcode"
	}
}
