// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package transcode

import (
	"context"
	"time"

	"github.com/ManuGH/aacpress/internal/audio"
	"github.com/ManuGH/aacpress/internal/codec"
	xglog "github.com/ManuGH/aacpress/internal/log"
	"github.com/ManuGH/aacpress/internal/metrics"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Observer receives the checkpoints of one transcode.
type Observer interface {
	TrackSelected(ctx context.Context, path string, info audio.SourceAudioInfo)
	ParamsResolved(ctx context.Context, params audio.ResolvedEncodingParams)
	FormatChanged(ctx context.Context, format codec.Format)
	// FormatChangedAgain reports an output format change after the container started.
	FormatChangedAgain(ctx context.Context, format codec.Format)
	FrameMilestone(ctx context.Context, frames int64, ptsMicros int64)
	ProcessingError(ctx context.Context, kind string, count int, err error)
	Completed(ctx context.Context, res Result)
	Failed(ctx context.Context, err error, elapsed time.Duration)
	CleanupFailed(ctx context.Context, resource string, err error)
}

// LogObserver routes checkpoints to zerolog and Prometheus.
type LogObserver struct {
	logger    zerolog.Logger
	milestone rate.Sometimes
}

// NewLogObserver logs frame milestones at most once per interval.
func NewLogObserver(logger zerolog.Logger, interval time.Duration) *LogObserver {
	if interval <= 0 {
		interval = time.Second
	}
	return &LogObserver{
		logger:    logger,
		milestone: rate.Sometimes{Interval: interval},
	}
}

func (o *LogObserver) log(ctx context.Context) *zerolog.Logger {
	l := xglog.WithContext(ctx, o.logger)
	return &l
}

func (o *LogObserver) TrackSelected(ctx context.Context, path string, info audio.SourceAudioInfo) {
	o.log(ctx).Info().
		Str(xglog.FieldEvent, "track.selected").
		Str(xglog.FieldPath, path).
		Str(xglog.FieldMime, info.MimeType).
		Uint32(xglog.FieldSampleRate, info.SampleRateHz).
		Uint8(xglog.FieldChannels, info.ChannelCount).
		Uint64("duration_us", info.DurationMicros).
		Msg("source track selected")
}

func (o *LogObserver) ParamsResolved(ctx context.Context, params audio.ResolvedEncodingParams) {
	o.log(ctx).Info().
		Str(xglog.FieldEvent, "params.resolved").
		Uint32(xglog.FieldBitrate, params.BitrateBps).
		Uint32(xglog.FieldSampleRate, params.SampleRateHz).
		Uint8(xglog.FieldChannels, params.ChannelCount).
		Msg("encoding parameters resolved")
}

func (o *LogObserver) FormatChanged(ctx context.Context, format codec.Format) {
	o.log(ctx).Info().
		Str(xglog.FieldEvent, "format.changed").
		Str(xglog.FieldCodec, format.MimeType).
		Uint32(xglog.FieldSampleRate, format.SampleRateHz).
		Uint8(xglog.FieldChannels, format.ChannelCount).
		Msg("encoder output format ready, container started")
}

func (o *LogObserver) FormatChangedAgain(ctx context.Context, format codec.Format) {
	metrics.IncProcessingError("format_changed_again")
	o.log(ctx).Warn().
		Str(xglog.FieldEvent, "format.changed_again").
		Str(xglog.FieldCodec, format.MimeType).
		Uint32(xglog.FieldSampleRate, format.SampleRateHz).
		Uint8(xglog.FieldChannels, format.ChannelCount).
		Msg("encoder output format changed after container start")
}

func (o *LogObserver) FrameMilestone(ctx context.Context, frames int64, ptsMicros int64) {
	o.milestone.Do(func() {
		o.log(ctx).Debug().
			Str(xglog.FieldEvent, "frames.milestone").
			Int64(xglog.FieldFrames, frames).
			Int64("pts_us", ptsMicros).
			Msg("encoding progress")
	})
}

func (o *LogObserver) ProcessingError(ctx context.Context, kind string, count int, err error) {
	metrics.IncProcessingError(kind)
	o.log(ctx).Warn().
		Str(xglog.FieldEvent, "processing.error").
		Str("kind", kind).
		Int("error_count", count).
		Err(err).
		Msg("processing error charged to budget")
}

func (o *LogObserver) Completed(ctx context.Context, res Result) {
	metrics.ObserveTranscode(true, res.Duration, res.Bytes)
	o.log(ctx).Info().
		Str(xglog.FieldEvent, "transcode.completed").
		Str(xglog.FieldOutputPath, res.OutputPath).
		Int64(xglog.FieldFrames, res.Frames).
		Int64(xglog.FieldBytes, res.Bytes).
		Int("errors", res.Errors).
		Dur("elapsed", res.Duration).
		Msg("transcode completed")
}

func (o *LogObserver) Failed(ctx context.Context, err error, elapsed time.Duration) {
	metrics.ObserveTranscode(false, elapsed, 0)
	o.log(ctx).Error().
		Str(xglog.FieldEvent, "transcode.failed").
		Err(err).
		Dur("elapsed", elapsed).
		Msg("transcode failed")
}

func (o *LogObserver) CleanupFailed(ctx context.Context, resource string, err error) {
	metrics.IncCleanupFailure(resource)
	o.log(ctx).Warn().
		Str(xglog.FieldEvent, "cleanup.failed").
		Str("resource", resource).
		Err(err).
		Msg("cleanup step failed")
}
