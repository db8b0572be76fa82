// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package probe locates the first usable audio stream of an input file and
// exposes it as a PCM sample source.
package probe

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ManuGH/aacpress/internal/audio"
	"github.com/ManuGH/aacpress/internal/infra/ffmpeg"
	xglog "github.com/ManuGH/aacpress/internal/log"
	"github.com/rs/zerolog"
)

var (
	// ErrNoAudioTrack is returned when no stream yields valid audio parameters.
	ErrNoAudioTrack = errors.New("no valid audio track")
	// ErrProbeFailed wraps failures to read the container at all.
	ErrProbeFailed = ffmpeg.ErrProbeFailed
)

// Runner produces the stream report for a file.
type Runner interface {
	Probe(ctx context.Context, path string) (*ffmpeg.ProbeResult, error)
}

// Prober selects the source stream.
type Prober struct {
	runner Runner
	exec   *ffmpeg.Executor
	logger zerolog.Logger
}

// New returns a prober. exec is used later by the returned tracks to decode.
func New(runner Runner, exec *ffmpeg.Executor, logger zerolog.Logger) *Prober {
	return &Prober{runner: runner, exec: exec, logger: logger}
}

// Probe opens path, walks its streams in container order and returns the first
// audio stream with a positive sample rate and channel count.
func (p *Prober) Probe(ctx context.Context, path string) (*Track, audio.SourceAudioInfo, error) {
	report, err := p.runner.Probe(ctx, path)
	if err != nil {
		return nil, audio.SourceAudioInfo{}, err
	}

	for _, s := range report.Streams {
		mime := MimeType(s.CodecType, s.CodecName)
		if !strings.HasPrefix(mime, "audio/") {
			continue
		}
		info, ok := p.streamInfo(path, report, s, mime)
		if !ok {
			continue
		}

		track := &Track{
			path:   path,
			info:   info,
			exec:   p.exec,
			logger: p.logger,
		}
		track.SelectTrack(s.Index)

		p.logger.Info().
			Str(xglog.FieldEvent, "track.selected").
			Str(xglog.FieldPath, path).
			Int(xglog.FieldStreamIndex, s.Index).
			Str(xglog.FieldMime, info.MimeType).
			Uint32(xglog.FieldSampleRate, info.SampleRateHz).
			Uint8(xglog.FieldChannels, info.ChannelCount).
			Uint32(xglog.FieldBitrate, info.BitrateBps).
			Msg("audio track selected")
		return track, info, nil
	}

	return nil, audio.SourceAudioInfo{}, fmt.Errorf("%w in %s (%d streams inspected)", ErrNoAudioTrack, path, len(report.Streams))
}

func (p *Prober) streamInfo(path string, report *ffmpeg.ProbeResult, s ffmpeg.ProbeStream, mime string) (audio.SourceAudioInfo, bool) {
	sampleRate, present := s.SampleRateHz()
	if !present {
		sampleRate = int64(audio.DefaultSampleRateHz)
		p.logger.Warn().
			Str(xglog.FieldPath, path).
			Int(xglog.FieldStreamIndex, s.Index).
			Int64(xglog.FieldSampleRate, sampleRate).
			Msg("container omits sample rate, substituting default")
	}
	channels, present := s.ChannelCount()
	if !present {
		channels = int(audio.DefaultChannelCount)
		p.logger.Warn().
			Str(xglog.FieldPath, path).
			Int(xglog.FieldStreamIndex, s.Index).
			Int(xglog.FieldChannels, channels).
			Msg("container omits channel count, substituting default")
	}

	if sampleRate <= 0 || channels <= 0 || sampleRate > 1_000_000 || channels > 255 {
		p.logger.Warn().
			Str(xglog.FieldPath, path).
			Int(xglog.FieldStreamIndex, s.Index).
			Int64(xglog.FieldSampleRate, sampleRate).
			Int(xglog.FieldChannels, channels).
			Msg("audio stream has invalid parameters, skipping")
		return audio.SourceAudioInfo{}, false
	}

	bitrate := s.BitRateBps()
	if bitrate > int64(^uint32(0)) {
		bitrate = 0
	}

	return audio.SourceAudioInfo{
		SampleRateHz:   uint32(sampleRate),
		ChannelCount:   uint8(channels),
		DurationMicros: report.DurationMicros(s),
		MimeType:       mime,
		BitrateBps:     uint32(bitrate),
	}, true
}

var audioMimes = map[string]string{
	"aac":       "audio/mp4a-latm",
	"mp3":       "audio/mpeg",
	"mp2":       "audio/mpeg-L2",
	"flac":      "audio/flac",
	"opus":      "audio/opus",
	"vorbis":    "audio/vorbis",
	"ac3":       "audio/ac3",
	"eac3":      "audio/eac3",
	"alac":      "audio/alac",
	"amr_nb":    "audio/3gpp",
	"amr_wb":    "audio/amr-wb",
	"pcm_mulaw": "audio/g711-mlaw",
	"pcm_alaw":  "audio/g711-alaw",
}

// MimeType maps an ffprobe codec type/name pair onto a MIME-style type tag.
// Audio streams always map into the "audio/" class.
func MimeType(codecType, codecName string) string {
	codecType = strings.ToLower(strings.TrimSpace(codecType))
	codecName = strings.ToLower(strings.TrimSpace(codecName))
	if codecType != "audio" {
		if codecType == "" {
			codecType = "application"
		}
		return codecType + "/" + codecName
	}
	if m, ok := audioMimes[codecName]; ok {
		return m
	}
	if strings.HasPrefix(codecName, "pcm_") {
		return "audio/raw"
	}
	if codecName == "" {
		return "audio/unknown"
	}
	return "audio/" + codecName
}
