// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package transcode

import (
	"context"
	"time"

	"github.com/ManuGH/aacpress/internal/audio"
	"github.com/ManuGH/aacpress/internal/codec"
	"github.com/ManuGH/aacpress/internal/mux"
	"github.com/ManuGH/aacpress/internal/probe"
	"github.com/rs/zerolog"
)

// SampleSource yields PCM of the selected source track.
type SampleSource interface {
	StartDecoding(ctx context.Context, sampleRate uint32, channels uint8) error
	// ReadSample fills buf and returns the byte count and presentation time.
	// It returns io.EOF when the track is exhausted.
	ReadSample(buf []byte) (int, int64, error)
	Close() error
}

// Prober selects the source track.
type Prober interface {
	Probe(ctx context.Context, path string) (SampleSource, audio.SourceAudioInfo, error)
}

// EncoderSession is the buffer-exchange contract of codec.Session.
type EncoderSession interface {
	Configure(ctx context.Context, params audio.ResolvedEncodingParams) error
	Start(ctx context.Context) error
	AcquireInputSlot(timeout time.Duration) int
	InputBuffer(index int) []byte
	SubmitInput(index, size int, ptsMicros int64, eos bool) error
	AcquireOutputSlot(timeout time.Duration) codec.OutputResult
	OutputBuffer(index int) []byte
	ReleaseOutput(index int) error
	Stop() error
	Release() error
}

// ContainerWriter is the contract of mux.Writer.
type ContainerWriter interface {
	Start(format codec.Format) (mux.TrackID, error)
	WriteSample(track mux.TrackID, data []byte, info codec.BufferInfo) error
	Finish() error
	Release() error
}

// Extractor copies the audio track out of an audio+video container.
type Extractor interface {
	ExtractAudioTrack(ctx context.Context, inputPath, outputPath string) error
}

// TrackProber adapts probe.Prober to Prober.
type TrackProber struct {
	Prober *probe.Prober
}

func (p TrackProber) Probe(ctx context.Context, path string) (SampleSource, audio.SourceAudioInfo, error) {
	track, info, err := p.Prober.Probe(ctx, path)
	if err != nil {
		return nil, info, err
	}
	return track, info, nil
}

// SessionFactory returns a factory of codec sessions sharing launcher.
func SessionFactory(launcher codec.Launcher, opts codec.Options, logger zerolog.Logger) func() EncoderSession {
	return func() EncoderSession {
		return codec.NewSession(launcher, opts, logger)
	}
}

// WriterFactory returns a factory of mux writers.
func WriterFactory(opts mux.Options, logger zerolog.Logger) func(path string) (ContainerWriter, error) {
	return func(path string) (ContainerWriter, error) {
		w, err := mux.NewWriter(path, opts, logger)
		if err != nil {
			return nil, err
		}
		return w, nil
	}
}
