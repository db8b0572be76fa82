// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package mux writes a single AAC track into a fragmented MP4 file.
//
// The file only appears at its final path after Finish; until then it lives
// as a pending temp file next to it which Release discards.
package mux

import (
	"errors"
	"fmt"
	"time"

	"github.com/ManuGH/aacpress/internal/codec"
	xglog "github.com/ManuGH/aacpress/internal/log"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/fmp4"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/fmp4/seekablebuffer"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/mp4"
	"github.com/google/renameio/v2"
	"github.com/rs/zerolog"
)

var (
	ErrAlreadyStarted = errors.New("muxer already started")
	ErrNotStarted     = errors.New("muxer not started")
	ErrFinished       = errors.New("muxer already finished")
	ErrUnknownTrack   = errors.New("unknown track")
	ErrUnsupported    = errors.New("unsupported track format")
)

// TrackID identifies the output track returned by Start.
type TrackID int

const audioTrackID TrackID = 1

// Options tune fragmenting.
type Options struct {
	// FragmentDuration is the target media duration of one moof/mdat pair.
	FragmentDuration time.Duration
}

// Writer is a single-use container writer.
type Writer struct {
	path   string
	opts   Options
	logger zerolog.Logger

	pending  *renameio.PendingFile
	started  bool
	finished bool
	released bool

	timeScale uint32
	seq       uint32
	firstDTS  int64
	haveFirst bool

	prev     *fmp4.Sample
	prevDTS  int64
	frag     []*fmp4.Sample
	fragBase int64
	fragDur  uint64

	samples int64
	written int64
}

// NewWriter creates the pending output for path.
func NewWriter(path string, opts Options, logger zerolog.Logger) (*Writer, error) {
	if opts.FragmentDuration <= 0 {
		opts.FragmentDuration = time.Second
	}
	pending, err := renameio.NewPendingFile(path, renameio.WithPermissions(0o644))
	if err != nil {
		return nil, fmt.Errorf("create pending output: %w", err)
	}
	return &Writer{
		path:    path,
		opts:    opts,
		logger:  logger.With().Str(xglog.FieldComponent, "mux").Str(xglog.FieldOutputPath, path).Logger(),
		pending: pending,
		seq:     1,
	}, nil
}

// Path is the final output path.
func (w *Writer) Path() string { return w.path }

// Samples is the number of access units accepted so far.
func (w *Writer) Samples() int64 { return w.samples }

// Start creates the audio track from the encoder's final output format and
// writes the init segment. It may be called once.
func (w *Writer) Start(format codec.Format) (TrackID, error) {
	switch {
	case w.finished || w.released:
		return 0, ErrFinished
	case w.started:
		return 0, ErrAlreadyStarted
	case format.MimeType != codec.MimeAAC || format.SampleRateHz == 0:
		return 0, fmt.Errorf("%w: %s at %dHz", ErrUnsupported, format.MimeType, format.SampleRateHz)
	}

	w.timeScale = format.SampleRateHz
	init := &fmp4.Init{
		Tracks: []*fmp4.InitTrack{
			{
				ID:        int(audioTrackID),
				TimeScale: w.timeScale,
				Codec:     &mp4.CodecMPEG4Audio{Config: format.Config},
			},
		},
	}
	var buf seekablebuffer.Buffer
	if err := init.Marshal(&buf); err != nil {
		return 0, fmt.Errorf("marshal init segment: %w", err)
	}
	if err := w.write(buf.Bytes()); err != nil {
		return 0, err
	}

	w.started = true
	w.logger.Debug().
		Uint32(xglog.FieldSampleRate, format.SampleRateHz).
		Uint8(xglog.FieldChannels, format.ChannelCount).
		Msg("audio track added")
	return audioTrackID, nil
}

// WriteSample appends one access unit. data[info.Offset:info.Offset+info.Size]
// is copied; samples are stored in call order.
func (w *Writer) WriteSample(track TrackID, data []byte, info codec.BufferInfo) error {
	switch {
	case w.finished || w.released:
		return ErrFinished
	case !w.started:
		return ErrNotStarted
	case track != audioTrackID:
		return fmt.Errorf("%w: %d", ErrUnknownTrack, track)
	case info.Flags.Has(codec.FlagCodecConfig):
		return fmt.Errorf("%w: codec config is not a sample", ErrUnsupported)
	case info.Offset < 0 || info.Size <= 0 || info.Offset+info.Size > len(data):
		return fmt.Errorf("sample region %d+%d outside buffer of %d bytes", info.Offset, info.Size, len(data))
	}

	dts := scaleTimestampToTimescale(info.PTSMicros, w.timeScale)
	if !w.haveFirst {
		w.firstDTS = dts
		w.haveFirst = true
	}

	if w.prev != nil {
		if err := w.push(dts - w.prevDTS); err != nil {
			return err
		}
	}
	w.prev = &fmp4.Sample{
		Payload: append([]byte(nil), data[info.Offset:info.Offset+info.Size]...),
	}
	w.prevDTS = dts
	w.samples++
	return nil
}

// push closes the held sample with duration and appends it to the fragment.
func (w *Writer) push(duration int64) error {
	if duration <= 0 {
		duration = codec.SamplesPerFrame
	}
	w.prev.Duration = uint32(duration)
	if len(w.frag) == 0 {
		w.fragBase = w.prevDTS - w.firstDTS
		if w.fragBase < 0 {
			w.fragBase = 0
		}
	}
	w.frag = append(w.frag, w.prev)
	w.fragDur += uint64(duration)
	w.prev = nil

	if w.fragDur*uint64(time.Second) >= uint64(w.opts.FragmentDuration)*uint64(w.timeScale) {
		return w.flush()
	}
	return nil
}

func (w *Writer) flush() error {
	if len(w.frag) == 0 {
		return nil
	}
	part := &fmp4.Part{
		SequenceNumber: w.seq,
		Tracks: []*fmp4.PartTrack{
			{
				ID:       int(audioTrackID),
				BaseTime: uint64(w.fragBase),
				Samples:  w.frag,
			},
		},
	}
	var buf seekablebuffer.Buffer
	if err := part.Marshal(&buf); err != nil {
		return fmt.Errorf("marshal fragment %d: %w", w.seq, err)
	}
	if err := w.write(buf.Bytes()); err != nil {
		return err
	}
	w.logger.Trace().Uint32("seq", w.seq).Int("samples", len(w.frag)).Msg("fragment written")
	w.seq++
	w.frag = nil
	w.fragDur = 0
	return nil
}

func (w *Writer) write(b []byte) error {
	n, err := w.pending.Write(b)
	w.written += int64(n)
	if err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}

// Finish flushes the remaining samples and atomically moves the file to its
// final path. It must be called exactly once, after the last sample.
func (w *Writer) Finish() error {
	switch {
	case w.finished || w.released:
		return ErrFinished
	case !w.started:
		return ErrNotStarted
	}
	if w.prev != nil {
		if err := w.push(codec.SamplesPerFrame); err != nil {
			return err
		}
	}
	if err := w.flush(); err != nil {
		return err
	}
	if err := w.pending.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("commit output: %w", err)
	}
	w.finished = true
	w.logger.Debug().Int64(xglog.FieldFrames, w.samples).Int64(xglog.FieldBytes, w.written).Msg("container finalized")
	return nil
}

// Release discards the output unless Finish committed it. Idempotent.
func (w *Writer) Release() error {
	if w.released {
		return nil
	}
	w.released = true
	if w.finished {
		return nil
	}
	if err := w.pending.Cleanup(); err != nil {
		return fmt.Errorf("discard pending output: %w", err)
	}
	return nil
}

// scaleTimestampToTimescale converts microseconds into track timescale units,
// rounding to the nearest tick so truncated microsecond stamps map back onto
// whole sample counts.
func scaleTimestampToTimescale(timestampUs int64, timeScale uint32) int64 {
	if timestampUs <= 0 {
		return 0
	}
	return (timestampUs*int64(timeScale) + 500_000) / 1_000_000
}
