// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package probe

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/ManuGH/aacpress/internal/audio"
	"github.com/ManuGH/aacpress/internal/infra/ffmpeg"
	"github.com/rs/zerolog"
)

var (
	// ErrNotSelected is returned when reading before a stream was selected.
	ErrNotSelected = errors.New("no track selected")
	// ErrNotDecoding is returned when reading before StartDecoding.
	ErrNotDecoding = errors.New("track decoding not started")
)

// Track is the handle to the selected source stream. Reads yield interleaved
// s16le PCM of that stream only, converted to the format passed to StartDecoding.
type Track struct {
	path     string
	info     audio.SourceAudioInfo
	index    int
	selected bool

	exec   *ffmpeg.Executor
	logger zerolog.Logger
	proc   *ffmpeg.Process

	pcm        io.Reader
	frameBytes int
	sampleRate uint32
	frames     uint64
	eof        bool
	closed     bool
}

// SelectTrack restricts subsequent reads to the stream at index.
func (t *Track) SelectTrack(index int) {
	t.index = index
	t.selected = true
}

// StreamIndex is the container index of the selected stream.
func (t *Track) StreamIndex() int { return t.index }

// Info returns the probed parameters of the selected stream.
func (t *Track) Info() audio.SourceAudioInfo { return t.info }

// StartDecoding begins producing PCM at sampleRate/channels.
func (t *Track) StartDecoding(ctx context.Context, sampleRate uint32, channels uint8) error {
	if !t.selected {
		return ErrNotSelected
	}
	if t.pcm != nil {
		return nil
	}
	if sampleRate == 0 || channels == 0 {
		return fmt.Errorf("invalid decode format %dHz/%dch", sampleRate, channels)
	}
	proc, err := t.exec.StartPiped(ctx, ffmpeg.DecodeArgs(t.path, t.index, sampleRate, channels), false)
	if err != nil {
		return fmt.Errorf("start decoder for stream %d: %w", t.index, err)
	}
	t.proc = proc
	t.attach(proc.Stdout, sampleRate, channels)
	return nil
}

func (t *Track) attach(r io.Reader, sampleRate uint32, channels uint8) {
	t.pcm = r
	t.sampleRate = sampleRate
	t.frameBytes = int(channels) * ffmpeg.PCMBytesPerSample
}

// FrameBytes is the size of one interleaved PCM frame.
func (t *Track) FrameBytes() int { return t.frameBytes }

// ReadSample fills buf with whole PCM frames and returns the byte count and
// the presentation time of the first frame. It returns io.EOF once the stream
// is exhausted; a short final chunk is returned with a nil error first.
func (t *Track) ReadSample(buf []byte) (int, int64, error) {
	if t.pcm == nil {
		return 0, 0, ErrNotDecoding
	}
	if t.eof {
		return 0, 0, io.EOF
	}
	want := len(buf) - len(buf)%t.frameBytes
	if want == 0 {
		return 0, 0, io.ErrShortBuffer
	}

	n, err := io.ReadFull(t.pcm, buf[:want])
	switch {
	case err == nil:
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		t.eof = true
		if procErr := t.decoderExitErr(); procErr != nil {
			return 0, 0, procErr
		}
	default:
		return 0, 0, fmt.Errorf("read pcm: %w", err)
	}

	n -= n % t.frameBytes
	if n == 0 {
		return 0, 0, io.EOF
	}
	pts := t.pts()
	t.frames += uint64(n / t.frameBytes)
	return n, pts, nil
}

func (t *Track) pts() int64 {
	return int64(t.frames * 1_000_000 / uint64(t.sampleRate))
}

// decoderExitErr waits for the decoder to be reaped after EOF and reports a
// non-zero exit, which means the PCM stream was truncated.
func (t *Track) decoderExitErr() error {
	if t.proc == nil {
		return nil
	}
	<-t.proc.Exited()
	if err := t.proc.ExitErr(); err != nil {
		return fmt.Errorf("decoder failed: %w", err)
	}
	return nil
}

// Close stops the decoder. Safe to call more than once and before StartDecoding.
func (t *Track) Close() error {
	if t.closed {
		return nil
	}
	t.closed = true
	if t.proc == nil {
		return nil
	}
	if t.eof {
		// Already exited; reap without signalling.
		return t.proc.Stop()
	}
	// Stopped early: a signalled exit is expected.
	_ = t.proc.Stop()
	return nil
}
