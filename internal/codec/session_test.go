// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package codec

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/ManuGH/aacpress/internal/audio"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/mpeg4audio"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

const pollTimeout = 50 * time.Millisecond

// buildADTS frames au with an AAC-LC header without CRC.
func buildADTS(sampleIndex, channels int, au []byte) []byte {
	l := adtsHeaderLen + len(au)
	h := []byte{
		0xFF,
		0xF1,
		byte(1<<6 | sampleIndex<<2 | channels>>2),
		byte((channels&0x03)<<6 | (l>>11)&0x03),
		byte(l >> 3),
		byte((l&0x07)<<5 | 0x1F),
		0xFC,
	}
	return append(h, au...)
}

// fakeEncoder emits one ADTS frame per SamplesPerFrame PCM frames read.
type fakeEncoder struct {
	inR  *io.PipeReader
	inW  *io.PipeWriter
	outR *io.PipeReader
	outW *io.PipeWriter
	done chan struct{}

	exitErr  error
	stopOnce sync.Once
	stops    int
}

func newFakeEncoder(sampleIndex, channels int, exitErr error) *fakeEncoder {
	f := &fakeEncoder{done: make(chan struct{}), exitErr: exitErr}
	f.inR, f.inW = io.Pipe()
	f.outR, f.outW = io.Pipe()
	chunk := SamplesPerFrame * channels * 2

	go func() {
		defer close(f.done)
		defer f.outW.Close()
		buf := make([]byte, chunk)
		seq := byte(0)
		for {
			n, err := io.ReadFull(f.inR, buf)
			if n > 0 {
				au := bytes.Repeat([]byte{seq}, 16)
				seq++
				if _, werr := f.outW.Write(buildADTS(sampleIndex, channels, au)); werr != nil {
					return
				}
			}
			if err != nil {
				return
			}
		}
	}()
	return f
}

func (f *fakeEncoder) Input() io.WriteCloser { return f.inW }
func (f *fakeEncoder) Output() io.Reader     { return f.outR }

func (f *fakeEncoder) Wait() error {
	<-f.done
	return f.exitErr
}

func (f *fakeEncoder) Stop() error {
	f.stopOnce.Do(func() {
		f.stops++
		_ = f.inW.Close()
		_ = f.outR.Close()
		<-f.done
	})
	return nil
}

type fakeLauncher struct {
	missing bool
	enc     *fakeEncoder
	args    []string
}

func (l *fakeLauncher) RequireEncoder(context.Context, string) error {
	if l.missing {
		return errors.New(`encoder "aac" not found`)
	}
	return nil
}

func (l *fakeLauncher) Launch(_ context.Context, args []string) (Process, error) {
	l.args = args
	return l.enc, nil
}

var mono44k = audio.ResolvedEncodingParams{BitrateBps: 128000, SampleRateHz: 44100, ChannelCount: 1}

func startSession(t *testing.T, enc *fakeEncoder) *Session {
	t.Helper()
	s := NewSession(&fakeLauncher{enc: enc}, Options{InputSlots: 2, OutputSlots: 4, InputSlotFrames: SamplesPerFrame}, zerolog.Nop())
	require.NoError(t, s.Configure(context.Background(), mono44k))
	require.NoError(t, s.Start(context.Background()))
	return s
}

type drained struct {
	formats []Format
	buffers []BufferInfo
	payload [][]byte
}

// pump feeds frames PCM slots, then EOS, and drains until the EOS buffer.
func pump(t *testing.T, s *Session, frames int) drained {
	t.Helper()
	var out drained
	fed := 0
	eos := false
	deadline := time.Now().Add(5 * time.Second)

	for time.Now().Before(deadline) {
		if !eos {
			if idx := s.AcquireInputSlot(pollTimeout); idx != NoSlot {
				if fed == frames {
					require.NoError(t, s.SubmitInput(idx, 0, 0, true))
					eos = true
				} else {
					buf := s.InputBuffer(idx)
					require.Len(t, buf, SamplesPerFrame*2)
					require.NoError(t, s.SubmitInput(idx, len(buf), int64(fed)*23219, false))
					fed++
				}
			}
		}

		r := s.AcquireOutputSlot(pollTimeout)
		switch r.Status {
		case StatusPending:
		case StatusFormatChanged:
			out.formats = append(out.formats, r.Format)
		case StatusData:
			out.buffers = append(out.buffers, r.Info)
			out.payload = append(out.payload, append([]byte(nil), s.OutputBuffer(r.Index)...))
			require.NoError(t, s.ReleaseOutput(r.Index))
			if r.Info.Flags.Has(FlagEndOfStream) {
				return out
			}
		default:
			t.Fatalf("unexpected status %s: %v", r.Status, r.Err)
		}
	}
	t.Fatal("encoder did not reach end of stream")
	return out
}

func TestSession_EncodesToEndOfStream(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	s := startSession(t, newFakeEncoder(4, 1, nil))
	out := pump(t, s, 5)

	require.Len(t, out.formats, 1)
	f := out.formats[0]
	assert.Equal(t, MimeAAC, f.MimeType)
	assert.Equal(t, uint32(44100), f.SampleRateHz)
	assert.Equal(t, uint8(1), f.ChannelCount)
	assert.Equal(t, mpeg4audio.ObjectTypeAACLC, f.Config.Type)

	// codec config, 5 access units, end of stream
	require.Len(t, out.buffers, 7)
	assert.True(t, out.buffers[0].Flags.Has(FlagCodecConfig))
	csd, err := f.CodecConfig()
	require.NoError(t, err)
	assert.Equal(t, csd, out.payload[0])

	for i := 1; i <= 5; i++ {
		info := out.buffers[i]
		assert.Zero(t, info.Flags)
		assert.Equal(t, 16, info.Size)
		assert.Equal(t, int64(i-1)*SamplesPerFrame*1_000_000/44100, info.PTSMicros)
		assert.Equal(t, bytes.Repeat([]byte{byte(i - 1)}, 16), out.payload[i])
	}
	last := out.buffers[6]
	assert.True(t, last.Flags.Has(FlagEndOfStream))
	assert.Zero(t, last.Size)
	assert.Equal(t, StateEndOfStream, s.State())

	require.NoError(t, s.Stop())
	require.NoError(t, s.Release())
	assert.Equal(t, StateReleased, s.State())
	assert.Contains(t, s.History(), StateFeeding)
	assert.Contains(t, s.History(), StateDraining)
}

func TestSession_LaunchArgs(t *testing.T) {
	enc := newFakeEncoder(4, 1, nil)
	l := &fakeLauncher{enc: enc}
	s := NewSession(l, Options{}, zerolog.Nop())
	require.NoError(t, s.Configure(context.Background(), mono44k))
	require.NoError(t, s.Start(context.Background()))
	defer s.Release()

	assert.Subset(t, l.args, []string{"-c:a", "aac", "-b:a", "128000", "-ar", "44100", "-ac", "1", "-f", "adts"})
}

func TestSession_EncoderUnavailable(t *testing.T) {
	s := NewSession(&fakeLauncher{missing: true}, Options{}, zerolog.Nop())
	err := s.Configure(context.Background(), mono44k)
	require.ErrorIs(t, err, ErrEncoderUnavailable)
	assert.Equal(t, StateCreated, s.State())

	// Teardown from a partially configured session is safe.
	require.NoError(t, s.Stop())
	require.NoError(t, s.Release())
	require.NoError(t, s.Release())
	assert.Equal(t, StateReleased, s.State())
}

func TestSession_RejectsIllegalParams(t *testing.T) {
	s := NewSession(&fakeLauncher{}, Options{}, zerolog.Nop())
	err := s.Configure(context.Background(), audio.ResolvedEncodingParams{BitrateBps: 128000, SampleRateHz: 12345, ChannelCount: 2})
	require.ErrorIs(t, err, audio.ErrInvalidParams)
}

func TestSession_LifecycleOrdering(t *testing.T) {
	s := NewSession(&fakeLauncher{enc: newFakeEncoder(4, 1, nil)}, Options{}, zerolog.Nop())

	require.ErrorIs(t, s.Start(context.Background()), ErrInvalidState)
	assert.Equal(t, NoSlot, s.AcquireInputSlot(time.Millisecond))
	r := s.AcquireOutputSlot(time.Millisecond)
	assert.Equal(t, StatusUnknown, r.Status)
	require.ErrorIs(t, r.Err, ErrInvalidState)

	require.NoError(t, s.Configure(context.Background(), mono44k))
	require.ErrorIs(t, s.Configure(context.Background(), mono44k), ErrInvalidState)
	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Release())
}

func TestSession_SlotContracts(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	s := startSession(t, newFakeEncoder(4, 1, nil))
	defer s.Release()

	require.ErrorIs(t, s.SubmitInput(99, 0, 0, false), ErrSlotOutOfRange)
	require.ErrorIs(t, s.SubmitInput(0, 0, 0, false), ErrInvalidState, "slot not acquired")
	require.ErrorIs(t, s.ReleaseOutput(-1), ErrSlotOutOfRange)
	require.ErrorIs(t, s.ReleaseOutput(0), ErrInvalidState, "slot not held")
	assert.Nil(t, s.InputBuffer(0))

	a := s.AcquireInputSlot(pollTimeout)
	b := s.AcquireInputSlot(pollTimeout)
	require.NotEqual(t, NoSlot, a)
	require.NotEqual(t, NoSlot, b)
	assert.Equal(t, NoSlot, s.AcquireInputSlot(5*time.Millisecond), "pool exhausted")

	require.ErrorIs(t, s.SubmitInput(a, SamplesPerFrame*2+1, 0, false), ErrInvalidState)
	require.NoError(t, s.SubmitInput(a, 0, 0, true))
	require.ErrorIs(t, s.SubmitInput(b, 0, 0, false), ErrInvalidState, "input after end of stream")
	assert.Equal(t, NoSlot, s.AcquireInputSlot(5*time.Millisecond))
}

func TestSession_InputWaitYieldsToQueuedOutput(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	s := startSession(t, newFakeEncoder(4, 1, nil))
	defer s.Release()

	a := s.AcquireInputSlot(pollTimeout)
	b := s.AcquireInputSlot(pollTimeout)
	require.NotEqual(t, NoSlot, a)
	require.NotEqual(t, NoSlot, b)
	require.NoError(t, s.SubmitInput(a, len(s.InputBuffer(a)), 0, false))

	require.Eventually(t, func() bool {
		return len(s.freeIn) == 1 && len(s.ready) > 0
	}, 2*time.Second, time.Millisecond)
	require.Equal(t, a, s.AcquireInputSlot(pollTimeout))

	// Both slots held, output queued: the wait must not run to its timeout.
	start := time.Now()
	assert.Equal(t, NoSlot, s.AcquireInputSlot(2*time.Second))
	assert.Less(t, time.Since(start), 500*time.Millisecond)

	r := s.AcquireOutputSlot(pollTimeout)
	assert.NotEqual(t, StatusPending, r.Status)
}

func TestSession_ProcessFailureIsSticky(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	s := startSession(t, newFakeEncoder(4, 1, errors.New("exit status 1")))

	idx := s.AcquireInputSlot(pollTimeout)
	require.NotEqual(t, NoSlot, idx)
	require.NoError(t, s.SubmitInput(idx, 0, 0, true))

	var unknown int
	deadline := time.Now().Add(5 * time.Second)
	for unknown < 3 && time.Now().Before(deadline) {
		r := s.AcquireOutputSlot(pollTimeout)
		switch r.Status {
		case StatusUnknown:
			require.ErrorIs(t, r.Err, ErrEncoderFailed)
			unknown++
		case StatusData:
			require.NoError(t, s.ReleaseOutput(r.Index))
		}
	}
	assert.Equal(t, 3, unknown)
	require.ErrorIs(t, s.Err(), ErrEncoderFailed)
	assert.Equal(t, NoSlot, s.AcquireInputSlot(time.Millisecond))

	require.NoError(t, s.Release())
}

func TestSession_StopBeforeDrainReleasesGoroutines(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	enc := newFakeEncoder(3, 2, nil)
	s := NewSession(&fakeLauncher{enc: enc}, Options{OutputSlots: 1, InputSlotFrames: SamplesPerFrame}, zerolog.Nop())
	require.NoError(t, s.Configure(context.Background(), audio.ResolvedEncodingParams{BitrateBps: 256000, SampleRateHz: 48000, ChannelCount: 2}))
	require.NoError(t, s.Start(context.Background()))

	// Feed without draining so the reader blocks on the single output slot.
	for i := 0; i < 3; i++ {
		idx := s.AcquireInputSlot(pollTimeout)
		if idx == NoSlot {
			continue
		}
		require.NoError(t, s.SubmitInput(idx, len(s.InputBuffer(idx)), 0, false))
	}

	require.NoError(t, s.Stop())
	require.NoError(t, s.Stop())
	require.NoError(t, s.Release())
	assert.Equal(t, 1, enc.stops)
	assert.Equal(t, StateReleased, s.State())
}

func TestADTSReader(t *testing.T) {
	var stream []byte
	stream = append(stream, buildADTS(3, 2, []byte{1, 2, 3})...)
	stream = append(stream, buildADTS(3, 2, []byte{4, 5})...)

	r := newADTSReader(bytes.NewReader(stream))
	f, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, 48000, f.sampleRate)
	assert.Equal(t, 2, f.channelCount)
	assert.Equal(t, mpeg4audio.ObjectTypeAACLC, f.objectType)
	assert.Equal(t, []byte{1, 2, 3}, f.au)

	f, err = r.Next()
	require.NoError(t, err)
	assert.Equal(t, []byte{4, 5}, f.au)

	_, err = r.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestADTSReader_Malformed(t *testing.T) {
	full := buildADTS(4, 1, []byte{9, 9, 9, 9})

	_, err := newADTSReader(bytes.NewReader(full[:len(full)-1])).Next()
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)

	_, err = newADTSReader(bytes.NewReader(full[:3])).Next()
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)

	garbage := append([]byte{0x00, 0x11}, full[2:]...)
	_, err = newADTSReader(bytes.NewReader(garbage)).Next()
	assert.ErrorIs(t, err, ErrBadFrame)

	badRate := buildADTS(14, 1, []byte{1})
	_, err = newADTSReader(bytes.NewReader(badRate)).Next()
	assert.ErrorIs(t, err, ErrBadFrame)

	noChannels := buildADTS(4, 0, []byte{1})
	_, err = newADTSReader(bytes.NewReader(noChannels)).Next()
	assert.ErrorIs(t, err, ErrBadFrame)
}
