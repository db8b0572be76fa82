// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package codec drives an AAC-LC encoder through a slot-based buffer exchange.
//
// The caller owns a single control flow: it acquires an input slot, fills it
// with interleaved s16le PCM and submits it, then polls for output. Output
// arrives as a format change (once), a codec-config buffer, encoded access
// units and finally an empty end-of-stream buffer. Every acquired output slot
// must be released exactly once.
package codec

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/ManuGH/aacpress/internal/audio"
	"github.com/ManuGH/aacpress/internal/fsm"
	"github.com/ManuGH/aacpress/internal/infra/ffmpeg"
	xglog "github.com/ManuGH/aacpress/internal/log"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/mpeg4audio"
	"github.com/rs/zerolog"
)

var (
	// ErrEncoderUnavailable means no AAC encoder exists on this host. Not retryable.
	ErrEncoderUnavailable = errors.New("aac encoder unavailable")
	// ErrInvalidState is returned for calls the lifecycle does not allow.
	ErrInvalidState = errors.New("invalid encoder state")
	// ErrSlotOutOfRange is returned for slot indices the session never handed out.
	ErrSlotOutOfRange = errors.New("slot index out of range")
	// ErrEncoderFailed wraps failures of the running encoder.
	ErrEncoderFailed = errors.New("encoder failed")
)

// MimeAAC is the output type of every session.
const MimeAAC = "audio/mp4a-latm"

// NoSlot is returned by AcquireInputSlot when no buffer became free in time.
const NoSlot = -1

// SamplesPerFrame is the AAC-LC access unit length in PCM frames.
const SamplesPerFrame = 1024

// Flags annotate output buffers.
type Flags uint32

const (
	// FlagCodecConfig marks a buffer carrying only decoder configuration.
	FlagCodecConfig Flags = 1 << iota
	// FlagEndOfStream marks the final, empty output buffer.
	FlagEndOfStream
)

// Has reports whether all bits of f2 are set.
func (f Flags) Has(f2 Flags) bool { return f&f2 == f2 }

// BufferInfo describes the valid region of an output buffer.
type BufferInfo struct {
	Offset    int
	Size      int
	PTSMicros int64
	Flags     Flags
}

// Format is the encoder output format announced by StatusFormatChanged.
type Format struct {
	MimeType     string
	SampleRateHz uint32
	ChannelCount uint8
	BitrateBps   uint32
	Config       mpeg4audio.AudioSpecificConfig
}

// CodecConfig returns the serialized AudioSpecificConfig.
func (f Format) CodecConfig() ([]byte, error) {
	return f.Config.Marshal()
}

// Status is the kind of an output poll result.
type Status int

const (
	StatusPending Status = iota
	StatusFormatChanged
	StatusData
	StatusUnknown
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusFormatChanged:
		return "format_changed"
	case StatusData:
		return "data"
	default:
		return "unknown"
	}
}

// OutputResult is one answer of AcquireOutputSlot. Index and Info are set for
// StatusData; Format for StatusFormatChanged; Err may explain StatusUnknown.
type OutputResult struct {
	Status Status
	Format Format
	Index  int
	Info   BufferInfo
	Err    error
}

// Process is a running encoder: PCM goes into Input, ADTS comes out of Output.
type Process interface {
	Input() io.WriteCloser
	Output() io.Reader
	// Wait blocks until exit and reports a failed exit.
	Wait() error
	// Stop tears the process down. Idempotent.
	Stop() error
}

// Launcher checks for and starts encoder processes.
type Launcher interface {
	RequireEncoder(ctx context.Context, name string) error
	Launch(ctx context.Context, args []string) (Process, error)
}

// EncoderName is the ffmpeg encoder sessions require.
const EncoderName = "aac"

// FFmpegLauncher runs the ffmpeg "aac" encoder.
type FFmpegLauncher struct {
	Exec *ffmpeg.Executor
}

func (l FFmpegLauncher) RequireEncoder(ctx context.Context, name string) error {
	return l.Exec.RequireEncoder(ctx, name)
}

func (l FFmpegLauncher) Launch(ctx context.Context, args []string) (Process, error) {
	p, err := l.Exec.StartPiped(ctx, args, true)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Options size the slot pools.
type Options struct {
	InputSlots  int
	OutputSlots int
	// InputSlotFrames is the PCM frame capacity of each input slot.
	InputSlotFrames int
}

// DefaultOptions mirror a typical hardware codec.
func DefaultOptions() Options {
	return Options{InputSlots: 4, OutputSlots: 8, InputSlotFrames: 4 * SamplesPerFrame}
}

type submission struct {
	index int
	size  int
	pts   int64
	eos   bool
}

// Session is one encoder instance, owned by a single control flow.
type Session struct {
	launcher Launcher
	opts     Options
	logger   zerolog.Logger
	fsm      *fsm.Machine[State, event]

	params audio.ResolvedEncodingParams
	proc   Process

	inputs   [][]byte
	freeIn   chan int
	heldIn   []bool
	pending  chan submission
	eosSent  bool
	outputs  [][]byte
	outLen   []int
	freeOut  chan int
	heldOut  []bool
	ready    chan OutputResult
	outReady chan struct{}
	sawEOS   bool
	lastIn   int64
	done     chan struct{}
	failed   chan struct{}
	failOnce sync.Once
	failErr  error
	wg       sync.WaitGroup

	teardown sync.Mutex
	stopped  bool
	stopErr  error
}

// NewSession returns a session in StateCreated.
func NewSession(launcher Launcher, opts Options, logger zerolog.Logger) *Session {
	def := DefaultOptions()
	if opts.InputSlots <= 0 {
		opts.InputSlots = def.InputSlots
	}
	if opts.OutputSlots <= 0 {
		opts.OutputSlots = def.OutputSlots
	}
	if opts.InputSlotFrames <= 0 {
		opts.InputSlotFrames = def.InputSlotFrames
	}
	return &Session{
		launcher: launcher,
		opts:     opts,
		logger:   logger.With().Str(xglog.FieldComponent, "codec").Logger(),
		fsm:      newLifecycle(),
		outReady: make(chan struct{}, 1),
		done:     make(chan struct{}),
		failed:   make(chan struct{}),
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State { return s.fsm.State() }

// History returns the recent lifecycle states, oldest first.
func (s *Session) History() []State { return s.fsm.History() }

// Params returns the configured encoding parameters.
func (s *Session) Params() audio.ResolvedEncodingParams { return s.params }

// Configure validates params for the AAC-LC profile and checks that an
// encoder is available.
func (s *Session) Configure(ctx context.Context, params audio.ResolvedEncodingParams) error {
	if s.fsm.State() != StateCreated {
		return fmt.Errorf("%w: configure in %s", ErrInvalidState, s.fsm.State())
	}
	if !audio.IsLegalSampleRate(params.SampleRateHz) || params.ChannelCount < 1 || params.ChannelCount > 2 ||
		params.BitrateBps < audio.MinBitrateBps || params.BitrateBps > audio.MaxBitrateBps {
		return fmt.Errorf("%w: %s", audio.ErrInvalidParams, params)
	}
	if err := s.launcher.RequireEncoder(ctx, EncoderName); err != nil {
		return fmt.Errorf("%w: %v", ErrEncoderUnavailable, err)
	}

	s.params = params
	frameBytes := int(params.ChannelCount) * ffmpeg.PCMBytesPerSample
	s.inputs = make([][]byte, s.opts.InputSlots)
	s.heldIn = make([]bool, s.opts.InputSlots)
	s.freeIn = make(chan int, s.opts.InputSlots)
	s.pending = make(chan submission, s.opts.InputSlots)
	for i := range s.inputs {
		s.inputs[i] = make([]byte, s.opts.InputSlotFrames*frameBytes)
		s.freeIn <- i
	}
	s.outputs = make([][]byte, s.opts.OutputSlots)
	s.outLen = make([]int, s.opts.OutputSlots)
	s.heldOut = make([]bool, s.opts.OutputSlots)
	s.freeOut = make(chan int, s.opts.OutputSlots)
	for i := range s.outputs {
		s.freeOut <- i
	}
	// format + one result per slot + failure headroom
	s.ready = make(chan OutputResult, s.opts.OutputSlots+1)

	if _, err := s.fsm.Fire(evConfigure); err != nil {
		return err
	}
	s.logger.Debug().Str(xglog.FieldCodec, MimeAAC).
		Uint32(xglog.FieldSampleRate, params.SampleRateHz).
		Uint8(xglog.FieldChannels, params.ChannelCount).
		Uint32(xglog.FieldBitrate, params.BitrateBps).
		Msg("encoder configured")
	return nil
}

// Start launches the encoder. It must follow Configure and precede any
// buffer exchange.
func (s *Session) Start(ctx context.Context) error {
	if s.fsm.State() != StateConfigured {
		return fmt.Errorf("%w: start in %s", ErrInvalidState, s.fsm.State())
	}
	proc, err := s.launcher.Launch(ctx, ffmpeg.EncodeArgs(s.params.SampleRateHz, s.params.ChannelCount, s.params.BitrateBps))
	if err != nil {
		return fmt.Errorf("%w: launch: %v", ErrEncoderFailed, err)
	}
	if _, err := s.fsm.Fire(evStart); err != nil {
		_ = proc.Stop()
		return err
	}
	s.proc = proc

	s.wg.Add(2)
	go s.writeLoop()
	go s.readLoop()
	return nil
}

// Err returns the sticky failure of the running encoder, if any.
func (s *Session) Err() error {
	select {
	case <-s.failed:
		return s.failErr
	default:
		return nil
	}
}

func (s *Session) fail(err error) {
	s.failOnce.Do(func() {
		s.failErr = err
		close(s.failed)
		select {
		case <-s.done:
		default:
			s.logger.Error().Err(err).Msg("encoder failed")
		}
	})
}

// AcquireInputSlot waits up to timeout for a free input buffer and returns its
// index, or NoSlot. It gives up early once encoded output is waiting.
func (s *Session) AcquireInputSlot(timeout time.Duration) int {
	if s.eosSent || !s.fsm.Can(evFeed) || s.Err() != nil {
		return NoSlot
	}
	select {
	case idx := <-s.freeIn:
		s.heldIn[idx] = true
		return idx
	default:
	}
	if len(s.ready) > 0 {
		return NoSlot
	}

	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case idx := <-s.freeIn:
		s.heldIn[idx] = true
		return idx
	case <-s.outReady:
	case <-s.failed:
	case <-t.C:
	}
	return NoSlot
}

// InputBuffer returns the full backing buffer of an acquired input slot.
func (s *Session) InputBuffer(index int) []byte {
	if index < 0 || index >= len(s.inputs) || !s.heldIn[index] {
		return nil
	}
	return s.inputs[index]
}

// SubmitInput queues size bytes of slot index for encoding. With eos set the
// slot is the final one; size may be zero. Timestamps are passed through in
// the order given.
func (s *Session) SubmitInput(index, size int, ptsMicros int64, eos bool) error {
	if index < 0 || index >= len(s.inputs) {
		return fmt.Errorf("%w: input %d", ErrSlotOutOfRange, index)
	}
	if !s.heldIn[index] {
		return fmt.Errorf("%w: input slot %d not acquired", ErrInvalidState, index)
	}
	if s.eosSent {
		return fmt.Errorf("%w: input after end of stream", ErrInvalidState)
	}
	if size < 0 || size > len(s.inputs[index]) {
		return fmt.Errorf("%w: size %d exceeds slot capacity %d", ErrInvalidState, size, len(s.inputs[index]))
	}
	if _, err := s.fsm.Fire(evFeed); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidState, err)
	}
	if ptsMicros < s.lastIn {
		s.logger.Debug().Int64("pts_us", ptsMicros).Int64("prev_pts_us", s.lastIn).Msg("input timestamp went backwards")
	}
	s.lastIn = ptsMicros

	s.heldIn[index] = false
	s.eosSent = eos
	// Never blocks: at most InputSlots submissions exist.
	s.pending <- submission{index: index, size: size, pts: ptsMicros, eos: eos}
	return nil
}

// AcquireOutputSlot waits up to timeout for encoder output.
func (s *Session) AcquireOutputSlot(timeout time.Duration) OutputResult {
	if !s.fsm.Can(evDrain) {
		return OutputResult{Status: StatusUnknown, Index: NoSlot,
			Err: fmt.Errorf("%w: drain in %s", ErrInvalidState, s.fsm.State())}
	}
	select {
	case r := <-s.ready:
		return s.deliver(r)
	default:
	}
	if err := s.Err(); err != nil {
		return OutputResult{Status: StatusUnknown, Index: NoSlot, Err: err}
	}

	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case r := <-s.ready:
		return s.deliver(r)
	case <-s.failed:
		return OutputResult{Status: StatusUnknown, Index: NoSlot, Err: s.failErr}
	case <-t.C:
		return OutputResult{Status: StatusPending, Index: NoSlot}
	}
}

func (s *Session) deliver(r OutputResult) OutputResult {
	if r.Status == StatusData {
		s.heldOut[r.Index] = true
		if r.Info.Flags.Has(FlagEndOfStream) {
			s.sawEOS = true
			_, _ = s.fsm.Fire(evEOS)
			return r
		}
	}
	_, _ = s.fsm.Fire(evDrain)
	return r
}

// OutputBuffer returns the payload of an acquired output slot.
func (s *Session) OutputBuffer(index int) []byte {
	if index < 0 || index >= len(s.outputs) || !s.heldOut[index] {
		return nil
	}
	return s.outputs[index][:s.outLen[index]]
}

// ReleaseOutput hands an output slot back to the encoder.
func (s *Session) ReleaseOutput(index int) error {
	if index < 0 || index >= len(s.outputs) {
		return fmt.Errorf("%w: output %d", ErrSlotOutOfRange, index)
	}
	if !s.heldOut[index] {
		return fmt.Errorf("%w: output slot %d not held", ErrInvalidState, index)
	}
	s.heldOut[index] = false
	// Never blocks: the pool holds every index at most once.
	s.freeOut <- index
	return nil
}

// Stop ends encoding and reaps the encoder. Safe from any state and more than
// once; later calls return the first result.
func (s *Session) Stop() error {
	s.teardown.Lock()
	defer s.teardown.Unlock()
	return s.stopLocked()
}

func (s *Session) stopLocked() error {
	if s.stopped {
		return s.stopErr
	}
	s.stopped = true
	_, _ = s.fsm.Fire(evStop)

	close(s.done)
	if s.proc == nil {
		return nil
	}

	err := s.proc.Stop()
	s.wg.Wait()
	switch {
	case err == nil:
	case s.sawEOS:
		s.stopErr = fmt.Errorf("stop encoder: %w", err)
	default:
		// Stopped before draining: a signalled exit is expected.
		s.logger.Debug().Err(err).Msg("encoder stopped early")
	}
	return s.stopErr
}

// Release stops the session if needed and drops its buffers. Idempotent.
func (s *Session) Release() error {
	s.teardown.Lock()
	defer s.teardown.Unlock()
	if s.fsm.State() == StateReleased {
		return nil
	}
	err := s.stopLocked()
	_, _ = s.fsm.Fire(evRelease)
	s.inputs, s.outputs = nil, nil
	s.heldIn, s.heldOut = nil, nil
	return err
}

func (s *Session) writeLoop() {
	defer s.wg.Done()
	in := s.proc.Input()
	for {
		select {
		case sub := <-s.pending:
			if sub.size > 0 {
				if _, err := in.Write(s.inputs[sub.index][:sub.size]); err != nil {
					s.fail(fmt.Errorf("%w: write pcm: %v", ErrEncoderFailed, err))
					return
				}
			}
			s.freeIn <- sub.index
			if sub.eos {
				if err := in.Close(); err != nil {
					s.fail(fmt.Errorf("%w: close input: %v", ErrEncoderFailed, err))
				}
				return
			}
		case <-s.done:
			return
		}
	}
}

func (s *Session) readLoop() {
	defer s.wg.Done()
	r := newADTSReader(s.proc.Output())
	var frames int64
	var rate int

	for {
		f, err := r.Next()
		if errors.Is(err, io.EOF) {
			if werr := s.proc.Wait(); werr != nil {
				s.fail(fmt.Errorf("%w: %v", ErrEncoderFailed, werr))
				return
			}
			s.emitBuffer(nil, s.pts(frames, rate), FlagEndOfStream)
			return
		}
		if err != nil {
			s.fail(fmt.Errorf("%w: %v", ErrEncoderFailed, err))
			return
		}

		if frames == 0 {
			rate = f.sampleRate
			format := Format{
				MimeType:     MimeAAC,
				SampleRateHz: uint32(f.sampleRate),
				ChannelCount: uint8(f.channelCount),
				BitrateBps:   s.params.BitrateBps,
				Config: mpeg4audio.AudioSpecificConfig{
					Type:         f.objectType,
					SampleRate:   f.sampleRate,
					ChannelCount: f.channelCount,
				},
			}
			csd, err := format.CodecConfig()
			if err != nil {
				s.fail(fmt.Errorf("%w: codec config: %v", ErrEncoderFailed, err))
				return
			}
			if !s.emit(OutputResult{Status: StatusFormatChanged, Index: NoSlot, Format: format}) {
				return
			}
			if !s.emitBuffer(csd, 0, FlagCodecConfig) {
				return
			}
		}

		if !s.emitBuffer(f.au, s.pts(frames, rate), 0) {
			return
		}
		frames++
	}
}

func (s *Session) pts(frames int64, rate int) int64 {
	if rate <= 0 {
		rate = int(s.params.SampleRateHz)
	}
	return frames * SamplesPerFrame * 1_000_000 / int64(rate)
}

// emitBuffer copies payload into a free output slot and queues it.
func (s *Session) emitBuffer(payload []byte, pts int64, flags Flags) bool {
	var idx int
	select {
	case idx = <-s.freeOut:
	case <-s.done:
		return false
	}
	s.outputs[idx] = append(s.outputs[idx][:0], payload...)
	s.outLen[idx] = len(payload)
	return s.emit(OutputResult{
		Status: StatusData,
		Index:  idx,
		Info:   BufferInfo{Offset: 0, Size: len(payload), PTSMicros: pts, Flags: flags},
	})
}

func (s *Session) emit(r OutputResult) bool {
	select {
	case s.ready <- r:
	case <-s.done:
		return false
	}
	select {
	case s.outReady <- struct{}{}:
	default:
	}
	return true
}
