// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package audio

import (
	"errors"
	"fmt"
	"math"

	xglog "github.com/ManuGH/aacpress/internal/log"
	"github.com/rs/zerolog"
)

// ErrInvalidParams is returned when no legal configuration can be derived.
// It is fatal and not retryable.
var ErrInvalidParams = errors.New("invalid encoding parameters")

// Resolver derives ResolvedEncodingParams from a request and the probed source.
// It is deterministic: identical inputs always yield identical output.
type Resolver struct {
	logger zerolog.Logger
}

// NewResolver returns a resolver that reports fallbacks on logger.
func NewResolver(logger zerolog.Logger) *Resolver {
	return &Resolver{logger: logger}
}

// Resolve never mutates req or src.
func (r *Resolver) Resolve(req CompressionRequest, src SourceAudioInfo) (ResolvedEncodingParams, error) {
	out := ResolvedEncodingParams{
		BitrateBps:   r.bitrate(req, src),
		SampleRateHz: r.sampleRate(req, src),
		ChannelCount: r.channels(req, src),
	}

	if out.BitrateBps < MinBitrateBps || out.BitrateBps > MaxBitrateBps {
		return ResolvedEncodingParams{}, fmt.Errorf("%w: bitrate %d outside [%d,%d]", ErrInvalidParams, out.BitrateBps, MinBitrateBps, MaxBitrateBps)
	}
	if out.SampleRateHz == 0 {
		return ResolvedEncodingParams{}, fmt.Errorf("%w: sample rate unresolved (source reports %d)", ErrInvalidParams, src.SampleRateHz)
	}
	if out.ChannelCount != 1 && out.ChannelCount != 2 {
		return ResolvedEncodingParams{}, fmt.Errorf("%w: channel count %d not mono or stereo", ErrInvalidParams, out.ChannelCount)
	}
	return out, nil
}

func (r *Resolver) bitrate(req CompressionRequest, src SourceAudioInfo) uint32 {
	if req.BitrateBps != nil {
		return clampBitrate(int64(*req.BitrateBps))
	}
	if req.Quality != nil {
		base := uint64(src.BitrateBps)
		if base == 0 {
			base = uint64(TierFallbackKbps(*req.Quality)) * 1000
		}
		return clampBitrate(int64(base * req.Quality.factorPercent() / 100))
	}
	return DefaultBitrateBps
}

func (r *Resolver) sampleRate(req CompressionRequest, src SourceAudioInfo) uint32 {
	if req.SampleRateHz != nil {
		requested := *req.SampleRateHz
		if requested > 0 && int64(requested) <= math.MaxUint32 && IsLegalSampleRate(uint32(requested)) {
			return uint32(requested)
		}
		r.logger.Warn().
			Str(xglog.FieldEvent, "params.fallback").
			Int("requested", requested).
			Uint32(xglog.FieldSampleRate, src.SampleRateHz).
			Msg("unsupported sample rate requested, using source sample rate")
	}
	return r.legalizeSourceRate(src.SampleRateHz)
}

// legalizeSourceRate maps a source rate outside the encoder's set onto the
// next higher legal rate, capped at the highest. Zero stays zero so
// validation rejects it.
func (r *Resolver) legalizeSourceRate(hz uint32) uint32 {
	if hz == 0 || IsLegalSampleRate(hz) {
		return hz
	}
	target := LegalSampleRates[len(LegalSampleRates)-1]
	for _, c := range LegalSampleRates {
		if c > hz {
			target = c
			break
		}
	}
	r.logger.Warn().
		Str(xglog.FieldEvent, "params.fallback").
		Uint32("source", hz).
		Uint32(xglog.FieldSampleRate, target).
		Msg("source sample rate not encodable, using next legal rate")
	return target
}

func (r *Resolver) channels(req CompressionRequest, src SourceAudioInfo) uint8 {
	if req.ChannelCount != nil {
		requested := *req.ChannelCount
		if requested == 1 || requested == 2 {
			return uint8(requested)
		}
		r.logger.Warn().
			Str(xglog.FieldEvent, "params.fallback").
			Int("requested", requested).
			Uint8(xglog.FieldChannels, src.ChannelCount).
			Msg("unsupported channel count requested, using source channel count")
	}
	return clampChannels(src.ChannelCount)
}

func clampBitrate(bps int64) uint32 {
	switch {
	case bps < int64(MinBitrateBps):
		return MinBitrateBps
	case bps > int64(MaxBitrateBps):
		return MaxBitrateBps
	default:
		return uint32(bps)
	}
}

func clampChannels(n uint8) uint8 {
	switch {
	case n < 1:
		return 1
	case n > 2:
		return 2
	default:
		return n
	}
}
