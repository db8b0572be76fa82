// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package audio holds the transcode data model and turns loose caller hints
// into a codec-legal AAC encoding configuration.
package audio

import (
	"fmt"
	"strings"
)

// Output bitrate bounds and the default when the caller gives no hint.
const (
	MinBitrateBps     uint32 = 32000
	MaxBitrateBps     uint32 = 320000
	DefaultBitrateBps uint32 = 128000
)

// Substitutes used by the prober when a container omits stream parameters.
const (
	DefaultSampleRateHz uint32 = 44100
	DefaultChannelCount uint8  = 2
)

// LegalSampleRates lists the sample rates the AAC encoder profile accepts, ascending.
var LegalSampleRates = []uint32{8000, 11025, 16000, 22050, 44100, 48000}

// IsLegalSampleRate reports whether hz is accepted by the encoder profile.
func IsLegalSampleRate(hz uint32) bool {
	for _, r := range LegalSampleRates {
		if r == hz {
			return true
		}
	}
	return false
}

// QualityTier is a coarse bitrate hint.
type QualityTier string

const (
	QualityLow    QualityTier = "low"
	QualityMedium QualityTier = "medium"
	QualityHigh   QualityTier = "high"
)

// ParseQualityTier accepts "low", "medium" or "high" in any case.
func ParseQualityTier(s string) (QualityTier, error) {
	switch q := QualityTier(strings.ToLower(strings.TrimSpace(s))); q {
	case QualityLow, QualityMedium, QualityHigh:
		return q, nil
	default:
		return "", fmt.Errorf("unknown quality tier %q", s)
	}
}

// factorPercent is the share of the source bitrate each tier keeps.
func (q QualityTier) factorPercent() uint64 {
	switch q {
	case QualityLow:
		return 30
	case QualityMedium:
		return 50
	case QualityHigh:
		return 70
	default:
		return 0
	}
}

// SourceAudioInfo describes the selected audio stream of the input.
// It is produced once by probing and never mutated.
type SourceAudioInfo struct {
	SampleRateHz   uint32
	ChannelCount   uint8
	DurationMicros uint64
	MimeType       string
	BitrateBps     uint32 // 0 if unknown
}

// Valid reports whether the probe produced usable stream parameters.
func (s SourceAudioInfo) Valid() bool {
	return s.SampleRateHz > 0 && s.ChannelCount > 0
}

// CompressionRequest carries the caller's optional hints. Nil means unset.
// Values are kept as given; only the resolver interprets them.
type CompressionRequest struct {
	BitrateBps   *int
	Quality      *QualityTier
	SampleRateHz *int
	ChannelCount *int
}

// ResolvedEncodingParams is the validated encoder configuration.
type ResolvedEncodingParams struct {
	BitrateBps   uint32
	SampleRateHz uint32
	ChannelCount uint8
}

func (p ResolvedEncodingParams) String() string {
	return fmt.Sprintf("%dbps/%dHz/%dch", p.BitrateBps, p.SampleRateHz, p.ChannelCount)
}
