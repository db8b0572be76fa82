// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package audio

import "os"

// TierFallbackKbps is the assumed source bitrate when nothing better is known.
func TierFallbackKbps(q QualityTier) uint32 {
	switch q {
	case QualityLow:
		return 128
	case QualityHigh:
		return 320
	default:
		return 256
	}
}

// EstimateBitrate returns an estimate in kbps of the source bitrate of the
// file at path. It prefers size over duration and falls back to the tier table.
func EstimateBitrate(path string, q QualityTier, durationMicros uint64) uint32 {
	if durationMicros > 0 {
		if fi, err := os.Stat(path); err == nil && fi.Size() > 0 {
			bps := uint64(fi.Size()) * 8 * 1_000_000 / durationMicros
			if kbps := bps / 1000; kbps > 0 && kbps <= 10_000 {
				return uint32(kbps)
			}
		}
	}
	return TierFallbackKbps(q)
}

// WithEstimatedBitrate fills a missing source bitrate from EstimateBitrate.
// The receiver is a copy; the probed value is not modified.
func (s SourceAudioInfo) WithEstimatedBitrate(path string, q QualityTier) SourceAudioInfo {
	if s.BitrateBps == 0 {
		s.BitrateBps = EstimateBitrate(path, q, s.DurationMicros) * 1000
	}
	return s
}
