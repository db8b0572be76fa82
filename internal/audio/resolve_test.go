// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package audio

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(v int) *int { return &v }

func tierPtr(q QualityTier) *QualityTier { return &q }

var stereo48k = SourceAudioInfo{
	SampleRateHz:   48000,
	ChannelCount:   2,
	DurationMicros: 10_000_000,
	MimeType:       "audio/mpeg",
	BitrateBps:     256000,
}

func newTestResolver() (*Resolver, *bytes.Buffer) {
	var buf bytes.Buffer
	return NewResolver(zerolog.New(&buf)), &buf
}

func TestResolve_Defaults(t *testing.T) {
	r, _ := newTestResolver()
	src := SourceAudioInfo{SampleRateHz: 44100, ChannelCount: 1, MimeType: "audio/raw"}

	got, err := r.Resolve(CompressionRequest{}, src)
	require.NoError(t, err)

	want := ResolvedEncodingParams{BitrateBps: 128000, SampleRateHz: 44100, ChannelCount: 1}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Resolve() mismatch (-want +got):\n%s", diff)
	}
}

func TestResolve_ExplicitBitrateIsClamped(t *testing.T) {
	tests := []struct {
		name    string
		bitrate int
		want    uint32
	}{
		{name: "below range", bitrate: 8000, want: 32000},
		{name: "negative", bitrate: -1, want: 32000},
		{name: "zero", bitrate: 0, want: 32000},
		{name: "lower bound", bitrate: 32000, want: 32000},
		{name: "in range", bitrate: 96000, want: 96000},
		{name: "upper bound", bitrate: 320000, want: 320000},
		{name: "above range", bitrate: 1_411_000, want: 320000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, _ := newTestResolver()
			got, err := r.Resolve(CompressionRequest{BitrateBps: intPtr(tt.bitrate)}, stereo48k)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.BitrateBps)
		})
	}
}

func TestResolve_ExplicitBitrateWinsOverQuality(t *testing.T) {
	r, _ := newTestResolver()
	got, err := r.Resolve(CompressionRequest{BitrateBps: intPtr(64000), Quality: tierPtr(QualityHigh)}, stereo48k)
	require.NoError(t, err)
	assert.Equal(t, uint32(64000), got.BitrateBps)
}

func TestResolve_QualityTiers(t *testing.T) {
	tests := []struct {
		name      string
		tier      QualityTier
		sourceBps uint32
		want      uint32
	}{
		{name: "low from source", tier: QualityLow, sourceBps: 256000, want: 76800},
		{name: "medium from source", tier: QualityMedium, sourceBps: 256000, want: 128000},
		{name: "high from source", tier: QualityHigh, sourceBps: 256000, want: 179200},
		{name: "low clamps to floor", tier: QualityLow, sourceBps: 64000, want: 32000},
		{name: "high clamps to ceiling", tier: QualityHigh, sourceBps: 1_411_200, want: 320000},
		{name: "unknown source uses tier table", tier: QualityMedium, sourceBps: 0, want: 128000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, _ := newTestResolver()
			src := stereo48k
			src.BitrateBps = tt.sourceBps
			got, err := r.Resolve(CompressionRequest{Quality: tierPtr(tt.tier)}, src)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.BitrateBps)
		})
	}
}

func TestResolve_UnsupportedSampleRateFallsBackToSource(t *testing.T) {
	// 1<<32+44100 truncates to 44100 in 32 bits and must not pass as legal.
	for _, requested := range []int{0, -44100, 12345, 32000, 96000, 1<<32 + 44100} {
		r, logs := newTestResolver()
		got, err := r.Resolve(CompressionRequest{SampleRateHz: intPtr(requested)}, stereo48k)
		require.NoError(t, err)
		assert.Equal(t, stereo48k.SampleRateHz, got.SampleRateHz, "requested %d", requested)
		assert.Contains(t, logs.String(), "unsupported sample rate requested")
		assert.Contains(t, logs.String(), `"level":"warn"`)
	}
}

func TestResolve_LegalSampleRateIsUsed(t *testing.T) {
	for _, hz := range LegalSampleRates {
		r, logs := newTestResolver()
		got, err := r.Resolve(CompressionRequest{SampleRateHz: intPtr(int(hz))}, stereo48k)
		require.NoError(t, err)
		assert.Equal(t, hz, got.SampleRateHz)
		assert.Empty(t, logs.String())
	}
}

func TestResolve_SourceRateOutsideSetSnapsUp(t *testing.T) {
	tests := []struct {
		source uint32
		want   uint32
	}{
		{source: 7350, want: 8000},
		{source: 12000, want: 16000},
		{source: 24000, want: 44100},
		{source: 32000, want: 44100},
		{source: 88200, want: 48000},
		{source: 96000, want: 48000},
	}
	for _, tt := range tests {
		r, logs := newTestResolver()
		src := stereo48k
		src.SampleRateHz = tt.source
		got, err := r.Resolve(CompressionRequest{}, src)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got.SampleRateHz, "source %d", tt.source)
		assert.Contains(t, logs.String(), "next legal rate")
	}
}

func TestResolve_UnsupportedChannelsClampSource(t *testing.T) {
	tests := []struct {
		name      string
		requested int
		source    uint8
		want      uint8
	}{
		{name: "zero request, stereo source", requested: 0, source: 2, want: 2},
		{name: "six request, 5.1 source", requested: 6, source: 6, want: 2},
		{name: "negative request, mono source", requested: -2, source: 1, want: 1},
		{name: "three request, 8ch source", requested: 3, source: 8, want: 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, logs := newTestResolver()
			src := stereo48k
			src.ChannelCount = tt.source
			got, err := r.Resolve(CompressionRequest{ChannelCount: intPtr(tt.requested)}, src)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.ChannelCount)
			assert.Contains(t, logs.String(), "unsupported channel count")
		})
	}
}

func TestResolve_RequestedChannelsHonoured(t *testing.T) {
	r, _ := newTestResolver()
	got, err := r.Resolve(CompressionRequest{ChannelCount: intPtr(1)}, stereo48k)
	require.NoError(t, err)
	assert.Equal(t, uint8(1), got.ChannelCount)
}

func TestResolve_MultichannelSourceWithoutRequest(t *testing.T) {
	r, _ := newTestResolver()
	src := stereo48k
	src.ChannelCount = 6
	got, err := r.Resolve(CompressionRequest{}, src)
	require.NoError(t, err)
	assert.Equal(t, uint8(2), got.ChannelCount)
}

func TestResolve_InvalidSourceFails(t *testing.T) {
	r, _ := newTestResolver()
	_, err := r.Resolve(CompressionRequest{}, SourceAudioInfo{SampleRateHz: 0, ChannelCount: 2})
	require.ErrorIs(t, err, ErrInvalidParams)
}

func TestResolve_Idempotent(t *testing.T) {
	r := NewResolver(zerolog.New(io.Discard))
	requests := []CompressionRequest{
		{},
		{BitrateBps: intPtr(999999)},
		{Quality: tierPtr(QualityLow), SampleRateHz: intPtr(7), ChannelCount: intPtr(9)},
		{SampleRateHz: intPtr(22050), ChannelCount: intPtr(1)},
	}
	for _, req := range requests {
		first, err1 := r.Resolve(req, stereo48k)
		second, err2 := r.Resolve(req, stereo48k)
		require.NoError(t, err1)
		require.NoError(t, err2)
		assert.True(t, cmp.Equal(first, second), "resolution is not deterministic for %+v", req)
	}
}

func TestResolve_DoesNotMutateInputs(t *testing.T) {
	r, _ := newTestResolver()
	req := CompressionRequest{BitrateBps: intPtr(1), SampleRateHz: intPtr(1), ChannelCount: intPtr(9)}
	src := stereo48k
	_, err := r.Resolve(req, src)
	require.NoError(t, err)
	assert.Equal(t, 1, *req.BitrateBps)
	assert.Equal(t, 1, *req.SampleRateHz)
	assert.Equal(t, 9, *req.ChannelCount)
	assert.Equal(t, stereo48k, src)
}

func TestParseQualityTier(t *testing.T) {
	q, err := ParseQualityTier(" High ")
	require.NoError(t, err)
	assert.Equal(t, QualityHigh, q)

	_, err = ParseQualityTier("ultra")
	require.Error(t, err)
}

func TestEstimateBitrate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.mp3")
	// 160 kbps for 2 seconds
	require.NoError(t, os.WriteFile(path, make([]byte, 40_000), 0o600))

	assert.Equal(t, uint32(160), EstimateBitrate(path, QualityLow, 2_000_000))
	assert.Equal(t, TierFallbackKbps(QualityHigh), EstimateBitrate(path, QualityHigh, 0))
	assert.Equal(t, TierFallbackKbps(QualityLow), EstimateBitrate(filepath.Join(t.TempDir(), "missing"), QualityLow, 1_000_000))

	src := SourceAudioInfo{SampleRateHz: 44100, ChannelCount: 2, DurationMicros: 2_000_000}
	filled := src.WithEstimatedBitrate(path, QualityMedium)
	assert.Equal(t, uint32(160000), filled.BitrateBps)
	assert.Zero(t, src.BitrateBps)
}
