// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package ffmpeg

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

// ErrProbeFailed is returned when ffprobe yields no usable JSON.
var ErrProbeFailed = errors.New("ffprobe failed")

const maxStderr = 4096

// ProbeResult is the subset of `ffprobe -show_streams -show_format` we consume.
type ProbeResult struct {
	Streams []ProbeStream `json:"streams"`
	Format  ProbeFormat   `json:"format"`
}

// ProbeStream is one elementary stream, in container order.
type ProbeStream struct {
	Index         int    `json:"index"`
	CodecType     string `json:"codec_type"`
	CodecName     string `json:"codec_name"`
	CodecLongName string `json:"codec_long_name,omitempty"`
	SampleRate    string `json:"sample_rate,omitempty"`
	Channels      *int   `json:"channels,omitempty"`
	Duration      string `json:"duration,omitempty"`
	BitRate       string `json:"bit_rate,omitempty"`
}

// ProbeFormat is the container-level section.
type ProbeFormat struct {
	FormatName string `json:"format_name"`
	Duration   string `json:"duration"`
	BitRate    string `json:"bit_rate,omitempty"`
}

// Prober runs ffprobe.
type Prober struct {
	BinaryPath string
	Logger     zerolog.Logger
}

// NewProber returns a prober for the given ffprobe binary ("ffprobe" when empty).
func NewProber(binaryPath string, logger zerolog.Logger) *Prober {
	if strings.TrimSpace(binaryPath) == "" {
		binaryPath = "ffprobe"
	}
	return &Prober{BinaryPath: binaryPath, Logger: logger}
}

// Probe executes ffprobe and decodes its JSON report.
func (p *Prober) Probe(ctx context.Context, path string) (*ProbeResult, error) {
	args := []string{
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	}

	// #nosec G204 - binary comes from operator config; path is passed as a single argv entry
	cmd := exec.CommandContext(ctx, p.BinaryPath, args...)

	// Exit code may be non-zero even when the JSON is usable
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	return p.decode(path, out, err, stderr.String())
}

func (p *Prober) decode(path string, out []byte, runErr error, stderr string) (*ProbeResult, error) {
	var data ProbeResult
	jsonErr := json.Unmarshal(out, &data)

	switch {
	case jsonErr == nil && data.Format.FormatName != "":
		if runErr != nil {
			p.Logger.Warn().Err(runErr).Str("path", path).Str("stderr", truncate(stderr)).Msg("ffprobe non-zero exit but JSON accepted")
		}
		return &data, nil
	case runErr != nil:
		return nil, fmt.Errorf("%w: %v (stderr: %s)", ErrProbeFailed, runErr, truncate(stderr))
	case jsonErr != nil:
		return nil, fmt.Errorf("%w: json decode: %v", ErrProbeFailed, jsonErr)
	default:
		return nil, fmt.Errorf("%w: empty format report", ErrProbeFailed)
	}
}

// SampleRateHz parses the stream sample rate. ok is false when the field is
// absent or not a number, so callers can tell "omitted" from "reported as 0".
func (s ProbeStream) SampleRateHz() (hz int64, ok bool) {
	v, err := strconv.ParseInt(strings.TrimSpace(s.SampleRate), 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// ChannelCount returns the reported channel count; ok is false when absent.
func (s ProbeStream) ChannelCount() (n int, ok bool) {
	if s.Channels == nil {
		return 0, false
	}
	return *s.Channels, true
}

// BitRateBps parses the stream bit rate; 0 when absent or malformed.
func (s ProbeStream) BitRateBps() int64 {
	return parseInt(s.BitRate)
}

// DurationMicros parses stream duration, falling back to the container's.
func (r *ProbeResult) DurationMicros(s ProbeStream) uint64 {
	for _, raw := range []string{s.Duration, r.Format.Duration} {
		if d, err := strconv.ParseFloat(strings.TrimSpace(raw), 64); err == nil && d > 0 {
			return uint64(d * 1_000_000)
		}
	}
	return 0
}

func parseInt(raw string) int64 {
	v, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || v < 0 {
		return 0
	}
	return v
}

func truncate(s string) string {
	if len(s) > maxStderr {
		return s[:maxStderr] + "..."
	}
	return s
}
