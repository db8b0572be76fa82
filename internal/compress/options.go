// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package compress

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/ManuGH/aacpress/internal/audio"
	"github.com/rs/zerolog"
)

// Recognized option keys.
const (
	OptBitrate    = "bitrate"
	OptQuality    = "quality"
	OptSampleRate = "samplerate"
	OptChannels   = "channels"
)

// ParseOptions turns a loosely typed options bag (as decoded from JSON or
// flags) into a CompressionRequest. Absent and null keys stay unset; an
// unknown quality tier is dropped with a warning. Values of the wrong type
// are rejected with INVALID_INPUT.
func ParseOptions(opts map[string]any, logger zerolog.Logger) (audio.CompressionRequest, error) {
	var req audio.CompressionRequest

	for key, raw := range opts {
		if raw == nil {
			continue
		}
		switch strings.ToLower(key) {
		case OptBitrate:
			v, err := toInt(raw)
			if err != nil {
				return req, newError(CodeInvalidInput, "bitrate must be an integer", err)
			}
			req.BitrateBps = &v
		case OptSampleRate:
			v, err := toInt(raw)
			if err != nil {
				return req, newError(CodeInvalidInput, "samplerate must be an integer", err)
			}
			req.SampleRateHz = &v
		case OptChannels:
			v, err := toInt(raw)
			if err != nil {
				return req, newError(CodeInvalidInput, "channels must be an integer", err)
			}
			req.ChannelCount = &v
		case OptQuality:
			s, ok := raw.(string)
			if !ok {
				return req, newError(CodeInvalidInput, "quality must be a string", fmt.Errorf("got %T", raw))
			}
			if strings.TrimSpace(s) == "" {
				continue
			}
			q, err := audio.ParseQualityTier(s)
			if err != nil {
				logger.Warn().Str("quality", s).Msg("unknown quality tier ignored")
				continue
			}
			req.Quality = &q
		default:
			logger.Debug().Str("option", key).Msg("unrecognized option ignored")
		}
	}
	return req, nil
}

func toInt(raw any) (int, error) {
	switch v := raw.(type) {
	case int:
		return v, nil
	case int32:
		return int(v), nil
	case int64:
		return int(v), nil
	case uint32:
		return int(v), nil
	case float64:
		if v != math.Trunc(v) || math.IsInf(v, 0) || math.IsNaN(v) {
			return 0, fmt.Errorf("%v is not an integer", v)
		}
		return int(v), nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0, fmt.Errorf("%q is not an integer", v)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("unsupported type %T", raw)
	}
}
