// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Common attribute keys for consistent tracing across the application.
const (
	// HTTP attributes
	HTTPMethodKey     = "http.method"
	HTTPStatusCodeKey = "http.status_code"
	HTTPRouteKey      = "http.route"
	HTTPURLKey        = "http.url"

	// Source attributes
	SourceMimeKey       = "source.mime"
	SourceSampleRateKey = "source.sample_rate"
	SourceChannelsKey   = "source.channels"
	SourceDurationKey   = "source.duration_us"
	SourceExtractedKey  = "source.extracted"

	// Encoding attributes
	EncodeCodecKey      = "encode.codec"
	EncodeBitrateKey    = "encode.bitrate"
	EncodeSampleRateKey = "encode.sample_rate"
	EncodeChannelsKey   = "encode.channels"

	// Outcome attributes
	TranscodeFramesKey = "transcode.frames"
	TranscodeErrorsKey = "transcode.errors"
	TranscodeBytesKey  = "transcode.output_bytes"

	// Error attributes
	ErrorKey     = "error"
	ErrorTypeKey = "error.type"
)

// HTTPAttributes creates common HTTP span attributes.
func HTTPAttributes(method, route, url string, statusCode int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(HTTPMethodKey, method),
		attribute.String(HTTPRouteKey, route),
		attribute.String(HTTPURLKey, url),
		attribute.Int(HTTPStatusCodeKey, statusCode),
	}
}

// SourceAttributes describes the probed input track. Empty and zero values are omitted.
func SourceAttributes(mime string, sampleRate, channels int, durationMicros int64, extracted bool) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 5)
	if mime != "" {
		attrs = append(attrs, attribute.String(SourceMimeKey, mime))
	}
	if sampleRate > 0 {
		attrs = append(attrs, attribute.Int(SourceSampleRateKey, sampleRate))
	}
	if channels > 0 {
		attrs = append(attrs, attribute.Int(SourceChannelsKey, channels))
	}
	if durationMicros > 0 {
		attrs = append(attrs, attribute.Int64(SourceDurationKey, durationMicros))
	}
	return append(attrs, attribute.Bool(SourceExtractedKey, extracted))
}

// EncodeAttributes describes the resolved encoder configuration.
func EncodeAttributes(codec string, bitrate, sampleRate, channels int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(EncodeCodecKey, codec),
		attribute.Int(EncodeBitrateKey, bitrate),
		attribute.Int(EncodeSampleRateKey, sampleRate),
		attribute.Int(EncodeChannelsKey, channels),
	}
}

// OutcomeAttributes summarises a finished encode loop.
func OutcomeAttributes(frames int64, errors int, outputBytes int64) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Int64(TranscodeFramesKey, frames),
		attribute.Int(TranscodeErrorsKey, errors),
		attribute.Int64(TranscodeBytesKey, outputBytes),
	}
}

// ErrorAttributes creates error-related span attributes.
func ErrorAttributes(_ error, errorType string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Bool(ErrorKey, true),
		attribute.String(ErrorTypeKey, errorType),
	}
}
