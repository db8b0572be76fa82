// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldTranscodeID = "transcode_id"
	FieldRequestID   = "request_id"

	// Process / pipeline fields
	FieldEvent     = "event"
	FieldComponent = "component"
	FieldState     = "state"
	FieldStage     = "stage"

	// Media / stream fields
	FieldCodec       = "codec"
	FieldMime        = "mime"
	FieldSampleRate  = "sample_rate"
	FieldChannels    = "channels"
	FieldBitrate     = "bitrate"
	FieldStreamIndex = "stream_index"
	FieldFrames      = "frames"
	FieldBytes       = "bytes"

	// Path fields
	FieldPath       = "path"
	FieldSourcePath = "source_path"
	FieldOutputPath = "output_path"
	FieldTempPath   = "temp_path"
)
