// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package compress

import (
	"context"
	"errors"
	"fmt"

	"github.com/ManuGH/aacpress/internal/audio"
	"github.com/ManuGH/aacpress/internal/codec"
	"github.com/ManuGH/aacpress/internal/extract"
	"github.com/ManuGH/aacpress/internal/probe"
	"github.com/ManuGH/aacpress/internal/transcode"
)

// Code is a stable, caller-facing error class.
type Code string

const (
	CodeInvalidInput       Code = "INVALID_INPUT"
	CodeInvalidPath        Code = "INVALID_PATH"
	CodeFileNotFound       Code = "FILE_NOT_FOUND"
	CodeFileNotReadable    Code = "FILE_NOT_READABLE"
	CodeExtractionFailed   Code = "EXTRACTION_FAILED"
	CodeNoAudioTrack       Code = "NO_AUDIO_TRACK"
	CodeInvalidParams      Code = "INVALID_PARAMS"
	CodeEncoderUnavailable Code = "ENCODER_UNAVAILABLE"
	CodeCompressionFailed  Code = "COMPRESSION_FAILED"
	CodeUnexpected         Code = "UNEXPECTED_ERROR"
)

// Error pairs a Code with a human-readable message.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(code Code, msg string, err error) *Error {
	return &Error{Code: code, Message: msg, Err: err}
}

// CodeOf returns the Code of err, CodeUnexpected for foreign errors and ""
// for nil.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeUnexpected
}

// classify maps a transcode failure onto a caller-facing error.
func classify(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	switch {
	case errors.Is(err, transcode.ErrPanic):
		return newError(CodeUnexpected, "unexpected failure", err)
	case errors.Is(err, extract.ErrExtractionFailed):
		return newError(CodeExtractionFailed, "could not extract an audio track from the container", err)
	case errors.Is(err, probe.ErrNoAudioTrack):
		return newError(CodeNoAudioTrack, "source has no valid audio track", err)
	case errors.Is(err, audio.ErrInvalidParams):
		return newError(CodeInvalidParams, "no legal encoding parameters for this source", err)
	case errors.Is(err, codec.ErrEncoderUnavailable):
		return newError(CodeEncoderUnavailable, "no AAC encoder available", err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return newError(CodeCompressionFailed, "compression aborted", err)
	default:
		return newError(CodeCompressionFailed, "audio compression failed", err)
	}
}
