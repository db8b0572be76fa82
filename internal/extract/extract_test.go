// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package extract

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRunner writes payload to the last argument, then returns err.
type fakeRunner struct {
	payload []byte
	err     error
	args    []string
}

func (f *fakeRunner) Run(_ context.Context, args []string) error {
	f.args = args
	if f.payload != nil {
		if err := os.WriteFile(args[len(args)-1], f.payload, 0o600); err != nil {
			return err
		}
	}
	return f.err
}

func TestNeedsExtraction(t *testing.T) {
	for _, p := range []string{"a.mp4", "b.MOV", "/x/c.mkv", "d.webm", "e.3gp", "f.avi", "g.m4v"} {
		assert.True(t, NeedsExtraction(p), p)
	}
	for _, p := range []string{"a.wav", "b.mp3", "c.m4a", "d.flac", "noext"} {
		assert.False(t, NeedsExtraction(p), p)
	}
}

func TestExtractAudioTrack_Success(t *testing.T) {
	out := filepath.Join(t.TempDir(), "track"+ArtifactExt)
	r := &fakeRunner{payload: []byte("matroska")}

	require.NoError(t, New(r, zerolog.Nop()).ExtractAudioTrack(context.Background(), "/in/clip.mp4", out))
	assert.Subset(t, r.args, []string{"-i", "/in/clip.mp4", "-map", "0:a:0", "-c:a", "copy", "-vn", out})
	assert.FileExists(t, out)
}

func TestExtractAudioTrack_FailureRemovesPartialOutput(t *testing.T) {
	out := filepath.Join(t.TempDir(), "track"+ArtifactExt)
	r := &fakeRunner{payload: []byte("partial"), err: errors.New("Stream map '0:a:0' matches no streams")}

	err := New(r, zerolog.Nop()).ExtractAudioTrack(context.Background(), "/in/clip.mp4", out)
	require.ErrorIs(t, err, ErrExtractionFailed)
	assert.NoFileExists(t, out)
}

func TestExtractAudioTrack_EmptyOutput(t *testing.T) {
	out := filepath.Join(t.TempDir(), "track"+ArtifactExt)

	err := New(&fakeRunner{payload: []byte{}}, zerolog.Nop()).ExtractAudioTrack(context.Background(), "/in/clip.mp4", out)
	require.ErrorIs(t, err, ErrExtractionFailed)
	assert.NoFileExists(t, out)

	err = New(&fakeRunner{}, zerolog.Nop()).ExtractAudioTrack(context.Background(), "/in/clip.mp4", out)
	require.ErrorIs(t, err, ErrExtractionFailed)
}
