// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package watch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ManuGH/aacpress/internal/audio"
	"github.com/ManuGH/aacpress/internal/compress"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type recordingCompressor struct {
	mu    sync.Mutex
	calls map[string]int
	fail  map[string]bool
}

func (c *recordingCompressor) Compress(_ context.Context, source string, _ audio.CompressionRequest) (compress.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.calls == nil {
		c.calls = map[string]int{}
	}
	c.calls[source]++
	if c.fail[filepath.Base(source)] {
		return compress.Result{}, &compress.Error{Code: compress.CodeNoAudioTrack, Message: "no audio"}
	}
	return compress.Result{OutputPath: source + ".m4a", Bytes: 10}, nil
}

func (c *recordingCompressor) count(path string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[path]
}

func TestIsCandidate(t *testing.T) {
	for _, p := range []string{"/a/song.MP3", "/a/b.flac", "/a/clip.mp4", "/a/x.wav"} {
		assert.True(t, IsCandidate(p), p)
	}
	for _, p := range []string{"/a/notes.txt", "/a/.hidden.mp3", "/a/noext", "/a/cover.jpg"} {
		assert.False(t, IsCandidate(p), p)
	}
}

func startWatcher(t *testing.T, cfg Config, svc Compressor) (chan Outcome, func()) {
	t.Helper()
	outcomes := make(chan Outcome, 16)
	w := New(cfg, svc, func(o Outcome) { outcomes <- o }, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// fsnotify registration races with the first writes otherwise
	time.Sleep(50 * time.Millisecond)

	return outcomes, func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("watcher did not stop")
		}
	}
}

func waitOutcome(t *testing.T, ch chan Outcome) Outcome {
	t.Helper()
	select {
	case o := <-ch:
		return o
	case <-time.After(5 * time.Second):
		t.Fatal("no outcome")
		return Outcome{}
	}
}

func TestWatcher_CompressesSettledFilesOnce(t *testing.T) {
	defer goleak.VerifyNone(t)

	dir := t.TempDir()
	svc := &recordingCompressor{}
	outcomes, stop := startWatcher(t, Config{Dir: dir, Concurrency: 2, Settle: 100 * time.Millisecond}, svc)

	song := filepath.Join(dir, "song.mp3")
	for i := 0; i < 3; i++ {
		require.NoError(t, os.WriteFile(song, []byte("chunk"), 0o600))
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "readme.txt"), []byte("x"), 0o600))

	o := waitOutcome(t, outcomes)
	assert.Equal(t, song, o.Source)
	assert.NoError(t, o.Err)
	assert.Equal(t, song+".m4a", o.Result.OutputPath)

	time.Sleep(300 * time.Millisecond)
	stop()

	assert.Equal(t, 1, svc.count(song))
	assert.Equal(t, 0, svc.count(filepath.Join(dir, "readme.txt")))
}

func TestWatcher_ReportsFailures(t *testing.T) {
	defer goleak.VerifyNone(t)

	dir := t.TempDir()
	svc := &recordingCompressor{fail: map[string]bool{"bad.wav": true}}
	outcomes, stop := startWatcher(t, Config{Dir: dir, Settle: 50 * time.Millisecond}, svc)
	defer stop()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.wav"), []byte("RIFF"), 0o600))

	o := waitOutcome(t, outcomes)
	require.Error(t, o.Err)
	var ce *compress.Error
	require.True(t, errors.As(o.Err, &ce))
	assert.Equal(t, compress.CodeNoAudioTrack, ce.Code)
}

func TestWatcher_ScanExistingAndIgnoreDir(t *testing.T) {
	defer goleak.VerifyNone(t)

	dir := t.TempDir()
	cache := filepath.Join(dir, "cache")
	require.NoError(t, os.Mkdir(cache, 0o750))
	existing := filepath.Join(dir, "old.flac")
	require.NoError(t, os.WriteFile(existing, []byte("fLaC"), 0o600))

	svc := &recordingCompressor{}
	outcomes, stop := startWatcher(t, Config{Dir: dir, Settle: 50 * time.Millisecond, IgnoreDir: cache, ScanExisting: true}, svc)

	o := waitOutcome(t, outcomes)
	assert.Equal(t, existing, o.Source)

	w := New(Config{Dir: dir, IgnoreDir: cache}, svc, nil, zerolog.Nop())
	w.touch(filepath.Join(cache, "out.m4a"))
	assert.Empty(t, w.pending)

	stop()
}

func TestWatcher_MissingDir(t *testing.T) {
	w := New(Config{Dir: filepath.Join(t.TempDir(), "nope")}, &recordingCompressor{}, nil, zerolog.Nop())
	err := w.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "watch directory")
}
