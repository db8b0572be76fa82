// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package watch compresses audio files as they land in a hot folder.
package watch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ManuGH/aacpress/internal/audio"
	"github.com/ManuGH/aacpress/internal/compress"
	"github.com/ManuGH/aacpress/internal/extract"
	xglog "github.com/ManuGH/aacpress/internal/log"
	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// DefaultSettle is how long a file must go without writes before it is picked up.
const DefaultSettle = 2 * time.Second

var audioExts = map[string]struct{}{
	".wav": {}, ".mp3": {}, ".flac": {}, ".ogg": {}, ".oga": {}, ".opus": {},
	".m4a": {}, ".aac": {}, ".wma": {}, ".aif": {}, ".aiff": {}, ".amr": {}, ".mka": {},
}

// IsCandidate reports whether path looks like something worth compressing.
func IsCandidate(path string) bool {
	if strings.HasPrefix(filepath.Base(path), ".") {
		return false
	}
	if _, ok := audioExts[strings.ToLower(filepath.Ext(path))]; ok {
		return true
	}
	return extract.NeedsExtraction(path)
}

// Compressor is the subset of compress.Service the watcher drives.
type Compressor interface {
	Compress(ctx context.Context, source string, req audio.CompressionRequest) (compress.Result, error)
}

// Config configures a Watcher.
type Config struct {
	Dir         string
	Concurrency int
	Settle      time.Duration
	Request     audio.CompressionRequest
	// IgnoreDir is skipped, typically the cache dir when it sits inside Dir.
	IgnoreDir string
	// ScanExisting queues files already present when Run starts.
	ScanExisting bool
}

// Outcome is reported once per processed file.
type Outcome struct {
	Source string
	Result compress.Result
	Err    error
}

// Watcher dispatches settled files to a Compressor with bounded concurrency.
type Watcher struct {
	cfg      Config
	svc      Compressor
	logger   zerolog.Logger
	onResult func(Outcome)

	mu      sync.Mutex
	pending map[string]time.Time
	seen    map[string]struct{}
}

// New returns a Watcher. onResult may be nil.
func New(cfg Config, svc Compressor, onResult func(Outcome), logger zerolog.Logger) *Watcher {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.Settle <= 0 {
		cfg.Settle = DefaultSettle
	}
	if onResult == nil {
		onResult = func(Outcome) {}
	}
	return &Watcher{
		cfg:      cfg,
		svc:      svc,
		logger:   logger.With().Str(xglog.FieldComponent, "watch").Logger(),
		onResult: onResult,
		pending:  make(map[string]time.Time),
		seen:     make(map[string]struct{}),
	}
}

// Run watches until ctx is cancelled, then waits for in-flight compressions.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("fsnotify.NewWatcher: %w", err)
	}
	defer func() { _ = fw.Close() }()

	if err := fw.Add(w.cfg.Dir); err != nil {
		return fmt.Errorf("watch directory %s: %w", w.cfg.Dir, err)
	}
	w.logger.Info().
		Str(xglog.FieldPath, w.cfg.Dir).
		Int("concurrency", w.cfg.Concurrency).
		Dur("settle", w.cfg.Settle).
		Msg("watching for audio files")

	if w.cfg.ScanExisting {
		w.scan()
	}

	var g errgroup.Group
	g.SetLimit(w.cfg.Concurrency)

	tick := time.NewTicker(w.cfg.Settle / 4)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info().Msg("watch stopping, waiting for in-flight compressions")
			return g.Wait()
		case ev, ok := <-fw.Events:
			if !ok {
				_ = g.Wait()
				return fmt.Errorf("watcher channel closed")
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				w.touch(ev.Name)
			}
		case err, ok := <-fw.Errors:
			if !ok {
				_ = g.Wait()
				return fmt.Errorf("watcher error channel closed")
			}
			w.logger.Warn().Err(err).Msg("fsnotify watcher error")
		case now := <-tick.C:
			w.dispatch(ctx, &g, now)
		}
	}
}

func (w *Watcher) scan() {
	entries, err := os.ReadDir(w.cfg.Dir)
	if err != nil {
		w.logger.Warn().Err(err).Str(xglog.FieldPath, w.cfg.Dir).Msg("initial scan failed")
		return
	}
	for _, e := range entries {
		if !e.IsDir() {
			w.touch(filepath.Join(w.cfg.Dir, e.Name()))
		}
	}
}

func (w *Watcher) touch(path string) {
	if !IsCandidate(path) {
		return
	}
	if w.cfg.IgnoreDir != "" && filepath.Clean(filepath.Dir(path)) == filepath.Clean(w.cfg.IgnoreDir) {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, done := w.seen[path]; done {
		return
	}
	w.pending[path] = time.Now()
}

// dispatch hands settled files to the group. A full group leaves them pending.
func (w *Watcher) dispatch(ctx context.Context, g *errgroup.Group, now time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for path, last := range w.pending {
		if now.Sub(last) < w.cfg.Settle {
			continue
		}
		if fi, err := os.Stat(path); err != nil || !fi.Mode().IsRegular() {
			delete(w.pending, path)
			continue
		}
		if !g.TryGo(func() error {
			w.process(ctx, path)
			return nil
		}) {
			return
		}
		delete(w.pending, path)
		w.seen[path] = struct{}{}
	}
}

func (w *Watcher) process(ctx context.Context, path string) {
	res, err := w.svc.Compress(ctx, path, w.cfg.Request)
	if err != nil {
		w.logger.Warn().
			Err(err).
			Str(xglog.FieldSourcePath, path).
			Str("code", string(compress.CodeOf(err))).
			Msg("compression failed")
	} else {
		w.logger.Info().
			Str(xglog.FieldSourcePath, path).
			Str(xglog.FieldOutputPath, res.OutputPath).
			Int64(xglog.FieldBytes, res.Bytes).
			Msg("compressed")
	}
	w.onResult(Outcome{Source: path, Result: res, Err: err})
}
