// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package api exposes compression over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/ManuGH/aacpress/internal/api/middleware"
	"github.com/ManuGH/aacpress/internal/audio"
	"github.com/ManuGH/aacpress/internal/compress"
	"github.com/ManuGH/aacpress/internal/health"
	xglog "github.com/ManuGH/aacpress/internal/log"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const maxRequestBody = 64 << 10

// Compressor is the service behind POST /api/v1/compress.
type Compressor interface {
	Compress(ctx context.Context, source string, req audio.CompressionRequest) (compress.Result, error)
}

// Config configures a Server.
type Config struct {
	ListenAddr string
	// RateLimit is compress requests per minute per client IP; 0 disables it.
	RateLimit       int
	TracingService  string
	ShutdownTimeout time.Duration
	// Health backs /healthz and /readyz; nil serves an always-ready manager.
	Health *health.Manager
}

// Server serves the compression API.
type Server struct {
	cfg    Config
	svc    Compressor
	logger zerolog.Logger
}

// New returns a Server.
func New(cfg Config, svc Compressor, logger zerolog.Logger) *Server {
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.Health == nil {
		cfg.Health = health.NewManager("")
	}
	return &Server{
		cfg:    cfg,
		svc:    svc,
		logger: logger.With().Str(xglog.FieldComponent, "api").Logger(),
	}
}

// Handler returns the router with all routes and middleware applied.
func (s *Server) Handler() http.Handler {
	r := middleware.NewRouter(middleware.StackConfig{
		EnableMetrics:  true,
		TracingService: s.cfg.TracingService,
		EnableLogging:  true,
	})

	r.Get("/healthz", s.cfg.Health.ServeHealth)
	r.Get("/readyz", s.cfg.Health.ServeReady)
	r.Handle("/metrics", promhttp.Handler())
	r.Route("/api/v1", func(r chi.Router) {
		if s.cfg.RateLimit > 0 {
			r.With(middleware.CompressRateLimit(s.cfg.RateLimit)).Post("/compress", s.handleCompress)
		} else {
			r.Post("/compress", s.handleCompress)
		}
	})
	return r
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.ListenAddr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is ListenAndServe on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", ln.Addr().String()).Msg("api listening")
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info().Msg("shutting down api server")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("api shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// CompressRequest is the body of POST /api/v1/compress.
type CompressRequest struct {
	Source  string         `json:"source"`
	Options map[string]any `json:"options,omitempty"`
}

// CompressResponse is the success body of POST /api/v1/compress.
type CompressResponse struct {
	URI          string `json:"uri"`
	Path         string `json:"path"`
	BitrateBps   uint32 `json:"bitrate"`
	SampleRateHz uint32 `json:"sampleRate"`
	ChannelCount uint8  `json:"channels"`
	Bytes        int64  `json:"bytes"`
	DurationMs   int64  `json:"durationMs"`
}

// ErrorResponse carries a stable code.
type ErrorResponse struct {
	Code      compress.Code `json:"code"`
	Message   string        `json:"message"`
	RequestID string        `json:"requestId,omitempty"`
}

func (s *Server) handleCompress(w http.ResponseWriter, r *http.Request) {
	logger := xglog.WithContext(r.Context(), s.logger)

	var body CompressRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		s.writeError(w, r, &compress.Error{Code: compress.CodeInvalidInput, Message: "malformed request body", Err: err})
		return
	}

	req, err := compress.ParseOptions(body.Options, logger)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	res, err := s.svc.Compress(r.Context(), body.Source, req)
	if err != nil {
		logger.Warn().Err(err).Str(xglog.FieldSourcePath, body.Source).Msg("compression request failed")
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, CompressResponse{
		URI:          res.OutputURI,
		Path:         res.OutputPath,
		BitrateBps:   res.Params.BitrateBps,
		SampleRateHz: res.Params.SampleRateHz,
		ChannelCount: res.Params.ChannelCount,
		Bytes:        res.Bytes,
		DurationMs:   res.Duration.Milliseconds(),
	})
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := compress.CodeOf(err)
	msg := "unexpected error"
	var ce *compress.Error
	if errors.As(err, &ce) {
		msg = ce.Message
	}
	writeJSON(w, statusFor(code), ErrorResponse{
		Code:      code,
		Message:   msg,
		RequestID: xglog.RequestIDFromContext(r.Context()),
	})
}

func statusFor(code compress.Code) int {
	switch code {
	case compress.CodeInvalidInput, compress.CodeInvalidPath, compress.CodeInvalidParams:
		return http.StatusBadRequest
	case compress.CodeFileNotFound:
		return http.StatusNotFound
	case compress.CodeFileNotReadable:
		return http.StatusForbidden
	case compress.CodeNoAudioTrack, compress.CodeExtractionFailed:
		return http.StatusUnprocessableEntity
	case compress.CodeEncoderUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
