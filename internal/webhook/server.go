package webhook

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mattjoyce/chatrelay/internal/log"
)

// Server represents the webhook HTTP server.
type Server struct {
	config     Config
	controller *Controller
	logger     *slog.Logger
	server     *http.Server
}

// New creates a new webhook server instance.
func New(config Config, controller *Controller, logger *slog.Logger) *Server {
	config.applyDefaults()
	if logger == nil {
		logger = log.WithComponent("webhook")
	}
	return &Server{
		config:     config,
		controller: controller,
		logger:     logger,
	}
}

// Start starts the webhook HTTP server (blocking) and drains it when ctx ends.
func (s *Server) Start(ctx context.Context) error {
	readTimeout := s.config.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = 10 * time.Second
	}
	writeTimeout := s.config.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 35 * time.Second
	}

	s.server = &http.Server{
		Addr:         s.config.Listen,
		Handler:      s.Handler(),
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("webhook server starting", "listen", s.config.Listen, "path", s.config.Path)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("webhook server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("webhook server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("webhook server error: %w", err)
	}
}

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Get(s.config.Path, s.controller.HandleVerify)
	r.Post(s.config.Path, s.controller.HandleEvent)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		respondOK(w)
	})

	return r
}

// loggingMiddleware logs HTTP requests (excludes payloads, which carry user text).
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.logger.Info("webhook request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
			"remote_addr", r.RemoteAddr,
		)
	})
}
