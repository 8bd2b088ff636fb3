// Package server wires handlers and middleware into a chi router and runs
// the HTTP server.
//
// ROUTES:
//
//	GET  /health              liveness probe
//	GET  /metrics             Prometheus metrics
//	GET  /languages           accepted language ids
//	GET  /capabilities        what the isolation backend enforces
//	POST /auth/token          client credentials → bearer token (auth enabled)
//	POST /execute             run code (rate limited, auth when enabled)
//	GET  /executions          list executions (auth when enabled)
//	GET  /executions/{id}     one execution (auth when enabled)
//
// MIDDLEWARE ORDER:
// RequestID → RealIP → Logger → Recoverer → CORS run on every request.
// RequestID comes first so the logger can print it; RealIP must run before
// the rate limiter keys on RemoteAddr.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sakif/code-runner/internal/auth"
	"github.com/sakif/code-runner/internal/handler"
	"github.com/sakif/code-runner/internal/middleware"
)

// Config holds server settings.
type Config struct {
	Port        int
	CORSOrigins []string
	// ShutdownTimeout bounds how long in-flight requests may take once the
	// server is asked to stop.
	ShutdownTimeout time.Duration
	// WriteTimeout must exceed the longest synchronous execution.
	WriteTimeout time.Duration
}

// Deps are the collaborators built by main. Optional fields may be nil.
type Deps struct {
	Executions handler.ExecutionService
	// Auth and Tokens are both set when bearer auth is enabled.
	Auth   handler.TokenIssuer
	Tokens *auth.TokenService
	// Limiter throttles POST /execute per client IP.
	Limiter *middleware.RateLimiter
}

// Server is the HTTP front of the engine.
type Server struct {
	router *chi.Mux
	config Config
	deps   Deps
	logger *slog.Logger
}

// New builds the router. It does not listen; call Start.
func New(cfg Config, deps Deps, logger *slog.Logger) (*Server, error) {
	if deps.Executions == nil {
		return nil, errors.New("server: execution service is required")
	}
	if (deps.Auth == nil) != (deps.Tokens == nil) {
		return nil, errors.New("server: auth service and token service must be set together")
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 2 * time.Minute
	}

	s := &Server{
		router: chi.NewRouter(),
		config: cfg,
		deps:   deps,
		logger: logger,
	}
	s.setupRoutes()
	return s, nil
}

// Handler exposes the router, mainly for httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(middleware.Logger(s.logger))
	s.router.Use(chimiddleware.Recoverer)
	if len(s.config.CORSOrigins) > 0 {
		s.router.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.config.CORSOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
			ExposedHeaders: []string{"Location", "X-Request-Id"},
			MaxAge:         300,
		}))
	}

	executions := handler.NewExecuteHandler(s.deps.Executions, s.logger)

	s.router.Get("/health", handler.HandleHealth)
	s.router.Handle("/metrics", promhttp.Handler())
	s.router.Get("/languages", executions.HandleLanguages)
	s.router.Get("/capabilities", executions.HandleCapabilities)

	if s.deps.Auth != nil {
		authHandler := handler.NewAuthHandler(s.deps.Auth, s.logger)
		s.router.Post("/auth/token", authHandler.HandleToken)
	}

	s.router.Group(func(r chi.Router) {
		if s.deps.Tokens != nil {
			r.Use(auth.RequireAuth(s.deps.Tokens))
		}

		r.With(s.rateLimit).Post("/execute", executions.HandleExecute)
		r.Get("/executions", executions.HandleList)
		r.Get("/executions/{id}", executions.HandleGet)
	})
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	if s.deps.Limiter == nil {
		return next
	}
	return s.deps.Limiter.Middleware(next)
}

// Start serves until ctx is cancelled, then drains in-flight requests for
// up to ShutdownTimeout. It returns nil after a clean shutdown.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      s.config.WriteTimeout,
		IdleTimeout:       60 * time.Second,
	}

	if s.deps.Limiter != nil {
		go s.sweepLimiter(ctx)
	}

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Port),
			slog.String("url", fmt.Sprintf("http://localhost:%d", s.config.Port)),
			slog.Bool("auth", s.deps.Tokens != nil),
			slog.Bool("rate_limit", s.deps.Limiter != nil),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil

	case <-ctx.Done():
		s.logger.Info("server shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
		return nil
	}
}

func (s *Server) sweepLimiter(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			remaining := s.deps.Limiter.Sweep()
			s.logger.Debug("rate limiter swept", slog.Int("clients", remaining))
		}
	}
}
