// Package api exposes audit ingestion, destination management and the
// activity feed over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mattjoyce/auditstream/internal/audit"
	"github.com/mattjoyce/auditstream/internal/auth"
	"github.com/mattjoyce/auditstream/internal/events"
)

// EventLogger streams one audit event.
type EventLogger interface {
	LogEventOrThrow(ctx context.Context, actor *audit.User, ev audit.Event) error
}

// DestinationEditor reads and changes a scope's destinations.
type DestinationEditor interface {
	List(ctx context.Context, scope audit.Scope) ([]audit.Destination, error)
	Replace(ctx context.Context, scope audit.Scope, dests []audit.Destination) ([]audit.Destination, error)
	Add(ctx context.Context, scope audit.Scope, dest audit.Destination) (audit.Destination, error)
	Remove(ctx context.Context, scope audit.Scope, id string) error
}

// Feed is the activity stream served on /events.
type Feed interface {
	events.Publisher
	Since(after int64) []events.Event
	Subscribe() (<-chan events.Event, func())
}

// Capacity reports admission usage for /healthz.
type Capacity interface {
	InFlight() int
	Limit() int
}

// Config holds API server configuration.
type Config struct {
	Listen string
	// APIKey grants every scope.
	APIKey string
	Tokens []auth.TokenConfig
	// MaxBodyBytes caps request bodies; zero means DefaultMaxBodyBytes.
	MaxBodyBytes int64
}

// DefaultMaxBodyBytes is the request body cap when none is configured.
const DefaultMaxBodyBytes = 1 << 20

// Deps are the components the server fronts. Metrics and Capacity may be nil.
type Deps struct {
	Dispatcher EventLogger
	Editor     DestinationEditor
	Feed       Feed
	Capacity   Capacity
	Metrics    http.Handler
}

// Server is the HTTP API server.
type Server struct {
	config    Config
	deps      Deps
	auth      *auth.Authenticator
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time
}

// New creates a Server.
func New(config Config, deps Deps, logger *slog.Logger) *Server {
	if config.MaxBodyBytes <= 0 {
		config.MaxBodyBytes = DefaultMaxBodyBytes
	}
	return &Server{
		config:    config,
		deps:      deps,
		auth:      auth.NewAuthenticator(config.APIKey, config.Tokens),
		logger:    logger,
		startedAt: time.Now(),
	}
}

// Handler returns the routed handler without starting a listener.
func (s *Server) Handler() http.Handler {
	return s.setupRoutes()
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.config.Listen,
		Handler:           s.setupRoutes(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
		// No WriteTimeout: /events is a long-lived stream.
	}

	s.logger.Info("API server starting", "listen", s.config.Listen)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("API server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)
	if s.deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.deps.Metrics)
	}

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.With(s.requireScopes(auth.ScopeAuditWrite)).Post("/v1/events", s.handleLogEvent)

		r.Route("/v1/destinations", func(r chi.Router) {
			r.With(s.requireScopes(auth.ScopeDestinationsRO)).Get("/", s.handleListDestinations)
			r.With(s.requireScopes(auth.ScopeDestinationsRW)).Put("/", s.handleReplaceDestinations)
			r.With(s.requireScopes(auth.ScopeDestinationsRW)).Post("/", s.handleAddDestination)
			r.With(s.requireScopes(auth.ScopeDestinationsRW)).Delete("/{id}", s.handleRemoveDestination)
		})

		r.With(s.requireScopes(auth.ScopeEventsRO)).Get("/events", s.handleEvents)
	})

	return r
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
