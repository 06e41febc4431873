package webhook

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mattjoyce/auditstream/internal/auth"
	"github.com/mattjoyce/auditstream/internal/delivery"
)

// Server receives audit deliveries over HTTP.
type Server struct {
	config Config
	sink   Sink
	logger *slog.Logger
	server *http.Server

	// endpoints maps URL paths to their configurations
	endpoints map[string]*EndpointConfig
	now       func() time.Time
}

// New creates a receiver. Endpoints without a MaxBodySize get the default.
func New(config Config, sink Sink, logger *slog.Logger) *Server {
	endpoints := make(map[string]*EndpointConfig)
	for i := range config.Endpoints {
		ep := &config.Endpoints[i]
		if ep.MaxBodySize == 0 {
			ep.MaxBodySize = DefaultMaxBodySize
		}
		endpoints[ep.Path] = ep
	}

	return &Server{
		config:    config,
		sink:      sink,
		logger:    logger,
		endpoints: endpoints,
		now:       time.Now,
	}
}

// Handler returns the routed handler without starting a listener.
func (s *Server) Handler() http.Handler {
	return s.setupRoutes()
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         s.config.Listen,
		Handler:      s.setupRoutes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("receiver starting", "listen", s.config.Listen, "endpoints", len(s.endpoints))

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("receiver shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("receiver shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("receiver error: %w", err)
	}
}

func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	for path := range s.endpoints {
		r.Post(path, s.handleReceive)
	}
	return r
}

// loggingMiddleware logs requests without their bodies.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.logger.Info("receiver request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
			"remote_addr", r.RemoteAddr,
		)
	})
}

func (s *Server) handleReceive(w http.ResponseWriter, r *http.Request) {
	endpoint, ok := s.endpoints[r.URL.Path]
	if !ok {
		s.respondError(w, http.StatusNotFound, "endpoint not found")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, endpoint.MaxBodySize+1))
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "failed to read request body")
		return
	}
	if int64(len(body)) > endpoint.MaxBodySize {
		s.respondError(w, http.StatusRequestEntityTooLarge, "payload too large")
		return
	}

	if got := r.Header.Get(delivery.HeaderDigest); got != "" && got != delivery.Digest(body) {
		s.logger.Warn("delivery digest mismatch", "path", r.URL.Path)
		s.respondError(w, http.StatusBadRequest, "digest mismatch")
		return
	}

	if endpoint.Token != "" {
		presented, err := auth.BearerToken(r)
		if err != nil || subtle.ConstantTimeCompare([]byte(presented), []byte(endpoint.Token)) != 1 {
			s.logger.Warn("delivery token rejected", "path", r.URL.Path)
			s.respondError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
	}

	if endpoint.Secret != "" {
		if err := delivery.Verify(body, r.Header.Get(delivery.HeaderSignature), endpoint.Secret); err != nil {
			s.logger.Warn("delivery signature verification failed", "path", r.URL.Path, "error", err)
			s.respondError(w, http.StatusForbidden, "forbidden")
			return
		}
	}

	if !json.Valid(body) {
		s.respondError(w, http.StatusBadRequest, "payload is not JSON")
		return
	}

	rec := Received{
		Path:       r.URL.Path,
		EventID:    r.Header.Get(delivery.HeaderEventID),
		Action:     r.Header.Get(delivery.HeaderAction),
		Signed:     endpoint.Secret != "",
		ReceivedAt: s.now().UTC(),
		Payload:    json.RawMessage(body),
	}
	if err := s.sink.Accept(r.Context(), rec); err != nil {
		s.logger.Error("failed to record delivery", "path", r.URL.Path, "event_id", rec.EventID, "error", err)
		s.respondError(w, http.StatusInternalServerError, "failed to record delivery")
		return
	}

	s.logger.Debug("delivery accepted", "path", r.URL.Path, "event_id", rec.EventID, "action", rec.Action)
	s.respondJSON(w, http.StatusAccepted, ReceiveResponse{EventID: rec.EventID})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("failed to encode JSON response", "error", err)
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, ErrorResponse{Error: message})
}
