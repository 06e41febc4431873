package main

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/mattjoyce/auditstream/internal/admission"
	"github.com/mattjoyce/auditstream/internal/config"
	"github.com/mattjoyce/auditstream/internal/configstore"
	"github.com/mattjoyce/auditstream/internal/delivery"
	"github.com/mattjoyce/auditstream/internal/dispatch"
	"github.com/mattjoyce/auditstream/internal/events"
	"github.com/mattjoyce/auditstream/internal/format"
	"github.com/mattjoyce/auditstream/internal/log"
	"github.com/mattjoyce/auditstream/internal/metrics"
	"github.com/mattjoyce/auditstream/internal/registry"
	"github.com/mattjoyce/auditstream/internal/storage"
)

// stack is the wired dispatch pipeline over one state database.
type stack struct {
	db         *sql.DB
	store      *configstore.Store
	registry   *registry.Registry
	editor     *registry.Editor
	formats    *format.Set
	admission  *admission.Controller
	hub        *events.Hub
	metrics    *metrics.Metrics
	dispatcher *dispatch.Dispatcher
}

func openStack(ctx context.Context, cfg *config.Config) (*stack, error) {
	db, err := storage.OpenSQLite(ctx, cfg.State.Path)
	if err != nil {
		return nil, err
	}

	store := configstore.New(db)
	ttl := cfg.Streaming.CacheTTLOrDefault()
	reg := registry.New(store, ttl, registry.WithLogger(log.WithComponent("registry")))

	s := &stack{
		db:        db,
		store:     store,
		registry:  reg,
		editor:    registry.NewEditor(store, reg),
		formats:   format.Default(),
		admission: admission.New(cfg.Streaming.MaxConcurrentRequests),
		hub:       events.NewHub(256),
		metrics:   metrics.New(),
	}
	s.metrics.SetCacheTTL(ttl)

	client := delivery.NewClient(delivery.Config{
		Timeout:   cfg.Streaming.RequestTimeout,
		UserAgent: cfg.Streaming.UserAgent,
	}, nil)
	s.dispatcher = dispatch.New(reg, s.formats, s.admission, client,
		dispatch.WithEvents(s.hub),
		dispatch.WithMetrics(s.metrics),
	)
	return s, nil
}

// seed replaces stored destinations with those declared in cfg, scope by
// scope. Scopes the config does not mention are left alone.
func (s *stack) seed(ctx context.Context, cfg *config.Config) (int, error) {
	n := 0
	for _, sd := range cfg.Destinations.Seeds() {
		if _, err := s.editor.Replace(ctx, sd.Scope, sd.Destinations); err != nil {
			return n, fmt.Errorf("seed %s: %w", sd.Scope, err)
		}
		n += len(sd.Destinations)
	}
	return n, nil
}

func (s *stack) Close() error {
	return s.db.Close()
}
