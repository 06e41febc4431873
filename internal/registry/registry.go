// Package registry resolves the streaming destinations configured for a
// scope, caching each scope's list for a bounded time.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"slices"
	"sync"
	"time"

	"github.com/mattjoyce/auditstream/internal/audit"
	"github.com/mattjoyce/auditstream/internal/log"
)

// Error reports that the destinations of a scope could not be resolved.
type Error struct {
	Scope audit.Scope
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("resolve destinations for %s: %v", e.Scope, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

type cacheEntry struct {
	destinations []audit.Destination
	fetchedAt    time.Time
}

// Registry resolves destinations per scope with a TTL cache. A TTL of zero
// disables caching.
type Registry struct {
	store  ConfigStore
	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger

	mu    sync.RWMutex
	cache map[string]cacheEntry
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock overrides the time source used for cache freshness.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithLogger sets the registry logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// New creates a Registry reading from store.
func New(store ConfigStore, ttl time.Duration, opts ...Option) *Registry {
	if ttl < 0 {
		ttl = 0
	}
	r := &Registry{
		store:  store,
		ttl:    ttl,
		now:    time.Now,
		logger: log.WithComponent("registry"),
		cache:  make(map[string]cacheEntry),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// TTL returns the configured cache lifetime.
func (r *Registry) TTL() time.Duration { return r.ttl }

// Resolve returns the destinations configured at scope, in stored order.
// A scope with nothing configured resolves to an empty list.
func (r *Registry) Resolve(ctx context.Context, scope audit.Scope) ([]audit.Destination, error) {
	key := scope.Key()

	if r.ttl > 0 {
		r.mu.RLock()
		entry, ok := r.cache[key]
		r.mu.RUnlock()
		if ok && r.fresh(entry) {
			return slices.Clone(entry.destinations), nil
		}
	}

	raw, found, err := r.store.GetConfig(ctx, scope, audit.DestinationsKey)
	if err != nil {
		return nil, &Error{Scope: scope, Err: err}
	}

	var dests []audit.Destination
	if found {
		dests, err = DecodeDestinations(raw)
		if err != nil {
			return nil, &Error{Scope: scope, Err: err}
		}
	}

	if r.ttl > 0 {
		r.mu.Lock()
		r.cache[key] = cacheEntry{destinations: dests, fetchedAt: r.now()}
		r.mu.Unlock()
	}

	r.logger.Debug("resolved destinations", "scope", key, "count", len(dests))
	return slices.Clone(dests), nil
}

// Invalidate drops any cached entry for scope.
func (r *Registry) Invalidate(scope audit.Scope) {
	r.mu.Lock()
	delete(r.cache, scope.Key())
	r.mu.Unlock()
}

func (r *Registry) fresh(e cacheEntry) bool {
	return r.now().Sub(e.fetchedAt) < r.ttl
}

// DecodeDestinations parses and validates a stored destination list.
func DecodeDestinations(raw json.RawMessage) ([]audit.Destination, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var dests []audit.Destination
	if err := json.Unmarshal(raw, &dests); err != nil {
		return nil, fmt.Errorf("decode %s: %w", audit.DestinationsKey, err)
	}
	for i, d := range dests {
		if err := ValidateDestination(d); err != nil {
			return nil, fmt.Errorf("%s[%d]: %w", audit.DestinationsKey, i, err)
		}
	}
	return dests, nil
}

// ErrInvalidDestination marks a destination rejected by validation.
var ErrInvalidDestination = errors.New("invalid destination")

// ValidateDestination checks the fields a delivery needs.
func ValidateDestination(d audit.Destination) error {
	if d.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidDestination)
	}
	if d.URL == "" {
		return fmt.Errorf("%w %q: url is required", ErrInvalidDestination, d.ID)
	}
	u, err := url.Parse(d.URL)
	if err != nil {
		return fmt.Errorf("%w %q: %v", ErrInvalidDestination, d.ID, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w %q: url scheme must be http or https (got %q)", ErrInvalidDestination, d.ID, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("%w %q: url host is required", ErrInvalidDestination, d.ID)
	}
	return nil
}
