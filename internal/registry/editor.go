package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/mattjoyce/auditstream/internal/audit"
)

// ErrDestinationNotFound is returned when removing an unknown destination.
var ErrDestinationNotFound = errors.New("destination not found")

// Editor changes destination configuration and keeps the registry cache
// coherent with the writes it makes.
type Editor struct {
	store    ConfigWriter
	registry *Registry

	// Serializes read-modify-write cycles from this process.
	mu sync.Mutex
}

// NewEditor returns an Editor writing to store. Successful writes invalidate
// the matching scope in reg.
func NewEditor(store ConfigWriter, reg *Registry) *Editor {
	return &Editor{store: store, registry: reg}
}

// List reads the stored destinations for scope, bypassing the cache.
func (e *Editor) List(ctx context.Context, scope audit.Scope) ([]audit.Destination, error) {
	raw, found, err := e.store.GetConfig(ctx, scope, audit.DestinationsKey)
	if err != nil {
		return nil, &Error{Scope: scope, Err: err}
	}
	if !found {
		return []audit.Destination{}, nil
	}
	dests, err := DecodeDestinations(raw)
	if err != nil {
		return nil, &Error{Scope: scope, Err: err}
	}
	return dests, nil
}

// Replace stores dests as the full list for scope. Destinations without an
// id are assigned one. An empty list removes the configuration.
func (e *Editor) Replace(ctx context.Context, scope audit.Scope, dests []audit.Destination) ([]audit.Destination, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.replaceLocked(ctx, scope, dests)
}

// Add appends one destination to scope and returns it with its id set.
func (e *Editor) Add(ctx context.Context, scope audit.Scope, dest audit.Destination) (audit.Destination, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	current, err := e.List(ctx, scope)
	if err != nil {
		return audit.Destination{}, err
	}
	if dest.ID == "" {
		dest.ID = uuid.NewString()
	}
	for _, d := range current {
		if d.ID == dest.ID {
			return audit.Destination{}, fmt.Errorf("%w: %q already exists in %s", ErrInvalidDestination, dest.ID, scope)
		}
	}
	if _, err := e.replaceLocked(ctx, scope, append(current, dest)); err != nil {
		return audit.Destination{}, err
	}
	return dest, nil
}

// Remove deletes the destination with id from scope.
func (e *Editor) Remove(ctx context.Context, scope audit.Scope, id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	current, err := e.List(ctx, scope)
	if err != nil {
		return err
	}
	kept := make([]audit.Destination, 0, len(current))
	for _, d := range current {
		if d.ID != id {
			kept = append(kept, d)
		}
	}
	if len(kept) == len(current) {
		return ErrDestinationNotFound
	}
	_, err = e.replaceLocked(ctx, scope, kept)
	return err
}

func (e *Editor) replaceLocked(ctx context.Context, scope audit.Scope, dests []audit.Destination) ([]audit.Destination, error) {
	dests, err := e.unmask(ctx, scope, dests)
	if err != nil {
		return nil, err
	}

	out := make([]audit.Destination, len(dests))
	seen := make(map[string]struct{}, len(dests))
	for i, d := range dests {
		if d.ID == "" {
			d.ID = uuid.NewString()
		}
		if err := ValidateDestination(d); err != nil {
			return nil, err
		}
		if _, dup := seen[d.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate id %q", ErrInvalidDestination, d.ID)
		}
		seen[d.ID] = struct{}{}
		out[i] = d
	}

	if len(out) == 0 {
		if err := e.store.DeleteConfig(ctx, scope, audit.DestinationsKey); err != nil {
			return nil, err
		}
	} else {
		raw, err := json.Marshal(out)
		if err != nil {
			return nil, fmt.Errorf("marshal destinations: %w", err)
		}
		if err := e.store.SetConfig(ctx, scope, audit.DestinationsKey, raw); err != nil {
			return nil, err
		}
	}

	if e.registry != nil {
		e.registry.Invalidate(scope)
	}
	return out, nil
}

// unmask restores credentials sent back as audit.RedactedMask from the stored
// destination with the same id, so a listed-then-replaced set keeps its
// secrets. A mask with no stored value to restore is rejected.
func (e *Editor) unmask(ctx context.Context, scope audit.Scope, dests []audit.Destination) ([]audit.Destination, error) {
	masked := false
	for _, d := range dests {
		if d.Token == audit.RedactedMask || d.Secret == audit.RedactedMask {
			masked = true
			break
		}
	}
	if !masked {
		return dests, nil
	}

	current, err := e.List(ctx, scope)
	if err != nil {
		return nil, err
	}
	stored := make(map[string]audit.Destination, len(current))
	for _, d := range current {
		stored[d.ID] = d
	}

	out := make([]audit.Destination, len(dests))
	for i, d := range dests {
		prev, ok := stored[d.ID]
		if d.Token == audit.RedactedMask {
			if !ok || prev.Token == "" {
				return nil, fmt.Errorf("%w %q: token is redacted and no stored token exists", ErrInvalidDestination, d.ID)
			}
			d.Token = prev.Token
		}
		if d.Secret == audit.RedactedMask {
			if !ok || prev.Secret == "" {
				return nil, fmt.Errorf("%w %q: secret is redacted and no stored secret exists", ErrInvalidDestination, d.ID)
			}
			d.Secret = prev.Secret
		}
		out[i] = d
	}
	return out, nil
}
