// Package audit defines the records that flow through the streaming
// dispatcher: events, the acting user, configuration scopes and the remote
// destinations events are streamed to.
package audit

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DestinationsKey is the config key holding a scope's destination list.
const DestinationsKey = "audit_log_streaming_destinations"

// ScopeKind identifies the level at which destinations are configured.
type ScopeKind string

const (
	ScopeInstallation ScopeKind = "installation"
	ScopeSite         ScopeKind = "site"
)

// Scope is a configuration boundary: the whole installation or one site.
type Scope struct {
	Kind ScopeKind `json:"kind"`
	ID   string    `json:"id,omitempty"`
}

// Installation returns the installation-wide scope.
func Installation() Scope {
	return Scope{Kind: ScopeInstallation}
}

// Site returns the scope of a single site (tenant).
func Site(id string) Scope {
	return Scope{Kind: ScopeSite, ID: id}
}

// Key is the stable string form used for storage and cache lookups.
func (s Scope) Key() string {
	if s.Kind == ScopeSite {
		return "site:" + s.ID
	}
	return string(ScopeInstallation)
}

func (s Scope) String() string { return s.Key() }

// ParseScope is the inverse of Key.
func ParseScope(key string) (Scope, bool) {
	if key == string(ScopeInstallation) {
		return Installation(), true
	}
	if id, ok := strings.CutPrefix(key, "site:"); ok && id != "" {
		return Site(id), true
	}
	return Scope{}, false
}

// SiteContext carries the site an event belongs to.
type SiteContext struct {
	ID string `json:"id"`
}

// Context holds the scope identifiers attached to an event.
type Context struct {
	Site *SiteContext `json:"site,omitempty"`
}

// User is the identity that performed the audited action.
type User struct {
	ID    string `json:"id,omitempty"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
}

// Event is a single auditable action. Treat it as immutable once created.
type Event struct {
	ID        string          `json:"id"`
	Action    string          `json:"action"`
	Timestamp time.Time       `json:"timestamp"`
	Context   Context         `json:"context"`
	Details   json.RawMessage `json:"details,omitempty"`
}

// NewEvent stamps an event with a fresh id and the current time.
func NewEvent(action string, ctx Context, details json.RawMessage) Event {
	return Event{
		ID:        uuid.NewString(),
		Action:    action,
		Timestamp: time.Now().UTC(),
		Context:   ctx,
		Details:   details,
	}
}

// Normalized returns a copy with the id and timestamp filled in when missing.
func (e Event) Normalized() Event {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	return e
}

// Scopes returns the scope chain of the event: the installation always,
// followed by the site when the event carries site context.
func (e Event) Scopes() []Scope {
	scopes := []Scope{Installation()}
	if e.Context.Site != nil && e.Context.Site.ID != "" {
		scopes = append(scopes, Site(e.Context.Site.ID))
	}
	return scopes
}

// Destination is one externally configured HTTP sink.
type Destination struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	URL    string `json:"url"`
	Token  string `json:"token,omitempty"`
	Secret string `json:"secret,omitempty"`
}

// RedactedMask replaces credentials in operator-facing copies.
const RedactedMask = "********"

// Redacted returns a copy safe to show to operators.
func (d Destination) Redacted() Destination {
	if d.Token != "" {
		d.Token = RedactedMask
	}
	if d.Secret != "" {
		d.Secret = RedactedMask
	}
	return d
}
