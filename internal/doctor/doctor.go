// Package doctor checks an auditstream configuration and its stored
// destinations for problems that would make streaming fail or misbehave.
package doctor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/mattjoyce/auditstream/internal/audit"
	"github.com/mattjoyce/auditstream/internal/config"
	"github.com/mattjoyce/auditstream/internal/registry"
)

// Result holds the outcome of a validation run.
type Result struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// Store is the read side of the destination store.
type Store interface {
	ListScopes(ctx context.Context, key string) ([]audit.Scope, error)
	GetConfig(ctx context.Context, scope audit.Scope, key string) (json.RawMessage, bool, error)
}

// Doctor validates configuration against the stored destinations.
type Doctor struct {
	cfg   *config.Config
	store Store
}

// New creates a Doctor. store may be nil to check the config file only.
func New(cfg *config.Config, store Store) *Doctor {
	return &Doctor{cfg: cfg, store: store}
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate(ctx context.Context) *Result {
	r := &Result{Valid: true}

	d.validateAPIConfig(r)
	d.warnCacheTTL(r)

	for _, sd := range d.cfg.Destinations.Seeds() {
		d.checkDestinations(r, "destinations."+fieldFor(sd.Scope), sd.Destinations)
	}
	stored := d.validateStored(ctx, r)
	d.validateChainSize(r, stored)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

func fieldFor(scope audit.Scope) string {
	if scope.Kind == audit.ScopeSite {
		return "sites." + scope.ID
	}
	return string(audit.ScopeInstallation)
}

// validateAPIConfig checks API server settings.
func (d *Doctor) validateAPIConfig(r *Result) {
	if !d.cfg.API.Enabled {
		return
	}
	if d.cfg.API.Auth.APIKey != "" && len(d.cfg.API.Auth.Tokens) > 0 {
		d.addWarning(r, "api", "api.auth.api_key",
			"api_key grants every scope; scoped tokens are bypassed by anyone holding it")
	}
	for i, tok := range d.cfg.API.Auth.Tokens {
		for _, s := range tok.Scopes {
			if strings.TrimSpace(s) == "*" {
				d.addWarning(r, "api", fmt.Sprintf("api.auth.tokens[%d].scopes", i),
					"wildcard scope grants full access")
			}
		}
	}
}

// warnCacheTTL flags a disabled destination cache.
func (d *Doctor) warnCacheTTL(r *Result) {
	if d.cfg.Streaming.CacheTTLOrDefault() == 0 {
		d.addWarning(r, "streaming", "streaming.cache_ttl",
			"cache disabled; every event reads destinations from the store")
	}
}

// checkDestinations reports invalid entries, duplicate ids and credentials
// sent in the clear.
func (d *Doctor) checkDestinations(r *Result, field string, dests []audit.Destination) {
	seen := make(map[string]bool, len(dests))
	for i, dest := range dests {
		f := fmt.Sprintf("%s[%d]", field, i)
		if err := registry.ValidateDestination(dest); err != nil {
			d.addError(r, "destinations", f, err.Error())
			continue
		}
		if seen[dest.ID] {
			d.addError(r, "destinations", f, fmt.Sprintf("duplicate id %q", dest.ID))
		}
		seen[dest.ID] = true

		if u, err := url.Parse(dest.URL); err == nil && u.Scheme == "http" && dest.Token != "" {
			d.addWarning(r, "destinations", f,
				fmt.Sprintf("%q sends a bearer token over plain http", dest.ID))
		}
	}
}

// validateStored decodes every stored scope and returns destination counts
// keyed by scope.
func (d *Doctor) validateStored(ctx context.Context, r *Result) map[audit.Scope]int {
	counts := make(map[audit.Scope]int)
	if d.store == nil {
		return counts
	}

	scopes, err := d.store.ListScopes(ctx, audit.DestinationsKey)
	if err != nil {
		d.addError(r, "state", "state.path", fmt.Sprintf("list scopes: %v", err))
		return counts
	}
	for _, scope := range scopes {
		field := "stored." + fieldFor(scope)
		raw, ok, err := d.store.GetConfig(ctx, scope, audit.DestinationsKey)
		if err != nil {
			d.addError(r, "state", field, err.Error())
			continue
		}
		if !ok {
			continue
		}
		var dests []audit.Destination
		if err := json.Unmarshal(raw, &dests); err != nil {
			d.addError(r, "state", field, fmt.Sprintf("undecodable destination list: %v", err))
			continue
		}
		d.checkDestinations(r, field, dests)
		counts[scope] = len(dests)
	}
	return counts
}

// validateChainSize reports scope chains that can never be admitted because
// they need more delivery slots than the limit allows.
func (d *Doctor) validateChainSize(r *Result, counts map[audit.Scope]int) {
	limit := d.cfg.Streaming.MaxConcurrentRequests
	inst := counts[audit.Installation()]
	if inst > limit {
		d.addError(r, "streaming", "streaming.max_concurrent_requests",
			fmt.Sprintf("installation has %d destinations but the limit is %d; every event would be rejected", inst, limit))
	}
	sites := make([]audit.Scope, 0, len(counts))
	for scope := range counts {
		if scope.Kind == audit.ScopeSite {
			sites = append(sites, scope)
		}
	}
	sort.Slice(sites, func(i, j int) bool { return sites[i].Key() < sites[j].Key() })
	for _, scope := range sites {
		if total := inst + counts[scope]; total > limit && inst <= limit {
			d.addError(r, "streaming", "streaming.max_concurrent_requests",
				fmt.Sprintf("%s chain has %d destinations but the limit is %d; its events would be rejected", scope, total, limit))
		}
	}
}

// FormatHuman returns a human-readable validation report.
func FormatHuman(r *Result) string {
	var b strings.Builder

	if r.Valid && len(r.Warnings) == 0 {
		b.WriteString("Configuration valid.\n")
		return b.String()
	}

	if r.Valid {
		fmt.Fprintf(&b, "Configuration valid (%d warning(s))\n", len(r.Warnings))
	} else {
		fmt.Fprintf(&b, "Configuration invalid (%d error(s), %d warning(s))\n", len(r.Errors), len(r.Warnings))
	}

	for _, e := range r.Errors {
		writeIssue(&b, "ERROR", e)
	}
	for _, w := range r.Warnings {
		writeIssue(&b, "WARN ", w)
	}
	return b.String()
}

func writeIssue(b *strings.Builder, label string, i Issue) {
	if i.Field != "" {
		fmt.Fprintf(b, "  %s [%s] %s: %s\n", label, i.Category, i.Field, i.Message)
		return
	}
	fmt.Fprintf(b, "  %s [%s] %s\n", label, i.Category, i.Message)
}

// FormatJSON returns the result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
