package config

import (
	"sort"
	"time"

	"github.com/mattjoyce/auditstream/internal/audit"
)

// Config represents the complete auditstream configuration.
type Config struct {
	Service      ServiceConfig      `yaml:"service"`
	State        StateConfig        `yaml:"state"`
	API          APIConfig          `yaml:"api,omitempty"`
	Streaming    StreamingConfig    `yaml:"streaming"`
	Destinations DestinationsConfig `yaml:"destinations,omitempty"`

	// SourcePath is the absolute path the config was loaded from.
	SourcePath string `yaml:"-"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name      string `yaml:"name"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// StateConfig defines where the destination store lives.
type StateConfig struct {
	Path string `yaml:"path"`
}

// APIConfig defines HTTP API server settings.
type APIConfig struct {
	Enabled bool          `yaml:"enabled"`
	Listen  string        `yaml:"listen"`
	Auth    APIAuthConfig `yaml:"auth"`
}

// APIAuthConfig defines API authentication settings.
type APIAuthConfig struct {
	// APIKey grants every scope. Prefer Tokens for scoped access.
	APIKey string     `yaml:"api_key"`
	Tokens []APIToken `yaml:"tokens,omitempty"`
}

// APIToken defines a bearer token and its scopes.
type APIToken struct {
	Token  string   `yaml:"token"`
	Scopes []string `yaml:"scopes"`
}

// StreamingConfig tunes the dispatcher.
type StreamingConfig struct {
	// CacheTTL is how long a scope's destinations are reused. Zero disables
	// caching; unset means the default.
	CacheTTL              *time.Duration `yaml:"cache_ttl,omitempty"`
	MaxConcurrentRequests int            `yaml:"max_concurrent_requests"`
	RequestTimeout        time.Duration  `yaml:"request_timeout"`
	UserAgent             string         `yaml:"user_agent"`
}

// CacheTTLOrDefault returns the effective cache lifetime.
func (s StreamingConfig) CacheTTLOrDefault() time.Duration {
	if s.CacheTTL == nil {
		return DefaultCacheTTL
	}
	return *s.CacheTTL
}

// DestinationConfig is a destination declared in the config file.
type DestinationConfig struct {
	ID     string `yaml:"id"`
	Name   string `yaml:"name"`
	URL    string `yaml:"url"`
	Token  string `yaml:"token,omitempty"`
	Secret string `yaml:"secret,omitempty"`
}

func (d DestinationConfig) destination() audit.Destination {
	return audit.Destination{ID: d.ID, Name: d.Name, URL: d.URL, Token: d.Token, Secret: d.Secret}
}

// DestinationsConfig seeds the destination store at startup.
type DestinationsConfig struct {
	Installation []DestinationConfig            `yaml:"installation,omitempty"`
	Sites        map[string][]DestinationConfig `yaml:"sites,omitempty"`
}

// ScopedDestinations is the seed list for one scope.
type ScopedDestinations struct {
	Scope        audit.Scope
	Destinations []audit.Destination
}

// Seeds returns the declared destinations grouped by scope: installation
// first, then sites sorted by id. Nil when nothing is declared.
func (d DestinationsConfig) Seeds() []ScopedDestinations {
	var out []ScopedDestinations
	if len(d.Installation) > 0 {
		out = append(out, ScopedDestinations{Scope: audit.Installation(), Destinations: convert(d.Installation)})
	}
	ids := make([]string, 0, len(d.Sites))
	for id := range d.Sites {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		out = append(out, ScopedDestinations{Scope: audit.Site(id), Destinations: convert(d.Sites[id])})
	}
	return out
}

func convert(in []DestinationConfig) []audit.Destination {
	out := make([]audit.Destination, len(in))
	for i, d := range in {
		out[i] = d.destination()
	}
	return out
}

// Default values.
const (
	DefaultCacheTTL              = 60 * time.Second
	DefaultMaxConcurrentRequests = 100
	DefaultRequestTimeout        = 10 * time.Second
)

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	ttl := DefaultCacheTTL
	return &Config{
		Service: ServiceConfig{
			Name:      "auditstream",
			LogLevel:  "info",
			LogFormat: "json",
		},
		State: StateConfig{
			Path: "./data/auditstream.db",
		},
		API: APIConfig{
			Enabled: false,
			Listen:  "127.0.0.1:8080",
		},
		Streaming: StreamingConfig{
			CacheTTL:              &ttl,
			MaxConcurrentRequests: DefaultMaxConcurrentRequests,
			RequestTimeout:        DefaultRequestTimeout,
			UserAgent:             "auditstream/1",
		},
	}
}
