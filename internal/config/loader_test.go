package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mattjoyce/auditstream/internal/audit"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		env     map[string]string
		wantErr string
		checkFn func(t *testing.T, cfg *Config)
	}{
		{
			name: "empty file gets defaults",
			yaml: "{}\n",
			checkFn: func(t *testing.T, cfg *Config) {
				if cfg.Service.Name != "auditstream" {
					t.Errorf("service.name = %q", cfg.Service.Name)
				}
				if cfg.Streaming.CacheTTLOrDefault() != DefaultCacheTTL {
					t.Errorf("cache_ttl = %v", cfg.Streaming.CacheTTLOrDefault())
				}
				if cfg.Streaming.MaxConcurrentRequests != DefaultMaxConcurrentRequests {
					t.Errorf("max_concurrent_requests = %d", cfg.Streaming.MaxConcurrentRequests)
				}
				if cfg.Streaming.RequestTimeout != DefaultRequestTimeout {
					t.Errorf("request_timeout = %v", cfg.Streaming.RequestTimeout)
				}
				if cfg.SourcePath == "" {
					t.Error("source path not recorded")
				}
			},
		},
		{
			name: "streaming settings",
			yaml: `
streaming:
  cache_ttl: 0s
  max_concurrent_requests: 4
  request_timeout: 2s
  user_agent: test-agent
`,
			checkFn: func(t *testing.T, cfg *Config) {
				if cfg.Streaming.CacheTTLOrDefault() != 0 {
					t.Errorf("explicit zero ttl lost: %v", cfg.Streaming.CacheTTLOrDefault())
				}
				if cfg.Streaming.MaxConcurrentRequests != 4 {
					t.Errorf("max_concurrent_requests = %d", cfg.Streaming.MaxConcurrentRequests)
				}
				if cfg.Streaming.RequestTimeout != 2*time.Second {
					t.Errorf("request_timeout = %v", cfg.Streaming.RequestTimeout)
				}
				if cfg.Streaming.UserAgent != "test-agent" {
					t.Errorf("user_agent = %q", cfg.Streaming.UserAgent)
				}
			},
		},
		{
			name: "env overrides",
			yaml: "streaming:\n  cache_ttl: 30s\n",
			env:  map[string]string{EnvCacheTTLMS: "0", EnvMaxConcurrentRequests: "3"},
			checkFn: func(t *testing.T, cfg *Config) {
				if cfg.Streaming.CacheTTLOrDefault() != 0 {
					t.Errorf("CACHE_TTL_MS not applied: %v", cfg.Streaming.CacheTTLOrDefault())
				}
				if cfg.Streaming.MaxConcurrentRequests != 3 {
					t.Errorf("MAX_CONCURRENT_REQUESTS not applied: %d", cfg.Streaming.MaxConcurrentRequests)
				}
			},
		},
		{
			name:    "bad env override",
			yaml:    "{}\n",
			env:     map[string]string{EnvMaxConcurrentRequests: "zero"},
			wantErr: EnvMaxConcurrentRequests,
		},
		{
			name: "env interpolation and destinations",
			yaml: `
state:
  path: ${AS_DB}
destinations:
  installation:
    - id: siem
      name: SIEM
      url: https://siem.example.com/in
      token: ${AS_SIEM_TOKEN}
  sites:
    s2:
      - id: b
        url: https://b.example.com
    s1:
      - id: a
        url: https://a.example.com
        secret: shh
`,
			env: map[string]string{"AS_DB": "/tmp/as.db", "AS_SIEM_TOKEN": "tok"},
			checkFn: func(t *testing.T, cfg *Config) {
				if cfg.State.Path != "/tmp/as.db" {
					t.Errorf("state.path = %q", cfg.State.Path)
				}
				seeds := cfg.Destinations.Seeds()
				if len(seeds) != 3 {
					t.Fatalf("len(seeds) = %d, want 3", len(seeds))
				}
				if seeds[0].Scope != audit.Installation() || seeds[0].Destinations[0].Token != "tok" {
					t.Errorf("installation seed = %+v", seeds[0])
				}
				if seeds[1].Scope != audit.Site("s1") || seeds[2].Scope != audit.Site("s2") {
					t.Errorf("sites not sorted: %v, %v", seeds[1].Scope, seeds[2].Scope)
				}
				if seeds[1].Destinations[0].Secret != "shh" {
					t.Error("secret not parsed")
				}
			},
		},
		{
			name:    "unresolved destination token",
			yaml:    "destinations:\n  installation:\n    - id: a\n      url: https://a.example.com\n      token: ${AS_UNSET_TOKEN}\n",
			wantErr: "AS_UNSET_TOKEN",
		},
		{
			name:    "invalid destination url",
			yaml:    "destinations:\n  installation:\n    - id: a\n      url: ftp://a.example.com\n",
			wantErr: "scheme",
		},
		{
			name:    "duplicate destination id",
			yaml:    "destinations:\n  installation:\n    - id: a\n      url: https://a.example.com\n    - id: a\n      url: https://b.example.com\n",
			wantErr: "duplicate",
		},
		{
			name:    "bad log level",
			yaml:    "service:\n  log_level: loud\n",
			wantErr: "log_level",
		},
		{
			name:    "negative ttl",
			yaml:    "streaming:\n  cache_ttl: -1s\n",
			wantErr: "cache_ttl",
		},
		{
			name:    "api without credentials",
			yaml:    "api:\n  enabled: true\n",
			wantErr: "api_key or tokens",
		},
		{
			name: "api with unknown scope",
			yaml: `
api:
  enabled: true
  auth:
    tokens:
      - token: abc
        scopes: [plugin:rw]
`,
			wantErr: "unknown scope",
		},
		{
			name: "api with scoped tokens",
			yaml: `
api:
  enabled: true
  listen: 127.0.0.1:9999
  auth:
    api_key: ${AS_ADMIN}
    tokens:
      - token: ingest
        scopes: [audit:rw]
`,
			env: map[string]string{"AS_ADMIN": "admin"},
			checkFn: func(t *testing.T, cfg *Config) {
				if cfg.API.Auth.APIKey != "admin" || cfg.API.Listen != "127.0.0.1:9999" {
					t.Errorf("api = %+v", cfg.API)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			cfg, err := Load(writeConfig(t, tt.yaml))
			if tt.wantErr != "" {
				if err == nil {
					t.Fatalf("Load() succeeded, want error containing %q", tt.wantErr)
				}
				if !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("Load() error = %v, want it to contain %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Load() failed: %v", err)
			}
			if tt.checkFn != nil {
				tt.checkFn(t, cfg)
			}
		})
	}
}

func TestLoadDirectory(t *testing.T) {
	path := writeConfig(t, "service:\n  name: dir-mode\n")
	cfg, err := Load(filepath.Dir(path))
	if err != nil {
		t.Fatalf("Load(dir) failed: %v", err)
	}
	if cfg.Service.Name != "dir-mode" {
		t.Errorf("service.name = %q", cfg.Service.Name)
	}
}

func TestLoadMissing(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
	if _, err := Load(t.TempDir()); err == nil {
		t.Fatal("expected error for directory without config.yaml")
	}
}
