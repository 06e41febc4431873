// Package config loads auditstream's YAML configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/auditstream/internal/auth"
	"github.com/mattjoyce/auditstream/internal/registry"
)

// Environment variables that override the file.
const (
	EnvCacheTTLMS            = "CACHE_TTL_MS"
	EnvMaxConcurrentRequests = "MAX_CONCURRENT_REQUESTS"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads, interpolates, verifies and validates the config at configPath.
// A directory is taken to contain config.yaml.
func Load(configPath string) (*Config, error) {
	absPath, err := resolvePath(configPath)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := VerifyChecksums(absPath); err != nil {
		return nil, err
	}

	cfg, err := parse(data)
	if err != nil {
		return nil, err
	}
	cfg.SourcePath = absPath

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	cfg = applyConfigDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func resolvePath(configPath string) (string, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return "", fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return "", fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}
	if info.IsDir() {
		absPath = filepath.Join(absPath, "config.yaml")
		if _, err := os.Stat(absPath); err != nil {
			return "", fmt.Errorf("directory provided but config.yaml not found: %s", absPath)
		}
	}
	return absPath, nil
}

func parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal([]byte(interpolateEnv(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	return &cfg, nil
}

// applyEnvOverrides applies CACHE_TTL_MS and MAX_CONCURRENT_REQUESTS.
func applyEnvOverrides(cfg *Config) error {
	if v, ok := os.LookupEnv(EnvCacheTTLMS); ok && strings.TrimSpace(v) != "" {
		ms, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil || ms < 0 {
			return fmt.Errorf("%s must be a non-negative integer (got %q)", EnvCacheTTLMS, v)
		}
		ttl := time.Duration(ms) * time.Millisecond
		cfg.Streaming.CacheTTL = &ttl
	}
	if v, ok := os.LookupEnv(EnvMaxConcurrentRequests); ok && strings.TrimSpace(v) != "" {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil || n <= 0 {
			return fmt.Errorf("%s must be a positive integer (got %q)", EnvMaxConcurrentRequests, v)
		}
		cfg.Streaming.MaxConcurrentRequests = n
	}
	return nil
}

func applyConfigDefaults(cfg *Config) *Config {
	defaults := Defaults()

	if cfg.Service.Name == "" {
		cfg.Service.Name = defaults.Service.Name
	}
	if cfg.Service.LogLevel == "" {
		cfg.Service.LogLevel = defaults.Service.LogLevel
	}
	if cfg.Service.LogFormat == "" {
		cfg.Service.LogFormat = defaults.Service.LogFormat
	}
	if cfg.State.Path == "" {
		cfg.State.Path = defaults.State.Path
	}
	if cfg.API.Listen == "" {
		cfg.API.Listen = defaults.API.Listen
	}
	if cfg.Streaming.CacheTTL == nil {
		cfg.Streaming.CacheTTL = defaults.Streaming.CacheTTL
	}
	if cfg.Streaming.MaxConcurrentRequests == 0 {
		cfg.Streaming.MaxConcurrentRequests = defaults.Streaming.MaxConcurrentRequests
	}
	if cfg.Streaming.RequestTimeout == 0 {
		cfg.Streaming.RequestTimeout = defaults.Streaming.RequestTimeout
	}
	if cfg.Streaming.UserAgent == "" {
		cfg.Streaming.UserAgent = defaults.Streaming.UserAgent
	}
	return cfg
}

// interpolateEnv replaces ${VAR} with its value. Unset variables are left
// in place so validation can name them.
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		name := envVarPattern.FindStringSubmatch(match)[1]
		if value, ok := os.LookupEnv(name); ok {
			return value
		}
		return match
	})
}

func unresolved(field, value string) error {
	if m := envVarPattern.FindStringSubmatch(value); len(m) > 1 {
		return fmt.Errorf("%s: environment variable ${%s} is not set", field, m[1])
	}
	return nil
}

var knownScopes = map[string]bool{
	auth.ScopeAll:            true,
	auth.ScopeAuditWrite:     true,
	auth.ScopeDestinationsRO: true,
	auth.ScopeDestinationsRW: true,
	auth.ScopeEventsRO:       true,
}

func validate(cfg *Config) error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[strings.ToLower(cfg.Service.LogLevel)] {
		return fmt.Errorf("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel)
	}
	if cfg.Service.LogFormat != "json" && cfg.Service.LogFormat != "text" {
		return fmt.Errorf("service.log_format must be json or text (got %q)", cfg.Service.LogFormat)
	}
	if cfg.State.Path == "" {
		return fmt.Errorf("state.path is required")
	}

	s := cfg.Streaming
	if s.CacheTTL != nil && *s.CacheTTL < 0 {
		return fmt.Errorf("streaming.cache_ttl must not be negative")
	}
	if s.MaxConcurrentRequests <= 0 {
		return fmt.Errorf("streaming.max_concurrent_requests must be positive")
	}
	if s.RequestTimeout <= 0 {
		return fmt.Errorf("streaming.request_timeout must be positive")
	}

	if cfg.API.Enabled {
		if cfg.API.Auth.APIKey == "" && len(cfg.API.Auth.Tokens) == 0 {
			return fmt.Errorf("api.auth requires api_key or tokens when the API is enabled")
		}
		if err := unresolved("api.auth.api_key", cfg.API.Auth.APIKey); err != nil {
			return err
		}
		for i, tok := range cfg.API.Auth.Tokens {
			field := fmt.Sprintf("api.auth.tokens[%d]", i)
			if tok.Token == "" {
				return fmt.Errorf("%s.token is required", field)
			}
			if err := unresolved(field+".token", tok.Token); err != nil {
				return err
			}
			if len(tok.Scopes) == 0 {
				return fmt.Errorf("%s.scopes must not be empty", field)
			}
			for _, scope := range tok.Scopes {
				if !knownScopes[strings.TrimSpace(scope)] {
					return fmt.Errorf("%s: unknown scope %q", field, scope)
				}
			}
		}
	}

	for _, seed := range cfg.Destinations.Seeds() {
		seen := make(map[string]bool, len(seed.Destinations))
		for i, d := range seed.Destinations {
			field := fmt.Sprintf("destinations[%s][%d]", seed.Scope, i)
			if err := registry.ValidateDestination(d); err != nil {
				return fmt.Errorf("%s: %w", field, err)
			}
			if seen[d.ID] {
				return fmt.Errorf("%s: duplicate id %q", field, d.ID)
			}
			seen[d.ID] = true
			if err := unresolved(field+".token", d.Token); err != nil {
				return err
			}
			if err := unresolved(field+".secret", d.Secret); err != nil {
				return err
			}
		}
	}
	return nil
}
