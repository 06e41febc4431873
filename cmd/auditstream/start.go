package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/mattjoyce/auditstream/internal/api"
	"github.com/mattjoyce/auditstream/internal/auth"
	"github.com/mattjoyce/auditstream/internal/config"
	"github.com/mattjoyce/auditstream/internal/lock"
	"github.com/mattjoyce/auditstream/internal/log"
)

func (c *cli) loadConfig(path string) (*config.Config, bool) {
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(c.stderr, "Failed to load config: %v\n", err)
		return nil, false
	}
	return cfg, true
}

func (c *cli) runStart(args []string) int {
	fs := c.newFlagSet("start")
	configPath := fs.String("config", "config.yaml", "Path to configuration file or directory")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	cfg, ok := c.loadConfig(*configPath)
	if !ok {
		return 1
	}

	log.Setup(cfg.Service.LogLevel, cfg.Service.LogFormat)
	logger := log.WithComponent("main")
	logger.Info("auditstream starting", "version", version, "config", cfg.SourcePath)

	lockPath := filepath.Join(filepath.Dir(cfg.State.Path), "auditstream.lock")
	pidLock, err := lock.Acquire(lockPath)
	if err != nil {
		logger.Error("failed to acquire PID lock", "path", lockPath, "error", err)
		return 1
	}
	defer pidLock.Release()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	st, err := openStack(ctx, cfg)
	if err != nil {
		logger.Error("failed to open state", "path", cfg.State.Path, "error", err)
		return 1
	}
	defer st.Close()

	seeded, err := st.seed(ctx, cfg)
	if err != nil {
		logger.Error("failed to seed destinations", "error", err)
		return 1
	}
	logger.Info("streaming ready",
		"seeded_destinations", seeded,
		"cache_ttl", st.registry.TTL(),
		"formatters", st.formats.Len(),
		"max_concurrent_requests", cfg.Streaming.MaxConcurrentRequests,
	)

	if !cfg.API.Enabled {
		logger.Warn("api disabled; nothing to serve, exiting")
		return 0
	}

	tokens := make([]auth.TokenConfig, 0, len(cfg.API.Auth.Tokens))
	for _, t := range cfg.API.Auth.Tokens {
		tokens = append(tokens, auth.TokenConfig{Token: t.Token, Scopes: t.Scopes})
	}
	server := api.New(api.Config{
		Listen: cfg.API.Listen,
		APIKey: cfg.API.Auth.APIKey,
		Tokens: tokens,
	}, api.Deps{
		Dispatcher: st.dispatcher,
		Editor:     st.editor,
		Feed:       st.hub,
		Capacity:   st.admission,
		Metrics:    st.metrics.Handler(),
	}, log.WithComponent("api"))

	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("api server failed", "error", err)
		return 1
	}
	logger.Info("auditstream stopped")
	return 0
}
