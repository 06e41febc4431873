package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/mattjoyce/auditstream/internal/log"
	"github.com/mattjoyce/auditstream/internal/webhook"
)

func (c *cli) runReceive(args []string) int {
	fs := c.newFlagSet("receive")
	listen := fs.String("listen", "127.0.0.1:9000", "Address to listen on")
	path := fs.String("path", "/audit", "URL path deliveries are posted to")
	token := fs.String("token", "", "Require this bearer token")
	secret := fs.String("secret", "", "Require X-Audit-Signature keyed with this secret")
	maxBody := fs.String("max-body", "1MB", "Maximum body size (e.g. 512KB, 1MB)")
	logLevel := fs.String("log-level", "warn", "Log level (debug, info, warn, error)")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	limit, err := webhook.ParseSize(*maxBody)
	if err != nil {
		fmt.Fprintf(c.stderr, "Error: invalid --max-body %q: %v\n", *maxBody, err)
		return 1
	}

	log.Setup(*logLevel)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	server := webhook.New(webhook.Config{
		Listen: *listen,
		Endpoints: []webhook.EndpointConfig{{
			Path:        *path,
			Token:       *token,
			Secret:      *secret,
			MaxBodySize: limit,
		}},
	}, webhook.NewJSONLinesSink(c.stdout), log.WithComponent("receiver"))

	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(c.stderr, "receiver failed: %v\n", err)
		return 1
	}
	return 0
}
