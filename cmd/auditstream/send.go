package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/mattjoyce/auditstream/internal/audit"
	"github.com/mattjoyce/auditstream/internal/dispatch"
	"github.com/mattjoyce/auditstream/internal/log"
)

// apiKeyEnv supplies the API key to client commands when --api-key is unset.
const apiKeyEnv = "AUDITSTREAM_API_KEY"

func (c *cli) runSend(args []string) int {
	fs := c.newFlagSet("send")
	configPath := fs.String("config", "config.yaml", "Path to configuration file or directory")
	action := fs.String("action", "", "Audit action, e.g. document.create (required)")
	site := fs.String("site", "", "Site id; adds the site scope to the chain")
	details := fs.String("details", "", "Event details as a JSON object")
	actorID := fs.String("actor", "", "Id of the acting user")
	seed := fs.Bool("seed", false, "Seed destinations from config before sending (local mode)")
	apiURL := fs.String("api-url", "", "Send through a running service instead of dispatching locally")
	apiKey := fs.String("api-key", "", "API key for --api-url (default $"+apiKeyEnv+")")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	if strings.TrimSpace(*action) == "" {
		fmt.Fprintln(c.stderr, "Error: --action is required")
		return 1
	}

	var raw json.RawMessage
	if *details != "" {
		if !json.Valid([]byte(*details)) {
			fmt.Fprintln(c.stderr, "Error: --details must be valid JSON")
			return 1
		}
		raw = json.RawMessage(*details)
	}

	var evCtx audit.Context
	if *site != "" {
		evCtx.Site = &audit.SiteContext{ID: *site}
	}
	ev := audit.NewEvent(*action, evCtx, raw)

	var actor *audit.User
	if *actorID != "" {
		actor = &audit.User{ID: *actorID}
	}

	if *apiURL != "" {
		key := *apiKey
		if key == "" {
			key = os.Getenv(apiKeyEnv)
		}
		return c.sendRemote(*apiURL, key, ev, actor)
	}
	return c.sendLocal(*configPath, *seed, ev, actor)
}

func (c *cli) sendLocal(configPath string, seed bool, ev audit.Event, actor *audit.User) int {
	cfg, ok := c.loadConfig(configPath)
	if !ok {
		return 1
	}
	log.Setup(cfg.Service.LogLevel, cfg.Service.LogFormat)

	ctx := context.Background()
	st, err := openStack(ctx, cfg)
	if err != nil {
		fmt.Fprintf(c.stderr, "Failed to open state: %v\n", err)
		return 1
	}
	defer st.Close()

	if seed {
		if _, err := st.seed(ctx, cfg); err != nil {
			fmt.Fprintf(c.stderr, "Failed to seed destinations: %v\n", err)
			return 1
		}
	}

	err = st.dispatcher.LogEventOrThrow(ctx, actor, ev)
	fmt.Fprintf(c.stdout, "%s %s: %s\n", ev.ID, ev.Action, dispatch.Describe(err))
	if err != nil {
		return 1
	}
	return 0
}

type sendRequest struct {
	ID      string          `json:"id"`
	Action  string          `json:"action"`
	Context audit.Context   `json:"context"`
	Details json.RawMessage `json:"details,omitempty"`
	Actor   *audit.User     `json:"actor,omitempty"`
}

func (c *cli) sendRemote(apiURL, apiKey string, ev audit.Event, actor *audit.User) int {
	body, err := json.Marshal(sendRequest{
		ID:      ev.ID,
		Action:  ev.Action,
		Context: ev.Context,
		Details: ev.Details,
		Actor:   actor,
	})
	if err != nil {
		fmt.Fprintf(c.stderr, "Failed to encode event: %v\n", err)
		return 1
	}

	req, err := http.NewRequest(http.MethodPost, strings.TrimRight(apiURL, "/")+"/v1/events", bytes.NewReader(body))
	if err != nil {
		fmt.Fprintf(c.stderr, "Failed to build request: %v\n", err)
		return 1
	}
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		fmt.Fprintf(c.stderr, "Request failed: %v\n", err)
		return 1
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		fmt.Fprintf(c.stdout, "%s %s: ok\n", ev.ID, ev.Action)
		return 0
	}

	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	fmt.Fprintf(c.stdout, "%s %s: %s %s\n", ev.ID, ev.Action, resp.Status, strings.TrimSpace(string(msg)))
	return 1
}
