package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/google/uuid"

	"github.com/mattjoyce/auditstream/internal/audit"
)

func (c *cli) runDestinations(args []string) int {
	if len(args) < 1 {
		fmt.Fprintln(c.stderr, "Usage: auditstream destinations <list|add|remove> [flags]")
		return 1
	}
	switch args[0] {
	case "list":
		return c.runDestinationsList(args[1:])
	case "add":
		return c.runDestinationsAdd(args[1:])
	case "remove", "rm":
		return c.runDestinationsRemove(args[1:])
	default:
		fmt.Fprintf(c.stderr, "Unknown destinations command: %s\n", args[0])
		return 1
	}
}

func scopeFor(site string) audit.Scope {
	if site == "" {
		return audit.Installation()
	}
	return audit.Site(site)
}

func (c *cli) openStackFor(configPath string) (*stack, bool) {
	cfg, ok := c.loadConfig(configPath)
	if !ok {
		return nil, false
	}
	st, err := openStack(context.Background(), cfg)
	if err != nil {
		fmt.Fprintf(c.stderr, "Failed to open state: %v\n", err)
		return nil, false
	}
	return st, true
}

func (c *cli) runDestinationsList(args []string) int {
	fs := c.newFlagSet("destinations list")
	configPath := fs.String("config", "config.yaml", "Path to configuration file or directory")
	site := fs.String("site", "", "Site id (default: installation scope)")
	jsonOut := fs.Bool("json", false, "Output as JSON")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	st, ok := c.openStackFor(*configPath)
	if !ok {
		return 1
	}
	defer st.Close()

	scope := scopeFor(*site)
	dests, err := st.editor.List(context.Background(), scope)
	if err != nil {
		fmt.Fprintf(c.stderr, "Failed to list destinations: %v\n", err)
		return 1
	}

	redacted := make([]audit.Destination, len(dests))
	for i, d := range dests {
		redacted[i] = d.Redacted()
	}

	if *jsonOut {
		data, err := json.MarshalIndent(redacted, "", "  ")
		if err != nil {
			fmt.Fprintf(c.stderr, "Failed to render JSON: %v\n", err)
			return 1
		}
		fmt.Fprintln(c.stdout, string(data))
		return 0
	}

	if len(redacted) == 0 {
		fmt.Fprintf(c.stdout, "No destinations configured for %s\n", scope)
		return 0
	}
	fmt.Fprintln(c.stdout, renderDestinations(scope, redacted))
	return 0
}

func renderDestinations(scope audit.Scope, dests []audit.Destination) string {
	header := lipgloss.NewStyle().Bold(true)
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("ID", "NAME", "URL", "TOKEN", "SECRET").
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return header.Padding(0, 1)
			}
			return lipgloss.NewStyle().Padding(0, 1)
		})
	for _, d := range dests {
		t.Row(d.ID, d.Name, d.URL, d.Token, d.Secret)
	}
	return fmt.Sprintf("%s\n%s", header.Render(scope.String()), t.String())
}

func (c *cli) runDestinationsAdd(args []string) int {
	fs := c.newFlagSet("destinations add")
	configPath := fs.String("config", "config.yaml", "Path to configuration file or directory")
	site := fs.String("site", "", "Site id (default: installation scope)")
	id := fs.String("id", "", "Destination id (default: generated)")
	name := fs.String("name", "", "Display name")
	url := fs.String("url", "", "Destination URL (required)")
	token := fs.String("token", "", "Bearer token sent with each delivery")
	secret := fs.String("secret", "", "HMAC secret used to sign each delivery")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	if *url == "" {
		fmt.Fprintln(c.stderr, "Error: --url is required")
		return 1
	}
	if *id == "" {
		*id = uuid.NewString()
	}

	st, ok := c.openStackFor(*configPath)
	if !ok {
		return 1
	}
	defer st.Close()

	scope := scopeFor(*site)
	added, err := st.editor.Add(context.Background(), scope, audit.Destination{
		ID:     *id,
		Name:   *name,
		URL:    *url,
		Token:  *token,
		Secret: *secret,
	})
	if err != nil {
		fmt.Fprintf(c.stderr, "Failed to add destination: %v\n", err)
		return 1
	}
	fmt.Fprintf(c.stdout, "Added destination %s to %s\n", added.ID, scope)
	return 0
}

func (c *cli) runDestinationsRemove(args []string) int {
	fs := c.newFlagSet("destinations remove")
	configPath := fs.String("config", "config.yaml", "Path to configuration file or directory")
	site := fs.String("site", "", "Site id (default: installation scope)")
	id := fs.String("id", "", "Destination id (required)")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if *id == "" && fs.NArg() > 0 {
		*id = fs.Arg(0)
	}
	if *id == "" {
		fmt.Fprintln(c.stderr, "Error: --id is required")
		return 1
	}

	st, ok := c.openStackFor(*configPath)
	if !ok {
		return 1
	}
	defer st.Close()

	scope := scopeFor(*site)
	if err := st.editor.Remove(context.Background(), scope, *id); err != nil {
		fmt.Fprintf(c.stderr, "Failed to remove destination: %v\n", err)
		return 1
	}
	fmt.Fprintf(c.stdout, "Removed destination %s from %s\n", *id, scope)
	return 0
}
