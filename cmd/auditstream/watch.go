package main

import (
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mattjoyce/auditstream/internal/tui/watch"
)

func (c *cli) runWatch(args []string) int {
	fs := c.newFlagSet("watch")
	apiURL := fs.String("api-url", "http://127.0.0.1:8080", "Base URL of a running auditstream service")
	apiKey := fs.String("api-key", "", "API key with events:ro (default $"+apiKeyEnv+")")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	key := *apiKey
	if key == "" {
		key = os.Getenv(apiKeyEnv)
	}

	p := tea.NewProgram(watch.New(*apiURL, key), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(c.stderr, "watch failed: %v\n", err)
		return 1
	}
	return 0
}
