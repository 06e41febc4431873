package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/mattjoyce/auditstream/internal/config"
	"github.com/mattjoyce/auditstream/internal/doctor"
)

func (c *cli) runConfig(args []string) int {
	if len(args) < 1 {
		fmt.Fprintln(c.stderr, "Usage: auditstream config <check|lock> [flags]")
		return 1
	}
	switch args[0] {
	case "check":
		return c.runConfigCheck(args[1:])
	case "lock":
		return c.runConfigLock(args[1:])
	default:
		fmt.Fprintf(c.stderr, "Unknown config command: %s\n", args[0])
		return 1
	}
}

func (c *cli) runConfigCheck(args []string) int {
	fs := c.newFlagSet("config check")
	configPath := fs.String("config", "config.yaml", "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Output the validation result as JSON")
	strict := fs.Bool("strict", false, "Exit 2 when there are warnings")
	offline := fs.Bool("offline", false, "Skip checks against the state database")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	cfg, ok := c.loadConfig(*configPath)
	if !ok {
		return 1
	}

	var store doctor.Store
	if !*offline {
		st, err := openStack(context.Background(), cfg)
		if err != nil {
			fmt.Fprintf(c.stderr, "Failed to open state: %v\n", err)
			return 1
		}
		defer st.Close()
		store = st.store
	}
	result := doctor.New(cfg, store).Validate(context.Background())

	if *jsonOut {
		out, err := doctor.FormatJSON(result)
		if err != nil {
			fmt.Fprintf(c.stderr, "JSON format error: %v\n", err)
			return 1
		}
		fmt.Fprintln(c.stdout, out)
		return exitFor(result, *strict)
	}

	seeds := cfg.Destinations.Seeds()
	total := 0
	for _, sd := range seeds {
		total += len(sd.Destinations)
	}
	fmt.Fprintf(c.stdout, "Config loaded: %s\n", cfg.SourcePath)
	fmt.Fprintf(c.stdout, "  state:        %s\n", cfg.State.Path)
	fmt.Fprintf(c.stdout, "  cache_ttl:    %s\n", cfg.Streaming.CacheTTLOrDefault())
	fmt.Fprintf(c.stdout, "  max_requests: %d\n", cfg.Streaming.MaxConcurrentRequests)
	fmt.Fprintf(c.stdout, "  destinations: %d across %d scope(s)\n", total, len(seeds))
	if cfg.API.Enabled {
		fmt.Fprintf(c.stdout, "  api:          %s\n", cfg.API.Listen)
	} else {
		fmt.Fprintln(c.stdout, "  api:          disabled")
	}
	fmt.Fprint(c.stdout, doctor.FormatHuman(result))
	return exitFor(result, *strict)
}

func exitFor(result *doctor.Result, strict bool) int {
	if !result.Valid {
		return 1
	}
	if strict && len(result.Warnings) > 0 {
		return 2
	}
	return 0
}

func (c *cli) runConfigLock(args []string) int {
	fs := c.newFlagSet("config lock")
	configPath := fs.String("config", "config.yaml", "Path to configuration file or directory")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	manifest, err := config.WriteChecksums(*configPath)
	if err != nil {
		fmt.Fprintf(c.stderr, "Failed to lock config: %v\n", err)
		return 1
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(c.stderr, "Locked, but config does not validate: %v\n", err)
		return 1
	}

	fmt.Fprintf(c.stdout, "Locked %d file(s) in %s\n",
		len(manifest.Hashes), filepath.Join(filepath.Dir(cfg.SourcePath), config.ChecksumFile))
	return 0
}
