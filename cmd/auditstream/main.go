// Command auditstream streams audit events to configured HTTP destinations.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"runtime/debug"
	"strings"
	"time"
)

var (
	version   = "0.1.0-dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	os.Exit(runCLI(os.Args[1:], os.Stdout, os.Stderr))
}

// cli carries the output streams so commands can be driven from tests.
type cli struct {
	stdout io.Writer
	stderr io.Writer
}

func runCLI(args []string, stdout, stderr io.Writer) int {
	c := &cli{stdout: stdout, stderr: stderr}
	if len(args) < 1 {
		c.printUsage(stderr)
		return 1
	}

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "start":
		return c.runStart(rest)
	case "send":
		return c.runSend(rest)
	case "destinations":
		return c.runDestinations(rest)
	case "config":
		return c.runConfig(rest)
	case "watch":
		return c.runWatch(rest)
	case "receive":
		return c.runReceive(rest)
	case "version", "--version":
		return c.runVersion(rest)
	case "help", "--help", "-h":
		c.printUsage(stdout)
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n\n", cmd)
		c.printUsage(stderr)
		return 1
	}
}

func (c *cli) printUsage(w io.Writer) {
	fmt.Fprint(w, `auditstream - stream audit events to external HTTP destinations

Usage:
  auditstream <command> [flags]

Commands:
  start                  Run the service in the foreground
  send                   Stream one audit event and report the outcome
  destinations list      List destinations for a scope (credentials redacted)
  destinations add       Add a destination to a scope
  destinations remove    Remove a destination from a scope
  config check           Validate configuration and integrity
  config lock            Record the config checksum
  watch                  Live dispatch activity TUI
  receive                Run a verifying endpoint that prints deliveries
  version                Print version information

Run 'auditstream <command> --help' for command flags.
`)
}

// newFlagSet returns a flag set that reports errors instead of exiting.
func (c *cli) newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	return fs
}

type versionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

func (c *cli) runVersion(args []string) int {
	fs := c.newFlagSet("version")
	jsonOut := fs.Bool("json", false, "Output version metadata as JSON")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	info := currentVersionInfo()
	if *jsonOut {
		data, err := json.MarshalIndent(info, "", "  ")
		if err != nil {
			fmt.Fprintf(c.stderr, "Failed to render version JSON: %v\n", err)
			return 1
		}
		fmt.Fprintln(c.stdout, string(data))
		return 0
	}

	fmt.Fprintf(c.stdout, "auditstream %s\n", info.Version)
	fmt.Fprintf(c.stdout, "commit: %s\n", info.Commit)
	fmt.Fprintf(c.stdout, "built_at: %s\n", info.BuildTime)
	return 0
}

func currentVersionInfo() versionInfo {
	info := versionInfo{
		Version:   strings.TrimSpace(version),
		Commit:    "unknown",
		BuildTime: "unknown",
	}
	if info.Version == "" {
		info.Version = "0.0.0-dev"
	}

	commit := strings.TrimSpace(gitCommit)
	if commit == "" || commit == "unknown" {
		commit = readBuildSetting("vcs.revision")
	}
	if commit != "" {
		if len(commit) > 12 {
			commit = commit[:12]
		}
		info.Commit = commit
	}

	built := strings.TrimSpace(buildDate)
	if built == "" || built == "unknown" {
		built = readBuildSetting("vcs.time")
	}
	if t, err := time.Parse(time.RFC3339Nano, built); err == nil {
		info.BuildTime = t.UTC().Format(time.RFC3339)
	}
	return info
}

func readBuildSetting(key string) string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, s := range info.Settings {
		if s.Key == key {
			return strings.TrimSpace(s.Value)
		}
	}
	return ""
}
