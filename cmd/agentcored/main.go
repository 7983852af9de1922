// Package main provides the CLI entry point for agentcored, the agent
// daemon (spec §4.7).
//
// agentcored owns the Session Store and Turn Runner and exposes them over
// two transports: an authenticated websocket gateway for remote clients,
// and an unauthenticated local Unix-domain socket for same-host tools.
//
// # Basic Usage
//
// Start the daemon:
//
//	agentcored serve --config agentcore.yaml
//
// # Environment Variables
//
//   - ANTHROPIC_API_KEY, OPENAI_API_KEY: backend credentials, if not set
//     directly in the config file.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
// This is separated from main() to facilitate testing.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "agentcored",
		Short: "agentcored - local agentic coding assistant daemon",
		Long: `agentcored runs the Turn Runner and Session Store behind a websocket
gateway and a local control socket.

Backends: Anthropic, OpenAI, AWS Bedrock (selected per-session by a
"model@backend" target string).`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(buildServeCmd())
	return rootCmd
}
