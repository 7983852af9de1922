package main

import (
	"github.com/spf13/cobra"
)

// buildServeCmd creates the "serve" command that starts the daemon.
func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the agent daemon",
		Long: `Start the agent daemon.

The daemon will:
1. Load configuration from the given file (or the documented defaults).
2. Start the configured backend adapters and the policy rule watcher.
3. Listen for clients on the websocket gateway and the local control socket.

Graceful shutdown is handled on SIGINT/SIGTERM.`,
		Example: `  # Start with default config
  agentcored serve

  # Start with a custom config
  agentcored serve --config /etc/agentcore/agentcore.yaml

  # Start with debug logging
  agentcored serve --debug`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath, debug)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "agentcore.yaml", "Path to YAML/JSON5 configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")

	return cmd
}
