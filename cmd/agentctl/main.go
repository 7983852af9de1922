// Package main provides agentctl, a thin client for exercising
// agentcored's local control socket (spec §4.7) from the command line,
// without going through the authenticated websocket gateway.
//
// # Basic Usage
//
//	agentctl open-session --project /path/to/repo --target claude-sonnet-4-20250514@anthropic
//	agentctl send-prompt --session <id> --text "list the files here"
//	agentctl attach --session <id>
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	var socketPath string

	rootCmd := &cobra.Command{
		Use:          "agentctl",
		Short:        "agentctl - control client for the agentcored local socket",
		Version:      version,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&socketPath, "socket", "/tmp/agentcored.sock", "Path to the agentcored control socket")

	rootCmd.AddCommand(
		buildOpenSessionCmd(&socketPath),
		buildAttachCmd(&socketPath),
		buildSendPromptCmd(&socketPath),
		buildResumeTurnCmd(&socketPath),
		buildCancelTurnCmd(&socketPath),
		buildCloseSessionCmd(&socketPath),
	)
	return rootCmd
}
