package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func buildOpenSessionCmd(socketPath *string) *cobra.Command {
	var projectDir, persona, target, mode string

	cmd := &cobra.Command{
		Use:   "open-session",
		Short: "Open a new session",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dial(*socketPath)
			if err != nil {
				return err
			}
			defer c.Close()

			payload, err := c.call("open_session", map[string]string{
				"project_dir": projectDir,
				"persona":     persona,
				"target":      target,
				"mode":        mode,
			})
			if err != nil {
				return err
			}
			return printJSON(cmd, payload)
		},
	}
	cmd.Flags().StringVar(&projectDir, "project", "", "Project root directory (required)")
	cmd.Flags().StringVar(&persona, "persona", "", "Persona/system-prompt name")
	cmd.Flags().StringVar(&target, "target", "", "model@backend target (required)")
	cmd.Flags().StringVar(&mode, "mode", "", "Permission mode: default, acceptEdits, bypassPermissions")
	cmd.MarkFlagRequired("project")
	cmd.MarkFlagRequired("target")
	return cmd
}

func buildAttachCmd(socketPath *string) *cobra.Command {
	var sessionID string
	var fromSeq uint64

	cmd := &cobra.Command{
		Use:   "attach",
		Short: "Attach to a session and stream its events until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dial(*socketPath)
			if err != nil {
				return err
			}
			defer c.Close()

			replay, err := c.call("attach_session", map[string]any{
				"session_id":      sessionID,
				"attach_from_seq": fromSeq,
			})
			if err != nil {
				return err
			}
			if err := printJSON(cmd, replay); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			return c.streamEvents(func(ev json.RawMessage) {
				fmt.Fprintln(out, string(ev))
			})
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "Session id (required)")
	cmd.Flags().Uint64Var(&fromSeq, "from-seq", 0, "Replay events with seq >= this value")
	cmd.MarkFlagRequired("session")
	return cmd
}

func buildSendPromptCmd(socketPath *string) *cobra.Command {
	var sessionID, text string

	cmd := &cobra.Command{
		Use:   "send-prompt",
		Short: "Send a prompt to a session, starting a new turn",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dial(*socketPath)
			if err != nil {
				return err
			}
			defer c.Close()

			payload, err := c.call("send_prompt", map[string]string{
				"session_id": sessionID,
				"text":       text,
			})
			if err != nil {
				return err
			}
			return printJSON(cmd, payload)
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "Session id (required)")
	cmd.Flags().StringVar(&text, "text", "", "Prompt text (required)")
	cmd.MarkFlagRequired("session")
	cmd.MarkFlagRequired("text")
	return cmd
}

func buildResumeTurnCmd(socketPath *string) *cobra.Command {
	var sessionID, turnID, remember string
	var approved bool

	cmd := &cobra.Command{
		Use:   "resume-turn",
		Short: "Resume a parked turn with an approval decision",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dial(*socketPath)
			if err != nil {
				return err
			}
			defer c.Close()

			payload, err := c.call("resume_turn", map[string]any{
				"session_id": sessionID,
				"turn_id":    turnID,
				"approved":   approved,
				"remember":   remember,
			})
			if err != nil {
				return err
			}
			return printJSON(cmd, payload)
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "Session id (required)")
	cmd.Flags().StringVar(&turnID, "turn", "", "Parked turn id (required)")
	cmd.Flags().BoolVar(&approved, "approve", false, "Approve the pending tool call (deny if omitted)")
	cmd.Flags().StringVar(&remember, "remember", "", "Remember this decision: session or empty")
	cmd.MarkFlagRequired("session")
	cmd.MarkFlagRequired("turn")
	return cmd
}

func buildCancelTurnCmd(socketPath *string) *cobra.Command {
	var sessionID string

	cmd := &cobra.Command{
		Use:   "cancel-turn",
		Short: "Cancel a session's running turn",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dial(*socketPath)
			if err != nil {
				return err
			}
			defer c.Close()

			payload, err := c.call("cancel_turn", map[string]string{"session_id": sessionID})
			if err != nil {
				return err
			}
			return printJSON(cmd, payload)
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "Session id (required)")
	cmd.MarkFlagRequired("session")
	return cmd
}

func buildCloseSessionCmd(socketPath *string) *cobra.Command {
	var sessionID string

	cmd := &cobra.Command{
		Use:   "close-session",
		Short: "Close a session",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dial(*socketPath)
			if err != nil {
				return err
			}
			defer c.Close()

			payload, err := c.call("close_session", map[string]string{"session_id": sessionID})
			if err != nil {
				return err
			}
			return printJSON(cmd, payload)
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "Session id (required)")
	cmd.MarkFlagRequired("session")
	return cmd
}

func printJSON(cmd *cobra.Command, payload json.RawMessage) error {
	if len(payload) == 0 {
		return nil
	}
	var pretty interface{}
	if err := json.Unmarshal(payload, &pretty); err != nil {
		fmt.Fprintln(cmd.OutOrStdout(), string(payload))
		return nil
	}
	encoded, err := json.MarshalIndent(pretty, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(encoded))
	return nil
}
