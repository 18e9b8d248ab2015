package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newSessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Start or stop the queue session",
		Long: `While the session is stopped every queue mutation is a no-op: nothing is
pushed, popped, restored or finished.`,
	}
	cmd.AddCommand(sessionToggle("start", true), sessionToggle("stop", false))
	return cmd
}

func sessionToggle(use string, active bool) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: fmt.Sprintf("Set the session flag to %t", active),
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if err := appInstance.Manager().SetSession(cmd.Context(), active); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "session active=%t\n", active)
			return nil
		},
	}
}
