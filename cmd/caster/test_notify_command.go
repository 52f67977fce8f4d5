package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"caster/internal/ipc"
)

func newTestNotifyCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "test-notify",
		Short: "Send a test notification through the configured ntfy topic",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.TestNotification()
				if err != nil {
					return err
				}
				stdout := cmd.OutOrStdout()
				if resp.Sent {
					fmt.Fprintln(stdout, "Test notification sent")
					return nil
				}
				if resp.Message != "" {
					fmt.Fprintf(stdout, "Test notification not sent: %s\n", resp.Message)
					return nil
				}
				fmt.Fprintln(stdout, "Test notification not sent")
				return nil
			})
		},
	}
}
