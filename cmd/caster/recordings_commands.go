package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"caster/internal/ipc"
	"caster/internal/textutil"
)

func newRecordingsCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "recordings",
		Aliases: []string{"rec"},
		Short:   "Inspect and manage the recording queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.AddCommand(newRecordingsListCommand(ctx))
	cmd.AddCommand(newRecordingsShowCommand(ctx))
	cmd.AddCommand(newRecordingsRetryCommand(ctx))
	cmd.AddCommand(newRecordingsRemoveCommand(ctx))

	return cmd
}

func newRecordingsListCommand(ctx *commandContext) *cobra.Command {
	var statusFlags []string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recordings in the queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.RecordingList(statusFlags)
				if err != nil {
					return err
				}

				stdout := cmd.OutOrStdout()
				if len(resp.Items) == 0 {
					fmt.Fprintln(stdout, "No recordings found")
					return nil
				}

				rows := make([][]string, 0, len(resp.Items))
				for _, item := range resp.Items {
					rows = append(rows, []string{
						strconv.FormatInt(item.ID, 10),
						item.Status,
						recordingLabel(item),
						strconv.Itoa(item.Attempts),
						item.UpdatedAt,
					})
				}
				fmt.Fprintln(stdout, renderTable(
					[]string{"ID", "Status", "Recording", "Attempts", "Updated"},
					rows,
					[]columnAlignment{alignRight, alignLeft, alignLeft, alignRight, alignLeft},
				))
				return nil
			})
		},
	}

	cmd.Flags().StringSliceVarP(&statusFlags, "status", "s", nil, "Filter by status (pending, downloading, transcribing, summarizing, completed, failed)")

	return cmd
}

func newRecordingsShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one recording in detail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseRecordingID(args[0])
			if err != nil {
				return err
			}

			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.RecordingDescribe(id)
				if err != nil {
					return err
				}

				stdout := cmd.OutOrStdout()
				colorize := shouldColorize(stdout)
				item := resp.Item

				for _, line := range renderSectionHeader(fmt.Sprintf("Recording %d", item.ID), colorize) {
					fmt.Fprintln(stdout, line)
				}
				fmt.Fprintln(stdout, renderStatusLine("Status", recordingStatusKind(item.Status), item.Status, colorize))
				fmt.Fprintln(stdout, renderStatusLine("Media ID", statusInfo, item.MediaID, colorize))
				fmt.Fprintln(stdout, renderStatusLine("User", statusInfo, item.UserID, colorize))
				fmt.Fprintln(stdout, renderStatusLine("Workspace", statusInfo, item.WorkspaceID, colorize))
				fmt.Fprintln(stdout, renderStatusLine("Artifact", statusInfo, item.ArtifactPath, colorize))
				fmt.Fprintln(stdout, renderStatusLine("Attempts", statusInfo, strconv.Itoa(item.Attempts), colorize))
				fmt.Fprintln(stdout, renderStatusLine("Created", statusInfo, item.CreatedAt, colorize))
				fmt.Fprintln(stdout, renderStatusLine("Updated", statusInfo, item.UpdatedAt, colorize))
				if item.ErrorMessage != "" {
					fmt.Fprintln(stdout, renderStatusLine("Error", statusError, item.ErrorMessage, colorize))
				}

				if item.Title != "" || item.Summary != "" {
					fmt.Fprintln(stdout)
					for _, line := range renderSectionHeader("Summary", colorize) {
						fmt.Fprintln(stdout, line)
					}
					if item.Title != "" {
						fmt.Fprintln(stdout, renderStatusLine("Title", statusOK, item.Title, colorize))
					}
					if len(item.Keywords) > 0 {
						fmt.Fprintln(stdout, renderStatusLine("Keywords", statusInfo, strings.Join(item.Keywords, ", "), colorize))
					}
					if item.Description != "" {
						fmt.Fprintln(stdout, renderStatusLine("Description", statusInfo, item.Description, colorize))
					}
					if item.Summary != "" {
						fmt.Fprintln(stdout)
						fmt.Fprintln(stdout, item.Summary)
					}
				}

				if item.Transcript != "" {
					fmt.Fprintln(stdout)
					for _, line := range renderSectionHeader("Transcript", colorize) {
						fmt.Fprintln(stdout, line)
					}
					fmt.Fprintln(stdout, textutil.Truncate(item.Transcript, 2000))
				}
				return nil
			})
		},
	}
}

func newRecordingsRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry [id...]",
		Short: "Reset failed recordings for another processing attempt",
		Long: `Retry resets failed recordings back to pending so the daemon picks
them up again. With no arguments every failed recording is retried.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ids := make([]int64, 0, len(args))
			for _, arg := range args {
				id, err := parseRecordingID(arg)
				if err != nil {
					return err
				}
				ids = append(ids, id)
			}

			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Retry(ids)
				if err != nil {
					return err
				}
				stdout := cmd.OutOrStdout()
				switch resp.Updated {
				case 0:
					fmt.Fprintln(stdout, "No failed recordings to retry")
				case 1:
					fmt.Fprintln(stdout, "1 recording queued for retry")
				default:
					fmt.Fprintf(stdout, "%d recordings queued for retry\n", resp.Updated)
				}
				return nil
			})
		},
	}
}

func newRecordingsRemoveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:     "remove <id>",
		Aliases: []string{"rm"},
		Short:   "Remove a recording from the queue",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseRecordingID(args[0])
			if err != nil {
				return err
			}

			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Remove(id)
				if err != nil {
					return err
				}
				stdout := cmd.OutOrStdout()
				if resp.Removed {
					fmt.Fprintf(stdout, "Removed recording %d\n", id)
				} else {
					fmt.Fprintf(stdout, "Recording %d not found\n", id)
				}
				return nil
			})
		},
	}
}

func parseRecordingID(value string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("recording id %q: must be a positive integer", value)
	}
	return id, nil
}

func recordingLabel(item ipc.RecordingSummary) string {
	if item.Title != "" {
		return item.Title
	}
	return item.MediaID
}

func recordingStatusKind(status string) statusKind {
	switch status {
	case "completed":
		return statusOK
	case "failed":
		return statusError
	case "pending":
		return statusInfo
	default:
		return statusWarn
	}
}
