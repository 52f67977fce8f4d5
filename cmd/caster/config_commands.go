package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"caster/internal/config"
)

func newConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage caster configuration",
		Annotations: map[string]string{
			"skipConfigLoad": "true",
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.AddCommand(newConfigInitCommand())
	cmd.AddCommand(newConfigValidateCommand())
	cmd.AddCommand(newConfigShowCommand())

	return cmd
}

func newConfigInitCommand() *cobra.Command {
	var pathFlag string
	var overwrite bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a commented sample configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := strings.TrimSpace(pathFlag)
			if path == "" {
				defaultPath, err := config.DefaultConfigPath()
				if err != nil {
					return err
				}
				path = defaultPath
			}

			expanded, err := config.ExpandPath(path)
			if err != nil {
				return err
			}
			if overwrite {
				if err := os.Remove(expanded); err != nil && !os.IsNotExist(err) {
					return fmt.Errorf("remove existing config: %w", err)
				}
			}
			if err := config.WriteSample(expanded); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Wrote sample configuration to %s\n", expanded)
			return nil
		},
	}

	cmd.Flags().StringVar(&pathFlag, "path", "", "Destination path (defaults to ~/.config/caster/config.toml)")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Replace an existing configuration file")

	return cmd
}

func newConfigValidateCommand() *cobra.Command {
	var pathFlag string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check that the configuration file parses and validates",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, resolvedPath, exists, err := config.Load(strings.TrimSpace(pathFlag))
			if err != nil {
				return err
			}

			stdout := cmd.OutOrStdout()
			if !exists {
				fmt.Fprintf(stdout, "No configuration file at %s; built-in defaults are valid\n", resolvedPath)
				return nil
			}
			fmt.Fprintf(stdout, "Configuration at %s is valid\n", resolvedPath)
			return nil
		},
	}

	cmd.Flags().StringVar(&pathFlag, "path", "", "Configuration file to validate (defaults to the standard lookup)")

	return cmd
}

func newConfigShowCommand() *cobra.Command {
	var pathFlag string

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the resolved configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, resolvedPath, exists, err := config.Load(strings.TrimSpace(pathFlag))
			if err != nil {
				return err
			}

			stdout := cmd.OutOrStdout()
			colorize := shouldColorize(stdout)

			source := resolvedPath
			if !exists {
				source = "built-in defaults"
			}

			for _, line := range renderSectionHeader("Configuration", colorize) {
				fmt.Fprintln(stdout, line)
			}
			fmt.Fprintln(stdout, renderStatusLine("Source", statusInfo, source, colorize))
			fmt.Fprintln(stdout, renderStatusLine("Database", statusInfo, cfg.DatabasePath(), colorize))
			fmt.Fprintln(stdout, renderStatusLine("Staging dir", statusInfo, cfg.Paths.StagingDir, colorize))
			fmt.Fprintln(stdout, renderStatusLine("Log dir", statusInfo, cfg.Paths.LogDir, colorize))
			fmt.Fprintln(stdout, renderStatusLine("Socket", statusInfo, cfg.Paths.SocketPath, colorize))
			fmt.Fprintln(stdout, renderStatusLine("Ingest bind", statusInfo, cfg.Paths.IngestBind, colorize))
			fmt.Fprintln(stdout, renderStatusLine("Ingest URL", statusInfo, cfg.Transport.IngestURL, colorize))
			fmt.Fprintln(stdout, renderStatusLine("Workspace", statusInfo, cfg.Session.WorkspaceID, colorize))
			fmt.Fprintln(stdout, renderStatusLine("Transcriber", configuredKind(cfg.Transcriber.APIKey), yesNo(cfg.Transcriber.APIKey != ""), colorize))
			fmt.Fprintln(stdout, renderStatusLine("Summarizer", configuredKind(cfg.LLM.APIKey), yesNo(cfg.LLM.APIKey != ""), colorize))
			fmt.Fprintln(stdout, renderStatusLine("Notifications", configuredKind(cfg.Notifications.NtfyTopic), yesNo(cfg.Notifications.NtfyTopic != ""), colorize))
			return nil
		},
	}

	cmd.Flags().StringVar(&pathFlag, "path", "", "Configuration file to show (defaults to the standard lookup)")

	return cmd
}

func configuredKind(value string) statusKind {
	if strings.TrimSpace(value) != "" {
		return statusOK
	}
	return statusWarn
}
