package main

import (
	"github.com/spf13/cobra"

	"caster/internal/daemonrun"
)

// newDaemonRunCommand is the hidden foreground entry point used by
// `caster start`, which launches `caster daemon` as a detached process.
func newDaemonRunCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:    "daemon",
		Short:  "Run the caster daemon in the foreground",
		Hidden: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			// The --socket flag forwarded by `caster start` overrides the
			// configured control socket path.
			cfg.Paths.SocketPath = ctx.socketPath()
			return daemonrun.Run(cmd.Context(), cfg)
		},
	}
}
