package main

import (
	"context"

	"github.com/spf13/cobra"
)

func buildServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the Conduit host",
		Long: `Start the Conduit host: the Tool Coordinator, the Session Gateway, the
optional Auth Gateway, and the /metrics endpoint.

Graceful shutdown is handled on SIGINT/SIGTERM: in-flight sessions are left
to finish their current turn, new connections are refused, and every tool
server is drained before the process exits.`,
		Example: `  # Start with a config file
  conduit serve --config conduit.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "conduit.yaml", "Path to YAML configuration file")
	return cmd
}

func runServe(ctx context.Context, configPath string) error {
	h, err := newHost(ctx, configPath)
	if err != nil {
		return err
	}
	defer h.Close()

	return h.Run(ctx)
}
