package main

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/conduit/internal/config"
	"github.com/haasonsaas/conduit/internal/toolhost"
)

func buildToolsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "Inspect and exercise the Tool Coordinator's live catalog",
	}
	cmd.AddCommand(buildToolsListCmd(), buildToolsCallCmd())
	return cmd
}

func buildToolsListCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Bring up every configured tool server and print the merged catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runToolsList(cmd, configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "conduit.yaml", "Path to YAML configuration file")
	return cmd
}

func buildToolsCallCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "call <qualified_name> <json_arguments>",
		Short: "Invoke one tool by its qualified name and print the result",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runToolsCall(cmd, configPath, args[0], args[1])
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "conduit.yaml", "Path to YAML configuration file")
	return cmd
}

func withToolCoordinator(cmd *cobra.Command, configPath string, fn func(*toolhost.Coordinator) error) error {
	ctx := cmd.Context()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.Tools.ConfigPath == "" {
		return fmt.Errorf("tools.config_path is not set in %s", configPath)
	}

	logger := slog.Default()
	coordinator := toolhost.New(logger)

	fc, err := loadToolFileConfig(cfg.Tools.ConfigPath)
	if err != nil {
		return fmt.Errorf("failed to load tool config: %w", err)
	}
	if err := coordinator.Initialize(ctx, fc); err != nil {
		return fmt.Errorf("failed to initialize tool coordinator: %w", err)
	}
	defer coordinator.Shutdown()

	return fn(coordinator)
}

func runToolsList(cmd *cobra.Command, configPath string) error {
	return withToolCoordinator(cmd, configPath, func(c *toolhost.Coordinator) error {
		out := cmd.OutOrStdout()
		entries := c.ListTools()
		if len(entries) == 0 {
			fmt.Fprintln(out, "no tools available")
			return nil
		}
		for _, e := range entries {
			fmt.Fprintf(out, "%s\t%s\n", e.QualifiedName, e.Definition.Description)
		}
		return nil
	})
}

func runToolsCall(cmd *cobra.Command, configPath, qualifiedName, rawArgs string) error {
	if !json.Valid([]byte(rawArgs)) {
		return fmt.Errorf("arguments must be valid JSON, got %q", rawArgs)
	}

	return withToolCoordinator(cmd, configPath, func(c *toolhost.Coordinator) error {
		result, err := c.CallTool(cmd.Context(), qualifiedName, json.RawMessage(rawArgs))
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	})
}
