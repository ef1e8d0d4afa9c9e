// Package main provides the CLI entry point for the Conduit conversational
// AI host.
//
// Conduit streams LLM completions to WebSocket clients, parses inline
// ```tool blocks out of that stream, and dispatches the calls they
// describe to locally or remotely hosted tool servers.
//
// # Basic Usage
//
// Start the host:
//
//	conduit serve --config conduit.yaml
//
// Inspect the live tool catalog without starting the gateway:
//
//	conduit tools list --config tools.yaml
//	conduit tools call fs:read_file '{"path":"/tmp/x"}' --config tools.yaml
//
// Validate a configuration file:
//
//	conduit config validate conduit.yaml
//
// # Environment Variables
//
// Provider API keys are read from the configuration file, which itself
// expands ${VAR} references against the process environment — so keys may
// be supplied as environment variables without Conduit-specific plumbing:
//
//   - ANTHROPIC_API_KEY, OPENAI_API_KEY, GEMINI_API_KEY
//   - AWS credentials for Bedrock come from the AWS SDK's own default
//     credential chain when no static keys are configured.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags during build.
//
// Example build command:
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD) -X main.date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"

	profileName string
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
// Separated from main so tests can exercise it without os.Exit.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "conduit",
		Short: "Conduit - conversational AI host with tool dispatch",
		Long: `Conduit bridges a WebSocket client, a streaming LLM provider, and a set
of MCP-style tool servers: it parses inline tool calls out of the model's
raw text stream, dispatches them, and feeds the results back for the
model to continue on.

Supported LLM providers: Anthropic, OpenAI, Gemini, Amazon Bedrock.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&profileName, "profile", "", "Profile name (reserved for future per-environment config selection)")

	rootCmd.AddCommand(
		buildServeCmd(),
		buildToolsCmd(),
		buildConfigCmd(),
	)

	return rootCmd
}
