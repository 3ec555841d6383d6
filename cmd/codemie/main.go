// Package main provides the CLI entry point for the CodeMie assistant
// wrapper: it composes the Lifecycle Controller with a dialect, a data
// root, and proxy/SSO settings, then hands off a third-party assistant
// invocation to it end to end.
//
// # Basic usage
//
//	codemie run --assistant dialect-a -- my-assistant-binary --flag
//	codemie status
//
// # Environment variables
//
// The core honors the CODEMIE_* toggles documented in internal/config;
// `codemie run` has no command-line flags that stand in for them.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/codemie-cli/agentwrap/internal/config"
	"github.com/codemie-cli/agentwrap/internal/logging"
)

// Build information, populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	// A plain stderr JSON logger until config.Load resolves the data root
	// and internal/logging.Setup installs the rolling file sink.
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})))

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "codemie",
		Short: "codemie - wraps a third-party AI assistant CLI with metrics and SSO proxying",
		Long: `codemie spawns a third-party assistant binary, transparently proxies its
LLM traffic for SSO authentication and header injection, and mines the
assistant's own session log for usage metrics without requiring any
cooperation from the assistant itself.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(buildRunCmd(), buildStatusCmd())
	return rootCmd
}

// loadConfig resolves config.Config from an optional YAML path plus the
// CODEMIE_* environment toggles, loading a sibling .env file first.
func loadConfig(yamlPath string) (*config.Config, error) {
	if err := config.LoadDotEnv(".env"); err != nil {
		return nil, err
	}
	cfg, err := config.Load(yamlPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if _, _, err := logging.Setup(logging.Options{DataRoot: cfg.DataRoot, Debug: cfg.Debug}); err != nil {
		slog.Warn("logging: rolling file sink unavailable", "error", err)
	}
	return cfg, nil
}
