package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/codemie-cli/agentwrap/internal/lifecycle"
	"github.com/codemie-cli/agentwrap/internal/proxy/interceptor"
)

// buildRunCmd wraps lifecycle.Controller.Run: everything after "--" is
// passed through to the spawned assistant untouched.
func buildRunCmd() *cobra.Command {
	var (
		configPath  string
		assistant   string
		sessionsDir string
		provider    string
		baseURLEnv  string
		apiKeyEnv   string
		blocked     []string
		dryRun      bool
	)

	cmd := &cobra.Command{
		Use:   "run --assistant <name> -- <command> [args...]",
		Short: "Spawn a third-party assistant under the metrics/proxy wrapper",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}

			home, err := os.UserHomeDir()
			if err != nil {
				return fmt.Errorf("resolve home directory: %w", err)
			}
			if sessionsDir == "" {
				sessionsDir = defaultSessionsDir(home, assistant)
			}
			if provider == "" {
				provider = cfg.Provider
			}

			def, err := buildDefinition(assistant, sessionsDir, provider, baseURLEnv, apiKeyEnv, !cfg.MetricsDisabled)
			if err != nil {
				return err
			}

			opts := lifecycle.Options{
				DataRoot:        cfg.DataRoot,
				BaseURL:         cfg.BaseURL,
				DryRun:          dryRun,
				UpstreamTimeout: time.Duration(cfg.Timeout) * time.Second,
				BlockedPatterns: blocked,
				HeaderOptions: interceptor.HeaderOptions{
					Integration: cfg.IntegrationID,
					CLIModel:    cfg.Model,
					CLITimeout:  fmt.Sprintf("%d", cfg.Timeout),
					Client:      "codemie-cli",
				},
			}

			envOverrides := map[string]string{}
			if cfg.APIKey != "" && baseURLEnv == "" {
				envOverrides["CODEMIE_API_KEY"] = cfg.APIKey
			}

			controller := lifecycle.New(def, opts)
			exitCode, err := controller.Run(cmd.Context(), args, envOverrides)
			if err != nil && exitCode == 0 {
				return err
			}
			if exitCode != 0 {
				os.Exit(exitCode)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	cmd.Flags().StringVar(&assistant, "assistant", "", fmt.Sprintf("Assistant dialect to wrap (%s)", strings.Join(supportedAssistants, ", ")))
	cmd.Flags().StringVar(&sessionsDir, "sessions-dir", "", "Override the assistant's session log directory")
	cmd.Flags().StringVar(&provider, "provider", "", "Provider label recorded on the session (defaults to config)")
	cmd.Flags().StringVar(&baseURLEnv, "base-url-env", "", "Env var the assistant reads for its upstream base URL (enables the SSO proxy)")
	cmd.Flags().StringVar(&apiKeyEnv, "api-key-env", "", "Env var the assistant reads for its API key (enables the SSO proxy)")
	cmd.Flags().StringArrayVar(&blocked, "block", nil, "Substring pattern of a request path to short-circuit with a canned response")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Log metrics transmissions without making network calls")
	cmd.MarkFlagRequired("assistant")

	return cmd
}
