package main

import (
	"fmt"
	"path/filepath"

	"github.com/codemie-cli/agentwrap/internal/agentspec"
	"github.com/codemie-cli/agentwrap/internal/parser"
	"github.com/codemie-cli/agentwrap/internal/parser/dialecta"
	"github.com/codemie-cli/agentwrap/internal/parser/dialectb"
	"github.com/codemie-cli/agentwrap/internal/parser/dialectc"
)

// supportedAssistants lists the dialect keys the --assistant flag accepts.
// A wrapping CLI with real per-product onboarding UX would source these
// from a profile config instead; here each key maps directly to one of
// the three parser dialects.
var supportedAssistants = []string{"dialect-a", "dialect-b", "dialect-c"}

// buildDialect constructs the parser.Dialect for name rooted at
// sessionsDir, the assistant's own on-disk session log directory.
func buildDialect(name, sessionsDir string) (parser.Dialect, error) {
	switch name {
	case "dialect-a":
		return dialecta.New(sessionsDir), nil
	case "dialect-b":
		return dialectb.New(sessionsDir), nil
	case "dialect-c":
		return dialectc.New(sessionsDir), nil
	default:
		return nil, fmt.Errorf("unknown assistant %q (supported: %v)", name, supportedAssistants)
	}
}

// buildDefinition assembles the agentspec.Definition for one run, wiring
// an SSO proxy whenever baseURLEnv/apiKeyEnv are both provided.
func buildDefinition(name, sessionsDir, provider, baseURLEnv, apiKeyEnv string, metricsEnabled bool) (agentspec.Definition, error) {
	dialect, err := buildDialect(name, sessionsDir)
	if err != nil {
		return agentspec.Definition{}, err
	}

	def := agentspec.Definition{
		Name:           name,
		Provider:       provider,
		Dialect:        dialect,
		MetricsEnabled: metricsEnabled,
	}
	if baseURLEnv != "" && apiKeyEnv != "" {
		def.SSOConfig.Enabled = true
		def.SSOConfig.EnvOverrides.BaseURL = baseURLEnv
		def.SSOConfig.EnvOverrides.APIKey = apiKeyEnv
	}
	return def, nil
}

// defaultSessionsDir derives a per-assistant session directory under the
// user's home: home/.{assistant}/sessions.
func defaultSessionsDir(home, name string) string {
	return filepath.Join(home, "."+name, "sessions")
}
