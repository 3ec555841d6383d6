// Package agentspec is the seam between this core and the out-of-scope
// config-profile/CLI layer: a plain struct describing one third-party
// assistant (dialect selection, SSO env-override keys, argument transform,
// lifecycle hooks, tool error-exclusion list). The wrapping CLI constructs
// a Definition and passes it to internal/lifecycle; this package never
// loads definitions from disk itself.
package agentspec

import (
	"github.com/codemie-cli/agentwrap/internal/parser"
)

// SSOConfig describes how the Lifecycle Controller should route an SSO-
// authenticated assistant's traffic through the local proxy.
type SSOConfig struct {
	Enabled bool
	// EnvOverrides maps the env var names this assistant reads for its
	// upstream base URL and API key.
	EnvOverrides struct {
		BaseURL string
		APIKey  string
	}
}

// Lifecycle hooks an agent definition may supply around spawn.
type Lifecycle struct {
	BeforeRun func(env map[string]string, config map[string]string) (map[string]string, error)
	AfterRun  func(exitCode int) error
}

// Definition is the plain-struct contract for one supported assistant.
type Definition struct {
	Name     string
	Provider string

	Dialect parser.Dialect

	SSOConfig SSOConfig

	// ArgumentTransform rewrites the user-supplied args before spawn, if
	// present.
	ArgumentTransform func(args []string, config map[string]string) []string

	Lifecycle Lifecycle

	// ErrorExclusions overrides aggregator.DefaultErrorExclusions when
	// non-nil.
	ErrorExclusions map[string]bool

	// MetricsEnabled gates whether the Lifecycle Controller constructs a
	// MetricsOrchestrator for this provider at all.
	MetricsEnabled bool
}

// Context carries the subset of agentspec.Definition fields the Lifecycle
// Controller threads through a single run, bundled for readability at call
// sites.
type Context struct {
	Definition Definition
	Args       []string
	EnvOverrides map[string]string
	Config     map[string]string
}
