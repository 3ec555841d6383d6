// Package codemieerr is the structured error-context carrier: every
// pipeline error the controller catches is contextualized with session,
// agent, provider, system info, and timestamp before being logged and
// swallowed, per spec.md §7's propagation policy. Grounded on the
// teacher's os/runtime system-info capture conventions.
package codemieerr

import (
	"fmt"
	"runtime"
	"time"
)

// Context is the structured wrapper attached to any pipeline error before
// it is logged.
type Context struct {
	Err       error
	SessionID string
	Agent     string
	Provider  string
	OS        string
	Arch      string
	GoVersion string
	Timestamp time.Time
}

// Wrap builds a Context around err, capturing system info and the current
// time. Returns nil if err is nil.
func Wrap(err error, sessionID, agent, provider string) *Context {
	if err == nil {
		return nil
	}
	return &Context{
		Err:       err,
		SessionID: sessionID,
		Agent:     agent,
		Provider:  provider,
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
		GoVersion: runtime.Version(),
		Timestamp: time.Now(),
	}
}

// Error implements the error interface so a Context can itself be
// returned/wrapped further with fmt.Errorf("...: %w", ctx).
func (c *Context) Error() string {
	return fmt.Sprintf("session=%s agent=%s provider=%s: %v", c.SessionID, c.Agent, c.Provider, c.Err)
}

// Unwrap exposes the underlying error for errors.Is/errors.As.
func (c *Context) Unwrap() error { return c.Err }

// LogFields returns a flat key/value slice suitable for slog.Logger.With.
func (c *Context) LogFields() []any {
	return []any{
		"sessionId", c.SessionID,
		"agent", c.Agent,
		"provider", c.Provider,
		"os", c.OS,
		"arch", c.Arch,
		"goVersion", c.GoVersion,
		"timestamp", c.Timestamp,
	}
}
