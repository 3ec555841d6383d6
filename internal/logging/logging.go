// Package logging sets up the debug log sink: JSON-to-stderr by default,
// additionally mirrored to a rolling file at logs/debug-YYYY-MM-DD.log
// under the data root, with a text handler substituted when CODEMIE_DEBUG
// is set. Grounded on the teacher's cmd/nexus/main.go slog.NewJSONHandler
// setup and its component-scoped slog.Default().With(...) convention.
package logging

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// Options configures Setup.
type Options struct {
	DataRoot string
	Debug    bool
}

// Setup builds the process-wide slog.Logger and sets it as the default. It
// returns the rolling log file so the caller can close it on shutdown.
func Setup(opts Options) (*slog.Logger, *os.File, error) {
	logDir := filepath.Join(opts.DataRoot, "logs")
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, nil, err
	}
	logPath := filepath.Join(logDir, "debug-"+time.Now().Format("2006-01-02")+".log")
	file, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, err
	}

	level := slog.LevelInfo
	if opts.Debug {
		level = slog.LevelDebug
	}

	var out io.Writer = io.MultiWriter(os.Stderr, file)
	var handler slog.Handler
	if opts.Debug {
		handler = slog.NewTextHandler(out, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewJSONHandler(out, &slog.HandlerOptions{Level: level})
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger, file, nil
}

// Component returns a logger scoped to name, matching the teacher's
// slog.Default().With("component", name) convention used throughout
// internal/skills and internal/gateway.
func Component(name string) *slog.Logger {
	return slog.Default().With("component", name)
}
