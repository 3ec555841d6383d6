// Package parser defines the Assistant Log Parser capability set: one
// Dialect implementation per recognized assistant log format, dispatched by
// agent name at spawn time. The dialect implementations live in the
// dialecta, dialectb, and dialectc sub-packages; shared delta-building and
// bookkeeping helpers live in parser/common.
package parser

import (
	"time"

	"github.com/codemie-cli/agentwrap/internal/codemie"
	"github.com/codemie-cli/agentwrap/internal/snapshot"
)

// DataPaths describes where a dialect expects to find its session files and,
// optionally, its settings.
type DataPaths struct {
	SessionsDir string
	SettingsDir string

	// SessionTemplate is the placeholder-aware path template (relative to
	// SessionsDir) the Snapshotter uses to enumerate this dialect's session
	// files, per spec.md §4.1. It must use "{name}" placeholder segments,
	// never glob syntax, and its segment count must match this dialect's
	// on-disk directory depth.
	SessionTemplate snapshot.Template
}

// FullTotals is the cumulative-metrics view returned by ParseFull, used to
// verify the delta-sum identity against an independent full re-parse.
type FullTotals struct {
	Tokens    codemie.Tokens
	ToolCalls map[string]int
}

// IncrementalResult is the output of one ParseIncremental call.
type IncrementalResult struct {
	Deltas               []codemie.MetricDelta
	LastLine             int
	LastHash             string
	NewlyAttachedPrompts []string
}

// Dialect is the capability set any recognized assistant log format must
// implement. Implementations are stateless between calls: all progress is
// threaded through the caller-supplied processedRecordIDs/attachedPromptTexts
// and the returned watermark.
type Dialect interface {
	// MatchesSessionPattern reports whether path names a session file of
	// this dialect, optionally restricted to files at or after dateFilter.
	MatchesSessionPattern(path string, dateFilter *time.Time) bool

	// ExtractSessionID returns the assistant's own session id embedded in
	// path (typically derived from the filename).
	ExtractSessionID(path string) (string, error)

	// ParseFull parses a session file to completion and returns cumulative
	// totals, independent of any watermark. Used only for correctness
	// verification, never on the hot path.
	ParseFull(path string) (*FullTotals, error)

	// ParseIncremental parses path starting after the position implied by
	// processedRecordIDs/attachedPromptTexts and returns newly observed
	// deltas plus an updated watermark.
	ParseIncremental(path string, processedRecordIDs, attachedPromptTexts map[string]bool) (*IncrementalResult, error)

	// GetUserPrompts returns the user prompts recorded for agentSessionID,
	// optionally bounded by [fromTs, toTs].
	GetUserPrompts(agentSessionID string, fromTs, toTs *time.Time) ([]codemie.UserPrompt, error)

	GetWatermarkStrategy() codemie.WatermarkStrategy
	GetInitDelay() time.Duration
	GetDataPaths() DataPaths
}
