// Package correlator identifies which newly created assistant session file
// belongs to a freshly spawned invocation, retrying with a geometric
// backoff schedule when the file is not yet visible.
package correlator

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/codemie-cli/agentwrap/internal/codemie"
	"github.com/codemie-cli/agentwrap/internal/snapshot"
)

// MatchesFunc reports whether a file (given its path relative to
// sessionsDir) is a recognized session file for the dialect being
// correlated. Candidates the dialect does not recognize (e.g. a sibling
// prompts log) are filtered out before the single-new-file check runs.
type MatchesFunc func(relPath string) bool

// BackoffPolicy is the geometric retry schedule: initial delay, doubling
// factor, a cap, and a maximum attempt count. Grounded on the teacher's
// BackoffPolicy/ComputeBackoff shape.
type BackoffPolicy struct {
	InitialMs int64
	Factor    float64
	MaxMs     int64
	Attempts  int
}

// DefaultPolicy is the schedule spec.md §4.2 mandates: 500ms initial,
// doubling, capped at 32s, 8 attempts. Correlate does not wait after the
// last attempt, so the 7 waits add up to 63.5s.
var DefaultPolicy = BackoffPolicy{InitialMs: 500, Factor: 2, MaxMs: 32_000, Attempts: 8}

// ComputeBackoff returns the delay before retry attempt n (0-indexed).
func ComputeBackoff(p BackoffPolicy, attempt int) time.Duration {
	ms := float64(p.InitialMs)
	for i := 0; i < attempt; i++ {
		ms *= p.Factor
	}
	if ms > float64(p.MaxMs) {
		ms = float64(p.MaxMs)
	}
	return time.Duration(ms) * time.Millisecond
}

// Predicate decides, among candidate new file paths, which one (if any)
// plausibly belongs to this spawn — e.g. by working-directory match or
// recency.
type Predicate func(candidates []string) (string, bool)

// ByWorkingDirectory prefers a candidate path whose containing tree
// references workingDir's base name, falling back to the last candidate in
// the order given when none match.
func ByWorkingDirectory(workingDir string) Predicate {
	base := strings.ToLower(filepath.Base(workingDir))
	return func(candidates []string) (string, bool) {
		if len(candidates) == 0 {
			return "", false
		}
		for _, c := range candidates {
			if strings.Contains(strings.ToLower(c), base) {
				return c, true
			}
		}
		return candidates[len(candidates)-1], true
	}
}

// Correlate diffs snapshots of sessionsDir taken before and at each retry
// against before, returning the new matching file when exactly one appears
// and the one predicate picks when several do, per spec.md §4.2's
// Correlator state machine.
func Correlate(ctx context.Context, sessionsDir string, tmpl snapshot.Template, before *codemie.FileSnapshot, matches MatchesFunc, predicate Predicate, policy BackoffPolicy) (matchedRelPath string, retryCount int, err error) {
	for attempt := 0; attempt < policy.Attempts; attempt++ {
		after, snapErr := snapshot.Take(sessionsDir, tmpl)
		if snapErr != nil {
			return "", attempt, fmt.Errorf("correlator: snapshot attempt %d: %w", attempt, snapErr)
		}
		added := filterMatches(snapshot.Diff(before, after), sessionsDir, matches)
		if len(added) == 1 {
			return added[0], attempt, nil
		}
		if len(added) > 1 {
			if match, ok := predicate(added); ok {
				return match, attempt, nil
			}
		}

		if attempt == policy.Attempts-1 {
			break
		}
		delay := ComputeBackoff(policy, attempt)
		slog.Debug("correlator: no match yet, retrying", "attempt", attempt, "delay", delay)
		select {
		case <-ctx.Done():
			return "", attempt, ctx.Err()
		case <-time.After(delay):
		}
	}
	return "", policy.Attempts, fmt.Errorf("correlator: exhausted retry budget (%d attempts) with no matching session file", policy.Attempts)
}

// filterMatches drops candidates the dialect does not recognize as session
// files (e.g. a sibling prompts log written alongside the real session
// file). A nil matches func accepts every candidate.
func filterMatches(candidates []string, sessionsDir string, matches MatchesFunc) []string {
	if matches == nil {
		return candidates
	}
	out := make([]string, 0, len(candidates))
	for _, c := range candidates {
		if matches(filepath.Join(sessionsDir, c)) {
			out = append(out, c)
		}
	}
	return out
}
