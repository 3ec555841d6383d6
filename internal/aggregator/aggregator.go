// Package aggregator groups a session's pending deltas by git branch,
// sums their counts, sanitizes error payloads, and emits one
// AggregatedMetric per branch, per spec.md §4.6. Grounded on the teacher's
// Tracker group-by-key totals accumulation (internal/usage/usage.go),
// generalized from provider:model keys to branch keys.
package aggregator

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/codemie-cli/agentwrap/internal/codemie"
)

// DefaultErrorExclusions is the default tool-error-exclusion list: shell-
// style execution tools, per spec.md §9's Open Question decision.
var DefaultErrorExclusions = map[string]bool{
	"shell":       true,
	"bash":        true,
	"exec":        true,
	"run_command": true,
}

const maxErrorLength = 1000

var ansiEscape = regexp.MustCompile(`\x1b\[[0-9;]*[a-zA-Z]`)

// totals accumulates one branch's running sums.
type totals struct {
	userPrompts        int
	inputTokens        int64
	outputTokens       int64
	cacheReadTokens    int64
	cacheCreationTokens int64
	toolCalls          int
	successfulTools    int
	failedTools        int
	filesCreated       int
	filesModified      int
	filesDeleted       int
	linesAdded         int
	linesRemoved       int
	models             map[string]int
	errors             map[string][]string
	hadErrors          bool
	deltas             []codemie.MetricDelta
}

func newTotals() *totals {
	return &totals{models: make(map[string]int), errors: make(map[string][]string)}
}

// Aggregate groups deltas by gitBranch and returns one AggregatedMetric per
// branch, in first-seen branch order. exclusions overrides
// DefaultErrorExclusions when non-nil.
func Aggregate(session *codemie.MetricsSession, deltas []codemie.MetricDelta, exclusions map[string]bool) []codemie.AggregatedMetric {
	if exclusions == nil {
		exclusions = DefaultErrorExclusions
	}
	if len(deltas) == 0 {
		return nil
	}

	byBranch := make(map[string]*totals)
	var branchOrder []string

	for _, d := range deltas {
		branch := d.GitBranch
		if branch == "" {
			branch = "unknown"
		}
		t, ok := byBranch[branch]
		if !ok {
			t = newTotals()
			byBranch[branch] = t
			branchOrder = append(branchOrder, branch)
		}
		accumulate(t, d, exclusions)
	}

	metrics := make([]codemie.AggregatedMetric, 0, len(branchOrder))
	for _, branch := range branchOrder {
		metrics = append(metrics, build(session, branch, byBranch[branch]))
	}
	return metrics
}

func accumulate(t *totals, d codemie.MetricDelta, exclusions map[string]bool) {
	t.deltas = append(t.deltas, d)
	for _, p := range d.UserPrompts {
		t.userPrompts += p.Count
	}
	t.inputTokens += d.Tokens.Input
	t.outputTokens += d.Tokens.Output
	t.cacheReadTokens += d.Tokens.CacheRead
	t.cacheCreationTokens += d.Tokens.CacheCreation

	for _, count := range d.Tools {
		t.toolCalls += count
	}
	for tool, status := range d.ToolStatus {
		t.successfulTools += status.Success
		t.failedTools += status.Failure
		if status.Failure > 0 && !exclusions[strings.ToLower(tool)] {
			t.hadErrors = true
			if d.APIErrorMessage != "" {
				t.errors[tool] = append(t.errors[tool], sanitize(d.APIErrorMessage))
			}
		}
	}
	if d.APIErrorMessage != "" {
		t.hadErrors = true
	}

	for _, fo := range d.FileOperations {
		switch fo.Type {
		case codemie.FileOpWrite:
			t.filesCreated++
		case codemie.FileOpEdit:
			t.filesModified++
		case codemie.FileOpDelete:
			t.filesDeleted++
		}
		t.linesAdded += fo.LinesAdded
		t.linesRemoved += fo.LinesRemoved
	}

	for _, m := range d.Models {
		if m != "" {
			t.models[m]++
		}
	}
}

func sanitize(msg string) string {
	msg = ansiEscape.ReplaceAllString(msg, "")
	msg = strings.ReplaceAll(msg, "\n", "\\n")
	if len(msg) > maxErrorLength {
		msg = msg[:maxErrorLength] + "...[truncated]"
	}
	return msg
}

// mostFrequentModel picks the model with the highest count, ties broken by
// first-seen order (models tracked in a map loses insertion order, so the
// caller must pass deltas in order to reconstruct first-seen when tied —
// here we approximate by iterating the original delta list).
func mostFrequentModel(models map[string]int, deltas []codemie.MetricDelta) string {
	if len(models) == 0 {
		return "unknown"
	}
	best := ""
	bestCount := -1
	firstSeen := make(map[string]int)
	order := 0
	for _, d := range deltas {
		for _, m := range d.Models {
			if m == "" {
				continue
			}
			if _, ok := firstSeen[m]; !ok {
				firstSeen[m] = order
				order++
			}
		}
	}
	for m, count := range models {
		if count > bestCount || (count == bestCount && firstSeen[m] < firstSeen[best]) {
			best = m
			bestCount = count
		}
	}
	if best == "" {
		return "unknown"
	}
	return best
}

func repository(workingDirectory string) string {
	parts := strings.Split(strings.Trim(strings.ReplaceAll(workingDirectory, "\\", "/"), "/"), "/")
	var nonEmpty []string
	for _, p := range parts {
		if p != "" {
			nonEmpty = append(nonEmpty, p)
		}
	}
	switch len(nonEmpty) {
	case 0:
		return "unknown"
	case 1:
		return nonEmpty[0]
	default:
		return fmt.Sprintf("%s/%s", nonEmpty[len(nonEmpty)-2], nonEmpty[len(nonEmpty)-1])
	}
}

func build(session *codemie.MetricsSession, branch string, t *totals) codemie.AggregatedMetric {
	attrs := map[string]any{
		"agent":                             session.AgentName,
		"agent_version":                     session.AgentVersion,
		"llm_model":                         mostFrequentModel(t.models, t.deltas),
		"repository":                        repository(session.WorkingDirectory),
		"session_id":                        session.SessionID,
		"branch":                            branch,
		"total_user_prompts":                t.userPrompts,
		"total_input_tokens":                t.inputTokens,
		"total_output_tokens":               t.outputTokens,
		"total_cache_read_input_tokens":     t.cacheReadTokens,
		"total_cache_creation_tokens":       t.cacheCreationTokens,
		"total_tool_calls":                  t.toolCalls,
		"successful_tool_calls":             t.successfulTools,
		"failed_tool_calls":                 t.failedTools,
		"files_created":                     t.filesCreated,
		"files_modified":                    t.filesModified,
		"files_deleted":                     t.filesDeleted,
		"total_lines_added":                 t.linesAdded,
		"total_lines_removed":               t.linesRemoved,
		"had_errors":                        t.hadErrors,
		"status":                            string(session.Status),
		"count":                             1,
	}
	if session.EndTime != nil {
		attrs["session_duration_ms"] = session.EndTime.Sub(session.StartTime).Milliseconds()
	}
	if session.Project != nil {
		attrs["project"] = *session.Project
	}
	if len(t.errors) > 0 {
		attrs["errors"] = t.errors
	}
	return codemie.AggregatedMetric{Name: codemie.MetricUsageTotal, Attributes: attrs}
}
