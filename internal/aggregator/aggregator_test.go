package aggregator

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codemie-cli/agentwrap/internal/codemie"
)

func baseSession() *codemie.MetricsSession {
	return &codemie.MetricsSession{
		SessionID:        "session-1",
		AgentName:        "dialect-a",
		WorkingDirectory: "/home/dev/projects/my-project",
	}
}

func TestAggregateEmptyDeltasReturnsNil(t *testing.T) {
	got := Aggregate(baseSession(), nil, nil)
	assert.Nil(t, got)
}

func TestAggregateGroupsByBranchInFirstSeenOrder(t *testing.T) {
	deltas := []codemie.MetricDelta{
		{GitBranch: "feature-b", Tokens: codemie.Tokens{Input: 1}},
		{GitBranch: "", Tokens: codemie.Tokens{Input: 2}},
		{GitBranch: "feature-a", Tokens: codemie.Tokens{Input: 3}},
		{GitBranch: "feature-b", Tokens: codemie.Tokens{Input: 4}},
	}

	metrics := Aggregate(baseSession(), deltas, nil)
	require.Len(t, metrics, 3)

	var branches []string
	for _, m := range metrics {
		branches = append(branches, m.Attributes["branch"].(string))
	}
	assert.Equal(t, []string{"feature-b", "unknown", "feature-a"}, branches)
}

func TestAggregateSumsTokensAndToolCounts(t *testing.T) {
	deltas := []codemie.MetricDelta{
		{
			Tokens: codemie.Tokens{Input: 10, Output: 5, CacheRead: 2, CacheCreation: 1},
			Tools:  map[string]int{"read_file": 3},
			ToolStatus: map[string]codemie.ToolStatusCount{
				"read_file": {Success: 2, Failure: 1},
			},
		},
		{
			Tokens: codemie.Tokens{Input: 20, Output: 15, CacheRead: 3, CacheCreation: 4},
			Tools:  map[string]int{"read_file": 1, "write_file": 1},
			ToolStatus: map[string]codemie.ToolStatusCount{
				"read_file":  {Success: 1, Failure: 0},
				"write_file": {Success: 1, Failure: 0},
			},
		},
	}

	metrics := Aggregate(baseSession(), deltas, nil)
	require.Len(t, metrics, 1)
	attrs := metrics[0].Attributes

	assert.Equal(t, int64(30), attrs["total_input_tokens"])
	assert.Equal(t, int64(20), attrs["total_output_tokens"])
	assert.Equal(t, int64(5), attrs["total_cache_read_input_tokens"])
	assert.Equal(t, int64(5), attrs["total_cache_creation_tokens"])
	assert.Equal(t, 5, attrs["total_tool_calls"])
	assert.Equal(t, 4, attrs["successful_tool_calls"])
	assert.Equal(t, 1, attrs["failed_tool_calls"])
}

func TestAggregateHadErrorsRespectsExclusions(t *testing.T) {
	exclusions := map[string]bool{"shell": true}

	excludedFailure := []codemie.MetricDelta{
		{ToolStatus: map[string]codemie.ToolStatusCount{"shell": {Failure: 1}}},
	}
	metrics := Aggregate(baseSession(), excludedFailure, exclusions)
	require.Len(t, metrics, 1)
	assert.Equal(t, false, metrics[0].Attributes["had_errors"], "a failure on an excluded tool with no API error must not flag had_errors")
	assert.NotContains(t, metrics[0].Attributes, "errors")

	nonExcludedFailure := []codemie.MetricDelta{
		{ToolStatus: map[string]codemie.ToolStatusCount{"read_file": {Failure: 1}}},
	}
	metrics = Aggregate(baseSession(), nonExcludedFailure, exclusions)
	require.Len(t, metrics, 1)
	assert.Equal(t, true, metrics[0].Attributes["had_errors"])

	apiErrorOnExcluded := []codemie.MetricDelta{
		{ToolStatus: map[string]codemie.ToolStatusCount{"shell": {Failure: 1}}, APIErrorMessage: "rate limited"},
	}
	metrics = Aggregate(baseSession(), apiErrorOnExcluded, exclusions)
	require.Len(t, metrics, 1)
	assert.Equal(t, true, metrics[0].Attributes["had_errors"], "an API error message must set had_errors regardless of tool exclusions")
	assert.NotContains(t, metrics[0].Attributes, "errors", "the errors map is only populated for failures on non-excluded tools")
}

func TestAggregateFileOperationCounts(t *testing.T) {
	deltas := []codemie.MetricDelta{
		{
			FileOperations: []codemie.FileOperation{
				{Type: codemie.FileOpWrite, LinesAdded: 10},
				{Type: codemie.FileOpEdit, LinesAdded: 3, LinesRemoved: 2},
				{Type: codemie.FileOpDelete, LinesRemoved: 20},
				{Type: codemie.FileOpRead},
			},
		},
	}

	metrics := Aggregate(baseSession(), deltas, nil)
	require.Len(t, metrics, 1)
	attrs := metrics[0].Attributes

	assert.Equal(t, 1, attrs["files_created"])
	assert.Equal(t, 1, attrs["files_modified"])
	assert.Equal(t, 1, attrs["files_deleted"])
	assert.Equal(t, 13, attrs["total_lines_added"])
	assert.Equal(t, 22, attrs["total_lines_removed"])
}

func TestAggregateMostFrequentModelTieBreaksByFirstSeen(t *testing.T) {
	deltas := []codemie.MetricDelta{
		{Models: []string{"model-b"}},
		{Models: []string{"model-a"}},
		{Models: []string{"model-b"}},
		{Models: []string{"model-a"}},
	}

	metrics := Aggregate(baseSession(), deltas, nil)
	require.Len(t, metrics, 1)
	assert.Equal(t, "model-b", metrics[0].Attributes["llm_model"], "model-b was observed first and ties must break by first-seen order")
}

func TestAggregateMostFrequentModelNoModelsIsUnknown(t *testing.T) {
	metrics := Aggregate(baseSession(), []codemie.MetricDelta{{}}, nil)
	require.Len(t, metrics, 1)
	assert.Equal(t, "unknown", metrics[0].Attributes["llm_model"])
}

func TestAggregateRepositoryDerivation(t *testing.T) {
	cases := []struct {
		name     string
		wd       string
		expected string
	}{
		{"empty working directory", "", "unknown"},
		{"single segment", "/project", "project"},
		{"two or more segments", "/home/dev/projects/my-project", "projects/my-project"},
		{"trailing slash", "/home/dev/projects/my-project/", "projects/my-project"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			session := baseSession()
			session.WorkingDirectory = tc.wd
			metrics := Aggregate(session, []codemie.MetricDelta{{}}, nil)
			require.Len(t, metrics, 1)
			assert.Equal(t, tc.expected, metrics[0].Attributes["repository"])
		})
	}
}

func TestAggregateSessionDurationAndProjectAttributes(t *testing.T) {
	session := baseSession()
	metrics := Aggregate(session, []codemie.MetricDelta{{}}, nil)
	require.Len(t, metrics, 1)
	assert.NotContains(t, metrics[0].Attributes, "session_duration_ms")
	assert.NotContains(t, metrics[0].Attributes, "project")

	start := time.Now()
	end := start.Add(90 * time.Second)
	project := "acme-web"
	session.StartTime = start
	session.EndTime = &end
	session.Project = &project

	metrics = Aggregate(session, []codemie.MetricDelta{{}}, nil)
	require.Len(t, metrics, 1)
	assert.Equal(t, int64(90_000), metrics[0].Attributes["session_duration_ms"])
	assert.Equal(t, "acme-web", metrics[0].Attributes["project"])
}

func TestAggregateSanitizesErrorMessages(t *testing.T) {
	dirty := "\x1b[31mconnection refused\x1b[0m\nretrying"
	deltas := []codemie.MetricDelta{
		{
			ToolStatus:      map[string]codemie.ToolStatusCount{"read_file": {Failure: 1}},
			APIErrorMessage: dirty,
		},
	}

	metrics := Aggregate(baseSession(), deltas, nil)
	require.Len(t, metrics, 1)
	errs, ok := metrics[0].Attributes["errors"].(map[string][]string)
	require.True(t, ok, "errors attribute must be present when a non-excluded tool failed with an API error message")

	msgs := errs["read_file"]
	require.Len(t, msgs, 1)
	assert.NotContains(t, msgs[0], "\x1b")
	assert.NotContains(t, msgs[0], "\n")
	assert.Contains(t, msgs[0], "\\n")

	long := strings.Repeat("x", 2000)
	deltas = []codemie.MetricDelta{
		{
			ToolStatus:      map[string]codemie.ToolStatusCount{"read_file": {Failure: 1}},
			APIErrorMessage: long,
		},
	}
	metrics = Aggregate(baseSession(), deltas, nil)
	require.Len(t, metrics, 1)
	errs = metrics[0].Attributes["errors"].(map[string][]string)
	require.Len(t, errs["read_file"], 1)
	assert.True(t, strings.HasSuffix(errs["read_file"][0], "...[truncated]"))
	assert.LessOrEqual(t, len(errs["read_file"][0]), maxErrorLength+len("...[truncated]"))
}
