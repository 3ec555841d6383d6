package snapshot

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTemplateMatches(t *testing.T) {
	cases := []struct {
		name     string
		tmpl     Template
		path     string
		expected bool
	}{
		{"flat placeholder matches any file", "{file}", "abc-123.jsonl", true},
		{"flat placeholder rejects nested path", "{file}", "2024-01-01/abc-123.jsonl", false},
		{"date-partitioned template matches two segments", "{date}/{file}", "2024-01-01/abc-123.jsonl", true},
		{"date-partitioned template rejects one segment", "{date}/{file}", "abc-123.jsonl", false},
		{"literal segment compared case-insensitively", "sessions/{file}", "Sessions/abc.json", true},
		{"literal segment mismatch rejected", "sessions/{file}", "settings/abc.json", false},
		{"backslash separators normalized", "{date}/{file}", `2024-01-01\abc-123.jsonl`, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, tc.tmpl.Matches(tc.path))
		})
	}
}

func TestTakeAndDiff(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "one.jsonl"), []byte("{}"), 0o644))

	before, err := Take(dir, "{file}")
	require.NoError(t, err)
	assert.Len(t, before.Files, 1)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "two.jsonl"), []byte("{}"), 0o644))
	after, err := Take(dir, "{file}")
	require.NoError(t, err)
	assert.Len(t, after.Files, 2)

	added := Diff(before, after)
	assert.Equal(t, []string{"two.jsonl"}, added)
}

func TestTakeMissingDirReturnsEmptySnapshot(t *testing.T) {
	snap, err := Take(filepath.Join(t.TempDir(), "does-not-exist"), "{file}")
	require.NoError(t, err)
	assert.Empty(t, snap.Files)
}

func TestTakeRespectsSegmentDepth(t *testing.T) {
	dir := t.TempDir()
	nested := filepath.Join(dir, "2024-01-01")
	require.NoError(t, os.MkdirAll(nested, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(nested, "session.jsonl"), []byte("{}"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "flat.jsonl"), []byte("{}"), 0o644))

	snap, err := Take(dir, "{date}/{file}")
	require.NoError(t, err)

	var paths []string
	for _, f := range snap.Files {
		paths = append(paths, f.Path)
	}
	assert.Contains(t, paths, filepath.Join("2024-01-01", "session.jsonl"))
	assert.NotContains(t, paths, "flat.jsonl")
}
