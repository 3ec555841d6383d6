// Package snapshot takes directory snapshots against a placeholder-aware
// path template and computes set-diffs between two snapshots.
package snapshot

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/codemie-cli/agentwrap/internal/codemie"
)

// Template is a slash-separated path pattern. Segments of the form
// "{name}" match any single directory/file name; other segments must match
// literally, case-insensitively.
type Template string

// segments splits a template (or an actual path) into normalized parts,
// accepting both '/' and '\' as separators.
func segments(p string) []string {
	p = strings.ReplaceAll(p, "\\", "/")
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

func isPlaceholder(seg string) bool {
	return strings.HasPrefix(seg, "{") && strings.HasSuffix(seg, "}")
}

// Matches reports whether relPath (relative to the snapshot base directory)
// satisfies the template.
func (t Template) Matches(relPath string) bool {
	want := segments(string(t))
	got := segments(relPath)
	if len(want) != len(got) {
		return false
	}
	for i, w := range want {
		if isPlaceholder(w) {
			continue
		}
		if !strings.EqualFold(w, got[i]) {
			return false
		}
	}
	return true
}

// Take walks dir and returns a FileSnapshot of every file whose path
// relative to dir matches tmpl. A missing base directory yields an empty
// snapshot, not an error.
func Take(dir string, tmpl Template) (*codemie.FileSnapshot, error) {
	snap := &codemie.FileSnapshot{CapturedAt: time.Now()}

	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return snap, nil
	}

	err = filepath.Walk(dir, func(path string, fi os.FileInfo, walkErr error) error {
		if walkErr != nil {
			slog.Debug("snapshot: skipping unreadable entry", "path", path, "error", walkErr)
			return nil
		}
		if fi.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			slog.Debug("snapshot: skipping entry with unresolvable relative path", "path", path, "error", err)
			return nil
		}
		if !tmpl.Matches(rel) {
			return nil
		}
		snap.Files = append(snap.Files, codemie.FileEntry{
			Path:  rel,
			Size:  fi.Size(),
			Mtime: fi.ModTime(),
		})
		return nil
	})
	if err != nil {
		slog.Debug("snapshot: walk error", "dir", dir, "error", err)
	}
	return snap, nil
}

// Diff returns the paths present in b but absent from a, by path identity.
func Diff(a, b *codemie.FileSnapshot) []string {
	seen := make(map[string]bool, len(a.Files))
	for _, f := range a.Files {
		seen[f.Path] = true
	}
	var added []string
	for _, f := range b.Files {
		if !seen[f.Path] {
			added = append(added, f.Path)
		}
	}
	return added
}
