// Package common holds the parsing primitives shared by every dialect
// implementation: delta-record-id synthesis, tool-call request/result
// pairing, user-prompt attachment bookkeeping, and file-operation
// derivation from a per-dialect tool-name table.
package common

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/codemie-cli/agentwrap/internal/codemie"
)

// RecordID returns the assistant's own event id when present, otherwise a
// composite of sessionId + timestamp + a per-call ordinal, matching spec.md
// §3's recordId derivation rule.
func RecordID(nativeEventID, sessionID string, timestampUnixNano int64, ordinal int) string {
	if nativeEventID != "" {
		return nativeEventID
	}
	return fmt.Sprintf("%s-%d-%d", sessionID, timestampUnixNano, ordinal)
}

// NewOrdinalRecordID is a convenience for dialects with no stable native
// event id at all (falls back to a random suffix instead of an ordinal,
// used only where the caller cannot track an ordinal counter itself).
func NewOrdinalRecordID(sessionID string, timestampUnixNano int64) string {
	return fmt.Sprintf("%s-%d-%s", sessionID, timestampUnixNano, uuid.NewString()[:8])
}

// PendingToolCall is a tool-use event awaiting its paired tool-result.
type PendingToolCall struct {
	ToolName  string
	Input     map[string]any
	Timestamp int64
}

// ToolCallPairing builds a first-pass map of tool-use events keyed by the
// assistant's own tool-use id, then in a second pass yields a paired
// (request, result) only once both halves are present. Unresolved tool-use
// entries remain pending and are reconsidered on the next parse pass,
// matching spec.md §4.2's two-pass pairing contract.
type ToolCallPairing struct {
	pending map[string]PendingToolCall
}

// NewToolCallPairing constructs an empty pairing tracker.
func NewToolCallPairing() *ToolCallPairing {
	return &ToolCallPairing{pending: make(map[string]PendingToolCall)}
}

// Use records a tool-use event awaiting its result.
func (p *ToolCallPairing) Use(toolUseID, toolName string, input map[string]any, timestamp int64) {
	p.pending[toolUseID] = PendingToolCall{ToolName: toolName, Input: input, Timestamp: timestamp}
}

// Result consumes the matching tool-use (if any) and returns it paired with
// success, reporting whether a match existed. A tool-result with no
// matching pending tool-use is ignored (orphan result, per spec.md §8
// boundary behaviors).
func (p *ToolCallPairing) Result(toolUseID string) (PendingToolCall, bool) {
	call, ok := p.pending[toolUseID]
	if !ok {
		return PendingToolCall{}, false
	}
	delete(p.pending, toolUseID)
	return call, true
}

// Pending returns the tool-use ids still awaiting a result, to be carried
// over into the next parse pass.
func (p *ToolCallPairing) Pending() map[string]PendingToolCall {
	return p.pending
}

// UserPromptTracker enforces the "attach to the first not-yet-processed
// delta, at most once per distinct text" rule from spec.md §4.2.
type UserPromptTracker struct {
	attached map[string]bool
	queue    []string
}

// NewUserPromptTracker seeds the tracker from a session's already-attached
// prompt texts (loaded from SyncState).
func NewUserPromptTracker(alreadyAttached map[string]bool) *UserPromptTracker {
	attached := make(map[string]bool, len(alreadyAttached))
	for k, v := range alreadyAttached {
		if v {
			attached[k] = true
		}
	}
	return &UserPromptTracker{attached: attached}
}

// Observe queues a freshly seen user-prompt text for attachment, skipping
// texts already attached in a previous session lifetime.
func (t *UserPromptTracker) Observe(text string) {
	if t.attached[text] {
		return
	}
	t.queue = append(t.queue, text)
}

// AttachNext pops the next queued prompt (if any) for attachment to the
// delta currently being built, marking it attached.
func (t *UserPromptTracker) AttachNext() (string, bool) {
	if len(t.queue) == 0 {
		return "", false
	}
	text := t.queue[0]
	t.queue = t.queue[1:]
	if t.attached[text] {
		return t.AttachNext()
	}
	t.attached[text] = true
	return text, true
}

// NewlyAttached returns every prompt text this tracker attached during its
// lifetime that was not present in the seed set.
func (t *UserPromptTracker) NewlyAttached(seed map[string]bool) []string {
	var out []string
	for text := range t.attached {
		if !seed[text] {
			out = append(out, text)
		}
	}
	return out
}

// CumulativeDelta computes max(0, current-previous) for a dialect that
// reports cumulative totals per event, per spec.md §4.2.
func CumulativeDelta(current, previous int64) int64 {
	d := current - previous
	if d < 0 {
		return 0
	}
	return d
}

// FileOpTable maps a dialect's tool names to the file-operation type they
// represent. Tool names absent from the table MUST NOT produce a file
// operation.
type FileOpTable map[string]codemie.FileOpType

// Lookup returns the file-operation type for toolName, or false if
// toolName is not a file-operation tool for this dialect.
func (t FileOpTable) Lookup(toolName string) (codemie.FileOpType, bool) {
	op, ok := t[strings.ToLower(toolName)]
	return op, ok
}

// CountLines returns the number of lines in content (newline count plus one;
// 0 for empty content), used when a dialect's tool result
// carries raw content instead of a structured diff.
func CountLines(content string) int {
	if content == "" {
		return 0
	}
	return strings.Count(content, "\n") + 1
}
