// Package syncstate manages the per-session JSON document recording which
// delta record ids and user-prompt texts have already been emitted, plus a
// last-processed position marker. It is a full-rewrite-per-update store,
// grounded on the teacher's per-session JSON document contract.
package syncstate

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/codemie-cli/agentwrap/internal/codemie"
)

// Manager owns one session's SyncState document.
type Manager struct {
	path  string
	mu    sync.Mutex
	state *codemie.SyncState
}

// Path returns the deterministic path for a session's combined
// session+sync-state JSON document under dataRoot.
func Path(dataRoot, sessionID string) string {
	return filepath.Join(dataRoot, "metrics", "sessions", sessionID+".json")
}

// Open returns a Manager for sessionID, loading any existing document.
func Open(dataRoot, sessionID string) (*Manager, error) {
	path := Path(dataRoot, sessionID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("syncstate: mkdir for %s: %w", sessionID, err)
	}
	m := &Manager{path: path}
	if err := m.load(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manager) readDocument() (codemie.SessionDocument, error) {
	var doc codemie.SessionDocument
	data, err := os.ReadFile(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			return doc, nil
		}
		return doc, fmt.Errorf("syncstate: read %s: %w", m.path, err)
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return doc, fmt.Errorf("syncstate: decode %s: %w", m.path, err)
	}
	return doc, nil
}

func (m *Manager) load() error {
	doc, err := m.readDocument()
	if err != nil {
		return err
	}
	m.state = doc.SyncState
	return nil
}

// save re-reads the document to preserve the sibling Session half (owned by
// internal/sessionstore) before rewriting it with the current SyncState.
func (m *Manager) save() error {
	doc, err := m.readDocument()
	if err != nil {
		return err
	}
	doc.SyncState = m.state
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("syncstate: marshal: %w", err)
	}
	tmp := m.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("syncstate: write temp file: %w", err)
	}
	if err := os.Rename(tmp, m.path); err != nil {
		return fmt.Errorf("syncstate: rename temp file: %w", err)
	}
	return nil
}

// Initialize creates a fresh SyncState for sessionID if one is not already
// loaded, and persists it.
func (m *Manager) Initialize(sessionID, agentSessionID string, startTime time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != nil {
		return nil
	}
	m.state = codemie.NewSyncState(sessionID, agentSessionID, startTime)
	return m.save()
}

// Load returns the current in-memory SyncState, or nil if Initialize has
// not yet run for this session.
func (m *Manager) Load() *codemie.SyncState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// skip is a no-op guard: per spec.md §4.4, operations are skipped until
// Initialize runs.
func (m *Manager) skip() bool { return m.state == nil }

// AddProcessedRecords merges ids into processedRecordIds and persists.
func (m *Manager) AddProcessedRecords(ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.skip() {
		return nil
	}
	for _, id := range ids {
		m.state.ProcessedRecordIDs[id] = true
	}
	return m.save()
}

// AddAttachedUserPrompts merges texts into attachedUserPromptTexts and
// persists.
func (m *Manager) AddAttachedUserPrompts(texts []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.skip() {
		return nil
	}
	for _, t := range texts {
		m.state.AttachedUserPromptTexts[t] = true
	}
	return m.save()
}

// UpdateLastProcessed records the watermark position and persists.
func (m *Manager) UpdateLastProcessed(line int, hash string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.skip() {
		return nil
	}
	if line > 0 {
		m.state.LastLine = line
	}
	if hash != "" {
		m.state.LastHash = hash
	}
	m.state.LastProcessedAt = at
	return m.save()
}

// IncrementDeltas adds n to totalDeltas and persists.
func (m *Manager) IncrementDeltas(n int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.skip() {
		return nil
	}
	m.state.TotalDeltas += n
	return m.save()
}

// UpdateStatus sets the session's terminal status and persists.
func (m *Manager) UpdateStatus(status codemie.SessionStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.skip() {
		return nil
	}
	m.state.Status = status
	return m.save()
}
