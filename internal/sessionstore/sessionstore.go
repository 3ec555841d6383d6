// Package sessionstore persists the MetricsSession half of the combined
// session document: correlation state, start/end timestamps, watermark,
// and monitoring state. It shares its backing file with
// internal/syncstate (one JSON document per session) but owns a distinct
// field, per spec.md §3's ownership note that Session Store and Sync-State
// Manager are modeled as separate components.
package sessionstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/codemie-cli/agentwrap/internal/codemie"
	"github.com/codemie-cli/agentwrap/internal/syncstate"
)

// Store owns one session's MetricsSession document.
type Store struct {
	path string
	mu   sync.Mutex
}

// Path returns the deterministic path for a session's combined document
// under dataRoot. Identical to syncstate.Path by contract: both components
// share one file.
func Path(dataRoot, sessionID string) string {
	return syncstate.Path(dataRoot, sessionID)
}

// Open returns a Store for sessionID under dataRoot.
func Open(dataRoot, sessionID string) (*Store, error) {
	path := Path(dataRoot, sessionID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("sessionstore: mkdir for %s: %w", sessionID, err)
	}
	return &Store{path: path}, nil
}

func (s *Store) readDocument() (codemie.SessionDocument, error) {
	var doc codemie.SessionDocument
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return doc, nil
		}
		return doc, fmt.Errorf("sessionstore: read %s: %w", s.path, err)
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return doc, fmt.Errorf("sessionstore: decode %s: %w", s.path, err)
	}
	return doc, nil
}

func (s *Store) writeDocument(doc codemie.SessionDocument) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("sessionstore: marshal: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("sessionstore: write temp file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("sessionstore: rename temp file: %w", err)
	}
	return nil
}

// Create persists a freshly constructed MetricsSession, preserving any
// already-present SyncState half.
func (s *Store) Create(session *codemie.MetricsSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.readDocument()
	if err != nil {
		return err
	}
	doc.Session = session
	return s.writeDocument(doc)
}

// Load returns the persisted MetricsSession, or nil if none exists yet.
func (s *Store) Load() (*codemie.MetricsSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.readDocument()
	if err != nil {
		return nil, err
	}
	return doc.Session, nil
}

// Update applies mutate to the persisted MetricsSession and rewrites the
// document. Returns an error if no session has been created yet.
func (s *Store) Update(mutate func(*codemie.MetricsSession)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.readDocument()
	if err != nil {
		return err
	}
	if doc.Session == nil {
		return fmt.Errorf("sessionstore: update before create at %s", s.path)
	}
	mutate(doc.Session)
	return s.writeDocument(doc)
}
