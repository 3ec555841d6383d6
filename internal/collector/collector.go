// Package collector implements the Watcher + Collector Loop: it watches
// the correlated assistant session file, debounces change notifications by
// a fixed quiet period, drives the parser on each firing, appends new
// deltas to the Delta Store, and advances the Sync-State Manager.
package collector

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/singleflight"

	"github.com/codemie-cli/agentwrap/internal/deltastore"
	"github.com/codemie-cli/agentwrap/internal/gitinfo"
	"github.com/codemie-cli/agentwrap/internal/parser"
	"github.com/codemie-cli/agentwrap/internal/syncstate"
)

// debouncePeriod is the fixed quiet period spec.md §4.5 mandates between a
// file-change notification and the collect it triggers.
const debouncePeriod = 5 * time.Second

// Loop is the per-session collector: one fsnotify watch, one debounce
// timer, one single-flight group of size one.
type Loop struct {
	sessionID        string
	sessionFile      string
	workingDirectory string
	dialect          parser.Dialect
	deltas           *deltastore.Store
	sync             *syncstate.Manager
	git              *gitinfo.Resolver

	sfGroup singleflight.Group

	watcher *fsnotify.Watcher
	timer   *time.Timer
	timerMu sync.Mutex

	stopCh chan struct{}
	doneCh chan struct{}
}

// New constructs a Loop bound to one correlated session file.
func New(sessionID, sessionFile, workingDirectory string, dialect parser.Dialect, deltas *deltastore.Store, sm *syncstate.Manager, git *gitinfo.Resolver) *Loop {
	return &Loop{
		sessionID:        sessionID,
		sessionFile:      sessionFile,
		workingDirectory: workingDirectory,
		dialect:          dialect,
		deltas:           deltas,
		sync:             sm,
		git:              git,
		stopCh:           make(chan struct{}),
		doneCh:           make(chan struct{}),
	}
}

// Start arms the fsnotify watch and fires one immediate collect, per
// spec.md §4.5's firing source (a).
func (l *Loop) Start(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("collector: new watcher: %w", err)
	}
	l.watcher = watcher
	if err := watcher.Add(l.sessionFile); err != nil {
		watcher.Close()
		return fmt.Errorf("collector: watch %s: %w", l.sessionFile, err)
	}

	go l.watchLoop(ctx)
	l.collect(ctx)
	return nil
}

func (l *Loop) watchLoop(ctx context.Context) {
	defer close(l.doneCh)
	for {
		select {
		case <-l.stopCh:
			return
		case event, ok := <-l.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			l.armDebounce(ctx)
		case err, ok := <-l.watcher.Errors:
			if !ok {
				return
			}
			slog.Debug("collector: watcher error", "session", l.sessionID, "error", err)
		}
	}
}

func (l *Loop) armDebounce(ctx context.Context) {
	l.timerMu.Lock()
	defer l.timerMu.Unlock()
	if l.timer != nil {
		l.timer.Stop()
	}
	l.timer = time.AfterFunc(debouncePeriod, func() {
		l.collect(ctx)
	})
}

// collect is single-flight per session: if a collect is already in
// progress, this call joins it rather than starting a second one, per
// spec.md §4.5's concurrency rule.
func (l *Loop) collect(ctx context.Context) {
	_, _, _ = l.sfGroup.Do(l.sessionID, func() (any, error) {
		l.collectOnce(ctx)
		return nil, nil
	})
}

func (l *Loop) collectOnce(ctx context.Context) {
	state := l.sync.Load()
	if state == nil {
		slog.Debug("collector: no sync state yet, skipping fire", "session", l.sessionID)
		return
	}

	result, err := l.dialect.ParseIncremental(l.sessionFile, state.ProcessedRecordIDs, state.AttachedUserPromptTexts)
	if err != nil {
		slog.Warn("collector: parse error", "session", l.sessionID, "error", err)
		return
	}

	branch := l.git.Branch(ctx, l.workingDirectory)
	var recordIDs []string
	for i := range result.Deltas {
		d := &result.Deltas[i]
		d.SessionID = l.sessionID
		if d.GitBranch == "" {
			d.GitBranch = branch
		}
		if err := l.deltas.AppendDelta(*d); err != nil {
			slog.Warn("collector: append delta failed, will retry next cycle", "session", l.sessionID, "record", d.RecordID, "error", err)
			continue
		}
		recordIDs = append(recordIDs, d.RecordID)
	}

	if len(recordIDs) > 0 {
		if err := l.sync.AddProcessedRecords(recordIDs); err != nil {
			slog.Warn("collector: persist processed records failed", "session", l.sessionID, "error", err)
		}
	}
	if len(result.NewlyAttachedPrompts) > 0 {
		if err := l.sync.AddAttachedUserPrompts(result.NewlyAttachedPrompts); err != nil {
			slog.Warn("collector: persist attached prompts failed", "session", l.sessionID, "error", err)
		}
	}
	if err := l.sync.UpdateLastProcessed(result.LastLine, result.LastHash, time.Now()); err != nil {
		slog.Warn("collector: persist watermark failed", "session", l.sessionID, "error", err)
	}
	if len(result.Deltas) > 0 {
		if err := l.sync.IncrementDeltas(len(result.Deltas)); err != nil {
			slog.Warn("collector: persist delta count failed", "session", l.sessionID, "error", err)
		}
	}
}

// Stop tears down the watcher first, then awaits one final collect to
// drain outstanding changes, per spec.md §4.5's cancellation contract.
func (l *Loop) Stop(ctx context.Context) {
	close(l.stopCh)
	if l.watcher != nil {
		l.watcher.Close()
	}
	<-l.doneCh

	l.timerMu.Lock()
	if l.timer != nil {
		l.timer.Stop()
	}
	l.timerMu.Unlock()

	l.collect(ctx)
}
