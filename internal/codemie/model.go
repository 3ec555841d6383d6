// Package codemie defines the shared data model passed between the
// metrics pipeline, the proxy, and the lifecycle controller: sessions,
// deltas, sync state, snapshots, and the aggregated metrics emitted to the
// remote collector.
package codemie

import "time"

// CorrelationStatus tracks whether a MetricsSession has been matched to its
// on-disk assistant session file.
type CorrelationStatus string

const (
	CorrelationPending CorrelationStatus = "pending"
	CorrelationMatched CorrelationStatus = "matched"
	CorrelationFailed  CorrelationStatus = "failed"
)

// SessionStatus tracks the lifecycle of the assistant invocation itself.
type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionCompleted SessionStatus = "completed"
	SessionFailed    SessionStatus = "failed"
	SessionRecovered SessionStatus = "recovered"
)

// SyncStatus tracks transmission state of a MetricDelta.
type SyncStatus string

const (
	SyncPending SyncStatus = "pending"
	SyncSyncing SyncStatus = "syncing"
	SyncSynced  SyncStatus = "synced"
	SyncFailed  SyncStatus = "failed"
)

// FileOpType enumerates the file operation kinds a delta may carry.
type FileOpType string

const (
	FileOpRead   FileOpType = "read"
	FileOpWrite  FileOpType = "write"
	FileOpEdit   FileOpType = "edit"
	FileOpDelete FileOpType = "delete"
	FileOpGrep   FileOpType = "grep"
	FileOpGlob   FileOpType = "glob"
)

// WatermarkStrategy identifies how a dialect tracks parse progress.
type WatermarkStrategy string

const (
	WatermarkHash   WatermarkStrategy = "hash"
	WatermarkLine   WatermarkStrategy = "line"
	WatermarkObject WatermarkStrategy = "object"
)

// Correlation records the state of matching a spawn to its session file.
type Correlation struct {
	Status          CorrelationStatus `json:"status"`
	AgentSessionID  string            `json:"agentSessionId,omitempty"`
	AgentSessionFile string           `json:"agentSessionFile,omitempty"`
	RetryCount      int               `json:"retryCount"`
}

// Monitoring records whether the watcher is actively observing the session
// file and how many change notifications it has seen.
type Monitoring struct {
	IsActive    bool `json:"isActive"`
	ChangeCount int  `json:"changeCount"`
}

// MetricsSession is the per-invocation record described in spec.md §3.
type MetricsSession struct {
	SessionID        string        `json:"sessionId"`
	AgentName        string        `json:"agentName"`
	AgentVersion     string        `json:"agentVersion,omitempty"`
	Provider         string        `json:"provider"`
	Project          *string       `json:"project,omitempty"`
	StartTime        time.Time     `json:"startTime"`
	EndTime          *time.Time    `json:"endTime,omitempty"`
	WorkingDirectory string        `json:"workingDirectory"`
	GitBranch        *string       `json:"gitBranch,omitempty"`
	Status           SessionStatus `json:"status"`
	Correlation      Correlation   `json:"correlation"`
	Watermark        string        `json:"watermark,omitempty"`
	Monitoring       Monitoring    `json:"monitoring"`
}

// Tokens holds the token-usage fields tracked per delta.
type Tokens struct {
	Input          int64 `json:"input"`
	Output         int64 `json:"output"`
	CacheRead      int64 `json:"cacheRead,omitempty"`
	CacheCreation  int64 `json:"cacheCreation,omitempty"`
}

// Add accumulates another Tokens value into this one.
func (t *Tokens) Add(other Tokens) {
	t.Input += other.Input
	t.Output += other.Output
	t.CacheRead += other.CacheRead
	t.CacheCreation += other.CacheCreation
}

// ToolStatusCount tracks success/failure counts for a single tool name.
type ToolStatusCount struct {
	Success int `json:"success"`
	Failure int `json:"failure"`
}

// FileOperation is a single observed file-system action.
type FileOperation struct {
	Type          FileOpType `json:"type"`
	Path          string     `json:"path,omitempty"`
	Language      string     `json:"language,omitempty"`
	Format        string     `json:"format,omitempty"`
	LinesAdded    int        `json:"linesAdded,omitempty"`
	LinesRemoved  int        `json:"linesRemoved,omitempty"`
	LinesModified int        `json:"linesModified,omitempty"`
	DurationMs    int64      `json:"durationMs,omitempty"`
}

// UserPrompt is a single attached prompt occurrence.
type UserPrompt struct {
	Count int    `json:"count"`
	Text  string `json:"text"`
}

// MetricDelta is a single incremental metrics record, per spec.md §3.
type MetricDelta struct {
	RecordID       string            `json:"recordId"`
	SessionID      string            `json:"sessionId"`
	AgentSessionID string            `json:"agentSessionId,omitempty"`
	Timestamp      time.Time         `json:"timestamp"`
	GitBranch      string            `json:"gitBranch,omitempty"`
	Tokens         Tokens            `json:"tokens"`
	Tools          map[string]int    `json:"tools,omitempty"`
	ToolStatus     map[string]ToolStatusCount `json:"toolStatus,omitempty"`
	FileOperations []FileOperation   `json:"fileOperations,omitempty"`
	UserPrompts    []UserPrompt      `json:"userPrompts,omitempty"`
	Models         []string          `json:"models,omitempty"`
	APIErrorMessage string           `json:"apiErrorMessage,omitempty"`
	SyncStatus     SyncStatus        `json:"syncStatus"`
	SyncAttempts   int               `json:"syncAttempts"`
	SyncedAt       *time.Time        `json:"syncedAt,omitempty"`
	SyncError      string            `json:"syncError,omitempty"`
}

// SyncState mirrors which deltas of a session have been consumed, per
// spec.md §3/§4.4.
type SyncState struct {
	SessionID              string          `json:"sessionId"`
	AgentSessionID         string          `json:"agentSessionId,omitempty"`
	StartTime              time.Time       `json:"startTime"`
	LastLine               int             `json:"lastLine,omitempty"`
	LastHash               string          `json:"lastHash,omitempty"`
	LastProcessedAt        time.Time       `json:"lastProcessedAt,omitempty"`
	ProcessedRecordIDs     map[string]bool `json:"processedRecordIds"`
	AttachedUserPromptTexts map[string]bool `json:"attachedUserPromptTexts"`
	TotalDeltas            int             `json:"totalDeltas"`
	Status                 SessionStatus   `json:"status"`
}

// NewSyncState constructs an empty, initialized SyncState for a session.
func NewSyncState(sessionID, agentSessionID string, startTime time.Time) *SyncState {
	return &SyncState{
		SessionID:               sessionID,
		AgentSessionID:          agentSessionID,
		StartTime:               startTime,
		ProcessedRecordIDs:      make(map[string]bool),
		AttachedUserPromptTexts: make(map[string]bool),
		Status:                  SessionActive,
	}
}

// FileEntry describes a single file captured in a FileSnapshot.
type FileEntry struct {
	Path  string    `json:"path"`
	Size  int64     `json:"size"`
	Mtime time.Time `json:"mtime"`
}

// FileSnapshot is an immutable directory listing captured at a point in
// time, per spec.md §3/§4.1.
type FileSnapshot struct {
	Files      []FileEntry `json:"files"`
	CapturedAt time.Time   `json:"capturedAt"`
}

// AggregatedMetric is the emission unit sent to the remote collector, one
// per (session, gitBranch) pair, per spec.md §3/§4.6.
type AggregatedMetric struct {
	Name       string            `json:"name"`
	Attributes map[string]any    `json:"attributes"`
}

// Metric name constants for AggregatedMetric.Name.
const (
	MetricSessionTotal = "session_total"
	MetricUsageTotal   = "usage_total"
)

// SessionDocument is the on-disk shape of metrics/sessions/{sessionId}.json:
// the MetricsSession and its SyncState share one JSON document, read-modify-
// written by whichever of Session Store / Sync-State Manager updates its
// half, per spec.md §6's persisted-state layout.
type SessionDocument struct {
	Session   *MetricsSession `json:"session,omitempty"`
	SyncState *SyncState      `json:"syncState,omitempty"`
}

// LifecycleStatus values for session-start/session-end transmissions.
const (
	LifecycleStarted     = "started"
	LifecycleCompleted   = "completed"
	LifecycleFailedState = "failed"
	LifecycleInterrupted = "interrupted"
)
