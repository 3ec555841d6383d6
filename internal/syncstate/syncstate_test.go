package syncstate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codemie-cli/agentwrap/internal/codemie"
)

func TestLoadBeforeInitializeIsNil(t *testing.T) {
	dir := t.TempDir()
	mgr, err := Open(dir, "session-1")
	require.NoError(t, err)
	assert.Nil(t, mgr.Load())
}

func TestInitializeIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	mgr, err := Open(dir, "session-1")
	require.NoError(t, err)

	start := time.Now()
	require.NoError(t, mgr.Initialize("session-1", "agent-1", start))
	first := mgr.Load()
	require.NotNil(t, first)

	require.NoError(t, mgr.Initialize("session-1", "agent-2", start.Add(time.Hour)))
	second := mgr.Load()
	assert.Equal(t, first.AgentSessionID, second.AgentSessionID, "a second Initialize call must not overwrite the existing state")
}

func TestOperationsBeforeInitializeAreNoOps(t *testing.T) {
	dir := t.TempDir()
	mgr, err := Open(dir, "session-1")
	require.NoError(t, err)

	assert.NoError(t, mgr.AddProcessedRecords([]string{"r1"}))
	assert.NoError(t, mgr.AddAttachedUserPrompts([]string{"hi"}))
	assert.NoError(t, mgr.UpdateLastProcessed(5, "hash", time.Now()))
	assert.NoError(t, mgr.IncrementDeltas(3))
	assert.NoError(t, mgr.UpdateStatus(codemie.SessionCompleted))
	assert.Nil(t, mgr.Load())
}

func TestAddProcessedRecordsMerges(t *testing.T) {
	dir := t.TempDir()
	mgr, err := Open(dir, "session-1")
	require.NoError(t, err)
	require.NoError(t, mgr.Initialize("session-1", "agent-1", time.Now()))

	require.NoError(t, mgr.AddProcessedRecords([]string{"r1", "r2"}))
	require.NoError(t, mgr.AddProcessedRecords([]string{"r2", "r3"}))

	state := mgr.Load()
	assert.True(t, state.ProcessedRecordIDs["r1"])
	assert.True(t, state.ProcessedRecordIDs["r2"])
	assert.True(t, state.ProcessedRecordIDs["r3"])
}

func TestAddAttachedUserPromptsMerges(t *testing.T) {
	dir := t.TempDir()
	mgr, err := Open(dir, "session-1")
	require.NoError(t, err)
	require.NoError(t, mgr.Initialize("session-1", "agent-1", time.Now()))

	require.NoError(t, mgr.AddAttachedUserPrompts([]string{"fix bug"}))
	state := mgr.Load()
	assert.True(t, state.AttachedUserPromptTexts["fix bug"])
}

func TestUpdateLastProcessedOnlyOverwritesNonZeroFields(t *testing.T) {
	dir := t.TempDir()
	mgr, err := Open(dir, "session-1")
	require.NoError(t, err)
	require.NoError(t, mgr.Initialize("session-1", "agent-1", time.Now()))

	require.NoError(t, mgr.UpdateLastProcessed(10, "hash-a", time.Unix(100, 0)))
	require.NoError(t, mgr.UpdateLastProcessed(0, "", time.Unix(200, 0)))

	state := mgr.Load()
	assert.Equal(t, 10, state.LastLine, "a zero line value must not clear the prior watermark")
	assert.Equal(t, "hash-a", state.LastHash, "an empty hash must not clear the prior watermark")
	assert.Equal(t, int64(200), state.LastProcessedAt.Unix())
}

func TestIncrementDeltasAccumulates(t *testing.T) {
	dir := t.TempDir()
	mgr, err := Open(dir, "session-1")
	require.NoError(t, err)
	require.NoError(t, mgr.Initialize("session-1", "agent-1", time.Now()))

	require.NoError(t, mgr.IncrementDeltas(2))
	require.NoError(t, mgr.IncrementDeltas(3))
	assert.Equal(t, 5, mgr.Load().TotalDeltas)
}

func TestUpdateStatus(t *testing.T) {
	dir := t.TempDir()
	mgr, err := Open(dir, "session-1")
	require.NoError(t, err)
	require.NoError(t, mgr.Initialize("session-1", "agent-1", time.Now()))

	require.NoError(t, mgr.UpdateStatus(codemie.SessionFailed))
	assert.Equal(t, codemie.SessionFailed, mgr.Load().Status)
}

func TestSyncStatePersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	mgr, err := Open(dir, "session-1")
	require.NoError(t, err)
	require.NoError(t, mgr.Initialize("session-1", "agent-1", time.Now()))
	require.NoError(t, mgr.IncrementDeltas(7))

	reopened, err := Open(dir, "session-1")
	require.NoError(t, err)
	require.NotNil(t, reopened.Load())
	assert.Equal(t, 7, reopened.Load().TotalDeltas)
}
