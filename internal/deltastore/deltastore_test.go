package deltastore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codemie-cli/agentwrap/internal/codemie"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(t.TempDir(), "session-1")
	require.NoError(t, err)
	return store
}

func TestOpenCreatesNoFileUntilFirstAppend(t *testing.T) {
	store := openTestStore(t)
	assert.False(t, store.Exists())

	require.NoError(t, store.AppendDelta(codemie.MetricDelta{RecordID: "r1"}))
	assert.True(t, store.Exists())
}

func TestReadAllMissingFileReturnsEmpty(t *testing.T) {
	store := openTestStore(t)
	deltas, err := store.ReadAll()
	require.NoError(t, err)
	assert.Empty(t, deltas)
}

func TestAppendAndReadAllPreservesOrder(t *testing.T) {
	store := openTestStore(t)
	require.NoError(t, store.AppendDelta(codemie.MetricDelta{RecordID: "r1", Tokens: codemie.Tokens{Input: 1}}))
	require.NoError(t, store.AppendDelta(codemie.MetricDelta{RecordID: "r2", Tokens: codemie.Tokens{Input: 2}}))
	require.NoError(t, store.AppendDelta(codemie.MetricDelta{RecordID: "r3", Tokens: codemie.Tokens{Input: 3}}))

	deltas, err := store.ReadAll()
	require.NoError(t, err)
	require.Len(t, deltas, 3)
	assert.Equal(t, []string{"r1", "r2", "r3"}, []string{deltas[0].RecordID, deltas[1].RecordID, deltas[2].RecordID})
}

func TestFilterByStatus(t *testing.T) {
	store := openTestStore(t)
	require.NoError(t, store.AppendDelta(codemie.MetricDelta{RecordID: "r1", SyncStatus: codemie.SyncPending}))
	require.NoError(t, store.AppendDelta(codemie.MetricDelta{RecordID: "r2", SyncStatus: codemie.SyncSynced}))
	require.NoError(t, store.AppendDelta(codemie.MetricDelta{RecordID: "r3", SyncStatus: codemie.SyncPending}))

	pending, err := store.FilterByStatus(codemie.SyncPending)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "r1", pending[0].RecordID)
	assert.Equal(t, "r3", pending[1].RecordID)
}

func TestGetSyncStats(t *testing.T) {
	store := openTestStore(t)
	require.NoError(t, store.AppendDelta(codemie.MetricDelta{RecordID: "r1", SyncStatus: codemie.SyncPending}))
	require.NoError(t, store.AppendDelta(codemie.MetricDelta{RecordID: "r2", SyncStatus: codemie.SyncSynced}))
	require.NoError(t, store.AppendDelta(codemie.MetricDelta{RecordID: "r3", SyncStatus: codemie.SyncFailed}))
	require.NoError(t, store.AppendDelta(codemie.MetricDelta{RecordID: "r4", SyncStatus: codemie.SyncSyncing}))

	stats, err := store.GetSyncStats()
	require.NoError(t, err)
	assert.Equal(t, SyncStats{Total: 4, Pending: 1, Syncing: 1, Synced: 1, Failed: 1}, stats)
}

func TestUpdateSyncStatusPreservesUntouchedRecords(t *testing.T) {
	store := openTestStore(t)
	require.NoError(t, store.AppendDelta(codemie.MetricDelta{RecordID: "r1", SyncStatus: codemie.SyncPending}))
	require.NoError(t, store.AppendDelta(codemie.MetricDelta{RecordID: "r2", SyncStatus: codemie.SyncPending}))

	require.NoError(t, store.UpdateSyncStatus([]string{"r1"}, codemie.SyncSynced, ""))

	all, err := store.ReadAll()
	require.NoError(t, err)
	require.Len(t, all, 2)

	var r1, r2 codemie.MetricDelta
	for _, d := range all {
		switch d.RecordID {
		case "r1":
			r1 = d
		case "r2":
			r2 = d
		}
	}
	assert.Equal(t, codemie.SyncSynced, r1.SyncStatus)
	assert.Equal(t, 1, r1.SyncAttempts)
	require.NotNil(t, r1.SyncedAt)
	assert.Equal(t, codemie.SyncPending, r2.SyncStatus, "a record not named in recordIDs must be left untouched")
	assert.Equal(t, 0, r2.SyncAttempts)
}

func TestUpdateSyncStatusRecordsErrorReasonOnFailure(t *testing.T) {
	store := openTestStore(t)
	require.NoError(t, store.AppendDelta(codemie.MetricDelta{RecordID: "r1", SyncStatus: codemie.SyncSyncing}))

	require.NoError(t, store.UpdateSyncStatus([]string{"r1"}, codemie.SyncFailed, "upstream 500"))

	all, err := store.ReadAll()
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, codemie.SyncFailed, all[0].SyncStatus)
	assert.Equal(t, "upstream 500", all[0].SyncError)
	assert.Nil(t, all[0].SyncedAt)
}

func TestUpdateSyncStatusClearsErrorOnSuccess(t *testing.T) {
	store := openTestStore(t)
	require.NoError(t, store.AppendDelta(codemie.MetricDelta{RecordID: "r1", SyncStatus: codemie.SyncFailed, SyncError: "boom"}))

	require.NoError(t, store.UpdateSyncStatus([]string{"r1"}, codemie.SyncSynced, ""))

	all, err := store.ReadAll()
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Empty(t, all[0].SyncError, "transitioning to synced must clear any prior sync error")
	require.NotNil(t, all[0].SyncedAt)
}
