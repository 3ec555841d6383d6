package sessionstore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codemie-cli/agentwrap/internal/codemie"
	"github.com/codemie-cli/agentwrap/internal/syncstate"
)

func TestLoadBeforeCreateReturnsNil(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir, "session-1")
	require.NoError(t, err)

	session, err := store.Load()
	require.NoError(t, err)
	assert.Nil(t, session)
}

func TestCreateAndLoad(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir, "session-1")
	require.NoError(t, err)

	require.NoError(t, store.Create(&codemie.MetricsSession{SessionID: "session-1", AgentName: "dialect-a"}))

	loaded, err := store.Load()
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, "dialect-a", loaded.AgentName)
}

func TestUpdateBeforeCreateErrors(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir, "session-1")
	require.NoError(t, err)

	err = store.Update(func(s *codemie.MetricsSession) { s.Status = codemie.SessionCompleted })
	assert.Error(t, err)
}

func TestUpdateMutatesPersistedSession(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir, "session-1")
	require.NoError(t, err)
	require.NoError(t, store.Create(&codemie.MetricsSession{SessionID: "session-1", Status: codemie.SessionActive}))

	require.NoError(t, store.Update(func(s *codemie.MetricsSession) { s.Status = codemie.SessionCompleted }))

	loaded, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, codemie.SessionCompleted, loaded.Status)
}

func TestSessionStorePreservesSyncStateSharedDocument(t *testing.T) {
	dir := t.TempDir()

	syncMgr, err := syncstate.Open(dir, "session-1")
	require.NoError(t, err)
	require.NoError(t, syncMgr.Initialize("session-1", "agent-1", time.Now()))
	require.NoError(t, syncMgr.IncrementDeltas(4))

	sessStore, err := Open(dir, "session-1")
	require.NoError(t, err)
	require.NoError(t, sessStore.Create(&codemie.MetricsSession{SessionID: "session-1", AgentName: "dialect-a"}))

	reopenedSync, err := syncstate.Open(dir, "session-1")
	require.NoError(t, err)
	require.NotNil(t, reopenedSync.Load(), "creating the Session half must not clobber the SyncState half sharing the same file")
	assert.Equal(t, 4, reopenedSync.Load().TotalDeltas)
}

func TestSessionStorePathMatchesSyncStatePath(t *testing.T) {
	dir := t.TempDir()
	assert.Equal(t, syncstate.Path(dir, "session-1"), Path(dir, "session-1"))
}
