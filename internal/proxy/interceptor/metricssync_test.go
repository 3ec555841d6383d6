package interceptor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codemie-cli/agentwrap/internal/codemie"
	"github.com/codemie-cli/agentwrap/internal/deltastore"
	"github.com/codemie-cli/agentwrap/internal/sessionstore"
)

func newSyncerFixture(t *testing.T) (*MetricsSyncer, *deltastore.Store) {
	t.Helper()
	dataRoot := t.TempDir()
	sessions, err := sessionstore.Open(dataRoot, "sess-1")
	require.NoError(t, err)
	require.NoError(t, sessions.Create(&codemie.MetricsSession{SessionID: "sess-1", WorkingDirectory: "/a/b"}))

	deltas, err := deltastore.Open(dataRoot, "sess-1")
	require.NoError(t, err)
	require.NoError(t, deltas.AppendDelta(codemie.MetricDelta{
		RecordID:   "r1",
		SessionID:  "sess-1",
		GitBranch:  "main",
		Tokens:     codemie.Tokens{Input: 10, Output: 5},
		SyncStatus: codemie.SyncPending,
	}))

	return &MetricsSyncer{Deltas: deltas, Sessions: sessions, Interval: time.Hour}, deltas
}

func TestHarvestTransmitsAndMarksSynced(t *testing.T) {
	syncer, deltas := newSyncerFixture(t)
	var transmitted []codemie.AggregatedMetric
	syncer.Transmit = func(ctx context.Context, m codemie.AggregatedMetric) error {
		transmitted = append(transmitted, m)
		return nil
	}

	syncer.Harvest(context.Background())

	require.Len(t, transmitted, 1)
	all, err := deltas.ReadAll()
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, codemie.SyncSynced, all[0].SyncStatus)
}

func TestHarvestMarksFailedOnTransmitError(t *testing.T) {
	syncer, deltas := newSyncerFixture(t)
	syncer.Transmit = func(ctx context.Context, m codemie.AggregatedMetric) error {
		return errors.New("network down")
	}

	syncer.Harvest(context.Background())

	all, err := deltas.ReadAll()
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, codemie.SyncFailed, all[0].SyncStatus)
	assert.Equal(t, "network down", all[0].SyncError)
}

func TestHarvestNoOpWhenNoPendingDeltas(t *testing.T) {
	dataRoot := t.TempDir()
	sessions, err := sessionstore.Open(dataRoot, "sess-empty")
	require.NoError(t, err)
	require.NoError(t, sessions.Create(&codemie.MetricsSession{SessionID: "sess-empty"}))
	deltas, err := deltastore.Open(dataRoot, "sess-empty")
	require.NoError(t, err)

	called := false
	syncer := &MetricsSyncer{Deltas: deltas, Sessions: sessions, Interval: time.Hour, Transmit: func(ctx context.Context, m codemie.AggregatedMetric) error {
		called = true
		return nil
	}}
	syncer.Harvest(context.Background())
	assert.False(t, called)
}

func TestStartAndStopRunsOneFinalHarvest(t *testing.T) {
	syncer, deltas := newSyncerFixture(t)
	var transmitted int
	syncer.Transmit = func(ctx context.Context, m codemie.AggregatedMetric) error {
		transmitted++
		return nil
	}

	syncer.Start(context.Background())
	syncer.Stop()

	assert.Equal(t, 1, transmitted)
	all, err := deltas.ReadAll()
	require.NoError(t, err)
	assert.Equal(t, codemie.SyncSynced, all[0].SyncStatus)
}

func TestStopIsSafeToCallTwice(t *testing.T) {
	syncer, _ := newSyncerFixture(t)
	syncer.Transmit = func(ctx context.Context, m codemie.AggregatedMetric) error { return nil }
	syncer.Start(context.Background())
	syncer.Stop()
	syncer.Stop()
}
