package interceptor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/codemie-cli/agentwrap/internal/aggregator"
	"github.com/codemie-cli/agentwrap/internal/codemie"
	"github.com/codemie-cli/agentwrap/internal/deltastore"
	"github.com/codemie-cli/agentwrap/internal/sessionstore"
)

// MetricsSyncer periodically harvests pending deltas for one session, runs
// the Aggregator, and hands the results to a transmit function. It is
// registered in the interceptor chain as a no-op placeholder Hook (its
// work is driven by its own ticker, not by individual requests) so its
// position is still visible in the chain's registration order, per
// spec.md §4.9.
type MetricsSyncer struct {
	Deltas      *deltastore.Store
	Sessions    *sessionstore.Store
	Transmit    func(ctx context.Context, metric codemie.AggregatedMetric) error
	Interval    time.Duration
	Exclusions  map[string]bool

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// Hook returns a placeholder chain entry marking this syncer's position.
func (s *MetricsSyncer) Hook() Hook {
	return Hook{Name: "metrics-sync"}
}

// Start begins the periodic harvest loop.
func (s *MetricsSyncer) Start(ctx context.Context) {
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	go s.run(ctx)
}

func (s *MetricsSyncer) run(ctx context.Context) {
	defer close(s.doneCh)
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			s.Harvest(ctx)
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Harvest(ctx)
		}
	}
}

// Harvest aggregates currently-pending deltas and transmits each resulting
// metric, advancing sync status on success or failure.
func (s *MetricsSyncer) Harvest(ctx context.Context) {
	session, err := s.Sessions.Load()
	if err != nil || session == nil {
		return
	}
	pending, err := s.Deltas.FilterByStatus(codemie.SyncPending)
	if err != nil {
		slog.Warn("metrics-sync: read pending deltas failed", "error", err)
		return
	}
	if len(pending) == 0 {
		return
	}

	metrics := aggregator.Aggregate(session, pending, s.Exclusions)
	var recordIDs []string
	for _, d := range pending {
		recordIDs = append(recordIDs, d.RecordID)
	}

	if err := s.Deltas.UpdateSyncStatus(recordIDs, codemie.SyncSyncing, ""); err != nil {
		slog.Warn("metrics-sync: mark syncing failed", "error", err)
		return
	}

	var lastErr error
	for _, m := range metrics {
		if err := s.Transmit(ctx, m); err != nil {
			lastErr = err
		}
	}

	if lastErr != nil {
		slog.Warn("metrics-sync: transmit failed, will retry next cycle", "error", lastErr)
		_ = s.Deltas.UpdateSyncStatus(recordIDs, codemie.SyncFailed, lastErr.Error())
		return
	}
	_ = s.Deltas.UpdateSyncStatus(recordIDs, codemie.SyncSynced, "")
}

// Stop signals the harvest loop to run one final pass and exit. Safe to
// call more than once (the proxy's signal-handling path and its normal
// drain path can both reach it for the same session).
func (s *MetricsSyncer) Stop() {
	if s.stopCh == nil {
		return
	}
	s.stopOnce.Do(func() { close(s.stopCh) })
	<-s.doneCh
}
