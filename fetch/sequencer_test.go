package fetch

import (
	"context"
	"testing"
	"time"

	"github.com/0xmhha/explorer-indexer/lookahead"
	"github.com/0xmhha/explorer-indexer/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func mustBatch(t *testing.T, height uint64) *storage.Batch {
	t.Helper()
	b, err := storage.BuildBlockBatch(testBlock(height))
	require.NoError(t, err)
	return b
}

func runSequencer(t *testing.T, store *mockStorage, next uint64, order []uint64) (*Sequencer, *lookahead.Commits, error) {
	t.Helper()
	commits := lookahead.NewCommits(next, false)
	seq := newSequencer(store, commits, next, time.Hour, zap.NewNop(), NewMetrics(nil))

	batches := make(chan *storage.Batch, len(order))
	for _, h := range order {
		batches <- mustBatch(t, h)
	}
	close(batches)

	return seq, commits, seq.Run(context.Background(), batches)
}

// Scenario: completions arriving as 2, 0, 1 are applied as 0, 1, 2
func TestSequencerAppliesInOrder(t *testing.T) {
	store := newMockStorage()
	_, commits, err := runSequencer(t, store, 0, []uint64{2, 0, 1})
	require.NoError(t, err)

	assert.Equal(t, []uint64{0, 1, 2}, store.appliedHeights())
	h, ok := commits.Committed()
	require.True(t, ok)
	assert.Equal(t, uint64(2), h)
}

func TestSequencerShelvesUntilGapFills(t *testing.T) {
	store := newMockStorage()
	commits := lookahead.NewCommits(0, false)
	metrics := NewMetrics(nil)
	seq := newSequencer(store, commits, 0, time.Hour, zap.NewNop(), metrics)
	ctx := context.Background()

	for _, h := range []uint64{3, 1, 2} {
		require.NoError(t, seq.receive(ctx, mustBatch(t, h)))
	}
	assert.Empty(t, store.appliedHeights())
	assert.Equal(t, 3, seq.ShelfSize())
	assert.Equal(t, float64(3), testutil.ToFloat64(metrics.ShelfSize))

	require.NoError(t, seq.receive(ctx, mustBatch(t, 0)))
	assert.Equal(t, []uint64{0, 1, 2, 3}, store.appliedHeights())
	assert.Zero(t, seq.ShelfSize())
	assert.Equal(t, float64(4), testutil.ToFloat64(metrics.BlocksCommitted))
	assert.Equal(t, float64(3), testutil.ToFloat64(metrics.CommittedHeight))
}

func TestSequencerDiscardsPastGap(t *testing.T) {
	store := newMockStorage()
	_, commits, err := runSequencer(t, store, 0, []uint64{0, 1, 3, 4})
	require.NoError(t, err)

	assert.Equal(t, []uint64{0, 1}, store.appliedHeights(), "heights past the gap are never applied")
	h, _ := commits.Committed()
	assert.Equal(t, uint64(1), h)
	assert.Equal(t, 1, store.flushes, "final report flushes")
}

func TestSequencerIgnoresCommittedHeights(t *testing.T) {
	store := newMockStorage()
	store.latest, store.hasLatest = 9, true
	_, _, err := runSequencer(t, store, 10, []uint64{10, 5, 11})
	require.NoError(t, err)
	assert.Equal(t, []uint64{10, 11}, store.appliedHeights())
}

func TestSequencerRejectsMempoolBatch(t *testing.T) {
	store := newMockStorage()
	seq := newSequencer(store, lookahead.NewCommits(0, false), 0, time.Hour, zap.NewNop(), NewMetrics(nil))

	b, err := storage.BuildMempoolBatch(nil)
	require.NoError(t, err)
	assert.Error(t, seq.receive(context.Background(), b))
}

func TestSequencerPeriodicReport(t *testing.T) {
	store := newMockStorage()
	seq := newSequencer(store, lookahead.NewCommits(0, false), 0, 5*time.Millisecond, zap.NewNop(), NewMetrics(nil))

	batches := make(chan *storage.Batch)
	done := make(chan error, 1)
	go func() { done <- seq.Run(context.Background(), batches) }()

	batches <- mustBatch(t, 0)
	require.Eventually(t, func() bool {
		store.mu.Lock()
		defer store.mu.Unlock()
		return store.flushes >= 2
	}, 5*time.Second, 5*time.Millisecond)

	close(batches)
	require.NoError(t, <-done)
}

func TestMetricsRegister(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	m.BatchesDropped.Inc()

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["indexer_fetch_batches_dropped_total"])
	assert.True(t, names["indexer_committed_height"])
}
