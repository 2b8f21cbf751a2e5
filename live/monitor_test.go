package live

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/0xmhha/explorer-indexer/chain"
	"github.com/0xmhha/explorer-indexer/lookahead"
	"github.com/0xmhha/explorer-indexer/storage"
	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func hashFor(tag byte, n uint64) common.Hash {
	var h common.Hash
	h[0] = tag
	h[24], h[25], h[26] = byte(n>>16), byte(n>>8), byte(n)
	return h
}

func makeBlock(height uint64) *chain.Block {
	coinbase := &chain.Transaction{
		Hash:       hashFor(0x70, height),
		IsCoinbase: true,
		Outputs:    []chain.Output{{Recipient: common.HexToAddress("0x01")}},
	}
	return &chain.Block{
		Height:       height,
		Hash:         hashFor(0xb0, height),
		ParentHash:   hashFor(0xb0, height-1),
		TxHashes:     []common.Hash{coinbase.Hash},
		Transactions: []*chain.Transaction{coinbase},
	}
}

func makeMempoolTx(n uint64, spends common.Hash) *chain.Transaction {
	return &chain.Transaction{
		Hash:    hashFor(0x90, n),
		Inputs:  []chain.Input{{PrevTx: spends, PrevIndex: 0}},
		Outputs: []chain.Output{{Recipient: common.HexToAddress("0x02")}},
	}
}

type blockStep struct {
	block *chain.Block
	err   error
}

// scriptedBlocks replays its steps and then blocks until closed
type scriptedBlocks struct {
	steps  []blockStep
	closed chan struct{}
	once   sync.Once
}

func (s *scriptedBlocks) Next(ctx context.Context) (*chain.Block, error) {
	if len(s.steps) > 0 {
		step := s.steps[0]
		s.steps = s.steps[1:]
		return step.block, step.err
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.closed:
		return nil, io.EOF
	}
}

func (s *scriptedBlocks) Close() { s.once.Do(func() { close(s.closed) }) }

type scriptedTxs struct {
	txs    []*chain.Transaction
	closed chan struct{}
	once   sync.Once
}

func (s *scriptedTxs) Next(ctx context.Context) (*chain.Transaction, error) {
	if len(s.txs) > 0 {
		tx := s.txs[0]
		s.txs = s.txs[1:]
		return tx, nil
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.closed:
		return nil, io.EOF
	}
}

func (s *scriptedTxs) Close() { s.once.Do(func() { close(s.closed) }) }

// scriptedSource hands out one script per subscription, in order
type scriptedSource struct {
	mu          sync.Mutex
	blockSubs   [][]blockStep
	txSubs      [][]*chain.Transaction
	mempool     []*chain.Transaction
	mempoolErr  error
	fetched     []uint64
	subscribes  int
	mempoolRuns int
}

func (s *scriptedSource) BlockByHeight(ctx context.Context, height uint64, fullTxs bool) (*chain.Block, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetched = append(s.fetched, height)
	return makeBlock(height), nil
}

func (s *scriptedSource) Mempool(ctx context.Context, fullTxs bool) ([]*chain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mempoolRuns++
	if s.mempoolErr != nil {
		return nil, s.mempoolErr
	}
	return append([]*chain.Transaction(nil), s.mempool...), nil
}

func (s *scriptedSource) SubscribeBlocks(ctx context.Context) (chain.BlockStream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribes++
	stream := &scriptedBlocks{closed: make(chan struct{})}
	if len(s.blockSubs) > 0 {
		stream.steps = s.blockSubs[0]
		s.blockSubs = s.blockSubs[1:]
	}
	return stream, nil
}

func (s *scriptedSource) SubscribeTransactions(ctx context.Context, filter chain.TxFilter) (chain.TxStream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stream := &scriptedTxs{closed: make(chan struct{})}
	if len(s.txSubs) > 0 {
		for _, tx := range s.txSubs[0] {
			if filter.Match(tx) {
				stream.txs = append(stream.txs, tx)
			}
		}
		s.txSubs = s.txSubs[1:]
	}
	return stream, nil
}

func (s *scriptedSource) fetchedHeights() []uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]uint64(nil), s.fetched...)
}

// countingStore records the block heights applied to a real pebble store
type countingStore struct {
	*storage.PebbleStorage

	mu      sync.Mutex
	applied []uint64
	failErr error
}

func (c *countingStore) ApplyBatch(ctx context.Context, b *storage.Batch) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failErr != nil {
		return c.failErr
	}
	if err := c.PebbleStorage.ApplyBatch(ctx, b); err != nil {
		return err
	}
	if h, ok := b.Height(); ok {
		c.applied = append(c.applied, h)
	}
	return nil
}

func (c *countingStore) appliedHeights() []uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]uint64(nil), c.applied...)
}

func newStore(t *testing.T) *countingStore {
	t.Helper()
	db, err := storage.NewPebbleStorage(storage.DefaultConfig(t.TempDir()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return &countingStore{PebbleStorage: db}
}

func startMonitor(t *testing.T, m *Monitor) (cancel func() error) {
	t.Helper()
	ctx, stop := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()
	return func() error {
		stop()
		select {
		case err := <-done:
			return err
		case <-time.After(5 * time.Second):
			t.Fatal("monitor did not stop")
			return nil
		}
	}
}

func liveAllTxs() Config {
	return Config{Restart: RetryForever, Filter: chain.TxFilter{AllTransactions: true}}
}

// Scenario: after catch-up to 99 the first stream delivers 100 then fails,
// the second delivers 100 again and 101. Each height is applied once.
func TestMonitorResubscribesWithoutDuplicates(t *testing.T) {
	src := &scriptedSource{
		blockSubs: [][]blockStep{
			{{block: makeBlock(100)}, {err: errors.New("connection reset")}},
			{{block: makeBlock(100)}, {block: makeBlock(101)}},
		},
	}
	store := newStore(t)
	commits := lookahead.NewCommits(100, false)
	metrics := NewMetrics(nil, nil)
	m := NewMonitor(src, store, commits, liveAllTxs(), zap.NewNop(), metrics)

	stop := startMonitor(t, m)
	require.Eventually(t, func() bool { return commits.Next() == 102 }, 5*time.Second, 5*time.Millisecond)
	require.NoError(t, stop())

	assert.Equal(t, []uint64{100, 101}, store.appliedHeights())
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.Restarts.WithLabelValues("blocks")))
	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.BlocksApplied))
	assert.Equal(t, float64(101), testutil.ToFloat64(metrics.CommittedHeight))
	assert.Empty(t, src.fetchedHeights(), "no backfill needed")

	latest, err := store.GetLatestHeight(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(101), latest)
}

func TestMonitorBackfillsGap(t *testing.T) {
	src := &scriptedSource{
		blockSubs: [][]blockStep{{{block: makeBlock(14)}}},
	}
	store := newStore(t)
	commits := lookahead.NewCommits(11, true)
	m := NewMonitor(src, store, commits, liveAllTxs(), zap.NewNop(), nil)

	stop := startMonitor(t, m)
	require.Eventually(t, func() bool { return commits.Next() == 15 }, 5*time.Second, 5*time.Millisecond)
	require.NoError(t, stop())

	assert.Equal(t, []uint64{11, 12, 13}, src.fetchedHeights())
	assert.Equal(t, []uint64{11, 12, 13, 14}, store.appliedHeights())
}

func TestMonitorRefreshMempoolReplaces(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	spent := hashFor(0x70, 1)
	first := makeMempoolTx(1, spent)
	src := &scriptedSource{mempool: []*chain.Transaction{first}}
	metrics := NewMetrics(nil, nil)
	m := NewMonitor(src, store, lookahead.NewCommits(0, false), liveAllTxs(), zap.NewNop(), metrics)

	require.NoError(t, m.RefreshMempool(ctx))
	require.NoError(t, m.RefreshMempool(ctx))

	meta, err := store.GetTxMeta(ctx, first.Hash)
	require.NoError(t, err)
	assert.True(t, meta.IsMempool)

	spends, err := store.GetSpendInfo(ctx, spent)
	require.NoError(t, err)
	require.Len(t, spends, 1)
	assert.Equal(t, first.Hash, spends[0].SpentBy)
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.MempoolSize))

	second := makeMempoolTx(2, hashFor(0x70, 2))
	src.mu.Lock()
	src.mempool = []*chain.Transaction{second}
	src.mu.Unlock()
	require.NoError(t, m.RefreshMempool(ctx))

	_, err = store.GetTxMeta(ctx, first.Hash)
	assert.ErrorIs(t, err, storage.ErrNotFound, "the previous mempool is cleared")
	_, err = store.GetTxMeta(ctx, second.Hash)
	assert.NoError(t, err)
}

// gatedSource parks Mempool after it has taken its snapshot until released
type gatedSource struct {
	*scriptedSource
	taken   chan struct{}
	release chan struct{}
}

func (g *gatedSource) Mempool(ctx context.Context, fullTxs bool) ([]*chain.Transaction, error) {
	txs, err := g.scriptedSource.Mempool(ctx, fullTxs)
	close(g.taken)
	<-g.release
	return txs, err
}

func TestMonitorRefreshKeepsTxStreamedDuringFetch(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	old := makeMempoolTx(1, hashFor(0x70, 1))
	src := &gatedSource{
		scriptedSource: &scriptedSource{},
		taken:          make(chan struct{}),
		release:        make(chan struct{}),
	}
	m := NewMonitor(src, store, lookahead.NewCommits(0, false), liveAllTxs(), zap.NewNop(), nil)
	require.NoError(t, m.applyMempoolTx(ctx, old))

	refreshed := make(chan error, 1)
	go func() { refreshed <- m.RefreshMempool(ctx) }()
	<-src.taken

	streamed := makeMempoolTx(2, hashFor(0x70, 2))
	applied := make(chan error, 1)
	go func() { applied <- m.applyMempoolTx(ctx, streamed) }()

	select {
	case <-applied:
		t.Fatal("streamed tx applied while a refresh was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(src.release)
	require.NoError(t, <-refreshed)
	require.NoError(t, <-applied)

	_, err := store.GetTxMeta(ctx, streamed.Hash)
	assert.NoError(t, err, "tx streamed during the fetch survives the refresh")
	_, err = store.GetTxMeta(ctx, old.Hash)
	assert.ErrorIs(t, err, storage.ErrNotFound, "txs missing from the snapshot are dropped")
}

func TestMonitorRefreshAppliesFilter(t *testing.T) {
	ctx := context.Background()
	watched := common.HexToAddress("0xaa")
	keep := makeMempoolTx(1, hashFor(0x70, 1))
	keep.Outputs[0].Recipient = watched
	drop := makeMempoolTx(2, hashFor(0x70, 2))

	src := &scriptedSource{mempool: []*chain.Transaction{drop, keep}}
	store := newStore(t)
	metrics := NewMetrics(nil, nil)
	cfg := Config{Filter: chain.TxFilter{Recipients: []common.Address{watched}}}
	m := NewMonitor(src, store, lookahead.NewCommits(0, false), cfg, zap.NewNop(), metrics)

	require.NoError(t, m.RefreshMempool(ctx))

	_, err := store.GetTxMeta(ctx, keep.Hash)
	assert.NoError(t, err)
	_, err = store.GetTxMeta(ctx, drop.Hash)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.MempoolSize))
}

func TestMonitorRefreshesMempoolAfterBlock(t *testing.T) {
	tx := makeMempoolTx(1, hashFor(0x70, 5))
	src := &scriptedSource{
		blockSubs: [][]blockStep{{{block: makeBlock(5)}}},
		mempool:   []*chain.Transaction{tx},
	}
	store := newStore(t)
	commits := lookahead.NewCommits(5, false)
	m := NewMonitor(src, store, commits, liveAllTxs(), zap.NewNop(), nil)

	stop := startMonitor(t, m)
	require.Eventually(t, func() bool {
		_, err := store.GetTxMeta(context.Background(), tx.Hash)
		return err == nil
	}, 5*time.Second, 5*time.Millisecond)
	require.NoError(t, stop())

	src.mu.Lock()
	defer src.mu.Unlock()
	assert.Equal(t, 1, src.mempoolRuns)
}

func TestMonitorAppliesStreamedMempoolTxs(t *testing.T) {
	want := makeMempoolTx(7, hashFor(0x70, 1))
	src := &scriptedSource{txSubs: [][]*chain.Transaction{{want}}}
	store := newStore(t)
	metrics := NewMetrics(nil, nil)
	m := NewMonitor(src, store, lookahead.NewCommits(0, false), liveAllTxs(), zap.NewNop(), metrics)

	stop := startMonitor(t, m)
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(metrics.MempoolTxs) == 1
	}, 5*time.Second, 5*time.Millisecond)
	require.NoError(t, stop())

	meta, err := store.GetTxMeta(context.Background(), want.Hash)
	require.NoError(t, err)
	assert.True(t, meta.IsMempool)
}

func TestMonitorFilterSkipsUnwatchedTxs(t *testing.T) {
	watched := common.HexToAddress("0xaa")
	keep := makeMempoolTx(1, hashFor(0x70, 1))
	keep.Outputs[0].Recipient = watched
	drop := makeMempoolTx(2, hashFor(0x70, 2))

	src := &scriptedSource{txSubs: [][]*chain.Transaction{{drop, keep}}}
	store := newStore(t)
	metrics := NewMetrics(nil, nil)
	cfg := Config{Filter: chain.TxFilter{Recipients: []common.Address{watched}}}
	m := NewMonitor(src, store, lookahead.NewCommits(0, false), cfg, zap.NewNop(), metrics)

	stop := startMonitor(t, m)
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(metrics.MempoolTxs) == 1
	}, 5*time.Second, 5*time.Millisecond)
	require.NoError(t, stop())

	_, err := store.GetTxMeta(context.Background(), drop.Hash)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestMonitorStoreFailureIsFatal(t *testing.T) {
	src := &scriptedSource{
		blockSubs: [][]blockStep{{{block: makeBlock(3)}}},
	}
	store := newStore(t)
	store.failErr = errors.New("disk full")
	metrics := NewMetrics(nil, nil)
	m := NewMonitor(src, store, lookahead.NewCommits(3, false), liveAllTxs(), zap.NewNop(), metrics)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := m.Run(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStore)
	assert.Zero(t, testutil.ToFloat64(metrics.Restarts.WithLabelValues("blocks")))
}

func TestMonitorMempoolFetchFailureRestarts(t *testing.T) {
	src := &scriptedSource{
		blockSubs:  [][]blockStep{{{block: makeBlock(0)}}},
		mempoolErr: errors.New("txpool unavailable"),
	}
	store := newStore(t)
	metrics := NewMetrics(nil, nil)
	m := NewMonitor(src, store, lookahead.NewCommits(0, false), liveAllTxs(), zap.NewNop(), metrics)

	stop := startMonitor(t, m)
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(metrics.Restarts.WithLabelValues("blocks")) >= 1
	}, 5*time.Second, 5*time.Millisecond)
	require.NoError(t, stop())
	assert.Equal(t, []uint64{0}, store.appliedHeights())
}

func TestMetricsRegister(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg, nil)
	m.Restarts.WithLabelValues("blocks").Inc()

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["indexer_live_restarts_total"])
	assert.True(t, names["indexer_live_mempool_size"])
}
