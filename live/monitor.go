package live

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/0xmhha/explorer-indexer/chain"
	"github.com/0xmhha/explorer-indexer/lookahead"
	"github.com/0xmhha/explorer-indexer/storage"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrStore marks a failure of the index store. Store failures stop the
// monitor; stream failures only restart the loop that saw them.
var ErrStore = errors.New("index store failure")

// Source is the part of chain.Source the monitor needs
type Source interface {
	BlockByHeight(ctx context.Context, height uint64, fullTxs bool) (*chain.Block, error)
	Mempool(ctx context.Context, fullTxs bool) ([]*chain.Transaction, error)
	SubscribeBlocks(ctx context.Context) (chain.BlockStream, error)
	SubscribeTransactions(ctx context.Context, filter chain.TxFilter) (chain.TxStream, error)
}

// Storage is the part of the index store the monitor writes to
type Storage interface {
	BuildBlockBatch(block *chain.Block) (*storage.Batch, error)
	BuildMempoolBatch(txs []*chain.Transaction) (*storage.Batch, error)
	BuildMempoolSnapshot(txs []*chain.Transaction) (*storage.Batch, error)
	ApplyBatch(ctx context.Context, b *storage.Batch) error
}

// Config holds live monitor configuration
type Config struct {
	// Restart paces resubscribes of both loops (default: RetryForever)
	Restart RestartPolicy

	// Filter selects which mempool transactions are indexed, both streamed
	// and those taken from a refresh snapshot
	Filter chain.TxFilter
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	return c.Restart.Validate()
}

// Monitor keeps the index current after catch-up by following block and
// mempool subscriptions
type Monitor struct {
	source  Source
	store   Storage
	commits *lookahead.Commits
	config  Config
	logger  *zap.Logger
	metrics *Metrics

	// held from snapshot fetch to apply, and around each streamed apply
	mempoolMu sync.Mutex
}

// NewMonitor creates a monitor that continues from the heights recorded in commits
func NewMonitor(source Source, store Storage, commits *lookahead.Commits, config Config, logger *zap.Logger, metrics *Metrics) *Monitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = NewMetrics(nil, nil)
	}
	return &Monitor{
		source:  source,
		store:   store,
		commits: commits,
		config:  config,
		logger:  logger,
		metrics: metrics,
	}
}

// Run runs the block loop and the mempool loop until ctx is done or the
// store fails. It returns nil on cancellation.
func (m *Monitor) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return m.loop(gctx, "blocks", m.followBlocks)
	})
	g.Go(func() error {
		return m.loop(gctx, "mempool", m.followMempool)
	})

	err := g.Wait()
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// loop runs follow until it fails with a store error, resubscribing after
// every other failure or clean end
func (m *Monitor) loop(ctx context.Context, name string, follow func(context.Context) error) error {
	p := newPacer(m.config.Restart)
	logger := m.logger.With(zap.String("loop", name))

	for {
		err := follow(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, ErrStore) {
			logger.Error("Live loop stopped", zap.Error(err))
			return err
		}

		if err == nil || errors.Is(err, io.EOF) {
			logger.Warn("Subscription ended, resubscribing")
		} else {
			logger.Warn("Subscription failed, resubscribing", zap.Error(err))
		}
		m.metrics.Restarts.WithLabelValues(name).Inc()

		if err := p.wait(ctx); err != nil {
			return nil
		}
	}
}

func (m *Monitor) followBlocks(ctx context.Context) error {
	stream, err := m.source.SubscribeBlocks(ctx)
	if err != nil {
		return fmt.Errorf("subscribe blocks: %w", err)
	}
	defer stream.Close()

	for {
		block, err := stream.Next(ctx)
		if err != nil {
			return err
		}
		if err := m.applyBlock(ctx, block); err != nil {
			return err
		}
		if err := m.RefreshMempool(ctx); err != nil {
			return err
		}
	}
}

func (m *Monitor) followMempool(ctx context.Context) error {
	stream, err := m.source.SubscribeTransactions(ctx, m.config.Filter)
	if err != nil {
		return fmt.Errorf("subscribe transactions: %w", err)
	}
	defer stream.Close()

	for {
		tx, err := stream.Next(ctx)
		if err != nil {
			return err
		}
		if err := m.applyMempoolTx(ctx, tx); err != nil {
			return err
		}
	}
}

// applyBlock applies a streamed block, skipping heights already committed
// and backfilling any heights between the committed tip and the block
func (m *Monitor) applyBlock(ctx context.Context, block *chain.Block) error {
	next := m.commits.Next()
	if block.Height < next {
		m.logger.Debug("Skipping committed block",
			zap.Uint64("height", block.Height),
			zap.Uint64("next", next),
		)
		return nil
	}

	for h := next; h < block.Height; h++ {
		missing, err := m.source.BlockByHeight(ctx, h, true)
		if err != nil {
			return fmt.Errorf("backfill block %d: %w", h, err)
		}
		m.logger.Info("Backfilling block", zap.Uint64("height", h))
		if err := m.commit(ctx, missing); err != nil {
			return err
		}
	}

	if err := m.commit(ctx, block); err != nil {
		return err
	}
	m.logger.Info("New block",
		zap.Uint64("height", block.Height),
		zap.String("hash", block.Hash.Hex()),
		zap.Int("txs", block.NumTxs()),
	)
	return nil
}

func (m *Monitor) commit(ctx context.Context, block *chain.Block) error {
	batch, err := m.store.BuildBlockBatch(block)
	if err != nil {
		return fmt.Errorf("%w: build batch for block %d: %v", ErrStore, block.Height, err)
	}
	if err := m.store.ApplyBatch(ctx, batch); err != nil {
		return fmt.Errorf("%w: apply block %d: %v", ErrStore, block.Height, err)
	}
	m.commits.Publish(block.Height)
	m.metrics.CommittedHeight.Set(float64(block.Height))
	m.metrics.BlocksApplied.Inc()
	return nil
}

// RefreshMempool replaces the indexed mempool with the node's current one.
// Streamed transactions cannot land between the fetch and the replace.
func (m *Monitor) RefreshMempool(ctx context.Context) error {
	m.mempoolMu.Lock()
	defer m.mempoolMu.Unlock()

	snapshot, err := m.source.Mempool(ctx, true)
	if err != nil {
		return fmt.Errorf("fetch mempool: %w", err)
	}
	txs := make([]*chain.Transaction, 0, len(snapshot))
	for _, tx := range snapshot {
		if m.config.Filter.Match(tx) {
			txs = append(txs, tx)
		}
	}

	batch, err := m.store.BuildMempoolSnapshot(txs)
	if err != nil {
		return fmt.Errorf("%w: build mempool batch: %v", ErrStore, err)
	}
	if err := m.store.ApplyBatch(ctx, batch); err != nil {
		return fmt.Errorf("%w: replace mempool: %v", ErrStore, err)
	}

	m.metrics.MempoolSize.Set(float64(len(txs)))
	m.logger.Info("Refreshed mempool",
		zap.Int("txs", len(txs)),
		zap.Int("skipped", len(snapshot)-len(txs)),
	)
	return nil
}

func (m *Monitor) applyMempoolTx(ctx context.Context, tx *chain.Transaction) error {
	batch, err := m.store.BuildMempoolBatch([]*chain.Transaction{tx})
	if err != nil {
		return fmt.Errorf("%w: build mempool batch: %v", ErrStore, err)
	}

	m.mempoolMu.Lock()
	defer m.mempoolMu.Unlock()

	if err := m.store.ApplyBatch(ctx, batch); err != nil {
		return fmt.Errorf("%w: apply mempool tx %s: %v", ErrStore, tx.Hash.Hex(), err)
	}
	m.metrics.MempoolTxs.Inc()
	m.logger.Info("Added tx to mempool", zap.String("hash", tx.Hash.Hex()))
	return nil
}
