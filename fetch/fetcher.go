package fetch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/0xmhha/explorer-indexer/chain"
	"github.com/0xmhha/explorer-indexer/internal/constants"
	"github.com/0xmhha/explorer-indexer/lookahead"
	"github.com/0xmhha/explorer-indexer/storage"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Source defines the chain operations the fetcher needs
type Source interface {
	BlockByHeight(ctx context.Context, height uint64, fullTxs bool) (*chain.Block, error)
}

// Storage defines the storage operations the fetcher needs
type Storage interface {
	GetLatestHeight(ctx context.Context) (uint64, error)
	BuildBlockBatch(block *chain.Block) (*storage.Batch, error)
	ApplyBatch(ctx context.Context, b *storage.Batch) error
	Flush() error
}

// Config holds fetcher configuration
type Config struct {
	// StartHeight is the block height to start indexing from when the store is empty
	StartHeight uint64

	// NumWorkers is the number of concurrent fetch workers
	// If 0, defaults to 50
	NumWorkers int

	// Lookahead is how far past the committed height a worker may fetch
	// If 0, defaults to 1000
	Lookahead uint64

	// ReportInterval is how often throughput is logged and the store flushed
	// If 0, defaults to 10s
	ReportInterval time.Duration
}

// Validate validates the fetcher configuration
func (c *Config) Validate() error {
	if c.NumWorkers < 0 || c.NumWorkers > constants.MaxWorkers {
		return fmt.Errorf("num workers must be between 0 and %d", constants.MaxWorkers)
	}
	if c.ReportInterval < 0 {
		return fmt.Errorf("report interval cannot be negative")
	}
	return nil
}

func (c *Config) workers() int {
	if c.NumWorkers == 0 {
		return constants.DefaultNumWorkers
	}
	return c.NumWorkers
}

func (c *Config) lookahead() uint64 {
	if c.Lookahead == 0 {
		return constants.DefaultLookahead
	}
	return c.Lookahead
}

func (c *Config) reportInterval() time.Duration {
	if c.ReportInterval == 0 {
		return constants.DefaultReportInterval
	}
	return c.ReportInterval
}

// Fetcher drives catch-up: a pool of workers fetching ahead of a single
// sequencer that commits in height order
type Fetcher struct {
	source  Source
	storage Storage
	config  *Config
	logger  *zap.Logger
	metrics *Metrics
}

// NewFetcher creates a new Fetcher instance
func NewFetcher(source Source, storage Storage, config *Config, logger *zap.Logger, metrics *Metrics) *Fetcher {
	if config == nil {
		config = &Config{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Fetcher{
		source:  source,
		storage: storage,
		config:  config,
		logger:  logger,
		metrics: metrics,
	}
}

// nextHeight determines the first height to fetch and whether the height
// before it is already committed
func (f *Fetcher) nextHeight(ctx context.Context) (uint64, bool, error) {
	latestHeight, err := f.storage.GetLatestHeight(ctx)
	if errors.Is(err, storage.ErrNotFound) {
		f.logger.Info("No blocks indexed yet, starting from configured height",
			zap.Uint64("start_height", f.config.StartHeight),
		)
		return f.config.StartHeight, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to read latest height: %w", err)
	}

	if f.config.StartHeight > latestHeight+1 {
		f.logger.Warn("Configured start height is past the index, resuming from the index",
			zap.Uint64("start_height", f.config.StartHeight),
			zap.Uint64("latest_height", latestHeight),
		)
	}

	nextHeight := latestHeight + 1
	f.logger.Info("Continuing from latest indexed block",
		zap.Uint64("latest_height", latestHeight),
		zap.Uint64("next_height", nextHeight),
	)
	return nextHeight, true, nil
}

// CatchUp indexes every block from the committed height to the chain tip.
// It returns once all workers have found the end of the chain, stop is
// closed, or a fatal error occurs. The returned Commits reflects the
// committed height and is nil only when the starting height could not be read.
func (f *Fetcher) CatchUp(ctx context.Context, stop <-chan struct{}) (*lookahead.Commits, error) {
	next, committed, err := f.nextHeight(ctx)
	if err != nil {
		return nil, err
	}

	numWorkers := f.config.workers()
	window := lookahead.NewWindow(next, committed, f.config.lookahead())
	if committed {
		f.metrics.CommittedHeight.Set(float64(next - 1))
	}

	f.logger.Info("Starting catch-up",
		zap.Uint64("next_height", next),
		zap.Int("workers", numWorkers),
		zap.Uint64("lookahead", window.Bound),
	)
	start := time.Now()

	batches := make(chan *storage.Batch, 2*numWorkers)
	seqDone := make(chan struct{})

	pool := &Pool{
		source:  f.source,
		builder: f.storage,
		window:  window,
		stop:    stop,
		logger:  f.logger,
		metrics: f.metrics,
	}
	seq := newSequencer(f.storage, window.Commits, next, f.config.reportInterval(), f.logger, f.metrics)

	g, gctx := errgroup.WithContext(ctx)

	var wg sync.WaitGroup
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		g.Go(func() error {
			defer wg.Done()
			return pool.worker(gctx, i, batches, seqDone)
		})
	}

	// Close the batch channel once every worker has returned
	g.Go(func() error {
		wg.Wait()
		close(batches)
		return nil
	})

	g.Go(func() error {
		defer close(seqDone)
		return seq.Run(gctx, batches)
	})

	if err := g.Wait(); err != nil {
		f.logger.Error("Catch-up failed", zap.Error(err))
		return window.Commits, err
	}

	height, ok := window.Commits.Committed()
	f.logger.Info("Completed catch-up",
		zap.Uint64("committed_height", height),
		zap.Bool("committed", ok),
		zap.Duration("elapsed", time.Since(start)),
	)
	return window.Commits, nil
}
