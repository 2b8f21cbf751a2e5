package fetch

import (
	"context"
	"fmt"
	"time"

	"github.com/0xmhha/explorer-indexer/lookahead"
	"github.com/0xmhha/explorer-indexer/storage"
	"go.uber.org/zap"
)

// Committer applies batches in order and persists them
type Committer interface {
	ApplyBatch(ctx context.Context, b *storage.Batch) error
	Flush() error
}

// Sequencer is the single writer of catch-up. Batches arrive in any order,
// are shelved by height and applied strictly in ascending height.
type Sequencer struct {
	store    Committer
	commits  *lookahead.Commits
	next     uint64
	shelf    map[uint64]*storage.Batch
	interval time.Duration
	logger   *zap.Logger
	metrics  *Metrics

	// progress since the last report
	reported    time.Time
	sinceReport uint64
}

func newSequencer(store Committer, commits *lookahead.Commits, next uint64, interval time.Duration, logger *zap.Logger, metrics *Metrics) *Sequencer {
	return &Sequencer{
		store:    store,
		commits:  commits,
		next:     next,
		shelf:    make(map[uint64]*storage.Batch),
		interval: interval,
		logger:   logger,
		metrics:  metrics,
	}
}

// ShelfSize returns the number of received batches waiting for a gap to fill
func (s *Sequencer) ShelfSize() int {
	return len(s.shelf)
}

// Run consumes batches until the channel is closed. Batches still shelved at
// that point sit past a gap and are discarded.
func (s *Sequencer) Run(ctx context.Context, batches <-chan *storage.Batch) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	s.reported = time.Now()

	for {
		select {
		case batch, ok := <-batches:
			if !ok {
				return s.finish()
			}
			if err := s.receive(ctx, batch); err != nil {
				return err
			}
		case <-ticker.C:
			if err := s.report(); err != nil {
				return err
			}
		}
	}
}

func (s *Sequencer) receive(ctx context.Context, batch *storage.Batch) error {
	height, ok := batch.Height()
	if !ok {
		return fmt.Errorf("received a batch without a block height")
	}
	if height < s.next {
		s.logger.Warn("Ignoring batch below committed height",
			zap.Uint64("height", height),
			zap.Uint64("next", s.next),
		)
		return nil
	}

	s.shelf[height] = batch
	if err := s.drain(ctx); err != nil {
		return err
	}
	s.metrics.ShelfSize.Set(float64(len(s.shelf)))
	return nil
}

// drain applies shelved batches while the next height is present
func (s *Sequencer) drain(ctx context.Context) error {
	for {
		batch, ok := s.shelf[s.next]
		if !ok {
			return nil
		}
		delete(s.shelf, s.next)

		if err := s.store.ApplyBatch(ctx, batch); err != nil {
			return fmt.Errorf("apply block %d: %w", s.next, err)
		}
		s.commits.Publish(s.next)

		s.metrics.CommittedHeight.Set(float64(s.next))
		s.metrics.BlocksCommitted.Inc()
		s.sinceReport++
		s.next++
	}
}

// report logs throughput since the previous report and flushes the store
func (s *Sequencer) report() error {
	elapsed := time.Since(s.reported)
	height, _ := s.commits.Committed()
	s.logger.Info("Added blocks",
		zap.Uint64("blocks", s.sinceReport),
		zap.Float64("seconds", elapsed.Seconds()),
		zap.Uint64("to_height", height),
		zap.Int("shelf", len(s.shelf)),
	)

	start := time.Now()
	if err := s.store.Flush(); err != nil {
		return fmt.Errorf("flush: %w", err)
	}
	took := time.Since(start)
	s.metrics.FlushDuration.Observe(took.Seconds())
	s.logger.Info("Flushed store", zap.Duration("took", took))

	s.reported = time.Now()
	s.sinceReport = 0
	return nil
}

func (s *Sequencer) finish() error {
	if n := len(s.shelf); n > 0 {
		s.logger.Warn("Discarding batches past a gap",
			zap.Int("count", n),
			zap.Uint64("gap_height", s.next),
		)
		s.shelf = make(map[uint64]*storage.Batch)
		s.metrics.ShelfSize.Set(0)
	}
	return s.report()
}
