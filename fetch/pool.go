package fetch

import (
	"context"
	"errors"
	"fmt"

	"github.com/0xmhha/explorer-indexer/chain"
	"github.com/0xmhha/explorer-indexer/lookahead"
	"github.com/0xmhha/explorer-indexer/storage"
	"go.uber.org/zap"
)

// BatchBuilder builds a block batch without touching committed state
type BatchBuilder interface {
	BuildBlockBatch(block *chain.Block) (*storage.Batch, error)
}

// Pool is the set of fetch workers sharing one lookahead window
type Pool struct {
	source  Source
	builder BatchBuilder
	window  *lookahead.Window
	stop    <-chan struct{}
	logger  *zap.Logger
	metrics *Metrics
}

func (p *Pool) stopped() bool {
	select {
	case <-p.stop:
		return true
	default:
		return false
	}
}

// worker claims heights until the chain ends, stop closes, or an error occurs.
// A missing block is the end of the chain and ends the worker without error.
func (p *Pool) worker(ctx context.Context, id int, out chan<- *storage.Batch, seqDone <-chan struct{}) error {
	logger := p.logger.With(zap.Int("worker", id))
	commits := p.window.Commits
	bound := p.window.Bound

	for {
		if p.stopped() {
			logger.Debug("Worker stopped")
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		height := p.window.Claims.Claim()

		if !commits.Allowed(height, bound) {
			logger.Debug("Waiting to catch up",
				zap.Uint64("height", height),
				zap.Uint64("next_commit", commits.Next()),
			)
		}
		if err := commits.Wait(ctx, height, bound); err != nil {
			if errors.Is(err, lookahead.ErrEndOfChain) {
				logger.Debug("Height past end of chain", zap.Uint64("height", height))
				return nil
			}
			return err
		}

		block, err := p.source.BlockByHeight(ctx, height, true)
		if errors.Is(err, chain.ErrNotFound) {
			commits.MarkEnd(height)
			logger.Debug("Reached end of chain", zap.Uint64("height", height))
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("fetch block %d: %w", height, err)
		}

		batch, err := p.builder.BuildBlockBatch(block)
		if err != nil {
			return fmt.Errorf("build batch for block %d: %w", height, err)
		}

		select {
		case out <- batch:
		case <-seqDone:
			logger.Warn("Sequencer gone, batch dropped", zap.Uint64("height", height))
			p.metrics.BatchesDropped.Inc()
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
