package synthetic

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/0xmhha/explorer-indexer/chain"
	"go.uber.org/zap"
)

// ticker paces a stream and ends it on Close
type ticker struct {
	t    *time.Ticker
	once sync.Once
	done chan struct{}
}

func newTicker(d time.Duration) *ticker {
	return &ticker{t: time.NewTicker(d), done: make(chan struct{})}
}

func (t *ticker) wait(ctx context.Context) error {
	select {
	case <-t.t.C:
		return nil
	case <-t.done:
		return io.EOF
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *ticker) Close() {
	t.once.Do(func() {
		t.t.Stop()
		close(t.done)
	})
}

type blockStream struct {
	*ticker
	src *Source
}

// SubscribeBlocks produces one new block past the tip per BlockInterval
func (s *Source) SubscribeBlocks(ctx context.Context) (chain.BlockStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &blockStream{ticker: newTicker(s.cfg.BlockInterval), src: s}, nil
}

func (bs *blockStream) Next(ctx context.Context) (*chain.Block, error) {
	if err := bs.wait(ctx); err != nil {
		return nil, err
	}
	b := bs.src.advance()
	bs.src.logger.Debug("generated block", zap.Uint64("height", b.Height))
	return b, nil
}

type txStream struct {
	*ticker
	src    *Source
	filter chain.TxFilter
}

// SubscribeTransactions produces one mempool transaction per TxInterval
func (s *Source) SubscribeTransactions(ctx context.Context, filter chain.TxFilter) (chain.TxStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &txStream{ticker: newTicker(s.cfg.TxInterval), src: s, filter: filter}, nil
}

func (ts *txStream) Next(ctx context.Context) (*chain.Transaction, error) {
	for {
		if err := ts.wait(ctx); err != nil {
			return nil, err
		}
		tx := ts.src.newMempoolTx()
		if ts.filter.Match(tx) {
			return tx, nil
		}
	}
}

// Close is a no-op; generated data lives in memory
func (s *Source) Close() {}
