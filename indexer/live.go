package indexer

import (
	"context"
	"fmt"
	"sync"

	"github.com/0xmhha/explorer-indexer/client"
	"github.com/0xmhha/explorer-indexer/internal/constants"
	"github.com/0xmhha/explorer-indexer/storage"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Live indexes a real node over JSON-RPC and WebSocket. It has no stop
// channel; the process is its unit of lifecycle.
type Live struct {
	pipeline
	clientConfig *client.Config

	mu     sync.RWMutex
	client *client.Client
}

var _ Indexer = (*Live)(nil)

// NewLive creates a live indexer. Zero worker and lookahead settings take
// the live defaults.
func NewLive(clientConfig *client.Config, store storage.Store, config Config, logger *zap.Logger, metrics *Metrics) *Live {
	if config.Fetch.NumWorkers == 0 {
		config.Fetch.NumWorkers = constants.DefaultNumWorkers
	}
	if config.Fetch.Lookahead == 0 {
		config.Fetch.Lookahead = constants.DefaultLookahead
	}
	return &Live{
		pipeline:     newPipeline(store, config, logger, metrics),
		clientConfig: clientConfig,
	}
}

// Connect dials the node
func (l *Live) Connect(ctx context.Context) error {
	c, err := client.NewClient(ctx, l.clientConfig)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.client != nil {
		l.client.Close()
	}
	l.client = c
	return nil
}

func (l *Live) source() (*client.Client, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.client == nil {
		return nil, ErrNotConnected
	}
	return l.client, nil
}

// Run indexes until ctx is done or a fatal error occurs
func (l *Live) Run(ctx context.Context) error {
	c, err := l.source()
	if err != nil {
		return err
	}
	return l.run(ctx, c, nil)
}

// Close releases the node connection
func (l *Live) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.client != nil {
		l.client.Close()
		l.client = nil
	}
}

// BlockTransactions fetches the block's transaction hashes from the node and
// resolves each one in the index
func (l *Live) BlockTransactions(ctx context.Context, hash common.Hash) ([]*storage.TxMeta, error) {
	c, err := l.source()
	if err != nil {
		return nil, err
	}
	block, err := c.BlockByHash(ctx, hash, false)
	if err != nil {
		return nil, fmt.Errorf("block %s: %w", hash.Hex(), err)
	}
	return l.blockTransactions(ctx, block.TxHashes)
}

// Transaction fetches the transaction and its raw bytes concurrently and
// joins them with the index records
func (l *Live) Transaction(ctx context.Context, hash common.Hash) (*TxDetail, error) {
	c, err := l.source()
	if err != nil {
		return nil, err
	}

	g, gctx := errgroup.WithContext(ctx)
	var detail TxDetail
	g.Go(func() error {
		tx, err := c.Transaction(gctx, hash)
		if err != nil {
			return fmt.Errorf("transaction %s: %w", hash.Hex(), err)
		}
		detail.Transaction = tx
		return nil
	})
	g.Go(func() error {
		raw, err := c.RawTransaction(gctx, hash)
		if err != nil {
			return fmt.Errorf("raw transaction %s: %w", hash.Hex(), err)
		}
		detail.Raw = raw
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	meta, err := l.txMeta(ctx, hash)
	if err != nil {
		return nil, err
	}
	return l.join(ctx, detail.Transaction, detail.Raw, meta)
}
