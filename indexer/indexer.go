// Package indexer composes catch-up and live monitoring over a chain source
// and an index store, and answers point queries against the result.
package indexer

import (
	"context"
	"errors"
	"fmt"

	"github.com/0xmhha/explorer-indexer/chain"
	"github.com/0xmhha/explorer-indexer/fetch"
	"github.com/0xmhha/explorer-indexer/live"
	"github.com/0xmhha/explorer-indexer/storage"
	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

var (
	// ErrUnindexed is returned when a transaction is known to the node but not to the index
	ErrUnindexed = errors.New("unindexed transaction")

	// ErrNotConnected is returned by Run and queries before Connect succeeds
	ErrNotConnected = errors.New("indexer not connected")
)

// Indexer is the capability set shared by the live and synthetic variants
type Indexer interface {
	// Connect prepares the chain source
	Connect(ctx context.Context) error

	// Run catches up to the chain tip, then follows new blocks and mempool
	// transactions until ctx is done
	Run(ctx context.Context) error

	// BlockTransactions returns the indexed transactions of a block in block order
	BlockTransactions(ctx context.Context, hash common.Hash) ([]*storage.TxMeta, error)

	// Transaction returns a transaction joined with its index records
	Transaction(ctx context.Context, hash common.Hash) (*TxDetail, error)
}

// TxDetail is a transaction with everything the index knows about it
type TxDetail struct {
	Transaction *chain.Transaction
	Raw         []byte
	Meta        *storage.TxMeta

	// Token is set when the transaction carries a token transfer
	Token *storage.TokenMeta

	// Spends maps output index to the transaction spending it
	Spends map[uint32]*storage.SpendInfo
}

// Config holds the pipeline configuration of both variants
type Config struct {
	Fetch fetch.Config
	Live  live.Config
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if err := c.Fetch.Validate(); err != nil {
		return fmt.Errorf("fetch: %w", err)
	}
	if err := c.Live.Validate(); err != nil {
		return fmt.Errorf("live: %w", err)
	}
	return nil
}

// Metrics groups the catch-up and live metrics; both report the same
// committed height gauge
type Metrics struct {
	Fetch *fetch.Metrics
	Live  *live.Metrics
}

// NewMetrics creates and registers the indexer metrics with reg. A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := fetch.NewMetrics(reg)
	return &Metrics{
		Fetch: f,
		Live:  live.NewMetrics(reg, f.CommittedHeight),
	}
}

// pipelineSource is what catch-up and the live monitor need from a chain source
type pipelineSource interface {
	fetch.Source
	live.Source
}

// pipeline runs catch-up followed by live monitoring against one store
type pipeline struct {
	store   storage.Store
	config  Config
	logger  *zap.Logger
	metrics *Metrics
}

func newPipeline(store storage.Store, config Config, logger *zap.Logger, metrics *Metrics) pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return pipeline{store: store, config: config, logger: logger, metrics: metrics}
}

// run catches up, then hands the committed height to the live monitor.
// A closed stop ends ingestion after catch-up returns.
func (p *pipeline) run(ctx context.Context, source pipelineSource, stop <-chan struct{}) error {
	fetcher := fetch.NewFetcher(source, p.store, &p.config.Fetch, p.logger, p.metrics.Fetch)
	commits, err := fetcher.CatchUp(ctx, stop)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		p.logger.Error("index error", zap.Error(err))
		return err
	}
	if stopped(stop) || ctx.Err() != nil {
		p.logger.Info("Ingestion stopped")
		return nil
	}

	monitor := live.NewMonitor(source, p.store, commits, p.config.Live, p.logger, p.metrics.Live)
	if err := monitor.RefreshMempool(ctx); err != nil {
		if errors.Is(err, live.ErrStore) {
			p.logger.Error("index error", zap.Error(err))
			return err
		}
		p.logger.Warn("Initial mempool refresh failed", zap.Error(err))
	}

	// stop also ends the monitors
	mctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if stop != nil {
		go func() {
			select {
			case <-stop:
				cancel()
			case <-mctx.Done():
			}
		}()
	}

	p.logger.Info("Starting live monitors")
	if err := monitor.Run(mctx); err != nil {
		p.logger.Error("index error", zap.Error(err))
		return err
	}
	return nil
}

func stopped(stop <-chan struct{}) bool {
	select {
	case <-stop:
		return true
	default:
		return false
	}
}

// blockTransactions resolves hashes in the index, in order
func (p *pipeline) blockTransactions(ctx context.Context, hashes []common.Hash) ([]*storage.TxMeta, error) {
	metas := make([]*storage.TxMeta, 0, len(hashes))
	for _, hash := range hashes {
		meta, err := p.txMeta(ctx, hash)
		if err != nil {
			return nil, err
		}
		metas = append(metas, meta)
	}
	return metas, nil
}

// join attaches the index records of tx
func (p *pipeline) join(ctx context.Context, tx *chain.Transaction, raw []byte, meta *storage.TxMeta) (*TxDetail, error) {
	detail := &TxDetail{Transaction: tx, Raw: raw, Meta: meta}

	if meta.HasToken {
		token, err := p.store.GetTokenMeta(ctx, meta.TokenID)
		switch {
		case err == nil:
			detail.Token = token
		case !errors.Is(err, storage.ErrNotFound):
			return nil, fmt.Errorf("token meta: %w", err)
		}
	}

	spends, err := p.store.GetSpendInfo(ctx, tx.Hash)
	if err != nil {
		return nil, fmt.Errorf("spend info: %w", err)
	}
	detail.Spends = spends
	return detail, nil
}

// txMeta looks up hash, mapping absence to ErrUnindexed
func (p *pipeline) txMeta(ctx context.Context, hash common.Hash) (*storage.TxMeta, error) {
	meta, err := p.store.GetTxMeta(ctx, hash)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrUnindexed, hash.Hex())
	}
	return meta, err
}
