package indexer

import (
	"context"
	"fmt"
	"sync"

	"github.com/0xmhha/explorer-indexer/chain"
	"github.com/0xmhha/explorer-indexer/internal/constants"
	"github.com/0xmhha/explorer-indexer/storage"
	"github.com/0xmhha/explorer-indexer/synthetic"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// Synthetic indexes a generated chain with a single worker. Stop ends
// ingestion while the store keeps serving queries.
type Synthetic struct {
	pipeline
	sourceConfig synthetic.Config

	mu     sync.RWMutex
	source *synthetic.Source

	stop     chan struct{}
	stopOnce sync.Once
}

var _ Indexer = (*Synthetic)(nil)

// NewSynthetic creates a synthetic indexer. The worker count is always one.
func NewSynthetic(sourceConfig synthetic.Config, store storage.Store, config Config, logger *zap.Logger, metrics *Metrics) *Synthetic {
	config.Fetch.NumWorkers = constants.SyntheticNumWorkers
	if sourceConfig.Logger == nil {
		sourceConfig.Logger = logger
	}
	return &Synthetic{
		pipeline:     newPipeline(store, config, logger, metrics),
		sourceConfig: sourceConfig,
		stop:         make(chan struct{}),
	}
}

// Connect creates the generated chain
func (s *Synthetic) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.source = synthetic.New(s.sourceConfig)
	return nil
}

func (s *Synthetic) chain() (*synthetic.Source, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.source == nil {
		return nil, ErrNotConnected
	}
	return s.source, nil
}

// Stop ends ingestion. Workers notice it before their next fetch. It is safe
// to call more than once.
func (s *Synthetic) Stop() {
	s.stopOnce.Do(func() {
		s.logger.Info("Stopping ingestion")
		close(s.stop)
	})
}

// Run indexes until Stop is called, ctx is done or a fatal error occurs
func (s *Synthetic) Run(ctx context.Context) error {
	src, err := s.chain()
	if err != nil {
		return err
	}
	return s.run(ctx, src, s.stop)
}

// BlockTransactions answers from the store alone
func (s *Synthetic) BlockTransactions(ctx context.Context, hash common.Hash) ([]*storage.TxMeta, error) {
	meta, err := s.store.GetBlockMeta(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("block %s: %w", hash.Hex(), err)
	}
	return s.store.GetBlockTransactions(ctx, meta.Height)
}

// Transaction joins the index records with the generated transaction.
// Raw bytes are always empty.
func (s *Synthetic) Transaction(ctx context.Context, hash common.Hash) (*TxDetail, error) {
	src, err := s.chain()
	if err != nil {
		return nil, err
	}
	meta, err := s.txMeta(ctx, hash)
	if err != nil {
		return nil, err
	}

	var tx *chain.Transaction
	if meta.IsMempool {
		tx, err = src.Transaction(ctx, hash)
	} else {
		tx, err = src.TransactionAt(meta.BlockHeight, int(meta.Index))
	}
	if err != nil {
		return nil, fmt.Errorf("transaction %s: %w", hash.Hex(), err)
	}
	return s.join(ctx, tx, []byte{}, meta)
}
