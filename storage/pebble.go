package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/0xmhha/explorer-indexer/chain"
	"github.com/cockroachdb/pebble"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// PebbleStorage implements Store using PebbleDB
type PebbleStorage struct {
	db     *pebble.DB
	config *Config
	logger *zap.Logger
	closed atomic.Bool

	// writeMu serializes ApplyBatch and ClearMempool and guards the cached height
	writeMu   sync.Mutex
	latest    uint64
	hasLatest bool
}

var _ Store = (*PebbleStorage)(nil)

// NewPebbleStorage creates a new PebbleDB storage
func NewPebbleStorage(cfg *Config) (*PebbleStorage, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	opts := &pebble.Options{
		Cache:        pebble.NewCache(int64(cfg.Cache) << 20), // Convert MB to bytes
		MaxOpenFiles: cfg.MaxOpenFiles,
		MemTableSize: uint64(cfg.WriteBuffer) << 20,
		ReadOnly:     cfg.ReadOnly,
	}

	db, err := pebble.Open(cfg.Path, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &PebbleStorage{
		db:     db,
		config: cfg,
		logger: zap.NewNop(),
	}

	height, err := s.readLatestHeight()
	switch {
	case err == nil:
		s.latest, s.hasLatest = height, true
	case errors.Is(err, ErrNotFound):
	default:
		db.Close()
		return nil, fmt.Errorf("failed to load latest height: %w", err)
	}

	return s, nil
}

// SetLogger sets the logger for the storage
func (s *PebbleStorage) SetLogger(logger *zap.Logger) {
	s.logger = logger
}

// ensureNotClosed checks if storage is closed
func (s *PebbleStorage) ensureNotClosed() error {
	if s.closed.Load() {
		return ErrClosed
	}
	return nil
}

// ensureNotReadOnly checks if storage is read-only
func (s *PebbleStorage) ensureNotReadOnly() error {
	if s.config.ReadOnly {
		return ErrReadOnly
	}
	return nil
}

func (s *PebbleStorage) writeOptions() *pebble.WriteOptions {
	if s.config.Sync {
		return pebble.Sync
	}
	return pebble.NoSync
}

// Close closes the storage and releases resources
func (s *PebbleStorage) Close() error {
	if s.closed.Swap(true) {
		return nil // Already closed
	}

	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *PebbleStorage) readLatestHeight() (uint64, error) {
	value, err := s.get(LatestHeightKey())
	if err != nil {
		return 0, err
	}
	return DecodeUint64(value)
}

// get returns a copy of the value stored at key
func (s *PebbleStorage) get(key []byte) ([]byte, error) {
	value, closer, err := s.db.Get(key)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get %s: %w", key, err)
	}
	defer closer.Close()

	out := make([]byte, len(value))
	copy(out, value)
	return out, nil
}

// scan calls fn for every key in [lower, upper)
func (s *PebbleStorage) scan(lower, upper []byte, fn func(key, value []byte) error) error {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: lower,
		UpperBound: upper,
	})
	if err != nil {
		return fmt.Errorf("failed to create iterator: %w", err)
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		if err := fn(iter.Key(), iter.Value()); err != nil {
			return err
		}
	}
	return iter.Error()
}

// GetLatestHeight returns the latest committed block height
func (s *PebbleStorage) GetLatestHeight(ctx context.Context) (uint64, error) {
	if err := s.ensureNotClosed(); err != nil {
		return 0, err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if !s.hasLatest {
		return 0, ErrNotFound
	}
	return s.latest, nil
}

// GetTxMeta returns confirmed metadata when present, else mempool metadata
func (s *PebbleStorage) GetTxMeta(ctx context.Context, hash common.Hash) (*TxMeta, error) {
	if err := s.ensureNotClosed(); err != nil {
		return nil, err
	}

	data, err := s.get(TxMetaKey(hash))
	if errors.Is(err, ErrNotFound) {
		data, err = s.get(MempoolTxMetaKey(hash))
	}
	if err != nil {
		return nil, err
	}
	return DecodeTxMeta(data)
}

// GetBlockMeta returns block metadata by hash
func (s *PebbleStorage) GetBlockMeta(ctx context.Context, hash common.Hash) (*BlockMeta, error) {
	if err := s.ensureNotClosed(); err != nil {
		return nil, err
	}

	data, err := s.get(BlockMetaKey(hash))
	if err != nil {
		return nil, err
	}
	return DecodeBlockMeta(data)
}

// GetBlockMetaByHeight returns block metadata by height
func (s *PebbleStorage) GetBlockMetaByHeight(ctx context.Context, height uint64) (*BlockMeta, error) {
	if err := s.ensureNotClosed(); err != nil {
		return nil, err
	}

	hash, err := s.get(HeightIndexKey(height))
	if err != nil {
		return nil, err
	}
	return s.GetBlockMeta(ctx, common.BytesToHash(hash))
}

// GetBlockMetas returns block metadata for heights in [start, end]
func (s *PebbleStorage) GetBlockMetas(ctx context.Context, start, end uint64) ([]*BlockMeta, error) {
	if err := s.ensureNotClosed(); err != nil {
		return nil, err
	}
	if end < start {
		return nil, fmt.Errorf("invalid range: start %d > end %d", start, end)
	}

	var hashes []common.Hash
	lower, upper := HeightRange(start, end)
	err := s.scan(lower, upper, func(_, value []byte) error {
		hashes = append(hashes, common.BytesToHash(value))
		return nil
	})
	if err != nil {
		return nil, err
	}

	metas := make([]*BlockMeta, 0, len(hashes))
	for _, hash := range hashes {
		m, err := s.GetBlockMeta(ctx, hash)
		if err != nil {
			return nil, fmt.Errorf("block %s: %w", hash.Hex(), err)
		}
		metas = append(metas, m)
	}
	return metas, nil
}

// GetBlockTransactions returns the transactions of the block at height in block order
func (s *PebbleStorage) GetBlockTransactions(ctx context.Context, height uint64) ([]*TxMeta, error) {
	if err := s.ensureNotClosed(); err != nil {
		return nil, err
	}

	var hashes []common.Hash
	prefix := BlockTxPrefix(height)
	err := s.scan(prefix, PrefixEnd(prefix), func(_, value []byte) error {
		hashes = append(hashes, common.BytesToHash(value))
		return nil
	})
	if err != nil {
		return nil, err
	}

	txs := make([]*TxMeta, 0, len(hashes))
	for _, hash := range hashes {
		data, err := s.get(TxMetaKey(hash))
		if err != nil {
			return nil, fmt.Errorf("tx %s: %w", hash.Hex(), err)
		}
		m, err := DecodeTxMeta(data)
		if err != nil {
			return nil, err
		}
		txs = append(txs, m)
	}
	return txs, nil
}

// GetTokenMeta returns token metadata by token id
func (s *PebbleStorage) GetTokenMeta(ctx context.Context, id common.Hash) (*TokenMeta, error) {
	if err := s.ensureNotClosed(); err != nil {
		return nil, err
	}

	data, err := s.get(TokenKey(id))
	if err != nil {
		return nil, err
	}
	return DecodeTokenMeta(data)
}

// GetSpendInfo returns spends of the outputs of hash. Confirmed spends take
// precedence over mempool spends of the same output.
func (s *PebbleStorage) GetSpendInfo(ctx context.Context, hash common.Hash) (map[uint32]*SpendInfo, error) {
	if err := s.ensureNotClosed(); err != nil {
		return nil, err
	}

	spends := make(map[uint32]*SpendInfo)
	collect := func(overwrite bool) func(key, value []byte) error {
		return func(key, value []byte) error {
			index, err := ParseSpendKey(key)
			if err != nil {
				return err
			}
			if _, ok := spends[index]; ok && !overwrite {
				return nil
			}
			info, err := DecodeSpendInfo(value)
			if err != nil {
				return err
			}
			spends[index] = info
			return nil
		}
	}

	prefix := SpendPrefix(hash)
	if err := s.scan(prefix, PrefixEnd(prefix), collect(true)); err != nil {
		return nil, err
	}
	prefix = MempoolSpendPrefix(hash)
	if err := s.scan(prefix, PrefixEnd(prefix), collect(false)); err != nil {
		return nil, err
	}
	return spends, nil
}

// BuildBlockBatch builds the batch that indexes block
func (s *PebbleStorage) BuildBlockBatch(block *chain.Block) (*Batch, error) {
	return BuildBlockBatch(block)
}

// BuildMempoolBatch builds the batch that indexes unconfirmed txs
func (s *PebbleStorage) BuildMempoolBatch(txs []*chain.Transaction) (*Batch, error) {
	return BuildMempoolBatch(txs)
}

// BuildMempoolSnapshot builds the batch that replaces the indexed mempool
func (s *PebbleStorage) BuildMempoolSnapshot(txs []*chain.Transaction) (*Batch, error) {
	return BuildMempoolSnapshot(txs)
}

// ApplyBatch applies b atomically. A block batch must extend the latest
// height by exactly one, unless nothing is committed yet, and advances the
// latest height in the same write.
func (s *PebbleStorage) ApplyBatch(ctx context.Context, b *Batch) error {
	if err := s.ensureNotClosed(); err != nil {
		return err
	}
	if err := s.ensureNotReadOnly(); err != nil {
		return err
	}
	if b == nil {
		return fmt.Errorf("batch cannot be nil")
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if b.isBlock && s.hasLatest && b.height != s.latest+1 {
		return fmt.Errorf("block %d after latest %d: %w", b.height, s.latest, ErrOutOfOrder)
	}

	pb := s.db.NewBatch()
	defer pb.Close()

	if b.replaces {
		start, end := MempoolRange()
		if err := pb.DeleteRange(start, end, nil); err != nil {
			return fmt.Errorf("failed to clear mempool: %w", err)
		}
	}

	for _, p := range b.puts {
		if err := pb.Set(p.key, p.value, nil); err != nil {
			return fmt.Errorf("failed to set %s: %w", p.key, err)
		}
	}

	for _, delta := range b.tokens {
		merged := &TokenMeta{}
		data, err := s.get(TokenKey(delta.TokenID))
		switch {
		case err == nil:
			if merged, err = DecodeTokenMeta(data); err != nil {
				return err
			}
		case !errors.Is(err, ErrNotFound):
			return err
		}
		merged.Merge(delta)

		value, err := EncodeTokenMeta(merged)
		if err != nil {
			return err
		}
		if err := pb.Set(TokenKey(delta.TokenID), value, nil); err != nil {
			return fmt.Errorf("failed to set token %s: %w", delta.TokenID.Hex(), err)
		}
	}

	if b.isBlock {
		if err := pb.Set(LatestHeightKey(), EncodeUint64(b.height), nil); err != nil {
			return fmt.Errorf("failed to set latest height: %w", err)
		}
	}

	if err := pb.Commit(s.writeOptions()); err != nil {
		return fmt.Errorf("failed to commit batch: %w", err)
	}

	if b.isBlock {
		s.latest, s.hasLatest = b.height, true
	}
	return nil
}

// ClearMempool removes every mempool entry
func (s *PebbleStorage) ClearMempool(ctx context.Context) error {
	if err := s.ensureNotClosed(); err != nil {
		return err
	}
	if err := s.ensureNotReadOnly(); err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	start, end := MempoolRange()
	if err := s.db.DeleteRange(start, end, s.writeOptions()); err != nil {
		return fmt.Errorf("failed to clear mempool: %w", err)
	}
	return nil
}

// Flush makes every applied batch durable
func (s *PebbleStorage) Flush() error {
	if err := s.ensureNotClosed(); err != nil {
		return err
	}
	if s.config.ReadOnly {
		return nil
	}

	if err := s.db.Flush(); err != nil {
		return fmt.Errorf("failed to flush: %w", err)
	}
	return nil
}
