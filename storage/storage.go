package storage

import (
	"context"
	"errors"

	"github.com/0xmhha/explorer-indexer/chain"
	"github.com/ethereum/go-ethereum/common"
)

// Common errors
var (
	// ErrNotFound is returned when a key is not found
	ErrNotFound = errors.New("not found")

	// ErrInvalidData is returned when data cannot be decoded or a block cannot be indexed
	ErrInvalidData = errors.New("invalid data")

	// ErrClosed is returned when operating on a closed storage
	ErrClosed = errors.New("storage closed")

	// ErrReadOnly is returned when attempting to write to a read-only storage
	ErrReadOnly = errors.New("storage is read-only")

	// ErrOutOfOrder is returned when a block batch does not extend the committed height by one
	ErrOutOfOrder = errors.New("block batch out of order")
)

// Reader provides read-only access to the index
type Reader interface {
	// GetLatestHeight returns the latest committed block height
	GetLatestHeight(ctx context.Context) (uint64, error)

	// GetTxMeta returns the metadata of a confirmed or mempool transaction
	GetTxMeta(ctx context.Context, hash common.Hash) (*TxMeta, error)

	// GetBlockMeta returns block metadata by hash
	GetBlockMeta(ctx context.Context, hash common.Hash) (*BlockMeta, error)

	// GetBlockMetaByHeight returns block metadata by height
	GetBlockMetaByHeight(ctx context.Context, height uint64) (*BlockMeta, error)

	// GetBlockMetas returns block metadata for heights in [start, end]; missing heights are skipped
	GetBlockMetas(ctx context.Context, start, end uint64) ([]*BlockMeta, error)

	// GetBlockTransactions returns the transactions of the block at height in block order
	GetBlockTransactions(ctx context.Context, height uint64) ([]*TxMeta, error)

	// GetTokenMeta returns token metadata by token id
	GetTokenMeta(ctx context.Context, id common.Hash) (*TokenMeta, error)

	// GetSpendInfo returns how each spent output of a transaction was spent, keyed by output index
	GetSpendInfo(ctx context.Context, hash common.Hash) (map[uint32]*SpendInfo, error)
}

// BatchBuilder turns fetched chain data into batches. Implementations must not
// read committed state, so batches can be built concurrently and out of order.
type BatchBuilder interface {
	// BuildBlockBatch builds the batch that indexes block
	BuildBlockBatch(block *chain.Block) (*Batch, error)

	// BuildMempoolBatch builds the batch that indexes unconfirmed txs
	BuildMempoolBatch(txs []*chain.Transaction) (*Batch, error)

	// BuildMempoolSnapshot builds a mempool batch that replaces the indexed mempool
	BuildMempoolSnapshot(txs []*chain.Transaction) (*Batch, error)
}

// Writer applies batches to the index
type Writer interface {
	// ApplyBatch applies all mutations of b atomically
	ApplyBatch(ctx context.Context, b *Batch) error

	// ClearMempool removes every mempool entry
	ClearMempool(ctx context.Context) error

	// Flush persists in-memory state
	Flush() error
}

// Store combines Reader, BatchBuilder and Writer
type Store interface {
	Reader
	BatchBuilder
	Writer

	// Close closes the storage and releases resources
	Close() error
}

// Config holds storage configuration
type Config struct {
	// Path to the database directory
	Path string

	// Cache size in MB (default: 128)
	Cache int

	// MaxOpenFiles is the maximum number of open files (default: 1000)
	MaxOpenFiles int

	// WriteBuffer size in MB (default: 64)
	WriteBuffer int

	// ReadOnly opens the database in read-only mode
	ReadOnly bool

	// Sync fsyncs every applied batch. Without it batches are still atomic
	// and visible immediately, and become durable on Flush.
	Sync bool
}

// DefaultConfig returns a default configuration
func DefaultConfig(path string) *Config {
	return &Config{
		Path:         path,
		Cache:        128,
		MaxOpenFiles: 1000,
		WriteBuffer:  64,
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Path == "" {
		return errors.New("path cannot be empty")
	}
	if c.Cache < 0 {
		return errors.New("cache size cannot be negative")
	}
	if c.MaxOpenFiles < 0 {
		return errors.New("max open files cannot be negative")
	}
	if c.WriteBuffer < 0 {
		return errors.New("write buffer size cannot be negative")
	}
	return nil
}
