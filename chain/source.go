package chain

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"
)

// ErrNotFound is returned when the requested block or transaction does not exist.
// During catch-up a missing block at the claimed height marks the end of the chain.
var ErrNotFound = errors.New("not found")

// Source abstracts a remote full node
type Source interface {
	// BlockByHeight returns the block at height.
	// When fullTxs is false only Block.TxHashes is populated.
	BlockByHeight(ctx context.Context, height uint64, fullTxs bool) (*Block, error)

	// BlockByHash returns the block with the given hash
	BlockByHash(ctx context.Context, hash common.Hash, fullTxs bool) (*Block, error)

	// Transaction returns a transaction by hash
	Transaction(ctx context.Context, hash common.Hash) (*Transaction, error)

	// RawTransaction returns the serialized transaction
	RawTransaction(ctx context.Context, hash common.Hash) ([]byte, error)

	// Mempool returns a snapshot of all unconfirmed transactions
	Mempool(ctx context.Context, fullTxs bool) ([]*Transaction, error)

	// SubscribeBlocks streams new blocks with full transactions
	SubscribeBlocks(ctx context.Context) (BlockStream, error)

	// SubscribeTransactions streams new unconfirmed transactions
	SubscribeTransactions(ctx context.Context, filter TxFilter) (TxStream, error)

	// Close releases the connection
	Close()
}

// BlockStream is a long-lived push subscription of blocks.
// Next returns io.EOF when the stream ends cleanly.
type BlockStream interface {
	Next(ctx context.Context) (*Block, error)
	Close()
}

// TxStream is a long-lived push subscription of unconfirmed transactions.
// Next returns io.EOF when the stream ends cleanly.
type TxStream interface {
	Next(ctx context.Context) (*Transaction, error)
	Close()
}
