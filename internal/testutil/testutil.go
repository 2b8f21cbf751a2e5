package testutil

import (
	"context"
	"math/big"
	"testing"

	"github.com/0xmhha/explorer-indexer/chain"
	"github.com/0xmhha/explorer-indexer/storage"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

// NewTestLogger creates a logger that writes through t.Log
func NewTestLogger(t *testing.T) *zap.Logger {
	t.Helper()
	return zaptest.NewLogger(t, zaptest.Level(zap.WarnLevel))
}

// NewTestStore opens a pebble store in a temporary directory that is closed
// when the test ends
func NewTestStore(t *testing.T) *storage.PebbleStorage {
	t.Helper()
	store, err := storage.NewPebbleStorage(storage.DefaultConfig(t.TempDir()))
	if err != nil {
		t.Fatalf("Failed to open test store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// HashFor derives a stable hash from a height and an index
func HashFor(height uint64, index int) common.Hash {
	var h common.Hash
	new(big.Int).SetUint64(height).FillBytes(h[:16])
	new(big.Int).SetUint64(uint64(index) + 1).FillBytes(h[16:])
	return h
}

// BlockHash derives a stable block hash that never collides with HashFor
func BlockHash(height uint64) common.Hash {
	var h common.Hash
	h[0] = 0xb0
	new(big.Int).SetUint64(height).FillBytes(h[16:])
	return h
}

// NewTestBlock creates a block whose first transaction is the coinbase and
// whose remaining transactions each spend the previous one's output
func NewTestBlock(height uint64, txCount int) *chain.Block {
	block := &chain.Block{
		Height:    height,
		Hash:      BlockHash(height),
		Timestamp: 1700000000 + height,
		Size:      uint64(100 * txCount),
		TxHashes:  make([]common.Hash, 0, txCount),
	}
	if height > 0 {
		block.ParentHash = BlockHash(height - 1)
	}
	for i := 0; i < txCount; i++ {
		tx := &chain.Transaction{
			Hash:       HashFor(height, i),
			IsCoinbase: i == 0,
			Size:       100,
			Outputs:    []chain.Output{{Value: big.NewInt(int64(50 - i)), Recipient: common.BigToAddress(big.NewInt(int64(i + 1)))}},
		}
		if i > 0 {
			tx.Inputs = []chain.Input{{PrevTx: HashFor(height, i-1), PrevIndex: 0}}
		}
		block.TxHashes = append(block.TxHashes, tx.Hash)
		block.Transactions = append(block.Transactions, tx)
	}
	return block
}

// IndexBlocks applies blocks through the store's write path
func IndexBlocks(t *testing.T, store *storage.PebbleStorage, blocks ...*chain.Block) {
	t.Helper()
	for _, b := range blocks {
		batch, err := store.BuildBlockBatch(b)
		if err != nil {
			t.Fatalf("Failed to build batch for block %d: %v", b.Height, err)
		}
		if err := store.ApplyBatch(context.Background(), batch); err != nil {
			t.Fatalf("Failed to apply block %d: %v", b.Height, err)
		}
	}
}
