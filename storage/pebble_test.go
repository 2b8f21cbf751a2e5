package storage

import (
	"context"
	"math/big"
	"testing"

	"github.com/0xmhha/explorer-indexer/chain"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestStorage creates a temporary PebbleDB storage for testing
func setupTestStorage(t *testing.T) *PebbleStorage {
	t.Helper()

	s, err := NewPebbleStorage(DefaultConfig(t.TempDir()))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testHash(parts ...byte) common.Hash {
	var h common.Hash
	copy(h[:], parts)
	h[31] = 0xff
	return h
}

// createTestBlock builds a block whose tx i spends output 0 of tx i of the previous height
func createTestBlock(height uint64, numTxs int) *chain.Block {
	b := &chain.Block{
		Height:     height,
		Hash:       testHash(byte(height), 0xb0),
		ParentHash: testHash(byte(height-1), 0xb0),
		Timestamp:  1700000000 + height,
		Size:       1000,
	}
	for i := 0; i < numTxs; i++ {
		tx := &chain.Transaction{
			Hash:       testHash(byte(height), byte(i), 0x70),
			Size:       200,
			IsCoinbase: i == 0,
			Outputs: []chain.Output{
				{Value: big.NewInt(50), Recipient: common.HexToAddress("0x01")},
				{Value: big.NewInt(25), Recipient: common.HexToAddress("0x02")},
			},
		}
		if i > 0 {
			tx.Inputs = []chain.Input{{PrevTx: testHash(byte(height-1), byte(i), 0x70), PrevIndex: 0}}
		}
		b.TxHashes = append(b.TxHashes, tx.Hash)
		b.Transactions = append(b.Transactions, tx)
	}
	return b
}

func applyBlock(t *testing.T, s *PebbleStorage, block *chain.Block) {
	t.Helper()
	batch, err := s.BuildBlockBatch(block)
	require.NoError(t, err)
	require.NoError(t, s.ApplyBatch(context.Background(), batch))
}

func TestPebbleStorage_EmptyLatestHeight(t *testing.T) {
	s := setupTestStorage(t)
	_, err := s.GetLatestHeight(context.Background())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPebbleStorage_ApplyBlockBatch(t *testing.T) {
	s := setupTestStorage(t)
	ctx := context.Background()

	block := createTestBlock(5, 3)
	applyBlock(t, s, block)

	height, err := s.GetLatestHeight(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), height)

	meta, err := s.GetBlockMetaByHeight(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, block.Hash, meta.Hash)
	assert.Equal(t, uint64(3), meta.NumTxs)

	txs, err := s.GetBlockTransactions(ctx, 5)
	require.NoError(t, err)
	require.Len(t, txs, 3)
	for i, tx := range txs {
		assert.Equal(t, block.Transactions[i].Hash, tx.Hash)
		assert.Equal(t, uint32(i), tx.Index)
		assert.Equal(t, uint64(5), tx.BlockHeight)
		assert.False(t, tx.IsMempool)
	}
	assert.True(t, txs[0].IsCoinbase)

	tx, err := s.GetTxMeta(ctx, block.Transactions[2].Hash)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), tx.NumInputs)
	assert.Equal(t, uint32(2), tx.NumOutputs)
	assert.Equal(t, block.Hash, tx.BlockHash)
}

func TestPebbleStorage_ApplyOutOfOrder(t *testing.T) {
	s := setupTestStorage(t)
	ctx := context.Background()

	applyBlock(t, s, createTestBlock(0, 1))

	batch, err := s.BuildBlockBatch(createTestBlock(2, 1))
	require.NoError(t, err)
	assert.ErrorIs(t, s.ApplyBatch(ctx, batch), ErrOutOfOrder)

	batch, err = s.BuildBlockBatch(createTestBlock(0, 1))
	require.NoError(t, err)
	assert.ErrorIs(t, s.ApplyBatch(ctx, batch), ErrOutOfOrder)

	height, err := s.GetLatestHeight(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), height)

	_, err = s.GetBlockMetaByHeight(ctx, 2)
	assert.ErrorIs(t, err, ErrNotFound, "rejected batch must leave no trace")
}

func TestPebbleStorage_BuildBlockBatchRequiresBodies(t *testing.T) {
	block := createTestBlock(1, 2)
	block.Transactions = nil
	_, err := BuildBlockBatch(block)
	assert.ErrorIs(t, err, ErrInvalidData)

	empty := &chain.Block{Height: 3, Hash: testHash(3)}
	batch, err := BuildBlockBatch(empty)
	require.NoError(t, err)
	h, ok := batch.Height()
	assert.True(t, ok)
	assert.Equal(t, uint64(3), h)
	assert.Equal(t, 0, batch.NumTxs())
}

func TestPebbleStorage_SpendInfo(t *testing.T) {
	s := setupTestStorage(t)
	ctx := context.Background()

	prev := createTestBlock(1, 3)
	next := createTestBlock(2, 3)
	applyBlock(t, s, prev)
	applyBlock(t, s, next)

	spends, err := s.GetSpendInfo(ctx, prev.Transactions[1].Hash)
	require.NoError(t, err)
	require.Contains(t, spends, uint32(0))
	assert.Equal(t, next.Transactions[1].Hash, spends[0].SpentBy)
	assert.Equal(t, uint64(2), spends[0].Height)
	assert.False(t, spends[0].IsMempool)

	// coinbase inputs are not recorded
	spends, err = s.GetSpendInfo(ctx, prev.Transactions[0].Hash)
	require.NoError(t, err)
	assert.Empty(t, spends)
}

func TestPebbleStorage_Mempool(t *testing.T) {
	s := setupTestStorage(t)
	ctx := context.Background()

	block := createTestBlock(1, 2)
	applyBlock(t, s, block)

	pending := &chain.Transaction{
		Hash:    testHash(0xee),
		Inputs:  []chain.Input{{PrevTx: block.Transactions[1].Hash, PrevIndex: 1}},
		Outputs: []chain.Output{{Value: big.NewInt(1)}},
	}
	batch, err := s.BuildMempoolBatch([]*chain.Transaction{pending})
	require.NoError(t, err)
	assert.False(t, batch.IsBlock())
	require.NoError(t, s.ApplyBatch(ctx, batch))

	// applying the same snapshot twice is idempotent
	require.NoError(t, s.ApplyBatch(ctx, batch))

	tx, err := s.GetTxMeta(ctx, pending.Hash)
	require.NoError(t, err)
	assert.True(t, tx.IsMempool)

	spends, err := s.GetSpendInfo(ctx, block.Transactions[1].Hash)
	require.NoError(t, err)
	require.Contains(t, spends, uint32(1))
	assert.True(t, spends[1].IsMempool)

	height, err := s.GetLatestHeight(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), height, "mempool batches do not move the height")

	require.NoError(t, s.ClearMempool(ctx))
	_, err = s.GetTxMeta(ctx, pending.Hash)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.GetTxMeta(ctx, block.Transactions[1].Hash)
	assert.NoError(t, err, "confirmed data survives a mempool clear")
}

func TestPebbleStorage_MempoolSnapshot(t *testing.T) {
	s := setupTestStorage(t)
	ctx := context.Background()

	block := createTestBlock(1, 2)
	applyBlock(t, s, block)

	first := &chain.Transaction{
		Hash:    testHash(0xe1),
		Inputs:  []chain.Input{{PrevTx: block.Transactions[1].Hash, PrevIndex: 0}},
		Outputs: []chain.Output{{Value: big.NewInt(1)}},
	}
	second := &chain.Transaction{
		Hash:    testHash(0xe2),
		Inputs:  []chain.Input{{PrevTx: block.Transactions[1].Hash, PrevIndex: 1}},
		Outputs: []chain.Output{{Value: big.NewInt(1)}},
	}

	single, err := s.BuildMempoolBatch([]*chain.Transaction{first})
	require.NoError(t, err)
	assert.False(t, single.ReplacesMempool())
	require.NoError(t, s.ApplyBatch(ctx, single))

	snapshot, err := s.BuildMempoolSnapshot([]*chain.Transaction{second})
	require.NoError(t, err)
	assert.True(t, snapshot.ReplacesMempool())
	assert.False(t, snapshot.IsBlock())
	require.NoError(t, s.ApplyBatch(ctx, snapshot))

	_, err = s.GetTxMeta(ctx, first.Hash)
	assert.ErrorIs(t, err, ErrNotFound)

	meta, err := s.GetTxMeta(ctx, second.Hash)
	require.NoError(t, err)
	assert.True(t, meta.IsMempool)

	spends, err := s.GetSpendInfo(ctx, block.Transactions[1].Hash)
	require.NoError(t, err)
	assert.NotContains(t, spends, uint32(0))
	require.Contains(t, spends, uint32(1))
	assert.Equal(t, second.Hash, spends[1].SpentBy)

	_, err = s.GetTxMeta(ctx, block.Transactions[1].Hash)
	assert.NoError(t, err, "confirmed data survives a snapshot")

	empty, err := s.BuildMempoolSnapshot(nil)
	require.NoError(t, err)
	require.NoError(t, s.ApplyBatch(ctx, empty))
	_, err = s.GetTxMeta(ctx, second.Hash)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPebbleStorage_TokenMerge(t *testing.T) {
	s := setupTestStorage(t)
	ctx := context.Background()
	token := testHash(0xaa)

	for h := uint64(0); h < 3; h++ {
		block := createTestBlock(h, 3)
		if h != 1 {
			for _, tx := range block.Transactions[1:] {
				tx.Token = &chain.TokenTransfer{TokenID: token, Amount: big.NewInt(int64(10 + h))}
			}
		}
		applyBlock(t, s, block)
	}

	meta, err := s.GetTokenMeta(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), meta.FirstSeenHeight)
	assert.Equal(t, uint64(2), meta.LastSeenHeight)
	assert.Equal(t, uint64(4), meta.TransferCount)
	assert.Equal(t, createTestBlock(2, 3).Transactions[2].Hash, meta.LastTx)

	tx, err := s.GetTxMeta(ctx, createTestBlock(2, 3).Transactions[1].Hash)
	require.NoError(t, err)
	assert.True(t, tx.HasToken)
	assert.Equal(t, int64(12), tx.TokenAmount.Int64())
}

func TestPebbleStorage_GetBlockMetas(t *testing.T) {
	s := setupTestStorage(t)
	ctx := context.Background()

	for h := uint64(10); h < 15; h++ {
		applyBlock(t, s, createTestBlock(h, 1))
	}

	metas, err := s.GetBlockMetas(ctx, 8, 12)
	require.NoError(t, err)
	require.Len(t, metas, 3)
	for i, m := range metas {
		assert.Equal(t, uint64(10+i), m.Height)
	}

	_, err = s.GetBlockMetas(ctx, 5, 4)
	assert.Error(t, err)
}

func TestPebbleStorage_ReopenKeepsHeight(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig(dir)
	s, err := NewPebbleStorage(cfg)
	require.NoError(t, err)

	applyBlock(t, s, createTestBlock(7, 1))
	require.NoError(t, s.Flush())
	require.NoError(t, s.Close())

	s, err = NewPebbleStorage(cfg)
	require.NoError(t, err)
	defer s.Close()

	height, err := s.GetLatestHeight(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(7), height)
}

func TestPebbleStorage_Closed(t *testing.T) {
	s := setupTestStorage(t)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close(), "double close is a no-op")

	_, err := s.GetLatestHeight(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, s.Flush(), ErrClosed)
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultConfig("/tmp/x").Validate())
	assert.Error(t, (&Config{}).Validate())
	assert.Error(t, (&Config{Path: "x", Cache: -1}).Validate())
}
