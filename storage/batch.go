package storage

import (
	"fmt"
	"math/big"

	"github.com/0xmhha/explorer-indexer/chain"
	"github.com/ethereum/go-ethereum/common"
)

type kv struct {
	key   []byte
	value []byte
}

// Batch is a set of index mutations applied atomically by ApplyBatch.
// Token metadata is carried as deltas and merged with stored state on apply.
type Batch struct {
	height  uint64
	isBlock bool
	numTxs  int
	puts    []kv
	tokens  []*TokenMeta

	// replaces drops every mempool entry before the puts, in the same write
	replaces bool
}

// Height returns the block height of a block batch
func (b *Batch) Height() (uint64, bool) {
	return b.height, b.isBlock
}

// IsBlock reports whether b indexes a block
func (b *Batch) IsBlock() bool {
	return b.isBlock
}

// Len returns the number of key writes in the batch
func (b *Batch) Len() int {
	return len(b.puts)
}

// ReplacesMempool reports whether applying b first clears the indexed mempool
func (b *Batch) ReplacesMempool() bool {
	return b.replaces
}

// NumTxs returns the number of transactions indexed by the batch
func (b *Batch) NumTxs() int {
	return b.numTxs
}

func (b *Batch) put(key []byte, value []byte) {
	b.puts = append(b.puts, kv{key: key, value: value})
}

// BuildBlockBatch builds the batch that indexes block. It only reads the block.
func BuildBlockBatch(block *chain.Block) (*Batch, error) {
	if block == nil {
		return nil, fmt.Errorf("block cannot be nil")
	}
	if len(block.Transactions) == 0 && len(block.TxHashes) > 0 {
		return nil, fmt.Errorf("block %d has no transaction bodies: %w", block.Height, ErrInvalidData)
	}

	b := &Batch{
		height:  block.Height,
		isBlock: true,
		numTxs:  len(block.Transactions),
	}

	meta, err := EncodeBlockMeta(&BlockMeta{
		Height:     block.Height,
		Hash:       block.Hash,
		ParentHash: block.ParentHash,
		Timestamp:  block.Timestamp,
		Size:       block.Size,
		NumTxs:     uint64(len(block.Transactions)),
	})
	if err != nil {
		return nil, err
	}
	b.put(BlockMetaKey(block.Hash), meta)
	b.put(HeightIndexKey(block.Height), block.Hash.Bytes())

	tokens := make(map[common.Hash]*TokenMeta)
	for i, tx := range block.Transactions {
		if tx == nil {
			return nil, fmt.Errorf("block %d tx %d is nil: %w", block.Height, i, ErrInvalidData)
		}
		index := uint32(i)
		if err := b.addTx(tx, block.Height, block.Hash, index, false); err != nil {
			return nil, err
		}
		b.put(BlockTxIndexKey(block.Height, index), tx.Hash.Bytes())

		if tx.Token != nil {
			delta := &TokenMeta{
				TokenID:         tx.Token.TokenID,
				FirstSeenHeight: block.Height,
				LastSeenHeight:  block.Height,
				LastTx:          tx.Hash,
				TransferCount:   1,
			}
			if m, ok := tokens[tx.Token.TokenID]; ok {
				m.Merge(delta)
			} else {
				tokens[tx.Token.TokenID] = delta
				b.tokens = append(b.tokens, delta)
			}
		}
	}

	return b, nil
}

// BuildMempoolBatch builds the batch that indexes unconfirmed txs
func BuildMempoolBatch(txs []*chain.Transaction) (*Batch, error) {
	b := &Batch{numTxs: len(txs)}
	for i, tx := range txs {
		if tx == nil {
			return nil, fmt.Errorf("mempool tx %d is nil: %w", i, ErrInvalidData)
		}
		if err := b.addTx(tx, 0, common.Hash{}, 0, true); err != nil {
			return nil, err
		}
	}
	return b, nil
}

// BuildMempoolSnapshot builds a mempool batch that replaces the whole
// indexed mempool with txs when applied
func BuildMempoolSnapshot(txs []*chain.Transaction) (*Batch, error) {
	b, err := BuildMempoolBatch(txs)
	if err != nil {
		return nil, err
	}
	b.replaces = true
	return b, nil
}

func (b *Batch) addTx(tx *chain.Transaction, height uint64, blockHash common.Hash, index uint32, mempool bool) error {
	meta := &TxMeta{
		Hash:        tx.Hash,
		BlockHeight: height,
		BlockHash:   blockHash,
		Index:       index,
		IsMempool:   mempool,
		IsCoinbase:  tx.IsCoinbase,
		Size:        tx.Size,
		NumInputs:   uint32(len(tx.Inputs)),
		NumOutputs:  uint32(len(tx.Outputs)),
		TokenAmount: new(big.Int),
	}
	if tx.Token != nil {
		meta.HasToken = true
		meta.TokenID = tx.Token.TokenID
		if tx.Token.Amount != nil {
			meta.TokenAmount = new(big.Int).Set(tx.Token.Amount)
		}
	}

	data, err := EncodeTxMeta(meta)
	if err != nil {
		return err
	}
	if mempool {
		b.put(MempoolTxMetaKey(tx.Hash), data)
	} else {
		b.put(TxMetaKey(tx.Hash), data)
	}

	if tx.IsCoinbase {
		return nil
	}
	for i, in := range tx.Inputs {
		spend, err := EncodeSpendInfo(&SpendInfo{
			SpentBy:    tx.Hash,
			InputIndex: uint32(i),
			Height:     height,
			IsMempool:  mempool,
		})
		if err != nil {
			return err
		}
		if mempool {
			b.put(MempoolSpendKey(in.PrevTx, in.PrevIndex), spend)
		} else {
			b.put(SpendKey(in.PrevTx, in.PrevIndex), spend)
		}
	}
	return nil
}
