package client

import (
	"bytes"
	"math/big"

	"github.com/0xmhha/explorer-indexer/chain"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// transferSelector is the 4-byte selector of transfer(address,uint256)
var transferSelector = []byte{0xa9, 0x05, 0x9c, 0xbb}

// transferCallLen is selector + two 32-byte words
const transferCallLen = 4 + 32 + 32

// convertBlock maps an EVM block onto the chain model
func convertBlock(block *types.Block) (*chain.Block, error) {
	b := &chain.Block{
		Height:     block.NumberU64(),
		Hash:       block.Hash(),
		ParentHash: block.ParentHash(),
		Timestamp:  block.Time(),
		Size:       block.Size(),
	}

	txs := block.Transactions()
	b.TxHashes = make([]common.Hash, 0, len(txs))
	b.Transactions = make([]*chain.Transaction, 0, len(txs))
	for _, tx := range txs {
		converted, err := convertTransaction(tx)
		if err != nil {
			return nil, err
		}
		b.TxHashes = append(b.TxHashes, tx.Hash())
		b.Transactions = append(b.Transactions, converted)
	}
	return b, nil
}

// convertTransaction maps an EVM transaction onto the chain model.
// Account-based transactions carry no inputs and a single output paying To.
func convertTransaction(tx *types.Transaction) (*chain.Transaction, error) {
	raw, err := tx.MarshalBinary()
	if err != nil {
		return nil, err
	}

	out := chain.Output{Value: new(big.Int)}
	if tx.Value() != nil {
		out.Value.Set(tx.Value())
	}
	if to := tx.To(); to != nil {
		out.Recipient = *to
	}

	return &chain.Transaction{
		Hash:    tx.Hash(),
		Size:    tx.Size(),
		Outputs: []chain.Output{out},
		Token:   decodeTokenTransfer(tx.To(), tx.Data()),
		Raw:     raw,
	}, nil
}

// decodeTokenTransfer decodes ERC-20 transfer calldata. The token id is the
// contract address left-padded to 32 bytes.
func decodeTokenTransfer(contract *common.Address, data []byte) *chain.TokenTransfer {
	if contract == nil || len(data) != transferCallLen || !bytes.Equal(data[:4], transferSelector) {
		return nil
	}
	return &chain.TokenTransfer{
		TokenID:   common.BytesToHash(contract.Bytes()),
		Recipient: common.BytesToAddress(data[16:36]),
		Amount:    new(big.Int).SetBytes(data[36:68]),
	}
}
