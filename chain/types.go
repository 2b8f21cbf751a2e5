package chain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Block is a fetched block in the shape the index consumes.
// Transactions is nil when the block was requested without full transactions;
// TxHashes is always populated.
type Block struct {
	Height       uint64
	Hash         common.Hash
	ParentHash   common.Hash
	Timestamp    uint64
	Size         uint64
	TxHashes     []common.Hash
	Transactions []*Transaction
}

// NumTxs returns the number of transactions in the block
func (b *Block) NumTxs() int {
	if len(b.Transactions) > 0 {
		return len(b.Transactions)
	}
	return len(b.TxHashes)
}

// Transaction is a chain transaction, confirmed or unconfirmed
type Transaction struct {
	Hash       common.Hash
	Size       uint64
	IsCoinbase bool
	Inputs     []Input
	Outputs    []Output

	// Token is set when the transaction moves a token
	Token *TokenTransfer

	// Raw is the serialized transaction, when the source provides it
	Raw []byte
}

// Input references the output it spends
type Input struct {
	PrevTx    common.Hash
	PrevIndex uint32
}

// Output is a value credited to a recipient
type Output struct {
	Value     *big.Int
	Recipient common.Address
}

// TokenTransfer describes a token movement carried by a transaction
type TokenTransfer struct {
	TokenID   common.Hash
	Recipient common.Address
	Amount    *big.Int
}

// TxFilter selects which unconfirmed transactions a subscription delivers
type TxFilter struct {
	// AllTransactions delivers every transaction and ignores Recipients
	AllTransactions bool

	// Recipients restricts delivery to transactions paying one of these addresses
	Recipients []common.Address
}

// Match reports whether tx passes the filter
func (f TxFilter) Match(tx *Transaction) bool {
	if f.AllTransactions || len(f.Recipients) == 0 {
		return true
	}
	for _, out := range tx.Outputs {
		for _, r := range f.Recipients {
			if out.Recipient == r {
				return true
			}
		}
	}
	if tx.Token != nil {
		for _, r := range f.Recipients {
			if tx.Token.Recipient == r {
				return true
			}
		}
	}
	return false
}
