package storage

import (
	"bytes"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"
)

// BlockMeta is the indexed summary of a block
type BlockMeta struct {
	Height     uint64
	Hash       common.Hash
	ParentHash common.Hash
	Timestamp  uint64
	Size       uint64
	NumTxs     uint64
}

// TxMeta is the indexed summary of a transaction
type TxMeta struct {
	Hash        common.Hash
	BlockHeight uint64
	BlockHash   common.Hash
	Index       uint32
	IsMempool   bool
	IsCoinbase  bool
	Size        uint64
	NumInputs   uint32
	NumOutputs  uint32
	HasToken    bool
	TokenID     common.Hash
	TokenAmount *big.Int
}

// TokenMeta aggregates the confirmed transfers of a token
type TokenMeta struct {
	TokenID         common.Hash
	FirstSeenHeight uint64
	LastSeenHeight  uint64
	LastTx          common.Hash
	TransferCount   uint64
}

// SpendInfo records the input that spent an output
type SpendInfo struct {
	SpentBy    common.Hash
	InputIndex uint32
	Height     uint64
	IsMempool  bool
}

func encode(kind string, v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := rlp.Encode(&buf, v); err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", kind, err)
	}
	return buf.Bytes(), nil
}

func decode(kind string, data []byte, v interface{}) error {
	if len(data) == 0 {
		return fmt.Errorf("data cannot be empty")
	}
	if err := rlp.DecodeBytes(data, v); err != nil {
		return fmt.Errorf("failed to decode %s: %w: %v", kind, ErrInvalidData, err)
	}
	return nil
}

// EncodeBlockMeta encodes block metadata using RLP
func EncodeBlockMeta(m *BlockMeta) ([]byte, error) {
	if m == nil {
		return nil, fmt.Errorf("block meta cannot be nil")
	}
	return encode("block meta", m)
}

// DecodeBlockMeta decodes block metadata from RLP
func DecodeBlockMeta(data []byte) (*BlockMeta, error) {
	var m BlockMeta
	if err := decode("block meta", data, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// EncodeTxMeta encodes transaction metadata using RLP
func EncodeTxMeta(m *TxMeta) ([]byte, error) {
	if m == nil {
		return nil, fmt.Errorf("tx meta cannot be nil")
	}
	if m.TokenAmount == nil {
		m.TokenAmount = new(big.Int)
	}
	return encode("tx meta", m)
}

// DecodeTxMeta decodes transaction metadata from RLP
func DecodeTxMeta(data []byte) (*TxMeta, error) {
	var m TxMeta
	if err := decode("tx meta", data, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// EncodeTokenMeta encodes token metadata using RLP
func EncodeTokenMeta(m *TokenMeta) ([]byte, error) {
	if m == nil {
		return nil, fmt.Errorf("token meta cannot be nil")
	}
	return encode("token meta", m)
}

// DecodeTokenMeta decodes token metadata from RLP
func DecodeTokenMeta(data []byte) (*TokenMeta, error) {
	var m TokenMeta
	if err := decode("token meta", data, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// EncodeSpendInfo encodes spend information using RLP
func EncodeSpendInfo(s *SpendInfo) ([]byte, error) {
	if s == nil {
		return nil, fmt.Errorf("spend info cannot be nil")
	}
	return encode("spend info", s)
}

// DecodeSpendInfo decodes spend information from RLP
func DecodeSpendInfo(data []byte) (*SpendInfo, error) {
	var s SpendInfo
	if err := decode("spend info", data, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// Merge folds a later observation of the same token into m
func (m *TokenMeta) Merge(o *TokenMeta) {
	if m.TransferCount == 0 {
		*m = *o
		return
	}
	if o.FirstSeenHeight < m.FirstSeenHeight {
		m.FirstSeenHeight = o.FirstSeenHeight
	}
	if o.LastSeenHeight >= m.LastSeenHeight {
		m.LastSeenHeight = o.LastSeenHeight
		m.LastTx = o.LastTx
	}
	m.TransferCount += o.TransferCount
}
