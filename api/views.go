package api

import (
	"sort"

	"github.com/0xmhha/explorer-indexer/indexer"
	"github.com/0xmhha/explorer-indexer/storage"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// ErrorResponse is the body of every non-2xx response
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// VersionResponse represents the version response
type VersionResponse struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// StatusResponse reports the committed height; LatestHeight is null before
// the first block is indexed
type StatusResponse struct {
	LatestHeight *uint64 `json:"latest_height"`
	Indexed      bool    `json:"indexed"`
}

// BlockView is the JSON form of a block record
type BlockView struct {
	Height     uint64      `json:"height"`
	Hash       common.Hash `json:"hash"`
	ParentHash common.Hash `json:"parent_hash"`
	Timestamp  uint64      `json:"timestamp"`
	Size       uint64      `json:"size"`
	NumTxs     uint64      `json:"num_txs"`
}

func newBlockView(m *storage.BlockMeta) BlockView {
	return BlockView{
		Height:     m.Height,
		Hash:       m.Hash,
		ParentHash: m.ParentHash,
		Timestamp:  m.Timestamp,
		Size:       m.Size,
		NumTxs:     m.NumTxs,
	}
}

// TxMetaView is the JSON form of a transaction record
type TxMetaView struct {
	Hash        common.Hash  `json:"hash"`
	BlockHeight *uint64      `json:"block_height"`
	BlockHash   *common.Hash `json:"block_hash"`
	Index       uint32       `json:"index"`
	IsMempool   bool         `json:"is_mempool"`
	IsCoinbase  bool         `json:"is_coinbase"`
	Size        uint64       `json:"size"`
	NumInputs   uint32       `json:"num_inputs"`
	NumOutputs  uint32       `json:"num_outputs"`
	TokenID     *common.Hash `json:"token_id,omitempty"`
	TokenAmount string       `json:"token_amount,omitempty"`
}

func newTxMetaView(m *storage.TxMeta) TxMetaView {
	v := TxMetaView{
		Hash:       m.Hash,
		Index:      m.Index,
		IsMempool:  m.IsMempool,
		IsCoinbase: m.IsCoinbase,
		Size:       m.Size,
		NumInputs:  m.NumInputs,
		NumOutputs: m.NumOutputs,
	}
	if !m.IsMempool {
		height, hash := m.BlockHeight, m.BlockHash
		v.BlockHeight, v.BlockHash = &height, &hash
	}
	if m.HasToken {
		id := m.TokenID
		v.TokenID = &id
		if m.TokenAmount != nil {
			v.TokenAmount = m.TokenAmount.String()
		}
	}
	return v
}

// OutputView is one transaction output
type OutputView struct {
	Value     string         `json:"value"`
	Recipient common.Address `json:"recipient"`
}

// InputView is one transaction input
type InputView struct {
	PrevTx    common.Hash `json:"prev_tx"`
	PrevIndex uint32      `json:"prev_index"`
}

// SpendView is the input spending an output
type SpendView struct {
	OutputIndex uint32      `json:"output_index"`
	SpentBy     common.Hash `json:"spent_by"`
	InputIndex  uint32      `json:"input_index"`
	Height      *uint64     `json:"height"`
	IsMempool   bool        `json:"is_mempool"`
}

// TokenView is the JSON form of a token record
type TokenView struct {
	TokenID         common.Hash `json:"token_id"`
	FirstSeenHeight uint64      `json:"first_seen_height"`
	LastSeenHeight  uint64      `json:"last_seen_height"`
	LastTx          common.Hash `json:"last_tx"`
	TransferCount   uint64      `json:"transfer_count"`
}

// TransactionView is a transaction joined with its index records
type TransactionView struct {
	Hash    common.Hash   `json:"hash"`
	Raw     hexutil.Bytes `json:"raw"`
	Inputs  []InputView   `json:"inputs"`
	Outputs []OutputView  `json:"outputs"`
	Meta    TxMetaView    `json:"meta"`
	Token   *TokenView    `json:"token,omitempty"`
	Spends  []SpendView   `json:"spends"`
}

func newTransactionView(d *indexer.TxDetail) TransactionView {
	tx := d.Transaction
	v := TransactionView{
		Hash:    tx.Hash,
		Raw:     d.Raw,
		Inputs:  make([]InputView, len(tx.Inputs)),
		Outputs: make([]OutputView, len(tx.Outputs)),
		Meta:    newTxMetaView(d.Meta),
		Spends:  make([]SpendView, 0, len(d.Spends)),
	}
	for i, in := range tx.Inputs {
		v.Inputs[i] = InputView{PrevTx: in.PrevTx, PrevIndex: in.PrevIndex}
	}
	for i, out := range tx.Outputs {
		value := "0"
		if out.Value != nil {
			value = out.Value.String()
		}
		v.Outputs[i] = OutputView{Value: value, Recipient: out.Recipient}
	}
	if t := d.Token; t != nil {
		v.Token = &TokenView{
			TokenID:         t.TokenID,
			FirstSeenHeight: t.FirstSeenHeight,
			LastSeenHeight:  t.LastSeenHeight,
			LastTx:          t.LastTx,
			TransferCount:   t.TransferCount,
		}
	}
	for idx, sp := range d.Spends {
		view := SpendView{OutputIndex: idx, SpentBy: sp.SpentBy, InputIndex: sp.InputIndex, IsMempool: sp.IsMempool}
		if !sp.IsMempool {
			height := sp.Height
			view.Height = &height
		}
		v.Spends = append(v.Spends, view)
	}
	sort.Slice(v.Spends, func(a, b int) bool { return v.Spends[a].OutputIndex < v.Spends[b].OutputIndex })
	return v
}
