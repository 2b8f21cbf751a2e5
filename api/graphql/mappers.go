package graphql

import (
	"sort"
	"strconv"

	"github.com/0xmhha/explorer-indexer/indexer"
	"github.com/0xmhha/explorer-indexer/storage"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

func formatUint(v uint64) string {
	return strconv.FormatUint(v, 10)
}

// blockToMap converts a block record to a GraphQL-friendly map
func blockToMap(m *storage.BlockMeta) map[string]interface{} {
	return map[string]interface{}{
		"height":     formatUint(m.Height),
		"hash":       m.Hash.Hex(),
		"parentHash": m.ParentHash.Hex(),
		"timestamp":  formatUint(m.Timestamp),
		"size":       formatUint(m.Size),
		"txCount":    int(m.NumTxs),
	}
}

// txMetaToMap converts a tx record; block fields are null for mempool entries
func txMetaToMap(m *storage.TxMeta) map[string]interface{} {
	result := map[string]interface{}{
		"hash":        m.Hash.Hex(),
		"blockHeight": nil,
		"blockHash":   nil,
		"index":       int(m.Index),
		"isMempool":   m.IsMempool,
		"isCoinbase":  m.IsCoinbase,
		"size":        formatUint(m.Size),
		"numInputs":   int(m.NumInputs),
		"numOutputs":  int(m.NumOutputs),
		"tokenId":     nil,
		"tokenAmount": nil,
	}
	if !m.IsMempool {
		result["blockHeight"] = formatUint(m.BlockHeight)
		result["blockHash"] = m.BlockHash.Hex()
	}
	if m.HasToken {
		result["tokenId"] = m.TokenID.Hex()
		if m.TokenAmount != nil {
			result["tokenAmount"] = m.TokenAmount.String()
		}
	}
	return result
}

func tokenToMap(t *storage.TokenMeta) map[string]interface{} {
	if t == nil {
		return nil
	}
	return map[string]interface{}{
		"tokenId":         t.TokenID.Hex(),
		"firstSeenHeight": formatUint(t.FirstSeenHeight),
		"lastSeenHeight":  formatUint(t.LastSeenHeight),
		"lastTx":          t.LastTx.Hex(),
		"transferCount":   formatUint(t.TransferCount),
	}
}

// spendsToList orders spends by output index
func spendsToList(spends map[uint32]*storage.SpendInfo) []interface{} {
	indexes := make([]uint32, 0, len(spends))
	for i := range spends {
		indexes = append(indexes, i)
	}
	sort.Slice(indexes, func(a, b int) bool { return indexes[a] < indexes[b] })

	list := make([]interface{}, len(indexes))
	for i, idx := range indexes {
		s := spends[idx]
		entry := map[string]interface{}{
			"outputIndex": int(idx),
			"spentBy":     s.SpentBy.Hex(),
			"inputIndex":  int(s.InputIndex),
			"height":      nil,
			"isMempool":   s.IsMempool,
		}
		if !s.IsMempool {
			entry["height"] = formatUint(s.Height)
		}
		list[i] = entry
	}
	return list
}

func txDetailToMap(d *indexer.TxDetail) map[string]interface{} {
	tx := d.Transaction
	inputs := make([]interface{}, len(tx.Inputs))
	for i, in := range tx.Inputs {
		inputs[i] = map[string]interface{}{
			"prevTx":    in.PrevTx.Hex(),
			"prevIndex": int(in.PrevIndex),
		}
	}
	outputs := make([]interface{}, len(tx.Outputs))
	for i, out := range tx.Outputs {
		value := "0"
		if out.Value != nil {
			value = out.Value.String()
		}
		outputs[i] = map[string]interface{}{
			"value":     value,
			"recipient": out.Recipient.Hex(),
		}
	}

	result := map[string]interface{}{
		"hash":    tx.Hash.Hex(),
		"raw":     hexutil.Encode(d.Raw),
		"inputs":  inputs,
		"outputs": outputs,
		"meta":    txMetaToMap(d.Meta),
		"spends":  spendsToList(d.Spends),
		"token":   nil,
	}
	if d.Token != nil {
		result["token"] = tokenToMap(d.Token)
	}
	return result
}
