package storage

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Key prefixes for different data types
const (
	prefixMeta      = "/meta/"
	prefixData      = "/data/"
	prefixIndex     = "/index/"
	prefixMempool   = "/mempool/"
	prefixBlockMeta = "/data/blockmeta/"
	prefixTxMeta    = "/data/txmeta/"
	prefixSpend     = "/data/spend/"
	prefixToken     = "/data/token/"
	prefixHeight    = "/index/height/"
	prefixBlockTx   = "/index/blocktx/"
	prefixMempoolTx = "/mempool/txmeta/"
	prefixMempoolSp = "/mempool/spend/"
)

// Metadata keys
const (
	keyLatestHeight = "/meta/lh"
)

// LatestHeightKey returns the key for storing the latest committed height
func LatestHeightKey() []byte {
	return []byte(keyLatestHeight)
}

// BlockMetaKey returns the key for block metadata
// Format: /data/blockmeta/{blockhash}
func BlockMetaKey(hash common.Hash) []byte {
	return []byte(prefixBlockMeta + hash.Hex())
}

// HeightIndexKey returns the key mapping a height to its block hash
// Format: /index/height/{height}
// Uses zero-padded fixed-width format for proper lexicographic sorting
func HeightIndexKey(height uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefixHeight, height))
}

// BlockTxIndexKey returns the key mapping a block position to a tx hash
// Format: /index/blocktx/{height}/{index}
func BlockTxIndexKey(height uint64, index uint32) []byte {
	return []byte(fmt.Sprintf("%s%020d/%06d", prefixBlockTx, height, index))
}

// BlockTxPrefix returns the prefix of every BlockTxIndexKey of a block
func BlockTxPrefix(height uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d/", prefixBlockTx, height))
}

// TxMetaKey returns the key for confirmed transaction metadata
// Format: /data/txmeta/{txhash}
func TxMetaKey(hash common.Hash) []byte {
	return []byte(prefixTxMeta + hash.Hex())
}

// MempoolTxMetaKey returns the key for unconfirmed transaction metadata
// Format: /mempool/txmeta/{txhash}
func MempoolTxMetaKey(hash common.Hash) []byte {
	return []byte(prefixMempoolTx + hash.Hex())
}

// SpendKey returns the key recording how an output was spent
// Format: /data/spend/{txhash}/{index}
func SpendKey(hash common.Hash, index uint32) []byte {
	return []byte(fmt.Sprintf("%s%s/%010d", prefixSpend, hash.Hex(), index))
}

// MempoolSpendKey returns the key recording an unconfirmed spend
// Format: /mempool/spend/{txhash}/{index}
func MempoolSpendKey(hash common.Hash, index uint32) []byte {
	return []byte(fmt.Sprintf("%s%s/%010d", prefixMempoolSp, hash.Hex(), index))
}

// SpendPrefix returns the prefix of every SpendKey of a transaction
func SpendPrefix(hash common.Hash) []byte {
	return []byte(prefixSpend + hash.Hex() + "/")
}

// MempoolSpendPrefix returns the prefix of every MempoolSpendKey of a transaction
func MempoolSpendPrefix(hash common.Hash) []byte {
	return []byte(prefixMempoolSp + hash.Hex() + "/")
}

// TokenKey returns the key for token metadata
// Format: /data/token/{tokenid}
func TokenKey(id common.Hash) []byte {
	return []byte(prefixToken + id.Hex())
}

// MempoolRange returns the key range covering every mempool entry
// Returns [start, end) where end is exclusive
func MempoolRange() (start, end []byte) {
	return []byte(prefixMempool), PrefixEnd([]byte(prefixMempool))
}

// HeightRange returns the height index range for [start, end]
func HeightRange(start, end uint64) (lower, upper []byte) {
	lower = HeightIndexKey(start)
	if end == ^uint64(0) {
		return lower, PrefixEnd([]byte(prefixHeight))
	}
	return lower, HeightIndexKey(end + 1)
}

// PrefixEnd returns the smallest key greater than every key with the given prefix
func PrefixEnd(prefix []byte) []byte {
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}

// ParseSpendKey returns the output index of a spend key
func ParseSpendKey(key []byte) (uint32, error) {
	keyStr := string(key)
	if !strings.HasPrefix(keyStr, prefixSpend) && !strings.HasPrefix(keyStr, prefixMempoolSp) {
		return 0, fmt.Errorf("invalid spend key prefix: %s", keyStr)
	}
	i := strings.LastIndexByte(keyStr, '/')
	index, err := strconv.ParseUint(keyStr[i+1:], 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid spend index: %w", err)
	}
	return uint32(index), nil
}

// EncodeUint64 encodes uint64 to bytes in big-endian format
func EncodeUint64(n uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, n)
	return buf
}

// DecodeUint64 decodes bytes to uint64 in big-endian format
func DecodeUint64(data []byte) (uint64, error) {
	if len(data) != 8 {
		return 0, fmt.Errorf("invalid uint64 data length: %d", len(data))
	}
	return binary.BigEndian.Uint64(data), nil
}
