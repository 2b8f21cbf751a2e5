package graphql

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/0xmhha/explorer-indexer/indexer"
	"github.com/0xmhha/explorer-indexer/internal/constants"
	"github.com/0xmhha/explorer-indexer/storage"
	"github.com/ethereum/go-ethereum/common"
	"github.com/graphql-go/graphql"
	"go.uber.org/zap"
)

func hashArg(p graphql.ResolveParams) (common.Hash, error) {
	s, ok := p.Args["hash"].(string)
	if !ok || !isHash(s) {
		return common.Hash{}, fmt.Errorf("invalid hash")
	}
	return common.HexToHash(s), nil
}

func isHash(s string) bool {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		s = s[2:]
	}
	if len(s) != 2*common.HashLength {
		return false
	}
	for _, c := range s {
		if !('0' <= c && c <= '9' || 'a' <= c && c <= 'f' || 'A' <= c && c <= 'F') {
			return false
		}
	}
	return true
}

func heightArg(p graphql.ResolveParams, name string) (uint64, error) {
	s, ok := p.Args[name].(string)
	if !ok {
		return 0, fmt.Errorf("invalid %s", name)
	}
	h, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s format: %w", name, err)
	}
	return h, nil
}

// resolveStatus resolves the latest committed height
func (s *Schema) resolveStatus(p graphql.ResolveParams) (interface{}, error) {
	height, err := s.storage.GetLatestHeight(p.Context)
	if errors.Is(err, storage.ErrNotFound) {
		return map[string]interface{}{"latestHeight": nil, "indexed": false}, nil
	}
	if err != nil {
		s.logger.Error("failed to get latest height", zap.Error(err))
		return nil, err
	}
	return map[string]interface{}{
		"latestHeight": strconv.FormatUint(height, 10),
		"indexed":      true,
	}, nil
}

// resolveBlock resolves a block by hash
func (s *Schema) resolveBlock(p graphql.ResolveParams) (interface{}, error) {
	hash, err := hashArg(p)
	if err != nil {
		return nil, err
	}
	meta, err := s.storage.GetBlockMeta(p.Context, hash)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		s.logger.Error("failed to get block", zap.Stringer("hash", hash), zap.Error(err))
		return nil, err
	}
	return blockToMap(meta), nil
}

// resolveBlockByHeight resolves a block by height
func (s *Schema) resolveBlockByHeight(p graphql.ResolveParams) (interface{}, error) {
	height, err := heightArg(p, "height")
	if err != nil {
		return nil, err
	}
	meta, err := s.storage.GetBlockMetaByHeight(p.Context, height)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		s.logger.Error("failed to get block", zap.Uint64("height", height), zap.Error(err))
		return nil, err
	}
	return blockToMap(meta), nil
}

// resolveBlocks resolves an inclusive height range
func (s *Schema) resolveBlocks(p graphql.ResolveParams) (interface{}, error) {
	start, err := heightArg(p, "start")
	if err != nil {
		return nil, err
	}
	end, err := heightArg(p, "end")
	if err != nil {
		return nil, err
	}
	if end < start {
		return nil, fmt.Errorf("end must not be below start")
	}
	if end-start >= constants.MaxBlockRange {
		return nil, fmt.Errorf("range exceeds %d blocks", constants.MaxBlockRange)
	}

	metas, err := s.storage.GetBlockMetas(p.Context, start, end)
	if err != nil {
		s.logger.Error("failed to get blocks", zap.Uint64("start", start), zap.Uint64("end", end), zap.Error(err))
		return nil, err
	}
	blocks := make([]interface{}, len(metas))
	for i, m := range metas {
		blocks[i] = blockToMap(m)
	}
	return blocks, nil
}

// resolveBlockTransactions resolves the index records of a block's transactions
func (s *Schema) resolveBlockTransactions(p graphql.ResolveParams) (interface{}, error) {
	hash, err := hashArg(p)
	if err != nil {
		return nil, err
	}
	metas, err := s.queries.BlockTransactions(p.Context, hash)
	if err != nil {
		s.logger.Warn("failed to get block transactions", zap.Stringer("hash", hash), zap.Error(err))
		return nil, err
	}
	txs := make([]interface{}, len(metas))
	for i, m := range metas {
		txs[i] = txMetaToMap(m)
	}
	return txs, nil
}

// resolveTransaction resolves a transaction joined with its index records
func (s *Schema) resolveTransaction(p graphql.ResolveParams) (interface{}, error) {
	hash, err := hashArg(p)
	if err != nil {
		return nil, err
	}
	detail, err := s.queries.Transaction(p.Context, hash)
	if errors.Is(err, indexer.ErrUnindexed) {
		return nil, nil
	}
	if err != nil {
		s.logger.Warn("failed to get transaction", zap.Stringer("hash", hash), zap.Error(err))
		return nil, err
	}
	return txDetailToMap(detail), nil
}
