// Package synthetic provides a chain.Source that fabricates blocks and
// transactions. Block contents depend only on the seed and the height, so
// every fetch of a height returns the same block.
package synthetic

import (
	"context"
	"encoding/binary"
	"fmt"
	"math/big"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/0xmhha/explorer-indexer/chain"
	"github.com/0xmhha/explorer-indexer/internal/constants"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"
)

const (
	genesisTime  = 1231006505
	blockSpacing = 600
	numTokens    = 3
)

// Config holds synthetic source configuration
type Config struct {
	// Tip is the highest existing height. Zero means the chain is unbounded.
	Tip uint64

	// TxsPerBlock includes the coinbase transaction (default: 4)
	TxsPerBlock int

	// BlockInterval is the delay between streamed blocks (default: 2s)
	BlockInterval time.Duration

	// TxInterval is the delay between streamed mempool transactions (default: 500ms)
	TxInterval time.Duration

	// Seed selects the generated chain
	Seed uint64

	Logger *zap.Logger
}

// Source is a chain.Source over generated data
type Source struct {
	cfg     Config
	logger  *zap.Logger
	tip     atomic.Uint64
	bounded bool

	mu      sync.Mutex
	mempool []*chain.Transaction
	poolSeq uint64
	poolTip uint64
	heights map[common.Hash]uint64
}

var _ chain.Source = (*Source)(nil)

// New returns a synthetic source
func New(cfg Config) *Source {
	if cfg.TxsPerBlock <= 0 {
		cfg.TxsPerBlock = constants.DefaultSyntheticTxsPerBlock
	}
	if cfg.BlockInterval <= 0 {
		cfg.BlockInterval = constants.DefaultSyntheticBlockInterval
	}
	if cfg.TxInterval <= 0 {
		cfg.TxInterval = constants.DefaultSyntheticTxInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Source{
		cfg:     cfg,
		logger:  logger,
		bounded: cfg.Tip > 0,
		heights: make(map[common.Hash]uint64),
	}
	s.tip.Store(cfg.Tip)
	return s
}

// Tip returns the current highest height
func (s *Source) Tip() uint64 {
	return s.tip.Load()
}

func (s *Source) exists(height uint64) bool {
	return !s.bounded || height <= s.tip.Load()
}

func hashOf(parts ...uint64) common.Hash {
	buf := make([]byte, 8*len(parts))
	for i, p := range parts {
		binary.BigEndian.PutUint64(buf[8*i:], p)
	}
	return crypto.Keccak256Hash(buf)
}

// domain separators for generated hashes
const (
	domainBlock uint64 = iota + 1
	domainTx
	domainToken
	domainMempool
	domainAddr
)

func (s *Source) blockHash(height uint64) common.Hash {
	return hashOf(domainBlock, s.cfg.Seed, height)
}

func (s *Source) txHash(height uint64, index int) common.Hash {
	return hashOf(domainTx, s.cfg.Seed, height, uint64(index))
}

// TokenID returns the id of synthetic token k
func (s *Source) TokenID(k uint64) common.Hash {
	return hashOf(domainToken, s.cfg.Seed, k%numTokens)
}

func (s *Source) address(r *rand.Rand) common.Address {
	return common.BytesToAddress(hashOf(domainAddr, s.cfg.Seed, r.Uint64()%64).Bytes())
}

func (s *Source) outputs(r *rand.Rand, n int) []chain.Output {
	outs := make([]chain.Output, n)
	for i := range outs {
		outs[i] = chain.Output{
			Value:     new(big.Int).SetUint64(1 + r.Uint64N(5_000_000_000)),
			Recipient: s.address(r),
		}
	}
	return outs
}

func txSize(r *rand.Rand, tx *chain.Transaction) uint64 {
	return 10 + 41*uint64(len(tx.Inputs)) + 31*uint64(len(tx.Outputs)) + r.Uint64N(64)
}

// transactionAt generates tx index of the block at height. Tx i >= 1 spends
// output 0 of tx i-1 of the previous block.
func (s *Source) transactionAt(height uint64, index int) *chain.Transaction {
	r := rand.New(rand.NewPCG(s.cfg.Seed, height<<16|uint64(index)))

	tx := &chain.Transaction{
		Hash:       s.txHash(height, index),
		IsCoinbase: index == 0,
	}
	if index == 0 {
		tx.Outputs = s.outputs(r, 1)
	} else {
		if height > 0 {
			tx.Inputs = []chain.Input{{PrevTx: s.txHash(height-1, index-1), PrevIndex: 0}}
		}
		tx.Outputs = s.outputs(r, 2)
		if (height+uint64(index))%4 == 0 {
			tx.Token = &chain.TokenTransfer{
				TokenID:   s.TokenID(height + uint64(index)),
				Recipient: tx.Outputs[0].Recipient,
				Amount:    new(big.Int).SetUint64(1 + r.Uint64N(1_000_000)),
			}
		}
	}
	tx.Size = txSize(r, tx)
	return tx
}

// TransactionAt returns the confirmed transaction at height and index
func (s *Source) TransactionAt(height uint64, index int) (*chain.Transaction, error) {
	if !s.exists(height) || index < 0 || index >= s.cfg.TxsPerBlock {
		return nil, fmt.Errorf("transaction %d/%d: %w", height, index, chain.ErrNotFound)
	}
	return s.transactionAt(height, index), nil
}

func (s *Source) block(height uint64, fullTxs bool) *chain.Block {
	b := &chain.Block{
		Height:    height,
		Hash:      s.blockHash(height),
		Timestamp: genesisTime + height*blockSpacing,
		Size:      80,
		TxHashes:  make([]common.Hash, s.cfg.TxsPerBlock),
	}
	if height > 0 {
		b.ParentHash = s.blockHash(height - 1)
	}
	if fullTxs {
		b.Transactions = make([]*chain.Transaction, s.cfg.TxsPerBlock)
	}
	for i := 0; i < s.cfg.TxsPerBlock; i++ {
		tx := s.transactionAt(height, i)
		b.TxHashes[i] = tx.Hash
		b.Size += tx.Size
		if fullTxs {
			b.Transactions[i] = tx
		}
	}
	return b
}

// BlockByHeight returns the generated block at height
func (s *Source) BlockByHeight(ctx context.Context, height uint64, fullTxs bool) (*chain.Block, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !s.exists(height) {
		return nil, fmt.Errorf("block %d: %w", height, chain.ErrNotFound)
	}
	b := s.block(height, fullTxs)
	s.remember(b)
	return b, nil
}

// BlockByHash resolves hashes of blocks this source has already handed out
func (s *Source) BlockByHash(ctx context.Context, hash common.Hash, fullTxs bool) (*chain.Block, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	height, ok := s.heights[hash]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("block %s: %w", hash.Hex(), chain.ErrNotFound)
	}
	return s.block(height, fullTxs), nil
}

func (s *Source) remember(block *chain.Block) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.heights[block.Hash] = block.Height
}

// Transaction returns a mempool transaction, confirmed transactions are
// addressed by position through TransactionAt
func (s *Source) Transaction(ctx context.Context, hash common.Hash) (*chain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, tx := range s.mempool {
		if tx.Hash == hash {
			return tx, nil
		}
	}
	return nil, fmt.Errorf("transaction %s: %w", hash.Hex(), chain.ErrNotFound)
}

// RawTransaction returns no bytes; synthetic transactions have no serialization
func (s *Source) RawTransaction(ctx context.Context, hash common.Hash) ([]byte, error) {
	if _, err := s.Transaction(ctx, hash); err != nil {
		return nil, err
	}
	return []byte{}, nil
}

// Mempool returns the unconfirmed transactions generated since the last block
func (s *Source) Mempool(ctx context.Context, fullTxs bool) ([]*chain.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetMempoolLocked()

	txs := make([]*chain.Transaction, len(s.mempool))
	for i, tx := range s.mempool {
		if fullTxs {
			txs[i] = tx
		} else {
			txs[i] = &chain.Transaction{Hash: tx.Hash}
		}
	}
	return txs, nil
}

// resetMempoolLocked drops pending transactions once a new block confirms them
func (s *Source) resetMempoolLocked() {
	if tip := s.tip.Load(); tip != s.poolTip {
		s.poolTip = tip
		s.mempool = nil
	}
}

// advance extends the chain by one block and returns it
func (s *Source) advance() *chain.Block {
	height := s.tip.Add(1)
	b := s.block(height, true)
	s.remember(b)
	return b
}

// newMempoolTx generates an unconfirmed tx spending output 1 of a tip block tx
func (s *Source) newMempoolTx() *chain.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetMempoolLocked()

	seq := s.poolSeq
	s.poolSeq++
	tip := s.poolTip
	r := rand.New(rand.NewPCG(s.cfg.Seed^domainMempool, seq))

	spent := 0
	if s.cfg.TxsPerBlock > 1 {
		spent = 1 + int(seq%uint64(s.cfg.TxsPerBlock-1))
	}
	prevIndex := uint32(1)
	if spent == 0 {
		prevIndex = 0
	}

	tx := &chain.Transaction{
		Hash:    hashOf(domainMempool, s.cfg.Seed, tip, seq),
		Inputs:  []chain.Input{{PrevTx: s.txHash(tip, spent), PrevIndex: prevIndex}},
		Outputs: s.outputs(r, 2),
	}
	tx.Size = txSize(r, tx)
	s.mempool = append(s.mempool, tx)
	return tx
}
