package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/0xmhha/explorer-indexer/chain"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/ethclient/gethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"
)

// ErrNoSubscriptions is returned when subscribing without a websocket connection
var ErrNoSubscriptions = errors.New("subscriptions require a websocket endpoint")

// Client is a chain.Source backed by an EVM JSON-RPC node
type Client struct {
	ethClient *ethclient.Client
	rpcClient *rpc.Client

	// wsClient carries subscriptions; it is rpcClient when the endpoint is a websocket
	wsClient *rpc.Client

	endpoint string
	timeout  time.Duration
	logger   *zap.Logger
}

var _ chain.Source = (*Client)(nil)

// Config holds client configuration
type Config struct {
	// Endpoint is the node's RPC URL (http, https, ws or wss)
	Endpoint string

	// WSEndpoint is used for subscriptions when Endpoint is http(s)
	WSEndpoint string

	// Timeout bounds dialing and point queries. Zero means no timeout.
	Timeout time.Duration

	TLS    *TLSConfig
	Logger *zap.Logger
}

// NewClient dials the node and verifies the connection
func NewClient(ctx context.Context, cfg *Config) (*Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("endpoint cannot be empty")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	opts, err := dialOptions(cfg.TLS, logger)
	if err != nil {
		return nil, fmt.Errorf("invalid TLS config: %w", err)
	}

	dialCtx := ctx
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	rpcClient, err := rpc.DialOptions(dialCtx, cfg.Endpoint, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RPC endpoint: %w", err)
	}

	c := &Client{
		ethClient: ethclient.NewClient(rpcClient),
		rpcClient: rpcClient,
		endpoint:  cfg.Endpoint,
		timeout:   cfg.Timeout,
		logger:    logger,
	}

	switch {
	case cfg.WSEndpoint != "":
		wsClient, err := rpc.DialOptions(dialCtx, cfg.WSEndpoint, opts...)
		if err != nil {
			rpcClient.Close()
			return nil, fmt.Errorf("failed to connect to websocket endpoint: %w", err)
		}
		c.wsClient = wsClient
	case isWebsocket(cfg.Endpoint):
		c.wsClient = rpcClient
	}

	// Verify connection
	if err := c.Ping(dialCtx); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to ping RPC endpoint: %w", err)
	}

	logger.Info("connected to Ethereum RPC",
		zap.String("endpoint", cfg.Endpoint),
		zap.Bool("subscriptions", c.wsClient != nil))

	return c, nil
}

func isWebsocket(endpoint string) bool {
	return strings.HasPrefix(endpoint, "ws://") || strings.HasPrefix(endpoint, "wss://")
}

// Ping verifies the connection to the RPC endpoint
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.ethClient.ChainID(ctx)
	return err
}

// Close closes the client connections
func (c *Client) Close() {
	if c.wsClient != nil && c.wsClient != c.rpcClient {
		c.wsClient.Close()
	}
	if c.rpcClient != nil {
		c.rpcClient.Close()
	}
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}

func notFound(err error) error {
	if errors.Is(err, ethereum.NotFound) {
		return chain.ErrNotFound
	}
	return err
}

// BlockByHeight fetches a block by its number
func (c *Client) BlockByHeight(ctx context.Context, height uint64, fullTxs bool) (*chain.Block, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	if !fullTxs {
		b, err := c.blockSummary(ctx, "eth_getBlockByNumber", hexutil.EncodeUint64(height))
		if err != nil {
			return nil, fmt.Errorf("failed to get block %d: %w", height, err)
		}
		return b, nil
	}

	block, err := c.ethClient.BlockByNumber(ctx, new(big.Int).SetUint64(height))
	if err != nil {
		return nil, fmt.Errorf("failed to get block %d: %w", height, notFound(err))
	}
	return convertBlock(block)
}

// BlockByHash fetches a block by its hash
func (c *Client) BlockByHash(ctx context.Context, hash common.Hash, fullTxs bool) (*chain.Block, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	if !fullTxs {
		b, err := c.blockSummary(ctx, "eth_getBlockByHash", hash)
		if err != nil {
			return nil, fmt.Errorf("failed to get block %s: %w", hash.Hex(), err)
		}
		return b, nil
	}

	block, err := c.ethClient.BlockByHash(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("failed to get block %s: %w", hash.Hex(), notFound(err))
	}
	return convertBlock(block)
}

// rpcBlockSummary is a block fetched with transaction hashes only
type rpcBlockSummary struct {
	Number       hexutil.Uint64 `json:"number"`
	Hash         common.Hash    `json:"hash"`
	ParentHash   common.Hash    `json:"parentHash"`
	Timestamp    hexutil.Uint64 `json:"timestamp"`
	Size         hexutil.Uint64 `json:"size"`
	Transactions []common.Hash  `json:"transactions"`
}

func (c *Client) blockSummary(ctx context.Context, method string, id interface{}) (*chain.Block, error) {
	var raw json.RawMessage
	if err := c.rpcClient.CallContext(ctx, &raw, method, id, false); err != nil {
		return nil, err
	}
	if len(raw) == 0 || string(raw) == "null" {
		return nil, chain.ErrNotFound
	}

	var summary rpcBlockSummary
	if err := json.Unmarshal(raw, &summary); err != nil {
		return nil, fmt.Errorf("failed to decode block: %w", err)
	}

	hashes := summary.Transactions
	if hashes == nil {
		hashes = []common.Hash{}
	}
	return &chain.Block{
		Height:     uint64(summary.Number),
		Hash:       summary.Hash,
		ParentHash: summary.ParentHash,
		Timestamp:  uint64(summary.Timestamp),
		Size:       uint64(summary.Size),
		TxHashes:   hashes,
	}, nil
}

// Transaction fetches a confirmed or pending transaction by its hash
func (c *Client) Transaction(ctx context.Context, hash common.Hash) (*chain.Transaction, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	tx, _, err := c.ethClient.TransactionByHash(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction %s: %w", hash.Hex(), notFound(err))
	}
	return convertTransaction(tx)
}

// RawTransaction fetches the serialized transaction
func (c *Client) RawTransaction(ctx context.Context, hash common.Hash) ([]byte, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	var raw hexutil.Bytes
	if err := c.rpcClient.CallContext(ctx, &raw, "eth_getRawTransactionByHash", hash); err != nil {
		return nil, fmt.Errorf("failed to get raw transaction %s: %w", hash.Hex(), err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("raw transaction %s: %w", hash.Hex(), chain.ErrNotFound)
	}
	return raw, nil
}

// txpoolContent is the txpool_content response: status -> sender -> nonce -> tx
type txpoolContent map[string]map[string]map[string]*types.Transaction

// Mempool returns the pending and queued transactions of the node
func (c *Client) Mempool(ctx context.Context, fullTxs bool) ([]*chain.Transaction, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	var content txpoolContent
	if err := c.rpcClient.CallContext(ctx, &content, "txpool_content"); err != nil {
		return nil, fmt.Errorf("failed to get mempool: %w", err)
	}

	var txs []*chain.Transaction
	for _, senders := range content {
		for _, nonces := range senders {
			for _, tx := range nonces {
				if tx == nil {
					continue
				}
				if !fullTxs {
					txs = append(txs, &chain.Transaction{Hash: tx.Hash()})
					continue
				}
				converted, err := convertTransaction(tx)
				if err != nil {
					return nil, fmt.Errorf("failed to convert mempool tx %s: %w", tx.Hash().Hex(), err)
				}
				txs = append(txs, converted)
			}
		}
	}
	return txs, nil
}

// SubscribeBlocks streams new blocks with full transactions
func (c *Client) SubscribeBlocks(ctx context.Context) (chain.BlockStream, error) {
	if c.wsClient == nil {
		return nil, ErrNoSubscriptions
	}

	heads := make(chan *types.Header, 16)
	sub, err := ethclient.NewClient(c.wsClient).SubscribeNewHead(ctx, heads)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to new heads: %w", err)
	}
	return &blockStream{client: c, sub: sub, heads: heads}, nil
}

// SubscribeTransactions streams new pending transactions matching filter
func (c *Client) SubscribeTransactions(ctx context.Context, filter chain.TxFilter) (chain.TxStream, error) {
	if c.wsClient == nil {
		return nil, ErrNoSubscriptions
	}

	txs := make(chan *types.Transaction, 256)
	sub, err := gethclient.New(c.wsClient).SubscribeFullPendingTransactions(ctx, txs)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to pending transactions: %w", err)
	}
	return &txStream{sub: sub, txs: txs, filter: filter}, nil
}
