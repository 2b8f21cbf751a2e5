package api

import (
	"bytes"
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/0xmhha/explorer-indexer/chain"
	"github.com/0xmhha/explorer-indexer/indexer"
	"github.com/0xmhha/explorer-indexer/internal/testutil"
	"github.com/0xmhha/explorer-indexer/storage"
	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// stubQueries serves fixed answers keyed by hash
type stubQueries struct {
	blocks map[common.Hash][]*storage.TxMeta
	txs    map[common.Hash]*indexer.TxDetail
	err    error
}

func (s *stubQueries) BlockTransactions(ctx context.Context, hash common.Hash) ([]*storage.TxMeta, error) {
	if s.err != nil {
		return nil, s.err
	}
	metas, ok := s.blocks[hash]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return metas, nil
}

func (s *stubQueries) Transaction(ctx context.Context, hash common.Hash) (*indexer.TxDetail, error) {
	if s.err != nil {
		return nil, s.err
	}
	d, ok := s.txs[hash]
	if !ok {
		return nil, indexer.ErrUnindexed
	}
	return d, nil
}

func newStore(t *testing.T, heights ...uint64) *storage.PebbleStorage {
	t.Helper()
	store := testutil.NewTestStore(t)
	for _, h := range heights {
		testutil.IndexBlocks(t, store, testutil.NewTestBlock(h, 1))
	}
	return store
}

func newTestServer(t *testing.T, store storage.Reader, queries *stubQueries) *Server {
	t.Helper()
	if queries == nil {
		queries = &stubQueries{}
	}
	s, err := NewServer(DefaultConfig(), testutil.NewTestLogger(t), store, queries, prometheus.NewRegistry())
	require.NoError(t, err)
	return s
}

func get(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestNewServer(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "default config", mutate: func(c *Config) {}},
		{name: "invalid port", mutate: func(c *Config) { c.Port = 0 }, wantErr: true},
		{name: "empty host", mutate: func(c *Config) { c.Host = "" }, wantErr: true},
		{name: "zero timeout", mutate: func(c *Config) { c.ReadTimeout = 0 }, wantErr: true},
		{name: "graphql without path", mutate: func(c *Config) { c.GraphQLPath = "" }, wantErr: true},
		{name: "graphql disabled", mutate: func(c *Config) { c.EnableGraphQL = false; c.GraphQLPath = "" }},
		{name: "rate limit without rate", mutate: func(c *Config) { c.EnableRateLimit = true; c.RateLimitPerSecond = 0 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			s, err := NewServer(cfg, zap.NewNop(), newStore(t), &stubQueries{}, prometheus.NewRegistry())
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, s)
		})
	}
}

func TestConfigAddress(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "localhost:8080", cfg.Address())
	cfg.Host = "::1"
	assert.Equal(t, "[::1]:8080", cfg.Address())
}

func TestHealthAndVersion(t *testing.T) {
	s := newTestServer(t, newStore(t), nil)

	w := get(t, s, "/health")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	var health HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &health))
	assert.Equal(t, "ok", health.Status)

	w = get(t, s, "/version")
	assert.JSONEq(t, `{"name":"explorer-indexer","version":"dev"}`, w.Body.String())
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "indexer_test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Inc()

	s, err := NewServer(DefaultConfig(), zap.NewNop(), newStore(t), &stubQueries{}, reg)
	require.NoError(t, err)

	w := get(t, s, "/metrics")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "indexer_test_total 1")
}

func TestStatus(t *testing.T) {
	w := get(t, newTestServer(t, newStore(t), nil), "/api/status")
	assert.JSONEq(t, `{"latest_height":null,"indexed":false}`, w.Body.String())

	w = get(t, newTestServer(t, newStore(t, 0, 1, 2), nil), "/api/status")
	assert.JSONEq(t, `{"latest_height":2,"indexed":true}`, w.Body.String())
}

func TestBlocks(t *testing.T) {
	s := newTestServer(t, newStore(t, 0, 1, 2, 3), nil)

	w := get(t, s, "/api/blocks/1/2")
	require.Equal(t, http.StatusOK, w.Code)
	var blocks []BlockView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &blocks))
	require.Len(t, blocks, 2)
	assert.Equal(t, uint64(1), blocks[0].Height)
	assert.Equal(t, uint64(2), blocks[1].Height)

	tests := []struct {
		path string
		want int
	}{
		{"/api/blocks/0/99", http.StatusOK},
		{"/api/blocks/0/100", http.StatusBadRequest},
		{"/api/blocks/5/4", http.StatusBadRequest},
		{"/api/blocks/x/4", http.StatusBadRequest},
		{"/api/blocks/1/y", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, get(t, s, tt.path).Code)
		})
	}
}

func TestBlockTransactions(t *testing.T) {
	blockHash := common.HexToHash("0xb1")
	txHash := common.HexToHash("0xc1")
	queries := &stubQueries{blocks: map[common.Hash][]*storage.TxMeta{
		blockHash: {{Hash: txHash, BlockHeight: 4, BlockHash: blockHash, IsCoinbase: true, NumOutputs: 1}},
	}}
	s := newTestServer(t, newStore(t), queries)

	w := get(t, s, "/api/block/"+blockHash.Hex()+"/transactions")
	require.Equal(t, http.StatusOK, w.Code)
	var txs []TxMetaView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &txs))
	require.Len(t, txs, 1)
	assert.Equal(t, txHash, txs[0].Hash)
	require.NotNil(t, txs[0].BlockHeight)
	assert.Equal(t, uint64(4), *txs[0].BlockHeight)
	assert.Nil(t, txs[0].TokenID)

	assert.Equal(t, http.StatusNotFound, get(t, s, "/api/block/"+common.HexToHash("0xee").Hex()+"/transactions").Code)
	assert.Equal(t, http.StatusBadRequest, get(t, s, "/api/block/0x12/transactions").Code)
}

func TestTransaction(t *testing.T) {
	txHash := common.HexToHash("0xc1")
	tokenID := common.HexToHash("0x70")
	detail := &indexer.TxDetail{
		Transaction: &chain.Transaction{
			Hash:    txHash,
			Inputs:  []chain.Input{{PrevTx: common.HexToHash("0xaa"), PrevIndex: 2}},
			Outputs: []chain.Output{{Value: big.NewInt(9), Recipient: common.HexToAddress("0x01")}},
		},
		Raw:   []byte{0xde, 0xad},
		Meta:  &storage.TxMeta{Hash: txHash, IsMempool: true, HasToken: true, TokenID: tokenID, TokenAmount: big.NewInt(5)},
		Token: &storage.TokenMeta{TokenID: tokenID, FirstSeenHeight: 1, LastSeenHeight: 3, TransferCount: 2},
		Spends: map[uint32]*storage.SpendInfo{
			1: {SpentBy: common.HexToHash("0xd1"), Height: 8},
			0: {SpentBy: common.HexToHash("0xd0"), IsMempool: true},
		},
	}
	s := newTestServer(t, newStore(t), &stubQueries{txs: map[common.Hash]*indexer.TxDetail{txHash: detail}})

	w := get(t, s, "/api/tx/"+txHash.Hex())
	require.Equal(t, http.StatusOK, w.Code)
	var view TransactionView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))
	assert.Equal(t, "0xdead", view.Raw.String())
	assert.Nil(t, view.Meta.BlockHeight, "mempool transactions have no block")
	assert.Equal(t, "5", view.Meta.TokenAmount)
	require.NotNil(t, view.Token)
	assert.Equal(t, uint64(2), view.Token.TransferCount)
	require.Len(t, view.Spends, 2)
	assert.Equal(t, uint32(0), view.Spends[0].OutputIndex)
	assert.Nil(t, view.Spends[0].Height)
	require.NotNil(t, view.Spends[1].Height)
	assert.Equal(t, uint64(8), *view.Spends[1].Height)

	w = get(t, s, "/api/tx/"+common.HexToHash("0x99").Hex())
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "unindexed transaction")
}

func TestLookupFailureIsInternalError(t *testing.T) {
	s := newTestServer(t, newStore(t), &stubQueries{err: storage.ErrClosed})
	w := get(t, s, "/api/tx/"+common.HexToHash("0x1").Hex())
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"error":"internal error"}`, w.Body.String())
}

func TestGraphQLRoute(t *testing.T) {
	s := newTestServer(t, newStore(t, 0), nil)

	body := bytes.NewBufferString(`{"query":"{ status { latestHeight indexed } }"}`)
	req := httptest.NewRequest(http.MethodPost, "/graphql", body)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"latestHeight": "0"`)
}

func TestGraphQLDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EnableGraphQL = false
	s, err := NewServer(cfg, zap.NewNop(), newStore(t), &stubQueries{}, prometheus.NewRegistry())
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/graphql", strings.NewReader(`{}`))
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t, newStore(t), nil)
	req := httptest.NewRequest(http.MethodOptions, "/api/status", nil)
	req.Header.Set("Origin", "https://explorer.example")
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://explorer.example", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestRateLimitedServer(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EnableRateLimit = true
	cfg.RateLimitPerSecond = 1
	cfg.RateLimitBurst = 1
	s, err := NewServer(cfg, zap.NewNop(), newStore(t), &stubQueries{}, prometheus.NewRegistry())
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, get(t, s, "/health").Code)
	assert.Equal(t, http.StatusTooManyRequests, get(t, s, "/health").Code)
}

func TestStartStop(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Host = "127.0.0.1"
	cfg.Port = 18089
	s, err := NewServer(cfg, zap.NewNop(), newStore(t), &stubQueries{}, prometheus.NewRegistry())
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- s.Start() }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://127.0.0.1:18089/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, s.Stop(context.Background()))
	require.NoError(t, <-done)
}
