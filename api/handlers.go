package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/0xmhha/explorer-indexer/chain"
	"github.com/0xmhha/explorer-indexer/indexer"
	"github.com/0xmhha/explorer-indexer/internal/constants"
	"github.com/0xmhha/explorer-indexer/storage"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// writeLookupError maps lookup failures to 404 and everything else to 500
func (s *Server) writeLookupError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, chain.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, indexer.ErrUnindexed):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		s.logger.Error("lookup failed", zap.String("path", r.URL.Path), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func parseHash(s string) (common.Hash, error) {
	b, err := hexutil.Decode(s)
	if err != nil || len(b) != common.HashLength {
		return common.Hash{}, fmt.Errorf("invalid hash %q", s)
	}
	return common.BytesToHash(b), nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "ok",
		Timestamp: time.Now().Format(time.RFC3339),
	})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, VersionResponse{Name: "explorer-indexer", Version: s.config.Version})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	height, err := s.storage.GetLatestHeight(r.Context())
	if errors.Is(err, storage.ErrNotFound) {
		writeJSON(w, http.StatusOK, StatusResponse{})
		return
	}
	if err != nil {
		s.writeLookupError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, StatusResponse{LatestHeight: &height, Indexed: true})
}

func (s *Server) handleBlocks(w http.ResponseWriter, r *http.Request) {
	start, err := strconv.ParseUint(chi.URLParam(r, "start"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid start height")
		return
	}
	end, err := strconv.ParseUint(chi.URLParam(r, "end"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid end height")
		return
	}
	if end < start {
		writeError(w, http.StatusBadRequest, "end must not be below start")
		return
	}
	if end-start >= constants.MaxBlockRange {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("range exceeds %d blocks", constants.MaxBlockRange))
		return
	}

	metas, err := s.storage.GetBlockMetas(r.Context(), start, end)
	if err != nil {
		s.writeLookupError(w, r, err)
		return
	}
	blocks := make([]BlockView, len(metas))
	for i, m := range metas {
		blocks[i] = newBlockView(m)
	}
	writeJSON(w, http.StatusOK, blocks)
}

func (s *Server) handleBlockTransactions(w http.ResponseWriter, r *http.Request) {
	hash, err := parseHash(chi.URLParam(r, "hash"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	metas, err := s.queries.BlockTransactions(r.Context(), hash)
	if err != nil {
		s.writeLookupError(w, r, err)
		return
	}
	txs := make([]TxMetaView, len(metas))
	for i, m := range metas {
		txs[i] = newTxMetaView(m)
	}
	writeJSON(w, http.StatusOK, txs)
}

func (s *Server) handleTransaction(w http.ResponseWriter, r *http.Request) {
	hash, err := parseHash(chi.URLParam(r, "hash"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	detail, err := s.queries.Transaction(r.Context(), hash)
	if err != nil {
		s.writeLookupError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newTransactionView(detail))
}
