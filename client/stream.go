package client

import (
	"context"
	"io"

	"github.com/0xmhha/explorer-indexer/chain"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
)

// blockStream resolves each new head into a full block
type blockStream struct {
	client *Client
	sub    ethereum.Subscription
	heads  chan *types.Header
}

func (s *blockStream) Next(ctx context.Context) (*chain.Block, error) {
	select {
	case head := <-s.heads:
		return s.client.BlockByHash(ctx, head.Hash(), true)
	case err, ok := <-s.sub.Err():
		if !ok || err == nil {
			return nil, io.EOF
		}
		return nil, err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *blockStream) Close() {
	s.sub.Unsubscribe()
}

// txStream delivers pending transactions that pass the filter
type txStream struct {
	sub    ethereum.Subscription
	txs    chan *types.Transaction
	filter chain.TxFilter
}

func (s *txStream) Next(ctx context.Context) (*chain.Transaction, error) {
	for {
		select {
		case tx := <-s.txs:
			converted, err := convertTransaction(tx)
			if err != nil {
				return nil, err
			}
			if !s.filter.Match(converted) {
				continue
			}
			return converted, nil
		case err, ok := <-s.sub.Err():
			if !ok || err == nil {
				return nil, io.EOF
			}
			return nil, err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (s *txStream) Close() {
	s.sub.Unsubscribe()
}
