package graphql

import (
	"context"

	"github.com/0xmhha/explorer-indexer/indexer"
	"github.com/0xmhha/explorer-indexer/storage"
	"github.com/ethereum/go-ethereum/common"
	"github.com/graphql-go/graphql"
	"go.uber.org/zap"
)

// Queries answers the point queries that go through the indexer
type Queries interface {
	BlockTransactions(ctx context.Context, hash common.Hash) ([]*storage.TxMeta, error)
	Transaction(ctx context.Context, hash common.Hash) (*indexer.TxDetail, error)
}

// Schema holds the GraphQL schema
type Schema struct {
	schema  graphql.Schema
	storage storage.Reader
	queries Queries
	logger  *zap.Logger
}

// NewSchema creates the read schema over store and queries
func NewSchema(store storage.Reader, queries Queries, logger *zap.Logger) (*Schema, error) {
	s := &Schema{
		storage: store,
		queries: queries,
		logger:  logger,
	}

	hashArg := graphql.FieldConfigArgument{
		"hash": &graphql.ArgumentConfig{Type: graphql.NewNonNull(hashType)},
	}

	queryType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Query",
		Fields: graphql.Fields{
			"status": &graphql.Field{
				Type:    graphql.NewNonNull(statusType),
				Resolve: s.resolveStatus,
			},
			"block": &graphql.Field{
				Type:    blockType,
				Args:    hashArg,
				Resolve: s.resolveBlock,
			},
			"blockByHeight": &graphql.Field{
				Type: blockType,
				Args: graphql.FieldConfigArgument{
					"height": &graphql.ArgumentConfig{Type: graphql.NewNonNull(bigIntType)},
				},
				Resolve: s.resolveBlockByHeight,
			},
			"blocks": &graphql.Field{
				Type: graphql.NewList(graphql.NewNonNull(blockType)),
				Args: graphql.FieldConfigArgument{
					"start": &graphql.ArgumentConfig{Type: graphql.NewNonNull(bigIntType)},
					"end":   &graphql.ArgumentConfig{Type: graphql.NewNonNull(bigIntType)},
				},
				Resolve: s.resolveBlocks,
			},
			"blockTransactions": &graphql.Field{
				Type:    graphql.NewList(graphql.NewNonNull(txMetaType)),
				Args:    hashArg,
				Resolve: s.resolveBlockTransactions,
			},
			"transaction": &graphql.Field{
				Type:    transactionType,
				Args:    hashArg,
				Resolve: s.resolveTransaction,
			},
		},
	})

	schema, err := graphql.NewSchema(graphql.SchemaConfig{
		Query: queryType,
	})
	if err != nil {
		return nil, err
	}

	s.schema = schema
	return s, nil
}
