package graphql

import (
	"context"
	"net/http"

	"github.com/0xmhha/explorer-indexer/storage"
	"github.com/graphql-go/graphql"
	graphqlhandler "github.com/graphql-go/handler"
	"go.uber.org/zap"
)

// Handler handles GraphQL requests
type Handler struct {
	schema  *Schema
	handler *graphqlhandler.Handler
	logger  *zap.Logger
}

// NewHandler creates a new GraphQL handler. playground serves the GraphQL
// Playground to browsers on GET.
func NewHandler(store storage.Reader, queries Queries, logger *zap.Logger, playground bool) (*Handler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	schema, err := NewSchema(store, queries, logger)
	if err != nil {
		return nil, err
	}

	h := graphqlhandler.New(&graphqlhandler.Config{
		Schema:     &schema.schema,
		Pretty:     true,
		GraphiQL:   false,
		Playground: playground,
	})

	return &Handler{
		schema:  schema,
		handler: h,
		logger:  logger,
	}, nil
}

// ServeHTTP implements http.Handler
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.handler.ContextHandler(r.Context(), w, r)
}

// ExecuteQuery runs query against the schema without HTTP
func (h *Handler) ExecuteQuery(ctx context.Context, query string, variables map[string]interface{}) *graphql.Result {
	return graphql.Do(graphql.Params{
		Schema:         h.schema.schema,
		RequestString:  query,
		VariableValues: variables,
		Context:        ctx,
	})
}
