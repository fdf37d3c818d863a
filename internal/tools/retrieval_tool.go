package tools

import (
	"context"
	"log/slog"

	"github.com/nugget/carepilot/internal/retrieval"
)

// ToolRetrieveContext is the name of the retrieval adapter.
const ToolRetrieveContext = "retrieve_context"

// retrievalK is how many chunks one retrieval returns.
const retrievalK = 2

// Retriever finds reference chunks for a query.
type Retriever interface {
	Search(ctx context.Context, query string, k int) ([]retrieval.Result, error)
}

// RegisterRetrievalTool adds retrieve_context to r.
func RegisterRetrievalTool(r *Registry, ret Retriever, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	return r.Register(&Tool{
		Name:        ToolRetrieveContext,
		Description: "Retrieve passages from the reference documents to help answer a health question.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{"type": "string", "description": "What to look up"},
			},
			"required": []string{"query"},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			results, err := ret.Search(ctx, stringArg(args, "query"), retrievalK)
			if err != nil {
				logger.Warn("retrieval failed", "error", err)
				return "Error retrieving context", nil
			}
			if len(results) == 0 {
				return "No reference documents matched the query.", nil
			}
			return retrieval.Format(results), nil
		},
	})
}
