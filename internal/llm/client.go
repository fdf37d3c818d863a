package llm

import "context"

// Client is the interface that all LLM providers must implement.
type Client interface {
	// Chat sends a chat completion request and returns the response.
	// tools uses the OpenAI function-declaration shape
	// ({"type":"function","function":{name,description,parameters}});
	// providers translate it as needed. A nil tools slice disables tool use.
	Chat(ctx context.Context, model string, messages []Message, tools []map[string]any) (*ChatResponse, error)

	// Ping checks if the provider is reachable.
	Ping(ctx context.Context) error
}
