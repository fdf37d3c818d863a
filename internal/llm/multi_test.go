package llm

import (
	"context"
	"errors"
	"strings"
	"testing"
)

type namedClient struct {
	name    string
	pingErr error
}

func (c *namedClient) Chat(_ context.Context, model string, _ []Message, _ []map[string]any) (*ChatResponse, error) {
	return &ChatResponse{Model: model, Message: AssistantMessage(c.name)}, nil
}

func (c *namedClient) Ping(context.Context) error { return c.pingErr }

func TestRouter_Routing(t *testing.T) {
	r := NewRouter("ollama")
	r.AddProvider("ollama", &namedClient{name: "ollama"})
	r.AddProvider("anthropic", &namedClient{name: "anthropic"})
	r.AddProvider("openai", &namedClient{name: "openai"})
	r.AddModel("claude-sonnet-4-20250514", "anthropic")
	r.AddModel("grok-3-mini", "openai")
	r.AddModel("orphan", "gemini") // provider never registered

	tests := []struct {
		model string
		want  string
	}{
		{"claude-sonnet-4-20250514", "anthropic"},
		{"grok-3-mini", "openai"},
		{"qwen3:4b", "ollama"},
		{"orphan", "ollama"},
	}
	for _, tt := range tests {
		resp, err := r.Chat(t.Context(), tt.model, nil, nil)
		if err != nil {
			t.Fatalf("Chat(%s): %v", tt.model, err)
		}
		if resp.Message.Content != tt.want {
			t.Errorf("Chat(%s) routed to %s, want %s", tt.model, resp.Message.Content, tt.want)
		}
	}

	if got := r.Providers(); len(got) != 3 || got[0] != "anthropic" {
		t.Errorf("Providers() = %v", got)
	}
}

func TestRouter_NoProvider(t *testing.T) {
	r := NewRouter("ollama")
	if _, err := r.Chat(t.Context(), "anything", nil, nil); !errors.Is(err, ErrNoProvider) {
		t.Errorf("Chat() error = %v, want ErrNoProvider", err)
	}
	if err := r.Ping(t.Context()); !errors.Is(err, ErrNoProvider) {
		t.Errorf("Ping() error = %v, want ErrNoProvider", err)
	}
}

func TestRouter_PingJoinsFailures(t *testing.T) {
	down := errors.New("down")
	r := NewRouter("ollama")
	r.AddProvider("ollama", &namedClient{})
	r.AddProvider("anthropic", &namedClient{pingErr: down})

	err := r.Ping(t.Context())
	if !errors.Is(err, down) {
		t.Fatalf("Ping() = %v, want wrapped %v", err, down)
	}
	if !strings.Contains(err.Error(), "anthropic") {
		t.Errorf("Ping() error %q does not name the provider", err)
	}
}
