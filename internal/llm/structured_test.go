package llm

import (
	"context"
	"errors"
	"testing"
)

type cannedClient struct {
	content string
	err     error
	seen    []Message
}

func (c *cannedClient) Chat(_ context.Context, _ string, msgs []Message, _ []map[string]any) (*ChatResponse, error) {
	c.seen = msgs
	if c.err != nil {
		return nil, c.err
	}
	return &ChatResponse{Message: AssistantMessage(c.content)}, nil
}

func (c *cannedClient) Ping(context.Context) error { return nil }

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"bare object", `{"a":1}`, `{"a":1}`},
		{"bare array", ` [1,2] `, `[1,2]`},
		{"json fence", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"plain fence", "```\n[\"x\"]\n```", `["x"]`},
		{"prose around", `Sure! Here you go: {"a":{"b":2}} Hope that helps.`, `{"a":{"b":2}}`},
		{"no json", "I cannot help with that.", ""},
		{"broken", `{"a":`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExtractJSON(tt.content); got != tt.want {
				t.Errorf("ExtractJSON() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestStructured(t *testing.T) {
	c := &cannedClient{content: "```json\n{\"questions\":[{\"question\":\"Did you sleep well?\"}]}\n```"}

	var out struct {
		Questions []struct {
			Question string `json:"question"`
		} `json:"questions"`
	}
	if err := Structured(t.Context(), c, "m", []Message{UserMessage("generate")}, &out); err != nil {
		t.Fatalf("Structured: %v", err)
	}
	if len(out.Questions) != 1 || out.Questions[0].Question != "Did you sleep well?" {
		t.Errorf("out = %+v", out)
	}
	if last := c.seen[len(c.seen)-1]; last.Role != RoleSystem || last.Content != jsonInstruction {
		t.Errorf("last message = %+v", last)
	}
}

func TestStructured_Errors(t *testing.T) {
	var out map[string]any

	if err := Structured(t.Context(), &cannedClient{content: "no"}, "m", nil, &out); err == nil {
		t.Error("expected error for non-JSON reply")
	}

	gw := errors.New("gateway down")
	if err := Structured(t.Context(), &cannedClient{err: gw}, "m", nil, &out); !errors.Is(err, gw) {
		t.Errorf("err = %v, want %v", err, gw)
	}
}
