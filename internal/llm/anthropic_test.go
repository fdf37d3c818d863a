package llm

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestConvertToAnthropic(t *testing.T) {
	messages := []Message{
		{Role: RoleSystem, Content: "You are a careful health assistant."},
		{Role: RoleUser, Content: "Hello!"},
		{Role: RoleAssistant, Content: "Hi there!"},
		{Role: RoleUser, Content: "What's on my calendar?"},
	}

	result, system := convertToAnthropic(messages)

	if system != "You are a careful health assistant." {
		t.Errorf("expected system prompt extracted, got %q", system)
	}
	if len(result) != 3 {
		t.Fatalf("expected 3 messages (no system), got %d", len(result))
	}
	if result[0].Role != "user" {
		t.Errorf("expected first message to be user, got %s", result[0].Role)
	}
}

func TestConvertToAnthropicWithToolCalls(t *testing.T) {
	messages := []Message{
		{Role: RoleSystem, Content: "preamble"},
		{Role: RoleUser, Content: "I have a headache"},
		{
			Role: RoleAssistant,
			ToolCalls: []ToolCall{
				{ID: "toolu_a", Name: "retrieve_context", Arguments: map[string]any{"query": "headache"}},
				{ID: "toolu_b", Name: "get_calendar", Arguments: map[string]any{"username": "alice"}},
			},
		},
		{Role: RoleTool, Content: "Source: x", ToolCallID: "toolu_a"},
		{Role: RoleTool, Content: "{}", ToolCallID: "toolu_b"},
	}

	result, _ := convertToAnthropic(messages)

	// user, assistant with two tool_use blocks, one merged user tool_result turn
	if len(result) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(result))
	}

	assistant := result[1].Content
	if len(assistant) != 2 {
		t.Fatalf("expected 2 tool_use blocks, got %d", len(assistant))
	}
	if assistant[0].Type != "tool_use" || assistant[0].ID != "toolu_a" {
		t.Errorf("first block = %+v", assistant[0])
	}

	results := result[2].Content
	if result[2].Role != "user" || len(results) != 2 {
		t.Fatalf("expected merged user turn with 2 results, got %s/%d", result[2].Role, len(results))
	}
	if results[1].Type != "tool_result" || results[1].ToolUseID != "toolu_b" {
		t.Errorf("second result = %+v", results[1])
	}
}

func TestConvertToAnthropic_Attachment(t *testing.T) {
	msgs := []Message{{
		Role:       RoleUser,
		Content:    "Does this look infected?",
		Attachment: &Attachment{MediaType: "image/jpeg", URL: "https://example.com/rash.jpg"},
	}}
	result, _ := convertToAnthropic(msgs)
	blocks := result[0].Content
	if len(blocks) != 2 || blocks[1].Type != "image" || blocks[1].Source.URL != "https://example.com/rash.jpg" {
		t.Errorf("blocks = %+v", blocks)
	}
}

func TestConvertToolsToAnthropic(t *testing.T) {
	tools := []map[string]any{
		{
			"type": "function",
			"function": map[string]any{
				"name":        "get_calendar",
				"description": "List calendar events",
				"parameters": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"username": map[string]any{"type": "string"},
					},
					"required": []string{"username"},
				},
			},
		},
		{"type": "function"}, // malformed, skipped
	}

	result := convertToolsToAnthropic(tools)
	if len(result) != 1 {
		t.Fatalf("expected 1 tool, got %d", len(result))
	}
	if result[0].Name != "get_calendar" {
		t.Errorf("expected tool name get_calendar, got %s", result[0].Name)
	}
	if result[0].Description != "List calendar events" {
		t.Errorf("expected description, got %s", result[0].Description)
	}
}

func TestConvertFromAnthropic(t *testing.T) {
	resp := &anthropicResponse{
		Model: "claude-sonnet-4-20250514",
		Role:  "assistant",
		Content: []anthropicContent{
			{Type: "text", Text: "Let me look that up."},
			{
				Type:  "tool_use",
				ID:    "toolu_xyz789",
				Name:  "retrieve_context",
				Input: map[string]any{"query": "migraine"},
			},
		},
		StopReason: "tool_use",
	}
	resp.Usage.InputTokens = 120
	resp.Usage.OutputTokens = 30

	result := convertFromAnthropic(resp)

	if result.Message.Content != "Let me look that up." {
		t.Errorf("unexpected content: %q", result.Message.Content)
	}
	if len(result.Message.ToolCalls) != 1 {
		t.Fatalf("expected 1 tool call, got %d", len(result.Message.ToolCalls))
	}
	tc := result.Message.ToolCalls[0]
	if tc.ID != "toolu_xyz789" || tc.Name != "retrieve_context" || tc.Arguments["query"] != "migraine" {
		t.Errorf("tool call = %+v", tc)
	}
	if result.InputTokens != 120 || result.OutputTokens != 30 {
		t.Errorf("tokens = %d/%d", result.InputTokens, result.OutputTokens)
	}
}

func TestAnthropicClient_Chat(t *testing.T) {
	var got anthropicRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-api-key") != "sk-test" {
			t.Errorf("x-api-key = %q", r.Header.Get("x-api-key"))
		}
		if r.Header.Get("anthropic-version") != anthropicAPIVersion {
			t.Errorf("anthropic-version = %q", r.Header.Get("anthropic-version"))
		}
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"model":"claude-test","content":[{"type":"text","text":"Drink water."}],"usage":{"input_tokens":5,"output_tokens":2}}`)
	}))
	defer srv.Close()

	c := NewAnthropicClient("sk-test", nil)
	c.endpoint = srv.URL

	resp, err := c.Chat(t.Context(), "claude-test", []Message{SystemMessage("sys"), UserMessage("hi")}, nil)
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Message.Content != "Drink water." {
		t.Errorf("content = %q", resp.Message.Content)
	}
	if got.System != "sys" || got.MaxTokens != anthropicMaxTokens {
		t.Errorf("request system=%q max_tokens=%d", got.System, got.MaxTokens)
	}
}

func TestAnthropicClient_ChatError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"overloaded"}`, 529)
	}))
	defer srv.Close()

	c := NewAnthropicClient("sk-test", nil)
	c.endpoint = srv.URL

	if _, err := c.Chat(t.Context(), "claude-test", []Message{UserMessage("hi")}, nil); err == nil {
		t.Fatal("expected error for non-200 response")
	}
}

func TestClientsImplementInterface(t *testing.T) {
	var _ Client = (*AnthropicClient)(nil)
	var _ Client = (*OllamaClient)(nil)
	var _ Client = (*OpenAIClient)(nil)
	var _ Client = (*Router)(nil)
}
