// Package llm provides the model gateway: a provider-neutral message
// type, the Client interface, and Ollama, Anthropic and OpenAI-compatible
// implementations.
package llm

import (
	"log/slog"
	"time"
)

// LevelTrace is below Debug, used for wire-level payload logging.
const LevelTrace = slog.Level(-8)

// Role tags a Message with its speaker.
type Role string

// Message roles.
const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Attachment references a non-text part of a user message, e.g. a photo
// of a rash. Only the reference is stored; providers that accept images
// receive the URL.
type Attachment struct {
	MediaType string `json:"media_type,omitempty"` // e.g. image/jpeg
	URL       string `json:"url"`
}

// Message is one entry of a transcript. Every provider converts to and
// from this type at its boundary; nothing else probes provider shapes.
type Message struct {
	Role       Role        `json:"role"`
	Content    string      `json:"content"`
	Attachment *Attachment `json:"attachment,omitempty"`
	ToolCalls  []ToolCall  `json:"tool_calls,omitempty"`
	ToolCallID string      `json:"tool_call_id,omitempty"` // For tool responses
	Timestamp  time.Time   `json:"timestamp"`
}

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID        string         `json:"id,omitempty"` // Provider-assigned call id, pairs with Message.ToolCallID
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// Now is the timestamp new messages carry: UTC without the monotonic
// clock reading, so a transcript read back from storage is equal to
// the one that was written.
func Now() time.Time {
	return time.Now().UTC().Round(0)
}

// SystemMessage returns a system-role message.
func SystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content, Timestamp: Now()}
}

// UserMessage returns a user-role message.
func UserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content, Timestamp: Now()}
}

// AssistantMessage returns an assistant-role message without tool calls.
func AssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content, Timestamp: Now()}
}

// ToolResultMessage returns the result of the tool call identified by callID.
func ToolResultMessage(callID, content string) Message {
	return Message{Role: RoleTool, Content: content, ToolCallID: callID, Timestamp: Now()}
}

// ChatResponse is the unified response from any LLM provider.
// Wire format conversion happens at provider boundaries.
type ChatResponse struct {
	Model     string
	CreatedAt time.Time
	Message   Message
	Done      bool

	// Token usage (provider-neutral)
	InputTokens  int
	OutputTokens int

	// Timing (populated when available)
	TotalDuration time.Duration
	LoadDuration  time.Duration
	EvalDuration  time.Duration
}
