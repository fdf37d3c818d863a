package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// jsonInstruction is appended to the conversation so that providers
// without a native JSON mode still answer with a bare document.
const jsonInstruction = "Respond with a single JSON document only. Do not wrap it in markdown and do not add commentary."

// Structured asks the model for a JSON answer and decodes it into out.
// Code fences and leading prose are tolerated; anything that still does
// not decode is an error.
func Structured(ctx context.Context, client Client, model string, messages []Message, out any) error {
	msgs := make([]Message, 0, len(messages)+1)
	msgs = append(msgs, messages...)
	msgs = append(msgs, SystemMessage(jsonInstruction))

	resp, err := client.Chat(ctx, model, msgs, nil)
	if err != nil {
		return err
	}

	raw := ExtractJSON(resp.Message.Content)
	if raw == "" {
		return fmt.Errorf("no JSON in model response")
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return fmt.Errorf("decode model JSON: %w", err)
	}
	return nil
}

// ExtractJSON returns the JSON document embedded in a model reply. It
// strips ```json fences and, failing that, takes the span from the first
// opening bracket to the matching last closing one.
func ExtractJSON(content string) string {
	s := strings.TrimSpace(content)

	if i := strings.Index(s, "```"); i != -1 {
		rest := s[i+3:]
		if nl := strings.IndexByte(rest, '\n'); nl != -1 {
			rest = rest[nl+1:] // drop the language tag line
		}
		if end := strings.LastIndex(rest, "```"); end != -1 {
			rest = rest[:end]
		}
		s = strings.TrimSpace(rest)
	}

	if json.Valid([]byte(s)) {
		return s
	}

	start := strings.IndexAny(s, "{[")
	if start == -1 {
		return ""
	}
	closer := byte('}')
	if s[start] == '[' {
		closer = ']'
	}
	end := strings.LastIndexByte(s, closer)
	if end <= start {
		return ""
	}
	candidate := s[start : end+1]
	if !json.Valid([]byte(candidate)) {
		return ""
	}
	return candidate
}
