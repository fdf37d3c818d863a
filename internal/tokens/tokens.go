// Package tokens estimates prompt sizes so chat history can be windowed
// to a budget before it is sent to a model.
package tokens

import (
	"github.com/pkoukk/tiktoken-go"

	"github.com/nugget/carepilot/internal/llm"
)

// Per-message framing overhead (role markers and separators) and the
// reply primer, as counted for cl100k-style chat encodings.
const (
	messageOverhead = 4
	replyOverhead   = 3
)

// Counter counts tokens with the cl100k_base encoding. When the
// encoding cannot be loaded it estimates four bytes per token.
type Counter struct {
	enc *tiktoken.Tiktoken
}

// NewCounter loads the cl100k_base encoding. It never fails; a missing
// encoding degrades to the byte estimate.
func NewCounter() *Counter {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return &Counter{}
	}
	return &Counter{enc: enc}
}

// Count returns the token count of text.
func (c *Counter) Count(text string) int {
	if c == nil || c.enc == nil {
		return (len(text) + 3) / 4
	}
	return len(c.enc.Encode(text, nil, nil))
}

// CountMessage returns the cost of one message including framing and
// any tool-call arguments it carries.
func (c *Counter) CountMessage(m llm.Message) int {
	n := messageOverhead + c.Count(string(m.Role)) + c.Count(m.Content)
	for _, tc := range m.ToolCalls {
		n += c.Count(tc.Name)
		for k, v := range tc.Arguments {
			n += c.Count(k)
			if s, ok := v.(string); ok {
				n += c.Count(s)
			} else {
				n++
			}
		}
	}
	return n
}

// CountMessages returns the cost of a whole transcript.
func (c *Counter) CountMessages(msgs []llm.Message) int {
	n := replyOverhead
	for _, m := range msgs {
		n += c.CountMessage(m)
	}
	return n
}

// Window returns the longest suffix of msgs that fits within budget.
// The suffix never starts on a tool result, so a tool call is never
// separated from its result. The final message is always kept, even
// when it alone exceeds the budget.
func (c *Counter) Window(msgs []llm.Message, budget int) []llm.Message {
	if len(msgs) == 0 {
		return msgs
	}
	used := replyOverhead
	start := len(msgs)
	for i := len(msgs) - 1; i >= 0; i-- {
		cost := c.CountMessage(msgs[i])
		if used+cost > budget && start < len(msgs) {
			break
		}
		used += cost
		start = i
	}
	for start < len(msgs)-1 && msgs[start].Role == llm.RoleTool {
		start++
	}
	return msgs[start:]
}
