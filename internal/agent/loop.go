// Package agent implements the tool-calling agent loop: inject context,
// ask the model, run the requested tools in order, and repeat until the
// model answers without tool calls.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nugget/carepilot/internal/events"
	"github.com/nugget/carepilot/internal/llm"
	"github.com/nugget/carepilot/internal/prompts"
	"github.com/nugget/carepilot/internal/tools"
)

// DefaultMaxToolRounds bounds tool rounds when Config leaves it unset.
const DefaultMaxToolRounds = 10

// StepFunc receives numbered, human-readable progress descriptions.
type StepFunc func(step int, description string)

// Request is one agent run.
type Request struct {
	Messages       []llm.Message
	Context        Context
	Variant        Variant
	Tools          *tools.Registry
	Model          string // empty uses the loop default
	ConversationID string
	OnStep         StepFunc
}

// Result is the outcome of a run. Messages is the input transcript plus
// everything the run appended; the system message is never included.
type Result struct {
	Content      string
	Messages     []llm.Message
	Rounds       int
	Truncated    bool
	Failed       bool
	Model        string
	InputTokens  int
	OutputTokens int
}

// errEmptyResponse stands in for a client that returned neither a
// response nor an error.
var errEmptyResponse = errors.New("llm returned no response")

// Config tunes the loop.
type Config struct {
	MaxToolRounds int
	Timeout       time.Duration // zero disables the wall-clock limit
}

// Loop is the agent execution loop. It holds no per-run state and is
// safe for concurrent use.
type Loop struct {
	logger *slog.Logger
	llm    llm.Client
	model  string
	cfg    Config
	bus    *events.Bus
}

// NewLoop creates a loop. bus may be nil.
func NewLoop(logger *slog.Logger, client llm.Client, defaultModel string, cfg Config, bus *events.Bus) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxToolRounds <= 0 {
		cfg.MaxToolRounds = DefaultMaxToolRounds
	}
	return &Loop{
		logger: logger.With("component", "agent"),
		llm:    client,
		model:  defaultModel,
		cfg:    cfg,
		bus:    bus,
	}
}

// Run executes the loop. It never returns an error: a gateway failure
// yields the variant's fallback text with Failed set. Tool effects that
// happened before a failure are kept.
func (l *Loop) Run(ctx context.Context, req *Request) *Result {
	start := time.Now()
	model := req.Model
	if model == "" {
		model = l.model
	}
	if l.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.cfg.Timeout)
		defer cancel()
	}

	toolCtx := tools.WithUsername(ctx, req.Context.Username)
	toolCtx = tools.WithConversationID(toolCtx, req.ConversationID)

	log := l.logger.With("conversation_id", req.ConversationID, "variant", string(req.Variant), "model", model)
	log.Info("agent loop started", "messages", len(req.Messages))

	transcript := make([]llm.Message, len(req.Messages))
	copy(transcript, req.Messages)

	system := llm.SystemMessage(req.Context.Preamble(req.Variant))
	declared := req.Tools.List()

	res := &Result{Model: model}
	step := 0
	report := func(desc string) {
		step++
		if req.OnStep != nil {
			req.OnStep(step, desc)
		}
	}

	for {
		report("Thinking")
		l.bus.Emit(events.SourceAgent, events.KindLLMCall, map[string]any{
			"conversation_id": req.ConversationID,
			"model":           model,
			"round":           res.Rounds,
			"messages":        len(transcript) + 1,
		})

		callStart := time.Now()
		resp, err := l.llm.Chat(ctx, model, append([]llm.Message{system}, transcript...), declared)
		if err == nil && resp == nil {
			err = errEmptyResponse
		}
		if err != nil {
			log.Error("llm call failed", "round", res.Rounds, "error", err)
			res.Failed = true
			res.Content = req.Variant.Fallback()
			transcript = append(transcript, llm.AssistantMessage(res.Content))
			break
		}
		res.InputTokens += resp.InputTokens
		res.OutputTokens += resp.OutputTokens
		if resp.Model != "" {
			res.Model = resp.Model
		}

		msg := resp.Message
		msg.Role = llm.RoleAssistant
		if msg.Timestamp.IsZero() {
			msg.Timestamp = llm.Now()
		}
		for i := range msg.ToolCalls {
			if msg.ToolCalls[i].ID == "" {
				msg.ToolCalls[i].ID = fmt.Sprintf("call_%d_%d", res.Rounds, i)
			}
		}

		log.Debug("llm response",
			"round", res.Rounds,
			"tool_calls", len(msg.ToolCalls),
			"input_tokens", resp.InputTokens,
			"output_tokens", resp.OutputTokens,
			"elapsed", time.Since(callStart).Round(time.Millisecond),
		)
		l.bus.Emit(events.SourceAgent, events.KindLLMResponse, map[string]any{
			"conversation_id": req.ConversationID,
			"round":           res.Rounds,
			"tool_calls":      len(msg.ToolCalls),
			"input_tokens":    resp.InputTokens,
			"output_tokens":   resp.OutputTokens,
		})

		if len(msg.ToolCalls) == 0 {
			transcript = append(transcript, msg)
			res.Content = msg.Content
			break
		}

		if res.Rounds >= l.cfg.MaxToolRounds {
			log.Warn("tool round limit reached, truncating",
				"max_tool_rounds", l.cfg.MaxToolRounds,
				"dropped_calls", len(msg.ToolCalls),
			)
			msg.ToolCalls = nil
			if msg.Content == "" {
				msg.Content = prompts.TruncationNotice
			}
			transcript = append(transcript, msg)
			res.Content = msg.Content
			res.Truncated = true
			break
		}

		transcript = append(transcript, msg)
		res.Rounds++

		for _, tc := range msg.ToolCalls {
			report("Calling " + tc.Name)
			l.bus.Emit(events.SourceAgent, events.KindToolCall, map[string]any{
				"conversation_id": req.ConversationID,
				"tool":            tc.Name,
				"call_id":         tc.ID,
			})

			toolStart := time.Now()
			out := req.Tools.Execute(toolCtx, tc.Name, tc.Arguments)
			log.Log(ctx, llm.LevelTrace, "tool result", "tool", tc.Name, "call_id", tc.ID, "result", out)
			log.Info("tool executed",
				"tool", tc.Name,
				"call_id", tc.ID,
				"result_len", len(out),
				"elapsed", time.Since(toolStart).Round(time.Millisecond),
			)
			l.bus.Emit(events.SourceAgent, events.KindToolDone, map[string]any{
				"conversation_id": req.ConversationID,
				"tool":            tc.Name,
				"call_id":         tc.ID,
			})

			transcript = append(transcript, llm.ToolResultMessage(tc.ID, out))
		}
	}

	if !res.Failed {
		report("Responding")
	}
	res.Messages = transcript

	log.Info("agent loop completed",
		"rounds", res.Rounds,
		"truncated", res.Truncated,
		"failed", res.Failed,
		"input_tokens", res.InputTokens,
		"output_tokens", res.OutputTokens,
		"elapsed", time.Since(start).Round(time.Millisecond),
	)
	l.bus.Emit(events.SourceAgent, events.KindRequestComplete, map[string]any{
		"conversation_id": req.ConversationID,
		"rounds":          res.Rounds,
		"truncated":       res.Truncated,
		"failed":          res.Failed,
	})
	return res
}
