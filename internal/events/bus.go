// Package events provides a publish/subscribe bus for operational
// events. The agent loop, summarizer, scheduler and calendar publish;
// the log recorder subscribes. Publish on a nil *Bus is a no-op, so
// components do not need guard checks.
package events

import (
	"log/slog"
	"sync"
	"time"
)

// Source constants identify which component published an event.
const (
	SourceAgent      = "agent"
	SourceSummarizer = "summarizer"
	SourceScheduler  = "scheduler"
	SourceCalendar   = "calendar"
)

// Kind constants describe the type of event within a source.
const (
	// KindLLMCall signals the start of a gateway call.
	// Data: conversation_id, round, model.
	KindLLMCall = "llm_call"
	// KindLLMResponse signals completion of a gateway call.
	// Data: conversation_id, round, model, tokens_in, tokens_out, tool_calls.
	KindLLMResponse = "llm_response"
	// KindToolCall signals the start of a tool execution.
	// Data: conversation_id, round, tool.
	KindToolCall = "tool_call"
	// KindToolDone signals completion of a tool execution.
	// Data: conversation_id, tool, duration_ms.
	KindToolDone = "tool_done"
	// KindRequestComplete signals the end of a loop run.
	// Data: conversation_id, model, rounds, truncated, failed, elapsed_ms.
	KindRequestComplete = "request_complete"

	// KindSummaryStored signals a recent summary was written.
	// Data: username, chars.
	KindSummaryStored = "summary_stored"
	// KindJobDropped signals a summary job was rejected by a full queue.
	// Data: username.
	KindJobDropped = "job_dropped"

	// KindTaskFired and KindTaskComplete bracket a scheduled run.
	// Data: task, users, ok, duration_ms.
	KindTaskFired    = "task_fired"
	KindTaskComplete = "task_complete"

	// KindEventChanged signals a calendar mutation.
	// Data: username, action, event_id.
	KindEventChanged = "event_changed"
)

// Event represents a single operational event published by a component.
type Event struct {
	Timestamp time.Time      `json:"ts"`
	Source    string         `json:"source"`
	Kind      string         `json:"kind"`
	Data      map[string]any `json:"data,omitempty"`
}

// Bus is a non-blocking broadcast event bus. Subscribers receive events
// on buffered channels; slow subscribers miss events rather than
// blocking publishers.
type Bus struct {
	mu   sync.RWMutex
	subs map[chan Event]struct{}
	// recvToSend maps the receive-only channel returned by Subscribe
	// back to the bidirectional channel stored in subs.
	recvToSend map[<-chan Event]chan Event
}

// New creates a new event bus ready for use.
func New() *Bus {
	return &Bus{
		subs:       make(map[chan Event]struct{}),
		recvToSend: make(map[<-chan Event]chan Event),
	}
}

// Publish sends an event to all subscribers. A full subscriber misses
// the event. Safe to call on a nil receiver.
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Emit stamps and publishes an event. Safe to call on a nil receiver.
func (b *Bus) Emit(source, kind string, data map[string]any) {
	if b == nil {
		return
	}
	b.Publish(Event{Timestamp: time.Now(), Source: source, Kind: kind, Data: data})
}

// Subscribe returns a channel that receives published events. The
// caller must eventually call Unsubscribe.
func (b *Bus) Subscribe(bufSize int) <-chan Event {
	ch := make(chan Event, bufSize)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[ch] = struct{}{}
	b.recvToSend[ch] = ch
	return ch
}

// Unsubscribe removes a subscription and closes the channel. Safe to
// call with a channel that is already unsubscribed.
func (b *Bus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sendCh, ok := b.recvToSend[ch]
	if !ok {
		return
	}
	delete(b.subs, sendCh)
	delete(b.recvToSend, ch)
	close(sendCh)
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Record logs every event at debug level until the channel closes.
// It is the operator's view of the bus when no WebSocket is attached.
func Record(ch <-chan Event, logger *slog.Logger) {
	for e := range ch {
		args := []any{"source", e.Source, "kind", e.Kind}
		for k, v := range e.Data {
			args = append(args, k, v)
		}
		logger.Debug("event", args...)
	}
}
