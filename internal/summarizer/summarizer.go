// Package summarizer keeps each user's recent-conversation summary up to
// date. Chat turns enqueue jobs; a single background worker drains the
// queue so a slow model never delays a response.
package summarizer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nugget/carepilot/internal/events"
	"github.com/nugget/carepilot/internal/llm"
	"github.com/nugget/carepilot/internal/prompts"
)

// Config controls the summarizer worker behavior.
type Config struct {
	// QueueSize bounds pending jobs. A full queue drops new jobs.
	// Default: 64.
	QueueSize int

	// Timeout per summarization LLM call.
	// Default: 60 seconds.
	Timeout time.Duration

	// Messages is how many trailing transcript messages are summarized.
	// Default: 5.
	Messages int

	// Model used for summaries.
	Model string
}

// DefaultConfig returns sensible defaults for the summarizer worker.
func DefaultConfig() Config {
	return Config{
		QueueSize: 64,
		Timeout:   60 * time.Second,
		Messages:  5,
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.QueueSize <= 0 {
		c.QueueSize = d.QueueSize
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.Messages <= 0 {
		c.Messages = d.Messages
	}
}

// maxTranscriptBytes is the maximum transcript size sent to the LLM.
const maxTranscriptBytes = 8000

// SummaryStore persists the summary.
type SummaryStore interface {
	SetRecentSummary(ctx context.Context, username, summary string) error
}

// Job is one summarization request.
type Job struct {
	Username string
	Messages []llm.Message
}

// ErrQueueFull is returned by Enqueue when the job was dropped.
var ErrQueueFull = errors.New("summarizer queue full")

// errNoResponse stands in for a client that returned neither a response
// nor an error.
var errNoResponse = errors.New("llm returned no response")

// Worker summarizes enqueued transcripts on a single goroutine.
type Worker struct {
	store     SummaryStore
	llmClient llm.Client
	bus       *events.Bus
	logger    *slog.Logger
	config    Config

	jobs   chan Job
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a summarizer worker. Call Start to begin processing;
// jobs enqueued before Start wait in the queue.
func New(store SummaryStore, llmClient llm.Client, bus *events.Bus, logger *slog.Logger, cfg Config) *Worker {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		store:     store,
		llmClient: llmClient,
		bus:       bus,
		logger:    logger.With("component", "summarizer"),
		config:    cfg,
		jobs:      make(chan Job, cfg.QueueSize),
		done:      make(chan struct{}),
	}
}

// Start launches the background worker.
func (w *Worker) Start(ctx context.Context) {
	workerCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	go w.run(workerCtx)
}

// Stop cancels the worker and waits for its goroutine to exit. Jobs
// still queued are discarded.
func (w *Worker) Stop() {
	if w.cancel == nil {
		return
	}
	w.cancel()
	<-w.done
}

// Enqueue submits a job without blocking. Only the trailing
// conversational messages are kept, so tool rounds do not crowd out
// what the user and assistant said. When the queue is full the job is
// dropped with a warning and ErrQueueFull is returned.
func (w *Worker) Enqueue(job Job) error {
	msgs := conversational(job.Messages)
	if n := len(msgs); n > w.config.Messages {
		msgs = msgs[n-w.config.Messages:]
	}
	job.Messages = msgs

	select {
	case w.jobs <- job:
		return nil
	default:
		w.logger.Warn("summary queue full, dropping job", "username", job.Username)
		w.bus.Emit(events.SourceSummarizer, events.KindJobDropped, map[string]any{"username": job.Username})
		return ErrQueueFull
	}
}

func (w *Worker) run(ctx context.Context) {
	defer close(w.done)
	w.logger.Info("summarizer started", "queue_size", w.config.QueueSize)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("summarizer stopped")
			return
		case job := <-w.jobs:
			w.process(ctx, job)
		}
	}
}

func (w *Worker) process(ctx context.Context, job Job) {
	ctx, cancel := context.WithTimeout(ctx, w.config.Timeout)
	defer cancel()

	transcript := buildTranscript(job.Messages)
	if transcript == "" {
		return
	}

	msgs := []llm.Message{llm.UserMessage(prompts.RecentSummaryPrompt(transcript))}
	resp, err := w.llmClient.Chat(ctx, w.config.Model, msgs, nil)
	if err == nil && resp == nil {
		err = errNoResponse
	}
	if err != nil {
		w.logger.Warn("failed to generate recent summary",
			"username", job.Username,
			"model", w.config.Model,
			"error", err,
		)
		return
	}

	summary := strings.TrimSpace(resp.Message.Content)
	if err := w.store.SetRecentSummary(ctx, job.Username, summary); err != nil {
		w.logger.Warn("failed to save recent summary",
			"username", job.Username,
			"error", err,
		)
		return
	}

	w.logger.Info("recent summary stored",
		"username", job.Username,
		"messages", len(job.Messages),
		"summary_len", len(summary),
	)
	w.bus.Emit(events.SourceSummarizer, events.KindSummaryStored, map[string]any{"username": job.Username})
}

// conversational returns a copy of the user and assistant messages that
// carry text.
func conversational(messages []llm.Message) []llm.Message {
	out := make([]llm.Message, 0, len(messages))
	for _, m := range messages {
		if m.Role != llm.RoleUser && m.Role != llm.RoleAssistant {
			continue
		}
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		out = append(out, m)
	}
	return out
}

// buildTranscript renders user and assistant turns as "role: content"
// lines, truncated at maxTranscriptBytes. Tool traffic and empty
// assistant turns are skipped.
func buildTranscript(messages []llm.Message) string {
	var b strings.Builder
	for _, m := range conversational(messages) {
		fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
		if b.Len() > maxTranscriptBytes {
			b.WriteString("\n... (truncated)\n")
			break
		}
	}
	return b.String()
}

// SummarizePatientRecord asks the model for a clinical summary of an
// uploaded patient record. The result carries the summary prefix used
// on stored profiles.
func SummarizePatientRecord(ctx context.Context, client llm.Client, model, record string) (string, error) {
	if strings.TrimSpace(record) == "" {
		return "", errors.New("patient record is empty")
	}
	msgs := []llm.Message{llm.UserMessage(prompts.PatientRecordPrompt(record))}
	resp, err := client.Chat(ctx, model, msgs, nil)
	if err == nil && resp == nil {
		err = errNoResponse
	}
	if err != nil {
		return "", fmt.Errorf("summarize patient record: %w", err)
	}
	return prompts.PatientSummaryPrefix + strings.TrimSpace(resp.Message.Content), nil
}
