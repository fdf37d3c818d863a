package daily

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nugget/carepilot/internal/llm"
	"github.com/nugget/carepilot/internal/prompts"
	"github.com/nugget/carepilot/internal/users"
)

// recentWindow is how far back the generator reads the conversation.
const recentWindow = 24 * time.Hour

// ProfileSource looks up a user's profile.
type ProfileSource interface {
	Get(ctx context.Context, username string) (*users.User, error)
}

// MessageSource returns a user's recent user and assistant messages.
type MessageSource interface {
	RecentMessages(ctx context.Context, owner string, since time.Time, limit int) ([]llm.Message, error)
}

// Generator builds the per-day question set: the base questions plus up
// to MaxExtraQuestions proposed by the model.
type Generator struct {
	store    *Store
	profiles ProfileSource
	messages MessageSource
	llm      llm.Client
	model    string
	loc      *time.Location
	logger   *slog.Logger
}

// NewGenerator creates a question generator. Dates are computed in loc.
func NewGenerator(store *Store, profiles ProfileSource, messages MessageSource, client llm.Client, model string, loc *time.Location, logger *slog.Logger) *Generator {
	if loc == nil {
		loc = time.Local
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{
		store:    store,
		profiles: profiles,
		messages: messages,
		llm:      client,
		model:    model,
		loc:      loc,
		logger:   logger.With("component", "daily"),
	}
}

// Questions returns the question set for the day containing now, from
// the cache when one was already generated.
func (g *Generator) Questions(ctx context.Context, username string, now time.Time) ([]Question, error) {
	day := now.In(g.loc)

	var cached []Question
	ok, err := g.store.Artifact(ctx, KindQuestions, username, day, &cached)
	if err != nil {
		return nil, err
	}
	if ok {
		return cached, nil
	}
	return g.Generate(ctx, username, now)
}

// Generate builds a fresh question set for the day containing now and
// caches it, replacing any earlier set for that day.
func (g *Generator) Generate(ctx context.Context, username string, now time.Time) ([]Question, error) {
	day := now.In(g.loc)

	questions := BaseQuestions()
	questions = append(questions, g.extras(ctx, username, now)...)

	if err := g.store.PutArtifact(ctx, KindQuestions, username, day, questions); err != nil {
		return nil, err
	}
	return questions, nil
}

// extras asks the model for follow-up questions. Every failure yields
// no extras; the base set is always served.
func (g *Generator) extras(ctx context.Context, username string, now time.Time) []Question {
	var summary string
	u, err := g.profiles.Get(ctx, username)
	if err != nil {
		g.logger.Warn("profile lookup failed", "user", username, "error", err)
	} else if u != nil {
		summary = strings.TrimSpace(u.PatientSummary + "\n" + u.RecentSummary)
	}

	msgs, err := g.messages.RecentMessages(ctx, username, now.Add(-recentWindow), 0)
	if err != nil {
		g.logger.Warn("recent messages lookup failed", "user", username, "error", err)
	}

	base := BaseQuestions()
	texts := make([]string, len(base))
	for i, q := range base {
		texts[i] = q.Question
	}

	var out struct {
		Questions []Question `json:"questions"`
	}
	prompt := prompts.DailyQuestionsPrompt(texts, summary, FormatTranscript(msgs))
	if err := llm.Structured(ctx, g.llm, g.model, []llm.Message{llm.UserMessage(prompt)}, &out); err != nil {
		g.logger.Warn("extra question generation failed", "user", username, "model", g.model, "error", err)
		return nil
	}

	extras := LimitExtras(out.Questions)
	g.logger.Debug("extra questions generated", "user", username, "proposed", len(out.Questions), "kept", len(extras))
	return extras
}

// LimitExtras drops proposals without text, keeps the first
// MaxExtraQuestions in the order given, and repairs their types.
func LimitExtras(proposed []Question) []Question {
	var out []Question
	for _, q := range proposed {
		if len(out) == MaxExtraQuestions {
			break
		}
		q.Question = strings.TrimSpace(q.Question)
		if q.Question == "" {
			continue
		}
		q.Field = ""
		out = append(out, normalize(q))
	}
	return out
}

// FormatTranscript renders messages as "role: content" lines.
func FormatTranscript(msgs []llm.Message) string {
	var sb strings.Builder
	for _, m := range msgs {
		fmt.Fprintf(&sb, "%s: %s\n", m.Role, m.Content)
	}
	return strings.TrimRight(sb.String(), "\n")
}
