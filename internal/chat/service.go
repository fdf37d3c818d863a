// Package chat runs user-facing agent turns: it loads and persists the
// conversation, assembles the per-user context, and hands the
// transcript to the agent loop.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nugget/carepilot/internal/agent"
	"github.com/nugget/carepilot/internal/calendar"
	"github.com/nugget/carepilot/internal/conditions"
	"github.com/nugget/carepilot/internal/conversation"
	"github.com/nugget/carepilot/internal/daily"
	"github.com/nugget/carepilot/internal/database"
	"github.com/nugget/carepilot/internal/llm"
	"github.com/nugget/carepilot/internal/prompts"
	"github.com/nugget/carepilot/internal/summarizer"
	"github.com/nugget/carepilot/internal/tokens"
	"github.com/nugget/carepilot/internal/tools"
	"github.com/nugget/carepilot/internal/usage"
	"github.com/nugget/carepilot/internal/users"
)

// Errors returned by Turn and Plan.
var (
	ErrEmptyMessage = errors.New("no message provided")
	ErrUnknownUser  = errors.New("user not found")
)

// DefaultPlanDays is used when a diet plan request names no day count.
const DefaultPlanDays = 7

// Conversations persists transcripts.
type Conversations interface {
	Create(ctx context.Context, owner, id string) error
	Get(ctx context.Context, owner, id string) (*conversation.Conversation, error)
	Replace(ctx context.Context, owner, id string, messages []llm.Message, state map[string]any, title *string) error
	RecentMessages(ctx context.Context, owner string, since time.Time, limit int) ([]llm.Message, error)
}

// Profiles looks up users.
type Profiles interface {
	Get(ctx context.Context, username string) (*users.User, error)
}

// Answers reads submitted daily answers.
type Answers interface {
	Days(ctx context.Context, owner string, since time.Time) ([]daily.Day, error)
}

// Meals lists calendar entries in a range.
type Meals interface {
	Between(ctx context.Context, owner string, from, to time.Time) ([]calendar.Event, error)
}

// Summaries accepts fire-and-forget summary jobs.
type Summaries interface {
	Enqueue(job summarizer.Job) error
}

// Ledger records the tokens each run spent.
type Ledger interface {
	Record(ctx context.Context, rec usage.Record) error
}

// Runner executes agent runs.
type Runner interface {
	Run(ctx context.Context, req *agent.Request) *agent.Result
}

// Deps are the collaborators of a Service. Summaries, Meals and Usage
// may be nil.
type Deps struct {
	Conversations Conversations
	Profiles      Profiles
	Answers       Answers
	Meals         Meals
	Summaries     Summaries
	Usage         Ledger
	Agent         Runner
	ChatTools     *tools.Registry
	DietTools     *tools.Registry
}

// Config selects models and budgets.
type Config struct {
	ChatModel     string
	DietModel     string
	ContextTokens int            // history budget; zero sends everything
	Location      *time.Location // calendar days for daily answers
}

// Service runs chat turns and diet plans.
type Service struct {
	deps    Deps
	cfg     Config
	counter *tokens.Counter
	logger  *slog.Logger
	now     func() time.Time
}

// New creates a Service.
func New(deps Deps, cfg Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	return &Service{
		deps:    deps,
		cfg:     cfg,
		counter: tokens.NewCounter(),
		logger:  logger.With("component", "chat"),
		now:     time.Now,
	}
}

// Turn is the outcome of one chat message.
type Turn struct {
	ConversationID string
	History        []llm.Message
	Content        string
	Failed         bool
}

// Turn appends message to the conversation, runs the chat agent, and
// stores the updated transcript. An empty conversationID starts a new
// conversation; an unknown one is created under that id. The gateway
// never makes Turn fail: the fallback reply is stored like any other.
func (s *Service) Turn(ctx context.Context, username, conversationID, message string, onStep agent.StepFunc) (*Turn, error) {
	if strings.TrimSpace(message) == "" {
		return nil, ErrEmptyMessage
	}
	user, err := s.user(ctx, username)
	if err != nil {
		return nil, err
	}

	conv, err := s.conversation(ctx, username, conversationID)
	if err != nil {
		return nil, err
	}

	history := append(conv.Messages, llm.UserMessage(message))
	window := history
	if s.cfg.ContextTokens > 0 {
		window = s.counter.Window(history, s.cfg.ContextTokens)
	}
	dropped := history[:len(history)-len(window)]
	if len(dropped) > 0 {
		s.logger.Debug("history windowed",
			"conversation_id", conv.ID,
			"dropped", len(dropped),
			"kept", len(window),
		)
	}

	actx, err := s.agentContext(ctx, user)
	if err != nil {
		return nil, err
	}

	res := s.deps.Agent.Run(ctx, &agent.Request{
		Messages:       window,
		Context:        actx,
		Variant:        agent.VariantChat,
		Tools:          s.deps.ChatTools,
		Model:          s.cfg.ChatModel,
		ConversationID: conv.ID,
		OnStep:         onStep,
	})

	s.record(ctx, username, conv.ID, usage.KindChat, res)

	full := make([]llm.Message, 0, len(dropped)+len(res.Messages))
	full = append(full, dropped...)
	full = append(full, res.Messages...)

	var title *string
	if conv.Title == "" {
		if t := conversation.DeriveTitle(full); t != "" {
			title = &t
		}
	}
	if err := s.deps.Conversations.Replace(ctx, username, conv.ID, full, conv.State, title); err != nil {
		return nil, fmt.Errorf("store conversation: %w", err)
	}

	if s.deps.Summaries != nil {
		// A dropped job is logged by the worker; the turn succeeds anyway.
		_ = s.deps.Summaries.Enqueue(summarizer.Job{Username: username, Messages: full})
	}

	return &Turn{
		ConversationID: conv.ID,
		History:        full,
		Content:        res.Content,
		Failed:         res.Failed,
	}, nil
}

// Plan runs the diet agent for the next days and returns its final
// answer. Meals are written to the calendar by the agent's tools.
func (s *Service) Plan(ctx context.Context, username string, days int, preferences string) (string, error) {
	if days <= 0 {
		days = DefaultPlanDays
	}
	user, err := s.user(ctx, username)
	if err != nil {
		return "", err
	}
	actx, err := s.agentContext(ctx, user)
	if err != nil {
		return "", err
	}

	now := s.now().In(s.cfg.Location)
	if plan := s.currentPlan(ctx, username, now, days); plan != "" {
		actx.DomainState = map[string]string{"Current diet plan": plan}
	}

	recent, err := s.deps.Conversations.RecentMessages(ctx, username, now.Add(-24*time.Hour), 10)
	if err != nil {
		return "", err
	}
	msgs := append(recent, llm.UserMessage(prompts.DietPlanRequest(days, preferences)))

	res := s.deps.Agent.Run(ctx, &agent.Request{
		Messages: msgs,
		Context:  actx,
		Variant:  agent.VariantDiet,
		Tools:    s.deps.DietTools,
		Model:    s.cfg.DietModel,
	})
	s.record(ctx, username, "", usage.KindDiet, res)
	return res.Content, nil
}

// currentPlan renders meals already on the calendar for the planning
// window, one per line.
func (s *Service) currentPlan(ctx context.Context, username string, now time.Time, days int) string {
	if s.deps.Meals == nil {
		return ""
	}
	y, m, d := now.Date()
	from := time.Date(y, m, d+1, 0, 0, 0, 0, now.Location())
	events, err := s.deps.Meals.Between(ctx, username, from, from.AddDate(0, 0, days))
	if err != nil {
		s.logger.Warn("failed to load current meals", "username", username, "error", err)
		return ""
	}
	var sb strings.Builder
	for _, e := range events {
		if tools.IsMeal(e.Description) {
			fmt.Fprintf(&sb, "%s %s\n", e.From.Format("2006-01-02 15:04"), e.Description)
		}
	}
	return sb.String()
}

func (s *Service) user(ctx context.Context, username string) (*users.User, error) {
	u, err := s.deps.Profiles.Get(ctx, username)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, ErrUnknownUser
	}
	return u, nil
}

// conversation returns the conversation to append to, creating it when
// needed. An id owned by another user is reported as not found.
func (s *Service) conversation(ctx context.Context, owner, id string) (*conversation.Conversation, error) {
	if id == "" {
		id = conversation.NewID()
		s.logger.Info("new conversation started", "username", owner, "conversation_id", id)
	} else {
		conv, err := s.deps.Conversations.Get(ctx, owner, id)
		if err != nil {
			return nil, err
		}
		if conv != nil {
			return conv, nil
		}
	}

	if err := s.deps.Conversations.Create(ctx, owner, id); err != nil {
		if errors.Is(err, conversation.ErrExists) {
			return nil, conversation.ErrNotFound
		}
		return nil, err
	}
	return &conversation.Conversation{ID: id, Owner: owner}, nil
}

// agentContext gathers the profile, today's answers, and summaries.
func (s *Service) agentContext(ctx context.Context, u *users.User) (agent.Context, error) {
	today := s.now().In(s.cfg.Location)
	var answers []daily.Answer
	if s.deps.Answers != nil {
		days, err := s.deps.Answers.Days(ctx, u.Username, today)
		if err != nil {
			return agent.Context{}, err
		}
		key := today.Format(database.DateFormat)
		for _, d := range days {
			if d.Date == key {
				answers = d.Answers
			}
		}
	}
	return agent.Context{
		Conditions:     conditions.Current(today),
		Username:       u.Username,
		ProfileAnswers: users.ProfileAnswers(u),
		DailyAnswers:   answers,
		RecentSummary:  u.RecentSummary,
		PatientSummary: u.PatientSummary,
	}, nil
}

// record adds res to the usage ledger. Runs that spent nothing, such as
// gateway failures, are skipped. Ledger failures only log.
func (s *Service) record(ctx context.Context, username, conversationID string, kind usage.Kind, res *agent.Result) {
	if s.deps.Usage == nil || (res.InputTokens == 0 && res.OutputTokens == 0) {
		return
	}
	err := s.deps.Usage.Record(ctx, usage.Record{
		Timestamp:      s.now(),
		Username:       username,
		ConversationID: conversationID,
		Kind:           kind,
		Model:          res.Model,
		InputTokens:    res.InputTokens,
		OutputTokens:   res.OutputTokens,
	})
	if err != nil {
		s.logger.Warn("failed to record usage", "username", username, "error", err)
	}
}
