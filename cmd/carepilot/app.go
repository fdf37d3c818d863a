package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nugget/carepilot/internal/agent"
	"github.com/nugget/carepilot/internal/calendar"
	"github.com/nugget/carepilot/internal/chat"
	"github.com/nugget/carepilot/internal/config"
	"github.com/nugget/carepilot/internal/conversation"
	"github.com/nugget/carepilot/internal/daily"
	"github.com/nugget/carepilot/internal/dashboard"
	"github.com/nugget/carepilot/internal/database"
	"github.com/nugget/carepilot/internal/embeddings"
	"github.com/nugget/carepilot/internal/events"
	"github.com/nugget/carepilot/internal/ingest"
	"github.com/nugget/carepilot/internal/llm"
	"github.com/nugget/carepilot/internal/retrieval"
	"github.com/nugget/carepilot/internal/scheduler"
	"github.com/nugget/carepilot/internal/summarizer"
	"github.com/nugget/carepilot/internal/tools"
	"github.com/nugget/carepilot/internal/usage"
	"github.com/nugget/carepilot/internal/users"
)

// app holds every long-lived component. Commands build one with newApp
// and use the parts they need; nothing here is global.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	loc    *time.Location
	db     *sql.DB
	bus    *events.Bus

	gateway  *llm.Router
	embedder *embeddings.Client // nil when embeddings are disabled

	users         *users.Store
	calendar      *calendar.Store
	conversations *conversation.Store
	daily         *daily.Store
	retrieval     *retrieval.Store
	schedules     *scheduler.Store
	usage         *usage.Store
	ingester      *ingest.Ingester

	chatTools *tools.Registry
	dietTools *tools.Registry

	loop       *agent.Loop
	summarizer *summarizer.Worker
	chat       *chat.Service
	questions  *daily.Generator
	dashboard  *dashboard.Generator
}

// newApp opens the database and constructs every component. Background
// workers are not started.
func newApp(cfg *config.Config, logger *slog.Logger) (*app, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	db, err := database.Open(cfg.DatabasePath())
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger, loc: loc, db: db, bus: events.New()}
	if err := a.build(); err != nil {
		db.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) build() error {
	cfg, logger := a.cfg, a.logger
	var err error

	a.gateway = newGateway(cfg, logger)

	if a.users, err = users.NewStore(a.db); err != nil {
		return err
	}
	if a.calendar, err = calendar.NewStore(a.db, a.loc); err != nil {
		return err
	}
	if a.conversations, err = conversation.NewStore(a.db); err != nil {
		return err
	}
	if a.daily, err = daily.NewStore(a.db); err != nil {
		return err
	}
	if a.schedules, err = scheduler.NewStore(a.db); err != nil {
		return err
	}
	if a.usage, err = usage.NewStore(a.db); err != nil {
		return err
	}

	// Without embeddings the retrieval store ranks by term overlap. A
	// typed nil must not reach it.
	var embedder retrieval.Embedder
	if cfg.Embeddings.Enabled {
		a.embedder = embeddings.New(embeddings.Config{
			BaseURL: cfg.Embeddings.BaseURL,
			Model:   cfg.Embeddings.Model,
		}, logger)
		embedder = a.embedder
		logger.Info("embeddings enabled", "model", cfg.Embeddings.Model)
	}
	if a.retrieval, err = retrieval.NewStore(a.db, embedder, logger); err != nil {
		return err
	}
	a.ingester = ingest.New(a.retrieval, logger)

	// --- Tools ---
	// The chat agent gets everything; the diet agent only the meal
	// adapters.
	a.chatTools = tools.NewRegistry(logger)
	if err := tools.RegisterCalendarTools(a.chatTools, a.calendar); err != nil {
		return fmt.Errorf("register calendar tools: %w", err)
	}
	if err := tools.RegisterMealTools(a.chatTools, a.calendar); err != nil {
		return fmt.Errorf("register meal tools: %w", err)
	}
	if err := tools.RegisterRetrievalTool(a.chatTools, a.retrieval, logger); err != nil {
		return fmt.Errorf("register retrieval tool: %w", err)
	}
	a.dietTools = a.chatTools.FilteredCopy(tools.MealToolNames)

	a.loop = agent.NewLoop(logger, a.gateway, cfg.Models.Chat, agent.Config{
		MaxToolRounds: cfg.Agent.MaxToolRounds,
		Timeout:       cfg.Agent.Timeout,
	}, a.bus)

	a.summarizer = summarizer.New(a.users, a.gateway, a.bus, logger, summarizer.Config{
		QueueSize: cfg.Summarizer.QueueSize,
		Timeout:   cfg.Summarizer.Timeout,
		Messages:  cfg.Summarizer.Messages,
		Model:     cfg.Models.Background,
	})

	a.chat = chat.New(chat.Deps{
		Conversations: a.conversations,
		Profiles:      a.users,
		Answers:       a.daily,
		Meals:         a.calendar,
		Summaries:     a.summarizer,
		Usage:         a.usage,
		Agent:         a.loop,
		ChatTools:     a.chatTools,
		DietTools:     a.dietTools,
	}, chat.Config{
		ChatModel:     cfg.Models.Chat,
		DietModel:     cfg.Models.Diet,
		ContextTokens: cfg.Agent.ContextTokens,
		Location:      a.loc,
	}, logger)

	a.questions = daily.NewGenerator(a.daily, a.users, a.conversations, a.gateway, cfg.Models.Background, a.loc, logger)
	a.dashboard = dashboard.NewGenerator(a.daily, a.users, a.calendar, a.gateway, cfg.Models.Background, a.loc, logger)

	a.calendar.Observe(func(_ context.Context, action string, e calendar.Event) {
		a.bus.Emit(events.SourceCalendar, events.KindEventChanged, map[string]any{
			"username": e.Owner,
			"action":   action,
			"event_id": e.ID,
		})
	})
	return nil
}

// newGateway registers every configured provider. Ollama is always
// present and serves models with no explicit mapping.
func newGateway(cfg *config.Config, logger *slog.Logger) *llm.Router {
	r := llm.NewRouter("ollama")
	r.AddProvider("ollama", llm.NewOllamaClient(cfg.Models.OllamaURL, logger))
	if cfg.Anthropic.Configured() {
		r.AddProvider("anthropic", llm.NewAnthropicClient(cfg.Anthropic.APIKey, logger))
	}
	if cfg.OpenAI.Configured() {
		r.AddProvider("openai", llm.NewOpenAIClient(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, logger))
	}
	for _, m := range cfg.Models.Available {
		if r.Provider(m.Provider) == nil {
			logger.Warn("model provider not configured, routing to ollama", "model", m.Name, "provider", m.Provider)
		}
		r.AddModel(m.Name, m.Provider)
	}
	return r
}

// summarizeRecord condenses an uploaded patient record with the
// background model.
func (a *app) summarizeRecord(ctx context.Context, record string) (string, error) {
	return summarizer.SummarizePatientRecord(ctx, a.gateway, a.cfg.Models.Background, record)
}

// pregenerate is the daily job: questions and dashboard for every user.
func (a *app) pregenerate() scheduler.Job {
	return scheduler.ForEachUser(a.users, a.logger,
		func(ctx context.Context, username string, now time.Time) error {
			_, err := a.questions.Generate(ctx, username, now)
			return err
		},
		func(ctx context.Context, username string, now time.Time) error {
			_, err := a.dashboard.Generate(ctx, username, now)
			return err
		},
	)
}

// Close releases the database.
func (a *app) Close() error {
	return a.db.Close()
}

// errNoUser is returned by generate --user for an unknown name.
var errNoUser = errors.New("no such user")
