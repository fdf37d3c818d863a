package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nugget/carepilot/internal/api"
	"github.com/nugget/carepilot/internal/buildinfo"
	"github.com/nugget/carepilot/internal/events"
	"github.com/nugget/carepilot/internal/health"
	"github.com/nugget/carepilot/internal/notify"
	"github.com/nugget/carepilot/internal/scheduler"
)

// pregenerateJob names the daily pre-generation in the scheduler.
const pregenerateJob = "pregenerate"

func newServeCommand(g *globals, stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), stdout, g)
		},
	}
}

// runServe is the primary operating mode. It builds the app, starts the
// background workers and the API server, and blocks until SIGINT,
// SIGTERM or a server failure. Shutdown drains HTTP first, then stops
// the workers through the defers in reverse start order.
func runServe(ctx context.Context, stdout io.Writer, g *globals) error {
	a, err := setup(g, stdout)
	if err != nil {
		return err
	}
	defer a.Close()
	cfg, logger := a.cfg, a.logger
	logger.Info("starting CarePilot", "version", buildinfo.Version, "commit", buildinfo.GitCommit, "built", buildinfo.BuildTime)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Event log ---
	eventCh := a.bus.Subscribe(256)
	go events.Record(eventCh, logger.With("component", "events"))
	defer a.bus.Unsubscribe(eventCh)

	// --- Dependency health ---
	monitor := health.NewMonitor(health.Timing{}, logger)
	for _, name := range a.gateway.Providers() {
		monitor.Watch(ctx, "llm:"+name, a.gateway.Provider(name).Ping)
	}
	if a.embedder != nil {
		monitor.Watch(ctx, "embeddings", a.embedder.Ping)
	}
	defer func() {
		stop()
		monitor.Wait()
	}()

	// --- Summarizer ---
	a.summarizer.Start(ctx)
	defer a.summarizer.Stop()

	// --- Scheduler ---
	if cfg.Scheduler.Enabled {
		at, err := scheduler.ParseTimeOfDay(cfg.Scheduler.DailyAt)
		if err != nil {
			return err
		}
		sched := scheduler.New(logger, a.schedules, a.bus, a.loc, at)
		sched.Register(pregenerateJob, a.pregenerate())
		if err := sched.Start(ctx); err != nil {
			return fmt.Errorf("start scheduler: %w", err)
		}
		defer sched.Stop()
		logger.Info("daily pre-generation scheduled", "at", cfg.Scheduler.DailyAt, "timezone", a.loc.String())
	}

	// --- Calendar notifications ---
	if cfg.MQTT.Enabled {
		instanceID, err := notify.LoadOrCreateInstanceID(cfg.DataDir)
		if err != nil {
			return fmt.Errorf("mqtt instance id: %w", err)
		}
		pub := notify.New(cfg.MQTT, instanceID, logger)
		a.calendar.Observe(pub.CalendarChanged)
		go func() {
			if err := pub.Start(ctx); err != nil {
				logger.Error("mqtt publisher failed", "error", err)
			}
		}()
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := pub.Stop(stopCtx); err != nil {
				logger.Warn("mqtt disconnect failed", "error", err)
			}
		}()
	}

	// --- API server ---
	server := api.NewServer(api.Config{
		Address:        cfg.Listen.Address,
		Port:           cfg.Listen.Port,
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		Location:       a.loc,
	}, api.Deps{
		Users:           a.users,
		Chat:            a.chat,
		Conversations:   a.conversations,
		Calendar:        a.calendar,
		Questions:       a.questions,
		Answers:         a.daily,
		Widgets:         a.dashboard,
		Documents:       a.ingester,
		Library:         a.retrieval,
		SummarizeRecord: a.summarizeRecord,
		Health:          monitor,
		Usage:           a.usage,
	}, logger)

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start(ctx) }()

	select {
	case err := <-errCh:
		stop()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("api shutdown incomplete", "error", err)
	}
	return nil
}

func newAskCommand(g *globals, stdout io.Writer) *cobra.Command {
	var username, conversationID string
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Ask a single question as a user",
		Long: `Ask runs one chat turn for an existing user and prints the answer. The turn
is stored like any other; pass --conversation to continue one.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(g, stdout)
			if err != nil {
				return err
			}
			defer a.Close()

			turn, err := a.chat.Turn(cmd.Context(), username, conversationID, strings.Join(args, " "), nil)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}
			if g.output == "json" {
				return json.NewEncoder(stdout).Encode(map[string]any{
					"conversation_id": turn.ConversationID,
					"content":         turn.Content,
					"failed":          turn.Failed,
				})
			}
			fmt.Fprintln(stdout, turn.Content)
			return nil
		},
	}
	cmd.Flags().StringVarP(&username, "user", "u", "", "username to ask as (required)")
	cmd.Flags().StringVar(&conversationID, "conversation", "", "conversation to continue")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func newIngestCommand(g *globals, stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "ingest <file>...",
		Short: "Add reference documents (markdown, text or HTML)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(g, stdout)
			if err != nil {
				return err
			}
			defer a.Close()

			var errs []error
			for _, path := range args {
				n, err := a.ingester.IngestFile(cmd.Context(), path)
				if err != nil {
					errs = append(errs, err)
					continue
				}
				fmt.Fprintf(stdout, "Ingested %d chunks from %s\n", n, path)
			}
			return errors.Join(errs...)
		},
	}
}

func newGenerateCommand(g *globals, stdout io.Writer) *cobra.Command {
	var username string
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Pre-generate today's questions and dashboards",
		Long: `Generate runs the daily pre-generation once, for every user or for the one
named by --user. Existing artifacts for today are replaced.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := setup(g, stdout)
			if err != nil {
				return err
			}
			defer a.Close()
			ctx := cmd.Context()
			now := time.Now().In(a.loc)

			if username == "" {
				if err := a.pregenerate()(ctx, now); err != nil {
					return err
				}
				fmt.Fprintln(stdout, "Pre-generation complete")
				return nil
			}

			u, err := a.users.Get(ctx, username)
			if err != nil {
				return err
			}
			if u == nil {
				return fmt.Errorf("%w: %s", errNoUser, username)
			}
			qs, err := a.questions.Generate(ctx, username, now)
			if err != nil {
				return fmt.Errorf("questions: %w", err)
			}
			widgets, err := a.dashboard.Generate(ctx, username, now)
			if err != nil {
				return fmt.Errorf("dashboard: %w", err)
			}
			fmt.Fprintf(stdout, "Generated %d questions and %d widgets for %s\n", len(qs), len(widgets), username)
			return nil
		},
	}
	cmd.Flags().StringVarP(&username, "user", "u", "", "only this user")
	return cmd
}
