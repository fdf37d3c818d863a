// Package api implements the CarePilot HTTP API: account and profile
// management, chat over HTTP and WebSocket, calendar, daily check-ins,
// the dashboard, diet planning, and reference document upload.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/nugget/carepilot/internal/agent"
	"github.com/nugget/carepilot/internal/buildinfo"
	"github.com/nugget/carepilot/internal/calendar"
	"github.com/nugget/carepilot/internal/chat"
	"github.com/nugget/carepilot/internal/conversation"
	"github.com/nugget/carepilot/internal/daily"
	"github.com/nugget/carepilot/internal/dashboard"
	"github.com/nugget/carepilot/internal/health"
	"github.com/nugget/carepilot/internal/retrieval"
	"github.com/nugget/carepilot/internal/usage"
	"github.com/nugget/carepilot/internal/users"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 1 << 20

// UserStore manages accounts and profiles.
type UserStore interface {
	Register(ctx context.Context, username, password string) error
	Authenticate(ctx context.Context, username, password string) (*users.User, error)
	Get(ctx context.Context, username string) (*users.User, error)
	CompleteSetup(ctx context.Context, username string, p users.Profile, patientSummary *string) error
}

// ChatService runs agent turns.
type ChatService interface {
	Turn(ctx context.Context, username, conversationID, message string, onStep agent.StepFunc) (*chat.Turn, error)
	Plan(ctx context.Context, username string, days int, preferences string) (string, error)
}

// ConversationStore reads stored conversations.
type ConversationStore interface {
	List(ctx context.Context, owner string) ([]conversation.Summary, error)
	Get(ctx context.Context, owner, id string) (*conversation.Conversation, error)
}

// CalendarStore is the user's calendar.
type CalendarStore interface {
	Add(ctx context.Context, owner, description string, from, to time.Time) (*calendar.Event, error)
	Edit(ctx context.Context, owner, id, description string, from, to time.Time) (bool, error)
	Remove(ctx context.Context, owner, id string) (bool, error)
	List(ctx context.Context, owner string) ([]calendar.Event, error)
	Between(ctx context.Context, owner string, from, to time.Time) ([]calendar.Event, error)
}

// QuestionSource produces the daily question set.
type QuestionSource interface {
	Questions(ctx context.Context, username string, now time.Time) ([]daily.Question, error)
}

// AnswerStore stores daily answers.
type AnswerStore interface {
	SaveAnswers(ctx context.Context, owner string, date time.Time, answers []daily.Answer) error
}

// WidgetSource produces dashboard widgets.
type WidgetSource interface {
	Widgets(ctx context.Context, username string, now time.Time) ([]dashboard.Widget, error)
}

// DocumentIngester adds uploaded documents to the retrieval store.
type DocumentIngester interface {
	Ingest(ctx context.Context, source string, data []byte) (int, error)
}

// DocumentLibrary lists ingested documents.
type DocumentLibrary interface {
	Sources(ctx context.Context) ([]retrieval.SourceInfo, error)
}

// UsageReport aggregates a user's token ledger.
type UsageReport interface {
	Summary(ctx context.Context, username string, start, end time.Time) (*usage.Summary, error)
	SummaryByModel(ctx context.Context, username string, start, end time.Time) (map[string]*usage.Summary, error)
	SummaryByKind(ctx context.Context, username string, start, end time.Time) (map[string]*usage.Summary, error)
}

// HealthReporter reports the reachability of external dependencies.
type HealthReporter interface {
	Status() []health.Status
	Healthy() bool
}

// RecordSummarizer condenses an uploaded patient record.
type RecordSummarizer func(ctx context.Context, record string) (string, error)

// Deps are the collaborators of the server. Documents, Library and
// Usage may be nil; the routes that need them then answer 503. A nil
// SummarizeRecord skips patient-record summaries and a nil Health
// reports no dependencies.
type Deps struct {
	Users           UserStore
	Chat            ChatService
	Conversations   ConversationStore
	Calendar        CalendarStore
	Questions       QuestionSource
	Answers         AnswerStore
	Widgets         WidgetSource
	Documents       DocumentIngester
	Library         DocumentLibrary
	SummarizeRecord RecordSummarizer
	Health          HealthReporter
	Usage           UsageReport
}

// Config holds listener and browser settings.
type Config struct {
	Address        string
	Port           int
	AllowedOrigins []string
	SecureCookies  bool
	Location       *time.Location
}

// Server is the HTTP API server.
type Server struct {
	cfg    Config
	deps   Deps
	logger *slog.Logger
	server *http.Server
	now    func() time.Time
}

// NewServer creates a new API server.
func NewServer(cfg Config, deps Deps, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	return &Server{
		cfg:    cfg,
		deps:   deps,
		logger: logger.With("component", "api"),
		now:    time.Now,
	}
}

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(s.withLogging)
	r.Use(chiMiddleware.Recoverer)
	r.Use(cors(s.cfg.AllowedOrigins))

	r.Get("/health", s.handleHealth)
	r.Get("/version", s.handleVersion)

	r.Route("/users", func(r chi.Router) {
		r.Post("/register", s.handleRegister)
		r.Post("/login", s.handleLogin)
		r.Post("/logout", s.handleLogout)
		r.Group(func(r chi.Router) {
			r.Use(s.requireUser)
			r.Get("/me", s.handleMe)
			r.Get("/setup", s.handleSetupQuestions)
			r.Post("/setup", s.handleSetup)
		})
	})

	r.Group(func(r chi.Router) {
		r.Use(s.requireUser)

		r.Post("/chat", s.handleChat)
		r.Get("/ws/chat", s.handleChatSocket)

		r.Get("/conversations/", s.handleConversationList)
		r.Get("/conversations/{id}", s.handleConversationGet)

		r.Route("/calendar", func(r chi.Router) {
			r.Get("/", s.handleCalendar)
			r.Get("/events", s.handleCalendarRange)
			r.Post("/add", s.handleEventAdd)
			r.Post("/remove", s.handleEventRemove)
			r.Post("/edit", s.handleEventEdit)
		})

		r.Get("/daily/", s.handleDailyQuestions)
		r.Post("/daily/", s.handleDailyAnswers)
		r.Get("/dashboard/widgets", s.handleWidgets)
		r.Post("/diet/plan", s.handleDietPlan)

		r.Get("/documents/", s.handleDocumentList)
		r.Post("/documents/", s.handleDocumentUpload)

		r.Get("/usage", s.handleUsage)
	})

	return r
}

// Start begins serving HTTP requests. It blocks until the server stops.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:        fmt.Sprintf("%s:%d", s.cfg.Address, s.cfg.Port),
		Handler:     s.Handler(),
		ReadTimeout: 30 * time.Second,
		// No write timeout: agent turns and WebSocket sessions are long.
		IdleTimeout: 120 * time.Second,
		BaseContext: func(_ net.Listener) context.Context { return ctx },
	}

	addr := s.cfg.Address
	if addr == "" {
		addr = "0.0.0.0"
	}
	s.logger.Info("starting API server", "address", addr, "port", s.cfg.Port)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"request_id", chiMiddleware.GetReqID(r.Context()),
			"duration", time.Since(start),
		)
	})
}

// cors answers preflight requests and sets CORS headers for allowed
// origins. Credentials are allowed only for explicitly listed origins.
func cors(allowedOrigins []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			for _, o := range allowedOrigins {
				if o != "*" && o != origin {
					continue
				}
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
				if o == origin {
					w.Header().Set("Access-Control-Allow-Credentials", "true")
				}
				break
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// writeJSON encodes v as JSON to w, logging any errors at debug level.
// Errors here typically mean the client disconnected mid-response.
func writeJSON(w http.ResponseWriter, status int, v any, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

// apiError is the body of every error response.
type apiError struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Error codes.
const (
	codeBadRequest   = "bad_request"
	codeUnauthorized = "unauthorized"
	codeNotFound     = "not_found"
	codeConflict     = "conflict"
	codeInternal     = "internal_error"
	codeUnavailable  = "unavailable"
)

func (s *Server) errorResponse(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, apiError{Error: errorBody{Message: message, Code: code}}, s.logger)
}

// internalError logs err and answers 500 without leaking it.
func (s *Server) internalError(w http.ResponseWriter, r *http.Request, what string, err error) {
	s.logger.Error(what, "path", r.URL.Path, "error", err)
	s.errorResponse(w, http.StatusInternalServerError, codeInternal, "internal server error")
}

// decodeJSON reads a bounded JSON body into v, answering 400 on error.
func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v); err != nil {
		s.errorResponse(w, http.StatusBadRequest, codeBadRequest, "invalid request body")
		return false
	}
	return true
}

// handleHealth always answers 200 while the process serves; degraded
// dependencies are reported in the body.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := struct {
		Status       string          `json:"status"`
		Dependencies []health.Status `json:"dependencies"`
	}{Status: "healthy", Dependencies: []health.Status{}}
	if s.deps.Health != nil {
		resp.Dependencies = s.deps.Health.Status()
		if !s.deps.Health.Healthy() {
			resp.Status = "degraded"
		}
	}
	writeJSON(w, http.StatusOK, resp, s.logger)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, buildinfo.RuntimeInfo(), s.logger)
}
