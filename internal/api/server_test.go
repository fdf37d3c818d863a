package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	_ "modernc.org/sqlite"

	"github.com/nugget/carepilot/internal/agent"
	"github.com/nugget/carepilot/internal/calendar"
	"github.com/nugget/carepilot/internal/chat"
	"github.com/nugget/carepilot/internal/conversation"
	"github.com/nugget/carepilot/internal/daily"
	"github.com/nugget/carepilot/internal/dashboard"
	"github.com/nugget/carepilot/internal/health"
	"github.com/nugget/carepilot/internal/ingest"
	"github.com/nugget/carepilot/internal/llm"
	"github.com/nugget/carepilot/internal/retrieval"
	"github.com/nugget/carepilot/internal/usage"
	"github.com/nugget/carepilot/internal/users"
)

// fakeChat echoes the message back as the assistant reply.
type fakeChat struct {
	turns int
}

func (f *fakeChat) Turn(_ context.Context, username, convID, message string, onStep agent.StepFunc) (*chat.Turn, error) {
	if strings.TrimSpace(message) == "" {
		return nil, chat.ErrEmptyMessage
	}
	if convID == "someone-elses" {
		return nil, conversation.ErrNotFound
	}
	if convID == "" {
		convID = "conv-1"
	}
	f.turns++
	if onStep != nil {
		onStep(1, "Thinking")
		onStep(2, "Responding")
	}
	now := time.Now()
	return &chat.Turn{
		ConversationID: convID,
		History: []llm.Message{
			{Role: llm.RoleUser, Content: message, Timestamp: now},
			{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{{ID: "c1", Name: "list_calendar_events"}}, Timestamp: now},
			llm.ToolResultMessage("c1", "[]"),
			{Role: llm.RoleAssistant, Content: "echo: " + message, Timestamp: now},
		},
		Content: "echo: " + message,
	}, nil
}

func (f *fakeChat) Plan(_ context.Context, username string, days int, preferences string) (string, error) {
	return "plan for " + username, nil
}

type fakeConversations struct{}

func (fakeConversations) List(context.Context, string) ([]conversation.Summary, error) {
	return nil, nil
}

func (fakeConversations) Get(context.Context, string, string) (*conversation.Conversation, error) {
	return nil, nil
}

type fakeDaily struct {
	saved []daily.Answer
	date  time.Time
}

func (f *fakeDaily) Questions(context.Context, string, time.Time) ([]daily.Question, error) {
	return daily.BaseQuestions(), nil
}

func (f *fakeDaily) SaveAnswers(_ context.Context, _ string, date time.Time, answers []daily.Answer) error {
	f.saved = answers
	f.date = date
	return nil
}

type fakeWidgets struct{}

func (fakeWidgets) Widgets(context.Context, string, time.Time) ([]dashboard.Widget, error) {
	return []dashboard.Widget{{Title: "Mood", Type: "graph"}}, nil
}

type fakeDocs struct {
	sources []retrieval.SourceInfo
}

func (f *fakeDocs) Ingest(_ context.Context, source string, data []byte) (int, error) {
	if !strings.HasSuffix(source, ".md") {
		return 0, ingest.ErrUnsupported
	}
	f.sources = append(f.sources, retrieval.SourceInfo{Source: source, Chunks: 1})
	return 1, nil
}

func (f *fakeDocs) Sources(context.Context) ([]retrieval.SourceInfo, error) {
	return f.sources, nil
}

type testEnv struct {
	srv   *httptest.Server
	users *users.Store
	cal   *calendar.Store
	chat  *fakeChat
	daily *fakeDaily
	usage *usage.Store
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	us, err := users.NewStore(db)
	if err != nil {
		t.Fatalf("users store: %v", err)
	}
	cal, err := calendar.NewStore(db, time.UTC)
	if err != nil {
		t.Fatalf("calendar store: %v", err)
	}

	ledger, err := usage.NewStore(db)
	if err != nil {
		t.Fatalf("usage store: %v", err)
	}

	env := &testEnv{users: us, cal: cal, chat: &fakeChat{}, daily: &fakeDaily{}, usage: ledger}
	docs := &fakeDocs{}
	s := NewServer(Config{Location: time.UTC}, Deps{
		Users:         us,
		Chat:          env.chat,
		Conversations: fakeConversations{},
		Calendar:      cal,
		Questions:     env.daily,
		Answers:       env.daily,
		Widgets:       fakeWidgets{},
		Documents:     docs,
		Library:       docs,
		Usage:         ledger,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	s.now = func() time.Time { return time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC) }

	env.srv = httptest.NewServer(s.Handler())
	t.Cleanup(env.srv.Close)
	return env
}

func (e *testEnv) do(t *testing.T, method, path, user string, body any) *http.Response {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, r)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.AddCookie(&http.Cookie{Name: cookieName, Value: user})
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func (e *testEnv) register(t *testing.T, username string) {
	t.Helper()
	resp := e.do(t, http.MethodPost, "/users/register", "", credentials{Username: username, Password: "secret"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register %s: status %d", username, resp.StatusCode)
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	resp := env.do(t, http.MethodGet, "/health", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if got := decode[map[string]any](t, resp)["status"]; got != "healthy" {
		t.Errorf("status = %v, want healthy", got)
	}
}

func TestRequireUser(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name string
		user string
	}{
		{"no cookie", ""},
		{"unknown user", "nobody"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := env.do(t, http.MethodGet, "/calendar/", tt.user, nil)
			if resp.StatusCode != http.StatusUnauthorized {
				t.Fatalf("status = %d, want 401", resp.StatusCode)
			}
			body := decode[apiError](t, resp)
			if body.Error.Code != codeUnauthorized {
				t.Errorf("code = %q, want %q", body.Error.Code, codeUnauthorized)
			}
		})
	}
}

func TestRegisterAndLogin(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "alice")

	resp := env.do(t, http.MethodPost, "/users/register", "", credentials{Username: "alice", Password: "other"})
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("duplicate register status = %d, want 409", resp.StatusCode)
	}

	resp = env.do(t, http.MethodPost, "/users/login", "", credentials{Username: "alice", Password: "wrong"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad login status = %d, want 400", resp.StatusCode)
	}

	resp = env.do(t, http.MethodPost, "/users/login", "", credentials{Username: "alice", Password: "secret"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login status = %d, want 200", resp.StatusCode)
	}
	var cookie *http.Cookie
	for _, c := range resp.Cookies() {
		if c.Name == cookieName {
			cookie = c
		}
	}
	if cookie == nil {
		t.Fatal("login did not set the auth cookie")
	}
	if cookie.Value != "alice" || !cookie.HttpOnly || cookie.MaxAge != cookieMaxAge {
		t.Errorf("cookie = %+v", cookie)
	}

	resp = env.do(t, http.MethodGet, "/users/me", "alice", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("me status = %d", resp.StatusCode)
	}
}

func TestSetup(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "alice")

	post := func(fields map[string]string) *http.Response {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		for k, v := range fields {
			_ = mw.WriteField(k, v)
		}
		mw.Close()
		req, _ := http.NewRequest(http.MethodPost, env.srv.URL+"/users/setup", &buf)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		req.AddCookie(&http.Cookie{Name: cookieName, Value: "alice"})
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("setup: %v", err)
		}
		t.Cleanup(func() { resp.Body.Close() })
		return resp
	}

	fields := map[string]string{
		"first_name": "Alice", "last_name": "Liddell", "age": "thirty",
		"height": "168", "gender": "female", "allergies": "none",
		"issues": "none", "goal": "sleep better",
	}
	if resp := post(fields); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("non-numeric age status = %d, want 400", resp.StatusCode)
	}

	fields["age"] = "34"
	if resp := post(fields); resp.StatusCode != http.StatusOK {
		t.Fatalf("setup status = %d, want 200", resp.StatusCode)
	}
	u, err := env.users.Get(context.Background(), "alice")
	if err != nil || u == nil {
		t.Fatalf("get user: %v", err)
	}
	if u.FirstName != "Alice" || u.Age != 34 || u.Status == users.StatusSetup {
		t.Errorf("user after setup = %+v", u)
	}
}

func TestChat(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "alice")

	resp := env.do(t, http.MethodPost, "/chat", "alice", ChatRequest{Message: "hello"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	body := decode[ChatResponse](t, resp)
	if body.ConversationID != "conv-1" {
		t.Errorf("conversation_id = %q", body.ConversationID)
	}
	// Tool traffic is hidden from the visible history.
	if len(body.History) != 2 {
		t.Fatalf("history has %d entries, want 2: %+v", len(body.History), body.History)
	}
	if body.History[1].Content != "echo: hello" {
		t.Errorf("reply = %q", body.History[1].Content)
	}

	tests := []struct {
		name   string
		req    ChatRequest
		status int
	}{
		{"empty message", ChatRequest{Message: "  "}, http.StatusBadRequest},
		{"foreign conversation", ChatRequest{Message: "hi", ConversationID: "someone-elses"}, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := env.do(t, http.MethodPost, "/chat", "alice", tt.req)
			if resp.StatusCode != tt.status {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.status)
			}
		})
	}
}

func TestChatSocket(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "alice")

	url := "ws" + strings.TrimPrefix(env.srv.URL, "http") + "/ws/chat"
	header := http.Header{}
	header.Set("Cookie", cookieName+"=alice")
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(ChatRequest{Message: "hi"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	for i, want := range []string{"Thinking", "Responding"} {
		var step StepEvent
		if err := conn.ReadJSON(&step); err != nil {
			t.Fatalf("read step: %v", err)
		}
		if step.Type != "step" || step.Step != i+1 || step.Description != want {
			t.Errorf("step %d = %+v", i, step)
		}
	}
	var final ChatResponse
	if err := conn.ReadJSON(&final); err != nil {
		t.Fatalf("read history: %v", err)
	}
	if final.ConversationID != "conv-1" || len(final.History) != 2 {
		t.Errorf("final = %+v", final)
	}

	// Errors are reported in-band and the socket stays open.
	if err := conn.WriteJSON(ChatRequest{Message: ""}); err != nil {
		t.Fatalf("write: %v", err)
	}
	var errMsg apiError
	if err := conn.ReadJSON(&errMsg); err != nil {
		t.Fatalf("read error: %v", err)
	}
	if errMsg.Error.Code != codeBadRequest {
		t.Errorf("error = %+v", errMsg)
	}
}

func TestCalendarRoutes(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "alice")

	resp := env.do(t, http.MethodPost, "/calendar/add", "alice", eventRequest{
		Description:   "Dentist",
		FromTimestamp: "2025-03-14T10:00",
		ToTimestamp:   "2025-03-14T11:00",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("add status = %d", resp.StatusCode)
	}
	added := decode[map[string]string](t, resp)
	if added["event_id"] == "" {
		t.Fatal("add returned no event_id")
	}

	resp = env.do(t, http.MethodGet, "/calendar/events?from_timestamp=2025-03-14T00:00&to_timestamp=2025-03-15T00:00", "alice", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("range status = %d", resp.StatusCode)
	}
	if events := decode[[]calendar.Event](t, resp); len(events) != 1 || events[0].Description != "Dentist" {
		t.Errorf("range = %+v", events)
	}

	// Another user cannot see or remove it.
	env.register(t, "bob")
	resp = env.do(t, http.MethodPost, "/calendar/remove", "bob", eventRequest{EventID: added["event_id"]})
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("foreign remove status = %d, want 404", resp.StatusCode)
	}

	resp = env.do(t, http.MethodPost, "/calendar/edit", "alice", eventRequest{
		EventID:       added["event_id"],
		Description:   "Dentist (moved)",
		FromTimestamp: "2025-03-14T12:00",
		ToTimestamp:   "2025-03-14T11:00",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("inverted edit status = %d, want 400", resp.StatusCode)
	}

	resp = env.do(t, http.MethodPost, "/calendar/remove", "alice", eventRequest{EventID: added["event_id"]})
	if resp.StatusCode != http.StatusOK {
		t.Errorf("remove status = %d, want 200", resp.StatusCode)
	}

	resp = env.do(t, http.MethodGet, "/calendar/", "alice", nil)
	body := decode[struct {
		Username string           `json:"username"`
		Events   []calendar.Event `json:"events"`
	}](t, resp)
	if body.Username != "alice" || body.Events == nil || len(body.Events) != 0 {
		t.Errorf("calendar = %+v", body)
	}

	resp = env.do(t, http.MethodPost, "/calendar/add", "alice", eventRequest{
		Description: "x", FromTimestamp: "tomorrow", ToTimestamp: "later",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad timestamp status = %d, want 400", resp.StatusCode)
	}
}

func TestDailyAndDashboard(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "alice")

	resp := env.do(t, http.MethodGet, "/daily/", "alice", nil)
	if qs := decode[[]daily.Question](t, resp); len(qs) == 0 {
		t.Error("no daily questions")
	}

	resp = env.do(t, http.MethodPost, "/daily/", "alice", []daily.Answer{{Question: "How are you?", Field: daily.MoodField, Value: "7"}})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("answers status = %d", resp.StatusCode)
	}
	if len(env.daily.saved) != 1 || env.daily.date.Day() != 14 {
		t.Errorf("saved %+v on %v", env.daily.saved, env.daily.date)
	}

	resp = env.do(t, http.MethodGet, "/dashboard/widgets", "alice", nil)
	if w := decode[[]dashboard.Widget](t, resp); len(w) != 1 {
		t.Errorf("widgets = %+v", w)
	}

	resp = env.do(t, http.MethodPost, "/diet/plan", "alice", planRequest{Days: 3})
	if got := decode[map[string]string](t, resp)["diet_plan"]; got != "plan for alice" {
		t.Errorf("diet_plan = %q", got)
	}
}

func TestDocumentUpload(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "alice")

	upload := func(name string) *http.Response {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		fw, _ := mw.CreateFormFile("file", name)
		_, _ = fw.Write([]byte("# Hydration\n\nDrink water."))
		mw.Close()
		req, _ := http.NewRequest(http.MethodPost, env.srv.URL+"/documents/", &buf)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		req.AddCookie(&http.Cookie{Name: cookieName, Value: "alice"})
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("upload: %v", err)
		}
		t.Cleanup(func() { resp.Body.Close() })
		return resp
	}

	if resp := upload("guide.exe"); resp.StatusCode != http.StatusUnsupportedMediaType {
		t.Errorf("unsupported status = %d, want 415", resp.StatusCode)
	}
	resp := upload("guide.md")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("upload status = %d", resp.StatusCode)
	}

	resp = env.do(t, http.MethodGet, "/documents/", "alice", nil)
	if sources := decode[[]retrieval.SourceInfo](t, resp); len(sources) != 1 || sources[0].Source != "guide.md" {
		t.Errorf("sources = %+v", sources)
	}
}

func TestHistoryView(t *testing.T) {
	msgs := []llm.Message{
		llm.SystemMessage("sys"),
		llm.UserMessage("a"),
		{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{{ID: "x"}}},
		llm.ToolResultMessage("x", "r"),
		llm.AssistantMessage("b"),
	}
	got := historyView(msgs)
	if len(got) != 2 || got[0].Content != "a" || got[1].Content != "b" {
		t.Errorf("historyView = %+v", got)
	}
}

type fakeHealth struct{ ready bool }

func (f fakeHealth) Status() []health.Status {
	return []health.Status{{Name: "ollama", Ready: f.ready}}
}

func (f fakeHealth) Healthy() bool { return f.ready }

func TestHealthReportsDependencies(t *testing.T) {
	s := NewServer(Config{}, Deps{Health: fakeHealth{ready: false}}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	var body struct {
		Status       string          `json:"status"`
		Dependencies []health.Status `json:"dependencies"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rec.Code != http.StatusOK || body.Status != "degraded" {
		t.Errorf("status %d body %+v", rec.Code, body)
	}
	if len(body.Dependencies) != 1 || body.Dependencies[0].Name != "ollama" {
		t.Errorf("dependencies = %+v", body.Dependencies)
	}
}

func TestUsage(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "alice")
	ctx := context.Background()
	now := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
	for _, rec := range []usage.Record{
		{Timestamp: now.Add(-time.Hour), Username: "alice", Kind: usage.KindChat, Model: "qwen3:4b", InputTokens: 100, OutputTokens: 10},
		{Timestamp: now.Add(-72 * time.Hour), Username: "alice", Kind: usage.KindDiet, Model: "llama3", InputTokens: 300, OutputTokens: 90},
		{Timestamp: now.Add(-time.Hour), Username: "bob", Kind: usage.KindChat, Model: "qwen3:4b", InputTokens: 5, OutputTokens: 5},
	} {
		if err := env.usage.Record(ctx, rec); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	tests := []struct {
		name       string
		query      string
		wantStatus int
		wantRuns   int
	}{
		{"default window", "", http.StatusOK, 2},
		{"one day", "?days=1", http.StatusOK, 1},
		{"zero days", "?days=0", http.StatusBadRequest, 0},
		{"not a number", "?days=week", http.StatusBadRequest, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := env.do(t, http.MethodGet, "/usage"+tt.query, "alice", nil)
			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
			if tt.wantStatus != http.StatusOK {
				return
			}
			got := decode[usageResponse](t, resp)
			if got.Username != "alice" || got.Total.Runs != tt.wantRuns {
				t.Errorf("usage = %+v, want %d runs", got, tt.wantRuns)
			}
			if got.ByModel["qwen3:4b"] == nil || got.ByModel["qwen3:4b"].InputTokens != 100 {
				t.Errorf("by_model = %v", got.ByModel)
			}
		})
	}
}
