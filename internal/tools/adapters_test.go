package tools

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/nugget/carepilot/internal/calendar"
	"github.com/nugget/carepilot/internal/retrieval"
)

func newCalendar(t *testing.T) *calendar.Store {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	s, err := calendar.NewStore(db, time.UTC)
	if err != nil {
		t.Fatalf("calendar store: %v", err)
	}
	return s
}

func newAdapterRegistry(t *testing.T, cal *calendar.Store) *Registry {
	t.Helper()
	r := NewRegistry(nil)
	if err := RegisterCalendarTools(r, cal); err != nil {
		t.Fatalf("RegisterCalendarTools: %v", err)
	}
	if err := RegisterMealTools(r, cal); err != nil {
		t.Fatalf("RegisterMealTools: %v", err)
	}
	return r
}

func decode(t *testing.T, s string) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		t.Fatalf("result is not JSON: %q", s)
	}
	return m
}

func TestAddMeal_AliceLunch(t *testing.T) {
	cal := newCalendar(t)
	r := newAdapterRegistry(t, cal)
	ctx := context.Background()

	res := r.Execute(ctx, ToolAddMeal, map[string]any{
		"username":    "alice",
		"meal_type":   "lunch",
		"description": "salad",
		"date":        "2025-11-07",
		"time":        "12:00",
	})
	if decode(t, res)["message"] != "Event added" {
		t.Fatalf("add meal result = %q", res)
	}

	events, _ := cal.List(ctx, "alice")
	if len(events) != 1 {
		t.Fatalf("alice has %d events, want 1", len(events))
	}
	e := events[0]
	if e.Description != "Diet - Lunch: salad" {
		t.Errorf("description = %q", e.Description)
	}
	wantFrom := time.Date(2025, 11, 7, 12, 0, 0, 0, time.UTC)
	if !e.From.Equal(wantFrom) || !e.To.Equal(wantFrom.Add(30*time.Minute)) {
		t.Errorf("span = %v - %v", e.From, e.To)
	}

	meals := decode(t, r.Execute(ctx, ToolGetMeals, map[string]any{"username": "alice", "date": "2025-11-07"}))
	if list := meals["meals"].([]any); len(list) != 1 {
		t.Errorf("get_meals_for_day = %v", meals)
	}
}

func TestGetMeals_FiltersTagAndDay(t *testing.T) {
	cal := newCalendar(t)
	r := newAdapterRegistry(t, cal)
	ctx := context.Background()
	day := time.Date(2025, 11, 7, 0, 0, 0, 0, time.UTC)

	cal.Add(ctx, "alice", "Diet - Breakfast: oats", day.Add(7*time.Hour), day.Add(7*time.Hour+30*time.Minute))
	cal.Add(ctx, "alice", "Dentist", day.Add(9*time.Hour), day.Add(10*time.Hour))
	cal.Add(ctx, "alice", "Diet - Dinner: soup", day.Add(24*time.Hour), day.Add(24*time.Hour+30*time.Minute))
	cal.Add(ctx, "bob", "Diet - Lunch: pizza", day.Add(12*time.Hour), day.Add(12*time.Hour+30*time.Minute))

	got := decode(t, r.Execute(ctx, ToolGetMeals, map[string]any{"username": "alice", "date": "2025-11-07"}))
	meals := got["meals"].([]any)
	if len(meals) != 1 || meals[0].(map[string]any)["description"] != "Diet - Breakfast: oats" {
		t.Errorf("meals = %v", meals)
	}
	if got["username"] != "alice" {
		t.Errorf("username = %v", got["username"])
	}
}

func TestMealTools_Errors(t *testing.T) {
	r := newAdapterRegistry(t, newCalendar(t))
	ctx := context.Background()

	tests := []struct {
		tool   string
		args   map[string]any
		prefix string
	}{
		{ToolAddMeal, map[string]any{"username": "alice", "meal_type": "lunch", "description": "x", "date": "tomorrow", "time": "12:00"}, "Error adding meal: "},
		{ToolGetMeals, map[string]any{"username": "alice", "date": "11/07"}, "Error getting meals: "},
		{ToolEditMeal, map[string]any{"username": "alice", "event_id": "nope", "meal_type": "lunch", "description": "x", "date": "2025-11-07", "time": "12:00"}, "Error editing meal: event nope not found"},
		{ToolRemoveMeal, map[string]any{"username": "alice", "event_id": "nope"}, "Error removing meal: event nope not found"},
	}
	for _, tt := range tests {
		if got := r.Execute(ctx, tt.tool, tt.args); !strings.HasPrefix(got, tt.prefix) {
			t.Errorf("%s = %q, want prefix %q", tt.tool, got, tt.prefix)
		}
	}
}

func TestEditAndRemoveMeal(t *testing.T) {
	cal := newCalendar(t)
	r := newAdapterRegistry(t, cal)
	ctx := context.Background()

	added := decode(t, r.Execute(ctx, ToolAddMeal, map[string]any{
		"username": "alice", "meal_type": "DINNER", "description": "pasta", "date": "2025-11-07", "time": "19:00",
	}))
	id := added["event_id"].(string)

	res := r.Execute(ctx, ToolEditMeal, map[string]any{
		"username": "alice", "event_id": id, "meal_type": "dinner", "description": "risotto", "date": "2025-11-07", "time": "19:30",
	})
	if decode(t, res)["message"] != "Event updated" {
		t.Fatalf("edit_meal = %q", res)
	}
	events, _ := cal.List(ctx, "alice")
	if events[0].Description != "Diet - Dinner: risotto" || events[0].From.Hour() != 19 || events[0].From.Minute() != 30 {
		t.Errorf("edited event = %+v", events[0])
	}

	r.Execute(ctx, ToolRemoveMeal, map[string]any{"username": "alice", "event_id": id})
	if events, _ := cal.List(ctx, "alice"); len(events) != 0 {
		t.Errorf("events after remove = %v", events)
	}
}

func TestCalendarTools(t *testing.T) {
	cal := newCalendar(t)
	r := newAdapterRegistry(t, cal)
	ctx := context.Background()

	added := decode(t, r.Execute(ctx, ToolAddCalendarEvent, map[string]any{
		"username":       "alice",
		"description":    "GP appointment",
		"from_timestamp": "2025-11-10T09:00:00",
		"to_timestamp":   "2025-11-10T09:30:00",
	}))
	id, _ := added["event_id"].(string)
	if id == "" {
		t.Fatalf("add_calendar_event = %v", added)
	}

	res := r.Execute(ctx, ToolEditCalendarEvent, map[string]any{
		"username":       "alice",
		"event_id":       id,
		"description":    "GP appointment (blood test)",
		"from_timestamp": "2025-11-10T10:00:00Z",
		"to_timestamp":   "2025-11-10T10:30:00Z",
	})
	if decode(t, res)["message"] != "Event updated" {
		t.Errorf("edit = %q", res)
	}

	got := decode(t, r.Execute(ctx, ToolGetCalendar, map[string]any{"username": "alice"}))
	events := got["events"].([]any)
	if len(events) != 1 || events[0].(map[string]any)["description"] != "GP appointment (blood test)" {
		t.Errorf("get_calendar = %v", got)
	}

	tests := []struct {
		name string
		tool string
		args map[string]any
		want string
	}{
		{"bad range", ToolAddCalendarEvent, map[string]any{"username": "alice", "description": "x", "from_timestamp": "2025-11-10T10:00", "to_timestamp": "2025-11-10T09:00"}, "Error: " + calendar.ErrInvalidRange.Error()},
		{"bad timestamp", ToolAddCalendarEvent, map[string]any{"username": "alice", "description": "x", "from_timestamp": "soon", "to_timestamp": "later"}, "Error: invalid timestamp"},
		{"missing event", ToolRemoveCalendarEvent, map[string]any{"username": "alice", "event_id": "nope"}, "Error: event nope not found"},
		{"missing arg", ToolRemoveCalendarEvent, map[string]any{"username": "alice"}, "Error: invalid arguments for remove_calendar_event"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := r.Execute(ctx, tt.tool, tt.args); !strings.HasPrefix(got, tt.want) {
				t.Errorf("%s = %q, want prefix %q", tt.tool, got, tt.want)
			}
		})
	}

	if msg := decode(t, r.Execute(ctx, ToolRemoveCalendarEvent, map[string]any{"username": "alice", "event_id": id}))["message"]; msg != "Event removed" {
		t.Errorf("remove message = %v", msg)
	}
}

func TestCalendarTools_ContextUserWins(t *testing.T) {
	cal := newCalendar(t)
	r := newAdapterRegistry(t, cal)
	ctx := WithUsername(context.Background(), "alice")

	r.Execute(ctx, ToolAddCalendarEvent, map[string]any{
		"username":       "mallory",
		"description":    "Physio",
		"from_timestamp": "2025-11-10T09:00:00",
		"to_timestamp":   "2025-11-10T10:00:00",
	})

	if events, _ := cal.List(ctx, "mallory"); len(events) != 0 {
		t.Error("event written to the model-supplied user")
	}
	if events, _ := cal.List(ctx, "alice"); len(events) != 1 {
		t.Error("event not written to the context user")
	}
}

type fakeRetriever struct {
	results []retrieval.Result
	err     error
	k       int
}

func (f *fakeRetriever) Search(_ context.Context, _ string, k int) ([]retrieval.Result, error) {
	f.k = k
	return f.results, f.err
}

func TestRetrieveContext(t *testing.T) {
	tests := []struct {
		name string
		ret  *fakeRetriever
		want string
	}{
		{
			name: "two chunks",
			ret: &fakeRetriever{results: []retrieval.Result{
				{Chunk: retrieval.Chunk{Source: "headache.md", Content: "Drink water."}},
				{Chunk: retrieval.Chunk{Source: "sleep.md", Content: "Sleep eight hours."}},
			}},
			want: "Source: headache.md\nContent: Drink water.\n\nSource: sleep.md\nContent: Sleep eight hours.",
		},
		{"failure", &fakeRetriever{err: errors.New("disk I/O error")}, "Error retrieving context"},
		{"nothing", &fakeRetriever{}, "No reference documents matched the query."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry(nil)
			if err := RegisterRetrievalTool(r, tt.ret, nil); err != nil {
				t.Fatal(err)
			}
			if got := r.Execute(context.Background(), ToolRetrieveContext, map[string]any{"query": "headache"}); got != tt.want {
				t.Errorf("retrieve_context = %q, want %q", got, tt.want)
			}
			if tt.ret.k != 2 {
				t.Errorf("k = %d, want 2", tt.ret.k)
			}
		})
	}
}

func TestMealDescription(t *testing.T) {
	tests := []struct{ mealType, desc, want string }{
		{"lunch", "salad", "Diet - Lunch: salad"},
		{"BREAKFAST", "oats", "Diet - Breakfast: oats"},
		{" snack ", "apple", "Diet - Snack: apple"},
	}
	for _, tt := range tests {
		got := MealDescription(tt.mealType, tt.desc)
		if got != tt.want {
			t.Errorf("MealDescription(%q, %q) = %q, want %q", tt.mealType, tt.desc, got, tt.want)
		}
		if !IsMeal(got) {
			t.Errorf("IsMeal(%q) = false", got)
		}
	}
	if IsMeal("Dentist") {
		t.Error("IsMeal(Dentist) = true")
	}
}
