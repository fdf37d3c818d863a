// Package dashboard builds the per-day dashboard: a mood graph, the
// answer streak and the next appointment, followed by short text
// widgets written by the model.
package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/nugget/carepilot/internal/calendar"
	"github.com/nugget/carepilot/internal/daily"
	"github.com/nugget/carepilot/internal/llm"
	"github.com/nugget/carepilot/internal/prompts"
	"github.com/nugget/carepilot/internal/users"
)

// Widget types.
const (
	TypeText   = "text"
	TypeStreak = "streak"
	TypeEvent  = "event"
	TypeGraph  = "graph"
)

const (
	// TextWidgets is how many model-written widgets follow the fixed ones.
	TextWidgets = 4

	// MaxBodyRunes bounds the body of a text widget.
	MaxBodyRunes = 30

	// maxEventRunes is how much of an appointment description is shown
	// before it is cut with "...".
	maxEventRunes = 27

	// moodWindow is how far back the mood graph reaches.
	moodWindow = 30 * 24 * time.Hour

	noAppointment  = "None scheduled"
	failedBody     = "Generation failed."
	untitledWidget = "Tip"
)

var placeholderTitles = [TextWidgets]string{"Health Overview", "Goals", "Reminders", "Stats"}

// Widget is one dashboard tile.
type Widget struct {
	Title     string     `json:"title"`
	Type      string     `json:"type"`
	Body      string     `json:"body,omitempty"`
	Data      any        `json:"data,omitempty"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

// Point is one sample of a graph widget.
type Point struct {
	X string  `json:"x"`
	Y float64 `json:"y"`
}

// Graph is the data of a graph widget.
type Graph struct {
	XAxis string  `json:"xAxis"`
	YAxis string  `json:"yAxis"`
	Data  []Point `json:"data"`
}

// ProfileSource looks up a user's profile.
type ProfileSource interface {
	Get(ctx context.Context, username string) (*users.User, error)
}

// EventSource finds a user's next calendar event.
type EventSource interface {
	Next(ctx context.Context, owner string, t time.Time) (*calendar.Event, error)
}

// Generator assembles and caches dashboards.
type Generator struct {
	store    *daily.Store
	profiles ProfileSource
	events   EventSource
	llm      llm.Client
	model    string
	loc      *time.Location
	logger   *slog.Logger
}

// NewGenerator creates a dashboard generator. Days are computed in loc.
func NewGenerator(store *daily.Store, profiles ProfileSource, events EventSource, client llm.Client, model string, loc *time.Location, logger *slog.Logger) *Generator {
	if loc == nil {
		loc = time.Local
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{
		store:    store,
		profiles: profiles,
		events:   events,
		llm:      client,
		model:    model,
		loc:      loc,
		logger:   logger.With("component", "dashboard"),
	}
}

// Widgets returns the dashboard for the day containing now, from the
// cache when one exists.
func (g *Generator) Widgets(ctx context.Context, username string, now time.Time) ([]Widget, error) {
	var cached []Widget
	ok, err := g.store.Artifact(ctx, daily.KindWidgets, username, now.In(g.loc), &cached)
	if err != nil {
		return nil, err
	}
	if ok {
		return cached, nil
	}
	return g.Generate(ctx, username, now)
}

// Generate builds a fresh dashboard and caches it for the day. Only
// storage errors are returned; model failures produce placeholders.
func (g *Generator) Generate(ctx context.Context, username string, now time.Time) ([]Widget, error) {
	today := now.In(g.loc)

	days, err := g.store.Days(ctx, username, today.Add(-moodWindow))
	if err != nil {
		return nil, err
	}
	dates, err := g.store.Dates(ctx, username, g.loc)
	if err != nil {
		return nil, err
	}
	next, err := g.events.Next(ctx, username, now)
	if err != nil {
		return nil, err
	}

	streak := daily.Streak(dates, today)
	widgets := []Widget{
		moodWidget(days),
		{Title: "Daily Streak", Type: TypeStreak, Body: fmt.Sprint(streak), Data: streak},
		appointmentWidget(next),
	}
	widgets = append(widgets, g.textWidgets(ctx, username, days, streak, next)...)

	if err := g.store.PutArtifact(ctx, daily.KindWidgets, username, today, widgets); err != nil {
		return nil, err
	}
	return widgets, nil
}

func moodWidget(days []daily.Day) Widget {
	graph := Graph{XAxis: "Time", YAxis: "Value", Data: []Point{}}
	for _, d := range days {
		for _, a := range d.Answers {
			if a.Field != daily.MoodField {
				continue
			}
			var y float64
			if _, err := fmt.Sscan(a.Value, &y); err != nil {
				continue
			}
			graph.Data = append(graph.Data, Point{X: d.Date, Y: y})
		}
	}
	return Widget{Title: "Mood", Type: TypeGraph, Data: graph}
}

func appointmentWidget(next *calendar.Event) Widget {
	w := Widget{Title: "Next Appointment", Type: TypeEvent, Body: noAppointment}
	if next == nil {
		return w
	}
	w.Body = truncate(next.Description, maxEventRunes, "...")
	from := next.From
	w.Timestamp = &from
	return w
}

// textWidgets asks the model for TextWidgets short tips. Missing or
// failed entries are filled with placeholders so the count is fixed.
func (g *Generator) textWidgets(ctx context.Context, username string, days []daily.Day, streak int, next *calendar.Event) []Widget {
	out := make([]Widget, TextWidgets)
	for i, title := range placeholderTitles {
		out[i] = Widget{Title: title, Type: TypeText, Body: failedBody}
	}

	u, err := g.profiles.Get(ctx, username)
	if err != nil {
		g.logger.Warn("profile lookup failed", "user", username, "error", err)
	}

	facts := fmt.Sprintf("Answer streak: %d day(s)\nNext appointment: %s", streak, appointmentWidget(next).Body)
	prompt := prompts.DashboardWidgetsPrompt(TextWidgets, MaxBodyRunes, profileText(u), answersText(days), facts)

	var resp struct {
		Widgets []struct {
			Title string `json:"title"`
			Body  string `json:"body"`
		} `json:"widgets"`
	}
	if err := llm.Structured(ctx, g.llm, g.model, []llm.Message{llm.UserMessage(prompt)}, &resp); err != nil {
		g.logger.Warn("widget generation failed", "user", username, "model", g.model, "error", err)
		return out
	}

	n := 0
	for _, w := range resp.Widgets {
		if n == TextWidgets {
			break
		}
		body := strings.TrimSpace(w.Body)
		if body == "" {
			continue
		}
		title := strings.TrimSpace(w.Title)
		if title == "" {
			title = untitledWidget
		}
		out[n] = Widget{Title: title, Type: TypeText, Body: truncate(body, MaxBodyRunes, "")}
		n++
	}
	if n < TextWidgets {
		g.logger.Warn("model returned too few widgets", "user", username, "got", n)
	}
	return out
}

func profileText(u *users.User) string {
	if u == nil {
		return ""
	}
	var sb strings.Builder
	answers := users.ProfileAnswers(u)
	for _, q := range slices.Sorted(maps.Keys(answers)) {
		fmt.Fprintf(&sb, "%s %s\n", q, answers[q])
	}
	if u.PatientSummary != "" {
		fmt.Fprintf(&sb, "Patient record: %s\n", u.PatientSummary)
	}
	if u.RecentSummary != "" {
		fmt.Fprintf(&sb, "Recent conversation: %s\n", u.RecentSummary)
	}
	return sb.String()
}

func answersText(days []daily.Day) string {
	if len(days) == 0 {
		return ""
	}
	b, err := json.Marshal(days)
	if err != nil {
		return ""
	}
	return string(b)
}

// truncate cuts s to limit runes, appending suffix when anything was cut.
func truncate(s string, limit int, suffix string) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit]) + suffix
}
