package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nugget/carepilot/internal/calendar"
)

// CalendarStore is the part of the calendar the adapters use.
type CalendarStore interface {
	Add(ctx context.Context, owner, description string, from, to time.Time) (*calendar.Event, error)
	Edit(ctx context.Context, owner, id, description string, from, to time.Time) (bool, error)
	Remove(ctx context.Context, owner, id string) (bool, error)
	List(ctx context.Context, owner string) ([]calendar.Event, error)
	Between(ctx context.Context, owner string, from, to time.Time) ([]calendar.Event, error)
	Location() *time.Location
}

// Calendar tool names.
const (
	ToolGetCalendar         = "get_calendar"
	ToolAddCalendarEvent    = "add_calendar_event"
	ToolRemoveCalendarEvent = "remove_calendar_event"
	ToolEditCalendarEvent   = "edit_calendar_event"
)

var (
	usernameParam = map[string]any{
		"type":        "string",
		"description": "Username of the current user",
	}
	eventIDParam = map[string]any{
		"type":        "string",
		"description": "ID of the event, as returned by get_calendar",
	}
	timestampParam = func(what string) map[string]any {
		return map[string]any{
			"type":        "string",
			"description": what + " as YYYY-MM-DDTHH:MM:SS, optionally with a UTC offset",
		}
	}
)

type calendarTools struct {
	store CalendarStore
}

// RegisterCalendarTools adds the calendar adapters to r.
func RegisterCalendarTools(r *Registry, store CalendarStore) error {
	c := &calendarTools{store: store}
	for _, t := range []*Tool{
		{
			Name:        ToolGetCalendar,
			Description: "Get all calendar events of the user.",
			Parameters: map[string]any{
				"type":       "object",
				"properties": map[string]any{"username": usernameParam},
				"required":   []string{"username"},
			},
			Handler: c.handleGet,
		},
		{
			Name:        ToolAddCalendarEvent,
			Description: "Add an event, such as a doctor's appointment or a medication reminder, to the user's calendar.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"username":       usernameParam,
					"description":    map[string]any{"type": "string", "description": "What the event is about"},
					"from_timestamp": timestampParam("Start"),
					"to_timestamp":   timestampParam("End"),
				},
				"required": []string{"username", "description", "from_timestamp", "to_timestamp"},
			},
			Handler: c.handleAdd,
		},
		{
			Name:        ToolRemoveCalendarEvent,
			Description: "Remove an event from the user's calendar.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"username": usernameParam,
					"event_id": eventIDParam,
				},
				"required": []string{"username", "event_id"},
			},
			Handler: c.handleRemove,
		},
		{
			Name:        ToolEditCalendarEvent,
			Description: "Change the description and time of an event in the user's calendar.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"username":       usernameParam,
					"event_id":       eventIDParam,
					"description":    map[string]any{"type": "string", "description": "New description"},
					"from_timestamp": timestampParam("New start"),
					"to_timestamp":   timestampParam("New end"),
				},
				"required": []string{"username", "event_id", "description", "from_timestamp", "to_timestamp"},
			},
			Handler: c.handleEdit,
		},
	} {
		if err := r.Register(t); err != nil {
			return err
		}
	}
	return nil
}

// owner resolves the user a call acts on. The user bound to the context
// wins over whatever the model passed.
func owner(ctx context.Context, args map[string]any) (string, error) {
	if u := UsernameFromContext(ctx); u != "" {
		return u, nil
	}
	u, _ := args["username"].(string)
	if u = strings.TrimSpace(u); u == "" {
		return "", fmt.Errorf("username is required")
	}
	return u, nil
}

func stringArg(args map[string]any, name string) string {
	s, _ := args[name].(string)
	return strings.TrimSpace(s)
}

func jsonResult(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (c *calendarTools) handleGet(ctx context.Context, args map[string]any) (string, error) {
	user, err := owner(ctx, args)
	if err != nil {
		return "", err
	}
	events, err := c.store.List(ctx, user)
	if err != nil {
		return "", err
	}
	return jsonResult(map[string]any{"username": user, "events": events})
}

func (c *calendarTools) span(args map[string]any) (time.Time, time.Time, error) {
	loc := c.store.Location()
	from, err := calendar.ParseTimestamp(stringArg(args, "from_timestamp"), loc)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	to, err := calendar.ParseTimestamp(stringArg(args, "to_timestamp"), loc)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return from, to, nil
}

func (c *calendarTools) handleAdd(ctx context.Context, args map[string]any) (string, error) {
	user, err := owner(ctx, args)
	if err != nil {
		return "", err
	}
	from, to, err := c.span(args)
	if err != nil {
		return "", err
	}
	e, err := c.store.Add(ctx, user, stringArg(args, "description"), from, to)
	if err != nil {
		return "", err
	}
	return jsonResult(map[string]string{"message": "Event added", "event_id": e.ID})
}

func (c *calendarTools) handleRemove(ctx context.Context, args map[string]any) (string, error) {
	user, err := owner(ctx, args)
	if err != nil {
		return "", err
	}
	id := stringArg(args, "event_id")
	ok, err := c.store.Remove(ctx, user, id)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("event %s not found", id)
	}
	return jsonResult(map[string]string{"message": "Event removed", "event_id": id})
}

func (c *calendarTools) handleEdit(ctx context.Context, args map[string]any) (string, error) {
	user, err := owner(ctx, args)
	if err != nil {
		return "", err
	}
	from, to, err := c.span(args)
	if err != nil {
		return "", err
	}
	id := stringArg(args, "event_id")
	ok, err := c.store.Edit(ctx, user, id, stringArg(args, "description"), from, to)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("event %s not found", id)
	}
	return jsonResult(map[string]string{"message": "Event updated", "event_id": id})
}
