package tools

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/nugget/carepilot/internal/calendar"
)

// DietPrefix tags calendar events that are meals.
const DietPrefix = "Diet - "

// MealDuration is the fixed length of a planned meal.
const MealDuration = 30 * time.Minute

// Meal tool names.
const (
	ToolAddMeal    = "add_meal_to_calendar"
	ToolGetMeals   = "get_meals_for_day"
	ToolEditMeal   = "edit_meal"
	ToolRemoveMeal = "remove_meal"
)

// MealToolNames lists the meal adapters, e.g. for the diet agent's
// filtered registry.
var MealToolNames = []string{ToolAddMeal, ToolGetMeals, ToolEditMeal, ToolRemoveMeal}

var (
	mealTypeParam = map[string]any{
		"type":        "string",
		"description": "breakfast, lunch, dinner or snack",
	}
	dateParam = map[string]any{"type": "string", "description": "Day as YYYY-MM-DD"}
	timeParam = map[string]any{"type": "string", "description": "Start time as HH:MM"}
)

type mealTools struct {
	store CalendarStore
}

// RegisterMealTools adds the meal adapters to r. Meals are calendar
// events whose description starts with DietPrefix.
func RegisterMealTools(r *Registry, store CalendarStore) error {
	m := &mealTools{store: store}
	for _, t := range []*Tool{
		{
			Name:        ToolAddMeal,
			Description: "Add a meal to the user's calendar.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"username":    usernameParam,
					"meal_type":   mealTypeParam,
					"description": map[string]any{"type": "string", "description": "What is eaten"},
					"date":        dateParam,
					"time":        timeParam,
				},
				"required": []string{"username", "meal_type", "description", "date", "time"},
			},
			Handler: m.handleAdd,
		},
		{
			Name:        ToolGetMeals,
			Description: "Get the planned meals of one day.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"username": usernameParam,
					"date":     dateParam,
				},
				"required": []string{"username", "date"},
			},
			Handler: m.handleGet,
		},
		{
			Name:        ToolEditMeal,
			Description: "Change a planned meal.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"username":    usernameParam,
					"event_id":    eventIDParam,
					"meal_type":   mealTypeParam,
					"description": map[string]any{"type": "string", "description": "What is eaten"},
					"date":        dateParam,
					"time":        timeParam,
				},
				"required": []string{"username", "event_id", "meal_type", "description", "date", "time"},
			},
			Handler: m.handleEdit,
		},
		{
			Name:        ToolRemoveMeal,
			Description: "Remove a planned meal.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"username": usernameParam,
					"event_id": eventIDParam,
				},
				"required": []string{"username", "event_id"},
			},
			Handler: m.handleRemove,
		},
	} {
		if err := r.Register(t); err != nil {
			return err
		}
	}
	return nil
}

// MealDescription builds the tagged description of a meal event.
func MealDescription(mealType, description string) string {
	return fmt.Sprintf("%s%s: %s", DietPrefix, capitalize(mealType), description)
}

// IsMeal reports whether an event description carries the diet tag.
func IsMeal(description string) bool {
	return strings.HasPrefix(description, DietPrefix)
}

// capitalize upper-cases the first letter and lower-cases the rest.
func capitalize(s string) string {
	r := []rune(strings.ToLower(strings.TrimSpace(s)))
	if len(r) > 0 {
		r[0] = unicode.ToUpper(r[0])
	}
	return string(r)
}

func (m *mealTools) slot(args map[string]any) (time.Time, error) {
	return calendar.ParseTimestamp(stringArg(args, "date")+"T"+stringArg(args, "time"), m.store.Location())
}

// The meal adapters report domain failures as their result text, each
// with its own prefix.

func (m *mealTools) handleAdd(ctx context.Context, args map[string]any) (string, error) {
	res, err := m.add(ctx, args)
	if err != nil {
		return "Error adding meal: " + err.Error(), nil
	}
	return res, nil
}

func (m *mealTools) add(ctx context.Context, args map[string]any) (string, error) {
	user, err := owner(ctx, args)
	if err != nil {
		return "", err
	}
	from, err := m.slot(args)
	if err != nil {
		return "", err
	}
	desc := MealDescription(stringArg(args, "meal_type"), stringArg(args, "description"))
	e, err := m.store.Add(ctx, user, desc, from, from.Add(MealDuration))
	if err != nil {
		return "", err
	}
	return jsonResult(map[string]string{"message": "Event added", "event_id": e.ID})
}

func (m *mealTools) handleGet(ctx context.Context, args map[string]any) (string, error) {
	res, err := m.get(ctx, args)
	if err != nil {
		return "Error getting meals: " + err.Error(), nil
	}
	return res, nil
}

func (m *mealTools) get(ctx context.Context, args map[string]any) (string, error) {
	user, err := owner(ctx, args)
	if err != nil {
		return "", err
	}
	day, err := calendar.ParseDate(stringArg(args, "date"), m.store.Location())
	if err != nil {
		return "", err
	}
	events, err := m.store.Between(ctx, user, day, day.Add(24*time.Hour))
	if err != nil {
		return "", err
	}
	meals := []calendar.Event{}
	for _, e := range events {
		if IsMeal(e.Description) {
			meals = append(meals, e)
		}
	}
	return jsonResult(map[string]any{"username": user, "meals": meals})
}

func (m *mealTools) handleEdit(ctx context.Context, args map[string]any) (string, error) {
	res, err := m.edit(ctx, args)
	if err != nil {
		return "Error editing meal: " + err.Error(), nil
	}
	return res, nil
}

func (m *mealTools) edit(ctx context.Context, args map[string]any) (string, error) {
	user, err := owner(ctx, args)
	if err != nil {
		return "", err
	}
	from, err := m.slot(args)
	if err != nil {
		return "", err
	}
	id := stringArg(args, "event_id")
	desc := MealDescription(stringArg(args, "meal_type"), stringArg(args, "description"))
	ok, err := m.store.Edit(ctx, user, id, desc, from, from.Add(MealDuration))
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("event %s not found", id)
	}
	return jsonResult(map[string]string{"message": "Event updated", "event_id": id})
}

func (m *mealTools) handleRemove(ctx context.Context, args map[string]any) (string, error) {
	user, err := owner(ctx, args)
	if err != nil {
		return "Error removing meal: " + err.Error(), nil
	}
	id := stringArg(args, "event_id")
	ok, err := m.store.Remove(ctx, user, id)
	if err == nil && !ok {
		err = fmt.Errorf("event %s not found", id)
	}
	if err != nil {
		return "Error removing meal: " + err.Error(), nil
	}
	return jsonResult(map[string]string{"message": "Event removed", "event_id": id})
}
