package prompts

import (
	"fmt"
	"strings"
)

// ChatRole opens the system preamble of the chat agent.
const ChatRole = `You are a healthcare assistant. You receive user messages and sometimes images.
Match the tone of the user. If the user is scared because of an illness, support them.
If they should see a doctor, motivate them to go. Try to identify potential health
issues early on. Add events to the calendar when needed and replan the user's diet on
request. Be proactive.`

// DietRole opens the system preamble of the diet-planning agent.
const DietRole = `You are a diet planning assistant. Help the user plan their meals for the
next days or for specific days based on their health information and goals. Avoid any
meals the user does not like. Keep going until every requested day is planned, and put
each meal on the calendar with add_meal_to_calendar.`

// ChatFallback is returned to the user when the chat agent cannot reach
// the model.
const ChatFallback = "An error occurred while processing your request."

// DietFallback is returned when the diet agent cannot reach the model.
const DietFallback = "An error occurred while processing your diet planning request."

// TruncationNotice replaces an empty final answer when the agent stops
// at its tool-round limit.
const TruncationNotice = "I had to stop before finishing every step of your request. Please check your calendar and ask again if something is missing."

// Section is one titled block of the agent preamble.
type Section struct {
	Title string
	Body  string
}

// AgentPreamble joins the role text and the non-empty context sections
// into the system message that precedes every agent transcript. The
// username is stated so tools that take one are called with it.
func AgentPreamble(role, username string, sections []Section) string {
	var sb strings.Builder
	sb.WriteString(role)
	if username != "" {
		fmt.Fprintf(&sb, "\n\nThe current user's username is %q. Use it for every tool that takes a username.", username)
	}
	for _, s := range sections {
		if strings.TrimSpace(s.Body) == "" {
			continue
		}
		fmt.Fprintf(&sb, "\n\n## %s\n%s", s.Title, strings.TrimSpace(s.Body))
	}
	return sb.String()
}

// dietPlanTemplate is the user turn sent to the diet agent by the plan
// endpoint. Format verbs: day count, preferences.
const dietPlanTemplate = `Please plan my meals for the next %d day(s), starting tomorrow.
Preferences: %s`

// DietPlanRequest returns the user message that starts a diet-planning
// run.
func DietPlanRequest(days int, preferences string) string {
	if strings.TrimSpace(preferences) == "" {
		preferences = "none"
	}
	return fmt.Sprintf(dietPlanTemplate, days, preferences)
}
