package prompts

import "fmt"

// dashboardTemplate asks for the free-text dashboard widgets. Format
// verbs: widget count, body limit, profile, recent answers, extra facts.
const dashboardTemplate = `You fill the personal health dashboard of a patient.
Create exactly %d short text widgets that are useful today, for example a health
overview, progress on goals, reminders, or notable statistics.
Every widget has a "title" and a "body". The body must not exceed %d characters.

Answer with {"widgets": [{"title": "...", "body": "..."}]}.

## Profile
%s

## Daily answers of the last days
%s

## Other facts
%s`

// DashboardWidgetsPrompt returns the prompt for the model-written text
// widgets.
func DashboardWidgetsPrompt(count, bodyLimit int, profile, answers, facts string) string {
	return fmt.Sprintf(dashboardTemplate, count, bodyLimit, orNone(profile), orNone(answers), orNone(facts))
}
