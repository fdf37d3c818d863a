package agent

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/nugget/carepilot/internal/daily"
	"github.com/nugget/carepilot/internal/prompts"
)

// Variant selects the role text, fallback message, and tool set of a
// run.
type Variant string

// Agent variants.
const (
	VariantChat Variant = "chat"
	VariantDiet Variant = "diet"
)

func (v Variant) role() string {
	if v == VariantDiet {
		return prompts.DietRole
	}
	return prompts.ChatRole
}

// Fallback is the reply used when the model cannot be reached.
func (v Variant) Fallback() string {
	if v == VariantDiet {
		return prompts.DietFallback
	}
	return prompts.ChatFallback
}

// Context is the per-user state injected into the system message.
// Empty fields are left out of the preamble.
type Context struct {
	// Conditions is the current date and time block, rendered first.
	Conditions     string
	Username       string
	ProfileAnswers map[string]string
	DailyAnswers   []daily.Answer
	RecentSummary  string
	PatientSummary string

	// DomainState carries variant-specific state, e.g. the current diet
	// plan for the diet agent.
	DomainState map[string]string
}

// Preamble renders the system message for variant v.
func (c Context) Preamble(v Variant) string {
	var profile strings.Builder
	for _, q := range slices.Sorted(maps.Keys(c.ProfileAnswers)) {
		fmt.Fprintf(&profile, "%s: %s\n", q, c.ProfileAnswers[q])
	}

	var answers strings.Builder
	for _, a := range c.DailyAnswers {
		fmt.Fprintf(&answers, "%s: %s\n", a.Question, a.Value)
	}

	sections := []prompts.Section{
		{Title: "Current conditions", Body: c.Conditions},
		{Title: "User profile", Body: profile.String()},
		{Title: "Today's check-in", Body: answers.String()},
		{Title: "Patient record summary", Body: c.PatientSummary},
		{Title: "Recent conversation summary", Body: c.RecentSummary},
	}
	for _, k := range slices.Sorted(maps.Keys(c.DomainState)) {
		sections = append(sections, prompts.Section{Title: k, Body: c.DomainState[k]})
	}
	return prompts.AgentPreamble(v.role(), c.Username, sections)
}
