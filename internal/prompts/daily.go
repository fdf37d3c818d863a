package prompts

import (
	"fmt"
	"strings"
)

// dailyQuestionsTemplate asks for extra check-in questions. Format verbs:
// base questions, patient summary, recent conversation.
const dailyQuestionsTemplate = `You prepare the daily health check-in of a patient.
The following questions are always asked:
%s

Propose at most two additional questions that help follow up on what the patient
reported recently. Do not repeat the questions above. Each question has a "question"
text and a "type" of "scale", "text", "enum" or "number". Scale questions carry
integer "from" and "to" bounds. Enum questions carry "options", a list of
{"label", "value"} objects.

Answer with {"questions": [...]}. Return an empty list when nothing needs a follow-up.

## Patient summary
%s

## Conversation of the last 24 hours
%s`

// DailyQuestionsPrompt returns the prompt for the model-proposed part of
// the daily question set.
func DailyQuestionsPrompt(base []string, patientSummary, recent string) string {
	var list strings.Builder
	for _, q := range base {
		fmt.Fprintf(&list, "- %s\n", q)
	}
	return fmt.Sprintf(dailyQuestionsTemplate,
		strings.TrimRight(list.String(), "\n"),
		orNone(patientSummary),
		orNone(recent))
}

func orNone(s string) string {
	if strings.TrimSpace(s) == "" {
		return "(none)"
	}
	return s
}
