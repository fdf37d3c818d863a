package prompts

import "fmt"

// recentSummaryTemplate is the prompt for the rolling conversation
// summary. The single format verb is the transcript excerpt.
const recentSummaryTemplate = `Summarize the recent conversation briefly:
%s`

// RecentSummaryPrompt returns the prompt that condenses the latest
// messages into the user's recent summary. The transcript is formatted
// as "role: content" lines.
func RecentSummaryPrompt(transcript string) string {
	return fmt.Sprintf(recentSummaryTemplate, transcript)
}

// patientRecordTemplate is the system prompt for summarizing an
// uploaded electronic patient record. The single format verb is the
// record text.
const patientRecordTemplate = `[Role]
You are a clinical summary assistant. Read the full electronic patient record below and
write a comprehensive, accurate and concise summary that contains all important medical
information about the patient. The summary serves as the context for later conversations
and automated reasoning.

[Data]
%s`

// PatientRecordPrompt returns the prompt for summarizing a patient record.
func PatientRecordPrompt(record string) string {
	return fmt.Sprintf(patientRecordTemplate, record)
}

// PatientSummaryPrefix is prepended to every stored patient-record
// summary.
const PatientSummaryPrefix = "Conversation Summary: "
