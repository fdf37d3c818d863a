package users

import (
	"strconv"
)

// Option is one choice of an enum question.
type Option struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// SetupQuestion is one entry of the profile questionnaire, pre-filled
// with the user's current answer when there is one.
type SetupQuestion struct {
	Question string   `json:"question"`
	Type     string   `json:"type"` // text, number, enum
	Options  []Option `json:"options"`
	Field    string   `json:"field"`
	Value    *string  `json:"value"`
}

// SetupQuestions returns the profile questionnaire for u, which may be nil.
func SetupQuestions(u *User) []SetupQuestion {
	if u == nil {
		u = &User{}
	}
	text := func(s string) *string {
		if s == "" {
			return nil
		}
		return &s
	}
	num := func(n int) *string {
		if n == 0 {
			return nil
		}
		s := strconv.Itoa(n)
		return &s
	}

	return []SetupQuestion{
		{Question: "What is your first name?", Type: "text", Field: "first_name", Value: text(u.FirstName)},
		{Question: "What is your last name?", Type: "text", Field: "last_name", Value: text(u.LastName)},
		{Question: "What is your age?", Type: "number", Field: "age", Value: num(u.Age)},
		{Question: "What is your height?", Type: "number", Field: "height", Value: num(u.Height)},
		{
			Question: "What is your gender?",
			Type:     "enum",
			Field:    "gender",
			Options: []Option{
				{Label: "Male", Value: "male"},
				{Label: "Female", Value: "female"},
				{Label: "Other", Value: "other"},
			},
			Value: text(u.Gender),
		},
		{Question: "Do you have any allergies. If so what are those?", Type: "text", Field: "allergies", Value: text(u.Allergies)},
		{Question: "Do you have typical health issues. If so what are those?", Type: "text", Field: "issues", Value: text(u.Issues)},
		{Question: "What is your goal?", Type: "text", Field: "goal", Value: text(u.Goal)},
	}
}

// ProfileAnswers renders the answered questionnaire fields as
// question → answer pairs for the agent preamble.
func ProfileAnswers(u *User) map[string]string {
	out := make(map[string]string)
	for _, q := range SetupQuestions(u) {
		if q.Value != nil {
			out[q.Question] = *q.Value
		}
	}
	return out
}
