// Package daily owns the daily check-in: the question set, the
// submitted answers, the per-day artifact cache, and the streak.
package daily

// Question types.
const (
	TypeScale  = "scale"
	TypeText   = "text"
	TypeEnum   = "enum"
	TypeNumber = "number"
)

// MaxExtraQuestions caps the model-proposed questions added to the
// base set.
const MaxExtraQuestions = 2

// Option is one choice of an enum question.
type Option struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// Question is one daily check-in question.
type Question struct {
	Question string   `json:"question"`
	Type     string   `json:"type"`
	Field    string   `json:"field,omitempty"`
	From     *int     `json:"from,omitempty"`
	To       *int     `json:"to,omitempty"`
	Options  []Option `json:"options,omitempty"`
}

// Answer is a single submitted answer. Field links it back to a base
// question, e.g. "mood" for the dashboard graph.
type Answer struct {
	Question string `json:"question"`
	Field    string `json:"field,omitempty"`
	Value    string `json:"answer"`
}

// MoodField is the field of the "How are you?" answer.
const MoodField = "mood"

// BaseQuestions returns the fixed question set asked every day.
func BaseQuestions() []Question {
	from, to := 1, 5
	return []Question{
		{Question: "How are you?", Type: TypeScale, Field: MoodField, From: &from, To: &to},
		{Question: "What is your blood pressure?", Type: TypeText, Field: "blood_pressure"},
		{Question: "What is your weight?", Type: TypeText, Field: "weight"},
		{
			Question: "Did you take any medication today?",
			Type:     TypeEnum,
			Field:    "medication",
			Options: []Option{
				{Label: "Yes", Value: "yes"},
				{Label: "No", Value: "no"},
			},
		},
	}
}

// normalize repairs a model-proposed question: unknown types become
// text, and scale bounds default to 1..5.
func normalize(q Question) Question {
	switch q.Type {
	case TypeScale:
		if q.From == nil || q.To == nil || *q.From >= *q.To {
			from, to := 1, 5
			q.From, q.To = &from, &to
		}
	case TypeEnum:
		if len(q.Options) == 0 {
			q.Type = TypeText
		}
	case TypeText, TypeNumber:
	default:
		q.Type = TypeText
	}
	return q
}
