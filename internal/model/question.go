package model

import "strings"

const (
	ObjectiveKnowledge     = "knowledge"
	ObjectiveUnderstanding = "understanding"
	ObjectiveApplication   = "application"
	ObjectiveSkill         = "skill"
	ObjectiveComprehension = "comprehension"
	ObjectiveExpression    = "expression"
	ObjectiveAppreciation  = "appreciation"
)

type QuestionRecord struct {
	QuestionText string   `json:"question_text"`
	Options      []string `json:"options,omitempty"`
	Answer       string   `json:"answer,omitempty"`
	Marks        float64  `json:"marks"`
	Type         string   `json:"type"`
}

// Matches reports whether the record belongs to the (type, marks) group.
func (q QuestionRecord) Matches(questionType string, marks float64) bool {
	return strings.EqualFold(strings.TrimSpace(q.Type), strings.TrimSpace(questionType)) && q.Marks == marks
}

func (q QuestionRecord) Clone() QuestionRecord {
	out := q
	if q.Options != nil {
		out.Options = append([]string(nil), q.Options...)
	}
	return out
}

func NormalizeObjective(objective string) string {
	return strings.ToLower(strings.TrimSpace(objective))
}
