package model

type Blueprint struct {
	RequestedConfigID string             `json:"requested_config_id"`
	ChapterID         string             `json:"chapter_id"`
	UnitLevel         string             `json:"unit_level"`
	Templates         []QuestionTemplate `json:"templates"`
}

type QuestionTemplate struct {
	Type              string             `json:"type"`
	NumberOfQuestions int                `json:"number_of_questions"`
	MarksPerQuestion  float64            `json:"marks_per_question"`
	Distribution      []SlotDistribution `json:"per_unit_objective_distribution"`
}

// SlotDistribution is one (unit, objective) slot of a template. Count is optional on input;
// when every slot of a template omits it the template's NumberOfQuestions is spread evenly.
// Explicit counts must add up to NumberOfQuestions unless NumberOfQuestions is left at zero.
type SlotDistribution struct {
	UnitName  string `json:"unit_name"`
	Objective string `json:"objective"`
	Count     int    `json:"count,omitempty"`
}

type NotFoundTemplate struct {
	Type             string             `json:"type"`
	MarksPerQuestion float64            `json:"marks_per_question"`
	Distribution     []SlotDistribution `json:"per_unit_objective_distribution"`
}

func (t NotFoundTemplate) Missing() int {
	total := 0
	for _, slot := range t.Distribution {
		total += slot.Count
	}
	return total
}

// GeneratedAnswer carries freshly generated questions for a missed template. UnitName and
// Objective are optional; without them the questions fill the missing slots of the
// matching template in order.
type GeneratedAnswer struct {
	Type             string           `json:"type"`
	MarksPerQuestion float64          `json:"marks_per_question"`
	UnitName         string           `json:"unit_name,omitempty"`
	Objective        string           `json:"objective,omitempty"`
	Questions        []QuestionRecord `json:"questions"`
}

type CachedSlot struct {
	UnitName         string           `json:"unit_name"`
	Objective        string           `json:"objective"`
	Type             string           `json:"type"`
	MarksPerQuestion float64          `json:"marks_per_question"`
	Questions        []QuestionRecord `json:"questions"`
}
