package model

type SummaryStatus string

const (
	SummaryStatusCreated    SummaryStatus = "created"
	SummaryStatusInProgress SummaryStatus = "in_progress"
	SummaryStatusUpdated    SummaryStatus = "updated"
	SummaryStatusFailed     SummaryStatus = "failed"
)

func (s SummaryStatus) Valid() bool {
	switch s {
	case SummaryStatusCreated, SummaryStatusInProgress, SummaryStatusUpdated, SummaryStatusFailed:
		return true
	}
	return false
}

type CacheSummary struct {
	ID                          string             `json:"id"`
	RequestedConfigID           string             `json:"requested_config_id"`
	ChapterID                   string             `json:"chapter_id"`
	UnitLevel                   string             `json:"unit_level"`
	TotalQuestionsToFindInCache int                `json:"total_questions_to_find_in_cache"`
	CacheHit                    int                `json:"cache_hit"`
	CacheMiss                   int                `json:"cache_miss"`
	NotFoundTemplates           []NotFoundTemplate `json:"not_found_templates"`
	NotFoundGeneratedAnswers    []GeneratedAnswer  `json:"not_found_generated_answers"`
	ProcessedCacheSnapshot      []CacheDocument    `json:"processed_cache_snapshot"`
	Status                      SummaryStatus      `json:"status"`
	InProgress                  bool               `json:"in_progress"`
	IsCacheUpdated              bool               `json:"is_cache_updated"`
	Failed                      bool               `json:"failed"`
	LastError                   string             `json:"last_error,omitempty"`
	Attempts                    int                `json:"attempts"`
	Ctime                       int64              `json:"ctime"`
	Mtime                       int64              `json:"mtime"`
}

type SummaryFilter struct {
	Status SummaryStatus
	Limit  int
}
