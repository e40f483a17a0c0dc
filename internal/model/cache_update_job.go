package model

type CacheUpdateJob struct {
	CacheSummaryID    string             `json:"cache_summary_id"`
	ChapterID         string             `json:"chapter_id"`
	UnitLevel         string             `json:"unit_level"`
	NotFoundTemplates []NotFoundTemplate `json:"not_found_templates"`
	GeneratedAnswers  []GeneratedAnswer  `json:"generated_answers"`
	Snapshot          []CacheDocument    `json:"processed_cache_snapshot"`
	// Force lets an operator take over a summary stuck in in_progress.
	Force       bool  `json:"force,omitempty"`
	SubmittedAt int64 `json:"submitted_at"`
}

func (j *CacheUpdateJob) SnapshotIndex() map[CacheBucketKey]*CacheDocument {
	out := make(map[CacheBucketKey]*CacheDocument, len(j.Snapshot))
	for i := range j.Snapshot {
		doc := j.Snapshot[i].Clone()
		out[doc.Key] = doc
	}
	return out
}
