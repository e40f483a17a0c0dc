package model

import "strings"

type CacheBucketKey struct {
	ChapterID string `json:"chapter_id"`
	UnitName  string `json:"unit_name"`
	UnitLevel string `json:"unit_level"`
}

func (k CacheBucketKey) String() string {
	return strings.Join([]string{k.ChapterID, k.UnitName, k.UnitLevel}, "|")
}

func (k CacheBucketKey) Valid() bool {
	return strings.TrimSpace(k.ChapterID) != "" && strings.TrimSpace(k.UnitName) != ""
}

type CacheDocument struct {
	Key                  CacheBucketKey              `json:"key"`
	QuestionsByObjective map[string][]QuestionRecord `json:"questions_by_objective"`
	Version              int64                       `json:"version"`
	Ctime                int64                       `json:"ctime"`
	Mtime                int64                       `json:"mtime"`
}

func NewCacheDocument(key CacheBucketKey) *CacheDocument {
	return &CacheDocument{
		Key:                  key,
		QuestionsByObjective: make(map[string][]QuestionRecord),
	}
}

func (d *CacheDocument) Clone() *CacheDocument {
	if d == nil {
		return nil
	}
	out := &CacheDocument{
		Key:                  d.Key,
		QuestionsByObjective: make(map[string][]QuestionRecord, len(d.QuestionsByObjective)),
		Version:              d.Version,
		Ctime:                d.Ctime,
		Mtime:                d.Mtime,
	}
	for objective, records := range d.QuestionsByObjective {
		cloned := make([]QuestionRecord, 0, len(records))
		for _, r := range records {
			cloned = append(cloned, r.Clone())
		}
		out.QuestionsByObjective[objective] = cloned
	}
	return out
}

// Records returns the records under objective that match (questionType, marks), in stored order.
func (d *CacheDocument) Records(objective, questionType string, marks float64) []QuestionRecord {
	if d == nil {
		return nil
	}
	var out []QuestionRecord
	for _, r := range d.QuestionsByObjective[NormalizeObjective(objective)] {
		if r.Matches(questionType, marks) {
			out = append(out, r)
		}
	}
	return out
}

func (d *CacheDocument) Append(objective string, record QuestionRecord) {
	if d.QuestionsByObjective == nil {
		d.QuestionsByObjective = make(map[string][]QuestionRecord)
	}
	objective = NormalizeObjective(objective)
	d.QuestionsByObjective[objective] = append(d.QuestionsByObjective[objective], record)
}

// MergeRecords appends records whose content key is not yet present under objective and
// returns how many were added. keyFn derives the content key of a question text.
func (d *CacheDocument) MergeRecords(objective string, records []QuestionRecord, keyFn func(string) string) int {
	objective = NormalizeObjective(objective)
	seen := make(map[string]struct{}, len(d.QuestionsByObjective[objective])+len(records))
	for _, r := range d.QuestionsByObjective[objective] {
		seen[keyFn(r.QuestionText)] = struct{}{}
	}
	added := 0
	for _, r := range records {
		key := keyFn(r.QuestionText)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		d.Append(objective, r.Clone())
		added++
	}
	return added
}

func (d *CacheDocument) Count() int {
	total := 0
	for _, records := range d.QuestionsByObjective {
		total += len(records)
	}
	return total
}

type BucketAddition struct {
	Key       CacheBucketKey   `json:"key"`
	Objective string           `json:"objective"`
	Records   []QuestionRecord `json:"records"`
}
