package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/qcache/internal/metrics"
	"github.com/xxxsen/qcache/internal/model"
	appErr "github.com/xxxsen/qcache/internal/pkg/errors"
	"github.com/xxxsen/qcache/internal/pkg/timeutil"
	"github.com/xxxsen/qcache/internal/repo"
)

type GapResult struct {
	Summary *model.CacheSummary `json:"summary"`
	Cached  []model.CachedSlot  `json:"cached"`
}

// GapService answers which parts of a blueprint the cache can serve. It never writes to
// the cache store.
type GapService struct {
	caches    repo.CacheStore
	summaries repo.SummaryStore
}

func NewGapService(caches repo.CacheStore, summaries repo.SummaryStore) *GapService {
	return &GapService{caches: caches, summaries: summaries}
}

type slotRequest struct {
	key       model.CacheBucketKey
	objective string
	count     int
}

type slotCursor struct {
	key       model.CacheBucketKey
	objective string
	qtype     string
	marks     float64
}

func (s *GapService) AnalyzeGaps(ctx context.Context, bp *model.Blueprint) (*GapResult, error) {
	plans, err := planBlueprint(bp)
	if err != nil {
		return nil, err
	}
	docs, err := s.caches.GetMany(ctx, bucketKeys(plans))
	if err != nil {
		return nil, fmt.Errorf("read cache buckets: %w", err)
	}

	now := timeutil.NowUnix()
	summary := &model.CacheSummary{
		ID:                       newID(),
		RequestedConfigID:        bp.RequestedConfigID,
		ChapterID:                bp.ChapterID,
		UnitLevel:                bp.UnitLevel,
		NotFoundTemplates:        []model.NotFoundTemplate{},
		NotFoundGeneratedAnswers: []model.GeneratedAnswer{},
		Status:                   model.SummaryStatusCreated,
		Ctime:                    now,
		Mtime:                    now,
	}
	result := &GapResult{Summary: summary, Cached: []model.CachedSlot{}}
	consumed := make(map[slotCursor]int)

	for i, tpl := range bp.Templates {
		var missing []model.SlotDistribution
		for _, slot := range plans[i] {
			summary.TotalQuestionsToFindInCache += slot.count
			cursor := slotCursor{key: slot.key, objective: slot.objective, qtype: normalizeType(tpl.Type), marks: tpl.MarksPerQuestion}
			available := docs[slot.key].Records(slot.objective, tpl.Type, tpl.MarksPerQuestion)
			offset := consumed[cursor]
			if offset > len(available) {
				offset = len(available)
			}
			available = available[offset:]

			hit := slot.count
			if len(available) < hit {
				hit = len(available)
			}
			consumed[cursor] += hit
			summary.CacheHit += hit
			if hit > 0 {
				selected := make([]model.QuestionRecord, 0, hit)
				for _, r := range available[:hit] {
					selected = append(selected, r.Clone())
				}
				result.Cached = append(result.Cached, model.CachedSlot{
					UnitName:         slot.key.UnitName,
					Objective:        slot.objective,
					Type:             tpl.Type,
					MarksPerQuestion: tpl.MarksPerQuestion,
					Questions:        selected,
				})
			}
			if miss := slot.count - hit; miss > 0 {
				summary.CacheMiss += miss
				missing = append(missing, model.SlotDistribution{
					UnitName:  slot.key.UnitName,
					Objective: slot.objective,
					Count:     miss,
				})
			}
		}
		if len(missing) > 0 {
			summary.NotFoundTemplates = append(summary.NotFoundTemplates, model.NotFoundTemplate{
				Type:             tpl.Type,
				MarksPerQuestion: tpl.MarksPerQuestion,
				Distribution:     missing,
			})
		}
	}
	summary.ProcessedCacheSnapshot = snapshotOf(plans, docs)

	if err := s.summaries.Create(ctx, summary); err != nil {
		return nil, fmt.Errorf("save cache summary: %w", err)
	}
	metrics.GapQuestions.WithLabelValues("hit").Add(float64(summary.CacheHit))
	metrics.GapQuestions.WithLabelValues("miss").Add(float64(summary.CacheMiss))
	logutil.GetLogger(ctx).Info("gap analysis done",
		zap.String("summary_id", summary.ID),
		zap.String("chapter_id", bp.ChapterID),
		zap.Int("requested", summary.TotalQuestionsToFindInCache),
		zap.Int("hit", summary.CacheHit),
		zap.Int("miss", summary.CacheMiss),
	)
	return result, nil
}

// planBlueprint validates bp and expands every template into per-slot counts. When no
// slot of a template carries a count, the template total is split evenly and the
// remainder goes to the first slots.
func planBlueprint(bp *model.Blueprint) ([][]slotRequest, error) {
	if bp == nil || strings.TrimSpace(bp.ChapterID) == "" {
		return nil, fmt.Errorf("chapter_id is required: %w", appErr.ErrInvalid)
	}
	if len(bp.Templates) == 0 {
		return nil, fmt.Errorf("at least one template is required: %w", appErr.ErrInvalid)
	}
	plans := make([][]slotRequest, 0, len(bp.Templates))
	for i, tpl := range bp.Templates {
		if strings.TrimSpace(tpl.Type) == "" {
			return nil, fmt.Errorf("template %d: type is required: %w", i, appErr.ErrInvalid)
		}
		if tpl.MarksPerQuestion <= 0 {
			return nil, fmt.Errorf("template %d: marks_per_question must be positive: %w", i, appErr.ErrInvalid)
		}
		if tpl.NumberOfQuestions < 0 {
			return nil, fmt.Errorf("template %d: number_of_questions must not be negative: %w", i, appErr.ErrInvalid)
		}
		if len(tpl.Distribution) == 0 {
			return nil, fmt.Errorf("template %d: distribution is required: %w", i, appErr.ErrInvalid)
		}
		explicit, total := false, 0
		for j, slot := range tpl.Distribution {
			if strings.TrimSpace(slot.UnitName) == "" || strings.TrimSpace(slot.Objective) == "" {
				return nil, fmt.Errorf("template %d slot %d: unit_name and objective are required: %w", i, j, appErr.ErrInvalid)
			}
			if slot.Count < 0 {
				return nil, fmt.Errorf("template %d slot %d: count must not be negative: %w", i, j, appErr.ErrInvalid)
			}
			if slot.Count > 0 {
				explicit = true
				total += slot.Count
			}
		}
		if explicit && tpl.NumberOfQuestions > 0 && total != tpl.NumberOfQuestions {
			return nil, fmt.Errorf("template %d: slot counts sum to %d, number_of_questions is %d: %w",
				i, total, tpl.NumberOfQuestions, appErr.ErrInvalid)
		}
		if !explicit && tpl.NumberOfQuestions == 0 {
			return nil, fmt.Errorf("template %d: nothing requested: %w", i, appErr.ErrInvalid)
		}
		slots := make([]slotRequest, 0, len(tpl.Distribution))
		share, rest := 0, 0
		if !explicit {
			share = tpl.NumberOfQuestions / len(tpl.Distribution)
			rest = tpl.NumberOfQuestions % len(tpl.Distribution)
		}
		for j, slot := range tpl.Distribution {
			count := slot.Count
			if !explicit {
				count = share
				if j < rest {
					count++
				}
			}
			slots = append(slots, slotRequest{
				key: model.CacheBucketKey{
					ChapterID: bp.ChapterID,
					UnitName:  strings.TrimSpace(slot.UnitName),
					UnitLevel: bp.UnitLevel,
				},
				objective: model.NormalizeObjective(slot.Objective),
				count:     count,
			})
		}
		plans = append(plans, slots)
	}
	return plans, nil
}

func bucketKeys(plans [][]slotRequest) []model.CacheBucketKey {
	seen := make(map[model.CacheBucketKey]struct{})
	keys := make([]model.CacheBucketKey, 0)
	for _, slots := range plans {
		for _, slot := range slots {
			if _, ok := seen[slot.key]; ok {
				continue
			}
			seen[slot.key] = struct{}{}
			keys = append(keys, slot.key)
		}
	}
	return keys
}

// snapshotOf returns every bucket the analysis read, with empty documents standing in for
// buckets that do not exist yet.
func snapshotOf(plans [][]slotRequest, docs map[model.CacheBucketKey]*model.CacheDocument) []model.CacheDocument {
	keys := bucketKeys(plans)
	out := make([]model.CacheDocument, 0, len(keys))
	for _, key := range keys {
		doc, ok := docs[key]
		if !ok {
			doc = model.NewCacheDocument(key)
		}
		out = append(out, *doc.Clone())
	}
	return out
}

func normalizeType(t string) string {
	return strings.ToLower(strings.TrimSpace(t))
}
