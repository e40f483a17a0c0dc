package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/qcache/internal/contenthash"
	"github.com/xxxsen/qcache/internal/metrics"
	"github.com/xxxsen/qcache/internal/model"
	appErr "github.com/xxxsen/qcache/internal/pkg/errors"
	"github.com/xxxsen/qcache/internal/pkg/timeutil"
	"github.com/xxxsen/qcache/internal/repo"
)

// CacheUpdateService grows the cache from one completed generation request.
type CacheUpdateService struct {
	caches     repo.CacheStore
	embeddings repo.EmbeddingStore
	summaries  repo.SummaryStore
	admission  *AdmissionController
}

func NewCacheUpdateService(caches repo.CacheStore, embeddings repo.EmbeddingStore, summaries repo.SummaryStore, admission *AdmissionController) *CacheUpdateService {
	return &CacheUpdateService{
		caches:     caches,
		embeddings: embeddings,
		summaries:  summaries,
		admission:  admission,
	}
}

type UpdateStats struct {
	Candidates int
	Admitted   int
	Rejected   int
	Embedded   int
	Written    int
}

// Process runs one update job. An already updated summary makes the job a no-op.
// ErrInProgress is returned untouched when another worker owns the summary.
func (s *CacheUpdateService) Process(ctx context.Context, job *model.CacheUpdateJob) error {
	if job == nil || job.CacheSummaryID == "" {
		return appErr.ErrInvalid
	}
	logger := logutil.GetLogger(ctx).With(zap.String("summary_id", job.CacheSummaryID))
	start := time.Now()

	if _, err := s.summaries.MarkInProgress(ctx, job.CacheSummaryID, job.Force, timeutil.NowUnix()); err != nil {
		if errors.Is(err, appErr.ErrAlreadyUpdated) {
			logger.Info("cache summary already updated, skip job")
			metrics.CacheUpdateJobs.WithLabelValues("skipped").Inc()
			return nil
		}
		metrics.CacheUpdateJobs.WithLabelValues("rejected").Inc()
		return err
	}

	stats, err := s.apply(ctx, job)
	if err == nil {
		err = s.summaries.MarkUpdated(ctx, job.CacheSummaryID, timeutil.NowUnix())
	}
	metrics.CacheUpdateLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.CacheUpdateJobs.WithLabelValues("failure").Inc()
		logger.Error("cache update failed", zap.Error(err))
		if markErr := s.summaries.MarkFailed(context.WithoutCancel(ctx), job.CacheSummaryID, err.Error(), timeutil.NowUnix()); markErr != nil {
			logger.Error("mark cache summary failed", zap.Error(markErr))
		}
		return err
	}
	metrics.CacheUpdateJobs.WithLabelValues("success").Inc()
	logger.Info("cache update done",
		zap.Int("candidates", stats.Candidates),
		zap.Int("admitted", stats.Admitted),
		zap.Int("rejected", stats.Rejected),
		zap.Int("embedded", stats.Embedded),
		zap.Int("written", stats.Written),
		zap.Duration("cost", time.Since(start)),
	)
	return nil
}

type slotWork struct {
	key       model.CacheBucketKey
	objective string
	qtype     string
	marks     float64
	questions []model.QuestionRecord
}

type additionKey struct {
	key       model.CacheBucketKey
	objective string
}

// apply admits candidates against the job snapshot and commits the admitted ones. Nothing
// reaches the cache store unless every step before the merge succeeded.
func (s *CacheUpdateService) apply(ctx context.Context, job *model.CacheUpdateJob) (*UpdateStats, error) {
	stats := &UpdateStats{}
	buckets := job.SnapshotIndex()
	vs := newVectorSet()

	var order []additionKey
	admitted := make(map[additionKey][]model.QuestionRecord)
	var worklist []string

	for _, work := range planUpdate(ctx, job) {
		doc, ok := buckets[work.key]
		if !ok {
			doc = model.NewCacheDocument(work.key)
			buckets[work.key] = doc
		}
		for _, candidate := range work.questions {
			stats.Candidates++
			existing := doc.Records(work.objective, work.qtype, work.marks)
			decision, err := s.admission.Admit(ctx, candidate, existing, vs)
			if err != nil {
				return nil, err
			}
			if !decision.Admitted() {
				stats.Rejected++
				continue
			}
			stats.Admitted++
			doc.Append(work.objective, candidate)
			ak := additionKey{key: work.key, objective: work.objective}
			if _, seen := admitted[ak]; !seen {
				order = append(order, ak)
			}
			admitted[ak] = append(admitted[ak], candidate)
			worklist = append(worklist, candidate.QuestionText)
		}
	}
	if stats.Admitted == 0 {
		return stats, nil
	}

	if err := s.admission.Resolve(ctx, worklist, vs); err != nil {
		return nil, fmt.Errorf("embed admitted questions: %w", err)
	}
	for _, entry := range vs.freshEntries() {
		inserted, err := s.embeddings.PutIfAbsent(ctx, entry)
		if err != nil {
			return nil, fmt.Errorf("save embedding %s: %w", entry.ContentKey, err)
		}
		if inserted {
			stats.Embedded++
		}
	}

	additions := make([]model.BucketAddition, 0, len(order))
	for _, ak := range order {
		additions = append(additions, model.BucketAddition{Key: ak.key, Objective: ak.objective, Records: admitted[ak]})
	}
	written, err := s.caches.MergeQuestions(ctx, additions, timeutil.NowUnix())
	if err != nil {
		return nil, fmt.Errorf("commit cache buckets: %w", err)
	}
	stats.Written = written
	return stats, nil
}

// planUpdate routes every generated question to a bucket slot. Answers naming a unit go
// to that unit; the others fill the missing slots of the matching template in order, with
// any surplus offered to the last slot.
func planUpdate(ctx context.Context, job *model.CacheUpdateJob) []slotWork {
	var works []slotWork
	for _, answer := range job.GeneratedAnswers {
		tpl := findTemplate(job.NotFoundTemplates, answer.Type, answer.MarksPerQuestion)
		questions := prepareQuestions(answer)
		if len(questions) == 0 {
			continue
		}
		if strings.TrimSpace(answer.UnitName) != "" {
			objective := answer.Objective
			if objective == "" && tpl != nil {
				objective = objectiveForUnit(tpl, answer.UnitName)
			}
			if strings.TrimSpace(objective) == "" {
				logutil.GetLogger(ctx).Warn("generated answer has no objective, skip",
					zap.String("type", answer.Type), zap.String("unit_name", answer.UnitName))
				continue
			}
			works = append(works, newSlotWork(job, answer, answer.UnitName, objective, questions))
			continue
		}
		if tpl == nil || len(tpl.Distribution) == 0 {
			logutil.GetLogger(ctx).Warn("generated answer matches no missing template, skip",
				zap.String("type", answer.Type), zap.Float64("marks", answer.MarksPerQuestion))
			continue
		}
		rest := questions
		for i, slot := range tpl.Distribution {
			take := slot.Count
			if i == len(tpl.Distribution)-1 || take > len(rest) {
				take = len(rest)
			}
			if take > 0 {
				works = append(works, newSlotWork(job, answer, slot.UnitName, slot.Objective, rest[:take]))
			}
			rest = rest[take:]
		}
	}
	return works
}

func newSlotWork(job *model.CacheUpdateJob, answer model.GeneratedAnswer, unitName, objective string, questions []model.QuestionRecord) slotWork {
	return slotWork{
		key: model.CacheBucketKey{
			ChapterID: job.ChapterID,
			UnitName:  strings.TrimSpace(unitName),
			UnitLevel: job.UnitLevel,
		},
		objective: model.NormalizeObjective(objective),
		qtype:     answer.Type,
		marks:     answer.MarksPerQuestion,
		questions: questions,
	}
}

// prepareQuestions stamps the answer's type and marks onto its questions and drops
// blank ones.
func prepareQuestions(answer model.GeneratedAnswer) []model.QuestionRecord {
	out := make([]model.QuestionRecord, 0, len(answer.Questions))
	for _, q := range answer.Questions {
		if contenthash.Normalize(q.QuestionText) == "" {
			continue
		}
		q = q.Clone()
		q.Type = answer.Type
		q.Marks = answer.MarksPerQuestion
		out = append(out, q)
	}
	return out
}

func findTemplate(templates []model.NotFoundTemplate, qtype string, marks float64) *model.NotFoundTemplate {
	for i := range templates {
		if normalizeType(templates[i].Type) == normalizeType(qtype) && templates[i].MarksPerQuestion == marks {
			return &templates[i]
		}
	}
	return nil
}

func objectiveForUnit(tpl *model.NotFoundTemplate, unitName string) string {
	for _, slot := range tpl.Distribution {
		if strings.EqualFold(strings.TrimSpace(slot.UnitName), strings.TrimSpace(unitName)) {
			return slot.Objective
		}
	}
	return ""
}
