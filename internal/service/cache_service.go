package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/qcache/internal/model"
	appErr "github.com/xxxsen/qcache/internal/pkg/errors"
	"github.com/xxxsen/qcache/internal/pkg/timeutil"
	"github.com/xxxsen/qcache/internal/repo"
)

const maxListLimit = 500

// JobQueue accepts cache update jobs for background processing.
type JobQueue interface {
	Submit(ctx context.Context, job *model.CacheUpdateJob) error
}

// UpdateRequest is what a caller hands back after generating the missing questions.
// Templates and snapshot default to the ones stored on the summary.
type UpdateRequest struct {
	CacheSummaryID         string                   `json:"cache_summary_id"`
	NotFoundTemplates      []model.NotFoundTemplate `json:"not_found_templates,omitempty"`
	GeneratedAnswers       []model.GeneratedAnswer  `json:"generated_answers"`
	ProcessedCacheSnapshot []model.CacheDocument    `json:"processed_cache_snapshot,omitempty"`
	UnitLevel              string                   `json:"unit_level,omitempty"`
}

type CacheService struct {
	gaps      *GapService
	summaries repo.SummaryStore
	queue     JobQueue
}

func NewCacheService(gaps *GapService, summaries repo.SummaryStore, queue JobQueue) *CacheService {
	return &CacheService{gaps: gaps, summaries: summaries, queue: queue}
}

func (s *CacheService) AnalyzeGaps(ctx context.Context, bp *model.Blueprint) (*GapResult, error) {
	return s.gaps.AnalyzeGaps(ctx, bp)
}

// SubmitUpdate stores the generated answers on the summary and enqueues the update. It
// returns once the job is queued.
func (s *CacheService) SubmitUpdate(ctx context.Context, req *UpdateRequest) error {
	if req == nil || strings.TrimSpace(req.CacheSummaryID) == "" {
		return fmt.Errorf("cache_summary_id is required: %w", appErr.ErrInvalid)
	}
	if len(req.GeneratedAnswers) == 0 {
		return fmt.Errorf("generated_answers is required: %w", appErr.ErrInvalid)
	}
	for i, answer := range req.GeneratedAnswers {
		if strings.TrimSpace(answer.Type) == "" || answer.MarksPerQuestion <= 0 {
			return fmt.Errorf("generated_answers[%d]: type and marks_per_question are required: %w", i, appErr.ErrInvalid)
		}
	}
	summary, err := s.summaries.Get(ctx, req.CacheSummaryID)
	if err != nil {
		return err
	}
	if err := checkSubmittable(summary, false); err != nil {
		return err
	}
	if err := s.summaries.SaveGeneratedAnswers(ctx, summary.ID, req.GeneratedAnswers, timeutil.NowUnix()); err != nil {
		return fmt.Errorf("save generated answers: %w", err)
	}
	summary.NotFoundGeneratedAnswers = req.GeneratedAnswers
	job := jobFromSummary(summary, false)
	if req.NotFoundTemplates != nil {
		job.NotFoundTemplates = req.NotFoundTemplates
	}
	if req.ProcessedCacheSnapshot != nil {
		job.Snapshot = req.ProcessedCacheSnapshot
	}
	if req.UnitLevel != "" {
		job.UnitLevel = req.UnitLevel
	}
	return s.enqueue(ctx, job)
}

// Retry resubmits a summary from its stored answers and snapshot. A summary still in
// progress is only taken over with force.
func (s *CacheService) Retry(ctx context.Context, id string, force bool) error {
	summary, err := s.summaries.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := checkSubmittable(summary, force); err != nil {
		return err
	}
	if len(summary.NotFoundGeneratedAnswers) == 0 {
		return fmt.Errorf("summary %s has no generated answers: %w", id, appErr.ErrInvalid)
	}
	logutil.GetLogger(ctx).Info("retry cache summary",
		zap.String("summary_id", id), zap.String("status", string(summary.Status)), zap.Bool("force", force))
	return s.enqueue(ctx, jobFromSummary(summary, force))
}

func (s *CacheService) GetSummary(ctx context.Context, id string) (*model.CacheSummary, error) {
	return s.summaries.Get(ctx, id)
}

func (s *CacheService) ListSummaries(ctx context.Context, filter model.SummaryFilter) ([]model.CacheSummary, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, fmt.Errorf("unknown status %q: %w", filter.Status, appErr.ErrInvalid)
	}
	if filter.Limit <= 0 || filter.Limit > maxListLimit {
		filter.Limit = maxListLimit
	}
	return s.summaries.List(ctx, filter)
}

func (s *CacheService) enqueue(ctx context.Context, job *model.CacheUpdateJob) error {
	if err := s.queue.Submit(ctx, job); err != nil {
		return fmt.Errorf("enqueue cache update: %w", err)
	}
	logutil.GetLogger(ctx).Info("cache update queued",
		zap.String("summary_id", job.CacheSummaryID), zap.Int("answers", len(job.GeneratedAnswers)))
	return nil
}

func checkSubmittable(summary *model.CacheSummary, force bool) error {
	switch summary.Status {
	case model.SummaryStatusUpdated:
		return appErr.ErrAlreadyUpdated
	case model.SummaryStatusInProgress:
		if !force {
			return appErr.ErrInProgress
		}
	}
	return nil
}

func jobFromSummary(summary *model.CacheSummary, force bool) *model.CacheUpdateJob {
	return &model.CacheUpdateJob{
		CacheSummaryID:    summary.ID,
		ChapterID:         summary.ChapterID,
		UnitLevel:         summary.UnitLevel,
		NotFoundTemplates: summary.NotFoundTemplates,
		GeneratedAnswers:  summary.NotFoundGeneratedAnswers,
		Snapshot:          summary.ProcessedCacheSnapshot,
		Force:             force,
		SubmittedAt:       timeutil.NowUnix(),
	}
}
