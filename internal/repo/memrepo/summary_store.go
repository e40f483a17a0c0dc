package memrepo

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/xxxsen/qcache/internal/model"
	appErr "github.com/xxxsen/qcache/internal/pkg/errors"
)

type SummaryStore struct {
	mu        sync.Mutex
	summaries map[string]*model.CacheSummary
}

func NewSummaryStore() *SummaryStore {
	return &SummaryStore{summaries: make(map[string]*model.CacheSummary)}
}

func (s *SummaryStore) Create(_ context.Context, summary *model.CacheSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.summaries[summary.ID]; ok {
		return appErr.ErrConflict
	}
	s.summaries[summary.ID] = cloneSummary(summary)
	return nil
}

func (s *SummaryStore) Get(_ context.Context, id string) (*model.CacheSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.summaries[id]
	if !ok {
		return nil, appErr.ErrNotFound
	}
	return cloneSummary(item), nil
}

func (s *SummaryStore) SaveGeneratedAnswers(_ context.Context, id string, answers []model.GeneratedAnswer, now int64) error {
	return s.mutate(id, func(item *model.CacheSummary) error {
		item.NotFoundGeneratedAnswers = cloneAnswers(answers)
		item.Mtime = now
		return nil
	})
}

func (s *SummaryStore) MarkInProgress(_ context.Context, id string, force bool, now int64) (*model.CacheSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.summaries[id]
	if !ok {
		return nil, appErr.ErrNotFound
	}
	switch item.Status {
	case model.SummaryStatusCreated, model.SummaryStatusFailed:
	case model.SummaryStatusInProgress:
		if !force {
			return nil, appErr.ErrInProgress
		}
	case model.SummaryStatusUpdated:
		return nil, appErr.ErrAlreadyUpdated
	default:
		return nil, fmt.Errorf("summary %s in status %s: %w", id, item.Status, appErr.ErrConflict)
	}
	item.Status = model.SummaryStatusInProgress
	item.InProgress = true
	item.Failed = false
	item.Attempts++
	item.Mtime = now
	return cloneSummary(item), nil
}

func (s *SummaryStore) MarkUpdated(_ context.Context, id string, now int64) error {
	return s.mutate(id, func(item *model.CacheSummary) error {
		item.Status = model.SummaryStatusUpdated
		item.InProgress = false
		item.IsCacheUpdated = true
		item.Failed = false
		item.LastError = ""
		item.Mtime = now
		return nil
	})
}

func (s *SummaryStore) MarkFailed(_ context.Context, id string, reason string, now int64) error {
	return s.mutate(id, func(item *model.CacheSummary) error {
		item.Status = model.SummaryStatusFailed
		item.InProgress = false
		item.Failed = true
		item.LastError = reason
		item.Mtime = now
		return nil
	})
}

func (s *SummaryStore) mutate(id string, fn func(item *model.CacheSummary) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.summaries[id]
	if !ok {
		return appErr.ErrNotFound
	}
	return fn(item)
}

func (s *SummaryStore) List(_ context.Context, filter model.SummaryFilter) ([]model.CacheSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := make([]model.CacheSummary, 0, len(s.summaries))
	for _, item := range s.summaries {
		if filter.Status != "" && item.Status != filter.Status {
			continue
		}
		items = append(items, *cloneSummary(item))
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].Mtime == items[j].Mtime {
			return items[i].ID < items[j].ID
		}
		return items[i].Mtime > items[j].Mtime
	})
	if filter.Limit > 0 && len(items) > filter.Limit {
		items = items[:filter.Limit]
	}
	return items, nil
}

func (s *SummaryStore) CountByStatus(_ context.Context) (map[model.SummaryStatus]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[model.SummaryStatus]int)
	for _, item := range s.summaries {
		out[item.Status]++
	}
	return out, nil
}

func (s *SummaryStore) DeleteBefore(_ context.Context, statuses []model.SummaryStatus, cutoff int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	allowed := make(map[model.SummaryStatus]struct{}, len(statuses))
	for _, st := range statuses {
		allowed[st] = struct{}{}
	}
	var deleted int64
	for id, item := range s.summaries {
		if _, ok := allowed[item.Status]; !ok || item.Mtime >= cutoff {
			continue
		}
		delete(s.summaries, id)
		deleted++
	}
	return deleted, nil
}

func cloneSummary(in *model.CacheSummary) *model.CacheSummary {
	out := *in
	out.NotFoundTemplates = make([]model.NotFoundTemplate, 0, len(in.NotFoundTemplates))
	for _, t := range in.NotFoundTemplates {
		t.Distribution = append([]model.SlotDistribution(nil), t.Distribution...)
		out.NotFoundTemplates = append(out.NotFoundTemplates, t)
	}
	out.NotFoundGeneratedAnswers = cloneAnswers(in.NotFoundGeneratedAnswers)
	out.ProcessedCacheSnapshot = make([]model.CacheDocument, 0, len(in.ProcessedCacheSnapshot))
	for i := range in.ProcessedCacheSnapshot {
		out.ProcessedCacheSnapshot = append(out.ProcessedCacheSnapshot, *in.ProcessedCacheSnapshot[i].Clone())
	}
	return &out
}

func cloneAnswers(in []model.GeneratedAnswer) []model.GeneratedAnswer {
	out := make([]model.GeneratedAnswer, 0, len(in))
	for _, a := range in {
		questions := make([]model.QuestionRecord, 0, len(a.Questions))
		for _, q := range a.Questions {
			questions = append(questions, q.Clone())
		}
		a.Questions = questions
		out = append(out, a)
	}
	return out
}
