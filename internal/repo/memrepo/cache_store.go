package memrepo

import (
	"context"
	"sync"

	"github.com/xxxsen/qcache/internal/contenthash"
	"github.com/xxxsen/qcache/internal/model"
	appErr "github.com/xxxsen/qcache/internal/pkg/errors"
)

type CacheStore struct {
	mu   sync.Mutex
	docs map[model.CacheBucketKey]*model.CacheDocument
}

func NewCacheStore() *CacheStore {
	return &CacheStore{docs: make(map[model.CacheBucketKey]*model.CacheDocument)}
}

func (s *CacheStore) Get(_ context.Context, key model.CacheBucketKey) (*model.CacheDocument, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[key]
	if !ok {
		return nil, appErr.ErrNotFound
	}
	return doc.Clone(), nil
}

func (s *CacheStore) GetMany(_ context.Context, keys []model.CacheBucketKey) (map[model.CacheBucketKey]*model.CacheDocument, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[model.CacheBucketKey]*model.CacheDocument, len(keys))
	for _, key := range keys {
		if doc, ok := s.docs[key]; ok {
			out[key] = doc.Clone()
		}
	}
	return out, nil
}

func (s *CacheStore) Upsert(_ context.Context, doc *model.CacheDocument) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upsertLocked(doc.Clone())
	return nil
}

func (s *CacheStore) upsertLocked(doc *model.CacheDocument) {
	if prev, ok := s.docs[doc.Key]; ok {
		doc.Version = prev.Version + 1
		doc.Ctime = prev.Ctime
	} else {
		doc.Version = 1
	}
	s.docs[doc.Key] = doc
}

// MergeQuestions works on copies and swaps them in only after every bucket merged.
func (s *CacheStore) MergeQuestions(_ context.Context, additions []model.BucketAddition, now int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	staged := make(map[model.CacheBucketKey]*model.CacheDocument)
	changed := make(map[model.CacheBucketKey]int)
	added := 0
	for _, item := range additions {
		if !item.Key.Valid() {
			return 0, appErr.ErrInvalid
		}
		doc, ok := staged[item.Key]
		if !ok {
			if prev, exists := s.docs[item.Key]; exists {
				doc = prev.Clone()
			} else {
				doc = model.NewCacheDocument(item.Key)
				doc.Ctime = now
			}
			staged[item.Key] = doc
		}
		n := doc.MergeRecords(item.Objective, item.Records, contenthash.Key)
		changed[item.Key] += n
		added += n
	}
	for key, doc := range staged {
		if changed[key] == 0 {
			continue
		}
		doc.Mtime = now
		s.upsertLocked(doc)
	}
	return added, nil
}

func (s *CacheStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.docs)
}
