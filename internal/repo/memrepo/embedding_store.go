package memrepo

import (
	"context"
	"sync"

	"github.com/xxxsen/qcache/internal/model"
)

type EmbeddingStore struct {
	mu      sync.RWMutex
	entries map[string]model.EmbeddingEntry
}

func NewEmbeddingStore() *EmbeddingStore {
	return &EmbeddingStore{entries: make(map[string]model.EmbeddingEntry)}
}

func (s *EmbeddingStore) Get(_ context.Context, contentKey string) (*model.EmbeddingEntry, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.entries[contentKey]
	if !ok {
		return nil, false, nil
	}
	out := entry
	out.Vector = append([]float32(nil), entry.Vector...)
	return &out, true, nil
}

func (s *EmbeddingStore) PutIfAbsent(_ context.Context, entry *model.EmbeddingEntry) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[entry.ContentKey]; ok {
		return false, nil
	}
	stored := *entry
	stored.Vector = append([]float32(nil), entry.Vector...)
	s.entries[entry.ContentKey] = stored
	return true, nil
}

func (s *EmbeddingStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
