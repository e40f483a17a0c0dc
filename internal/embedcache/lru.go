package embedcache

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/qcache/internal/model"
	"github.com/xxxsen/qcache/internal/repo"
)

// WrapLRU puts an expirable LRU in front of an embedding store. Entries never change once
// written, so hits can be served without going back to the store.
func WrapLRU(store repo.EmbeddingStore, size int, ttl time.Duration) repo.EmbeddingStore {
	if store == nil || size <= 0 || ttl <= 0 {
		return store
	}
	return &lruStore{
		next:  store,
		cache: expirable.NewLRU[string, model.EmbeddingEntry](size, nil, ttl),
	}
}

type lruStore struct {
	next  repo.EmbeddingStore
	cache *expirable.LRU[string, model.EmbeddingEntry]
}

func (l *lruStore) Get(ctx context.Context, contentKey string) (*model.EmbeddingEntry, bool, error) {
	if cached, ok := l.cache.Get(contentKey); ok {
		logutil.GetLogger(ctx).Debug("embedding cache hit (lru)", zap.String("content_key", contentKey))
		return cloneEntry(cached), true, nil
	}
	entry, ok, err := l.next.Get(ctx, contentKey)
	if err != nil || !ok {
		return entry, ok, err
	}
	l.cache.Add(contentKey, *cloneEntry(*entry))
	return entry, true, nil
}

func (l *lruStore) PutIfAbsent(ctx context.Context, entry *model.EmbeddingEntry) (bool, error) {
	inserted, err := l.next.PutIfAbsent(ctx, entry)
	if err != nil {
		return false, err
	}
	if inserted {
		l.cache.Add(entry.ContentKey, *cloneEntry(*entry))
	}
	return inserted, nil
}

func cloneEntry(entry model.EmbeddingEntry) *model.EmbeddingEntry {
	out := entry
	if len(entry.Vector) > 0 {
		out.Vector = make([]float32, len(entry.Vector))
		copy(out.Vector, entry.Vector)
	}
	return &out
}
