package repo

import (
	"context"

	"github.com/xxxsen/qcache/internal/model"
)

// CacheStore holds one CacheDocument per bucket key. Writes are upsert-by-key.
type CacheStore interface {
	// Get returns errors.ErrNotFound when the bucket does not exist.
	Get(ctx context.Context, key model.CacheBucketKey) (*model.CacheDocument, error)
	// GetMany omits missing buckets from the result.
	GetMany(ctx context.Context, keys []model.CacheBucketKey) (map[model.CacheBucketKey]*model.CacheDocument, error)
	Upsert(ctx context.Context, doc *model.CacheDocument) error
	// MergeQuestions applies every addition atomically against the live buckets, skipping
	// records whose content key is already stored under the same objective. It returns the
	// number of records written.
	MergeQuestions(ctx context.Context, additions []model.BucketAddition, now int64) (int, error)
}

// EmbeddingStore is append-only: an entry is written at most once per content key.
type EmbeddingStore interface {
	Get(ctx context.Context, contentKey string) (*model.EmbeddingEntry, bool, error)
	PutIfAbsent(ctx context.Context, entry *model.EmbeddingEntry) (bool, error)
}

type SummaryStore interface {
	Create(ctx context.Context, summary *model.CacheSummary) error
	Get(ctx context.Context, id string) (*model.CacheSummary, error)
	SaveGeneratedAnswers(ctx context.Context, id string, answers []model.GeneratedAnswer, now int64) error
	// MarkInProgress moves a created or failed summary to in_progress and bumps its attempt
	// counter. With force an in_progress summary is taken over as well. It returns
	// ErrAlreadyUpdated for updated summaries and ErrInProgress when the transition is refused.
	MarkInProgress(ctx context.Context, id string, force bool, now int64) (*model.CacheSummary, error)
	MarkUpdated(ctx context.Context, id string, now int64) error
	MarkFailed(ctx context.Context, id string, reason string, now int64) error
	List(ctx context.Context, filter model.SummaryFilter) ([]model.CacheSummary, error)
	CountByStatus(ctx context.Context) (map[model.SummaryStatus]int, error)
	DeleteBefore(ctx context.Context, statuses []model.SummaryStatus, cutoff int64) (int64, error)
}
