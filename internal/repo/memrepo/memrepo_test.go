package memrepo

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/qcache/internal/model"
	appErr "github.com/xxxsen/qcache/internal/pkg/errors"
)

func mcq(text string) model.QuestionRecord {
	return model.QuestionRecord{QuestionText: text, Type: "MCQ", Marks: 1, Options: []string{"a", "b"}, Answer: "a"}
}

func TestEmbeddingStorePutIfAbsentIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := NewEmbeddingStore()
	entry := &model.EmbeddingEntry{ContentKey: "k1", Text: "what is x", Vector: []float32{1, 2, 3}}

	inserted, err := store.PutIfAbsent(ctx, entry)
	require.NoError(t, err)
	require.True(t, inserted)

	inserted, err = store.PutIfAbsent(ctx, &model.EmbeddingEntry{ContentKey: "k1", Text: "other", Vector: []float32{9}})
	require.NoError(t, err)
	require.False(t, inserted)
	require.Equal(t, 1, store.Len())

	got, ok, err := store.Get(ctx, "k1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "what is x", got.Text)
	require.Equal(t, []float32{1, 2, 3}, got.Vector)

	_, ok, err = store.Get(ctx, "missing")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestCacheStoreUpsertByKey(t *testing.T) {
	ctx := context.Background()
	store := NewCacheStore()
	key := model.CacheBucketKey{ChapterID: "C1", UnitName: "U1", UnitLevel: "L1"}

	_, err := store.Get(ctx, key)
	require.ErrorIs(t, err, appErr.ErrNotFound)

	doc := model.NewCacheDocument(key)
	doc.Append(model.ObjectiveKnowledge, mcq("q1"))
	require.NoError(t, store.Upsert(ctx, doc))
	doc.Append(model.ObjectiveKnowledge, mcq("q2"))
	require.NoError(t, store.Upsert(ctx, doc))

	require.Equal(t, 1, store.Len())
	got, err := store.Get(ctx, key)
	require.NoError(t, err)
	require.Equal(t, int64(2), got.Version)
	require.Len(t, got.QuestionsByObjective[model.ObjectiveKnowledge], 2)

	got.Append(model.ObjectiveKnowledge, mcq("q3"))
	again, err := store.Get(ctx, key)
	require.NoError(t, err)
	require.Len(t, again.QuestionsByObjective[model.ObjectiveKnowledge], 2)
}

func TestCacheStoreMergeSkipsKnownContent(t *testing.T) {
	ctx := context.Background()
	store := NewCacheStore()
	key := model.CacheBucketKey{ChapterID: "C1", UnitName: "U1", UnitLevel: "L1"}

	added, err := store.MergeQuestions(ctx, []model.BucketAddition{
		{Key: key, Objective: model.ObjectiveKnowledge, Records: []model.QuestionRecord{mcq("What is a cell?"), mcq("Name an organelle.")}},
	}, 100)
	require.NoError(t, err)
	require.Equal(t, 2, added)

	added, err = store.MergeQuestions(ctx, []model.BucketAddition{
		{Key: key, Objective: model.ObjectiveKnowledge, Records: []model.QuestionRecord{mcq("what is a CELL"), mcq("Define osmosis.")}},
	}, 200)
	require.NoError(t, err)
	require.Equal(t, 1, added)

	got, err := store.Get(ctx, key)
	require.NoError(t, err)
	require.Len(t, got.QuestionsByObjective[model.ObjectiveKnowledge], 3)
	require.Equal(t, int64(100), got.Ctime)
	require.Equal(t, int64(200), got.Mtime)
}

func TestCacheStoreMergeIsAtomic(t *testing.T) {
	ctx := context.Background()
	store := NewCacheStore()
	good := model.CacheBucketKey{ChapterID: "C1", UnitName: "U1", UnitLevel: "L1"}

	_, err := store.MergeQuestions(ctx, []model.BucketAddition{
		{Key: good, Objective: model.ObjectiveKnowledge, Records: []model.QuestionRecord{mcq("q1")}},
		{Key: model.CacheBucketKey{}, Objective: model.ObjectiveKnowledge, Records: []model.QuestionRecord{mcq("q2")}},
	}, 100)
	require.ErrorIs(t, err, appErr.ErrInvalid)
	require.Equal(t, 0, store.Len())
}

func TestSummaryStoreTransitions(t *testing.T) {
	ctx := context.Background()
	store := NewSummaryStore()
	require.NoError(t, store.Create(ctx, &model.CacheSummary{ID: "s1", Status: model.SummaryStatusCreated}))
	require.ErrorIs(t, store.Create(ctx, &model.CacheSummary{ID: "s1"}), appErr.ErrConflict)

	summary, err := store.MarkInProgress(ctx, "s1", false, 10)
	require.NoError(t, err)
	require.True(t, summary.InProgress)
	require.Equal(t, 1, summary.Attempts)

	_, err = store.MarkInProgress(ctx, "s1", false, 11)
	require.ErrorIs(t, err, appErr.ErrInProgress)

	require.NoError(t, store.MarkFailed(ctx, "s1", "boom", 12))
	failed, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, model.SummaryStatusFailed, failed.Status)
	require.True(t, failed.Failed)
	require.False(t, failed.InProgress)
	require.Equal(t, "boom", failed.LastError)

	summary, err = store.MarkInProgress(ctx, "s1", false, 13)
	require.NoError(t, err)
	require.Equal(t, 2, summary.Attempts)
	require.False(t, summary.Failed)

	summary, err = store.MarkInProgress(ctx, "s1", true, 14)
	require.NoError(t, err)
	require.Equal(t, 3, summary.Attempts)

	require.NoError(t, store.MarkUpdated(ctx, "s1", 15))
	_, err = store.MarkInProgress(ctx, "s1", true, 16)
	require.ErrorIs(t, err, appErr.ErrAlreadyUpdated)

	_, err = store.MarkInProgress(ctx, "missing", false, 16)
	require.ErrorIs(t, err, appErr.ErrNotFound)
}

func TestSummaryStoreListAndCleanup(t *testing.T) {
	ctx := context.Background()
	store := NewSummaryStore()
	require.NoError(t, store.Create(ctx, &model.CacheSummary{ID: "a", Status: model.SummaryStatusUpdated, Mtime: 10}))
	require.NoError(t, store.Create(ctx, &model.CacheSummary{ID: "b", Status: model.SummaryStatusFailed, Mtime: 20}))
	require.NoError(t, store.Create(ctx, &model.CacheSummary{ID: "c", Status: model.SummaryStatusUpdated, Mtime: 30}))

	list, err := store.List(ctx, model.SummaryFilter{Status: model.SummaryStatusUpdated})
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, "c", list[0].ID)

	list, err = store.List(ctx, model.SummaryFilter{Limit: 1})
	require.NoError(t, err)
	require.Len(t, list, 1)

	counts, err := store.CountByStatus(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, counts[model.SummaryStatusUpdated])
	require.Equal(t, 1, counts[model.SummaryStatusFailed])

	deleted, err := store.DeleteBefore(ctx, []model.SummaryStatus{model.SummaryStatusUpdated}, 25)
	require.NoError(t, err)
	require.Equal(t, int64(1), deleted)
	_, err = store.Get(ctx, "a")
	require.ErrorIs(t, err, appErr.ErrNotFound)
	_, err = store.Get(ctx, "b")
	require.NoError(t, err)
}
