package repo_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/qcache/internal/model"
	appErr "github.com/xxxsen/qcache/internal/pkg/errors"
	"github.com/xxxsen/qcache/internal/pkg/timeutil"
	"github.com/xxxsen/qcache/internal/repo"
	"github.com/xxxsen/qcache/internal/testutil"
)

func TestQuestionEmbeddingRepoPutIfAbsent(t *testing.T) {
	db, cleanup := testutil.OpenTestDB(t)
	defer cleanup()

	ctx := context.Background()
	embeddings := repo.NewQuestionEmbeddingRepo(db)
	entry := &model.EmbeddingEntry{ContentKey: "k1", Text: "what is x", Vector: []float32{1, 0, 0}, Ctime: timeutil.NowUnix()}

	inserted, err := embeddings.PutIfAbsent(ctx, entry)
	require.NoError(t, err)
	require.True(t, inserted)
	inserted, err = embeddings.PutIfAbsent(ctx, entry)
	require.NoError(t, err)
	require.False(t, inserted)

	got, ok, err := embeddings.Get(ctx, "k1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []float32{1, 0, 0}, got.Vector)
}

func TestCacheRepoMergeQuestions(t *testing.T) {
	db, cleanup := testutil.OpenTestDB(t)
	defer cleanup()

	ctx := context.Background()
	caches := repo.NewCacheRepo(db)
	key := model.CacheBucketKey{ChapterID: "C1", UnitName: "U1", UnitLevel: "L1"}
	record := model.QuestionRecord{QuestionText: "What is a cell?", Type: "MCQ", Marks: 1}

	added, err := caches.MergeQuestions(ctx, []model.BucketAddition{{Key: key, Objective: "knowledge", Records: []model.QuestionRecord{record}}}, 100)
	require.NoError(t, err)
	require.Equal(t, 1, added)
	added, err = caches.MergeQuestions(ctx, []model.BucketAddition{{Key: key, Objective: "knowledge", Records: []model.QuestionRecord{record}}}, 200)
	require.NoError(t, err)
	require.Equal(t, 0, added)

	docs, err := caches.GetMany(ctx, []model.CacheBucketKey{key, {ChapterID: "C1", UnitName: "U2", UnitLevel: "L1"}})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	require.Len(t, docs[key].QuestionsByObjective["knowledge"], 1)
	require.Equal(t, int64(1), docs[key].Version)
}

func TestCacheSummaryRepoLifecycle(t *testing.T) {
	db, cleanup := testutil.OpenTestDB(t)
	defer cleanup()

	ctx := context.Background()
	summaries := repo.NewCacheSummaryRepo(db)
	now := timeutil.NowUnix()
	require.NoError(t, summaries.Create(ctx, &model.CacheSummary{
		ID: "s1", ChapterID: "C1", UnitLevel: "L1", Status: model.SummaryStatusCreated, Ctime: now, Mtime: now,
	}))

	got, err := summaries.MarkInProgress(ctx, "s1", false, now+1)
	require.NoError(t, err)
	require.Equal(t, model.SummaryStatusInProgress, got.Status)
	require.Equal(t, 1, got.Attempts)

	_, err = summaries.MarkInProgress(ctx, "s1", false, now+2)
	require.ErrorIs(t, err, appErr.ErrInProgress)

	require.NoError(t, summaries.MarkFailed(ctx, "s1", "boom", now+3))
	list, err := summaries.List(ctx, model.SummaryFilter{Status: model.SummaryStatusFailed, Limit: 10})
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, "boom", list[0].LastError)

	require.NoError(t, summaries.MarkUpdated(ctx, "s1", now+4))
	counts, err := summaries.CountByStatus(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, counts[model.SummaryStatusUpdated])

	deleted, err := summaries.DeleteBefore(ctx, []model.SummaryStatus{model.SummaryStatusUpdated}, now+10)
	require.NoError(t, err)
	require.Equal(t, int64(1), deleted)
}
