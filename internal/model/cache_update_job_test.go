package model

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCacheUpdateJobSnapshotIndexCopies(t *testing.T) {
	key := CacheBucketKey{ChapterID: "C1", UnitName: "U1", UnitLevel: "L1"}
	doc := NewCacheDocument(key)
	doc.Append("Knowledge", QuestionRecord{QuestionText: "q1", Type: "MCQ", Marks: 1, Options: []string{"a", "b"}})
	job := &CacheUpdateJob{Snapshot: []CacheDocument{*doc}}

	index := job.SnapshotIndex()
	require.Len(t, index, 1)
	got := index[key]
	require.NotNil(t, got)
	require.Len(t, got.Records("knowledge", "mcq", 1), 1)

	got.Append("knowledge", QuestionRecord{QuestionText: "q2", Type: "MCQ", Marks: 1})
	got.QuestionsByObjective["knowledge"][0].Options[0] = "changed"
	require.Equal(t, 1, job.Snapshot[0].Count())
	require.Equal(t, "a", job.Snapshot[0].QuestionsByObjective["knowledge"][0].Options[0])
}
