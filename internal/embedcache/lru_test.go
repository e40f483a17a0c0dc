package embedcache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/qcache/internal/model"
)

type countingStore struct {
	entries map[string]model.EmbeddingEntry
	gets    int
}

func (c *countingStore) Get(_ context.Context, key string) (*model.EmbeddingEntry, bool, error) {
	c.gets++
	e, ok := c.entries[key]
	if !ok {
		return nil, false, nil
	}
	return &e, true, nil
}

func (c *countingStore) PutIfAbsent(_ context.Context, entry *model.EmbeddingEntry) (bool, error) {
	if _, ok := c.entries[entry.ContentKey]; ok {
		return false, nil
	}
	c.entries[entry.ContentKey] = *entry
	return true, nil
}

func TestWrapLRUServesRepeatedReads(t *testing.T) {
	ctx := context.Background()
	backing := &countingStore{entries: map[string]model.EmbeddingEntry{
		"k1": {ContentKey: "k1", Vector: []float32{1, 2}},
	}}
	store := WrapLRU(backing, 16, time.Minute)

	for i := 0; i < 3; i++ {
		entry, ok, err := store.Get(ctx, "k1")
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, []float32{1, 2}, entry.Vector)
		entry.Vector[0] = 99
	}
	require.Equal(t, 1, backing.gets)

	_, ok, err := store.Get(ctx, "missing")
	require.NoError(t, err)
	require.False(t, ok)
	_, _, _ = store.Get(ctx, "missing")
	require.Equal(t, 3, backing.gets)
}

func TestWrapLRUCachesInserted(t *testing.T) {
	ctx := context.Background()
	backing := &countingStore{entries: map[string]model.EmbeddingEntry{}}
	store := WrapLRU(backing, 16, time.Minute)

	inserted, err := store.PutIfAbsent(ctx, &model.EmbeddingEntry{ContentKey: "k2", Vector: []float32{3}})
	require.NoError(t, err)
	require.True(t, inserted)
	_, ok, err := store.Get(ctx, "k2")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 0, backing.gets)
}

func TestWrapLRUDisabled(t *testing.T) {
	backing := &countingStore{entries: map[string]model.EmbeddingEntry{}}
	require.Same(t, backing, WrapLRU(backing, 0, time.Minute).(*countingStore))
}
