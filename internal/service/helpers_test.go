package service

import (
	"context"
	"crypto/sha256"
	"sync"

	"github.com/xxxsen/qcache/internal/contenthash"
	"github.com/xxxsen/qcache/internal/model"
	"github.com/xxxsen/qcache/internal/repo/memrepo"
)

type fakeEmbedder struct {
	mu         sync.Mutex
	vectors    map[string][]float32
	fail       error
	oneCalls   int
	batchCalls int
	embedded   []string
}

func newFakeEmbedder() *fakeEmbedder {
	return &fakeEmbedder{vectors: make(map[string][]float32)}
}

func (f *fakeEmbedder) set(text string, vec ...float32) {
	f.vectors[contenthash.Normalize(text)] = vec
}

func (f *fakeEmbedder) vectorFor(text string) []float32 {
	if vec, ok := f.vectors[text]; ok {
		return vec
	}
	sum := sha256.Sum256([]byte(text))
	vec := make([]float32, 5)
	for i := range vec {
		vec[i] = float32(sum[i]) - 128
	}
	return vec
}

func (f *fakeEmbedder) EmbedOne(_ context.Context, text string) ([]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.oneCalls++
	if f.fail != nil {
		return nil, f.fail
	}
	f.embedded = append(f.embedded, text)
	return f.vectorFor(text), nil
}

func (f *fakeEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batchCalls++
	if f.fail != nil {
		return nil, f.fail
	}
	out := make([][]float32, 0, len(texts))
	for _, text := range texts {
		f.embedded = append(f.embedded, text)
		out = append(out, f.vectorFor(text))
	}
	return out, nil
}

// syncQueue processes jobs inline so tests can observe the outcome right after submit.
type syncQueue struct {
	updater *CacheUpdateService
	jobs    []*model.CacheUpdateJob
	lastErr error
}

func (q *syncQueue) Submit(ctx context.Context, job *model.CacheUpdateJob) error {
	q.jobs = append(q.jobs, job)
	if q.updater != nil {
		q.lastErr = q.updater.Process(ctx, job)
	}
	return nil
}

type fixture struct {
	caches     *memrepo.CacheStore
	embeddings *memrepo.EmbeddingStore
	summaries  *memrepo.SummaryStore
	embedder   *fakeEmbedder
	admission  *AdmissionController
	updater    *CacheUpdateService
	queue      *syncQueue
	svc        *CacheService
}

func newFixture(cfg AdmissionConfig) *fixture {
	f := &fixture{
		caches:     memrepo.NewCacheStore(),
		embeddings: memrepo.NewEmbeddingStore(),
		summaries:  memrepo.NewSummaryStore(),
		embedder:   newFakeEmbedder(),
	}
	f.admission = NewAdmissionController(cfg, f.embeddings, f.embedder)
	f.updater = NewCacheUpdateService(f.caches, f.embeddings, f.summaries, f.admission)
	f.queue = &syncQueue{updater: f.updater}
	f.svc = NewCacheService(NewGapService(f.caches, f.summaries), f.summaries, f.queue)
	return f
}

func mcq(text string) model.QuestionRecord {
	return model.QuestionRecord{QuestionText: text, Type: "MCQ", Marks: 1, Options: []string{"a", "b", "c", "d"}, Answer: "a"}
}

func mcqs(texts ...string) []model.QuestionRecord {
	out := make([]model.QuestionRecord, 0, len(texts))
	for _, t := range texts {
		out = append(out, mcq(t))
	}
	return out
}
