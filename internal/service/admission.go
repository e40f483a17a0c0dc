package service

import (
	"context"
	"fmt"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/qcache/internal/contenthash"
	"github.com/xxxsen/qcache/internal/metrics"
	"github.com/xxxsen/qcache/internal/model"
	"github.com/xxxsen/qcache/internal/pkg/timeutil"
	"github.com/xxxsen/qcache/internal/repo"
)

const (
	defaultMaxBucketSize       = 10
	defaultSimilarityThreshold = 0.9
)

type Embedder interface {
	EmbedOne(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

type AdmissionDecision string

const (
	DecisionBootstrap      AdmissionDecision = "bootstrap"
	DecisionNovel          AdmissionDecision = "novel"
	DecisionNearDuplicate  AdmissionDecision = "near_duplicate"
	DecisionExactDuplicate AdmissionDecision = "exact_duplicate"
)

func (d AdmissionDecision) Admitted() bool {
	return d == DecisionBootstrap || d == DecisionNovel
}

type AdmissionConfig struct {
	MaxBucketSize       int
	SimilarityThreshold float64
}

type AdmissionController struct {
	maxBucketSize int
	threshold     float64
	store         repo.EmbeddingStore
	client        Embedder
}

func NewAdmissionController(cfg AdmissionConfig, store repo.EmbeddingStore, client Embedder) *AdmissionController {
	if cfg.MaxBucketSize <= 0 {
		cfg.MaxBucketSize = defaultMaxBucketSize
	}
	if cfg.SimilarityThreshold <= 0 {
		cfg.SimilarityThreshold = defaultSimilarityThreshold
	}
	return &AdmissionController{
		maxBucketSize: cfg.MaxBucketSize,
		threshold:     cfg.SimilarityThreshold,
		store:         store,
		client:        client,
	}
}

// Admit decides whether candidate joins a bucket whose records of the same (type, marks)
// are existing. Vectors resolved on the way are kept in vs; the candidate's own vector is
// only marked for persisting once the candidate is admitted.
func (a *AdmissionController) Admit(ctx context.Context, candidate model.QuestionRecord, existing []model.QuestionRecord, vs *vectorSet) (AdmissionDecision, error) {
	decision, sim, err := a.decide(ctx, candidate, existing, vs)
	if err != nil {
		return "", err
	}
	if decision.Admitted() {
		vs.promote(contenthash.Key(candidate.QuestionText))
	}
	metrics.AdmissionDecisions.WithLabelValues(string(decision)).Inc()
	logutil.GetLogger(ctx).Debug("admission decision",
		zap.String("decision", string(decision)),
		zap.Int("existing", len(existing)),
		zap.Float64("max_similarity", sim),
	)
	return decision, nil
}

func (a *AdmissionController) decide(ctx context.Context, candidate model.QuestionRecord, existing []model.QuestionRecord, vs *vectorSet) (AdmissionDecision, float64, error) {
	key := contenthash.Key(candidate.QuestionText)
	for _, r := range existing {
		if contenthash.Key(r.QuestionText) == key {
			return DecisionExactDuplicate, 1, nil
		}
	}
	if len(existing) < a.maxBucketSize {
		return DecisionBootstrap, 0, nil
	}
	candidateVec, err := a.vectorOf(ctx, candidate.QuestionText, vs)
	if err != nil {
		return "", 0, fmt.Errorf("embed candidate: %w", err)
	}
	texts := make([]string, 0, len(existing))
	for _, r := range existing {
		texts = append(texts, r.QuestionText)
	}
	if err := a.Resolve(ctx, texts, vs); err != nil {
		return "", 0, fmt.Errorf("embed bucket records: %w", err)
	}
	others := make([][]float32, 0, len(existing))
	for _, r := range existing {
		others = append(others, vs.vector(contenthash.Key(r.QuestionText)))
	}
	sim := maxSimilarity(candidateVec, others)
	if sim < a.threshold {
		return DecisionNovel, sim, nil
	}
	return DecisionNearDuplicate, sim, nil
}

// vectorOf looks in vs, then the store, and embeds the text only when both miss. A freshly
// embedded vector stays pending until promoted.
func (a *AdmissionController) vectorOf(ctx context.Context, text string, vs *vectorSet) ([]float32, error) {
	normalized := contenthash.Normalize(text)
	key := contenthash.Hash(normalized)
	if vec := vs.vector(key); vec != nil {
		return vec, nil
	}
	found, err := a.lookup(ctx, key, vs)
	if err != nil {
		return nil, err
	}
	if found {
		return vs.vector(key), nil
	}
	vec, err := a.client.EmbedOne(ctx, normalized)
	if err != nil {
		return nil, err
	}
	vs.addPending(key, normalized, vec)
	return vec, nil
}

func (a *AdmissionController) lookup(ctx context.Context, key string, vs *vectorSet) (bool, error) {
	entry, ok, err := a.store.Get(ctx, key)
	if err != nil {
		return false, fmt.Errorf("read embedding %s: %w", key, err)
	}
	if !ok {
		return false, nil
	}
	vs.addStored(key, entry.Vector)
	return true, nil
}

// Resolve makes sure vs knows a vector for every text, embedding the unknown ones in a
// single batch.
func (a *AdmissionController) Resolve(ctx context.Context, texts []string, vs *vectorSet) error {
	var batchKeys, batchTexts []string
	queued := make(map[string]struct{})
	for _, text := range texts {
		normalized := contenthash.Normalize(text)
		key := contenthash.Hash(normalized)
		if _, ok := queued[key]; ok {
			continue
		}
		if vs.vector(key) != nil {
			vs.promote(key)
			continue
		}
		found, err := a.lookup(ctx, key, vs)
		if err != nil {
			return err
		}
		if found {
			continue
		}
		queued[key] = struct{}{}
		batchKeys = append(batchKeys, key)
		batchTexts = append(batchTexts, normalized)
	}
	if len(batchTexts) == 0 {
		return nil
	}
	vecs, err := a.client.EmbedBatch(ctx, batchTexts)
	if err != nil {
		return err
	}
	if len(vecs) != len(batchTexts) {
		return fmt.Errorf("embedding batch returned %d vectors for %d texts", len(vecs), len(batchTexts))
	}
	for i, key := range batchKeys {
		vs.addFresh(key, batchTexts[i], vecs[i])
	}
	return nil
}

// vectorSet is the per-job view of embeddings: vectors read from the store plus the
// ones computed during the job. Fresh entries get persisted; pending ones belong to
// candidates not admitted yet and are dropped with the set unless promoted.
type vectorSet struct {
	known   map[string][]float32
	pending map[string]*model.EmbeddingEntry
	fresh   []*model.EmbeddingEntry
}

func newVectorSet() *vectorSet {
	return &vectorSet{
		known:   make(map[string][]float32),
		pending: make(map[string]*model.EmbeddingEntry),
	}
}

func (v *vectorSet) vector(key string) []float32 {
	return v.known[key]
}

func (v *vectorSet) addStored(key string, vec []float32) {
	v.known[key] = vec
}

func (v *vectorSet) addFresh(key, text string, vec []float32) {
	if _, ok := v.known[key]; ok {
		return
	}
	v.known[key] = vec
	v.fresh = append(v.fresh, newEmbeddingEntry(key, text, vec))
}

func (v *vectorSet) addPending(key, text string, vec []float32) {
	if _, ok := v.known[key]; ok {
		return
	}
	v.known[key] = vec
	v.pending[key] = newEmbeddingEntry(key, text, vec)
}

// promote moves a pending vector to the fresh list. Keys that are not pending are ignored.
func (v *vectorSet) promote(key string) {
	entry, ok := v.pending[key]
	if !ok {
		return
	}
	delete(v.pending, key)
	v.fresh = append(v.fresh, entry)
}

func newEmbeddingEntry(key, text string, vec []float32) *model.EmbeddingEntry {
	return &model.EmbeddingEntry{
		ContentKey: key,
		Text:       text,
		Vector:     vec,
		Ctime:      timeutil.NowUnix(),
	}
}

func (v *vectorSet) freshEntries() []*model.EmbeddingEntry {
	return v.fresh
}
