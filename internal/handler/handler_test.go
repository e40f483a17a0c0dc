package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"github.com/xxxsen/common/webapi"

	"github.com/xxxsen/qcache/internal/handler"
	"github.com/xxxsen/qcache/internal/model"
	"github.com/xxxsen/qcache/internal/pkg/errcode"
	"github.com/xxxsen/qcache/internal/repo/memrepo"
	"github.com/xxxsen/qcache/internal/service"
)

type recordingQueue struct {
	mu   sync.Mutex
	jobs []*model.CacheUpdateJob
}

func (q *recordingQueue) Submit(_ context.Context, job *model.CacheUpdateJob) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, job)
	return nil
}

type envelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

func setupRouter(t *testing.T, retryWindow time.Duration) (http.Handler, *recordingQueue) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	caches := memrepo.NewCacheStore()
	summaries := memrepo.NewSummaryStore()
	doc := model.NewCacheDocument(model.CacheBucketKey{ChapterID: "C1", UnitName: "U1", UnitLevel: "L1"})
	doc.QuestionsByObjective[model.ObjectiveKnowledge] = []model.QuestionRecord{
		{QuestionText: "What is a cell?", Type: "MCQ", Marks: 1},
		{QuestionText: "Name the powerhouse of the cell.", Type: "MCQ", Marks: 1},
	}
	require.NoError(t, caches.Upsert(context.Background(), doc))

	queue := &recordingQueue{}
	cache := service.NewCacheService(service.NewGapService(caches, summaries), summaries, queue)
	engine, err := webapi.NewEngine(
		"/api/v1",
		"",
		webapi.WithRegister(func(group *gin.RouterGroup) {
			handler.RegisterRoutes(group, handler.RouterDeps{
				Cache:           handler.NewCacheHandler(cache),
				RetryRateWindow: retryWindow,
			})
		}),
	)
	require.NoError(t, err)
	return engine, queue
}

func call(t *testing.T, router http.Handler, method, path string, body interface{}) envelope {
	t.Helper()
	var reader *bytes.Reader
	switch v := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(v))
	default:
		payload, err := json.Marshal(v)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	require.Equal(t, http.StatusOK, resp.Code)
	var out envelope
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &out))
	return out
}

func analyze(t *testing.T, router http.Handler) model.CacheSummary {
	t.Helper()
	bp := model.Blueprint{
		RequestedConfigID: "cfg-1",
		ChapterID:         "C1",
		UnitLevel:         "L1",
		Templates: []model.QuestionTemplate{{
			Type:              "MCQ",
			NumberOfQuestions: 4,
			MarksPerQuestion:  1,
			Distribution:      []model.SlotDistribution{{UnitName: "U1", Objective: model.ObjectiveKnowledge}},
		}},
	}
	resp := call(t, router, http.MethodPost, "/api/v1/cache/analyze", bp)
	require.Equal(t, 0, resp.Code)
	var result service.GapResult
	require.NoError(t, json.Unmarshal(resp.Data, &result))
	require.NotNil(t, result.Summary)
	return *result.Summary
}

func TestAnalyzeAndSubmit(t *testing.T) {
	router, queue := setupRouter(t, 0)

	summary := analyze(t, router)
	require.Equal(t, 4, summary.TotalQuestionsToFindInCache)
	require.Equal(t, 2, summary.CacheHit)
	require.Equal(t, 2, summary.CacheMiss)
	require.Equal(t, model.SummaryStatusCreated, summary.Status)

	update := map[string]interface{}{
		"generated_answers": []model.GeneratedAnswer{{
			Type:             "MCQ",
			MarksPerQuestion: 1,
			Questions: []model.QuestionRecord{
				{QuestionText: "Which organelle holds DNA?", Type: "MCQ", Marks: 1},
				{QuestionText: "What does the cell wall do?", Type: "MCQ", Marks: 1},
			},
		}},
	}
	resp := call(t, router, http.MethodPost, "/api/v1/cache/summaries/"+summary.ID+"/update", update)
	require.Equal(t, 0, resp.Code)
	require.Len(t, queue.jobs, 1)
	require.Equal(t, summary.ID, queue.jobs[0].CacheSummaryID)
	require.Len(t, queue.jobs[0].Snapshot, 1)

	resp = call(t, router, http.MethodGet, "/api/v1/cache/summaries/"+summary.ID, nil)
	require.Equal(t, 0, resp.Code)
	var stored model.CacheSummary
	require.NoError(t, json.Unmarshal(resp.Data, &stored))
	require.Len(t, stored.NotFoundGeneratedAnswers, 1)

	resp = call(t, router, http.MethodGet, "/api/v1/cache/summaries?status=created&limit=10", nil)
	require.Equal(t, 0, resp.Code)
	var list struct {
		Items []model.CacheSummary `json:"items"`
		Count int                  `json:"count"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &list))
	require.Equal(t, 1, list.Count)
	require.Equal(t, summary.ID, list.Items[0].ID)
}

func TestErrorCodes(t *testing.T) {
	router, queue := setupRouter(t, 0)

	resp := call(t, router, http.MethodPost, "/api/v1/cache/analyze", "{")
	require.Equal(t, errcode.ErrInvalid, resp.Code)

	resp = call(t, router, http.MethodPost, "/api/v1/cache/analyze", model.Blueprint{UnitLevel: "L1"})
	require.Equal(t, errcode.ErrInvalid, resp.Code)

	resp = call(t, router, http.MethodGet, "/api/v1/cache/summaries/missing", nil)
	require.Equal(t, errcode.ErrNotFound, resp.Code)

	resp = call(t, router, http.MethodGet, "/api/v1/cache/summaries?status=bogus", nil)
	require.Equal(t, errcode.ErrInvalid, resp.Code)

	resp = call(t, router, http.MethodGet, "/api/v1/cache/summaries?limit=-1", nil)
	require.Equal(t, errcode.ErrInvalid, resp.Code)

	summary := analyze(t, router)
	resp = call(t, router, http.MethodPost, "/api/v1/cache/summaries/"+summary.ID+"/update", map[string]interface{}{})
	require.Equal(t, errcode.ErrInvalid, resp.Code)

	resp = call(t, router, http.MethodPost, "/api/v1/cache/summaries/"+summary.ID+"/retry", nil)
	require.Equal(t, errcode.ErrInvalid, resp.Code)
	require.Empty(t, queue.jobs)
}

func TestRetryIsRateLimited(t *testing.T) {
	router, queue := setupRouter(t, time.Minute)
	summary := analyze(t, router)
	update := map[string]interface{}{
		"generated_answers": []model.GeneratedAnswer{{
			Type: "MCQ", MarksPerQuestion: 1,
			Questions: []model.QuestionRecord{{QuestionText: "Which organelle holds DNA?", Type: "MCQ", Marks: 1}},
		}},
	}
	require.Equal(t, 0, call(t, router, http.MethodPost, "/api/v1/cache/summaries/"+summary.ID+"/update", update).Code)

	resp := call(t, router, http.MethodPost, "/api/v1/cache/summaries/"+summary.ID+"/retry", nil)
	require.Equal(t, 0, resp.Code)
	resp = call(t, router, http.MethodPost, "/api/v1/cache/summaries/"+summary.ID+"/retry", nil)
	require.Equal(t, errcode.ErrTooMany, resp.Code)
	require.Len(t, queue.jobs, 2)
}

func TestMetricsEndpoint(t *testing.T) {
	router, _ := setupRouter(t, 0)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/metrics", nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	require.Equal(t, http.StatusOK, resp.Code)
	require.Contains(t, resp.Body.String(), "qcache_")
}
