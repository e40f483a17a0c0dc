package ai

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	appErr "github.com/xxxsen/qcache/internal/pkg/errors"
)

func newTestOpenAI(t *testing.T, handler http.HandlerFunc) (*httptest.Server, IEmbedder) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	provider, err := NewProvider("openai", ProviderArgs{
		Data: map[string]interface{}{"api_key": "k", "base_url": srv.URL},
		HTTPClient: NewHTTPClient(HTTPClientConfig{
			Attempts: 4,
			WaitMin:  time.Millisecond,
			WaitMax:  5 * time.Millisecond,
			Timeout:  5 * time.Second,
		}),
	})
	require.NoError(t, err)
	return srv, NewEmbedder(provider, "text-embedding-3-small")
}

func TestOpenAIRetriesServerErrors(t *testing.T) {
	var hits int32
	_, emb := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embeddings" || r.Header.Get("Authorization") != "Bearer k" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if atomic.AddInt32(&hits, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":[{"embedding":[0.5,0.25]}]}`))
	})

	vec, err := emb.Embed(context.Background(), "hello", "")
	require.NoError(t, err)
	require.Equal(t, []float32{0.5, 0.25}, vec)
	require.Equal(t, int32(3), atomic.LoadInt32(&hits))
}

func TestOpenAIGivesUpAfterAttempts(t *testing.T) {
	var hits int32
	_, emb := newTestOpenAI(t, func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := emb.Embed(context.Background(), "hello", "")
	require.Error(t, err)
	var pe *ProviderError
	require.ErrorAs(t, err, &pe)
	require.Equal(t, http.StatusTooManyRequests, pe.StatusCode)
	require.True(t, pe.Retryable())
	require.Equal(t, int32(4), atomic.LoadInt32(&hits))
}

func TestOpenAIDoesNotRetryClientErrors(t *testing.T) {
	var hits int32
	_, emb := newTestOpenAI(t, func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"bad input"}`))
	})

	_, err := emb.Embed(context.Background(), "hello", "")
	require.Error(t, err)
	var pe *ProviderError
	require.ErrorAs(t, err, &pe)
	require.False(t, pe.Retryable())
	require.Contains(t, err.Error(), "bad input")
	require.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestOpenAIMalformedBody(t *testing.T) {
	_, emb := newTestOpenAI(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"data":`))
	})
	_, err := emb.Embed(context.Background(), "hello", "")
	require.Error(t, err)
}

func TestOpenAIWithoutKeyIsUnavailable(t *testing.T) {
	provider, err := NewProvider("openai", ProviderArgs{Data: map[string]interface{}{}})
	require.NoError(t, err)
	_, err = provider.Embed(context.Background(), "m", "x", "")
	require.ErrorIs(t, err, appErr.ErrEmbeddingUnavailable)
}

func TestGroupEmbedderFallsBack(t *testing.T) {
	failing := &fakeEmbedder{failOn: "x"}
	ok := &fakeEmbedder{}
	group := NewGroupEmbedder([]EmbedderEntry{{Name: "a", Embedder: failing}, {Name: "b", Embedder: ok}})
	vec, err := group.Embed(context.Background(), "x", "")
	require.NoError(t, err)
	require.NotEmpty(t, vec)
	require.Equal(t, "a|b", group.ModelName())
}
