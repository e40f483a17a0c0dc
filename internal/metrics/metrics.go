// Package metrics holds the Prometheus collectors of the cache service.
package metrics

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "qcache"

var (
	// GapQuestions counts requested questions by outcome: hit or miss.
	GapQuestions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gap_questions_total",
			Help:      "Requested questions served from cache or missed",
		},
		[]string{"result"},
	)

	AdmissionDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "admission_decisions_total",
			Help:      "Admission decisions for generated questions",
		},
		[]string{"decision"},
	)

	EmbeddingRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embedding_requests_total",
			Help:      "Embedding calls by result",
		},
		[]string{"result"},
	)

	// EmbeddingRetries counts HTTP retries issued toward embedding providers.
	EmbeddingRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embedding_retries_total",
			Help:      "HTTP retries toward embedding providers",
		},
	)

	CacheUpdateJobs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_update_jobs_total",
			Help:      "Cache update jobs by result",
		},
		[]string{"result"},
	)

	CacheUpdateLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cache_update_latency_seconds",
			Help:      "Duration of a cache update job",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
	)

	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "update_queue_depth",
			Help:      "Jobs waiting in the update queue",
		},
	)

	// Summaries is refreshed by the summary audit job.
	Summaries = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cache_summaries",
			Help:      "Cache summaries by status",
		},
		[]string{"status"},
	)
)

func Handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}
