// Package metrics provides Prometheus metrics for the civicmesh service
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the service
type Metrics struct {
	// Answer pipeline
	AnswerRequests   prometheus.CounterVec
	AnswerDuration   prometheus.Histogram
	AnswerErrors     prometheus.Counter
	AnswerCacheHits  prometheus.Counter
	AnswerConfidence prometheus.CounterVec
	StreamedTokens   prometheus.Counter

	// Retrieval
	RetrievalRequests    prometheus.Counter
	RetrievalDuration    prometheus.Histogram
	RetrievalResultCount prometheus.Histogram
	RetrievalErrors      prometheus.Counter

	// Embedding
	EmbeddingCalls    prometheus.Counter
	EmbeddingDuration prometheus.Histogram
	EmbeddingCacheHit prometheus.Gauge

	// Ingestion
	ConnectorRuns     prometheus.CounterVec
	ItemsUpserted     prometheus.Counter
	ItemsSkipped      prometheus.Counter
	IngestionDuration prometheus.Histogram
	IngestionErrors   prometheus.Counter
	DocumentsChecked  prometheus.Counter
	DocumentsChanged  prometheus.Counter

	// Cost tracking
	TokensProcessed prometheus.CounterVec
}

// New creates and registers every service metric on the default registry.
func New() *Metrics {
	return &Metrics{
		AnswerRequests: *promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "civicmesh_answer_requests_total",
			Help: "Total answer requests by tenant",
		}, []string{"tenant"}),
		AnswerDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "civicmesh_answer_duration_seconds",
			Help:    "End-to-end answer latency in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		}),
		AnswerErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "civicmesh_answer_errors_total",
			Help: "Total failed answer requests",
		}),
		AnswerCacheHits: promauto.NewCounter(prometheus.CounterOpts{
			Name: "civicmesh_answer_cache_hits_total",
			Help: "Total answers served from the answer cache",
		}),
		AnswerConfidence: *promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "civicmesh_answer_confidence_total",
			Help: "Answers by confidence level",
		}, []string{"level"}),
		StreamedTokens: promauto.NewCounter(prometheus.CounterOpts{
			Name: "civicmesh_streamed_tokens_total",
			Help: "Total completion tokens streamed to clients",
		}),

		RetrievalRequests: promauto.NewCounter(prometheus.CounterOpts{
			Name: "civicmesh_retrieval_requests_total",
			Help: "Total hybrid retrieval invocations",
		}),
		RetrievalDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "civicmesh_retrieval_duration_seconds",
			Help:    "Hybrid retrieval latency in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 10),
		}),
		RetrievalResultCount: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "civicmesh_retrieval_results_count",
			Help:    "Chunks returned per retrieval",
			Buckets: prometheus.LinearBuckets(0, 2, 12),
		}),
		RetrievalErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "civicmesh_retrieval_errors_total",
			Help: "Total failed retrievals",
		}),

		EmbeddingCalls: promauto.NewCounter(prometheus.CounterOpts{
			Name: "civicmesh_embedding_calls_total",
			Help: "Total embedding provider calls",
		}),
		EmbeddingDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "civicmesh_embedding_duration_seconds",
			Help:    "Embedding provider latency in seconds",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		EmbeddingCacheHit: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "civicmesh_embedding_cache_hit_rate",
			Help: "Embedding cache hit rate since startup",
		}),

		ConnectorRuns: *promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "civicmesh_connector_runs_total",
			Help: "Connector runs by type and outcome",
		}, []string{"type", "outcome"}),
		ItemsUpserted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "civicmesh_items_upserted_total",
			Help: "Total content items upserted",
		}),
		ItemsSkipped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "civicmesh_items_skipped_total",
			Help: "Total duplicate content items skipped",
		}),
		IngestionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "civicmesh_ingestion_duration_seconds",
			Help:    "Connector run duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		}),
		IngestionErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "civicmesh_ingestion_errors_total",
			Help: "Total ingestion errors",
		}),
		DocumentsChecked: promauto.NewCounter(prometheus.CounterOpts{
			Name: "civicmesh_documents_checked_total",
			Help: "Total documents checked by the change monitor",
		}),
		DocumentsChanged: promauto.NewCounter(prometheus.CounterOpts{
			Name: "civicmesh_documents_changed_total",
			Help: "Total documents flagged as changed",
		}),

		TokensProcessed: *promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "civicmesh_tokens_processed_total",
			Help: "Total provider tokens by endpoint",
		}, []string{"endpoint"}),
	}
}

// RecordAnswer records one finished answer request.
func (m *Metrics) RecordAnswer(tenantID, confidence string, duration float64, cacheHit bool, err error) {
	m.AnswerRequests.WithLabelValues(tenantID).Inc()
	m.AnswerDuration.Observe(duration)
	if confidence != "" {
		m.AnswerConfidence.WithLabelValues(confidence).Inc()
	}
	if cacheHit {
		m.AnswerCacheHits.Inc()
	}
	if err != nil {
		m.AnswerErrors.Inc()
	}
}

// RecordRetrieval records one hybrid search.
func (m *Metrics) RecordRetrieval(resultCount int, duration float64, err error) {
	m.RetrievalRequests.Inc()
	m.RetrievalDuration.Observe(duration)
	m.RetrievalResultCount.Observe(float64(resultCount))
	if err != nil {
		m.RetrievalErrors.Inc()
	}
}

// RecordConnectorRun records one connector execution.
func (m *Metrics) RecordConnectorRun(connectorType string, upserted, skipped, errorCount int, duration float64) {
	outcome := "ok"
	if errorCount > 0 {
		outcome = "error"
	}
	m.ConnectorRuns.WithLabelValues(connectorType, outcome).Inc()
	m.ItemsUpserted.Add(float64(upserted))
	m.ItemsSkipped.Add(float64(skipped))
	m.IngestionDuration.Observe(duration)
	m.IngestionErrors.Add(float64(errorCount))
}

// RecordMonitorRun records one change-detection pass.
func (m *Metrics) RecordMonitorRun(checked, changed int) {
	m.DocumentsChecked.Add(float64(checked))
	m.DocumentsChanged.Add(float64(changed))
}
