// Package metrics holds the Prometheus collectors for ingestion, retrieval,
// embedding and the HTTP API.
//
// Every method is safe on a nil *Metrics, so components can be built without
// instrumentation in tests.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns a private registry so several pipelines can coexist in one process.
type Metrics struct {
	registry *prometheus.Registry

	documentsIngested prometheus.Counter
	chunksIngested    prometheus.Counter
	ingestFailures    *prometheus.CounterVec
	ingestDuration    prometheus.Histogram

	queries        prometheus.Counter
	emptyQueries   prometheus.Counter
	queryDuration  prometheus.Histogram
	retrievalFails *prometheus.CounterVec

	embedDuration  *prometheus.HistogramVec
	embedBatchSize *prometheus.HistogramVec
	embedErrors    *prometheus.CounterVec

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// New creates the collectors and registers them on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		documentsIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shiori_documents_ingested_total",
			Help: "Documents fully ingested (parsed, chunked, embedded and stored).",
		}),
		chunksIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shiori_chunks_ingested_total",
			Help: "Chunks written by successful ingestions.",
		}),
		ingestFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shiori_ingest_failures_total",
			Help: "Ingestions aborted, by reason.",
		}, []string{"reason"}),
		ingestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "shiori_ingest_duration_seconds",
			Help:    "Wall time of a whole document ingestion.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		queries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shiori_queries_total",
			Help: "Queries answered.",
		}),
		emptyQueries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shiori_queries_empty_total",
			Help: "Queries that found no evidence above the similarity threshold.",
		}),
		queryDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "shiori_query_duration_seconds",
			Help:    "Wall time of embed, search and answer assembly.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
		retrievalFails: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shiori_retrieval_failures_total",
			Help: "Retrieval steps that failed and degraded to an empty result, by stage.",
		}, []string{"stage"}),
		embedDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "shiori_embedding_duration_seconds",
			Help:    "Embedding latency by provider and operation.",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"provider", "operation"}),
		embedBatchSize: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "shiori_embedding_batch_size",
			Help:    "Texts per embedding batch.",
			Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 250, 500},
		}, []string{"provider"}),
		embedErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shiori_embedding_errors_total",
			Help: "Embedding failures by provider and operation.",
		}, []string{"provider", "operation"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shiori_http_requests_total",
			Help: "HTTP requests by method, route pattern and status code.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "shiori_http_request_duration_seconds",
			Help:    "HTTP request latency by method and route pattern.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
	m.registry.MustRegister(
		m.documentsIngested, m.chunksIngested, m.ingestFailures, m.ingestDuration,
		m.queries, m.emptyQueries, m.queryDuration, m.retrievalFails,
		m.embedDuration, m.embedBatchSize, m.embedErrors,
		m.httpRequests, m.httpDuration,
	)
	return m
}

// Registry exposes the underlying registry (for tests and extra collectors).
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// IngestSucceeded records a completed ingestion.
func (m *Metrics) IngestSucceeded(chunks int, d time.Duration) {
	if m == nil {
		return
	}
	m.documentsIngested.Inc()
	m.chunksIngested.Add(float64(chunks))
	m.ingestDuration.Observe(d.Seconds())
}

// IngestFailed records an aborted ingestion.
func (m *Metrics) IngestFailed(reason string) {
	if m == nil {
		return
	}
	m.ingestFailures.WithLabelValues(reason).Inc()
}

// QueryServed records an answered query and whether it found evidence.
func (m *Metrics) QueryServed(results int, d time.Duration) {
	if m == nil {
		return
	}
	m.queries.Inc()
	if results == 0 {
		m.emptyQueries.Inc()
	}
	m.queryDuration.Observe(d.Seconds())
}

// RetrievalFailed records a degraded retrieval step such as "embed" or "vector_search".
func (m *Metrics) RetrievalFailed(stage string) {
	if m == nil {
		return
	}
	m.retrievalFails.WithLabelValues(stage).Inc()
}

// ObserveEmbedding records one Embed or EmbedBatch call.
func (m *Metrics) ObserveEmbedding(provider, operation string, d time.Duration, batch int, err error) {
	if m == nil {
		return
	}
	m.embedDuration.WithLabelValues(provider, operation).Observe(d.Seconds())
	if batch > 0 {
		m.embedBatchSize.WithLabelValues(provider).Observe(float64(batch))
	}
	if err != nil {
		m.embedErrors.WithLabelValues(provider, operation).Inc()
	}
}

// ObserveRequest records one served HTTP request. route is the router pattern
// such as "/api/v1/documents/{id}", never the raw path.
func (m *Metrics) ObserveRequest(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}
