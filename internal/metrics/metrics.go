package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics tracks remote calls and page writes for a target run.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	retries         *prometheus.CounterVec
	pagesCreated    *prometheus.CounterVec
	pagesSkipped    *prometheus.CounterVec
	batchDuration   *prometheus.HistogramVec
}

// New creates a Metrics instance on a private registry
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.requests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "target_notion",
		Name:      "requests_total",
		Help:      "Number of Notion API requests by operation and status",
	}, []string{"operation", "status"})
	m.requestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "target_notion",
		Name:      "request_duration_seconds",
		Help:      "Notion API round-trip time",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation"})
	m.retries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "target_notion",
		Name:      "retries_total",
		Help:      "Number of retried Notion API calls",
	}, []string{"operation"})
	m.pagesCreated = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "target_notion",
		Name:      "pages_created_total",
		Help:      "Pages created per stream",
	}, []string{"stream"})
	m.pagesSkipped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "target_notion",
		Name:      "pages_skipped_total",
		Help:      "Records skipped because a page with the same key already exists",
	}, []string{"stream"})
	m.batchDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "target_notion",
		Name:      "batch_duration_seconds",
		Help:      "Time spent processing one batch",
		Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
	}, []string{"stream"})

	m.registry.MustRegister(
		m.requests, m.requestDuration, m.retries,
		m.pagesCreated, m.pagesSkipped, m.batchDuration,
	)
	return m
}

// ObserveRequest records one API round-trip
func (m *Metrics) ObserveRequest(operation, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(operation, status).Inc()
	m.requestDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// IncRetry counts a retry of operation
func (m *Metrics) IncRetry(operation string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(operation).Inc()
}

// AddPages records created and skipped pages for a stream
func (m *Metrics) AddPages(stream string, created, skipped int) {
	if m == nil {
		return
	}
	m.pagesCreated.WithLabelValues(stream).Add(float64(created))
	m.pagesSkipped.WithLabelValues(stream).Add(float64(skipped))
}

// ObserveBatch records the processing time of one batch
func (m *Metrics) ObserveBatch(stream string, duration time.Duration) {
	if m == nil {
		return
	}
	m.batchDuration.WithLabelValues(stream).Observe(duration.Seconds())
}

// Registry exposes the underlying registry (used by tests and the status server)
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in Prometheus text format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
