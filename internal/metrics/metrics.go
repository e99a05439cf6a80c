// Package metrics exposes Prometheus metrics for the knowledge index.
// All recording methods are safe to call on a nil *Metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "narrative_knowledge"

type Metrics struct {
	registry *prometheus.Registry

	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	searchResults     *prometheus.HistogramVec
	indexedChunks     *prometheus.GaugeVec
	requestTotal      *prometheus.CounterVec
}

func New() *Metrics {
	registry := prometheus.NewRegistry()

	operationsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "index",
			Name:      "operations_total",
			Help:      "Index operations by backend and outcome.",
		},
		[]string{"operation", "backend", "status"},
	)
	operationDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "index",
			Name:      "operation_duration_seconds",
			Help:      "Index operation duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"operation", "backend"},
	)
	searchResults := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "search",
			Name:      "results",
			Help:      "Distribution of results returned per search.",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 13, 21},
		},
		[]string{"backend"},
	)
	indexedChunks := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "index",
			Name:      "chunks",
			Help:      "Chunks currently indexed, by content type.",
		},
		[]string{"backend", "content_type"},
	)
	requestTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests processed.",
		},
		[]string{"method", "path", "status"},
	)

	registry.MustRegister(
		operationsTotal,
		operationDuration,
		searchResults,
		indexedChunks,
		requestTotal,
		collectors.NewGoCollector(),
	)

	return &Metrics{
		registry:          registry,
		operationsTotal:   operationsTotal,
		operationDuration: operationDuration,
		searchResults:     searchResults,
		indexedChunks:     indexedChunks,
		requestTotal:      requestTotal,
	}
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveOperation records one completed operation. status is "ok" or "error".
func (m *Metrics) ObserveOperation(operation, backend string, err error, duration time.Duration) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.operationsTotal.WithLabelValues(operation, backend, status).Inc()
	m.operationDuration.WithLabelValues(operation, backend).Observe(duration.Seconds())
}

func (m *Metrics) ObserveSearchResults(backend string, n int) {
	if m == nil {
		return
	}
	m.searchResults.WithLabelValues(backend).Observe(float64(n))
}

// SetIndexedChunks replaces the per-type chunk gauges for backend.
func (m *Metrics) SetIndexedChunks(backend string, byType map[string]int) {
	if m == nil {
		return
	}
	m.indexedChunks.DeletePartialMatch(prometheus.Labels{"backend": backend})
	for contentType, n := range byType {
		m.indexedChunks.WithLabelValues(backend, contentType).Set(float64(n))
	}
}

// Middleware counts requests served by next.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(recorder, r)
		m.requestTotal.WithLabelValues(r.Method, r.URL.Path, strconv.Itoa(recorder.statusCode)).Inc()
	})
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusRecorder) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *statusRecorder) Flush() {
	if flusher, ok := w.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}
