package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTPServerMetrics covers the webhook receiver: request counters and
// latency plus one counter per parsed inbound chat event.
type HTTPServerMetrics struct {
	registry *prometheus.Registry

	requests      *prometheus.CounterVec
	latency       *prometheus.HistogramVec
	inFlight      prometheus.Gauge
	webhookEvents *prometheus.CounterVec
}

func NewHTTPServerMetrics(service string) *HTTPServerMetrics {
	labels := prometheus.Labels{"service": service}
	m := &HTTPServerMetrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "intake",
			Subsystem:   "http",
			Name:        "requests_total",
			Help:        "Total HTTP requests processed.",
			ConstLabels: labels,
		}, []string{"method", "path", "status"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   "intake",
			Subsystem:   "http",
			Name:        "request_duration_seconds",
			Help:        "HTTP request duration in seconds.",
			Buckets:     prometheus.DefBuckets,
			ConstLabels: labels,
		}, []string{"method", "path"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "intake",
			Subsystem:   "http",
			Name:        "in_flight_requests",
			Help:        "Number of in-flight HTTP requests.",
			ConstLabels: labels,
		}),
		webhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "intake",
			Subsystem:   "webhook",
			Name:        "events_total",
			Help:        "Inbound chat messages by type and outcome.",
			ConstLabels: labels,
		}, []string{"kind", "outcome"}),
	}
	m.registry.MustRegister(m.requests, m.latency, m.inFlight, m.webhookEvents)
	return m
}

// Registry lets the api process expose workflow metrics on the same endpoint.
func (m *HTTPServerMetrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *HTTPServerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *HTTPServerMetrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		path := routeLabel(r.URL.Path)
		rec := &codeRecorder{ResponseWriter: w, code: http.StatusOK}

		m.inFlight.Inc()
		defer m.inFlight.Dec()

		next.ServeHTTP(rec, r)

		m.requests.WithLabelValues(r.Method, path, strconv.Itoa(rec.code)).Inc()
		m.latency.WithLabelValues(r.Method, path).Observe(time.Since(started).Seconds())
	})
}

// routeLabel keeps label cardinality bounded.
func routeLabel(path string) string {
	switch path {
	case "/webhook", "/healthz", "/metrics":
		return path
	default:
		return "other"
	}
}

// RecordWebhookEvent counts one message of a webhook notification; outcome
// is accepted, duplicate, ignored or rejected.
func (m *HTTPServerMetrics) RecordWebhookEvent(kind, outcome string) {
	if kind == "" {
		kind = "unknown"
	}
	m.webhookEvents.WithLabelValues(kind, outcome).Inc()
}

type codeRecorder struct {
	http.ResponseWriter
	code int
}

func (w *codeRecorder) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (w *codeRecorder) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
