package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kirillkom/intake-assistant/internal/core/domain"
)

// WorkflowMetrics observes the intake workflow, the per-user dispatcher and the
// circuit breakers of outbound calls.
type WorkflowMetrics struct {
	registry *prometheus.Registry

	transitionsTotal       *prometheus.CounterVec
	classificationTotal    *prometheus.CounterVec
	classificationDuration *prometheus.HistogramVec
	uploadTotal            *prometheus.CounterVec
	uploadDuration         *prometheus.HistogramVec
	entriesFinishedTotal   *prometheus.CounterVec
	queueDepth             prometheus.Histogram
	sendFailuresTotal      prometheus.Counter

	dispatchedTotal  prometheus.Counter
	dispatchDuration *prometheus.HistogramVec
	dispatchInFlight prometheus.Gauge

	breakerTransitionsTotal *prometheus.CounterVec
	breakerOpen             *prometheus.GaugeVec
}

// NewWorkflowMetrics registers on registry, or on a fresh one when nil.
func NewWorkflowMetrics(service string, registry *prometheus.Registry) *WorkflowMetrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	labels := prometheus.Labels{"service": service}

	m := &WorkflowMetrics{
		registry: registry,
		transitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "intake",
			Subsystem:   "workflow",
			Name:        "transitions_total",
			Help:        "Session state transitions.",
			ConstLabels: labels,
		}, []string{"from", "to"}),
		classificationTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "intake",
			Subsystem:   "workflow",
			Name:        "classification_total",
			Help:        "Classification calls by status.",
			ConstLabels: labels,
		}, []string{"status"}),
		classificationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   "intake",
			Subsystem:   "workflow",
			Name:        "classification_duration_seconds",
			Help:        "Classification duration in seconds by status.",
			Buckets:     []float64{0.25, 0.5, 1, 2, 5, 10, 20},
			ConstLabels: labels,
		}, []string{"status"}),
		uploadTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "intake",
			Subsystem:   "workflow",
			Name:        "upload_total",
			Help:        "Archive uploads by status.",
			ConstLabels: labels,
		}, []string{"status"}),
		uploadDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   "intake",
			Subsystem:   "workflow",
			Name:        "upload_duration_seconds",
			Help:        "Archive upload duration in seconds by status.",
			Buckets:     prometheus.DefBuckets,
			ConstLabels: labels,
		}, []string{"status"}),
		entriesFinishedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "intake",
			Subsystem:   "workflow",
			Name:        "entries_finished_total",
			Help:        "Queue entries leaving the workflow by outcome.",
			ConstLabels: labels,
		}, []string{"outcome"}),
		queueDepth: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   "intake",
			Subsystem:   "workflow",
			Name:        "queue_depth",
			Help:        "Entries waiting behind the active one, observed on every queue change.",
			Buckets:     []float64{0, 1, 2, 3, 5, 8, 13, 21},
			ConstLabels: labels,
		}),
		sendFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "intake",
			Subsystem:   "workflow",
			Name:        "send_failures_total",
			Help:        "Outbound chat messages that could not be delivered.",
			ConstLabels: labels,
		}),
		dispatchedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "intake",
			Subsystem:   "dispatcher",
			Name:        "events_total",
			Help:        "Events accepted into user mailboxes.",
			ConstLabels: labels,
		}),
		dispatchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   "intake",
			Subsystem:   "dispatcher",
			Name:        "event_duration_seconds",
			Help:        "Event handling duration in seconds by status.",
			Buckets:     []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
			ConstLabels: labels,
		}, []string{"status"}),
		dispatchInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "intake",
			Subsystem:   "dispatcher",
			Name:        "in_flight_events",
			Help:        "Events currently being handled.",
			ConstLabels: labels,
		}),
		breakerTransitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "intake",
			Subsystem:   "resilience",
			Name:        "breaker_transitions_total",
			Help:        "Circuit breaker state changes by operation.",
			ConstLabels: labels,
		}, []string{"operation", "to"}),
		breakerOpen: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   "intake",
			Subsystem:   "resilience",
			Name:        "breaker_open",
			Help:        "1 while the operation's circuit breaker is not closed.",
			ConstLabels: labels,
		}, []string{"operation"}),
	}

	registry.MustRegister(
		m.transitionsTotal,
		m.classificationTotal,
		m.classificationDuration,
		m.uploadTotal,
		m.uploadDuration,
		m.entriesFinishedTotal,
		m.queueDepth,
		m.sendFailuresTotal,
		m.dispatchedTotal,
		m.dispatchDuration,
		m.dispatchInFlight,
		m.breakerTransitionsTotal,
		m.breakerOpen,
	)
	return m
}

func (m *WorkflowMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *WorkflowMetrics) ObserveTransition(from, to domain.State) {
	m.transitionsTotal.WithLabelValues(stateLabel(from), stateLabel(to)).Inc()
}

func (m *WorkflowMetrics) ObserveClassification(duration time.Duration, err error) {
	status := statusLabel(err)
	m.classificationTotal.WithLabelValues(status).Inc()
	m.classificationDuration.WithLabelValues(status).Observe(duration.Seconds())
}

func (m *WorkflowMetrics) ObserveUpload(duration time.Duration, err error) {
	status := statusLabel(err)
	m.uploadTotal.WithLabelValues(status).Inc()
	m.uploadDuration.WithLabelValues(status).Observe(duration.Seconds())
}

func (m *WorkflowMetrics) ObserveEntryFinished(outcome string) {
	m.entriesFinishedTotal.WithLabelValues(outcome).Inc()
}

func (m *WorkflowMetrics) ObserveQueueDepth(depth int) {
	m.queueDepth.Observe(float64(max(depth, 0)))
}

func (m *WorkflowMetrics) ObserveSendFailure() {
	m.sendFailuresTotal.Inc()
}

func (m *WorkflowMetrics) ObserveDispatched(string) {
	m.dispatchedTotal.Inc()
}

func (m *WorkflowMetrics) ObserveProcessed(duration time.Duration, err error) {
	m.dispatchDuration.WithLabelValues(statusLabel(err)).Observe(duration.Seconds())
}

func (m *WorkflowMetrics) SetInFlight(n int) {
	m.dispatchInFlight.Set(float64(n))
}

// ObserveBreakerState matches resilience.StateObserver.
func (m *WorkflowMetrics) ObserveBreakerState(operation, _, to string) {
	m.breakerTransitionsTotal.WithLabelValues(operation, to).Inc()
	open := 0.0
	if to != "closed" {
		open = 1
	}
	m.breakerOpen.WithLabelValues(operation).Set(open)
}

func statusLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

func stateLabel(state domain.State) string {
	if state == "" {
		return "NONE"
	}
	return string(state)
}
