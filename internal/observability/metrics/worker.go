package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/procflow/extractor/internal/core/domain"
)

// WorkerMetrics covers document throughput plus per-backend cascade
// telemetry. It satisfies the cascade's observer contract, so the
// extraction loop records attempts without knowing about Prometheus.
type WorkerMetrics struct {
	registry *prometheus.Registry
	service  string

	processTotal    *prometheus.CounterVec
	processDuration *prometheus.HistogramVec
	processInFlight prometheus.Gauge
	queueLag        *prometheus.HistogramVec

	backendAttempts *prometheus.CounterVec
	backendDuration *prometheus.HistogramVec
	earlyExits      *prometheus.CounterVec
}

func NewWorkerMetrics(service string) *WorkerMetrics {
	registry := prometheus.NewRegistry()

	processTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "procflow",
			Subsystem: "worker",
			Name:      "document_extract_total",
			Help:      "Total extracted documents by status.",
		},
		[]string{"service", "status"},
	)
	processDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "procflow",
			Subsystem: "worker",
			Name:      "document_extract_duration_seconds",
			Help:      "Document extraction duration in seconds by status.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "status"},
	)
	processInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "procflow",
			Subsystem: "worker",
			Name:      "document_extract_in_flight",
			Help:      "Number of in-flight document extractions.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	queueLag := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "procflow",
			Subsystem: "worker",
			Name:      "queue_lag_seconds",
			Help:      "Delay between document submission and extraction start.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"service"},
	)
	backendAttempts := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "procflow",
			Subsystem: "cascade",
			Name:      "backend_attempts_total",
			Help:      "Total backend attempts by outcome.",
		},
		[]string{"service", "backend", "outcome"},
	)
	backendDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "procflow",
			Subsystem: "cascade",
			Name:      "backend_attempt_duration_seconds",
			Help:      "Backend attempt duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "backend"},
	)
	earlyExits := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "procflow",
			Subsystem: "cascade",
			Name:      "early_exit_total",
			Help:      "Total cascade runs ended early by a confident result.",
		},
		[]string{"service", "backend"},
	)

	registry.MustRegister(
		processTotal,
		processDuration,
		processInFlight,
		queueLag,
		backendAttempts,
		backendDuration,
		earlyExits,
	)

	return &WorkerMetrics{
		registry:        registry,
		service:         service,
		processTotal:    processTotal,
		processDuration: processDuration,
		processInFlight: processInFlight,
		queueLag:        queueLag,
		backendAttempts: backendAttempts,
		backendDuration: backendDuration,
		earlyExits:      earlyExits,
	}
}

func (m *WorkerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *WorkerMetrics) StartDocument() {
	m.processInFlight.Inc()
}

func (m *WorkerMetrics) FinishDocument(duration time.Duration, err error) {
	m.processInFlight.Dec()

	status := "success"
	if err != nil {
		status = "error"
	}

	m.processTotal.WithLabelValues(m.service, status).Inc()
	m.processDuration.WithLabelValues(m.service, status).Observe(duration.Seconds())
}

func (m *WorkerMetrics) ObserveQueueLag(lag time.Duration) {
	if lag < 0 {
		return
	}
	m.queueLag.WithLabelValues(m.service).Observe(lag.Seconds())
}

func (m *WorkerMetrics) BackendAttempt(backend string, outcome domain.StrategyOutcome, duration time.Duration) {
	m.backendAttempts.WithLabelValues(m.service, backend, string(outcome)).Inc()
	m.backendDuration.WithLabelValues(m.service, backend).Observe(duration.Seconds())
}

func (m *WorkerMetrics) EarlyExit(backend string) {
	m.earlyExits.WithLabelValues(m.service, backend).Inc()
}
