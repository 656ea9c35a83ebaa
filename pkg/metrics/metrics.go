// Package metrics provides metrics collection capabilities for the application.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all the metrics collectors for the application.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Registry is the Prometheus registry for all metrics.
	Registry *prometheus.Registry

	serviceName string

	// Common metrics
	RequestCount        *prometheus.CounterVec
	RequestDuration     *prometheus.HistogramVec
	RequestInFlight     *prometheus.GaugeVec
	ErrorCount          *prometheus.CounterVec
	ServiceUptime       prometheus.Gauge
	ServiceLastStarted  prometheus.Gauge
	DependencyUp        *prometheus.GaugeVec
	DependencyLatency   *prometheus.HistogramVec
	DependencyErrorRate *prometheus.CounterVec

	// Payment metrics
	SubmissionCount      *prometheus.CounterVec
	SubmissionAmount     *prometheus.HistogramVec
	SubmissionDuration   *prometheus.HistogramVec
	SubmissionErrorCount *prometheus.CounterVec
	SequenceConflicts    prometheus.Counter
	LockWait             prometheus.Histogram
	FundingAttempts      *prometheus.CounterVec
}

// Config holds the configuration for metrics.
type Config struct {
	// Namespace is the Prometheus namespace for all metrics.
	Namespace string
	// Subsystem is the Prometheus subsystem for all metrics.
	Subsystem string
	// ServiceName is the name of the service that is collecting metrics.
	ServiceName string
}

// DefaultConfig returns a default metrics configuration.
func DefaultConfig() Config {
	return Config{
		Namespace:   "lumenpay",
		Subsystem:   "",
		ServiceName: "lumenpay",
	}
}

// New creates a new metrics collector with the given configuration.
func New(cfg Config) *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	m := &Metrics{
		Registry:    registry,
		serviceName: cfg.ServiceName,

		// Common metrics
		RequestCount: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "request_total",
				Help:      "Total number of requests received",
			},
			[]string{"service", "method", "path", "status"},
		),

		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "request_duration_seconds",
				Help:      "Request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"service", "method", "path"},
		),

		RequestInFlight: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "requests_in_flight",
				Help:      "Current number of requests being processed",
			},
			[]string{"service"},
		),

		ErrorCount: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "errors_total",
				Help:      "Total number of errors",
			},
			[]string{"service", "type", "code"},
		),

		ServiceUptime: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "service_uptime_seconds",
				Help:      "Service uptime in seconds",
				ConstLabels: prometheus.Labels{
					"service": cfg.ServiceName,
				},
			},
		),

		ServiceLastStarted: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "service_last_started_timestamp",
				Help:      "Timestamp when the service was last started",
				ConstLabels: prometheus.Labels{
					"service": cfg.ServiceName,
				},
			},
		),

		DependencyUp: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "dependency_up",
				Help:      "Whether the dependency is up (1) or down (0)",
			},
			[]string{"service", "dependency"},
		),

		DependencyLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "dependency_latency_seconds",
				Help:      "Dependency request latency in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"service", "dependency", "operation"},
		),

		DependencyErrorRate: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "dependency_errors_total",
				Help:      "Total number of dependency errors",
			},
			[]string{"service", "dependency", "operation"},
		),

		// Payment metrics
		SubmissionCount: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: "payment",
				Name:      "submissions_total",
				Help:      "Total number of payment submissions by outcome",
			},
			[]string{"asset_type", "outcome"},
		),

		SubmissionAmount: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: "payment",
				Name:      "amount",
				Help:      "Accepted payment amount distribution",
				Buckets:   []float64{1, 10, 100, 1000, 10000, 100000},
			},
			[]string{"asset_type"},
		),

		SubmissionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: "payment",
				Name:      "stage_duration_seconds",
				Help:      "Time spent in each submission stage",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"stage"},
		),

		SubmissionErrorCount: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: "payment",
				Name:      "errors_total",
				Help:      "Total number of failed submissions by error code",
			},
			[]string{"code"},
		),

		SequenceConflicts: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: "payment",
				Name:      "sequence_conflicts_total",
				Help:      "Submissions rejected for a stale sequence number",
			},
		),

		LockWait: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: "payment",
				Name:      "lock_wait_seconds",
				Help:      "Time spent waiting for the per-account submission lock",
				Buckets:   prometheus.DefBuckets,
			},
		),

		FundingAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: "custody",
				Name:      "funding_attempts_total",
				Help:      "Test network funding attempts for the signing account",
			},
			[]string{"result"},
		),
	}

	// Set initial values
	m.ServiceLastStarted.Set(float64(time.Now().Unix()))

	return m
}

// Handler returns an HTTP handler for exposing metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// RecordUptime starts a goroutine that updates the service uptime metric.
func (m *Metrics) RecordUptime(done <-chan struct{}) {
	if m == nil {
		return
	}
	startTime := time.Now()
	ticker := time.NewTicker(1 * time.Second)

	go func() {
		for {
			select {
			case <-ticker.C:
				m.ServiceUptime.Set(time.Since(startTime).Seconds())
			case <-done:
				ticker.Stop()
				return
			}
		}
	}()
}

// RecordRequest records metrics for an HTTP request.
func (m *Metrics) RecordRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.RequestCount.WithLabelValues(m.serviceName, method, path, strconv.Itoa(status)).Inc()
	m.RequestDuration.WithLabelValues(m.serviceName, method, path).Observe(duration.Seconds())
}

// TrackInFlight increments the in-flight gauge and returns the matching decrement.
func (m *Metrics) TrackInFlight() func() {
	if m == nil {
		return func() {}
	}
	g := m.RequestInFlight.WithLabelValues(m.serviceName)
	g.Inc()
	return g.Dec
}

// RecordError records an error metric.
func (m *Metrics) RecordError(errorType, errorCode string) {
	if m == nil {
		return
	}
	m.ErrorCount.WithLabelValues(m.serviceName, errorType, errorCode).Inc()
}

// RecordDependencyStatus records the status of a dependency.
func (m *Metrics) RecordDependencyStatus(dependency string, up bool) {
	if m == nil {
		return
	}
	var value float64
	if up {
		value = 1
	}
	m.DependencyUp.WithLabelValues(m.serviceName, dependency).Set(value)
}

// RecordDependencyLatency records the latency of a dependency operation.
func (m *Metrics) RecordDependencyLatency(dependency, operation string, duration time.Duration) {
	if m == nil {
		return
	}
	m.DependencyLatency.WithLabelValues(m.serviceName, dependency, operation).Observe(duration.Seconds())
}

// RecordDependencyError records an error with a dependency.
func (m *Metrics) RecordDependencyError(dependency, operation string) {
	if m == nil {
		return
	}
	m.DependencyErrorRate.WithLabelValues(m.serviceName, dependency, operation).Inc()
}

// RecordSubmission records the outcome of a payment submission.
func (m *Metrics) RecordSubmission(assetType, outcome string, amount float64) {
	if m == nil {
		return
	}
	m.SubmissionCount.WithLabelValues(assetType, outcome).Inc()
	if outcome == "accepted" {
		m.SubmissionAmount.WithLabelValues(assetType).Observe(amount)
	}
}

// RecordStage records how long one submission stage took.
func (m *Metrics) RecordStage(stage string, duration time.Duration) {
	if m == nil {
		return
	}
	m.SubmissionDuration.WithLabelValues(stage).Observe(duration.Seconds())
}

// RecordSubmissionError records a failed submission by error code.
func (m *Metrics) RecordSubmissionError(code string) {
	if m == nil {
		return
	}
	m.SubmissionErrorCount.WithLabelValues(code).Inc()
}

// RecordSequenceConflict records a stale sequence rejection.
func (m *Metrics) RecordSequenceConflict() {
	if m == nil {
		return
	}
	m.SequenceConflicts.Inc()
}

// RecordLockWait records the time spent acquiring the submission lock.
func (m *Metrics) RecordLockWait(duration time.Duration) {
	if m == nil {
		return
	}
	m.LockWait.Observe(duration.Seconds())
}

// RecordFunding records a funding attempt result (funded, failed, skipped).
func (m *Metrics) RecordFunding(result string) {
	if m == nil {
		return
	}
	m.FundingAttempts.WithLabelValues(result).Inc()
}
