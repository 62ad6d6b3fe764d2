package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// MetricsCollector holds all Prometheus metrics for Sanduku.
// Uses a custom registry, no global state.
type MetricsCollector struct {
	Registry *prometheus.Registry

	// Code execution metrics.
	ExecutionsTotal   *prometheus.CounterVec
	ExecutionDuration *prometheus.HistogramVec

	// Policy gate metrics.
	PolicyChecksTotal *prometheus.CounterVec

	// Dependency manager metrics.
	DependencyInstallsTotal *prometheus.CounterVec

	// Session lifecycle metrics.
	SessionsActive prometheus.Gauge

	// HTTP gateway metrics.
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// System metrics.
	ActiveRequests prometheus.Gauge
}

// NewMetricsCollector creates a MetricsCollector with all metrics registered
// on a custom prometheus.Registry.
func NewMetricsCollector() *MetricsCollector {
	reg := prometheus.NewRegistry()

	m := &MetricsCollector{
		Registry: reg,

		ExecutionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sanduku",
			Subsystem: "execution",
			Name:      "runs_total",
			Help:      "Total code executions.",
		}, []string{"status"}),

		ExecutionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "sanduku",
			Subsystem: "execution",
			Name:      "run_duration_seconds",
			Help:      "Code execution duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
		}, []string{"status"}),

		PolicyChecksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sanduku",
			Subsystem: "policy",
			Name:      "checks_total",
			Help:      "Total policy gate checks.",
		}, []string{"result"}),

		DependencyInstallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sanduku",
			Subsystem: "deps",
			Name:      "installs_total",
			Help:      "Total dependency installations.",
		}, []string{"status"}),

		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "sanduku",
			Subsystem: "session",
			Name:      "active",
			Help:      "Number of currently live sessions.",
		}),

		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sanduku",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		}, []string{"method", "path", "status_code"}),

		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "sanduku",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),

		ActiveRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "sanduku",
			Name:      "active_requests",
			Help:      "Number of currently active requests.",
		}),
	}

	reg.MustRegister(
		m.ExecutionsTotal,
		m.ExecutionDuration,
		m.PolicyChecksTotal,
		m.DependencyInstallsTotal,
		m.SessionsActive,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.ActiveRequests,
	)

	return m
}

// RecordExecution counts one execution outcome with its duration.
func (m *MetricsCollector) RecordExecution(success bool, seconds float64) {
	if m == nil {
		return
	}
	status := "success"
	if !success {
		status = "error"
	}
	m.ExecutionsTotal.WithLabelValues(status).Inc()
	m.ExecutionDuration.WithLabelValues(status).Observe(seconds)
}

// RecordDependencyInstall counts one dependency installation attempt.
func (m *MetricsCollector) RecordDependencyInstall(ok bool) {
	if m == nil {
		return
	}
	status := "success"
	if !ok {
		status = "error"
	}
	m.DependencyInstallsTotal.WithLabelValues(status).Inc()
}

// SetActiveSessions updates the live session gauge.
func (m *MetricsCollector) SetActiveSessions(count int) {
	if m == nil {
		return
	}
	m.SessionsActive.Set(float64(count))
}

// RecordPolicyCheck counts one policy gate verdict.
func (m *MetricsCollector) RecordPolicyCheck(safe bool) {
	if m == nil {
		return
	}
	result := "safe"
	if !safe {
		result = "rejected"
	}
	m.PolicyChecksTotal.WithLabelValues(result).Inc()
}
