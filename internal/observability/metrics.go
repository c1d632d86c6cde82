package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics receives one sample per governed tool call
type Metrics interface {
	RecordInvocation(tenant, tool, status string)
	ObserveDuration(tenant, tool string, d time.Duration)
	RecordAuditFailure(tenant, tool string)
}

// PrometheusMetrics exports tool metrics on its own registry
type PrometheusMetrics struct {
	registry      *prometheus.Registry
	invocations   *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	auditFailures *prometheus.CounterVec
}

// NewPrometheusMetrics creates and registers the tool metrics
func NewPrometheusMetrics() *PrometheusMetrics {
	m := &PrometheusMetrics{
		registry: prometheus.NewRegistry(),
		invocations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tool_invocations_total",
				Help: "Total number of governed tool invocations by outcome",
			},
			[]string{"tenant", "tool", "status"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tool_invocation_duration_milliseconds",
				Help:    "Governed tool call duration in milliseconds",
				Buckets: []float64{0, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000},
			},
			[]string{"tenant", "tool"},
		),
		auditFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tool_audit_write_failures_total",
				Help: "Invocation records that could not be persisted",
			},
			[]string{"tenant", "tool"},
		),
	}

	m.registry.MustRegister(m.invocations, m.duration, m.auditFailures)
	m.registry.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	return m
}

func (m *PrometheusMetrics) RecordInvocation(tenant, tool, status string) {
	m.invocations.WithLabelValues(tenant, tool, status).Inc()
}

func (m *PrometheusMetrics) ObserveDuration(tenant, tool string, d time.Duration) {
	m.duration.WithLabelValues(tenant, tool).Observe(float64(d.Microseconds()) / 1000)
}

func (m *PrometheusMetrics) RecordAuditFailure(tenant, tool string) {
	m.auditFailures.WithLabelValues(tenant, tool).Inc()
}

// Handler serves the registry in the Prometheus text format
func (m *PrometheusMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry
func (m *PrometheusMetrics) Registry() *prometheus.Registry {
	return m.registry
}

// NopMetrics discards every sample
type NopMetrics struct{}

func (NopMetrics) RecordInvocation(string, string, string)       {}
func (NopMetrics) ObserveDuration(string, string, time.Duration) {}
func (NopMetrics) RecordAuditFailure(string, string)             {}
