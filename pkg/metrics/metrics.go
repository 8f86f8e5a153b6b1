// Package metrics provides Prometheus metrics for the utilization registry.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "utilization_registry"

// Metrics holds all Prometheus collectors for the registry.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// HTTP request metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Domain metrics
	ValidationFailuresTotal *prometheus.CounterVec
	WritesTotal             *prometheus.CounterVec
	CacheLookupsTotal       *prometheus.CounterVec

	// MCP tool metrics
	MCPToolCallsTotal   *prometheus.CounterVec
	MCPToolCallDuration *prometheus.HistogramVec
}

// NewMetrics creates all collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "status"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "Duration of HTTP requests in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		ValidationFailuresTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "validation_failures_total",
				Help:      "Total number of rejected writes by validation code",
			},
			[]string{"code"},
		),
		WritesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "writes_total",
				Help:      "Total number of persisted metric name writes",
			},
			[]string{"action"},
		),
		CacheLookupsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_lookups_total",
				Help:      "Total number of metric name cache lookups by result",
			},
			[]string{"result"},
		),
		MCPToolCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "mcp_tool_calls_total",
				Help:      "Total number of MCP tool calls by tool and outcome",
			},
			[]string{"tool", "outcome"},
		),
		MCPToolCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "mcp_tool_call_duration_seconds",
				Help:      "Duration of MCP tool calls in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"tool"},
		),
	}
}

// ObserveRequest records one HTTP request.
func (m *Metrics) ObserveRequest(method, status string, seconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method).Observe(seconds)
}

// ValidationFailure records a rejected write.
func (m *Metrics) ValidationFailure(code string) {
	if m == nil {
		return
	}
	m.ValidationFailuresTotal.WithLabelValues(code).Inc()
}

// Write records a persisted create, update or delete.
func (m *Metrics) Write(action string) {
	if m == nil {
		return
	}
	m.WritesTotal.WithLabelValues(action).Inc()
}

// CacheLookup records a cache hit or miss.
func (m *Metrics) CacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookupsTotal.WithLabelValues(result).Inc()
}

// ToolCall records one MCP tool call. Outcome is success, tool_error or error.
func (m *Metrics) ToolCall(tool, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.MCPToolCallsTotal.WithLabelValues(tool, outcome).Inc()
	m.MCPToolCallDuration.WithLabelValues(tool).Observe(seconds)
}
