// Package metrics exposes Prometheus instrumentation for the hub.
//
// A nil *Metrics is valid and records nothing, so components can take one
// unconditionally.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Tool call outcomes.
const (
	OutcomeSuccess  = "success"
	OutcomeError    = "error"
	OutcomeNotFound = "not_found"
)

// Metrics holds the hub's collectors.
type Metrics struct {
	discoveryFailures *prometheus.CounterVec
	toolCalls         *prometheus.CounterVec
	processRestarts   *prometheus.CounterVec
	liveProcesses     prometheus.Gauge
	sseSessions       prometheus.Gauge
}

// New creates the collectors and registers them with reg. A nil reg creates
// unregistered collectors, which is convenient in tests.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		discoveryFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mcphub_discovery_failures_total",
				Help: "Total tool discovery failures by server",
			},
			[]string{"server"},
		),
		toolCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mcphub_tool_calls_total",
				Help: "Total tool calls dispatched by server and outcome",
			},
			[]string{"server", "outcome"},
		),
		processRestarts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mcphub_process_restarts_total",
				Help: "Total server processes restarted after an unexpected exit",
			},
			[]string{"server"},
		),
		liveProcesses: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "mcphub_live_processes",
				Help: "Number of server processes currently held by the client cache",
			},
		),
		sseSessions: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "mcphub_sse_sessions",
				Help: "Number of open SSE sessions",
			},
		),
	}
}

// DiscoveryFailed records a server excluded from discovery.
func (m *Metrics) DiscoveryFailed(server string) {
	if m == nil {
		return
	}

	m.discoveryFailures.WithLabelValues(server).Inc()
}

// ToolCalled records one dispatched call.
func (m *Metrics) ToolCalled(server, outcome string) {
	if m == nil {
		return
	}

	m.toolCalls.WithLabelValues(server, outcome).Inc()
}

// ProcessRestarted records an exited process being replaced.
func (m *Metrics) ProcessRestarted(server string) {
	if m == nil {
		return
	}

	m.processRestarts.WithLabelValues(server).Inc()
}

// ProcessStarted increments the live process gauge.
func (m *Metrics) ProcessStarted() {
	if m == nil {
		return
	}

	m.liveProcesses.Inc()
}

// ProcessStopped decrements the live process gauge.
func (m *Metrics) ProcessStopped() {
	if m == nil {
		return
	}

	m.liveProcesses.Dec()
}

// SessionOpened increments the SSE session gauge.
func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}

	m.sseSessions.Inc()
}

// SessionClosed decrements the SSE session gauge.
func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}

	m.sseSessions.Dec()
}

// NewRegistry creates a registry carrying the Go runtime and process
// collectors alongside whatever New registers.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return reg
}
