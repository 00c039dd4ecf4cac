// Package metrics exposes Prometheus collectors for the chat pipeline.
//
// All methods are safe on a nil *Metrics so components can run without
// instrumentation in tests and one-shot CLI commands.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the collectors registered by shopassist.
type Metrics struct {
	registry *prometheus.Registry

	// ToolCalls counts tool invocations.
	// Labels: service, tool, status (success|error|tool_error)
	ToolCalls *prometheus.CounterVec

	// ToolDuration measures tool call latency in seconds.
	// Labels: service, tool
	ToolDuration *prometheus.HistogramVec

	// Reconnects counts tool service reconnects after a failure.
	// Labels: service, operation (list_tools|call_tool)
	Reconnects *prometheus.CounterVec

	// ConnectionState is 1 for the current state of each tool service.
	// Labels: service, state
	ConnectionState *prometheus.GaugeVec

	// LLMRequests counts language-model exchanges.
	// Labels: phase (first|second), status (success|error)
	LLMRequests *prometheus.CounterVec

	// LLMDuration measures language-model latency in seconds.
	// Labels: phase
	LLMDuration *prometheus.HistogramVec

	// ChatTurns counts completed turns by response type.
	// Labels: type, status (success|error)
	ChatTurns *prometheus.CounterVec

	// CrossSell counts interceptor outcomes.
	// Labels: outcome (suggested|cart_add_failed|no_product|no_category|no_search|no_results|error|panic)
	CrossSell *prometheus.CounterVec

	// Sessions is the number of sessions held by the store.
	Sessions prometheus.Gauge

	// HTTPRequests counts gateway HTTP requests.
	// Labels: route (the matched mux pattern), code
	HTTPRequests *prometheus.CounterVec
}

// New creates collectors on a fresh registry, plus Go and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		ToolCalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "shopassist",
			Name:      "tool_calls_total",
			Help:      "Tool invocations by service, tool and status.",
		}, []string{"service", "tool", "status"}),
		ToolDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "shopassist",
			Name:      "tool_call_duration_seconds",
			Help:      "Tool call latency.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"service", "tool"}),
		Reconnects: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "shopassist",
			Name:      "tool_service_reconnects_total",
			Help:      "Reconnects after a failed tool service operation.",
		}, []string{"service", "operation"}),
		ConnectionState: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "shopassist",
			Name:      "tool_service_state",
			Help:      "Current connection state per tool service (1 = active state).",
		}, []string{"service", "state"}),
		LLMRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "shopassist",
			Name:      "llm_requests_total",
			Help:      "Language-model exchanges by phase and status.",
		}, []string{"phase", "status"}),
		LLMDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "shopassist",
			Name:      "llm_request_duration_seconds",
			Help:      "Language-model latency.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"phase"}),
		ChatTurns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "shopassist",
			Name:      "chat_turns_total",
			Help:      "Chat turns by response type and status.",
		}, []string{"type", "status"}),
		CrossSell: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "shopassist",
			Name:      "cross_sell_total",
			Help:      "Cross-sell interceptor outcomes.",
		}, []string{"outcome"}),
		Sessions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "shopassist",
			Name:      "sessions",
			Help:      "Sessions currently held in the session store.",
		}),
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "shopassist",
			Name:      "http_requests_total",
			Help:      "Gateway HTTP requests by route and status code.",
		}, []string{"route", "code"}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveToolCall records one tool invocation.
func (m *Metrics) ObserveToolCall(service, tool, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.ToolCalls.WithLabelValues(service, tool, status).Inc()
	m.ToolDuration.WithLabelValues(service, tool).Observe(d.Seconds())
}

// Reconnect records a reconnect attempt.
func (m *Metrics) Reconnect(service, operation string) {
	if m == nil {
		return
	}
	m.Reconnects.WithLabelValues(service, operation).Inc()
}

// SetConnectionState marks state as current for service and clears the others.
func (m *Metrics) SetConnectionState(service, state string, all []string) {
	if m == nil {
		return
	}
	for _, s := range all {
		v := 0.0
		if s == state {
			v = 1
		}
		m.ConnectionState.WithLabelValues(service, s).Set(v)
	}
}

// ObserveLLM records one language-model exchange.
func (m *Metrics) ObserveLLM(phase string, err error, d time.Duration) {
	if m == nil {
		return
	}
	m.LLMRequests.WithLabelValues(phase, statusOf(err)).Inc()
	m.LLMDuration.WithLabelValues(phase).Observe(d.Seconds())
}

// ChatTurn records a finished turn.
func (m *Metrics) ChatTurn(responseType string, err error) {
	if m == nil {
		return
	}
	m.ChatTurns.WithLabelValues(responseType, statusOf(err)).Inc()
}

// CrossSellOutcome records an interceptor outcome.
func (m *Metrics) CrossSellOutcome(outcome string) {
	if m == nil {
		return
	}
	m.CrossSell.WithLabelValues(outcome).Inc()
}

// SetSessions sets the session gauge.
func (m *Metrics) SetSessions(n int) {
	if m == nil {
		return
	}
	m.Sessions.Set(float64(n))
}

func statusOf(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// ObserveHTTP records one gateway HTTP request. route should be the
// matched pattern, not the raw path.
func (m *Metrics) ObserveHTTP(route string, code int) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	m.HTTPRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
}
