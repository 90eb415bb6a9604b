// Package metrics holds the gateway's Prometheus collectors.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "nysa"

// Metrics groups the collectors registered on a private registry.
type Metrics struct {
	Registry *prometheus.Registry

	httpInFlight  prometheus.Gauge
	httpRequests  *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec
	llmRequests   *prometheus.CounterVec
	llmDuration   prometheus.Histogram
	creditChanges *prometheus.CounterVec
	creditAmount  *prometheus.CounterVec
	tokenBurns    *prometheus.CounterVec
	activeHolds   prometheus.Gauge
	wsClients     prometheus.Gauge
}

// New creates and registers all collectors.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		httpInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Current number of HTTP requests being served.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests by method, route and status.",
		}, []string{"service", "method", "path", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~20s
		}, []string{"service", "method", "path"}),
		llmRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "llm",
			Name:      "requests_total",
			Help:      "Chat completion calls by model and outcome.",
		}, []string{"model", "outcome"}),
		llmDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "llm",
			Name:      "request_duration_seconds",
			Help:      "Chat completion latency.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
		}),
		creditChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "credits",
			Name:      "changes_total",
			Help:      "Credit ledger mutations by kind and outcome.",
		}, []string{"kind", "outcome"}),
		creditAmount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "credits",
			Name:      "amount_total",
			Help:      "Credits moved by kind.",
		}, []string{"kind"}),
		tokenBurns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "wallet",
			Name:      "token_burns_total",
			Help:      "SPL token burns by outcome.",
		}, []string{"outcome"}),
		activeHolds: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "credits",
			Name:      "active_holds",
			Help:      "Credit holds awaiting consume or release.",
		}),
		wsClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "websocket_clients",
			Help:      "Connected websocket clients.",
		}),
	}

	m.Registry.MustRegister(
		m.httpInFlight,
		m.httpRequests,
		m.httpDuration,
		m.llmRequests,
		m.llmDuration,
		m.creditChanges,
		m.creditAmount,
		m.tokenBurns,
		m.activeHolds,
		m.wsClients,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
	return m
}

// Handler exposes the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

func (m *Metrics) IncrementInFlight() { m.httpInFlight.Inc() }
func (m *Metrics) DecrementInFlight() { m.httpInFlight.Dec() }

// RecordHTTPRequest records one completed request.
func (m *Metrics) RecordHTTPRequest(service, method, path, status string, duration time.Duration) {
	m.httpRequests.WithLabelValues(service, method, path, status).Inc()
	m.httpDuration.WithLabelValues(service, method, path).Observe(duration.Seconds())
}

// RecordLLMRequest records one chat completion call.
func (m *Metrics) RecordLLMRequest(model string, err error, duration time.Duration) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.llmRequests.WithLabelValues(model, outcome).Inc()
	m.llmDuration.Observe(duration.Seconds())
}

// RecordCreditChange records a ledger mutation. kind is "deduct" or "add".
func (m *Metrics) RecordCreditChange(kind string, amount float64, err error) {
	if err != nil {
		m.creditChanges.WithLabelValues(kind, "error").Inc()
		return
	}
	m.creditChanges.WithLabelValues(kind, "success").Inc()
	m.creditAmount.WithLabelValues(kind).Add(amount)
}

// RecordTokenBurn records a burn attempt.
func (m *Metrics) RecordTokenBurn(err error) {
	if err != nil {
		m.tokenBurns.WithLabelValues("error").Inc()
		return
	}
	m.tokenBurns.WithLabelValues("success").Inc()
}

func (m *Metrics) SetActiveHolds(n int)      { m.activeHolds.Set(float64(n)) }
func (m *Metrics) SetWebSocketClients(n int) { m.wsClients.Set(float64(n)) }
