// Package metrics holds the Prometheus instrumentation shared by the ingestion
// client and the refresh service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "pipegantt"

// Metrics is responsible for holding the collectors for Prometheus.
type Metrics struct {
	UpstreamRequests *prometheus.CounterVec
	UpstreamDuration *prometheus.HistogramVec
	Refreshes        *prometheus.CounterVec
	PartialFailures  prometheus.Counter
}

// New creates the collectors and registers them with reg.
// Tests pass a fresh prometheus.NewRegistry() to avoid duplicate registration.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		UpstreamRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "upstream_requests_total",
				Help:      "upstream API requests, by outcome (ok or error kind)",
			},
			[]string{"outcome"},
		),
		UpstreamDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "upstream_request_duration_seconds",
				Help:      "upstream API request duration in seconds",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"endpoint"},
		),
		Refreshes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "refresh_total",
				Help:      "refresh cycles, by result",
			},
			[]string{"result"},
		),
		PartialFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "partial_failures_total",
				Help:      "entities skipped by the partial-failure tolerance policy",
			},
		),
	}
	reg.MustRegister(m.UpstreamRequests, m.UpstreamDuration, m.Refreshes, m.PartialFailures)
	return m
}

// ObserveRequest records one upstream request.
func (m *Metrics) ObserveRequest(endpoint, outcome string, elapsed time.Duration) {
	m.UpstreamRequests.With(prometheus.Labels{"outcome": outcome}).Inc()
	m.UpstreamDuration.With(prometheus.Labels{"endpoint": endpoint}).Observe(elapsed.Seconds())
}

// ObserveRefresh records the result of one refresh cycle.
func (m *Metrics) ObserveRefresh(result string) {
	m.Refreshes.With(prometheus.Labels{"result": result}).Inc()
}

// ObservePartialFailures records entities dropped from an otherwise successful fetch.
func (m *Metrics) ObservePartialFailures(n int) {
	m.PartialFailures.Add(float64(n))
}
