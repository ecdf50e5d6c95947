// Package metrics holds the Prometheus collectors of the auth server.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels for auth operations.
const (
	OutcomeSuccess  = "success"
	OutcomeRejected = "rejected"
	OutcomeError    = "error"
)

// Metrics contains auth server collectors.
type Metrics struct {
	AuthOperations *prometheus.CounterVec
	RPCRequests    *prometheus.CounterVec
	RPCDuration    *prometheus.HistogramVec
	SessionsPurged prometheus.Counter
	EventsDropped  *prometheus.CounterVec
}

// NewMetrics creates collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		AuthOperations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authkeeper_auth_operations_total",
				Help: "Total number of auth operations by operation and outcome",
			},
			[]string{"operation", "outcome"},
		),
		RPCRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authkeeper_grpc_requests_total",
				Help: "Total number of gRPC requests by method and status code",
			},
			[]string{"method", "code"},
		),
		RPCDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "authkeeper_grpc_request_duration_seconds",
				Help:    "gRPC request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		SessionsPurged: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "authkeeper_sessions_purged_total",
				Help: "Total number of expired refresh sessions removed by the janitor",
			},
		),
		EventsDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authkeeper_events_dropped_total",
				Help: "Total number of auth events that failed to publish",
			},
			[]string{"type"},
		),
	}

	reg.MustRegister(m.AuthOperations)
	reg.MustRegister(m.RPCRequests)
	reg.MustRegister(m.RPCDuration)
	reg.MustRegister(m.SessionsPurged)
	reg.MustRegister(m.EventsDropped)

	return m
}

// ObserveAuth counts one auth operation.
func (m *Metrics) ObserveAuth(operation, outcome string) {
	m.AuthOperations.WithLabelValues(operation, outcome).Inc()
}

// ObserveRPC records a finished gRPC call.
func (m *Metrics) ObserveRPC(method, code string, d time.Duration) {
	m.RPCRequests.WithLabelValues(method, code).Inc()
	m.RPCDuration.WithLabelValues(method).Observe(d.Seconds())
}

// ObservePurged adds the number of sessions removed by one janitor sweep.
func (m *Metrics) ObservePurged(n int64) {
	if n > 0 {
		m.SessionsPurged.Add(float64(n))
	}
}

// ObserveEventDropped counts an event that could not be published.
func (m *Metrics) ObserveEventDropped(eventType string) {
	m.EventsDropped.WithLabelValues(eventType).Inc()
}
