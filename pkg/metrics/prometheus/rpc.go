package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/marmos91/tablerpc/pkg/metrics"
)

func init() {
	metrics.RegisterRPCMetricsConstructor(NewRPCMetrics)
}

// rpcMetrics is the Prometheus implementation of metrics.RPCMetrics.
type rpcMetrics struct {
	requestsTotal     *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
	requestsInFlight  *prometheus.GaugeVec
	authFailures      *prometheus.CounterVec
	handshakes        *prometheus.CounterVec
	activeConnections prometheus.Gauge
	connectionsTotal  *prometheus.CounterVec
}

// NewRPCMetrics creates a Prometheus-backed RPCMetrics instance.
//
// Returns nil if metrics are not enabled (InitRegistry not called).
func NewRPCMetrics() metrics.RPCMetrics {
	if !metrics.IsEnabled() {
		return nil
	}

	reg := metrics.GetRegistry()

	return &rpcMetrics{
		requestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "tablerpc_requests_total",
				Help: "Total number of RPC calls by procedure and reply status",
			},
			[]string{"procedure", "status"},
		),
		requestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "tablerpc_request_duration_milliseconds",
				Help: "Duration of RPC calls in milliseconds",
				Buckets: []float64{
					0.5, // cached lookups
					1,
					5,
					10,
					50,
					100, // local metadata reads
					500,
					1000, // object store round trips
					5000,
				},
			},
			[]string{"procedure"},
		),
		requestsInFlight: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tablerpc_requests_in_flight",
				Help: "Number of RPC calls currently being processed",
			},
			[]string{"procedure"},
		),
		authFailures: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "tablerpc_auth_failures_total",
				Help: "Requests rejected while establishing the caller identity",
			},
			[]string{"status"},
		),
		handshakes: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "tablerpc_handshakes_total",
				Help: "Transport handshakes by mechanism and outcome",
			},
			[]string{"mechanism", "outcome"},
		),
		activeConnections: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "tablerpc_active_connections",
				Help: "Current number of open client connections",
			},
		),
		connectionsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "tablerpc_connections_total",
				Help: "Connection lifecycle events",
			},
			[]string{"event"},
		),
	}
}

func (m *rpcMetrics) RecordRequest(procedure string, duration time.Duration, status string) {
	m.requestsTotal.WithLabelValues(procedure, status).Inc()
	m.requestDuration.WithLabelValues(procedure).Observe(float64(duration.Microseconds()) / 1000)
}

func (m *rpcMetrics) RecordRequestStart(procedure string) {
	m.requestsInFlight.WithLabelValues(procedure).Inc()
}

func (m *rpcMetrics) RecordRequestEnd(procedure string) {
	m.requestsInFlight.WithLabelValues(procedure).Dec()
}

func (m *rpcMetrics) RecordAuthFailure(status string) {
	m.authFailures.WithLabelValues(status).Inc()
}

func (m *rpcMetrics) RecordHandshake(mechanism string, outcome string) {
	m.handshakes.WithLabelValues(mechanism, outcome).Inc()
}

func (m *rpcMetrics) SetActiveConnections(count int32) {
	m.activeConnections.Set(float64(count))
}

func (m *rpcMetrics) RecordConnectionAccepted() {
	m.connectionsTotal.WithLabelValues("accepted").Inc()
}

func (m *rpcMetrics) RecordConnectionRejected() {
	m.connectionsTotal.WithLabelValues("rejected").Inc()
}

func (m *rpcMetrics) RecordConnectionClosed() {
	m.connectionsTotal.WithLabelValues("closed").Inc()
}

func (m *rpcMetrics) RecordConnectionForceClosed() {
	m.connectionsTotal.WithLabelValues("force_closed").Inc()
}
