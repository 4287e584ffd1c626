package metrics

import "time"

// RPCMetrics provides observability for the RPC server: calls, connections,
// handshakes and authentication failures.
//
// The interface is optional. Pass nil to disable collection; the Observe*
// helpers below accept a nil value.
type RPCMetrics interface {
	// RecordRequest records a completed call with its procedure name, duration
	// and reply status (e.g. "SUCCESS", "AUTH_ERROR").
	RecordRequest(procedure string, duration time.Duration, status string)

	// RecordRequestStart increments the in-flight gauge for a procedure.
	RecordRequestStart(procedure string)

	// RecordRequestEnd decrements the in-flight gauge for a procedure.
	RecordRequestEnd(procedure string)

	// RecordAuthFailure counts a request rejected by the authentication
	// decorator. status is the reply status it was translated to.
	RecordAuthFailure(status string)

	// RecordHandshake counts a transport handshake with its mechanism and
	// outcome ("accepted", "rejected" or "error").
	RecordHandshake(mechanism string, outcome string)

	// SetActiveConnections updates the current connection count.
	SetActiveConnections(count int32)

	RecordConnectionAccepted()
	RecordConnectionRejected()
	RecordConnectionClosed()

	// RecordConnectionForceClosed counts connections closed after the shutdown
	// timeout expired.
	RecordConnectionForceClosed()
}

// NewRPCMetrics creates the Prometheus-backed RPCMetrics.
//
// Returns nil if metrics are not enabled (InitRegistry not called) or if the
// prometheus implementation package was not linked in.
func NewRPCMetrics() RPCMetrics {
	if !IsEnabled() || newPrometheusRPCMetrics == nil {
		return nil
	}
	return newPrometheusRPCMetrics()
}

// newPrometheusRPCMetrics is set by pkg/metrics/prometheus at init time.
var newPrometheusRPCMetrics func() RPCMetrics

// RegisterRPCMetricsConstructor registers the Prometheus RPC metrics constructor.
func RegisterRPCMetricsConstructor(constructor func() RPCMetrics) {
	newPrometheusRPCMetrics = constructor
}

// ObserveRequest records a finished call on m if m is non-nil.
func ObserveRequest(m RPCMetrics, procedure string, duration time.Duration, status string) {
	if m != nil {
		m.RecordRequest(procedure, duration, status)
	}
}

// ObserveAuthFailure records a decorator failure on m if m is non-nil.
func ObserveAuthFailure(m RPCMetrics, status string) {
	if m != nil {
		m.RecordAuthFailure(status)
	}
}

// ObserveHandshake records a handshake outcome on m if m is non-nil.
func ObserveHandshake(m RPCMetrics, mechanism, outcome string) {
	if m != nil {
		m.RecordHandshake(mechanism, outcome)
	}
}
