package prometheus

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/tablerpc/pkg/metrics"
)

func withRegistry(t *testing.T) {
	t.Helper()
	metrics.InitRegistry()
	t.Cleanup(metrics.ResetRegistry)
}

func TestConstructorsReturnNilWhenDisabled(t *testing.T) {
	metrics.ResetRegistry()

	assert.Nil(t, NewRPCMetrics())
	assert.Nil(t, NewFileIOMetrics())
	assert.Nil(t, metrics.NewRPCMetrics())
	assert.Nil(t, metrics.NewFileIOMetrics())
}

func TestRPCMetrics(t *testing.T) {
	withRegistry(t)

	m := metrics.NewRPCMetrics()
	require.NotNil(t, m)
	impl := m.(*rpcMetrics)

	m.RecordRequest("WHOAMI", 2*time.Millisecond, "SUCCESS")
	m.RecordRequest("WHOAMI", time.Millisecond, "SUCCESS")
	m.RecordRequest("LOAD_TABLE", time.Millisecond, "AUTH_ERROR")
	assert.Equal(t, 2.0, testutil.ToFloat64(impl.requestsTotal.WithLabelValues("WHOAMI", "SUCCESS")))
	assert.Equal(t, 1.0, testutil.ToFloat64(impl.requestsTotal.WithLabelValues("LOAD_TABLE", "AUTH_ERROR")))

	m.RecordRequestStart("LIST_TABLES")
	m.RecordRequestStart("LIST_TABLES")
	m.RecordRequestEnd("LIST_TABLES")
	assert.Equal(t, 1.0, testutil.ToFloat64(impl.requestsInFlight.WithLabelValues("LIST_TABLES")))

	m.RecordAuthFailure("AUTH_ERROR")
	m.RecordHandshake("kerberos", "rejected")
	assert.Equal(t, 1.0, testutil.ToFloat64(impl.authFailures.WithLabelValues("AUTH_ERROR")))
	assert.Equal(t, 1.0, testutil.ToFloat64(impl.handshakes.WithLabelValues("kerberos", "rejected")))

	m.SetActiveConnections(3)
	m.RecordConnectionAccepted()
	m.RecordConnectionForceClosed()
	assert.Equal(t, 3.0, testutil.ToFloat64(impl.activeConnections))
	assert.Equal(t, 1.0, testutil.ToFloat64(impl.connectionsTotal.WithLabelValues("accepted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(impl.connectionsTotal.WithLabelValues("force_closed")))
}

func TestFileIOMetrics(t *testing.T) {
	withRegistry(t)

	m := metrics.NewFileIOMetrics()
	require.NotNil(t, m)
	impl := m.(*fileIOMetrics)

	m.RecordCacheMiss("file")
	m.RecordCacheHit("file")
	m.RecordCacheHit("file")
	m.RecordLoad("s3", 10*time.Millisecond, errors.New("boom"))
	m.RecordInvalidation()
	m.SetCacheEntries(4)

	assert.Equal(t, 2.0, testutil.ToFloat64(impl.lookups.WithLabelValues("file", "hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(impl.lookups.WithLabelValues("file", "miss")))
	assert.Equal(t, 1.0, testutil.ToFloat64(impl.loads.WithLabelValues("s3", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(impl.invalidations))
	assert.Equal(t, 4.0, testutil.ToFloat64(impl.entries))
}

func TestMetricsAreExposedByRegistry(t *testing.T) {
	withRegistry(t)

	m := NewRPCMetrics()
	m.RecordConnectionAccepted()

	count, err := testutil.GatherAndCount(metrics.GetRegistry(), "tablerpc_connections_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
