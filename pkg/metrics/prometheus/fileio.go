package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/marmos91/tablerpc/pkg/metrics"
)

func init() {
	metrics.RegisterFileIOMetricsConstructor(NewFileIOMetrics)
}

// fileIOMetrics is the Prometheus implementation of metrics.FileIOMetrics.
type fileIOMetrics struct {
	lookups       *prometheus.CounterVec
	loads         *prometheus.CounterVec
	loadDuration  *prometheus.HistogramVec
	invalidations prometheus.Counter
	entries       prometheus.Gauge
}

// NewFileIOMetrics creates a Prometheus-backed FileIOMetrics instance.
//
// Returns nil if metrics are not enabled (InitRegistry not called).
func NewFileIOMetrics() metrics.FileIOMetrics {
	if !metrics.IsEnabled() {
		return nil
	}

	reg := metrics.GetRegistry()

	return &fileIOMetrics{
		lookups: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "tablerpc_fileio_cache_lookups_total",
				Help: "FileIO cache lookups by storage scheme and result",
			},
			[]string{"scheme", "result"},
		),
		loads: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "tablerpc_fileio_loads_total",
				Help: "FileIO constructions by storage scheme and status",
			},
			[]string{"scheme", "status"},
		),
		loadDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tablerpc_fileio_load_duration_milliseconds",
				Help:    "Time spent constructing a FileIO after a cache miss",
				Buckets: []float64{1, 10, 50, 100, 500, 1000, 5000},
			},
			[]string{"scheme"},
		),
		invalidations: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "tablerpc_fileio_cache_invalidations_total",
				Help: "FileIO cache entries removed by invalidation",
			},
		),
		entries: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "tablerpc_fileio_cache_entries",
				Help: "Number of cached FileIO instances",
			},
		),
	}
}

func (m *fileIOMetrics) RecordCacheHit(scheme string) {
	m.lookups.WithLabelValues(scheme, "hit").Inc()
}

func (m *fileIOMetrics) RecordCacheMiss(scheme string) {
	m.lookups.WithLabelValues(scheme, "miss").Inc()
}

func (m *fileIOMetrics) RecordLoad(scheme string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.loads.WithLabelValues(scheme, status).Inc()
	m.loadDuration.WithLabelValues(scheme).Observe(float64(duration.Microseconds()) / 1000)
}

func (m *fileIOMetrics) RecordInvalidation() {
	m.invalidations.Inc()
}

func (m *fileIOMetrics) SetCacheEntries(count int) {
	m.entries.Set(float64(count))
}
