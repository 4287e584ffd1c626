package metrics

import "time"

// FileIOMetrics provides observability for the per-table FileIO cache.
//
// scheme is the storage scheme of the table location ("file" or "s3").
type FileIOMetrics interface {
	RecordCacheHit(scheme string)
	RecordCacheMiss(scheme string)

	// RecordLoad records the construction of a FileIO after a miss.
	RecordLoad(scheme string, duration time.Duration, err error)

	RecordInvalidation()

	// SetCacheEntries updates the number of cached FileIO instances.
	SetCacheEntries(count int)
}

// NewFileIOMetrics creates the Prometheus-backed FileIOMetrics.
//
// Returns nil if metrics are not enabled.
func NewFileIOMetrics() FileIOMetrics {
	if !IsEnabled() || newPrometheusFileIOMetrics == nil {
		return nil
	}
	return newPrometheusFileIOMetrics()
}

var newPrometheusFileIOMetrics func() FileIOMetrics

// RegisterFileIOMetricsConstructor registers the Prometheus FileIO metrics constructor.
func RegisterFileIOMetricsConstructor(constructor func() FileIOMetrics) {
	newPrometheusFileIOMetrics = constructor
}
