package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	registryMu sync.RWMutex
	registry   *prometheus.Registry
)

// InitRegistry creates the process-wide metrics registry with the Go runtime
// and process collectors attached. Calling it again replaces the registry.
//
// Until InitRegistry is called IsEnabled reports false and every New*Metrics
// constructor returns nil.
func InitRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	registryMu.Lock()
	registry = reg
	registryMu.Unlock()

	return reg
}

// GetRegistry returns the registry created by InitRegistry, or nil.
func GetRegistry() *prometheus.Registry {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return registry
}

// IsEnabled reports whether InitRegistry has been called.
func IsEnabled() bool {
	return GetRegistry() != nil
}

// ResetRegistry drops the registry so metrics are disabled again. Tests use it
// to isolate registrations.
func ResetRegistry() {
	registryMu.Lock()
	registry = nil
	registryMu.Unlock()
}
