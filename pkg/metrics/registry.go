// Package metrics provides Prometheus metrics collection for the remote shell
// server.
//
// All metrics are optional. Components receive a recorder interface and a nil
// recorder disables collection with zero overhead, so rshd runs with or
// without a metrics endpoint.
//
// Usage:
//
//	// Initialize global registry (typically in rshd start)
//	metrics.InitRegistry()
//
//	// Create recorders for components
//	shell := prometheus.NewShellMetrics()
//	tcpConns := prometheus.NewConnectionMetrics("tcp")
//
//	// A nil recorder is a no-op
//	d := dispatcher.New(cfg, registry, dispatcher.WithMetrics(shell))
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	// registry is the global Prometheus registry for all remote shell metrics.
	// Protected by registryOnce for write-once, read-many pattern.
	registry     *prometheus.Registry
	registryOnce sync.Once
)

// InitRegistry initializes the global Prometheus registry with the Go runtime
// and process collectors.
//
// This must be called before creating any recorder. It's safe to call multiple
// times; subsequent calls are ignored.
func InitRegistry() {
	registryOnce.Do(func() {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	})
}

// GetRegistry returns the global Prometheus registry, or nil if InitRegistry
// has not been called.
func GetRegistry() *prometheus.Registry {
	return registry
}

// IsEnabled returns true if InitRegistry has been called.
func IsEnabled() bool {
	return GetRegistry() != nil
}
