// Package metrics provides optional Prometheus metrics for the VXI-11 stack.
//
// All metrics are optional: constructors return nil when the registry has not
// been initialized, and every consumer treats a nil RPCMetrics as "disabled"
// with zero overhead.
//
// Usage:
//
//	metrics.InitRegistry()
//	m := prometheus.NewRPCMetrics()
//	client, err := rpc.Dial(ctx, host, port, rpc.WithMetrics(m))
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registry     *prometheus.Registry
	registryOnce sync.Once
)

// InitRegistry initializes the global Prometheus registry. Safe to call more
// than once; later calls are ignored.
func InitRegistry() {
	registryOnce.Do(func() {
		registry = prometheus.NewRegistry()
	})
}

// GetRegistry returns the global registry, or nil when metrics are disabled.
func GetRegistry() *prometheus.Registry {
	return registry
}

// IsEnabled returns true if InitRegistry has been called.
func IsEnabled() bool {
	return GetRegistry() != nil
}
