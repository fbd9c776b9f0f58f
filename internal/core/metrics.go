package core

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// MetricsRegistry builds the daemon registry: Go runtime and process
// collectors, every plugin's collectors, then any host-level extras.
func MetricsRegistry(plugins []Plugin, extra ...prometheus.Collector) *prometheus.Registry {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	for _, plugin := range plugins {
		for _, collector := range plugin.Collectors() {
			registry.MustRegister(collector)
		}
	}
	for _, collector := range extra {
		registry.MustRegister(collector)
	}
	return registry
}
