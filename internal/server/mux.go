package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/joshp123/smartslydr/internal/core"
)

// NewMux wires the host routes and every plugin's HTTP routes.
func NewMux(plugins []core.Plugin, registry *prometheus.Registry) *http.ServeMux {
	mux := http.NewServeMux()
	pluginRegistry := core.NewRegistry(plugins)

	mux.HandleFunc("/health", HealthHandler)
	mux.HandleFunc("/ready", ReadyHandler(pluginRegistry))
	mux.Handle("/metrics", MetricsHandler(registry))
	mux.Handle("/dashboards/", DashboardsHandler(core.DashboardsMap(plugins)))
	RegisterRegistry(mux, pluginRegistry)

	for _, p := range plugins {
		if registrant, ok := p.(core.HTTPRegistrant); ok {
			registrant.RegisterHTTP(mux)
		}
	}
	return mux
}
