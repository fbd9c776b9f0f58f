package core

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
)

// HealthStatus represents plugin health states for registry reporting.
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "HEALTHY"
	HealthDegraded HealthStatus = "DEGRADED"
	HealthError    HealthStatus = "ERROR"
)

// Dashboard is a Grafana dashboard asset embedded by the plugin.
type Dashboard struct {
	Name string
	JSON []byte
}

// Manifest describes a plugin for discovery and registry metadata.
type Manifest struct {
	PluginID    string
	DisplayName string
	Version     string
	Services    []string
}

// Plugin is the compile-time contract for all plugins hosted by the daemon.
type Plugin interface {
	ID() string
	Manifest() Manifest
	Dashboards() []Dashboard
	Collectors() []prometheus.Collector
	Health() HealthStatus
	HealthMessage() string
}

// Starter is implemented by plugins that own a background session. Start
// must fail when the plugin cannot serve; Close releases it.
type Starter interface {
	Start(ctx context.Context) error
	Close() error
}

// HTTPRegistrant allows plugins to expose HTTP handlers.
type HTTPRegistrant interface {
	RegisterHTTP(*http.ServeMux)
}
