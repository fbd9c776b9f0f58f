package core

import (
	"sync"
)

// PluginSummary is the short listing of one plugin.
type PluginSummary struct {
	PluginID    string       `json:"plugin_id"`
	DisplayName string       `json:"display_name"`
	Version     string       `json:"version"`
	Status      HealthStatus `json:"status"`
}

// DashboardRef points at a served dashboard.
type DashboardRef struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

// PluginDescriptor is the full description of one plugin.
type PluginDescriptor struct {
	PluginSummary
	Services      []string       `json:"services,omitempty"`
	HealthMessage string         `json:"health_message,omitempty"`
	Dashboards    []DashboardRef `json:"dashboards,omitempty"`
}

// Registry provides plugin discovery to clients.
type Registry struct {
	plugins []Plugin
	mu      sync.RWMutex
}

func NewRegistry(plugins []Plugin) *Registry {
	return &Registry{plugins: plugins}
}

func (r *Registry) List() []PluginSummary {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]PluginSummary, 0, len(r.plugins))
	for _, p := range r.plugins {
		out = append(out, summarize(p))
	}
	return out
}

func (r *Registry) Describe(id string) (PluginDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.plugins {
		manifest := p.Manifest()
		if manifest.PluginID != id {
			continue
		}

		descriptor := PluginDescriptor{
			PluginSummary: summarize(p),
			Services:      manifest.Services,
			HealthMessage: p.HealthMessage(),
		}
		for _, d := range p.Dashboards() {
			descriptor.Dashboards = append(descriptor.Dashboards, DashboardRef{
				Name: d.Name,
				Path: dashboardPath(manifest.PluginID, d.Name),
			})
		}
		return descriptor, true
	}
	return PluginDescriptor{}, false
}

func summarize(p Plugin) PluginSummary {
	manifest := p.Manifest()
	return PluginSummary{
		PluginID:    manifest.PluginID,
		DisplayName: manifest.DisplayName,
		Version:     manifest.Version,
		Status:      p.Health(),
	}
}

func dashboardPath(pluginID, name string) string {
	return "/dashboards/" + pluginID + "/" + name + ".json"
}
