package core

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubPlugin struct {
	id            string
	name          string
	version       string
	services      []string
	dashboards    []Dashboard
	health        HealthStatus
	healthMessage string
}

func (s stubPlugin) ID() string { return s.id }

func (s stubPlugin) Manifest() Manifest {
	return Manifest{
		PluginID:    s.id,
		DisplayName: s.name,
		Version:     s.version,
		Services:    s.services,
	}
}

func (s stubPlugin) Dashboards() []Dashboard { return s.dashboards }

func (s stubPlugin) Collectors() []prometheus.Collector { return nil }

func (s stubPlugin) Health() HealthStatus { return s.health }

func (s stubPlugin) HealthMessage() string { return s.healthMessage }

func newStubPlugin(id string) stubPlugin {
	return stubPlugin{
		id:         id,
		name:       "Demo",
		version:    "0.1.0",
		services:   []string{"demo"},
		health:     HealthHealthy,
		dashboards: []Dashboard{{Name: "demo", JSON: []byte("{}")}},
	}
}

type startablePlugin struct {
	stubPlugin
	startErr error
	log      *[]string
}

func (s startablePlugin) Start(context.Context) error {
	*s.log = append(*s.log, "start "+s.id)
	return s.startErr
}

func (s startablePlugin) Close() error {
	*s.log = append(*s.log, "close "+s.id)
	return nil
}

func TestRegistryList(t *testing.T) {
	reg := NewRegistry([]Plugin{newStubPlugin("demo")})

	got := reg.List()
	require.Len(t, got, 1)
	assert.Equal(t, "demo", got[0].PluginID)
	assert.Equal(t, "Demo", got[0].DisplayName)
	assert.Equal(t, "0.1.0", got[0].Version)
	assert.Equal(t, HealthHealthy, got[0].Status)
}

func TestRegistryDescribe(t *testing.T) {
	plugin := newStubPlugin("demo")
	plugin.health = HealthDegraded
	plugin.healthMessage = "poll failed"
	reg := NewRegistry([]Plugin{plugin})

	desc, ok := reg.Describe("demo")
	require.True(t, ok)
	assert.Equal(t, HealthDegraded, desc.Status)
	assert.Equal(t, "poll failed", desc.HealthMessage)
	require.Len(t, desc.Dashboards, 1)
	assert.Equal(t, "/dashboards/demo/demo.json", desc.Dashboards[0].Path)

	_, ok = reg.Describe("missing")
	assert.False(t, ok)
}

func TestFilterPlugins(t *testing.T) {
	compiled := []Plugin{newStubPlugin("demo"), newStubPlugin("extra")}

	active := FilterPlugins(compiled, map[string]bool{"demo": true}, false)
	require.Len(t, active, 1)
	assert.Equal(t, "demo", active[0].ID())

	active = FilterPlugins(compiled, map[string]bool{}, true)
	assert.Len(t, active, 2)
}

func TestValidateEnabledPlugins(t *testing.T) {
	compiled := []Plugin{newStubPlugin("demo")}

	assert.NoError(t, ValidateEnabledPlugins(compiled, map[string]bool{"demo": true}, false))
	assert.Error(t, ValidateEnabledPlugins(compiled, map[string]bool{"missing": true}, false))
}

func TestValidatePlugins(t *testing.T) {
	assert.NoError(t, ValidatePlugins([]Plugin{newStubPlugin("smartslydr")}))
	assert.Error(t, ValidatePlugins([]Plugin{newStubPlugin("Bad-ID")}))
	assert.Error(t, ValidatePlugins([]Plugin{newStubPlugin("demo"), newStubPlugin("demo")}))
}

func TestDashboards(t *testing.T) {
	plugins := []Plugin{newStubPlugin("demo")}

	assert.Equal(t, map[string][]byte{"/dashboards/demo/demo.json": []byte("{}")}, DashboardsMap(plugins))

	dir := t.TempDir()
	require.NoError(t, WriteDashboards(dir, plugins))
	data, err := os.ReadFile(filepath.Join(dir, "demo", "demo.json"))
	require.NoError(t, err)
	assert.Equal(t, "{}", string(data))
}

func TestStartPluginsRollsBack(t *testing.T) {
	var calls []string
	plugins := []Plugin{
		startablePlugin{stubPlugin: newStubPlugin("first"), log: &calls},
		newStubPlugin("plain"),
		startablePlugin{stubPlugin: newStubPlugin("second"), startErr: errors.New("boom"), log: &calls},
	}

	err := StartPlugins(context.Background(), plugins)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "start second")
	assert.Equal(t, []string{"start first", "start second", "close first"}, calls)
}

func TestClosePlugins(t *testing.T) {
	var calls []string
	plugins := []Plugin{
		startablePlugin{stubPlugin: newStubPlugin("first"), log: &calls},
		startablePlugin{stubPlugin: newStubPlugin("second"), log: &calls},
	}

	require.NoError(t, ClosePlugins(plugins))
	assert.Equal(t, []string{"close second", "close first"}, calls)
}

func TestMetricsRegistry(t *testing.T) {
	extra := prometheus.NewGauge(prometheus.GaugeOpts{Name: "extra_gauge", Help: "extra"})
	registry := MetricsRegistry([]Plugin{newStubPlugin("demo")}, extra)

	families, err := registry.Gather()
	require.NoError(t, err)
	names := make(map[string]bool, len(families))
	for _, mf := range families {
		names[mf.GetName()] = true
	}
	assert.True(t, names["extra_gauge"])
	assert.True(t, names["go_goroutines"])
}
