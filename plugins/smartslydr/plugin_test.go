package smartslydr

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshp123/smartslydr/internal/config"
	"github.com/joshp123/smartslydr/internal/core"
)

func TestNewPluginDisabledWithoutSection(t *testing.T) {
	_, ok := NewPlugin(&config.Config{})
	assert.False(t, ok)
	_, ok = NewPlugin(nil)
	assert.False(t, ok)
}

func TestNewPluginInvalidConfig(t *testing.T) {
	p, ok := NewPlugin(&config.Config{SmartSlydr: &config.SmartSlydrConfig{Username: "user"}})
	require.True(t, ok)
	assert.Equal(t, core.HealthError, p.Health())
	assert.NotEmpty(t, p.HealthMessage())
	assert.Nil(t, p.Collectors())
	assert.Error(t, p.Start(context.Background()))
	assert.NoError(t, p.Close())
}

func TestPluginLifecycle(t *testing.T) {
	cloud := newFakeCloud(t)
	p, ok := NewPlugin(&config.Config{SmartSlydr: &config.SmartSlydrConfig{
		Username:            "user",
		Password:            "pass",
		BaseURL:             cloud.server.URL,
		SyncIntervalSeconds: 3600,
	}})
	require.True(t, ok)
	require.NoError(t, core.ValidatePlugins([]core.Plugin{p}))

	assert.Equal(t, core.HealthDegraded, p.Health())
	require.NoError(t, p.Start(context.Background()))
	defer p.Close()

	assert.Equal(t, core.HealthHealthy, p.Health())
	assert.Empty(t, p.HealthMessage())
	assert.Len(t, p.Collectors(), 5)
	require.Len(t, p.Dashboards(), 1)
	assert.NotEmpty(t, p.Dashboards()[0].JSON)

	mux := http.NewServeMux()
	p.RegisterHTTP(mux)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/smartslydr/covers", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"id":"dev-2"`)
}
