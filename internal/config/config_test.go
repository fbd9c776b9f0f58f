package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
schema_version: 1
smartslydr:
  username: user@example.com
  password: secret
`))
	require.NoError(t, err)

	assert.Equal(t, DefaultGRPCAddr, cfg.Core.GRPCAddr)
	assert.Equal(t, DefaultHTTPAddr, cfg.Core.HTTPAddr)
	assert.Equal(t, DefaultDashboardDir, cfg.Core.DashboardDir)
	assert.Equal(t, DefaultLogLevel, cfg.Core.LogLevel)
	require.NotNil(t, cfg.SmartSlydr)
	assert.Equal(t, 60*time.Second, cfg.SmartSlydr.SyncInterval())
	assert.Equal(t, 10*time.Second, cfg.SmartSlydr.RequestTimeout())
	assert.Equal(t, DefaultRateLimitPerMinute, cfg.SmartSlydr.RateLimitPerMinute)
	assert.True(t, EnabledPlugins(cfg)["smartslydr"])
}

func TestParseMQTTDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
schema_version: 1
mqtt:
  broker: tcp://localhost:1883
`))
	require.NoError(t, err)
	require.NotNil(t, cfg.MQTT)
	assert.Equal(t, DefaultMQTTTopicPrefix, cfg.MQTT.TopicPrefix)
	assert.Equal(t, DefaultMQTTDiscoveryPrefix, cfg.MQTT.DiscoveryPrefix)
	assert.Equal(t, "smartslydr", cfg.MQTT.ClientID)
	assert.False(t, EnabledPlugins(cfg)["smartslydr"])
}

func TestParseRejectsUnknownKeys(t *testing.T) {
	_, err := Parse([]byte("schema_version: 1\nbogus: true\n"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr bool
	}{
		{name: "empty document", yaml: "", wantErr: true},
		{name: "wrong schema", yaml: "schema_version: 2\n", wantErr: true},
		{name: "core only", yaml: "schema_version: 1\n", wantErr: false},
		{
			name:    "missing password",
			yaml:    "schema_version: 1\nsmartslydr:\n  username: a\n",
			wantErr: true,
		},
		{
			name:    "negative interval",
			yaml:    "schema_version: 1\nsmartslydr:\n  username: a\n  password: b\n  sync_interval_seconds: -5\n",
			wantErr: true,
		},
		{
			name:    "mqtt without broker",
			yaml:    "schema_version: 1\nmqtt:\n  topic_prefix: x\n",
			wantErr: true,
		},
		{
			name:    "homekit without store",
			yaml:    "schema_version: 1\nhomekit:\n  pin: \"00102003\"\n",
			wantErr: true,
		},
		{
			name:    "archive without keys",
			yaml:    "schema_version: 1\narchive:\n  endpoint: http://minio:9000\n  bucket: b\n",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrInvalidConfig)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestPasswordFile(t *testing.T) {
	dir := t.TempDir()
	secret := filepath.Join(dir, "password")
	require.NoError(t, os.WriteFile(secret, []byte("hunter2\n"), 0o600))

	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
schema_version: 1
smartslydr:
  username: user
  password_file: `+secret+`
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "hunter2", cfg.SmartSlydr.Password)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv(EnvUsername, "env-user")
	t.Setenv(EnvPassword, "env-pass")
	t.Setenv(EnvSyncInterval, "15")
	t.Setenv(EnvHTTPAddr, "127.0.0.1:9999")

	cfg, err := Parse([]byte("schema_version: 1\n"))
	require.NoError(t, err)
	require.NotNil(t, cfg.SmartSlydr)
	assert.Equal(t, "env-user", cfg.SmartSlydr.Username)
	assert.Equal(t, "env-pass", cfg.SmartSlydr.Password)
	assert.Equal(t, 15, cfg.SmartSlydr.SyncIntervalSeconds)
	assert.Equal(t, "127.0.0.1:9999", cfg.Core.HTTPAddr)
}

func TestResolvePath(t *testing.T) {
	t.Setenv(EnvConfigPath, "")
	assert.Equal(t, DefaultPath, ResolvePath(""))
	assert.Equal(t, "/tmp/a.yaml", ResolvePath(" /tmp/a.yaml "))

	t.Setenv(EnvConfigPath, "/tmp/env.yaml")
	assert.Equal(t, "/tmp/env.yaml", ResolvePath(""))
}
