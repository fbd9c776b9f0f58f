package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	SchemaVersion               = 1
	DefaultPath                 = "/etc/smartslydr/config.yaml"
	DefaultGRPCAddr             = "0.0.0.0:9000"
	DefaultHTTPAddr             = "0.0.0.0:8080"
	DefaultDashboardDir         = "/var/lib/smartslydr/dashboards"
	DefaultLogLevel             = "info"
	DefaultLogFormat            = "console"
	DefaultSyncIntervalSeconds  = 60
	DefaultRequestTimeoutSecond = 10
	DefaultRateLimitPerMinute   = 120
	DefaultMQTTTopicPrefix      = "smartslydr"
	DefaultMQTTDiscoveryPrefix  = "homeassistant"
	DefaultArchivePrefix        = "smartslydr/snapshots"
)

var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the on-disk daemon configuration.
type Config struct {
	SchemaVersion int               `yaml:"schema_version"`
	Core          CoreConfig        `yaml:"core"`
	SmartSlydr    *SmartSlydrConfig `yaml:"smartslydr"`
	MQTT          *MQTTConfig       `yaml:"mqtt"`
	HomeKit       *HomeKitConfig    `yaml:"homekit"`
	Archive       *ArchiveConfig    `yaml:"archive"`
}

type CoreConfig struct {
	GRPCAddr     string `yaml:"grpc_addr"`
	HTTPAddr     string `yaml:"http_addr"`
	DashboardDir string `yaml:"dashboard_dir"`
	LogLevel     string `yaml:"log_level"`
	LogFormat    string `yaml:"log_format"`
}

// SmartSlydrConfig holds the cloud account and polling settings.
type SmartSlydrConfig struct {
	Username              string `yaml:"username"`
	Password              string `yaml:"password"`
	PasswordFile          string `yaml:"password_file"`
	BaseURL               string `yaml:"base_url"`
	SyncIntervalSeconds   int    `yaml:"sync_interval_seconds"`
	RequestTimeoutSeconds int    `yaml:"request_timeout_seconds"`
	RateLimitPerMinute    int    `yaml:"rate_limit_per_minute"`
}

func (c *SmartSlydrConfig) SyncInterval() time.Duration {
	return time.Duration(c.SyncIntervalSeconds) * time.Second
}

func (c *SmartSlydrConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

type MQTTConfig struct {
	Broker          string `yaml:"broker"`
	ClientID        string `yaml:"client_id"`
	Username        string `yaml:"username"`
	PasswordFile    string `yaml:"password_file"`
	TopicPrefix     string `yaml:"topic_prefix"`
	DiscoveryPrefix string `yaml:"discovery_prefix"`
}

type HomeKitConfig struct {
	StoreDir string `yaml:"store_dir"`
	Pin      string `yaml:"pin"`
	Addr     string `yaml:"addr"`
}

type ArchiveConfig struct {
	Endpoint      string `yaml:"endpoint"`
	Bucket        string `yaml:"bucket"`
	Prefix        string `yaml:"prefix"`
	Region        string `yaml:"region"`
	AccessKeyFile string `yaml:"access_key_file"`
	SecretKeyFile string `yaml:"secret_key_file"`
}

// Load reads the YAML config file, applies env overrides and defaults, and validates.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML document. Unknown keys are rejected.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnv(cfg)
	applyDefaults(cfg)
	if err := resolveSecrets(cfg); err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Core.GRPCAddr == "" {
		cfg.Core.GRPCAddr = DefaultGRPCAddr
	}
	if cfg.Core.HTTPAddr == "" {
		cfg.Core.HTTPAddr = DefaultHTTPAddr
	}
	if cfg.Core.DashboardDir == "" {
		cfg.Core.DashboardDir = DefaultDashboardDir
	}
	if cfg.Core.LogLevel == "" {
		cfg.Core.LogLevel = DefaultLogLevel
	}
	if cfg.Core.LogFormat == "" {
		cfg.Core.LogFormat = DefaultLogFormat
	}

	if s := cfg.SmartSlydr; s != nil {
		if s.SyncIntervalSeconds == 0 {
			s.SyncIntervalSeconds = DefaultSyncIntervalSeconds
		}
		if s.RequestTimeoutSeconds == 0 {
			s.RequestTimeoutSeconds = DefaultRequestTimeoutSecond
		}
		if s.RateLimitPerMinute == 0 {
			s.RateLimitPerMinute = DefaultRateLimitPerMinute
		}
	}

	if m := cfg.MQTT; m != nil {
		if m.TopicPrefix == "" {
			m.TopicPrefix = DefaultMQTTTopicPrefix
		}
		if m.DiscoveryPrefix == "" {
			m.DiscoveryPrefix = DefaultMQTTDiscoveryPrefix
		}
		if m.ClientID == "" {
			m.ClientID = "smartslydr"
		}
	}

	if a := cfg.Archive; a != nil && a.Prefix == "" {
		a.Prefix = DefaultArchivePrefix
	}
}

func resolveSecrets(cfg *Config) error {
	s := cfg.SmartSlydr
	if s == nil || s.Password != "" || s.PasswordFile == "" {
		return nil
	}
	password, err := ReadSecretFile(s.PasswordFile)
	if err != nil {
		return fmt.Errorf("read smartslydr password: %w", err)
	}
	s.Password = password
	return nil
}

// Validate enforces required invariants beyond YAML typing.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("%w: config is required", ErrInvalidConfig)
	}
	if cfg.SchemaVersion != SchemaVersion {
		return fmt.Errorf("%w: schema_version must be %d", ErrInvalidConfig, SchemaVersion)
	}
	if cfg.Core.GRPCAddr == "" {
		return fmt.Errorf("%w: core.grpc_addr is required", ErrInvalidConfig)
	}
	if cfg.Core.HTTPAddr == "" {
		return fmt.Errorf("%w: core.http_addr is required", ErrInvalidConfig)
	}

	if s := cfg.SmartSlydr; s != nil {
		if strings.TrimSpace(s.Username) == "" {
			return fmt.Errorf("%w: smartslydr.username is required", ErrInvalidConfig)
		}
		if s.Password == "" {
			return fmt.Errorf("%w: smartslydr.password or smartslydr.password_file is required", ErrInvalidConfig)
		}
		if s.SyncIntervalSeconds < 0 {
			return fmt.Errorf("%w: smartslydr.sync_interval_seconds must be positive", ErrInvalidConfig)
		}
		if s.RequestTimeoutSeconds < 0 {
			return fmt.Errorf("%w: smartslydr.request_timeout_seconds must be positive", ErrInvalidConfig)
		}
		if s.RateLimitPerMinute < 0 {
			return fmt.Errorf("%w: smartslydr.rate_limit_per_minute must be positive", ErrInvalidConfig)
		}
	}

	if cfg.MQTT != nil && cfg.MQTT.Broker == "" {
		return fmt.Errorf("%w: mqtt.broker is required", ErrInvalidConfig)
	}
	if cfg.HomeKit != nil && cfg.HomeKit.StoreDir == "" {
		return fmt.Errorf("%w: homekit.store_dir is required", ErrInvalidConfig)
	}
	if a := cfg.Archive; a != nil {
		if a.Endpoint == "" || a.Bucket == "" {
			return fmt.Errorf("%w: archive.endpoint and archive.bucket are required", ErrInvalidConfig)
		}
		if a.AccessKeyFile == "" || a.SecretKeyFile == "" {
			return fmt.Errorf("%w: archive.access_key_file and archive.secret_key_file are required", ErrInvalidConfig)
		}
	}

	return nil
}

// EnabledPlugins maps enabled plugin IDs based on config presence.
func EnabledPlugins(cfg *Config) map[string]bool {
	enabled := make(map[string]bool)
	if cfg == nil {
		return enabled
	}
	if cfg.SmartSlydr != nil {
		enabled["smartslydr"] = true
	}
	return enabled
}

// ReadSecretFile returns the trimmed contents of a secret file.
func ReadSecretFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
