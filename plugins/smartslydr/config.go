package smartslydr

import (
	"fmt"
	"strings"
	"time"

	"github.com/joshp123/smartslydr/internal/config"
)

const (
	defaultBaseURL        = "https://34yl6ald82.execute-api.us-east-2.amazonaws.com/prod/"
	defaultSyncInterval   = 60 * time.Second
	defaultRequestTimeout = 10 * time.Second
)

// Config defines runtime configuration for one SmartSlydr account.
type Config struct {
	Username           string
	Password           string
	BaseURL            string
	SyncInterval       time.Duration
	RequestTimeout     time.Duration
	RateLimitPerMinute int
}

func ConfigFromFile(cfg *config.SmartSlydrConfig) (Config, error) {
	if cfg == nil {
		return Config{}, fmt.Errorf("smartslydr config is required")
	}
	out := Config{
		Username:           strings.TrimSpace(cfg.Username),
		Password:           cfg.Password,
		BaseURL:            strings.TrimSpace(cfg.BaseURL),
		SyncInterval:       cfg.SyncInterval(),
		RequestTimeout:     cfg.RequestTimeout(),
		RateLimitPerMinute: cfg.RateLimitPerMinute,
	}
	if out.Username == "" || out.Password == "" {
		return Config{}, fmt.Errorf("smartslydr username and password are required")
	}
	return out.withDefaults(), nil
}

func (c Config) withDefaults() Config {
	if c.BaseURL == "" {
		c.BaseURL = defaultBaseURL
	}
	if !strings.HasSuffix(c.BaseURL, "/") {
		c.BaseURL += "/"
	}
	if c.SyncInterval <= 0 {
		c.SyncInterval = defaultSyncInterval
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = defaultRequestTimeout
	}
	return c
}
