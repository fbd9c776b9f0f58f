package smartslydr

import (
	"context"
	_ "embed"
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/joshp123/smartslydr/internal/blob"
	"github.com/joshp123/smartslydr/internal/config"
	"github.com/joshp123/smartslydr/internal/core"
)

//go:embed dashboard.json
var dashboardJSON []byte

// Plugin hosts the SmartSlydr session and the bridges that render its covers.
type Plugin struct {
	session  *Session
	mqtt     *MQTTBridge
	homekit  *HomeKitBridge
	archive  blob.Store
	archiver *Archiver

	health        core.HealthStatus
	healthMessage string
}

var (
	_ core.Plugin         = (*Plugin)(nil)
	_ core.Starter        = (*Plugin)(nil)
	_ core.HTTPRegistrant = (*Plugin)(nil)
)

// NewPlugin constructs the plugin from the daemon config. The second result is
// false when the smartslydr section is absent.
func NewPlugin(cfg *config.Config) (*Plugin, bool) {
	if cfg == nil || cfg.SmartSlydr == nil {
		return nil, false
	}

	runtimeCfg, err := ConfigFromFile(cfg.SmartSlydr)
	if err != nil {
		return &Plugin{health: core.HealthError, healthMessage: err.Error()}, true
	}
	session, err := NewSession(runtimeCfg)
	if err != nil {
		return &Plugin{health: core.HealthError, healthMessage: err.Error()}, true
	}
	p := &Plugin{session: session, health: core.HealthHealthy}

	if cfg.MQTT != nil {
		opts, err := MQTTOptionsFromFile(cfg.MQTT)
		if err != nil {
			return &Plugin{health: core.HealthError, healthMessage: err.Error()}, true
		}
		p.mqtt = NewMQTTBridge(opts, session)
	}
	if cfg.HomeKit != nil {
		p.homekit = NewHomeKitBridge(HomeKitOptionsFromFile(cfg.HomeKit), session)
	}
	if cfg.Archive != nil {
		store, err := blob.NewS3Store(cfg.Archive)
		if err != nil {
			return &Plugin{health: core.HealthError, healthMessage: err.Error()}, true
		}
		p.archive = store
		p.archiver = NewArchiver(store)
	}
	return p, true
}

func (p *Plugin) ID() string {
	return "smartslydr"
}

func (p *Plugin) Manifest() core.Manifest {
	return core.Manifest{
		PluginID:    "smartslydr",
		DisplayName: "SmartSlydr",
		Version:     "0.1.0",
		Services:    []string{"smartslydr"},
	}
}

func (p *Plugin) Session() *Session {
	return p.session
}

func (p *Plugin) Dashboards() []core.Dashboard {
	return []core.Dashboard{{Name: "smartslydr-overview", JSON: dashboardJSON}}
}

func (p *Plugin) Collectors() []prometheus.Collector {
	if p.session == nil {
		return nil
	}
	return append(MetricsCollectors(), NewMetricsCollector(p.session.Coordinator()))
}

func (p *Plugin) Health() core.HealthStatus {
	if p.session == nil {
		return p.health
	}
	return p.session.Coordinator().Health()
}

func (p *Plugin) HealthMessage() string {
	if p.session == nil {
		return p.healthMessage
	}
	return p.session.Coordinator().HealthMessage()
}

// Start opens the cloud session and then the bridges. The session gate is
// fatal; bridge failures are not.
func (p *Plugin) Start(ctx context.Context) error {
	if p.session == nil {
		return errors.New(p.healthMessage)
	}
	if err := p.session.Start(ctx); err != nil {
		return err
	}

	if p.archiver != nil {
		p.archiver.Start(ctx, p.session.Coordinator())
	}
	if p.homekit != nil {
		if err := p.homekit.Start(ctx); err != nil {
			log.Error().Err(err).Str("plugin", "smartslydr").Msg("homekit bridge not started")
		}
	}
	if p.mqtt != nil {
		go func() {
			if err := p.mqtt.Start(ctx); err != nil {
				log.Error().Err(err).Str("plugin", "smartslydr").Msg("mqtt bridge not started")
			}
		}()
	}
	return nil
}

func (p *Plugin) Close() error {
	var errs []error
	if p.mqtt != nil {
		errs = append(errs, p.mqtt.Close())
	}
	if p.homekit != nil {
		errs = append(errs, p.homekit.Close())
	}
	if p.archiver != nil {
		errs = append(errs, p.archiver.Close())
	}
	if p.session != nil {
		errs = append(errs, p.session.Close())
	}
	return errors.Join(errs...)
}
