package router

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/joshp123/smartslydr/internal/core"
)

// DefaultHealthInterval is how often plugin health is copied into the gRPC health service.
const DefaultHealthInterval = 5 * time.Second

// RegisterPlugins publishes every plugin and each of its manifest services on
// the gRPC health service.
func RegisterPlugins(hs *health.Server, plugins []core.Plugin) {
	SyncHealth(hs, plugins)
}

// SyncHealth maps plugin health onto serving status. HEALTHY is SERVING;
// DEGRADED and ERROR are NOT_SERVING. The overall ("") status is SERVING only
// when every plugin is.
func SyncHealth(hs *health.Server, plugins []core.Plugin) {
	overall := healthpb.HealthCheckResponse_SERVING
	for _, p := range plugins {
		status := servingStatus(p.Health())
		if status != healthpb.HealthCheckResponse_SERVING {
			overall = status
		}
		hs.SetServingStatus(p.ID(), status)
		for _, svc := range p.Manifest().Services {
			if svc != p.ID() {
				hs.SetServingStatus(svc, status)
			}
		}
	}
	hs.SetServingStatus("", overall)
}

// WatchHealth re-syncs plugin health until ctx is done.
func WatchHealth(ctx context.Context, hs *health.Server, plugins []core.Plugin, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultHealthInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := make(map[string]core.HealthStatus)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, p := range plugins {
				status := p.Health()
				if prev, ok := last[p.ID()]; ok && prev != status {
					log.Info().Str("plugin", p.ID()).Str("from", string(prev)).Str("to", string(status)).Str("message", p.HealthMessage()).Msg("plugin health changed")
				}
				last[p.ID()] = status
			}
			SyncHealth(hs, plugins)
		}
	}
}

func servingStatus(status core.HealthStatus) healthpb.HealthCheckResponse_ServingStatus {
	if status == core.HealthHealthy {
		return healthpb.HealthCheckResponse_SERVING
	}
	return healthpb.HealthCheckResponse_NOT_SERVING
}
