package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/carlmjohnson/versioninfo"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/joshp123/smartslydr/internal/config"
	"github.com/joshp123/smartslydr/internal/core"
	"github.com/joshp123/smartslydr/internal/logging"
	"github.com/joshp123/smartslydr/internal/plugins"
	"github.com/joshp123/smartslydr/internal/rate"
	"github.com/joshp123/smartslydr/internal/router"
	"github.com/joshp123/smartslydr/internal/server"
)

const shutdownTimeout = 10 * time.Second

var configPath string

var rootCmd = &cobra.Command{
	Use:           "smartslydr",
	Short:         "SmartSlydr cloud bridge daemon",
	Long:          "smartslydr polls the SmartSlydr cloud for sliding-door state and serves it over HTTP, gRPC health, MQTT and HomeKit.",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return run(cmd.Context())
	},
}

func init() {
	rootCmd.Flags().StringVar(&configPath, "config", "", "config file (default $"+config.EnvConfigPath+" or "+config.DefaultPath+")")
	rootCmd.Version = versioninfo.Short()
}

func main() {
	_ = config.EnsureEnv()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		log.Fatal().Err(err).Msg("smartslydr failed")
	}
}

func run(ctx context.Context) error {
	path := config.ResolvePath(configPath)
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("load config %s: %w", path, err)
	}
	logging.Setup(cfg.Core.LogLevel, cfg.Core.LogFormat)
	log.Info().Str("config", path).Str("version", versioninfo.Short()).Msg("starting smartslydr")

	enabled := config.EnabledPlugins(cfg)
	compiled := plugins.Compiled(cfg)
	if err := core.ValidateEnabledPlugins(compiled, enabled, false); err != nil {
		return err
	}
	active := core.FilterPlugins(compiled, enabled, false)
	if err := core.ValidatePlugins(active); err != nil {
		return err
	}
	if len(active) == 0 {
		log.Warn().Msg("no plugins configured")
	}

	buildInfo := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name:        "smartslydr_build_info",
		Help:        "Build information",
		ConstLabels: prometheus.Labels{"revision": versioninfo.Revision, "version": versioninfo.Version},
	}, func() float64 { return 1 })
	registry := core.MetricsRegistry(active, append(rate.MetricsCollectors(), buildInfo)...)

	if err := core.StartPlugins(ctx, active); err != nil {
		return fmt.Errorf("start plugins: %w", err)
	}
	defer func() {
		if err := core.ClosePlugins(active); err != nil {
			log.Error().Err(err).Msg("close plugins")
		}
	}()

	if err := core.WriteDashboards(cfg.Core.DashboardDir, active); err != nil {
		log.Warn().Err(err).Str("dir", cfg.Core.DashboardDir).Msg("write dashboards")
	}

	grpcServer, err := server.NewGRPCServer(cfg.Core.GRPCAddr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}
	router.RegisterPlugins(grpcServer.Health, active)
	go router.WatchHealth(ctx, grpcServer.Health, active, router.DefaultHealthInterval)

	httpServer := server.NewHTTPServer(cfg.Core.HTTPAddr, server.NewMux(active, registry))

	errs := make(chan error, 2)
	go func() {
		log.Info().Str("addr", cfg.Core.GRPCAddr).Msg("grpc listening")
		if err := grpcServer.Serve(); err != nil {
			errs <- fmt.Errorf("grpc serve: %w", err)
		}
	}()
	go func() {
		log.Info().Str("addr", cfg.Core.HTTPAddr).Msg("http listening")
		if err := httpServer.ListenAndServe(); err != nil {
			errs <- fmt.Errorf("http serve: %w", err)
		}
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down")
	case serveErr = <-errs:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	grpcServer.Stop()
	if err := httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
		log.Warn().Err(err).Msg("http shutdown")
	}
	return serveErr
}
