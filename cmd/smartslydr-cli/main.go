package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/joshp123/smartslydr/internal/config"
	"github.com/joshp123/smartslydr/internal/logging"
	"github.com/joshp123/smartslydr/plugins/smartslydr"
)

var rootCmd = &cobra.Command{
	Use:           "smartslydr-cli",
	Short:         "Talk to the SmartSlydr cloud or a running smartslydr daemon",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(*cobra.Command, []string) {
		level := "warn"
		if rootVerbose {
			level = "debug"
		}
		logging.Setup(level, "console")
	},
}

var (
	rootConfig  string
	rootAddr    string
	rootJSON    bool
	rootVerbose bool
	rootTimeout time.Duration
)

func init() {
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	rootCmd.PersistentFlags().StringVar(&rootConfig, "config", "", "config file (default $"+config.EnvConfigPath+" or "+config.DefaultPath+")")
	rootCmd.PersistentFlags().StringVar(&rootAddr, "addr", "", "daemon gRPC address (default from $"+config.EnvGRPCAddr+" or config)")
	rootCmd.PersistentFlags().BoolVar(&rootJSON, "json", false, "print JSON instead of a table")
	rootCmd.PersistentFlags().BoolVarP(&rootVerbose, "verbose", "v", false, "log requests")
	rootCmd.PersistentFlags().DurationVar(&rootTimeout, "timeout", 30*time.Second, "overall command timeout")
	rootCmd.AddCommand(
		newCheckCmd(),
		newDevicesCmd(),
		newOpenCmd(),
		newCloseCmd(),
		newSetCmd(),
		newPositionCmd(),
		newStatusCmd(),
		newServicesCmd(),
	)
	_ = config.EnsureEnv()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, rootTimeout)
}

// loadConfig reads the config file when present and falls back to
// environment-only settings otherwise.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(config.ResolvePath(rootConfig))
	if errors.Is(err, fs.ErrNotExist) && rootConfig == "" {
		return config.Parse(nil)
	}
	return cfg, err
}

func cloudConfig() (smartslydr.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return smartslydr.Config{}, err
	}
	if cfg.SmartSlydr == nil {
		return smartslydr.Config{}, fmt.Errorf("no smartslydr account configured (set %s and %s)", config.EnvUsername, config.EnvPassword)
	}
	return smartslydr.ConfigFromFile(cfg.SmartSlydr)
}

// openSession authenticates and loads the device list once. Callers must Close it.
func openSession(ctx context.Context) (*smartslydr.Session, error) {
	cfg, err := cloudConfig()
	if err != nil {
		return nil, err
	}
	session, err := smartslydr.NewSession(cfg)
	if err != nil {
		return nil, err
	}
	if err := session.Start(ctx); err != nil {
		return nil, err
	}
	return session, nil
}

// resolveDevice accepts a device id or a (loosely matched) device name.
func resolveDevice(session *smartslydr.Session, input string) (string, error) {
	devices := session.Coordinator().Devices()
	if _, ok := devices[input]; ok {
		return input, nil
	}
	options := make(map[string]string, len(devices))
	for id, dev := range devices {
		options[dev.Name] = id
	}
	return resolveNamedID("device", input, options)
}

func grpcAddr() string {
	if rootAddr != "" {
		return rootAddr
	}
	if value := os.Getenv(config.EnvGRPCAddr); value != "" {
		return value
	}
	if cfg, err := loadConfig(); err == nil {
		return dialable(cfg.Core.GRPCAddr)
	}
	return dialable(config.DefaultGRPCAddr)
}
