package config

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

const (
	EnvConfigPath   = "SMARTSLYDR_CONFIG"
	EnvUsername     = "SMARTSLYDR_USERNAME"
	EnvPassword     = "SMARTSLYDR_PASSWORD"
	EnvSyncInterval = "SMARTSLYDR_SYNC_INTERVAL"
	EnvGRPCAddr     = "SMARTSLYDR_GRPC_ADDR"
	EnvHTTPAddr     = "SMARTSLYDR_HTTP_ADDR"
)

var (
	loadOnce   sync.Once
	loadedPath string
	loadErr    error
)

// EnsureEnv loads the first .env file found from the working directory up to
// the filesystem root. Later calls are no-ops. Skipped under go test unless
// GOTEST_LOAD_DOTENV=1.
func EnsureEnv() error {
	if runningUnderGoTest() && os.Getenv("GOTEST_LOAD_DOTENV") != "1" {
		return nil
	}
	loadOnce.Do(func() {
		path, err := findDotEnv()
		if err != nil {
			loadErr = err
			log.Debug().Err(err).Msg("smartslydr: search .env failed")
			return
		}
		if path == "" {
			return
		}
		if err := godotenv.Load(path); err != nil {
			loadErr = err
			log.Warn().Err(err).Str("dotenv", path).Msg("smartslydr: load .env failed")
			return
		}
		loadedPath = path
		log.Debug().Str("dotenv", path).Msg("smartslydr: loaded .env")
	})
	return loadErr
}

// LoadedEnvPath returns the .env path loaded by EnsureEnv, or "".
func LoadedEnvPath() string {
	return loadedPath
}

// ResolvePath picks the config path: explicit flag, then $SMARTSLYDR_CONFIG, then the default.
func ResolvePath(flagValue string) string {
	if v := strings.TrimSpace(flagValue); v != "" {
		return v
	}
	if v := strings.TrimSpace(os.Getenv(EnvConfigPath)); v != "" {
		return v
	}
	return DefaultPath
}

func applyEnv(cfg *Config) {
	if v := envString(EnvGRPCAddr); v != "" {
		cfg.Core.GRPCAddr = v
	}
	if v := envString(EnvHTTPAddr); v != "" {
		cfg.Core.HTTPAddr = v
	}

	username := envString(EnvUsername)
	password := envString(EnvPassword)
	interval := envString(EnvSyncInterval)
	if cfg.SmartSlydr == nil && username == "" {
		return
	}
	if cfg.SmartSlydr == nil {
		cfg.SmartSlydr = &SmartSlydrConfig{}
	}
	if username != "" {
		cfg.SmartSlydr.Username = username
	}
	if password != "" {
		cfg.SmartSlydr.Password = password
	}
	if interval != "" {
		if seconds, err := strconv.Atoi(interval); err == nil {
			cfg.SmartSlydr.SyncIntervalSeconds = seconds
		} else {
			log.Warn().Str("value", interval).Msg("smartslydr: ignoring invalid " + EnvSyncInterval)
		}
	}
}

func envString(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func runningUnderGoTest() bool {
	if strings.HasSuffix(os.Args[0], ".test") {
		return true
	}
	for _, arg := range os.Args[1:] {
		if strings.HasPrefix(arg, "-test.") {
			return true
		}
	}
	return false
}

func findDotEnv() (string, error) {
	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for {
		candidate := filepath.Join(wd, ".env")
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		} else if err != nil && !errors.Is(err, os.ErrNotExist) {
			return "", err
		}
		parent := filepath.Dir(wd)
		if parent == wd {
			return "", nil
		}
		wd = parent
	}
}
