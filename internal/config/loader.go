package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. INSPECTRA_API_TIMEOUT.
const EnvPrefix = "INSPECTRA"

// LegacyAPIURLEnv is accepted as an alias for INSPECTRA_API_URL.
const LegacyAPIURLEnv = "VITE_API_URL"

// Loader provides configuration loading capabilities.
type Loader interface {
	// Load retrieves, parses and validates the configuration.
	Load(ctx context.Context) (*Config, error)
}

// ViperLoader layers defaults, an optional config file and the environment.
type ViperLoader struct {
	// path is an explicit config file. Empty searches the default locations.
	path string
	// lookupEnv allows tests to supply the environment.
	lookupEnv func(string) (string, bool)
}

// NewViperLoader creates a loader. path may be empty.
func NewViperLoader(path string) *ViperLoader {
	return &ViperLoader{path: path, lookupEnv: os.LookupEnv}
}

// SetDefaults registers every configuration key with its default value. Keys
// must be registered for environment overrides to reach Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("api.url", "")
	v.SetDefault("api.origin", "http://localhost:3001")
	v.SetDefault("api.timeout", 2*time.Minute)
	v.SetDefault("api.rate_limit", 0)
	v.SetDefault("api.burst", 1)
	v.SetDefault("api.user_agent", "inspectra")

	v.SetDefault("store.backend", BackendFile)
	v.SetDefault("store.path", defaultStorePath())
	v.SetDefault("store.redis_addr", "")
	v.SetDefault("store.redis_db", 0)
	v.SetDefault("store.redis_prefix", "")
	v.SetDefault("store.postgres_dsn", "")
	v.SetDefault("store.history_limit", DefaultHistoryLimit)

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.stream_topic", "inspectra.streams")
	v.SetDefault("kafka.scan_topic", "inspectra.scans")
	v.SetDefault("kafka.client_id", "inspectra-gateway")
	v.SetDefault("kafka.group_id", "")

	v.SetDefault("telemetry.endpoint", "")
	v.SetDefault("telemetry.insecure", false)
	v.SetDefault("telemetry.sample_ratio", 0.05)
	v.SetDefault("telemetry.service_name", "inspectra")

	v.SetDefault("gateway.id", "")
	v.SetDefault("gateway.api_host", "0.0.0.0:3001")
	v.SetDefault("gateway.debug_host", "0.0.0.0:3010")
	v.SetDefault("gateway.upstream_url", "")
	v.SetDefault("gateway.read_timeout", 10*time.Second)
	v.SetDefault("gateway.write_timeout", 0)
	v.SetDefault("gateway.idle_timeout", 120*time.Second)
	v.SetDefault("gateway.shutdown_timeout", 20*time.Second)
	v.SetDefault("gateway.cors_origins", []string{"*"})
}

func defaultStorePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "inspectra-state.json"
	}
	return filepath.Join(dir, "inspectra", "state.json")
}

// Load implements Loader.
func (l *ViperLoader) Load(ctx context.Context) (*Config, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	v := viper.New()
	SetDefaults(v)

	if l.path != "" {
		v.SetConfigFile(l.path)
	} else {
		v.SetConfigName("inspectra")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if dir, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(filepath.Join(dir, "inspectra"))
		}
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if l.path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	l.applyEnv(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv overlays INSPECTRA_* variables for every known key. VITE_API_URL
// is honored when INSPECTRA_API_URL is unset.
func (l *ViperLoader) applyEnv(v *viper.Viper) {
	replacer := strings.NewReplacer(".", "_")
	for _, key := range v.AllKeys() {
		name := EnvPrefix + "_" + strings.ToUpper(replacer.Replace(key))
		if val, ok := l.lookupEnv(name); ok {
			v.Set(key, val)
		}
	}
	if _, ok := l.lookupEnv(EnvPrefix + "_API_URL"); !ok {
		if val, ok := l.lookupEnv(LegacyAPIURLEnv); ok {
			v.Set("api.url", val)
		}
	}
}
