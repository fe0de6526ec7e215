// Package config loads Inspectra settings for the CLI and the gateway.
package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Store backends.
const (
	BackendMemory   = "memory"
	BackendFile     = "file"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// DefaultHistoryLimit caps the stored scan history.
const DefaultHistoryLimit = 50

// Config represents the top-level configuration.
type Config struct {
	API       APIConfig       `mapstructure:"api" yaml:"api"`
	Store     StoreConfig     `mapstructure:"store" yaml:"store"`
	Kafka     KafkaConfig     `mapstructure:"kafka" yaml:"kafka"`
	Telemetry TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`
	Gateway   GatewayConfig   `mapstructure:"gateway" yaml:"gateway"`
}

// APIConfig describes how to reach the scan backend.
type APIConfig struct {
	// URL is the configured API base. Empty means same-origin.
	URL string `mapstructure:"url" yaml:"url"`
	// Origin stands in for the page origin when URL is empty.
	Origin    string        `mapstructure:"origin" yaml:"origin" validate:"required,url"`
	Timeout   time.Duration `mapstructure:"timeout" yaml:"timeout" validate:"gte=0"`
	RateLimit float64       `mapstructure:"rate_limit" yaml:"rate_limit" validate:"gte=0"`
	Burst     int           `mapstructure:"burst" yaml:"burst" validate:"gte=0"`
	UserAgent string        `mapstructure:"user_agent" yaml:"user_agent"`
}

// Base resolves the effective API base URL.
func (c APIConfig) Base() (string, error) { return ResolveAPIBase(c.URL, c.Origin) }

// StoreConfig selects and configures the persistence backend.
type StoreConfig struct {
	Backend      string `mapstructure:"backend" yaml:"backend" validate:"oneof=memory file redis postgres"`
	Path         string `mapstructure:"path" yaml:"path" validate:"required_if=Backend file"`
	RedisAddr    string `mapstructure:"redis_addr" yaml:"redis_addr" validate:"required_if=Backend redis"`
	RedisDB      int    `mapstructure:"redis_db" yaml:"redis_db" validate:"gte=0"`
	RedisPrefix  string `mapstructure:"redis_prefix" yaml:"redis_prefix"`
	PostgresDSN  string `mapstructure:"postgres_dsn" yaml:"postgres_dsn" validate:"required_if=Backend postgres"`
	HistoryLimit int    `mapstructure:"history_limit" yaml:"history_limit" validate:"gte=1"`
}

// KafkaConfig configures the event bus. No brokers means events stay in process.
type KafkaConfig struct {
	Brokers     []string `mapstructure:"brokers" yaml:"brokers"`
	StreamTopic string   `mapstructure:"stream_topic" yaml:"stream_topic"`
	ScanTopic   string   `mapstructure:"scan_topic" yaml:"scan_topic"`
	ClientID    string   `mapstructure:"client_id" yaml:"client_id"`
	GroupID     string   `mapstructure:"group_id" yaml:"group_id"`
}

// Enabled reports whether a Kafka cluster is configured.
func (k KafkaConfig) Enabled() bool { return len(k.Brokers) > 0 }

// TelemetryConfig configures OTLP export. An empty endpoint disables it.
type TelemetryConfig struct {
	Endpoint    string  `mapstructure:"endpoint" yaml:"endpoint"`
	Insecure    bool    `mapstructure:"insecure" yaml:"insecure"`
	SampleRatio float64 `mapstructure:"sample_ratio" yaml:"sample_ratio" validate:"gte=0,lte=1"`
	ServiceName string  `mapstructure:"service_name" yaml:"service_name"`
}

// GatewayConfig configures the HTTP gateway in front of the scan orchestrator.
type GatewayConfig struct {
	ID              string        `mapstructure:"id" yaml:"id"`
	APIHost         string        `mapstructure:"api_host" yaml:"api_host" validate:"required"`
	DebugHost       string        `mapstructure:"debug_host" yaml:"debug_host"`
	UpstreamURL     string        `mapstructure:"upstream_url" yaml:"upstream_url" validate:"omitempty,url"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins" yaml:"cors_origins"`
}

// Upstream errors returned by GatewayConfig.Upstream.
var (
	ErrNoUpstream   = errors.New("gateway upstream_url not set")
	ErrUpstreamLoop = errors.New("gateway upstream_url points at the gateway itself")
)

// Upstream returns api with its URL replaced by the gateway's upstream. The
// gateway never falls back to the same-origin base, and an upstream on the
// gateway's own listen port over a local host is rejected.
func (g GatewayConfig) Upstream(api APIConfig) (APIConfig, error) {
	raw := strings.TrimSpace(g.UpstreamURL)
	if raw == "" {
		return APIConfig{}, ErrNoUpstream
	}
	api.URL = raw
	base, err := api.Base()
	if err != nil {
		return APIConfig{}, err
	}
	u, err := url.Parse(base)
	if err != nil {
		return APIConfig{}, fmt.Errorf("%w: %v", ErrInvalidBase, err)
	}
	if g.listensOn(u) {
		return APIConfig{}, fmt.Errorf("%w: %s", ErrUpstreamLoop, base)
	}
	return api, nil
}

func (g GatewayConfig) listensOn(u *url.URL) bool {
	host, port, err := net.SplitHostPort(g.APIHost)
	if err != nil {
		return false
	}
	upPort := u.Port()
	if upPort == "" {
		upPort = "80"
		if u.Scheme == "https" {
			upPort = "443"
		}
	}
	if upPort != port {
		return false
	}
	upHost := u.Hostname()
	if strings.EqualFold(upHost, host) || strings.EqualFold(upHost, "localhost") {
		return true
	}
	ip := net.ParseIP(upHost)
	return ip != nil && (ip.IsLoopback() || ip.IsUnspecified())
}

// ErrInvalidBase is returned when the API base cannot be resolved.
var ErrInvalidBase = errors.New("invalid api base url")

// ResolveAPIBase computes the API base from the configured value and the
// origin the client runs on. An empty value falls back to the origin. Trailing
// slashes are trimmed and "/api" is appended when the path does not already
// end with it.
func ResolveAPIBase(raw, origin string) (string, error) {
	base := strings.TrimSpace(raw)
	if base == "" {
		base = strings.TrimSpace(origin)
	}
	if base == "" {
		return "", fmt.Errorf("%w: neither api url nor origin set", ErrInvalidBase)
	}

	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidBase, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("%w: unsupported scheme %q", ErrInvalidBase, u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("%w: missing host", ErrInvalidBase)
	}

	u.RawQuery, u.Fragment = "", ""
	u.Path = strings.TrimRight(u.Path, "/")
	u.RawPath = ""
	if !strings.HasSuffix(u.Path, "/api") {
		u.Path += "/api"
	}
	return u.String(), nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the struct tags of cfg.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Kafka.Enabled() && (c.Kafka.StreamTopic == "" || c.Kafka.ScanTopic == "") {
		return errors.New("invalid config: kafka brokers set without topics")
	}
	if _, err := c.API.Base(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
