// Package config handles YAML configuration loading with environment
// variable expansion and overrides.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.yaml.in/yaml/v3"
)

// Config is the top-level gateway configuration, frozen at startup and
// passed explicitly to components.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Upstream  UpstreamConfig  `yaml:"upstream"`
	Database  DatabaseConfig  `yaml:"database"`
	Domains   DomainConfig    `yaml:"domains"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Cache     CacheConfig     `yaml:"cache"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	BindAddress     string        `yaml:"bind_address"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"` // 0 = unlimited, long streams
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Addr returns the listen address in host:port form.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.BindAddress, s.Port)
}

// UpstreamConfig holds the message-store client settings.
type UpstreamConfig struct {
	APIID          int    `yaml:"api_id"`
	APIHash        string `yaml:"api_hash"`
	BotToken       string `yaml:"bot_token"`
	ExtraTokens    []string `yaml:"extra_tokens"` // additional identities for the pool
	MultiClient    bool   `yaml:"multi_client"`
	Workers        int    `yaml:"workers"` // identity pool size cap
	ArchiveChannel int64  `yaml:"archive_channel"`
	// EndpointTemplate expands a data-center ID into a base URL,
	// e.g. "https://dc%d.store.example".
	EndpointTemplate string        `yaml:"endpoint_template"`
	SleepThreshold   time.Duration `yaml:"sleep_threshold"`
	PingInterval     time.Duration `yaml:"ping_interval"`
	OwnerIDs         []int64       `yaml:"owner_ids"`
}

// BotTokens returns the identity credentials the pool should hold.
// With multi-client off, only the primary token is used.
func (u UpstreamConfig) BotTokens() []string {
	tokens := []string{u.BotToken}
	if u.MultiClient {
		tokens = append(tokens, u.ExtraTokens...)
	}
	if u.Workers > 0 && len(tokens) > u.Workers {
		tokens = tokens[:u.Workers]
	}
	return tokens
}

// DatabaseConfig holds link store settings. An empty DSN selects the
// in-memory fallback.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

// DomainConfig controls public URL construction. When ServeDomain is
// set, this instance advertises URLs for exactly that domain tag and
// refuses tokens tagged for the other.
type DomainConfig struct {
	FQDN        string `yaml:"fqdn"`
	HasSSL      bool   `yaml:"has_ssl"`
	ServeDomain string `yaml:"serve_domain"` // "web", "webx", or ""
	WebHost     string `yaml:"web_host"`
	WebxHost    string `yaml:"webx_host"`
}

// Host returns the host this instance advertises in generated URLs.
func (d DomainConfig) Host() string {
	switch d.ServeDomain {
	case "web":
		if d.WebHost != "" {
			return d.WebHost
		}
	case "webx":
		if d.WebxHost != "" {
			return d.WebxHost
		}
	}
	return d.FQDN
}

// RateLimitConfig holds the per-IP download API limiter settings.
type RateLimitConfig struct {
	MaxConcurrentPerIP int           `yaml:"max_concurrent_per_ip"`
	Window             time.Duration `yaml:"window"`
	MinGap             time.Duration `yaml:"min_gap"`
}

// CacheConfig holds descriptor cache settings.
type CacheConfig struct {
	MaxSize       int           `yaml:"max_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// TelemetryConfig holds observability settings.
type TelemetryConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
}

// MetricsConfig controls Prometheus metrics.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// TracingConfig controls OpenTelemetry tracing.
type TracingConfig struct {
	Enabled    bool    `yaml:"enabled"`
	Endpoint   string  `yaml:"endpoint"`    // OTLP gRPC endpoint
	SampleRate float64 `yaml:"sample_rate"` // 0.0 to 1.0
}

var envPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnv replaces ${VAR} patterns with environment variable values.
func expandEnv(data []byte) []byte {
	return envPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		varName := string(match[2 : len(match)-1])
		if val, ok := os.LookupEnv(varName); ok {
			return []byte(val)
		}
		return match
	})
}

// defaults returns the built-in configuration.
func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			BindAddress:     "0.0.0.0",
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Upstream: UpstreamConfig{
			Workers:          4,
			EndpointTemplate: "https://dc%d.store.invalid",
			SleepThreshold:   60 * time.Second,
			PingInterval:     20 * time.Minute,
		},
		RateLimit: RateLimitConfig{
			MaxConcurrentPerIP: 2,
			Window:             60 * time.Second,
			MinGap:             5 * time.Second,
		},
		Cache: CacheConfig{
			MaxSize:       10_000,
			FlushInterval: 30 * time.Minute,
		},
	}
}

// Load builds the configuration: defaults, then the optional YAML file
// (with ${VAR} expansion), then environment overrides. A missing file
// is not an error -- the gateway can run entirely from the environment.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// fall through to env
		case err != nil:
			return nil, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(expandEnv(data), cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	applyEnv(cfg)
	return cfg, nil
}

// applyEnv overrides config values from the recognized environment keys.
func applyEnv(cfg *Config) {
	envInt("API_ID", &cfg.Upstream.APIID)
	envStr("API_HASH", &cfg.Upstream.APIHash)
	envStr("BOT_TOKEN", &cfg.Upstream.BotToken)
	envInt64("BIN_CHANNEL", &cfg.Upstream.ArchiveChannel)
	envBool("MULTI_CLIENT", &cfg.Upstream.MultiClient)
	envInt("WORKERS", &cfg.Upstream.Workers)
	envSeconds("SLEEP_THRESHOLD", &cfg.Upstream.SleepThreshold)
	envSeconds("PING_INTERVAL", &cfg.Upstream.PingInterval)

	envStr("DATABASE_URL", &cfg.Database.DSN)

	envInt("PORT", &cfg.Server.Port)
	envStr("BIND_ADDRESS", &cfg.Server.BindAddress)

	envStr("FQDN", &cfg.Domains.FQDN)
	envBool("HAS_SSL", &cfg.Domains.HasSSL)
	envStr("SERVE_DOMAIN", &cfg.Domains.ServeDomain)
	envStr("DUAL_DOMAIN_WEB", &cfg.Domains.WebHost)
	envStr("DUAL_DOMAIN_WEBX", &cfg.Domains.WebxHost)

	if v, ok := os.LookupEnv("OWNER_ID"); ok {
		cfg.Upstream.OwnerIDs = nil
		for _, f := range strings.Fields(v) {
			if id, err := strconv.ParseInt(f, 10, 64); err == nil {
				cfg.Upstream.OwnerIDs = append(cfg.Upstream.OwnerIDs, id)
			}
		}
	}
}

func envStr(key string, dst *string) {
	if v, ok := os.LookupEnv(key); ok {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envInt64(key string, dst *int64) {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func envBool(key string, dst *bool) {
	if v, ok := os.LookupEnv(key); ok {
		*dst = v == "True" || v == "true" || v == "1"
	}
}

func envSeconds(key string, dst *time.Duration) {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = time.Duration(n) * time.Second
		}
	}
}
