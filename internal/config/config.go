// Package config provides configuration management for kmstore.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for kmstore.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Remote      RemoteConfig      `mapstructure:"remote"`
	Store       StoreConfig       `mapstructure:"store"`
	Idempotency IdempotencyConfig `mapstructure:"idempotency"`
	RateLimiter RateLimiterConfig `mapstructure:"rate_limiter"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
	Health      HealthConfig      `mapstructure:"health"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	MaxBodyBytes    int64         `mapstructure:"max_body_bytes"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
}

// RemoteConfig selects the storage backend holding the JSON files.
type RemoteConfig struct {
	// Backend is ftp, ftps, s3, file, memory or a DSN of one of them.
	Backend               string        `mapstructure:"backend"`
	Host                  string        `mapstructure:"host"`
	Port                  int           `mapstructure:"port"`
	User                  string        `mapstructure:"user"`
	Password              string        `mapstructure:"password"`
	Secure                bool          `mapstructure:"secure"`
	TLSRejectUnauthorized bool          `mapstructure:"tls_reject_unauthorized"`
	TLSInsecure           bool          `mapstructure:"tls_insecure"`
	BaseDir               string        `mapstructure:"base_dir"`
	Timeout               time.Duration `mapstructure:"timeout"`
	ScratchDir            string        `mapstructure:"scratch_dir"`
	Root                  string        `mapstructure:"root"`
	Bucket                string        `mapstructure:"bucket"`
	Region                string        `mapstructure:"region"`
	Endpoint              string        `mapstructure:"endpoint"`
	PathStyle             bool          `mapstructure:"path_style"`
}

// StoreConfig holds record store configuration.
type StoreConfig struct {
	YearReadConcurrency int `mapstructure:"year_read_concurrency"`
}

// IdempotencyConfig holds idempotency store configuration.
type IdempotencyConfig struct {
	Backend    string        `mapstructure:"backend"`
	TTL        time.Duration `mapstructure:"ttl"`
	MaxEntries int           `mapstructure:"max_entries"`
	Redis      RedisConfig   `mapstructure:"redis"`
}

// RedisConfig holds Redis configuration.
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// RateLimiterConfig holds rate limiter configuration.
type RateLimiterConfig struct {
	Enabled           bool    `mapstructure:"enabled"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	BurstSize         int     `mapstructure:"burst_size"`
}

// MetricsConfig holds Prometheus metrics configuration.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    int    `mapstructure:"port"`
	Path    string `mapstructure:"path"`
}

// HealthConfig holds health check configuration.
type HealthConfig struct {
	Interval    time.Duration `mapstructure:"interval"`
	Timeout     time.Duration `mapstructure:"timeout"`
	PendingWarn int           `mapstructure:"pending_warn"`
	// GRPCPort serves the standard gRPC health service when > 0.
	GRPCPort int `mapstructure:"grpc_port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// legacyEnv maps config keys to the environment variables deployments
// already set. KMSTORE_* variables take precedence over these.
var legacyEnv = map[string][]string{
	"remote.host":                    {"FTP_HOST"},
	"remote.user":                    {"FTP_USER"},
	"remote.password":                {"FTP_PASS", "FTP_PASSWORD"},
	"remote.port":                    {"FTP_PORT"},
	"remote.secure":                  {"FTP_SECURE"},
	"remote.tls_reject_unauthorized": {"FTP_TLS_REJECT_UNAUTH"},
	"remote.tls_insecure":            {"FTP_TLS_INSECURE"},
	"remote.base_dir":                {"KM_FTP_DIR", "FTP_BASE_DIR"},
	"logging.level":                  {"LOG_LEVEL"},
	"logging.format":                 {"LOG_FORMAT"},
}

// Load reads configuration from file and environment variables.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Read config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/kmstore/")
	}

	// Read environment variables
	v.SetEnvPrefix("KMSTORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, names := range legacyEnv {
		if err := v.BindEnv(append([]string{key}, names...)...); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}

	// Read config file (ignore if not found, use defaults/env)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.Remote.Host = strings.TrimSpace(cfg.Remote.Host)
	cfg.Remote.User = strings.TrimSpace(cfg.Remote.User)
	cfg.Remote.Password = strings.TrimSpace(cfg.Remote.Password)
	cfg.Remote.BaseDir = strings.TrimSpace(cfg.Remote.BaseDir)

	// Validate config
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "90s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.request_timeout", "60s")
	v.SetDefault("server.max_body_bytes", 1<<20)
	v.SetDefault("server.allowed_origins", []string{"*"})

	// Remote defaults
	v.SetDefault("remote.backend", "ftp")
	v.SetDefault("remote.host", "")
	v.SetDefault("remote.port", 21)
	v.SetDefault("remote.user", "")
	v.SetDefault("remote.password", "")
	v.SetDefault("remote.secure", false)
	v.SetDefault("remote.tls_reject_unauthorized", true)
	v.SetDefault("remote.tls_insecure", false)
	v.SetDefault("remote.base_dir", "/kilometrage")
	v.SetDefault("remote.timeout", "30s")
	v.SetDefault("remote.scratch_dir", "")
	v.SetDefault("remote.root", "")
	v.SetDefault("remote.bucket", "")
	v.SetDefault("remote.region", "")
	v.SetDefault("remote.endpoint", "")
	v.SetDefault("remote.path_style", false)

	// Store defaults
	v.SetDefault("store.year_read_concurrency", 1)

	// Idempotency defaults
	v.SetDefault("idempotency.backend", "memory")
	v.SetDefault("idempotency.ttl", "24h")
	v.SetDefault("idempotency.max_entries", 10000)
	v.SetDefault("idempotency.redis.host", "localhost")
	v.SetDefault("idempotency.redis.port", 6379)
	v.SetDefault("idempotency.redis.password", "")
	v.SetDefault("idempotency.redis.db", 0)

	// Rate limiter defaults
	v.SetDefault("rate_limiter.enabled", true)
	v.SetDefault("rate_limiter.requests_per_second", 100.0)
	v.SetDefault("rate_limiter.burst_size", 50)

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9090)
	v.SetDefault("metrics.path", "/metrics")

	// Health defaults
	v.SetDefault("health.interval", "30s")
	v.SetDefault("health.timeout", "10s")
	v.SetDefault("health.pending_warn", 100)
	v.SetDefault("health.grpc_port", 0)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate checks if the configuration is valid. FTP credentials are not
// checked here; a missing one fails the first remote operation instead.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Server.MaxBodyBytes <= 0 {
		return fmt.Errorf("server max body bytes must be positive")
	}

	if c.Remote.Timeout <= 0 {
		return fmt.Errorf("remote timeout must be positive")
	}

	if c.Remote.Port <= 0 || c.Remote.Port > 65535 {
		return fmt.Errorf("invalid remote port: %d", c.Remote.Port)
	}

	if c.Store.YearReadConcurrency < 1 || c.Store.YearReadConcurrency > 12 {
		return fmt.Errorf("store year read concurrency must be between 1 and 12")
	}

	switch c.Idempotency.Backend {
	case "none", "memory":
	case "redis":
		if c.Idempotency.Redis.Host == "" {
			return fmt.Errorf("redis host is required for the redis idempotency backend")
		}
	default:
		return fmt.Errorf("unsupported idempotency backend: %s", c.Idempotency.Backend)
	}

	if c.Idempotency.Backend != "none" && c.Idempotency.TTL <= 0 {
		return fmt.Errorf("idempotency ttl must be positive")
	}

	if c.RateLimiter.Enabled {
		if c.RateLimiter.RequestsPerSecond <= 0 {
			return fmt.Errorf("rate limiter requests per second must be positive")
		}
		if c.RateLimiter.BurstSize <= 0 {
			return fmt.Errorf("rate limiter burst size must be positive")
		}
	}

	if c.Metrics.Enabled {
		if c.Metrics.Port <= 0 || c.Metrics.Port > 65535 {
			return fmt.Errorf("invalid metrics port: %d", c.Metrics.Port)
		}
	}

	if c.Health.GRPCPort < 0 || c.Health.GRPCPort > 65535 {
		return fmt.Errorf("invalid health grpc port: %d", c.Health.GRPCPort)
	}

	return nil
}
