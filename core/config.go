package core

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration options for the monitoring core.
// It supports three-layer configuration priority:
//  1. Default values (lowest priority)
//  2. Environment variables (medium priority)
//  3. Functional options (highest priority)
//
// Example usage:
//
//	cfg, err := core.NewConfig(
//	    core.WithDatabaseURL("postgres://localhost/apimon"),
//	    core.WithMaxConcurrentChecks(100),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
type Config struct {
	// Name identifies this instance in logs and telemetry.
	Name string `yaml:"name"`

	// Database is the State Store backing configuration.
	Database DatabaseConfig `yaml:"database"`

	// Encryption configures the secret store key material.
	Encryption EncryptionConfig `yaml:"encryption"`

	// Monitoring configures the scheduler and prober.
	Monitoring MonitoringConfig `yaml:"monitoring"`

	// Alerting configures the alert engine and its sinks.
	Alerting AlertingConfig `yaml:"alerting"`

	// Retention configures the sweeper schedules and horizons.
	Retention RetentionConfig `yaml:"retention"`

	// Cache configures the optional Redis-backed stats cache.
	Cache CacheConfig `yaml:"cache"`

	// Server configures the admin/configuration-provider API.
	Server ServerConfig `yaml:"server"`

	// Logging configures the structured logger.
	Logging LoggingConfig `yaml:"logging"`

	// Telemetry configures metrics and spans.
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// DatabaseConfig points the State Store at PostgreSQL.
type DatabaseConfig struct {
	URL             string        `yaml:"url"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	// Migrate runs embedded schema migrations at startup.
	Migrate bool `yaml:"migrate"`
}

// KDFMode selects how the AES key is derived from the operator secret.
type KDFMode string

const (
	// KDFHKDF derives the key with HKDF-SHA256 and a context label, and
	// rejects secrets shorter than 16 bytes.
	KDFHKDF KDFMode = "hkdf"
	// KDFLegacy right-pads/truncates the secret to 32 bytes. Kept for
	// stores sealed by earlier deployments.
	KDFLegacy KDFMode = "legacy"
)

// EncryptionConfig carries the key material for the secret store.
type EncryptionConfig struct {
	Secret string  `yaml:"secret"`
	KDF    KDFMode `yaml:"kdf"`
}

// MonitoringConfig tunes the scheduler tick loop and worker pool.
type MonitoringConfig struct {
	TickInterval        time.Duration `yaml:"tick_interval"`
	MaxConcurrentChecks int           `yaml:"max_concurrent_checks"`
	ProbeGracePeriod    time.Duration `yaml:"probe_grace_period"`
	// UserAgent is sent with every probe request.
	UserAgent string `yaml:"user_agent"`
	// MaxBodyBytes caps how much of a response body the transport may read.
	MaxBodyBytes int64 `yaml:"max_body_bytes"`
}

// AlertingConfig tunes the alert engine gates and delivery pool.
type AlertingConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	DedupWindow      time.Duration `yaml:"dedup_window"`
	DeliveryWorkers  int           `yaml:"delivery_workers"`
	DeliveryGrace    time.Duration `yaml:"delivery_grace"`

	Email   EmailConfig   `yaml:"email"`
	Slack   SlackConfig   `yaml:"slack"`
	Webhook WebhookConfig `yaml:"webhook"`
}

// EmailConfig configures the SMTP sink. Email is disabled when Host is empty.
type EmailConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
	To       string `yaml:"to"`
}

// SlackConfig configures the Slack webhook sink.
type SlackConfig struct {
	Enabled    bool   `yaml:"enabled"`
	WebhookURL string `yaml:"webhook_url"`
}

// WebhookConfig configures the generic HTTP webhook sink, which POSTs the
// alert as JSON to the given URL.
type WebhookConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
}

// RetentionConfig controls the sweeper. Cron expressions use the standard
// five-field format.
type RetentionConfig struct {
	ResultsCron    string        `yaml:"results_cron"`
	AlertsCron     string        `yaml:"alerts_cron"`
	PlanCron       string        `yaml:"plan_cron"`
	ResultsMaxAge  time.Duration `yaml:"results_max_age"`
	AlertsMaxAge   time.Duration `yaml:"alerts_max_age"`
}

// CacheConfig configures the Redis-backed stats cache. The store falls back
// to direct queries when disabled.
type CacheConfig struct {
	Enabled  bool          `yaml:"enabled"`
	RedisURL string        `yaml:"redis_url"`
	TTL      time.Duration `yaml:"ttl"`
}

// ServerConfig configures the admin HTTP API.
type ServerConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Address         string        `yaml:"address"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" or "text"
}

// TelemetryConfig configures metrics and spans.
type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ServiceName string `yaml:"service_name"`
}

// Option is a functional option for configuring the core.
// Options are applied in order and can return an error if invalid.
type Option func(*Config) error

// DefaultConfig returns a configuration with sensible defaults. The defaults
// can be overridden using environment variables or functional options.
func DefaultConfig() *Config {
	return &Config{
		Name: "apimon",
		Database: DatabaseConfig{
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
			Migrate:         true,
		},
		Encryption: EncryptionConfig{
			KDF: KDFHKDF,
		},
		Monitoring: MonitoringConfig{
			TickInterval:        10 * time.Second,
			MaxConcurrentChecks: 100,
			ProbeGracePeriod:    60 * time.Second,
			UserAgent:           "apimon/1.0",
			MaxBodyBytes:        1 << 20, // 1 MiB safety cap
		},
		Alerting: AlertingConfig{
			FailureThreshold: 3,
			DedupWindow:      15 * time.Minute,
			DeliveryWorkers:  8,
			DeliveryGrace:    30 * time.Second,
			Email: EmailConfig{
				Port: 587,
				From: "noreply@apimon.velzox.com",
			},
		},
		Retention: RetentionConfig{
			ResultsCron:   "0 3 * * *",
			AlertsCron:    "30 3 * * *",
			PlanCron:      "0 */6 * * *",
			ResultsMaxAge: 30 * 24 * time.Hour,
			AlertsMaxAge:  90 * 24 * time.Hour,
		},
		Cache: CacheConfig{
			TTL: 60 * time.Second,
		},
		Server: ServerConfig{
			Address:         "0.0.0.0",
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Telemetry: TelemetryConfig{
			ServiceName: "apimon",
		},
	}
}

// NewConfig creates a configuration with defaults, environment variables, and
// then options applied, and validates the result.
func NewConfig(opts ...Option) (*Config, error) {
	cfg := DefaultConfig()

	if path := os.Getenv("APIMON_CONFIG_FILE"); path != "" {
		if err := cfg.LoadFromFile(path); err != nil {
			return nil, err
		}
	}
	cfg.LoadFromEnv()

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromFile overlays a YAML configuration file onto the current values.
func (c *Config) LoadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w: %v", path, ErrInvalidConfiguration, err)
	}
	return nil
}

// LoadFromEnv loads configuration from environment variables.
// Standard names (DATABASE_URL, ENCRYPTION_SECRET, MAIL_*) are honored first;
// APIMON_* variables cover the remaining knobs.
func (c *Config) LoadFromEnv() {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Database.URL = v
	}
	if v := os.Getenv("ENCRYPTION_SECRET"); v != "" {
		c.Encryption.Secret = v
	}
	if v := os.Getenv("ENCRYPTION_KDF"); v != "" {
		c.Encryption.KDF = KDFMode(strings.ToLower(v))
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		c.Cache.RedisURL = v
		c.Cache.Enabled = true
	}

	// Mail settings enable the email sink when a host is present.
	if v := os.Getenv("MAIL_HOST"); v != "" {
		c.Alerting.Email.Host = v
		c.Alerting.Email.Enabled = true
	}
	if v := os.Getenv("MAIL_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.Alerting.Email.Port = p
		}
	}
	if v := os.Getenv("MAIL_USERNAME"); v != "" {
		c.Alerting.Email.Username = v
	}
	if v := os.Getenv("MAIL_PASSWORD"); v != "" {
		c.Alerting.Email.Password = v
	}
	if v := os.Getenv("MAIL_FROM"); v != "" {
		c.Alerting.Email.From = v
	}
	if v := os.Getenv("MAIL_TO"); v != "" {
		c.Alerting.Email.To = v
	}
	if v := os.Getenv("SLACK_WEBHOOK_URL"); v != "" {
		c.Alerting.Slack.WebhookURL = v
		c.Alerting.Slack.Enabled = true
	}
	if v := os.Getenv("ALERT_WEBHOOK_URL"); v != "" {
		c.Alerting.Webhook.URL = v
		c.Alerting.Webhook.Enabled = true
	}

	if v := os.Getenv("APIMON_NAME"); v != "" {
		c.Name = v
	}
	if v := os.Getenv("APIMON_TICK_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Monitoring.TickInterval = d
		}
	}
	if v := os.Getenv("APIMON_MAX_CONCURRENT_CHECKS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Monitoring.MaxConcurrentChecks = n
		}
	}
	if v := os.Getenv("APIMON_FAILURE_THRESHOLD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Alerting.FailureThreshold = n
		}
	}
	if v := os.Getenv("APIMON_DEDUP_WINDOW"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Alerting.DedupWindow = d
		}
	}
	if v := os.Getenv("APIMON_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.Server.Port = p
		}
	}
	if v := os.Getenv("APIMON_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("APIMON_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
	if v := os.Getenv("APIMON_TELEMETRY_ENABLED"); v != "" {
		c.Telemetry.Enabled = parseBool(v)
	}
}

// Validate checks the configuration for conditions that must abort startup.
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("%w: DATABASE_URL", ErrMissingConfiguration)
	}
	if c.Encryption.Secret == "" {
		return fmt.Errorf("%w: ENCRYPTION_SECRET", ErrMissingConfiguration)
	}
	if c.Encryption.KDF != KDFHKDF && c.Encryption.KDF != KDFLegacy {
		return fmt.Errorf("%w: unknown KDF mode %q", ErrInvalidConfiguration, c.Encryption.KDF)
	}
	if c.Monitoring.TickInterval <= 0 {
		return fmt.Errorf("%w: tick interval must be positive", ErrInvalidConfiguration)
	}
	if c.Monitoring.MaxConcurrentChecks <= 0 {
		return fmt.Errorf("%w: max concurrent checks must be positive", ErrInvalidConfiguration)
	}
	if c.Alerting.FailureThreshold < 1 {
		return fmt.Errorf("%w: failure threshold must be at least 1", ErrInvalidConfiguration)
	}
	if c.Alerting.DedupWindow < 0 {
		return fmt.Errorf("%w: dedup window must not be negative", ErrInvalidConfiguration)
	}
	if c.Alerting.DeliveryWorkers <= 0 {
		return fmt.Errorf("%w: delivery workers must be positive", ErrInvalidConfiguration)
	}
	for _, expr := range []string{c.Retention.ResultsCron, c.Retention.AlertsCron, c.Retention.PlanCron} {
		if strings.TrimSpace(expr) == "" {
			return fmt.Errorf("%w: empty retention schedule", ErrInvalidConfiguration)
		}
	}
	return nil
}

// Functional options

// WithName sets the instance name.
func WithName(name string) Option {
	return func(c *Config) error {
		if name == "" {
			return fmt.Errorf("%w: name cannot be empty", ErrInvalidConfiguration)
		}
		c.Name = name
		return nil
	}
}

// WithDatabaseURL sets the State Store connection string.
func WithDatabaseURL(url string) Option {
	return func(c *Config) error {
		c.Database.URL = url
		return nil
	}
}

// WithEncryptionSecret sets the secret store key material.
func WithEncryptionSecret(secret string) Option {
	return func(c *Config) error {
		c.Encryption.Secret = secret
		return nil
	}
}

// WithKDFMode selects the key derivation mode.
func WithKDFMode(mode KDFMode) Option {
	return func(c *Config) error {
		c.Encryption.KDF = mode
		return nil
	}
}

// WithTickInterval sets the scheduler tick interval.
func WithTickInterval(d time.Duration) Option {
	return func(c *Config) error {
		if d <= 0 {
			return fmt.Errorf("%w: tick interval must be positive", ErrInvalidConfiguration)
		}
		c.Monitoring.TickInterval = d
		return nil
	}
}

// WithMaxConcurrentChecks bounds the probe worker pool.
func WithMaxConcurrentChecks(n int) Option {
	return func(c *Config) error {
		if n <= 0 {
			return fmt.Errorf("%w: max concurrent checks must be positive", ErrInvalidConfiguration)
		}
		c.Monitoring.MaxConcurrentChecks = n
		return nil
	}
}

// WithFailureThreshold sets the minimum consecutive failures before a
// failure alert may be emitted.
func WithFailureThreshold(n int) Option {
	return func(c *Config) error {
		if n < 1 {
			return fmt.Errorf("%w: failure threshold must be at least 1", ErrInvalidConfiguration)
		}
		c.Alerting.FailureThreshold = n
		return nil
	}
}

// WithDedupWindow sets the alert deduplication window.
func WithDedupWindow(d time.Duration) Option {
	return func(c *Config) error {
		if d < 0 {
			return fmt.Errorf("%w: dedup window must not be negative", ErrInvalidConfiguration)
		}
		c.Alerting.DedupWindow = d
		return nil
	}
}

// WithRedisCache enables the Redis-backed stats cache.
func WithRedisCache(redisURL string) Option {
	return func(c *Config) error {
		c.Cache.Enabled = true
		c.Cache.RedisURL = redisURL
		return nil
	}
}

func parseBool(v string) bool {
	switch strings.ToLower(v) {
	case "1", "t", "true", "yes", "on":
		return true
	}
	return false
}
