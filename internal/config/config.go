// Package config loads and validates the harvester service configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/socialharvest/harvester/internal/domain"
)

const (
	defaultServerAddress   = ":8080"
	defaultReadTimeout     = 10 * time.Second
	defaultWriteTimeout    = 30 * time.Second
	defaultShutdownTimeout = 30 * time.Second

	defaultPollInterval   = 30 * time.Second
	defaultPollBatchSize  = 50
	defaultStaleAfter     = 15 * time.Minute
	defaultRequestTimeout = 15 * time.Second

	defaultQueueKey      = "harvester:webhook:deliveries"
	defaultQueueAttempts = 3
)

// Config is the top-level service configuration.
type Config struct {
	Debug        bool               `yaml:"debug"`
	Server       ServerConfig       `yaml:"server"`
	Database     DatabaseConfig     `yaml:"database"`
	Redis        RedisConfig        `yaml:"redis"`
	Provider     ProviderConfig     `yaml:"provider"`
	Webhook      WebhookConfig      `yaml:"webhook"`
	Poller       PollerConfig       `yaml:"poller"`
	Capabilities CapabilitiesConfig `yaml:"capabilities"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Address      string        `yaml:"address"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	CORSOrigins  []string      `yaml:"cors_origins"`
}

// DatabaseConfig configures the PostgreSQL connection.
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
}

// RedisConfig configures the Redis connection and the webhook delivery queue.
type RedisConfig struct {
	Addr          string `yaml:"addr"`
	Password      string `yaml:"password"`
	DB            int    `yaml:"db"`
	QueueKey      string `yaml:"queue_key"`
	QueueAttempts int    `yaml:"queue_attempts"`
}

// ProviderConfig configures the external scraping provider client.
type ProviderConfig struct {
	BaseURL        string        `yaml:"base_url"`
	Token          string        `yaml:"token"`
	CallbackURL    string        `yaml:"callback_url"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// WebhookConfig configures the inbound result callback endpoint.
type WebhookConfig struct {
	Token string `yaml:"token"`
}

// PollerConfig configures the reconciliation poller. StaleAfter is the age at
// which a dispatched request still awaiting results counts as stale in stats.
type PollerConfig struct {
	Interval   time.Duration `yaml:"interval"`
	BatchSize  int           `yaml:"batch_size"`
	StaleAfter time.Duration `yaml:"stale_after"`
}

// CapabilityConfig is one enabled platform/service combination.
type CapabilityConfig struct {
	Platform  string `yaml:"platform"`
	Service   string `yaml:"service"`
	DatasetID string `yaml:"dataset_id"`
}

// CapabilitiesConfig is the versioned capability table, loaded at startup and
// validated against at job-creation time.
type CapabilitiesConfig struct {
	Version int                `yaml:"version"`
	Enabled []CapabilityConfig `yaml:"enabled"`
}

// Load reads the YAML config at path, applies defaults and environment
// overrides, and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	setDefaults(&cfg)
	overrideWithEnvVars(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// Validate checks the configuration for missing required values.
func (c *Config) Validate() error {
	if c.Database.Host == "" {
		return errors.New("database.host is required")
	}
	if c.Database.DBName == "" {
		return errors.New("database.dbname is required")
	}
	if c.Redis.Addr == "" {
		return errors.New("redis.addr is required")
	}
	if c.Provider.BaseURL == "" {
		return errors.New("provider.base_url is required")
	}
	if c.Provider.Token == "" {
		return errors.New("provider.token is required")
	}
	if c.Webhook.Token == "" {
		return errors.New("webhook.token is required")
	}
	if c.Poller.Interval <= 0 {
		return fmt.Errorf("poller.interval must be positive, got %v", c.Poller.Interval)
	}
	if len(c.Capabilities.Enabled) == 0 {
		return errors.New("capabilities.enabled must list at least one platform/service")
	}
	for i, capability := range c.Capabilities.Enabled {
		if capability.Platform == "" || capability.Service == "" || capability.DatasetID == "" {
			return fmt.Errorf("capabilities.enabled[%d]: platform, service and dataset_id are required", i)
		}
	}
	return nil
}

// CapabilitySet builds the domain capability table from config.
func (c *Config) CapabilitySet() (*domain.CapabilitySet, error) {
	caps := make([]domain.Capability, 0, len(c.Capabilities.Enabled))
	for _, entry := range c.Capabilities.Enabled {
		caps = append(caps, domain.Capability{
			Platform:  entry.Platform,
			Service:   entry.Service,
			DatasetID: entry.DatasetID,
		})
	}
	return domain.NewCapabilitySet(c.Capabilities.Version, caps)
}

func setDefaults(cfg *Config) {
	if cfg.Server.Address == "" {
		cfg.Server.Address = defaultServerAddress
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = defaultReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = defaultWriteTimeout
	}
	if cfg.Database.Port == "" {
		cfg.Database.Port = "5432"
	}
	if cfg.Database.User == "" {
		cfg.Database.User = "postgres"
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Redis.QueueKey == "" {
		cfg.Redis.QueueKey = defaultQueueKey
	}
	if cfg.Redis.QueueAttempts == 0 {
		cfg.Redis.QueueAttempts = defaultQueueAttempts
	}
	if cfg.Provider.RequestTimeout == 0 {
		cfg.Provider.RequestTimeout = defaultRequestTimeout
	}
	if cfg.Poller.Interval == 0 {
		cfg.Poller.Interval = defaultPollInterval
	}
	if cfg.Poller.BatchSize == 0 {
		cfg.Poller.BatchSize = defaultPollBatchSize
	}
	if cfg.Poller.StaleAfter == 0 {
		cfg.Poller.StaleAfter = defaultStaleAfter
	}
}

func overrideWithEnvVars(cfg *Config) {
	if v := os.Getenv("HARVESTER_DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("HARVESTER_DB_PORT"); v != "" {
		cfg.Database.Port = v
	}
	if v := os.Getenv("HARVESTER_DB_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("HARVESTER_DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("HARVESTER_DB_NAME"); v != "" {
		cfg.Database.DBName = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("PROVIDER_BASE_URL"); v != "" {
		cfg.Provider.BaseURL = v
	}
	if v := os.Getenv("PROVIDER_TOKEN"); v != "" {
		cfg.Provider.Token = v
	}
	if v := os.Getenv("PROVIDER_CALLBACK_URL"); v != "" {
		cfg.Provider.CallbackURL = v
	}
	if v := os.Getenv("WEBHOOK_TOKEN"); v != "" {
		cfg.Webhook.Token = v
	}
	if v := os.Getenv("HARVESTER_PORT"); v != "" {
		cfg.Server.Address = ":" + v
	}
	if v := os.Getenv("APP_DEBUG"); v != "" {
		cfg.Debug = parseBool(v)
	}
	if v := os.Getenv("POLL_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Poller.Interval = d
		}
	}
	if v := os.Getenv("POLL_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Poller.BatchSize = n
		}
	}
}

// parseBool accepts "true", "1" and "yes" (case-insensitive).
func parseBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "true" || s == "1" || s == "yes"
}
