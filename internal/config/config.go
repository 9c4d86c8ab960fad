// Package config loads service configuration from YAML or TOML files and the environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config is the complete service configuration
type Config struct {
	Server   ServerConfig   `yaml:"server" toml:"server"`
	Store    StoreConfig    `yaml:"store" toml:"store"`
	Lock     LockConfig     `yaml:"lock" toml:"lock"`
	Events   EventsConfig   `yaml:"events" toml:"events"`
	Logging  LoggingConfig  `yaml:"logging" toml:"logging"`
	Resolver ResolverConfig `yaml:"resolver" toml:"resolver"`
}

// ServerConfig holds HTTP listener settings
type ServerConfig struct {
	Port            string        `yaml:"port" toml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout" toml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout" toml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" toml:"shutdown_timeout"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes" toml:"max_body_bytes"`
}

// StoreConfig selects the contact store. Driver is one of sqlite3, postgres, memory, file.
// DSN is a file path for sqlite3 and file, a connection URL for postgres.
type StoreConfig struct {
	Driver string `yaml:"driver" toml:"driver"`
	DSN    string `yaml:"dsn" toml:"dsn"`
}

// LockConfig selects the identity lock backend: local or redis.
type LockConfig struct {
	Backend      string        `yaml:"backend" toml:"backend"`
	RedisURL     string        `yaml:"redis_url" toml:"redis_url"`
	TTL          time.Duration `yaml:"ttl" toml:"ttl"`
	PollInterval time.Duration `yaml:"poll_interval" toml:"poll_interval"`
}

// EventsConfig configures domain event publishing. An empty broker list logs events instead.
type EventsConfig struct {
	KafkaBrokers   []string      `yaml:"kafka_brokers" toml:"kafka_brokers"`
	Topic          string        `yaml:"topic" toml:"topic"`
	PublishTimeout time.Duration `yaml:"publish_timeout" toml:"publish_timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// ResolverConfig bounds a single identify call.
type ResolverConfig struct {
	MaxAttempts int           `yaml:"max_attempts" toml:"max_attempts"`
	Timeout     time.Duration `yaml:"timeout" toml:"timeout"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            "8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			MaxBodyBytes:    1 << 20,
		},
		Store: StoreConfig{
			Driver: "sqlite3",
			DSN:    "./bitespeed.db",
		},
		Lock: LockConfig{
			Backend:      "local",
			TTL:          10 * time.Second,
			PollInterval: 25 * time.Millisecond,
		},
		Events: EventsConfig{
			Topic:          "identity.contacts",
			PublishTimeout: 2 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Resolver: ResolverConfig{
			MaxAttempts: 3,
			Timeout:     5 * time.Second,
		},
	}
}

var envPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads a configuration file on top of Default. The format follows the file extension
// (.yaml/.yml or .toml). Environment variables written as ${VAR_NAME} are expanded first.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := envPattern.ReplaceAllStringFunc(string(data), func(match string) string {
		return os.Getenv(envPattern.FindStringSubmatch(match)[1])
	})

	cfg := Default()
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parsing yaml config: %w", err)
		}
	case ".toml":
		if _, err := toml.Decode(expanded, cfg); err != nil {
			return nil, fmt.Errorf("parsing toml config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config format %q", ext)
	}

	return cfg, nil
}

// ApplyEnv overrides fields from well-known environment variables.
func (c *Config) ApplyEnv() {
	c.Server.Port = getEnv("PORT", c.Server.Port)
	c.Store.Driver = getEnv("STORE_DRIVER", c.Store.Driver)
	c.Store.DSN = getEnv("DATABASE_URL", c.Store.DSN)
	c.Lock.Backend = getEnv("LOCK_BACKEND", c.Lock.Backend)
	c.Lock.RedisURL = getEnv("REDIS_URL", c.Lock.RedisURL)
	c.Events.KafkaBrokers = getSliceEnv("KAFKA_BROKERS", c.Events.KafkaBrokers)
	c.Events.Topic = getEnv("KAFKA_TOPIC", c.Events.Topic)
	c.Events.PublishTimeout = getDuration("EVENTS_PUBLISH_TIMEOUT", c.Events.PublishTimeout)
	c.Logging.Level = getEnv("LOG_LEVEL", c.Logging.Level)
	c.Logging.Format = getEnv("LOG_FORMAT", c.Logging.Format)
	c.Resolver.MaxAttempts = getIntEnv("RESOLVER_MAX_ATTEMPTS", c.Resolver.MaxAttempts)
	c.Resolver.Timeout = getDuration("RESOLVER_TIMEOUT", c.Resolver.Timeout)
}

// Validate rejects unknown enum values and unusable bounds.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "sqlite3", "postgres", "memory", "file":
	default:
		return fmt.Errorf("store.driver: unknown driver %q", c.Store.Driver)
	}
	if c.Store.Driver != "memory" && c.Store.DSN == "" {
		return fmt.Errorf("store.dsn: required for driver %q", c.Store.Driver)
	}
	switch c.Lock.Backend {
	case "local":
	case "redis":
		if c.Lock.RedisURL == "" {
			return fmt.Errorf("lock.redis_url: required for redis backend")
		}
	default:
		return fmt.Errorf("lock.backend: unknown backend %q", c.Lock.Backend)
	}
	if c.Resolver.MaxAttempts < 1 {
		return fmt.Errorf("resolver.max_attempts: must be at least 1")
	}
	if c.Logging.Format != "json" && c.Logging.Format != "text" {
		return fmt.Errorf("logging.format: unknown format %q", c.Logging.Format)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getSliceEnv(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
