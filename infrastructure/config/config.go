// Package config provides configuration loading for the relay
// service. Configuration is constructed once at process start and
// passed into component constructors; there is no ambient global.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config is the full service configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Store    StoreConfig    `yaml:"store"`
	Queue    QueueConfig    `yaml:"queue"`
	Delivery DeliveryConfig `yaml:"delivery"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	// Addr is the listen address, e.g. ":8080".
	Addr string `yaml:"addr"`

	// ReadTimeout bounds request reads.
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// WriteTimeout bounds response writes.
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// StoreConfig selects and configures the event store backend.
type StoreConfig struct {
	// Backend is "dynamodb" or "memory".
	Backend string `yaml:"backend"`

	// Region is the AWS region.
	Region string `yaml:"region"`

	// Endpoint overrides the DynamoDB endpoint for local development.
	Endpoint string `yaml:"endpoint"`

	// Table is the events table name.
	Table string `yaml:"table"`

	// QueryTimeout bounds individual store calls.
	QueryTimeout time.Duration `yaml:"query_timeout"`
}

// QueueConfig configures the SQS retry queue.
type QueueConfig struct {
	// URL is the queue URL. Empty disables the queue (failed pushes
	// stay pending until replayed).
	URL string `yaml:"url"`

	// Region is the AWS region.
	Region string `yaml:"region"`

	// Endpoint overrides the SQS endpoint for local development.
	Endpoint string `yaml:"endpoint"`

	// WaitTime is the long-poll duration for the consumer.
	WaitTime time.Duration `yaml:"wait_time"`

	// BatchSize is messages per receive, at most 10.
	BatchSize int `yaml:"batch_size"`
}

// DeliveryConfig configures the outbound webhook client.
type DeliveryConfig struct {
	// WebhookURL is the consumer endpoint.
	WebhookURL string `yaml:"webhook_url"`

	// Timeout bounds one delivery attempt.
	Timeout time.Duration `yaml:"timeout"`

	// RetryMaxAttempts is delivery attempts per queued message.
	RetryMaxAttempts int `yaml:"retry_max_attempts"`

	// RetryInitialDelay is the backoff starting delay.
	RetryInitialDelay time.Duration `yaml:"retry_initial_delay"`

	// RetryMultiplier is the exponential backoff multiplier.
	RetryMultiplier float64 `yaml:"retry_multiplier"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	// Level is the minimum log level.
	Level string `yaml:"level"`

	// Format is "json" or "console".
	Format string `yaml:"format"`
}

// Default returns the baseline configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Store: StoreConfig{
			Backend:      "dynamodb",
			Region:       "us-east-1",
			Table:        "relay_events",
			QueryTimeout: 30 * time.Second,
		},
		Queue: QueueConfig{
			Region:    "us-east-1",
			WaitTime:  20 * time.Second,
			BatchSize: 10,
		},
		Delivery: DeliveryConfig{
			Timeout:           10 * time.Second,
			RetryMaxAttempts:  5,
			RetryInitialDelay: 1 * time.Second,
			RetryMultiplier:   2.0,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case "dynamodb", "memory":
	default:
		return fmt.Errorf("store.backend must be dynamodb or memory, got %q", c.Store.Backend)
	}
	if c.Store.Backend == "dynamodb" && c.Store.Table == "" {
		return fmt.Errorf("store.table is required for the dynamodb backend")
	}
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr must not be empty")
	}
	if c.Queue.BatchSize < 0 || c.Queue.BatchSize > 10 {
		return fmt.Errorf("queue.batch_size must be between 1 and 10, got %d", c.Queue.BatchSize)
	}
	if c.Delivery.RetryMaxAttempts < 1 {
		return fmt.Errorf("delivery.retry_max_attempts must be at least 1, got %d", c.Delivery.RetryMaxAttempts)
	}
	if c.Delivery.RetryMultiplier < 1 {
		return fmt.Errorf("delivery.retry_multiplier must be at least 1, got %v", c.Delivery.RetryMultiplier)
	}
	return nil
}

// FromEnv builds a configuration from environment variables on top of
// the defaults, for deployments without a config file.
func FromEnv() (Config, error) {
	cfg := Default()

	setStr := func(dst *string, key string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}
	setDur := func(dst *time.Duration, key string) error {
		v, ok := os.LookupEnv(key)
		if !ok {
			return nil
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = d
		return nil
	}
	setInt := func(dst *int, key string) error {
		v, ok := os.LookupEnv(key)
		if !ok {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = n
		return nil
	}

	setStr(&cfg.Server.Addr, "RELAY_SERVER_ADDR")
	setStr(&cfg.Store.Backend, "RELAY_STORE_BACKEND")
	setStr(&cfg.Store.Region, "RELAY_AWS_REGION")
	setStr(&cfg.Store.Endpoint, "RELAY_DYNAMODB_ENDPOINT")
	setStr(&cfg.Store.Table, "RELAY_EVENTS_TABLE")
	setStr(&cfg.Queue.URL, "RELAY_QUEUE_URL")
	setStr(&cfg.Queue.Region, "RELAY_AWS_REGION")
	setStr(&cfg.Queue.Endpoint, "RELAY_SQS_ENDPOINT")
	setStr(&cfg.Delivery.WebhookURL, "RELAY_WEBHOOK_URL")
	setStr(&cfg.Logging.Level, "RELAY_LOG_LEVEL")
	setStr(&cfg.Logging.Format, "RELAY_LOG_FORMAT")

	if err := setDur(&cfg.Delivery.Timeout, "RELAY_DELIVERY_TIMEOUT"); err != nil {
		return cfg, err
	}
	if err := setDur(&cfg.Store.QueryTimeout, "RELAY_STORE_QUERY_TIMEOUT"); err != nil {
		return cfg, err
	}
	if err := setInt(&cfg.Queue.BatchSize, "RELAY_QUEUE_BATCH_SIZE"); err != nil {
		return cfg, err
	}
	if err := setInt(&cfg.Delivery.RetryMaxAttempts, "RELAY_RETRY_MAX_ATTEMPTS"); err != nil {
		return cfg, err
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}
