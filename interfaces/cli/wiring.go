package cli

import (
	"context"
	"fmt"

	"github.com/felixgeelhaar/relay-go/domain/event"
	"github.com/felixgeelhaar/relay-go/infrastructure/config"
	"github.com/felixgeelhaar/relay-go/infrastructure/delivery"
	"github.com/felixgeelhaar/relay-go/infrastructure/logging"
	dynamostore "github.com/felixgeelhaar/relay-go/infrastructure/storage/dynamodb"
	"github.com/felixgeelhaar/relay-go/infrastructure/storage/memory"
)

// loadConfig reads the config file when one is given, falling back to
// environment variables.
func loadConfig(path string) (config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	return config.FromEnv()
}

// initLogging sets up the process logger from the configuration.
func initLogging(cfg config.LoggingConfig) {
	logging.Init(logging.Config{
		Level:  cfg.Level,
		Format: cfg.Format,
	})
}

// buildStore constructs the configured event store backend.
func buildStore(ctx context.Context, cfg config.StoreConfig) (event.Store, error) {
	switch cfg.Backend {
	case "memory":
		return memory.NewEventStore(), nil
	case "dynamodb":
		client, err := dynamostore.NewClient(ctx,
			dynamostore.WithRegion(cfg.Region),
			dynamostore.WithEndpoint(cfg.Endpoint),
			dynamostore.WithEventsTableName(cfg.Table),
			dynamostore.WithQueryTimeout(cfg.QueryTimeout),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create dynamodb client: %w", err)
		}
		return dynamostore.NewEventStore(client), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}

// buildSender constructs the webhook push client.
func buildSender(cfg config.DeliveryConfig) *delivery.Sender {
	return delivery.NewSender(delivery.SenderConfig{
		URL:     cfg.WebhookURL,
		Timeout: cfg.Timeout,
	})
}
