// Package dynamodb provides the DynamoDB-backed event store.
package dynamodb

import (
	"context"
	"errors"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// StatusIndexName is the GSI keyed by status with created_at as the
// range key, serving status-filtered listings newest first.
const StatusIndexName = "StatusIndex"

// IdempotencyIndexName is the GSI keyed by (user_id, idempotency_key)
// serving create deduplication lookups.
const IdempotencyIndexName = "IdempotencyIndex"

// Config contains DynamoDB connection configuration.
type Config struct {
	// Region is the AWS region.
	Region string

	// Endpoint is the DynamoDB endpoint (useful for local development).
	Endpoint string

	// QueryTimeout is the default timeout for queries.
	QueryTimeout time.Duration

	// EventsTableName is the table name for events.
	EventsTableName string
}

// DefaultConfig returns a sensible default configuration.
func DefaultConfig() Config {
	return Config{
		Region:          "us-east-1",
		QueryTimeout:    30 * time.Second,
		EventsTableName: "relay_events",
	}
}

// ConfigOption configures the DynamoDB connection.
type ConfigOption func(*Config)

// WithRegion sets the AWS region.
func WithRegion(region string) ConfigOption {
	return func(c *Config) {
		c.Region = region
	}
}

// WithEndpoint sets the DynamoDB endpoint (for local development).
func WithEndpoint(endpoint string) ConfigOption {
	return func(c *Config) {
		c.Endpoint = endpoint
	}
}

// WithQueryTimeout sets the default query timeout.
func WithQueryTimeout(d time.Duration) ConfigOption {
	return func(c *Config) {
		c.QueryTimeout = d
	}
}

// WithEventsTableName sets the events table name.
func WithEventsTableName(name string) ConfigOption {
	return func(c *Config) {
		c.EventsTableName = name
	}
}

// Client wraps a DynamoDB client with configuration.
type Client struct {
	client *dynamodb.Client
	config Config
}

// NewClient creates a new DynamoDB client.
func NewClient(ctx context.Context, opts ...ConfigOption) (*Client, error) {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
	)
	if err != nil {
		return nil, err
	}

	var ddbOpts []func(*dynamodb.Options)
	if cfg.Endpoint != "" {
		ddbOpts = append(ddbOpts, func(o *dynamodb.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}

	client := dynamodb.NewFromConfig(awsCfg, ddbOpts...)

	return &Client{
		client: client,
		config: cfg,
	}, nil
}

// DynamoDB returns the underlying DynamoDB client.
func (c *Client) DynamoDB() *dynamodb.Client {
	return c.client
}

// CreateEventsTable creates the events table and its indexes if they
// don't exist.
func (c *Client) CreateEventsTable(ctx context.Context) error {
	input := &dynamodb.CreateTableInput{
		TableName: aws.String(c.config.EventsTableName),
		KeySchema: []types.KeySchemaElement{
			{
				AttributeName: aws.String("id"),
				KeyType:       types.KeyTypeHash,
			},
		},
		AttributeDefinitions: []types.AttributeDefinition{
			{
				AttributeName: aws.String("id"),
				AttributeType: types.ScalarAttributeTypeS,
			},
			{
				AttributeName: aws.String("status"),
				AttributeType: types.ScalarAttributeTypeS,
			},
			{
				AttributeName: aws.String("created_at"),
				AttributeType: types.ScalarAttributeTypeS,
			},
			{
				AttributeName: aws.String("user_id"),
				AttributeType: types.ScalarAttributeTypeS,
			},
			{
				AttributeName: aws.String("idempotency_key"),
				AttributeType: types.ScalarAttributeTypeS,
			},
		},
		GlobalSecondaryIndexes: []types.GlobalSecondaryIndex{
			{
				IndexName: aws.String(StatusIndexName),
				KeySchema: []types.KeySchemaElement{
					{
						AttributeName: aws.String("status"),
						KeyType:       types.KeyTypeHash,
					},
					{
						AttributeName: aws.String("created_at"),
						KeyType:       types.KeyTypeRange,
					},
				},
				Projection: &types.Projection{
					ProjectionType: types.ProjectionTypeAll,
				},
			},
			{
				IndexName: aws.String(IdempotencyIndexName),
				KeySchema: []types.KeySchemaElement{
					{
						AttributeName: aws.String("user_id"),
						KeyType:       types.KeyTypeHash,
					},
					{
						AttributeName: aws.String("idempotency_key"),
						KeyType:       types.KeyTypeRange,
					},
				},
				Projection: &types.Projection{
					ProjectionType: types.ProjectionTypeAll,
				},
			},
		},
		BillingMode: types.BillingModePayPerRequest,
	}

	_, err := c.client.CreateTable(ctx, input)
	if err != nil {
		// Ignore error if table already exists
		var resourceInUse *types.ResourceInUseException
		if errors.As(err, &resourceInUse) {
			return nil
		}
		return err
	}

	// Wait for table to be active
	waiter := dynamodb.NewTableExistsWaiter(c.client)
	return waiter.Wait(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(c.config.EventsTableName),
	}, 2*time.Minute)
}
