// Package sqs provides the SQS-backed retry queue and its consumer
// loop.
package sqs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/felixgeelhaar/relay-go/domain/event"
)

// Config contains SQS connection configuration.
type Config struct {
	// Region is the AWS region.
	Region string

	// Endpoint is the SQS endpoint (useful for local development).
	Endpoint string

	// QueueURL is the retry queue URL.
	QueueURL string

	// WaitTime is the long-poll duration for receives.
	WaitTime time.Duration

	// BatchSize is the number of messages fetched per receive, at
	// most 10.
	BatchSize int
}

// DefaultConfig returns a sensible default configuration.
func DefaultConfig() Config {
	return Config{
		Region:    "us-east-1",
		WaitTime:  20 * time.Second,
		BatchSize: 10,
	}
}

// Queue is an SQS-backed implementation of event.Queue.
type Queue struct {
	client *sqs.Client
	config Config
}

// NewQueue creates an SQS queue client.
func NewQueue(ctx context.Context, config Config) (*Queue, error) {
	if config.QueueURL == "" {
		return nil, errors.New("sqs: queue URL is required")
	}
	if config.Region == "" {
		config.Region = "us-east-1"
	}
	if config.WaitTime <= 0 {
		config.WaitTime = 20 * time.Second
	}
	if config.BatchSize <= 0 || config.BatchSize > 10 {
		config.BatchSize = 10
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(config.Region),
	)
	if err != nil {
		return nil, err
	}

	var sqsOpts []func(*sqs.Options)
	if config.Endpoint != "" {
		sqsOpts = append(sqsOpts, func(o *sqs.Options) {
			o.BaseEndpoint = aws.String(config.Endpoint)
		})
	}

	return &Queue{
		client: sqs.NewFromConfig(awsCfg, sqsOpts...),
		config: config,
	}, nil
}

// Send enqueues an event snapshot for later delivery.
func (q *Queue) Send(ctx context.Context, eventID string, body []byte) (string, error) {
	result, err := q.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(q.config.QueueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"EventId": {
				DataType:    aws.String("String"),
				StringValue: aws.String(eventID),
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", event.ErrQueueFailure, err)
	}
	return aws.ToString(result.MessageId), nil
}

var _ event.Queue = (*Queue)(nil)
