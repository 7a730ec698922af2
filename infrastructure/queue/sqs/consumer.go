package sqs

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/felixgeelhaar/relay-go/domain/event"
	"github.com/felixgeelhaar/relay-go/infrastructure/logging"
)

// Processor handles one batch of queue messages and returns the
// message IDs that should be redelivered.
type Processor interface {
	ProcessBatch(ctx context.Context, msgs []event.Message) []string
}

// Consumer long-polls the retry queue and hands batches to a
// Processor. Messages the processor does not report as failed are
// deleted; failed ones become visible again after the queue's
// visibility timeout.
type Consumer struct {
	queue     *Queue
	processor Processor
}

// NewConsumer creates a queue consumer.
func NewConsumer(queue *Queue, processor Processor) *Consumer {
	return &Consumer{
		queue:     queue,
		processor: processor,
	}
}

// Run polls until the context is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	logging.Info().
		Add(logging.QueueURL(c.queue.config.QueueURL)).
		Msg("queue consumer started")

	for {
		if err := ctx.Err(); err != nil {
			logging.Info().Msg("queue consumer stopping")
			return err
		}

		if err := c.poll(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logging.Error().
				Add(logging.ErrorField(err)).
				Msg("receive failed, backing off")
			select {
			case <-time.After(5 * time.Second):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// poll performs one receive/process/delete round.
func (c *Consumer) poll(ctx context.Context) error {
	result, err := c.queue.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(c.queue.config.QueueURL),
		MaxNumberOfMessages: int32(c.queue.config.BatchSize),
		WaitTimeSeconds:     int32(c.queue.config.WaitTime / time.Second),
	})
	if err != nil {
		return err
	}
	if len(result.Messages) == 0 {
		return nil
	}

	msgs := make([]event.Message, 0, len(result.Messages))
	receipts := make(map[string]string, len(result.Messages))
	for _, m := range result.Messages {
		id := aws.ToString(m.MessageId)
		msgs = append(msgs, event.Message{
			MessageID: id,
			Body:      []byte(aws.ToString(m.Body)),
		})
		receipts[id] = aws.ToString(m.ReceiptHandle)
	}

	failed := make(map[string]bool)
	for _, id := range c.processor.ProcessBatch(ctx, msgs) {
		failed[id] = true
	}

	var deletes []types.DeleteMessageBatchRequestEntry
	for id, receipt := range receipts {
		if failed[id] {
			continue
		}
		deletes = append(deletes, types.DeleteMessageBatchRequestEntry{
			Id:            aws.String(id),
			ReceiptHandle: aws.String(receipt),
		})
	}
	if len(deletes) == 0 {
		return nil
	}

	_, err = c.queue.client.DeleteMessageBatch(ctx, &sqs.DeleteMessageBatchInput{
		QueueUrl: aws.String(c.queue.config.QueueURL),
		Entries:  deletes,
	})
	if err != nil {
		// Deletion failure means redelivery of already-processed
		// messages; the worker tolerates that by re-reading state.
		logging.Warn().
			Add(logging.ErrorField(err)).
			Msg("failed to delete processed messages")
	}
	return nil
}
