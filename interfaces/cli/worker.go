package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/relay-go/application/worker"
	"github.com/felixgeelhaar/relay-go/infrastructure/delivery"
	sqsqueue "github.com/felixgeelhaar/relay-go/infrastructure/queue/sqs"
	"github.com/felixgeelhaar/relay-go/infrastructure/telemetry"
)

// workerOptions holds options for the worker command.
type workerOptions struct {
	configPath string
}

// newWorkerCmd creates the worker command.
func (a *App) newWorkerCmd() *cobra.Command {
	opts := &workerOptions{}

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run the retry delivery worker",
		Long: `Run the queue consumer that redelivers events whose immediate push
failed. Each queued message is re-read from the store so the worker
always delivers the current event state; deliveries retry with
exponential backoff before the message is returned to the queue.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runWorker(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "", "Path to configuration file")

	return cmd
}

func (a *App) runWorker(ctx context.Context, opts *workerOptions) error {
	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if cfg.Queue.URL == "" {
		return fmt.Errorf("queue.url is required for the worker")
	}

	initLogging(cfg.Logging)

	store, err := buildStore(ctx, cfg.Store)
	if err != nil {
		return err
	}

	queue, err := sqsqueue.NewQueue(ctx, sqsqueue.Config{
		Region:    cfg.Queue.Region,
		Endpoint:  cfg.Queue.Endpoint,
		QueueURL:  cfg.Queue.URL,
		WaitTime:  cfg.Queue.WaitTime,
		BatchSize: cfg.Queue.BatchSize,
	})
	if err != nil {
		return fmt.Errorf("failed to create sqs queue: %w", err)
	}

	deliverer := delivery.NewRetryPolicy(buildSender(cfg.Delivery), delivery.RetryConfig{
		MaxAttempts:  cfg.Delivery.RetryMaxAttempts,
		InitialDelay: cfg.Delivery.RetryInitialDelay,
		Multiplier:   cfg.Delivery.RetryMultiplier,
	})

	metrics := telemetry.NewMetricsProvider(telemetry.DefaultMetricsConfig())
	w := worker.New(store, deliverer, metrics)

	return sqsqueue.NewConsumer(queue, w).Run(ctx)
}
