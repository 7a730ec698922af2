package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/relay-go/application/batch"
	"github.com/felixgeelhaar/relay-go/application/lifecycle"
	"github.com/felixgeelhaar/relay-go/domain/event"
	"github.com/felixgeelhaar/relay-go/infrastructure/logging"
	"github.com/felixgeelhaar/relay-go/infrastructure/queue/noop"
	sqsqueue "github.com/felixgeelhaar/relay-go/infrastructure/queue/sqs"
	"github.com/felixgeelhaar/relay-go/infrastructure/telemetry"
	"github.com/felixgeelhaar/relay-go/interfaces/httpapi"
)

// serveOptions holds options for the serve command.
type serveOptions struct {
	configPath string
	addr       string
}

// newServeCmd creates the serve command.
func (a *App) newServeCmd() *cobra.Command {
	opts := &serveOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server",
		Long: `Run the event ingestion API. The server stores incoming events,
attempts one immediate webhook push per event and queues failed pushes
for the retry worker.

Examples:
  # Serve with a config file
  relay serve -c relay.yaml

  # Serve from environment variables on a custom port
  RELAY_STORE_BACKEND=memory relay serve --addr :9090`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.serve(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "", "Path to configuration file")
	cmd.Flags().StringVar(&opts.addr, "addr", "", "Listen address (overrides config)")

	return cmd
}

func (a *App) serve(ctx context.Context, opts *serveOptions) error {
	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if opts.addr != "" {
		cfg.Server.Addr = opts.addr
	}

	initLogging(cfg.Logging)

	store, err := buildStore(ctx, cfg.Store)
	if err != nil {
		return err
	}

	var queue event.Queue
	if cfg.Queue.URL != "" {
		queue, err = sqsqueue.NewQueue(ctx, sqsqueue.Config{
			Region:    cfg.Queue.Region,
			Endpoint:  cfg.Queue.Endpoint,
			QueueURL:  cfg.Queue.URL,
			WaitTime:  cfg.Queue.WaitTime,
			BatchSize: cfg.Queue.BatchSize,
		})
		if err != nil {
			return fmt.Errorf("failed to create sqs queue: %w", err)
		}
	} else {
		logging.Warn().Msg("no retry queue configured, failed pushes stay pending")
		queue = noop.NewQueue()
	}

	metrics := telemetry.NewMetricsProvider(telemetry.DefaultMetricsConfig())
	service := lifecycle.NewService(store, queue, buildSender(cfg.Delivery), metrics)
	orchestrator := batch.New(service, store, metrics)

	server := httpapi.NewServer(cfg.Server, httpapi.NewHandler(service, orchestrator))
	return server.Run(ctx)
}
