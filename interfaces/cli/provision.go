package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	dynamostore "github.com/felixgeelhaar/relay-go/infrastructure/storage/dynamodb"
)

// provisionOptions holds options for the provision command.
type provisionOptions struct {
	configPath string
}

// newProvisionCmd creates the provision command.
func (a *App) newProvisionCmd() *cobra.Command {
	opts := &provisionOptions{}

	cmd := &cobra.Command{
		Use:   "provision",
		Short: "Create the events table and its indexes",
		Long: `Create the DynamoDB events table with its status and idempotency
indexes. Safe to run repeatedly: an existing table is left untouched.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.provision(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "", "Path to configuration file")

	return cmd
}

func (a *App) provision(ctx context.Context, opts *provisionOptions) error {
	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if cfg.Store.Backend != "dynamodb" {
		return fmt.Errorf("provision requires the dynamodb backend, got %q", cfg.Store.Backend)
	}

	initLogging(cfg.Logging)

	client, err := dynamostore.NewClient(ctx,
		dynamostore.WithRegion(cfg.Store.Region),
		dynamostore.WithEndpoint(cfg.Store.Endpoint),
		dynamostore.WithEventsTableName(cfg.Store.Table),
		dynamostore.WithQueryTimeout(cfg.Store.QueryTimeout),
	)
	if err != nil {
		return fmt.Errorf("failed to create dynamodb client: %w", err)
	}

	if err := client.CreateEventsTable(ctx); err != nil {
		return fmt.Errorf("failed to create events table: %w", err)
	}

	fmt.Fprintf(a.stdout, "Events table %q is ready.\n", cfg.Store.Table)
	return nil
}
