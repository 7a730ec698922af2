// Package telemetry provides OpenTelemetry metrics for the relay
// runtime. All recording is fire-and-forget: instrument failures are
// swallowed so metrics can never affect an operation's outcome.
package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MetricsProvider provides access to metrics instruments.
type MetricsProvider struct {
	meter metric.Meter

	// Counters
	eventsCreated     metric.Int64Counter
	eventsDelivered   metric.Int64Counter
	eventsReplayed    metric.Int64Counter
	deliveryFailures  metric.Int64Counter
	batchOperations   metric.Int64Counter

	// Histograms
	inboxDepth metric.Int64Histogram

	initOnce sync.Once
	initErr  error
}

// MetricsConfig configures the metrics provider.
type MetricsConfig struct {
	// MeterName is the name of the meter.
	MeterName string
	// MeterVersion is the version of the meter.
	MeterVersion string
}

// DefaultMetricsConfig returns a default metrics configuration.
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		MeterName:    "github.com/felixgeelhaar/relay-go",
		MeterVersion: "1.0.0",
	}
}

// NewMetricsProvider creates a new metrics provider.
func NewMetricsProvider(config MetricsConfig) *MetricsProvider {
	if config.MeterName == "" {
		config = DefaultMetricsConfig()
	}

	provider := otel.GetMeterProvider()
	meter := provider.Meter(
		config.MeterName,
		metric.WithInstrumentationVersion(config.MeterVersion),
	)

	mp := &MetricsProvider{meter: meter}

	mp.initOnce.Do(func() {
		mp.initErr = mp.initInstruments()
	})

	return mp
}

// initInstruments initializes all metric instruments.
func (mp *MetricsProvider) initInstruments() error {
	var err error

	mp.eventsCreated, err = mp.meter.Int64Counter(
		"relay.events.created",
		metric.WithDescription("Number of events ingested"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return err
	}

	mp.eventsDelivered, err = mp.meter.Int64Counter(
		"relay.events.delivered",
		metric.WithDescription("Number of events delivered to the consumer"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return err
	}

	mp.eventsReplayed, err = mp.meter.Int64Counter(
		"relay.events.replayed",
		metric.WithDescription("Number of explicit event replays"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return err
	}

	mp.deliveryFailures, err = mp.meter.Int64Counter(
		"relay.delivery.failures",
		metric.WithDescription("Number of failed delivery attempts"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return err
	}

	mp.batchOperations, err = mp.meter.Int64Counter(
		"relay.batch.operations",
		metric.WithDescription("Number of batch items processed"),
		metric.WithUnit("{item}"),
	)
	if err != nil {
		return err
	}

	mp.inboxDepth, err = mp.meter.Int64Histogram(
		"relay.inbox.depth",
		metric.WithDescription("Pending events observed per inbox poll"),
		metric.WithUnit("{event}"),
	)
	return err
}

// EventCreated records an event ingestion.
func (mp *MetricsProvider) EventCreated(ctx context.Context, eventType string) {
	if mp.eventsCreated == nil {
		return
	}
	mp.eventsCreated.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event.type", eventType),
	))
}

// EventDelivered records a successful delivery.
func (mp *MetricsProvider) EventDelivered(ctx context.Context, eventType string) {
	if mp.eventsDelivered == nil {
		return
	}
	mp.eventsDelivered.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event.type", eventType),
	))
}

// EventReplayed records an explicit replay.
func (mp *MetricsProvider) EventReplayed(ctx context.Context, eventType string) {
	if mp.eventsReplayed == nil {
		return
	}
	mp.eventsReplayed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event.type", eventType),
	))
}

// DeliveryFailed records a failed delivery attempt.
func (mp *MetricsProvider) DeliveryFailed(ctx context.Context, eventType string) {
	if mp.deliveryFailures == nil {
		return
	}
	mp.deliveryFailures.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event.type", eventType),
	))
}

// BatchProcessed records the size of a processed batch operation.
func (mp *MetricsProvider) BatchProcessed(ctx context.Context, operation string, size int) {
	if mp.batchOperations == nil {
		return
	}
	mp.batchOperations.Add(ctx, int64(size), metric.WithAttributes(
		attribute.String("operation", operation),
	))
}

// InboxDepth records the pending-event count seen by an inbox poll.
func (mp *MetricsProvider) InboxDepth(ctx context.Context, depth int) {
	if mp.inboxDepth == nil {
		return
	}
	mp.inboxDepth.Record(ctx, int64(depth))
}
