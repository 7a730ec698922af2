// Package worker processes queued delivery retries. It consumes
// batches of queue messages, re-reads each event's current state,
// and attempts delivery under the retry policy.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/felixgeelhaar/relay-go/domain/event"
	"github.com/felixgeelhaar/relay-go/infrastructure/logging"
	"github.com/felixgeelhaar/relay-go/infrastructure/telemetry"
)

// Worker drains the retry queue. A message body is the event snapshot
// taken at enqueue time; only its ID is trusted, the current state is
// always re-read from the store.
type Worker struct {
	store     event.Store
	deliverer event.Deliverer
	metrics   *telemetry.MetricsProvider
	now       func() time.Time
}

// Option configures the worker.
type Option func(*Worker)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(w *Worker) {
		w.now = now
	}
}

// New creates a worker. deliverer should already carry the retry
// policy; the worker itself makes one logical attempt per message.
// metrics may be nil.
func New(store event.Store, deliverer event.Deliverer, metrics *telemetry.MetricsProvider, opts ...Option) *Worker {
	w := &Worker{
		store:     store,
		deliverer: deliverer,
		metrics:   metrics,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// ProcessBatch handles one batch of queue messages and returns the
// IDs of messages that must be redelivered. Everything not returned
// is considered consumed and may be deleted from the queue.
func (w *Worker) ProcessBatch(ctx context.Context, msgs []event.Message) []string {
	var failed []string
	for _, msg := range msgs {
		if !w.processMessage(ctx, msg) {
			failed = append(failed, msg.MessageID)
		}
	}

	logging.Info().
		Add(logging.Count(len(msgs))).
		Add(logging.Str("failed", strconv.Itoa(len(failed)))).
		Msg("queue batch processed")
	return failed
}

// processMessage handles one message. It returns false only when the
// message should come back for another round; unrecoverable messages
// (orphaned events) report true so the queue drops them.
func (w *Worker) processMessage(ctx context.Context, msg event.Message) bool {
	var snapshot event.Event
	if err := json.Unmarshal(msg.Body, &snapshot); err != nil || snapshot.ID == "" {
		logging.Error().
			Add(logging.MessageID(msg.MessageID)).
			Add(logging.ErrorField(err)).
			Msg("malformed queue message")
		return false
	}

	ev, err := w.store.Get(ctx, snapshot.ID)
	if errors.Is(err, event.ErrNotFound) {
		// Deleted between enqueue and processing. Nothing to deliver.
		logging.Info().
			Add(logging.MessageID(msg.MessageID)).
			Add(logging.EventID(snapshot.ID)).
			Msg("event no longer exists, dropping message")
		return true
	}
	if err != nil {
		logging.Error().
			Add(logging.MessageID(msg.MessageID)).
			Add(logging.EventID(snapshot.ID)).
			Add(logging.ErrorField(err)).
			Msg("failed to load event")
		return false
	}

	if w.deliverer.Deliver(ctx, ev) {
		ev.MarkDelivered(w.now())
		if err := w.store.Put(ctx, ev); err != nil {
			logging.Error().
				Add(logging.EventID(ev.ID)).
				Add(logging.ErrorField(err)).
				Msg("delivered but failed to persist status")
			return false
		}
		logging.Info().
			Add(logging.EventID(ev.ID)).
			Add(logging.Attempts(ev.DeliveryAttempts)).
			Msg("queued event delivered")
		if w.metrics != nil {
			w.metrics.EventDelivered(ctx, ev.Type)
		}
		return true
	}

	ev.DeliveryAttempts++
	if err := w.store.Put(ctx, ev); err != nil {
		logging.Error().
			Add(logging.EventID(ev.ID)).
			Add(logging.ErrorField(err)).
			Msg("failed to persist attempt count")
	}
	logging.Warn().
		Add(logging.EventID(ev.ID)).
		Add(logging.Attempts(ev.DeliveryAttempts)).
		Msg("queued delivery failed, message will be redelivered")
	if w.metrics != nil {
		w.metrics.DeliveryFailed(ctx, ev.Type)
	}
	return false
}
