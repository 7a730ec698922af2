// Package lifecycle orchestrates the event lifecycle: ingestion with
// idempotency-key deduplication, the push-then-queue delivery
// protocol, redelivery on update, and explicit replay.
package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/felixgeelhaar/relay-go/domain/event"
	"github.com/felixgeelhaar/relay-go/domain/filter"
	"github.com/felixgeelhaar/relay-go/infrastructure/logging"
	"github.com/felixgeelhaar/relay-go/infrastructure/telemetry"
)

// overfetchFactor and overfetchCap bound the wider page fetched when
// in-memory filter conditions would otherwise under-fill a page.
const (
	overfetchFactor = 3
	overfetchCap    = 300
)

// Service is the event lifecycle engine. All collaborators are
// injected at construction; the service holds no mutable state of its
// own, so one instance serves concurrent requests.
type Service struct {
	store     event.Store
	queue     event.Queue
	deliverer event.Deliverer
	metrics   *telemetry.MetricsProvider
	now       func() time.Time
}

// Option configures the service.
type Option func(*Service)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// NewService creates a lifecycle service. metrics may be nil.
func NewService(store event.Store, queue event.Queue, deliverer event.Deliverer, metrics *telemetry.MetricsProvider, opts ...Option) *Service {
	s := &Service{
		store:     store,
		queue:     queue,
		deliverer: deliverer,
		metrics:   metrics,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateInput carries the fields of an ingestion request.
type CreateInput struct {
	Type           string
	Payload        map[string]any
	Metadata       map[string]any
	IdempotencyKey string
	OwnerID        string
}

// CreateResult reports the outcome of Create.
type CreateResult struct {
	Event *event.Event

	// AlreadyExists is true when the idempotency key matched an
	// existing event and no new write occurred.
	AlreadyExists bool
}

// Create validates and stores a new event, then attempts one
// immediate push delivery, falling back to the retry queue. Delivery
// and enqueue failures never fail the call: once the event is stored
// the caller gets a success describing the persisted state.
func (s *Service) Create(ctx context.Context, in CreateInput) (CreateResult, error) {
	if err := event.ValidateType(in.Type); err != nil {
		return CreateResult{}, err
	}
	if err := event.ValidatePayload(in.Payload); err != nil {
		return CreateResult{}, err
	}
	if err := event.ValidateIdempotencyKey(in.IdempotencyKey); err != nil {
		return CreateResult{}, err
	}

	if in.IdempotencyKey != "" && in.OwnerID != "" {
		existing, err := s.store.GetByIdempotencyKey(ctx, in.OwnerID, in.IdempotencyKey)
		if err == nil {
			logging.Info().
				Add(logging.EventID(existing.ID)).
				Add(logging.OwnerID(in.OwnerID)).
				Add(logging.IdempotencyKey(in.IdempotencyKey)).
				Msg("duplicate create collapsed by idempotency key")
			return CreateResult{Event: existing, AlreadyExists: true}, nil
		}
		if !errors.Is(err, event.ErrNotFound) {
			return CreateResult{}, err
		}
	}

	ev, err := event.New(in.Type, in.Payload, in.Metadata, in.OwnerID, in.IdempotencyKey, s.now())
	if err != nil {
		return CreateResult{}, err
	}

	if err := s.store.Put(ctx, ev); err != nil {
		return CreateResult{}, err
	}

	logging.Info().
		Add(logging.EventID(ev.ID)).
		Add(logging.EventType(ev.Type)).
		Msg("event stored")

	s.Dispatch(ctx, ev)

	if s.metrics != nil {
		s.metrics.EventCreated(ctx, ev.Type)
	}

	return CreateResult{Event: ev}, nil
}

// Dispatch makes the single synchronous delivery attempt for a stored
// pending event and records the outcome, mutating ev in place. Every
// failure path ends with the event pending and (best effort) queued.
func (s *Service) Dispatch(ctx context.Context, ev *event.Event) {
	if s.deliverer.Deliver(ctx, ev) {
		ev.MarkDelivered(s.now())
		if err := s.store.Put(ctx, ev); err != nil {
			// Delivered but not recorded: fall back to the queue so
			// the worker reconciles the status later.
			logging.Warn().
				Add(logging.EventID(ev.ID)).
				Add(logging.ErrorField(err)).
				Msg("failed to record delivery, queueing for reconciliation")
			s.enqueue(ctx, ev)
			return
		}
		logging.Info().Add(logging.EventID(ev.ID)).Msg("event delivered immediately")
		if s.metrics != nil {
			s.metrics.EventDelivered(ctx, ev.Type)
		}
		return
	}

	if s.metrics != nil {
		s.metrics.DeliveryFailed(ctx, ev.Type)
	}
	s.enqueue(ctx, ev)
}

// enqueue sends the event snapshot to the retry queue. Failures are
// logged and swallowed: ingestion is never rolled back for a queue
// error.
func (s *Service) enqueue(ctx context.Context, ev *event.Event) {
	body, err := json.Marshal(ev)
	if err != nil {
		logging.Error().
			Add(logging.EventID(ev.ID)).
			Add(logging.ErrorField(err)).
			Msg("failed to serialize event for queue")
		return
	}
	if _, err := s.queue.Send(ctx, ev.ID, body); err != nil {
		logging.Error().
			Add(logging.EventID(ev.ID)).
			Add(logging.ErrorField(err)).
			Msg("failed to queue event for retry")
		return
	}
	logging.Info().Add(logging.EventID(ev.ID)).Msg("event queued for retry")
}

// Now returns the service's notion of the current time.
func (s *Service) Now() time.Time {
	return s.now()
}

// Get retrieves an event by ID.
func (s *Service) Get(ctx context.Context, id string) (*event.Event, error) {
	if id == "" {
		return nil, event.ErrInvalidID
	}
	return s.store.Get(ctx, id)
}

// ListOptions specifies criteria for List.
type ListOptions struct {
	Status     event.Status
	Limit      int
	Cursor     string
	OwnerID    string
	Conditions filter.Set
}

// ListResult is one page of events.
type ListResult struct {
	Events     []*event.Event
	NextCursor string
}

// List returns events newest first. Store-native conditions are
// pushed down; JSON-path conditions are evaluated here against the
// fetched page, with a bounded overfetch to reduce under-filled
// pages. Cursors cannot be combined with in-memory conditions.
func (s *Service) List(ctx context.Context, opts ListOptions) (ListResult, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = event.DefaultListLimit
	}
	if limit > event.MaxListLimit {
		return ListResult{}, &event.ValidationError{Field: "limit", Reason: fmt.Sprintf("must be at most %d", event.MaxListLimit)}
	}
	if opts.Status != "" && !opts.Status.Valid() {
		return ListResult{}, &event.ValidationError{Field: "status", Reason: "unknown status"}
	}

	native, inMemory := opts.Conditions.Split()

	storeOpts := event.ListOptions{
		Status:     opts.Status,
		Limit:      limit,
		Cursor:     opts.Cursor,
		OwnerID:    opts.OwnerID,
		Conditions: native,
	}

	if len(inMemory) > 0 {
		if opts.Cursor != "" {
			return ListResult{}, &event.ValidationError{Field: "cursor", Reason: "pagination is not supported with payload or metadata filters"}
		}
		storeOpts.Limit = min(limit*overfetchFactor, overfetchCap)
	}

	page, err := s.store.List(ctx, storeOpts)
	if err != nil {
		return ListResult{}, err
	}

	events := page.Events
	cursor := page.NextCursor
	if len(inMemory) > 0 {
		filtered := events[:0:0]
		for _, ev := range events {
			if filter.Set(inMemory).Matches(ev) {
				filtered = append(filtered, ev)
			}
		}
		if len(filtered) > limit {
			filtered = filtered[:limit]
		}
		events = filtered
		cursor = ""
	}

	return ListResult{Events: events, NextCursor: cursor}, nil
}

// Inbox returns pending events for the pull consumer.
func (s *Service) Inbox(ctx context.Context, limit int) ([]*event.Event, error) {
	if limit <= 0 {
		limit = event.MaxListLimit
	}
	if limit > event.MaxListLimit {
		return nil, &event.ValidationError{Field: "limit", Reason: fmt.Sprintf("must be at most %d", event.MaxListLimit)}
	}

	page, err := s.store.List(ctx, event.ListOptions{Status: event.StatusPending, Limit: limit})
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.InboxDepth(ctx, len(page.Events))
	}
	return page.Events, nil
}

// UpdateInput carries the mutable fields of an update request. A nil
// field was not supplied; Metadata and IdempotencyKey distinguish
// "absent" from an explicit clear.
type UpdateInput struct {
	// Payload replaces the payload when non-nil. It cannot be
	// cleared.
	Payload map[string]any

	// Metadata, when non-nil, replaces the metadata; pointing at a
	// nil map clears it.
	Metadata *map[string]any

	// IdempotencyKey, when non-nil, replaces the key; pointing at an
	// empty string removes it.
	IdempotencyKey *string
}

func (in UpdateInput) empty() bool {
	return in.Payload == nil && in.Metadata == nil && in.IdempotencyKey == nil
}

// UpdateResult reports the outcome of Update.
type UpdateResult struct {
	Event *event.Event

	// RedeliveryQueued is true when the update reset a delivered or
	// replayed event to pending and enqueued it.
	RedeliveryQueued bool
}

// Update applies field edits to an event. Updating an event that was
// already delivered (or replayed) resets it to pending and queues a
// redelivery; a pending or failed event is edited in place.
func (s *Service) Update(ctx context.Context, id string, in UpdateInput, callerID string) (UpdateResult, error) {
	if id == "" {
		return UpdateResult{}, event.ErrInvalidID
	}
	if in.empty() {
		return UpdateResult{}, &event.ValidationError{Field: "body", Reason: "at least one of payload, metadata, idempotency_key must be provided"}
	}
	if in.Payload != nil {
		if err := event.ValidatePayload(in.Payload); err != nil {
			return UpdateResult{}, err
		}
	}
	if in.IdempotencyKey != nil {
		if err := event.ValidateIdempotencyKey(*in.IdempotencyKey); err != nil {
			return UpdateResult{}, err
		}
	}

	ev, err := s.store.Get(ctx, id)
	if err != nil {
		return UpdateResult{}, err
	}
	if !ev.OwnedBy(callerID) {
		return UpdateResult{}, event.ErrForbidden
	}

	// A key may move between values freely but never onto a value
	// another event of the same owner already holds.
	if in.IdempotencyKey != nil && *in.IdempotencyKey != "" && ev.OwnerID != "" {
		existing, err := s.store.GetByIdempotencyKey(ctx, ev.OwnerID, *in.IdempotencyKey)
		if err == nil && existing.ID != ev.ID {
			return UpdateResult{}, &event.ValidationError{Field: "idempotency_key", Reason: "already in use by another event"}
		}
		if err != nil && !errors.Is(err, event.ErrNotFound) {
			return UpdateResult{}, err
		}
	}

	if in.Payload != nil {
		ev.Payload = in.Payload
	}
	if in.Metadata != nil {
		ev.Metadata = *in.Metadata
	}
	if in.IdempotencyKey != nil {
		ev.IdempotencyKey = *in.IdempotencyKey
	}

	redeliver := ev.Status == event.StatusDelivered || ev.Status == event.StatusReplayed
	if redeliver {
		ev.ResetPending()
	}

	if err := s.store.Put(ctx, ev); err != nil {
		return UpdateResult{}, err
	}

	if redeliver {
		s.enqueue(ctx, ev)
	}

	logging.Info().
		Add(logging.EventID(ev.ID)).
		Add(logging.EventStatus(ev.Status)).
		Msg("event updated")

	return UpdateResult{Event: ev, RedeliveryQueued: redeliver}, nil
}

// Delete removes an event. Deleting an absent ID succeeds: delete is
// idempotent from the caller's point of view.
func (s *Service) Delete(ctx context.Context, id string, callerID string) error {
	if id == "" {
		return event.ErrInvalidID
	}

	ev, err := s.store.Get(ctx, id)
	if errors.Is(err, event.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if !ev.OwnedBy(callerID) {
		return event.ErrForbidden
	}

	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}

	logging.Info().Add(logging.EventID(id)).Msg("event deleted")
	return nil
}

// Acknowledge marks an event delivered on explicit confirmation from
// the downstream consumer. It does not count as a delivery attempt.
func (s *Service) Acknowledge(ctx context.Context, id string) (*event.Event, error) {
	if id == "" {
		return nil, event.ErrInvalidID
	}

	ev, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	t := s.now().UTC()
	ev.Status = event.StatusDelivered
	ev.DeliveredAt = &t

	if err := s.store.Put(ctx, ev); err != nil {
		return nil, err
	}

	logging.Info().
		Add(logging.EventID(id)).
		Add(logging.EventType(ev.Type)).
		Msg("event acknowledged")

	if s.metrics != nil {
		s.metrics.EventDelivered(ctx, ev.Type)
	}
	return ev, nil
}

// ReplayResult reports the outcome of Replay.
type ReplayResult struct {
	Event *event.Event

	// Delivered is true when the replay push succeeded; false means
	// the event went back to pending and was queued.
	Delivered bool
}

// Replay performs an explicit, owner-initiated redelivery. The shared
// attempt counter enforces a hard ceiling across automatic retries
// and replays; an exhausted event is rejected without mutation.
func (s *Service) Replay(ctx context.Context, id string, callerID, reason, targetHint string) (ReplayResult, error) {
	if id == "" {
		return ReplayResult{}, event.ErrInvalidID
	}

	ev, err := s.store.Get(ctx, id)
	if err != nil {
		return ReplayResult{}, err
	}
	if !ev.OwnedBy(callerID) {
		return ReplayResult{}, event.ErrForbidden
	}
	if ev.DeliveryAttempts >= event.MaxReplayAttempts {
		return ReplayResult{}, event.ErrReplayLimit
	}

	if ev.Metadata == nil {
		ev.Metadata = make(map[string]any)
	}
	ev.Metadata["replayed"] = true
	ev.Metadata["replayed_at"] = s.now().UTC().Format(time.RFC3339)
	ev.Metadata["previous_status"] = string(ev.Status)
	if reason != "" {
		ev.Metadata["replay_reason"] = reason
	}
	if targetHint != "" {
		ev.Metadata["replay_target"] = targetHint
	}

	delivered := s.deliverer.Deliver(ctx, ev)
	if delivered {
		ev.MarkReplayed(s.now())
	} else {
		ev.ResetPending()
		ev.DeliveryAttempts++
	}

	if err := s.store.Put(ctx, ev); err != nil {
		return ReplayResult{}, err
	}

	if delivered {
		if s.metrics != nil {
			s.metrics.EventReplayed(ctx, ev.Type)
		}
	} else {
		s.enqueue(ctx, ev)
	}

	logging.Info().
		Add(logging.EventID(ev.ID)).
		Add(logging.EventStatus(ev.Status)).
		Add(logging.Attempts(ev.DeliveryAttempts)).
		Msg("event replay attempted")

	return ReplayResult{Event: ev, Delivered: delivered}, nil
}
