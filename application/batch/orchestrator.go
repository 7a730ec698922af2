// Package batch implements the bulk counterparts of the lifecycle
// operations. Items are processed independently and best-effort: a
// batch call reports per-item outcomes and never aborts on one item's
// failure.
package batch

import (
	"context"
	"errors"
	"fmt"

	"github.com/felixgeelhaar/relay-go/application/lifecycle"
	"github.com/felixgeelhaar/relay-go/domain/event"
	"github.com/felixgeelhaar/relay-go/domain/filter"
	"github.com/felixgeelhaar/relay-go/infrastructure/logging"
	"github.com/felixgeelhaar/relay-go/infrastructure/telemetry"
)

// MaxBatchSize is the hard cap on items per batch call, enforced
// before any item is processed.
const MaxBatchSize = 100

// Error codes carried by failed item results.
const (
	CodeValidation  = "validation_error"
	CodeNotFound    = "not_found"
	CodeForbidden   = "forbidden"
	CodeStorage     = "storage_error"
	CodeReplayLimit = "replay_limit_exceeded"
)

// ItemResult is the outcome of one batch item.
type ItemResult struct {
	Index        int          `json:"index"`
	EventID      string       `json:"event_id,omitempty"`
	Success      bool         `json:"success"`
	Event        *event.Event `json:"event,omitempty"`
	ErrorCode    string       `json:"error_code,omitempty"`
	ErrorMessage string       `json:"error_message,omitempty"`

	// idempotent marks a success that changed nothing: a create
	// collapsed by its idempotency key, or a delete of an already
	// absent event.
	idempotent bool
}

// Summary aggregates the outcomes of a batch call.
type Summary struct {
	Total      int `json:"total"`
	Successful int `json:"successful"`
	Idempotent int `json:"idempotent"`
	Failed     int `json:"failed"`
}

// Result is the full outcome of a batch call.
type Result struct {
	Results []ItemResult `json:"results"`
	Summary Summary      `json:"summary"`
}

// Targets selects the events a batch update, delete or replay acts
// on: explicit IDs, filter conditions resolved against the store, or
// a union of both.
type Targets struct {
	IDs     []string
	Filters map[string]string
}

// Orchestrator runs batch operations on top of the lifecycle service.
type Orchestrator struct {
	service *lifecycle.Service
	store   event.Store
	metrics *telemetry.MetricsProvider
}

// New creates a batch orchestrator. metrics may be nil.
func New(service *lifecycle.Service, store event.Store, metrics *telemetry.MetricsProvider) *Orchestrator {
	return &Orchestrator{
		service: service,
		store:   store,
		metrics: metrics,
	}
}

func summarize(results []ItemResult) Summary {
	s := Summary{Total: len(results)}
	for _, r := range results {
		switch {
		case r.Success && r.idempotent:
			s.Idempotent++
		case r.Success:
			s.Successful++
		default:
			s.Failed++
		}
	}
	return s
}

// classify maps a lifecycle error to a batch error code.
func classify(err error) string {
	switch {
	case event.IsValidation(err), errors.Is(err, event.ErrInvalidID):
		return CodeValidation
	case errors.Is(err, event.ErrReplayLimit):
		return CodeReplayLimit
	case errors.Is(err, event.ErrNotFound):
		return CodeNotFound
	case errors.Is(err, event.ErrForbidden):
		return CodeForbidden
	default:
		return CodeStorage
	}
}

func failure(index int, id string, err error) ItemResult {
	return ItemResult{
		Index:        index,
		EventID:      id,
		ErrorCode:    classify(err),
		ErrorMessage: err.Error(),
	}
}

// Create ingests up to MaxBatchSize events. Items are validated and
// deduplicated first, survivors are stored in one bulk write, and
// delivery runs per stored item under the usual push-or-queue rule.
func (o *Orchestrator) Create(ctx context.Context, items []lifecycle.CreateInput) (Result, error) {
	if len(items) == 0 {
		return Result{}, &event.ValidationError{Field: "events", Reason: "must not be empty"}
	}
	if len(items) > MaxBatchSize {
		return Result{}, &event.ValidationError{Field: "events", Reason: fmt.Sprintf("must contain at most %d items", MaxBatchSize)}
	}

	results := make([]ItemResult, len(items))
	pending := make([]*event.Event, 0, len(items))
	pendingIdx := make(map[string]int, len(items))

	type dedupKey struct{ owner, key string }
	seen := make(map[dedupKey]int)

	// In-batch duplicates mirror the outcome of their first occurrence,
	// which is only known after the bulk write.
	dupOf := make(map[int]int)

	for i, in := range items {
		results[i].Index = i

		if in.IdempotencyKey != "" && in.OwnerID != "" {
			k := dedupKey{in.OwnerID, in.IdempotencyKey}
			if first, dup := seen[k]; dup {
				dupOf[i] = first
				continue
			}

			existing, err := o.store.GetByIdempotencyKey(ctx, in.OwnerID, in.IdempotencyKey)
			if err == nil {
				results[i] = ItemResult{
					Index:      i,
					EventID:    existing.ID,
					Success:    true,
					Event:      existing,
					idempotent: true,
				}
				seen[k] = i
				continue
			}
			if !errors.Is(err, event.ErrNotFound) {
				results[i] = failure(i, "", err)
				continue
			}
		}

		ev, err := event.New(in.Type, in.Payload, in.Metadata, in.OwnerID, in.IdempotencyKey, o.service.Now())
		if err != nil {
			results[i] = failure(i, "", err)
			continue
		}

		results[i].EventID = ev.ID
		pending = append(pending, ev)
		pendingIdx[ev.ID] = i
		if in.IdempotencyKey != "" && in.OwnerID != "" {
			seen[dedupKey{in.OwnerID, in.IdempotencyKey}] = i
		}
	}

	if len(pending) > 0 {
		written, err := o.store.BatchPut(ctx, pending)
		if err != nil {
			for _, ev := range pending {
				results[pendingIdx[ev.ID]] = failure(pendingIdx[ev.ID], ev.ID, err)
			}
		} else {
			for _, f := range written.Failed {
				i := pendingIdx[f.ID]
				results[i] = failure(i, f.ID, fmt.Errorf("%w: %s", event.ErrStoreUnavailable, f.Reason))
			}
			stored := make(map[string]bool, len(written.Succeeded))
			for _, id := range written.Succeeded {
				stored[id] = true
			}
			for _, ev := range pending {
				if !stored[ev.ID] {
					continue
				}
				o.service.Dispatch(ctx, ev)
				i := pendingIdx[ev.ID]
				results[i].Success = true
				results[i].Event = ev
			}
		}
	}

	for i, first := range dupOf {
		canonical := results[first]
		if canonical.Success {
			results[i] = ItemResult{
				Index:      i,
				EventID:    canonical.EventID,
				Success:    true,
				Event:      canonical.Event,
				idempotent: true,
			}
			continue
		}
		results[i] = ItemResult{
			Index:        i,
			EventID:      canonical.EventID,
			ErrorCode:    canonical.ErrorCode,
			ErrorMessage: canonical.ErrorMessage,
		}
	}

	o.finish(ctx, "create", results)
	return Result{Results: results, Summary: summarize(results)}, nil
}

// Update applies one edit template to every target event.
func (o *Orchestrator) Update(ctx context.Context, targets Targets, in lifecycle.UpdateInput, callerID string) (Result, error) {
	ids, err := o.resolveTargets(ctx, targets, callerID)
	if err != nil {
		return Result{}, err
	}

	results := make([]ItemResult, len(ids))
	for i, id := range ids {
		res, err := o.service.Update(ctx, id, in, callerID)
		if err != nil {
			results[i] = failure(i, id, err)
			continue
		}
		results[i] = ItemResult{Index: i, EventID: id, Success: true, Event: res.Event}
	}

	o.finish(ctx, "update", results)
	return Result{Results: results, Summary: summarize(results)}, nil
}

// Delete removes every target event. Absent targets count as
// idempotent successes.
func (o *Orchestrator) Delete(ctx context.Context, targets Targets, callerID string) (Result, error) {
	ids, err := o.resolveTargets(ctx, targets, callerID)
	if err != nil {
		return Result{}, err
	}

	results := make([]ItemResult, len(ids))
	for i, id := range ids {
		_, err := o.store.Get(ctx, id)
		if errors.Is(err, event.ErrNotFound) {
			results[i] = ItemResult{Index: i, EventID: id, Success: true, idempotent: true}
			continue
		}

		if err := o.service.Delete(ctx, id, callerID); err != nil {
			results[i] = failure(i, id, err)
			continue
		}
		results[i] = ItemResult{Index: i, EventID: id, Success: true}
	}

	o.finish(ctx, "delete", results)
	return Result{Results: results, Summary: summarize(results)}, nil
}

// Replay redelivers every target event under the usual replay rules.
func (o *Orchestrator) Replay(ctx context.Context, targets Targets, reason string, callerID string) (Result, error) {
	ids, err := o.resolveTargets(ctx, targets, callerID)
	if err != nil {
		return Result{}, err
	}

	results := make([]ItemResult, len(ids))
	for i, id := range ids {
		res, err := o.service.Replay(ctx, id, callerID, reason, "")
		if err != nil {
			results[i] = failure(i, id, err)
			continue
		}
		results[i] = ItemResult{Index: i, EventID: id, Success: true, Event: res.Event}
	}

	o.finish(ctx, "replay", results)
	return Result{Results: results, Summary: summarize(results)}, nil
}

// resolveTargets turns a Targets selector into a concrete ID list:
// explicit IDs first, then filter matches, deduplicated, capped at
// MaxBatchSize after the union.
func (o *Orchestrator) resolveTargets(ctx context.Context, targets Targets, callerID string) ([]string, error) {
	if len(targets.IDs) == 0 && len(targets.Filters) == 0 {
		return nil, &event.ValidationError{Field: "targets", Reason: "either event_ids or filters must be provided"}
	}

	ids := make([]string, 0, len(targets.IDs))
	seen := make(map[string]bool, len(targets.IDs))
	for _, id := range targets.IDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}

	if len(targets.Filters) > 0 {
		page, err := o.service.List(ctx, lifecycle.ListOptions{
			Limit:      MaxBatchSize,
			OwnerID:    callerID,
			Conditions: filter.ParseParams(targets.Filters),
		})
		if err != nil {
			return nil, err
		}
		for _, ev := range page.Events {
			if seen[ev.ID] {
				continue
			}
			seen[ev.ID] = true
			ids = append(ids, ev.ID)
		}
	}

	if len(ids) > MaxBatchSize {
		return nil, &event.ValidationError{Field: "targets", Reason: fmt.Sprintf("must resolve to at most %d events", MaxBatchSize)}
	}
	return ids, nil
}

func (o *Orchestrator) finish(ctx context.Context, operation string, results []ItemResult) {
	summary := summarize(results)
	logging.Info().
		Add(logging.Operation(operation)).
		Add(logging.Count(summary.Total)).
		Add(logging.Str("failed", fmt.Sprintf("%d", summary.Failed))).
		Msg("batch operation completed")
	if o.metrics != nil {
		o.metrics.BatchProcessed(ctx, operation, summary.Total)
	}
}
