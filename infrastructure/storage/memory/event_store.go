// Package memory provides an in-memory event store for tests and
// local development.
package memory

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"sort"
	"sync"

	"github.com/felixgeelhaar/relay-go/domain/event"
	"github.com/felixgeelhaar/relay-go/domain/filter"
)

// eventEntry holds a deep copy of an event for storage.
type eventEntry struct {
	data []byte
}

// EventStore is an in-memory implementation of event.Store.
type EventStore struct {
	events map[string]*eventEntry
	mu     sync.RWMutex
}

// NewEventStore creates a new in-memory event store.
func NewEventStore() *EventStore {
	return &EventStore{
		events: make(map[string]*eventEntry),
	}
}

// Put persists an event, overwriting any previous version.
func (s *EventStore) Put(ctx context.Context, ev *event.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if ev.ID == "" {
		return event.ErrInvalidID
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.events[ev.ID] = &eventEntry{data: data}
	return nil
}

// Get retrieves an event by ID.
func (s *EventStore) Get(ctx context.Context, id string) (*event.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if id == "" {
		return nil, event.ErrInvalidID
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.events[id]
	if !ok {
		return nil, event.ErrNotFound
	}

	var ev event.Event
	if err := json.Unmarshal(entry.data, &ev); err != nil {
		return nil, err
	}

	return &ev, nil
}

// GetByIdempotencyKey looks up the event stored for the (ownerID,
// key) pair.
func (s *EventStore) GetByIdempotencyKey(ctx context.Context, ownerID, key string) (*event.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if ownerID == "" || key == "" {
		return nil, event.ErrNotFound
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, entry := range s.events {
		var ev event.Event
		if err := json.Unmarshal(entry.data, &ev); err != nil {
			continue
		}
		if ev.OwnerID == ownerID && ev.IdempotencyKey == key {
			return &ev, nil
		}
	}

	return nil, event.ErrNotFound
}

// List returns events matching the options, newest first.
func (s *EventStore) List(ctx context.Context, opts event.ListOptions) (event.ListResult, error) {
	if err := ctx.Err(); err != nil {
		return event.ListResult{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*event.Event
	for _, entry := range s.events {
		var ev event.Event
		if err := json.Unmarshal(entry.data, &ev); err != nil {
			continue
		}
		if !s.matches(&ev, opts) {
			continue
		}
		result = append(result, &ev)
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID > result[j].ID
		}
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	if opts.Cursor != "" {
		after, err := decodeCursor(opts.Cursor)
		if err != nil {
			return event.ListResult{}, &event.ValidationError{Field: "cursor", Reason: "malformed cursor"}
		}
		start := len(result)
		for i, ev := range result {
			if ev.ID == after {
				start = i + 1
				break
			}
		}
		result = result[start:]
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = event.DefaultListLimit
	}

	var next string
	if len(result) > limit {
		result = result[:limit]
		next = encodeCursor(result[len(result)-1].ID)
	}

	return event.ListResult{Events: result, NextCursor: next}, nil
}

// Delete removes an event by ID. Absent IDs are not an error.
func (s *EventStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.events, id)
	return nil
}

// BatchPut persists events, reporting per-item outcomes.
func (s *EventStore) BatchPut(ctx context.Context, evs []*event.Event) (event.BatchWriteResult, error) {
	var res event.BatchWriteResult
	for _, ev := range evs {
		if err := s.Put(ctx, ev); err != nil {
			res.Failed = append(res.Failed, event.BatchItemError{ID: ev.ID, Reason: err.Error()})
			continue
		}
		res.Succeeded = append(res.Succeeded, ev.ID)
	}
	return res, nil
}

// BatchGet retrieves the events that exist among ids.
func (s *EventStore) BatchGet(ctx context.Context, ids []string) ([]*event.Event, error) {
	var out []*event.Event
	for _, id := range ids {
		ev, err := s.Get(ctx, id)
		if err != nil {
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

// BatchDelete removes events, reporting per-item outcomes.
func (s *EventStore) BatchDelete(ctx context.Context, ids []string) (event.BatchWriteResult, error) {
	var res event.BatchWriteResult
	for _, id := range ids {
		if err := s.Delete(ctx, id); err != nil {
			res.Failed = append(res.Failed, event.BatchItemError{ID: id, Reason: err.Error()})
			continue
		}
		res.Succeeded = append(res.Succeeded, id)
	}
	return res, nil
}

// matches checks an event against the list criteria.
func (s *EventStore) matches(ev *event.Event, opts event.ListOptions) bool {
	if opts.Status != "" && ev.Status != opts.Status {
		return false
	}
	if opts.OwnerID != "" && ev.OwnerID != opts.OwnerID {
		return false
	}
	return filter.Set(opts.Conditions).Matches(ev)
}

// Clear removes all events from the store.
func (s *EventStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = make(map[string]*eventEntry)
}

// Len returns the number of stored events.
func (s *EventStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}

func encodeCursor(id string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(id))
}

func decodeCursor(cursor string) (string, error) {
	b, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

var _ event.Store = (*EventStore)(nil)
