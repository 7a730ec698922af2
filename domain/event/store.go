package event

import (
	"context"

	"github.com/felixgeelhaar/relay-go/domain/filter"
)

// DefaultListLimit is the page size used when a caller does not ask
// for one.
const DefaultListLimit = 50

// MaxListLimit is the largest page size a caller may request.
const MaxListLimit = 100

// ListOptions specifies criteria for listing events.
type ListOptions struct {
	// Status filters by delivery status (empty means all).
	Status Status

	// Limit is the maximum number of events to return.
	Limit int

	// Cursor is an opaque pagination token from a previous result.
	// Not supported in combination with in-memory conditions.
	Cursor string

	// OwnerID scopes results to one principal (empty means all).
	OwnerID string

	// Conditions are ad-hoc attribute filters. Date and direct
	// conditions may be pushed down to the store; JSON-path
	// conditions are evaluated in memory after the fetch.
	Conditions filter.Set
}

// ListResult is one page of events, newest first.
type ListResult struct {
	Events []*Event

	// NextCursor is set when more results exist and the query had no
	// in-memory conditions.
	NextCursor string
}

// BatchItemError describes one item a bulk store call could not process.
type BatchItemError struct {
	ID     string
	Reason string
}

// BatchWriteResult reports per-item outcomes of a bulk write.
type BatchWriteResult struct {
	Succeeded []string
	Failed    []BatchItemError
}

// Store defines the interface for event persistence.
// Implementations must preserve JSON value types across round-trips
// and omit absent optional fields rather than writing nulls.
type Store interface {
	// Put persists an event, overwriting any previous version.
	Put(ctx context.Context, ev *Event) error

	// Get retrieves an event by ID. Returns ErrNotFound when absent.
	Get(ctx context.Context, id string) (*Event, error)

	// GetByIdempotencyKey looks up the event stored for the
	// (ownerID, key) pair. Returns ErrNotFound when absent or when
	// ownerID is empty (no global deduplication).
	GetByIdempotencyKey(ctx context.Context, ownerID, key string) (*Event, error)

	// List returns events matching the options, newest first.
	List(ctx context.Context, opts ListOptions) (ListResult, error)

	// Delete removes an event by ID. Deleting an absent ID is not
	// an error.
	Delete(ctx context.Context, id string) error

	// BatchPut persists events in store-native chunks, reporting
	// per-item failures.
	BatchPut(ctx context.Context, evs []*Event) (BatchWriteResult, error)

	// BatchGet retrieves the events that exist among ids, in
	// arbitrary order.
	BatchGet(ctx context.Context, ids []string) ([]*Event, error)

	// BatchDelete removes events in store-native chunks, reporting
	// per-item failures.
	BatchDelete(ctx context.Context, ids []string) (BatchWriteResult, error)
}
