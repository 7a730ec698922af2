// Package event provides the core Event entity and the collaborator
// interfaces for persistence, queueing and outbound delivery.
package event

import (
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status is the delivery state of an event.
type Status string

const (
	// StatusPending means the event is stored but not yet delivered.
	StatusPending Status = "pending"

	// StatusDelivered means the event reached the consumer.
	StatusDelivered Status = "delivered"

	// StatusFailed is reserved for administrative use; no lifecycle
	// path transitions into it.
	StatusFailed Status = "failed"

	// StatusReplayed means an explicit replay succeeded.
	StatusReplayed Status = "replayed"
)

// Valid reports whether s is a member of the status domain.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusDelivered, StatusFailed, StatusReplayed:
		return true
	}
	return false
}

// MaxTypeLength is the maximum length of an event type.
const MaxTypeLength = 100

// MaxIdempotencyKeyLength is the maximum length of an idempotency key.
const MaxIdempotencyKeyLength = 256

// MaxReplayAttempts is the hard ceiling on delivery attempts before
// replay is refused. The counter is shared between automatic retries
// and explicit replays.
const MaxReplayAttempts = 10

var (
	typePattern           = regexp.MustCompile(`^[a-z0-9._]+$`)
	idPattern             = regexp.MustCompile(`^evt_[a-z0-9]{12}$`)
	idempotencyKeyPattern = regexp.MustCompile(`^[A-Za-z0-9._:-]+$`)
)

// Event is the sole persistent entity: an ingested application event
// with its delivery bookkeeping.
type Event struct {
	// ID is the opaque unique identifier, evt_ plus twelve lowercase
	// alphanumerics, immutable after creation.
	ID string `json:"event_id"`

	// Type classifies the event, e.g. "order.created".
	Type string `json:"event_type"`

	// Payload is the event body. Always a non-empty JSON object.
	Payload map[string]any `json:"payload"`

	// Metadata is optional caller-supplied context. May be nil.
	Metadata map[string]any `json:"metadata,omitempty"`

	// Status is the current delivery state.
	Status Status `json:"status"`

	// CreatedAt is set once at ingestion, never mutated.
	CreatedAt time.Time `json:"created_at"`

	// DeliveredAt is non-nil iff the event has been delivered since
	// its last reset to pending.
	DeliveredAt *time.Time `json:"delivered_at,omitempty"`

	// DeliveryAttempts counts every delivery attempt, success or
	// failure. Never decremented.
	DeliveryAttempts int `json:"delivery_attempts"`

	// OwnerID identifies the creating principal. Empty when the
	// identity layer is disabled.
	OwnerID string `json:"user_id,omitempty"`

	// IdempotencyKey is the client-supplied dedup token, unique per
	// (OwnerID, IdempotencyKey) pair when both are set.
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// NewID generates a fresh event identifier.
func NewID() string {
	hex := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "evt_" + hex[:12]
}

// ValidID reports whether id matches the event identifier shape.
func ValidID(id string) bool {
	return idPattern.MatchString(id)
}

// ValidateType checks the event type naming rules.
func ValidateType(t string) error {
	if t == "" {
		return &ValidationError{Field: "event_type", Reason: "must not be empty"}
	}
	if len(t) > MaxTypeLength {
		return &ValidationError{Field: "event_type", Reason: "must be at most 100 characters"}
	}
	if !typePattern.MatchString(t) {
		return &ValidationError{Field: "event_type", Reason: "must contain only lowercase letters, numbers, dots, and underscores"}
	}
	return nil
}

// ValidatePayload checks that the payload is a non-empty object.
func ValidatePayload(p map[string]any) error {
	if p == nil {
		return &ValidationError{Field: "payload", Reason: "must be an object"}
	}
	if len(p) == 0 {
		return &ValidationError{Field: "payload", Reason: "must not be empty"}
	}
	return nil
}

// ValidateIdempotencyKey checks the idempotency key format. An empty
// key is valid (absent).
func ValidateIdempotencyKey(k string) error {
	if k == "" {
		return nil
	}
	if len(k) > MaxIdempotencyKeyLength {
		return &ValidationError{Field: "idempotency_key", Reason: "must be at most 256 characters"}
	}
	if !idempotencyKeyPattern.MatchString(k) {
		return &ValidationError{Field: "idempotency_key", Reason: "must contain only letters, numbers, dots, underscores, colons, and hyphens"}
	}
	return nil
}

// New validates the inputs and constructs a pending event with a
// fresh ID. Expected validation failures come back as errors the
// caller branches on; no partially constructed event escapes.
func New(eventType string, payload, metadata map[string]any, ownerID, idempotencyKey string, now time.Time) (*Event, error) {
	if err := ValidateType(eventType); err != nil {
		return nil, err
	}
	if err := ValidatePayload(payload); err != nil {
		return nil, err
	}
	if err := ValidateIdempotencyKey(idempotencyKey); err != nil {
		return nil, err
	}

	return &Event{
		ID:               NewID(),
		Type:             eventType,
		Payload:          payload,
		Metadata:         metadata,
		Status:           StatusPending,
		CreatedAt:        now.UTC(),
		DeliveryAttempts: 0,
		OwnerID:          ownerID,
		IdempotencyKey:   idempotencyKey,
	}, nil
}

// MarkDelivered records a successful delivery attempt.
func (e *Event) MarkDelivered(now time.Time) {
	t := now.UTC()
	e.Status = StatusDelivered
	e.DeliveredAt = &t
	e.DeliveryAttempts++
}

// MarkReplayed records a successful explicit replay.
func (e *Event) MarkReplayed(now time.Time) {
	t := now.UTC()
	e.Status = StatusReplayed
	e.DeliveredAt = &t
	e.DeliveryAttempts++
}

// ResetPending returns the event to the pending state for redelivery.
func (e *Event) ResetPending() {
	e.Status = StatusPending
	e.DeliveredAt = nil
}

// OwnedBy reports whether the caller may mutate the event. Ownership
// checks are disabled uniformly when either side has no identity.
func (e *Event) OwnedBy(callerID string) bool {
	if e.OwnerID == "" || callerID == "" {
		return true
	}
	return e.OwnerID == callerID
}
