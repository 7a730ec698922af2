package event

import "strings"

// Field resolves a dotted field path against the event, walking into
// payload and metadata objects. The second return is false when the
// path does not resolve. Used by the filter engine for in-memory
// condition evaluation.
func (e *Event) Field(path string) (any, bool) {
	switch path {
	case "event_id":
		return e.ID, true
	case "event_type":
		return e.Type, true
	case "status":
		return string(e.Status), true
	case "created_at":
		return e.CreatedAt, true
	case "delivered_at":
		if e.DeliveredAt == nil {
			return nil, false
		}
		return *e.DeliveredAt, true
	case "delivery_attempts":
		return e.DeliveryAttempts, true
	case "user_id":
		if e.OwnerID == "" {
			return nil, false
		}
		return e.OwnerID, true
	case "idempotency_key":
		if e.IdempotencyKey == "" {
			return nil, false
		}
		return e.IdempotencyKey, true
	}

	parts := strings.Split(path, ".")
	var current any
	switch parts[0] {
	case "payload":
		current = e.Payload
	case "metadata":
		if e.Metadata == nil {
			return nil, false
		}
		current = e.Metadata
	default:
		return nil, false
	}

	for _, part := range parts[1:] {
		obj, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = obj[part]
		if !ok {
			return nil, false
		}
	}

	if len(parts) == 1 {
		// Bare "payload" or "metadata" is not a filterable scalar.
		return nil, false
	}

	return current, true
}
