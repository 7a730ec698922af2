package logging

import (
	"github.com/felixgeelhaar/bolt/v3"

	"github.com/felixgeelhaar/relay-go/domain/event"
)

// Field is a function that applies structured data to a log event.
type Field func(*bolt.Event) *bolt.Event

// Common field constructors for event delivery logging.

// EventID adds an event ID field.
func EventID(id string) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Str("event_id", id)
	}
}

// EventType adds an event type field.
func EventType(t string) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Str("event_type", t)
	}
}

// EventStatus adds a delivery status field.
func EventStatus(s event.Status) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Str("status", string(s))
	}
}

// Attempts adds a delivery attempts field.
func Attempts(n int) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Int("delivery_attempts", n)
	}
}

// OwnerID adds an owner field.
func OwnerID(id string) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Str("owner_id", id)
	}
}

// IdempotencyKey adds an idempotency key field.
func IdempotencyKey(key string) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Str("idempotency_key", key)
	}
}

// MessageID adds a queue message ID field.
func MessageID(id string) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Str("message_id", id)
	}
}

// Table adds a store table name field.
func Table(name string) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Str("table", name)
	}
}

// QueueURL adds a queue URL field.
func QueueURL(url string) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Str("queue_url", url)
	}
}

// WebhookURL adds a delivery destination field.
func WebhookURL(url string) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Str("webhook_url", url)
	}
}

// StatusCode adds an HTTP status code field.
func StatusCode(code int) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Int("status_code", code)
	}
}

// Count adds a count field.
func Count(n int) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Int("count", n)
	}
}

// Operation adds an operation field.
func Operation(op string) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Str("operation", op)
	}
}

// Reason adds a reason field.
func Reason(reason string) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Str("reason", reason)
	}
}

// ErrorField adds an error field.
func ErrorField(err error) Field {
	return func(e *bolt.Event) *bolt.Event {
		if err == nil {
			return e
		}
		return e.Err(err)
	}
}

// Str adds a string field with custom key.
func Str(key, value string) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Str(key, value)
	}
}
