package event

import "context"

// Queue accepts event snapshots for asynchronous redelivery.
type Queue interface {
	// Send enqueues the serialized event snapshot and returns the
	// queue's message ID.
	Send(ctx context.Context, eventID string, body []byte) (string, error)
}

// Message is one queued snapshot handed to the drain worker.
type Message struct {
	// MessageID is the queue infrastructure's identifier, echoed
	// back when the message must be redelivered.
	MessageID string

	// Body is the JSON event snapshot captured at enqueue time.
	// Only the event ID inside it is trusted; current state is
	// re-read from the store before acting.
	Body []byte
}
