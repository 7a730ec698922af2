// Package noop provides a queue that drops everything, for
// deployments without a retry queue. Failed pushes stay pending until
// acknowledged or replayed.
package noop

import (
	"context"

	"github.com/felixgeelhaar/relay-go/domain/event"
	"github.com/felixgeelhaar/relay-go/infrastructure/logging"
)

// Queue discards every message.
type Queue struct{}

// NewQueue creates a no-op queue.
func NewQueue() *Queue {
	return &Queue{}
}

// Send logs and drops the message.
func (q *Queue) Send(ctx context.Context, eventID string, body []byte) (string, error) {
	logging.Debug().
		Add(logging.EventID(eventID)).
		Msg("no retry queue configured, event stays pending")
	return "", nil
}

var _ event.Queue = (*Queue)(nil)
