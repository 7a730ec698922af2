package event

import "context"

// Deliverer performs one outbound delivery attempt. The outcome is
// data, not control flow: any failure (non-2xx, timeout, transport
// error) reports false rather than an error, and the caller decides
// between push success and the queue fallback.
type Deliverer interface {
	Deliver(ctx context.Context, ev *Event) bool
}
