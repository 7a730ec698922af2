package delivery

import (
	"context"
	"errors"
	"time"

	"github.com/felixgeelhaar/fortify/retry"

	"github.com/felixgeelhaar/relay-go/domain/event"
)

// errDeliveryFailed signals a failed attempt to the retrier. It never
// escapes RetryPolicy.
var errDeliveryFailed = errors.New("delivery attempt failed")

// RetryConfig configures the worker-side retry policy.
type RetryConfig struct {
	// MaxAttempts is the number of delivery attempts per message.
	MaxAttempts int

	// InitialDelay is the delay before the second attempt.
	InitialDelay time.Duration

	// Multiplier is the exponential backoff multiplier.
	Multiplier float64
}

// DefaultRetryConfig returns the worker delivery retry defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  5,
		InitialDelay: 1 * time.Second,
		Multiplier:   2.0,
	}
}

// RetryPolicy wraps a Deliverer with exponential-backoff retries for
// the queue worker path. The push path stays single-attempt; only
// messages already in the retry queue get the full policy.
type RetryPolicy struct {
	deliverer event.Deliverer
	retrier   retry.Retry[struct{}]
}

// NewRetryPolicy creates a retrying deliverer.
func NewRetryPolicy(deliverer event.Deliverer, config RetryConfig) *RetryPolicy {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 5
	}
	if config.InitialDelay <= 0 {
		config.InitialDelay = 1 * time.Second
	}
	if config.Multiplier <= 0 {
		config.Multiplier = 2.0
	}

	return &RetryPolicy{
		deliverer: deliverer,
		retrier: retry.New[struct{}](retry.Config{
			MaxAttempts:   config.MaxAttempts,
			InitialDelay:  config.InitialDelay,
			BackoffPolicy: retry.BackoffExponential,
			Multiplier:    config.Multiplier,
		}),
	}
}

// Deliver attempts delivery until an attempt succeeds or the policy
// is exhausted.
func (p *RetryPolicy) Deliver(ctx context.Context, ev *event.Event) bool {
	_, err := p.retrier.Do(ctx, func(ctx context.Context) (struct{}, error) {
		if !p.deliverer.Deliver(ctx, ev) {
			return struct{}{}, errDeliveryFailed
		}
		return struct{}{}, nil
	})
	return err == nil
}
