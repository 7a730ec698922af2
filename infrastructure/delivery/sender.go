// Package delivery implements the outbound webhook client and the
// retry policy applied by the queue worker.
package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/felixgeelhaar/relay-go/domain/event"
	"github.com/felixgeelhaar/relay-go/infrastructure/logging"
)

// envelope is the wire form posted to the consumer.
type envelope struct {
	EventID   string         `json:"event_id"`
	EventType string         `json:"event_type"`
	Payload   map[string]any `json:"payload"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// SenderConfig configures the HTTP sender.
type SenderConfig struct {
	// URL is the consumer webhook endpoint. Empty disables push
	// delivery entirely; every attempt reports failure.
	URL string

	// Timeout is the HTTP request timeout.
	Timeout time.Duration

	// UserAgent is the User-Agent header value.
	UserAgent string
}

// DefaultSenderConfig returns sensible default configuration.
func DefaultSenderConfig() SenderConfig {
	return SenderConfig{
		Timeout:   10 * time.Second,
		UserAgent: "relay-webhook/1.0",
	}
}

// Sender posts events to the configured consumer endpoint. It makes
// exactly one attempt per call and reports the outcome as a bool;
// retry decisions belong to the caller.
type Sender struct {
	config SenderConfig
	client *http.Client
}

// NewSender creates a new HTTP sender.
func NewSender(config SenderConfig) *Sender {
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	if config.UserAgent == "" {
		config.UserAgent = "relay-webhook/1.0"
	}

	return &Sender{
		config: config,
		client: &http.Client{
			Timeout: config.Timeout,
		},
	}
}

// Deliver posts the event to the consumer. Any failure, whether a
// non-2xx status, a transport error, or a context deadline, counts
// as a failed attempt.
func (s *Sender) Deliver(ctx context.Context, ev *event.Event) bool {
	if s.config.URL == "" {
		return false
	}

	body, err := json.Marshal(envelope{
		EventID:   ev.ID,
		EventType: ev.Type,
		Payload:   ev.Payload,
		Metadata:  ev.Metadata,
		CreatedAt: ev.CreatedAt,
	})
	if err != nil {
		logging.Error().
			Add(logging.EventID(ev.ID)).
			Add(logging.ErrorField(err)).
			Msg("failed to serialize delivery envelope")
		return false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.URL, bytes.NewReader(body))
	if err != nil {
		logging.Error().
			Add(logging.EventID(ev.ID)).
			Add(logging.ErrorField(err)).
			Msg("failed to create delivery request")
		return false
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", s.config.UserAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		logging.Warn().
			Add(logging.EventID(ev.ID)).
			Add(logging.WebhookURL(s.config.URL)).
			Add(logging.ErrorField(err)).
			Msg("delivery request failed")
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		logging.Warn().
			Add(logging.EventID(ev.ID)).
			Add(logging.WebhookURL(s.config.URL)).
			Add(logging.StatusCode(resp.StatusCode)).
			Msg("consumer rejected delivery")
		return false
	}

	logging.Debug().
		Add(logging.EventID(ev.ID)).
		Add(logging.StatusCode(resp.StatusCode)).
		Msg("delivery accepted")
	return true
}
