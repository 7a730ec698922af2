package event

import (
	"testing"
	"time"
)

func TestNewID(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := NewID()
		if !ValidID(id) {
			t.Fatalf("NewID() = %q, does not match evt_<12 lowercase alnum>", id)
		}
		if seen[id] {
			t.Fatalf("NewID() produced duplicate %q", id)
		}
		seen[id] = true
	}
}

func TestValidateType(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		wantErr bool
	}{
		{"simple", "order.created", false},
		{"underscores", "user_signup.v2", false},
		{"empty", "", true},
		{"uppercase", "Order.Created", true},
		{"spaces", "order created", true},
		{"hyphen", "order-created", true},
		{"too long", string(make([]byte, 101)), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateType(tt.in)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateType(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
		})
	}
}

func TestValidatePayload(t *testing.T) {
	if err := ValidatePayload(nil); err == nil {
		t.Error("ValidatePayload(nil) = nil, want error")
	}
	if err := ValidatePayload(map[string]any{}); err == nil {
		t.Error("ValidatePayload(empty) = nil, want error")
	}
	if err := ValidatePayload(map[string]any{"k": 1}); err != nil {
		t.Errorf("ValidatePayload(valid) = %v, want nil", err)
	}
}

func TestValidateIdempotencyKey(t *testing.T) {
	tests := []struct {
		key     string
		wantErr bool
	}{
		{"", false},
		{"order-12345-2024.01.15", false},
		{"a:b_c", false},
		{"has space", true},
		{"has/slash", true},
	}

	for _, tt := range tests {
		err := ValidateIdempotencyKey(tt.key)
		if (err != nil) != tt.wantErr {
			t.Errorf("ValidateIdempotencyKey(%q) error = %v, wantErr %v", tt.key, err, tt.wantErr)
		}
	}
}

func TestNew(t *testing.T) {
	now := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)
	ev, err := New("order.created", map[string]any{"amount": 99.99}, nil, "user-1", "key-1", now)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if !ValidID(ev.ID) {
		t.Errorf("ID = %q, want evt_ prefix shape", ev.ID)
	}
	if ev.Status != StatusPending {
		t.Errorf("Status = %q, want pending", ev.Status)
	}
	if ev.DeliveryAttempts != 0 {
		t.Errorf("DeliveryAttempts = %d, want 0", ev.DeliveryAttempts)
	}
	if ev.DeliveredAt != nil {
		t.Errorf("DeliveredAt = %v, want nil", ev.DeliveredAt)
	}
	if !ev.CreatedAt.Equal(now) {
		t.Errorf("CreatedAt = %v, want %v", ev.CreatedAt, now)
	}
}

func TestNewRejectsBadInput(t *testing.T) {
	now := time.Now()
	if _, err := New("", map[string]any{"k": 1}, nil, "", "", now); !IsValidation(err) {
		t.Errorf("New with empty type: error = %v, want validation", err)
	}
	if _, err := New("ok.type", nil, nil, "", "", now); !IsValidation(err) {
		t.Errorf("New with nil payload: error = %v, want validation", err)
	}
	if _, err := New("ok.type", map[string]any{"k": 1}, nil, "", "bad key", now); !IsValidation(err) {
		t.Errorf("New with bad idempotency key: error = %v, want validation", err)
	}
}

func TestMarkDelivered(t *testing.T) {
	ev := &Event{Status: StatusPending}
	now := time.Now()

	ev.MarkDelivered(now)

	if ev.Status != StatusDelivered {
		t.Errorf("Status = %q, want delivered", ev.Status)
	}
	if ev.DeliveredAt == nil {
		t.Fatal("DeliveredAt = nil, want set")
	}
	if ev.DeliveryAttempts != 1 {
		t.Errorf("DeliveryAttempts = %d, want 1", ev.DeliveryAttempts)
	}
}

func TestResetPending(t *testing.T) {
	ev := &Event{Status: StatusDelivered, DeliveryAttempts: 3}
	ev.MarkDelivered(time.Now())

	ev.ResetPending()

	if ev.Status != StatusPending {
		t.Errorf("Status = %q, want pending", ev.Status)
	}
	if ev.DeliveredAt != nil {
		t.Errorf("DeliveredAt = %v, want nil", ev.DeliveredAt)
	}
	if ev.DeliveryAttempts != 4 {
		t.Errorf("DeliveryAttempts = %d, want 4 (never decremented)", ev.DeliveryAttempts)
	}
}

func TestOwnedBy(t *testing.T) {
	tests := []struct {
		name   string
		owner  string
		caller string
		want   bool
	}{
		{"no owner", "", "user-1", true},
		{"no caller", "user-1", "", true},
		{"match", "user-1", "user-1", true},
		{"mismatch", "user-1", "user-2", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := &Event{OwnerID: tt.owner}
			if got := ev.OwnedBy(tt.caller); got != tt.want {
				t.Errorf("OwnedBy(%q) = %v, want %v", tt.caller, got, tt.want)
			}
		})
	}
}

func TestFieldResolution(t *testing.T) {
	delivered := time.Date(2024, 1, 15, 11, 0, 0, 0, time.UTC)
	ev := &Event{
		ID:     "evt_abc123def456",
		Type:   "order.created",
		Status: StatusDelivered,
		Payload: map[string]any{
			"amount": 99.99,
			"customer": map[string]any{
				"email": "a@example.com",
			},
		},
		Metadata:    map[string]any{"source": "ecommerce"},
		DeliveredAt: &delivered,
	}

	tests := []struct {
		path   string
		want   any
		wantOK bool
	}{
		{"event_type", "order.created", true},
		{"status", "delivered", true},
		{"payload.amount", 99.99, true},
		{"payload.customer.email", "a@example.com", true},
		{"metadata.source", "ecommerce", true},
		{"payload.missing", nil, false},
		{"payload.amount.deeper", nil, false},
		{"payload", nil, false},
		{"unknown_field", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got, ok := ev.Field(tt.path)
			if ok != tt.wantOK {
				t.Fatalf("Field(%q) ok = %v, want %v", tt.path, ok, tt.wantOK)
			}
			if ok && got != tt.want {
				t.Errorf("Field(%q) = %v, want %v", tt.path, got, tt.want)
			}
		})
	}

	if _, ok := (&Event{}).Field("delivered_at"); ok {
		t.Error("Field(delivered_at) on undelivered event resolved, want absent")
	}
}
