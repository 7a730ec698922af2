package dynamodb

import (
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/felixgeelhaar/relay-go/domain/event"
	"github.com/felixgeelhaar/relay-go/domain/filter"
)

func TestItemConversionRoundTrip(t *testing.T) {
	delivered := time.Date(2024, 6, 1, 12, 30, 0, 0, time.UTC)
	ev := &event.Event{
		ID:   "evt_abc123def456",
		Type: "order.created",
		Payload: map[string]any{
			"amount":   99.99,
			"order_id": "12345",
			"express":  true,
		},
		Metadata:         map[string]any{"source": "web"},
		Status:           event.StatusDelivered,
		CreatedAt:        time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
		DeliveredAt:      &delivered,
		DeliveryAttempts: 2,
		OwnerID:          "user-1",
		IdempotencyKey:   "key-1",
	}

	item, err := toItem(ev)
	if err != nil {
		t.Fatalf("toItem() error = %v", err)
	}

	got, err := fromItem(item)
	if err != nil {
		t.Fatalf("fromItem() error = %v", err)
	}

	// JSON value types survive the string encoding.
	if got.Payload["amount"] != 99.99 {
		t.Errorf("amount = %v (%T), want float64 99.99", got.Payload["amount"], got.Payload["amount"])
	}
	if got.Payload["order_id"] != "12345" {
		t.Errorf("order_id = %v (%T)", got.Payload["order_id"], got.Payload["order_id"])
	}
	if got.Payload["express"] != true {
		t.Errorf("express = %v (%T)", got.Payload["express"], got.Payload["express"])
	}
	if !got.CreatedAt.Equal(ev.CreatedAt) {
		t.Errorf("created_at = %v, want %v", got.CreatedAt, ev.CreatedAt)
	}
	if got.DeliveredAt == nil || !got.DeliveredAt.Equal(delivered) {
		t.Errorf("delivered_at = %v, want %v", got.DeliveredAt, delivered)
	}
	if got.DeliveryAttempts != 2 || got.OwnerID != "user-1" || got.IdempotencyKey != "key-1" {
		t.Errorf("bookkeeping fields lost: %+v", got)
	}
}

func TestItemOmitsAbsentOptionals(t *testing.T) {
	ev := &event.Event{
		ID:        "evt_abc123def456",
		Type:      "order.created",
		Payload:   map[string]any{"a": float64(1)},
		Status:    event.StatusPending,
		CreatedAt: time.Now().UTC(),
	}

	item, err := toItem(ev)
	if err != nil {
		t.Fatal(err)
	}
	if item.Metadata != "" {
		t.Errorf("metadata = %q, want empty for nil map", item.Metadata)
	}
	if item.DeliveredAt != "" {
		t.Errorf("delivered_at = %q, want empty", item.DeliveredAt)
	}

	got, err := fromItem(item)
	if err != nil {
		t.Fatal(err)
	}
	if got.Metadata != nil {
		t.Errorf("metadata = %v, want nil", got.Metadata)
	}
	if got.DeliveredAt != nil {
		t.Errorf("delivered_at = %v, want nil", got.DeliveredAt)
	}
}

func TestTimeFormatSortsLexicographically(t *testing.T) {
	earlier := time.Date(2024, 6, 1, 12, 0, 0, 500_000_000, time.UTC)
	later := time.Date(2024, 6, 1, 12, 0, 1, 0, time.UTC)

	a := earlier.Format(timeFormat)
	b := later.Format(timeFormat)
	if !(a < b) {
		t.Errorf("%q should sort before %q", a, b)
	}
}

func TestCursorRoundTrip(t *testing.T) {
	lastKey := map[string]types.AttributeValue{
		"id":         &types.AttributeValueMemberS{Value: "evt_abc123def456"},
		"status":     &types.AttributeValueMemberS{Value: "pending"},
		"created_at": &types.AttributeValueMemberS{Value: "2024-06-01T12:00:00.000Z"},
	}

	cursor := encodeCursor(lastKey)
	if cursor == "" {
		t.Fatal("encodeCursor() returned empty")
	}

	decoded, err := decodeCursor(cursor)
	if err != nil {
		t.Fatalf("decodeCursor() error = %v", err)
	}
	if len(decoded) != 3 {
		t.Fatalf("decoded %d attributes, want 3", len(decoded))
	}
	id, ok := decoded["id"].(*types.AttributeValueMemberS)
	if !ok || id.Value != "evt_abc123def456" {
		t.Errorf("decoded id = %v", decoded["id"])
	}
}

func TestCursorEmptyAndMalformed(t *testing.T) {
	if encodeCursor(nil) != "" {
		t.Error("encodeCursor(nil) should be empty")
	}
	if key, err := decodeCursor(""); err != nil || key != nil {
		t.Errorf("decodeCursor(\"\") = %v, %v", key, err)
	}
	if _, err := decodeCursor("!!bad!!"); err == nil {
		t.Error("decodeCursor(malformed) should fail")
	}
}

func TestAttributeName(t *testing.T) {
	if attributeName("event_id") != "id" {
		t.Error("event_id should map to the id attribute")
	}
	if attributeName("event_type") != "event_type" {
		t.Error("event_type should pass through")
	}
}

func TestConditionValueNormalization(t *testing.T) {
	date := filter.Condition{Field: "created_at", Op: filter.OpGte, Value: "2024-06-01", Kind: filter.KindDate}
	v := conditionValue(date)
	if v != "2024-06-01T00:00:00.000Z" {
		t.Errorf("date value = %v, want fixed-width timestamp", v)
	}

	attempts := filter.Condition{Field: "delivery_attempts", Op: filter.OpGte, Value: "3", Kind: filter.KindDirect}
	if v := conditionValue(attempts); v != float64(3) {
		t.Errorf("delivery_attempts value = %v (%T), want float64 3", v, v)
	}

	str := filter.Condition{Field: "event_type", Op: filter.OpEq, Value: "order.created", Kind: filter.KindDirect}
	if v := conditionValue(str); v != "order.created" {
		t.Errorf("string value = %v", v)
	}
}

func TestConditionToExpressionOperators(t *testing.T) {
	ops := []filter.Operator{
		filter.OpEq, filter.OpNe, filter.OpGt, filter.OpGte,
		filter.OpLt, filter.OpLte, filter.OpContains, filter.OpStartsWith,
	}
	for _, op := range ops {
		c := filter.Condition{Field: "event_type", Op: op, Value: "order", Kind: filter.KindDirect}
		if _, err := conditionToExpression(c); err != nil {
			t.Errorf("conditionToExpression(%s) error = %v", op, err)
		}
	}

	bad := filter.Condition{Field: "event_type", Op: filter.Operator("between"), Value: "x", Kind: filter.KindDirect}
	if _, err := conditionToExpression(bad); err == nil {
		t.Error("unknown operator should error")
	}
}
