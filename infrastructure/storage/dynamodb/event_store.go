package dynamodb

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"sort"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/felixgeelhaar/relay-go/domain/event"
	"github.com/felixgeelhaar/relay-go/domain/filter"
)

// timeFormat is fixed-width so the created_at range key sorts
// chronologically under DynamoDB's lexicographic ordering.
const timeFormat = "2006-01-02T15:04:05.000Z07:00"

// batchWriteChunk is the DynamoDB BatchWriteItem item cap.
const batchWriteChunk = 25

// batchGetChunk is the DynamoDB BatchGetItem item cap.
const batchGetChunk = 100

// unprocessedRetries bounds re-submission of unprocessed batch items.
const unprocessedRetries = 3

// eventItem represents an event in DynamoDB. Payload and metadata are
// stored as JSON strings so number/string/bool distinctions survive
// the round-trip.
type eventItem struct {
	ID               string `dynamodbav:"id"`
	EventType        string `dynamodbav:"event_type"`
	Payload          string `dynamodbav:"payload"`
	Metadata         string `dynamodbav:"metadata,omitempty"`
	Status           string `dynamodbav:"status"`
	CreatedAt        string `dynamodbav:"created_at"`
	DeliveredAt      string `dynamodbav:"delivered_at,omitempty"`
	DeliveryAttempts int    `dynamodbav:"delivery_attempts"`
	UserID           string `dynamodbav:"user_id,omitempty"`
	IdempotencyKey   string `dynamodbav:"idempotency_key,omitempty"`
}

// EventStore is a DynamoDB-backed implementation of event.Store.
type EventStore struct {
	client       *dynamodb.Client
	tableName    string
	queryTimeout time.Duration
}

// NewEventStore creates a new DynamoDB event store.
func NewEventStore(client *Client) *EventStore {
	return &EventStore{
		client:       client.DynamoDB(),
		tableName:    client.config.EventsTableName,
		queryTimeout: client.config.QueryTimeout,
	}
}

// Put persists an event, overwriting any previous version.
func (s *EventStore) Put(ctx context.Context, ev *event.Event) error {
	if ev.ID == "" {
		return event.ErrInvalidID
	}

	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	item, err := toItem(ev)
	if err != nil {
		return err
	}
	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return err
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      av,
	})
	if err != nil {
		return s.wrapError(err)
	}
	return nil
}

// Get retrieves an event by ID.
func (s *EventStore) Get(ctx context.Context, id string) (*event.Event, error) {
	if id == "" {
		return nil, event.ErrInvalidID
	}

	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"id": &types.AttributeValueMemberS{Value: id},
		},
	})
	if err != nil {
		return nil, s.wrapError(err)
	}

	if result.Item == nil {
		return nil, event.ErrNotFound
	}

	var item eventItem
	if err := attributevalue.UnmarshalMap(result.Item, &item); err != nil {
		return nil, err
	}
	return fromItem(&item)
}

// GetByIdempotencyKey looks up the event stored for the (ownerID,
// key) pair via the idempotency index.
func (s *EventStore) GetByIdempotencyKey(ctx context.Context, ownerID, key string) (*event.Event, error) {
	if ownerID == "" || key == "" {
		return nil, event.ErrNotFound
	}

	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	keyCond := expression.Key("user_id").Equal(expression.Value(ownerID)).
		And(expression.Key("idempotency_key").Equal(expression.Value(key)))
	expr, err := expression.NewBuilder().WithKeyCondition(keyCond).Build()
	if err != nil {
		return nil, err
	}

	result, err := s.client.Query(ctx, &dynamodb.QueryInput{
		TableName:                 aws.String(s.tableName),
		IndexName:                 aws.String(IdempotencyIndexName),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		Limit:                     aws.Int32(1),
	})
	if err != nil {
		return nil, s.wrapError(err)
	}

	if len(result.Items) == 0 {
		return nil, event.ErrNotFound
	}

	var item eventItem
	if err := attributevalue.UnmarshalMap(result.Items[0], &item); err != nil {
		return nil, err
	}
	return fromItem(&item)
}

// List returns events matching the options, newest first. Status
// queries run against the status index in descending created_at
// order; unfiltered listings scan the table and sort the page.
func (s *EventStore) List(ctx context.Context, opts event.ListOptions) (event.ListResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	limit := opts.Limit
	if limit <= 0 {
		limit = event.DefaultListLimit
	}

	startKey, err := decodeCursor(opts.Cursor)
	if err != nil {
		return event.ListResult{}, &event.ValidationError{Field: "cursor", Reason: "malformed cursor"}
	}

	filterCond, hasFilter, err := buildFilterCondition(opts)
	if err != nil {
		return event.ListResult{}, err
	}

	if opts.Status != "" {
		return s.queryByStatus(ctx, opts.Status, limit, startKey, filterCond, hasFilter)
	}
	return s.scanAll(ctx, limit, startKey, filterCond, hasFilter)
}

func (s *EventStore) queryByStatus(ctx context.Context, status event.Status, limit int, startKey map[string]types.AttributeValue, filterCond expression.ConditionBuilder, hasFilter bool) (event.ListResult, error) {
	builder := expression.NewBuilder().
		WithKeyCondition(expression.Key("status").Equal(expression.Value(string(status))))
	if hasFilter {
		builder = builder.WithFilter(filterCond)
	}
	expr, err := builder.Build()
	if err != nil {
		return event.ListResult{}, err
	}

	input := &dynamodb.QueryInput{
		TableName:                 aws.String(s.tableName),
		IndexName:                 aws.String(StatusIndexName),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ScanIndexForward:          aws.Bool(false),
		Limit:                     aws.Int32(int32(limit)),
		ExclusiveStartKey:         startKey,
	}
	if hasFilter {
		input.FilterExpression = expr.Filter()
	}

	result, err := s.client.Query(ctx, input)
	if err != nil {
		return event.ListResult{}, s.wrapError(err)
	}

	events, err := unmarshalItems(result.Items)
	if err != nil {
		return event.ListResult{}, err
	}

	return event.ListResult{
		Events:     events,
		NextCursor: encodeCursor(result.LastEvaluatedKey),
	}, nil
}

func (s *EventStore) scanAll(ctx context.Context, limit int, startKey map[string]types.AttributeValue, filterCond expression.ConditionBuilder, hasFilter bool) (event.ListResult, error) {
	input := &dynamodb.ScanInput{
		TableName:         aws.String(s.tableName),
		Limit:             aws.Int32(int32(limit)),
		ExclusiveStartKey: startKey,
	}
	if hasFilter {
		expr, err := expression.NewBuilder().WithFilter(filterCond).Build()
		if err != nil {
			return event.ListResult{}, err
		}
		input.FilterExpression = expr.Filter()
		input.ExpressionAttributeNames = expr.Names()
		input.ExpressionAttributeValues = expr.Values()
	}

	result, err := s.client.Scan(ctx, input)
	if err != nil {
		return event.ListResult{}, s.wrapError(err)
	}

	events, err := unmarshalItems(result.Items)
	if err != nil {
		return event.ListResult{}, err
	}

	sort.Slice(events, func(i, j int) bool {
		if events[i].CreatedAt.Equal(events[j].CreatedAt) {
			return events[i].ID > events[j].ID
		}
		return events[i].CreatedAt.After(events[j].CreatedAt)
	})

	return event.ListResult{
		Events:     events,
		NextCursor: encodeCursor(result.LastEvaluatedKey),
	}, nil
}

// Delete removes an event by ID. Absent IDs are not an error.
func (s *EventStore) Delete(ctx context.Context, id string) error {
	if id == "" {
		return event.ErrInvalidID
	}

	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"id": &types.AttributeValueMemberS{Value: id},
		},
	})
	if err != nil {
		return s.wrapError(err)
	}
	return nil
}

// BatchPut persists events in chunks of 25, reporting per-item
// failures instead of aborting the batch.
func (s *EventStore) BatchPut(ctx context.Context, evs []*event.Event) (event.BatchWriteResult, error) {
	var res event.BatchWriteResult

	for start := 0; start < len(evs); start += batchWriteChunk {
		end := min(start+batchWriteChunk, len(evs))
		chunk := evs[start:end]

		requests := make([]types.WriteRequest, 0, len(chunk))
		byID := make(map[string]*event.Event, len(chunk))
		for _, ev := range chunk {
			item, err := toItem(ev)
			if err != nil {
				res.Failed = append(res.Failed, event.BatchItemError{ID: ev.ID, Reason: err.Error()})
				continue
			}
			av, err := attributevalue.MarshalMap(item)
			if err != nil {
				res.Failed = append(res.Failed, event.BatchItemError{ID: ev.ID, Reason: err.Error()})
				continue
			}
			requests = append(requests, types.WriteRequest{
				PutRequest: &types.PutRequest{Item: av},
			})
			byID[ev.ID] = ev
		}
		if len(requests) == 0 {
			continue
		}

		unprocessed, err := s.writeWithRetry(ctx, requests)
		if err != nil {
			for id := range byID {
				res.Failed = append(res.Failed, event.BatchItemError{ID: id, Reason: err.Error()})
			}
			continue
		}

		failedIDs := make(map[string]bool)
		for _, req := range unprocessed {
			if req.PutRequest == nil {
				continue
			}
			if id, ok := itemID(req.PutRequest.Item); ok {
				failedIDs[id] = true
				res.Failed = append(res.Failed, event.BatchItemError{ID: id, Reason: "unprocessed after retries"})
			}
		}
		for id := range byID {
			if !failedIDs[id] {
				res.Succeeded = append(res.Succeeded, id)
			}
		}
	}

	return res, nil
}

// BatchGet retrieves the events that exist among ids.
func (s *EventStore) BatchGet(ctx context.Context, ids []string) ([]*event.Event, error) {
	var out []*event.Event

	for start := 0; start < len(ids); start += batchGetChunk {
		end := min(start+batchGetChunk, len(ids))
		chunk := ids[start:end]

		keys := make([]map[string]types.AttributeValue, 0, len(chunk))
		for _, id := range chunk {
			keys = append(keys, map[string]types.AttributeValue{
				"id": &types.AttributeValueMemberS{Value: id},
			})
		}

		for attempt := 0; len(keys) > 0 && attempt <= unprocessedRetries; attempt++ {
			reqCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
			result, err := s.client.BatchGetItem(reqCtx, &dynamodb.BatchGetItemInput{
				RequestItems: map[string]types.KeysAndAttributes{
					s.tableName: {Keys: keys},
				},
			})
			cancel()
			if err != nil {
				return nil, s.wrapError(err)
			}

			for _, raw := range result.Responses[s.tableName] {
				var item eventItem
				if err := attributevalue.UnmarshalMap(raw, &item); err != nil {
					return nil, err
				}
				ev, err := fromItem(&item)
				if err != nil {
					return nil, err
				}
				out = append(out, ev)
			}

			keys = nil
			if ka, ok := result.UnprocessedKeys[s.tableName]; ok {
				keys = ka.Keys
			}
		}
	}

	return out, nil
}

// BatchDelete removes events in chunks of 25, reporting per-item
// failures.
func (s *EventStore) BatchDelete(ctx context.Context, ids []string) (event.BatchWriteResult, error) {
	var res event.BatchWriteResult

	for start := 0; start < len(ids); start += batchWriteChunk {
		end := min(start+batchWriteChunk, len(ids))
		chunk := ids[start:end]

		requests := make([]types.WriteRequest, 0, len(chunk))
		for _, id := range chunk {
			requests = append(requests, types.WriteRequest{
				DeleteRequest: &types.DeleteRequest{
					Key: map[string]types.AttributeValue{
						"id": &types.AttributeValueMemberS{Value: id},
					},
				},
			})
		}

		unprocessed, err := s.writeWithRetry(ctx, requests)
		if err != nil {
			for _, id := range chunk {
				res.Failed = append(res.Failed, event.BatchItemError{ID: id, Reason: err.Error()})
			}
			continue
		}

		failedIDs := make(map[string]bool)
		for _, req := range unprocessed {
			if req.DeleteRequest == nil {
				continue
			}
			if id, ok := itemID(req.DeleteRequest.Key); ok {
				failedIDs[id] = true
				res.Failed = append(res.Failed, event.BatchItemError{ID: id, Reason: "unprocessed after retries"})
			}
		}
		for _, id := range chunk {
			if !failedIDs[id] {
				res.Succeeded = append(res.Succeeded, id)
			}
		}
	}

	return res, nil
}

// writeWithRetry submits one BatchWriteItem chunk, re-submitting
// unprocessed items a bounded number of times.
func (s *EventStore) writeWithRetry(ctx context.Context, requests []types.WriteRequest) ([]types.WriteRequest, error) {
	for attempt := 0; len(requests) > 0 && attempt <= unprocessedRetries; attempt++ {
		reqCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
		result, err := s.client.BatchWriteItem(reqCtx, &dynamodb.BatchWriteItemInput{
			RequestItems: map[string][]types.WriteRequest{
				s.tableName: requests,
			},
		})
		cancel()
		if err != nil {
			return nil, s.wrapError(err)
		}

		requests = result.UnprocessedItems[s.tableName]
	}
	return requests, nil
}

// buildFilterCondition turns native filter conditions and the owner
// scope into one DynamoDB filter expression.
func buildFilterCondition(opts event.ListOptions) (expression.ConditionBuilder, bool, error) {
	var cond expression.ConditionBuilder
	has := false

	add := func(c expression.ConditionBuilder) {
		if has {
			cond = cond.And(c)
		} else {
			cond = c
			has = true
		}
	}

	if opts.OwnerID != "" {
		add(expression.Name("user_id").Equal(expression.Value(opts.OwnerID)))
	}

	for _, c := range opts.Conditions {
		if !c.Native() {
			continue
		}
		built, err := conditionToExpression(c)
		if err != nil {
			return expression.ConditionBuilder{}, false, err
		}
		add(built)
	}

	return cond, has, nil
}

// conditionToExpression maps one parsed condition onto the expression
// builder.
func conditionToExpression(c filter.Condition) (expression.ConditionBuilder, error) {
	name := expression.Name(attributeName(c.Field))
	value := expression.Value(conditionValue(c))

	switch c.Op {
	case filter.OpEq:
		return name.Equal(value), nil
	case filter.OpNe:
		return name.NotEqual(value), nil
	case filter.OpGt:
		return name.GreaterThan(value), nil
	case filter.OpGte:
		return name.GreaterThanEqual(value), nil
	case filter.OpLt:
		return name.LessThan(value), nil
	case filter.OpLte:
		return name.LessThanEqual(value), nil
	case filter.OpContains:
		return name.Contains(c.Value), nil
	case filter.OpStartsWith:
		return name.BeginsWith(c.Value), nil
	default:
		return expression.ConditionBuilder{}, &event.ValidationError{Field: c.Field, Reason: "unsupported operator"}
	}
}

// attributeName maps wire field names to stored attribute names.
func attributeName(field string) string {
	if field == "event_id" {
		return "id"
	}
	return field
}

// conditionValue normalizes a condition's string value to the stored
// representation: timestamps to the table's fixed-width format,
// numbers to numbers, everything else as-is.
func conditionValue(c filter.Condition) any {
	if c.Kind == filter.KindDate {
		if t, ok := parseTimestamp(c.Value); ok {
			return t.UTC().Format(timeFormat)
		}
		return c.Value
	}
	if c.Field == "delivery_attempts" {
		if n, err := strconv.ParseFloat(c.Value, 64); err == nil {
			return n
		}
	}
	return c.Value
}

func parseTimestamp(s string) (time.Time, bool) {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func unmarshalItems(raw []map[string]types.AttributeValue) ([]*event.Event, error) {
	events := make([]*event.Event, 0, len(raw))
	for _, r := range raw {
		var item eventItem
		if err := attributevalue.UnmarshalMap(r, &item); err != nil {
			return nil, err
		}
		ev, err := fromItem(&item)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, nil
}

// toItem converts an Event to a DynamoDB item.
func toItem(ev *event.Event) (*eventItem, error) {
	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		return nil, err
	}

	item := &eventItem{
		ID:               ev.ID,
		EventType:        ev.Type,
		Payload:          string(payload),
		Status:           string(ev.Status),
		CreatedAt:        ev.CreatedAt.UTC().Format(timeFormat),
		DeliveryAttempts: ev.DeliveryAttempts,
		UserID:           ev.OwnerID,
		IdempotencyKey:   ev.IdempotencyKey,
	}

	if ev.Metadata != nil {
		metadata, err := json.Marshal(ev.Metadata)
		if err != nil {
			return nil, err
		}
		item.Metadata = string(metadata)
	}

	if ev.DeliveredAt != nil {
		item.DeliveredAt = ev.DeliveredAt.UTC().Format(timeFormat)
	}

	return item, nil
}

// fromItem converts a DynamoDB item to an Event.
func fromItem(item *eventItem) (*event.Event, error) {
	ev := &event.Event{
		ID:               item.ID,
		Type:             item.EventType,
		Status:           event.Status(item.Status),
		DeliveryAttempts: item.DeliveryAttempts,
		OwnerID:          item.UserID,
		IdempotencyKey:   item.IdempotencyKey,
	}

	if err := json.Unmarshal([]byte(item.Payload), &ev.Payload); err != nil {
		return nil, err
	}
	if item.Metadata != "" {
		if err := json.Unmarshal([]byte(item.Metadata), &ev.Metadata); err != nil {
			return nil, err
		}
	}

	if item.CreatedAt != "" {
		t, err := time.Parse(timeFormat, item.CreatedAt)
		if err != nil {
			return nil, err
		}
		ev.CreatedAt = t
	}
	if item.DeliveredAt != "" {
		t, err := time.Parse(timeFormat, item.DeliveredAt)
		if err != nil {
			return nil, err
		}
		ev.DeliveredAt = &t
	}

	return ev, nil
}

// itemID extracts the id attribute from a raw item or key.
func itemID(attrs map[string]types.AttributeValue) (string, bool) {
	v, ok := attrs["id"]
	if !ok {
		return "", false
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", false
	}
	return s.Value, true
}

// cursorKey is the JSON form of a pagination key. All key attributes
// in this table and its indexes are strings.
type cursorKey map[string]string

func encodeCursor(lastKey map[string]types.AttributeValue) string {
	if len(lastKey) == 0 {
		return ""
	}
	key := make(cursorKey, len(lastKey))
	for k, v := range lastKey {
		if s, ok := v.(*types.AttributeValueMemberS); ok {
			key[k] = s.Value
		}
	}
	raw, err := json.Marshal(key)
	if err != nil {
		return ""
	}
	return base64.RawURLEncoding.EncodeToString(raw)
}

func decodeCursor(cursor string) (map[string]types.AttributeValue, error) {
	if cursor == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return nil, err
	}
	var key cursorKey
	if err := json.Unmarshal(raw, &key); err != nil {
		return nil, err
	}
	out := make(map[string]types.AttributeValue, len(key))
	for k, v := range key {
		out[k] = &types.AttributeValueMemberS{Value: v}
	}
	return out, nil
}

// wrapError wraps DynamoDB errors with the domain sentinel so callers
// can classify without importing SDK types.
func (s *EventStore) wrapError(err error) error {
	if err == nil {
		return nil
	}
	return errors.Join(event.ErrStoreUnavailable, err)
}

var _ event.Store = (*EventStore)(nil)
