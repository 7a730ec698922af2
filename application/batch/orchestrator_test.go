package batch

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/felixgeelhaar/relay-go/application/lifecycle"
	"github.com/felixgeelhaar/relay-go/domain/event"
	"github.com/felixgeelhaar/relay-go/domain/filter"
)

type mockStore struct {
	mu     sync.Mutex
	events map[string]*event.Event

	// failEveryNthPut makes BatchPut reject every Nth item it sees.
	failEveryNthPut int
	putSeen         int
}

func newMockStore() *mockStore {
	return &mockStore{events: make(map[string]*event.Event)}
}

func (m *mockStore) Put(_ context.Context, ev *event.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *ev
	m.events[ev.ID] = &cp
	return nil
}

func (m *mockStore) Get(_ context.Context, id string) (*event.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev, ok := m.events[id]
	if !ok {
		return nil, event.ErrNotFound
	}
	cp := *ev
	return &cp, nil
}

func (m *mockStore) GetByIdempotencyKey(_ context.Context, ownerID, key string) (*event.Event, error) {
	if ownerID == "" {
		return nil, event.ErrNotFound
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ev := range m.events {
		if ev.OwnerID == ownerID && ev.IdempotencyKey == key {
			cp := *ev
			return &cp, nil
		}
	}
	return nil, event.ErrNotFound
}

func (m *mockStore) List(_ context.Context, opts event.ListOptions) (event.ListResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*event.Event
	for _, ev := range m.events {
		if opts.Status != "" && ev.Status != opts.Status {
			continue
		}
		if opts.OwnerID != "" && ev.OwnerID != opts.OwnerID {
			continue
		}
		if !filter.Set(opts.Conditions).Matches(ev) {
			continue
		}
		cp := *ev
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return event.ListResult{Events: out}, nil
}

func (m *mockStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.events, id)
	return nil
}

func (m *mockStore) BatchPut(ctx context.Context, evs []*event.Event) (event.BatchWriteResult, error) {
	var res event.BatchWriteResult
	for _, ev := range evs {
		m.putSeen++
		if m.failEveryNthPut > 0 && m.putSeen%m.failEveryNthPut == 0 {
			res.Failed = append(res.Failed, event.BatchItemError{ID: ev.ID, Reason: "throttled"})
			continue
		}
		if err := m.Put(ctx, ev); err != nil {
			res.Failed = append(res.Failed, event.BatchItemError{ID: ev.ID, Reason: err.Error()})
			continue
		}
		res.Succeeded = append(res.Succeeded, ev.ID)
	}
	return res, nil
}

func (m *mockStore) BatchGet(ctx context.Context, ids []string) ([]*event.Event, error) {
	var out []*event.Event
	for _, id := range ids {
		if ev, err := m.Get(ctx, id); err == nil {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (m *mockStore) BatchDelete(ctx context.Context, ids []string) (event.BatchWriteResult, error) {
	var res event.BatchWriteResult
	for _, id := range ids {
		if err := m.Delete(ctx, id); err != nil {
			res.Failed = append(res.Failed, event.BatchItemError{ID: id, Reason: err.Error()})
			continue
		}
		res.Succeeded = append(res.Succeeded, id)
	}
	return res, nil
}

type mockQueue struct {
	mu   sync.Mutex
	sent []string
}

func (m *mockQueue) Send(_ context.Context, eventID string, _ []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, eventID)
	return "msg-1", nil
}

type mockDeliverer struct {
	succeed bool
}

func (m *mockDeliverer) Deliver(context.Context, *event.Event) bool {
	return m.succeed
}

func newOrchestrator(store *mockStore, deliver bool) (*Orchestrator, *mockQueue) {
	queue := &mockQueue{}
	svc := lifecycle.NewService(store, queue, &mockDeliverer{succeed: deliver}, nil,
		lifecycle.WithClock(func() time.Time {
			return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
		}))
	return New(svc, store, nil), queue
}

func createInput(eventType string) lifecycle.CreateInput {
	return lifecycle.CreateInput{
		Type:    eventType,
		Payload: map[string]any{"a": 1},
	}
}

func TestBatchCreatePartialSuccess(t *testing.T) {
	store := newMockStore()
	orch, _ := newOrchestrator(store, true)

	items := []lifecycle.CreateInput{
		createInput("order.created"),
		{Type: "", Payload: map[string]any{"a": 1}}, // invalid
		createInput("order.shipped"),
	}

	res, err := orch.Create(context.Background(), items)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if res.Summary.Total != 3 || res.Summary.Successful != 2 || res.Summary.Failed != 1 {
		t.Fatalf("summary = %+v", res.Summary)
	}

	bad := res.Results[1]
	if bad.Success {
		t.Error("invalid item reported success")
	}
	if bad.ErrorCode != CodeValidation {
		t.Errorf("error_code = %q, want %s", bad.ErrorCode, CodeValidation)
	}
	if bad.Index != 1 {
		t.Errorf("failed index = %d, want 1", bad.Index)
	}

	for _, i := range []int{0, 2} {
		if !res.Results[i].Success {
			t.Errorf("item %d failed: %+v", i, res.Results[i])
		}
		if res.Results[i].Event == nil {
			t.Errorf("item %d has no event", i)
		}
	}
	if len(store.events) != 2 {
		t.Errorf("store holds %d events, want 2", len(store.events))
	}
}

func TestBatchCreateCap(t *testing.T) {
	orch, _ := newOrchestrator(newMockStore(), true)

	items := make([]lifecycle.CreateInput, MaxBatchSize+1)
	for i := range items {
		items[i] = createInput("order.created")
	}

	if _, err := orch.Create(context.Background(), items); !event.IsValidation(err) {
		t.Errorf("Create(101 items) error = %v, want validation error", err)
	}
}

func TestBatchCreateIdempotentItems(t *testing.T) {
	store := newMockStore()
	orch, _ := newOrchestrator(store, true)

	first, err := orch.Create(context.Background(), []lifecycle.CreateInput{{
		Type:           "order.created",
		Payload:        map[string]any{"a": 1},
		IdempotencyKey: "key-1",
		OwnerID:        "user-1",
	}})
	if err != nil {
		t.Fatal(err)
	}

	res, err := orch.Create(context.Background(), []lifecycle.CreateInput{
		{Type: "order.created", Payload: map[string]any{"a": 1}, IdempotencyKey: "key-1", OwnerID: "user-1"},
		createInput("order.shipped"),
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Summary.Idempotent != 1 || res.Summary.Successful != 1 {
		t.Fatalf("summary = %+v, want 1 idempotent + 1 successful", res.Summary)
	}
	if res.Results[0].EventID != first.Results[0].EventID {
		t.Errorf("idempotent item ID = %q, want original %q", res.Results[0].EventID, first.Results[0].EventID)
	}
	if len(store.events) != 3 {
		t.Errorf("store holds %d events, want 3", len(store.events))
	}
}

func TestBatchCreateInBatchDedup(t *testing.T) {
	store := newMockStore()
	orch, _ := newOrchestrator(store, true)

	dup := lifecycle.CreateInput{
		Type:           "order.created",
		Payload:        map[string]any{"a": 1},
		IdempotencyKey: "key-1",
		OwnerID:        "user-1",
	}
	res, err := orch.Create(context.Background(), []lifecycle.CreateInput{dup, dup})
	if err != nil {
		t.Fatal(err)
	}
	if res.Summary.Successful != 1 || res.Summary.Idempotent != 1 {
		t.Fatalf("summary = %+v, want 1 successful + 1 idempotent", res.Summary)
	}
	if len(store.events) != 1 {
		t.Errorf("store holds %d events, want 1", len(store.events))
	}
}

func TestBatchCreateStoreFailureIsolated(t *testing.T) {
	store := newMockStore()
	orch, queue := newOrchestrator(store, false)

	res, err := orch.Create(context.Background(), []lifecycle.CreateInput{
		createInput("order.created"),
		createInput("order.shipped"),
	})
	if err != nil {
		t.Fatal(err)
	}
	// Delivery failed for both; both should be queued, not failed.
	if res.Summary.Successful != 2 {
		t.Fatalf("summary = %+v, want 2 successful despite failed push", res.Summary)
	}
	if len(queue.sent) != 2 {
		t.Errorf("queued %d events, want 2", len(queue.sent))
	}
	for _, r := range res.Results {
		if r.Event.Status != event.StatusPending {
			t.Errorf("item %d status = %q, want pending", r.Index, r.Event.Status)
		}
	}
}

func TestBatchCreateBulkWriteItemFailure(t *testing.T) {
	store := newMockStore()
	store.failEveryNthPut = 2
	orch, _ := newOrchestrator(store, true)

	res, err := orch.Create(context.Background(), []lifecycle.CreateInput{
		createInput("order.created"),
		createInput("order.shipped"),
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Summary.Successful != 1 || res.Summary.Failed != 1 {
		t.Fatalf("summary = %+v, want 1 successful + 1 failed", res.Summary)
	}
	if res.Results[1].ErrorCode != CodeStorage {
		t.Errorf("error_code = %q, want %s", res.Results[1].ErrorCode, CodeStorage)
	}
	if len(store.events) != 1 {
		t.Errorf("store holds %d events, want 1", len(store.events))
	}
}

func TestBatchCreateDuplicateFollowsWriteFailure(t *testing.T) {
	store := newMockStore()
	store.failEveryNthPut = 1 // every put fails
	orch, _ := newOrchestrator(store, true)

	dup := lifecycle.CreateInput{
		Type:           "order.created",
		Payload:        map[string]any{"a": 1},
		IdempotencyKey: "key-1",
		OwnerID:        "user-1",
	}
	res, err := orch.Create(context.Background(), []lifecycle.CreateInput{dup, dup})
	if err != nil {
		t.Fatal(err)
	}

	// The duplicate must not report an idempotent success for an
	// event that was never stored.
	if res.Summary.Failed != 2 || res.Summary.Idempotent != 0 {
		t.Fatalf("summary = %+v, want both items failed", res.Summary)
	}
	for _, r := range res.Results {
		if r.ErrorCode != CodeStorage {
			t.Errorf("item %d error_code = %q, want %s", r.Index, r.ErrorCode, CodeStorage)
		}
	}
	if len(store.events) != 0 {
		t.Errorf("store holds %d events, want 0", len(store.events))
	}
}

func TestBatchUpdateByIDs(t *testing.T) {
	store := newMockStore()
	orch, _ := newOrchestrator(store, false)

	created, err := orch.Create(context.Background(), []lifecycle.CreateInput{
		createInput("order.created"),
		createInput("order.shipped"),
	})
	if err != nil {
		t.Fatal(err)
	}

	ids := []string{created.Results[0].EventID, created.Results[1].EventID, "evt_000000000000"}
	res, err := orch.Update(context.Background(), Targets{IDs: ids}, lifecycle.UpdateInput{
		Payload: map[string]any{"updated": true},
	}, "")
	if err != nil {
		t.Fatal(err)
	}
	if res.Summary.Successful != 2 || res.Summary.Failed != 1 {
		t.Fatalf("summary = %+v", res.Summary)
	}
	if res.Results[2].ErrorCode != CodeNotFound {
		t.Errorf("missing target error_code = %q, want %s", res.Results[2].ErrorCode, CodeNotFound)
	}
}

func TestBatchDeleteFilterMode(t *testing.T) {
	store := newMockStore()
	orch, _ := newOrchestrator(store, false)

	if _, err := orch.Create(context.Background(), []lifecycle.CreateInput{
		createInput("order.created"),
		createInput("order.created"),
		createInput("user.created"),
	}); err != nil {
		t.Fatal(err)
	}

	res, err := orch.Delete(context.Background(), Targets{
		Filters: map[string]string{"event_type": "order.created"},
	}, "")
	if err != nil {
		t.Fatal(err)
	}
	if res.Summary.Total != 2 || res.Summary.Successful != 2 {
		t.Fatalf("summary = %+v", res.Summary)
	}
	if len(store.events) != 1 {
		t.Errorf("store holds %d events, want 1", len(store.events))
	}
}

func TestBatchDeleteIdempotentItems(t *testing.T) {
	store := newMockStore()
	orch, _ := newOrchestrator(store, false)

	created, _ := orch.Create(context.Background(), []lifecycle.CreateInput{createInput("order.created")})

	res, err := orch.Delete(context.Background(), Targets{
		IDs: []string{created.Results[0].EventID, "evt_000000000000"},
	}, "")
	if err != nil {
		t.Fatal(err)
	}
	if res.Summary.Successful != 1 || res.Summary.Idempotent != 1 {
		t.Fatalf("summary = %+v, want 1 successful + 1 idempotent", res.Summary)
	}
}

func TestBatchTargetsRequired(t *testing.T) {
	orch, _ := newOrchestrator(newMockStore(), false)

	if _, err := orch.Delete(context.Background(), Targets{}, ""); !event.IsValidation(err) {
		t.Errorf("Delete(no targets) error = %v, want validation error", err)
	}
}

func TestBatchFilterMatchingNothingIsEmptySuccess(t *testing.T) {
	orch, _ := newOrchestrator(newMockStore(), false)

	res, err := orch.Delete(context.Background(), Targets{
		Filters: map[string]string{"event_type": "no.such.type"},
	}, "")
	if err != nil {
		t.Fatalf("Delete() error = %v, want empty success", err)
	}
	if res.Summary.Total != 0 {
		t.Errorf("summary = %+v, want all zero", res.Summary)
	}
}

func TestBatchReplay(t *testing.T) {
	store := newMockStore()
	orch, _ := newOrchestrator(store, true)

	created, _ := orch.Create(context.Background(), []lifecycle.CreateInput{
		createInput("order.created"),
	})
	id := created.Results[0].EventID

	// Exhaust one target's attempts to exercise the failure path.
	exhausted, _ := orch.Create(context.Background(), []lifecycle.CreateInput{
		createInput("order.created"),
	})
	ev, _ := store.Get(context.Background(), exhausted.Results[0].EventID)
	ev.DeliveryAttempts = event.MaxReplayAttempts
	if err := store.Put(context.Background(), ev); err != nil {
		t.Fatal(err)
	}

	res, err := orch.Replay(context.Background(), Targets{IDs: []string{id, ev.ID}}, "reprocess", "")
	if err != nil {
		t.Fatal(err)
	}
	if res.Summary.Successful != 1 || res.Summary.Failed != 1 {
		t.Fatalf("summary = %+v", res.Summary)
	}
	if res.Results[1].ErrorCode != CodeReplayLimit {
		t.Errorf("error_code = %q, want %s", res.Results[1].ErrorCode, CodeReplayLimit)
	}
	if res.Results[0].Event.Status != event.StatusReplayed {
		t.Errorf("replayed status = %q", res.Results[0].Event.Status)
	}
}

func TestBatchTargetUnionDedup(t *testing.T) {
	store := newMockStore()
	orch, _ := newOrchestrator(store, false)

	created, _ := orch.Create(context.Background(), []lifecycle.CreateInput{
		createInput("order.created"),
	})
	id := created.Results[0].EventID

	// The explicit ID also matches the filter; it must appear once.
	res, err := orch.Delete(context.Background(), Targets{
		IDs:     []string{id},
		Filters: map[string]string{"event_type": "order.created"},
	}, "")
	if err != nil {
		t.Fatal(err)
	}
	if res.Summary.Total != 1 {
		t.Fatalf("summary = %+v, want exactly one target", res.Summary)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{&event.ValidationError{Field: "x", Reason: "y"}, CodeValidation},
		{event.ErrNotFound, CodeNotFound},
		{event.ErrForbidden, CodeForbidden},
		{event.ErrReplayLimit, CodeReplayLimit},
		{event.ErrStoreUnavailable, CodeStorage},
		{errors.New("anything else"), CodeStorage},
	}
	for _, tt := range tests {
		if got := classify(tt.err); got != tt.want {
			t.Errorf("classify(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}
