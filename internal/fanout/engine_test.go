package fanout

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hexrift/zentla-sub005/internal/model"
	"github.com/hexrift/zentla-sub005/internal/repository"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeOutboxRepo struct {
	mu        sync.Mutex
	pending   []model.OutboxEvent
	processed map[int64]bool
	released  map[int64]bool
}

func newFakeOutboxRepo(evs ...model.OutboxEvent) *fakeOutboxRepo {
	return &fakeOutboxRepo{
		pending:   evs,
		processed: map[int64]bool{},
		released:  map[int64]bool{},
	}
}

func (f *fakeOutboxRepo) Insert(ctx context.Context, tx *sqlx.Tx, ev *model.OutboxEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	ev.ID = int64(len(f.pending) + 1)
	f.pending = append(f.pending, *ev)
	return nil
}

func (f *fakeOutboxRepo) ClaimPending(ctx context.Context, workerID string, limit int, now time.Time, lease time.Duration) ([]model.OutboxEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.OutboxEvent
	for _, ev := range f.pending {
		if f.processed[ev.ID] {
			continue
		}
		out = append(out, ev)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeOutboxRepo) MarkProcessed(ctx context.Context, tx *sqlx.Tx, id int64, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.processed[id] = true
	return nil
}

func (f *fakeOutboxRepo) Release(ctx context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released[id] = true
	return nil
}

type fakeEndpointsRepo struct {
	byWorkspace map[int64][]model.WebhookEndpoint
	listErr     error
}

func (f *fakeEndpointsRepo) Insert(ctx context.Context, tx *sqlx.Tx, ep *model.WebhookEndpoint) error {
	f.byWorkspace[ep.WorkspaceID] = append(f.byWorkspace[ep.WorkspaceID], *ep)
	return nil
}

func (f *fakeEndpointsRepo) GetByID(ctx context.Context, id string) (*model.WebhookEndpoint, error) {
	for _, eps := range f.byWorkspace {
		for _, ep := range eps {
			if ep.ID == id {
				cp := ep
				return &cp, nil
			}
		}
	}
	return nil, nil
}

func (f *fakeEndpointsRepo) ListByWorkspace(ctx context.Context, workspaceID int64, limit, offset int) ([]model.WebhookEndpoint, error) {
	return f.byWorkspace[workspaceID], nil
}

func (f *fakeEndpointsRepo) ListActiveSubscribed(ctx context.Context, workspaceID int64, eventType string) ([]model.WebhookEndpoint, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []model.WebhookEndpoint
	for _, ep := range f.byWorkspace[workspaceID] {
		if ep.Status == model.EndpointActive && ep.Events.Contains(eventType) {
			out = append(out, ep)
		}
	}
	return out, nil
}

func (f *fakeEndpointsRepo) Update(ctx context.Context, id string, upd repository.EndpointUpdate) error {
	return nil
}
func (f *fakeEndpointsRepo) UpdateSecret(ctx context.Context, id, secret string) error { return nil }
func (f *fakeEndpointsRepo) Delete(ctx context.Context, id string) error               { return nil }
func (f *fakeEndpointsRepo) RecordSuccess(ctx context.Context, tx *sqlx.Tx, id string, statusCode int, at time.Time) error {
	return nil
}
func (f *fakeEndpointsRepo) RecordFailure(ctx context.Context, tx *sqlx.Tx, id string, errMsg string, at time.Time) error {
	return nil
}

type fakeDeliveriesRepo struct {
	mu        sync.Mutex
	inserted  []model.WebhookEvent
	insertErr error
}

func (f *fakeDeliveriesRepo) Insert(ctx context.Context, tx *sqlx.Tx, ev model.WebhookEvent) error {
	return f.BulkInsert(ctx, tx, []model.WebhookEvent{ev})
}

func (f *fakeDeliveriesRepo) BulkInsert(ctx context.Context, tx *sqlx.Tx, evs []model.WebhookEvent) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inserted = append(f.inserted, evs...)
	return nil
}

func (f *fakeDeliveriesRepo) ClaimDue(ctx context.Context, workerID string, limit int, now time.Time, lease time.Duration) ([]model.DueDelivery, error) {
	return nil, nil
}
func (f *fakeDeliveriesRepo) MarkDelivered(ctx context.Context, tx *sqlx.Tx, id string, statusCode int, at time.Time) error {
	return nil
}
func (f *fakeDeliveriesRepo) ScheduleRetry(ctx context.Context, id string, attempts int, attemptAt, nextRetryAt time.Time, detail string) error {
	return nil
}
func (f *fakeDeliveriesRepo) MarkFailed(ctx context.Context, tx *sqlx.Tx, id string, attempts int, attemptAt time.Time, detail string) error {
	return nil
}
func (f *fakeDeliveriesRepo) GetByID(ctx context.Context, id string) (*model.WebhookEvent, error) {
	return nil, nil
}

func endpoint(id string, workspaceID int64, status model.EndpointStatus, events ...string) model.WebhookEndpoint {
	return model.WebhookEndpoint{
		ID:          id,
		WorkspaceID: workspaceID,
		URL:         "https://example.com/" + id,
		Secret:      "whsec_" + id,
		Events:      events,
		Status:      status,
	}
}

func outboxEvent(id, workspaceID int64, eventType string) model.OutboxEvent {
	return model.OutboxEvent{
		ID:          id,
		WorkspaceID: workspaceID,
		EventType:   eventType,
		Payload:     json.RawMessage(`{"k":"v"}`),
		Status:      model.OutboxPending,
	}
}

func TestRunOnceCreatesOneDeliveryPerMatchingEndpoint(t *testing.T) {
	outbox := newFakeOutboxRepo(outboxEvent(1, 10, "invoice.paid"))
	endpoints := &fakeEndpointsRepo{byWorkspace: map[int64][]model.WebhookEndpoint{
		10: {
			endpoint("ep-1", 10, model.EndpointActive, "invoice.paid"),
			endpoint("ep-2", 10, model.EndpointActive, "invoice.paid", "invoice.payment_failed"),
			endpoint("ep-3", 10, model.EndpointActive, "subscription.created"), // not subscribed
			endpoint("ep-4", 10, model.EndpointDisabled, "invoice.paid"),      // disabled
		},
	}}
	deliveries := &fakeDeliveriesRepo{}

	eng := New(nil, outbox, endpoints, deliveries, Config{WorkerID: "w1"}, nil)
	stats := eng.RunOnce(context.Background())

	assert.Equal(t, 1, stats.Claimed)
	assert.Equal(t, 1, stats.Processed)
	assert.Equal(t, 2, stats.Created)
	assert.Equal(t, 0, stats.Errors)

	require.Len(t, deliveries.inserted, 2)
	seen := map[string]bool{}
	for _, d := range deliveries.inserted {
		seen[d.EndpointID] = true
		assert.NotEmpty(t, d.ID)
		assert.Equal(t, int64(1), d.OutboxEventID)
		assert.Equal(t, "invoice.paid", d.EventType)
		assert.Equal(t, model.DeliveryPending, d.Status)
		assert.JSONEq(t, `{"k":"v"}`, string(d.Payload))
	}
	assert.True(t, seen["ep-1"])
	assert.True(t, seen["ep-2"])
	assert.True(t, outbox.processed[1])
}

func TestRunOnceZeroEndpointsStillProcessed(t *testing.T) {
	outbox := newFakeOutboxRepo(outboxEvent(7, 10, "invoice.paid"))
	endpoints := &fakeEndpointsRepo{byWorkspace: map[int64][]model.WebhookEndpoint{}}
	deliveries := &fakeDeliveriesRepo{}

	eng := New(nil, outbox, endpoints, deliveries, Config{WorkerID: "w1"}, nil)
	stats := eng.RunOnce(context.Background())

	assert.Equal(t, 1, stats.Processed)
	assert.Equal(t, 1, stats.NoEndpoints)
	assert.Empty(t, deliveries.inserted)
	assert.True(t, outbox.processed[7], "event without subscribers must not stay pending")
}

func TestRunOnceEventErrorIsIsolatedAndReleased(t *testing.T) {
	outbox := newFakeOutboxRepo(
		outboxEvent(1, 10, "invoice.paid"),
		outboxEvent(2, 20, "invoice.paid"),
	)
	endpoints := &fakeEndpointsRepo{byWorkspace: map[int64][]model.WebhookEndpoint{
		10: {endpoint("ep-1", 10, model.EndpointActive, "invoice.paid")},
		20: {endpoint("ep-2", 20, model.EndpointActive, "invoice.paid")},
	}}
	deliveries := &fakeDeliveriesRepo{insertErr: errors.New("db down")}

	eng := New(nil, outbox, endpoints, deliveries, Config{WorkerID: "w1"}, nil)
	stats := eng.RunOnce(context.Background())

	// both events fail at insert, both stay pending for the next tick
	assert.Equal(t, 2, stats.Errors)
	assert.Equal(t, 0, stats.Processed)
	assert.True(t, outbox.released[1])
	assert.True(t, outbox.released[2])
	assert.False(t, outbox.processed[1])

	// next tick with a healthy store drains them
	deliveries.insertErr = nil
	stats = eng.RunOnce(context.Background())
	assert.Equal(t, 2, stats.Processed)
	assert.Len(t, deliveries.inserted, 2)
}

func TestRunOnceDisabledEndpointGetsNothingNew(t *testing.T) {
	outbox := newFakeOutboxRepo(outboxEvent(1, 10, "subscription.canceled"))
	endpoints := &fakeEndpointsRepo{byWorkspace: map[int64][]model.WebhookEndpoint{
		10: {endpoint("ep-off", 10, model.EndpointDisabled, "subscription.canceled")},
	}}
	deliveries := &fakeDeliveriesRepo{}

	eng := New(nil, outbox, endpoints, deliveries, Config{WorkerID: "w1"}, nil)
	stats := eng.RunOnce(context.Background())

	assert.Equal(t, 0, stats.Created)
	assert.Equal(t, 1, stats.NoEndpoints)
	assert.True(t, outbox.processed[1])
}
