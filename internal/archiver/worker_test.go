package archiver

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hexrift/zentla-sub005/internal/kafka"
	"github.com/hexrift/zentla-sub005/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedConsumer struct {
	mu        sync.Mutex
	msgs      []kafka.Message
	committed []kafka.Message
}

func (c *scriptedConsumer) Fetch(ctx context.Context) (kafka.Message, error) {
	c.mu.Lock()
	if len(c.msgs) > 0 {
		m := c.msgs[0]
		c.msgs = c.msgs[1:]
		c.mu.Unlock()
		return m, nil
	}
	c.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (c *scriptedConsumer) Commit(ctx context.Context, msgs ...kafka.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.committed = append(c.committed, msgs...)
	return nil
}

type fakeCHRepo struct {
	mu        sync.Mutex
	batches   [][]model.DeliveryAttempt
	insertErr error
}

func (f *fakeCHRepo) InsertBatch(ctx context.Context, rows []model.DeliveryAttempt) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return f.insertErr
	}
	cp := make([]model.DeliveryAttempt, len(rows))
	copy(cp, rows)
	f.batches = append(f.batches, cp)
	return nil
}

func (f *fakeCHRepo) ListByWorkspace(ctx context.Context, workspaceID int64, endpointID, result string, limit, offset int) ([]model.DeliveryAttempt, error) {
	return nil, nil
}

func attemptMsg(t *testing.T, id string, offset int64) kafka.Message {
	t.Helper()
	b, err := json.Marshal(model.DeliveryAttempt{
		DeliveryID:  id,
		WorkspaceID: 10,
		EndpointID:  "ep-1",
		EventType:   "invoice.paid",
		Attempt:     1,
		Result:      model.AttemptDelivered,
		StatusCode:  200,
		AttemptedAt: time.Now().UTC(),
	})
	require.NoError(t, err)
	return kafka.Message{Value: b, Offset: offset}
}

func TestWorkerFlushesAndCommits(t *testing.T) {
	consumer := &scriptedConsumer{msgs: []kafka.Message{
		attemptMsg(t, "d-1", 1),
		attemptMsg(t, "d-2", 2),
	}}
	repo := &fakeCHRepo{}

	w := New(consumer, repo, nil)
	w.BatchSize = 2
	w.BatchWait = time.Hour // force size-based flush

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	err := w.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	require.Len(t, repo.batches, 1)
	require.Len(t, repo.batches[0], 2)
	assert.Equal(t, "d-1", repo.batches[0][0].DeliveryID)
	assert.Len(t, consumer.committed, 2)
}

func TestWorkerSkipsPoisonMessages(t *testing.T) {
	consumer := &scriptedConsumer{msgs: []kafka.Message{
		{Value: []byte("not json"), Offset: 1},
		attemptMsg(t, "d-1", 2),
	}}
	repo := &fakeCHRepo{}

	w := New(consumer, repo, nil)
	w.BatchSize = 1
	w.BatchWait = time.Hour

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	_ = w.Run(ctx)

	require.Len(t, repo.batches, 1)
	assert.Equal(t, "d-1", repo.batches[0][0].DeliveryID)
	// the poison message is committed too, so it is never re-read
	assert.Len(t, consumer.committed, 2)
}

func TestWorkerKeepsOffsetsOnInsertFailure(t *testing.T) {
	consumer := &scriptedConsumer{msgs: []kafka.Message{attemptMsg(t, "d-1", 1)}}
	repo := &fakeCHRepo{insertErr: errors.New("clickhouse down")}

	w := New(consumer, repo, nil)
	w.BatchSize = 1
	w.BatchWait = time.Hour

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	_ = w.Run(ctx)

	assert.Empty(t, repo.batches)
	assert.Empty(t, consumer.committed, "offsets must stay uncommitted when the insert fails")
}
