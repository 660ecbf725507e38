package archiver

import (
	"context"
	"encoding/json"
	"time"

	"github.com/hexrift/zentla-sub005/internal/kafka"
	"github.com/hexrift/zentla-sub005/internal/model"
	"github.com/hexrift/zentla-sub005/internal/repository"
	"go.uber.org/zap"
)

// Consumer is the slice of the Kafka consumer the worker needs.
type Consumer interface {
	Fetch(ctx context.Context) (kafka.Message, error)
	Commit(ctx context.Context, msgs ...kafka.Message) error
}

// Worker consumes delivery-attempt records from Kafka and batch-inserts them
// into ClickHouse with size/time-based flushing.
type Worker struct {
	Consumer Consumer
	Attempts repository.CHAttemptsRepository
	Log      *zap.Logger

	BatchSize int           // max buffered rows per flush
	BatchWait time.Duration // max time to wait before flush
}

func New(consumer Consumer, attemptsRepo repository.CHAttemptsRepository, log *zap.Logger) *Worker {
	if log == nil {
		log = zap.NewNop()
	}
	return &Worker{
		Consumer:  consumer,
		Attempts:  attemptsRepo,
		Log:       log,
		BatchSize: 500,
		BatchWait: time.Second,
	}
}

// Run blocks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	if w.BatchSize <= 0 {
		w.BatchSize = 500
	}
	if w.BatchWait <= 0 {
		w.BatchWait = time.Second
	}

	msgCh := make(chan kafka.Message, w.BatchSize)

	// fetcher goroutine
	go func() {
		defer close(msgCh)
		for {
			m, err := w.Consumer.Fetch(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				w.Log.Error("archiver fetch failed", zap.Error(err))
				time.Sleep(200 * time.Millisecond)
				continue
			}
			msgCh <- m
		}
	}()

	tick := time.NewTicker(w.BatchWait)
	defer tick.Stop()

	var (
		rows    []model.DeliveryAttempt
		pending []kafka.Message
	)

	flush := func() {
		if len(rows) == 0 {
			return
		}
		if err := w.Attempts.InsertBatch(ctx, rows); err != nil {
			// leave offsets uncommitted; the batch is re-read after restart
			w.Log.Error("archiver insert failed", zap.Int("rows", len(rows)), zap.Error(err))
			return
		}
		if err := w.Consumer.Commit(ctx, pending...); err != nil {
			w.Log.Error("archiver commit failed", zap.Error(err))
		}
		rows = rows[:0]
		pending = pending[:0]
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return ctx.Err()
		case <-tick.C:
			flush()
		case m, ok := <-msgCh:
			if !ok {
				flush()
				return ctx.Err()
			}
			var a model.DeliveryAttempt
			if err := json.Unmarshal(m.Value, &a); err != nil {
				// poison message: commit and skip
				w.Log.Error("archiver bad attempt json", zap.Error(err))
				_ = w.Consumer.Commit(ctx, m)
				continue
			}
			rows = append(rows, a)
			pending = append(pending, m)
			if len(rows) >= w.BatchSize {
				flush()
			}
		}
	}
}
