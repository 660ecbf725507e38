package fanout

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/hexrift/zentla-sub005/internal/metrics"
	"github.com/hexrift/zentla-sub005/internal/model"
	"github.com/hexrift/zentla-sub005/internal/repository"
	"github.com/hexrift/zentla-sub005/internal/util"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

type Config struct {
	Interval  time.Duration // default 10s
	BatchSize int           // default 100
	Lease     time.Duration // default 60s
	WorkerID  string
}

// Stats aggregates one tick's outcome.
type Stats struct {
	Claimed     int
	Processed   int
	NoEndpoints int
	Errors      int
	Created     int // delivery records materialized
}

// Engine periodically turns pending outbox events into per-endpoint delivery
// records. Per-event failures are logged and left for the next tick; they
// never abort the batch.
type Engine struct {
	db        *sqlx.DB
	outbox    repository.OutboxRepository
	endpoints repository.EndpointsRepository
	deliver   repository.DeliveriesRepository
	cfg       Config
	log       *zap.Logger
	now       func() time.Time
	running   atomic.Bool
}

func New(
	db *sqlx.DB,
	outboxRepo repository.OutboxRepository,
	endpointsRepo repository.EndpointsRepository,
	deliveriesRepo repository.DeliveriesRepository,
	cfg Config,
	log *zap.Logger,
) *Engine {
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Lease <= 0 {
		cfg.Lease = time.Minute
	}
	if cfg.WorkerID == "" {
		cfg.WorkerID = "fanout-" + util.New()
	}
	if log == nil {
		log = zap.NewNop()
	}

	return &Engine{
		db:        db,
		outbox:    outboxRepo,
		endpoints: endpointsRepo,
		deliver:   deliveriesRepo,
		cfg:       cfg,
		log:       log,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Run blocks until ctx is cancelled, executing one tick per interval. A tick
// is skipped when the previous one is still in flight.
func (e *Engine) Run(ctx context.Context) error {
	e.log.Info("fanout engine started",
		zap.String("worker_id", e.cfg.WorkerID),
		zap.Duration("interval", e.cfg.Interval),
		zap.Int("batch_size", e.cfg.BatchSize),
	)

	ticker := time.NewTicker(e.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.log.Info("fanout engine stopped")
			return ctx.Err()
		case <-ticker.C:
			if !e.running.CompareAndSwap(false, true) {
				e.log.Warn("fanout tick skipped, previous still running")
				continue
			}
			stats := e.RunOnce(ctx)
			e.running.Store(false)
			if stats.Claimed > 0 || stats.Errors > 0 {
				e.log.Info("fanout tick completed",
					zap.Int("claimed", stats.Claimed),
					zap.Int("processed", stats.Processed),
					zap.Int("no_endpoints", stats.NoEndpoints),
					zap.Int("created", stats.Created),
					zap.Int("errors", stats.Errors),
				)
			}
		}
	}
}

// RunOnce executes a single fan-out pass.
func (e *Engine) RunOnce(ctx context.Context) Stats {
	now := e.now()

	events, err := e.outbox.ClaimPending(ctx, e.cfg.WorkerID, e.cfg.BatchSize, now, e.cfg.Lease)
	if err != nil {
		e.log.Error("fanout claim failed", zap.Error(err))
		return Stats{Errors: 1}
	}

	stats := Stats{Claimed: len(events)}
	for _, ev := range events {
		created, err := e.fanOutOne(ctx, ev)
		if err != nil {
			stats.Errors++
			metrics.FanOutEventsTotal.WithLabelValues("error").Inc()
			e.log.Error("fanout event failed",
				zap.Int64("event_id", ev.ID),
				zap.String("event_type", ev.EventType),
				zap.Error(err),
			)
			// leave it pending for the next tick
			if rerr := e.outbox.Release(ctx, ev.ID); rerr != nil {
				e.log.Error("fanout release failed", zap.Int64("event_id", ev.ID), zap.Error(rerr))
			}
			continue
		}

		stats.Processed++
		stats.Created += created
		if created == 0 {
			stats.NoEndpoints++
			metrics.FanOutEventsTotal.WithLabelValues("no_endpoints").Inc()
		} else {
			metrics.FanOutEventsTotal.WithLabelValues("processed").Inc()
		}
	}

	return stats
}

// fanOutOne materializes one delivery record per matching active endpoint
// and marks the outbox event processed, in a single transaction. Zero
// matching endpoints is not an error; the event is still processed.
func (e *Engine) fanOutOne(ctx context.Context, ev model.OutboxEvent) (int, error) {
	eps, err := e.endpoints.ListActiveSubscribed(ctx, ev.WorkspaceID, ev.EventType)
	if err != nil {
		return 0, err
	}

	now := e.now()
	if len(eps) == 0 {
		return 0, e.outbox.MarkProcessed(ctx, nil, ev.ID, now)
	}

	rows := make([]model.WebhookEvent, 0, len(eps))
	for _, ep := range eps {
		rows = append(rows, model.WebhookEvent{
			ID:            util.New(),
			WorkspaceID:   ev.WorkspaceID,
			EndpointID:    ep.ID,
			OutboxEventID: ev.ID,
			EventType:     ev.EventType,
			Payload:       ev.Payload,
			Status:        model.DeliveryPending,
		})
	}

	err = e.withTx(ctx, func(tx *sqlx.Tx) error {
		if err := e.deliver.BulkInsert(ctx, tx, rows); err != nil {
			return err
		}
		return e.outbox.MarkProcessed(ctx, tx, ev.ID, now)
	})
	if err != nil {
		return 0, err
	}

	return len(rows), nil
}

func (e *Engine) withTx(ctx context.Context, fn func(*sqlx.Tx) error) error {
	if e.db == nil {
		return fn(nil)
	}
	tx, err := e.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}
