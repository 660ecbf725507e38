package delivery

import (
	"context"
	"encoding/json"
	"sync"
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
	Interval          time.Duration // default 5s
	BatchSize         int           // default 50
	Lease             time.Duration // default 60s
	Timeout           time.Duration // default 30s, per attempt
	MaxRetries        int           // default 5
	InitialDelay      time.Duration // default 1s
	BackoffMultiplier float64       // default 2
	MaxDelay          time.Duration // default 300s
	ErrorMaxLen       int           // default 1000
	WorkerID          string
}

// Stats aggregates one tick's outcome.
type Stats struct {
	Claimed      int64
	Delivered    int64
	Retried      int64
	DeadLettered int64
	Errors       int64 // store errors, not delivery failures
}

// AttemptPublisher receives one audit record per HTTP try. Publishing is
// best-effort; a publish failure never affects the delivery outcome.
type AttemptPublisher interface {
	Publish(ctx context.Context, a model.DeliveryAttempt) error
}

// Engine periodically claims due delivery records and attempts them
// concurrently. Each attempt is independent: a failure schedules a backoff
// retry or dead-letters the record, and never raises past the tick.
type Engine struct {
	db          *sqlx.DB
	deliveries  repository.DeliveriesRepository
	endpoints   repository.EndpointsRepository
	deadLetters repository.DeadLettersRepository
	sender      Sender
	attempts    AttemptPublisher // optional
	cfg         Config
	log         *zap.Logger
	now         func() time.Time
	running     atomic.Bool
}

func New(
	db *sqlx.DB,
	deliveriesRepo repository.DeliveriesRepository,
	endpointsRepo repository.EndpointsRepository,
	deadLettersRepo repository.DeadLettersRepository,
	sender Sender,
	attempts AttemptPublisher,
	cfg Config,
	log *zap.Logger,
) *Engine {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.Lease <= 0 {
		cfg.Lease = time.Minute
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = time.Second
	}
	if cfg.BackoffMultiplier < 1 {
		cfg.BackoffMultiplier = 2
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 300 * time.Second
	}
	if cfg.ErrorMaxLen <= 0 {
		cfg.ErrorMaxLen = 1000
	}
	if cfg.WorkerID == "" {
		cfg.WorkerID = "delivery-" + util.New()
	}
	if sender == nil {
		sender = NewHTTPSender(cfg.Timeout)
	}
	if log == nil {
		log = zap.NewNop()
	}

	return &Engine{
		db:          db,
		deliveries:  deliveriesRepo,
		endpoints:   endpointsRepo,
		deadLetters: deadLettersRepo,
		sender:      sender,
		attempts:    attempts,
		cfg:         cfg,
		log:         log,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Run blocks until ctx is cancelled, executing one tick per interval. A tick
// is skipped when the previous one is still in flight.
func (e *Engine) Run(ctx context.Context) error {
	e.log.Info("delivery engine started",
		zap.String("worker_id", e.cfg.WorkerID),
		zap.Duration("interval", e.cfg.Interval),
		zap.Int("batch_size", e.cfg.BatchSize),
		zap.Int("max_retries", e.cfg.MaxRetries),
	)

	ticker := time.NewTicker(e.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.log.Info("delivery engine stopped")
			return ctx.Err()
		case <-ticker.C:
			if !e.running.CompareAndSwap(false, true) {
				e.log.Warn("delivery tick skipped, previous still running")
				continue
			}
			stats := e.RunOnce(ctx)
			e.running.Store(false)
			if stats.Claimed > 0 || stats.Errors > 0 {
				e.log.Info("delivery tick completed",
					zap.Int64("claimed", stats.Claimed),
					zap.Int64("delivered", stats.Delivered),
					zap.Int64("retried", stats.Retried),
					zap.Int64("dead_lettered", stats.DeadLettered),
					zap.Int64("errors", stats.Errors),
				)
			}
		}
	}
}

// RunOnce executes a single delivery pass. All claimed records are attempted
// concurrently; sibling failures do not cancel each other.
func (e *Engine) RunOnce(ctx context.Context) Stats {
	now := e.now()

	rows, err := e.deliveries.ClaimDue(ctx, e.cfg.WorkerID, e.cfg.BatchSize, now, e.cfg.Lease)
	if err != nil {
		e.log.Error("delivery claim failed", zap.Error(err))
		return Stats{Errors: 1}
	}

	var stats Stats
	stats.Claimed = int64(len(rows))

	var wg sync.WaitGroup
	for _, row := range rows {
		wg.Add(1)
		go func(row model.DueDelivery) {
			defer wg.Done()
			e.attemptOne(ctx, row, &stats)
		}(row)
	}
	wg.Wait()

	return stats
}

func (e *Engine) attemptOne(ctx context.Context, row model.DueDelivery, stats *Stats) {
	attemptAt := e.now()
	env := model.Envelope{
		ID:        row.ID,
		Type:      row.EventType,
		Timestamp: attemptAt,
		Data:      row.Payload,
	}

	callCtx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	outcome := e.sender.Send(callCtx, row.EndpointURL, row.EndpointSecret, env)
	cancel()

	attempts := row.Attempts + 1

	switch {
	case outcome.Success():
		if err := e.markDelivered(ctx, row, outcome.StatusCode, attemptAt); err != nil {
			atomic.AddInt64(&stats.Errors, 1)
			e.log.Error("mark delivered failed", zap.String("delivery_id", row.ID), zap.Error(err))
			return
		}
		atomic.AddInt64(&stats.Delivered, 1)
		metrics.DeliveriesTotal.WithLabelValues(model.AttemptDelivered).Inc()
		e.publishAttempt(ctx, row, attempts, model.AttemptDelivered, outcome, attemptAt)

	case attempts >= e.cfg.MaxRetries:
		detail := util.Truncate(outcome.Detail(), e.cfg.ErrorMaxLen)
		if err := e.deadLetter(ctx, row, attempts, attemptAt, detail); err != nil {
			atomic.AddInt64(&stats.Errors, 1)
			e.log.Error("dead letter failed", zap.String("delivery_id", row.ID), zap.Error(err))
			return
		}
		atomic.AddInt64(&stats.DeadLettered, 1)
		metrics.DeliveriesTotal.WithLabelValues(model.AttemptDeadLettered).Inc()
		metrics.DeadLettersTotal.Inc()
		e.publishAttempt(ctx, row, attempts, model.AttemptDeadLettered, outcome, attemptAt)

	default:
		detail := util.Truncate(outcome.Detail(), e.cfg.ErrorMaxLen)
		nextRetryAt := attemptAt.Add(e.backoffDelay(attempts))
		if err := e.deliveries.ScheduleRetry(ctx, row.ID, attempts, attemptAt, nextRetryAt, detail); err != nil {
			atomic.AddInt64(&stats.Errors, 1)
			e.log.Error("schedule retry failed", zap.String("delivery_id", row.ID), zap.Error(err))
			return
		}
		atomic.AddInt64(&stats.Retried, 1)
		metrics.DeliveriesTotal.WithLabelValues(model.AttemptRetried).Inc()
		e.publishAttempt(ctx, row, attempts, model.AttemptRetried, outcome, attemptAt)
	}
}

// markDelivered commits the delivered status together with the endpoint
// success stats; one never lands without the other.
func (e *Engine) markDelivered(ctx context.Context, row model.DueDelivery, statusCode int, at time.Time) error {
	return e.withTx(ctx, func(tx *sqlx.Tx) error {
		if err := e.deliveries.MarkDelivered(ctx, tx, row.ID, statusCode, at); err != nil {
			return err
		}
		return e.endpoints.RecordSuccess(ctx, tx, row.EndpointID, statusCode, at)
	})
}

// deadLetter commits the failed status, the dead-letter row, and the
// endpoint failure stats as one transaction.
func (e *Engine) deadLetter(ctx context.Context, row model.DueDelivery, attempts int, at time.Time, detail string) error {
	dl := model.DeadLetterEvent{
		ID:              util.New(),
		WorkspaceID:     row.WorkspaceID,
		OriginalEventID: row.ID,
		EndpointID:      row.EndpointID,
		EventType:       row.EventType,
		Payload:         row.Payload,
		FailureReason:   detail,
		Attempts:        attempts,
		LastAttemptAt:   at,
	}

	return e.withTx(ctx, func(tx *sqlx.Tx) error {
		if err := e.deliveries.MarkFailed(ctx, tx, row.ID, attempts, at, detail); err != nil {
			return err
		}
		if err := e.deadLetters.Insert(ctx, tx, dl); err != nil {
			return err
		}
		return e.endpoints.RecordFailure(ctx, tx, row.EndpointID, detail, at)
	})
}

// backoffDelay computes min(initial × multiplier^(attempts-1), max).
func (e *Engine) backoffDelay(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	delay := float64(e.cfg.InitialDelay)
	for i := 1; i < attempts; i++ {
		delay *= e.cfg.BackoffMultiplier
		if time.Duration(delay) >= e.cfg.MaxDelay {
			return e.cfg.MaxDelay
		}
	}
	d := time.Duration(delay)
	if d > e.cfg.MaxDelay || d < 0 {
		return e.cfg.MaxDelay
	}
	return d
}

func (e *Engine) publishAttempt(ctx context.Context, row model.DueDelivery, attempts int, result string, outcome Outcome, at time.Time) {
	if e.attempts == nil {
		return
	}
	a := model.DeliveryAttempt{
		DeliveryID:  row.ID,
		WorkspaceID: row.WorkspaceID,
		EndpointID:  row.EndpointID,
		EventType:   row.EventType,
		Attempt:     attempts,
		Result:      result,
		StatusCode:  outcome.StatusCode,
		DurationMs:  outcome.Duration.Milliseconds(),
		AttemptedAt: at,
	}
	if outcome.Err != nil {
		a.Error = util.Truncate(outcome.Err.Error(), e.cfg.ErrorMaxLen)
	}
	if err := e.attempts.Publish(ctx, a); err != nil {
		e.log.Warn("attempt publish failed", zap.String("delivery_id", row.ID), zap.Error(err))
	}
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

// KafkaAttemptPublisher marshals attempts as JSON keyed by delivery id.
type KafkaAttemptPublisher struct {
	Producer interface {
		Publish(ctx context.Context, key, value []byte) error
	}
}

func (p *KafkaAttemptPublisher) Publish(ctx context.Context, a model.DeliveryAttempt) error {
	b, err := json.Marshal(a)
	if err != nil {
		return err
	}
	return p.Producer.Publish(ctx, []byte(a.DeliveryID), b)
}
