package repository

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"time"

	"github.com/hexrift/zentla-sub005/internal/model"
	"github.com/jmoiron/sqlx"
)

// DeliveriesRepository defines persistence for the webhook_events table
// (one delivery lineage per outbox-event/endpoint pair).
type DeliveriesRepository interface {
	// Insert writes a single delivery record (used by dead-letter replay).
	Insert(ctx context.Context, tx *sqlx.Tx, ev model.WebhookEvent) error

	// BulkInsert writes the fan-out batch for one outbox event.
	BulkInsert(ctx context.Context, tx *sqlx.Tx, evs []model.WebhookEvent) error

	// ClaimDue leases up to limit pending records that are due (next_retry_at
	// null or <= now), oldest-created first, joined with their endpoint.
	ClaimDue(ctx context.Context, workerID string, limit int, now time.Time, lease time.Duration) ([]model.DueDelivery, error)

	// MarkDelivered terminates a record as delivered. Must run inside the same
	// tx as the endpoint success-stats bump.
	MarkDelivered(ctx context.Context, tx *sqlx.Tx, id string, statusCode int, at time.Time) error

	// ScheduleRetry persists the failed attempt and the next due time;
	// status stays pending.
	ScheduleRetry(ctx context.Context, id string, attempts int, attemptAt, nextRetryAt time.Time, detail string) error

	// MarkFailed terminates a record as failed (dead-lettered). Must run
	// inside the same tx as the dead-letter insert and failure-stats bump.
	MarkFailed(ctx context.Context, tx *sqlx.Tx, id string, attempts int, attemptAt time.Time, detail string) error

	GetByID(ctx context.Context, id string) (*model.WebhookEvent, error)
}

type DeliveriesRepositoryImpl struct {
	db *sqlx.DB
}

func NewDeliveriesRepository(db *sqlx.DB) *DeliveriesRepositoryImpl {
	return &DeliveriesRepositoryImpl{db: db}
}

func (r *DeliveriesRepositoryImpl) withTx(ctx context.Context, tx *sqlx.Tx, fn func(*sqlx.Tx) error) error {
	if tx != nil {
		return fn(tx)
	}
	t, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = t.Rollback() }()
	if err := fn(t); err != nil {
		return err
	}
	return t.Commit()
}

const insertDelivery = `
	INSERT INTO webhook_events
	    (id, workspace_id, endpoint_id, outbox_event_id, event_type, payload, status, attempts, created_at)
	VALUES
	    (?, ?, ?, ?, ?, ?, 'pending', 0, NOW())
`

func (r *DeliveriesRepositoryImpl) Insert(ctx context.Context, tx *sqlx.Tx, ev model.WebhookEvent) error {
	return r.withTx(ctx, tx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, insertDelivery,
			ev.ID, ev.WorkspaceID, ev.EndpointID, ev.OutboxEventID, ev.EventType, []byte(ev.Payload),
		)
		return err
	})
}

func (r *DeliveriesRepositoryImpl) BulkInsert(ctx context.Context, tx *sqlx.Tx, evs []model.WebhookEvent) error {
	if len(evs) == 0 {
		return nil
	}
	return r.withTx(ctx, tx, func(tx *sqlx.Tx) error {
		for _, ev := range evs {
			if _, err := tx.ExecContext(ctx, insertDelivery,
				ev.ID, ev.WorkspaceID, ev.EndpointID, ev.OutboxEventID, ev.EventType, []byte(ev.Payload),
			); err != nil {
				return err
			}
		}
		return nil
	})
}

// ClaimDue claims with a conditional UPDATE so two delivery-engine instances
// never double-process a record within the lease window. Records whose
// endpoint row is gone are left unclaimed so they cannot eat batch slots.
func (r *DeliveriesRepositoryImpl) ClaimDue(ctx context.Context, workerID string, limit int, now time.Time, lease time.Duration) ([]model.DueDelivery, error) {
	if limit <= 0 {
		limit = 50
	}
	const claim = `
		UPDATE webhook_events
		SET claimed_by = ?, claimed_until = ?
		WHERE status = 'pending'
		  AND (next_retry_at IS NULL OR next_retry_at <= ?)
		  AND (claimed_until IS NULL OR claimed_until < ?)
		  AND EXISTS (SELECT 1 FROM webhook_endpoints ep WHERE ep.id = webhook_events.endpoint_id)
		ORDER BY created_at ASC, id ASC
		LIMIT ?
	`
	if _, err := r.db.ExecContext(ctx, claim, workerID, now.Add(lease), now, now, limit); err != nil {
		return nil, err
	}

	const sel = `
		SELECT e.id, e.workspace_id, e.endpoint_id, e.outbox_event_id, e.event_type,
		       e.payload, e.status, e.attempts, e.last_attempt_at, e.next_retry_at,
		       e.delivered_at, e.response, e.created_at,
		       ep.url AS endpoint_url, ep.secret AS endpoint_secret
		FROM webhook_events e
		JOIN webhook_endpoints ep ON ep.id = e.endpoint_id
		WHERE e.status = 'pending' AND e.claimed_by = ? AND e.claimed_until >= ?
		ORDER BY e.created_at ASC, e.id ASC
		LIMIT ?
	`
	var rows []model.DueDelivery
	if err := r.db.SelectContext(ctx, &rows, sel, workerID, now, limit); err != nil {
		return nil, err
	}

	return rows, nil
}

func (r *DeliveriesRepositoryImpl) MarkDelivered(ctx context.Context, tx *sqlx.Tx, id string, statusCode int, at time.Time) error {
	const q = `
		UPDATE webhook_events
		SET status = 'delivered', delivered_at = ?, attempts = attempts + 1,
		    last_attempt_at = ?, next_retry_at = NULL, response = ?,
		    claimed_by = NULL, claimed_until = NULL
		WHERE id = ? AND status = 'pending'
	`
	return r.withTx(ctx, tx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, q, at, at, httpStatusText(statusCode), id)
		return err
	})
}

func (r *DeliveriesRepositoryImpl) ScheduleRetry(ctx context.Context, id string, attempts int, attemptAt, nextRetryAt time.Time, detail string) error {
	const q = `
		UPDATE webhook_events
		SET attempts = ?, last_attempt_at = ?, next_retry_at = ?, response = ?,
		    claimed_by = NULL, claimed_until = NULL
		WHERE id = ? AND status = 'pending'
	`
	_, err := r.db.ExecContext(ctx, q, attempts, attemptAt, nextRetryAt, detail, id)

	return err
}

func (r *DeliveriesRepositoryImpl) MarkFailed(ctx context.Context, tx *sqlx.Tx, id string, attempts int, attemptAt time.Time, detail string) error {
	const q = `
		UPDATE webhook_events
		SET status = 'failed', attempts = ?, last_attempt_at = ?, next_retry_at = NULL,
		    response = ?, claimed_by = NULL, claimed_until = NULL
		WHERE id = ? AND status = 'pending'
	`
	return r.withTx(ctx, tx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, q, attempts, attemptAt, detail, id)
		return err
	})
}

func (r *DeliveriesRepositoryImpl) GetByID(ctx context.Context, id string) (*model.WebhookEvent, error) {
	const q = `
		SELECT id, workspace_id, endpoint_id, outbox_event_id, event_type, payload,
		       status, attempts, last_attempt_at, next_retry_at, delivered_at,
		       response, created_at
		FROM webhook_events
		WHERE id = ?
	`
	var ev model.WebhookEvent
	if err := r.db.GetContext(ctx, &ev, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &ev, nil
}

func httpStatusText(code int) string {
	return "HTTP " + strconv.Itoa(code)
}
