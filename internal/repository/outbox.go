package repository

import (
	"context"
	"time"

	"github.com/hexrift/zentla-sub005/internal/model"
	"github.com/jmoiron/sqlx"
)

// OutboxRepository defines persistence for the outbox_events table.
type OutboxRepository interface {
	// Insert writes a single outbox event. If tx is nil, it will open/commit
	// an internal transaction; otherwise it uses the given tx so the event
	// commits or rolls back together with the business mutation.
	Insert(ctx context.Context, tx *sqlx.Tx, ev *model.OutboxEvent) error

	// ClaimPending leases up to limit pending events (oldest first) for
	// workerID and returns them. Rows whose lease expired are reclaimable.
	ClaimPending(ctx context.Context, workerID string, limit int, now time.Time, lease time.Duration) ([]model.OutboxEvent, error)

	// MarkProcessed transitions an event to processed inside tx (or its own).
	MarkProcessed(ctx context.Context, tx *sqlx.Tx, id int64, at time.Time) error

	// Release clears the claim on an event so the next tick retries it.
	Release(ctx context.Context, id int64) error
}

// OutboxRepositoryImpl is a sqlx-backed implementation.
type OutboxRepositoryImpl struct {
	db *sqlx.DB
}

// NewOutboxRepository constructs an OutboxRepositoryImpl.
func NewOutboxRepository(db *sqlx.DB) *OutboxRepositoryImpl {
	return &OutboxRepositoryImpl{db: db}
}

// withTx runs fn in the provided tx, or starts a new transaction when tx is nil.
func (r *OutboxRepositoryImpl) withTx(ctx context.Context, tx *sqlx.Tx, fn func(*sqlx.Tx) error) error {
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

func (r *OutboxRepositoryImpl) Insert(ctx context.Context, tx *sqlx.Tx, ev *model.OutboxEvent) error {
	const q = `
		INSERT INTO outbox_events
		    (workspace_id, event_type, aggregate_type, aggregate_id, payload, status, created_at)
		VALUES
		    (?, ?, ?, ?, ?, 'pending', NOW())
	`
	return r.withTx(ctx, tx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, q,
			ev.WorkspaceID, ev.EventType, ev.AggregateType, ev.AggregateID, []byte(ev.Payload),
		)
		if err != nil {
			return err
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		ev.ID = id
		ev.Status = model.OutboxPending

		return nil
	})
}

// ClaimPending uses a conditional UPDATE as the claim step so two concurrent
// fan-out instances never pick up the same batch window.
func (r *OutboxRepositoryImpl) ClaimPending(ctx context.Context, workerID string, limit int, now time.Time, lease time.Duration) ([]model.OutboxEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	const claim = `
		UPDATE outbox_events
		SET claimed_by = ?, claimed_until = ?
		WHERE status = 'pending'
		  AND (claimed_until IS NULL OR claimed_until < ?)
		ORDER BY created_at ASC, id ASC
		LIMIT ?
	`
	if _, err := r.db.ExecContext(ctx, claim, workerID, now.Add(lease), now, limit); err != nil {
		return nil, err
	}

	const sel = `
		SELECT id, workspace_id, event_type, aggregate_type, aggregate_id,
		       payload, status, created_at, processed_at
		FROM outbox_events
		WHERE status = 'pending' AND claimed_by = ? AND claimed_until >= ?
		ORDER BY created_at ASC, id ASC
		LIMIT ?
	`
	var rows []model.OutboxEvent
	if err := r.db.SelectContext(ctx, &rows, sel, workerID, now, limit); err != nil {
		return nil, err
	}

	return rows, nil
}

func (r *OutboxRepositoryImpl) MarkProcessed(ctx context.Context, tx *sqlx.Tx, id int64, at time.Time) error {
	const q = `
		UPDATE outbox_events
		SET status = 'processed', processed_at = ?, claimed_by = NULL, claimed_until = NULL
		WHERE id = ? AND status = 'pending'
	`
	return r.withTx(ctx, tx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, q, at, id)
		return err
	})
}

func (r *OutboxRepositoryImpl) Release(ctx context.Context, id int64) error {
	const q = `UPDATE outbox_events SET claimed_by = NULL, claimed_until = NULL WHERE id = ?`
	_, err := r.db.ExecContext(ctx, q, id)

	return err
}
