package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/hexrift/zentla-sub005/internal/model"
	"github.com/jmoiron/sqlx"
)

// DeadLettersRepository defines persistence for the dead_letter_events table.
type DeadLettersRepository interface {
	// Insert writes a dead-letter row inside tx so it commits together with
	// the delivery's failed-status write.
	Insert(ctx context.Context, tx *sqlx.Tx, dl model.DeadLetterEvent) error
	GetByID(ctx context.Context, id string) (*model.DeadLetterEvent, error)
	List(ctx context.Context, workspaceID int64, limit, offset int) ([]model.DeadLetterEvent, error)
	// Delete removes a dead-letter row inside tx (replay pairs it with the
	// insert of a fresh delivery record).
	Delete(ctx context.Context, tx *sqlx.Tx, id string) error
}

type DeadLettersRepositoryImpl struct {
	db *sqlx.DB
}

func NewDeadLettersRepository(db *sqlx.DB) *DeadLettersRepositoryImpl {
	return &DeadLettersRepositoryImpl{db: db}
}

func (r *DeadLettersRepositoryImpl) withTx(ctx context.Context, tx *sqlx.Tx, fn func(*sqlx.Tx) error) error {
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

func (r *DeadLettersRepositoryImpl) Insert(ctx context.Context, tx *sqlx.Tx, dl model.DeadLetterEvent) error {
	const q = `
		INSERT INTO dead_letter_events
		    (id, workspace_id, original_event_id, endpoint_id, event_type, payload,
		     failure_reason, attempts, last_attempt_at, created_at)
		VALUES
		    (?, ?, ?, ?, ?, ?, ?, ?, ?, NOW())
	`
	return r.withTx(ctx, tx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, q,
			dl.ID, dl.WorkspaceID, dl.OriginalEventID, dl.EndpointID, dl.EventType,
			[]byte(dl.Payload), dl.FailureReason, dl.Attempts, dl.LastAttemptAt,
		)
		return err
	})
}

func (r *DeadLettersRepositoryImpl) GetByID(ctx context.Context, id string) (*model.DeadLetterEvent, error) {
	const q = `
		SELECT id, workspace_id, original_event_id, endpoint_id, event_type, payload,
		       failure_reason, attempts, last_attempt_at, created_at
		FROM dead_letter_events
		WHERE id = ?
	`
	var dl model.DeadLetterEvent
	if err := r.db.GetContext(ctx, &dl, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &dl, nil
}

func (r *DeadLettersRepositoryImpl) List(ctx context.Context, workspaceID int64, limit, offset int) ([]model.DeadLetterEvent, error) {
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	const q = `
		SELECT id, workspace_id, original_event_id, endpoint_id, event_type, payload,
		       failure_reason, attempts, last_attempt_at, created_at
		FROM dead_letter_events
		WHERE workspace_id = ?
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?
	`
	var rows []model.DeadLetterEvent
	if err := r.db.SelectContext(ctx, &rows, q, workspaceID, limit, offset); err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *DeadLettersRepositoryImpl) Delete(ctx context.Context, tx *sqlx.Tx, id string) error {
	const q = `DELETE FROM dead_letter_events WHERE id = ?`
	return r.withTx(ctx, tx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, q, id)
		return err
	})
}
