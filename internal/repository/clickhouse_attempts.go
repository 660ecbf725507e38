package repository

import (
	"context"

	"github.com/hexrift/zentla-sub005/internal/model"
	"github.com/jmoiron/sqlx"
)

// CHAttemptsRepository stores and lists delivery attempts in ClickHouse
// (append-only audit trail fed by the archiver worker).
type CHAttemptsRepository interface {
	InsertBatch(ctx context.Context, rows []model.DeliveryAttempt) error
	ListByWorkspace(ctx context.Context, workspaceID int64, endpointID, result string, limit, offset int) ([]model.DeliveryAttempt, error)
}

type chAttemptsRepository struct {
	ch *sqlx.DB // ClickHouse connection
}

func NewCHAttemptsRepository(ch *sqlx.DB) CHAttemptsRepository {
	return &chAttemptsRepository{ch: ch}
}

func (r *chAttemptsRepository) InsertBatch(ctx context.Context, rows []model.DeliveryAttempt) error {
	if len(rows) == 0 {
		return nil
	}
	const q = `
		INSERT INTO zentla.webhook_attempts
		    (delivery_id, workspace_id, endpoint_id, event_type, attempt, result,
		     status_code, error, duration_ms, attempted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	tx, err := r.ch.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, a := range rows {
		if _, err := tx.ExecContext(ctx, q,
			a.DeliveryID, a.WorkspaceID, a.EndpointID, a.EventType, a.Attempt,
			a.Result, a.StatusCode, a.Error, a.DurationMs, a.AttemptedAt,
		); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (r *chAttemptsRepository) ListByWorkspace(ctx context.Context, workspaceID int64, endpointID, result string, limit, offset int) ([]model.DeliveryAttempt, error) {
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	q := `
		SELECT delivery_id, workspace_id, endpoint_id, event_type, attempt, result,
		       status_code, error, duration_ms, attempted_at
		FROM zentla.webhook_attempts
		WHERE workspace_id = ?
	`
	args := []any{workspaceID}

	if endpointID != "" {
		q += " AND endpoint_id = ?"
		args = append(args, endpointID)
	}
	if result != "" {
		q += " AND result = ?"
		args = append(args, result)
	}

	q += " ORDER BY attempted_at DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	var rows []model.DeliveryAttempt
	if err := r.ch.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, err
	}
	return rows, nil
}
