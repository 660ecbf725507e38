package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/hexrift/zentla-sub005/internal/model"
	"github.com/jmoiron/sqlx"
)

// EndpointUpdate carries partial updates; nil fields are left untouched.
// Events replaces the subscribed set wholesale, not a merge.
type EndpointUpdate struct {
	URL         *string
	Events      *model.EventTypes
	Status      *model.EndpointStatus
	Description *string
	Metadata    []byte
}

// EndpointsRepository defines persistence for the webhook_endpoints table.
type EndpointsRepository interface {
	Insert(ctx context.Context, tx *sqlx.Tx, ep *model.WebhookEndpoint) error
	GetByID(ctx context.Context, id string) (*model.WebhookEndpoint, error)
	ListByWorkspace(ctx context.Context, workspaceID int64, limit, offset int) ([]model.WebhookEndpoint, error)
	// ListActiveSubscribed returns active endpoints in the workspace whose
	// subscribed-events set contains eventType.
	ListActiveSubscribed(ctx context.Context, workspaceID int64, eventType string) ([]model.WebhookEndpoint, error)
	Update(ctx context.Context, id string, upd EndpointUpdate) error
	UpdateSecret(ctx context.Context, id, secret string) error
	Delete(ctx context.Context, id string) error

	// RecordSuccess bumps success_count and delivery stats using native
	// increments, inside tx so it commits with the delivery-status write.
	RecordSuccess(ctx context.Context, tx *sqlx.Tx, id string, statusCode int, at time.Time) error
	// RecordFailure bumps failure_count and last_error, same contract.
	RecordFailure(ctx context.Context, tx *sqlx.Tx, id string, errMsg string, at time.Time) error
}

type EndpointsRepositoryImpl struct {
	db *sqlx.DB
}

func NewEndpointsRepository(db *sqlx.DB) *EndpointsRepositoryImpl {
	return &EndpointsRepositoryImpl{db: db}
}

func (r *EndpointsRepositoryImpl) withTx(ctx context.Context, tx *sqlx.Tx, fn func(*sqlx.Tx) error) error {
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

func (r *EndpointsRepositoryImpl) Insert(ctx context.Context, tx *sqlx.Tx, ep *model.WebhookEndpoint) error {
	const q = `
		INSERT INTO webhook_endpoints
		    (id, workspace_id, url, secret, events, status, description, metadata, created_at, updated_at)
		VALUES
		    (?, ?, ?, ?, ?, ?, ?, ?, NOW(), NOW())
	`
	meta := ep.Metadata
	if len(meta) == 0 {
		meta = []byte("{}")
	}
	return r.withTx(ctx, tx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, q,
			ep.ID, ep.WorkspaceID, ep.URL, ep.Secret, ep.Events, ep.Status.String(),
			ep.Description, []byte(meta),
		)
		return err
	})
}

const endpointColumns = `
	id, workspace_id, url, secret, events, status, description, metadata,
	success_count, failure_count, last_delivery_at, last_delivery_status,
	last_error, last_error_at, created_at, updated_at
`

func (r *EndpointsRepositoryImpl) GetByID(ctx context.Context, id string) (*model.WebhookEndpoint, error) {
	q := `SELECT ` + endpointColumns + ` FROM webhook_endpoints WHERE id = ?`

	var ep model.WebhookEndpoint
	if err := r.db.GetContext(ctx, &ep, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &ep, nil
}

func (r *EndpointsRepositoryImpl) ListByWorkspace(ctx context.Context, workspaceID int64, limit, offset int) ([]model.WebhookEndpoint, error) {
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	q := `SELECT ` + endpointColumns + `
		FROM webhook_endpoints
		WHERE workspace_id = ?
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?`

	var eps []model.WebhookEndpoint
	if err := r.db.SelectContext(ctx, &eps, q, workspaceID, limit, offset); err != nil {
		return nil, err
	}
	return eps, nil
}

func (r *EndpointsRepositoryImpl) ListActiveSubscribed(ctx context.Context, workspaceID int64, eventType string) ([]model.WebhookEndpoint, error) {
	q := `SELECT ` + endpointColumns + `
		FROM webhook_endpoints
		WHERE workspace_id = ?
		  AND status = 'active'
		  AND JSON_CONTAINS(events, JSON_QUOTE(?))`

	var eps []model.WebhookEndpoint
	if err := r.db.SelectContext(ctx, &eps, q, workspaceID, eventType); err != nil {
		return nil, err
	}
	return eps, nil
}

func (r *EndpointsRepositoryImpl) Update(ctx context.Context, id string, upd EndpointUpdate) error {
	sets := make([]string, 0, 6)
	args := make([]any, 0, 6)

	if upd.URL != nil {
		sets = append(sets, "url = ?")
		args = append(args, *upd.URL)
	}
	if upd.Events != nil {
		sets = append(sets, "events = ?")
		args = append(args, *upd.Events)
	}
	if upd.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, upd.Status.String())
	}
	if upd.Description != nil {
		sets = append(sets, "description = ?")
		args = append(args, *upd.Description)
	}
	if upd.Metadata != nil {
		sets = append(sets, "metadata = ?")
		args = append(args, upd.Metadata)
	}
	if len(sets) == 0 {
		return nil
	}

	sets = append(sets, "updated_at = NOW()")
	q := "UPDATE webhook_endpoints SET " + strings.Join(sets, ", ") + " WHERE id = ?"
	args = append(args, id)

	_, err := r.db.ExecContext(ctx, q, args...)
	return err
}

func (r *EndpointsRepositoryImpl) UpdateSecret(ctx context.Context, id, secret string) error {
	const q = `UPDATE webhook_endpoints SET secret = ?, updated_at = NOW() WHERE id = ?`
	_, err := r.db.ExecContext(ctx, q, secret, id)

	return err
}

// Delete removes the endpoint only; historical webhook_events and
// dead_letter_events rows are retained for audit.
func (r *EndpointsRepositoryImpl) Delete(ctx context.Context, id string) error {
	const q = `DELETE FROM webhook_endpoints WHERE id = ?`
	_, err := r.db.ExecContext(ctx, q, id)

	return err
}

func (r *EndpointsRepositoryImpl) RecordSuccess(ctx context.Context, tx *sqlx.Tx, id string, statusCode int, at time.Time) error {
	const q = `
		UPDATE webhook_endpoints
		SET success_count = success_count + 1,
		    last_delivery_at = ?,
		    last_delivery_status = ?,
		    updated_at = NOW()
		WHERE id = ?
	`
	return r.withTx(ctx, tx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, q, at, statusCode, id)
		return err
	})
}

func (r *EndpointsRepositoryImpl) RecordFailure(ctx context.Context, tx *sqlx.Tx, id string, errMsg string, at time.Time) error {
	const q = `
		UPDATE webhook_endpoints
		SET failure_count = failure_count + 1,
		    last_error = ?,
		    last_error_at = ?,
		    updated_at = NOW()
		WHERE id = ?
	`
	return r.withTx(ctx, tx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, q, errMsg, at, id)
		return err
	})
}
