package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/hexrift/zentla-sub005/internal/model"
	"github.com/jmoiron/sqlx"
)

// WorkspacesRepository resolves API keys to workspaces for the management API.
type WorkspacesRepository interface {
	GetByAPIKey(ctx context.Context, apiKey string) (*model.Workspace, error)
	GetByID(ctx context.Context, id int64) (*model.Workspace, error)
}

type WorkspacesRepositoryImpl struct {
	db *sqlx.DB
}

func NewWorkspacesRepository(db *sqlx.DB) *WorkspacesRepositoryImpl {
	return &WorkspacesRepositoryImpl{db: db}
}

func (r *WorkspacesRepositoryImpl) GetByAPIKey(ctx context.Context, apiKey string) (*model.Workspace, error) {
	const q = `
		SELECT id, name, api_key, status, rate_limit_rps, created_at, updated_at
		FROM workspaces
		WHERE api_key = ?
	`
	var ws model.Workspace
	if err := r.db.GetContext(ctx, &ws, q, apiKey); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &ws, nil
}

func (r *WorkspacesRepositoryImpl) GetByID(ctx context.Context, id int64) (*model.Workspace, error) {
	const q = `
		SELECT id, name, api_key, status, rate_limit_rps, created_at, updated_at
		FROM workspaces
		WHERE id = ?
	`
	var ws model.Workspace
	if err := r.db.GetContext(ctx, &ws, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &ws, nil
}
