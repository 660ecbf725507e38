package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
)

const mysqlErrDuplicateEntry = 1062

// ProviderEventsRepository is the inbound dedup ledger over the
// processed_provider_events table. The (provider, provider_event_id) unique
// key is the serialization point: Claim inserts before side effects run, so
// concurrent deliveries of the same provider event cannot both proceed.
type ProviderEventsRepository interface {
	// Claim records the event id; returns false if it was already claimed.
	Claim(ctx context.Context, provider, providerEventID, eventType string) (bool, error)
	// Release removes a claim after a failed handler so the provider's
	// redelivery can retry.
	Release(ctx context.Context, provider, providerEventID string) error
	IsProcessed(ctx context.Context, provider, providerEventID string) (bool, error)
}

type ProviderEventsRepositoryImpl struct {
	db *sqlx.DB
}

func NewProviderEventsRepository(db *sqlx.DB) *ProviderEventsRepositoryImpl {
	return &ProviderEventsRepositoryImpl{db: db}
}

func (r *ProviderEventsRepositoryImpl) Claim(ctx context.Context, provider, providerEventID, eventType string) (bool, error) {
	const q = `
		INSERT INTO processed_provider_events (provider, provider_event_id, event_type, processed_at)
		VALUES (?, ?, ?, NOW())
	`
	if _, err := r.db.ExecContext(ctx, q, provider, providerEventID, eventType); err != nil {
		var me *mysql.MySQLError
		if errors.As(err, &me) && me.Number == mysqlErrDuplicateEntry {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (r *ProviderEventsRepositoryImpl) Release(ctx context.Context, provider, providerEventID string) error {
	const q = `DELETE FROM processed_provider_events WHERE provider = ? AND provider_event_id = ?`
	_, err := r.db.ExecContext(ctx, q, provider, providerEventID)

	return err
}

func (r *ProviderEventsRepositoryImpl) IsProcessed(ctx context.Context, provider, providerEventID string) (bool, error) {
	const q = `SELECT 1 FROM processed_provider_events WHERE provider = ? AND provider_event_id = ?`

	var one int
	if err := r.db.GetContext(ctx, &one, q, provider, providerEventID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
