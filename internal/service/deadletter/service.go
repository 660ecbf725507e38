package deadletter

import (
	"context"
	"errors"

	"github.com/hexrift/zentla-sub005/internal/model"
	"github.com/hexrift/zentla-sub005/internal/repository"
	"github.com/hexrift/zentla-sub005/internal/util"
	"github.com/jmoiron/sqlx"
)

var (
	ErrNotFound         = errors.New("dead letter not found")
	ErrEndpointInactive = errors.New("endpoint is not active")
)

// RetryResult is the typed outcome of a replay; callers branch on Success
// rather than on error control flow.
type RetryResult struct {
	Success    bool   `json:"success"`
	NewEventID string `json:"new_event_id,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Service lists dead-lettered deliveries and replays them into fresh
// delivery records.
type Service struct {
	db          *sqlx.DB
	deadLetters repository.DeadLettersRepository
	deliveries  repository.DeliveriesRepository
	endpoints   repository.EndpointsRepository
}

func New(
	db *sqlx.DB,
	deadLettersRepo repository.DeadLettersRepository,
	deliveriesRepo repository.DeliveriesRepository,
	endpointsRepo repository.EndpointsRepository,
) *Service {
	return &Service{
		db:          db,
		deadLetters: deadLettersRepo,
		deliveries:  deliveriesRepo,
		endpoints:   endpointsRepo,
	}
}

func (s *Service) List(ctx context.Context, workspaceID int64, limit, offset int) ([]model.DeadLetterEvent, error) {
	return s.deadLetters.List(ctx, workspaceID, limit, offset)
}

// Retry replays a dead-lettered delivery: a new WebhookEvent (attempts=0,
// status=pending, same payload/event type/endpoint) is created and the
// dead-letter row deleted, as one transaction. Replays against an endpoint
// that is not currently active are refused without mutation.
func (s *Service) Retry(ctx context.Context, workspaceID int64, deadLetterID string) (RetryResult, error) {
	dl, err := s.deadLetters.GetByID(ctx, deadLetterID)
	if err != nil {
		return RetryResult{}, err
	}
	if dl == nil || dl.WorkspaceID != workspaceID {
		return RetryResult{Success: false, Error: ErrNotFound.Error()}, ErrNotFound
	}

	ep, err := s.endpoints.GetByID(ctx, dl.EndpointID)
	if err != nil {
		return RetryResult{}, err
	}
	if ep == nil || ep.Status != model.EndpointActive {
		return RetryResult{Success: false, Error: ErrEndpointInactive.Error()}, ErrEndpointInactive
	}

	ev := model.WebhookEvent{
		ID:          util.New(),
		WorkspaceID: dl.WorkspaceID,
		EndpointID:  dl.EndpointID,
		EventType:   dl.EventType,
		Payload:     dl.Payload,
		Status:      model.DeliveryPending,
	}

	err = s.withTx(ctx, func(tx *sqlx.Tx) error {
		if err := s.deliveries.Insert(ctx, tx, ev); err != nil {
			return err
		}
		return s.deadLetters.Delete(ctx, tx, dl.ID)
	})
	if err != nil {
		return RetryResult{}, err
	}

	return RetryResult{Success: true, NewEventID: ev.ID}, nil
}

// withTx spans both replay writes; with a nil db (tests with fakes) it runs
// fn with a nil tx and the repositories manage themselves.
func (s *Service) withTx(ctx context.Context, fn func(*sqlx.Tx) error) error {
	if s.db == nil {
		return fn(nil)
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}
