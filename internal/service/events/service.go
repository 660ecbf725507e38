package events

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/hexrift/zentla-sub005/internal/model"
	"github.com/hexrift/zentla-sub005/internal/repository"
	"github.com/jmoiron/sqlx"
)

var ErrMissingField = errors.New("missing required field")

// Service is the outbox writer. Business code calls Emit with the same tx as
// the mutation it records, so a rolled-back mutation never leaves an event.
type Service struct {
	outbox repository.OutboxRepository
}

func New(outboxRepo repository.OutboxRepository) *Service {
	return &Service{outbox: outboxRepo}
}

// Emit appends a pending outbox event. The payload is opaque; only
// required-field presence is validated.
func (s *Service) Emit(
	ctx context.Context,
	tx *sqlx.Tx,
	workspaceID int64,
	eventType, aggregateType, aggregateID string,
	payload json.RawMessage,
) (*model.OutboxEvent, error) {
	if workspaceID <= 0 ||
		strings.TrimSpace(eventType) == "" ||
		strings.TrimSpace(aggregateType) == "" ||
		strings.TrimSpace(aggregateID) == "" {
		return nil, ErrMissingField
	}
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}

	ev := &model.OutboxEvent{
		WorkspaceID:   workspaceID,
		EventType:     eventType,
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		Payload:       payload,
		Status:        model.OutboxPending,
	}
	if err := s.outbox.Insert(ctx, tx, ev); err != nil {
		return nil, err
	}

	return ev, nil
}
