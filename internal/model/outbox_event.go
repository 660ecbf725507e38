package model

import (
	"encoding/json"
	"time"
)

type OutboxStatus string

const (
	OutboxPending   OutboxStatus = "pending"
	OutboxProcessed OutboxStatus = "processed"
	OutboxFailed    OutboxStatus = "failed"
)

func (s OutboxStatus) String() string { return string(s) }

func (s OutboxStatus) Valid() bool {
	return s == OutboxPending || s == OutboxProcessed || s == OutboxFailed
}

// OutboxEvent is a domain fact written in the same transaction as the
// business mutation it describes, queued for fan-out.
type OutboxEvent struct {
	ID            int64           `db:"id"`
	WorkspaceID   int64           `db:"workspace_id"`
	EventType     string          `db:"event_type"` // e.g. "subscription.created"
	AggregateType string          `db:"aggregate_type"`
	AggregateID   string          `db:"aggregate_id"`
	Payload       json.RawMessage `db:"payload"`
	Status        OutboxStatus    `db:"status"`
	CreatedAt     time.Time       `db:"created_at"`
	ProcessedAt   *time.Time      `db:"processed_at"`
}
