package model

import (
	"encoding/json"
	"time"
)

type DeliveryStatus string

const (
	DeliveryPending   DeliveryStatus = "pending"
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryFailed    DeliveryStatus = "failed"
)

func (s DeliveryStatus) String() string { return string(s) }

func (s DeliveryStatus) Valid() bool {
	return s == DeliveryPending || s == DeliveryDelivered || s == DeliveryFailed
}

// WebhookEvent is one delivery lineage for one (outbox event, endpoint) pair.
// Created by fan-out with attempts=0; mutated only by the delivery engine;
// terminates as delivered, or as failed with a mirrored DeadLetterEvent.
type WebhookEvent struct {
	ID            string          `db:"id"`
	WorkspaceID   int64           `db:"workspace_id"`
	EndpointID    string          `db:"endpoint_id"`
	OutboxEventID int64           `db:"outbox_event_id"`
	EventType     string          `db:"event_type"`
	Payload       json.RawMessage `db:"payload"`
	Status        DeliveryStatus  `db:"status"`
	Attempts      int             `db:"attempts"`
	LastAttemptAt *time.Time      `db:"last_attempt_at"`
	NextRetryAt   *time.Time      `db:"next_retry_at"`
	DeliveredAt   *time.Time      `db:"delivered_at"`
	Response      *string         `db:"response"` // last HTTP outcome or error text
	CreatedAt     time.Time       `db:"created_at"`
}

// DueDelivery is a claimed pending WebhookEvent joined with the endpoint
// columns the delivery engine needs to attempt it.
type DueDelivery struct {
	WebhookEvent
	EndpointURL    string `db:"endpoint_url"`
	EndpointSecret string `db:"endpoint_secret"`
}
