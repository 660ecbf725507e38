package model

import "time"

// DeliveryAttempt is the per-try audit record published to Kafka by the
// delivery engine and archived into ClickHouse by the archiver worker.
type DeliveryAttempt struct {
	DeliveryID  string    `json:"delivery_id" db:"delivery_id"`
	WorkspaceID int64     `json:"workspace_id" db:"workspace_id"`
	EndpointID  string    `json:"endpoint_id" db:"endpoint_id"`
	EventType   string    `json:"event_type" db:"event_type"`
	Attempt     int       `json:"attempt" db:"attempt"`
	Result      string    `json:"result" db:"result"` // delivered|retried|dead_lettered
	StatusCode  int       `json:"status_code" db:"status_code"`
	Error       string    `json:"error,omitempty" db:"error"`
	DurationMs  int64     `json:"duration_ms" db:"duration_ms"`
	AttemptedAt time.Time `json:"attempted_at" db:"attempted_at"`
}

const (
	AttemptDelivered    = "delivered"
	AttemptRetried      = "retried"
	AttemptDeadLettered = "dead_lettered"
)
