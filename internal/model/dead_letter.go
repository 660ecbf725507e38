package model

import (
	"encoding/json"
	"time"
)

// DeadLetterEvent is a permanently failed delivery held for manual
// inspection and replay. Replay creates a brand-new WebhookEvent and
// deletes this row; it is never resurrected in place.
type DeadLetterEvent struct {
	ID              string          `db:"id"`
	WorkspaceID     int64           `db:"workspace_id"`
	OriginalEventID string          `db:"original_event_id"` // WebhookEvent id
	EndpointID      string          `db:"endpoint_id"`
	EventType       string          `db:"event_type"`
	Payload         json.RawMessage `db:"payload"`
	FailureReason   string          `db:"failure_reason"`
	Attempts        int             `db:"attempts"`
	LastAttemptAt   time.Time       `db:"last_attempt_at"`
	CreatedAt       time.Time       `db:"created_at"`
}
