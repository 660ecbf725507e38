package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

type EndpointStatus string

const (
	EndpointActive   EndpointStatus = "active"
	EndpointDisabled EndpointStatus = "disabled"
)

func (s EndpointStatus) String() string { return string(s) }

func (s EndpointStatus) Valid() bool {
	return s == EndpointActive || s == EndpointDisabled
}

// WebhookEndpoint is a workspace-owned subscriber. Only active endpoints
// receive new deliveries; disabling does not cancel already-queued ones.
type WebhookEndpoint struct {
	ID                 string          `db:"id"`
	WorkspaceID        int64           `db:"workspace_id"`
	URL                string          `db:"url"`
	Secret             string          `db:"secret"` // HMAC signing key, shown once on create
	Events             EventTypes      `db:"events"`
	Status             EndpointStatus  `db:"status"`
	Description        string          `db:"description"`
	Metadata           json.RawMessage `db:"metadata"`
	SuccessCount       int64           `db:"success_count"`
	FailureCount       int64           `db:"failure_count"`
	LastDeliveryAt     *time.Time      `db:"last_delivery_at"`
	LastDeliveryStatus *int            `db:"last_delivery_status"`
	LastError          *string         `db:"last_error"`
	LastErrorAt        *time.Time      `db:"last_error_at"`
	CreatedAt          time.Time       `db:"created_at"`
	UpdatedAt          time.Time       `db:"updated_at"`
}

// EventTypes is the subscribed event-type set, stored as a JSON array column.
type EventTypes []string

func (e EventTypes) Contains(eventType string) bool {
	for _, t := range e {
		if t == eventType {
			return true
		}
	}
	return false
}

func (e EventTypes) Value() (driver.Value, error) {
	if e == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]string(e))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (e *EventTypes) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*e = nil
		return nil
	case []byte:
		return json.Unmarshal(v, (*[]string)(e))
	case string:
		return json.Unmarshal([]byte(v), (*[]string)(e))
	default:
		return fmt.Errorf("events: cannot scan %T", src)
	}
}
