package model

import (
	"encoding/json"
	"time"
)

// Envelope is the JSON body POSTed to subscriber endpoints.
type Envelope struct {
	ID        string          `json:"id"`   // delivery id
	Type      string          `json:"type"` // event type
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}
