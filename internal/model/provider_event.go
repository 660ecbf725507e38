package model

import (
	"encoding/json"
	"time"
)

// ProcessedProviderEvent is the inbound dedup ledger. (provider,
// provider_event_id) is unique; a row exists iff the corresponding business
// effects have been applied exactly once.
type ProcessedProviderEvent struct {
	Provider        string    `db:"provider"`
	ProviderEventID string    `db:"provider_event_id"`
	EventType       string    `db:"event_type"`
	ProcessedAt     time.Time `db:"processed_at"`
}

// ProviderEvent is a signature-verified inbound event handed to the ingestor.
type ProviderEvent struct {
	ID   string          `json:"id"`
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}
