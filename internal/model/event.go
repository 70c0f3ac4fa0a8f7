package model

import (
	"encoding/json"
	"time"
)

// Event is one audit log record, mirroring what is published to NATS.
type Event struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	IssueID   string          `json:"issue_id,omitempty"`
	Actor     string          `json:"actor,omitempty"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}
