// internal/model/dispatch_event.go
package model

import (
	"time"

	"github.com/jmoiron/sqlx/types"
)

type EventType string

const (
	EventDryRun         EventType = "dry_run"
	EventSendSuccess    EventType = "send_success"
	EventSendFailed     EventType = "send_failed"
	EventRateLimited    EventType = "rate_limited"
	EventProviderStatus EventType = "provider_status"
)

// DispatchAttemptEvent is an append-only audit record. MessageID is nil for
// decisions taken before a message row exists.
type DispatchAttemptEvent struct {
	ID        int64          `db:"id" json:"id"`
	MessageID *string        `db:"message_id" json:"message_id,omitempty"`
	EventType EventType      `db:"event_type" json:"event_type"`
	Payload   types.JSONText `db:"payload" json:"payload"`
	CreatedAt time.Time      `db:"created_at" json:"created_at"`
}
