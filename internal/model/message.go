// internal/model/message.go
package model

import "time"

// MessageStatus is the lifecycle state of an outbound message.
type MessageStatus string

const (
	StatusQueued    MessageStatus = "queued"
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
	StatusFailed    MessageStatus = "failed"
)

// DirectionOut is the only direction this service writes.
const DirectionOut = "out"

// Reasons recorded on failed messages by the dispatcher itself.
const (
	ReasonRateLimited           = "rate_limited"
	ReasonConversationNotFound  = "conversation_not_found"
	ReasonContactAddressMissing = "contact_address_missing"
)

func (s MessageStatus) String() string {
	return string(s)
}

// IsTerminal reports whether the dispatcher is done with a message in this status.
func (s MessageStatus) IsTerminal() bool {
	return s != StatusQueued
}

// Rank orders statuses along the delivery path. Failed has no rank.
func (s MessageStatus) Rank() int {
	switch s {
	case StatusQueued:
		return 0
	case StatusSent:
		return 1
	case StatusDelivered:
		return 2
	case StatusRead:
		return 3
	}
	return -1
}

// ParseMessageStatus maps a provider or API supplied status onto a known status.
func ParseMessageStatus(raw string) (MessageStatus, bool) {
	switch s := MessageStatus(raw); s {
	case StatusQueued, StatusSent, StatusDelivered, StatusRead, StatusFailed:
		return s, true
	}
	return "", false
}

type Message struct {
	ID                string        `db:"id" json:"id"`
	WorkspaceID       string        `db:"workspace_id" json:"workspace_id"`
	ConversationID    string        `db:"conversation_id" json:"conversation_id"`
	Direction         string        `db:"direction" json:"direction"`
	BodyText          string        `db:"body_text" json:"body_text"`
	Status            MessageStatus `db:"status" json:"status"` // queued, sent, delivered, read, failed
	ProviderMessageID *string       `db:"provider_message_id" json:"provider_message_id,omitempty"`
	ErrorReason       *string       `db:"error_reason" json:"error_reason,omitempty"`
	CreatedAt         time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time     `db:"updated_at" json:"updated_at"`
}

// StatusUpdate is a conditional status change: it only applies while the
// message is in one of From.
type StatusUpdate struct {
	From              []MessageStatus
	To                MessageStatus
	ProviderMessageID *string
	ErrorReason       *string
}
