// internal/model/conversation.go
package model

import "time"

type Conversation struct {
	ID            string     `db:"id" json:"id"`
	WorkspaceID   string     `db:"workspace_id" json:"workspace_id"`
	ContactID     *string    `db:"contact_id" json:"contact_id,omitempty"`
	LastMessageAt *time.Time `db:"last_message_at" json:"last_message_at,omitempty"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
}

type Contact struct {
	ID          string `db:"id" json:"id"`
	WorkspaceID string `db:"workspace_id" json:"workspace_id"`
	Name        string `db:"name" json:"name"`
	Phone       string `db:"phone" json:"phone"`
}

// ProviderStatusEvent is a normalized delivery-status callback.
type ProviderStatusEvent struct {
	ProviderMessageID string `json:"provider_message_id"`
	Status            string `json:"status"`
	ErrorReason       string `json:"error_reason,omitempty"`
}
