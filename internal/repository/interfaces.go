package repository

import (
	"context"
	"time"

	"github.com/unclebandit/outbound-dispatcher/internal/model"
)

// MessageRepositoryInterface is the message half of the record store.
type MessageRepositoryInterface interface {
	// FindRecentOutboundMessage returns the newest outbound message in the
	// conversation with exactly bodyText created at or after since, or nil.
	FindRecentOutboundMessage(ctx context.Context, workspaceID, conversationID, bodyText string, since time.Time) (*model.Message, error)
	InsertMessage(ctx context.Context, workspaceID, conversationID, bodyText string) (*model.Message, error)
	// UpdateMessageStatus applies update only while the message is in one of
	// update.From. Otherwise it returns the current row and appErrors.ErrStatusConflict.
	UpdateMessageStatus(ctx context.Context, id string, update model.StatusUpdate) (*model.Message, error)
	GetByID(ctx context.Context, id string) (*model.Message, error)
	GetByProviderMessageID(ctx context.Context, providerMessageID string) (*model.Message, error)
}

type ConversationRepositoryInterface interface {
	TouchConversationLastMessageAt(ctx context.Context, conversationID string, at time.Time) error
	// ResolveConversationDestination returns the contact address of the conversation.
	ResolveConversationDestination(ctx context.Context, conversationID string) (string, error)
}

type DispatchEventRepositoryInterface interface {
	AppendDispatchEvent(ctx context.Context, messageID *string, eventType model.EventType, payload []byte) (*model.DispatchAttemptEvent, error)
	ListByMessage(ctx context.Context, messageID string) ([]model.DispatchAttemptEvent, error)
}
