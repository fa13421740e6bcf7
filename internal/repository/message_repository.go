package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	appErrors "github.com/unclebandit/outbound-dispatcher/internal/errors"
	"github.com/unclebandit/outbound-dispatcher/internal/model"
)

const messageColumns = `id, workspace_id, conversation_id, direction, body_text, status,
        provider_message_id, error_reason, created_at, updated_at`

type MessageRepository struct {
	DB *sqlx.DB
}

func (r *MessageRepository) FindRecentOutboundMessage(ctx context.Context, workspaceID, conversationID, bodyText string, since time.Time) (*model.Message, error) {
	query := `
        SELECT ` + messageColumns + `
        FROM messages
        WHERE workspace_id = $1 AND conversation_id = $2 AND direction = $3
          AND body_text = $4 AND created_at >= $5
        ORDER BY created_at DESC
        LIMIT 1
    `
	var msg model.Message
	err := r.DB.GetContext(ctx, &msg, query, workspaceID, conversationID, model.DirectionOut, bodyText, since)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &msg, nil
}

// InsertMessage creates a queued outbound message. The insert only happens
// when the conversation exists in the workspace.
func (r *MessageRepository) InsertMessage(ctx context.Context, workspaceID, conversationID, bodyText string) (*model.Message, error) {
	now := time.Now().UTC()
	query := `
        INSERT INTO messages (id, workspace_id, conversation_id, direction, body_text, status, created_at, updated_at)
        SELECT $1::uuid, c.workspace_id, c.id, $4::text, $5::text, $6::text, $7::timestamptz, $7::timestamptz
        FROM conversations c
        WHERE c.id = $2 AND c.workspace_id = $3
        RETURNING ` + messageColumns

	var msg model.Message
	err := r.DB.GetContext(ctx, &msg, query,
		uuid.NewString(), conversationID, workspaceID,
		model.DirectionOut, bodyText, model.StatusQueued, now,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.NewConversationNotFound(workspaceID, conversationID)
		}
		return nil, err
	}
	return &msg, nil
}

func (r *MessageRepository) UpdateMessageStatus(ctx context.Context, id string, update model.StatusUpdate) (*model.Message, error) {
	from := make([]string, len(update.From))
	for i, s := range update.From {
		from[i] = string(s)
	}

	query := `
        UPDATE messages
        SET status = $2,
            provider_message_id = COALESCE($3, provider_message_id),
            error_reason = $4,
            updated_at = NOW()
        WHERE id = $1 AND status = ANY($5)
        RETURNING ` + messageColumns

	var msg model.Message
	err := r.DB.GetContext(ctx, &msg, query, id, update.To, update.ProviderMessageID, update.ErrorReason, pq.Array(from))
	if err == nil {
		return &msg, nil
	}
	if isInvalidUUID(err) {
		return nil, appErrors.NewMessageNotFound(id)
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	current, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, appErrors.NewMessageNotFound(id)
	}
	return current, appErrors.ErrStatusConflict
}

// GetByID returns nil, nil when the message does not exist.
func (r *MessageRepository) GetByID(ctx context.Context, id string) (*model.Message, error) {
	var msg model.Message
	err := r.DB.GetContext(ctx, &msg, `SELECT `+messageColumns+` FROM messages WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) || isInvalidUUID(err) {
			return nil, nil
		}
		return nil, err
	}
	return &msg, nil
}

func (r *MessageRepository) GetByProviderMessageID(ctx context.Context, providerMessageID string) (*model.Message, error) {
	var msg model.Message
	err := r.DB.GetContext(ctx, &msg, `SELECT `+messageColumns+` FROM messages WHERE provider_message_id = $1`, providerMessageID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &msg, nil
}

// 22P02 is invalid_text_representation, raised for malformed uuids.
func isInvalidUUID(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "22P02"
}

var _ MessageRepositoryInterface = (*MessageRepository)(nil)
