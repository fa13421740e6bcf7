package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	appErrors "github.com/unclebandit/outbound-dispatcher/internal/errors"
)

type ConversationRepository struct {
	DB *sqlx.DB
}

// TouchConversationLastMessageAt never moves last_message_at backwards.
func (r *ConversationRepository) TouchConversationLastMessageAt(ctx context.Context, conversationID string, at time.Time) error {
	query := `
        UPDATE conversations
        SET last_message_at = GREATEST(COALESCE(last_message_at, $2), $2)
        WHERE id = $1
    `
	_, err := r.DB.ExecContext(ctx, query, conversationID, at)
	return err
}

func (r *ConversationRepository) ResolveConversationDestination(ctx context.Context, conversationID string) (string, error) {
	query := `
        SELECT c.workspace_id, COALESCE(ct.phone, '') AS phone
        FROM conversations c
        LEFT JOIN contacts ct ON ct.id = c.contact_id
        WHERE c.id = $1
    `
	var row struct {
		WorkspaceID string `db:"workspace_id"`
		Phone       string `db:"phone"`
	}
	if err := r.DB.GetContext(ctx, &row, query, conversationID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", appErrors.NewConversationNotFound("", conversationID)
		}
		return "", err
	}

	phone := strings.TrimSpace(row.Phone)
	if phone == "" {
		return "", appErrors.NewContactAddressMissing(conversationID)
	}
	return phone, nil
}

var _ ConversationRepositoryInterface = (*ConversationRepository)(nil)
