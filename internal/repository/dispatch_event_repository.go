package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/unclebandit/outbound-dispatcher/internal/model"
)

// DispatchEventRepository only ever inserts and reads.
type DispatchEventRepository struct {
	DB *sqlx.DB
}

func (r *DispatchEventRepository) AppendDispatchEvent(ctx context.Context, messageID *string, eventType model.EventType, payload []byte) (*model.DispatchAttemptEvent, error) {
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	query := `
        INSERT INTO dispatch_events (message_id, event_type, payload, created_at)
        VALUES ($1, $2, $3::jsonb, $4)
        RETURNING id, message_id, event_type, payload, created_at
    `
	var ev model.DispatchAttemptEvent
	err := r.DB.GetContext(ctx, &ev, query, messageID, eventType, string(payload), time.Now().UTC())
	if err != nil {
		return nil, err
	}
	return &ev, nil
}

func (r *DispatchEventRepository) ListByMessage(ctx context.Context, messageID string) ([]model.DispatchAttemptEvent, error) {
	events := []model.DispatchAttemptEvent{}
	query := `
        SELECT id, message_id, event_type, payload, created_at
        FROM dispatch_events
        WHERE message_id = $1
        ORDER BY created_at, id
    `
	if err := r.DB.SelectContext(ctx, &events, query, messageID); err != nil {
		if isInvalidUUID(err) {
			return []model.DispatchAttemptEvent{}, nil
		}
		return nil, err
	}
	return events, nil
}

var _ DispatchEventRepositoryInterface = (*DispatchEventRepository)(nil)
