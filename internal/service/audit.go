package service

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/unclebandit/outbound-dispatcher/internal/logger"
	"github.com/unclebandit/outbound-dispatcher/internal/model"
	"github.com/unclebandit/outbound-dispatcher/internal/queue"
	"github.com/unclebandit/outbound-dispatcher/internal/repository"
)

// AuditTrail appends DispatchAttemptEvents. It is best effort: a failed write
// is logged and never changes the dispatch outcome.
type AuditTrail struct {
	Events repository.DispatchEventRepositoryInterface
	// Queue, when set, receives each stored event on queue.TopicDispatchEvents.
	Queue  queue.Queue
	Logger *zap.Logger
}

func (a *AuditTrail) Record(ctx context.Context, messageID *string, eventType model.EventType, payload map[string]any) *model.DispatchAttemptEvent {
	log := logger.OrNop(a.Logger).With(zap.String("event_type", string(eventType)))
	if messageID != nil {
		log = log.With(zap.String("message_id", *messageID))
	}

	data, err := json.Marshal(payload)
	if err != nil {
		log.Warn("audit payload not serializable", zap.Error(err))
		data, _ = json.Marshal(map[string]string{"payload_error": err.Error()})
	}

	ev, err := a.Events.AppendDispatchEvent(ctx, messageID, eventType, data)
	if err != nil {
		log.Warn("failed to append dispatch event", zap.Error(err))
		return nil
	}

	if a.Queue != nil {
		if err := a.Queue.Publish(queue.TopicDispatchEvents, *ev); err != nil {
			log.Debug("dispatch event not published", zap.Error(err))
		}
	}
	return ev
}

func (a *AuditTrail) List(ctx context.Context, messageID string) ([]model.DispatchAttemptEvent, error) {
	return a.Events.ListByMessage(ctx, messageID)
}
