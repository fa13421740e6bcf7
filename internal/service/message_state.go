package service

import (
	"context"
	"errors"

	"go.uber.org/zap"

	appErrors "github.com/unclebandit/outbound-dispatcher/internal/errors"
	"github.com/unclebandit/outbound-dispatcher/internal/logger"
	"github.com/unclebandit/outbound-dispatcher/internal/model"
	"github.com/unclebandit/outbound-dispatcher/internal/repository"
)

// MessageStateMachine owns every write to a message's status.
//
//	queued -> sent | failed
//	sent -> delivered -> read       (provider callbacks only)
//	sent -> failed                  (provider callbacks only)
type MessageStateMachine struct {
	Messages      repository.MessageRepositoryInterface
	Conversations repository.ConversationRepositoryInterface
	Logger        *zap.Logger
}

// Create inserts a queued message and bumps the conversation's last activity.
func (m *MessageStateMachine) Create(ctx context.Context, workspaceID, conversationID, bodyText string) (*model.Message, error) {
	msg, err := m.Messages.InsertMessage(ctx, workspaceID, conversationID, bodyText)
	if err != nil {
		return nil, err
	}
	if err := m.Conversations.TouchConversationLastMessageAt(ctx, conversationID, msg.CreatedAt); err != nil {
		logger.OrNop(m.Logger).Warn("failed to touch conversation",
			zap.String("conversation_id", conversationID),
			zap.String("message_id", msg.ID),
			zap.Error(err),
		)
	}
	return msg, nil
}

// MarkSent moves queued -> sent and clears any error reason. A message that
// is already sent (or further along) is returned unchanged.
func (m *MessageStateMachine) MarkSent(ctx context.Context, messageID, providerMessageID string) (*model.Message, error) {
	msg, err := m.Messages.UpdateMessageStatus(ctx, messageID, model.StatusUpdate{
		From:              []model.MessageStatus{model.StatusQueued},
		To:                model.StatusSent,
		ProviderMessageID: &providerMessageID,
	})
	if !errors.Is(err, appErrors.ErrStatusConflict) {
		return msg, err
	}
	if msg.Status.Rank() >= model.StatusSent.Rank() {
		return msg, nil
	}
	return msg, appErrors.NewInvalidTransition(messageID, msg.Status.String(), model.StatusSent.String())
}

// MarkFailed moves queued -> failed. A message that already failed is
// returned unchanged, keeping its original reason.
func (m *MessageStateMachine) MarkFailed(ctx context.Context, messageID, errorReason string) (*model.Message, error) {
	msg, err := m.Messages.UpdateMessageStatus(ctx, messageID, model.StatusUpdate{
		From:        []model.MessageStatus{model.StatusQueued},
		To:          model.StatusFailed,
		ErrorReason: &errorReason,
	})
	if !errors.Is(err, appErrors.ErrStatusConflict) {
		return msg, err
	}
	if msg.Status == model.StatusFailed {
		return msg, nil
	}
	return msg, appErrors.NewInvalidTransition(messageID, msg.Status.String(), model.StatusFailed.String())
}

// Advance applies a provider-reported status when it is further along the
// delivery path than the stored one. applied is false for stale or repeated
// reports.
func (m *MessageStateMachine) Advance(ctx context.Context, msg *model.Message, to model.MessageStatus, errorReason string) (updated *model.Message, applied bool, err error) {
	from := progressSources(to)
	if len(from) == 0 {
		return msg, false, nil
	}

	update := model.StatusUpdate{From: from, To: to}
	if to == model.StatusFailed && errorReason != "" {
		update.ErrorReason = &errorReason
	}

	updated, err = m.Messages.UpdateMessageStatus(ctx, msg.ID, update)
	if errors.Is(err, appErrors.ErrStatusConflict) {
		return updated, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return updated, true, nil
}

// progressSources lists the statuses from which to is forward progress.
func progressSources(to model.MessageStatus) []model.MessageStatus {
	switch to {
	case model.StatusFailed:
		return []model.MessageStatus{model.StatusQueued, model.StatusSent}
	case model.StatusSent, model.StatusDelivered, model.StatusRead:
		var from []model.MessageStatus
		for _, s := range []model.MessageStatus{model.StatusQueued, model.StatusSent, model.StatusDelivered} {
			if s.Rank() < to.Rank() {
				from = append(from, s)
			}
		}
		return from
	}
	return nil
}
