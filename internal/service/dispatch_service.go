package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	appErrors "github.com/unclebandit/outbound-dispatcher/internal/errors"
	"github.com/unclebandit/outbound-dispatcher/internal/logger"
	"github.com/unclebandit/outbound-dispatcher/internal/model"
	"github.com/unclebandit/outbound-dispatcher/internal/pacing"
	"github.com/unclebandit/outbound-dispatcher/internal/provider"
	"github.com/unclebandit/outbound-dispatcher/internal/queue"
	"github.com/unclebandit/outbound-dispatcher/internal/ratelimit"
	"github.com/unclebandit/outbound-dispatcher/internal/repository"
)

const (
	DefaultProviderTimeout = 15 * time.Second

	markSentAttempts = 3
	markSentBackoff  = 50 * time.Millisecond
)

type Outcome string

const (
	OutcomeSent        Outcome = "sent"
	OutcomeDryRun      Outcome = "dry_run"
	OutcomeDuplicate   Outcome = "duplicate"
	OutcomeRateLimited Outcome = "rate_limited"
	OutcomeFailed      Outcome = "failed"
)

type DispatchRequest struct {
	WorkspaceID    string
	ConversationID string
	ActorID        string
	Body           string
}

type DispatchResult struct {
	Outcome   Outcome        `json:"outcome"`
	Message   *model.Message `json:"message"`
	Duplicate bool           `json:"duplicate"`
}

type DispatchOptions struct {
	// DryRun records a dry_run event instead of contacting the provider.
	DryRun           bool
	RateCapPerMinute int
	RateScope        string
	DedupWindow      time.Duration
	ProviderTimeout  time.Duration
}

type Repositories struct {
	Messages      repository.MessageRepositoryInterface
	Conversations repository.ConversationRepositoryInterface
	Events        repository.DispatchEventRepositoryInterface
}

type DispatchService struct {
	Dedup         *DedupGuard
	State         *MessageStateMachine
	Audit         *AuditTrail
	Limiter       ratelimit.Limiter
	Pacer         *pacing.Pacer
	Sender        provider.Sender
	Messages      repository.MessageRepositoryInterface
	Conversations repository.ConversationRepositoryInterface
	Options       DispatchOptions
	Logger        *zap.Logger
}

// NewDispatchService wires the guard, state machine and audit trail over one
// set of repositories. q may be nil.
func NewDispatchService(repos Repositories, limiter ratelimit.Limiter, pacer *pacing.Pacer, sender provider.Sender, q queue.Queue, opts DispatchOptions, log *zap.Logger) *DispatchService {
	log = logger.OrNop(log)
	return &DispatchService{
		Dedup: NewDedupGuard(repos.Messages),
		State: &MessageStateMachine{
			Messages:      repos.Messages,
			Conversations: repos.Conversations,
			Logger:        log,
		},
		Audit: &AuditTrail{
			Events: repos.Events,
			Queue:  q,
			Logger: log,
		},
		Limiter:       limiter,
		Pacer:         pacer,
		Sender:        sender,
		Messages:      repos.Messages,
		Conversations: repos.Conversations,
		Options:       opts,
		Logger:        log,
	}
}

// Dispatch sends one outbound message. A message it creates ends sent or
// failed, except in dry-run mode where it stays queued. Every call except a
// dedup hit records exactly one dispatch event. The returned error is typed (see internal/errors) and is
// returned together with the result when a message was persisted.
func (s *DispatchService) Dispatch(ctx context.Context, req DispatchRequest) (*DispatchResult, error) {
	if err := validateDispatch(req); err != nil {
		return nil, err
	}
	log := logger.OrNop(s.Logger).With(
		zap.String("workspace_id", req.WorkspaceID),
		zap.String("conversation_id", req.ConversationID),
	)

	unlock := s.Dedup.Lock(req.WorkspaceID, req.ConversationID, req.Body)
	prior, err := s.Dedup.Check(ctx, req.WorkspaceID, req.ConversationID, req.Body, s.Options.DedupWindow)
	if err != nil {
		unlock()
		return nil, fmt.Errorf("dedup lookup: %w", err)
	}
	if prior != nil {
		unlock()
		log.Info("duplicate dispatch suppressed", zap.String("message_id", prior.ID), zap.String("status", prior.Status.String()))
		return &DispatchResult{Outcome: OutcomeDuplicate, Message: prior, Duplicate: true}, nil
	}

	msg, err := s.State.Create(ctx, req.WorkspaceID, req.ConversationID, req.Body)
	unlock()
	if err != nil {
		s.Audit.Record(context.WithoutCancel(ctx), nil, model.EventSendFailed, map[string]any{
			"workspace_id":    req.WorkspaceID,
			"conversation_id": req.ConversationID,
			"actor_id":        req.ActorID,
			"reason":          failureReason(err),
		})
		return nil, err
	}
	log = log.With(zap.String("message_id", msg.ID))

	if s.Options.DryRun {
		s.Audit.Record(ctx, &msg.ID, model.EventDryRun, map[string]any{
			"reason":   "ENABLE_SEND=false",
			"actor_id": req.ActorID,
		})
		log.Info("dry run, provider not contacted")
		return &DispatchResult{Outcome: OutcomeDryRun, Message: msg}, nil
	}

	scope := ratelimit.ScopeKey(s.Options.RateScope, req.WorkspaceID)
	allowed, err := s.Limiter.Allow(ctx, scope, s.Options.RateCapPerMinute)
	if err != nil {
		return s.fail(ctx, log, msg, "rate_limiter_unavailable: "+err.Error(), model.EventSendFailed,
			map[string]any{"error": err.Error(), "actor_id": req.ActorID},
			fmt.Errorf("rate limiter: %w", err))
	}
	if !allowed {
		res, err := s.fail(ctx, log, msg, model.ReasonRateLimited, model.EventRateLimited,
			map[string]any{"scope": scope, "capacity": s.Options.RateCapPerMinute, "actor_id": req.ActorID},
			appErrors.NewRateLimited(scope, s.Options.RateCapPerMinute))
		res.Outcome = OutcomeRateLimited
		return res, err
	}

	if s.Pacer != nil {
		delay, err := s.Pacer.Wait(ctx)
		if err != nil {
			return s.fail(ctx, log, msg, "cancelled: "+err.Error(), model.EventSendFailed,
				map[string]any{"error": err.Error(), "stage": "pacing", "actor_id": req.ActorID}, err)
		}
		log.Debug("paced", zap.Duration("delay", delay))
	}

	to, err := s.Conversations.ResolveConversationDestination(ctx, req.ConversationID)
	if err != nil {
		return s.fail(ctx, log, msg, failureReason(err), model.EventSendFailed,
			map[string]any{"error": err.Error(), "stage": "resolve_destination", "actor_id": req.ActorID}, err)
	}

	timeout := s.Options.ProviderTimeout
	if timeout <= 0 {
		timeout = DefaultProviderTimeout
	}
	sendCtx, cancel := context.WithTimeout(ctx, timeout)
	providerMessageID, raw, err := s.Sender.Send(sendCtx, to, req.Body)
	cancel()
	if err != nil {
		payload := map[string]any{"error": err.Error(), "actor_id": req.ActorID}
		if raw != nil {
			payload["provider_response"] = raw
		}
		return s.fail(ctx, log, msg, err.Error(), model.EventSendFailed, payload,
			appErrors.NewProviderSendFailed(msg.ID, err))
	}

	sent := s.markSent(context.WithoutCancel(ctx), log, msg, providerMessageID)
	payload := map[string]any{"provider_message_id": providerMessageID, "actor_id": req.ActorID}
	if raw != nil {
		payload["provider_response"] = raw
	}
	s.Audit.Record(context.WithoutCancel(ctx), &msg.ID, model.EventSendSuccess, payload)
	log.Info("message sent", zap.String("provider_message_id", providerMessageID))

	return &DispatchResult{Outcome: OutcomeSent, Message: sent}, nil
}

// fail marks msg failed with reason, records one event and returns cause.
// Writes survive caller cancellation so the message never stays queued.
func (s *DispatchService) fail(ctx context.Context, log *zap.Logger, msg *model.Message, reason string, eventType model.EventType, payload map[string]any, cause error) (*DispatchResult, error) {
	ctx = context.WithoutCancel(ctx)

	failed, err := s.State.MarkFailed(ctx, msg.ID, reason)
	if err != nil {
		log.Error("failed to mark message failed", zap.String("reason", reason), zap.Error(err))
		failed = withStatus(msg, model.StatusFailed, nil, &reason)
	}
	payload["reason"] = reason
	s.Audit.Record(ctx, &msg.ID, eventType, payload)
	log.Warn("dispatch failed", zap.String("reason", reason), zap.Error(cause))

	return &DispatchResult{Outcome: OutcomeFailed, Message: failed}, cause
}

// markSent retries the status write a few times. The provider already
// accepted the message, so a lasting store failure is logged and the caller
// still sees it as sent.
func (s *DispatchService) markSent(ctx context.Context, log *zap.Logger, msg *model.Message, providerMessageID string) *model.Message {
	var err error
	for attempt := 1; attempt <= markSentAttempts; attempt++ {
		var sent *model.Message
		sent, err = s.State.MarkSent(ctx, msg.ID, providerMessageID)
		if err == nil {
			return sent
		}
		var invalid *appErrors.InvalidTransition
		if errors.As(err, &invalid) {
			break
		}
		time.Sleep(time.Duration(attempt) * markSentBackoff)
	}
	log.Error("message sent but status write failed",
		zap.String("provider_message_id", providerMessageID),
		zap.Error(err),
	)
	return withStatus(msg, model.StatusSent, &providerMessageID, nil)
}

// ApplyProviderStatus reconciles an asynchronous provider report. applied is
// false when the report is not forward progress for the stored message.
func (s *DispatchService) ApplyProviderStatus(ctx context.Context, providerMessageID, status, errorReason string) (msg *model.Message, applied bool, err error) {
	if strings.TrimSpace(providerMessageID) == "" {
		return nil, false, appErrors.NewValidationError("provider_message_id", "must not be empty")
	}
	to, ok := model.ParseMessageStatus(strings.ToLower(strings.TrimSpace(status)))
	if !ok {
		return nil, false, appErrors.NewUnknownProviderStatus(status)
	}

	current, err := s.Messages.GetByProviderMessageID(ctx, providerMessageID)
	if err != nil {
		return nil, false, err
	}
	if current == nil {
		return nil, false, appErrors.NewMessageNotFound(providerMessageID)
	}

	updated, applied, err := s.State.Advance(ctx, current, to, errorReason)
	if err != nil {
		return nil, false, err
	}
	log := logger.OrNop(s.Logger).With(
		zap.String("message_id", current.ID),
		zap.String("provider_message_id", providerMessageID),
	)
	if !applied {
		log.Debug("provider status ignored", zap.String("current", updated.Status.String()), zap.String("reported", to.String()))
		return updated, false, nil
	}

	payload := map[string]any{
		"provider_message_id": providerMessageID,
		"from":                current.Status.String(),
		"to":                  to.String(),
	}
	if errorReason != "" {
		payload["error_reason"] = errorReason
	}
	s.Audit.Record(ctx, &current.ID, model.EventProviderStatus, payload)
	log.Info("provider status applied", zap.String("from", current.Status.String()), zap.String("to", to.String()))
	return updated, true, nil
}

func (s *DispatchService) GetMessage(ctx context.Context, id string) (*model.Message, error) {
	msg, err := s.Messages.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if msg == nil {
		return nil, appErrors.NewMessageNotFound(id)
	}
	return msg, nil
}

// ListEvents returns the audit trail of a message, oldest first.
func (s *DispatchService) ListEvents(ctx context.Context, messageID string) ([]model.DispatchAttemptEvent, error) {
	if _, err := s.GetMessage(ctx, messageID); err != nil {
		return nil, err
	}
	return s.Audit.List(ctx, messageID)
}

func validateDispatch(req DispatchRequest) error {
	switch {
	case strings.TrimSpace(req.WorkspaceID) == "":
		return appErrors.NewValidationError("workspace_id", "must not be empty")
	case strings.TrimSpace(req.ConversationID) == "":
		return appErrors.NewValidationError("conversation_id", "must not be empty")
	case strings.TrimSpace(req.Body) == "":
		return appErrors.NewValidationError("body", "must not be empty")
	}
	return nil
}

func failureReason(err error) string {
	var conv *appErrors.ConversationNotFound
	var addr *appErrors.ContactAddressMissing
	switch {
	case errors.As(err, &conv):
		return model.ReasonConversationNotFound
	case errors.As(err, &addr):
		return model.ReasonContactAddressMissing
	}
	return err.Error()
}

func withStatus(msg *model.Message, status model.MessageStatus, providerMessageID, errorReason *string) *model.Message {
	out := *msg
	out.Status = status
	if providerMessageID != nil {
		out.ProviderMessageID = providerMessageID
	}
	out.ErrorReason = errorReason
	return &out
}
