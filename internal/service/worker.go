package service

import (
	"context"
	"errors"

	"go.uber.org/zap"

	appErrors "github.com/unclebandit/outbound-dispatcher/internal/errors"
	"github.com/unclebandit/outbound-dispatcher/internal/logger"
	"github.com/unclebandit/outbound-dispatcher/internal/model"
)

// StatusApplier is what the reconcile worker needs from the dispatcher
type StatusApplier interface {
	ApplyProviderStatus(ctx context.Context, providerMessageID, status, errorReason string) (*model.Message, bool, error)
}

// StatusJob carries one provider report. Done, when set, receives the outcome.
type StatusJob struct {
	Event model.ProviderStatusEvent
	Done  func(err error)
}

// ReconcileWorker applies provider status reports as they arrive
type ReconcileWorker struct {
	Applier StatusApplier
	JobChan <-chan StatusJob
	Logger  *zap.Logger
}

func NewReconcileWorker(applier StatusApplier, jobChan <-chan StatusJob, log *zap.Logger) *ReconcileWorker {
	return &ReconcileWorker{
		Applier: applier,
		JobChan: jobChan,
		Logger:  logger.OrNop(log),
	}
}

// Start processes jobs until the channel closes or ctx is done
func (w *ReconcileWorker) Start(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-w.JobChan:
			if !ok {
				return
			}
			err := w.Process(ctx, job.Event)
			if job.Done != nil {
				job.Done(err)
			}
		}
	}
}

func (w *ReconcileWorker) Process(ctx context.Context, ev model.ProviderStatusEvent) error {
	log := logger.OrNop(w.Logger).With(
		zap.String("provider_message_id", ev.ProviderMessageID),
		zap.String("status", ev.Status),
	)
	_, applied, err := w.Applier.ApplyProviderStatus(ctx, ev.ProviderMessageID, ev.Status, ev.ErrorReason)
	if err != nil {
		log.Warn("failed to apply provider status", zap.Error(err))
		return err
	}
	log.Debug("provider status processed", zap.Bool("applied", applied))
	return nil
}

// IsRetryable reports whether a failed status report is worth redelivering.
// Unknown statuses and malformed reports never succeed on retry. A missing
// message may just be a report that raced ahead of the send bookkeeping.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var unknown *appErrors.UnknownProviderStatus
	var invalid *appErrors.ValidationError
	return !errors.As(err, &unknown) && !errors.As(err, &invalid)
}
