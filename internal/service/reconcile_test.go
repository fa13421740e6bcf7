package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	appErrors "github.com/unclebandit/outbound-dispatcher/internal/errors"
	"github.com/unclebandit/outbound-dispatcher/internal/model"
	"github.com/unclebandit/outbound-dispatcher/internal/service"
)

func sentMessage(t *testing.T, f *fixture) *model.Message {
	t.Helper()
	f.sender.reply = func(int32, string, string) (string, any, error) {
		return "wamid.abc", map[string]any{}, nil
	}
	res, err := f.dispatch(t, "Hello")
	require.NoError(t, err)
	return res.Message
}

func TestApplyProviderStatusProgression(t *testing.T) {
	f := newFixture(t, service.DispatchOptions{})
	msg := sentMessage(t, f)
	ctx := context.Background()

	got, applied, err := f.svc.ApplyProviderStatus(ctx, "wamid.abc", "delivered", "")
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, model.StatusDelivered, got.Status)

	got, applied, err = f.svc.ApplyProviderStatus(ctx, "wamid.abc", "READ", "")
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, model.StatusRead, got.Status)

	// stale report after read
	got, applied, err = f.svc.ApplyProviderStatus(ctx, "wamid.abc", "delivered", "")
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, model.StatusRead, got.Status)

	events := f.eventsOf(t, msg.ID)
	require.Len(t, events, 3)
	assert.Equal(t, model.EventSendSuccess, events[0].EventType)
	assert.Equal(t, model.EventProviderStatus, events[1].EventType)
	assert.Equal(t, model.EventProviderStatus, events[2].EventType)
	p := payloadOf(t, events[2])
	assert.Equal(t, "delivered", p["from"])
	assert.Equal(t, "read", p["to"])
}

func TestApplyProviderStatusFailure(t *testing.T) {
	f := newFixture(t, service.DispatchOptions{})
	sentMessage(t, f)

	got, applied, err := f.svc.ApplyProviderStatus(context.Background(), "wamid.abc", "failed", "recipient blocked")
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, model.StatusFailed, got.Status)
	assert.Equal(t, "recipient blocked", *got.ErrorReason)
}

func TestApplyProviderStatusErrors(t *testing.T) {
	f := newFixture(t, service.DispatchOptions{})
	sentMessage(t, f)
	ctx := context.Background()

	_, _, err := f.svc.ApplyProviderStatus(ctx, "wamid.abc", "bounced", "")
	var unknown *appErrors.UnknownProviderStatus
	assert.ErrorAs(t, err, &unknown)
	assert.False(t, service.IsRetryable(err))

	_, _, err = f.svc.ApplyProviderStatus(ctx, "wamid.other", "delivered", "")
	var nf *appErrors.MessageNotFound
	assert.ErrorAs(t, err, &nf)
	assert.True(t, service.IsRetryable(err))

	_, _, err = f.svc.ApplyProviderStatus(ctx, "", "delivered", "")
	var vErr *appErrors.ValidationError
	assert.ErrorAs(t, err, &vErr)
	assert.False(t, service.IsRetryable(err))
}

type applierFunc func(ctx context.Context, id, status, reason string) (*model.Message, bool, error)

func (f applierFunc) ApplyProviderStatus(ctx context.Context, id, status, reason string) (*model.Message, bool, error) {
	return f(ctx, id, status, reason)
}

func TestReconcileWorker(t *testing.T) {
	f := newFixture(t, service.DispatchOptions{})
	sentMessage(t, f)

	jobs := make(chan service.StatusJob, 2)
	results := make(chan error, 2)
	done := func(err error) { results <- err }
	jobs <- service.StatusJob{Event: model.ProviderStatusEvent{ProviderMessageID: "wamid.abc", Status: "delivered"}, Done: done}
	jobs <- service.StatusJob{Event: model.ProviderStatusEvent{ProviderMessageID: "wamid.abc", Status: "bogus"}, Done: done}
	close(jobs)

	w := service.NewReconcileWorker(f.svc, jobs, zap.NewNop())
	w.Start(context.Background())

	require.NoError(t, <-results)
	var unknown *appErrors.UnknownProviderStatus
	require.ErrorAs(t, <-results, &unknown)

	msg, err := f.store.GetByProviderMessageID(context.Background(), "wamid.abc")
	require.NoError(t, err)
	assert.Equal(t, model.StatusDelivered, msg.Status)
}

func TestReconcileWorkerStopsOnCancel(t *testing.T) {
	jobs := make(chan service.StatusJob)
	ctx, cancel := context.WithCancel(context.Background())

	w := service.NewReconcileWorker(applierFunc(func(context.Context, string, string, string) (*model.Message, bool, error) {
		return nil, false, errors.New("unreachable")
	}), jobs, nil)

	stopped := make(chan struct{})
	go func() {
		w.Start(ctx)
		close(stopped)
	}()
	cancel()

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}
}
