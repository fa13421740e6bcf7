package provider

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

type BreakerConfig struct {
	ConsecutiveFailures uint32
	OpenTimeout         time.Duration
	HalfOpenRequests    uint32
}

func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		ConsecutiveFailures: 5,
		OpenTimeout:         30 * time.Second,
		HalfOpenRequests:    1,
	}
}

// BreakerSender stops calling the provider after repeated failures and fails
// fast until the breaker half-opens again.
type BreakerSender struct {
	next Sender
	cb   *gobreaker.CircuitBreaker
}

type sendOutcome struct {
	id  string
	raw any
}

func NewBreakerSender(next Sender, cfg BreakerConfig, logger *zap.Logger) *BreakerSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	settings := gobreaker.Settings{
		Name:        "provider",
		MaxRequests: cfg.HalfOpenRequests,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.ConsecutiveFailures
		},
		// a caller that gave up says nothing about provider health
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("provider circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	}
	return &BreakerSender{next: next, cb: gobreaker.NewCircuitBreaker(settings)}
}

func (b *BreakerSender) Send(ctx context.Context, to, body string) (string, any, error) {
	res, err := b.cb.Execute(func() (interface{}, error) {
		id, raw, err := b.next.Send(ctx, to, body)
		if err != nil {
			return sendOutcome{raw: raw}, err
		}
		return sendOutcome{id: id, raw: raw}, nil
	})
	out, _ := res.(sendOutcome)
	if err != nil {
		return "", out.raw, err
	}
	return out.id, out.raw, nil
}

// State exposes the breaker state for health reporting.
func (b *BreakerSender) State() string {
	return b.cb.State().String()
}

var _ Sender = (*BreakerSender)(nil)
