// Package pacing spaces provider calls with a random delay so outbound traffic
// does not arrive in bursts. It is not a rate limit.
package pacing

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"
)

type Pacer struct {
	minDelay time.Duration
	maxDelay time.Duration
	intN     func(n int64) int64
	sleep    func(ctx context.Context, d time.Duration) error
}

// New returns a Pacer drawing delays from [minDelay, maxDelay] in whole milliseconds.
func New(minDelay, maxDelay time.Duration) (*Pacer, error) {
	if minDelay < 0 || maxDelay < minDelay {
		return nil, fmt.Errorf("pacing bounds must satisfy 0 <= min <= max, got min=%s max=%s", minDelay, maxDelay)
	}
	return &Pacer{minDelay: minDelay, maxDelay: maxDelay, intN: rand.Int64N, sleep: Sleep}, nil
}

// Next draws the next delay.
func (p *Pacer) Next() time.Duration {
	minMs, maxMs := p.minDelay.Milliseconds(), p.maxDelay.Milliseconds()
	if maxMs <= minMs {
		return time.Duration(minMs) * time.Millisecond
	}
	return time.Duration(minMs+p.intN(maxMs-minMs+1)) * time.Millisecond
}

// Wait blocks the calling dispatch for the next delay. It returns early with
// the context error if ctx is done first.
func (p *Pacer) Wait(ctx context.Context) (time.Duration, error) {
	d := p.Next()
	if d <= 0 {
		return 0, ctx.Err()
	}
	return d, p.sleep(ctx, d)
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
