package service

import (
	"context"
	"sync"
	"time"

	"github.com/unclebandit/outbound-dispatcher/internal/model"
	"github.com/unclebandit/outbound-dispatcher/internal/repository"
)

// DefaultDedupWindow is how far back an identical body counts as the same send.
const DefaultDedupWindow = 30 * time.Second

// DedupGuard short-circuits double submits and retries of a send that is
// still queued or already went out. A failed prior attempt never blocks a retry.
type DedupGuard struct {
	Messages repository.MessageRepositoryInterface
	Now      func() time.Time

	locks keyedMutex
}

func NewDedupGuard(messages repository.MessageRepositoryInterface) *DedupGuard {
	return &DedupGuard{Messages: messages, Now: time.Now}
}

// Check returns the prior message to reuse, or nil when the caller should
// dispatch. Only the most recent exact match inside lookback is considered.
func (g *DedupGuard) Check(ctx context.Context, workspaceID, conversationID, bodyText string, lookback time.Duration) (*model.Message, error) {
	if lookback <= 0 {
		lookback = DefaultDedupWindow
	}
	since := g.now().Add(-lookback)

	prior, err := g.Messages.FindRecentOutboundMessage(ctx, workspaceID, conversationID, bodyText, since)
	if err != nil {
		return nil, err
	}
	if prior == nil || prior.Status == model.StatusFailed {
		return nil, nil
	}
	return prior, nil
}

// Lock serializes check-then-create for one (workspace, conversation, body)
// inside this process. The returned func releases it.
func (g *DedupGuard) Lock(workspaceID, conversationID, bodyText string) func() {
	return g.locks.lock(workspaceID + "\x00" + conversationID + "\x00" + bodyText)
}

func (g *DedupGuard) now() time.Time {
	if g.Now == nil {
		return time.Now()
	}
	return g.Now()
}

// keyedMutex hands out one mutex per key and forgets it once nobody holds or
// waits on it.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*refMutex)
	}
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
