// Package ratelimit admits outbound sends against a trailing one-minute window.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Window is the span every admission check looks back over.
const Window = time.Minute

// Limiter decides whether one more send fits in the window for scopeKey.
// A capacity of zero or less always admits.
type Limiter interface {
	Allow(ctx context.Context, scopeKey string, capacity int) (bool, error)
}

// ScopeKey maps a sending identity onto a window key. With the global scope
// every workspace shares one budget.
func ScopeKey(scope, workspaceID string) string {
	if scope == "global" {
		return "global"
	}
	return "workspace:" + workspaceID
}

// SlidingWindow is an in-process Limiter. Each scope has its own lock, so
// checks for different scopes never contend.
type SlidingWindow struct {
	mu     sync.Mutex
	scopes map[string]*scopeWindow
	now    func() time.Time
}

type scopeWindow struct {
	mu   sync.Mutex
	hits []time.Time
}

func NewSlidingWindow() *SlidingWindow {
	return &SlidingWindow{
		scopes: make(map[string]*scopeWindow),
		now:    time.Now,
	}
}

// WithClock replaces the time source. Used by tests.
func (l *SlidingWindow) WithClock(now func() time.Time) *SlidingWindow {
	l.now = now
	return l
}

func (l *SlidingWindow) Allow(_ context.Context, scopeKey string, capacity int) (bool, error) {
	if capacity <= 0 {
		return true, nil
	}

	w := l.scope(scopeKey)
	w.mu.Lock()
	defer w.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-Window)
	keep := 0
	for keep < len(w.hits) && w.hits[keep].Before(cutoff) {
		keep++
	}
	w.hits = w.hits[keep:]

	if len(w.hits) >= capacity {
		return false, nil
	}
	w.hits = append(w.hits, now)
	return true, nil
}

// Len reports how many admissions are currently recorded for scopeKey.
func (l *SlidingWindow) Len(scopeKey string) int {
	w := l.scope(scopeKey)
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.hits)
}

func (l *SlidingWindow) scope(key string) *scopeWindow {
	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.scopes[key]
	if !ok {
		w = &scopeWindow{}
		l.scopes[key] = w
	}
	return w
}

var _ Limiter = (*SlidingWindow)(nil)
