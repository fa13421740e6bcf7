package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
}

func newRedisLimiter(t *testing.T, clock *fakeClock) *RedisWindow {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisWindow(client).WithClock(clock.Now)
}

// limiters runs the same behaviour checks against both implementations.
func limiters(t *testing.T, clock *fakeClock) map[string]Limiter {
	return map[string]Limiter{
		"memory": NewSlidingWindow().WithClock(clock.Now),
		"redis":  newRedisLimiter(t, clock),
	}
}

func TestCapacityIsEnforced(t *testing.T) {
	for name, l := range limiters(t, newClock()) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			const capacity = 3
			for i := 0; i < capacity; i++ {
				ok, err := l.Allow(ctx, "workspace:a", capacity)
				require.NoError(t, err)
				assert.True(t, ok, "attempt %d", i+1)
			}
			ok, err := l.Allow(ctx, "workspace:a", capacity)
			require.NoError(t, err)
			assert.False(t, ok, "attempt beyond capacity must be rejected")
		})
	}
}

func TestWindowSlides(t *testing.T) {
	clock := newClock()
	for name, l := range limiters(t, clock) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			ok, err := l.Allow(ctx, "workspace:slide-"+name, 1)
			require.NoError(t, err)
			assert.True(t, ok)

			ok, err = l.Allow(ctx, "workspace:slide-"+name, 1)
			require.NoError(t, err)
			assert.False(t, ok)

			clock.Advance(61 * time.Second)
			ok, err = l.Allow(ctx, "workspace:slide-"+name, 1)
			require.NoError(t, err)
			assert.True(t, ok)
		})
	}
}

func TestUnlimitedCapacity(t *testing.T) {
	for name, l := range limiters(t, newClock()) {
		t.Run(name, func(t *testing.T) {
			for i := 0; i < 100; i++ {
				ok, err := l.Allow(context.Background(), "workspace:a", 0)
				require.NoError(t, err)
				require.True(t, ok)
			}
			ok, err := l.Allow(context.Background(), "workspace:a", -1)
			require.NoError(t, err)
			assert.True(t, ok)
		})
	}
}

func TestScopesAreIndependent(t *testing.T) {
	for name, l := range limiters(t, newClock()) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			ok, _ := l.Allow(ctx, ScopeKey("workspace", "a"), 1)
			assert.True(t, ok)
			ok, _ = l.Allow(ctx, ScopeKey("workspace", "b"), 1)
			assert.True(t, ok, "one tenant must not starve another")
			ok, _ = l.Allow(ctx, ScopeKey("workspace", "a"), 1)
			assert.False(t, ok)
		})
	}
}

func TestScopeKey(t *testing.T) {
	assert.Equal(t, "workspace:ws-1", ScopeKey("workspace", "ws-1"))
	assert.Equal(t, "global", ScopeKey("global", "ws-1"))
}

func TestSlidingWindowConcurrentAdmissions(t *testing.T) {
	l := NewSlidingWindow()
	const capacity = 10

	var admitted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := l.Allow(context.Background(), "workspace:busy", capacity)
			if err == nil && ok {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(capacity), admitted.Load())
	assert.Equal(t, capacity, l.Len("workspace:busy"))
}

func TestSlidingWindowTrimsStaleEntries(t *testing.T) {
	clock := newClock()
	l := NewSlidingWindow().WithClock(clock.Now)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		ok, _ := l.Allow(ctx, "workspace:a", 5)
		require.True(t, ok)
		clock.Advance(10 * time.Second)
	}
	// oldest entries are now 50s..10s old
	clock.Advance(15 * time.Second)
	ok, _ := l.Allow(ctx, "workspace:a", 5)
	assert.True(t, ok)
	assert.LessOrEqual(t, l.Len("workspace:a"), 5)
}
