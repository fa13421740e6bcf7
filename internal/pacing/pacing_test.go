package pacing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRejectsBadBounds(t *testing.T) {
	_, err := New(-time.Millisecond, time.Second)
	assert.Error(t, err)

	_, err = New(time.Second, time.Millisecond)
	assert.Error(t, err)

	_, err = New(0, 0)
	assert.NoError(t, err)
}

func TestNextStaysWithinBounds(t *testing.T) {
	p, err := New(200*time.Millisecond, 900*time.Millisecond)
	require.NoError(t, err)

	for i := 0; i < 1000; i++ {
		d := p.Next()
		assert.GreaterOrEqual(t, d, 200*time.Millisecond)
		assert.LessOrEqual(t, d, 900*time.Millisecond)
		assert.Zero(t, d%time.Millisecond, "delay is a whole number of milliseconds")
	}
}

func TestNextCoversBothEnds(t *testing.T) {
	p, err := New(10*time.Millisecond, 12*time.Millisecond)
	require.NoError(t, err)

	p.intN = func(n int64) int64 {
		assert.Equal(t, int64(3), n)
		return 0
	}
	assert.Equal(t, 10*time.Millisecond, p.Next())

	p.intN = func(n int64) int64 { return n - 1 }
	assert.Equal(t, 12*time.Millisecond, p.Next())
}

func TestFixedDelay(t *testing.T) {
	p, err := New(50*time.Millisecond, 50*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, 50*time.Millisecond, p.Next())
}

func TestWaitUsesSleeper(t *testing.T) {
	p, err := New(5*time.Millisecond, 5*time.Millisecond)
	require.NoError(t, err)

	var slept time.Duration
	p.sleep = func(_ context.Context, d time.Duration) error {
		slept = d
		return nil
	}

	d, err := p.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5*time.Millisecond, d)
	assert.Equal(t, 5*time.Millisecond, slept)
}

func TestSleepHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	err := Sleep(ctx, time.Hour)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
}

func TestZeroDelayDoesNotSleep(t *testing.T) {
	p, err := New(0, 0)
	require.NoError(t, err)
	p.sleep = func(context.Context, time.Duration) error {
		t.Fatal("sleep must not be called for a zero delay")
		return nil
	}
	d, err := p.Wait(context.Background())
	require.NoError(t, err)
	assert.Zero(t, d)
}
