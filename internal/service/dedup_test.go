package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unclebandit/outbound-dispatcher/internal/model"
	"github.com/unclebandit/outbound-dispatcher/internal/repository"
)

func TestDedupCheckIgnoresFailedMatch(t *testing.T) {
	store := repository.NewMemoryStore()
	store.AddConversation(model.Conversation{ID: "c", WorkspaceID: "w"}, nil)
	ctx := context.Background()

	msg, err := store.InsertMessage(ctx, "w", "c", "hi")
	require.NoError(t, err)

	g := NewDedupGuard(store)
	prior, err := g.Check(ctx, "w", "c", "hi", 0)
	require.NoError(t, err)
	require.NotNil(t, prior)
	assert.Equal(t, msg.ID, prior.ID)

	reason := "boom"
	_, err = store.UpdateMessageStatus(ctx, msg.ID, model.StatusUpdate{
		From: []model.MessageStatus{model.StatusQueued}, To: model.StatusFailed, ErrorReason: &reason,
	})
	require.NoError(t, err)

	prior, err = g.Check(ctx, "w", "c", "hi", time.Minute)
	require.NoError(t, err)
	assert.Nil(t, prior)

	prior, err = g.Check(ctx, "w", "c", "other body", time.Minute)
	require.NoError(t, err)
	assert.Nil(t, prior)
}

func TestKeyedMutexSerializesSameKey(t *testing.T) {
	var k keyedMutex
	var wg sync.WaitGroup
	var mu sync.Mutex
	inside, maxInside := 0, 0

	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := k.lock("same")
			mu.Lock()
			inside++
			maxInside = max(maxInside, inside)
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			inside--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxInside)
	assert.Empty(t, k.locks)
}

func TestKeyedMutexIndependentKeys(t *testing.T) {
	var k keyedMutex
	unlockA := k.lock("a")
	defer unlockA()

	acquired := make(chan struct{})
	go func() {
		unlock := k.lock("b")
		unlock()
		close(acquired)
	}()

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("lock on b blocked behind a")
	}
}
