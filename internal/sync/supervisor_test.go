package sync

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSupervisor_Watch(t *testing.T) {
	t.Run("successful watch reaches subscribed", func(t *testing.T) {
		store := &fakeStore{}
		applier := &recordingApplier{}
		sup := NewSupervisor(store, applier.Apply, nil)

		require.NoError(t, sup.Watch(context.Background(), "messages"))
		store.lastOnStatus(SubscriptionStatus{State: StateSubscribed})

		handles := sup.Handles()
		require.Len(t, handles, 1)
		assert.Equal(t, "messages", handles[0].Topic)
		assert.Equal(t, StateSubscribed, handles[0].State)
		assert.Empty(t, handles[0].LastError)
	})

	t.Run("duplicate watch rejected", func(t *testing.T) {
		store := &fakeStore{}
		sup := NewSupervisor(store, func(Event) {}, nil)

		require.NoError(t, sup.Watch(context.Background(), "messages"))
		assert.Error(t, sup.Watch(context.Background(), "messages"))
	})

	t.Run("subscribe failure lands in error state", func(t *testing.T) {
		store := &fakeStore{subscribeErr: errors.New("dial refused")}
		sup := NewSupervisor(store, func(Event) {}, nil)

		err := sup.Watch(context.Background(), "messages")
		require.Error(t, err)

		handles := sup.Handles()
		require.Len(t, handles, 1)
		assert.Equal(t, StateError, handles[0].State)
		assert.Contains(t, handles[0].LastError, "dial refused")
	})
}

func TestSupervisor_EventsFlowToDeliver(t *testing.T) {
	store := &fakeStore{}
	applier := &recordingApplier{}
	sup := NewSupervisor(store, applier.Apply, nil)

	require.NoError(t, sup.Watch(context.Background(), "messages"))

	store.lastOnEvent(makeEvent("chat_a", "msg_1", 1))
	store.lastOnEvent(makeEvent("chat_b", "msg_2", 2))

	applied := applier.applied()
	require.Len(t, applied, 2)
	assert.Equal(t, "msg_1", applied[0].EntityID)
	assert.Equal(t, "msg_2", applied[1].EntityID)
}

func TestSupervisor_ErrorAndRetry(t *testing.T) {
	store := &fakeStore{}
	sup := NewSupervisor(store, func(Event) {}, nil)

	require.NoError(t, sup.Watch(context.Background(), "messages"))
	store.lastOnStatus(SubscriptionStatus{State: StateSubscribed})

	// Channel failure: reported, not retried by the supervisor itself
	store.lastOnStatus(SubscriptionStatus{State: StateError, Err: errors.New("connection reset")})
	handles := sup.Handles()
	require.Len(t, handles, 1)
	assert.Equal(t, StateError, handles[0].State)
	assert.Contains(t, handles[0].LastError, "connection reset")
	assert.Len(t, store.callLog(), 1)

	// External retry re-subscribes and clears the error
	sup.RetryErrored(context.Background())
	assert.Len(t, store.callLog(), 2)
	assert.True(t, store.subs[0].isClosed(), "failed channel torn down before redial")

	store.lastOnStatus(SubscriptionStatus{State: StateSubscribed})
	handles = sup.Handles()
	assert.Equal(t, StateSubscribed, handles[0].State)
	assert.Empty(t, handles[0].LastError)
}

func TestSupervisor_RetrySkipsHealthyChannels(t *testing.T) {
	store := &fakeStore{}
	sup := NewSupervisor(store, func(Event) {}, nil)

	require.NoError(t, sup.Watch(context.Background(), "messages"))
	store.lastOnStatus(SubscriptionStatus{State: StateSubscribed})

	sup.RetryErrored(context.Background())
	assert.Len(t, store.callLog(), 1, "healthy channel must not be redialed")
}

func TestSupervisor_Teardown(t *testing.T) {
	t.Run("unwatch closes one channel", func(t *testing.T) {
		store := &fakeStore{}
		sup := NewSupervisor(store, func(Event) {}, nil)

		require.NoError(t, sup.Watch(context.Background(), "messages"))
		require.NoError(t, sup.Unwatch("messages"))

		assert.True(t, store.subs[0].isClosed())
		assert.Empty(t, sup.Handles())
	})

	t.Run("unwatch of unknown topic fails", func(t *testing.T) {
		sup := NewSupervisor(&fakeStore{}, func(Event) {}, nil)
		assert.Error(t, sup.Unwatch("unknown"))
	})

	t.Run("close all tears down every channel", func(t *testing.T) {
		store := &fakeStore{}
		sup := NewSupervisor(store, func(Event) {}, nil)

		require.NoError(t, sup.Watch(context.Background(), "messages"))
		require.NoError(t, sup.Watch(context.Background(), "chats"))

		sup.CloseAll()

		for _, sub := range store.subs {
			assert.True(t, sub.isClosed())
		}
		assert.Empty(t, sup.Handles())
	})

	t.Run("status after close is ignored", func(t *testing.T) {
		store := &fakeStore{}
		sup := NewSupervisor(store, func(Event) {}, nil)

		require.NoError(t, sup.Watch(context.Background(), "messages"))
		onStatus := store.lastOnStatus
		require.NoError(t, sup.Unwatch("messages"))

		// A straggling callback from the dead channel must not resurrect it
		onStatus(SubscriptionStatus{State: StateError, Err: errors.New("late error")})
		assert.Empty(t, sup.Handles())
	})
}
