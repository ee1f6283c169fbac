package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager_BroadcastDeliversToSubscriber(t *testing.T) {
	m := NewManager()

	ch, cancel, err := m.Subscribe(t.Context(), TriggersChannel)
	require.NoError(t, err)
	defer cancel()

	assert.Equal(t, 1, m.subscriberCount(TriggersChannel))

	m.Broadcast(TriggersChannel, []byte(`{"ticker":"ABCD"}`))

	select {
	case payload := <-ch:
		assert.JSONEq(t, `{"ticker":"ABCD"}`, string(payload))
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for broadcast")
	}
}

func TestManager_BroadcastIgnoresUnrelatedChannel(t *testing.T) {
	m := NewManager()

	ch, cancel, err := m.Subscribe(t.Context(), EntityTriggerChannel("ABCD"))
	require.NoError(t, err)
	defer cancel()

	m.Broadcast(EntityTriggerChannel("WXYZ"), []byte(`{}`))

	select {
	case <-ch:
		t.Fatal("subscriber to a different channel should not receive the broadcast")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestManager_UnsubscribeRemovesChannelEntry(t *testing.T) {
	m := NewManager()

	_, cancel, err := m.Subscribe(t.Context(), TriggersChannel)
	require.NoError(t, err)
	assert.Equal(t, 1, m.subscriberCount(TriggersChannel))

	cancel()
	assert.Equal(t, 0, m.subscriberCount(TriggersChannel))
}

func TestManager_MultipleSubscribersSameChannel(t *testing.T) {
	m := NewManager()

	ch1, cancel1, err := m.Subscribe(t.Context(), TriggersChannel)
	require.NoError(t, err)
	defer cancel1()

	ch2, cancel2, err := m.Subscribe(t.Context(), TriggersChannel)
	require.NoError(t, err)
	defer cancel2()

	m.Broadcast(TriggersChannel, []byte(`{"ticker":"ABCD"}`))

	for _, ch := range []<-chan []byte{ch1, ch2} {
		select {
		case payload := <-ch:
			assert.JSONEq(t, `{"ticker":"ABCD"}`, string(payload))
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for broadcast")
		}
	}
}
