package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBrokerDeliversToSubscriber(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	sub := b.Subscribe()
	defer b.Unsubscribe(sub)

	b.Publish(&Event{Type: EventPeerSynced, NodeID: "peer-1", Message: "sync completed"})

	select {
	case evt := <-sub:
		require.Equal(t, EventPeerSynced, evt.Type)
		require.Equal(t, "peer-1", evt.NodeID)
		require.False(t, evt.Timestamp.IsZero())
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestBrokerSkipsFullSubscriberBuffer(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	sub := b.Subscribe()
	defer b.Unsubscribe(sub)

	for i := 0; i < 200; i++ {
		b.Publish(&Event{Type: EventStatusChange, Message: "tick"})
	}

	// Draining should never block indefinitely even though far more
	// events were published than either buffer can hold.
	deadline := time.After(2 * time.Second)
	count := 0
drain:
	for {
		select {
		case <-sub:
			count++
		case <-deadline:
			break drain
		default:
			if count > 0 {
				break drain
			}
		}
	}
	require.Greater(t, count, 0)
}

func TestUnsubscribeRemovesSubscriber(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	sub := b.Subscribe()
	require.Equal(t, 1, b.SubscriberCount())
	b.Unsubscribe(sub)
	require.Equal(t, 0, b.SubscriberCount())
}
