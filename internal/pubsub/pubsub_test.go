package pubsub

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroker_PublishReachesAllSubscribers(t *testing.T) {
	b := NewBroker[string]()
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s1 := b.Subscribe(ctx)
	s2 := b.Subscribe(ctx)
	require.Equal(t, 2, b.SubscriberCount())

	b.Publish(CreatedEvent, "hello")

	for _, ch := range []<-chan Event[string]{s1, s2} {
		select {
		case ev := <-ch:
			assert.Equal(t, CreatedEvent, ev.Type)
			assert.Equal(t, "hello", ev.Payload)
			assert.WithinDuration(t, time.Now(), ev.Timestamp, time.Minute)
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive the event")
		}
	}
}

func TestBroker_ContextCancelClosesSubscription(t *testing.T) {
	b := NewBroker[int]()
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	ch := b.Subscribe(ctx)
	cancel()

	select {
	case _, open := <-ch:
		assert.False(t, open)
	case <-time.After(time.Second):
		t.Fatal("subscription channel not closed after cancel")
	}
}

func TestBroker_FullSubscriberDropsInsteadOfBlocking(t *testing.T) {
	b := NewBrokerWithBuffer[int](1)
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := b.Subscribe(ctx)

	done := make(chan struct{})
	go func() {
		b.Publish(UpdatedEvent, 1)
		b.Publish(UpdatedEvent, 2) // buffer full: dropped, not blocked
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}

	ev := <-ch
	assert.Equal(t, 1, ev.Payload)
}

func TestBroker_CloseIsIdempotentAndSubscribersSeeIt(t *testing.T) {
	b := NewBroker[int]()
	ctx := context.Background()
	ch := b.Subscribe(ctx)

	b.Close()
	b.Close()

	_, open := <-ch
	assert.False(t, open)

	// Subscribing after close yields an immediately closed channel.
	ch2 := b.Subscribe(ctx)
	_, open = <-ch2
	assert.False(t, open)
}
