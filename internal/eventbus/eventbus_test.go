package eventbus

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishDeliversWithinCapacity(t *testing.T) {
	b := New(nil)
	sub := b.Subscribe(SubscribeOptions{Name: "a", Capacity: 4})

	for i := 0; i < 4; i++ {
		b.Publish(Event{ID: EventID(i)}, 0)
	}

	m := sub.Metrics()
	assert.Equal(t, uint64(4), m.DeliveredEvents)
	assert.Equal(t, uint64(0), m.DroppedEvents)
}

func TestPublishDropsBeyondCapacity(t *testing.T) {
	b := New(nil)
	sub := b.Subscribe(SubscribeOptions{Name: "a", Capacity: 4})

	for i := 0; i < 6; i++ {
		b.Publish(Event{ID: EventID(i)}, 0)
	}

	m := sub.Metrics()
	assert.Equal(t, uint64(4), m.DeliveredEvents)
	assert.Equal(t, uint64(2), m.DroppedEvents)
	assert.Equal(t, m.DeliveredEvents+m.DroppedEvents, uint64(6))
}

func TestReceiveDrainsInOrder(t *testing.T) {
	b := New(nil)
	sub := b.Subscribe(SubscribeOptions{Name: "a", Capacity: 4})

	for i := 0; i < 3; i++ {
		b.Publish(Event{ID: EventID(i)}, 0)
	}

	for i := 0; i < 3; i++ {
		ev, ok := sub.Receive(time.Second)
		require.True(t, ok)
		assert.Equal(t, EventID(i), ev.ID)
	}
}

func TestUnsubscribeDoesNotRedirectToOtherSubscription(t *testing.T) {
	b := New(nil)
	a := b.Subscribe(SubscribeOptions{Name: "a", Capacity: 4})
	c := b.Subscribe(SubscribeOptions{Name: "c", Capacity: 4})

	b.Unsubscribe(a)
	b.Publish(Event{ID: 1}, 0)

	ev, ok := c.Receive(100 * time.Millisecond)
	require.True(t, ok)
	assert.Equal(t, EventID(1), ev.ID)

	_, ok = a.Receive(10 * time.Millisecond)
	assert.False(t, ok)
}

func TestDispatchInvokesCallback(t *testing.T) {
	b := New(nil)
	received := make(chan Event, 1)
	sub := b.Subscribe(SubscribeOptions{
		Name:     "cb",
		Capacity: 2,
		Callback: func(ev Event) { received <- ev },
	})

	b.Publish(Event{ID: 7}, 0)
	ok := b.Dispatch(sub, time.Second)
	require.True(t, ok)

	select {
	case ev := <-received:
		assert.Equal(t, EventID(7), ev.ID)
	default:
		t.Fatal("callback was not invoked")
	}
}

func TestPublishRacingUnsubscribeDoesNotPanic(t *testing.T) {
	b := New(nil)

	for i := 0; i < 200; i++ {
		sub := b.Subscribe(SubscribeOptions{Name: "race", Capacity: 1})

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				b.Publish(Event{ID: EventID(j)}, time.Millisecond)
			}
		}()
		go func() {
			defer wg.Done()
			b.Unsubscribe(sub)
		}()
		wg.Wait()
	}
}
