package linkstate

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/librescoot/bms-gateway/internal/eventbus"
)

type fakeWatcher struct {
	mu sync.Mutex
	up bool
	err error
}

func (w *fakeWatcher) LinkUp() (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.up, w.err
}

func (w *fakeWatcher) set(up bool) {
	w.mu.Lock()
	w.up = up
	w.mu.Unlock()
}

func TestInitialStatePublishesOnce(t *testing.T) {
	watcher := &fakeWatcher{up: true}
	bus := eventbus.New(nil)
	sub := bus.Subscribe(eventbus.SubscribeOptions{Name: "test", Capacity: 8})

	src := New(watcher, bus, Config{PollInterval: 10 * time.Millisecond})
	src.Start(context.Background())
	defer src.Stop()

	ev, ok := sub.Receive(time.Second)
	require.True(t, ok)
	assert.Equal(t, eventbus.EventLinkUp, ev.ID)
}

func TestTransitionPublishesLinkDown(t *testing.T) {
	watcher := &fakeWatcher{up: true}
	bus := eventbus.New(nil)
	sub := bus.Subscribe(eventbus.SubscribeOptions{Name: "test", Capacity: 8})

	src := New(watcher, bus, Config{PollInterval: 10 * time.Millisecond})
	src.Start(context.Background())
	defer src.Stop()

	_, ok := sub.Receive(time.Second)
	require.True(t, ok)

	watcher.set(false)
	ev, ok := sub.Receive(time.Second)
	require.True(t, ok)
	assert.Equal(t, eventbus.EventLinkDown, ev.ID)
}

func TestSteadyStateDoesNotRepublish(t *testing.T) {
	watcher := &fakeWatcher{up: true}
	bus := eventbus.New(nil)
	sub := bus.Subscribe(eventbus.SubscribeOptions{Name: "test", Capacity: 8})

	src := New(watcher, bus, Config{PollInterval: 5 * time.Millisecond})
	src.Start(context.Background())
	defer src.Stop()

	_, ok := sub.Receive(time.Second)
	require.True(t, ok)

	_, ok = sub.Receive(50 * time.Millisecond)
	assert.False(t, ok)
}

func TestWatcherErrorIsIgnoredNotPublished(t *testing.T) {
	watcher := &fakeWatcher{err: errors.New("no such interface")}
	bus := eventbus.New(nil)
	sub := bus.Subscribe(eventbus.SubscribeOptions{Name: "test", Capacity: 8})

	src := New(watcher, bus, Config{PollInterval: 10 * time.Millisecond})
	src.Start(context.Background())
	defer src.Stop()

	_, ok := sub.Receive(50 * time.Millisecond)
	assert.False(t, ok)
}
