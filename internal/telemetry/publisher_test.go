package telemetry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/librescoot/bms-gateway/internal/cache"
	"github.com/librescoot/bms-gateway/internal/eventbus"
)

type fakeSink struct {
	mu      sync.Mutex
	samples []Sample
	fail    bool
}

func (f *fakeSink) record(s Sample) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("sink unavailable")
	}
	f.samples = append(f.samples, s)
	return nil
}

func (f *fakeSink) PostSample(ctx context.Context, s Sample) error    { return f.record(s) }
func (f *fakeSink) PublishSample(ctx context.Context, s Sample) error { return f.record(s) }

func (f *fakeSink) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.samples)
}

func newTestPublisher(t *testing.T, sink *fakeSink) (*Publisher, *eventbus.Bus) {
	t.Helper()
	bus := eventbus.New(nil)
	p := New(bus, Sinks{HTTP: sink, MQTT: sink}, Config{
		Period:      10 * time.Millisecond,
		BufferDepth: 4,
	})
	return p, bus
}

func snapshot() cache.PackStatistics {
	return cache.PackStatistics{BatteryStatus: cache.BatteryStatus{
		PackVoltageV: 48.0,
		PackCurrentA: 1.5,
		SOCPercent:   80,
	}}
}

func TestTickSkippedWithoutSnapshot(t *testing.T) {
	sink := &fakeSink{}
	p, _ := newTestPublisher(t, sink)
	p.Start(context.Background())
	defer p.Stop()

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 0, sink.count())
}

func TestOnlinePublishSucceeds(t *testing.T) {
	sink := &fakeSink{}
	p, bus := newTestPublisher(t, sink)
	p.Start(context.Background())
	defer p.Stop()

	bus.Publish(eventbus.Event{ID: eventbus.EventLinkUp}, 0)
	bus.Publish(eventbus.Event{ID: eventbus.EventBatterySnapshot, Payload: snapshot()}, 0)

	require.Eventually(t, func() bool { return sink.count() > 0 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, p.Stats().Buffered)
}

func TestOfflineSamplesAreBufferedThenFlushed(t *testing.T) {
	sink := &fakeSink{fail: true}
	p, bus := newTestPublisher(t, sink)
	p.Start(context.Background())
	defer p.Stop()

	bus.Publish(eventbus.Event{ID: eventbus.EventBatterySnapshot, Payload: snapshot()}, 0)
	time.Sleep(30 * time.Millisecond)
	assert.Greater(t, p.Stats().Buffered, 0)

	sink.mu.Lock()
	sink.fail = false
	sink.mu.Unlock()
	bus.Publish(eventbus.Event{ID: eventbus.EventLinkUp}, 0)

	require.Eventually(t, func() bool { return p.Stats().Buffered == 0 }, time.Second, 5*time.Millisecond)
	assert.Greater(t, sink.count(), 0)
}

func TestRingBufferDropsOldestOnOverflow(t *testing.T) {
	buf := NewRingBuffer[int](2)
	assert.False(t, buf.Push(1))
	assert.False(t, buf.Push(2))
	assert.True(t, buf.Push(3))

	v, ok := buf.Pop()
	require.True(t, ok)
	assert.Equal(t, 2, v)
}
