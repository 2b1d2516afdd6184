// Package telemetry implements the periodic sample publisher: it
// composes one Sample per tick from the latest battery snapshot, tries
// to push it out over HTTP and MQTT, and falls back to a bounded
// drop-oldest ring buffer while offline, flushing it in FIFO order once
// connectivity returns.
//
// Grounded on the teacher's republish loop in pkg/redis/client.go
// (WriteAndPublishString followed by a Publish, both best-effort, both
// counted) generalized from a single synchronous write to a ticked,
// dual-sink publish with an offline buffer.
package telemetry

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/librescoot/bms-gateway/internal/cache"
	"github.com/librescoot/bms-gateway/internal/eventbus"
)

// Defaults per the gateway's publisher design.
const (
	DefaultPeriod      = time.Second
	DefaultBufferDepth = 256
)

// HTTPSink posts one sample to the configured telemetry endpoint.
type HTTPSink interface {
	PostSample(ctx context.Context, sample Sample) error
}

// MQTTSink publishes one sample to the metrics topic. Implemented by
// internal/mqttgw.Gateway; declared locally so telemetry does not import
// the MQTT client package it has no other need for.
type MQTTSink interface {
	PublishSample(ctx context.Context, sample Sample) error
}

// Config holds the publisher's tunables.
type Config struct {
	Period       time.Duration
	BufferDepth  int
	BufferingOff bool
	Logger       *log.Logger
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.Period == 0 {
		out.Period = DefaultPeriod
	}
	if out.BufferDepth == 0 {
		out.BufferDepth = DefaultBufferDepth
	}
	if out.Logger == nil {
		out.Logger = log.Default()
	}
	return out
}

// Stats is the counter set the status reporter aggregates.
type Stats struct {
	LastPublishUnixMS int64
	Buffered          int
	Capacity          int
	PublishErrors     uint64
	Published         uint64
	LastPublishTook   time.Duration
}

// Publisher ticks at Period, composing and publishing one Sample per
// tick from whatever battery snapshot it last observed on the bus.
type Publisher struct {
	sinks Sinks
	cfg   Config
	bus   *eventbus.Bus

	mu       sync.Mutex
	online   bool
	haveSnap bool
	lastSnap cache.PackStatistics
	buf      *RingBuffer[Sample]
	stats    Stats

	sub  *eventbus.Subscription
	stop chan struct{}
	wg   sync.WaitGroup
}

// Sinks bundles the two sinks a publish attempt must reach;
// named to keep the Publisher's field list to one line — both halves
// are required, a gateway with only one transport still satisfies this
// by supplying a no-op for the other.
type Sinks struct {
	HTTP HTTPSink
	MQTT MQTTSink
}

// New constructs a Publisher over bus. Start must be called to subscribe
// to link and battery-snapshot events and to begin ticking.
func New(bus *eventbus.Bus, sinks Sinks, cfg Config) *Publisher {
	c := cfg.withDefaults()
	p := &Publisher{
		sinks: sinks,
		cfg:  c,
		bus:  bus,
		buf:  NewRingBuffer[Sample](c.BufferDepth),
		stop: make(chan struct{}),
	}
	p.stats.Capacity = c.BufferDepth
	return p
}

// Start subscribes to the bus and launches the tick loop.
func (p *Publisher) Start(ctx context.Context) {
	p.sub = p.bus.Subscribe(eventbus.SubscribeOptions{
		Name:     "telemetry-publisher",
		Capacity: 32,
		Callback: p.handleEvent,
	})
	p.wg.Add(1)
	go p.run(ctx)
	p.wg.Add(1)
	go p.dispatchLoop()
}

// dispatchLoop repeatedly drains the publisher's subscription, invoking
// handleEvent for each event. It exits on the first idle Dispatch after
// Stop closes the stop channel; the subscription is removed only after
// this loop has exited.
func (p *Publisher) dispatchLoop() {
	defer p.wg.Done()
	for {
		if !p.bus.Dispatch(p.sub, 200*time.Millisecond) {
			select {
			case <-p.stop:
				return
			default:
			}
		}
	}
}

// Stop halts the tick loop and unsubscribes from the bus.
func (p *Publisher) Stop() {
	close(p.stop)
	p.wg.Wait()
	if p.sub != nil {
		p.bus.Unsubscribe(p.sub)
	}
}

// Stats returns a snapshot of the publisher's counters.
func (p *Publisher) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.stats
	s.Buffered = p.buf.Len()
	return s
}

// StatusStats adapts Stats to the shape internal/status's reporter
// consumes, so status does not need to import telemetry's Stats type.
func (p *Publisher) StatusStats() (backlog int, lastPublishMS int64, publishErrors uint64) {
	s := p.Stats()
	return s.Buffered, s.LastPublishUnixMS, s.PublishErrors
}

func (p *Publisher) handleEvent(ev eventbus.Event) {
	switch ev.ID {
	case eventbus.EventBatterySnapshot:
		snap, ok := ev.Payload.(cache.PackStatistics)
		if !ok {
			return
		}
		p.mu.Lock()
		p.lastSnap = snap
		p.haveSnap = true
		p.mu.Unlock()
	case eventbus.EventLinkUp:
		p.mu.Lock()
		p.online = true
		p.mu.Unlock()
		p.flush(context.Background())
	case eventbus.EventLinkDown:
		p.mu.Lock()
		p.online = false
		p.mu.Unlock()
	}
}

func (p *Publisher) run(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.cfg.Period)
	defer ticker.Stop()

	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

func (p *Publisher) tick(ctx context.Context) {
	p.mu.Lock()
	if !p.haveSnap {
		p.mu.Unlock()
		return
	}
	snap := p.lastSnap
	online := p.online
	p.mu.Unlock()

	sample := sampleFrom(snap, time.Now().UnixMilli())

	if !online {
		p.bufferSample(sample)
		return
	}

	if err := p.publishOne(ctx, sample); err != nil {
		p.cfg.Logger.Printf("telemetry: publish failed, buffering: %v", err)
		p.mu.Lock()
		p.stats.PublishErrors++
		p.online = false
		p.mu.Unlock()
		p.bufferSample(sample)
		return
	}

	p.flush(ctx)
}

// publishOne attempts both sinks and counts the outcome. Both sinks
// must succeed for the tick to count as a full success, matching the
// publish policy's "attempt MQTT publish and HTTP POST" wording.
func (p *Publisher) publishOne(ctx context.Context, sample Sample) error {
	start := time.Now()
	httpErr := p.sinks.HTTP.PostSample(ctx, sample)
	mqttErr := p.sinks.MQTT.PublishSample(ctx, sample)
	took := time.Since(start)

	p.mu.Lock()
	p.stats.LastPublishTook = took
	p.mu.Unlock()

	if httpErr != nil {
		return httpErr
	}
	if mqttErr != nil {
		return mqttErr
	}

	p.mu.Lock()
	p.stats.LastPublishUnixMS = sample.TimestampMS
	p.stats.Published++
	p.mu.Unlock()
	return nil
}

func (p *Publisher) bufferSample(sample Sample) {
	if p.cfg.BufferingOff {
		return
	}
	p.mu.Lock()
	dropped := p.buf.Push(sample)
	p.mu.Unlock()
	if dropped {
		p.cfg.Logger.Printf("telemetry: offline buffer full, dropped oldest sample")
	}
}

// flush drains the buffer in FIFO order, stopping at the first failure
// so the failed sample (and everything behind it) stays buffered.
func (p *Publisher) flush(ctx context.Context) {
	for {
		p.mu.Lock()
		sample, ok := p.buf.Peek()
		p.mu.Unlock()
		if !ok {
			return
		}
		if err := p.publishOne(ctx, sample); err != nil {
			p.mu.Lock()
			p.stats.PublishErrors++
			p.online = false
			p.mu.Unlock()
			return
		}
		p.mu.Lock()
		p.buf.Pop()
		p.mu.Unlock()
	}
}
