// Package eventbus implements the gateway's in-process publish/subscribe
// bus: bounded per-subscriber queues, drop accounting, and per-subscription
// metrics.
//
// Grounded on three shapes observed in the example pack — the
// nugget-thane-ai-agent internal/events bus (mutex-guarded subscriber
// set, typed event struct), the krukmat-fenix eventbus
// (Subscribe-returns-channel, one buffered channel per subscriber), and
// the cuemby-warren pkg/events package — combined with the bounded-wait,
// power-of-two drop-logging behavior the gateway's design calls for,
// which none of those reference buses implement on their own (they all
// drop immediately on a full channel with no wait budget).
package eventbus

import (
	"fmt"
	"log"
	"sync"
	"time"
)

// EventID names the kind of event flowing over the bus.
type EventID uint32

// Event is the bus payload. Publish copies the Event value into each
// subscriber's queue; the copy is shallow, so a Payload holding slices,
// maps or pointers shares that data with the publisher and with every
// subscriber.
type Event struct {
	ID      EventID
	Payload any
	Size    int
}

const (
	// DefaultQueueCapacity is the default bounded queue depth per
	// subscription.
	DefaultQueueCapacity = 32
)

// Callback is invoked by Dispatch when a subscription has one
// registered; it is the capability-object alternative to a receive loop
// mentioned in the gateway's design notes.
type Callback func(Event)

// Metrics is a point-in-time snapshot of one subscription's counters.
type Metrics struct {
	Name             string
	Capacity         int
	MessagesWaiting  int
	DroppedEvents    uint64
	DeliveredEvents  uint64
}

// Subscription is a bounded FIFO fed by Publish and drained either by the
// holder calling Receive/Dispatch or via its registered callback.
type Subscription struct {
	name     string
	queue    chan Event
	callback Callback

	mu      sync.Mutex
	dropped uint64
	delivered uint64
	closed  bool
}

// Name returns the subscription's diagnostic name.
func (s *Subscription) Name() string { return s.name }

// Receive blocks until an event is available, the timeout elapses (ok
// is false), or the subscription is closed (ok is false).
func (s *Subscription) Receive(timeout time.Duration) (Event, bool) {
	if timeout <= 0 {
		ev, ok := <-s.queue
		return ev, ok
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case ev, ok := <-s.queue:
		return ev, ok
	case <-timer.C:
		return Event{}, false
	}
}

// Metrics returns a snapshot of this subscription's counters.
func (s *Subscription) Metrics() Metrics {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Metrics{
		Name:            s.name,
		Capacity:        cap(s.queue),
		MessagesWaiting: len(s.queue),
		DroppedEvents:   s.dropped,
		DeliveredEvents: s.delivered,
	}
}

// Bus is the multi-producer, multi-subscriber event bus. The subscriber
// list is protected by one short-held mutex; Publish never holds it
// while waiting on a per-subscriber queue send.
type Bus struct {
	mu   sync.Mutex
	subs map[*Subscription]struct{}
	log  *log.Logger
}

// New returns a ready-to-use Bus. logger may be nil, in which case the
// standard logger is used for drop-escalation warnings.
func New(logger *log.Logger) *Bus {
	if logger == nil {
		logger = log.Default()
	}
	return &Bus{subs: make(map[*Subscription]struct{}), log: logger}
}

// SubscribeOptions configures a new subscription.
type SubscribeOptions struct {
	Name     string
	Capacity int
	Callback Callback
}

// Subscribe registers a new subscription and returns a handle to it.
func (b *Bus) Subscribe(opts SubscribeOptions) *Subscription {
	capacity := opts.Capacity
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	sub := &Subscription{
		name:     opts.Name,
		queue:    make(chan Event, capacity),
		callback: opts.Callback,
	}
	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()
	return sub
}

// Unsubscribe removes sub from the bus. Any events still queued for it
// are discarded; publishing that raced with Unsubscribe may be lost but
// is never redirected to a different subscription. The queue is closed
// under sub.mu, the same lock deliverOne holds across its send attempt,
// so a concurrent Publish never sends on a channel Unsubscribe is in the
// middle of closing.
func (b *Bus) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	delete(b.subs, sub)
	b.mu.Unlock()

	sub.mu.Lock()
	sub.closed = true
	close(sub.queue)
	sub.mu.Unlock()
}

// snapshot returns the current subscriber set under the bus mutex, held
// only long enough to copy the slice — Publish never blocks on a
// subscriber queue while holding this lock.
func (b *Bus) snapshot() []*Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*Subscription, 0, len(b.subs))
	for s := range b.subs {
		out = append(out, s)
	}
	return out
}

// Publish enqueues a copy of ev onto every current subscriber's queue.
// If a subscriber's queue is still full after timeout, the event is
// dropped for that subscriber, its drop counter is incremented, and a
// warning (escalating to an error at 256 or more) is logged at each
// power-of-two drop-count milestone.
func (b *Bus) Publish(ev Event, timeout time.Duration) {
	for _, sub := range b.snapshot() {
		b.deliverOne(sub, ev, timeout)
	}
}

// deliverOne holds sub.mu across the entire send attempt so it can check
// the closed flag and send in one atomic step with respect to
// Unsubscribe, which closes the queue under the same lock. Without this,
// a send that checks closed first and then blocks on the channel could
// still land on a channel Unsubscribe closes in between, panicking.
func (b *Bus) deliverOne(sub *Subscription, ev Event, timeout time.Duration) {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	if sub.closed {
		return
	}

	delivered := false
	if timeout <= 0 {
		select {
		case sub.queue <- ev:
			delivered = true
		default:
		}
	} else {
		timer := time.NewTimer(timeout)
		select {
		case sub.queue <- ev:
			delivered = true
		case <-timer.C:
		}
		timer.Stop()
	}

	if delivered {
		// Callback invocation happens in Dispatch, when the subscriber
		// drains its queue — not here, so delivery never blocks on
		// subscriber-side work.
		sub.delivered++
		return
	}
	sub.dropped++
	b.logDrop(sub.name, sub.dropped)
}

func (b *Bus) logDrop(name string, dropped uint64) {
	if dropped&(dropped-1) != 0 {
		return // not a power of two
	}
	msg := fmt.Sprintf("eventbus: dropped event for subscriber %q (total dropped=%d)", name, dropped)
	if dropped >= 256 {
		b.log.Printf("ERROR %s", msg)
		return
	}
	b.log.Printf("WARN %s", msg)
}

// TotalPublished returns the sum of delivered-event counts across every
// current subscription, for the status reporter's aggregate counters.
func (b *Bus) TotalPublished() uint64 {
	var total uint64
	for _, sub := range b.snapshot() {
		total += sub.Metrics().DeliveredEvents
	}
	return total
}

// TotalDropped returns the sum of dropped-event counts across every
// current subscription.
func (b *Bus) TotalDropped() uint64 {
	var total uint64
	for _, sub := range b.snapshot() {
		total += sub.Metrics().DroppedEvents
	}
	return total
}

// Dispatch receives one event for sub and, if sub has a registered
// callback, invokes it. It returns false if no event arrived within
// timeout or the subscription was closed.
func (b *Bus) Dispatch(sub *Subscription, timeout time.Duration) bool {
	ev, ok := sub.Receive(timeout)
	if !ok {
		return false
	}
	if sub.callback != nil {
		sub.callback(ev)
	}
	return true
}
