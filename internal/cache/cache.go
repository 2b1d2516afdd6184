// Package cache implements the register cache and derived telemetry
// model: it stores the last raw+user value seen for every register
// address, reassembles multi-register values once both halves are
// fresh, and emits register_updated events for downstream subscribers.
//
// Grounded on the teacher's per-subsystem "write value, publish update"
// pattern (pkg/service/usock_handlers.go's UpdateBatteryRemainingCharge
// family, pkg/redis/client.go's WriteAndPublishString), retargeted from
// a Redis-hash-backed cache to an in-process map guarded by one mutex,
// since the gateway owns the cache in-process rather than delegating
// storage to an external collaborator.
package cache

import (
	"sync"
	"time"
)

// Entry is the cached state for one raw register address: the last raw
// 16-bit value read or written, and when it was observed. An Entry only
// exists once a register has been read or written successfully at least
// once — callers must distinguish "uncached" (no Entry) from "stale" (an
// Entry older than the caller's freshness window).
type Entry struct {
	Raw       uint16
	Timestamp time.Time
}

// Cache stores the latest raw value per register address.
type Cache struct {
	mu      sync.Mutex
	entries map[uint16]Entry
}

// New returns an empty Cache.
func New() *Cache {
	return &Cache{entries: make(map[uint16]Entry)}
}

// Set records a newly observed raw value for address.
func (c *Cache) Set(address uint16, raw uint16) Entry {
	e := Entry{Raw: raw, Timestamp: time.Now()}
	c.mu.Lock()
	c.entries[address] = e
	c.mu.Unlock()
	return e
}

// Get returns the cached entry for address, if any.
func (c *Cache) Get(address uint16) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[address]
	return e, ok
}

// FreshPair returns the raw values at address and address+1 only if both
// are present and were both observed within maxAge of each other — the
// freshness rule multi-register reassembly (pack voltage, pack current,
// SOC) depends on, since a fast poller can legitimately refresh one half
// of a pair one cycle before the other.
func (c *Cache) FreshPair(address uint16, maxAge time.Duration) (hi, lo uint16, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	a, okA := c.entries[address]
	b, okB := c.entries[address+1]
	if !okA || !okB {
		return 0, 0, false
	}
	diff := a.Timestamp.Sub(b.Timestamp)
	if diff < 0 {
		diff = -diff
	}
	if diff > maxAge {
		return 0, 0, false
	}
	return a.Raw, b.Raw, true
}
