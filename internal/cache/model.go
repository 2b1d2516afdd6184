package cache

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/librescoot/bms-gateway/internal/bmserr"
	"github.com/librescoot/bms-gateway/internal/catalog"
	"github.com/librescoot/bms-gateway/internal/eventbus"
)

// engine is the subset of *protocol.Engine the model needs; declared
// locally so cache does not import protocol's job-queue types it never
// uses, and so tests can supply a fake.
type engine interface {
	ReadOne(ctx context.Context, address uint16) (uint16, error)
	WriteOne(ctx context.Context, address uint16, raw uint16) error
}

// pairMaxAge bounds how far apart in time the two halves of a
// multi-register value may be observed and still be reassembled
// together — "within one poll cycle" per the gateway's cache design.
const pairMaxAge = 3 * time.Second

// Addresses of the multi-register values spec.md's external interface
// table names: pack voltage and current are IEEE-754 floats split
// across two consecutive registers; SOC is a u32 split the same way.
// Per the gateway's ruling on its own open question, these are always
// reassembled from the two-register pair — a single-register float cast
// is never performed.
const (
	addrPackVoltage = 36
	addrPackCurrent = 38
	addrSOC         = 46
)

// Model ties the protocol engine, the register catalog, and the event
// bus together: every successful read or write updates the cache and
// publishes a register_updated event, and Snapshot composes the derived
// telemetry view the publisher and status reporter consume.
type Model struct {
	eng  engine
	cat  *catalog.Catalog
	bus  *eventbus.Bus
	cache *Cache
}

// NewModel builds a Model over an already-running protocol engine,
// catalog, and event bus.
func NewModel(eng engine, cat *catalog.Catalog, bus *eventbus.Bus) *Model {
	return &Model{eng: eng, cat: cat, bus: bus, cache: New()}
}

// Cache exposes the underlying register cache for read-only inspection.
func (m *Model) Cache() *Cache { return m.cache }

// ReadRegister reads a single-width register by key, updates the cache,
// and publishes register_updated. Multi-register (u32/f32) keys are
// rejected — Snapshot reassembles those from both halves.
func (m *Model) ReadRegister(ctx context.Context, key string) (float64, error) {
	d, ok := m.cat.ByKey(key)
	if !ok {
		return 0, bmserr.New(bmserr.CodeUnknownRegister, "cache.ReadRegister")
	}
	if d.Storage == catalog.TypeU32 || d.Storage == catalog.TypeF32 {
		return 0, bmserr.New(bmserr.CodeUnknownRegister, "cache.ReadRegister")
	}
	raw, err := m.eng.ReadOne(ctx, d.Address)
	if err != nil {
		return 0, err
	}
	entry := m.cache.Set(d.Address, raw)
	user := catalog.RawToUser(d, float64(raw))
	m.publishUpdate(d, entry, uint32(raw), user)
	return user, nil
}

// WriteRegister converts a user-space value to raw, rejecting read-only
// registers and out-of-range values, writes it, and updates the cache on
// success.
func (m *Model) WriteRegister(ctx context.Context, key string, value float64) error {
	d, ok := m.cat.ByKey(key)
	if !ok {
		return bmserr.New(bmserr.CodeUnknownRegister, "cache.WriteRegister")
	}
	if d.Access == catalog.AccessRO {
		return bmserr.New(bmserr.CodeReadOnly, "cache.WriteRegister")
	}
	raw, err := catalog.UserToRaw(d, value)
	if err != nil {
		return err
	}
	if raw > math.MaxUint16 {
		return bmserr.New(bmserr.CodeValueOutOfRange, "cache.WriteRegister")
	}
	if err := m.eng.WriteOne(ctx, d.Address, uint16(raw)); err != nil {
		return err
	}
	entry := m.cache.Set(d.Address, uint16(raw))
	user := catalog.RawToUser(d, float64(raw))
	m.publishUpdate(d, entry, raw, user)
	return nil
}

// ReadAddress reads one raw register address directly, independent of
// catalog membership — the shape the poller uses to refresh both halves
// of a multi-register pair and any catalog-less address in a live/config
// set.
func (m *Model) ReadAddress(ctx context.Context, address uint16) error {
	raw, err := m.eng.ReadOne(ctx, address)
	if err != nil {
		return err
	}
	entry := m.cache.Set(address, raw)
	if d, ok := m.cat.ByAddress(address); ok && d.Address == address {
		user := catalog.RawToUser(d, float64(raw))
		m.publishUpdate(d, entry, uint32(raw), user)
	}
	return nil
}

func (m *Model) publishUpdate(d catalog.Descriptor, entry Entry, raw uint32, user float64) {
	if m.bus == nil {
		return
	}
	payload := eventbus.RegisterUpdatedPayload{
		Address: d.Address,
		Key:     d.Key,
		Raw:     raw,
		User:    user,
	}
	m.bus.Publish(eventbus.Event{
		ID:      eventbus.EventRegisterUpdated,
		Payload: payload,
		Size:    16,
	}, 0)
}

// BatteryStatus is the derived telemetry model composed from the cache.
type BatteryStatus struct {
	PackVoltageV   float64
	PackCurrentA   float64
	SOCPercent     float64
	SOHPercent     float64
	CellMinMV      uint16
	CellMaxMV      uint16
	CellDeltaMV    uint16
	TemperatureC   float64
	BMSState       uint16
	BalancingBits  uint16
}

// PackStatistics augments BatteryStatus with the full per-cell voltage
// array for consumers that need it (local UI, status reporter).
type PackStatistics struct {
	BatteryStatus
	CellVoltagesV [16]float64
}

// Snapshot composes a PackStatistics view from whatever is currently
// cached. It returns an error if the pieces it depends on have never
// been read even once — callers (notably the telemetry publisher) must
// skip a tick rather than publish a zero-valued sample.
func (m *Model) Snapshot() (PackStatistics, error) {
	var out PackStatistics

	hiV, loV, ok := m.cache.FreshPair(addrPackVoltage, pairMaxAge)
	if !ok {
		return out, fmt.Errorf("cache: pack voltage not yet fresh")
	}
	out.PackVoltageV = float64(combineF32(hiV, loV))

	hiI, loI, ok := m.cache.FreshPair(addrPackCurrent, pairMaxAge)
	if !ok {
		return out, fmt.Errorf("cache: pack current not yet fresh")
	}
	out.PackCurrentA = float64(combineF32(hiI, loI))

	hiS, loS, ok := m.cache.FreshPair(addrSOC, pairMaxAge)
	if !ok {
		return out, fmt.Errorf("cache: soc not yet fresh")
	}
	rawSOC := combineU32(hiS, loS)
	if d, ok := m.cat.ByKey("soc_pct"); ok {
		out.SOCPercent = catalog.RawToUser(d, float64(rawSOC))
	}

	if e, ok := m.cache.Get(45); ok {
		if d, ok := m.cat.ByKey("soh_pct"); ok {
			out.SOHPercent = catalog.RawToUser(d, float64(e.Raw))
		}
	}
	if e, ok := m.cache.Get(40); ok {
		out.CellMinMV = e.Raw
	}
	if e, ok := m.cache.Get(41); ok {
		out.CellMaxMV = e.Raw
	}
	if out.CellMaxMV >= out.CellMinMV {
		out.CellDeltaMV = out.CellMaxMV - out.CellMinMV
	}
	if e, ok := m.cache.Get(48); ok {
		if d, ok := m.cat.ByKey("internal_temperature_c"); ok {
			out.TemperatureC = catalog.RawToUser(d, float64(int16(e.Raw)))
		}
	}
	if e, ok := m.cache.Get(50); ok {
		out.BMSState = e.Raw
	}
	if e, ok := m.cache.Get(52); ok {
		out.BalancingBits = e.Raw
	}

	for i := 0; i < 16; i++ {
		if e, ok := m.cache.Get(uint16(i)); ok {
			if d, ok := m.cat.ByAddress(uint16(i)); ok {
				out.CellVoltagesV[i] = catalog.RawToUser(d, float64(e.Raw))
			}
		}
	}

	return out, nil
}

// PublishSnapshot composes a Snapshot and, if it succeeds, publishes it
// as a battery_snapshot event. Callers that cannot yet produce a
// complete snapshot (cold start, missing half of a multi-register pair)
// are silently skipped rather than treated as an error — the telemetry
// publisher simply keeps using whatever it captured last.
func (m *Model) PublishSnapshot() {
	snap, err := m.Snapshot()
	if err != nil || m.bus == nil {
		return
	}
	m.bus.Publish(eventbus.Event{
		ID:      eventbus.EventBatterySnapshot,
		Payload: snap,
		Size:    128,
	}, 0)
}

// PublishCANFrame packages the live register set's current cache
// contents as a CANFramePayload and publishes it as EventCANFrame. Like
// PublishSnapshot, it is wired as the poller's AfterLiveCycle hook, so
// the gateway's can/{raw,decoded,ready} topic triad carries a real,
// exercised payload rather than sitting unreachable behind PublishCAN*
// methods with no caller.
func (m *Model) PublishCANFrame() {
	if m.bus == nil {
		return
	}
	live := catalog.LiveSet()
	raw := make([]byte, 0, len(live)*2)
	decoded := make(map[string]any, len(live))
	ready := true
	for _, addr := range live {
		e, ok := m.cache.Get(addr)
		if !ok {
			ready = false
			continue
		}
		raw = append(raw, byte(e.Raw>>8), byte(e.Raw))
		if d, ok := m.cat.ByAddress(addr); ok {
			decoded[d.Key] = catalog.RawToUser(d, float64(e.Raw))
		}
	}
	m.bus.Publish(eventbus.Event{
		ID:      eventbus.EventCANFrame,
		Payload: eventbus.CANFramePayload{Raw: raw, Decoded: decoded, Ready: ready},
		Size:    len(raw),
	}, 0)
}

// combineF32 reassembles an IEEE-754 float32 from two consecutive
// registers: hi holds the most significant 16 bits, lo the least
// significant, per the gateway's ruling that pack voltage/current must
// use two-register float reconstruction rather than a single-register
// cast.
func combineF32(hi, lo uint16) float32 {
	bits := uint32(hi)<<16 | uint32(lo)
	return math.Float32frombits(bits)
}

// combineU32 reassembles a u32 from two consecutive registers the same
// way combineF32 does.
func combineU32(hi, lo uint16) uint32 {
	return uint32(hi)<<16 | uint32(lo)
}
