// Package catalog holds the static register metadata table: address,
// key, scaling, bounds, and access class for every register the gateway
// knows about. It is modeled on the teacher's pkg/ble/types.go constant
// table for message types — one flat, grouped, heavily-commented table of
// typed literals rather than a runtime-parsed schema, since the register
// map is fixed for a given controller firmware revision.
package catalog

import (
	"fmt"
	"math"

	"github.com/librescoot/bms-gateway/internal/bmserr"
)

// ValueClass distinguishes plain scaled numerics from enumerations.
type ValueClass int

const (
	ClassNumeric ValueClass = iota
	ClassEnum
)

// StorageType names the wire representation of a register's raw value.
type StorageType int

const (
	TypeU16 StorageType = iota
	TypeI16
	TypeU32
	TypeF32
)

// Access names whether a register may be read, written, or both.
type Access int

const (
	AccessRO Access = iota
	AccessRW
	AccessWO
)

// EnumValue names one member of an enum-class register.
type EnumValue struct {
	Value uint16
	Label string
}

// Descriptor is the static metadata for one register. For enum-class
// registers, Scale/Precision/StepRaw/MinRaw/MaxRaw are unused.
type Descriptor struct {
	Address   uint16
	Key       string
	Label     string
	Unit      string
	Class     ValueClass
	Storage   StorageType
	Scale     float64
	Precision int
	StepRaw   uint32
	HasMin    bool
	MinRaw    int64
	HasMax    bool
	MaxRaw    int64
	DefaultRaw uint32
	Access    Access
	Group     string
	Enum      []EnumValue
}

// width returns how many consecutive 16-bit registers this descriptor
// occupies (1 for u16/i16, 2 for u32/f32).
func (d Descriptor) width() uint16 {
	switch d.Storage {
	case TypeU32, TypeF32:
		return 2
	default:
		return 1
	}
}

// Validate checks the invariants a register descriptor must satisfy.
func (d Descriptor) Validate() error {
	if d.Precision < 0 {
		return fmt.Errorf("register %s: precision must be >= 0", d.Key)
	}
	if d.Class == ClassEnum {
		return nil
	}
	if d.HasMin && d.HasMax && d.MinRaw > d.MaxRaw {
		return fmt.Errorf("register %s: min_raw > max_raw", d.Key)
	}
	return nil
}

// Catalog indexes descriptors by address and by key for O(1) average
// lookup either way.
type Catalog struct {
	byAddress map[uint16]Descriptor
	byKey     map[string]Descriptor
}

// New builds a Catalog from descriptors, validating uniqueness of
// addresses and keys and each descriptor's own invariants.
func New(descriptors []Descriptor) (*Catalog, error) {
	c := &Catalog{
		byAddress: make(map[uint16]Descriptor, len(descriptors)),
		byKey:     make(map[string]Descriptor, len(descriptors)),
	}
	for _, d := range descriptors {
		if err := d.Validate(); err != nil {
			return nil, err
		}
		if _, dup := c.byAddress[d.Address]; dup {
			return nil, fmt.Errorf("duplicate register address 0x%04x (%s)", d.Address, d.Key)
		}
		if _, dup := c.byKey[d.Key]; dup {
			return nil, fmt.Errorf("duplicate register key %q", d.Key)
		}
		c.byAddress[d.Address] = d
		c.byKey[d.Key] = d
	}
	return c, nil
}

// ByAddress looks up a descriptor by its base address.
func (c *Catalog) ByAddress(addr uint16) (Descriptor, bool) {
	d, ok := c.byAddress[addr]
	return d, ok
}

// ByKey looks up a descriptor by its stable key.
func (c *Catalog) ByKey(key string) (Descriptor, bool) {
	d, ok := c.byKey[key]
	return d, ok
}

// All returns every descriptor in the catalog, unordered.
func (c *Catalog) All() []Descriptor {
	out := make([]Descriptor, 0, len(c.byAddress))
	for _, d := range c.byAddress {
		out = append(out, d)
	}
	return out
}

// RawToUser converts a raw register value to its user-space value. For
// enum-class registers this is the identity conversion. For numeric
// registers, user = raw * scale, rounded to the register's declared
// precision.
func RawToUser(d Descriptor, raw float64) float64 {
	if d.Class == ClassEnum {
		return raw
	}
	user := raw * d.Scale
	return roundTo(user, d.Precision)
}

// UserToRaw converts a user-space value to its raw register
// representation: rejected if bounds are declared and the value falls
// outside [min_user, max_user], otherwise snapped to the nearest step.
// A value exactly at a declared bound is accepted; anything beyond it is
// a contract error, not a clamp. Also returns a contract error if the
// resulting raw value would not fit the register's storage width.
func UserToRaw(d Descriptor, user float64) (uint32, error) {
	if d.Class == ClassEnum {
		if user < 0 || user > math.MaxUint16 {
			return 0, bmserr.New(bmserr.CodeValueOutOfRange, "catalog.UserToRaw")
		}
		return uint32(user), nil
	}
	if d.Scale == 0 {
		return 0, bmserr.New(bmserr.CodeValueOutOfRange, "catalog.UserToRaw")
	}

	minUser, maxUser := math.Inf(-1), math.Inf(1)
	if d.HasMin {
		minUser = float64(d.MinRaw) * d.Scale
	}
	if d.HasMax {
		maxUser = float64(d.MaxRaw) * d.Scale
	}
	if user < minUser || user > maxUser {
		return 0, bmserr.New(bmserr.CodeValueOutOfRange, "catalog.UserToRaw")
	}

	raw := user / d.Scale
	if d.StepRaw > 1 {
		step := float64(d.StepRaw)
		raw = math.Round(raw/step) * step
	}
	rounded := math.Round(raw)

	maxRaw := float64(math.MaxUint16)
	if d.width() == 2 {
		maxRaw = float64(math.MaxUint32)
	}
	if rounded < 0 || rounded > maxRaw {
		return 0, bmserr.New(bmserr.CodeValueOutOfRange, "catalog.UserToRaw")
	}
	return uint32(rounded), nil
}

func roundTo(v float64, precision int) float64 {
	pow := math.Pow(10, float64(precision))
	return math.Round(v*pow) / pow
}
