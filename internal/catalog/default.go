package catalog

import "fmt"

// RestartAddress is the register a restart command writes to.
const RestartAddress uint16 = 0x0086

// RestartValue is the value written to RestartAddress to trigger a
// controller restart.
const RestartValue uint16 = 0xA55A

// WritableConfigStart and WritableConfigEnd bound the address range
// configuration registers occupy.
const (
	WritableConfigStart uint16 = 0x012C
	WritableConfigEnd   uint16 = 0x018F
)

// Default builds the authoritative register table from the gateway's
// external interface description: 16 cell voltages, pack voltage/current
// (two-register IEEE-754 floats), min/max cell mV, temperatures, SOC,
// SOH, BMS state, balancing bitmask, and the fully-charged-voltage
// configuration register used as the canonical writable-range example.
func Default() (*Catalog, error) {
	descriptors := make([]Descriptor, 0, 24)

	for i := 0; i < 16; i++ {
		descriptors = append(descriptors, Descriptor{
			Address:   uint16(i),
			Key:       fmt.Sprintf("cell_%d_v", i),
			Label:     fmt.Sprintf("Cell %d voltage", i),
			Unit:      "V",
			Class:     ClassNumeric,
			Storage:   TypeU16,
			Scale:     0.0001,
			Precision: 4,
			HasMin:    true,
			MinRaw:    0,
			HasMax:    true,
			MaxRaw:    50000,
			Access:    AccessRO,
			Group:     "cells",
		})
	}

	descriptors = append(descriptors,
		Descriptor{
			Address:   36,
			Key:       "pack_voltage_v",
			Label:     "Pack voltage",
			Unit:      "V",
			Class:     ClassNumeric,
			Storage:   TypeF32,
			Scale:     1,
			Precision: 2,
			Access:    AccessRO,
			Group:     "pack",
		},
		Descriptor{
			Address:   38,
			Key:       "pack_current_a",
			Label:     "Pack current",
			Unit:      "A",
			Class:     ClassNumeric,
			Storage:   TypeF32,
			Scale:     1,
			Precision: 2,
			Access:    AccessRO,
			Group:     "pack",
		},
		Descriptor{
			Address:   40,
			Key:       "cell_min_mv",
			Label:     "Minimum cell voltage",
			Unit:      "mV",
			Class:     ClassNumeric,
			Storage:   TypeU16,
			Scale:     1,
			Precision: 0,
			Access:    AccessRO,
			Group:     "cells",
		},
		Descriptor{
			Address:   41,
			Key:       "cell_max_mv",
			Label:     "Maximum cell voltage",
			Unit:      "mV",
			Class:     ClassNumeric,
			Storage:   TypeU16,
			Scale:     1,
			Precision: 0,
			Access:    AccessRO,
			Group:     "cells",
		},
		Descriptor{
			Address:   42,
			Key:       "temperature_1_c",
			Label:     "Temperature sensor 1",
			Unit:      "°C",
			Class:     ClassNumeric,
			Storage:   TypeI16,
			Scale:     0.1,
			Precision: 1,
			Access:    AccessRO,
			Group:     "thermal",
		},
		Descriptor{
			Address:   43,
			Key:       "temperature_2_c",
			Label:     "Temperature sensor 2",
			Unit:      "°C",
			Class:     ClassNumeric,
			Storage:   TypeI16,
			Scale:     0.1,
			Precision: 1,
			Access:    AccessRO,
			Group:     "thermal",
		},
		Descriptor{
			Address:   45,
			Key:       "soh_pct",
			Label:     "State of health",
			Unit:      "%",
			Class:     ClassNumeric,
			Storage:   TypeU16,
			Scale:     0.01,
			Precision: 2,
			Access:    AccessRO,
			Group:     "pack",
		},
		Descriptor{
			Address:   46,
			Key:       "soc_pct",
			Label:     "State of charge",
			Unit:      "%",
			Class:     ClassNumeric,
			Storage:   TypeU32,
			Scale:     1e-6,
			Precision: 2,
			Access:    AccessRO,
			Group:     "pack",
		},
		Descriptor{
			Address:   48,
			Key:       "internal_temperature_c",
			Label:     "Internal BMS temperature",
			Unit:      "°C",
			Class:     ClassNumeric,
			Storage:   TypeI16,
			Scale:     0.1,
			Precision: 1,
			Access:    AccessRO,
			Group:     "thermal",
		},
		Descriptor{
			Address: 50,
			Key:     "bms_state",
			Label:   "BMS state",
			Class:   ClassEnum,
			Storage: TypeU16,
			Access:  AccessRO,
			Group:   "status",
			Enum: []EnumValue{
				{Value: 0, Label: "unknown"},
				{Value: 1, Label: "asleep"},
				{Value: 2, Label: "idle"},
				{Value: 3, Label: "active"},
			},
		},
		Descriptor{
			Address: 52,
			Key:     "balancing_bits",
			Label:   "Cell balancing bitmask",
			Class:   ClassEnum,
			Storage: TypeU16,
			Access:  AccessRO,
			Group:   "status",
		},
		Descriptor{
			Address:   WritableConfigStart,
			Key:       "fully_charged_voltage_mv",
			Label:     "Fully-charged cell voltage threshold",
			Unit:      "mV",
			Class:     ClassNumeric,
			Storage:   TypeU16,
			Scale:     1,
			Precision: 0,
			StepRaw:   1,
			HasMin:    true,
			MinRaw:    2500,
			HasMax:    true,
			MaxRaw:    4500,
			DefaultRaw: 4200,
			Access:    AccessRW,
			Group:     "config",
		},
	)

	return New(descriptors)
}

// LiveSet lists the ~29 addresses the poller reads every T_live tick:
// all per-cell voltages plus the primary pack/thermal/status registers.
func LiveSet() []uint16 {
	addrs := make([]uint16, 0, 29)
	for i := uint16(0); i < 16; i++ {
		addrs = append(addrs, i)
	}
	addrs = append(addrs,
		36, 37, // pack voltage (f32, two registers)
		38, 39, // pack current (f32, two registers)
		40, 41, // min/max cell mV
		42, 43, // temperatures
		45,     // SOH
		46, 47, // SOC (u32, two registers)
		48, // internal temperature
		50, // BMS state
		52, // balancing bits
	)
	return addrs
}

// ConfigSet lists the configuration register addresses the poller
// refreshes every T_cfg tick when config polling is enabled. It spans the
// writable configuration range in one-step increments, capped at 34
// registers to match the design budget for the config set.
func ConfigSet() []uint16 {
	const count = 34
	addrs := make([]uint16, 0, count)
	for a := WritableConfigStart; len(addrs) < count && a <= WritableConfigEnd; a++ {
		addrs = append(addrs, a)
	}
	return addrs
}
