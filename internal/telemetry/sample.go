package telemetry

import "github.com/librescoot/bms-gateway/internal/cache"

// Sample is the exact JSON wire shape of one telemetry publication.
// Field names and tags are fixed by the gateway's publisher contract.
type Sample struct {
	TimestampMS   int64   `json:"ts_ms"`
	SOCPercent    float64 `json:"soc"`
	SOHPercent    float64 `json:"soh"`
	VoltageV      float64 `json:"voltage_v"`
	CurrentA      float64 `json:"current_a"`
	PowerW        float64 `json:"power_w"`
	TemperatureC  float64 `json:"temperature_c"`
	CellMinMV     uint16  `json:"cell_min_mv"`
	CellMaxMV     uint16  `json:"cell_max_mv"`
	CellDeltaMV   uint16  `json:"cell_delta_mv"`
}

// sampleFrom composes a Sample from a pack statistics snapshot at the
// given wall-clock millisecond timestamp. Power is derived, not cached,
// since nothing in the register catalog reports it directly.
func sampleFrom(stats cache.PackStatistics, tsMS int64) Sample {
	return Sample{
		TimestampMS:  tsMS,
		SOCPercent:   stats.SOCPercent,
		SOHPercent:   stats.SOHPercent,
		VoltageV:     stats.PackVoltageV,
		CurrentA:     stats.PackCurrentA,
		PowerW:       stats.PackVoltageV * stats.PackCurrentA,
		TemperatureC: stats.TemperatureC,
		CellMinMV:    stats.CellMinMV,
		CellMaxMV:    stats.CellMaxMV,
		CellDeltaMV:  stats.CellDeltaMV,
	}
}
