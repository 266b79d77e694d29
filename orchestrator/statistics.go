package orchestrator

import (
	"time"

	"github.com/Soochol/WF-EOL-TESTER-sub007/driver"
	"github.com/Soochol/WF-EOL-TESTER-sub007/safety"
)

// Statistics are the per-run aggregates reported to operators and the
// factory system.
type Statistics struct {
	CompletedCycles int `json:"completed_cycles"`
	HeatingCount    int `json:"heating_count"`
	CoolingCount    int `json:"cooling_count"`

	AvgHeatingAck   time.Duration `json:"avg_heating_ack"`
	AvgHeatingTotal time.Duration `json:"avg_heating_total"`
	AvgCoolingAck   time.Duration `json:"avg_cooling_ack"`
	AvgCoolingTotal time.Duration `json:"avg_cooling_total"`

	EnergyWh float64 `json:"energy_wh"`
	// PowerRatioHeatingToCooling compares mean draw across the two phases
	// under an even energy split between heating and cooling, so it reduces
	// to the inverse ratio of the phase durations.
	PowerRatioHeatingToCooling float64 `json:"power_ratio_heating_to_cooling"`
}

// ComputeStatistics reduces timing samples and the optional power summary.
// Partial sample sets from an aborted run reduce the same way.
func ComputeStatistics(samples []driver.TimingSample, power *safety.Summary) *Statistics {
	st := &Statistics{}
	var heatAck, heatTotal, coolAck, coolTotal time.Duration
	for _, s := range samples {
		switch s.Transition {
		case "heating":
			st.HeatingCount++
			heatAck += s.AckDuration
			heatTotal += s.TotalDuration
		case "cooling":
			st.CoolingCount++
			coolAck += s.AckDuration
			coolTotal += s.TotalDuration
		}
	}
	if st.HeatingCount > 0 {
		st.AvgHeatingAck = heatAck / time.Duration(st.HeatingCount)
		st.AvgHeatingTotal = heatTotal / time.Duration(st.HeatingCount)
	}
	if st.CoolingCount > 0 {
		st.AvgCoolingAck = coolAck / time.Duration(st.CoolingCount)
		st.AvgCoolingTotal = coolTotal / time.Duration(st.CoolingCount)
	}
	// A cycle is complete once its cooling transition finished.
	st.CompletedCycles = st.CoolingCount
	if st.CompletedCycles > st.HeatingCount {
		st.CompletedCycles = st.HeatingCount
	}
	if power != nil {
		st.EnergyWh = power.EnergyWh
	}
	if heatTotal > 0 && coolTotal > 0 {
		st.PowerRatioHeatingToCooling = float64(coolTotal) / float64(heatTotal)
	}
	return st
}

// Measurements renders the statistics as the factory system's measurement
// list.
func (st *Statistics) Measurements() []map[string]interface{} {
	if st == nil {
		return nil
	}
	return []map[string]interface{}{
		{"name": "completed_cycles", "value": st.CompletedCycles},
		{"name": "avg_heating_total_ms", "value": st.AvgHeatingTotal.Milliseconds()},
		{"name": "avg_cooling_total_ms", "value": st.AvgCoolingTotal.Milliseconds()},
		{"name": "energy_wh", "value": st.EnergyWh},
	}
}
