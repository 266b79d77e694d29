package orchestrator

import (
	"testing"
	"time"

	"github.com/Soochol/WF-EOL-TESTER-sub007/driver"
	"github.com/Soochol/WF-EOL-TESTER-sub007/safety"
)

func sample(transition string, ack, total time.Duration) driver.TimingSample {
	return driver.TimingSample{
		Transition:    transition,
		AckDuration:   ack,
		TotalDuration: total,
		Timestamp:     time.Now(),
	}
}

func TestComputeStatisticsAverages(t *testing.T) {
	samples := []driver.TimingSample{
		sample("heating", 40*time.Millisecond, 400*time.Millisecond),
		sample("cooling", 60*time.Millisecond, 600*time.Millisecond),
		sample("heating", 60*time.Millisecond, 600*time.Millisecond),
		sample("cooling", 80*time.Millisecond, 800*time.Millisecond),
	}
	st := ComputeStatistics(samples, &safety.Summary{EnergyWh: 1.5})

	if st.CompletedCycles != 2 || st.HeatingCount != 2 || st.CoolingCount != 2 {
		t.Fatalf("counts = %+v", st)
	}
	if st.AvgHeatingAck != 50*time.Millisecond || st.AvgHeatingTotal != 500*time.Millisecond {
		t.Fatalf("heating avgs = %v / %v", st.AvgHeatingAck, st.AvgHeatingTotal)
	}
	if st.AvgCoolingAck != 70*time.Millisecond || st.AvgCoolingTotal != 700*time.Millisecond {
		t.Fatalf("cooling avgs = %v / %v", st.AvgCoolingAck, st.AvgCoolingTotal)
	}
	if st.EnergyWh != 1.5 {
		t.Fatalf("energy = %v", st.EnergyWh)
	}
	// 1400ms of cooling against 1000ms of heating: heating draws 1.4x.
	if !approxFloat(st.PowerRatioHeatingToCooling, 1.4, 1e-9) {
		t.Fatalf("power ratio = %v", st.PowerRatioHeatingToCooling)
	}
}

func TestComputeStatisticsPartialCycle(t *testing.T) {
	// A run aborted mid-cooling leaves an unmatched heating sample.
	samples := []driver.TimingSample{
		sample("heating", 50*time.Millisecond, 500*time.Millisecond),
		sample("cooling", 50*time.Millisecond, 500*time.Millisecond),
		sample("heating", 50*time.Millisecond, 500*time.Millisecond),
	}
	st := ComputeStatistics(samples, nil)
	if st.CompletedCycles != 1 {
		t.Fatalf("completed cycles = %d", st.CompletedCycles)
	}
	if st.HeatingCount != 2 || st.CoolingCount != 1 {
		t.Fatalf("counts = %d/%d", st.HeatingCount, st.CoolingCount)
	}
	if st.EnergyWh != 0 {
		t.Fatalf("energy without a power summary = %v", st.EnergyWh)
	}
}

func TestComputeStatisticsEmpty(t *testing.T) {
	st := ComputeStatistics(nil, nil)
	if st.CompletedCycles != 0 || st.PowerRatioHeatingToCooling != 0 {
		t.Fatalf("stats = %+v", st)
	}
	if got := st.Measurements(); len(got) != 4 {
		t.Fatalf("measurements = %v", got)
	}
}

func TestMeasurementsNilReceiver(t *testing.T) {
	var st *Statistics
	if st.Measurements() != nil {
		t.Fatal("nil statistics produced measurements")
	}
}

func approxFloat(a, b, tol float64) bool {
	d := a - b
	if d < 0 {
		d = -d
	}
	return d <= tol
}
