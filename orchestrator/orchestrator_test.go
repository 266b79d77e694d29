package orchestrator

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Soochol/WF-EOL-TESTER-sub007/config"
	"github.com/Soochol/WF-EOL-TESTER-sub007/driver"
	"github.com/Soochol/WF-EOL-TESTER-sub007/hwerr"
	"github.com/Soochol/WF-EOL-TESTER-sub007/safety"
)

type fakeMCU struct {
	mu         sync.Mutex
	calls      []string
	timings    []driver.TimingSample
	heatErrOn  int // fail the Nth heating call; 0 never
	heatCalls  int
	sampleTime time.Duration
}

func (f *fakeMCU) record(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name)
}

func (f *fakeMCU) WaitBootComplete(context.Context) error { f.record("boot"); return nil }
func (f *fakeMCU) EnterTestMode(_ context.Context, _ uint32) error {
	f.record("test-mode")
	return nil
}
func (f *fakeMCU) SetUpperTemperature(_ context.Context, _ float64) error {
	f.record("upper-temp")
	return nil
}
func (f *fakeMCU) SetFanSpeed(_ context.Context, _ int) error { f.record("fan"); return nil }

func (f *fakeMCU) StartStandbyHeating(_ context.Context, _, _ float64, _ uint32) error {
	f.mu.Lock()
	f.heatCalls++
	fail := f.heatErrOn > 0 && f.heatCalls == f.heatErrOn
	f.mu.Unlock()
	f.record("heating")
	if fail {
		return hwerr.New(hwerr.Timeout, "lma", "start heating", "no ack")
	}
	f.addTiming("heating")
	return nil
}

func (f *fakeMCU) StartStandbyCooling(context.Context) error {
	f.record("cooling")
	f.addTiming("cooling")
	return nil
}

func (f *fakeMCU) addTiming(transition string) {
	d := f.sampleTime
	if d == 0 {
		d = 500 * time.Millisecond
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.timings = append(f.timings, driver.TimingSample{
		Transition:    transition,
		AckDuration:   d / 10,
		TotalDuration: d,
		Timestamp:     time.Now(),
	})
}

func (f *fakeMCU) TimingSamples() []driver.TimingSample {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]driver.TimingSample, len(f.timings))
	copy(out, f.timings)
	return out
}

func (f *fakeMCU) ClearTiming() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.timings = nil
}

func (f *fakeMCU) callList() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	copy(out, f.calls)
	return out
}

type fakePower struct {
	mu       sync.Mutex
	enables  int
	disables int
	volts    float64
	amps     float64
}

func (f *fakePower) SetVoltage(_ context.Context, v float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.volts = v
	return nil
}

func (f *fakePower) SetCurrent(_ context.Context, a float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.amps = a
	return nil
}

func (f *fakePower) EnableOutput(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enables++
	return nil
}

func (f *fakePower) DisableOutput(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disables++
	return nil
}

type recordingSink struct {
	mu   sync.Mutex
	runs []*TestRun
}

func (r *recordingSink) SaveResult(_ context.Context, run *TestRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, run)
	return nil
}

type recordingEvents struct {
	mu       sync.Mutex
	states   []Status
	progress []Progress
	results  []*TestRun
}

func (r *recordingEvents) PublishState(_ string, s Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, s)
}

func (r *recordingEvents) PublishProgress(p Progress) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.progress = append(r.progress, p)
}

func (r *recordingEvents) PublishResult(run *TestRun) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, run)
}

type recordingMES struct {
	mu        sync.Mutex
	starts    []string
	completes []string // "serial:result"
}

func (r *recordingMES) SendStart(_ context.Context, serial string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.starts = append(r.starts, serial)
	return nil
}

func (r *recordingMES) SendComplete(_ context.Context, serial, result string,
	_, _ []map[string]interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completes = append(r.completes, serial+":"+result)
	return nil
}

type stopTarget struct {
	disconnects atomic.Int32
}

func (s *stopTarget) Disconnect() error {
	s.disconnects.Add(1)
	return nil
}

func testProfile(repeat int) config.TestProfile {
	return config.TestProfile{
		ActivationTemperature:     52,
		StandbyTemperature:        38,
		UpperTemperature:          80,
		FanSpeed:                  10,
		Voltage:                   38,
		Current:                   25,
		RepeatCount:               repeat,
		HoldTimeMS:                100,
		HeatingWaitSeconds:        0.005,
		CoolingWaitSeconds:        0.005,
		StabilizationSeconds:      0.002,
		SettleSeconds:             0.001,
		PowerStabilizationSeconds: 0.001,
	}
}

func TestRunCompletes(t *testing.T) {
	mcu := &fakeMCU{}
	power := &fakePower{}
	sink := &recordingSink{}
	events := &recordingEvents{}
	mes := &recordingMES{}
	o := New(testProfile(2), Deps{
		MCU:     mcu,
		Power:   power,
		MES:     mes,
		Results: sink,
		Events:  events,
	}, nil)

	run, err := o.Run(context.Background(), "SN-1001")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if run.Status != StatusCompleted {
		t.Fatalf("status = %s", run.Status)
	}
	if len(run.TimingSamples) != 4 {
		t.Fatalf("timing samples = %d, want 4", len(run.TimingSamples))
	}
	if run.Statistics.CompletedCycles != 2 {
		t.Fatalf("completed cycles = %d", run.Statistics.CompletedCycles)
	}
	if power.enables != 1 || power.disables != 1 {
		t.Fatalf("power: enables=%d disables=%d", power.enables, power.disables)
	}
	if power.volts != 38 || power.amps != 25 {
		t.Fatalf("power setpoints = %v V %v A", power.volts, power.amps)
	}
	if len(sink.runs) != 1 || sink.runs[0].ID != run.ID {
		t.Fatalf("result sink got %d runs", len(sink.runs))
	}
	if len(mes.starts) != 1 || mes.starts[0] != "SN-1001" {
		t.Fatalf("mes starts = %v", mes.starts)
	}
	if len(mes.completes) != 1 || mes.completes[0] != "SN-1001:PASS" {
		t.Fatalf("mes completes = %v", mes.completes)
	}

	calls := mcu.callList()
	want := []string{"boot", "test-mode", "upper-temp", "fan",
		"heating", "cooling", "heating", "cooling"}
	if len(calls) != len(want) {
		t.Fatalf("call sequence = %v", calls)
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Fatalf("call %d = %q, want %q (full: %v)", i, calls[i], want[i], calls)
		}
	}

	events.mu.Lock()
	defer events.mu.Unlock()
	wantStates := []Status{StatusPreparing, StatusRunning, StatusCompleted}
	if len(events.states) != len(wantStates) {
		t.Fatalf("states = %v", events.states)
	}
	for i := range wantStates {
		if events.states[i] != wantStates[i] {
			t.Fatalf("state %d = %s, want %s", i, events.states[i], wantStates[i])
		}
	}
	if len(events.progress) != 4 {
		t.Fatalf("progress events = %d", len(events.progress))
	}
	if len(events.results) != 1 || events.results[0].ID != run.ID {
		t.Fatalf("result events = %d", len(events.results))
	}
}

func TestRunCancelledTriggersEmergencyStop(t *testing.T) {
	mcu := &fakeMCU{}
	power := &fakePower{}
	target := &stopTarget{}
	es := safety.NewEmergencyStop(nil)
	es.Register("mcu", target)

	profile := testProfile(3)
	profile.HeatingWaitSeconds = 5 // Cancel lands inside this wait.
	o := New(profile, Deps{MCU: mcu, Power: power, EStop: es}, nil)

	done := make(chan *TestRun, 1)
	go func() {
		run, _ := o.Run(context.Background(), "SN-2002")
		done <- run
	}()

	waitFor(t, time.Second, func() bool { return len(mcu.TimingSamples()) >= 1 })
	o.Cancel()

	var run *TestRun
	select {
	case run = <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("run did not finish after cancel")
	}

	if run.Status != StatusCancelled {
		t.Fatalf("status = %s", run.Status)
	}
	if target.disconnects.Load() != 1 {
		t.Fatalf("emergency stop disconnects = %d", target.disconnects.Load())
	}
	// The heating sample collected before the abort stays in the result.
	if len(run.TimingSamples) != 1 {
		t.Fatalf("timing samples = %d", len(run.TimingSamples))
	}
	if o.IsRunning() {
		t.Fatal("still marked running after cancel")
	}
}

func TestRunFailsAndKeepsPartialData(t *testing.T) {
	mcu := &fakeMCU{heatErrOn: 2}
	power := &fakePower{}
	sink := &recordingSink{}
	mes := &recordingMES{}
	o := New(testProfile(3), Deps{MCU: mcu, Power: power, Results: sink, MES: mes}, nil)

	run, err := o.Run(context.Background(), "SN-3003")
	if err == nil {
		t.Fatal("expected run error")
	}
	if run.Status != StatusFailed {
		t.Fatalf("status = %s", run.Status)
	}
	if run.Error == "" {
		t.Fatal("run error text empty")
	}
	// Cycle 1 finished before the second heating command failed.
	if len(run.TimingSamples) != 2 {
		t.Fatalf("timing samples = %d", len(run.TimingSamples))
	}
	if run.Statistics.CompletedCycles != 1 {
		t.Fatalf("completed cycles = %d", run.Statistics.CompletedCycles)
	}
	if power.disables != 1 {
		t.Fatalf("output disables = %d", power.disables)
	}
	if len(sink.runs) != 1 {
		t.Fatalf("failed run not saved: %d", len(sink.runs))
	}
	if len(mes.completes) != 1 || mes.completes[0] != "SN-3003:FAIL" {
		t.Fatalf("mes completes = %v", mes.completes)
	}
}

func TestSecondRunRejectedWhileActive(t *testing.T) {
	mcu := &fakeMCU{}
	profile := testProfile(1)
	profile.HeatingWaitSeconds = 5
	o := New(profile, Deps{MCU: mcu, Power: &fakePower{}}, nil)

	go func() { _, _ = o.Run(context.Background(), "SN-A") }()
	waitFor(t, time.Second, func() bool { return o.IsRunning() })

	_, err := o.Run(context.Background(), "SN-B")
	if !hwerr.Is(err, hwerr.Operation) {
		t.Fatalf("second run error = %v", err)
	}
	o.Cancel()
	waitFor(t, 2*time.Second, func() bool { return !o.IsRunning() })
}

func TestStartRunsInBackground(t *testing.T) {
	mcu := &fakeMCU{}
	o := New(testProfile(1), Deps{MCU: mcu, Power: &fakePower{}}, nil)

	id, err := o.Start("SN-4004")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if id == "" {
		t.Fatal("empty run id")
	}
	waitFor(t, 2*time.Second, func() bool {
		run := o.LastRun()
		return run != nil && run.ID == id && run.Status == StatusCompleted
	})
	if o.Status() != StatusCompleted {
		t.Fatalf("status = %s", o.Status())
	}
}

func TestConnectFailureFailsFast(t *testing.T) {
	mcu := &fakeMCU{}
	power := &fakePower{}
	o := New(testProfile(1), Deps{
		MCU:   mcu,
		Power: power,
		Connect: func(context.Context) error {
			return hwerr.New(hwerr.Connection, "power", "connect", "refused")
		},
	}, nil)

	run, err := o.Run(context.Background(), "SN-5005")
	if err == nil {
		t.Fatal("expected connect failure")
	}
	if run.Status != StatusFailed {
		t.Fatalf("status = %s", run.Status)
	}
	if len(mcu.callList()) != 0 {
		t.Fatalf("device commands issued despite connect failure: %v", mcu.callList())
	}
	if power.enables != 0 {
		t.Fatal("output enabled despite connect failure")
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestCancelBeforeStartIsNoOp(t *testing.T) {
	o := New(testProfile(1), Deps{MCU: &fakeMCU{}, Power: &fakePower{}}, nil)
	o.Cancel()
	if o.Status() != StatusIdle {
		t.Fatalf("status = %s", o.Status())
	}
}
