// Package orchestrator runs the heating/cooling endurance test end to end:
// hardware bring-up, the cycle loop, power monitoring, and result
// finalization. One run is active at a time system-wide.
package orchestrator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/Soochol/WF-EOL-TESTER-sub007/config"
	"github.com/Soochol/WF-EOL-TESTER-sub007/driver"
	"github.com/Soochol/WF-EOL-TESTER-sub007/hwerr"
	"github.com/Soochol/WF-EOL-TESTER-sub007/safety"
)

// Status is the run lifecycle state. Completed, Failed and Cancelled are
// terminal.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusPreparing Status = "preparing"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// TestRun is the aggregate result of one run. Partial data collected before
// a failure or cancellation stays in the result.
type TestRun struct {
	ID            string                `json:"id"`
	SerialNumber  string                `json:"serial_number"`
	Status        Status                `json:"status"`
	StartedAt     time.Time             `json:"started_at"`
	FinishedAt    time.Time             `json:"finished_at"`
	TimingSamples []driver.TimingSample `json:"timing_samples"`
	PowerSummary  *safety.Summary       `json:"power_summary,omitempty"`
	Statistics    *Statistics           `json:"statistics,omitempty"`
	Error         string                `json:"error,omitempty"`
}

// Progress reports cycle advancement to the presentation layer.
type Progress struct {
	RunID      string `json:"run_id"`
	Cycle      int    `json:"cycle"`
	TotalCount int    `json:"total_count"`
	Phase      string `json:"phase"`
}

// MCUController is the slice of the MCU driver the orchestrator needs.
type MCUController interface {
	WaitBootComplete(ctx context.Context) error
	EnterTestMode(ctx context.Context, mode uint32) error
	SetUpperTemperature(ctx context.Context, celsius float64) error
	SetFanSpeed(ctx context.Context, level int) error
	StartStandbyHeating(ctx context.Context, opTemp, standbyTemp float64, holdMS uint32) error
	StartStandbyCooling(ctx context.Context) error
	TimingSamples() []driver.TimingSample
	ClearTiming()
}

// PowerController is the slice of the supply driver the orchestrator needs.
type PowerController interface {
	SetVoltage(ctx context.Context, volts float64) error
	SetCurrent(ctx context.Context, amps float64) error
	EnableOutput(ctx context.Context) error
	DisableOutput(ctx context.Context) error
}

// MESNotifier reports run boundaries to the factory system. Notification
// failures never fail a run.
type MESNotifier interface {
	SendStart(ctx context.Context, serialNumber string) error
	SendComplete(ctx context.Context, serialNumber, result string,
		measurements, defects []map[string]interface{}) error
}

// ResultSink receives the finalized run exactly once.
type ResultSink interface {
	SaveResult(ctx context.Context, run *TestRun) error
}

// PresentationSink receives state changes and progress for operator
// surfaces.
type PresentationSink interface {
	PublishState(runID string, status Status)
	PublishProgress(p Progress)
	PublishResult(run *TestRun)
}

// Deps wires the orchestrator to the rest of the system. MES, Results and
// Events are optional.
type Deps struct {
	MCU   MCUController
	Power PowerController
	// Connect brings up the hardware through the lifecycle manager.
	Connect func(ctx context.Context) error
	// Release tears connections down after a run, best effort.
	Release func()
	EStop   *safety.EmergencyStop
	// PowerSource feeds the per-run power monitor; nil disables monitoring.
	PowerSource safety.Source
	MES         MESNotifier
	Results     ResultSink
	Events      PresentationSink
}

// Orchestrator executes test runs against a fixed profile.
type Orchestrator struct {
	profile config.TestProfile
	deps    Deps
	log     *logrus.Entry

	running atomic.Bool

	mu      sync.Mutex
	status  Status
	cancel  context.CancelFunc
	lastRun *TestRun
}

func New(profile config.TestProfile, deps Deps, log *logrus.Entry) *Orchestrator {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Orchestrator{
		profile: profile,
		deps:    deps,
		log:     log.WithField("component", "orchestrator"),
		status:  StatusIdle,
	}
}

// IsRunning reports whether a run is active. The button monitor uses this to
// gate trigger presses.
func (o *Orchestrator) IsRunning() bool { return o.running.Load() }

// Status returns the current lifecycle state.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.status
}

// LastRun returns a copy of the most recent run, or nil.
func (o *Orchestrator) LastRun() *TestRun {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.lastRun == nil {
		return nil
	}
	cp := *o.lastRun
	return &cp
}

// Cancel requests cancellation of the active run, if any.
func (o *Orchestrator) Cancel() {
	o.mu.Lock()
	cancel := o.cancel
	o.mu.Unlock()
	if cancel != nil {
		o.log.Info("cancellation requested")
		cancel()
	}
}

// Start launches a run in the background and returns its ID.
func (o *Orchestrator) Start(serialNumber string) (string, error) {
	if o.IsRunning() {
		return "", hwerr.New(hwerr.Operation, "orchestrator", "start", "a test is already running")
	}
	runID := uuid.NewString()
	go func() {
		_, _ = o.runWithID(context.Background(), runID, serialNumber)
	}()
	return runID, nil
}

// Run executes a test synchronously and returns the finalized result. The
// result is non-nil even on failure or cancellation.
func (o *Orchestrator) Run(ctx context.Context, serialNumber string) (*TestRun, error) {
	return o.runWithID(ctx, uuid.NewString(), serialNumber)
}

func (o *Orchestrator) runWithID(ctx context.Context, runID, serialNumber string) (*TestRun, error) {
	if !o.running.CompareAndSwap(false, true) {
		return nil, hwerr.New(hwerr.Operation, "orchestrator", "run", "a test is already running")
	}
	defer o.running.Store(false)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	o.mu.Lock()
	o.cancel = cancel
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		o.cancel = nil
		o.mu.Unlock()
	}()

	run := &TestRun{
		ID:           runID,
		SerialNumber: serialNumber,
		StartedAt:    time.Now(),
	}
	o.log.WithFields(logrus.Fields{
		"run":    run.ID,
		"serial": serialNumber,
		"cycles": o.profile.RepeatCount,
	}).Info("test starting")

	o.setStatus(run, StatusPreparing)
	var monitor *safety.PowerMonitor
	err := o.prepare(ctx, run)
	if err == nil {
		o.setStatus(run, StatusRunning)
		if o.deps.PowerSource != nil && o.profile.PowerMonitoring.Enabled {
			monitor = safety.NewPowerMonitor(safety.PowerMonitorConfig{
				Interval: o.profile.PowerMonitoring.Interval(),
			}, o.deps.PowerSource, o.log.Logger.WithField("run", run.ID))
			monitor.Start(ctx)
		}
		err = o.runCycles(ctx, run)
	}

	// Finalize: whatever was collected stays in the result.
	if monitor != nil {
		s := monitor.Stop()
		run.PowerSummary = &s
	}
	if o.deps.MCU != nil {
		run.TimingSamples = o.deps.MCU.TimingSamples()
	}
	run.Statistics = ComputeStatistics(run.TimingSamples, run.PowerSummary)
	run.FinishedAt = time.Now()

	switch {
	case err == nil:
		o.shutdown()
		o.setStatus(run, StatusCompleted)
	case isCancellation(err):
		// The operator asked out: drive everything to a safe state.
		if o.deps.EStop != nil {
			o.deps.EStop.Trigger(context.Background())
		} else {
			o.shutdown()
		}
		o.setStatus(run, StatusCancelled)
	default:
		run.Error = err.Error()
		o.log.WithError(err).WithField("run", run.ID).Error("test failed")
		o.shutdown()
		o.setStatus(run, StatusFailed)
	}

	o.finalize(run)

	o.mu.Lock()
	o.lastRun = run
	o.mu.Unlock()

	if err != nil && !isCancellation(err) {
		return run, err
	}
	return run, nil
}

// prepare powers the fixture, waits for the controller to boot, and applies
// the profile's setup commands with a settle delay after each one.
func (o *Orchestrator) prepare(ctx context.Context, run *TestRun) error {
	p := o.profile
	if o.deps.Connect != nil {
		if err := o.deps.Connect(ctx); err != nil {
			return err
		}
	}
	o.deps.MCU.ClearTiming()

	if o.deps.MES != nil {
		if err := o.deps.MES.SendStart(ctx, run.SerialNumber); err != nil {
			o.log.WithError(err).Warn("work start notification failed, continuing")
		}
	}

	// The controller boots from the programmable supply, so power comes up
	// first.
	if err := o.deps.Power.SetVoltage(ctx, p.Voltage); err != nil {
		return err
	}
	if err := o.deps.Power.SetCurrent(ctx, p.Current); err != nil {
		return err
	}
	if err := o.deps.Power.EnableOutput(ctx); err != nil {
		return err
	}
	if err := o.wait(ctx, p.PowerStabilization()); err != nil {
		return err
	}

	if err := o.deps.MCU.WaitBootComplete(ctx); err != nil {
		return err
	}
	if err := o.deps.MCU.EnterTestMode(ctx, 1); err != nil {
		return err
	}
	if err := o.wait(ctx, p.Settle()); err != nil {
		return err
	}
	if err := o.deps.MCU.SetUpperTemperature(ctx, p.UpperTemperature); err != nil {
		return err
	}
	if err := o.wait(ctx, p.Settle()); err != nil {
		return err
	}
	if err := o.deps.MCU.SetFanSpeed(ctx, p.FanSpeed); err != nil {
		return err
	}
	return o.wait(ctx, p.Settle())
}

// runCycles drives the heat/cool loop. The stabilization pause runs between
// cycles, not after the last one.
func (o *Orchestrator) runCycles(ctx context.Context, run *TestRun) error {
	p := o.profile
	for cycle := 1; cycle <= p.RepeatCount; cycle++ {
		o.publishProgress(Progress{RunID: run.ID, Cycle: cycle, TotalCount: p.RepeatCount, Phase: "heating"})
		if err := o.deps.MCU.StartStandbyHeating(ctx,
			p.ActivationTemperature, p.StandbyTemperature, uint32(p.HoldTimeMS)); err != nil {
			return err
		}
		if err := o.wait(ctx, p.HeatingWait()); err != nil {
			return err
		}

		o.publishProgress(Progress{RunID: run.ID, Cycle: cycle, TotalCount: p.RepeatCount, Phase: "cooling"})
		if err := o.deps.MCU.StartStandbyCooling(ctx); err != nil {
			return err
		}
		if err := o.wait(ctx, p.CoolingWait()); err != nil {
			return err
		}

		if cycle < p.RepeatCount {
			if err := o.wait(ctx, p.Stabilization()); err != nil {
				return err
			}
		}
		o.log.WithFields(logrus.Fields{"run": run.ID, "cycle": cycle}).Info("cycle complete")
	}
	return nil
}

// shutdown is the best-effort cleanup path shared by success and failure.
// It can never fail the run.
func (o *Orchestrator) shutdown() {
	if o.deps.Power != nil {
		if err := o.deps.Power.DisableOutput(context.Background()); err != nil {
			o.log.WithError(err).Warn("output disable failed during shutdown")
		}
	}
	if o.deps.Release != nil {
		o.deps.Release()
	}
}

// finalize hands the run to the sinks. Sink failures are logged only.
func (o *Orchestrator) finalize(run *TestRun) {
	if o.deps.Results != nil {
		if err := o.deps.Results.SaveResult(context.Background(), run); err != nil {
			o.log.WithError(err).Error("result save failed")
		}
	}
	if o.deps.MES != nil {
		result := "FAIL"
		if run.Status == StatusCompleted {
			result = "PASS"
		}
		var defects []map[string]interface{}
		if run.Error != "" {
			defects = []map[string]interface{}{{"description": run.Error}}
		}
		if err := o.deps.MES.SendComplete(context.Background(), run.SerialNumber,
			result, run.Statistics.Measurements(), defects); err != nil {
			o.log.WithError(err).Warn("work complete notification failed")
		}
	}
	if o.deps.Events != nil {
		o.deps.Events.PublishResult(run)
	}
	o.log.WithFields(logrus.Fields{
		"run":     run.ID,
		"status":  run.Status,
		"samples": len(run.TimingSamples),
	}).Info("test finalized")
}

// wait sleeps d, aborting promptly on cancellation. The waits are the run's
// suspension points.
func (o *Orchestrator) wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (o *Orchestrator) setStatus(run *TestRun, s Status) {
	o.mu.Lock()
	o.status = s
	o.mu.Unlock()
	run.Status = s
	if o.deps.Events != nil {
		o.deps.Events.PublishState(run.ID, s)
	}
	o.log.WithFields(logrus.Fields{"run": run.ID, "status": s}).Info("state change")
}

func (o *Orchestrator) publishProgress(p Progress) {
	if o.deps.Events != nil {
		o.deps.Events.PublishProgress(p)
	}
}

// isCancellation distinguishes an operator abort from a device failure.
// Driver errors wrap the context error, so the chain check covers both the
// waits and in-flight device calls.
func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled)
}
