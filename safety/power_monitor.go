package safety

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/stat"
)

// Source supplies live electrical readings.
type Source interface {
	Measure(ctx context.Context) (voltage, current float64, err error)
}

// Sample is one power reading, stamped with its offset from monitor start.
type Sample struct {
	Offset  time.Duration `json:"offset"`
	Voltage float64       `json:"voltage"`
	Current float64       `json:"current"`
	Power   float64       `json:"power"`
}

// PhaseSummary describes one slice of the run's power profile.
type PhaseSummary struct {
	Name         string        `json:"name"`
	Start        time.Duration `json:"start"`
	End          time.Duration `json:"end"`
	SampleCount  int           `json:"sample_count"`
	AveragePower float64       `json:"average_power"`
	EnergyWh     float64       `json:"energy_wh"`
}

// Summary is the reduced power profile of a run.
type Summary struct {
	SampleCount  int            `json:"sample_count"`
	Duration     time.Duration  `json:"duration"`
	PeakPower    float64        `json:"peak_power"`
	MinPower     float64        `json:"min_power"`
	AveragePower float64        `json:"average_power"`
	MedianPower  float64        `json:"median_power"`
	StdDevPower  float64        `json:"stddev_power"`
	EnergyWh     float64        `json:"energy_wh"`
	Phases       []PhaseSummary `json:"phases,omitempty"`
}

// PowerMonitorConfig tunes the sampling loop.
type PowerMonitorConfig struct {
	Interval time.Duration // default 500ms
	// MaxConsecutiveFailures stops the monitor (never the test) once the
	// source fails this many times in a row. Default 3.
	MaxConsecutiveFailures int
}

// PowerMonitor samples a Source for the duration of a test run and reduces
// the samples to a Summary on Stop. The monitor degrades gracefully: supply
// read failures stop the monitoring, not the run it observes.
type PowerMonitor struct {
	cfg PowerMonitorConfig
	src Source
	log *logrus.Entry

	mu      sync.Mutex
	samples []Sample
	started time.Time
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// sampleSleepSlice chunks the inter-sample sleep so Stop stays responsive.
const sampleSleepSlice = 50 * time.Millisecond

func NewPowerMonitor(cfg PowerMonitorConfig, src Source, log *logrus.Entry) *PowerMonitor {
	if cfg.Interval <= 0 {
		cfg.Interval = 500 * time.Millisecond
	}
	if cfg.MaxConsecutiveFailures <= 0 {
		cfg.MaxConsecutiveFailures = 3
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &PowerMonitor{
		cfg: cfg,
		src: src,
		log: log.WithField("component", "power-monitor"),
	}
}

// Start begins sampling. Starting a running monitor is a no-op.
func (p *PowerMonitor) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	p.samples = nil
	p.started = time.Now()
	p.running = true
	go p.loop(ctx, p.done)
	p.log.WithField("interval", p.cfg.Interval).Info("sampling started")
}

// Stop halts sampling and returns the summary of everything collected.
// Stopping an idle monitor returns a zero summary.
func (p *PowerMonitor) Stop() Summary {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel = nil
	p.done = nil
	running := p.running
	p.running = false
	p.mu.Unlock()
	if running && cancel != nil {
		cancel()
		<-done
	}

	p.mu.Lock()
	samples := p.samples
	started := p.started
	p.mu.Unlock()

	duration := time.Duration(0)
	if !started.IsZero() && len(samples) > 0 {
		duration = samples[len(samples)-1].Offset
	}
	s := summarize(samples, duration)
	p.log.WithFields(logrus.Fields{
		"samples": s.SampleCount,
		"avg_w":   s.AveragePower,
		"wh":      s.EnergyWh,
	}).Info("sampling stopped")
	return s
}

// Samples returns a copy of what has been collected so far.
func (p *PowerMonitor) Samples() []Sample {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Sample, len(p.samples))
	copy(out, p.samples)
	return out
}

func (p *PowerMonitor) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	failures := 0
	for {
		v, c, err := p.src.Measure(ctx)
		if err != nil {
			failures++
			p.log.WithError(err).WithField("consecutive", failures).Warn("sample failed")
			if failures >= p.cfg.MaxConsecutiveFailures {
				p.log.Error("too many consecutive failures, monitoring halted")
				return
			}
		} else {
			failures = 0
			p.mu.Lock()
			p.samples = append(p.samples, Sample{
				Offset:  time.Since(p.started),
				Voltage: v,
				Current: c,
				Power:   v * c,
			})
			p.mu.Unlock()
		}
		if !p.sleepInterval(ctx) {
			return
		}
	}
}

// sleepInterval waits one sampling interval in small slices so cancellation
// lands promptly.
func (p *PowerMonitor) sleepInterval(ctx context.Context) bool {
	remaining := p.cfg.Interval
	for remaining > 0 {
		slice := sampleSleepSlice
		if remaining < slice {
			slice = remaining
		}
		if !sleepCtx(ctx, slice) {
			return false
		}
		remaining -= slice
	}
	return true
}

// summarize reduces samples to a Summary, including the three-phase split at
// the 20% and 80% marks of the observed window: the initial burst while the
// heater first pulls, the stabilization plateau, and the maintenance tail.
func summarize(samples []Sample, duration time.Duration) Summary {
	s := Summary{SampleCount: len(samples), Duration: duration}
	if len(samples) == 0 {
		return s
	}
	powers := make([]float64, len(samples))
	for i, sm := range samples {
		powers[i] = sm.Power
	}
	s.PeakPower = powers[0]
	s.MinPower = powers[0]
	for _, w := range powers {
		if w > s.PeakPower {
			s.PeakPower = w
		}
		if w < s.MinPower {
			s.MinPower = w
		}
	}
	s.AveragePower = stat.Mean(powers, nil)
	if len(powers) > 1 {
		s.StdDevPower = stat.StdDev(powers, nil)
	}
	sorted := make([]float64, len(powers))
	copy(sorted, powers)
	sort.Float64s(sorted)
	s.MedianPower = stat.Quantile(0.5, stat.Empirical, sorted, nil)
	s.EnergyWh = trapezoidalWh(samples)

	if duration > 0 {
		burstEnd := time.Duration(float64(duration) * 0.2)
		stableEnd := time.Duration(float64(duration) * 0.8)
		s.Phases = []PhaseSummary{
			phaseSummary("initial_burst", samples, 0, burstEnd, false),
			phaseSummary("stabilization", samples, burstEnd, stableEnd, false),
			phaseSummary("maintenance", samples, stableEnd, duration, true),
		}
	}
	return s
}

// trapezoidalWh integrates power over the sample offsets.
func trapezoidalWh(samples []Sample) float64 {
	var joules float64
	for i := 1; i < len(samples); i++ {
		dt := (samples[i].Offset - samples[i-1].Offset).Seconds()
		joules += (samples[i].Power + samples[i-1].Power) / 2 * dt
	}
	return joules / 3600
}

// phaseSummary reduces the samples inside [start, end); the last phase
// closes the interval so the final sample is counted.
func phaseSummary(name string, samples []Sample, start, end time.Duration, last bool) PhaseSummary {
	ps := PhaseSummary{Name: name, Start: start, End: end}
	var slice []Sample
	for _, sm := range samples {
		if sm.Offset < start {
			continue
		}
		if sm.Offset < end || (last && sm.Offset <= end) {
			slice = append(slice, sm)
		}
	}
	ps.SampleCount = len(slice)
	if len(slice) == 0 {
		return ps
	}
	powers := make([]float64, len(slice))
	for i, sm := range slice {
		powers[i] = sm.Power
	}
	ps.AveragePower = stat.Mean(powers, nil)
	ps.EnergyWh = trapezoidalWh(slice)
	return ps
}
