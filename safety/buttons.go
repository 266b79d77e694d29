package safety

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Soochol/WF-EOL-TESTER-sub007/driver"
)

// DualButtonConfig wires the two-hand trigger. Both buttons must read
// pressed in the same poll; requiring simultaneity keeps a single stuck
// button from starting the bench.
type DualButtonConfig struct {
	LeftChannel  int
	RightChannel int
	PollInterval time.Duration // default 100ms
	Debounce     time.Duration // re-arm delay after a fire, default 2s
}

// DualButtonMonitor polls the operator buttons and fires a callback on a
// simultaneous press. Presses are ignored while a test is running. Read
// errors are logged and polling continues.
type DualButtonMonitor struct {
	cfg       DualButtonConfig
	in        driver.DigitalInput
	isRunning func() bool
	onPress   func()
	log       *logrus.Entry

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewDualButtonMonitor(cfg DualButtonConfig, in driver.DigitalInput,
	isRunning func() bool, onPress func(), log *logrus.Entry) *DualButtonMonitor {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 100 * time.Millisecond
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = 2 * time.Second
	}
	if isRunning == nil {
		isRunning = func() bool { return false }
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &DualButtonMonitor{
		cfg:       cfg,
		in:        in,
		isRunning: isRunning,
		onPress:   onPress,
		log:       log.WithField("component", "dual-button"),
	}
}

// Start launches the poll loop. Starting an already running monitor is a
// no-op.
func (m *DualButtonMonitor) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	go m.loop(ctx, m.done)
	m.log.WithFields(logrus.Fields{
		"left":  m.cfg.LeftChannel,
		"right": m.cfg.RightChannel,
	}).Info("monitoring started")
}

// Stop halts polling and waits for the loop to exit.
func (m *DualButtonMonitor) Stop() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel = nil
	m.done = nil
	m.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	m.log.Info("monitoring stopped")
}

func (m *DualButtonMonitor) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		if !sleepCtx(ctx, m.cfg.PollInterval) {
			return
		}
		left, err := m.in.ReadInput(ctx, m.cfg.LeftChannel)
		if err != nil {
			m.log.WithError(err).Warn("left button read failed")
			continue
		}
		right, err := m.in.ReadInput(ctx, m.cfg.RightChannel)
		if err != nil {
			m.log.WithError(err).Warn("right button read failed")
			continue
		}
		if !(left && right) {
			continue
		}
		if m.isRunning() {
			m.log.Debug("press ignored, test already running")
			continue
		}
		m.log.Info("dual button press")
		if m.onPress != nil {
			m.onPress()
		}
		if !sleepCtx(ctx, m.cfg.Debounce) {
			return
		}
	}
}

// sleepCtx waits d or until ctx ends; false means the context ended.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
