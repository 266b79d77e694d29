// Package safety contains the watchdogs that protect the bench and the
// operator: the emergency stop path, the dual-button trigger monitor, and
// the power consumption monitor. Watchers log failures and keep going; none
// of them may take the system down.
package safety

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
)

// OutputDisabler is implemented by devices with a cuttable output stage.
type OutputDisabler interface {
	DisableOutput(ctx context.Context) error
}

// Disconnector is implemented by devices whose link can be dropped.
type Disconnector interface {
	Disconnect() error
}

// EmergencyStop drives every registered device to a safe state: output off
// first, then link down. Individual failures are logged and skipped; Trigger
// always completes and never reports an error.
type EmergencyStop struct {
	log *logrus.Entry

	mu      sync.Mutex
	order   []string
	devices map[string]interface{}
}

func NewEmergencyStop(log *logrus.Entry) *EmergencyStop {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &EmergencyStop{
		log:     log.WithField("component", "emergency-stop"),
		devices: make(map[string]interface{}),
	}
}

// Register adds a device facade. Either capability is optional; a device
// with neither is simply skipped.
func (e *EmergencyStop) Register(name string, dev interface{}) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.devices[name]; !exists {
		e.order = append(e.order, name)
	}
	e.devices[name] = dev
}

// Trigger shuts every device down, in registration order. Safe to call
// repeatedly; devices already safe stay safe.
func (e *EmergencyStop) Trigger(ctx context.Context) {
	e.mu.Lock()
	names := make([]string, len(e.order))
	copy(names, e.order)
	devices := make(map[string]interface{}, len(e.devices))
	for k, v := range e.devices {
		devices[k] = v
	}
	e.mu.Unlock()

	e.log.Warn("emergency stop triggered")
	for _, name := range names {
		dev := devices[name]
		if od, ok := dev.(OutputDisabler); ok {
			if err := od.DisableOutput(ctx); err != nil {
				e.log.WithError(err).WithField("device", name).Error("disable output failed, continuing")
			} else {
				e.log.WithField("device", name).Info("output disabled")
			}
		}
		if dc, ok := dev.(Disconnector); ok {
			if err := dc.Disconnect(); err != nil {
				e.log.WithError(err).WithField("device", name).Error("disconnect failed, continuing")
			} else {
				e.log.WithField("device", name).Info("disconnected")
			}
		}
	}
	e.log.Warn("emergency stop complete")
}
