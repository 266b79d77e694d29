package safety

import (
	"context"
	"errors"
	"sync"
	"testing"
)

type stopDevice struct {
	mu          sync.Mutex
	disables    int
	disconnects int
	disableErr  error
}

func (d *stopDevice) DisableOutput(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.disables++
	return d.disableErr
}

func (d *stopDevice) Disconnect() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.disconnects++
	return nil
}

// linkOnly has no output stage.
type linkOnly struct {
	disconnects int
}

func (d *linkOnly) Disconnect() error {
	d.disconnects++
	return nil
}

func TestTriggerShutsDownAllDevices(t *testing.T) {
	power := &stopDevice{}
	mcu := &linkOnly{}
	es := NewEmergencyStop(nil)
	es.Register("power", power)
	es.Register("mcu", mcu)

	es.Trigger(context.Background())

	if power.disables != 1 || power.disconnects != 1 {
		t.Fatalf("power: disables=%d disconnects=%d", power.disables, power.disconnects)
	}
	if mcu.disconnects != 1 {
		t.Fatalf("mcu: disconnects=%d", mcu.disconnects)
	}
}

func TestTriggerContinuesPastFailures(t *testing.T) {
	broken := &stopDevice{disableErr: errors.New("no response")}
	healthy := &stopDevice{}
	es := NewEmergencyStop(nil)
	es.Register("broken", broken)
	es.Register("healthy", healthy)

	// Must not panic or stop early.
	es.Trigger(context.Background())

	// The broken device's disconnect still ran, and the healthy device got
	// its full shutdown.
	if broken.disconnects != 1 {
		t.Fatalf("broken device disconnects = %d", broken.disconnects)
	}
	if healthy.disables != 1 || healthy.disconnects != 1 {
		t.Fatalf("healthy: disables=%d disconnects=%d", healthy.disables, healthy.disconnects)
	}
}

func TestTriggerIsIdempotent(t *testing.T) {
	power := &stopDevice{}
	es := NewEmergencyStop(nil)
	es.Register("power", power)

	es.Trigger(context.Background())
	es.Trigger(context.Background())

	if power.disables != 2 || power.disconnects != 2 {
		t.Fatalf("repeat trigger: disables=%d disconnects=%d", power.disables, power.disconnects)
	}
}

func TestRegisterReplacesByName(t *testing.T) {
	old := &stopDevice{}
	replacement := &stopDevice{}
	es := NewEmergencyStop(nil)
	es.Register("power", old)
	es.Register("power", replacement)

	es.Trigger(context.Background())
	if old.disables != 0 {
		t.Fatal("replaced device still triggered")
	}
	if replacement.disables != 1 {
		t.Fatal("replacement not triggered")
	}
}
