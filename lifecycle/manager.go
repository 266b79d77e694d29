// Package lifecycle tracks the bench's hardware connections by name. The
// manager lazily creates devices from registered factories, validates state
// transitions, and supports configuration reloads that keep healthy live
// connections instead of reconnecting everything.
package lifecycle

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/Soochol/WF-EOL-TESTER-sub007/hwerr"
)

// State is the connection state of one managed entry.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Errored
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Errored:
		return "error"
	}
	return "unknown"
}

// validTransition encodes the legal state machine. Any state may fall to
// Disconnected or Errored; Errored only recovers through Disconnected or a
// fresh Connecting.
func validTransition(from, to State) bool {
	if from == to {
		return true
	}
	switch to {
	case Disconnected, Errored:
		return true
	case Connecting:
		return from == Disconnected || from == Errored
	case Connected:
		return from == Connecting
	}
	return false
}

// Device is the handle the manager owns for each entry.
type Device interface {
	Connect(ctx context.Context) error
	IsConnected() bool
	Disconnect() error
}

// Factory builds an unconnected device for an entry.
type Factory func() (Device, error)

type entry struct {
	dev   Device
	state State
	// gen is the factory generation the device was built under; a reload
	// bumps the manager generation and strands older instances.
	gen uint64
}

// Manager owns named device entries.
type Manager struct {
	log *logrus.Entry

	mu        sync.Mutex
	gen       uint64
	factories map[string]Factory
	entries   map[string]*entry
}

// Snapshot holds preserved live connections across a reload.
type Snapshot struct {
	devices map[string]Device
}

// Size reports how many connections the snapshot carries.
func (s Snapshot) Size() int { return len(s.devices) }

func NewManager(factories map[string]Factory, log *logrus.Entry) *Manager {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	m := &Manager{
		log:       log.WithField("component", "lifecycle"),
		factories: make(map[string]Factory, len(factories)),
		entries:   make(map[string]*entry),
	}
	for name, f := range factories {
		m.factories[name] = f
	}
	return m
}

// Register adds or replaces a single factory. Existing instances from an
// older factory keep running until purged or reloaded.
func (m *Manager) Register(name string, f Factory) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.factories[name] = f
}

// setStateLocked applies a transition, rejecting illegal ones.
func (m *Manager) setStateLocked(name string, e *entry, to State) error {
	if !validTransition(e.state, to) {
		m.log.WithFields(logrus.Fields{
			"device": name,
			"from":   e.state.String(),
			"to":     to.String(),
		}).Error("illegal state transition rejected")
		return hwerr.Newf(hwerr.Operation, name, "transition",
			"illegal transition %s -> %s", e.state, to)
	}
	if e.state != to {
		m.log.WithFields(logrus.Fields{
			"device": name,
			"from":   e.state.String(),
			"to":     to.String(),
		}).Info("state change")
	}
	e.state = to
	return nil
}

// Get returns the named device, creating and connecting it on first use.
// Entries built under an older factory generation, and entries whose device
// lost its link, are replaced; the stale handle is never closed here.
func (m *Manager) Get(ctx context.Context, name string) (Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := m.entries[name]
	if e != nil && e.state == Connected {
		if e.gen == m.gen && e.dev.IsConnected() {
			return e.dev, nil
		}
		// Stale generation or dead link: drop from the live set without a
		// synchronous close and rebuild below.
		m.log.WithField("device", name).Info("purging stale entry")
		delete(m.entries, name)
		e = nil
	}

	factory, ok := m.factories[name]
	if !ok {
		return nil, hwerr.Newf(hwerr.Connection, name, "get", "no factory registered")
	}

	if e == nil {
		e = &entry{state: Disconnected, gen: m.gen}
		m.entries[name] = e
	}
	if err := m.setStateLocked(name, e, Connecting); err != nil {
		return nil, err
	}
	dev, err := factory()
	if err != nil {
		_ = m.setStateLocked(name, e, Errored)
		return nil, hwerr.Wrap(hwerr.Connection, name, "create", err)
	}
	if err := dev.Connect(ctx); err != nil {
		_ = m.setStateLocked(name, e, Errored)
		return nil, hwerr.Wrap(hwerr.Connection, name, "connect", err)
	}
	e.dev = dev
	e.gen = m.gen
	if err := m.setStateLocked(name, e, Connected); err != nil {
		return nil, err
	}
	return dev, nil
}

// State reports the current state of the named entry.
func (m *Manager) State(name string) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[name]; ok {
		return e.state
	}
	return Disconnected
}

// States reports every known entry's state.
func (m *Manager) States() map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string, len(m.entries))
	for name, e := range m.entries {
		out[name] = e.state.String()
	}
	return out
}

// MarkError forces an entry into the error state after a caller-observed
// failure on the device.
func (m *Manager) MarkError(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[name]; ok {
		_ = m.setStateLocked(name, e, Errored)
	}
}

// Disconnect closes and forgets the named entry.
func (m *Manager) Disconnect(name string) error {
	m.mu.Lock()
	e, ok := m.entries[name]
	if ok {
		delete(m.entries, name)
	}
	m.mu.Unlock()
	if !ok || e.dev == nil {
		return nil
	}
	if err := e.dev.Disconnect(); err != nil {
		m.log.WithError(err).WithField("device", name).Warn("disconnect failed")
		return err
	}
	return nil
}

// DisconnectAll closes every entry, continuing past individual failures.
func (m *Manager) DisconnectAll() {
	m.mu.Lock()
	names := make([]string, 0, len(m.entries))
	for name := range m.entries {
		names = append(names, name)
	}
	m.mu.Unlock()
	for _, name := range names {
		_ = m.Disconnect(name)
	}
}

// Preserve captures the live connections without touching hardware. Only
// entries whose device still reports a healthy link make the snapshot.
func (m *Manager) Preserve() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap := Snapshot{devices: make(map[string]Device)}
	for name, e := range m.entries {
		if e.state == Connected && e.dev != nil && e.dev.IsConnected() {
			snap.devices[name] = e.dev
		}
	}
	m.log.WithField("count", len(snap.devices)).Debug("preserved connections")
	return snap
}

// Restore re-registers preserved connections as live entries under the
// current generation. No device is re-opened.
func (m *Manager) Restore(snap Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for name, dev := range snap.devices {
		m.entries[name] = &entry{dev: dev, state: Connected, gen: m.gen}
	}
	m.log.WithField("count", len(snap.devices)).Info("restored connections")
}

// ReloadWithPreservation swaps in a new factory set while keeping healthy
// live connections. Entries created under the old factories are invalidated
// by the generation bump; preserved devices come back untouched.
func (m *Manager) ReloadWithPreservation(factories map[string]Factory) error {
	snap := m.Preserve()

	m.mu.Lock()
	if factories == nil {
		m.mu.Unlock()
		return fmt.Errorf("reload: nil factory set")
	}
	m.gen++
	m.factories = make(map[string]Factory, len(factories))
	for name, f := range factories {
		m.factories[name] = f
	}
	m.entries = make(map[string]*entry)
	m.mu.Unlock()

	m.Restore(snap)
	m.log.WithField("preserved", snap.Size()).Info("configuration reloaded")
	return nil
}
