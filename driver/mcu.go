// Package driver contains the device drivers for the bench: the LMA
// controller, the ODA power supply, the BS205 load cell indicator, the
// operator button inputs, and the MES bridge client. Drivers translate typed
// operations into wire traffic over a transport and classify failures with
// hwerr; none of them retries on its own.
package driver

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Soochol/WF-EOL-TESTER-sub007/hwerr"
	"github.com/Soochol/WF-EOL-TESTER-sub007/protocol/mcu"
	"github.com/Soochol/WF-EOL-TESTER-sub007/transport"
)

// TimingSample records how long one temperature transition took: the ack
// duration covers send to controller acknowledgement, the total duration
// covers send to the target-reached status. Both come from the monotonic
// clock.
type TimingSample struct {
	Transition    string        `json:"transition"` // "heating" or "cooling"
	AckDuration   time.Duration `json:"ack_duration"`
	TotalDuration time.Duration `json:"total_duration"`
	Timestamp     time.Time     `json:"timestamp"`
}

type MCUConfig struct {
	Name          string
	Timeout       time.Duration // request/ack exchanges
	StatusTimeout time.Duration // waits for temperature-reached statuses
}

// MCU drives the LMA temperature controller. One exchange is in flight per
// link at a time; concurrent callers serialize on the driver mutex.
type MCU struct {
	cfg MCUConfig
	tr  transport.Transport
	log *logrus.Entry

	mu sync.Mutex // serializes wire exchanges

	timingMu sync.Mutex
	timings  []TimingSample
}

// maxResyncBytes bounds the noise search for a frame start.
const maxResyncBytes = 512

func NewMCU(cfg MCUConfig, tr transport.Transport, log *logrus.Entry) *MCU {
	if cfg.Name == "" {
		cfg.Name = "mcu"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.StatusTimeout <= 0 {
		cfg.StatusTimeout = 60 * time.Second
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &MCU{cfg: cfg, tr: tr, log: log.WithField("device", cfg.Name)}
}

func (m *MCU) Connect(ctx context.Context) error { return m.tr.Connect(ctx) }
func (m *MCU) Disconnect() error                 { return m.tr.Disconnect() }
func (m *MCU) IsConnected() bool                 { return m.tr.IsConnected() }

// Send transmits a frame without waiting for a response.
func (m *MCU) Send(ctx context.Context, code byte, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writeFrame(ctx, code, data)
}

// Request transmits a frame and returns the next inbound frame. A timeout
// leaves the link connected; the caller decides what to do next.
func (m *MCU) Request(ctx context.Context, code byte, data []byte) (mcu.Frame, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.exchange(ctx, code, data)
}

// WaitForStatus discards frames until the wanted status arrives or the
// timeout passes.
func (m *MCU) WaitForStatus(ctx context.Context, status byte, timeout time.Duration) (mcu.Frame, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.waitStatus(ctx, status, timeout)
}

func (m *MCU) writeFrame(ctx context.Context, code byte, data []byte) error {
	m.log.WithFields(logrus.Fields{
		"code": mcu.CommandName(code),
		"len":  len(data),
	}).Debug("send")
	return m.tr.Write(ctx, mcu.Encode(code, data))
}

func (m *MCU) exchange(ctx context.Context, code byte, data []byte) (mcu.Frame, error) {
	_ = m.tr.Flush()
	if err := m.writeFrame(ctx, code, data); err != nil {
		return mcu.Frame{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
	defer cancel()
	f, err := m.readFrameUntil(ctx)
	if err != nil {
		return mcu.Frame{}, hwerr.Wrap(kindOrComm(err), m.cfg.Name,
			"request "+mcu.CommandName(code), err)
	}
	return f, nil
}

func kindOrComm(err error) hwerr.Kind {
	if k := hwerr.KindOf(err); k != 0 {
		return k
	}
	return hwerr.Communication
}

// readFrameUntil keeps reading past per-read transport timeouts until ctx
// itself expires. Long temperature waits legitimately outlast a single
// transport read slice.
func (m *MCU) readFrameUntil(ctx context.Context) (mcu.Frame, error) {
	for {
		f, err := m.readFrame(ctx)
		if err == nil {
			return f, nil
		}
		if hwerr.Is(err, hwerr.Timeout) && ctx.Err() == nil {
			continue
		}
		return mcu.Frame{}, err
	}
}

func (m *MCU) waitStatus(ctx context.Context, status byte, timeout time.Duration) (mcu.Frame, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	for {
		f, err := m.readFrameUntil(ctx)
		if err != nil {
			return mcu.Frame{}, hwerr.Wrap(kindOrComm(err), m.cfg.Name,
				"wait for "+mcu.StatusName(status), err)
		}
		if f.Code == status {
			return f, nil
		}
		m.log.WithField("status", mcu.StatusName(f.Code)).Debug("discarding unrelated status")
	}
}

// readFrame reads one frame, resynchronizing on line noise by discarding
// bytes until the next frame start.
func (m *MCU) readFrame(ctx context.Context) (mcu.Frame, error) {
	window, err := m.tr.ReadFull(ctx, 2)
	if err != nil {
		return mcu.Frame{}, err
	}
	discarded := 0
	for window[0] != mcu.STX[0] || window[1] != mcu.STX[1] {
		discarded++
		if discarded > maxResyncBytes {
			return mcu.Frame{}, hwerr.Newf(hwerr.Communication, m.cfg.Name, "read frame",
				"no frame start within %d bytes", maxResyncBytes)
		}
		next, err := m.tr.ReadFull(ctx, 1)
		if err != nil {
			return mcu.Frame{}, err
		}
		window[0], window[1] = window[1], next[0]
	}
	if discarded > 0 {
		m.log.WithField("bytes", discarded).Debug("resynced past line noise")
	}
	hdr, err := m.tr.ReadFull(ctx, 2)
	if err != nil {
		return mcu.Frame{}, err
	}
	code, n := hdr[0], int(hdr[1])
	data := []byte{}
	if n > 0 {
		if data, err = m.tr.ReadFull(ctx, n); err != nil {
			return mcu.Frame{}, err
		}
	}
	etx, err := m.tr.ReadFull(ctx, 2)
	if err != nil {
		return mcu.Frame{}, err
	}
	if etx[0] != mcu.ETX[0] || etx[1] != mcu.ETX[1] {
		return mcu.Frame{}, hwerr.Newf(hwerr.Communication, m.cfg.Name, "read frame",
			"invalid ETX % X after %s", etx, mcu.StatusName(code))
	}
	m.log.WithFields(logrus.Fields{
		"code": mcu.StatusName(code),
		"len":  n,
	}).Debug("recv")
	return mcu.Frame{Code: code, Data: data}, nil
}

// expectAck verifies the controller echoed the expected ack code.
func (m *MCU) expectAck(f mcu.Frame, want byte, op string) error {
	if f.Code != want {
		return hwerr.Newf(hwerr.Communication, m.cfg.Name, op,
			"expected %s ack, got %s", mcu.StatusName(want), mcu.StatusName(f.Code))
	}
	return nil
}

// WaitBootComplete blocks until the controller reports it finished booting.
func (m *MCU) WaitBootComplete(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, err := m.waitStatus(ctx, mcu.StatusBootComplete, m.cfg.StatusTimeout)
	if err == nil {
		m.log.Info("boot complete")
	}
	return err
}

// EnterTestMode switches the controller into the given test mode.
func (m *MCU) EnterTestMode(ctx context.Context, mode uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, err := m.exchange(ctx, mcu.CmdEnterTestMode, mcu.EncodeTestMode(mode))
	if err != nil {
		return err
	}
	return m.expectAck(f, mcu.StatusTestModeComplete, "enter test mode")
}

// SetUpperTemperature sets the over-temperature limit.
func (m *MCU) SetUpperTemperature(ctx context.Context, celsius float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, err := m.exchange(ctx, mcu.CmdSetUpperTemp, mcu.EncodeTemp(celsius))
	if err != nil {
		return err
	}
	return m.expectAck(f, mcu.StatusUpperTempOK, "set upper temperature")
}

// SetFanSpeed sets the cooling fan level, 1..10.
func (m *MCU) SetFanSpeed(ctx context.Context, level int) error {
	if level < 1 || level > 10 {
		return hwerr.Newf(hwerr.Operation, m.cfg.Name, "set fan speed",
			"level %d out of range 1..10", level)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	f, err := m.exchange(ctx, mcu.CmdSetFanSpeed, mcu.EncodeTestMode(uint32(level)))
	if err != nil {
		return err
	}
	return m.expectAck(f, mcu.StatusFanSpeedOK, "set fan speed")
}

// SetOperatingTemperature sets the heating target.
func (m *MCU) SetOperatingTemperature(ctx context.Context, celsius float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, err := m.exchange(ctx, mcu.CmdSetOperatingTemp, mcu.EncodeTemp(celsius))
	if err != nil {
		return err
	}
	return m.expectAck(f, mcu.StatusOperatingTempOK, "set operating temperature")
}

// SetCoolingTemperature sets the cooling target.
func (m *MCU) SetCoolingTemperature(ctx context.Context, celsius float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, err := m.exchange(ctx, mcu.CmdSetCoolingTemp, mcu.EncodeTemp(celsius))
	if err != nil {
		return err
	}
	return m.expectAck(f, mcu.StatusCoolingTempOK, "set cooling temperature")
}

// RequestTemperature reads the current sensor values.
func (m *MCU) RequestTemperature(ctx context.Context) (mcu.TempReading, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, err := m.exchange(ctx, mcu.CmdRequestTemp, nil)
	if err != nil {
		return mcu.TempReading{}, err
	}
	if err := m.expectAck(f, mcu.StatusTempResponse, "request temperature"); err != nil {
		return mcu.TempReading{}, err
	}
	return mcu.DecodeTempResponse(f.Data)
}

// StartStandbyHeating arms the heater with operating and standby targets and
// blocks until the operating temperature is reached. The transition timing
// is recorded.
func (m *MCU) StartStandbyHeating(ctx context.Context, opTemp, standbyTemp float64, holdMS uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	start := time.Now()
	f, err := m.exchange(ctx, mcu.CmdLMAInit, mcu.EncodeInitPayload(opTemp, standbyTemp, holdMS))
	if err != nil {
		return err
	}
	if err := m.expectAck(f, mcu.StatusLMAInitOK, "start heating"); err != nil {
		return err
	}
	ackDur := time.Since(start)
	if _, err := m.waitStatus(ctx, mcu.StatusOperatingTempReached, m.cfg.StatusTimeout); err != nil {
		return err
	}
	m.recordTiming("heating", ackDur, time.Since(start))
	return nil
}

// StartStandbyCooling releases the heater toward the standby temperature and
// blocks until it is reached. The transition timing is recorded.
func (m *MCU) StartStandbyCooling(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	start := time.Now()
	f, err := m.exchange(ctx, mcu.CmdStrokeInitComplete, nil)
	if err != nil {
		return err
	}
	if err := m.expectAck(f, mcu.StatusStrokeInitOK, "start cooling"); err != nil {
		return err
	}
	ackDur := time.Since(start)
	if _, err := m.waitStatus(ctx, mcu.StatusStandbyTempReached, m.cfg.StatusTimeout); err != nil {
		return err
	}
	m.recordTiming("cooling", ackDur, time.Since(start))
	return nil
}

func (m *MCU) recordTiming(transition string, ack, total time.Duration) {
	sample := TimingSample{
		Transition:    transition,
		AckDuration:   ack,
		TotalDuration: total,
		Timestamp:     time.Now(),
	}
	m.timingMu.Lock()
	m.timings = append(m.timings, sample)
	m.timingMu.Unlock()
	m.log.WithFields(logrus.Fields{
		"transition": transition,
		"ack":        ack,
		"total":      total,
	}).Info("transition complete")
}

// TimingSamples returns a copy of the recorded transition timings.
func (m *MCU) TimingSamples() []TimingSample {
	m.timingMu.Lock()
	defer m.timingMu.Unlock()
	out := make([]TimingSample, len(m.timings))
	copy(out, m.timings)
	return out
}

// ClearTiming drops recorded timings ahead of a new run.
func (m *MCU) ClearTiming() {
	m.timingMu.Lock()
	m.timings = nil
	m.timingMu.Unlock()
}
