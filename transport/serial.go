package transport

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	goserial "github.com/tarm/serial"

	"github.com/Soochol/WF-EOL-TESTER-sub007/hwerr"
)

type SerialConfig struct {
	Name    string // device name used in errors and logs
	Port    string
	Baud    int
	Timeout time.Duration // per-operation IO timeout
}

// Serial is a Transport over a serial line. The port is opened with a short
// read timeout so reads poll in small slices; ReadFull/ReadUntil loop those
// slices up to the operation deadline.
type Serial struct {
	cfg SerialConfig
	log *logrus.Entry

	mu   sync.Mutex
	port *goserial.Port
}

const serialPollSlice = 50 * time.Millisecond

func NewSerial(cfg SerialConfig, log *logrus.Entry) *Serial {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Serial{cfg: cfg, log: log.WithField("transport", cfg.Name)}
}

func (s *Serial) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.port != nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return hwerr.Wrap(hwerr.Connection, s.cfg.Name, "connect", err)
	}
	port, err := goserial.OpenPort(&goserial.Config{
		Name:        s.cfg.Port,
		Baud:        s.cfg.Baud,
		Parity:      goserial.ParityNone,
		Size:        8,
		StopBits:    goserial.Stop1,
		ReadTimeout: serialPollSlice,
	})
	if err != nil {
		return hwerr.Wrap(hwerr.Connection, s.cfg.Name, "open "+s.cfg.Port, err)
	}
	s.port = port
	s.log.WithField("port", s.cfg.Port).Info("opened")
	return nil
}

func (s *Serial) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.port == nil {
		return nil
	}
	if err := s.port.Close(); err != nil {
		s.log.WithError(err).Warn("close failed, dropping handle anyway")
	}
	s.port = nil
	s.log.Info("closed")
	return nil
}

func (s *Serial) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port != nil
}

func (s *Serial) Write(ctx context.Context, p []byte) error {
	s.mu.Lock()
	port := s.port
	s.mu.Unlock()
	if port == nil {
		return hwerr.New(hwerr.Connection, s.cfg.Name, "write", "not connected")
	}
	if err := ctx.Err(); err != nil {
		return hwerr.Wrap(hwerr.Timeout, s.cfg.Name, "write", err)
	}
	if _, err := port.Write(p); err != nil {
		return hwerr.Wrap(hwerr.Connection, s.cfg.Name, "write", err)
	}
	s.log.WithField("tx", fmt.Sprintf("% X", p)).Debug("write")
	return nil
}

func (s *Serial) ReadFull(ctx context.Context, n int) ([]byte, error) {
	buf := make([]byte, 0, n)
	deadline := deadlineFrom(ctx, s.cfg.Timeout)
	for len(buf) < n {
		chunk, err := s.readSlice(ctx, n-len(buf), deadline)
		if err != nil {
			return nil, err
		}
		buf = append(buf, chunk...)
	}
	s.log.WithField("rx", fmt.Sprintf("% X", buf)).Debug("read")
	return buf, nil
}

func (s *Serial) ReadUntil(ctx context.Context, delim []byte) ([]byte, error) {
	var buf []byte
	deadline := deadlineFrom(ctx, s.cfg.Timeout)
	for {
		chunk, err := s.readSlice(ctx, 1, deadline)
		if err != nil {
			return nil, err
		}
		buf = append(buf, chunk...)
		if endsWith(buf, delim) {
			s.log.WithField("rx", fmt.Sprintf("% X", buf)).Debug("read")
			return buf, nil
		}
		if len(buf) > maxReadUntil {
			return nil, hwerr.Newf(hwerr.Communication, s.cfg.Name, "read",
				"no delimiter within %d bytes", maxReadUntil)
		}
	}
}

// readSlice reads up to max bytes, waiting at most one poll slice per
// attempt, until at least one byte arrives or the deadline passes. The port
// returns empty reads on its own short timeout; those count as poll ticks.
func (s *Serial) readSlice(ctx context.Context, max int, deadline time.Time) ([]byte, error) {
	s.mu.Lock()
	port := s.port
	s.mu.Unlock()
	if port == nil {
		return nil, hwerr.New(hwerr.Connection, s.cfg.Name, "read", "not connected")
	}
	buf := make([]byte, max)
	for {
		if err := ctx.Err(); err != nil {
			return nil, hwerr.Wrap(hwerr.Timeout, s.cfg.Name, "read", err)
		}
		if !time.Now().Before(deadline) {
			return nil, hwerr.New(hwerr.Timeout, s.cfg.Name, "read", "deadline exceeded")
		}
		n, err := port.Read(buf)
		if n > 0 {
			return buf[:n], nil
		}
		switch err {
		case nil, io.EOF:
			// Empty poll slice, try again.
		default:
			return nil, hwerr.Wrap(hwerr.Connection, s.cfg.Name, "read", err)
		}
	}
}

// Flush discards the OS-level serial buffers.
func (s *Serial) Flush() error {
	s.mu.Lock()
	port := s.port
	s.mu.Unlock()
	if port == nil {
		return nil
	}
	if err := port.Flush(); err != nil {
		s.log.WithError(err).Debug("flush failed")
	}
	return nil
}
