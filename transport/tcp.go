package transport

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Soochol/WF-EOL-TESTER-sub007/hwerr"
)

// DialFunc opens the underlying connection. Tests inject one end of a
// net.Pipe here.
type DialFunc func(network, addr string, timeout time.Duration) (net.Conn, error)

type TCPConfig struct {
	Name           string // device name used in errors and logs
	Host           string
	Port           int
	ConnectTimeout time.Duration
	Timeout        time.Duration // per-operation IO timeout
	Dial           DialFunc      // nil means net.DialTimeout
}

// TCP is a Transport over a TCP socket.
type TCP struct {
	cfg TCPConfig
	log *logrus.Entry

	mu   sync.Mutex
	conn net.Conn
	rd   *bufio.Reader
}

const maxReadUntil = 64 << 10

func NewTCP(cfg TCPConfig, log *logrus.Entry) *TCP {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.Dial == nil {
		cfg.Dial = net.DialTimeout
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &TCP{cfg: cfg, log: log.WithField("transport", cfg.Name)}
}

func (t *TCP) addr() string {
	return net.JoinHostPort(t.cfg.Host, fmt.Sprintf("%d", t.cfg.Port))
}

func (t *TCP) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn != nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return hwerr.Wrap(hwerr.Connection, t.cfg.Name, "connect", err)
	}
	timeout := t.cfg.ConnectTimeout
	if cd, ok := ctx.Deadline(); ok {
		if until := time.Until(cd); until < timeout {
			timeout = until
		}
	}
	conn, err := t.cfg.Dial("tcp", t.addr(), timeout)
	if err != nil {
		return hwerr.Wrap(hwerr.Connection, t.cfg.Name, "connect "+t.addr(), err)
	}
	t.conn = conn
	t.rd = bufio.NewReader(conn)
	t.log.WithField("addr", t.addr()).Info("connected")
	return nil
}

func (t *TCP) Disconnect() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return nil
	}
	if err := t.conn.Close(); err != nil {
		t.log.WithError(err).Warn("close failed, dropping handle anyway")
	}
	t.conn = nil
	t.rd = nil
	t.log.Info("disconnected")
	return nil
}

func (t *TCP) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn != nil
}

func (t *TCP) Write(ctx context.Context, p []byte) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return hwerr.New(hwerr.Connection, t.cfg.Name, "write", "not connected")
	}
	if err := ctx.Err(); err != nil {
		return hwerr.Wrap(hwerr.Timeout, t.cfg.Name, "write", err)
	}
	_ = conn.SetWriteDeadline(deadlineFrom(ctx, t.cfg.Timeout))
	if _, err := conn.Write(p); err != nil {
		return t.wrapIOErr("write", err)
	}
	t.log.WithField("tx", fmt.Sprintf("% X", p)).Debug("write")
	return nil
}

func (t *TCP) ReadFull(ctx context.Context, n int) ([]byte, error) {
	t.mu.Lock()
	conn, rd := t.conn, t.rd
	t.mu.Unlock()
	if conn == nil {
		return nil, hwerr.New(hwerr.Connection, t.cfg.Name, "read", "not connected")
	}
	if err := ctx.Err(); err != nil {
		return nil, hwerr.Wrap(hwerr.Timeout, t.cfg.Name, "read", err)
	}
	_ = conn.SetReadDeadline(deadlineFrom(ctx, t.cfg.Timeout))
	buf := make([]byte, n)
	if _, err := io.ReadFull(rd, buf); err != nil {
		return nil, t.wrapIOErr("read", err)
	}
	t.log.WithField("rx", fmt.Sprintf("% X", buf)).Debug("read")
	return buf, nil
}

func (t *TCP) ReadUntil(ctx context.Context, delim []byte) ([]byte, error) {
	t.mu.Lock()
	conn, rd := t.conn, t.rd
	t.mu.Unlock()
	if conn == nil {
		return nil, hwerr.New(hwerr.Connection, t.cfg.Name, "read", "not connected")
	}
	if err := ctx.Err(); err != nil {
		return nil, hwerr.Wrap(hwerr.Timeout, t.cfg.Name, "read", err)
	}
	_ = conn.SetReadDeadline(deadlineFrom(ctx, t.cfg.Timeout))
	var buf []byte
	for {
		b, err := rd.ReadByte()
		if err != nil {
			return nil, t.wrapIOErr("read", err)
		}
		buf = append(buf, b)
		if endsWith(buf, delim) {
			t.log.WithField("rx", fmt.Sprintf("% X", buf)).Debug("read")
			return buf, nil
		}
		if len(buf) > maxReadUntil {
			return nil, hwerr.Newf(hwerr.Communication, t.cfg.Name, "read",
				"no delimiter within %d bytes", maxReadUntil)
		}
	}
}

// Flush drains whatever the peer already sent. Used before a fresh
// request/response exchange to discard stale bytes.
func (t *TCP) Flush() error {
	t.mu.Lock()
	conn, rd := t.conn, t.rd
	t.mu.Unlock()
	if conn == nil {
		return nil
	}
	_ = conn.SetReadDeadline(time.Now().Add(20 * time.Millisecond))
	discarded := 0
	for {
		n := rd.Buffered()
		if n == 0 {
			one := make([]byte, 256)
			m, err := conn.Read(one)
			discarded += m
			if err != nil {
				break
			}
			continue
		}
		d, _ := rd.Discard(n)
		discarded += d
	}
	if discarded > 0 {
		t.log.WithField("bytes", discarded).Debug("flushed stale input")
	}
	return nil
}

func (t *TCP) wrapIOErr(op string, err error) error {
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		return hwerr.Wrap(hwerr.Timeout, t.cfg.Name, op, err)
	}
	return hwerr.Wrap(hwerr.Connection, t.cfg.Name, op, err)
}
