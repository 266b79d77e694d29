package driver

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Soochol/WF-EOL-TESTER-sub007/hwerr"
	"github.com/Soochol/WF-EOL-TESTER-sub007/transport"
)

type LoadCellConfig struct {
	Name string
	// MinCommandInterval spaces consecutive commands; the BS205 drops
	// commands that arrive faster than it samples.
	MinCommandInterval time.Duration
}

// LoadCell drives a BS205 weighing indicator over its ASCII serial protocol.
type LoadCell struct {
	cfg LoadCellConfig
	tr  transport.Transport
	log *logrus.Entry

	mu      sync.Mutex
	lastCmd time.Time
}

const (
	loadCellRead    = "R"
	loadCellZero    = "Z"
	loadCellHold    = "H"
	loadCellRelease = "L"
)

func NewLoadCell(cfg LoadCellConfig, tr transport.Transport, log *logrus.Entry) *LoadCell {
	if cfg.Name == "" {
		cfg.Name = "loadcell"
	}
	if cfg.MinCommandInterval <= 0 {
		cfg.MinCommandInterval = 200 * time.Millisecond
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &LoadCell{cfg: cfg, tr: tr, log: log.WithField("device", cfg.Name)}
}

func (l *LoadCell) Connect(ctx context.Context) error { return l.tr.Connect(ctx) }
func (l *LoadCell) Disconnect() error                 { return l.tr.Disconnect() }
func (l *LoadCell) IsConnected() bool                 { return l.tr.IsConnected() }

// throttleLocked enforces the indicator's minimum command spacing.
func (l *LoadCell) throttleLocked(ctx context.Context) error {
	wait := l.cfg.MinCommandInterval - time.Since(l.lastCmd)
	if wait > 0 {
		select {
		case <-ctx.Done():
			return hwerr.Wrap(hwerr.Timeout, l.cfg.Name, "command", ctx.Err())
		case <-time.After(wait):
		}
	}
	l.lastCmd = time.Now()
	return nil
}

func (l *LoadCell) send(ctx context.Context, cmd string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.throttleLocked(ctx); err != nil {
		return err
	}
	return l.tr.Write(ctx, []byte(cmd+"\r\n"))
}

func (l *LoadCell) sendAndRead(ctx context.Context, cmd string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.throttleLocked(ctx); err != nil {
		return "", err
	}
	_ = l.tr.Flush()
	if err := l.tr.Write(ctx, []byte(cmd+"\r\n")); err != nil {
		return "", err
	}
	raw, err := l.tr.ReadUntil(ctx, []byte("\r\n"))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(raw)), nil
}

// ReadWeight samples the current force in kgf.
func (l *LoadCell) ReadWeight(ctx context.Context) (float64, error) {
	resp, err := l.sendAndRead(ctx, loadCellRead)
	if err != nil {
		return 0, err
	}
	w, err := parseWeight(resp)
	if err != nil {
		return 0, hwerr.Wrap(hwerr.Parse, l.cfg.Name, "read weight", err)
	}
	l.log.WithField("kgf", w).Debug("weight")
	return w, nil
}

// Zero tares the indicator.
func (l *LoadCell) Zero(ctx context.Context) error {
	return l.send(ctx, loadCellZero)
}

// Hold freezes the displayed value.
func (l *LoadCell) Hold(ctx context.Context) error {
	return l.send(ctx, loadCellHold)
}

// Release cancels a hold.
func (l *LoadCell) Release(ctx context.Context) error {
	return l.send(ctx, loadCellRelease)
}

// parseWeight extracts the signed decimal from indicator responses such as
// "ST,GS,+  12.345kg" or "+0012.345 kg".
func parseWeight(resp string) (float64, error) {
	var b strings.Builder
	seenDigit := false
	for _, r := range resp {
		switch {
		case r >= '0' && r <= '9', r == '.':
			b.WriteRune(r)
			seenDigit = true
		case (r == '-' || r == '+') && !seenDigit && b.Len() == 0:
			b.WriteRune(r)
		case seenDigit:
			// Stop at the unit suffix.
			return strconv.ParseFloat(strings.TrimPrefix(b.String(), "+"), 64)
		}
	}
	if !seenDigit {
		return 0, strconv.ErrSyntax
	}
	return strconv.ParseFloat(strings.TrimPrefix(b.String(), "+"), 64)
}
