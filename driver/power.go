package driver

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Soochol/WF-EOL-TESTER-sub007/hwerr"
	"github.com/Soochol/WF-EOL-TESTER-sub007/transport"
)

type PowerConfig struct {
	Name string
}

// Power drives an ODA programmable supply over its SCPI TCP interface.
// Commands terminate with a newline; query responses come back newline
// terminated.
type Power struct {
	cfg PowerConfig
	tr  transport.Transport
	log *logrus.Entry

	mu    sync.Mutex
	ident string
}

func NewPower(cfg PowerConfig, tr transport.Transport, log *logrus.Entry) *Power {
	if cfg.Name == "" {
		cfg.Name = "power"
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Power{cfg: cfg, tr: tr, log: log.WithField("device", cfg.Name)}
}

// Connect opens the link and probes the supply identity.
func (p *Power) Connect(ctx context.Context) error {
	if err := p.tr.Connect(ctx); err != nil {
		return err
	}
	ident, err := p.query(ctx, "*IDN?")
	if err != nil {
		_ = p.tr.Disconnect()
		return hwerr.Wrap(hwerr.Connection, p.cfg.Name, "identify", err)
	}
	p.mu.Lock()
	p.ident = ident
	p.mu.Unlock()
	p.log.WithField("ident", ident).Info("supply identified")
	return nil
}

func (p *Power) Disconnect() error { return p.tr.Disconnect() }
func (p *Power) IsConnected() bool { return p.tr.IsConnected() }

// Identity returns the *IDN? string captured at connect time.
func (p *Power) Identity() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ident
}

func (p *Power) command(ctx context.Context, cmd string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tr.Write(ctx, []byte(cmd+"\n"))
}

func (p *Power) query(ctx context.Context, q string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	_ = p.tr.Flush()
	if err := p.tr.Write(ctx, []byte(q+"\n")); err != nil {
		return "", err
	}
	raw, err := p.tr.ReadUntil(ctx, []byte("\n"))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(raw)), nil
}

func (p *Power) SetVoltage(ctx context.Context, volts float64) error {
	if volts < 0 {
		return hwerr.Newf(hwerr.Operation, p.cfg.Name, "set voltage", "negative voltage %.2f", volts)
	}
	return p.command(ctx, fmt.Sprintf("VOLT %.2f", volts))
}

func (p *Power) SetCurrent(ctx context.Context, amps float64) error {
	if amps < 0 {
		return hwerr.Newf(hwerr.Operation, p.cfg.Name, "set current", "negative current %.2f", amps)
	}
	return p.command(ctx, fmt.Sprintf("CURR %.2f", amps))
}

func (p *Power) EnableOutput(ctx context.Context) error {
	return p.command(ctx, "OUTP ON")
}

func (p *Power) DisableOutput(ctx context.Context) error {
	return p.command(ctx, "OUTP OFF")
}

// Measure reads the live output voltage and current. MEAS:ALL? answers both
// in one exchange; older firmware without it gets the two-query fallback.
func (p *Power) Measure(ctx context.Context) (voltage, current float64, err error) {
	resp, err := p.query(ctx, "MEAS:ALL?")
	if err == nil {
		if v, c, perr := parseMeasureAll(resp); perr == nil {
			return v, c, nil
		}
	}
	vresp, err := p.query(ctx, "MEAS:VOLT?")
	if err != nil {
		return 0, 0, err
	}
	voltage, err = parseScpiFloat(p.cfg.Name, vresp)
	if err != nil {
		return 0, 0, err
	}
	cresp, err := p.query(ctx, "MEAS:CURR?")
	if err != nil {
		return 0, 0, err
	}
	current, err = parseScpiFloat(p.cfg.Name, cresp)
	if err != nil {
		return 0, 0, err
	}
	return voltage, current, nil
}

func parseMeasureAll(resp string) (float64, float64, error) {
	parts := strings.Split(resp, ",")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("want two comma-separated fields, got %q", resp)
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return 0, 0, err
	}
	c, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return 0, 0, err
	}
	return v, c, nil
}

func parseScpiFloat(device, resp string) (float64, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(resp), 64)
	if err != nil {
		return 0, hwerr.Newf(hwerr.Parse, device, "parse response", "not a number: %q", resp)
	}
	return f, nil
}

// ApplyProfile programs voltage and current limits and waits briefly for the
// regulator to settle before the caller enables output.
func (p *Power) ApplyProfile(ctx context.Context, volts, amps float64, settle time.Duration) error {
	if err := p.SetVoltage(ctx, volts); err != nil {
		return err
	}
	if err := p.SetCurrent(ctx, amps); err != nil {
		return err
	}
	if settle > 0 {
		select {
		case <-ctx.Done():
			return hwerr.Wrap(hwerr.Timeout, p.cfg.Name, "apply profile", ctx.Err())
		case <-time.After(settle):
		}
	}
	return nil
}
