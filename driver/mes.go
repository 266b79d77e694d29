package driver

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Soochol/WF-EOL-TESTER-sub007/hwerr"
	"github.com/Soochol/WF-EOL-TESTER-sub007/protocol/mes"
	"github.com/Soochol/WF-EOL-TESTER-sub007/transport"
)

type MESConfig struct {
	Name       string
	RetryCount int           // connection attempts
	RetryDelay time.Duration // pause between attempts
}

// MESClient reports work start and completion to the factory MES bridge.
// Connection establishment is the one place in the system with a retry
// policy; individual sends are not retried.
type MESClient struct {
	cfg MESConfig
	tr  transport.Transport
	log *logrus.Entry
}

func NewMESClient(cfg MESConfig, tr transport.Transport, log *logrus.Entry) *MESClient {
	if cfg.Name == "" {
		cfg.Name = "mes"
	}
	if cfg.RetryCount < 1 {
		cfg.RetryCount = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &MESClient{cfg: cfg, tr: tr, log: log.WithField("device", cfg.Name)}
}

// Connect dials the bridge, retrying up to the configured attempt count with
// a fixed delay between attempts.
func (c *MESClient) Connect(ctx context.Context) error {
	var lastErr error
	for attempt := 1; attempt <= c.cfg.RetryCount; attempt++ {
		lastErr = c.tr.Connect(ctx)
		if lastErr == nil {
			return nil
		}
		c.log.WithError(lastErr).WithField("attempt", attempt).Warn("connect failed")
		if attempt == c.cfg.RetryCount {
			break
		}
		select {
		case <-ctx.Done():
			return hwerr.Wrap(hwerr.Connection, c.cfg.Name, "connect", ctx.Err())
		case <-time.After(c.cfg.RetryDelay):
		}
	}
	return hwerr.Wrap(hwerr.Connection, c.cfg.Name, "connect", lastErr)
}

func (c *MESClient) Disconnect() error { return c.tr.Disconnect() }
func (c *MESClient) IsConnected() bool { return c.tr.IsConnected() }

func (c *MESClient) send(ctx context.Context, msg mes.Message) error {
	if msg.Timestamp == "" {
		msg.Timestamp = time.Now().Format(time.RFC3339)
	}
	raw, err := mes.EncodeMessage(msg)
	if err != nil {
		return err
	}
	if err := c.tr.Write(ctx, raw); err != nil {
		return err
	}
	// Acks are bare flat JSON; the closing brace ends the document.
	ackRaw, err := c.tr.ReadUntil(ctx, []byte("}"))
	if err != nil {
		return err
	}
	ack, err := mes.DecodeAck(ackRaw)
	if err != nil {
		return err
	}
	if !ack.OK() {
		return hwerr.Newf(hwerr.Operation, c.cfg.Name, "send "+msg.MessageType,
			"bridge rejected: %s (%s)", ack.Message, ack.ErrorCode)
	}
	c.log.WithFields(logrus.Fields{
		"type":   msg.MessageType,
		"serial": msg.SerialNumber,
	}).Info("notification accepted")
	return nil
}

// SendStart reports that work began on the given serial number.
func (c *MESClient) SendStart(ctx context.Context, serialNumber string) error {
	return c.send(ctx, mes.Message{
		MessageType:  mes.TypeStart,
		SerialNumber: serialNumber,
	})
}

// SendComplete reports the finished result with its measurements and, for
// failures, defect details.
func (c *MESClient) SendComplete(ctx context.Context, serialNumber, result string,
	measurements, defects []map[string]interface{}) error {
	return c.send(ctx, mes.Message{
		MessageType:  mes.TypeComplete,
		SerialNumber: serialNumber,
		Result:       result,
		Measurements: measurements,
		Defects:      defects,
	})
}
