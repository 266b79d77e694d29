// Package mes implements the MES bridge wire format: outbound messages are
// a 4-byte big-endian length header followed by a UTF-8 JSON document;
// acknowledgements come back as bare JSON with no header.
package mes

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"io"

	"github.com/Soochol/WF-EOL-TESTER-sub007/hwerr"
)

const (
	TypeStart    = "START"
	TypeComplete = "COMPLETE"

	StatusOK    = "OK"
	StatusError = "ERROR"

	// ErrCodeParse is the ack error code for undecodable inbound JSON.
	ErrCodeParse = "PARSE_ERROR"
)

// MaxMessageSize bounds a single message body.
const MaxMessageSize = 1 << 20

// Message is a work notification. Result, Measurements and Defects are only
// present on COMPLETE.
type Message struct {
	MessageType  string                   `json:"message_type"`
	SerialNumber string                   `json:"serial_number"`
	Result       string                   `json:"result,omitempty"`
	Measurements []map[string]interface{} `json:"measurements,omitempty"`
	Defects      []map[string]interface{} `json:"defects,omitempty"`
	Timestamp    string                   `json:"timestamp,omitempty"`
}

// Ack is the bridge's response to a message.
type Ack struct {
	Status    string `json:"status"`
	Message   string `json:"message,omitempty"`
	ErrorCode string `json:"error_code,omitempty"`
}

func (a Ack) OK() bool { return a.Status == StatusOK }

// EncodeMessage frames a message for the wire.
func EncodeMessage(m Message) ([]byte, error) {
	body, err := json.Marshal(m)
	if err != nil {
		return nil, hwerr.Wrap(hwerr.Parse, "mes", "encode", err)
	}
	if len(body) > MaxMessageSize {
		return nil, hwerr.Newf(hwerr.Parse, "mes", "encode",
			"message of %d bytes exceeds limit", len(body))
	}
	buf := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(buf[:4], uint32(len(body)))
	copy(buf[4:], body)
	return buf, nil
}

// DecodeResult carries either the decoded message or the typed parse-failure
// ack that should be sent back in its place. Parse failures are part of the
// protocol, not transport errors.
type DecodeResult struct {
	Message  Message
	ParseAck *Ack
}

// DecodeMessage reads one length-prefixed message from r. A body that is not
// valid JSON yields a ParseAck, not an error; framing problems (short reads,
// oversized lengths) are errors.
func DecodeMessage(r io.Reader) (DecodeResult, error) {
	header := make([]byte, 4)
	if _, err := io.ReadFull(r, header); err != nil {
		return DecodeResult{}, hwerr.Wrap(hwerr.Communication, "mes", "read header", err)
	}
	n := binary.BigEndian.Uint32(header)
	if n > MaxMessageSize {
		return DecodeResult{}, hwerr.Newf(hwerr.Communication, "mes", "read header",
			"declared length %d exceeds limit", n)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return DecodeResult{}, hwerr.Wrap(hwerr.Communication, "mes", "read body", err)
	}
	var m Message
	if err := json.Unmarshal(body, &m); err != nil {
		return DecodeResult{ParseAck: &Ack{
			Status:    StatusError,
			Message:   "invalid JSON payload",
			ErrorCode: ErrCodeParse,
		}}, nil
	}
	return DecodeResult{Message: m}, nil
}

// EncodeAck serializes an ack. Acks travel without a length header.
func EncodeAck(a Ack) ([]byte, error) {
	body, err := json.Marshal(a)
	if err != nil {
		return nil, hwerr.Wrap(hwerr.Parse, "mes", "encode ack", err)
	}
	return body, nil
}

// DecodeAck parses a bare-JSON ack.
func DecodeAck(raw []byte) (Ack, error) {
	var a Ack
	dec := json.NewDecoder(bytes.NewReader(raw))
	if err := dec.Decode(&a); err != nil {
		return Ack{}, hwerr.Wrap(hwerr.Parse, "mes", "decode ack", err)
	}
	if a.Status == "" {
		a.Status = StatusError
	}
	return a, nil
}
