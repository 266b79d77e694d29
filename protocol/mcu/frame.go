// Package mcu implements the LMA controller's binary frame format:
//
//	STX(FF FF) CODE(1) LEN(1) DATA(LEN) ETX(FE FE)
//
// The same code byte space carries host commands and controller status
// reports; direction decides the interpretation.
package mcu

import (
	"github.com/Soochol/WF-EOL-TESTER-sub007/hwerr"
)

var (
	STX = []byte{0xFF, 0xFF}
	ETX = []byte{0xFE, 0xFE}
)

// Overhead is the frame size beyond the data payload: STX + code + len + ETX.
const Overhead = 6

// MaxDataLen is the largest payload a single frame can carry.
const MaxDataLen = 0xFF

// Frame is one decoded protocol frame.
type Frame struct {
	Code byte
	Data []byte
}

// Encode builds the wire form of a frame.
func Encode(code byte, data []byte) []byte {
	buf := make([]byte, 0, len(data)+Overhead)
	buf = append(buf, STX...)
	buf = append(buf, code, byte(len(data)))
	buf = append(buf, data...)
	buf = append(buf, ETX...)
	return buf
}

// Decode parses a complete frame. Validation runs outside-in: STX first,
// then ETX, then the length field; a malformed buffer never yields a
// partial Frame.
func Decode(raw []byte) (Frame, error) {
	if len(raw) < Overhead {
		return Frame{}, hwerr.Newf(hwerr.Communication, "mcu", "decode",
			"truncated frame: %d bytes", len(raw))
	}
	if raw[0] != STX[0] || raw[1] != STX[1] {
		return Frame{}, hwerr.Newf(hwerr.Communication, "mcu", "decode",
			"invalid STX % X", raw[:2])
	}
	if raw[len(raw)-2] != ETX[0] || raw[len(raw)-1] != ETX[1] {
		return Frame{}, hwerr.Newf(hwerr.Communication, "mcu", "decode",
			"invalid ETX % X", raw[len(raw)-2:])
	}
	code := raw[2]
	n := int(raw[3])
	if len(raw) != n+Overhead {
		return Frame{}, hwerr.Newf(hwerr.Communication, "mcu", "decode",
			"length field %d disagrees with frame size %d", n, len(raw))
	}
	data := make([]byte, n)
	copy(data, raw[4:4+n])
	return Frame{Code: code, Data: data}, nil
}
