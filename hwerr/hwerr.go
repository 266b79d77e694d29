// Package hwerr classifies hardware-facing failures so callers can react
// by category instead of string-matching device messages.
package hwerr

import (
	"errors"
	"fmt"
)

type Kind int

const (
	// Connection covers failures establishing or keeping a link.
	Connection Kind = iota + 1
	// Timeout covers operations that ran out of time while the link stayed up.
	Timeout
	// Communication covers malformed or unexpected wire data.
	Communication
	// Operation covers commands the device accepted the wire for but could not perform.
	Operation
	// Parse covers payloads that arrived intact but did not decode.
	Parse
)

func (k Kind) String() string {
	switch k {
	case Connection:
		return "connection"
	case Timeout:
		return "timeout"
	case Communication:
		return "communication"
	case Operation:
		return "operation"
	case Parse:
		return "parse"
	}
	return "unknown"
}

// Error carries the failure category plus the device and operation it
// happened on. Wrapped causes stay reachable through errors.Is/As.
type Error struct {
	Kind   Kind
	Device string
	Op     string
	Err    error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s: %s error", e.Device, e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Device, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a categorized error from a message.
func New(kind Kind, device, op, msg string) *Error {
	return &Error{Kind: kind, Device: device, Op: op, Err: errors.New(msg)}
}

// Newf builds a categorized error from a format string.
func Newf(kind Kind, device, op, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Device: device, Op: op, Err: fmt.Errorf(format, args...)}
}

// Wrap categorizes an underlying error. Returns nil when err is nil so it
// can wrap call results directly.
func Wrap(kind Kind, device, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Device: device, Op: op, Err: err}
}

// Is reports whether err or anything it wraps is a hwerr of kind k.
func Is(err error, k Kind) bool {
	var e *Error
	for errors.As(err, &e) {
		if e.Kind == k {
			return true
		}
		err = e.Err
		e = nil
	}
	return false
}

// KindOf returns the category of the outermost hwerr in err's chain, or 0.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}
