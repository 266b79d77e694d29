// Package transport provides byte-level links to bench hardware. A Transport
// hides whether the device sits on a serial line or a TCP socket; drivers
// speak frames and commands on top of it.
package transport

import (
	"context"
	"time"
)

// Transport is a connection-oriented byte link. Reads and writes are bounded
// by the link's configured IO timeout and by the caller's context deadline,
// whichever ends first; no call blocks indefinitely.
type Transport interface {
	Connect(ctx context.Context) error
	// Disconnect is idempotent and always succeeds locally; close errors on
	// the underlying handle are logged, not returned.
	Disconnect() error
	IsConnected() bool

	Write(ctx context.Context, p []byte) error
	// ReadFull reads exactly n bytes or fails.
	ReadFull(ctx context.Context, n int) ([]byte, error)
	// ReadUntil reads up to and including delim and returns everything read.
	ReadUntil(ctx context.Context, delim []byte) ([]byte, error)
	// Flush drains pending inbound bytes, best effort, bounded by a short
	// fixed window.
	Flush() error
}

// deadlineFrom combines the link IO timeout with the context deadline and
// returns the earlier of the two.
func deadlineFrom(ctx context.Context, timeout time.Duration) time.Time {
	d := time.Now().Add(timeout)
	if cd, ok := ctx.Deadline(); ok && cd.Before(d) {
		d = cd
	}
	return d
}

func endsWith(buf, delim []byte) bool {
	if len(buf) < len(delim) {
		return false
	}
	tail := buf[len(buf)-len(delim):]
	for i := range delim {
		if tail[i] != delim[i] {
			return false
		}
	}
	return true
}
