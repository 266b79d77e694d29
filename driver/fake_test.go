package driver

import (
	"context"
	"sync"

	"github.com/Soochol/WF-EOL-TESTER-sub007/hwerr"
)

// fakeTransport scripts the device side of a link. Reads consume from rx;
// when rx runs dry they report a timeout, like a silent device would.
// onWrite lets a test enqueue the device's reply to each write.
type fakeTransport struct {
	mu        sync.Mutex
	connected bool
	dialErrs  []error
	rx        []byte
	writes    [][]byte

	onWrite func(ft *fakeTransport, p []byte)
}

func (f *fakeTransport) Connect(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.dialErrs) > 0 {
		err := f.dialErrs[0]
		f.dialErrs = f.dialErrs[1:]
		if err != nil {
			return err
		}
	}
	f.connected = true
	return nil
}

func (f *fakeTransport) Disconnect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	return nil
}

func (f *fakeTransport) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeTransport) Write(_ context.Context, p []byte) error {
	f.mu.Lock()
	if !f.connected {
		f.mu.Unlock()
		return hwerr.New(hwerr.Connection, "fake", "write", "not connected")
	}
	cp := make([]byte, len(p))
	copy(cp, p)
	f.writes = append(f.writes, cp)
	hook := f.onWrite
	f.mu.Unlock()
	if hook != nil {
		hook(f, cp)
	}
	return nil
}

func (f *fakeTransport) feed(b []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rx = append(f.rx, b...)
}

func (f *fakeTransport) ReadFull(_ context.Context, n int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return nil, hwerr.New(hwerr.Connection, "fake", "read", "not connected")
	}
	if len(f.rx) < n {
		return nil, hwerr.New(hwerr.Timeout, "fake", "read", "no data")
	}
	out := f.rx[:n:n]
	f.rx = f.rx[n:]
	return out, nil
}

func (f *fakeTransport) ReadUntil(_ context.Context, delim []byte) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return nil, hwerr.New(hwerr.Connection, "fake", "read", "not connected")
	}
	for i := 0; i+len(delim) <= len(f.rx); i++ {
		match := true
		for j := range delim {
			if f.rx[i+j] != delim[j] {
				match = false
				break
			}
		}
		if match {
			end := i + len(delim)
			out := f.rx[:end:end]
			f.rx = f.rx[end:]
			return out, nil
		}
	}
	return nil, hwerr.New(hwerr.Timeout, "fake", "read", "no delimiter")
}

func (f *fakeTransport) Flush() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rx = nil
	return nil
}

func (f *fakeTransport) lastWrite() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.writes) == 0 {
		return nil
	}
	return f.writes[len(f.writes)-1]
}

func connectedFake() *fakeTransport {
	return &fakeTransport{connected: true}
}
