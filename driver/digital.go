package driver

import (
	"context"
	"sync"

	"github.com/Soochol/WF-EOL-TESTER-sub007/hwerr"
)

// DigitalInput reads discrete input channels. Real IO boards plug in behind
// this interface; the safety watchers only ever see it.
type DigitalInput interface {
	ReadInput(ctx context.Context, channel int) (bool, error)
	ReadAllInputs(ctx context.Context) ([]bool, error)
}

// MockInput is an in-memory DigitalInput for bring-up and tests.
type MockInput struct {
	mu       sync.Mutex
	channels []bool
}

func NewMockInput(channelCount int) *MockInput {
	return &MockInput{channels: make([]bool, channelCount)}
}

// Set changes one channel's level.
func (m *MockInput) Set(channel int, high bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if channel >= 0 && channel < len(m.channels) {
		m.channels[channel] = high
	}
}

func (m *MockInput) ReadInput(_ context.Context, channel int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if channel < 0 || channel >= len(m.channels) {
		return false, hwerr.Newf(hwerr.Operation, "digital-input", "read",
			"channel %d out of range 0..%d", channel, len(m.channels)-1)
	}
	return m.channels[channel], nil
}

func (m *MockInput) ReadAllInputs(_ context.Context) ([]bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]bool, len(m.channels))
	copy(out, m.channels)
	return out, nil
}
