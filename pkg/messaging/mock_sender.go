package messaging

import (
	"context"
	"sync"
)

// MockMessageSender records every event it is given. Setting Err makes
// subsequent sends fail.
type MockMessageSender struct {
	mu     sync.Mutex
	events []*IndexEvent
	closed bool
	Err    error
}

// NewMockMessageSender creates a new MockMessageSender.
func NewMockMessageSender() *MockMessageSender {
	return &MockMessageSender{}
}

// SendIndexEvent records the event unless Err is set.
func (m *MockMessageSender) SendIndexEvent(ctx context.Context, event *IndexEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.events = append(m.events, event)
	return nil
}

// Events returns a copy of the recorded events.
func (m *MockMessageSender) Events() []*IndexEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*IndexEvent, len(m.events))
	copy(out, m.events)
	return out
}

// Closed reports whether Close was called.
func (m *MockMessageSender) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Close marks the sender closed.
func (m *MockMessageSender) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Ensure MockMessageSender implements MessageSender
var _ MessageSender = (*MockMessageSender)(nil)
