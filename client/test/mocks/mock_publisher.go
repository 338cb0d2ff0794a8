package mocks

import (
	"context"
	"sync"

	"github.com/RezaEskandarii/ticketfire/types"
)

// MockPublisher is a mock implementation of message_broaker.Publisher that records every event.
type MockPublisher struct {
	PublishFunc func(ctx context.Context, event types.TaskEvent) error
	CloseFunc   func() error

	mu     sync.Mutex
	events []types.TaskEvent
}

func (m *MockPublisher) Publish(ctx context.Context, event types.TaskEvent) error {
	m.mu.Lock()
	m.events = append(m.events, event)
	m.mu.Unlock()
	if m.PublishFunc != nil {
		return m.PublishFunc(ctx, event)
	}
	return nil
}

func (m *MockPublisher) Close() error {
	if m.CloseFunc != nil {
		return m.CloseFunc()
	}
	return nil
}

func (m *MockPublisher) Events() []types.TaskEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.TaskEvent, len(m.events))
	copy(out, m.events)
	return out
}

// EventsOfType filters recorded events by type.
func (m *MockPublisher) EventsOfType(kind types.EventType) []types.TaskEvent {
	var out []types.TaskEvent
	for _, e := range m.Events() {
		if e.Type == kind {
			out = append(out, e)
		}
	}
	return out
}
