package mocks

import (
	"context"
	"sync"

	"github.com/RezaEskandarii/ticketfire/types"
)

// MockTaskStore is a mock implementation of store.TaskStore for testing. Without SaveFunc it keeps
// the last saved list so tests can inspect what was persisted.
type MockTaskStore struct {
	LoadFunc  func(ctx context.Context) ([]types.Task, error)
	SaveFunc  func(ctx context.Context, tasks []types.Task) error
	CloseFunc func() error

	mu    sync.Mutex
	saved []types.Task
	saves int
}

func (m *MockTaskStore) Load(ctx context.Context) ([]types.Task, error) {
	if m.LoadFunc != nil {
		return m.LoadFunc(ctx)
	}
	return []types.Task{}, nil
}

func (m *MockTaskStore) Save(ctx context.Context, tasks []types.Task) error {
	if m.SaveFunc != nil {
		return m.SaveFunc(ctx, tasks)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved = tasks
	m.saves++
	return nil
}

func (m *MockTaskStore) Close() error {
	if m.CloseFunc != nil {
		return m.CloseFunc()
	}
	return nil
}

func (m *MockTaskStore) Saved() []types.Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saved
}

func (m *MockTaskStore) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}
