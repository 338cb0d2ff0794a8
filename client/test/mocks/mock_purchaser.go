package mocks

import (
	"context"
	"sync/atomic"

	"github.com/RezaEskandarii/ticketfire/client"
	"github.com/RezaEskandarii/ticketfire/types"
)

// MockPurchaser is a mock implementation of client.Purchaser. Attempts are counted atomically since
// grabs run on scheduler goroutines.
type MockPurchaser struct {
	AttemptFunc func(ctx context.Context, task types.Task, report client.StatusFunc) types.AttemptResult

	attempts atomic.Int32
}

func (m *MockPurchaser) Attempt(ctx context.Context, task types.Task, report client.StatusFunc) types.AttemptResult {
	m.attempts.Add(1)
	if m.AttemptFunc != nil {
		return m.AttemptFunc(ctx, task, report)
	}
	return types.AttemptResult{Success: true, Message: "ok"}
}

func (m *MockPurchaser) Attempts() int {
	return int(m.attempts.Load())
}

// MockPreheater is a MockPurchaser that can also pre-open the purchase page.
type MockPreheater struct {
	MockPurchaser
	PreheatFunc           func(ctx context.Context, task types.Task) (client.PageHandle, error)
	AttemptWithHandleFunc func(ctx context.Context, handle client.PageHandle, task types.Task, report client.StatusFunc) types.AttemptResult

	preheats     atomic.Int32
	warmAttempts atomic.Int32
}

func (m *MockPreheater) Preheat(ctx context.Context, task types.Task) (client.PageHandle, error) {
	m.preheats.Add(1)
	if m.PreheatFunc != nil {
		return m.PreheatFunc(ctx, task)
	}
	return &MockPageHandle{}, nil
}

func (m *MockPreheater) AttemptWithHandle(ctx context.Context, handle client.PageHandle, task types.Task, report client.StatusFunc) types.AttemptResult {
	m.warmAttempts.Add(1)
	if m.AttemptWithHandleFunc != nil {
		return m.AttemptWithHandleFunc(ctx, handle, task, report)
	}
	return types.AttemptResult{Success: true, Message: "ok"}
}

func (m *MockPreheater) Preheats() int {
	return int(m.preheats.Load())
}

func (m *MockPreheater) WarmAttempts() int {
	return int(m.warmAttempts.Load())
}

type MockPageHandle struct {
	closed atomic.Bool
}

func (h *MockPageHandle) Close() error {
	h.closed.Store(true)
	return nil
}

func (h *MockPageHandle) Closed() bool {
	return h.closed.Load()
}
