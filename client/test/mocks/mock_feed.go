package mocks

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/RezaEskandarii/ticketfire/types"
)

// MockFeed is a mock implementation of client.AvailabilityFeed.
type MockFeed struct {
	FetchStatusFunc func(ctx context.Context) map[string]types.AvailabilityInfo

	fetches atomic.Int32
}

func (m *MockFeed) FetchStatus(ctx context.Context) map[string]types.AvailabilityInfo {
	m.fetches.Add(1)
	if m.FetchStatusFunc != nil {
		return m.FetchStatusFunc(ctx)
	}
	return map[string]types.AvailabilityInfo{}
}

func (m *MockFeed) Fetches() int {
	return int(m.fetches.Load())
}

// FixedClock is a client.Clock frozen at At.
type FixedClock struct {
	At time.Time
}

func (c FixedClock) Now() time.Time {
	return c.At
}
