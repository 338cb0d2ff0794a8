package test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/RezaEskandarii/ticketfire/client"
	"github.com/RezaEskandarii/ticketfire/client/test/mocks"
	"github.com/RezaEskandarii/ticketfire/types"
	"github.com/RezaEskandarii/ticketfire/types/config"
	"github.com/stretchr/testify/require"
)

var baseTime = time.Date(2026, 2, 13, 9, 0, 0, 0, time.UTC)

type engine struct {
	cfg       *config.GrabConfig
	store     *mocks.MockTaskStore
	publisher *mocks.MockPublisher
	sink      *client.NotificationSink
	registry  *client.TaskRegistry
	clock     client.Clock
}

func newEngine(t *testing.T, opts ...config.ContainerOption) *engine {
	t.Helper()
	base := []config.ContainerOption{
		config.WithTimezone("UTC"),
		config.WithImmediateDelay(10 * time.Millisecond),
		config.WithRetryPolicy(2, 2*time.Millisecond),
		config.WithPollBeforeGrab(0, 0),
	}
	cfg, err := config.NewGrabConfig("test-instance", append(base, opts...)...)
	require.NoError(t, err)

	e := &engine{
		cfg:       cfg,
		store:     &mocks.MockTaskStore{},
		publisher: &mocks.MockPublisher{},
		clock:     mocks.FixedClock{At: baseTime},
	}
	e.sink = client.NewNotificationSink(e.store, nil, e.publisher)
	e.registry = client.NewTaskRegistry(cfg, e.sink, e.clock, nil)
	return e
}

func (e *engine) create(t *testing.T, spec types.TaskSpec) types.Task {
	t.Helper()
	task, err := e.registry.Create(context.Background(), spec)
	require.NoError(t, err)
	return task
}

func (e *engine) status(id string) string {
	task, ok := e.registry.Get(id)
	if !ok {
		return ""
	}
	return task.Status.String()
}

func pendingSpec(sale time.Time) types.TaskSpec {
	return types.TaskSpec{
		FilmID:        42,
		FilmTitle:     "The Test",
		ScreeningID:   "63-20260216-1000",
		Venue:         "Berlinale Palast",
		ScreeningTime: "2026-02-16T10:00:00Z",
		SaleTime:      sale.Format(time.RFC3339Nano),
		PurchaseURL:   types.StringPtr("https://example/checkout"),
		Mode:          types.ModeDirect,
		TicketCount:   2,
	}
}

func watchingSpec() types.TaskSpec {
	spec := pendingSpec(baseTime.Add(time.Hour))
	spec.PurchaseURL = nil
	return spec
}

// stepClock returns the queued instants in order and then keeps returning the last one.
type stepClock struct {
	mu    sync.Mutex
	times []time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.times[0]
	if len(c.times) > 1 {
		c.times = c.times[1:]
	}
	return now
}

type rearmerFunc func(task types.Task) ([]types.ScheduledJob, error)

func (f rearmerFunc) Arm(task types.Task) ([]types.ScheduledJob, error) {
	return f(task)
}

type watcherFunc func(task types.Task)

func (f watcherFunc) Watch(task types.Task) {
	f(task)
}
