package test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/RezaEskandarii/ticketfire/client"
	"github.com/RezaEskandarii/ticketfire/client/test/mocks"
	"github.com/RezaEskandarii/ticketfire/internal/constants"
	"github.com/RezaEskandarii/ticketfire/internal/state"
	"github.com/RezaEskandarii/ticketfire/types"
	"github.com/RezaEskandarii/ticketfire/types/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newScheduler(t *testing.T, e *engine, purchaser client.Purchaser, feed client.AvailabilityFeed) *client.GrabScheduler {
	t.Helper()
	s := client.NewGrabScheduler(e.cfg, e.registry, purchaser, feed, &mocks.MockDistributedLockManager{}, e.clock, nil)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = s.Stop(ctx)
	})
	return s
}

func failingPurchaser() *mocks.MockPurchaser {
	return &mocks.MockPurchaser{AttemptFunc: func(ctx context.Context, task types.Task, report client.StatusFunc) types.AttemptResult {
		report(state.StatusGrabbing, "Checkout page did not load")
		return types.AttemptResult{Message: "sold out at checkout"}
	}}
}

func TestGrabScheduler_ArmBeforeSale(t *testing.T) {
	e := newEngine(t, config.WithGrabLeads(15*time.Second, 30*time.Second))
	s := newScheduler(t, e, &mocks.MockPurchaser{}, nil)
	sale := baseTime.Add(120 * time.Second)
	task := e.create(t, pendingSpec(sale))

	jobs, err := s.Arm(task)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, types.JobGrab, jobs[0].Kind)
	assert.Equal(t, sale.Add(-15*time.Second), jobs[0].FireAt)
	assert.Equal(t, "grab_"+task.ID, jobs[0].Key())
	assert.Equal(t, jobs, s.Jobs())
}

func TestGrabScheduler_ArmBrowserAddsWarmup(t *testing.T) {
	e := newEngine(t, config.WithGrabLeads(5*time.Second, 15*time.Second))
	s := newScheduler(t, e, &mocks.MockPurchaser{}, nil)
	sale := baseTime.Add(time.Minute)
	spec := pendingSpec(sale)
	spec.Mode = types.ModeBrowser
	task := e.create(t, spec)

	_, err := s.Arm(task)
	require.NoError(t, err)

	jobs := s.Jobs()
	require.Len(t, jobs, 2)
	assert.Equal(t, types.JobWarmup, jobs[0].Kind)
	assert.Equal(t, sale.Add(-15*time.Second), jobs[0].FireAt)
	assert.Equal(t, types.JobGrab, jobs[1].Kind)
	assert.Equal(t, sale.Add(-5*time.Second), jobs[1].FireAt)
}

func TestGrabScheduler_ArmAfterSaleIsImmediate(t *testing.T) {
	e := newEngine(t)
	s := newScheduler(t, e, &mocks.MockPurchaser{}, nil)
	spec := pendingSpec(baseTime.Add(-time.Hour))
	spec.Mode = types.ModeBrowser
	task := e.create(t, spec)

	jobs, err := s.Arm(task)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, types.JobGrab, jobs[0].Kind)
	assert.Equal(t, baseTime.Add(e.cfg.ImmediateDelay), jobs[0].FireAt)
}

func TestGrabScheduler_ArmIsIdempotent(t *testing.T) {
	e := newEngine(t)
	s := newScheduler(t, e, &mocks.MockPurchaser{}, nil)
	spec := pendingSpec(baseTime.Add(time.Hour))
	spec.Mode = types.ModeBrowser
	task := e.create(t, spec)

	_, err := s.Arm(task)
	require.NoError(t, err)
	first := s.Jobs()
	_, err = s.Arm(task)
	require.NoError(t, err)

	assert.Equal(t, first, s.Jobs())
	assert.Len(t, s.Jobs(), 2)
}

func TestGrabScheduler_ArmRejectsUnschedulableTasks(t *testing.T) {
	e := newEngine(t)
	s := newScheduler(t, e, &mocks.MockPurchaser{}, nil)

	noSale := pendingSpec(baseTime)
	noSale.SaleTime = ""
	noSale.ScreeningTime = ""
	badSale := pendingSpec(baseTime)
	badSale.SaleTime = "soon"

	tests := []struct {
		name string
		task types.Task
	}{
		{name: "missing sale time", task: e.create(t, noSale)},
		{name: "unparsable sale time", task: e.create(t, badSale)},
		{name: "watching task", task: e.create(t, watchingSpec())},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Arm(tt.task)
			require.Error(t, err)
			assert.True(t, errors.Is(err, client.ErrNotSchedulable))
		})
	}
	assert.Empty(t, s.Jobs())
}

func TestGrabScheduler_CancelRemovesJobs(t *testing.T) {
	e := newEngine(t)
	s := newScheduler(t, e, &mocks.MockPurchaser{}, nil)
	spec := pendingSpec(baseTime.Add(time.Hour))
	spec.Mode = types.ModeBrowser
	task := e.create(t, spec)
	_, err := s.Arm(task)
	require.NoError(t, err)

	assert.True(t, s.Cancel(task.ID))
	assert.Empty(t, s.Jobs())
	assert.False(t, s.Cancel(task.ID))
	assert.False(t, s.Cancel("unknown"))
}

func TestGrabScheduler_CancelPreventsFiring(t *testing.T) {
	e := newEngine(t, config.WithImmediateDelay(50*time.Millisecond))
	purchaser := &mocks.MockPurchaser{}
	s := newScheduler(t, e, purchaser, nil)
	task := e.create(t, pendingSpec(baseTime.Add(-time.Minute)))

	_, err := s.Arm(task)
	require.NoError(t, err)
	s.Start()
	require.True(t, s.Cancel(task.ID))

	time.Sleep(200 * time.Millisecond)
	assert.Zero(t, purchaser.Attempts())
	assert.Equal(t, "pending", e.status(task.ID))
}

func TestGrabScheduler_GrabSucceeds(t *testing.T) {
	e := newEngine(t)
	purchaser := &mocks.MockPurchaser{}
	s := newScheduler(t, e, purchaser, nil)
	task := e.create(t, pendingSpec(baseTime.Add(-time.Minute)))

	_, err := s.Arm(task)
	require.NoError(t, err)
	s.Start()

	assert.Eventually(t, func() bool { return e.status(task.ID) == "success" }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, purchaser.Attempts())
	assert.Empty(t, s.Jobs())
}

func TestGrabScheduler_RetriesUntilExhausted(t *testing.T) {
	e := newEngine(t, config.WithRetryPolicy(3, 2*time.Millisecond))
	purchaser := failingPurchaser()
	s := newScheduler(t, e, purchaser, nil)
	task := e.create(t, pendingSpec(baseTime.Add(-time.Minute)))

	_, err := s.Arm(task)
	require.NoError(t, err)
	s.Start()

	assert.Eventually(t, func() bool { return e.status(task.ID) == "failed" }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 4, purchaser.Attempts())

	failed, _ := e.registry.Get(task.ID)
	assert.NotEmpty(t, failed.Message())
	assert.Contains(t, failed.Message(), "4 attempt")
	assert.Contains(t, failed.Message(), "sold out at checkout")
}

func TestGrabScheduler_SucceedsOnRetry(t *testing.T) {
	e := newEngine(t)
	var mu sync.Mutex
	calls := 0
	purchaser := &mocks.MockPurchaser{AttemptFunc: func(ctx context.Context, task types.Task, report client.StatusFunc) types.AttemptResult {
		mu.Lock()
		defer mu.Unlock()
		calls++
		return types.AttemptResult{Success: calls == 2, Message: "attempt"}
	}}
	s := newScheduler(t, e, purchaser, nil)
	task := e.create(t, pendingSpec(baseTime))

	require.NoError(t, s.RunNow(context.Background(), task.ID))

	assert.Eventually(t, func() bool { return e.status(task.ID) == "success" }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, purchaser.Attempts())
}

func TestGrabScheduler_PanickingPurchaserFails(t *testing.T) {
	e := newEngine(t, config.WithRetryPolicy(1, time.Millisecond))
	purchaser := &mocks.MockPurchaser{AttemptFunc: func(ctx context.Context, task types.Task, report client.StatusFunc) types.AttemptResult {
		panic("browser crashed")
	}}
	s := newScheduler(t, e, purchaser, nil)
	task := e.create(t, pendingSpec(baseTime))

	require.NoError(t, s.RunNow(context.Background(), task.ID))

	assert.Eventually(t, func() bool { return e.status(task.ID) == "failed" }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, purchaser.Attempts())
	failed, _ := e.registry.Get(task.ID)
	assert.Contains(t, failed.Message(), "browser crashed")
}

func TestGrabScheduler_OnlyOneConcurrentGrabPerTask(t *testing.T) {
	e := newEngine(t)
	release := make(chan struct{})
	purchaser := &mocks.MockPurchaser{AttemptFunc: func(ctx context.Context, task types.Task, report client.StatusFunc) types.AttemptResult {
		<-release
		return types.AttemptResult{Success: true}
	}}
	s := newScheduler(t, e, purchaser, nil)
	task := e.create(t, pendingSpec(baseTime))

	require.NoError(t, s.RunNow(context.Background(), task.ID))
	_ = s.RunNow(context.Background(), task.ID)

	assert.Eventually(t, func() bool { return e.status(task.ID) == "grabbing" }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(release)

	assert.Eventually(t, func() bool { return e.status(task.ID) == "success" }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, purchaser.Attempts())
}

func TestGrabScheduler_RunNowRequiresPendingTask(t *testing.T) {
	e := newEngine(t)
	s := newScheduler(t, e, &mocks.MockPurchaser{}, nil)
	task := e.create(t, watchingSpec())

	err := s.RunNow(context.Background(), task.ID)
	assert.True(t, errors.Is(err, client.ErrNotSchedulable))

	err = s.RunNow(context.Background(), "missing")
	assert.True(t, errors.Is(err, client.ErrTaskNotFound))
}

func TestGrabScheduler_CancelInterruptsRunningGrab(t *testing.T) {
	e := newEngine(t)
	started := make(chan struct{})
	purchaser := &mocks.MockPurchaser{AttemptFunc: func(ctx context.Context, task types.Task, report client.StatusFunc) types.AttemptResult {
		close(started)
		<-ctx.Done()
		return types.AttemptResult{Message: ctx.Err().Error()}
	}}
	s := newScheduler(t, e, purchaser, nil)
	task := e.create(t, pendingSpec(baseTime))

	require.NoError(t, s.RunNow(context.Background(), task.ID))
	<-started
	_, err := e.registry.Transition(context.Background(), task.ID, state.StatusCancelled)
	require.NoError(t, err)
	assert.True(t, s.Cancel(task.ID))

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, "cancelled", e.status(task.ID))
	assert.Equal(t, 1, purchaser.Attempts())
}

func TestGrabScheduler_WarmupBuysFromPreopenedPage(t *testing.T) {
	e := newEngine(t, config.WithGrabLeads(20*time.Millisecond, 50*time.Millisecond))
	handle := &mocks.MockPageHandle{}
	purchaser := &mocks.MockPreheater{
		PreheatFunc: func(ctx context.Context, task types.Task) (client.PageHandle, error) {
			return handle, nil
		},
	}
	s := newScheduler(t, e, purchaser, nil)
	spec := pendingSpec(baseTime.Add(60 * time.Millisecond))
	spec.Mode = types.ModeBrowser
	task := e.create(t, spec)

	jobs, err := s.Arm(task)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	s.Start()

	assert.Eventually(t, func() bool { return e.status(task.ID) == "success" }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, purchaser.Preheats())
	assert.Equal(t, 1, purchaser.WarmAttempts())
	assert.Zero(t, purchaser.Attempts())
	assert.Eventually(t, handle.Closed, time.Second, 5*time.Millisecond)
	assert.Empty(t, s.Jobs())
}

func TestGrabScheduler_WarmupFallsBackWhenPreheatFails(t *testing.T) {
	e := newEngine(t, config.WithGrabLeads(20*time.Millisecond, 50*time.Millisecond))
	purchaser := &mocks.MockPreheater{
		PreheatFunc: func(ctx context.Context, task types.Task) (client.PageHandle, error) {
			return nil, errors.New("page load timeout")
		},
	}
	s := newScheduler(t, e, purchaser, nil)
	spec := pendingSpec(baseTime.Add(60 * time.Millisecond))
	spec.Mode = types.ModeBrowser
	task := e.create(t, spec)

	_, err := s.Arm(task)
	require.NoError(t, err)
	s.Start()

	assert.Eventually(t, func() bool { return e.status(task.ID) == "success" }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, purchaser.Attempts())
	assert.Zero(t, purchaser.WarmAttempts())
}

func TestGrabScheduler_DirectGrabPollsFeedFirst(t *testing.T) {
	e := newEngine(t, config.WithPollBeforeGrab(time.Second, 5*time.Millisecond))
	var mu sync.Mutex
	polls := 0
	feed := &mocks.MockFeed{FetchStatusFunc: func(ctx context.Context) map[string]types.AvailabilityInfo {
		mu.Lock()
		defer mu.Unlock()
		polls++
		st := types.TicketPending
		if polls >= 3 {
			st = types.TicketAvailable
		}
		return map[string]types.AvailabilityInfo{
			"63-20260216-1000": {ScreeningID: "63-20260216-1000", State: st, URL: types.StringPtr("https://example/fresh")},
		}
	}}
	var usedURL string
	purchaser := &mocks.MockPurchaser{AttemptFunc: func(ctx context.Context, task types.Task, report client.StatusFunc) types.AttemptResult {
		mu.Lock()
		usedURL = task.URL()
		mu.Unlock()
		return types.AttemptResult{Success: true}
	}}
	s := newScheduler(t, e, purchaser, feed)
	task := e.create(t, pendingSpec(baseTime))

	require.NoError(t, s.RunNow(context.Background(), task.ID))

	assert.Eventually(t, func() bool { return e.status(task.ID) == "success" }, 2*time.Second, 5*time.Millisecond)
	assert.GreaterOrEqual(t, feed.Fetches(), 3)
	mu.Lock()
	assert.Equal(t, "https://example/fresh", usedURL)
	mu.Unlock()
}

func TestGrabScheduler_DirectGrabAttemptsWhenPollWindowElapses(t *testing.T) {
	e := newEngine(t, config.WithPollBeforeGrab(30*time.Millisecond, 5*time.Millisecond))
	purchaser := &mocks.MockPurchaser{}
	s := newScheduler(t, e, purchaser, &mocks.MockFeed{})
	task := e.create(t, pendingSpec(baseTime))

	require.NoError(t, s.RunNow(context.Background(), task.ID))

	assert.Eventually(t, func() bool { return e.status(task.ID) == "success" }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, purchaser.Attempts())
}

func TestGrabScheduler_Recover(t *testing.T) {
	e := newEngine(t)
	pending := e.create(t, pendingSpec(baseTime.Add(time.Hour)))
	watching := e.create(t, watchingSpec())
	done := e.create(t, pendingSpec(baseTime))
	_, err := e.registry.Transition(context.Background(), done.ID, state.StatusCancelled)
	require.NoError(t, err)

	var lockedID int
	locker := &mocks.MockDistributedLockManager{AcquireFunc: func(ctx context.Context, lockID int) error {
		lockedID = lockID
		return nil
	}}
	s := client.NewGrabScheduler(e.cfg, e.registry, &mocks.MockPurchaser{}, nil, locker, e.clock, nil)

	var watched []string
	armed, watchedCount, err := s.Recover(context.Background(), watcherFunc(func(task types.Task) {
		watched = append(watched, task.ID)
	}))
	require.NoError(t, err)

	assert.Equal(t, 1, armed)
	assert.Equal(t, 1, watchedCount)
	assert.Equal(t, []string{watching.ID}, watched)
	assert.Equal(t, constants.RecoveryLock, lockedID)
	jobs := s.Jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, pending.ID, jobs[0].TaskID)
}

func TestGrabScheduler_RecoverLockError(t *testing.T) {
	e := newEngine(t)
	locker := &mocks.MockDistributedLockManager{AcquireFunc: func(ctx context.Context, lockID int) error {
		return errors.New("failed to acquire lock")
	}}
	s := client.NewGrabScheduler(e.cfg, e.registry, &mocks.MockPurchaser{}, nil, locker, e.clock, nil)

	_, _, err := s.Recover(context.Background(), nil)
	require.Error(t, err)
}

func TestGrabScheduler_StopRejectsNewWork(t *testing.T) {
	e := newEngine(t)
	s := client.NewGrabScheduler(e.cfg, e.registry, &mocks.MockPurchaser{}, nil, &mocks.MockDistributedLockManager{}, e.clock, nil)
	s.Start()
	require.NoError(t, s.Stop(context.Background()))

	task := e.create(t, pendingSpec(baseTime))
	_, err := s.Arm(task)
	assert.True(t, errors.Is(err, client.ErrNotSchedulable))
	assert.True(t, errors.Is(s.RunNow(context.Background(), task.ID), client.ErrNotSchedulable))
}

func TestGrabScheduler_StopInterruptsGrabWhenDeadlineExpires(t *testing.T) {
	e := newEngine(t)
	started := make(chan struct{})
	purchaser := &mocks.MockPurchaser{AttemptFunc: func(ctx context.Context, task types.Task, report client.StatusFunc) types.AttemptResult {
		close(started)
		<-ctx.Done()
		return types.AttemptResult{Message: ctx.Err().Error()}
	}}
	s := newScheduler(t, e, purchaser, nil)
	task := e.create(t, pendingSpec(baseTime.Add(-time.Minute)))
	_, err := s.Arm(task)
	require.NoError(t, err)
	s.Start()

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("grab never started")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	stopped := make(chan error, 1)
	begin := time.Now()
	go func() { stopped <- s.Stop(ctx) }()

	select {
	case err := <-stopped:
		assert.True(t, errors.Is(err, context.DeadlineExceeded))
		assert.Less(t, time.Since(begin), time.Second)
	case <-time.After(2 * time.Second):
		t.Fatal("Stop ignored its deadline while a grab was running")
	}
	assert.Equal(t, "failed", e.status(task.ID))
	assert.Equal(t, 1, purchaser.Attempts())
}

func TestGrabScheduler_StopDrainsRunningGrab(t *testing.T) {
	e := newEngine(t)
	started := make(chan struct{})
	purchaser := &mocks.MockPurchaser{AttemptFunc: func(ctx context.Context, task types.Task, report client.StatusFunc) types.AttemptResult {
		close(started)
		time.Sleep(50 * time.Millisecond)
		return types.AttemptResult{Success: true, Message: "Purchase completed"}
	}}
	s := newScheduler(t, e, purchaser, nil)
	task := e.create(t, pendingSpec(baseTime.Add(-time.Minute)))
	_, err := s.Arm(task)
	require.NoError(t, err)
	s.Start()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
	assert.Equal(t, "success", e.status(task.ID))
}
