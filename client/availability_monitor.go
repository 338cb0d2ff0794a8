package client

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/RezaEskandarii/ticketfire/internal/logging"
	"github.com/RezaEskandarii/ticketfire/internal/observability"
	"github.com/RezaEskandarii/ticketfire/internal/state"
	"github.com/RezaEskandarii/ticketfire/types"
	"github.com/RezaEskandarii/ticketfire/types/config"
	"go.uber.org/zap"
)

const availableMessage = "Ticket available! Auto-scheduling grab..."

// Rearmer schedules a grab for a task that just became pending.
type Rearmer interface {
	Arm(task types.Task) ([]types.ScheduledJob, error)
}

// EventPublisher broadcasts an event that carries no task mutation.
type EventPublisher interface {
	Publish(ctx context.Context, event types.TaskEvent)
}

// AvailabilityMonitor polls the ticket feed for screenings that have no purchase URL yet and hands
// each one to the scheduler as soon as its tickets become available.
type AvailabilityMonitor struct {
	mu      sync.Mutex
	watches map[string]types.Task
	order   []string

	runMu   sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool

	registry  *TaskRegistry
	feed      AvailabilityFeed
	rearmer   Rearmer
	publisher EventPublisher
	clock     Clock

	interval     time.Duration
	fastInterval time.Duration
	goldenHour   time.Duration

	logger *zap.Logger
}

func NewAvailabilityMonitor(cfg *config.GrabConfig, registry *TaskRegistry, feed AvailabilityFeed, rearmer Rearmer, publisher EventPublisher, clock Clock, logger *zap.Logger) *AvailabilityMonitor {
	if clock == nil {
		clock = SystemClock
	}
	return &AvailabilityMonitor{
		watches:      make(map[string]types.Task),
		registry:     registry,
		feed:         feed,
		rearmer:      rearmer,
		publisher:    publisher,
		clock:        clock,
		interval:     cfg.MonitorInterval,
		fastInterval: cfg.MonitorFastInterval,
		goldenHour:   cfg.GoldenHour,
		logger:       logging.OrNop(logger),
	}
}

// SetRearmer wires the scheduler after construction; the scheduler itself depends on the monitor
// during recovery.
func (m *AvailabilityMonitor) SetRearmer(r Rearmer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rearmer = r
}

// Watch adds the task to the watch set, replacing an earlier entry with the same id.
func (m *AvailabilityMonitor) Watch(task types.Task) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.watches[task.ID]; !ok {
		m.order = append(m.order, task.ID)
	}
	m.watches[task.ID] = task.Clone()
	observability.WatchedTasks.Set(float64(len(m.watches)))
	m.logger.Info("watching screening", zap.String("task_id", task.ID), zap.String("screening", task.ScreeningID))
}

// Unwatch removes a task. Removing an unknown id is a no-op.
func (m *AvailabilityMonitor) Unwatch(taskID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unwatchLocked(taskID)
}

func (m *AvailabilityMonitor) unwatchLocked(taskID string) {
	if _, ok := m.watches[taskID]; !ok {
		return
	}
	delete(m.watches, taskID)
	for i, id := range m.order {
		if id == taskID {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	observability.WatchedTasks.Set(float64(len(m.watches)))
}

func (m *AvailabilityMonitor) Watches() []types.Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.Task, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.watches[id].Clone())
	}
	return out
}

func (m *AvailabilityMonitor) Running() bool {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	return m.running
}

// Start launches the poll loop. Calling it while the loop runs does nothing.
func (m *AvailabilityMonitor) Start(ctx context.Context) {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if m.running {
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	m.running = true
	go m.loop(loopCtx, m.done)
	m.logger.Info("availability monitor started")
}

// Stop cancels the poll loop, interrupting a sleep or an in-flight fetch, and returns once the loop
// has exited.
func (m *AvailabilityMonitor) Stop() {
	m.runMu.Lock()
	if !m.running {
		m.runMu.Unlock()
		return
	}
	cancel, done := m.cancel, m.done
	m.running = false
	m.runMu.Unlock()

	cancel()
	<-done
	m.logger.Info("availability monitor stopped")
}

func (m *AvailabilityMonitor) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		m.safePoll(ctx)

		timer := time.NewTimer(m.NextInterval(m.clock.Now()))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (m *AvailabilityMonitor) safePoll(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			observability.MonitorPollsTotal.WithLabelValues("error").Inc()
			m.logger.Error("monitor poll panicked", zap.Any("panic", r))
		}
	}()
	m.PollOnce(ctx)
}

// PollOnce runs one iteration: a single feed fetch, then every watched task is checked against it.
// A task that became available is moved to pending, unwatched, armed and announced before the next
// task is looked at.
func (m *AvailabilityMonitor) PollOnce(ctx context.Context) {
	watched := m.Watches()
	if len(watched) == 0 {
		observability.MonitorPollsTotal.WithLabelValues("idle").Inc()
		return
	}

	statuses := m.feed.FetchStatus(ctx)
	if len(statuses) == 0 {
		observability.MonitorPollsTotal.WithLabelValues("empty").Inc()
		m.logger.Debug("ticket feed returned nothing", zap.Int("watched", len(watched)))
		return
	}
	observability.MonitorPollsTotal.WithLabelValues("ok").Inc()

	for _, task := range watched {
		if ctx.Err() != nil {
			return
		}
		if !m.isWatched(task.ID) {
			continue
		}
		info, ok := statuses[task.ScreeningID]
		if !ok || !info.IsAvailable() {
			continue
		}
		m.handleAvailable(ctx, task, info)
	}
}

func (m *AvailabilityMonitor) isWatched(taskID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.watches[taskID]
	return ok
}

func (m *AvailabilityMonitor) handleAvailable(ctx context.Context, task types.Task, info types.AvailabilityInfo) {
	url := task.URL()
	if info.URL != nil && *info.URL != "" {
		url = *info.URL
	}

	updated, err := m.registry.Transition(ctx, task.ID, state.StatusPending,
		WithPurchaseURL(url),
		WithMessage(availableMessage),
	)
	m.Unwatch(task.ID)
	if err != nil {
		if errors.Is(err, state.ErrInvalidTransition) || errors.Is(err, ErrTaskNotFound) {
			m.logger.Info("dropping stale watch", zap.String("task_id", task.ID), zap.Error(err))
			return
		}
		// Persisting failed: keep watching so the next iteration tries again.
		m.Watch(task)
		m.logger.Error("failed to mark task available", zap.String("task_id", task.ID), zap.Error(err))
		return
	}
	m.logger.Info("screening available",
		zap.String("task_id", task.ID),
		zap.String("screening", task.ScreeningID),
		zap.String("url", url),
	)

	m.mu.Lock()
	rearmer := m.rearmer
	m.mu.Unlock()
	if rearmer != nil {
		if _, err := rearmer.Arm(updated); err != nil {
			m.logger.Warn("could not arm available task", zap.String("task_id", task.ID), zap.Error(err))
		}
	}

	if m.publisher != nil {
		m.publisher.Publish(ctx, types.TaskEvent{
			Type:    types.EventMonitorAlert,
			TaskID:  task.ID,
			Status:  updated.Status,
			Message: "Tickets available for " + task.ScreeningID,
			Task:    &updated,
			At:      updated.UpdatedAt,
		})
	}
}

// NextInterval returns the fast interval when any watched screening starts within the golden hour of
// now, the normal interval otherwise.
func (m *AvailabilityMonitor) NextInterval(now time.Time) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, task := range m.watches {
		screening, ok, err := task.ParseScreeningTime()
		if !ok || err != nil {
			continue
		}
		if screening.Sub(now) <= m.goldenHour {
			return m.fastInterval
		}
	}
	return m.interval
}
