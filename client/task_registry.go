package client

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/RezaEskandarii/ticketfire/internal/constants"
	"github.com/RezaEskandarii/ticketfire/internal/logging"
	"github.com/RezaEskandarii/ticketfire/internal/observability"
	"github.com/RezaEskandarii/ticketfire/internal/state"
	"github.com/RezaEskandarii/ticketfire/types"
	"github.com/RezaEskandarii/ticketfire/types/config"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrTaskNotFound = errors.New("task not found")
	ErrTaskFinished = errors.New("task already finished")
	ErrInvalidTask  = errors.New("invalid task")
)

// TaskNotifier persists the full task list and broadcasts one event about it.
type TaskNotifier interface {
	Notify(ctx context.Context, tasks []types.Task, event types.TaskEvent) error
}

type TransitionOption func(*types.Task)

// WithMessage sets result_message, sanitized.
func WithMessage(msg string) TransitionOption {
	return func(t *types.Task) {
		t.ResultMessage = types.StringPtr(Sanitize(msg))
	}
}

func WithPurchaseURL(url string) TransitionOption {
	return func(t *types.Task) {
		if url != "" {
			t.PurchaseURL = types.StringPtr(url)
		}
	}
}

// TaskRegistry owns every task in memory and is the only writer of status, result_message and
// updated_at. Each mutation is persisted and broadcast before the call returns, while the registry
// lock is still held, so the events of one task are observed in mutation order.
type TaskRegistry struct {
	mu       sync.Mutex
	tasks    map[string]*types.Task
	order    []string
	notifier TaskNotifier
	clock    Clock
	cfg      *config.GrabConfig
	loc      *time.Location
	logger   *zap.Logger
}

func NewTaskRegistry(cfg *config.GrabConfig, notifier TaskNotifier, clock Clock, logger *zap.Logger) *TaskRegistry {
	if clock == nil {
		clock = SystemClock
	}
	return &TaskRegistry{
		tasks:    make(map[string]*types.Task),
		notifier: notifier,
		clock:    clock,
		cfg:      cfg,
		loc:      cfg.Location(),
		logger:   logging.OrNop(logger),
	}
}

// TaskSource yields the tasks persisted by an earlier run.
type TaskSource interface {
	Load(ctx context.Context) ([]types.Task, error)
}

// Load replaces the in-memory state with the tasks read from source and returns how many were kept.
// Call it once, before any other operation.
func (r *TaskRegistry) Load(ctx context.Context, source TaskSource) (int, error) {
	tasks, err := source.Load(ctx)
	if err != nil {
		return 0, fmt.Errorf("load tasks: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.tasks = make(map[string]*types.Task, len(tasks))
	r.order = r.order[:0]
	for _, t := range tasks {
		if _, dup := r.tasks[t.ID]; dup || t.ID == "" {
			r.logger.Warn("skipping stored task", zap.String("task_id", t.ID))
			continue
		}
		c := t.Clone()
		r.tasks[t.ID] = &c
		r.order = append(r.order, t.ID)
	}
	return len(r.order), nil
}

// Create registers a new task. It starts in pending when the purchase URL is known and in watching
// otherwise. A missing sale time is derived from the screening time.
func (r *TaskRegistry) Create(ctx context.Context, spec types.TaskSpec) (types.Task, error) {
	if strings.TrimSpace(spec.ScreeningID) == "" {
		return types.Task{}, fmt.Errorf("%w: screening id is required", ErrInvalidTask)
	}
	if spec.Mode == "" {
		spec.Mode = types.ModeBrowser
	}
	if !spec.Mode.IsValid() {
		return types.Task{}, fmt.Errorf("%w: unknown mode %q", ErrInvalidTask, spec.Mode)
	}
	if spec.TicketCount == 0 {
		spec.TicketCount = r.cfg.DefaultTicketCount
	}
	if spec.TicketCount < 0 {
		return types.Task{}, fmt.Errorf("%w: ticket count must be positive", ErrInvalidTask)
	}

	now := r.clock.Now()
	t := types.Task{
		FilmID:        spec.FilmID,
		FilmTitle:     spec.FilmTitle,
		ScreeningID:   spec.ScreeningID,
		Venue:         spec.Venue,
		ScreeningTime: r.normalizeInstant(spec.ScreeningTime),
		SaleTime:      r.normalizeInstant(spec.SaleTime),
		Mode:          spec.Mode,
		TicketCount:   spec.TicketCount,
		Status:        state.StatusWatching,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if spec.PurchaseURL != nil && *spec.PurchaseURL != "" {
		t.PurchaseURL = types.StringPtr(*spec.PurchaseURL)
		t.Status = state.StatusPending
	}
	if t.SaleTime == "" {
		if screening, ok, err := t.ParseScreeningTime(); ok && err == nil {
			t.SaleTime = types.DefaultSaleTime(screening, r.loc, config.DefaultSaleAdvanceDays, config.DefaultSaleHour).Format(time.RFC3339)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	t.ID = r.newID()
	r.tasks[t.ID] = &t
	r.order = append(r.order, t.ID)

	if err := r.persist(ctx, t, types.EventTaskUpdate, "Task created"); err != nil {
		delete(r.tasks, t.ID)
		r.order = r.order[:len(r.order)-1]
		return types.Task{}, err
	}
	r.logger.Info("task created",
		zap.String("task_id", t.ID),
		zap.String("screening", t.ScreeningID),
		zap.String("status", t.Status.String()),
		zap.String("sale_time", t.SaleTime),
	)
	return t.Clone(), nil
}

func (r *TaskRegistry) Get(id string) (types.Task, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	if !ok {
		return types.Task{}, false
	}
	return t.Clone(), true
}

// List returns snapshots of every task in insertion order.
func (r *TaskRegistry) List() []types.Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshot()
}

// Transition moves a task to status `to`. An edge outside the state table is rejected with
// state.ErrInvalidTransition and leaves the task untouched; the returned task is then the current,
// unchanged snapshot. When persisting fails the mutation is rolled back and the error returned.
func (r *TaskRegistry) Transition(ctx context.Context, id string, to state.TaskStatus, opts ...TransitionOption) (types.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tasks[id]
	if !ok {
		return types.Task{}, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	from := t.Status
	if err := state.CheckTransition(from, to); err != nil {
		observability.TaskTransitionsTotal.WithLabelValues(from.String(), to.String(), "rejected").Inc()
		return t.Clone(), err
	}

	prev := t.Clone()
	t.Status = to
	for _, opt := range opts {
		opt(t)
	}
	t.UpdatedAt = r.stamp(prev.UpdatedAt)

	if err := r.persist(ctx, *t, types.EventTaskUpdate, t.Message()); err != nil {
		*t = prev
		return prev, err
	}
	observability.TaskTransitionsTotal.WithLabelValues(from.String(), to.String(), "accepted").Inc()
	r.logger.Info("task transition",
		zap.String("task_id", id),
		zap.String("from", from.String()),
		zap.String("to", to.String()),
		zap.String("message", t.Message()),
	)
	return t.Clone(), nil
}

// Annotate records a progress message on a task that is still in flight without changing its
// status. Options apply after the message, so WithPurchaseURL can adopt a URL discovered mid-grab.
func (r *TaskRegistry) Annotate(ctx context.Context, id, message string, opts ...TransitionOption) (types.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tasks[id]
	if !ok {
		return types.Task{}, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	if t.Status.IsTerminal() {
		return t.Clone(), fmt.Errorf("%w: %s is %s", ErrTaskFinished, id, t.Status)
	}

	prev := t.Clone()
	WithMessage(message)(t)
	for _, opt := range opts {
		opt(t)
	}
	t.UpdatedAt = r.stamp(prev.UpdatedAt)

	if err := r.persist(ctx, *t, types.EventTaskUpdate, t.Message()); err != nil {
		*t = prev
		return prev, err
	}
	return t.Clone(), nil
}

// Delete removes a task. It reports false when no task had that id.
func (r *TaskRegistry) Delete(ctx context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tasks[id]
	if !ok {
		return false, nil
	}
	idx := r.indexOf(id)
	delete(r.tasks, id)
	r.order = append(r.order[:idx:idx], r.order[idx+1:]...)

	if err := r.persist(ctx, *t, types.EventTaskDeleted, "Task deleted"); err != nil {
		r.tasks[id] = t
		r.order = append(r.order[:idx], append([]string{id}, r.order[idx:]...)...)
		return false, err
	}
	r.logger.Info("task deleted", zap.String("task_id", id))
	return true, nil
}

// persist must be called with r.mu held.
func (r *TaskRegistry) persist(ctx context.Context, t types.Task, kind types.EventType, message string) error {
	snap := t.Clone()
	event := types.TaskEvent{
		Type:    kind,
		TaskID:  t.ID,
		Status:  t.Status,
		Message: message,
		Task:    &snap,
		At:      t.UpdatedAt,
	}
	return r.notifier.Notify(ctx, r.snapshot(), event)
}

func (r *TaskRegistry) snapshot() []types.Task {
	out := make([]types.Task, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.tasks[id].Clone())
	}
	return out
}

func (r *TaskRegistry) indexOf(id string) int {
	for i, v := range r.order {
		if v == id {
			return i
		}
	}
	return -1
}

// stamp returns the new updated_at, never earlier than the previous one.
func (r *TaskRegistry) stamp(prev time.Time) time.Time {
	now := r.clock.Now()
	if now.Before(prev) {
		return prev
	}
	return now
}

func (r *TaskRegistry) newID() string {
	for {
		id := strings.ReplaceAll(uuid.NewString(), "-", "")[:constants.TaskIDLength]
		if _, taken := r.tasks[id]; !taken {
			return id
		}
	}
}

var localLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

// normalizeInstant rewrites times given without an offset into RFC 3339 in the configured zone.
// Values it cannot read are kept as they are and rejected later by the scheduler.
func (r *TaskRegistry) normalizeInstant(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	if _, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return value
	}
	for _, layout := range localLayouts {
		if parsed, err := time.ParseInLocation(layout, value, r.loc); err == nil {
			return parsed.Format(time.RFC3339Nano)
		}
	}
	return value
}
