package client

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/RezaEskandarii/ticketfire/internal/constants"
	"github.com/RezaEskandarii/ticketfire/internal/lock"
	"github.com/RezaEskandarii/ticketfire/internal/logging"
	"github.com/RezaEskandarii/ticketfire/internal/observability"
	"github.com/RezaEskandarii/ticketfire/internal/state"
	"github.com/RezaEskandarii/ticketfire/internal/timing"
	"github.com/RezaEskandarii/ticketfire/types"
	"github.com/RezaEskandarii/ticketfire/types/config"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

var ErrNotSchedulable = errors.New("task is not schedulable")

// Watcher takes over tasks that are still waiting for a purchase URL.
type Watcher interface {
	Watch(task types.Task)
}

// oneShot is a cron.Schedule that fires once at a fixed instant. Every call after the first reports
// the zero time, which cron treats as "never again".
type oneShot struct {
	mu     sync.Mutex
	at     time.Time
	issued bool
}

func (o *oneShot) Next(time.Time) time.Time {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.issued {
		return time.Time{}
	}
	o.issued = true
	return o.at
}

type armedJob struct {
	job     types.ScheduledJob
	entryID cron.EntryID
	gen     uint64
}

// GrabScheduler arms wall-clock jobs for pending tasks and runs the purchase when they fire.
type GrabScheduler struct {
	mu      sync.Mutex
	jobs    map[string]*armedJob
	running map[string]map[uint64]context.CancelFunc
	gen     uint64
	stopped bool
	wg      sync.WaitGroup

	baseCtx    context.Context
	cancelBase context.CancelFunc

	cron      *cron.Cron
	registry  *TaskRegistry
	purchaser Purchaser
	feed      AvailabilityFeed
	locker    lock.DistributedLockManager
	clock     Clock
	cfg       *config.GrabConfig
	logger    *zap.Logger
}

// NewGrabScheduler builds a scheduler. feed may be nil, which disables poll-before-grab.
func NewGrabScheduler(cfg *config.GrabConfig, registry *TaskRegistry, purchaser Purchaser, feed AvailabilityFeed, locker lock.DistributedLockManager, clock Clock, logger *zap.Logger) *GrabScheduler {
	logger = logging.OrNop(logger)
	if clock == nil {
		clock = SystemClock
	}
	cronLogger := cron.PrintfLogger(zap.NewStdLog(logger.Named("cron")))
	baseCtx, cancel := context.WithCancel(context.Background())
	return &GrabScheduler{
		jobs:       make(map[string]*armedJob),
		running:    make(map[string]map[uint64]context.CancelFunc),
		baseCtx:    baseCtx,
		cancelBase: cancel,
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithLogger(cronLogger),
			cron.WithChain(cron.Recover(cronLogger)),
		),
		registry:  registry,
		purchaser: purchaser,
		feed:      feed,
		locker:    locker,
		clock:     clock,
		cfg:       cfg,
		logger:    logger,
	}
}

// Arm schedules the jobs of a pending task and returns them. Arming a task again replaces every job
// it had.
//
//   - direct:  one grab job at sale_time - AttemptLead, or ImmediateDelay from now when that passed.
//   - browser: the same grab job, plus a warm-up job at sale_time - WarmupLead while that is still
//     ahead. A fired warm-up drops the grab job and buys from the pre-opened page.
func (s *GrabScheduler) Arm(task types.Task) ([]types.ScheduledJob, error) {
	if task.Status != state.StatusPending {
		return nil, fmt.Errorf("%w: task %s is %s", ErrNotSchedulable, task.ID, task.Status)
	}
	if !task.HasPurchaseURL() {
		return nil, fmt.Errorf("%w: task %s has no purchase URL", ErrNotSchedulable, task.ID)
	}
	sale, ok, err := task.ParseSaleTime()
	if err != nil {
		return nil, fmt.Errorf("%w: task %s has unparsable sale time %q: %v", ErrNotSchedulable, task.ID, task.SaleTime, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: task %s has no sale time", ErrNotSchedulable, task.ID)
	}

	now := s.clock.Now()
	grabAt := sale.Add(-s.cfg.AttemptLead)
	if !grabAt.After(now) {
		grabAt = now.Add(s.cfg.ImmediateDelay)
	}
	jobs := []types.ScheduledJob{{TaskID: task.ID, Kind: types.JobGrab, FireAt: grabAt}}
	if task.Mode == types.ModeBrowser {
		if warmAt := sale.Add(-s.cfg.WarmupLead); warmAt.After(now) {
			jobs = append(jobs, types.ScheduledJob{TaskID: task.ID, Kind: types.JobWarmup, FireAt: warmAt})
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil, fmt.Errorf("%w: scheduler stopped", ErrNotSchedulable)
	}
	s.removeJobsLocked(task.ID)
	for _, job := range jobs {
		s.addJobLocked(job, now)
		s.logger.Info("job armed",
			zap.String("task_id", task.ID),
			zap.String("kind", string(job.Kind)),
			zap.Time("fire_at", job.FireAt),
			zap.Duration("in", job.FireAt.Sub(now)),
		)
	}
	return jobs, nil
}

// addJobLocked registers job with cron. Fire times are in corrected clock time; cron runs on the
// system clock, so the remaining duration is carried over instead of the absolute instant.
func (s *GrabScheduler) addJobLocked(job types.ScheduledJob, now time.Time) {
	s.gen++
	gen := s.gen
	systemAt := time.Now().Add(job.FireAt.Sub(now))
	key := job.Key()
	entryID := s.cron.Schedule(&oneShot{at: systemAt}, cron.FuncJob(func() {
		s.fire(key, gen)
	}))
	s.jobs[key] = &armedJob{job: job, entryID: entryID, gen: gen}
	observability.ScheduledJobs.WithLabelValues(string(job.Kind)).Inc()
}

func (s *GrabScheduler) removeJobLocked(kind types.JobKind, taskID string) bool {
	key := types.JobKey(kind, taskID)
	a, ok := s.jobs[key]
	if !ok {
		return false
	}
	delete(s.jobs, key)
	s.cron.Remove(a.entryID)
	observability.ScheduledJobs.WithLabelValues(string(kind)).Dec()
	return true
}

func (s *GrabScheduler) removeJobsLocked(taskID string) bool {
	removed := false
	for _, kind := range types.AllJobKinds {
		if s.removeJobLocked(kind, taskID) {
			removed = true
		}
	}
	return removed
}

// Cancel removes every armed job of the task and interrupts a grab already running for it. It
// reports whether there was anything to cancel.
func (s *GrabScheduler) Cancel(taskID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := s.removeJobsLocked(taskID)
	for _, cancel := range s.running[taskID] {
		cancel()
		removed = true
	}
	if removed {
		s.logger.Info("jobs cancelled", zap.String("task_id", taskID))
	}
	return removed
}

// RunNow starts a grab for a pending task immediately, replacing its armed jobs. The grab runs in the
// background.
func (s *GrabScheduler) RunNow(ctx context.Context, taskID string) error {
	task, ok := s.registry.Get(taskID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	if task.Status != state.StatusPending || !task.HasPurchaseURL() {
		return fmt.Errorf("%w: task %s is %s", ErrNotSchedulable, taskID, task.Status)
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return fmt.Errorf("%w: scheduler stopped", ErrNotSchedulable)
	}
	s.removeJobsLocked(taskID)
	s.gen++
	job := types.ScheduledJob{TaskID: taskID, Kind: types.JobGrab, FireAt: s.clock.Now()}
	runCtx := s.trackLocked(taskID, s.gen)
	gen := s.gen
	s.mu.Unlock()

	s.logger.Info("manual grab triggered", zap.String("task_id", taskID))
	go s.execute(runCtx, job, gen)
	return nil
}

// Jobs lists every armed job ordered by fire time.
func (s *GrabScheduler) Jobs() []types.ScheduledJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.ScheduledJob, 0, len(s.jobs))
	for _, a := range s.jobs {
		out = append(out, a.job)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].FireAt.Equal(out[j].FireAt) {
			return out[i].Key() < out[j].Key()
		}
		return out[i].FireAt.Before(out[j].FireAt)
	})
	return out
}

// Recover re-arms every pending task and hands every watching task to watcher. Instances sharing a
// lock backend run it one at a time.
func (s *GrabScheduler) Recover(ctx context.Context, watcher Watcher) (armed, watched int, err error) {
	err = lock.WithLock(ctx, s.locker, constants.RecoveryLock, func() error {
		for _, task := range s.registry.List() {
			switch task.Status {
			case state.StatusPending:
				if _, armErr := s.Arm(task); armErr != nil {
					s.logger.Warn("could not re-arm task", zap.String("task_id", task.ID), zap.Error(armErr))
					continue
				}
				armed++
			case state.StatusWatching:
				if watcher != nil {
					watcher.Watch(task)
					watched++
				}
			}
		}
		return nil
	})
	if err != nil {
		return 0, 0, fmt.Errorf("recover schedules: %w", err)
	}
	s.logger.Info("schedules recovered", zap.Int("armed", armed), zap.Int("watched", watched))
	return armed, watched, nil
}

func (s *GrabScheduler) Start() {
	s.cron.Start()
	s.logger.Info("grab scheduler started")
}

// Stop prevents new jobs from firing and waits for running grabs. When ctx expires first the running
// grabs are interrupted and ctx's error is returned.
func (s *GrabScheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()

	// cron's own wait covers jobs still inside fire, so it runs alongside the ctx deadline.
	cronDone := s.cron.Stop()
	done := make(chan struct{})
	go func() {
		<-cronDone.Done()
		s.wg.Wait()
		close(done)
	}()
	defer s.cancelBase()

	select {
	case <-done:
		s.logger.Info("grab scheduler stopped")
		return nil
	case <-ctx.Done():
		s.cancelBase()
		<-done
		return ctx.Err()
	}
}

// fire runs on cron's goroutine. A job replaced or cancelled after cron picked it up no longer
// matches the generation stored under its key and is dropped.
func (s *GrabScheduler) fire(key string, gen uint64) {
	s.mu.Lock()
	a, ok := s.jobs[key]
	if !ok || a.gen != gen || s.stopped {
		s.mu.Unlock()
		return
	}
	delete(s.jobs, key)
	s.cron.Remove(a.entryID)
	observability.ScheduledJobs.WithLabelValues(string(a.job.Kind)).Dec()
	ctx := s.trackLocked(a.job.TaskID, gen)
	s.mu.Unlock()

	lateness := s.clock.Now().Sub(a.job.FireAt)
	observability.JobFireLateness.Observe(lateness.Seconds())
	s.logger.Info("job fired",
		zap.String("task_id", a.job.TaskID),
		zap.String("kind", string(a.job.Kind)),
		zap.Duration("lateness", lateness),
	)
	s.execute(ctx, a.job, gen)
}

// trackLocked registers a running job so Cancel and Stop can interrupt it. Must hold s.mu.
func (s *GrabScheduler) trackLocked(taskID string, gen uint64) context.Context {
	ctx, cancel := context.WithCancel(s.baseCtx)
	if s.running[taskID] == nil {
		s.running[taskID] = make(map[uint64]context.CancelFunc)
	}
	s.running[taskID][gen] = cancel
	s.wg.Add(1)
	return ctx
}

func (s *GrabScheduler) untrack(taskID string, gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cancel, ok := s.running[taskID][gen]; ok {
		cancel()
		delete(s.running[taskID], gen)
	}
	if len(s.running[taskID]) == 0 {
		delete(s.running, taskID)
	}
	s.wg.Done()
}

func (s *GrabScheduler) execute(ctx context.Context, job types.ScheduledJob, gen uint64) {
	defer s.untrack(job.TaskID, gen)
	switch job.Kind {
	case types.JobWarmup:
		s.runWarmup(ctx, job.TaskID)
	default:
		s.runGrab(ctx, job.TaskID)
	}
}

// claim moves the task from pending to grabbing. Only the caller that wins this edge may attempt a
// purchase.
func (s *GrabScheduler) claim(ctx context.Context, taskID, message string) (types.Task, bool) {
	task, err := s.registry.Transition(ctx, taskID, state.StatusGrabbing, WithMessage(message))
	if err != nil {
		s.logger.Info("grab skipped", zap.String("task_id", taskID), zap.Error(err))
		return types.Task{}, false
	}
	return task, true
}

func (s *GrabScheduler) runGrab(ctx context.Context, taskID string) {
	task, ok := s.claim(ctx, taskID, "Grabbing tickets...")
	if !ok {
		return
	}
	if task.Mode == types.ModeDirect {
		task = s.pollForAvailability(ctx, task)
	}
	sampler := timing.NewSampler(s.cfg.PageWaitVariance)
	result, attempts := s.attemptWithRetries(ctx, task, sampler, nil)
	s.finish(ctx, task, result, attempts)
}

func (s *GrabScheduler) runWarmup(ctx context.Context, taskID string) {
	s.mu.Lock()
	s.removeJobLocked(types.JobGrab, taskID)
	s.mu.Unlock()

	task, ok := s.claim(ctx, taskID, "Opening purchase page...")
	if !ok {
		return
	}

	var handle PageHandle
	if preheater, ok := s.purchaser.(Preheater); ok {
		h, err := s.preheat(ctx, preheater, task)
		if err != nil {
			s.logger.Warn("warm-up failed, falling back to cold attempts", zap.String("task_id", taskID), zap.Error(err))
			s.annotate(ctx, taskID, "Warm-up failed, will load the page at sale time")
		} else {
			handle = h
			s.annotate(ctx, taskID, "Page ready, waiting for sale to open")
		}
	}
	if handle != nil {
		defer func() {
			if err := handle.Close(); err != nil {
				s.logger.Debug("closing page handle", zap.String("task_id", taskID), zap.Error(err))
			}
		}()
	}

	if sale, ok, err := task.ParseSaleTime(); ok && err == nil {
		if !sleepCtx(ctx, sale.Sub(s.clock.Now())) {
			s.finish(ctx, task, types.AttemptResult{Message: "Grab interrupted before sale opened"}, 0)
			return
		}
	}

	sampler := timing.NewSampler(s.cfg.PageWaitVariance)
	result, attempts := s.attemptWithRetries(ctx, task, sampler, handle)
	s.finish(ctx, task, result, attempts)
}

func (s *GrabScheduler) preheat(ctx context.Context, p Preheater, task types.Task) (handle PageHandle, err error) {
	defer func() {
		if r := recover(); r != nil {
			handle, err = nil, fmt.Errorf("preheat panicked: %v", r)
		}
	}()
	return p.Preheat(ctx, task)
}

// pollForAvailability watches the feed until the screening turns available or the poll window
// runs out. The purchase is attempted either way.
func (s *GrabScheduler) pollForAvailability(ctx context.Context, task types.Task) types.Task {
	if s.feed == nil || s.cfg.PollWindow <= 0 {
		return task
	}
	s.annotate(ctx, task.ID, "Polling ticket status...")
	deadline := time.Now().Add(s.cfg.PollWindow)
	for {
		info, ok := s.feed.FetchStatus(ctx)[task.ScreeningID]
		if ok && info.IsAvailable() {
			var opts []TransitionOption
			if info.URL != nil && *info.URL != "" {
				opts = append(opts, WithPurchaseURL(*info.URL))
			}
			if updated, err := s.registry.Annotate(ctx, task.ID, "Tickets available, purchasing...", opts...); err == nil {
				return updated
			}
			return task
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			s.annotate(ctx, task.ID, "Poll window elapsed, attempting anyway")
			return task
		}
		if !sleepCtx(ctx, min(s.cfg.PollInterval, remaining)) {
			return task
		}
	}
}

// attemptWithRetries makes up to RetryCount+1 attempts, pausing a jittered RetryDelay between them.
func (s *GrabScheduler) attemptWithRetries(ctx context.Context, task types.Task, sampler *timing.Sampler, handle PageHandle) (types.AttemptResult, int) {
	var result types.AttemptResult
	attempts := 0
	for i := 0; i <= s.cfg.RetryCount; i++ {
		if i > 0 {
			wait := sampler.SamplePageWait(s.cfg.RetryDelay)
			s.annotate(ctx, task.ID, fmt.Sprintf("Attempt %d failed: %s. Retrying...", i, result.Message))
			if !sleepCtx(ctx, wait) {
				break
			}
		}
		if ctx.Err() != nil {
			break
		}
		attempts++
		result = s.attemptOnce(ctx, task, handle)
		if result.Success {
			return result, attempts
		}
	}
	if ctx.Err() != nil && !result.Success {
		result.Message = "Grab interrupted"
	}
	return result, attempts
}

func (s *GrabScheduler) attemptOnce(ctx context.Context, task types.Task, handle PageHandle) (result types.AttemptResult) {
	mode := string(task.Mode)
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			result = types.AttemptResult{Message: fmt.Sprintf("purchaser panicked: %v", r)}
			s.logger.Error("purchaser panicked", zap.String("task_id", task.ID), zap.Any("panic", r))
		}
		outcome := "failure"
		if result.Success {
			outcome = "success"
		}
		observability.PurchaseAttemptsTotal.WithLabelValues(mode, outcome).Inc()
		observability.PurchaseAttemptDuration.WithLabelValues(mode).Observe(time.Since(start).Seconds())
	}()

	report := func(_ state.TaskStatus, message string) {
		if message != "" {
			s.annotate(ctx, task.ID, message)
		}
	}
	if handle != nil {
		if preheater, ok := s.purchaser.(Preheater); ok {
			return preheater.AttemptWithHandle(ctx, handle, task, report)
		}
	}
	return s.purchaser.Attempt(ctx, task, report)
}

func (s *GrabScheduler) finish(ctx context.Context, task types.Task, result types.AttemptResult, attempts int) {
	// The job context may be cancelled already; the outcome must still be recorded.
	ctx = context.WithoutCancel(ctx)
	to := state.StatusFailed
	msg := result.Message
	if result.Success {
		to = state.StatusSuccess
		if msg == "" {
			msg = "Purchase completed"
		}
	} else {
		if msg == "" {
			msg = "unknown error"
		}
		msg = fmt.Sprintf("Failed after %d attempt(s): %s", attempts, msg)
	}

	if _, err := s.registry.Transition(ctx, task.ID, to, WithMessage(msg)); err != nil {
		s.logger.Info("grab outcome not recorded", zap.String("task_id", task.ID), zap.Error(err))
		return
	}
	s.logger.Info("grab finished",
		zap.String("task_id", task.ID),
		zap.String("status", to.String()),
		zap.Int("attempts", attempts),
	)
}

func (s *GrabScheduler) annotate(ctx context.Context, taskID, message string) {
	if _, err := s.registry.Annotate(ctx, taskID, message); err != nil {
		s.logger.Debug("progress not recorded", zap.String("task_id", taskID), zap.Error(err))
	}
}

// sleepCtx waits for d and reports false when ctx ended first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
