// Package timesync corrects the local wall clock against NTP or HTTP time sources. Every schedule
// computation in the engine reads time through an AtomicClock.
package timesync

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/RezaEskandarii/ticketfire/internal/logging"
	"github.com/RezaEskandarii/ticketfire/internal/observability"
	"github.com/RezaEskandarii/ticketfire/types/config"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

type Status struct {
	Method     config.TimeSyncMethod `json:"method"`
	Provider   string                `json:"active_provider,omitempty"`
	Synced     bool                  `json:"synced"`
	OffsetMS   *float64              `json:"offset_ms"`
	LastSync   *time.Time            `json:"last_sync"`
	AtomicTime *time.Time            `json:"atomic_time"`
	SystemTime time.Time             `json:"system_time"`
}

// AtomicClock is system time plus the offset measured by the last successful sync. Before the first
// sync, or with method none, it is plain system time.
type AtomicClock struct {
	mu       sync.RWMutex
	offset   time.Duration
	synced   bool
	lastSync time.Time
	active   string

	method    config.TimeSyncMethod
	interval  time.Duration
	providers map[string]Provider
	cron      *cron.Cron
	logger    *zap.Logger
}

func NewAtomicClock(cfg config.TimeSyncConfig, logger *zap.Logger, providers ...Provider) *AtomicClock {
	logger = logging.OrNop(logger)
	c := &AtomicClock{
		method:    cfg.Method,
		interval:  cfg.Interval,
		providers: make(map[string]Provider, len(providers)),
		cron:      cron.New(cron.WithLogger(cron.PrintfLogger(zap.NewStdLog(logger.Named("cron"))))),
		logger:    logger,
	}
	for _, p := range providers {
		c.providers[p.Name()] = p
	}
	return c
}

func (c *AtomicClock) Now() time.Time {
	c.mu.RLock()
	offset := c.offset
	c.mu.RUnlock()
	return time.Now().Add(offset)
}

func (c *AtomicClock) Offset() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.offset
}

// Sync measures the offset with the configured method. auto tries NTP first and falls back to HTTP.
// A failed sync keeps the previous offset.
func (c *AtomicClock) Sync(ctx context.Context) bool {
	switch c.method {
	case config.TimeSyncNone:
		return false
	case config.TimeSyncAuto:
		return c.syncWith(ctx, "ntp") || c.syncWith(ctx, "http")
	default:
		return c.syncWith(ctx, string(c.method))
	}
}

func (c *AtomicClock) syncWith(ctx context.Context, name string) bool {
	p, ok := c.providers[name]
	if !ok {
		return false
	}
	offset, err := p.Offset(ctx)
	if err != nil {
		c.logger.Warn("time sync failed", zap.String("provider", name), zap.Error(err))
		return false
	}

	c.mu.Lock()
	c.offset = offset
	c.synced = true
	c.lastSync = time.Now()
	c.active = name
	c.mu.Unlock()

	observability.ClockOffsetSeconds.Set(offset.Seconds())
	c.logger.Info("clock synced", zap.String("provider", name), zap.Duration("offset", offset))
	return true
}

// Start syncs once and then re-syncs every interval until Stop.
func (c *AtomicClock) Start(ctx context.Context) error {
	if c.method == config.TimeSyncNone {
		c.logger.Info("time sync disabled")
		return nil
	}
	if !c.Sync(ctx) {
		c.logger.Warn("initial time sync failed, using system time")
	}
	spec := fmt.Sprintf("@every %s", c.interval)
	if _, err := c.cron.AddFunc(spec, func() {
		syncCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		c.Sync(syncCtx)
	}); err != nil {
		return fmt.Errorf("schedule time sync: %w", err)
	}
	c.cron.Start()
	return nil
}

func (c *AtomicClock) Stop() {
	<-c.cron.Stop().Done()
}

func (c *AtomicClock) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	now := time.Now()
	st := Status{
		Method:     c.method,
		Provider:   c.active,
		Synced:     c.synced,
		SystemTime: now.UTC(),
	}
	if c.synced {
		ms := float64(c.offset) / float64(time.Millisecond)
		last := c.lastSync.UTC()
		atomic := now.Add(c.offset).UTC()
		st.OffsetMS = &ms
		st.LastSync = &last
		st.AtomicTime = &atomic
	}
	return st
}
