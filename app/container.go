package app

import (
	"context"
	"fmt"
	"time"

	"github.com/RezaEskandarii/ticketfire/client"
	"github.com/RezaEskandarii/ticketfire/internal/feed"
	"github.com/RezaEskandarii/ticketfire/internal/lock"
	"github.com/RezaEskandarii/ticketfire/internal/logging"
	"github.com/RezaEskandarii/ticketfire/internal/message_broaker"
	"github.com/RezaEskandarii/ticketfire/internal/observability"
	"github.com/RezaEskandarii/ticketfire/internal/purchase"
	"github.com/RezaEskandarii/ticketfire/internal/store"
	"github.com/RezaEskandarii/ticketfire/internal/timesync"
	"github.com/RezaEskandarii/ticketfire/types/config"
	"github.com/RezaEskandarii/ticketfire/web"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

// Container holds all application dependencies. It is the single source of truth
// for dependency injection and ensures connections and services are created once.
type Container struct {
	Config *config.GrabConfig

	// Infrastructure
	TaskStore   store.TaskStore
	LockManager lock.DistributedLockManager
	Hub         *message_broaker.Hub
	Clock       *timesync.AtomicClock

	// Engine
	Sink      *client.NotificationSink
	Registry  *client.TaskRegistry
	Feed      client.AvailabilityFeed
	Purchaser client.Purchaser
	Scheduler *client.GrabScheduler
	Monitor   *client.AvailabilityMonitor

	Server *web.Server

	logger *zap.Logger
}

// NewContainer creates and wires all dependencies and loads the persisted tasks. Single entry point
// for DI. Call this once per application lifecycle.
// Pass optional WithDB, WithRedis to inject connections for testing.
func NewContainer(ctx context.Context, cfg *config.GrabConfig, logger *zap.Logger, opts ...ContainerOption) (*Container, error) {
	logger = logging.OrNop(logger)
	opt := &containerConfig{}
	for _, o := range opts {
		o(opt)
	}
	observability.RegisterMetrics()

	taskStore, lockMgr, err := initStorage(ctx, cfg, opt, logger)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}

	publishers, err := initPublishers(cfg)
	if err != nil {
		closeQuietly(taskStore, "task store", logger)
		return nil, err
	}
	hub := message_broaker.NewHub()
	hub.OnDrop(func(subscriber int) {
		logger.Debug("event dropped for slow subscriber", zap.Int("subscriber", subscriber))
	})
	sink := client.NewNotificationSink(taskStore, logger.Named("sink"), append([]message_broaker.Publisher{hub}, publishers...)...)

	c := &Container{
		Config:      cfg,
		TaskStore:   taskStore,
		LockManager: lockMgr,
		Hub:         hub,
		Sink:        sink,
		logger:      logger,
	}
	if err := c.wireEngine(opt); err != nil {
		c.closeResources()
		return nil, err
	}

	n, err := c.Registry.Load(ctx, taskStore)
	if err != nil {
		c.closeResources()
		return nil, err
	}
	logger.Info("tasks loaded", zap.Int("count", n), zap.String("driver", cfg.StorageDriver.String()))
	return c, nil
}

func (c *Container) wireEngine(opt *containerConfig) error {
	cfg, logger := c.Config, c.logger

	providers := opt.timeProviders
	if providers == nil {
		var err error
		if providers, err = defaultTimeProviders(cfg, logger.Named("timesync")); err != nil {
			return fmt.Errorf("init time sync: %w", err)
		}
	}
	c.Clock = timesync.NewAtomicClock(cfg.TimeSyncConfig, logger.Named("timesync"), providers...)

	c.Feed = opt.feed
	if c.Feed == nil {
		ticketFeed, err := feed.NewTicketFeed(cfg.FeedConfig, logger.Named("feed"))
		if err != nil {
			return fmt.Errorf("init feed: %w", err)
		}
		c.Feed = ticketFeed
	}

	c.Purchaser = opt.purchaser
	if c.Purchaser == nil {
		purchaser, err := purchase.NewHTTPPurchaser(cfg.PurchaseConfig, logger.Named("purchase"))
		if err != nil {
			return fmt.Errorf("init purchaser: %w", err)
		}
		c.Purchaser = purchaser
	}

	c.Registry = client.NewTaskRegistry(cfg, c.Sink, c.Clock, logger.Named("registry"))
	c.Scheduler = client.NewGrabScheduler(cfg, c.Registry, c.Purchaser, c.Feed, c.LockManager, c.Clock, logger.Named("scheduler"))
	c.Monitor = client.NewAvailabilityMonitor(cfg, c.Registry, c.Feed, nil, c.Sink, c.Clock, logger.Named("monitor"))
	c.Monitor.SetRearmer(c.Scheduler)

	if cfg.HTTPPort != 0 {
		c.Server = web.NewServer(cfg.HTTPPort, web.Dependencies{
			Registry:  c.Registry,
			Scheduler: c.Scheduler,
			Monitor:   c.Monitor,
			Feed:      c.Feed,
			Clock:     c.Clock,
			Hub:       c.Hub,
		}, logger.Named("http"))
	}
	return nil
}

// Start syncs the clock, re-arms the persisted tasks and starts the background loops. It returns once
// everything is running.
func (c *Container) Start(ctx context.Context) error {
	if err := c.Clock.Start(ctx); err != nil {
		return fmt.Errorf("start time sync: %w", err)
	}
	c.Scheduler.Start()

	armed, watched, err := c.Scheduler.Recover(ctx, c.Monitor)
	if err != nil {
		return fmt.Errorf("recover tasks: %w", err)
	}
	c.logger.Info("tasks recovered", zap.Int("armed", armed), zap.Int("watched", watched))

	c.Monitor.Start(ctx)
	return nil
}

// Run starts the engine and the HTTP API and blocks until ctx is cancelled or the server fails. The
// engine is shut down before Run returns.
func (c *Container) Run(ctx context.Context) error {
	if err := c.Start(ctx); err != nil {
		c.Shutdown(context.Background())
		return err
	}

	serverErr := make(chan error, 1)
	if c.Server != nil {
		go func() { serverErr <- c.Server.Start() }()
	}

	var runErr error
	select {
	case <-ctx.Done():
		c.logger.Info("shutdown requested")
	case err := <-serverErr:
		if err != nil {
			runErr = fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	c.Shutdown(shutdownCtx)
	return runErr
}

// Shutdown stops accepting requests, stops the loops, waits for running grabs and releases every
// connection. Safe to call on a container that was never started.
func (c *Container) Shutdown(ctx context.Context) {
	if c.Server != nil {
		if err := c.Server.Shutdown(ctx); err != nil {
			c.logger.Warn("http shutdown failed", zap.Error(err))
		}
	}
	c.Monitor.Stop()
	if err := c.Scheduler.Stop(ctx); err != nil {
		c.logger.Warn("scheduler did not stop cleanly", zap.Error(err))
	}
	c.Clock.Stop()
	c.closeResources()
	c.logger.Info("shutdown complete")
}

// closeResources releases the publishers and the task store. The sink owns the store once it exists.
func (c *Container) closeResources() {
	if c.Sink != nil {
		closeQuietly(c.Sink, "sink", c.logger)
		return
	}
	if c.TaskStore != nil {
		closeQuietly(c.TaskStore, "task store", c.logger)
	}
}
