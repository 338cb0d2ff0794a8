package app

import (
	"context"
	"fmt"
	"time"

	"github.com/RezaEskandarii/ticketfire/internal/db"
	"github.com/RezaEskandarii/ticketfire/internal/lock"
	"github.com/RezaEskandarii/ticketfire/internal/message_broaker"
	"github.com/RezaEskandarii/ticketfire/internal/store"
	filestore "github.com/RezaEskandarii/ticketfire/internal/store/file"
	pgstore "github.com/RezaEskandarii/ticketfire/internal/store/postgres"
	redisstore "github.com/RezaEskandarii/ticketfire/internal/store/redis"
	"github.com/RezaEskandarii/ticketfire/internal/timesync"
	"github.com/RezaEskandarii/ticketfire/types/config"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	redisLockTTL        = 30 * time.Second
	timeProviderTimeout = 5 * time.Second
)

// initStorage creates the task store and the lock manager guarding recovery for the configured driver.
// Injected connections take precedence over the configured ones.
func initStorage(ctx context.Context, cfg *config.GrabConfig, opt *containerConfig, logger *zap.Logger) (store.TaskStore, lock.DistributedLockManager, error) {
	switch cfg.StorageDriver {
	case config.File:
		taskStore, err := filestore.NewFileTaskStore(cfg.FileConfig.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("open task file: %w", err)
		}
		return taskStore, lock.NewLocalLockManager(), nil

	case config.Postgres:
		conn := opt.db
		if conn == nil {
			var err error
			if conn, err = db.Open(ctx, cfg.PostgresConfig.ConnectionUrl); err != nil {
				return nil, nil, fmt.Errorf("open postgres: %w", err)
			}
		}
		lockMgr := lock.NewPostgresDistributedLockManager(conn)
		if err := db.Migrate(ctx, conn, lockMgr, logger); err != nil {
			_ = conn.Close()
			return nil, nil, fmt.Errorf("migrate: %w", err)
		}
		return pgstore.NewPostgresTaskStore(conn), lockMgr, nil

	case config.Redis:
		rdb := opt.redis
		if rdb == nil {
			rdb = redis.NewClient(&redis.Options{
				Addr:     cfg.RedisConfig.Address,
				Password: cfg.RedisConfig.Password,
				DB:       cfg.RedisConfig.DB,
			})
			if err := rdb.Ping(ctx).Err(); err != nil {
				_ = rdb.Close()
				return nil, nil, fmt.Errorf("ping redis: %w", err)
			}
		}
		return redisstore.NewRedisTaskStore(rdb, cfg.RedisConfig.Key),
			lock.NewRedisLockManager(rdb, cfg.RedisConfig.Key, redisLockTTL), nil

	default:
		return nil, nil, fmt.Errorf("unsupported storage driver: %v", cfg.StorageDriver)
	}
}

// initPublishers returns the broker publishers configured next to the in-process hub.
func initPublishers(cfg *config.GrabConfig) ([]message_broaker.Publisher, error) {
	var publishers []message_broaker.Publisher
	closeAll := func() {
		for _, p := range publishers {
			_ = p.Close()
		}
	}

	for _, driver := range cfg.Brokers() {
		var (
			pub message_broaker.Publisher
			err error
		)
		switch driver {
		case config.RabbitMQ:
			rc := cfg.RabbitMQConfig
			pub, err = message_broaker.NewRabbitMQ(rc.URL, rc.Exchange, rc.Queue, rc.RoutingKey)
		case config.NATS:
			pub, err = message_broaker.NewNATSPublisher(cfg.NATSConfig.URL, cfg.NATSConfig.Subject, cfg.Instance)
		}
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("init %s: %w", driver, err)
		}
		publishers = append(publishers, pub)
	}
	return publishers, nil
}

func defaultTimeProviders(cfg *config.GrabConfig, logger *zap.Logger) ([]timesync.Provider, error) {
	httpProvider, err := timesync.NewHTTPProvider(nil, timeProviderTimeout, cfg.FeedConfig.ProxyURL, logger)
	if err != nil {
		return nil, err
	}
	return []timesync.Provider{
		timesync.NewNTPProvider(nil, timeProviderTimeout, logger),
		httpProvider,
	}, nil
}

func closeQuietly(closer interface{ Close() error }, name string, logger *zap.Logger) {
	if closer == nil {
		return
	}
	if err := closer.Close(); err != nil {
		logger.Warn("close failed", zap.String("component", name), zap.Error(err))
	}
}
