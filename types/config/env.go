package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cast"
)

// LoadFromEnv builds a GrabConfig from TICKETFIRE_* style environment variables. Unset variables keep
// their defaults; malformed values are reported through the usual ValidationError.
func LoadFromEnv(instance string) (*GrabConfig, error) {
	return loadFrom(instance, os.Getenv)
}

func loadFrom(instance string, lookup func(string) string) (*GrabConfig, error) {
	env := envReader{lookup: lookup}
	var opts []ContainerOption

	if v := env.str("INSTANCE", ""); v != "" {
		instance = v
	}
	if v := env.str("TIMEZONE", ""); v != "" {
		opts = append(opts, WithTimezone(v))
	}
	opts = append(opts,
		WithGrabLeads(
			env.duration("GRAB_ATTEMPT_LEAD", DefaultAttemptLead),
			env.duration("GRAB_WARMUP_LEAD", DefaultWarmupLead),
		),
		WithImmediateDelay(env.duration("GRAB_IMMEDIATE_DELAY", DefaultImmediateDelay)),
		WithRetryPolicy(
			env.int("GRAB_RETRY_COUNT", DefaultRetryCount),
			env.duration("GRAB_RETRY_DELAY", DefaultRetryDelay),
		),
		WithPollBeforeGrab(
			env.duration("GRAB_POLL_WINDOW", DefaultPollWindow),
			env.duration("GRAB_POLL_INTERVAL", DefaultPollInterval),
		),
		WithMonitorIntervals(
			env.duration("MONITOR_POLL_INTERVAL", DefaultMonitorInterval),
			env.duration("MONITOR_FAST_POLL_INTERVAL", DefaultMonitorFastInterval),
			env.duration("MONITOR_GOLDEN_HOUR", DefaultGoldenHour),
		),
		WithPageWaitVariance(env.float("PAGE_WAIT_VARIANCE", DefaultPageWaitVariance)),
		WithDefaultTicketCount(env.int("DEFAULT_TICKET_COUNT", DefaultTicketCount)),
		WithHTTPPort(uint(env.int("HTTP_PORT", DefaultHTTPPort))),
		WithLogLevel(env.str("LOG_LEVEL", DefaultLogLevel)),
		WithFeedConfig(FeedConfig{
			BaseURL:    env.str("FEED_BASE_URL", DefaultFeedBaseURL),
			StatusPath: env.str("FEED_STATUS_PATH", DefaultFeedStatusPath),
			Timeout:    env.duration("FEED_TIMEOUT", DefaultFeedTimeout),
			RateLimit:  env.float("FEED_RATE_LIMIT", DefaultFeedRateLimit),
			Burst:      env.int("FEED_BURST", DefaultFeedBurst),
			ProxyURL:   env.str("PROXY_URL", ""),
		}),
		WithPurchaseConfig(PurchaseConfig{
			BaseURL:  env.str("PURCHASE_BASE_URL", DefaultPurchaseBaseURL),
			Timeout:  env.duration("PURCHASE_TIMEOUT", DefaultPurchaseTimeout),
			ProxyURL: env.str("PROXY_URL", ""),
		}),
		WithTimeSync(
			TimeSyncMethod(strings.ToLower(env.str("TIME_SYNC_METHOD", string(DefaultTimeSyncMethod)))),
			env.duration("TIME_SYNC_INTERVAL", DefaultTimeSyncInterval),
		),
	)

	driverName := env.str("STORAGE_DRIVER", DefaultStorageDriver.String())
	driver, ok := ParseStorageDriver(driverName)
	if !ok {
		opts = append(opts, func(*GrabConfig) error {
			return fmt.Errorf("unknown storage driver %q", driverName)
		})
	}
	switch driver {
	case File:
		opts = append(opts, WithFileStore(env.str("TASKS_FILE", DefaultTaskFile)))
	case Postgres:
		opts = append(opts, WithPostgresConfig(PostgresConfig{ConnectionUrl: env.str("DATABASE_URL", "")}))
	case Redis:
		opts = append(opts, WithRedisConfig(RedisConfig{
			Address:  env.str("REDIS_ADDR", "localhost:6379"),
			Password: env.str("REDIS_PASSWORD", ""),
			DB:       env.int("REDIS_DB", 0),
			Key:      env.str("REDIS_KEY", ""),
		}))
	}

	if url := env.str("RABBITMQ_URL", ""); url != "" {
		opts = append(opts, WithRabbitMQConfig(RabbitMQConfig{
			URL:        url,
			Exchange:   env.str("RABBITMQ_EXCHANGE", "ticketfire"),
			Queue:      env.str("RABBITMQ_QUEUE", "ticketfire.events"),
			RoutingKey: env.str("RABBITMQ_ROUTING_KEY", "task.event"),
		}))
	}
	if url := env.str("NATS_URL", ""); url != "" {
		opts = append(opts, WithNATSConfig(NATSConfig{
			URL:     url,
			Subject: env.str("NATS_SUBJECT", ""),
		}))
	}

	opts = append(opts, env.errs()...)
	return NewGrabConfig(instance, opts...)
}

type envReader struct {
	lookup  func(string) string
	invalid []error
}

func (e *envReader) str(key, def string) string {
	if v := e.lookup(key); v != "" {
		return v
	}
	return def
}

func (e *envReader) int(key string, def int) int {
	v := e.lookup(key)
	if v == "" {
		return def
	}
	n, err := cast.ToIntE(v)
	if err != nil {
		e.invalid = append(e.invalid, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return n
}

func (e *envReader) float(key string, def float64) float64 {
	v := e.lookup(key)
	if v == "" {
		return def
	}
	f, err := cast.ToFloat64E(v)
	if err != nil {
		e.invalid = append(e.invalid, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return f
}

// duration accepts Go duration strings ("750ms", "1m30s"). Bare numbers are read as seconds.
func (e *envReader) duration(key string, def time.Duration) time.Duration {
	v := e.lookup(key)
	if v == "" {
		return def
	}
	if secs, err := cast.ToFloat64E(v); err == nil {
		return time.Duration(secs * float64(time.Second))
	}
	d, err := cast.ToDurationE(v)
	if err != nil {
		e.invalid = append(e.invalid, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return d
}

func (e *envReader) errs() []ContainerOption {
	out := make([]ContainerOption, 0, len(e.invalid))
	for _, err := range e.invalid {
		out = append(out, func(*GrabConfig) error { return err })
	}
	return out
}
