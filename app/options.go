package app

import (
	"database/sql"

	"github.com/RezaEskandarii/ticketfire/client"
	"github.com/RezaEskandarii/ticketfire/internal/timesync"
	"github.com/redis/go-redis/v9"
)

// ContainerOption configures Container creation. Used for testing and customization.
type ContainerOption func(*containerConfig)

type containerConfig struct {
	// Optional: inject custom connections instead of creating them from config
	db    *sql.DB
	redis *redis.Client

	purchaser     client.Purchaser
	feed          client.AvailabilityFeed
	timeProviders []timesync.Provider
}

// WithDB injects a custom database connection. Useful for testing.
func WithDB(db *sql.DB) ContainerOption {
	return func(c *containerConfig) {
		c.db = db
	}
}

// WithRedis injects a custom Redis client. Useful for testing.
func WithRedis(redis *redis.Client) ContainerOption {
	return func(c *containerConfig) {
		c.redis = redis
	}
}

// WithPurchaser replaces the built-in HTTP purchaser, for example with a browser driven one.
func WithPurchaser(p client.Purchaser) ContainerOption {
	return func(c *containerConfig) {
		c.purchaser = p
	}
}

func WithFeed(feed client.AvailabilityFeed) ContainerOption {
	return func(c *containerConfig) {
		c.feed = feed
	}
}

// WithTimeProviders replaces the default NTP and HTTP time sources.
func WithTimeProviders(providers ...timesync.Provider) ContainerOption {
	return func(c *containerConfig) {
		c.timeProviders = providers
	}
}
